package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sanosuguru/go-rental-booking/internal/domain/listing"
)

type listingRow struct {
	ID               int64     `db:"id"`
	OwnerID          int64     `db:"owner_id"`
	Title            string    `db:"title"`
	PriceCents       int       `db:"price_cents"`
	RequiresApproval bool      `db:"requires_approval"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

type ListingRepository struct{ db *sqlx.DB }

func NewListingRepository(db *sqlx.DB) *ListingRepository {
	return &ListingRepository{db: db}
}

func (r *ListingRepository) GetByID(ctx context.Context, id int64) (*listing.Listing, error) {
	var row listingRow
	query := `SELECT id, owner_id, title, price_cents, requires_approval, created_at, updated_at FROM listings WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, listing.ErrListingNotFound
		}
		return nil, fmt.Errorf("リスティング取得に失敗: %w", err)
	}
	return &listing.Listing{
		ID: row.ID, OwnerID: row.OwnerID, Title: row.Title,
		PriceCents: row.PriceCents, RequiresApproval: row.RequiresApproval,
		CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
	}, nil
}

var _ listing.Repository = (*ListingRepository)(nil)
