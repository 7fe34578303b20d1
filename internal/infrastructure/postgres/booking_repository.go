package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sanosuguru/go-rental-booking/internal/domain/booking"
	"github.com/sanosuguru/go-rental-booking/internal/domain/transaction"
)

type bookingRow struct {
	ID              int64      `db:"id"`
	ListingID       int64      `db:"listing_id"`
	GuestID         int64      `db:"guest_id"`
	StartDate       time.Time  `db:"start_date"`
	EndDate         time.Time  `db:"end_date"`
	Status          string     `db:"status"`
	TotalAmount     int        `db:"total_amount"`
	Currency        string     `db:"currency"`
	PaymentIntentID *string    `db:"payment_intent_id"`
	ExpiresAt       *time.Time `db:"expires_at"`
	CancelReason    *string    `db:"cancel_reason"`
	Version         int        `db:"version"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

const bookingColumns = `id, listing_id, guest_id, start_date, end_date, status, total_amount, currency, payment_intent_id, expires_at, cancel_reason, version, created_at, updated_at`

type BookingRepository struct{ db *sqlx.DB }

func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

func (r *BookingRepository) Create(ctx context.Context, tx transaction.Tx, b *booking.Booking) error {
	sqlxTx := UnwrapTx(tx)
	query := `INSERT INTO bookings (listing_id, guest_id, start_date, end_date, status, total_amount, currency, payment_intent_id, expires_at, cancel_reason, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`
	if err := sqlxTx.QueryRowContext(ctx, query,
		b.ListingID, b.GuestID, b.StartDate, b.EndDate, string(b.Status),
		b.TotalAmount, b.Currency, b.PaymentIntentID, b.ExpiresAt, b.CancelReason,
		b.Version, b.CreatedAt, b.UpdatedAt,
	).Scan(&b.ID); err != nil {
		return fmt.Errorf("予約作成に失敗: %w", err)
	}
	return nil
}

func (r *BookingRepository) GetByID(ctx context.Context, id int64) (*booking.Booking, error) {
	var row bookingRow
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, booking.ErrBookingNotFound
		}
		return nil, fmt.Errorf("予約取得に失敗: %w", err)
	}
	return toEntity(&row), nil
}

func (r *BookingRepository) GetByPaymentIntentID(ctx context.Context, intentID string) (*booking.Booking, error) {
	var row bookingRow
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE payment_intent_id = $1`
	if err := r.db.GetContext(ctx, &row, query, intentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, booking.ErrBookingNotFound
		}
		return nil, fmt.Errorf("予約取得に失敗: %w", err)
	}
	return toEntity(&row), nil
}

func (r *BookingRepository) ListByGuestID(ctx context.Context, guestID int64, limit, offset int) ([]*booking.Booking, error) {
	var rows []bookingRow
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE guest_id = $1 ORDER BY start_date DESC, id DESC LIMIT $2 OFFSET $3`
	if err := r.db.SelectContext(ctx, &rows, query, guestID, limit, offset); err != nil {
		return nil, fmt.Errorf("予約一覧取得に失敗: %w", err)
	}
	return toEntities(rows), nil
}

func (r *BookingRepository) ListByOwnerID(ctx context.Context, ownerID int64, limit, offset int) ([]*booking.Booking, error) {
	var rows []bookingRow
	query := `SELECT b.id, b.listing_id, b.guest_id, b.start_date, b.end_date, b.status, b.total_amount, b.currency, b.payment_intent_id, b.expires_at, b.cancel_reason, b.version, b.created_at, b.updated_at
		FROM bookings b
		JOIN listings l ON l.id = b.listing_id
		WHERE l.owner_id = $1
		ORDER BY b.start_date DESC, b.id DESC LIMIT $2 OFFSET $3`
	if err := r.db.SelectContext(ctx, &rows, query, ownerID, limit, offset); err != nil {
		return nil, fmt.Errorf("予約一覧取得に失敗: %w", err)
	}
	return toEntities(rows), nil
}

// HasConfirmedOverlap は確定済み予約との半開区間 [start, end) の重複を判定する
// confirmed 以外の状態は重複不変条件に参加しない
func (r *BookingRepository) HasConfirmedOverlap(ctx context.Context, listingID int64, start, end time.Time) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (
		SELECT 1 FROM bookings
		WHERE listing_id = $1
		  AND status = 'confirmed'
		  AND NOT (end_date <= $2 OR start_date >= $3)
	)`
	if err := r.db.GetContext(ctx, &exists, query, listingID, start, end); err != nil {
		return false, fmt.Errorf("重複チェックに失敗: %w", err)
	}
	return exists, nil
}

// UpdateVersioned は version を前提条件とした条件付き更新を行う
// 前提条件を満たさない場合は一切上書きせず ErrVersionConflict を返す
func (r *BookingRepository) UpdateVersioned(ctx context.Context, tx transaction.Tx, b *booking.Booking, expectedVersion int) error {
	sqlxTx := UnwrapTx(tx)
	query := `UPDATE bookings
		SET status = $1, payment_intent_id = $2, expires_at = $3, cancel_reason = $4, version = $5, updated_at = NOW()
		WHERE id = $6 AND version = $7`
	result, err := sqlxTx.ExecContext(ctx, query,
		string(b.Status), b.PaymentIntentID, b.ExpiresAt, b.CancelReason,
		expectedVersion+1, b.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("予約更新に失敗: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return booking.ErrVersionConflict
	}
	b.Version = expectedVersion + 1
	return nil
}

// ConfirmPending は予約を confirmed へ遷移させる唯一の経路
// version と status の両方を前提条件にすることで、二重確定を排除する
func (r *BookingRepository) ConfirmPending(ctx context.Context, tx transaction.Tx, id int64, expectedVersion int) error {
	sqlxTx := UnwrapTx(tx)
	query := `UPDATE bookings
		SET status = 'confirmed', version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2 AND status = 'pending_payment'`
	result, err := sqlxTx.ExecContext(ctx, query, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("予約確定に失敗: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return booking.ErrVersionConflict
	}
	return nil
}

// ExpirePending は期限切れホールドを cancelled_expired へ遷移させる
func (r *BookingRepository) ExpirePending(ctx context.Context, tx transaction.Tx, id int64, expectedVersion int) error {
	sqlxTx := UnwrapTx(tx)
	query := `UPDATE bookings
		SET status = 'cancelled_expired', cancel_reason = COALESCE(cancel_reason, 'expired'), version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2 AND status = 'pending_payment'`
	result, err := sqlxTx.ExecContext(ctx, query, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("ホールド期限切れ処理に失敗: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return booking.ErrVersionConflict
	}
	return nil
}

func (r *BookingRepository) GetExpiredPending(ctx context.Context) ([]*booking.Booking, error) {
	var rows []bookingRow
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE status = 'pending_payment' AND expires_at IS NOT NULL AND expires_at < NOW()`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("期限切れ予約取得に失敗: %w", err)
	}
	return toEntities(rows), nil
}

func toEntity(row *bookingRow) *booking.Booking {
	return &booking.Booking{
		ID: row.ID, ListingID: row.ListingID, GuestID: row.GuestID,
		StartDate: row.StartDate, EndDate: row.EndDate,
		Status: booking.Status(row.Status), TotalAmount: row.TotalAmount,
		Currency: row.Currency, PaymentIntentID: row.PaymentIntentID,
		ExpiresAt: row.ExpiresAt, CancelReason: row.CancelReason,
		Version: row.Version, CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
	}
}

func toEntities(rows []bookingRow) []*booking.Booking {
	result := make([]*booking.Booking, len(rows))
	for i := range rows {
		result[i] = toEntity(&rows[i])
	}
	return result
}

var _ booking.Repository = (*BookingRepository)(nil)
