package booking

import (
	"context"
	"time"

	"github.com/sanosuguru/go-rental-booking/internal/domain/transaction"
)

// Repository は予約リポジトリのインターフェース
// 状態を変更する操作は全て現在の Version を前提条件とする条件付き更新で、
// 影響行数が0の場合に ErrVersionConflict を返す
type Repository interface {
	// Create は新しい予約を作成する（トランザクション必須）
	Create(ctx context.Context, tx transaction.Tx, b *Booking) error

	// GetByID はIDから予約を取得する
	GetByID(ctx context.Context, id int64) (*Booking, error)

	// GetByPaymentIntentID は決済インテントIDから予約を取得する
	GetByPaymentIntentID(ctx context.Context, intentID string) (*Booking, error)

	// ListByGuestID はゲストの予約一覧を取得する
	ListByGuestID(ctx context.Context, guestID int64, limit, offset int) ([]*Booking, error)

	// ListByOwnerID はオーナーが所有するリスティングの予約一覧を取得する
	ListByOwnerID(ctx context.Context, ownerID int64, limit, offset int) ([]*Booking, error)

	// HasConfirmedOverlap はリスティングの確定済み予約と [start, end) が重複するかを返す
	HasConfirmedOverlap(ctx context.Context, listingID int64, start, end time.Time) (bool, error)

	// UpdateVersioned は予約の全可変フィールドを条件付きで更新し Version をインクリメントする
	UpdateVersioned(ctx context.Context, tx transaction.Tx, b *Booking, expectedVersion int) error

	// ConfirmPending は pending_payment の予約を条件付きで confirmed へ遷移させる
	// 予約が confirmed になる唯一の経路（Finalize）
	ConfirmPending(ctx context.Context, tx transaction.Tx, id int64, expectedVersion int) error

	// ExpirePending は pending_payment の予約を条件付きで cancelled_expired へ遷移させる
	ExpirePending(ctx context.Context, tx transaction.Tx, id int64, expectedVersion int) error

	// GetExpiredPending はホールド期限切れの支払い待ち予約を取得する
	GetExpiredPending(ctx context.Context) ([]*Booking, error)
}
