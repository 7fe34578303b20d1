package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sanosuguru/go-rental-booking/internal/domain/booking"
	"github.com/sanosuguru/go-rental-booking/internal/domain/identity"
	"github.com/sanosuguru/go-rental-booking/internal/domain/listing"
	"github.com/sanosuguru/go-rental-booking/internal/domain/payment"
	"github.com/sanosuguru/go-rental-booking/internal/domain/transaction"
	redislock "github.com/sanosuguru/go-rental-booking/internal/infrastructure/redis"
	"github.com/sanosuguru/go-rental-booking/internal/pkg/metrics"
)

// ErrListingBusy は他プロセスが同じリスティングを処理中であることを示す
// 正当性エラーではなく、短い間隔での再試行を促すシグナル
var ErrListingBusy = errors.New("リスティングが処理中です。しばらくしてから再試行してください")

const defaultCurrency = "USD"

// BookingService は予約の状態遷移を司るアプリケーションサービス
type BookingService struct {
	txManager   transaction.Manager
	bookingRepo booking.Repository
	listingRepo listing.Repository
	lockManager redislock.LockManager
	provider    payment.Provider
	holdWindow  time.Duration
	lockTTL     time.Duration
}

func NewBookingService(
	txManager transaction.Manager,
	br booking.Repository,
	lr listing.Repository,
	lm redislock.LockManager,
	provider payment.Provider,
	holdWindow time.Duration,
	lockTTL time.Duration,
) *BookingService {
	if holdWindow <= 0 {
		holdWindow = booking.HoldWindow
	}
	if lockTTL <= 0 {
		lockTTL = 5 * time.Second
	}
	return &BookingService{
		txManager:   txManager,
		bookingRepo: br,
		listingRepo: lr,
		lockManager: lm,
		provider:    provider,
		holdWindow:  holdWindow,
		lockTTL:     lockTTL,
	}
}

// NextAction は予約作成後にクライアントが取るべき次のアクション
type NextAction struct {
	Type         string
	ExpiresAt    *time.Time
	ClientSecret string
}

// 次のアクション種別
const (
	NextActionAwaitApproval = "await_approval"
	NextActionPay           = "pay"
)

// BookingCreation は予約作成の結果
type BookingCreation struct {
	Booking    *booking.Booking
	NextAction NextAction
}

type CreateBookingInput struct {
	ListingID int64
	GuestID   int64
	StartDate time.Time
	EndDate   time.Time
}

// CreateBooking は新しい予約を作成する
// リスティング単位のアドバイザリロックで作成時の競合を抑制し、
// 確定済み予約との重複をチェックした上で行を挿入する
// 承認不要のリスティングでは決済インテントを開きホールド期限を設定する
func (s *BookingService) CreateBooking(ctx context.Context, input CreateBookingInput) (*BookingCreation, error) {
	if !input.StartDate.Before(input.EndDate) {
		s.countBooking("error")
		return nil, booking.ErrInvalidDateRange
	}

	lst, err := s.listingRepo.GetByID(ctx, input.ListingID)
	if err != nil {
		s.countBooking("error")
		return nil, err
	}

	// 粗いリスティング単位ロック（取得失敗は再試行可能なビジー応答）
	lockKey := listingLockKey(input.ListingID)
	lock, err := s.lockManager.Acquire(ctx, lockKey, s.lockTTL)
	if err != nil {
		if errors.Is(err, redislock.ErrLockNotAcquired) {
			s.countBooking("busy")
			return nil, ErrListingBusy
		}
		s.countBooking("error")
		return nil, fmt.Errorf("ロック取得に失敗: %w", err)
	}
	defer lock.Release(ctx)

	overlap, err := s.bookingRepo.HasConfirmedOverlap(ctx, input.ListingID, input.StartDate, input.EndDate)
	if err != nil {
		s.countBooking("error")
		return nil, err
	}
	if overlap {
		s.countBooking("conflict")
		return nil, booking.ErrDatesOverlap
	}

	b := booking.NewBooking(input.ListingID, input.GuestID, input.StartDate, input.EndDate,
		lst.PriceCents, defaultCurrency, lst.RequiresApproval, s.holdWindow)
	if err := b.Validate(); err != nil {
		s.countBooking("error")
		return nil, err
	}

	tx, err := s.txManager.Begin(ctx)
	if err != nil {
		s.countBooking("error")
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	if err := s.bookingRepo.Create(ctx, tx, b); err != nil {
		s.countBooking("error")
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		s.countBooking("error")
		return nil, fmt.Errorf("コミットに失敗: %w", err)
	}

	if b.Status == booking.StatusRequested {
		s.countBooking("success")
		return &BookingCreation{
			Booking:    b,
			NextAction: NextAction{Type: NextActionAwaitApproval},
		}, nil
	}

	// 支払い待ちの予約には決済インテントを開く
	// 冪等性キーは予約ID+バージョンから導出し、リトライを単一のハンドルに収束させる
	intent, err := s.attachIntent(ctx, b, b.Version)
	if err != nil {
		s.countBooking("error")
		return nil, err
	}

	s.countBooking("success")
	return &BookingCreation{
		Booking: b,
		NextAction: NextAction{
			Type:         NextActionPay,
			ExpiresAt:    b.ExpiresAt,
			ClientSecret: intent.ClientSecret,
		},
	}, nil
}

// attachIntent は決済インテントを作成し、条件付き更新で予約に紐付ける
func (s *BookingService) attachIntent(ctx context.Context, b *booking.Booking, keyVersion int) (*payment.Intent, error) {
	intent, err := s.provider.CreateIntent(ctx, payment.CreateIntentInput{
		AmountCents:    b.TotalAmount,
		Currency:       b.Currency,
		BookingID:      b.ID,
		ListingID:      b.ListingID,
		IdempotencyKey: intentIdempotencyKey(b.ID, keyVersion),
	})
	if err != nil {
		return nil, fmt.Errorf("決済インテント作成に失敗: %w", err)
	}

	tx, err := s.txManager.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	currentVersion := b.Version
	b.PaymentIntentID = &intent.ID
	if err := s.bookingRepo.UpdateVersioned(ctx, tx, b, currentVersion); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("コミットに失敗: %w", err)
	}
	return intent, nil
}

// ApproveBooking は承認待ちの予約を支払い待ちへ遷移させる
// リスティングのオーナーのみが実行でき、ホールド期限を開き直す
func (s *BookingService) ApproveBooking(ctx context.Context, bookingID int64, user *identity.User) (*booking.Booking, error) {
	b, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeOwner(ctx, b, user); err != nil {
		return nil, err
	}
	if b.Status != booking.StatusRequested {
		return nil, booking.ErrBookingNotRequested
	}

	lock, err := s.lockManager.Acquire(ctx, listingLockKey(b.ListingID), s.lockTTL)
	if err != nil {
		if errors.Is(err, redislock.ErrLockNotAcquired) {
			return nil, ErrListingBusy
		}
		return nil, fmt.Errorf("ロック取得に失敗: %w", err)
	}
	defer lock.Release(ctx)

	currentVersion := b.Version
	if err := b.Approve(s.holdWindow); err != nil {
		return nil, err
	}

	if err := s.updateInTx(ctx, b, currentVersion); err != nil {
		return nil, err
	}
	return b, nil
}

// DeclineBooking は承認待ちの予約を拒否する
// requested の行は重複不変条件に参加しないため、ロックも重複チェックも不要
func (s *BookingService) DeclineBooking(ctx context.Context, bookingID int64, user *identity.User) (*booking.Booking, error) {
	b, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeOwner(ctx, b, user); err != nil {
		return nil, err
	}

	currentVersion := b.Version
	if err := b.Decline("declined"); err != nil {
		return nil, err
	}

	if err := s.updateInTx(ctx, b, currentVersion); err != nil {
		return nil, err
	}
	return b, nil
}

// CancelBooking は予約をキャンセルする
// 既に終端状態の場合は何も変更せず現在の状態を返す（冪等）
// 借り手は自分の予約を、貸し手は自分のリスティング上の予約をキャンセルできる
func (s *BookingService) CancelBooking(ctx context.Context, bookingID int64, user *identity.User) (*booking.Booking, error) {
	b, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if user.IsTenant() {
		if b.GuestID != user.ID {
			return nil, booking.ErrNotAuthorized
		}
	} else {
		if err := s.authorizeOwner(ctx, b, user); err != nil {
			return nil, err
		}
	}

	currentVersion := b.Version
	if !b.Cancel("cancelled") {
		return b, nil
	}

	if err := s.updateInTx(ctx, b, currentVersion); err != nil {
		return nil, err
	}
	return b, nil
}

// ListMyBookings は呼び出し元の予約一覧を取得する
// 借り手は自分がゲストの予約、貸し手は所有リスティング上の予約
func (s *BookingService) ListMyBookings(ctx context.Context, user *identity.User, limit, offset int) ([]*booking.Booking, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	if user.IsLandlord() {
		return s.bookingRepo.ListByOwnerID(ctx, user.ID, limit, offset)
	}
	return s.bookingRepo.ListByGuestID(ctx, user.ID, limit, offset)
}

// CancelExpiredBookings はホールド期限切れの支払い待ち予約を cancelled_expired へ遷移させる
// 各行の遷移は status + version を前提条件とするため、複数プロセスが同時に
// 実行しても重複スイープは no-op に縮退する
func (s *BookingService) CancelExpiredBookings(ctx context.Context) (int, error) {
	items, err := s.bookingRepo.GetExpiredPending(ctx)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	tx, err := s.txManager.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	count := 0
	for _, b := range items {
		if err := s.bookingRepo.ExpirePending(ctx, tx, b.ID, b.Version); err != nil {
			if errors.Is(err, booking.ErrVersionConflict) {
				// 別プロセスが先に処理済み。no-op として続行
				continue
			}
			return 0, err
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("コミットに失敗: %w", err)
	}
	return count, nil
}

func (s *BookingService) authorizeOwner(ctx context.Context, b *booking.Booking, user *identity.User) error {
	if !user.IsLandlord() {
		return booking.ErrNotAuthorized
	}
	lst, err := s.listingRepo.GetByID(ctx, b.ListingID)
	if err != nil {
		return err
	}
	if lst.OwnerID != user.ID {
		return booking.ErrNotAuthorized
	}
	return nil
}

func (s *BookingService) updateInTx(ctx context.Context, b *booking.Booking, expectedVersion int) error {
	tx, err := s.txManager.Begin(ctx)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	if err := s.bookingRepo.UpdateVersioned(ctx, tx, b, expectedVersion); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("コミットに失敗: %w", err)
	}
	return nil
}

func (s *BookingService) countBooking(status string) {
	if m := metrics.Get(); m != nil {
		m.BookingsTotal.WithLabelValues(status).Inc()
	}
}

func listingLockKey(listingID int64) string {
	return fmt.Sprintf("booking:listing:%d", listingID)
}

func intentIdempotencyKey(bookingID int64, version int) string {
	return fmt.Sprintf("booking:%d:v%d", bookingID, version)
}
