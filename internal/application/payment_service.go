package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-rental-booking/internal/domain/booking"
	"github.com/sanosuguru/go-rental-booking/internal/domain/identity"
	"github.com/sanosuguru/go-rental-booking/internal/domain/payment"
	"github.com/sanosuguru/go-rental-booking/internal/domain/transaction"
	"github.com/sanosuguru/go-rental-booking/internal/pkg/logger"
)

// WebhookOutcome はプロバイダー通知の処理結果
// 安全な no-op も正常応答として返し、通知の再送ストームを防ぐ
type WebhookOutcome string

const (
	OutcomeConfirmed        WebhookOutcome = "confirmed"
	OutcomeAlreadyConfirmed WebhookOutcome = "already_confirmed"
	OutcomeInvalidStatus    WebhookOutcome = "invalid_status"
	OutcomeExpired          WebhookOutcome = "expired"
	OutcomeOverlapConflict  WebhookOutcome = "overlap_conflict"
	OutcomeVersionConflict  WebhookOutcome = "version_conflict"
	OutcomeUnknownIntent    WebhookOutcome = "unknown_intent"
	OutcomePaymentFailed    WebhookOutcome = "payment_failed_observed"
	OutcomeIgnored          WebhookOutcome = "ignored"
)

// PaymentService は決済照合を司るアプリケーションサービス
// クライアント起点のポーリングとプロバイダー起点の通知の両経路が
// 同一の Finalize に収束し、同じイベントに対して同じ結果を生む（冪等性契約）
type PaymentService struct {
	txManager   transaction.Manager
	bookingRepo booking.Repository
	provider    payment.Provider
}

func NewPaymentService(txManager transaction.Manager, br booking.Repository, provider payment.Provider) *PaymentService {
	return &PaymentService{txManager: txManager, bookingRepo: br, provider: provider}
}

// PaymentInfo はクライアントが決済UIを描画するための情報
type PaymentInfo struct {
	BookingID    int64
	ClientSecret string
	ExpiresAt    time.Time
}

// GetPaymentInfo は支払い待ち予約の決済インテントを保証し、クライアントシークレットを返す
// インテント未作成なら作成して紐付け、プロバイダー側で無効化されていれば開き直す
// プロバイダーが既に成功を報告していれば Finalize を実行し ErrAlreadyConfirmed を返す
func (s *PaymentService) GetPaymentInfo(ctx context.Context, bookingID int64, user *identity.User) (*PaymentInfo, error) {
	b, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.GuestID != user.ID {
		return nil, booking.ErrNotAuthorized
	}
	if b.Status != booking.StatusPendingPayment {
		return nil, booking.ErrBookingNotPending
	}
	now := time.Now().UTC()
	if b.IsHoldExpired(now) {
		return nil, booking.ErrHoldExpired
	}

	var clientSecret string
	if b.PaymentIntentID == nil {
		intent, err := s.createAndAttachIntent(ctx, b, b.Version)
		if err != nil {
			return nil, err
		}
		clientSecret = intent.ClientSecret
	} else {
		intent, err := s.provider.GetIntent(ctx, *b.PaymentIntentID)
		if err != nil {
			return nil, fmt.Errorf("決済インテント取得に失敗: %w", err)
		}
		switch intent.Status {
		case payment.StatusCanceled:
			// 無効化されたインテントは新しいキーで開き直す
			replacement, err := s.createAndAttachIntent(ctx, b, b.Version+1)
			if err != nil {
				return nil, err
			}
			clientSecret = replacement.ClientSecret
		case payment.StatusSucceeded:
			// Webhook が届く前にクライアントがポーリングしたケース
			// Webhook と同じ手順で冪等に確定する
			overlap, err := s.bookingRepo.HasConfirmedOverlap(ctx, b.ListingID, b.StartDate, b.EndDate)
			if err != nil {
				return nil, err
			}
			if overlap {
				return nil, booking.ErrDatesOverlap
			}
			if _, _, err := s.finalize(ctx, b); err != nil {
				return nil, err
			}
			return nil, booking.ErrAlreadyConfirmed
		default:
			clientSecret = intent.ClientSecret
		}
	}

	return &PaymentInfo{
		BookingID:    b.ID,
		ClientSecret: clientSecret,
		ExpiresAt:    *b.ExpiresAt,
	}, nil
}

// FinalizeResult はクライアント起点の確定要求の結果
// Booking が非nilなら確定済み。nil の場合クライアントは ProviderStatus を見てポーリングを継続する
type FinalizeResult struct {
	Booking        *booking.Booking
	ProviderStatus payment.IntentStatus
}

// FinalizePayment はクライアント側の決済完了後に予約を確定する（Webhook が使えない場合の同期経路）
// 既に確定済みならそのまま返し、プロバイダーがまだ処理中なら状態のみ返す
func (s *PaymentService) FinalizePayment(ctx context.Context, bookingID int64, user *identity.User) (*FinalizeResult, error) {
	b, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.GuestID != user.ID {
		return nil, booking.ErrNotAuthorized
	}

	if b.Status == booking.StatusConfirmed {
		return &FinalizeResult{Booking: b, ProviderStatus: payment.StatusSucceeded}, nil
	}
	if b.Status != booking.StatusPendingPayment {
		return nil, booking.ErrBookingNotPending
	}
	if b.IsHoldExpired(time.Now().UTC()) {
		// 期限切れホールドをクライアント操作で遷移させてはならない
		return nil, booking.ErrHoldExpired
	}
	if b.PaymentIntentID == nil {
		return nil, booking.ErrPaymentIntentRequired
	}

	intent, err := s.provider.GetIntent(ctx, *b.PaymentIntentID)
	if err != nil {
		return nil, fmt.Errorf("決済インテント取得に失敗: %w", err)
	}

	switch {
	case intent.Status == payment.StatusSucceeded:
		overlap, err := s.bookingRepo.HasConfirmedOverlap(ctx, b.ListingID, b.StartDate, b.EndDate)
		if err != nil {
			return nil, err
		}
		if overlap {
			return nil, booking.ErrDatesOverlap
		}
		confirmed, _, err := s.finalize(ctx, b)
		if err != nil {
			return nil, err
		}
		return &FinalizeResult{Booking: confirmed, ProviderStatus: intent.Status}, nil
	case intent.Status == payment.StatusCanceled:
		return nil, payment.ErrPaymentCancelled
	case intent.Status.IsRetryable():
		return &FinalizeResult{ProviderStatus: intent.Status}, nil
	default:
		return &FinalizeResult{ProviderStatus: intent.Status}, nil
	}
}

// HandleWebhookEvent は署名検証済みのプロバイダー通知を処理する
// キャンセル競合後の遅延通知や再送は安全な no-op として応答する
func (s *PaymentService) HandleWebhookEvent(ctx context.Context, event *payment.WebhookEvent) (WebhookOutcome, error) {
	switch event.Type {
	case payment.EventTypeIntentSucceeded:
	case payment.EventTypeIntentFailed:
		logger.Warn("決済失敗通知を受信", zap.String("intent_id", event.IntentID))
		return OutcomePaymentFailed, nil
	default:
		return OutcomeIgnored, nil
	}

	b, err := s.bookingRepo.GetByPaymentIntentID(ctx, event.IntentID)
	if err != nil {
		if errors.Is(err, booking.ErrBookingNotFound) {
			// 不明なインテントは再送ストームを避けるため受理する
			logger.Warn("不明な決済インテントの通知", zap.String("intent_id", event.IntentID))
			return OutcomeUnknownIntent, nil
		}
		return "", err
	}

	if b.Status == booking.StatusConfirmed {
		return OutcomeAlreadyConfirmed, nil
	}
	if b.Status != booking.StatusPendingPayment {
		// キャンセル競合後の遅延通知。エラーにせず無視する
		return OutcomeInvalidStatus, nil
	}
	if b.IsHoldExpired(time.Now().UTC()) {
		// 期限切れホールドを通知で復活させない
		return OutcomeExpired, nil
	}

	overlap, err := s.bookingRepo.HasConfirmedOverlap(ctx, b.ListingID, b.StartDate, b.EndDate)
	if err != nil {
		return "", err
	}
	if overlap {
		// 競合予約が先に確定済み。確定せず運用者向けに記録する
		logger.Warn("決済成功通知と確定済み予約が競合",
			zap.Int64("booking_id", b.ID),
			zap.Int64("listing_id", b.ListingID),
			zap.String("intent_id", event.IntentID))
		return OutcomeOverlapConflict, nil
	}

	_, alreadyConfirmed, err := s.finalize(ctx, b)
	if err != nil {
		if errors.Is(err, booking.ErrVersionConflict) {
			return OutcomeVersionConflict, nil
		}
		return "", err
	}
	if alreadyConfirmed {
		return OutcomeAlreadyConfirmed, nil
	}
	return OutcomeConfirmed, nil
}

// finalize は予約を confirmed へ遷移させる唯一の経路
// 条件付き更新が0行だった場合は再読込し、既に確定済みなら冪等成功
// （alreadyConfirmed=true）として扱う
func (s *PaymentService) finalize(ctx context.Context, b *booking.Booking) (result *booking.Booking, alreadyConfirmed bool, err error) {
	tx, err := s.txManager.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	if err := s.bookingRepo.ConfirmPending(ctx, tx, b.ID, b.Version); err != nil {
		if errors.Is(err, booking.ErrVersionConflict) {
			latest, rerr := s.bookingRepo.GetByID(ctx, b.ID)
			if rerr == nil && latest.Status == booking.StatusConfirmed {
				// 並行した呼び出し元が先に確定済み。冪等成功
				return latest, true, nil
			}
			return nil, false, booking.ErrVersionConflict
		}
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("コミットに失敗: %w", err)
	}

	b.Status = booking.StatusConfirmed
	b.Version++
	return b, false, nil
}

// createAndAttachIntent は新しいインテントを作成し条件付き更新で予約に紐付ける
// keyVersion は冪等性キーの導出に使う（開き直しの場合は現在のバージョン+1）
func (s *PaymentService) createAndAttachIntent(ctx context.Context, b *booking.Booking, keyVersion int) (*payment.Intent, error) {
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
