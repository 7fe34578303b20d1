package payment

import "context"

// IntentStatus は決済プロバイダー側のインテント状態を表す
type IntentStatus string

const (
	StatusProcessing            IntentStatus = "processing"
	StatusRequiresAction        IntentStatus = "requires_action"
	StatusRequiresPaymentMethod IntentStatus = "requires_payment_method"
	StatusRequiresConfirmation  IntentStatus = "requires_confirmation"
	StatusSucceeded             IntentStatus = "succeeded"
	StatusCanceled              IntentStatus = "canceled"
)

// IsRetryable はクライアントがポーリングを継続すべき状態かを返す
func (s IntentStatus) IsRetryable() bool {
	switch s {
	case StatusProcessing, StatusRequiresAction, StatusRequiresPaymentMethod, StatusRequiresConfirmation:
		return true
	}
	return false
}

// Intent は決済プロバイダーが発行するインテントのハンドル
type Intent struct {
	ID           string
	ClientSecret string
	Status       IntentStatus
}

// CreateIntentInput はインテント作成の入力
// IdempotencyKey は予約ID+バージョンから導出され、リトライを単一のリモートハンドルに収束させる
type CreateIntentInput struct {
	AmountCents    int
	Currency       string
	BookingID      int64
	ListingID      int64
	IdempotencyKey string
}

// Provider は決済プロバイダーのインターフェース
type Provider interface {
	// CreateIntent は新しい決済インテントを作成する
	CreateIntent(ctx context.Context, input CreateIntentInput) (*Intent, error)

	// GetIntent は既存インテントの最新状態を取得する
	GetIntent(ctx context.Context, intentID string) (*Intent, error)
}

// 決済プロバイダーからの通知イベント種別
const (
	EventTypeIntentSucceeded = "payment_intent.succeeded"
	EventTypeIntentFailed    = "payment_intent.payment_failed"
)

// WebhookEvent は署名検証済みのプロバイダー通知
type WebhookEvent struct {
	Type     string
	IntentID string
}
