package payment

import "errors"

// Payment ドメインのエラー定義
var (
	ErrProviderUnavailable = errors.New("決済プロバイダーに接続できません")
	ErrIntentNotFound      = errors.New("決済インテントが見つかりません")
	ErrInvalidSignature    = errors.New("Webhook署名が不正です")
	ErrPaymentCancelled    = errors.New("決済がキャンセルされました")
)
