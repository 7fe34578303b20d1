package booking

import "errors"

// Booking ドメインのエラー定義
var (
	ErrBookingNotFound       = errors.New("予約が見つかりません")
	ErrBookingNotRequested   = errors.New("承認待ちの予約ではありません")
	ErrBookingNotPending     = errors.New("支払い待ちの予約ではありません")
	ErrDatesOverlap          = errors.New("既存の確定予約と日付が重複しています")
	ErrInvalidDateRange      = errors.New("開始日は終了日より前である必要があります")
	ErrListingIDRequired     = errors.New("リスティングIDは必須です")
	ErrGuestIDRequired       = errors.New("ゲストIDは必須です")
	ErrHoldExpired           = errors.New("支払いホールドの期限が切れています")
	ErrVersionConflict       = errors.New("バージョン競合が発生しました")
	ErrNotAuthorized         = errors.New("この予約を操作する権限がありません")
	ErrAlreadyConfirmed      = errors.New("予約は既に確定されています")
	ErrPaymentIntentRequired = errors.New("決済インテントが設定されていません")
)
