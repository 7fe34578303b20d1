package booking

import "time"

// Status は予約の状態を表す
type Status string

const (
	StatusRequested        Status = "requested"
	StatusPendingPayment   Status = "pending_payment"
	StatusConfirmed        Status = "confirmed"
	StatusCancelled        Status = "cancelled"
	StatusCancelledExpired Status = "cancelled_expired"
	StatusDeclined         Status = "declined"
)

// IsTerminal は終端状態（以後遷移しない状態）かを返す
func (s Status) IsTerminal() bool {
	switch s {
	case StatusConfirmed, StatusCancelled, StatusCancelledExpired, StatusDeclined:
		return true
	}
	return false
}

// HoldWindow は支払い待ちホールドのデフォルト有効期間
const HoldWindow = 15 * time.Minute

// Booking は予約エンティティを表す
// Version は楽観的ロックのフェンシングトークンで、全ての更新でインクリメントされる
type Booking struct {
	ID              int64
	ListingID       int64
	GuestID         int64
	StartDate       time.Time
	EndDate         time.Time
	Status          Status
	TotalAmount     int
	Currency        string
	PaymentIntentID *string
	ExpiresAt       *time.Time
	CancelReason    *string
	Version         int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewBooking は新しい予約を作成する
// requiresApproval が真の場合は requested、偽の場合は pending_payment で開始し
// ホールド期限を holdWindow 後に設定する
func NewBooking(listingID, guestID int64, startDate, endDate time.Time, priceCents int, currency string, requiresApproval bool, holdWindow time.Duration) *Booking {
	now := time.Now().UTC()
	b := &Booking{
		ListingID:   listingID,
		GuestID:     guestID,
		StartDate:   startDate,
		EndDate:     endDate,
		TotalAmount: Nights(startDate, endDate) * priceCents,
		Currency:    currency,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if requiresApproval {
		b.Status = StatusRequested
	} else {
		b.Status = StatusPendingPayment
		expiresAt := now.Add(holdWindow)
		b.ExpiresAt = &expiresAt
	}
	return b
}

// Nights は宿泊数を返す（半開区間 [start, end) の日数）
func Nights(startDate, endDate time.Time) int {
	return int(endDate.Sub(startDate).Hours() / 24)
}

// Overlaps は予約の日付範囲が [start, end) と重なるかを返す
// 半開区間同士の重なり判定: NOT (e1 <= s2 OR s1 >= e2)
func (b *Booking) Overlaps(start, end time.Time) bool {
	return b.EndDate.After(start) && b.StartDate.Before(end)
}

// IsHoldExpired はホールド期限が now を過ぎているかを返す
// 期限が未設定の場合も期限切れ扱いとする
func (b *Booking) IsHoldExpired(now time.Time) bool {
	if b.ExpiresAt == nil {
		return true
	}
	return !b.ExpiresAt.After(now)
}

// Validate は予約の検証を行う
func (b *Booking) Validate() error {
	if b.ListingID == 0 {
		return ErrListingIDRequired
	}
	if b.GuestID == 0 {
		return ErrGuestIDRequired
	}
	if !b.StartDate.Before(b.EndDate) {
		return ErrInvalidDateRange
	}
	return nil
}

// Approve は requested の予約を pending_payment へ遷移させる
// ホールド期限を now + holdWindow に再設定する
func (b *Booking) Approve(holdWindow time.Duration) error {
	if b.Status != StatusRequested {
		return ErrBookingNotRequested
	}
	now := time.Now().UTC()
	expiresAt := now.Add(holdWindow)
	b.Status = StatusPendingPayment
	b.ExpiresAt = &expiresAt
	b.UpdatedAt = now
	return nil
}

// Decline は requested の予約を declined へ遷移させる
func (b *Booking) Decline(reason string) error {
	if b.Status != StatusRequested {
		return ErrBookingNotRequested
	}
	b.Status = StatusDeclined
	b.CancelReason = &reason
	b.UpdatedAt = time.Now().UTC()
	return nil
}

// Cancel は予約を cancelled へ遷移させる
// 既に終端状態の場合は冪等に何もしない（呼び出し側は現在の状態をそのまま返す）
func (b *Booking) Cancel(reason string) bool {
	if b.Status.IsTerminal() {
		return false
	}
	b.Status = StatusCancelled
	if b.CancelReason == nil {
		b.CancelReason = &reason
	}
	b.UpdatedAt = time.Now().UTC()
	return true
}
