package listing

import "time"

// Listing はリスティング（賃貸物件）エンティティを表す
// 予約エンジンから見た外部コラボレーターで、ここでは参照のみ行う
type Listing struct {
	ID               int64
	OwnerID          int64
	Title            string
	PriceCents       int
	RequiresApproval bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
