package identity

import (
	"context"
	"errors"
)

// Role はユーザーの役割を表す
type Role string

const (
	// RoleTenant は物件を予約する借り手
	RoleTenant Role = "tenant"
	// RoleLandlord は物件を所有・管理する貸し手
	RoleLandlord Role = "landlord"
)

// User は認証基盤が解決した呼び出し元の識別情報
// 予約エンジンはクレデンシャル自体には触れず、解決済みの識別情報のみを扱う
type User struct {
	ID   int64
	Role Role
}

// IsTenant は借り手かを返す
func (u *User) IsTenant() bool {
	return u.Role == RoleTenant
}

// IsLandlord は貸し手かを返す
func (u *User) IsLandlord() bool {
	return u.Role == RoleLandlord
}

// Identity ドメインのエラー定義
var (
	ErrInvalidToken = errors.New("トークンが無効または期限切れです")
	ErrInvalidRole  = errors.New("不明なロールです")
)

// Resolver はクレデンシャルからユーザー識別情報を解決するインターフェース
type Resolver interface {
	Resolve(ctx context.Context, token string) (*User, error)
}
