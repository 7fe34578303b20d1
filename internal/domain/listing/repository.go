package listing

import "context"

// Repository はリスティングリポジトリのインターフェース
// リスティングのCRUDはこのサービスのスコープ外のため参照のみ
type Repository interface {
	// GetByID はIDからリスティングを取得する
	GetByID(ctx context.Context, id int64) (*Listing, error)
}
