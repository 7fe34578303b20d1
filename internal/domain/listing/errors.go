package listing

import "errors"

// Listing ドメインのエラー定義
var (
	ErrListingNotFound = errors.New("リスティングが見つかりません")
)
