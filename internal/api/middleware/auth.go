package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-rental-booking/internal/domain/identity"
)

// userContextKey はコンテキストに認証済みユーザーを格納するキー
const userContextKey = "auth.user"

// JWTAuth は Bearer トークンを検証し、認証済みユーザーをコンテキストへ格納するミドルウェア
func JWTAuth(resolver identity.Resolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "認証トークンが必要です")
			}

			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization ヘッダーの形式が不正です")
			}

			user, err := resolver.Resolve(c.Request().Context(), token)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "認証トークンが無効です")
			}

			c.Set(userContextKey, user)
			return next(c)
		}
	}
}

// RequireLandlord は貸主ロールを要求するミドルウェア
func RequireLandlord() echo.MiddlewareFunc {
	return requireRole(identity.RoleLandlord)
}

// RequireTenant は借主ロールを要求するミドルウェア
func RequireTenant() echo.MiddlewareFunc {
	return requireRole(identity.RoleTenant)
}

func requireRole(role identity.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, ok := UserFrom(c)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "認証が必要です")
			}
			if user.Role != role {
				return echo.NewHTTPError(http.StatusForbidden, "この操作を行う権限がありません")
			}
			return next(c)
		}
	}
}

// UserFrom はコンテキストから認証済みユーザーを取り出す
func UserFrom(c echo.Context) (*identity.User, bool) {
	user, ok := c.Get(userContextKey).(*identity.User)
	return user, ok
}

// SetUser はテスト用にコンテキストへユーザーをセットする
func SetUser(c echo.Context, user *identity.User) {
	c.Set(userContextKey, user)
}
