package auth

import (
	"context"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sanosuguru/go-rental-booking/internal/domain/identity"
)

// JWTResolver は HMAC 署名付き JWT からユーザー識別情報を解決する
// 予約エンジンが消費するのは解決済みの (ユーザーID, ロール) のみで、
// トークンの発行・更新は認証基盤側の責務
type JWTResolver struct {
	secret []byte
}

func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret)}
}

func (r *JWTResolver) Resolve(ctx context.Context, tokenString string) (*identity.User, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return r.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, identity.ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, identity.ErrInvalidToken
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, identity.ErrInvalidToken
	}
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return nil, identity.ErrInvalidToken
	}

	roleClaim, _ := claims["role"].(string)
	role := identity.Role(roleClaim)
	if role != identity.RoleTenant && role != identity.RoleLandlord {
		return nil, identity.ErrInvalidRole
	}

	return &identity.User{ID: userID, Role: role}, nil
}

// IssueToken はテストおよびローカル開発用にトークンを発行する
func (r *JWTResolver) IssueToken(user *identity.User) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  fmt.Sprintf("%d", user.ID),
		"role": string(user.Role),
	})
	return token.SignedString(r.secret)
}

var _ identity.Resolver = (*JWTResolver)(nil)
