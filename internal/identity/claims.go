package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidClaims は検証に失敗したクレームトークンを表すエラー。
var ErrInvalidClaims = errors.New("クレームトークンが無効です")

// Claims は上流の認証基盤（OAuth連携を担う側）が署名したクレームトークンの
// ペイロードを表す。本サービスは署名の検証のみを行い、OAuthのトークン交換や
// デバイスフローには一切関与しない。
type Claims struct {
	jwt.RegisteredClaims
	// Email は上流で検証済みのメールアドレス。
	Email string `json:"email"`
}

// VerifyClaimsToken は共有シークレットでクレームトークンの署名を検証し、
// ペイロードを返す。署名不一致・期限切れ・emailクレームの欠落はすべて
// ErrInvalidClaimsとなる。
func VerifyClaimsToken(secret, tokenString string) (*Claims, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: 共有シークレットが設定されていません", ErrInvalidClaims)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClaims, err)
	}
	if !token.Valid {
		return nil, ErrInvalidClaims
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("%w: emailクレームがありません", ErrInvalidClaims)
	}
	return claims, nil
}

// SignClaimsToken はクレームトークンを生成する。
// 本番では上流の認証基盤がトークンを発行するため、開発とテストでのみ使用する。
func SignClaimsToken(secret, email string, ttl time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "gatekeeper-upstream",
		},
		Email: email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("クレームトークンの署名に失敗: %w", err)
	}
	return signed, nil
}
