// Package jwt выпускает и проверяет токены административного API.
package jwt

import (
	"errors"
	"time"
)

// RoleAdmin роль администратора бота.
const RoleAdmin = "admin"

// ErrEmptySecret секрет подписи не задан.
var ErrEmptySecret = errors.New("jwt secret is empty")

// Maker выпускает и разбирает токены.
type Maker interface {
	GenerateToken(username, role string) (string, error)
	ParseToken(tokenStr string) (*Claims, error)
}

// MakerImpl подписывает токены HS256 общим секретом.
type MakerImpl struct {
	secretKey []byte
	tokenTTL  time.Duration
	issuer    string
	now       func() time.Time
}

// NewJWTMaker создаёт MakerImpl. Пустой секрет не допускается: такой токен
// мог бы подписать кто угодно.
func NewJWTMaker(secretKey string, ttl time.Duration) (*MakerImpl, error) {
	if secretKey == "" {
		return nil, ErrEmptySecret
	}
	return &MakerImpl{
		secretKey: []byte(secretKey),
		tokenTTL:  ttl,
		issuer:    "counsel-bot",
		now:       time.Now,
	}, nil
}
