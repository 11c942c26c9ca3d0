// Package auth проверяет учётные данные администратора и выпускает токены
// для административного API.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/counsel-bot/internal/config"
	"github.com/magabrotheeeer/counsel-bot/internal/lib/jwt"
	"github.com/magabrotheeeer/counsel-bot/internal/lib/password"
)

var (
	// ErrInvalidCredentials неверное имя или пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDisabled хеш пароля администратора не настроен.
	ErrDisabled = errors.New("admin api is disabled")
	// ErrForbidden токен не принадлежит администратору.
	ErrForbidden = errors.New("forbidden")
)

// Service аутентификация администратора.
type Service struct {
	username     string
	passwordHash string
	jwtMaker     jwt.Maker
	log          *slog.Logger
}

// New создаёт Service.
func New(cfg config.Admin, jwtMaker jwt.Maker, log *slog.Logger) *Service {
	return &Service{
		username:     cfg.Username,
		passwordHash: cfg.PasswordHash,
		jwtMaker:     jwtMaker,
		log:          log,
	}
}

// Login проверяет пароль и возвращает токен администратора.
func (s *Service) Login(_ context.Context, username, rawPassword string) (string, error) {
	const op = "auth.Login"

	if s.passwordHash == "" {
		return "", fmt.Errorf("%s: %w", op, ErrDisabled)
	}
	// пароль проверяется и при неверном имени, чтобы время ответа не выдавало имя
	pwErr := password.CompareHash(s.passwordHash, rawPassword)
	nameOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	if pwErr != nil || !nameOK {
		s.log.Warn("admin login rejected", slog.String("op", op), slog.String("username", username))
		return "", fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	token, err := s.jwtMaker.GenerateToken(username, jwt.RoleAdmin)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return token, nil
}

// ValidateToken разбирает токен и проверяет роль администратора.
func (s *Service) ValidateToken(_ context.Context, token string) (*jwt.Claims, error) {
	const op = "auth.ValidateToken"

	claims, err := s.jwtMaker.ParseToken(token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if claims.Role != jwt.RoleAdmin {
		return nil, fmt.Errorf("%s: %w", op, ErrForbidden)
	}
	return claims, nil
}
