// Package middlewarectx содержит HTTP middleware административного API:
// проверку JWT и ограничение частоты запросов.
package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/counsel-bot/internal/http/response"
	"github.com/magabrotheeeer/counsel-bot/internal/lib/jwt"
	"github.com/magabrotheeeer/counsel-bot/internal/lib/sl"
)

// Key тип ключей контекста запроса.
type Key string

// Admin ключ имени администратора в контексте.
const Admin Key = "admin"

// Service проверка токена.
type Service interface {
	ValidateToken(ctx context.Context, token string) (*jwt.Claims, error)
}

// JWTMiddleware пропускает запрос, только если заголовок Authorization
// содержит действующий токен администратора. Имя администратора кладётся в контекст.
func JWTMiddleware(authService Service, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.JWTMiddleware"
			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				log.Warn("missing or invalid authorization header")
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("missing or invalid authorization header"))
				return
			}

			claims, err := authService.ValidateToken(r.Context(), strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				log.Warn("invalid or expired token", sl.Err(err))
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("invalid or expired token"))
				return
			}
			ctx := context.WithValue(r.Context(), Admin, claims.Username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminFromContext возвращает имя администратора из контекста запроса.
func AdminFromContext(ctx context.Context) string {
	name, _ := ctx.Value(Admin).(string)
	return name
}
