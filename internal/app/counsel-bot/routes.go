package counselbot

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/magabrotheeeer/counsel-bot/docs"
	"github.com/magabrotheeeer/counsel-bot/internal/cache"
	"github.com/magabrotheeeer/counsel-bot/internal/http/handlers/admin/login"
	"github.com/magabrotheeeer/counsel-bot/internal/http/handlers/admin/prices"
	"github.com/magabrotheeeer/counsel-bot/internal/http/handlers/admin/prompts"
	"github.com/magabrotheeeer/counsel-bot/internal/http/handlers/admin/stats"
	"github.com/magabrotheeeer/counsel-bot/internal/http/handlers/admin/users"
	"github.com/magabrotheeeer/counsel-bot/internal/http/handlers/health"
	"github.com/magabrotheeeer/counsel-bot/internal/http/handlers/payment/paymentwebhook"
	"github.com/magabrotheeeer/counsel-bot/internal/http/middlewarectx"
	"github.com/magabrotheeeer/counsel-bot/internal/metrics"
	"github.com/magabrotheeeer/counsel-bot/internal/services/auth"
	"github.com/magabrotheeeer/counsel-bot/internal/services/payment"
	"github.com/magabrotheeeer/counsel-bot/internal/storage/repository"
)

const (
	adminRPS   = 5
	adminBurst = 10
)

// Services зависимости HTTP-маршрутов. Auth == nil отключает /admin.
type Services struct {
	Storage  *repository.Storage
	Cache    *cache.Cache
	Payments *payment.Service
	Auth     *auth.Service
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, s Services) {
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		metrics.Middleware,
	)

	r.Get("/health", health.New(logger, map[string]health.Pinger{
		"postgres": s.Storage,
		"redis":    s.Cache,
	}).ServeHTTP)
	r.Handle("/metrics", metrics.Handler())

	// postback CryptoCloud без аутентификации: счёт всё равно перепроверяется у провайдера
	r.Post("/webhook/cryptocloud", paymentwebhook.New(logger, s.Payments).ServeHTTP)

	if s.Auth == nil {
		return
	}

	r.Route("/admin", func(r chi.Router) {
		r.Use(middlewarectx.RateLimitMiddleware(logger, adminRPS, adminBurst))
		r.Post("/login", login.New(logger, s.Auth).ServeHTTP)
		r.Get("/docs/*", httpSwagger.WrapHandler)

		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(s.Auth, logger))

			promptsHandler := prompts.New(logger, s.Storage)
			r.Get("/prompts", promptsHandler.List)
			r.Get("/prompts/active", promptsHandler.Active)
			r.Post("/prompts", promptsHandler.Create)
			r.Post("/prompts/{id}/restore", promptsHandler.Restore)

			pricesHandler := prices.New(logger, s.Storage)
			r.Get("/prices/{name}", pricesHandler.Get)
			r.Put("/prices/{name}", pricesHandler.Set)

			usersHandler := users.New(logger, s.Storage)
			r.Get("/users/{telegram_id}", usersHandler.Get)
			r.Post("/users/{telegram_id}/ban", usersHandler.Ban)
			r.Post("/users/{telegram_id}/unban", usersHandler.Unban)

			r.Get("/stats", stats.New(logger, s.Storage).ServeHTTP)
		})
	})
}
