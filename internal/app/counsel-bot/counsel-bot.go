// Package counselbot собирает процесс бота: цикл получения обновлений Telegram,
// опрос счетов CryptoCloud и HTTP-сервер (health, metrics, postback, admin API).
package counselbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"

	"github.com/magabrotheeeer/counsel-bot/internal/bot"
	"github.com/magabrotheeeer/counsel-bot/internal/cache"
	"github.com/magabrotheeeer/counsel-bot/internal/config"
	"github.com/magabrotheeeer/counsel-bot/internal/lib/jwt"
	"github.com/magabrotheeeer/counsel-bot/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/counsel-bot/internal/lib/sl"
	"github.com/magabrotheeeer/counsel-bot/internal/llm"
	"github.com/magabrotheeeer/counsel-bot/internal/migrations"
	"github.com/magabrotheeeer/counsel-bot/internal/paymentprovider/cryptocloud"
	"github.com/magabrotheeeer/counsel-bot/internal/services/admission"
	"github.com/magabrotheeeer/counsel-bot/internal/services/auth"
	"github.com/magabrotheeeer/counsel-bot/internal/services/dialogue"
	"github.com/magabrotheeeer/counsel-bot/internal/services/memory"
	"github.com/magabrotheeeer/counsel-bot/internal/services/notification"
	"github.com/magabrotheeeer/counsel-bot/internal/services/onboarding"
	"github.com/magabrotheeeer/counsel-bot/internal/services/payment"
	"github.com/magabrotheeeer/counsel-bot/internal/services/subscription"
	"github.com/magabrotheeeer/counsel-bot/internal/storage/repository"
	"github.com/magabrotheeeer/counsel-bot/internal/telegram"
)

const shutdownTimeout = 15 * time.Second

// App процесс бота.
type App struct {
	server       *http.Server
	bot          *bot.Bot
	payments     *payment.Service
	pollInterval time.Duration
	logger       *slog.Logger
	db           *repository.Storage
	cache        *cache.Cache
	conn         *amqp.Connection
	ch           *amqp.Channel
}

// New подключает хранилища, применяет миграции и собирает сервисы.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "counselbot.New"

	db, err := repository.New(ctx, cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	a := &App{
		logger:       logger,
		db:           db,
		cache:        cacheRedis,
		pollInterval: cfg.PollInterval,
	}

	tg := telegram.New(cfg.Telegram)
	notifier, err := a.notifier(cfg.RabbitMQ, tg)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	llmClient := llm.New(cfg.LLM)
	lifecycle := subscription.NewLifecycle(db, logger)
	admit := admission.New(db, lifecycle, cfg.DailyLimit, logger)
	mem := memory.New(cacheRedis, db, llmClient, cfg.Memory, logger)
	dlg := dialogue.New(admit, mem, db, llmClient, cfg.AdminUsername, cfg.DailyLimit, logger)
	form := onboarding.New(cacheRedis, db, "", logger)

	crypto := cryptocloud.NewClient(cfg.CryptoCloudAPIURL, cfg.CryptoCloudShopID, cfg.CryptoCloudAPIKey)
	a.payments = payment.New(db, crypto, notifier, cfg.Payments, logger)

	a.bot = bot.New(tg, bot.Deps{
		Dialogue:   dlg,
		Onboarding: form,
		Payments:   a.payments,
		Users:      db,
	}, cfg.Telegram, cfg.DailyLimit, logger)

	var authService *auth.Service
	if cfg.JWTSecretKey != "" {
		maker, err := jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		authService = auth.New(cfg.Admin, maker, logger)
	} else {
		logger.Warn("jwt secret is not set, admin api is disabled")
	}

	router := chi.NewRouter()
	RegisterRoutes(router, logger, Services{
		Storage:  db,
		Cache:    cacheRedis,
		Payments: a.payments,
		Auth:     authService,
	})

	a.server = &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return a, nil
}

// notifier выбирает доставку уведомлений об активации: через RabbitMQ, если
// брокер настроен, иначе сразу в Telegram.
func (a *App) notifier(cfg config.RabbitMQ, tg *telegram.Client) (payment.Notifier, error) {
	if cfg.RabbitMQURL == "" {
		a.logger.Info("rabbitmq is not configured, activation notices are sent directly")
		return notification.NewDirect(tg, a.logger), nil
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetNotificationQueues())
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}
	a.conn, a.ch = conn, ch
	return notification.NewBroker(ch, a.logger), nil
}

// Run работает до отмены ctx или до ошибки HTTP-сервера.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		return a.server.Shutdown(timeoutCtx)
	})

	g.Go(func() error {
		return a.bot.Run(gctx)
	})

	g.Go(func() error {
		a.payments.RunPoller(gctx, a.pollInterval)
		return nil
	})

	return g.Wait()
}

func (a *App) close() {
	if a.ch != nil {
		if err := a.ch.Close(); err != nil {
			a.logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Error("failed to close connection", sl.Err(err))
		}
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Error("failed to close redis", sl.Err(err))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", sl.Err(err))
	}
}
