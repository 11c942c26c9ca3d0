// Package scheduler собирает фоновый процесс: ежедневный сброс лимитов
// сообщений по cron и доставку уведомлений об активации из RabbitMQ.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/counsel-bot/internal/config"
	"github.com/magabrotheeeer/counsel-bot/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/counsel-bot/internal/lib/sl"
	"github.com/magabrotheeeer/counsel-bot/internal/services/notification"
	"github.com/magabrotheeeer/counsel-bot/internal/services/subscription"
	"github.com/magabrotheeeer/counsel-bot/internal/storage/repository"
	"github.com/magabrotheeeer/counsel-bot/internal/telegram"
)

const notificationWorkers = 4

// App представляет приложение планировщика.
type App struct {
	lifecycle *subscription.Lifecycle
	notifier  *notification.Direct
	db        *repository.Storage
	conn      *amqp.Connection
	ch        *amqp.Channel
	cron      string
	location  *time.Location
	logger    *slog.Logger
}

func waitForDB(ctx context.Context, db *repository.Storage) error {
	for range 10 {
		err := repository.CheckDatabaseReady(ctx, db)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
	return fmt.Errorf("database not ready after retries")
}

// New создает новый экземпляр приложения планировщика. Миграции применяет
// процесс бота, здесь только ожидается готовность схемы.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(ctx, cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	if err := waitForDB(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	a := &App{
		lifecycle: subscription.NewLifecycle(db, logger),
		notifier:  notification.NewDirect(telegram.New(cfg.Telegram), logger),
		db:        db,
		cron:      cfg.ResetCron,
		location:  cfg.Location(),
		logger:    logger,
	}

	if cfg.RabbitMQURL == "" {
		logger.Info("rabbitmq is not configured, notification consumer is disabled")
		return a, nil
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	a.conn = conn

	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetNotificationQueues())
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}
	a.ch = ch

	return a, nil
}

func (a *App) closeResources() {
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
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", sl.Err(err))
	}
}

// Run запускает планировщик и потребителя уведомлений и ждёт отмены ctx.
func (a *App) Run(ctx context.Context) error {
	defer a.closeResources()

	if err := a.lifecycle.Start(ctx, a.cron, a.location); err != nil {
		return err
	}
	defer a.lifecycle.Stop()

	if a.ch != nil {
		queue := rabbitmq.GetNotificationQueues()[0].QueueName
		if err := rabbitmq.ConsumerMessage(ctx, a.ch, queue, notificationWorkers, a.logger, a.notifier.HandleDelivery); err != nil {
			return err
		}
	}

	<-ctx.Done()
	a.logger.Info("shutting down scheduler service")
	return nil
}
