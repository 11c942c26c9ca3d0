// Package notification сообщает пользователю об активации подписки: напрямую
// через Telegram либо через очередь RabbitMQ, которую слушает бот.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/counsel-bot/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/counsel-bot/internal/models"
)

// Sender отправка текста пользователю.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// ActivationText текст уведомления об активации подписки.
func ActivationText(a models.Activation) string {
	until := a.SubscriptionUntil.Format("02.01.2006")
	if a.Method == models.MethodTelegram {
		return "Спасибо за оплату! Ваша подписка активирована до " + until + "."
	}
	return "Ваша подписка активирована! Спасибо за оплату через CryptoCloud. Подписка действует до " +
		until + ". Приятного общения с AI-ботом!"
}

// Direct отправляет уведомление сразу.
type Direct struct {
	sender Sender
	log    *slog.Logger
}

// NewDirect создаёт Direct.
func NewDirect(sender Sender, log *slog.Logger) *Direct {
	return &Direct{sender: sender, log: log}
}

// SubscriptionActivated отправляет уведомление об активации.
func (d *Direct) SubscriptionActivated(ctx context.Context, a models.Activation) error {
	const op = "notification.Direct.SubscriptionActivated"
	if err := d.sender.SendText(ctx, a.TelegramID, ActivationText(a)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	d.log.Info("activation notice sent", slog.String("op", op), slog.Int64("telegram_id", a.TelegramID))
	return nil
}

// HandleDelivery обрабатывает событие из очереди.
func (d *Direct) HandleDelivery(ctx context.Context, body []byte) error {
	const op = "notification.Direct.HandleDelivery"
	var a models.Activation
	if err := json.Unmarshal(body, &a); err != nil {
		// Битое сообщение не станет лучше при повторе.
		d.log.Error("dropping malformed activation event", slog.String("op", op), slog.String("body", string(body)))
		return nil
	}
	return d.SubscriptionActivated(ctx, a)
}

// Broker публикует событие активации в RabbitMQ.
type Broker struct {
	ch  rabbitmq.Publisher
	log *slog.Logger
}

// NewBroker создаёт Broker поверх открытого канала.
func NewBroker(ch rabbitmq.Publisher, log *slog.Logger) *Broker {
	return &Broker{ch: ch, log: log}
}

// SubscriptionActivated публикует событие активации.
func (b *Broker) SubscriptionActivated(_ context.Context, a models.Activation) error {
	const op = "notification.Broker.SubscriptionActivated"
	if err := rabbitmq.PublishMessage(b.ch, rabbitmq.Exchange, rabbitmq.RoutingKeyActivated, a); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	b.log.Debug("activation event published", slog.String("op", op), slog.Int64("telegram_id", a.TelegramID))
	return nil
}
