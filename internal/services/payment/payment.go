// Package payment выставляет счета на подписку и подтверждает оплату по двум
// каналам: Telegram Payments (подтверждение приходит от Telegram) и CryptoCloud
// (статус счёта опрашивается у провайдера).
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/counsel-bot/internal/config"
	"github.com/magabrotheeeer/counsel-bot/internal/lib/sl"
	"github.com/magabrotheeeer/counsel-bot/internal/metrics"
	"github.com/magabrotheeeer/counsel-bot/internal/models"
	"github.com/magabrotheeeer/counsel-bot/internal/paymentprovider/cryptocloud"
	"github.com/magabrotheeeer/counsel-bot/internal/storage/repository"
)

var (
	// ErrPriceNotSet цена подписки не задана администратором.
	ErrPriceNotSet = errors.New("subscription price is not set")
	// ErrProvider платёжный провайдер недоступен или отказал.
	ErrProvider = errors.New("payment provider error")
	// ErrForeignPayload payload счёта выписан другому пользователю.
	ErrForeignPayload = errors.New("invoice payload belongs to another user")
	// ErrUnknownPayment по счёту нет записи в журнале платежей. В отличие от
	// повторного подтверждения это требует ручной сверки.
	ErrUnknownPayment = errors.New("no payment recorded for invoice")
)

const (
	invoiceTitle       = "Premium подписка"
	invoiceDescription = "Неограниченный доступ к AI-боту на 1 месяц."
	invoiceLabel       = "Premium подписка на 1 месяц"
	payloadPrefix      = "premium:"
)

// Store операции платёжного журнала.
type Store interface {
	GetPrice(ctx context.Context, name string) (int64, error)
	RecordPendingPayment(ctx context.Context, telegramID int64, p models.Payment) error
	ListPendingPayments(ctx context.Context, method string) ([]*models.Payment, error)
	ConfirmPayment(ctx context.Context, invoiceID string, days int, now time.Time) (*models.Activation, bool, error)
}

// CryptoProvider API CryptoCloud.
type CryptoProvider interface {
	CreateInvoice(ctx context.Context, amount int64, currency, orderID, description string) (*cryptocloud.Invoice, error)
	InvoiceInfo(ctx context.Context, uuid string) (*cryptocloud.InvoiceInfo, error)
}

// Notifier уведомление об активации подписки.
type Notifier interface {
	SubscriptionActivated(ctx context.Context, a models.Activation) error
}

// TelegramInvoice параметры sendInvoice.
type TelegramInvoice struct {
	ChatID         int64
	Title          string
	Description    string
	Payload        string
	ProviderToken  string
	Currency       string
	Label          string
	Amount         int64 // в копейках
	StartParameter string
}

// Service платёжный сервис.
type Service struct {
	store         Store
	crypto        CryptoProvider
	notifier      Notifier
	log           *slog.Logger
	providerToken string
	currency      string
	days          int
	now           func() time.Time
}

// New создаёт Service.
func New(store Store, crypto CryptoProvider, notifier Notifier, cfg config.Payments, log *slog.Logger) *Service {
	return &Service{
		store:         store,
		crypto:        crypto,
		notifier:      notifier,
		log:           log,
		providerToken: cfg.TelegramProviderToken,
		currency:      cfg.Currency,
		days:          cfg.SubscriptionDays,
		now:           time.Now,
	}
}

func (s *Service) price(ctx context.Context) (int64, error) {
	price, err := s.store.GetPrice(ctx, models.PriceMonth)
	if errors.Is(err, repository.ErrPriceNotFound) {
		return 0, ErrPriceNotSet
	}
	if err != nil {
		return 0, err
	}
	return price, nil
}

// CreateTelegramInvoice готовит счёт Telegram Payments и записывает намерение оплаты.
// Payload уникален для каждого счёта: premium:<telegram_id>:<uuid>.
func (s *Service) CreateTelegramInvoice(ctx context.Context, telegramID int64) (*TelegramInvoice, error) {
	const op = "payment.CreateTelegramInvoice"

	price, err := s.price(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	payload := payloadPrefix + strconv.FormatInt(telegramID, 10) + ":" + uuid.NewString()
	err = s.store.RecordPendingPayment(ctx, telegramID, models.Payment{
		Amount:    price,
		Currency:  s.currency,
		Method:    models.MethodTelegram,
		InvoiceID: payload,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &TelegramInvoice{
		ChatID:         telegramID,
		Title:          invoiceTitle,
		Description:    invoiceDescription,
		Payload:        payload,
		ProviderToken:  s.providerToken,
		Currency:       s.currency,
		Label:          invoiceLabel,
		Amount:         price * 100,
		StartParameter: "premium-subscription",
	}, nil
}

// CreateCryptoInvoice создаёт счёт CryptoCloud и возвращает ссылку на оплату.
// Ошибка провайдера не меняет состояние: запись в журнал делается только после
// успешного создания счёта.
func (s *Service) CreateCryptoInvoice(ctx context.Context, telegramID int64) (string, error) {
	const op = "payment.CreateCryptoInvoice"

	price, err := s.price(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	inv, err := s.crypto.CreateInvoice(ctx, price, s.currency, strconv.FormatInt(telegramID, 10), invoiceLabel)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrProvider, err)
	}

	err = s.store.RecordPendingPayment(ctx, telegramID, models.Payment{
		Amount:    price,
		Currency:  s.currency,
		Method:    models.MethodCryptoCloud,
		InvoiceID: inv.UUID,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return inv.Link, nil
}

// ConfirmTelegramPayment подтверждает оплату по successful_payment.
// Повторное подтверждение того же payload ничего не меняет и возвращает false.
func (s *Service) ConfirmTelegramPayment(ctx context.Context, telegramID int64, payload string) (bool, error) {
	const op = "payment.ConfirmTelegramPayment"

	owner := payloadPrefix + strconv.FormatInt(telegramID, 10) + ":"
	if !strings.HasPrefix(payload, owner) {
		return false, fmt.Errorf("%s: %w", op, ErrForeignPayload)
	}
	ok, err := s.confirm(ctx, payload)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return ok, nil
}

// ConfirmCryptoInvoice сверяет статус счёта с провайдером и подтверждает оплаченный счёт.
// Вызывается из опроса и по postback: самому postback не доверяем.
func (s *Service) ConfirmCryptoInvoice(ctx context.Context, invoiceID string) (bool, error) {
	const op = "payment.ConfirmCryptoInvoice"

	info, err := s.crypto.InvoiceInfo(ctx, invoiceID)
	if err != nil {
		return false, fmt.Errorf("%s: %w: %w", op, ErrProvider, err)
	}
	if !info.Paid() {
		return false, nil
	}
	ok, err := s.confirm(ctx, invoiceID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return ok, nil
}

func (s *Service) confirm(ctx context.Context, invoiceID string) (bool, error) {
	activation, ok, err := s.store.ConfirmPayment(ctx, invoiceID, s.days, s.now())
	if errors.Is(err, repository.ErrPaymentNotFound) {
		return false, fmt.Errorf("%w: %s", ErrUnknownPayment, invoiceID)
	}
	if err != nil {
		return false, err
	}
	if !ok {
		s.log.Debug("payment already confirmed", slog.String("invoice_id", invoiceID))
		return false, nil
	}

	metrics.PaymentsConfirmed.WithLabelValues(activation.Method).Inc()
	s.log.Info("subscription activated",
		slog.Int64("telegram_id", activation.TelegramID),
		slog.String("method", activation.Method),
		slog.Time("until", activation.SubscriptionUntil))

	if err := s.notifier.SubscriptionActivated(ctx, *activation); err != nil {
		s.log.Warn("failed to notify about activation", slog.Int64("telegram_id", activation.TelegramID), sl.Err(err))
	}
	return true, nil
}

// PollPending проверяет все неподтверждённые счета CryptoCloud и возвращает
// число подтверждённых. Ошибка по одному счёту не останавливает проверку остальных.
func (s *Service) PollPending(ctx context.Context) (int, error) {
	const op = "payment.PollPending"

	pending, err := s.store.ListPendingPayments(ctx, models.MethodCryptoCloud)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	confirmed := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			return confirmed, fmt.Errorf("%s: %w", op, ctx.Err())
		}
		ok, err := s.ConfirmCryptoInvoice(ctx, p.InvoiceID)
		if err != nil {
			s.log.Warn("failed to check invoice", slog.String("op", op), slog.String("invoice_id", p.InvoiceID), sl.Err(err))
			continue
		}
		if ok {
			confirmed++
		}
	}
	return confirmed, nil
}

// RunPoller опрашивает CryptoCloud каждые interval до отмены ctx.
func (s *Service) RunPoller(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.PollPending(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("cryptocloud poll failed", sl.Err(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
