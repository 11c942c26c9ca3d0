// Package bot получает обновления Telegram через long polling и раскладывает
// их по обработчикам: анкета, команды, оплата и диалог с моделью.
package bot

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/magabrotheeeer/counsel-bot/internal/config"
	"github.com/magabrotheeeer/counsel-bot/internal/lib/sl"
	"github.com/magabrotheeeer/counsel-bot/internal/metrics"
	"github.com/magabrotheeeer/counsel-bot/internal/models"
	"github.com/magabrotheeeer/counsel-bot/internal/services/admission"
	"github.com/magabrotheeeer/counsel-bot/internal/services/dialogue"
	"github.com/magabrotheeeer/counsel-bot/internal/services/onboarding"
	"github.com/magabrotheeeer/counsel-bot/internal/services/payment"
	"github.com/magabrotheeeer/counsel-bot/internal/telegram"
)

const (
	handleTimeout = 2 * time.Minute
	retryDelay    = 3 * time.Second
)

// API методы Bot API, которые использует бот.
type API interface {
	GetUpdates(ctx context.Context, offset int64) ([]telegram.Update, error)
	SendMessage(ctx context.Context, p telegram.SendMessageParams) error
	SendInvoice(ctx context.Context, p telegram.SendInvoiceParams) error
	AnswerPreCheckoutQuery(ctx context.Context, queryID string, ok bool, errorMessage string) error
	AnswerCallbackQuery(ctx context.Context, queryID, text string) error
}

// Dialogue обработка сообщения диалога.
type Dialogue interface {
	Handle(ctx context.Context, req admission.Request) dialogue.Result
}

// Onboarding анкета знакомства.
type Onboarding interface {
	Start(ctx context.Context, telegramID int64, username, fullName string) ([]onboarding.Reply, error)
	InForm(ctx context.Context, telegramID int64) bool
	HandleText(ctx context.Context, telegramID int64, text string) ([]onboarding.Reply, bool, error)
	HandleCallback(ctx context.Context, telegramID int64, data string) ([]onboarding.Reply, bool, error)
}

// Payments выставление счетов и подтверждение оплаты Telegram.
type Payments interface {
	CreateTelegramInvoice(ctx context.Context, telegramID int64) (*payment.TelegramInvoice, error)
	CreateCryptoInvoice(ctx context.Context, telegramID int64) (string, error)
	ConfirmTelegramPayment(ctx context.Context, telegramID int64, payload string) (bool, error)
}

// Users чтение профиля для /profile.
type Users interface {
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
}

// Deps сервисы, между которыми бот распределяет обновления.
type Deps struct {
	Dialogue   Dialogue
	Onboarding Onboarding
	Payments   Payments
	Users      Users
}

// Bot цикл получения и обработки обновлений.
type Bot struct {
	api        API
	dialogue   Dialogue
	onboarding Onboarding
	payments   Payments
	users      Users
	flood      *floodGuard
	sem        chan struct{}
	wg         sync.WaitGroup
	limit      int
	log        *slog.Logger
}

// New создаёт Bot. limit дневной лимит сообщений, показывается в /profile.
func New(api API, deps Deps, cfg config.Telegram, limit int, log *slog.Logger) *Bot {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Bot{
		api:        api,
		dialogue:   deps.Dialogue,
		onboarding: deps.Onboarding,
		payments:   deps.Payments,
		users:      deps.Users,
		flood:      newFloodGuard(cfg.FloodInterval),
		sem:        make(chan struct{}, workers),
		limit:      limit,
		log:        log,
	}
}

// Run получает обновления до отмены ctx. Каждое обновление обрабатывается
// в отдельной горутине, одновременно не больше cfg.Workers. После отмены
// Run дожидается завершения начатых обработчиков.
func (b *Bot) Run(ctx context.Context) error {
	const op = "bot.Run"
	log := b.log.With(slog.String("op", op))
	log.Info("bot started", slog.Int("workers", cap(b.sem)))

	go b.pruneLoop(ctx)

	var offset int64
	for ctx.Err() == nil {
		updates, err := b.api.GetUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Error("failed to get updates", sl.Err(err))
			sleep(ctx, retryDelay)
			continue
		}

		for _, u := range updates {
			offset = u.UpdateID + 1
			if !b.dispatch(ctx, u) {
				break
			}
		}
	}

	b.wg.Wait()
	log.Info("bot stopped")
	return nil
}

func (b *Bot) dispatch(ctx context.Context, u telegram.Update) bool {
	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() { <-b.sem }()

		// начатая обработка доводится до конца и при остановке
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handleTimeout)
		defer cancel()
		b.HandleUpdate(hctx, u)
	}()
	return true
}

// HandleUpdate обрабатывает одно обновление. Паника обработчика логируется
// и не останавливает бота.
func (b *Bot) HandleUpdate(ctx context.Context, u telegram.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("panic while handling update",
				slog.Int64("update_id", u.UpdateID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	switch {
	case u.Message != nil:
		metrics.UpdatesHandled.WithLabelValues("message").Inc()
		b.handleMessage(ctx, u.Message)
	case u.CallbackQuery != nil:
		metrics.UpdatesHandled.WithLabelValues("callback_query").Inc()
		b.handleCallback(ctx, u.CallbackQuery)
	case u.PreCheckoutQuery != nil:
		metrics.UpdatesHandled.WithLabelValues("pre_checkout_query").Inc()
		b.handlePreCheckout(ctx, u.PreCheckoutQuery)
	default:
		metrics.UpdatesHandled.WithLabelValues("other").Inc()
	}
}

func (b *Bot) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(idleAfter)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := b.flood.prune(); n > 0 {
				b.log.Debug("flood limiters pruned", slog.Int("count", n))
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
