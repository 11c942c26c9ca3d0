// Package subscription переводит подписки в expired и сбрасывает дневные лимиты.
//
// Перевод premium -> expired выполняется лениво, при проверке допуска конкретного
// пользователя. Плановой проверки истечения нет, поэтому пользователь с истёкшей
// подпиской остаётся premium в базе до своего следующего сообщения.
package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/magabrotheeeer/counsel-bot/internal/lib/sl"
	"github.com/magabrotheeeer/counsel-bot/internal/metrics"
	"github.com/magabrotheeeer/counsel-bot/internal/models"
)

// Repository операции хранилища, нужные жизненному циклу подписки.
type Repository interface {
	ExpireSubscription(ctx context.Context, telegramID int64, now time.Time) (bool, error)
	ResetDailyCounts(ctx context.Context) (int64, error)
}

// Lifecycle управляет состоянием подписок.
type Lifecycle struct {
	repo Repository
	log  *slog.Logger
	now  func() time.Time

	mu        sync.Mutex
	scheduler *cron.Cron
}

// NewLifecycle создаёт Lifecycle.
func NewLifecycle(repo Repository, log *slog.Logger) *Lifecycle {
	return &Lifecycle{
		repo: repo,
		log:  log,
		now:  time.Now,
	}
}

// Refresh переводит пользователя в expired, если его подписка закончилась,
// и обновляет переданную структуру. Возвращает true, если статус изменился.
func (l *Lifecycle) Refresh(ctx context.Context, user *models.User) (bool, error) {
	const op = "subscription.Refresh"

	now := l.now()
	if !user.SubscriptionLapsed(now) {
		return false, nil
	}
	changed, err := l.repo.ExpireSubscription(ctx, user.TelegramID, now)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	// Подписка истекла в любом случае: если строку уже перевёл параллельный
	// запрос, changed будет false, но локальный статус всё равно expired.
	user.Status = models.StatusExpired
	if changed {
		l.log.Info("subscription expired",
			slog.String("op", op),
			slog.Int64("telegram_id", user.TelegramID),
			slog.Time("subscription_until", *user.SubscriptionUntil))
	}
	return changed, nil
}

// ResetDailyQuotas обнуляет счётчики сообщений у demo и expired пользователей.
func (l *Lifecycle) ResetDailyQuotas(ctx context.Context) (int64, error) {
	const op = "subscription.ResetDailyQuotas"

	n, err := l.repo.ResetDailyCounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	metrics.DailyResets.Add(float64(n))
	l.log.Info("daily message counters reset", slog.String("op", op), slog.Int64("users", n))
	return n, nil
}

// Start запускает ежедневный сброс по расписанию spec в часовом поясе loc.
func (l *Lifecycle) Start(ctx context.Context, spec string, loc *time.Location) error {
	const op = "subscription.Start"

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.scheduler != nil {
		return fmt.Errorf("%s: scheduler is already running", op)
	}

	c := cron.New(cron.WithLocation(loc))
	_, err := c.AddFunc(spec, func() {
		if _, err := l.ResetDailyQuotas(ctx); err != nil {
			l.log.Error("failed to reset daily quotas", sl.Err(err))
		}
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	c.Start()
	l.scheduler = c
	l.log.Info("daily quota reset scheduled", slog.String("cron", spec), slog.String("location", loc.String()))
	return nil
}

// Stop останавливает планировщик и ждёт завершения запущенного сброса.
func (l *Lifecycle) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.scheduler == nil {
		return
	}
	<-l.scheduler.Stop().Done()
	l.scheduler = nil
}
