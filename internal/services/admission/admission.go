// Package admission решает для каждого входящего сообщения, может ли оно
// дойти до языковой модели.
//
// Решение принимается упорядоченным конвейером именованных стадий. Каждая
// стадия либо продолжает конвейер, либо завершает его исходом Pass или Deny.
// Сообщение, прошедшее все стадии, допускается (Allow), а дневной счётчик к
// этому моменту уже увеличен.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/magabrotheeeer/counsel-bot/internal/lib/sl"
	"github.com/magabrotheeeer/counsel-bot/internal/metrics"
	"github.com/magabrotheeeer/counsel-bot/internal/models"
	"github.com/magabrotheeeer/counsel-bot/internal/storage/repository"
)

// Outcome итог проверки.
type Outcome int

const (
	// Allow сообщение передаётся в диалог.
	Allow Outcome = iota
	// Deny сообщение отклонено, пользователю отправляется причина.
	Deny
	// Pass сообщение обрабатывается в обход диалога и без влияния на лимит.
	Pass
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case Pass:
		return "pass"
	}
	return "unknown"
}

// Route куда направить сообщение с исходом Pass.
type Route string

const (
	RouteHandler            Route = "handler"
	RouteOnboarding         Route = "onboarding"
	RouteOnboardingReminder Route = "onboarding_reminder"
)

// Reason причина отказа.
type Reason string

const (
	ReasonBanned Reason = "banned"
	ReasonQuota  Reason = "quota"
	ReasonError  Reason = "error"
)

// Request входящее сообщение.
type Request struct {
	TelegramID int64
	Username   string
	FullName   string
	Text       string
	// InForm пользователь заполняет анкету, текст адресован ей.
	InForm bool
}

// Decision результат проверки.
type Decision struct {
	Outcome Outcome
	// Stage стадия, завершившая конвейер, либо "quota" для Allow.
	Stage  string
	Route  Route
	Reason Reason
	// User строка пользователя после проверки. Nil для Pass на первой стадии
	// и для отказа из-за ошибки хранилища.
	User *models.User
}

// UserStore операции хранилища пользователей.
type UserStore interface {
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	CreateUser(ctx context.Context, telegramID int64, username, fullName string) (*models.User, error)
	ConsumeMessageQuota(ctx context.Context, telegramID int64, limit int) (int, bool, error)
}

// Expirer ленивый перевод истёкшей подписки в expired.
type Expirer interface {
	Refresh(ctx context.Context, user *models.User) (bool, error)
}

type verdict int

const (
	next verdict = iota
	pass
	deny
)

// evaluation состояние одного прохода по конвейеру.
type evaluation struct {
	req    Request
	user   *models.User
	route  Route
	reason Reason
}

type stage struct {
	name string
	run  func(ctx context.Context, ev *evaluation) (verdict, error)
}

// Controller контроллер допуска.
type Controller struct {
	users  UserStore
	expiry Expirer
	limit  int
	log    *slog.Logger
	stages []stage
}

// New создаёт контроллер с дневным лимитом limit для demo и expired.
func New(users UserStore, expiry Expirer, limit int, log *slog.Logger) *Controller {
	c := &Controller{
		users:  users,
		expiry: expiry,
		limit:  limit,
		log:    log,
	}
	c.stages = []stage{
		{name: "form-or-command", run: c.formOrCommand},
		{name: "load-user", run: c.loadUser},
		{name: "ban", run: c.ban},
		{name: "expiry", run: c.refreshExpiry},
		{name: "quota", run: c.consumeQuota},
	}
	return c
}

// Admit проверяет сообщение. Ошибка любой стадии даёт отказ: непроверенное
// сообщение не доходит до модели.
func (c *Controller) Admit(ctx context.Context, req Request) Decision {
	const op = "admission.Admit"
	log := c.log.With(slog.String("op", op), slog.Int64("telegram_id", req.TelegramID))

	ev := &evaluation{req: req}
	for _, st := range c.stages {
		v, err := st.run(ctx, ev)
		if err != nil {
			log.Error("admission stage failed", slog.String("stage", st.name), sl.Err(err))
			return c.decide(Decision{Outcome: Deny, Stage: st.name, Reason: ReasonError})
		}
		switch v {
		case pass:
			return c.decide(Decision{Outcome: Pass, Stage: st.name, Route: ev.route, User: ev.user})
		case deny:
			log.Debug("message denied", slog.String("stage", st.name), slog.String("reason", string(ev.reason)))
			return c.decide(Decision{Outcome: Deny, Stage: st.name, Reason: ev.reason, User: ev.user})
		}
	}
	return c.decide(Decision{Outcome: Allow, Stage: c.stages[len(c.stages)-1].name, User: ev.user})
}

func (c *Controller) decide(d Decision) Decision {
	metrics.AdmissionDecisions.WithLabelValues(d.Outcome.String(), d.Stage).Inc()
	return d
}

func (c *Controller) formOrCommand(_ context.Context, ev *evaluation) (verdict, error) {
	if ev.req.InForm || strings.HasPrefix(ev.req.Text, "/") {
		ev.route = RouteHandler
		return pass, nil
	}
	return next, nil
}

func (c *Controller) loadUser(ctx context.Context, ev *evaluation) (verdict, error) {
	user, err := c.users.GetUserByTelegramID(ctx, ev.req.TelegramID)
	if errors.Is(err, repository.ErrUserNotFound) {
		user, err = c.users.CreateUser(ctx, ev.req.TelegramID, ev.req.Username, ev.req.FullName)
		if err != nil {
			return next, fmt.Errorf("create user: %w", err)
		}
		ev.user = user
		ev.route = RouteOnboarding
		return pass, nil
	}
	if err != nil {
		return next, fmt.Errorf("load user: %w", err)
	}
	ev.user = user
	if !user.OnboardingCompleted {
		ev.route = RouteOnboardingReminder
		return pass, nil
	}
	return next, nil
}

func (c *Controller) ban(_ context.Context, ev *evaluation) (verdict, error) {
	if ev.user.IsBanned {
		ev.reason = ReasonBanned
		return deny, nil
	}
	return next, nil
}

func (c *Controller) refreshExpiry(ctx context.Context, ev *evaluation) (verdict, error) {
	if _, err := c.expiry.Refresh(ctx, ev.user); err != nil {
		return next, err
	}
	return next, nil
}

// consumeQuota проверяет лимит и увеличивает счётчик одним условным UPDATE.
func (c *Controller) consumeQuota(ctx context.Context, ev *evaluation) (verdict, error) {
	count, ok, err := c.users.ConsumeMessageQuota(ctx, ev.req.TelegramID, c.limit)
	if err != nil {
		return next, fmt.Errorf("consume quota: %w", err)
	}
	if !ok {
		ev.reason = ReasonQuota
		return deny, nil
	}
	ev.user.DailyMessageCount = count
	return next, nil
}
