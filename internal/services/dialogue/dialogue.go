// Package dialogue ведёт обработку одного сообщения пользователя от проверки
// допуска до ответа модели.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/counsel-bot/internal/lib/sl"
	"github.com/magabrotheeeer/counsel-bot/internal/models"
	"github.com/magabrotheeeer/counsel-bot/internal/services/admission"
	"github.com/magabrotheeeer/counsel-bot/internal/services/memory"
	"github.com/magabrotheeeer/counsel-bot/internal/storage/repository"
)

// State конечное состояние обработки сообщения.
type State string

const (
	StateDenied  State = "denied"
	StatePassed  State = "passed"
	StateReplied State = "replied"
	StateFailed  State = "failed"
)

// Store операции хранилища, нужные диалогу.
type Store interface {
	SaveMessage(ctx context.Context, userID int64, role, content string) (int64, error)
	GetActivePrompt(ctx context.Context) (*models.Prompt, error)
	TouchActivity(ctx context.Context, telegramID int64, at time.Time) error
}

// Admitter контроллер допуска.
type Admitter interface {
	Admit(ctx context.Context, req admission.Request) admission.Decision
}

// Memory краткосрочная и долговременная память.
type Memory interface {
	Fetch(ctx context.Context, telegramID int64) memory.Memory
	Commit(ctx context.Context, telegramID int64, mem memory.Memory, reply string) memory.Memory
	Recent(turns []models.Turn) []models.Turn
}

// Completer языковая модель.
type Completer interface {
	Complete(ctx context.Context, purpose string, messages []models.Turn) (string, error)
}

// Result итог обработки. Reply пуст только для StatePassed.
type Result struct {
	State    State
	Reply    string
	Decision admission.Decision
	// Upsell к ответу нужно приложить кнопки оплаты.
	Upsell bool
}

// Orchestrator обрабатывает входящие сообщения.
type Orchestrator struct {
	admit         Admitter
	memory        Memory
	store         Store
	llm           Completer
	log           *slog.Logger
	adminUsername string
	limit         int
	now           func() time.Time
}

// New создаёт Orchestrator.
func New(admit Admitter, mem Memory, store Store, llm Completer, adminUsername string, limit int, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		admit:         admit,
		memory:        mem,
		store:         store,
		llm:           llm,
		log:           log,
		adminUsername: adminUsername,
		limit:         limit,
		now:           time.Now,
	}
}

// Handle проводит сообщение через допуск и, если оно допущено, получает ответ модели.
//
// Входящее сообщение сохраняется до обращения к модели, поэтому при сбое модели
// реплика пользователя остаётся в журнале, а ответ ассистента и окно памяти не пишутся.
func (o *Orchestrator) Handle(ctx context.Context, req admission.Request) Result {
	const op = "dialogue.Handle"
	log := o.log.With(slog.String("op", op), slog.Int64("telegram_id", req.TelegramID))

	d := o.admit.Admit(ctx, req)
	switch d.Outcome {
	case admission.Pass:
		return Result{State: StatePassed, Decision: d}
	case admission.Deny:
		return o.denied(d)
	}

	user := d.User
	if _, err := o.store.SaveMessage(ctx, user.ID, models.RoleUser, req.Text); err != nil {
		log.Error("failed to save user message", sl.Err(err))
		return Result{State: StateFailed, Reply: GenericErrorText, Decision: d}
	}

	mem := o.memory.Fetch(ctx, req.TelegramID)
	mem.Add(models.Turn{Role: models.RoleUser, Content: req.Text})

	reply, err := o.llm.Complete(ctx, "reply", o.buildPrompt(ctx, log, user, mem))
	if err != nil {
		log.Error("model call failed", sl.Err(err))
		return Result{State: StateFailed, Reply: ApologyText, Decision: d}
	}

	if _, err := o.store.SaveMessage(ctx, user.ID, models.RoleAssistant, reply); err != nil {
		log.Error("failed to save assistant message", sl.Err(err))
	}
	o.memory.Commit(ctx, req.TelegramID, mem, reply)
	if err := o.store.TouchActivity(ctx, req.TelegramID, o.now()); err != nil {
		log.Warn("failed to update last activity", sl.Err(err))
	}

	log.Info("reply generated", slog.Int("daily_count", user.DailyMessageCount))
	return Result{State: StateReplied, Reply: reply, Decision: d}
}

func (o *Orchestrator) denied(d admission.Decision) Result {
	res := Result{State: StateDenied, Decision: d}
	switch d.Reason {
	case admission.ReasonBanned:
		res.Reply = BannedText(o.adminUsername)
	case admission.ReasonQuota:
		res.Reply = UpsellText(d.User.Status, o.limit)
		res.Upsell = true
	default:
		res.Reply = GenericErrorText
	}
	return res
}

// buildPrompt собирает сообщения для модели: активный промпт с описанием
// пользователя, резюме, если оно есть, и окно последних реплик.
func (o *Orchestrator) buildPrompt(ctx context.Context, log *slog.Logger, user *models.User, mem memory.Memory) []models.Turn {
	instruction := DefaultPrompt
	prompt, err := o.store.GetActivePrompt(ctx)
	switch {
	case err == nil:
		instruction = prompt.Text
	case !errors.Is(err, repository.ErrPromptNotFound):
		log.Warn("failed to load active prompt, using default", sl.Err(err))
	}

	window := o.memory.Recent(mem.Window)
	messages := make([]models.Turn, 0, len(window)+2)
	messages = append(messages, models.Turn{
		Role:    models.RoleSystem,
		Content: fmt.Sprintf("%s\n%s", instruction, ProfileLine(user)),
	})
	if mem.Summary != "" {
		messages = append(messages, models.Turn{Role: models.RoleSystem, Content: "Summary: " + mem.Summary})
	}
	return append(messages, window...)
}
