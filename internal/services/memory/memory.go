// Package memory собирает контекст диалога из краткосрочного окна в Redis
// и долговременного резюме в PostgreSQL и обновляет его после каждого обмена.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/magabrotheeeer/counsel-bot/internal/config"
	"github.com/magabrotheeeer/counsel-bot/internal/lib/sl"
	"github.com/magabrotheeeer/counsel-bot/internal/models"
)

// SummaryInstruction инструкция модели для сжатия окна в резюме.
const SummaryInstruction = "Сделай краткое резюме интересов и целей пользователя на русском языке."

// Cache хранилище окна. Записи принадлежат только Manager.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
}

// SummaryStore долговременное хранилище резюме.
type SummaryStore interface {
	GetSummary(ctx context.Context, telegramID int64) (string, bool, error)
	UpsertSummary(ctx context.Context, telegramID int64, summary string) error
}

// Completer языковая модель, которая пишет резюме.
type Completer interface {
	Complete(ctx context.Context, purpose string, messages []models.Turn) (string, error)
}

// Memory контекст пользователя: окно последних реплик и резюме.
// PendingTurns число реплик окна, которые ещё не попали ни в одно резюме.
type Memory struct {
	Window       []models.Turn
	Summary      string
	PendingTurns int
}

// Add добавляет реплику в окно и учитывает её как ещё не сжатую.
func (m *Memory) Add(turn models.Turn) {
	m.Window = append(m.Window, turn)
	m.PendingTurns++
}

// payload формат значения в Redis.
type payload struct {
	Turns        []models.Turn `json:"turns"`
	PendingTurns int           `json:"pending_turns"`
}

// Manager управляет окном и компактизацией резюме.
type Manager struct {
	cache        Cache
	store        SummaryStore
	llm          Completer
	log          *slog.Logger
	window       int
	ttl          time.Duration
	summaryEvery int
}

// New создаёт Manager. SummaryEvery считается в репликах и не может быть
// больше Window, иначе реплики покидали бы окно до сжатия.
func New(cache Cache, store SummaryStore, llm Completer, cfg config.Memory, log *slog.Logger) *Manager {
	every := cfg.SummaryEvery
	if every <= 0 || every > cfg.Window {
		every = cfg.Window
	}
	return &Manager{
		cache:        cache,
		store:        store,
		llm:          llm,
		log:          log,
		window:       cfg.Window,
		ttl:          cfg.TTL,
		summaryEvery: every,
	}
}

// Key ключ окна пользователя в Redis.
func Key(telegramID int64) string {
	return "memory:" + strconv.FormatInt(telegramID, 10)
}

// Fetch возвращает окно и резюме. Ошибки хранилищ не возвращаются:
// недоступный или повреждённый кэш даёт пустое окно, недоступная база даёт пустое резюме.
func (m *Manager) Fetch(ctx context.Context, telegramID int64) Memory {
	const op = "memory.Fetch"
	log := m.log.With(slog.String("op", op), slog.Int64("telegram_id", telegramID))

	var mem Memory
	var p payload
	found, err := m.cache.Get(ctx, Key(telegramID), &p)
	switch {
	case err != nil:
		log.Warn("short-term memory unavailable, using empty window", sl.Err(err))
	case found:
		mem.Window = m.truncate(p.Turns)
		mem.PendingTurns = p.PendingTurns
	}

	summary, ok, err := m.store.GetSummary(ctx, telegramID)
	if err != nil {
		log.Warn("failed to load summary", sl.Err(err))
	} else if ok {
		mem.Summary = summary
	}
	return mem
}

// Commit добавляет ответ ассистента в окно, оставляет последние Window реплик
// и сохраняет окно с обновлённым TTL. Когда несжатых реплик набирается
// SummaryEvery, окно целиком вместе с прежним резюме сжимается моделью до
// усечения, так что вытесняемые реплики уже учтены в резюме. Ошибка сжатия не
// прерывает обмен: старое резюме остаётся, счётчик не сбрасывается, и попытка
// повторится на следующем обмене.
func (m *Manager) Commit(ctx context.Context, telegramID int64, mem Memory, reply string) Memory {
	const op = "memory.Commit"
	log := m.log.With(slog.String("op", op), slog.Int64("telegram_id", telegramID))

	next := Memory{
		Window:       make([]models.Turn, 0, len(mem.Window)+1),
		Summary:      mem.Summary,
		PendingTurns: mem.PendingTurns,
	}
	next.Window = append(next.Window, mem.Window...)
	next.Add(models.Turn{Role: models.RoleAssistant, Content: reply})

	if next.PendingTurns >= m.summaryEvery {
		summary, err := m.compact(ctx, telegramID, next)
		if err != nil {
			log.Warn("summary compaction failed, keeping previous summary", sl.Err(err))
		} else {
			next.Summary = summary
			next.PendingTurns = 0
			log.Debug("summary updated")
		}
	}
	next.Window = m.truncate(next.Window)

	p := payload{Turns: next.Window, PendingTurns: next.PendingTurns}
	if err := m.cache.Set(ctx, Key(telegramID), p, m.ttl); err != nil {
		log.Warn("failed to store short-term memory", sl.Err(err))
	}
	return next
}

// Recent последние Window реплик, которые уходят в запрос к модели.
func (m *Manager) Recent(turns []models.Turn) []models.Turn {
	return m.truncate(turns)
}

func (m *Manager) compact(ctx context.Context, telegramID int64, mem Memory) (string, error) {
	messages := make([]models.Turn, 0, len(mem.Window)+2)
	messages = append(messages, models.Turn{Role: models.RoleSystem, Content: SummaryInstruction})
	if mem.Summary != "" {
		messages = append(messages, models.Turn{Role: models.RoleSystem, Content: "Summary: " + mem.Summary})
	}
	messages = append(messages, mem.Window...)

	summary, err := m.llm.Complete(ctx, "summary", messages)
	if err != nil {
		return "", fmt.Errorf("complete: %w", err)
	}
	if err := m.store.UpsertSummary(ctx, telegramID, summary); err != nil {
		return "", fmt.Errorf("upsert: %w", err)
	}
	return summary, nil
}

// truncate оставляет последние window реплик, вытесняя самые старые.
func (m *Manager) truncate(turns []models.Turn) []models.Turn {
	if len(turns) <= m.window {
		return turns
	}
	return turns[len(turns)-m.window:]
}
