package dialogue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/counsel-bot/internal/cache"
	"github.com/magabrotheeeer/counsel-bot/internal/config"
	"github.com/magabrotheeeer/counsel-bot/internal/llm"
	"github.com/magabrotheeeer/counsel-bot/internal/models"
	"github.com/magabrotheeeer/counsel-bot/internal/services/admission"
	"github.com/magabrotheeeer/counsel-bot/internal/services/memory"
	"github.com/magabrotheeeer/counsel-bot/internal/services/subscription"
	"github.com/magabrotheeeer/counsel-bot/internal/storage/repository"
)

const limit = 5

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

// memStore хранилище в памяти с той же семантикой, что и PostgreSQL.
type memStore struct {
	mu        sync.Mutex
	users     map[int64]*models.User
	messages  []models.Message
	summaries map[int64]string
	prompt    *models.Prompt
	saveErr   error
}

func newMemStore(users ...models.User) *memStore {
	s := &memStore{users: map[int64]*models.User{}, summaries: map[int64]string{}}
	for i := range users {
		u := users[i]
		if u.ID == 0 {
			u.ID = u.TelegramID * 10
		}
		s.users[u.TelegramID] = &u
	}
	return s
}

func (s *memStore) GetUserByTelegramID(_ context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) CreateUser(_ context.Context, id int64, username, fullName string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &models.User{ID: id * 10, TelegramID: id, Username: username, FullName: fullName, Status: models.StatusDemo}
	s.users[id] = u
	cp := *u
	return &cp, nil
}

func (s *memStore) ConsumeMessageQuota(_ context.Context, id int64, limit int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[id]
	if u.Status != models.StatusPremium && u.DailyMessageCount >= limit {
		return 0, false, nil
	}
	u.DailyMessageCount++
	return u.DailyMessageCount, true, nil
}

func (s *memStore) ExpireSubscription(_ context.Context, id int64, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[id]
	if u.SubscriptionLapsed(now) {
		u.Status = models.StatusExpired
		return true, nil
	}
	return false, nil
}

func (s *memStore) ResetDailyCounts(context.Context) (int64, error) { return 0, nil }

func (s *memStore) SaveMessage(_ context.Context, userID int64, role, content string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return 0, s.saveErr
	}
	s.messages = append(s.messages, models.Message{ID: int64(len(s.messages) + 1), UserID: userID, Role: role, Content: content})
	return int64(len(s.messages)), nil
}

func (s *memStore) GetActivePrompt(context.Context) (*models.Prompt, error) {
	if s.prompt == nil {
		return nil, repository.ErrPromptNotFound
	}
	return s.prompt, nil
}

func (s *memStore) TouchActivity(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id].LastActivity = &at
	return nil
}

func (s *memStore) GetSummary(_ context.Context, id int64) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.summaries[id]
	return v, ok, nil
}

func (s *memStore) UpsertSummary(_ context.Context, id int64, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[id] = summary
	return nil
}

func (s *memStore) user(id int64) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.users[id]
}

func (s *memStore) messagesByRole(role string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.messages {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

type MockCompleter struct {
	mock.Mock
}

func (m *MockCompleter) Complete(ctx context.Context, purpose string, messages []models.Turn) (string, error) {
	args := m.Called(ctx, purpose, messages)
	return args.String(0), args.Error(1)
}

type fixture struct {
	orch  *Orchestrator
	store *memStore
	llm   *MockCompleter
	mem   *memory.Manager
}

func newFixture(t *testing.T, users ...models.User) *fixture {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	c, err := cache.InitServer(context.Background(), config.RedisConnection{AddressRedis: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	log := newNoopLogger()
	store := newMemStore(users...)
	completer := new(MockCompleter)
	mem := memory.New(c, store, completer, config.Memory{Window: 10, TTL: time.Hour}, log)
	adm := admission.New(store, subscription.NewLifecycle(store, log), limit, log)
	return &fixture{
		orch:  New(adm, mem, store, completer, "@support", limit, log),
		store: store,
		llm:   completer,
		mem:   mem,
	}
}

func onboarded(id int64, status string, count int) models.User {
	return models.User{TelegramID: id, Status: status, DailyMessageCount: count, OnboardingCompleted: true,
		PreferredName: "Маша", Age: 25, Gender: "female"}
}

func TestHandle_NewUserEntersOnboarding(t *testing.T) {
	f := newFixture(t)

	res := f.orch.Handle(context.Background(), admission.Request{TelegramID: 42, Text: "hello"})

	assert.Equal(t, StatePassed, res.State)
	assert.Equal(t, admission.RouteOnboarding, res.Decision.Route)
	assert.Equal(t, models.StatusDemo, f.store.user(42).Status)
	assert.Empty(t, f.store.messages)
	f.llm.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_DemoAtFourAllowed(t *testing.T) {
	f := newFixture(t, onboarded(1, models.StatusDemo, 4))
	f.llm.On("Complete", mock.Anything, "reply", mock.MatchedBy(func(msgs []models.Turn) bool {
		return len(msgs) == 2 &&
			msgs[0].Role == models.RoleSystem &&
			msgs[0].Content == DefaultPrompt+"\n"+"Информация о пользователе: Имя - Маша, Возраст - 25, Пол - женский." &&
			msgs[1].Content == "мне грустно"
	})).Return("Я рядом.", nil).Once()

	res := f.orch.Handle(context.Background(), admission.Request{TelegramID: 1, Text: "мне грустно"})

	assert.Equal(t, StateReplied, res.State)
	assert.Equal(t, "Я рядом.", res.Reply)
	u := f.store.user(1)
	assert.Equal(t, 5, u.DailyMessageCount)
	assert.NotNil(t, u.LastActivity)
	assert.Len(t, f.store.messagesByRole(models.RoleUser), 1)
	assert.Len(t, f.store.messagesByRole(models.RoleAssistant), 1)

	mem := f.mem.Fetch(context.Background(), 1)
	require.Len(t, mem.Window, 2)
	assert.Equal(t, models.RoleAssistant, mem.Window[1].Role)
	f.llm.AssertExpectations(t)
}

func TestHandle_DemoAtLimitDenied(t *testing.T) {
	f := newFixture(t, onboarded(2, models.StatusDemo, 5))

	res := f.orch.Handle(context.Background(), admission.Request{TelegramID: 2, Text: "ещё"})

	assert.Equal(t, StateDenied, res.State)
	assert.True(t, res.Upsell)
	assert.Equal(t, UpsellText(models.StatusDemo, limit), res.Reply)
	assert.Equal(t, 5, f.store.user(2).DailyMessageCount)
	assert.Empty(t, f.store.messages)
}

func TestHandle_LapsedPremiumGetsExpiredUpsell(t *testing.T) {
	yesterday := time.Now().Add(-24 * time.Hour)
	u := onboarded(3, models.StatusPremium, 9)
	u.SubscriptionUntil = &yesterday
	f := newFixture(t, u)

	res := f.orch.Handle(context.Background(), admission.Request{TelegramID: 3, Text: "привет"})

	assert.Equal(t, StateDenied, res.State)
	assert.Equal(t, UpsellText(models.StatusExpired, limit), res.Reply)
	assert.Equal(t, models.StatusExpired, f.store.user(3).Status)
}

func TestHandle_BannedDenied(t *testing.T) {
	u := onboarded(4, models.StatusDemo, 0)
	u.IsBanned = true
	f := newFixture(t, u)

	res := f.orch.Handle(context.Background(), admission.Request{TelegramID: 4, Text: "привет"})
	assert.Equal(t, StateDenied, res.State)
	assert.False(t, res.Upsell)
	assert.Equal(t, "Вы заблокированы. Свяжитесь с @support для разблокировки.", res.Reply)
}

func TestHandle_ModelTimeout(t *testing.T) {
	f := newFixture(t, onboarded(5, models.StatusDemo, 0))
	f.llm.On("Complete", mock.Anything, "reply", mock.Anything).
		Return("", llm.ErrTimeout).Once()

	res := f.orch.Handle(context.Background(), admission.Request{TelegramID: 5, Text: "привет"})

	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, ApologyText, res.Reply)
	assert.Len(t, f.store.messagesByRole(models.RoleUser), 1)
	assert.Empty(t, f.store.messagesByRole(models.RoleAssistant))
	assert.Empty(t, f.mem.Fetch(context.Background(), 5).Window)
	assert.Nil(t, f.store.user(5).LastActivity)
}

func TestHandle_InboundSaveFailureSkipsModel(t *testing.T) {
	f := newFixture(t, onboarded(6, models.StatusDemo, 0))
	f.store.saveErr = errors.New("db down")

	res := f.orch.Handle(context.Background(), admission.Request{TelegramID: 6, Text: "привет"})

	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, GenericErrorText, res.Reply)
	f.llm.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_PromptAndSummaryInContext(t *testing.T) {
	f := newFixture(t, onboarded(7, models.StatusPremium, 0))
	until := time.Now().Add(time.Hour)
	f.store.users[7].SubscriptionUntil = &until
	f.store.prompt = &models.Prompt{ID: 2, Text: "Ты психолог.", IsActive: true}
	f.store.summaries[7] = "любит горы"

	f.llm.On("Complete", mock.Anything, "reply", mock.MatchedBy(func(msgs []models.Turn) bool {
		return len(msgs) == 3 &&
			strings.HasPrefix(msgs[0].Content, "Ты психолог.\n") &&
			msgs[1].Content == "Summary: любит горы"
	})).Return("ok", nil).Once()

	res := f.orch.Handle(context.Background(), admission.Request{TelegramID: 7, Text: "привет"})
	assert.Equal(t, StateReplied, res.State)
	f.llm.AssertExpectations(t)
}

func TestHandle_PromptWindowBoundedWhenFull(t *testing.T) {
	f := newFixture(t, onboarded(9, models.StatusDemo, 0))
	ctx := context.Background()
	seed := memory.Memory{}
	for i := 0; i < 9; i++ {
		seed.Window = append(seed.Window, models.Turn{Role: models.RoleUser, Content: fmt.Sprintf("turn %d", i)})
	}
	require.Len(t, f.mem.Commit(ctx, 9, seed, "turn 9").Window, 10)

	f.llm.On("Complete", mock.Anything, "reply", mock.MatchedBy(func(msgs []models.Turn) bool {
		window := msgs[1:]
		return len(window) == 10 &&
			window[0].Content == "turn 1" &&
			window[9].Content == "новое"
	})).Return("ok", nil).Once()

	res := f.orch.Handle(ctx, admission.Request{TelegramID: 9, Text: "новое"})
	assert.Equal(t, StateReplied, res.State)
	f.llm.AssertExpectations(t)
}

func TestHandle_CommandPassesThrough(t *testing.T) {
	f := newFixture(t, onboarded(8, models.StatusDemo, 5))

	res := f.orch.Handle(context.Background(), admission.Request{TelegramID: 8, Text: "/profile"})
	assert.Equal(t, StatePassed, res.State)
	assert.Equal(t, admission.RouteHandler, res.Decision.Route)
}

func TestProfileLine_Defaults(t *testing.T) {
	assert.Equal(t, "Информация о пользователе: Имя - Не указано, Возраст - Не указан, Пол - Не указан.",
		ProfileLine(&models.User{}))
}
