package admission

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/counsel-bot/internal/models"
	"github.com/magabrotheeeer/counsel-bot/internal/services/subscription"
	"github.com/magabrotheeeer/counsel-bot/internal/storage/repository"
)

const limit = 5

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

// fakeStore повторяет семантику условного UPDATE хранилища в памяти.
type fakeStore struct {
	mu    sync.Mutex
	users map[int64]*models.User
	calls map[string]int
}

func newFakeStore(users ...models.User) *fakeStore {
	s := &fakeStore{users: map[int64]*models.User{}, calls: map[string]int{}}
	for i := range users {
		u := users[i]
		s.users[u.TelegramID] = &u
	}
	return s
}

func (s *fakeStore) GetUserByTelegramID(_ context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["get"]++
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *fakeStore) CreateUser(_ context.Context, id int64, username, fullName string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["create"]++
	u := &models.User{TelegramID: id, Username: username, FullName: fullName, Status: models.StatusDemo}
	s.users[id] = u
	cp := *u
	return &cp, nil
}

func (s *fakeStore) ConsumeMessageQuota(_ context.Context, id int64, limit int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["consume"]++
	u := s.users[id]
	if u.Status != models.StatusPremium && u.DailyMessageCount >= limit {
		return 0, false, nil
	}
	u.DailyMessageCount++
	return u.DailyMessageCount, true, nil
}

func (s *fakeStore) ExpireSubscription(_ context.Context, id int64, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["expire"]++
	u := s.users[id]
	if u.Status == models.StatusPremium && u.SubscriptionUntil != nil && u.SubscriptionUntil.Before(now) {
		u.Status = models.StatusExpired
		return true, nil
	}
	return false, nil
}

func (s *fakeStore) ResetDailyCounts(context.Context) (int64, error) { return 0, nil }

func (s *fakeStore) user(id int64) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.users[id]
}

func newController(store *fakeStore) *Controller {
	log := newNoopLogger()
	return New(store, subscription.NewLifecycle(store, log), limit, log)
}

func onboarded(id int64, status string, count int) models.User {
	return models.User{TelegramID: id, Status: status, DailyMessageCount: count, OnboardingCompleted: true}
}

func TestAdmit_FormOrCommandPassesThrough(t *testing.T) {
	store := newFakeStore(onboarded(1, models.StatusDemo, limit))
	c := newController(store)

	for _, req := range []Request{
		{TelegramID: 1, Text: "/buy_premium"},
		{TelegramID: 1, Text: "Маша", InForm: true},
	} {
		d := c.Admit(context.Background(), req)
		assert.Equal(t, Pass, d.Outcome)
		assert.Equal(t, RouteHandler, d.Route)
		assert.Equal(t, "form-or-command", d.Stage)
	}
	assert.Zero(t, store.calls["get"])
	assert.Equal(t, limit, store.user(1).DailyMessageCount)
}

func TestAdmit_NewUserBootstrap(t *testing.T) {
	store := newFakeStore()
	c := newController(store)

	d := c.Admit(context.Background(), Request{TelegramID: 42, Username: "newbie", Text: "hello"})

	assert.Equal(t, Pass, d.Outcome)
	assert.Equal(t, RouteOnboarding, d.Route)
	require.NotNil(t, d.User)
	assert.Equal(t, models.StatusDemo, d.User.Status)
	assert.Equal(t, 1, store.calls["create"])
	assert.Zero(t, store.calls["consume"])
	assert.Zero(t, store.user(42).DailyMessageCount)
}

func TestAdmit_NotOnboardedGetsReminder(t *testing.T) {
	store := newFakeStore(models.User{TelegramID: 3, Status: models.StatusDemo})
	c := newController(store)

	d := c.Admit(context.Background(), Request{TelegramID: 3, Text: "привет"})
	assert.Equal(t, Pass, d.Outcome)
	assert.Equal(t, RouteOnboardingReminder, d.Route)
	assert.Zero(t, store.calls["consume"])
}

func TestAdmit_BannedDenied(t *testing.T) {
	u := onboarded(4, models.StatusPremium, 0)
	u.IsBanned = true
	store := newFakeStore(u)
	c := newController(store)

	d := c.Admit(context.Background(), Request{TelegramID: 4, Text: "привет"})
	assert.Equal(t, Deny, d.Outcome)
	assert.Equal(t, ReasonBanned, d.Reason)
	assert.Zero(t, store.calls["consume"])
	assert.Zero(t, store.user(4).DailyMessageCount)
}

func TestAdmit_DemoAtLimitDeniedCountUnchanged(t *testing.T) {
	for _, count := range []int{limit, limit + 3} {
		store := newFakeStore(onboarded(5, models.StatusDemo, count))
		c := newController(store)

		d := c.Admit(context.Background(), Request{TelegramID: 5, Text: "ещё"})
		assert.Equal(t, Deny, d.Outcome)
		assert.Equal(t, ReasonQuota, d.Reason)
		assert.Equal(t, count, store.user(5).DailyMessageCount)
	}
}

func TestAdmit_DemoBelowLimitAllowedAndIncremented(t *testing.T) {
	store := newFakeStore(onboarded(6, models.StatusDemo, limit-1))
	c := newController(store)

	d := c.Admit(context.Background(), Request{TelegramID: 6, Text: "привет"})
	assert.Equal(t, Allow, d.Outcome)
	require.NotNil(t, d.User)
	assert.Equal(t, limit, d.User.DailyMessageCount)
	assert.Equal(t, limit, store.user(6).DailyMessageCount)
}

func TestAdmit_ActivePremiumNeverQuotaDenied(t *testing.T) {
	tomorrow := time.Now().Add(24 * time.Hour)
	for _, count := range []int{0, limit, 100} {
		u := onboarded(7, models.StatusPremium, count)
		u.SubscriptionUntil = &tomorrow
		store := newFakeStore(u)
		c := newController(store)

		d := c.Admit(context.Background(), Request{TelegramID: 7, Text: "привет"})
		assert.Equal(t, Allow, d.Outcome, "count=%d", count)
	}
}

func TestAdmit_LapsedPremiumExpiresThenLimited(t *testing.T) {
	yesterday := time.Now().Add(-24 * time.Hour)

	t.Run("over limit denied after expiry", func(t *testing.T) {
		u := onboarded(8, models.StatusPremium, limit+10)
		u.SubscriptionUntil = &yesterday
		store := newFakeStore(u)
		c := newController(store)

		d := c.Admit(context.Background(), Request{TelegramID: 8, Text: "привет"})
		assert.Equal(t, Deny, d.Outcome)
		assert.Equal(t, ReasonQuota, d.Reason)
		require.NotNil(t, d.User)
		assert.Equal(t, models.StatusExpired, d.User.Status)
		assert.Equal(t, models.StatusExpired, store.user(8).Status)
		assert.Equal(t, limit+10, store.user(8).DailyMessageCount)
	})

	t.Run("under limit allowed as expired", func(t *testing.T) {
		u := onboarded(9, models.StatusPremium, 0)
		u.SubscriptionUntil = &yesterday
		store := newFakeStore(u)
		c := newController(store)

		d := c.Admit(context.Background(), Request{TelegramID: 9, Text: "привет"})
		assert.Equal(t, Allow, d.Outcome)
		assert.Equal(t, models.StatusExpired, d.User.Status)
		assert.Equal(t, 1, store.user(9).DailyMessageCount)
	})
}

func TestAdmit_SequentialNeverExceedsLimit(t *testing.T) {
	store := newFakeStore(onboarded(10, models.StatusDemo, 0))
	c := newController(store)

	allowed := 0
	for range 3 * limit {
		if c.Admit(context.Background(), Request{TelegramID: 10, Text: "msg"}).Outcome == Allow {
			allowed++
		}
		assert.LessOrEqual(t, store.user(10).DailyMessageCount, limit)
	}
	assert.Equal(t, limit, allowed)
}

func TestAdmit_ConcurrentAtBoundary(t *testing.T) {
	store := newFakeStore(onboarded(11, models.StatusDemo, limit-1))
	c := newController(store)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Admit(context.Background(), Request{TelegramID: 11, Text: "msg"}).Outcome == Allow {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, allowed)
	assert.Equal(t, limit, store.user(11).DailyMessageCount)
}

type MockUserStore struct {
	mock.Mock
}

func (m *MockUserStore) GetUserByTelegramID(ctx context.Context, id int64) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserStore) CreateUser(ctx context.Context, id int64, username, fullName string) (*models.User, error) {
	args := m.Called(ctx, id, username, fullName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserStore) ConsumeMessageQuota(ctx context.Context, id int64, limit int) (int, bool, error) {
	args := m.Called(ctx, id, limit)
	return args.Int(0), args.Bool(1), args.Error(2)
}

type MockExpirer struct {
	mock.Mock
}

func (m *MockExpirer) Refresh(ctx context.Context, user *models.User) (bool, error) {
	args := m.Called(ctx, user)
	return args.Bool(0), args.Error(1)
}

func TestAdmit_StoreErrorsFailClosed(t *testing.T) {
	dbErr := errors.New("connection refused")
	u := onboarded(12, models.StatusDemo, 0)

	tests := []struct {
		name       string
		setupMocks func(*MockUserStore, *MockExpirer)
		wantStage  string
	}{
		{
			name: "load user",
			setupMocks: func(s *MockUserStore, _ *MockExpirer) {
				s.On("GetUserByTelegramID", mock.Anything, int64(12)).Return(nil, dbErr).Once()
			},
			wantStage: "load-user",
		},
		{
			name: "create user",
			setupMocks: func(s *MockUserStore, _ *MockExpirer) {
				s.On("GetUserByTelegramID", mock.Anything, int64(12)).Return(nil, repository.ErrUserNotFound).Once()
				s.On("CreateUser", mock.Anything, int64(12), "", "").Return(nil, dbErr).Once()
			},
			wantStage: "load-user",
		},
		{
			name: "expiry",
			setupMocks: func(s *MockUserStore, e *MockExpirer) {
				cp := u
				s.On("GetUserByTelegramID", mock.Anything, int64(12)).Return(&cp, nil).Once()
				e.On("Refresh", mock.Anything, mock.Anything).Return(false, dbErr).Once()
			},
			wantStage: "expiry",
		},
		{
			name: "quota",
			setupMocks: func(s *MockUserStore, e *MockExpirer) {
				cp := u
				s.On("GetUserByTelegramID", mock.Anything, int64(12)).Return(&cp, nil).Once()
				e.On("Refresh", mock.Anything, mock.Anything).Return(false, nil).Once()
				s.On("ConsumeMessageQuota", mock.Anything, int64(12), limit).Return(0, false, dbErr).Once()
			},
			wantStage: "quota",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(MockUserStore)
			exp := new(MockExpirer)
			tt.setupMocks(store, exp)
			c := New(store, exp, limit, newNoopLogger())

			d := c.Admit(context.Background(), Request{TelegramID: 12, Text: "привет"})
			assert.Equal(t, Deny, d.Outcome)
			assert.Equal(t, ReasonError, d.Reason)
			assert.Equal(t, tt.wantStage, d.Stage)
			store.AssertExpectations(t)
			exp.AssertExpectations(t)
		})
	}
}
