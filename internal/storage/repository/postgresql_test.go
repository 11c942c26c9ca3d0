package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/counsel-bot/internal/models"
)

func TestStorage_Users(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()

	t.Run("create is idempotent", func(t *testing.T) {
		u1, err := storage.CreateUser(ctx, 100, "masha", "Maria")
		require.NoError(t, err)
		u2, err := storage.CreateUser(ctx, 100, "", "")
		require.NoError(t, err)

		assert.Equal(t, u1.ID, u2.ID)
		assert.Equal(t, models.StatusDemo, u2.Status)
		assert.Equal(t, "masha", u2.Username)
		assert.False(t, u2.OnboardingCompleted)
	})

	t.Run("missing user", func(t *testing.T) {
		_, err := storage.GetUserByTelegramID(ctx, 999)
		require.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("ban and onboarding", func(t *testing.T) {
		require.NoError(t, storage.SetBanned(ctx, 100, true))
		require.NoError(t, storage.CompleteOnboarding(ctx, 100, models.Profile{PreferredName: "Маша", Age: 25, Gender: "female"}))

		u, err := storage.GetUserByTelegramID(ctx, 100)
		require.NoError(t, err)
		assert.True(t, u.IsBanned)
		assert.True(t, u.OnboardingCompleted)
		assert.Equal(t, "Маша", u.PreferredName)
		assert.Equal(t, 25, u.Age)

		require.ErrorIs(t, storage.SetBanned(ctx, 999, true), ErrUserNotFound)
	})
}

func TestStorage_ConsumeMessageQuota(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()

	_, err := storage.CreateUser(ctx, 1, "demo", "")
	require.NoError(t, err)

	t.Run("sequential up to limit", func(t *testing.T) {
		for i := 1; i <= 5; i++ {
			count, ok, err := storage.ConsumeMessageQuota(ctx, 1, 5)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, i, count)
		}
		_, ok, err := storage.ConsumeMessageQuota(ctx, 1, 5)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("concurrent at boundary", func(t *testing.T) {
		setUserCount(t, storage, 1, models.StatusDemo, 4)

		var allowed atomic.Int32
		var wg sync.WaitGroup
		for range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := storage.ConsumeMessageQuota(ctx, 1, 5)
				assert.NoError(t, err)
				if ok {
					allowed.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), allowed.Load())
	})

	t.Run("premium is never limited", func(t *testing.T) {
		setUserCount(t, storage, 1, models.StatusPremium, 50)
		count, ok, err := storage.ConsumeMessageQuota(ctx, 1, 5)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 51, count)
	})
}

func TestStorage_ResetDailyCounts(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()

	for id, status := range map[int64]string{1: models.StatusDemo, 2: models.StatusExpired, 3: models.StatusPremium} {
		_, err := storage.CreateUser(ctx, id, "", "")
		require.NoError(t, err)
		setUserCount(t, storage, id, status, 5)
	}

	n, err := storage.ResetDailyCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	u, err := storage.GetUserByTelegramID(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, u.DailyMessageCount)

	u, err = storage.GetUserByTelegramID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, u.DailyMessageCount)
}

func TestStorage_ExpireSubscription(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := storage.CreateUser(ctx, 7, "", "")
	require.NoError(t, err)
	_, err = storage.DB.Exec(`UPDATE users SET status = 'premium', subscription_until = $1 WHERE telegram_id = 7`,
		now.Add(-time.Hour))
	require.NoError(t, err)

	changed, err := storage.ExpireSubscription(ctx, 7, now)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = storage.ExpireSubscription(ctx, 7, now)
	require.NoError(t, err)
	assert.False(t, changed)

	u, err := storage.GetUserByTelegramID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, u.Status)
}

func TestStorage_SummaryAndPrompts(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()

	u, err := storage.CreateUser(ctx, 5, "", "")
	require.NoError(t, err)

	_, ok, err := storage.GetSummary(ctx, 5)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, storage.UpsertSummary(ctx, 5, "first"))
	require.NoError(t, storage.UpsertSummary(ctx, 5, "second"))
	summary, ok, err := storage.GetSummary(ctx, 5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "second", summary)

	_, err = storage.SaveMessage(ctx, u.ID, models.RoleUser, "привет")
	require.NoError(t, err)
	n, err := storage.CountMessages(ctx, u.ID, models.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	p, err := storage.SetActivePrompt(ctx, "Новый промпт")
	require.NoError(t, err)
	active, err := storage.GetActivePrompt(ctx)
	require.NoError(t, err)
	assert.Equal(t, p.ID, active.ID)

	list, err := storage.ListPrompts(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].IsActive)
	assert.False(t, list[1].IsActive)
}

func TestStorage_RestorePrompt(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()

	first, err := storage.SetActivePrompt(ctx, "первый")
	require.NoError(t, err)
	_, err = storage.SetActivePrompt(ctx, "второй")
	require.NoError(t, err)

	restored, err := storage.RestorePrompt(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, restored.ID)
	assert.Equal(t, "первый", restored.Text)
	assert.True(t, restored.IsActive)

	active, err := storage.GetActivePrompt(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)

	list, err := storage.ListPrompts(ctx, 10, 0)
	require.NoError(t, err)
	activeCount := 0
	for _, p := range list {
		if p.IsActive {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount)

	_, err = storage.RestorePrompt(ctx, 999999)
	require.ErrorIs(t, err, ErrPromptNotFound)
	active, err = storage.GetActivePrompt(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID, "unknown id leaves the active prompt untouched")
}

func TestStorage_Stats(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()

	empty, err := storage.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Stats{}, *empty)

	u1, err := storage.CreateUser(ctx, 1, "", "")
	require.NoError(t, err)
	_, err = storage.CreateUser(ctx, 2, "", "")
	require.NoError(t, err)
	_, err = storage.CreateUser(ctx, 3, "", "")
	require.NoError(t, err)
	setUserCount(t, storage, 2, models.StatusPremium, 0)
	setUserCount(t, storage, 3, models.StatusExpired, 5)
	require.NoError(t, storage.SetBanned(ctx, 3, true))
	require.NoError(t, storage.CompleteOnboarding(ctx, 1, models.Profile{PreferredName: "Аня", Age: 30, Gender: "female"}))

	_, err = storage.SaveMessage(ctx, u1.ID, models.RoleUser, "привет")
	require.NoError(t, err)
	_, err = storage.SaveMessage(ctx, u1.ID, models.RoleAssistant, "здравствуйте")
	require.NoError(t, err)
	_, err = storage.SaveMessage(ctx, u1.ID, models.RoleUser, "как дела")
	require.NoError(t, err)

	st, err := storage.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.UserStats{Total: 3, Demo: 1, Premium: 1, Expired: 1, Banned: 1, Onboarded: 1}, st.Users)
	assert.Equal(t, models.MessageStats{Total: 3, User: 2, Assistant: 1, Today: 3}, st.Messages)
}

func TestStorage_ConfirmPayment(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	_, err := storage.CreateUser(ctx, 42, "", "")
	require.NoError(t, err)

	_, err = storage.GetPrice(ctx, models.PriceMonth)
	require.ErrorIs(t, err, ErrPriceNotFound)
	require.NoError(t, storage.SetPrice(ctx, models.PriceMonth, 499))
	price, err := storage.GetPrice(ctx, models.PriceMonth)
	require.NoError(t, err)
	assert.Equal(t, int64(499), price)

	payment := models.Payment{Amount: 499, Currency: "RUB", Method: models.MethodCryptoCloud, InvoiceID: "INV-1"}
	require.NoError(t, storage.RecordPendingPayment(ctx, 42, payment))
	require.NoError(t, storage.RecordPendingPayment(ctx, 42, payment))
	require.ErrorIs(t, storage.RecordPendingPayment(ctx, 404, models.Payment{InvoiceID: "INV-2", Method: models.MethodCryptoCloud}), ErrUserNotFound)

	pending, err := storage.ListPendingPayments(ctx, models.MethodCryptoCloud)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	activation, ok, err := storage.ConfirmPayment(ctx, "INV-1", 30, now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(42), activation.TelegramID)
	assert.True(t, activation.SubscriptionUntil.Equal(now.AddDate(0, 0, 30)))

	_, ok, err = storage.ConfirmPayment(ctx, "INV-1", 30, now)
	require.NoError(t, err)
	assert.False(t, ok, "second confirmation must not extend")

	_, ok, err = storage.ConfirmPayment(ctx, "INV-404", 30, now)
	require.ErrorIs(t, err, ErrPaymentNotFound)
	assert.False(t, ok)

	u, err := storage.GetUserByTelegramID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPremium, u.Status)
	require.NotNil(t, u.SubscriptionUntil)
	assert.True(t, u.SubscriptionUntil.Equal(now.AddDate(0, 0, 30)))

	pending, err = storage.ListPendingPayments(ctx, models.MethodCryptoCloud)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
