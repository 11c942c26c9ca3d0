package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/counsel-bot/internal/models"
)

// Старые строки могли сохраниться с NULL в статусе и счётчиках, поэтому
// значения нормализуются прямо в выборке.
const userColumns = `id, telegram_id, COALESCE(username, ''), COALESCE(full_name, ''),
	COALESCE(preferred_name, ''), COALESCE(age, 0), COALESCE(gender, ''),
	COALESCE(status, 'demo'), subscription_until, COALESCE(daily_message_count, 0),
	COALESCE(is_banned, FALSE), COALESCE(onboarding_completed, FALSE),
	created_at, last_activity`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	u := &models.User{}
	var subscriptionUntil, lastActivity sql.NullTime
	if err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.FullName,
		&u.PreferredName, &u.Age, &u.Gender,
		&u.Status, &subscriptionUntil, &u.DailyMessageCount,
		&u.IsBanned, &u.OnboardingCompleted,
		&u.CreatedAt, &lastActivity); err != nil {
		return nil, err
	}
	if subscriptionUntil.Valid {
		u.SubscriptionUntil = &subscriptionUntil.Time
	}
	if lastActivity.Valid {
		u.LastActivity = &lastActivity.Time
	}
	return u, nil
}

// GetUserByTelegramID возвращает пользователя по идентификатору Telegram.
func (s *Storage) GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	const op = "storage.GetUserByTelegramID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_id = $1`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, telegramID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// CreateUser регистрирует нового пользователя в статусе demo.
// Повторная доставка того же обновления не создаёт дубль: строка только обновляет профиль Telegram.
func (s *Storage) CreateUser(ctx context.Context, telegramID int64, username, fullName string) (*models.User, error) {
	const op = "storage.CreateUser"

	query := `INSERT INTO users (telegram_id, username, full_name, status, daily_message_count, created_at, last_activity)
			  VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), 'demo', 0, NOW(), NOW())
			  ON CONFLICT (telegram_id) DO UPDATE
			  SET username = COALESCE(EXCLUDED.username, users.username),
			      full_name = COALESCE(EXCLUDED.full_name, users.full_name)
			  RETURNING ` + userColumns
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, telegramID, username, fullName))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// ExpireSubscription переводит premium в expired, если подписка закончилась к моменту now.
// Возвращает true, если переход произошёл.
func (s *Storage) ExpireSubscription(ctx context.Context, telegramID int64, now time.Time) (bool, error) {
	const op = "storage.ExpireSubscription"

	query := `UPDATE users
			  SET status = 'expired'
			  WHERE telegram_id = $1
			    AND status = 'premium'
			    AND subscription_until IS NOT NULL
			    AND subscription_until < $2`
	res, err := s.DB.ExecContext(ctx, query, telegramID, now)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n == 1, nil
}

// ConsumeMessageQuota атомарно проверяет дневной лимит и увеличивает счётчик.
// Проверка и инкремент выполняются одним условным UPDATE, поэтому два
// параллельных сообщения на границе лимита не пройдут оба.
// Возвращает новое значение счётчика и false, если лимит исчерпан.
func (s *Storage) ConsumeMessageQuota(ctx context.Context, telegramID int64, limit int) (int, bool, error) {
	const op = "storage.ConsumeMessageQuota"

	query := `UPDATE users
			  SET daily_message_count = COALESCE(daily_message_count, 0) + 1
			  WHERE telegram_id = $1
			    AND (status = 'premium' OR COALESCE(daily_message_count, 0) < $2)
			  RETURNING daily_message_count`
	var count int
	err := s.DB.QueryRowContext(ctx, query, telegramID, limit).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("%s: %w", op, err)
	}
	return count, true, nil
}

// TouchActivity обновляет время последней активности.
func (s *Storage) TouchActivity(ctx context.Context, telegramID int64, at time.Time) error {
	const op = "storage.TouchActivity"

	_, err := s.DB.ExecContext(ctx, `UPDATE users SET last_activity = $1 WHERE telegram_id = $2`, at, telegramID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ResetDailyCounts обнуляет счётчики сообщений у пользователей с лимитом.
// Счётчик premium-пользователей не трогается.
func (s *Storage) ResetDailyCounts(ctx context.Context) (int64, error) {
	const op = "storage.ResetDailyCounts"

	res, err := s.DB.ExecContext(ctx, `UPDATE users
			  SET daily_message_count = 0
			  WHERE COALESCE(status, 'demo') IN ('demo', 'expired')`)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// SetBanned блокирует или разблокирует пользователя.
func (s *Storage) SetBanned(ctx context.Context, telegramID int64, banned bool) error {
	const op = "storage.SetBanned"

	res, err := s.DB.ExecContext(ctx, `UPDATE users SET is_banned = $1 WHERE telegram_id = $2`, banned, telegramID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	return nil
}

// CompleteOnboarding сохраняет анкету и отмечает онбординг пройденным.
func (s *Storage) CompleteOnboarding(ctx context.Context, telegramID int64, p models.Profile) error {
	const op = "storage.CompleteOnboarding"

	query := `UPDATE users
			  SET preferred_name = $1, age = $2, gender = $3, onboarding_completed = TRUE
			  WHERE telegram_id = $4`
	res, err := s.DB.ExecContext(ctx, query, p.PreferredName, p.Age, p.Gender, telegramID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	return nil
}

// Stats считает пользователей по статусам и объём журнала сообщений.
// Сообщения за сегодня считаются от полуночи по времени сервера БД.
func (s *Storage) Stats(ctx context.Context) (*models.Stats, error) {
	const op = "storage.Stats"

	var st models.Stats
	err := s.DB.QueryRowContext(ctx, `SELECT
			  COUNT(*),
			  COUNT(*) FILTER (WHERE COALESCE(status, 'demo') = $1),
			  COUNT(*) FILTER (WHERE status = $2),
			  COUNT(*) FILTER (WHERE status = $3),
			  COUNT(*) FILTER (WHERE is_banned),
			  COUNT(*) FILTER (WHERE onboarding_completed)
			  FROM users`,
		models.StatusDemo, models.StatusPremium, models.StatusExpired).
		Scan(&st.Users.Total, &st.Users.Demo, &st.Users.Premium, &st.Users.Expired,
			&st.Users.Banned, &st.Users.Onboarded)
	if err != nil {
		return nil, fmt.Errorf("%s: users: %w", op, err)
	}

	err = s.DB.QueryRowContext(ctx, `SELECT
			  COUNT(*),
			  COUNT(*) FILTER (WHERE role = $1),
			  COUNT(*) FILTER (WHERE role = $2),
			  COUNT(*) FILTER (WHERE created_at >= date_trunc('day', NOW()))
			  FROM messages`,
		models.RoleUser, models.RoleAssistant).
		Scan(&st.Messages.Total, &st.Messages.User, &st.Messages.Assistant, &st.Messages.Today)
	if err != nil {
		return nil, fmt.Errorf("%s: messages: %w", op, err)
	}
	return &st, nil
}
