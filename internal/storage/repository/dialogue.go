package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/counsel-bot/internal/models"
)

// SaveMessage добавляет реплику в журнал диалога и возвращает её ID.
// Журнал только дополняется: записи не меняются и не удаляются.
func (s *Storage) SaveMessage(ctx context.Context, userID int64, role, content string) (int64, error) {
	const op = "storage.SaveMessage"

	query := `INSERT INTO messages (user_id, role, content, created_at)
			  VALUES ($1, $2, $3, NOW())
			  RETURNING id`
	var id int64
	if err := s.DB.QueryRowContext(ctx, query, userID, role, content).Scan(&id); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// CountMessages возвращает число реплик пользователя с указанной ролью.
func (s *Storage) CountMessages(ctx context.Context, userID int64, role string) (int, error) {
	const op = "storage.CountMessages"

	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE user_id = $1 AND role = $2`,
		userID, role).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// GetSummary возвращает долговременное резюме пользователя.
// Второе значение false, если резюме ещё не создано.
func (s *Storage) GetSummary(ctx context.Context, telegramID int64) (string, bool, error) {
	const op = "storage.GetSummary"

	query := `SELECT summary FROM user_memory
			  WHERE user_id = (SELECT id FROM users WHERE telegram_id = $1)`
	var summary sql.NullString
	err := s.DB.QueryRowContext(ctx, query, telegramID).Scan(&summary)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	if !summary.Valid || summary.String == "" {
		return "", false, nil
	}
	return summary.String, true, nil
}

// UpsertSummary целиком заменяет резюме пользователя (одна строка на пользователя).
func (s *Storage) UpsertSummary(ctx context.Context, telegramID int64, summary string) error {
	const op = "storage.UpsertSummary"

	query := `INSERT INTO user_memory (user_id, summary, updated_at)
			  SELECT id, $2, NOW() FROM users WHERE telegram_id = $1
			  ON CONFLICT (user_id) DO UPDATE
			  SET summary = EXCLUDED.summary, updated_at = NOW()`
	res, err := s.DB.ExecContext(ctx, query, telegramID, summary)
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

// GetActivePrompt возвращает действующий системный промпт.
func (s *Storage) GetActivePrompt(ctx context.Context) (*models.Prompt, error) {
	const op = "storage.GetActivePrompt"

	query := `SELECT id, text, is_active, created_at FROM prompts
			  WHERE is_active = TRUE
			  ORDER BY id DESC
			  LIMIT 1`
	var p models.Prompt
	err := s.DB.QueryRowContext(ctx, query).Scan(&p.ID, &p.Text, &p.IsActive, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, ErrPromptNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &p, nil
}

// SetActivePrompt деактивирует все промпты и вставляет новый активный в одной транзакции.
// Старые версии остаются в таблице для аудита и отката.
func (s *Storage) SetActivePrompt(ctx context.Context, text string) (*models.Prompt, error) {
	const op = "storage.SetActivePrompt"

	var p models.Prompt
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE prompts SET is_active = FALSE WHERE is_active = TRUE`); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `INSERT INTO prompts (text, is_active, created_at)
			  VALUES ($1, TRUE, NOW())
			  RETURNING id, text, is_active, created_at`, text).
			Scan(&p.ID, &p.Text, &p.IsActive, &p.CreatedAt)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &p, nil
}

// RestorePrompt снова делает активной одну из прежних версий промпта.
// Остальные версии деактивируются в той же транзакции.
func (s *Storage) RestorePrompt(ctx context.Context, id int64) (*models.Prompt, error) {
	const op = "storage.RestorePrompt"

	var p models.Prompt
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT id FROM prompts WHERE id = $1 FOR UPDATE`, id).Scan(&p.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrPromptNotFound
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE prompts SET is_active = FALSE WHERE is_active = TRUE AND id <> $1`, id); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `UPDATE prompts SET is_active = TRUE
			  WHERE id = $1
			  RETURNING id, text, is_active, created_at`, id).
			Scan(&p.ID, &p.Text, &p.IsActive, &p.CreatedAt)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &p, nil
}

// ListPrompts возвращает историю промптов, новые первыми.
func (s *Storage) ListPrompts(ctx context.Context, limit, offset int) ([]*models.Prompt, error) {
	const op = "storage.ListPrompts"

	rows, err := s.DB.QueryContext(ctx, `SELECT id, text, is_active, created_at FROM prompts
			  ORDER BY id DESC
			  LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Prompt
	for rows.Next() {
		var p models.Prompt
		if err := rows.Scan(&p.ID, &p.Text, &p.IsActive, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
