package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/counsel-bot/internal/models"
)

// GetPrice возвращает цену по имени.
func (s *Storage) GetPrice(ctx context.Context, name string) (int64, error) {
	const op = "storage.GetPrice"

	var value int64
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM prices WHERE name = $1`, name).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%s: %w", op, ErrPriceNotFound)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return value, nil
}

// SetPrice создаёт или обновляет цену.
func (s *Storage) SetPrice(ctx context.Context, name string, value int64) error {
	const op = "storage.SetPrice"

	_, err := s.DB.ExecContext(ctx, `INSERT INTO prices (name, value, updated_at)
			  VALUES ($1, $2, NOW())
			  ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, name, value)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RecordPendingPayment записывает намерение оплаты. Повторная запись с тем же
// invoice_id ничего не меняет.
func (s *Storage) RecordPendingPayment(ctx context.Context, telegramID int64, p models.Payment) error {
	const op = "storage.RecordPendingPayment"

	query := `INSERT INTO payments (user_id, amount, currency, payment_method, status, invoice_id, created_at, updated_at)
			  SELECT id, $2, $3, $4, 'pending', $5, NOW(), NOW() FROM users WHERE telegram_id = $1
			  ON CONFLICT (invoice_id) DO NOTHING`
	res, err := s.DB.ExecContext(ctx, query, telegramID, p.Amount, p.Currency, p.Method, p.InvoiceID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		exists, err := s.paymentExists(ctx, p.InvoiceID)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if !exists {
			return fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
	}
	return nil
}

func (s *Storage) paymentExists(ctx context.Context, invoiceID string) (bool, error) {
	var exists bool
	err := s.DB.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE invoice_id = $1)`, invoiceID).Scan(&exists)
	return exists, err
}

// ListPendingPayments возвращает неподтверждённые платежи указанного способа оплаты.
func (s *Storage) ListPendingPayments(ctx context.Context, method string) ([]*models.Payment, error) {
	const op = "storage.ListPendingPayments"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT id, user_id, amount, currency, payment_method, status,
			      COALESCE(invoice_id, ''), created_at
			  FROM payments
			  WHERE payment_method = $1 AND status = 'pending'
			  ORDER BY id`, method)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Payment
	for rows.Next() {
		var p models.Payment
		if err := rows.Scan(&p.ID, &p.UserID, &p.Amount, &p.Currency, &p.Method, &p.Status,
			&p.InvoiceID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// ConfirmPayment подтверждает платёж и продлевает подписку в одной транзакции.
//
// Платёж переходит pending -> success условным UPDATE, поэтому повторное
// подтверждение того же invoice_id ничего не продлевает и возвращает false.
// Если invoice_id вообще не записан, возвращается ErrPaymentNotFound.
// Подписка продлевается от большего из now и текущей даты окончания.
func (s *Storage) ConfirmPayment(ctx context.Context, invoiceID string, days int, now time.Time) (*models.Activation, bool, error) {
	const op = "storage.ConfirmPayment"

	var (
		activation models.Activation
		confirmed  bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var userID int64
		err := tx.QueryRowContext(ctx, `UPDATE payments
			  SET status = 'success', updated_at = NOW()
			  WHERE invoice_id = $1 AND status = 'pending'
			  RETURNING user_id, payment_method`, invoiceID).Scan(&userID, &activation.Method)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE invoice_id = $1)`,
				invoiceID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return ErrPaymentNotFound
			}
			return nil
		}

		err = tx.QueryRowContext(ctx, `UPDATE users
			  SET status = 'premium',
			      subscription_until = GREATEST(COALESCE(subscription_until, $2), $2) + make_interval(days => $3)
			  WHERE id = $1
			  RETURNING telegram_id, subscription_until`, userID, now, days).
			Scan(&activation.TelegramID, &activation.SubscriptionUntil)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO subscriptions (user_id, type, start_date, end_date, is_active)
			  VALUES ($1, 'premium', $2, $3, TRUE)`, userID, now, activation.SubscriptionUntil)
		if err != nil {
			return err
		}
		confirmed = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if !confirmed {
		return nil, false, nil
	}
	return &activation, true, nil
}
