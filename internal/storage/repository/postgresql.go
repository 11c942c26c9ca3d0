// Package repository реализует хранилище данных на основе PostgreSQL:
// пользователи, журнал сообщений, резюме памяти, системные промпты,
// цены и платёжный журнал. Все строки возвращаются типизированными моделями.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"
)

var (
	// ErrUserNotFound пользователь с таким telegram_id отсутствует.
	ErrUserNotFound = errors.New("user not found")
	// ErrPromptNotFound нет активного промпта или версии с таким ID.
	ErrPromptNotFound = errors.New("prompt not found")
	// ErrPaymentNotFound платежа с таким invoice_id нет в журнале.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrPriceNotFound цена не задана.
	ErrPriceNotFound = errors.New("price not found")
)

// Storage инкапсулирует пул соединений с PostgreSQL.
type Storage struct {
	DB *sql.DB
}

// New создаёт подключение к PostgreSQL и проверяет его доступность.
func New(ctx context.Context, storageConnectionString string) (*Storage, error) {
	const op = "storage.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{
		DB: db,
	}, nil
}

// Close закрывает пул соединений.
func (s *Storage) Close() error {
	return s.DB.Close()
}

// Ping проверяет доступность базы.
func (s *Storage) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// CheckDatabaseReady проверяет, что миграции применены.
func CheckDatabaseReady(ctx context.Context, storage *Storage) error {
	var exists bool
	err := storage.DB.QueryRowContext(ctx, `SELECT EXISTS (
        SELECT FROM information_schema.tables
        WHERE table_name = 'users'
    )`).Scan(&exists)
	if err != nil {
		return fmt.Errorf("required table users query error: %w", err)
	}
	if !exists {
		return fmt.Errorf("required table users missing")
	}
	return nil
}

// withTx выполняет fn в транзакции и откатывает её при ошибке.
func (s *Storage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
