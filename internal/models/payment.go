package models

import "time"

// Способы оплаты.
const (
	MethodTelegram    = "telegram"
	MethodCryptoCloud = "cryptocloud"
)

// Статусы записи в платёжном журнале.
const (
	PaymentPending = "pending"
	PaymentSuccess = "success"
)

// PriceMonth имя цены месячной подписки в таблице prices.
const PriceMonth = "premium_month"

// Payment запись платёжного журнала.
type Payment struct {
	ID        int64
	UserID    int64
	Amount    int64
	Currency  string
	Method    string
	Status    string
	InvoiceID string
	CreatedAt time.Time
}

// Activation результат подтверждения платежа.
type Activation struct {
	TelegramID        int64     `json:"telegram_id"`
	SubscriptionUntil time.Time `json:"subscription_until"`
	Method            string    `json:"method"`
}
