// Package models содержит доменные структуры бота: пользователя, сообщения
// диалога, системные промпты и записи платёжного журнала.
// Структуры собираются на границе хранилища и дальше передаются только типизированными.
package models

import "time"

// Статусы подписки пользователя.
const (
	StatusDemo    = "demo"
	StatusPremium = "premium"
	StatusExpired = "expired"
)

// User представляет пользователя Telegram, написавшего боту.
type User struct {
	ID                  int64      // Внутренний идентификатор строки
	TelegramID          int64      // Идентификатор пользователя в Telegram (уникальный)
	Username            string     // @username, может быть пустым
	FullName            string     // Имя из профиля Telegram
	PreferredName       string     // Как обращаться к пользователю (из онбординга)
	Age                 int        // Возраст (из онбординга), 0 если не указан
	Gender              string     // female, male или пусто
	Status              string     // demo, premium или expired
	SubscriptionUntil   *time.Time // Дата окончания оплаченной подписки
	DailyMessageCount   int        // Количество сообщений за текущие сутки
	IsBanned            bool
	OnboardingCompleted bool
	CreatedAt           time.Time
	LastActivity        *time.Time
}

// SubscriptionLapsed сообщает, истекла ли премиум-подписка к моменту now.
func (u *User) SubscriptionLapsed(now time.Time) bool {
	return u.Status == StatusPremium && u.SubscriptionUntil != nil && u.SubscriptionUntil.Before(now)
}

// IsLimited сообщает, действует ли для пользователя дневной лимит.
func (u *User) IsLimited() bool {
	return u.Status != StatusPremium
}

// DisplayName возвращает имя для обращения к пользователю.
func (u *User) DisplayName() string {
	switch {
	case u.PreferredName != "":
		return u.PreferredName
	case u.FullName != "":
		return u.FullName
	case u.Username != "":
		return u.Username
	}
	return ""
}

// Profile анкета, собранная онбордингом.
type Profile struct {
	PreferredName string `validate:"required,max=50"`
	Age           int    `validate:"gte=10,lte=100"`
	Gender        string `validate:"oneof=female male"`
}
