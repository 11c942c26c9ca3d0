package models

import "time"

// Роли реплик диалога.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message неизменяемая запись журнала диалога.
type Message struct {
	ID        int64
	UserID    int64 // users.id, не telegram_id
	Role      string
	Content   string
	CreatedAt time.Time
}

// Turn одна реплика в краткосрочном окне памяти.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Prompt версия системной инструкции. Активной может быть только одна.
type Prompt struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
