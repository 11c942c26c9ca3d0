package models

// Stats агрегаты для админки. Только чтение.
type Stats struct {
	Users    UserStats    `json:"users"`
	Messages MessageStats `json:"messages"`
}

// UserStats число пользователей по статусам.
type UserStats struct {
	Total     int `json:"total"`
	Demo      int `json:"demo"`
	Premium   int `json:"premium"`
	Expired   int `json:"expired"`
	Banned    int `json:"banned"`
	Onboarded int `json:"onboarded"`
}

// MessageStats объём журнала диалогов.
type MessageStats struct {
	Total     int `json:"total"`
	User      int `json:"user"`
	Assistant int `json:"assistant"`
	Today     int `json:"today"`
}
