package dialogue

import (
	"fmt"
	"strconv"

	"github.com/magabrotheeeer/counsel-bot/internal/models"
)

// Фиксированные ответы пользователю.
const (
	DefaultPrompt      = "Ты дружелюбный AI-собеседник."
	ApologyText        = "Извините, произошла ошибка при обращении к AI. Попробуйте позже."
	GenericErrorText   = "Произошла ошибка. Попробуйте позже."
	OnboardingReminder = "Пожалуйста, сначала завершите короткий опрос, чтобы мы могли познакомиться. Нажмите /start"
)

// BannedText уведомление заблокированному пользователю.
func BannedText(adminUsername string) string {
	return fmt.Sprintf("Вы заблокированы. Свяжитесь с %s для разблокировки.", adminUsername)
}

// UpsellText сообщение об исчерпанном лимите. Текст для истёкшей подписки отличается.
func UpsellText(status string, limit int) string {
	if status == models.StatusExpired {
		return "Ваша подписка на бота закончилась. Далее вам доступно " + strconv.Itoa(limit) +
			" сообщений в день.\n\nЛимит сообщений на сегодня исчерпан. Для продления подписки выберите способ оплаты:"
	}
	return "Доступно только " + strconv.Itoa(limit) +
		" сообщений в день. Оформите подписку для неограниченного доступа."
}

// ProfileLine описание пользователя, добавляемое к системному промпту.
func ProfileLine(u *models.User) string {
	name := u.PreferredName
	if name == "" {
		name = "Не указано"
	}
	age := "Не указан"
	if u.Age > 0 {
		age = strconv.Itoa(u.Age)
	}
	gender := "Не указан"
	switch u.Gender {
	case "female":
		gender = "женский"
	case "male":
		gender = "мужской"
	}
	return fmt.Sprintf("Информация о пользователе: Имя - %s, Возраст - %s, Пол - %s.", name, age, gender)
}
