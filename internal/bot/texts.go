package bot

import (
	"fmt"
	"strconv"

	"github.com/magabrotheeeer/counsel-bot/internal/models"
	"github.com/magabrotheeeer/counsel-bot/internal/telegram"
)

const (
	floodText        = "Пожалуйста, не флудите."
	invoiceErrorText = "Ошибка при создании инвойса. Попробуйте позже."
	cryptoErrorText  = "Ошибка при создании ссылки на оплату. Попробуйте позже."
	priceNotSetText  = "Стоимость подписки не установлена. Обратитесь к администратору."
	profileNotFound  = "Профиль не найден. Напишите /start."
	paymentErrorText = "Не удалось подтвердить оплату. Свяжитесь с администратором."
)

const helpText = "Я AI-собеседник. Просто напиши, что тебя беспокоит.\n\n" +
	"/start - начать заново\n" +
	"/profile - профиль и подписка\n" +
	"/buy_premium - оплатить подписку через Telegram\n" +
	"/buy_premium_crypto - оплатить подписку криптовалютой\n" +
	"/help - эта справка"

// Данные кнопок оплаты.
const (
	callbackPayTelegram = "pay_telegram"
	callbackPayCrypto   = "pay_crypto"
)

func paymentKeyboard() *telegram.InlineKeyboardMarkup {
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{{
		{Text: "Оплатить через Telegram", CallbackData: callbackPayTelegram},
		{Text: "Оплатить криптой", CallbackData: callbackPayCrypto},
	}}}
}

func cryptoLinkText(link string) string {
	return fmt.Sprintf("Оплатите по ссылке (криптовалюта):\n%s\n\n"+
		"После оплаты подписка будет активирована в течение нескольких минут.", link)
}

func profileText(u *models.User, limit int) string {
	name := u.DisplayName()
	if name == "" {
		name = "Не указано"
	}
	sub := "нет"
	if u.SubscriptionUntil != nil {
		sub = "до " + u.SubscriptionUntil.Format("02.01.2006")
	}
	usage := strconv.Itoa(u.DailyMessageCount) + "/" + strconv.Itoa(limit)
	if !u.IsLimited() {
		usage = strconv.Itoa(u.DailyMessageCount) + " (без ограничений)"
	}
	return fmt.Sprintf("Профиль\nИмя: %s\nСтатус: %s\nПодписка: %s\nСообщений сегодня: %s",
		name, u.Status, sub, usage)
}
