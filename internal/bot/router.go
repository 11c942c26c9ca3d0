package bot

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/magabrotheeeer/counsel-bot/internal/lib/sl"
	"github.com/magabrotheeeer/counsel-bot/internal/services/admission"
	"github.com/magabrotheeeer/counsel-bot/internal/services/dialogue"
	"github.com/magabrotheeeer/counsel-bot/internal/services/onboarding"
	"github.com/magabrotheeeer/counsel-bot/internal/services/payment"
	"github.com/magabrotheeeer/counsel-bot/internal/storage/repository"
	"github.com/magabrotheeeer/counsel-bot/internal/telegram"
)

func (b *Bot) handleMessage(ctx context.Context, m *telegram.Message) {
	if m.From == nil || m.From.IsBot {
		return
	}
	if m.SuccessfulPayment != nil {
		b.handleSuccessfulPayment(ctx, m)
		return
	}
	if m.Text == "" {
		return
	}

	from := m.From
	if !b.flood.Allow(from.ID) {
		b.send(ctx, m.Chat.ID, floodText, nil)
		return
	}

	command := isCommand(m.Text)
	inForm := !command && b.onboarding.InForm(ctx, from.ID)

	res := b.dialogue.Handle(ctx, admission.Request{
		TelegramID: from.ID,
		Username:   from.Username,
		FullName:   from.FullName(),
		Text:       m.Text,
		InForm:     inForm,
	})

	if res.State != dialogue.StatePassed {
		var markup *telegram.InlineKeyboardMarkup
		if res.Upsell {
			markup = paymentKeyboard()
		}
		b.send(ctx, m.Chat.ID, res.Reply, markup)
		return
	}

	switch res.Decision.Route {
	case admission.RouteOnboarding:
		b.startOnboarding(ctx, m.Chat.ID, from)
	case admission.RouteOnboardingReminder:
		b.send(ctx, m.Chat.ID, dialogue.OnboardingReminder, nil)
	default:
		if command {
			b.handleCommand(ctx, m)
			return
		}
		b.handleFormText(ctx, m)
	}
}

func isCommand(text string) bool {
	return strings.HasPrefix(text, "/")
}

// commandName выделяет имя команды: "/start@my_bot payload" -> "/start".
func commandName(text string) string {
	name, _, _ := strings.Cut(text, " ")
	name, _, _ = strings.Cut(name, "@")
	return strings.ToLower(name)
}

func (b *Bot) handleCommand(ctx context.Context, m *telegram.Message) {
	chatID, userID := m.Chat.ID, m.From.ID

	switch commandName(m.Text) {
	case "/start":
		b.startOnboarding(ctx, chatID, m.From)
	case "/profile":
		b.sendProfile(ctx, chatID, userID)
	case "/buy_premium":
		b.sendTelegramInvoice(ctx, chatID, userID)
	case "/buy_premium_crypto":
		b.sendCryptoLink(ctx, chatID, userID)
	default:
		b.send(ctx, chatID, helpText, nil)
	}
}

func (b *Bot) handleFormText(ctx context.Context, m *telegram.Message) {
	replies, handled, err := b.onboarding.HandleText(ctx, m.From.ID, m.Text)
	if err != nil {
		b.log.Error("failed to handle form answer", slog.Int64("telegram_id", m.From.ID), sl.Err(err))
		b.send(ctx, m.Chat.ID, dialogue.GenericErrorText, nil)
		return
	}
	if !handled {
		// анкета истекла между проверкой и ответом
		b.send(ctx, m.Chat.ID, dialogue.OnboardingReminder, nil)
		return
	}
	b.sendReplies(ctx, m.Chat.ID, replies)
}

func (b *Bot) startOnboarding(ctx context.Context, chatID int64, from *telegram.User) {
	replies, err := b.onboarding.Start(ctx, from.ID, from.Username, from.FullName())
	if err != nil {
		b.log.Error("failed to start onboarding", slog.Int64("telegram_id", from.ID), sl.Err(err))
		b.send(ctx, chatID, dialogue.GenericErrorText, nil)
		return
	}
	b.sendReplies(ctx, chatID, replies)
}

func (b *Bot) sendProfile(ctx context.Context, chatID, userID int64) {
	user, err := b.users.GetUserByTelegramID(ctx, userID)
	if errors.Is(err, repository.ErrUserNotFound) {
		b.send(ctx, chatID, profileNotFound, nil)
		return
	}
	if err != nil {
		b.log.Error("failed to load profile", slog.Int64("telegram_id", userID), sl.Err(err))
		b.send(ctx, chatID, dialogue.GenericErrorText, nil)
		return
	}
	b.send(ctx, chatID, profileText(user, b.limit), nil)
}

func (b *Bot) sendTelegramInvoice(ctx context.Context, chatID, userID int64) {
	inv, err := b.payments.CreateTelegramInvoice(ctx, userID)
	if err != nil {
		b.log.Error("failed to create telegram invoice", slog.Int64("telegram_id", userID), sl.Err(err))
		b.send(ctx, chatID, paymentErrorReply(err, invoiceErrorText), nil)
		return
	}
	err = b.api.SendInvoice(ctx, telegram.SendInvoiceParams{
		ChatID:         chatID,
		Title:          inv.Title,
		Description:    inv.Description,
		Payload:        inv.Payload,
		ProviderToken:  inv.ProviderToken,
		Currency:       inv.Currency,
		Prices:         []telegram.LabeledPrice{{Label: inv.Label, Amount: inv.Amount}},
		StartParameter: inv.StartParameter,
	})
	if err != nil {
		b.log.Error("failed to send invoice", slog.Int64("telegram_id", userID), sl.Err(err))
		b.send(ctx, chatID, invoiceErrorText, nil)
	}
}

func (b *Bot) sendCryptoLink(ctx context.Context, chatID, userID int64) {
	link, err := b.payments.CreateCryptoInvoice(ctx, userID)
	if err != nil {
		b.log.Error("failed to create crypto invoice", slog.Int64("telegram_id", userID), sl.Err(err))
		b.send(ctx, chatID, paymentErrorReply(err, cryptoErrorText), nil)
		return
	}
	b.send(ctx, chatID, cryptoLinkText(link), nil)
}

func paymentErrorReply(err error, fallback string) string {
	if errors.Is(err, payment.ErrPriceNotSet) {
		return priceNotSetText
	}
	return fallback
}

func (b *Bot) handleSuccessfulPayment(ctx context.Context, m *telegram.Message) {
	log := b.log.With(slog.Int64("telegram_id", m.From.ID))

	ok, err := b.payments.ConfirmTelegramPayment(ctx, m.From.ID, m.SuccessfulPayment.InvoicePayload)
	if errors.Is(err, payment.ErrUnknownPayment) {
		// деньги списаны, а pending-записи нет: нужна ручная сверка
		log.Error("successful payment without pending record",
			slog.String("payload", m.SuccessfulPayment.InvoicePayload),
			slog.String("charge_id", m.SuccessfulPayment.TelegramPaymentChargeID),
			slog.Int64("total_amount", m.SuccessfulPayment.TotalAmount), sl.Err(err))
		b.send(ctx, m.Chat.ID, paymentErrorText, nil)
		return
	}
	if err != nil {
		log.Error("failed to confirm telegram payment",
			slog.String("charge_id", m.SuccessfulPayment.TelegramPaymentChargeID), sl.Err(err))
		b.send(ctx, m.Chat.ID, paymentErrorText, nil)
		return
	}
	if !ok {
		log.Info("telegram payment already confirmed")
	}
}

func (b *Bot) handleCallback(ctx context.Context, q *telegram.CallbackQuery) {
	defer func() {
		if err := b.api.AnswerCallbackQuery(ctx, q.ID, ""); err != nil {
			b.log.Warn("failed to answer callback", sl.Err(err))
		}
	}()

	chatID := q.From.ID
	if q.Message != nil {
		chatID = q.Message.Chat.ID
	}

	switch q.Data {
	case callbackPayTelegram:
		b.sendTelegramInvoice(ctx, chatID, q.From.ID)
		return
	case callbackPayCrypto:
		b.sendCryptoLink(ctx, chatID, q.From.ID)
		return
	}

	replies, handled, err := b.onboarding.HandleCallback(ctx, q.From.ID, q.Data)
	if err != nil {
		b.log.Error("failed to handle form callback", slog.Int64("telegram_id", q.From.ID), sl.Err(err))
		b.send(ctx, chatID, "Произошла ошибка при сохранении данных. Попробуйте позже.", nil)
		return
	}
	if !handled {
		b.log.Debug("stale callback ignored", slog.Int64("telegram_id", q.From.ID), slog.String("data", q.Data))
		return
	}
	b.sendReplies(ctx, chatID, replies)
}

func (b *Bot) handlePreCheckout(ctx context.Context, q *telegram.PreCheckoutQuery) {
	if err := b.api.AnswerPreCheckoutQuery(ctx, q.ID, true, ""); err != nil {
		b.log.Error("failed to answer pre-checkout query", slog.Int64("telegram_id", q.From.ID), sl.Err(err))
	}
}

func (b *Bot) sendReplies(ctx context.Context, chatID int64, replies []onboarding.Reply) {
	for _, r := range replies {
		var markup *telegram.InlineKeyboardMarkup
		if len(r.Buttons) > 0 {
			markup = &telegram.InlineKeyboardMarkup{}
			for _, btn := range r.Buttons {
				markup.InlineKeyboard = append(markup.InlineKeyboard,
					[]telegram.InlineKeyboardButton{{Text: btn.Text, CallbackData: btn.Data}})
			}
		}
		b.send(ctx, chatID, r.Text, markup)
	}
}

func (b *Bot) send(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) {
	if text == "" {
		return
	}
	err := b.api.SendMessage(ctx, telegram.SendMessageParams{ChatID: chatID, Text: text, ReplyMarkup: markup})
	if err != nil {
		b.log.Error("failed to send message", slog.Int64("chat_id", chatID), sl.Err(err))
	}
}
