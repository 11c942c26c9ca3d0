package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/counsel-bot/internal/config"
)

func newTestClient(t *testing.T, handler func(t *testing.T, method string, body map[string]any) string) *Client {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		const prefix = "/bot123:abc/"
		require.Contains(t, r.URL.Path, prefix)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(handler(t, r.URL.Path[len(prefix):], body)))
	}))
	t.Cleanup(srv.Close)

	return New(config.Telegram{APIURL: srv.URL + "/", BotToken: "123:abc", PollTimeout: time.Second})
}

func TestGetUpdates(t *testing.T) {
	c := newTestClient(t, func(t *testing.T, method string, body map[string]any) string {
		assert.Equal(t, "getUpdates", method)
		assert.Equal(t, float64(7), body["offset"])
		assert.Equal(t, float64(1), body["timeout"])
		return `{"ok":true,"result":[
			{"update_id":7,"message":{"message_id":1,"from":{"id":42,"first_name":"Маша","last_name":"П","username":"masha"},"chat":{"id":42,"type":"private"},"text":"привет"}},
			{"update_id":8,"callback_query":{"id":"cb1","from":{"id":42,"first_name":"Маша"},"data":"pay_crypto"}},
			{"update_id":9,"pre_checkout_query":{"id":"pc1","from":{"id":42,"first_name":"Маша"},"currency":"RUB","total_amount":29900,"invoice_payload":"premium:42:x"}}
		]}`
	})

	updates, err := c.GetUpdates(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, updates, 3)
	assert.Equal(t, "привет", updates[0].Message.Text)
	assert.Equal(t, "Маша П", updates[0].Message.From.FullName())
	assert.Equal(t, "pay_crypto", updates[1].CallbackQuery.Data)
	assert.Equal(t, int64(29900), updates[2].PreCheckoutQuery.TotalAmount)
}

func TestSendMessage_WithKeyboard(t *testing.T) {
	c := newTestClient(t, func(t *testing.T, method string, body map[string]any) string {
		assert.Equal(t, "sendMessage", method)
		assert.Equal(t, float64(42), body["chat_id"])
		markup := body["reply_markup"].(map[string]any)
		rows := markup["inline_keyboard"].([]any)
		assert.Len(t, rows, 2)
		return `{"ok":true,"result":{"message_id":5,"chat":{"id":42,"type":"private"}}}`
	})

	err := c.SendMessage(context.Background(), SendMessageParams{
		ChatID: 42,
		Text:   "Выберите способ оплаты",
		ReplyMarkup: &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{
			{{Text: "Telegram", CallbackData: "pay_telegram"}},
			{{Text: "Crypto", CallbackData: "pay_crypto"}},
		}},
	})
	require.NoError(t, err)
}

func TestSendText_APIError(t *testing.T) {
	c := newTestClient(t, func(t *testing.T, method string, body map[string]any) string {
		return `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":3}}`
	})

	err := c.SendText(context.Background(), 42, "hi")
	require.ErrorIs(t, err, ErrAPI)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 429, apiErr.Code)
	assert.Equal(t, 3*time.Second, apiErr.RetryAfter)
}

func TestSendInvoice(t *testing.T) {
	c := newTestClient(t, func(t *testing.T, method string, body map[string]any) string {
		assert.Equal(t, "sendInvoice", method)
		assert.Equal(t, "premium:42:x", body["payload"])
		prices := body["prices"].([]any)
		assert.Equal(t, float64(29900), prices[0].(map[string]any)["amount"])
		return `{"ok":true,"result":{"message_id":6,"chat":{"id":42,"type":"private"}}}`
	})

	err := c.SendInvoice(context.Background(), SendInvoiceParams{
		ChatID: 42, Title: "Premium", Payload: "premium:42:x", Currency: "RUB",
		Prices: []LabeledPrice{{Label: "1 месяц", Amount: 29900}},
	})
	require.NoError(t, err)
}

func TestAnswers(t *testing.T) {
	c := newTestClient(t, func(t *testing.T, method string, body map[string]any) string {
		switch method {
		case "answerPreCheckoutQuery":
			assert.Equal(t, "pc1", body["pre_checkout_query_id"])
			assert.Equal(t, true, body["ok"])
			assert.NotContains(t, body, "error_message")
		case "answerCallbackQuery":
			assert.Equal(t, "cb1", body["callback_query_id"])
		default:
			t.Errorf("unexpected method %s", method)
		}
		return `{"ok":true,"result":true}`
	})

	require.NoError(t, c.AnswerPreCheckoutQuery(context.Background(), "pc1", true, ""))
	require.NoError(t, c.AnswerCallbackQuery(context.Background(), "cb1", ""))
}

func TestGetUpdates_Cancelled(t *testing.T) {
	c := newTestClient(t, func(t *testing.T, method string, body map[string]any) string {
		return `{"ok":true,"result":[]}`
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetUpdates(ctx, 0)
	require.ErrorIs(t, err, context.Canceled)
}
