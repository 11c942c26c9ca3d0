// Package telegram минимальный клиент Telegram Bot API: long polling,
// отправка сообщений и счетов, ответы на callback и pre-checkout запросы.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/magabrotheeeer/counsel-bot/internal/config"
)

// ErrAPI Bot API вернул ok=false.
var ErrAPI = errors.New("telegram api error")

// APIError ошибка Bot API с кодом и описанием.
type APIError struct {
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api error %d: %s", e.Code, e.Description)
}

// Unwrap позволяет проверять ошибку через errors.Is(err, ErrAPI).
func (e *APIError) Unwrap() error {
	return ErrAPI
}

// Client клиент Bot API.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	pollTimeout time.Duration
}

// New создаёт клиента из настроек.
func New(cfg config.Telegram) *Client {
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}
	return &Client{
		// таймаут клиента должен перекрывать таймаут long polling
		httpClient:  &http.Client{Timeout: pollTimeout + 10*time.Second},
		baseURL:     strings.TrimRight(cfg.APIURL, "/") + "/bot" + cfg.BotToken,
		pollTimeout: pollTimeout,
	}
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(params); err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, &buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var envelope struct {
		apiResponse
		Result json.RawMessage `json:"result,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to parse response (status %s): %w", resp.Status, err)
	}
	if !envelope.Ok {
		apiErr := &APIError{Code: envelope.ErrorCode, Description: envelope.Description}
		if envelope.Parameters != nil {
			apiErr.RetryAfter = time.Duration(envelope.Parameters.RetryAfter) * time.Second
		}
		return apiErr
	}
	if result == nil || len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return fmt.Errorf("failed to parse result: %w", err)
	}
	return nil
}

// GetUpdates получает обновления начиная с offset, ожидая до pollTimeout.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	const op = "telegram.GetUpdates"

	params := map[string]any{
		"offset":          offset,
		"timeout":         int(c.pollTimeout / time.Second),
		"allowed_updates": []string{"message", "callback_query", "pre_checkout_query"},
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", params, &updates); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return updates, nil
}

// SendMessage отправляет сообщение.
func (c *Client) SendMessage(ctx context.Context, p SendMessageParams) error {
	const op = "telegram.SendMessage"
	if err := c.call(ctx, "sendMessage", p, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SendText отправляет простой текст.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	return c.SendMessage(ctx, SendMessageParams{ChatID: chatID, Text: text})
}

// SendInvoice отправляет счёт Telegram Payments.
func (c *Client) SendInvoice(ctx context.Context, p SendInvoiceParams) error {
	const op = "telegram.SendInvoice"
	if err := c.call(ctx, "sendInvoice", p, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// AnswerPreCheckoutQuery подтверждает или отклоняет оплату.
func (c *Client) AnswerPreCheckoutQuery(ctx context.Context, queryID string, ok bool, errorMessage string) error {
	const op = "telegram.AnswerPreCheckoutQuery"
	params := map[string]any{"pre_checkout_query_id": queryID, "ok": ok}
	if !ok {
		params["error_message"] = errorMessage
	}
	if err := c.call(ctx, "answerPreCheckoutQuery", params, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// AnswerCallbackQuery снимает индикатор загрузки с кнопки.
func (c *Client) AnswerCallbackQuery(ctx context.Context, queryID, text string) error {
	const op = "telegram.AnswerCallbackQuery"
	params := map[string]any{"callback_query_id": queryID}
	if text != "" {
		params["text"] = text
	}
	if err := c.call(ctx, "answerCallbackQuery", params, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
