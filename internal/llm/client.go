// Package llm обращается к языковой модели через OpenAI-совместимый API.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/magabrotheeeer/counsel-bot/internal/config"
	"github.com/magabrotheeeer/counsel-bot/internal/metrics"
	"github.com/magabrotheeeer/counsel-bot/internal/models"
)

var (
	// ErrTimeout модель не ответила за отведённое время.
	ErrTimeout = errors.New("llm: timeout")
	// ErrProvider провайдер вернул ошибку.
	ErrProvider = errors.New("llm: provider error")
	// ErrEmptyCompletion ответ не содержит текста.
	ErrEmptyCompletion = errors.New("llm: empty completion")
)

// Client выполняет запросы chat completion.
type Client struct {
	api         *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
}

// New создаёт клиента. Пустой BaseURL означает официальный API OpenAI.
func New(cfg config.LLM) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &Client{
		api:         openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
	}
}

// Complete отправляет сообщения модели и возвращает текст первого варианта ответа.
// purpose используется только как метка метрик (reply, summary).
func (c *Client) Complete(ctx context.Context, purpose string, messages []models.Turn) (string, error) {
	const op = "llm.Complete"

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	metrics.LLMDuration.WithLabelValues(purpose).Observe(time.Since(start).Seconds())
	if err != nil {
		err = classify(ctx, err)
		metrics.LLMRequests.WithLabelValues(purpose, "error").Inc()
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		metrics.LLMRequests.WithLabelValues(purpose, "empty").Inc()
		return "", fmt.Errorf("%s: %w", op, ErrEmptyCompletion)
	}
	metrics.LLMRequests.WithLabelValues(purpose, "ok").Inc()
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrProvider, err)
}
