// Package cryptocloud клиент REST API CryptoCloud: создание счёта и проверка его статуса.
package cryptocloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrRejected провайдер ответил статусом, отличным от success.
	ErrRejected = errors.New("cryptocloud: request rejected")
	// ErrInvoiceNotFound провайдер не вернул сведений о счёте.
	ErrInvoiceNotFound = errors.New("cryptocloud: invoice not found")
)

// Client клиент CryptoCloud.
type Client struct {
	shopID     string
	apiKey     string
	apiURL     string
	httpClient *http.Client
}

// NewClient создаёт клиента. apiURL без завершающего слеша, например https://api.cryptocloud.plus.
func NewClient(apiURL, shopID, apiKey string) *Client {
	return &Client{
		shopID:     shopID,
		apiKey:     apiKey,
		apiURL:     strings.TrimRight(apiURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, path string, body, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateInvoice создаёт счёт на оплату и возвращает ссылку и uuid счёта.
func (c *Client) CreateInvoice(ctx context.Context, amount int64, currency, orderID, description string) (*Invoice, error) {
	const op = "cryptocloud.CreateInvoice"

	var resp createInvoiceResponse
	err := c.do(ctx, "/v2/invoice/create", CreateInvoiceRequest{
		ShopID:      c.shopID,
		Amount:      amount,
		Currency:    currency,
		OrderID:     orderID,
		Description: description,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp.Status != "success" || resp.Result.UUID == "" {
		return nil, fmt.Errorf("%s: %w: status %q", op, ErrRejected, resp.Status)
	}
	return &resp.Result, nil
}

// InvoiceInfo возвращает текущий статус счёта.
func (c *Client) InvoiceInfo(ctx context.Context, uuid string) (*InvoiceInfo, error) {
	const op = "cryptocloud.InvoiceInfo"

	var resp invoiceInfoResponse
	if err := c.do(ctx, "/v2/invoice/merchant/info", invoiceInfoRequest{UUIDs: []string{uuid}}, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("%s: %w: status %q", op, ErrRejected, resp.Status)
	}
	if len(resp.Result) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrInvoiceNotFound)
	}
	return &resp.Result[0], nil
}
