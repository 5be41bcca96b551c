// Package gateway предоставляет клиент внешнего платёжного шлюза.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/storefront/internal/apperr"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/pricing"
)

// Client инкапсулирует HTTP-взаимодействие с платёжным шлюзом.
type Client struct {
	provider   string
	baseURL    string
	keyID      string
	keySecret  string
	httpClient *http.Client
}

// Options содержит параметры подключения к шлюзу.
type Options struct {
	Provider  string
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

// RemoteOrder описывает заказ, созданный на стороне шлюза.
type RemoteOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type createOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

// NewClient создаёт клиент шлюза.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	base := strings.TrimRight(opts.BaseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}

	return &Client{
		provider:  opts.Provider,
		baseURL:   base,
		keyID:     opts.KeyID,
		keySecret: opts.KeySecret,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Provider возвращает идентификатор провайдера.
func (c *Client) Provider() string { return c.provider }

// KeyID возвращает публичный ключ, который можно отдавать клиенту.
func (c *Client) KeyID() string { return c.keyID }

// VerifyCallback проверяет подпись колбэка общим секретом этого шлюза.
func (c *Client) VerifyCallback(gatewayOrderID, gatewayPaymentID, signature string) bool {
	return VerifyCallback(gatewayOrderID, gatewayPaymentID, signature, c.keySecret)
}

// CreateRemoteOrder создаёт заказ на стороне шлюза на сумму amount.
// Сетевые ошибки, таймауты и ответы 5xx возвращаются как apperr.ErrGatewayUnavailable.
func (c *Client) CreateRemoteOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string) (*RemoteOrder, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("gateway client not configured: %w", apperr.ErrGatewayUnavailable)
	}

	body, err := json.Marshal(createOrderRequest{
		Amount:   pricing.MinorUnits(amount),
		Currency: currency,
		Receipt:  receipt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("do request: %v: %w", err, apperr.ErrGatewayUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("gateway status %d: %w", resp.StatusCode, apperr.ErrGatewayUnavailable)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status: %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result RemoteOrder
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("decode response: %v: %w", err, apperr.ErrGatewayUnavailable)
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if result.ID == "" {
		return nil, errors.New("gateway returned order without id")
	}

	return &result, nil
}

// CreateCODRecord возвращает платёжные данные для оплаты при получении. Удалённых вызовов нет.
func CreateCODRecord(*model.Order) model.CODPayment {
	return model.CODPayment{}
}
