package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Dhoini/Billing-reconciliation/internal/domain"
	"github.com/Dhoini/Billing-reconciliation/internal/gateway"
	"github.com/Dhoini/Billing-reconciliation/pkg/logger"
	stripego "github.com/stripe/stripe-go/v78"
)

// GatewayID идентификатор шлюза карточных платежей
const GatewayID = "stripe"

// Client представляет клиент для работы с API Stripe.
// Реализует gateway.Adapter.
type Client struct {
	baseURL       string
	apiKey        string
	webhookSecret string
	httpClient    *http.Client
	cache         gateway.ResourceCache
	log           *logger.Logger
}

// Config конфигурация для клиента Stripe
type Config struct {
	APIKey        string
	WebhookSecret string
	APIBase       string
}

// NewClient создает новый клиент Stripe
func NewClient(cfg Config, cache gateway.ResourceCache, log *logger.Logger) *Client {
	baseURL := cfg.APIBase
	if baseURL == "" {
		baseURL = "https://api.stripe.com/v1"
	}

	return &Client{
		baseURL:       baseURL,
		apiKey:        cfg.APIKey,
		webhookSecret: cfg.WebhookSecret,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		cache:         cache,
		log:           log,
	}
}

// ID возвращает идентификатор шлюза
func (c *Client) ID() string {
	return GatewayID
}

// ErrorResponse представляет тело ошибки API Stripe
type ErrorResponse struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param"`
}

// do выполняет запрос к API Stripe с form-encoded телом, декодирует JSON ответ
// и возвращает HTTP статус. Пустой idempotencyKey означает запрос без
// заголовка Idempotency-Key.
func (c *Client) do(ctx context.Context, method, path string, formData url.Values, idempotencyKey string, out interface{}) (int, error) {
	var body *strings.Reader
	if formData != nil {
		body = strings.NewReader(formData.Encode())
	} else {
		body = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	if formData != nil {
		req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Add("Authorization", "Bearer "+c.apiKey)
	if idempotencyKey != "" {
		req.Header.Add("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Сетевой сбой: запрос мог дойти до Stripe, поэтому вызывающий код
		// обязан перечитать удаленное состояние перед повтором create-операции
		return 0, domain.NewGatewayError(GatewayID, "network_error", "request failed", 0, true, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}

	return resp.StatusCode, nil
}

// apiError переводит тело ошибки Stripe в типизированную ошибку шлюза
func (c *Client) apiError(e *ErrorResponse, httpStatus int) *domain.GatewayError {
	retryable := httpStatus == http.StatusTooManyRequests ||
		(httpStatus >= 500 && httpStatus != http.StatusNotImplemented) ||
		stripego.ErrorType(e.Type) == stripego.ErrorTypeAPI

	return domain.NewGatewayError(GatewayID, e.Code, e.Message, httpStatus, retryable, nil)
}

// isResourceMissing проверяет ошибку "ресурс не существует"
func isResourceMissing(e *ErrorResponse) bool {
	return e != nil && stripego.ErrorCode(e.Code) == stripego.ErrorCodeResourceMissing
}
