package paypal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Dhoini/Billing-reconciliation/internal/domain"
	"github.com/Dhoini/Billing-reconciliation/pkg/logger"
)

// GatewayID идентификатор шлюза redirect-платежей
const GatewayID = "paypal"

// apiVersion версия NVP API
const apiVersion = "124"

// Client представляет клиент для работы с NVP API PayPal.
// Реализует gateway.Adapter.
type Client struct {
	apiBase      string
	ipnVerifyURL string
	redirectBase string
	username     string
	password     string
	signature    string
	httpClient   *http.Client
	log          *logger.Logger
}

// Config конфигурация для клиента PayPal
type Config struct {
	Username     string
	Password     string
	Signature    string
	APIBase      string
	IPNVerifyURL string
	Sandbox      bool
}

// NewClient создает новый клиент PayPal
func NewClient(cfg Config, log *logger.Logger) *Client {
	redirectBase := "https://www.paypal.com/cgi-bin/webscr"
	if cfg.Sandbox {
		redirectBase = "https://www.sandbox.paypal.com/cgi-bin/webscr"
	}

	return &Client{
		apiBase:      cfg.APIBase,
		ipnVerifyURL: cfg.IPNVerifyURL,
		redirectBase: redirectBase,
		username:     cfg.Username,
		password:     cfg.Password,
		signature:    cfg.Signature,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		log:          log,
	}
}

// ID возвращает идентификатор шлюза
func (c *Client) ID() string {
	return GatewayID
}

// ExpressCheckoutURL строит URL перенаправления плательщика по токену сессии
func (c *Client) ExpressCheckoutURL(token string) string {
	return c.redirectBase + "?cmd=_express-checkout&token=" + url.QueryEscape(token)
}

// call выполняет NVP вызов и разбирает form-encoded ответ.
// Ответ с ACK, отличным от Success/SuccessWithWarning, превращается
// в типизированную ошибку шлюза с кодом и сообщением PayPal.
func (c *Client) call(ctx context.Context, method string, params url.Values) (url.Values, error) {
	form := url.Values{}
	form.Add("USER", c.username)
	form.Add("PWD", c.password)
	form.Add("SIGNATURE", c.signature)
	form.Add("VERSION", apiVersion)
	form.Add("METHOD", method)
	for key, values := range params {
		for _, value := range values {
			form.Add(key, value)
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.apiBase, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewGatewayError(GatewayID, "network_error", "request failed", 0, true, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse NVP response: %w", err)
	}

	ack := values.Get("ACK")
	if ack != "Success" && ack != "SuccessWithWarning" {
		code := values.Get("L_ERRORCODE0")
		message := values.Get("L_LONGMESSAGE0")
		if message == "" {
			message = values.Get("L_SHORTMESSAGE0")
		}

		retryable := resp.StatusCode >= 500 || ack == "Failure" && code == "10001" // internal error

		c.log.Warnw("PayPal NVP call failed", "method", method, "ack", ack, "code", code, "message", message)
		return nil, domain.NewGatewayError(GatewayID, code, message, resp.StatusCode, retryable, nil)
	}

	return values, nil
}
