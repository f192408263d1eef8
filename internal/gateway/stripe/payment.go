package stripe

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/Dhoini/Billing-reconciliation/internal/gateway"
)

// PaymentIntentResponse представляет ответ API Stripe о платежном намерении
type PaymentIntentResponse struct {
	ID           string            `json:"id"`
	Object       string            `json:"object"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	ClientSecret string            `json:"client_secret"`
	Customer     string            `json:"customer"`
	Metadata     map[string]string `json:"metadata"`
	Error        *ErrorResponse    `json:"error,omitempty"`
}

// SetupIntentResponse представляет ответ API Stripe о намерении сохранить карту
type SetupIntentResponse struct {
	ID           string            `json:"id"`
	Object       string            `json:"object"`
	Status       string            `json:"status"`
	ClientSecret string            `json:"client_secret"`
	Customer     string            `json:"customer"`
	Metadata     map[string]string `json:"metadata"`
	Error        *ErrorResponse    `json:"error,omitempty"`
}

// RefundResponse представляет ответ API Stripe о возврате
type RefundResponse struct {
	ID     string         `json:"id"`
	Object string         `json:"object"`
	Amount int64          `json:"amount"`
	Status string         `json:"status"`
	Error  *ErrorResponse `json:"error,omitempty"`
}

// Префиксы идентификаторов интентов: по ним различается тип сохраненного
// в мете платежа намерения
const (
	PaymentIntentPrefix = "pi_"
	SetupIntentPrefix   = "seti_"
)

// CreatePaymentIntent создает платежное намерение на сумму начального платежа
func (c *Client) CreatePaymentIntent(ctx context.Context, customerID string, amountMinor int64, currency string, meta map[string]string) (*PaymentIntentResponse, error) {
	c.log.Debugw("Creating Stripe payment intent", "customerID", customerID, "amount", amountMinor, "currency", currency)

	formData := url.Values{}
	formData.Add("customer", customerID)
	formData.Add("amount", strconv.FormatInt(amountMinor, 10))
	formData.Add("currency", strings.ToLower(currency))
	formData.Add("setup_future_usage", "off_session")
	for key, value := range meta {
		formData.Add(fmt.Sprintf("metadata[%s]", key), value)
	}

	var resp PaymentIntentResponse
	status, err := c.do(ctx, "POST", "/payment_intents", formData, "", &resp)
	if err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, c.apiError(resp.Error, status)
	}

	c.log.Infow("Successfully created Stripe payment intent", "paymentIntentID", resp.ID)
	return &resp, nil
}

// GetPaymentIntent получает платежное намерение по ID
func (c *Client) GetPaymentIntent(ctx context.Context, id string) (*PaymentIntentResponse, error) {
	var resp PaymentIntentResponse
	status, err := c.do(ctx, "GET", "/payment_intents/"+id, nil, "", &resp)
	if err != nil {
		return nil, err
	}

	if resp.Error != nil {
		if isResourceMissing(resp.Error) {
			return nil, nil
		}
		return nil, c.apiError(resp.Error, status)
	}

	return &resp, nil
}

// UpdatePaymentIntent обновляет сумму и валюту существующего намерения.
// Используется, когда содержимое корзины изменилось между префлайтами.
func (c *Client) UpdatePaymentIntent(ctx context.Context, id string, amountMinor int64, currency string) (*PaymentIntentResponse, error) {
	formData := url.Values{}
	formData.Add("amount", strconv.FormatInt(amountMinor, 10))
	formData.Add("currency", strings.ToLower(currency))

	var resp PaymentIntentResponse
	status, err := c.do(ctx, "POST", "/payment_intents/"+id, formData, "", &resp)
	if err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, c.apiError(resp.Error, status)
	}

	return &resp, nil
}

// CreateSetupIntent создает намерение сохранить платежный метод.
// Применяется для бесплатных заказов и пробных периодов, где начального
// списания нет, но карта понадобится при первом продлении.
func (c *Client) CreateSetupIntent(ctx context.Context, customerID string, meta map[string]string) (*SetupIntentResponse, error) {
	c.log.Debugw("Creating Stripe setup intent", "customerID", customerID)

	formData := url.Values{}
	formData.Add("customer", customerID)
	formData.Add("usage", "off_session")
	for key, value := range meta {
		formData.Add(fmt.Sprintf("metadata[%s]", key), value)
	}

	var resp SetupIntentResponse
	status, err := c.do(ctx, "POST", "/setup_intents", formData, "", &resp)
	if err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, c.apiError(resp.Error, status)
	}

	c.log.Infow("Successfully created Stripe setup intent", "setupIntentID", resp.ID)
	return &resp, nil
}

// CreateCharge создает разовое списание с сохраненного платежного метода клиента
func (c *Client) CreateCharge(ctx context.Context, customerID string, amountMinor int64, currency, description string, meta map[string]string) (*gateway.RemoteCharge, error) {
	c.log.Debugw("Creating Stripe off-session charge", "customerID", customerID, "amount", amountMinor)

	formData := url.Values{}
	formData.Add("customer", customerID)
	formData.Add("amount", strconv.FormatInt(amountMinor, 10))
	formData.Add("currency", strings.ToLower(currency))
	formData.Add("confirm", "true")
	formData.Add("off_session", "true")
	if description != "" {
		formData.Add("description", description)
	}
	for key, value := range meta {
		formData.Add(fmt.Sprintf("metadata[%s]", key), value)
	}

	var resp PaymentIntentResponse
	status, err := c.do(ctx, "POST", "/payment_intents", formData, "", &resp)
	if err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, c.apiError(resp.Error, status)
	}

	c.log.Infow("Successfully created Stripe charge", "paymentIntentID", resp.ID, "status", resp.Status)
	return &gateway.RemoteCharge{
		ID:           resp.ID,
		Status:       resp.Status,
		ClientSecret: resp.ClientSecret,
	}, nil
}

// CreateRefund создает возврат по удаленному платежу.
// Нулевая сумма означает полный возврат.
func (c *Client) CreateRefund(ctx context.Context, remotePaymentID string, amountMinor int64) error {
	c.log.Debugw("Creating Stripe refund", "remotePaymentID", remotePaymentID, "amount", amountMinor)

	formData := url.Values{}
	if strings.HasPrefix(remotePaymentID, PaymentIntentPrefix) {
		formData.Add("payment_intent", remotePaymentID)
	} else {
		formData.Add("charge", remotePaymentID)
	}
	if amountMinor > 0 {
		formData.Add("amount", strconv.FormatInt(amountMinor, 10))
	}

	var resp RefundResponse
	status, err := c.do(ctx, "POST", "/refunds", formData, "", &resp)
	if err != nil {
		return err
	}

	if resp.Error != nil {
		return c.apiError(resp.Error, status)
	}

	c.log.Infow("Successfully created Stripe refund", "refundID", resp.ID, "status", resp.Status)
	return nil
}
