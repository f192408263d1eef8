package stripe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/Dhoini/Billing-reconciliation/internal/domain"
	"github.com/Dhoini/Billing-reconciliation/internal/gateway"
)

// SubscriptionResponse представляет ответ API Stripe о подписке
type SubscriptionResponse struct {
	ID                 string            `json:"id"`
	Object             string            `json:"object"`
	Customer           string            `json:"customer"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Status             string            `json:"status"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CanceledAt         *int64            `json:"canceled_at"`
	LatestInvoice      *InvoiceExpanded  `json:"latest_invoice"`
	Metadata           map[string]string `json:"metadata"`
	TrialEnd           *int64            `json:"trial_end"`
	Created            int64             `json:"created"`
	Items              *SubscriptionItemsList `json:"items"`
	Error              *ErrorResponse    `json:"error,omitempty"`
}

// SubscriptionItemsList представляет список элементов подписки
type SubscriptionItemsList struct {
	Object  string             `json:"object"`
	HasMore bool               `json:"has_more"`
	Data    []SubscriptionItem `json:"data"`
}

// SubscriptionItem представляет элемент подписки
type SubscriptionItem struct {
	ID       string `json:"id"`
	Object   string `json:"object"`
	Price    *Price `json:"price"`
	Quantity int    `json:"quantity"`
}

// InvoiceExpanded представляет инвойс, раскрытый внутри подписки
type InvoiceExpanded struct {
	ID            string                 `json:"id"`
	PaymentIntent *PaymentIntentResponse `json:"payment_intent"`
}

// subscriptionIdempotencyKey выводит идемпотентный токен из аргументов создания
// подписки. Транспортный ретрай с тем же набором аргументов получает тот же
// токен, и Stripe возвращает уже созданную подписку вместо второй.
func subscriptionIdempotencyKey(customerID string, items []gateway.RemoteLineItem, start gateway.StartPolicy, correlation domain.Correlation) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%d|%s", customerID, start.Kind, start.Date.Unix(), correlation.String())
	for _, item := range items {
		fmt.Fprintf(h, "|%s:%d", item.PriceID, item.Quantity)
	}
	return "sub-" + hex.EncodeToString(h.Sum(nil))[:32]
}

// CreateSubscription создает подписку в Stripe
func (c *Client) CreateSubscription(ctx context.Context, customerID string, items []gateway.RemoteLineItem, start gateway.StartPolicy, paymentMethod string, correlation domain.Correlation) (*gateway.RemoteSubscription, error) {
	c.log.Debugw("Creating Stripe subscription", "customerID", customerID, "items", len(items))

	formData := url.Values{}
	formData.Add("customer", customerID)

	idx := 0
	for _, item := range items {
		if !item.Recurring {
			continue
		}
		formData.Add(fmt.Sprintf("items[%d][price]", idx), item.PriceID)
		formData.Add(fmt.Sprintf("items[%d][quantity]", idx), strconv.Itoa(item.Quantity))
		for ti, taxRateID := range item.TaxRateIDs {
			formData.Add(fmt.Sprintf("items[%d][tax_rates][%d]", idx, ti), taxRateID)
		}
		idx++
	}
	if idx == 0 {
		return nil, fmt.Errorf("%w: no recurring items for subscription", domain.ErrInvalidCart)
	}

	switch start.Kind {
	case gateway.StartTrialUntil:
		formData.Add("trial_end", strconv.FormatInt(start.Date.Unix(), 10))
	case gateway.StartAnchorAt:
		// Начальный платеж уже взят отдельным интентом: первый цикл подписки
		// привязывается к концу оплаченного периода без повторного списания
		formData.Add("billing_cycle_anchor", strconv.FormatInt(start.Date.Unix(), 10))
		formData.Add("proration_behavior", "none")
	}

	if paymentMethod != "" {
		formData.Add("default_payment_method", paymentMethod)
	}

	formData.Add("metadata[payment_id]", correlation.PaymentID)
	formData.Add("metadata[membership_id]", correlation.MembershipID)
	formData.Add("metadata[customer_id]", correlation.CustomerID)
	formData.Add("expand[]", "latest_invoice.payment_intent")

	idempotencyKey := subscriptionIdempotencyKey(customerID, items, start, correlation)

	var resp SubscriptionResponse
	status, err := c.do(ctx, "POST", "/subscriptions", formData, idempotencyKey, &resp)
	if err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, c.apiError(resp.Error, status)
	}

	c.log.Infow("Successfully created Stripe subscription", "subscriptionID", resp.ID, "status", resp.Status)
	return toRemoteSubscription(&resp), nil
}

// UpdateSubscription заменяет позиции подписки. Старые элементы удаляются,
// новые добавляются одним запросом.
func (c *Client) UpdateSubscription(ctx context.Context, id string, items []gateway.RemoteLineItem, proration gateway.ProrationPolicy) (*gateway.RemoteSubscription, error) {
	c.log.Debugw("Updating Stripe subscription", "subscriptionID", id, "proration", proration)

	existing, err := c.getSubscription(ctx, id)
	if err != nil {
		return nil, err
	}

	formData := url.Values{}
	formData.Add("proration_behavior", string(proration))

	idx := 0
	if existing.Items != nil {
		for _, item := range existing.Items.Data {
			formData.Add(fmt.Sprintf("items[%d][id]", idx), item.ID)
			formData.Add(fmt.Sprintf("items[%d][deleted]", idx), "true")
			idx++
		}
	}

	for _, item := range items {
		if !item.Recurring {
			continue
		}
		formData.Add(fmt.Sprintf("items[%d][price]", idx), item.PriceID)
		formData.Add(fmt.Sprintf("items[%d][quantity]", idx), strconv.Itoa(item.Quantity))
		for ti, taxRateID := range item.TaxRateIDs {
			formData.Add(fmt.Sprintf("items[%d][tax_rates][%d]", idx, ti), taxRateID)
		}
		idx++
	}

	var resp SubscriptionResponse
	status, err := c.do(ctx, "POST", "/subscriptions/"+id, formData, "", &resp)
	if err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, c.apiError(resp.Error, status)
	}

	c.log.Infow("Successfully updated Stripe subscription", "subscriptionID", resp.ID)
	return toRemoteSubscription(&resp), nil
}

// CancelSubscription немедленно отменяет подписку в Stripe.
// Отсутствующая или уже отмененная подписка считается успехом.
func (c *Client) CancelSubscription(ctx context.Context, id string) error {
	c.log.Debugw("Cancelling Stripe subscription", "subscriptionID", id)

	var resp SubscriptionResponse
	status, err := c.do(ctx, "DELETE", "/subscriptions/"+id, nil, "", &resp)
	if err != nil {
		return err
	}

	if resp.Error != nil {
		if isResourceMissing(resp.Error) {
			c.log.Debugw("Stripe subscription already gone", "subscriptionID", id)
			return nil
		}
		return c.apiError(resp.Error, status)
	}

	c.log.Infow("Successfully cancelled Stripe subscription", "subscriptionID", id)
	return nil
}

// getSubscription получает подписку из Stripe по ID
func (c *Client) getSubscription(ctx context.Context, id string) (*SubscriptionResponse, error) {
	var resp SubscriptionResponse
	status, err := c.do(ctx, "GET", "/subscriptions/"+id, nil, "", &resp)
	if err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, c.apiError(resp.Error, status)
	}

	return &resp, nil
}

// toRemoteSubscription преобразует ответ Stripe в модель шлюза
func toRemoteSubscription(resp *SubscriptionResponse) *gateway.RemoteSubscription {
	sub := &gateway.RemoteSubscription{
		ID:               resp.ID,
		Status:           resp.Status,
		CurrentPeriodEnd: time.Unix(resp.CurrentPeriodEnd, 0),
	}

	if resp.LatestInvoice != nil {
		sub.LatestInvoiceID = resp.LatestInvoice.ID
		if resp.LatestInvoice.PaymentIntent != nil {
			sub.ClientSecret = resp.LatestInvoice.PaymentIntent.ClientSecret
		}
	}

	return sub
}

// MaxBillingCycleAnchor возвращает самую позднюю допустимую точку привязки
// первого цикла: сейчас плюс один платежный период. День месяца прижимается
// к последнему дню короткого месяца, чтобы 31-е не перетекало в следующий.
func MaxBillingCycleAnchor(duration int, durationUnit string, from time.Time) time.Time {
	if duration <= 0 {
		duration = 1
	}

	switch durationUnit {
	case "day":
		return from.AddDate(0, 0, duration)
	case "week":
		return from.AddDate(0, 0, 7*duration)
	case "year":
		return from.AddDate(duration, 0, 0)
	default: // month
		year, month, day := from.Date()
		target := time.Date(year, month+time.Month(duration), 1, from.Hour(), from.Minute(), from.Second(), 0, from.Location())
		lastDay := target.AddDate(0, 1, -1).Day()
		if day > lastDay {
			day = lastDay
		}
		return time.Date(target.Year(), target.Month(), day, from.Hour(), from.Minute(), from.Second(), 0, from.Location())
	}
}
