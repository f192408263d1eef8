package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Dhoini/Billing-reconciliation/internal/domain"
)

// signatureTolerance максимальный возраст подписи вебхука
const signatureTolerance = 5 * time.Minute

// VerifySignature проверяет подпись вебхука Stripe.
// Заголовок имеет вид "t=<unix>,v1=<hex hmac>"; подпись считается как
// HMAC-SHA256 от строки "{t}.{payload}" на секрете вебхука.
func (c *Client) VerifySignature(payload []byte, sigHeader string) error {
	if sigHeader == "" {
		return fmt.Errorf("%w: missing signature header", domain.ErrVerificationFailed)
	}

	var timestamp int64
	var signatures []string

	for _, part := range strings.Split(sigHeader, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return fmt.Errorf("%w: malformed timestamp", domain.ErrVerificationFailed)
			}
			timestamp = ts
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	if timestamp == 0 || len(signatures) == 0 {
		return fmt.Errorf("%w: malformed signature header", domain.ErrVerificationFailed)
	}

	if time.Since(time.Unix(timestamp, 0)) > signatureTolerance {
		return fmt.Errorf("%w: signature timestamp too old", domain.ErrVerificationFailed)
	}

	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	fmt.Fprintf(mac, "%d.%s", timestamp, payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return nil
		}
	}

	return fmt.Errorf("%w: signature mismatch", domain.ErrVerificationFailed)
}

// eventEnvelope минимальная оболочка события из тела вебхука.
// Телу вебхука не доверяем дальше идентификатора: содержимое события
// перечитывается у Stripe через RetrieveEvent.
type eventEnvelope struct {
	ID     string `json:"id"`
	Object string `json:"object"`
	Type   string `json:"type"`
}

// ParseEventID извлекает идентификатор события из тела вебхука
func (c *Client) ParseEventID(payload []byte) (string, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "", fmt.Errorf("failed to parse webhook payload: %w", err)
	}

	if envelope.ID == "" || envelope.Object != "event" {
		return "", fmt.Errorf("%w: payload is not an event", domain.ErrVerificationFailed)
	}

	return envelope.ID, nil
}

// eventResponse представляет событие, прочитанное через API
type eventResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Type    string                 `json:"type"`
	Created int64                  `json:"created"`
	Data    map[string]interface{} `json:"data"`
	Error   *ErrorResponse         `json:"error,omitempty"`
}

// RetrieveEvent перечитывает событие на стороне Stripe по идентификатору
// и нормализует его в доменное представление
func (c *Client) RetrieveEvent(ctx context.Context, eventID string) (*domain.InboundEvent, error) {
	var resp eventResponse
	status, err := c.do(ctx, "GET", "/events/"+eventID, nil, "", &resp)
	if err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, c.apiError(resp.Error, status)
	}

	object, _ := resp.Data["object"].(map[string]interface{})
	if object == nil {
		return nil, fmt.Errorf("event %s has no data object", eventID)
	}

	event := &domain.InboundEvent{
		GatewayID:      GatewayID,
		ID:             resp.ID,
		RawType:        resp.Type,
		RemoteObjectID: getStringValue(object, "id"),
		CreatedAt:      time.Unix(resp.Created, 0),
	}

	if meta, ok := object["metadata"].(map[string]interface{}); ok {
		corr := domain.Correlation{
			PaymentID:    getStringValue(meta, "payment_id"),
			MembershipID: getStringValue(meta, "membership_id"),
			CustomerID:   getStringValue(meta, "customer_id"),
		}
		if corr.MembershipID != "" || corr.PaymentID != "" {
			event.Correlation = &corr
		}
	}

	switch resp.Type {
	case "charge.succeeded", "payment_intent.succeeded":
		event.Type = domain.EventTypePaymentSucceeded
		event.RemotePaymentID = event.RemoteObjectID
		event.RemoteCustomerID = getStringValue(object, "customer")
		event.AmountMinor = getInt64Value(object, "amount")
		event.Currency = getStringValue(object, "currency")

	case "payment_intent.payment_failed":
		event.Type = domain.EventTypePaymentFailed
		event.RemotePaymentID = event.RemoteObjectID
		event.RemoteCustomerID = getStringValue(object, "customer")

	case "charge.refunded":
		event.Type = domain.EventTypePaymentRefunded
		event.RemotePaymentID = getStringValue(object, "payment_intent")
		if event.RemotePaymentID == "" {
			event.RemotePaymentID = event.RemoteObjectID
		}
		event.AmountMinor = getInt64Value(object, "amount_refunded")
		event.Currency = getStringValue(object, "currency")

	case "invoice.payment_succeeded":
		event.Type = domain.EventTypeInvoicePaid
		event.RemotePaymentID = getStringValue(object, "payment_intent")
		if event.RemotePaymentID == "" {
			event.RemotePaymentID = getStringValue(object, "charge")
		}
		event.RemoteSubscriptionID = getStringValue(object, "subscription")
		event.RemoteCustomerID = getStringValue(object, "customer")
		event.AmountMinor = getInt64Value(object, "amount_paid")
		event.TaxMinor = getInt64Value(object, "tax")
		event.Currency = getStringValue(object, "currency")
		event.IsRenewal = getStringValue(object, "billing_reason") == "subscription_cycle"
		event.LineItems = invoiceLineItems(object)
		event.PeriodEnd = invoicePeriodEnd(object)

	case "customer.subscription.created":
		event.Type = domain.EventTypeSubscriptionCreated
		event.RemoteSubscriptionID = event.RemoteObjectID
		event.RemoteCustomerID = getStringValue(object, "customer")
		event.PeriodEnd = getTimeValueFromUnix(object, "current_period_end")

	case "customer.subscription.updated":
		event.Type = domain.EventTypeSubscriptionUpdated
		event.RemoteSubscriptionID = event.RemoteObjectID
		event.RemoteCustomerID = getStringValue(object, "customer")
		event.PeriodEnd = getTimeValueFromUnix(object, "current_period_end")

	case "customer.subscription.deleted":
		event.Type = domain.EventTypeSubscriptionDeleted
		event.RemoteSubscriptionID = event.RemoteObjectID
		event.RemoteCustomerID = getStringValue(object, "customer")

	default:
		event.Type = domain.EventTypeUnknown
	}

	return event, nil
}

// invoiceLineItems извлекает позиции инвойса
func invoiceLineItems(object map[string]interface{}) []domain.LineItem {
	lines, ok := object["lines"].(map[string]interface{})
	if !ok {
		return nil
	}

	data, ok := lines["data"].([]interface{})
	if !ok {
		return nil
	}

	items := make([]domain.LineItem, 0, len(data))
	for _, raw := range data {
		line, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}

		amount := domain.FromMinorUnits(getInt64Value(line, "amount"))
		items = append(items, domain.LineItem{
			Title:     getStringValue(line, "description"),
			Quantity:  int(getInt64Value(line, "quantity")),
			UnitPrice: amount,
			Subtotal:  amount,
			Total:     amount,
			Recurring: true,
		})
	}

	return items
}

// invoicePeriodEnd извлекает конец оплаченного периода из первой позиции инвойса
func invoicePeriodEnd(object map[string]interface{}) *time.Time {
	lines, ok := object["lines"].(map[string]interface{})
	if !ok {
		return nil
	}

	data, ok := lines["data"].([]interface{})
	if !ok || len(data) == 0 {
		return nil
	}

	line, ok := data[0].(map[string]interface{})
	if !ok {
		return nil
	}

	period, ok := line["period"].(map[string]interface{})
	if !ok {
		return nil
	}

	return getTimeValueFromUnix(period, "end")
}

// getStringValue извлекает строку из разобранного JSON
func getStringValue(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// getInt64Value извлекает целое из разобранного JSON
func getInt64Value(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, err := v.Int64()
		if err == nil {
			return n
		}
	}
	return 0
}

// getTimeValueFromUnix извлекает время из unix-метки в разобранном JSON
func getTimeValueFromUnix(m map[string]interface{}, key string) *time.Time {
	ts := getInt64Value(m, key)
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0)
	return &t
}
