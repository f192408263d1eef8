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
)

// verifiedResponse единственное тело ответа, подтверждающее подлинность IPN
const verifiedResponse = "VERIFIED"

// VerifyIPN подтверждает подлинность IPN обратным запросом к PayPal:
// полученное тело возвращается на эндпоинт верификации с префиксом
// cmd=_notify-validate, и только точный ответ "VERIFIED" проходит.
// Любой транспортный сбой или другое тело — отказ без мутации состояния.
func (c *Client) VerifyIPN(ctx context.Context, rawBody []byte) error {
	body := "cmd=_notify-validate&" + string(rawBody)

	req, err := http.NewRequestWithContext(ctx, "POST", c.ipnVerifyURL, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: failed to build verification request: %v", domain.ErrVerificationFailed, err)
	}
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Add("User-Agent", "Billing-reconciliation-IPN-Verifier")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: verification round-trip failed: %v", domain.ErrVerificationFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read verification response: %v", domain.ErrVerificationFailed, err)
	}

	if string(respBody) != verifiedResponse {
		c.log.Warnw("IPN verification rejected", "response", string(respBody), "status", resp.StatusCode)
		return fmt.Errorf("%w: verification response %q", domain.ErrVerificationFailed, string(respBody))
	}

	return nil
}

// ParseIPN нормализует form-encoded поля IPN в доменное событие.
// Поле custom несет токен корреляции payment_id|membership_id|customer_id.
func (c *Client) ParseIPN(form url.Values) (*domain.InboundEvent, error) {
	txnType := form.Get("txn_type")
	paymentStatus := form.Get("payment_status")

	event := &domain.InboundEvent{
		GatewayID:            GatewayID,
		ID:                   form.Get("ipn_track_id"),
		RawType:              txnType,
		RemotePaymentID:      form.Get("txn_id"),
		RemoteSubscriptionID: form.Get("recurring_payment_id"),
		RemoteCustomerID:     form.Get("payer_id"),
		Currency:             form.Get("mc_currency"),
		CreatedAt:            time.Now().UTC(),
	}

	if custom := form.Get("custom"); custom != "" {
		if corr, err := domain.ParseCorrelation(custom); err == nil {
			event.Correlation = &corr
		} else {
			c.log.Warnw("IPN custom field is not a correlation token", "custom", custom)
		}
	}

	if gross := form.Get("mc_gross"); gross != "" {
		event.AmountMinor = parseAmount(gross)
	} else if amount := form.Get("amount"); amount != "" {
		event.AmountMinor = parseAmount(amount)
	}
	if tax := form.Get("tax"); tax != "" {
		event.TaxMinor = parseAmount(tax)
	}

	switch txnType {
	case "recurring_payment_profile_created":
		event.Type = domain.EventTypeSubscriptionCreated

	case "recurring_payment":
		event.Type = domain.EventTypeInvoicePaid
		event.IsRenewal = true
		if next := form.Get("next_payment_date"); next != "" {
			if t, err := parsePayPalTime(next); err == nil {
				event.PeriodEnd = &t
			}
		}

	case "recurring_payment_profile_cancel":
		event.Type = domain.EventTypeSubscriptionDeleted

	case "recurring_payment_failed", "recurring_payment_suspended", "recurring_payment_suspended_due_to_max_failed_payment":
		event.Type = domain.EventTypePaymentFailed

	case "web_accept", "express_checkout", "cart":
		switch paymentStatus {
		case "Completed":
			event.Type = domain.EventTypePaymentSucceeded
		case "Refunded", "Reversed":
			event.Type = domain.EventTypePaymentRefunded
			event.RemotePaymentID = form.Get("parent_txn_id")
			if event.AmountMinor < 0 {
				event.AmountMinor = -event.AmountMinor
			}
		case "Denied", "Failed", "Expired":
			event.Type = domain.EventTypePaymentFailed
		default:
			event.Type = domain.EventTypeUnknown
		}

	default:
		// Возвраты приходят и без txn_type, только со статусом
		switch paymentStatus {
		case "Refunded", "Reversed":
			event.Type = domain.EventTypePaymentRefunded
			event.RemotePaymentID = form.Get("parent_txn_id")
			if event.AmountMinor < 0 {
				event.AmountMinor = -event.AmountMinor
			}
		default:
			event.Type = domain.EventTypeUnknown
		}
	}

	return event, nil
}

// parseAmount разбирает десятичную сумму NVP в минимальные единицы
func parseAmount(s string) int64 {
	var whole, frac int64
	var negative bool

	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") {
		negative = true
		s = s[1:]
	}

	parts := strings.SplitN(s, ".", 2)
	fmt.Sscanf(parts[0], "%d", &whole)
	if len(parts) == 2 {
		fracStr := parts[1]
		if len(fracStr) > 2 {
			fracStr = fracStr[:2]
		}
		for len(fracStr) < 2 {
			fracStr += "0"
		}
		fmt.Sscanf(fracStr, "%d", &frac)
	}

	result := whole*100 + frac
	if negative {
		result = -result
	}
	return result
}

// parsePayPalTime разбирает метку времени IPN ("02:34:56 Jan 02, 2006 PST")
func parsePayPalTime(s string) (time.Time, error) {
	for _, layout := range []string{
		"15:04:05 Jan 02, 2006 MST",
		"15:04:05 Jan 2, 2006 MST",
		time.RFC3339,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format: %q", s)
}
