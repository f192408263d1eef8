package paypal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Dhoini/Billing-reconciliation/internal/domain"
	"github.com/Dhoini/Billing-reconciliation/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIPNTestClient(verifyURL string) *Client {
	return NewClient(Config{
		Username:     "api_user",
		Password:     "api_pass",
		Signature:    "api_sig",
		IPNVerifyURL: verifyURL,
		Sandbox:      true,
	}, logger.New(logger.ERROR))
}

func TestVerifyIPN(t *testing.T) {
	rawBody := []byte("txn_type=recurring_payment&txn_id=TXN1")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		// Тело возвращается PayPal в исходном виде с префиксом валидации
		assert.Equal(t, "cmd=_notify-validate&"+string(rawBody), string(body))
		fmt.Fprint(w, "VERIFIED")
	}))
	defer srv.Close()

	c := newIPNTestClient(srv.URL)
	assert.NoError(t, c.VerifyIPN(context.Background(), rawBody))
}

func TestVerifyIPNInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "INVALID")
	}))
	defer srv.Close()

	c := newIPNTestClient(srv.URL)
	err := c.VerifyIPN(context.Background(), []byte("txn_type=web_accept"))
	assert.ErrorIs(t, err, domain.ErrVerificationFailed)
}

func TestVerifyIPNRejectsNonExactResponse(t *testing.T) {
	// Только точный ответ "VERIFIED" проходит
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "VERIFIED\n")
	}))
	defer srv.Close()

	c := newIPNTestClient(srv.URL)
	err := c.VerifyIPN(context.Background(), []byte("txn_type=web_accept"))
	assert.ErrorIs(t, err, domain.ErrVerificationFailed)
}

func TestVerifyIPNTransportFailure(t *testing.T) {
	c := newIPNTestClient("http://127.0.0.1:1")
	err := c.VerifyIPN(context.Background(), []byte("txn_type=web_accept"))
	assert.ErrorIs(t, err, domain.ErrVerificationFailed)
}

func TestParseIPNRecurringPayment(t *testing.T) {
	c := newIPNTestClient("")

	form := url.Values{}
	form.Set("txn_type", "recurring_payment")
	form.Set("ipn_track_id", "track_1")
	form.Set("txn_id", "TXN1")
	form.Set("recurring_payment_id", "I-PROFILE1")
	form.Set("payer_id", "PAYER1")
	form.Set("payment_status", "Completed")
	form.Set("mc_gross", "29.00")
	form.Set("tax", "2.32")
	form.Set("mc_currency", "USD")
	form.Set("next_payment_date", "02:00:00 Mar 15, 2026 PST")
	form.Set("custom", "pay-1|mem-1|cus-1")

	event, err := c.ParseIPN(form)
	require.NoError(t, err)

	assert.Equal(t, GatewayID, event.GatewayID)
	assert.Equal(t, domain.EventTypeInvoicePaid, event.Type)
	assert.True(t, event.IsRenewal)
	assert.Equal(t, "TXN1", event.RemotePaymentID)
	assert.Equal(t, "I-PROFILE1", event.RemoteSubscriptionID)
	assert.Equal(t, int64(2900), event.AmountMinor)
	assert.Equal(t, int64(232), event.TaxMinor)
	assert.NotNil(t, event.PeriodEnd)

	require.NotNil(t, event.Correlation)
	assert.Equal(t, "mem-1", event.Correlation.MembershipID)
}

func TestParseIPNProfileLifecycle(t *testing.T) {
	c := newIPNTestClient("")

	created, err := c.ParseIPN(url.Values{"txn_type": {"recurring_payment_profile_created"}})
	require.NoError(t, err)
	assert.Equal(t, domain.EventTypeSubscriptionCreated, created.Type)

	cancelled, err := c.ParseIPN(url.Values{"txn_type": {"recurring_payment_profile_cancel"}})
	require.NoError(t, err)
	assert.Equal(t, domain.EventTypeSubscriptionDeleted, cancelled.Type)

	failed, err := c.ParseIPN(url.Values{"txn_type": {"recurring_payment_failed"}})
	require.NoError(t, err)
	assert.Equal(t, domain.EventTypePaymentFailed, failed.Type)
}

func TestParseIPNOneOffPayment(t *testing.T) {
	c := newIPNTestClient("")

	form := url.Values{}
	form.Set("txn_type", "express_checkout")
	form.Set("txn_id", "TXN2")
	form.Set("payment_status", "Completed")
	form.Set("mc_gross", "10.00")

	event, err := c.ParseIPN(form)
	require.NoError(t, err)
	assert.Equal(t, domain.EventTypePaymentSucceeded, event.Type)
	assert.False(t, event.IsRenewal)
}

func TestParseIPNRefund(t *testing.T) {
	c := newIPNTestClient("")

	// Возврат приходит отрицательной суммой и ссылкой на исходную транзакцию
	form := url.Values{}
	form.Set("txn_type", "express_checkout")
	form.Set("txn_id", "TXN_REFUND")
	form.Set("parent_txn_id", "TXN2")
	form.Set("payment_status", "Refunded")
	form.Set("mc_gross", "-10.00")

	event, err := c.ParseIPN(form)
	require.NoError(t, err)
	assert.Equal(t, domain.EventTypePaymentRefunded, event.Type)
	assert.Equal(t, "TXN2", event.RemotePaymentID)
	assert.Equal(t, int64(1000), event.AmountMinor)
}

func TestParseIPNRefundWithoutTxnType(t *testing.T) {
	c := newIPNTestClient("")

	form := url.Values{}
	form.Set("parent_txn_id", "TXN2")
	form.Set("payment_status", "Reversed")
	form.Set("mc_gross", "-29.00")

	event, err := c.ParseIPN(form)
	require.NoError(t, err)
	assert.Equal(t, domain.EventTypePaymentRefunded, event.Type)
	assert.Equal(t, int64(2900), event.AmountMinor)
}

func TestParseIPNUnknownType(t *testing.T) {
	c := newIPNTestClient("")

	event, err := c.ParseIPN(url.Values{"txn_type": {"new_case"}})
	require.NoError(t, err)
	assert.Equal(t, domain.EventTypeUnknown, event.Type)
	assert.Equal(t, "new_case", event.RawType)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"29.00", 2900},
		{"29", 2900},
		{"0.07", 7},
		{"19.9", 1990},
		{"-10.50", -1050},
		{" 5.25 ", 525},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseAmount(tt.in))
		})
	}
}

func TestParsePayPalTime(t *testing.T) {
	got, err := parsePayPalTime("02:34:56 Jan 02, 2026 PST")
	require.NoError(t, err)
	assert.Equal(t, time.January, got.Month())
	assert.Equal(t, 2026, got.Year())

	_, err = parsePayPalTime("not a time")
	assert.Error(t, err)
}

func TestExpressCheckoutURL(t *testing.T) {
	sandbox := newIPNTestClient("")
	assert.Equal(t,
		"https://www.sandbox.paypal.com/cgi-bin/webscr?cmd=_express-checkout&token=EC-123",
		sandbox.ExpressCheckoutURL("EC-123"))

	live := NewClient(Config{}, logger.New(logger.ERROR))
	assert.True(t, strings.HasPrefix(live.ExpressCheckoutURL("EC-123"), "https://www.paypal.com/"))
}
