package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Dhoini/Billing-reconciliation/internal/domain"
	paypalGw "github.com/Dhoini/Billing-reconciliation/internal/gateway/paypal"
	stripeGw "github.com/Dhoini/Billing-reconciliation/internal/gateway/stripe"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newIPNVerifier поднимает эндпоинт верификации IPN с фиксированным ответом
func newIPNVerifier(t *testing.T, response string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(body), "cmd=_notify-validate&"))
		fmt.Fprint(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestWebhookService(verifierURL string, membershipRepo *fakeMembershipRepo, paymentRepo *fakePaymentRepo) WebhookService {
	log := testLogger()
	stripeClient := stripeGw.NewClient(stripeGw.Config{WebhookSecret: "whsec_test"}, nil, log)
	paypalClient := paypalGw.NewClient(paypalGw.Config{IPNVerifyURL: verifierURL, Sandbox: true}, log)
	reconciler := newTestReconciler(membershipRepo, paymentRepo, &fakeProducer{})
	return NewWebhookService(stripeClient, paypalClient, membershipRepo, reconciler, &countingWebhookMetrics{}, log)
}

// newStripeEventWebhookService собирает сервис с клиентом Stripe,
// смотрящим на тестовый API сервер
func newStripeEventWebhookService(apiBase string, membershipRepo *fakeMembershipRepo, paymentRepo *fakePaymentRepo) WebhookService {
	log := testLogger()
	stripeClient := stripeGw.NewClient(stripeGw.Config{APIKey: "sk_test_1", WebhookSecret: "whsec_test", APIBase: apiBase}, nil, log)
	paypalClient := paypalGw.NewClient(paypalGw.Config{Sandbox: true}, log)
	reconciler := newTestReconciler(membershipRepo, paymentRepo, &fakeProducer{})
	return NewWebhookService(stripeClient, paypalClient, membershipRepo, reconciler, &countingWebhookMetrics{}, log)
}

// stripeSignature подписывает тело вебхука так же, как его подписывает Stripe
func stripeSignature(payload []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte("whsec_test"))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func renewalIPN(membership *domain.Membership, txnID string) []byte {
	form := url.Values{}
	form.Set("txn_type", "recurring_payment")
	form.Set("ipn_track_id", "track_"+txnID)
	form.Set("txn_id", txnID)
	form.Set("recurring_payment_id", membership.GatewaySubscriptionID)
	form.Set("payment_status", "Completed")
	form.Set("mc_gross", "29.00")
	form.Set("mc_currency", "USD")
	form.Set("custom", domain.EncodeCorrelation("", membership.ID.String(), membership.CustomerID.String()))
	return []byte(form.Encode())
}

func TestHandlePayPalIPNRenewal(t *testing.T) {
	verifier := newIPNVerifier(t, "VERIFIED")

	membership := pendingMembership()
	membership.GatewayID = "paypal"
	membership.Status = domain.MembershipStatusActive
	membership.TimesBilled = 1
	membership.GatewaySubscriptionID = "I-PROFILE1"

	membershipRepo := newFakeMembershipRepo(membership)
	paymentRepo := newFakePaymentRepo()
	svc := newTestWebhookService(verifier.URL, membershipRepo, paymentRepo)

	outcome := svc.HandlePayPalIPN(context.Background(), renewalIPN(membership, "TXN1"))

	require.True(t, outcome.IsOk(), "outcome: %s %s %v", outcome, outcome.Reason, outcome.Err)
	assert.Equal(t, 2, membership.TimesBilled)

	recorded, err := paymentRepo.GetByGatewayPaymentID(context.Background(), "paypal", "TXN1")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionTypeRenewal, recorded.TransactionType)

	// Повторная доставка того же IPN игнорируется
	outcome = svc.HandlePayPalIPN(context.Background(), renewalIPN(membership, "TXN1"))
	assert.True(t, outcome.IsIgnorable())
	assert.Equal(t, 2, membership.TimesBilled)
}

func TestHandlePayPalIPNRejected(t *testing.T) {
	verifier := newIPNVerifier(t, "INVALID")
	svc := newTestWebhookService(verifier.URL, newFakeMembershipRepo(), newFakePaymentRepo())

	outcome := svc.HandlePayPalIPN(context.Background(), []byte("txn_type=recurring_payment"))

	require.True(t, outcome.IsFatal())
	assert.ErrorIs(t, outcome.Err, domain.ErrVerificationFailed)
}

func TestHandlePayPalIPNUnknownMembership(t *testing.T) {
	verifier := newIPNVerifier(t, "VERIFIED")
	svc := newTestWebhookService(verifier.URL, newFakeMembershipRepo(), newFakePaymentRepo())

	form := url.Values{}
	form.Set("txn_type", "recurring_payment")
	form.Set("txn_id", "TXN_GHOST")
	form.Set("recurring_payment_id", "I-UNKNOWN")
	form.Set("mc_gross", "29.00")

	// Событие чужой системы: шлюз получает успех и не повторяет доставку
	outcome := svc.HandlePayPalIPN(context.Background(), []byte(form.Encode()))
	assert.True(t, outcome.IsIgnorable())
}

func TestHandlePayPalIPNWrongGateway(t *testing.T) {
	verifier := newIPNVerifier(t, "VERIFIED")

	// Членство оформлено через карточный шлюз, IPN пришел от PayPal
	membership := pendingMembership()
	membership.GatewayID = "stripe"
	membership.GatewaySubscriptionID = "sub_1"

	membershipRepo := newFakeMembershipRepo(membership)
	svc := newTestWebhookService(verifier.URL, membershipRepo, newFakePaymentRepo())

	form := url.Values{}
	form.Set("txn_type", "recurring_payment")
	form.Set("txn_id", "TXN2")
	form.Set("mc_gross", "29.00")
	form.Set("custom", domain.EncodeCorrelation("", membership.ID.String(), membership.CustomerID.String()))

	outcome := svc.HandlePayPalIPN(context.Background(), []byte(form.Encode()))
	assert.True(t, outcome.IsIgnorable())
	assert.Equal(t, "membership belongs to another gateway", outcome.Reason)
}

func TestHandlePayPalIPNRefundWithoutMembership(t *testing.T) {
	verifier := newIPNVerifier(t, "VERIFIED")

	// Исходное списание записано, но возврат не несет ни корреляции,
	// ни подписки: возврату достаточно самого платежа
	payment := &domain.Payment{
		ID:               uuid.New(),
		MembershipID:     uuid.New(),
		Status:           domain.PaymentStatusCompleted,
		GatewayID:        "paypal",
		GatewayPaymentID: "TXN9",
		Total:            29.00,
		Currency:         "USD",
	}
	paymentRepo := newFakePaymentRepo(payment)
	svc := newTestWebhookService(verifier.URL, newFakeMembershipRepo(), paymentRepo)

	form := url.Values{}
	form.Set("txn_type", "express_checkout")
	form.Set("txn_id", "TXN9_R")
	form.Set("parent_txn_id", "TXN9")
	form.Set("payment_status", "Refunded")
	form.Set("mc_gross", "-29.00")

	outcome := svc.HandlePayPalIPN(context.Background(), []byte(form.Encode()))

	require.True(t, outcome.IsOk(), "outcome: %s %s %v", outcome, outcome.Reason, outcome.Err)
	assert.Equal(t, domain.PaymentStatusRefunded, payment.Status)
	assert.Equal(t, 29.00, payment.Refunded)
}

func TestHandleStripeEventSubscriptionUpdatedSyncsExpiration(t *testing.T) {
	membership := pendingMembership()
	membership.Status = domain.MembershipStatusActive
	membership.GatewaySubscriptionID = "sub_1"
	oldExpiration := time.Now().UTC().AddDate(0, 0, 10)
	membership.DateExpiration = &oldExpiration

	periodEnd := time.Now().Add(35 * 24 * time.Hour).Truncate(time.Second)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/events/evt_upd", r.URL.Path)
		fmt.Fprintf(w, `{
			"id": "evt_upd",
			"object": "event",
			"type": "customer.subscription.updated",
			"created": %d,
			"data": {"object": {"id": "sub_1", "object": "subscription", "customer": "cus_1", "current_period_end": %d}}
		}`, time.Now().Unix(), periodEnd.Unix())
	}))
	t.Cleanup(srv.Close)

	membershipRepo := newFakeMembershipRepo(membership)
	svc := newStripeEventWebhookService(srv.URL, membershipRepo, newFakePaymentRepo())

	payload := []byte(`{"id":"evt_upd","object":"event","type":"customer.subscription.updated"}`)
	outcome := svc.HandleStripeEvent(context.Background(), payload, stripeSignature(payload))

	// Сдвиг границы периода на стороне шлюза доходит до даты истечения
	require.True(t, outcome.IsOk(), "outcome: %s %s %v", outcome, outcome.Reason, outcome.Err)
	require.NotNil(t, membership.DateExpiration)
	assert.True(t, membership.DateExpiration.After(oldExpiration))
	assert.False(t, membership.DateExpiration.Before(periodEnd))

	// Повторная доставка без изменений игнорируется
	outcome = svc.HandleStripeEvent(context.Background(), payload, stripeSignature(payload))
	assert.True(t, outcome.IsIgnorable())
}

func TestHandlePayPalIPNUnknownType(t *testing.T) {
	verifier := newIPNVerifier(t, "VERIFIED")
	svc := newTestWebhookService(verifier.URL, newFakeMembershipRepo(), newFakePaymentRepo())

	outcome := svc.HandlePayPalIPN(context.Background(), []byte("txn_type=new_case&payment_status=Processed"))
	assert.True(t, outcome.IsIgnorable())
}

func TestHandleStripeEventBadSignature(t *testing.T) {
	svc := newTestWebhookService("http://unused.invalid", newFakeMembershipRepo(), newFakePaymentRepo())

	payload := []byte(`{"id":"evt_1","object":"event","type":"invoice.payment_succeeded"}`)
	outcome := svc.HandleStripeEvent(context.Background(), payload, "t=1,v1=deadbeef")

	require.True(t, outcome.IsFatal())
	assert.ErrorIs(t, outcome.Err, domain.ErrVerificationFailed)
}

func TestHandleStripeEventMissingSignature(t *testing.T) {
	svc := newTestWebhookService("http://unused.invalid", newFakeMembershipRepo(), newFakePaymentRepo())

	outcome := svc.HandleStripeEvent(context.Background(), []byte(`{}`), "")
	require.True(t, outcome.IsFatal())
	assert.ErrorIs(t, outcome.Err, domain.ErrVerificationFailed)
}
