package service

import (
	"context"
	"sync"
	"time"

	"github.com/Dhoini/Billing-reconciliation/internal/domain"
	"github.com/Dhoini/Billing-reconciliation/internal/gateway"
	"github.com/Dhoini/Billing-reconciliation/pkg/logger"
	"github.com/google/uuid"
)

func testLogger() *logger.Logger {
	return logger.New(logger.ERROR)
}

// fakeMembershipRepo хранит членства в памяти
type fakeMembershipRepo struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*domain.Membership
	updates int
}

func newFakeMembershipRepo(memberships ...*domain.Membership) *fakeMembershipRepo {
	repo := &fakeMembershipRepo{byID: make(map[uuid.UUID]*domain.Membership)}
	for _, m := range memberships {
		repo.byID[m.ID] = m
	}
	return repo
}

func (r *fakeMembershipRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.byID[id]; ok {
		return m, nil
	}
	return nil, domain.ErrMembershipNotFound
}

func (r *fakeMembershipRepo) GetByGatewaySubscriptionID(_ context.Context, gatewayID, subscriptionID string) (*domain.Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.byID {
		if m.GatewayID == gatewayID && m.GatewaySubscriptionID == subscriptionID && subscriptionID != "" {
			return m, nil
		}
	}
	return nil, domain.ErrMembershipNotFound
}

func (r *fakeMembershipRepo) GetByCustomerGateway(_ context.Context, customerID uuid.UUID, gatewayID string, amount float64) (*domain.Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.byID {
		if m.CustomerID == customerID && m.GatewayID == gatewayID && (m.Amount == amount || m.InitialAmount == amount) {
			return m, nil
		}
	}
	return nil, domain.ErrMembershipNotFound
}

func (r *fakeMembershipRepo) GetExpiringBefore(_ context.Context, deadline time.Time, limit int) ([]domain.Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Membership
	for _, m := range r.byID {
		if m.DateExpiration != nil && m.DateExpiration.Before(deadline) {
			out = append(out, *m)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeMembershipRepo) Create(_ context.Context, membership *domain.Membership) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[membership.ID] = membership
	return nil
}

func (r *fakeMembershipRepo) Update(_ context.Context, membership *domain.Membership) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[membership.ID] = membership
	r.updates++
	return nil
}

// fakePaymentRepo хранит платежи в памяти и воспроизводит уникальность
// по (gateway_id, gateway_payment_id)
type fakePaymentRepo struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*domain.Payment
	created int
}

func newFakePaymentRepo(payments ...*domain.Payment) *fakePaymentRepo {
	repo := &fakePaymentRepo{byID: make(map[uuid.UUID]*domain.Payment)}
	for _, p := range payments {
		repo.byID[p.ID] = p
	}
	return repo
}

func (r *fakePaymentRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byID[id]; ok {
		return p, nil
	}
	return nil, domain.ErrPaymentNotFound
}

func (r *fakePaymentRepo) GetByGatewayPaymentID(_ context.Context, gatewayID, gatewayPaymentID string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byID {
		if p.GatewayID == gatewayID && p.GatewayPaymentID == gatewayPaymentID && gatewayPaymentID != "" {
			return p, nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}

func (r *fakePaymentRepo) GetPendingByMembershipID(_ context.Context, membershipID uuid.UUID) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byID {
		if p.MembershipID == membershipID && p.Status == domain.PaymentStatusPending {
			return p, nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}

func (r *fakePaymentRepo) Create(_ context.Context, payment *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if payment.GatewayPaymentID != "" {
		for _, p := range r.byID {
			if p.GatewayID == payment.GatewayID && p.GatewayPaymentID == payment.GatewayPaymentID {
				return domain.ErrDuplicatePayment
			}
		}
	}
	r.byID[payment.ID] = payment
	r.created++
	return nil
}

func (r *fakePaymentRepo) Update(_ context.Context, payment *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[payment.ID] = payment
	return nil
}

// fakeLocker воспроизводит контракт распределенной блокировки в памяти
type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired []string
	released []string
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (l *fakeLocker) TryAcquire(_ context.Context, scopeKey string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[scopeKey] {
		return false, nil
	}
	l.held[scopeKey] = true
	l.acquired = append(l.acquired, scopeKey)
	return true, nil
}

func (l *fakeLocker) Release(_ context.Context, scopeKey string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, scopeKey)
	l.released = append(l.released, scopeKey)
	return nil
}

// fakeProducer записывает опубликованные события вместо отправки в Kafka
type fakeProducer struct {
	mu               sync.Mutex
	membershipEvents []string
	paymentEvents    []string
}

func (p *fakeProducer) PublishMembershipEvent(_ context.Context, eventType string, _ *domain.Membership) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.membershipEvents = append(p.membershipEvents, eventType)
	return nil
}

func (p *fakeProducer) PublishPaymentEvent(_ context.Context, eventType string, _ *domain.Payment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paymentEvents = append(p.paymentEvents, eventType)
	return nil
}

func (p *fakeProducer) Close() error { return nil }

// nopPaymentMetrics метрики платежей, не требующие регистратора
type nopPaymentMetrics struct{}

func (nopPaymentMetrics) IncPaymentCreated(_, _ string) {}

func (nopPaymentMetrics) IncPaymentCompleted(_, _ string) {}

func (nopPaymentMetrics) IncPaymentFailed(_, _ string) {}

func (nopPaymentMetrics) IncPaymentRefunded(_, _ string) {}

func (nopPaymentMetrics) IncPaymentDuplicate(_ string) {}

func (nopPaymentMetrics) ObservePaymentAmount(_ float64, _, _ string) {}

// countingWebhookMetrics считает вызовы, интересные тестам
type countingWebhookMetrics struct {
	mu       sync.Mutex
	deferred int
}

func (m *countingWebhookMetrics) IncEventReceived(_, _ string) {}

func (m *countingWebhookMetrics) IncEventOutcome(_, _ string) {}

func (m *countingWebhookMetrics) IncVerificationFailed(_ string) {}

func (m *countingWebhookMetrics) ObserveProcessingDuration(_ string, _ time.Duration) {}

func (m *countingWebhookMetrics) IncCheckoutDeferred() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deferred++
}

// fakeAdapter реализует gateway.Adapter для тестов сервисов
type fakeAdapter struct {
	id          string
	updateErr   error
	cancelErr   error
	createdSubs int
	cancelled   []string
	lastStart   gateway.StartPolicy
}

func (a *fakeAdapter) ID() string {
	if a.id == "" {
		return "stripe"
	}
	return a.id
}

func (a *fakeAdapter) GetOrCreateCustomer(_ context.Context, _ gateway.CustomerRef, existingRemoteID string) (*gateway.RemoteCustomer, error) {
	if existingRemoteID != "" {
		return &gateway.RemoteCustomer{ID: existingRemoteID}, nil
	}
	return &gateway.RemoteCustomer{ID: "cus_fake"}, nil
}

func (a *fakeAdapter) BuildLineItems(_ context.Context, cart *domain.Cart) ([]gateway.RemoteLineItem, error) {
	if cart == nil || len(cart.LineItems) == 0 {
		return nil, domain.ErrInvalidCart
	}
	items := make([]gateway.RemoteLineItem, 0, len(cart.LineItems))
	for _, li := range cart.LineItems {
		items = append(items, gateway.RemoteLineItem{
			PriceID:     "price_" + li.ProductID,
			Quantity:    li.Quantity,
			AmountMinor: domain.ToMinorUnits(li.UnitPrice),
			Currency:    cart.Currency,
			Recurring:   li.Recurring,
		})
	}
	return items, nil
}

func (a *fakeAdapter) CreateSubscription(_ context.Context, _ string, _ []gateway.RemoteLineItem, start gateway.StartPolicy, _ string, _ domain.Correlation) (*gateway.RemoteSubscription, error) {
	a.createdSubs++
	a.lastStart = start
	return &gateway.RemoteSubscription{ID: "sub_fake_1", Status: "active"}, nil
}

func (a *fakeAdapter) UpdateSubscription(_ context.Context, id string, _ []gateway.RemoteLineItem, _ gateway.ProrationPolicy) (*gateway.RemoteSubscription, error) {
	if a.updateErr != nil {
		return nil, a.updateErr
	}
	return &gateway.RemoteSubscription{ID: id, Status: "active"}, nil
}

func (a *fakeAdapter) CancelSubscription(_ context.Context, id string) error {
	a.cancelled = append(a.cancelled, id)
	return a.cancelErr
}

func (a *fakeAdapter) CreateCharge(_ context.Context, _ string, _ int64, _, _ string, _ map[string]string) (*gateway.RemoteCharge, error) {
	return &gateway.RemoteCharge{ID: "ch_fake", Status: "succeeded"}, nil
}

func (a *fakeAdapter) CreateRefund(_ context.Context, _ string, _ int64) error { return nil }

func (a *fakeAdapter) RetrieveEvent(_ context.Context, _ string) (*domain.InboundEvent, error) {
	return nil, domain.ErrNotSupported
}
