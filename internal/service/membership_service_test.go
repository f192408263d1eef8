package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Dhoini/Billing-reconciliation/internal/domain"
	"github.com/Dhoini/Billing-reconciliation/internal/gateway"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMembershipService(repo *fakeMembershipRepo, adapter *fakeAdapter, producer *fakeProducer) MembershipService {
	adapters := map[string]gateway.Adapter{adapter.ID(): adapter}
	return NewMembershipService(repo, adapters, nil, producer, testLogger())
}

func TestActivate(t *testing.T) {
	membership := pendingMembership()
	repo := newFakeMembershipRepo(membership)
	producer := &fakeProducer{}
	svc := newTestMembershipService(repo, &fakeAdapter{}, producer)

	periodEnd := time.Now().UTC().AddDate(0, 1, 0)
	require.NoError(t, svc.Activate(context.Background(), membership, &periodEnd, false))

	assert.Equal(t, domain.MembershipStatusActive, membership.Status)
	require.NotNil(t, membership.DateExpiration)
	assert.False(t, membership.DateExpiration.Before(periodEnd))
	assert.Contains(t, producer.membershipEvents, EventMembershipActivated)
}

func TestActivateTrial(t *testing.T) {
	membership := pendingMembership()
	svc := newTestMembershipService(newFakeMembershipRepo(membership), &fakeAdapter{}, &fakeProducer{})

	trialEnd := time.Now().UTC().AddDate(0, 0, 14)
	require.NoError(t, svc.Activate(context.Background(), membership, &trialEnd, true))
	assert.Equal(t, domain.MembershipStatusTrialing, membership.Status)
}

func TestCancelBestEffortRemote(t *testing.T) {
	membership := pendingMembership()
	membership.Status = domain.MembershipStatusActive
	membership.GatewaySubscriptionID = "sub_1"
	repo := newFakeMembershipRepo(membership)

	// Сбой отмены на стороне шлюза не блокирует локальную отмену
	adapter := &fakeAdapter{cancelErr: errors.New("gateway is down")}
	svc := newTestMembershipService(repo, adapter, &fakeProducer{})

	cancelled, err := svc.Cancel(context.Background(), membership.ID, "customer request")
	require.NoError(t, err)

	assert.Equal(t, domain.MembershipStatusCancelled, cancelled.Status)
	assert.Equal(t, "customer request", cancelled.CancellationReason)
	assert.Equal(t, []string{"sub_1"}, adapter.cancelled)
}

func TestCancelUnknownMembership(t *testing.T) {
	svc := newTestMembershipService(newFakeMembershipRepo(), &fakeAdapter{}, &fakeProducer{})

	_, err := svc.Cancel(context.Background(), uuid.New(), "")
	assert.ErrorIs(t, err, domain.ErrMembershipNotFound)
}

func TestSwapUpdatesRemoteSubscription(t *testing.T) {
	membership := pendingMembership()
	membership.Status = domain.MembershipStatusActive
	membership.GatewaySubscriptionID = "sub_1"
	adapter := &fakeAdapter{}
	svc := newTestMembershipService(newFakeMembershipRepo(membership), adapter, &fakeProducer{})

	cart := recurringCart()
	cart.Type = domain.CartTypeUpgrade
	cart.LineItems[0].ProductID = "plan-business"
	cart.LineItems[0].Title = "Business"

	swapped, err := svc.Swap(context.Background(), membership.ID, cart)
	require.NoError(t, err)

	assert.Equal(t, "plan-business", swapped.PlanID)
	assert.Equal(t, "sub_1", swapped.GatewaySubscriptionID)
	assert.Empty(t, adapter.cancelled)
}

func TestSwapFallsBackToCancelWhenUnsupported(t *testing.T) {
	// Шлюз без замены позиций (PayPal) получает отмену старого профиля:
	// новый создается при следующем чекауте
	membership := pendingMembership()
	membership.GatewayID = "paypal"
	membership.GatewaySubscriptionID = "I-PROFILE1"
	adapter := &fakeAdapter{id: "paypal", updateErr: domain.ErrNotSupported}
	svc := newTestMembershipService(newFakeMembershipRepo(membership), adapter, &fakeProducer{})

	swapped, err := svc.Swap(context.Background(), membership.ID, recurringCart())
	require.NoError(t, err)

	assert.Empty(t, swapped.GatewaySubscriptionID)
	assert.Equal(t, []string{"I-PROFILE1"}, adapter.cancelled)
}

func TestScheduleSwapPersistsCart(t *testing.T) {
	membership := pendingMembership()
	expiration := time.Now().UTC().AddDate(0, 1, 0)
	membership.DateExpiration = &expiration
	repo := newFakeMembershipRepo(membership)
	svc := newTestMembershipService(repo, &fakeAdapter{}, &fakeProducer{})

	cart := recurringCart()
	cart.Type = domain.CartTypeDowngrade

	scheduled, err := svc.ScheduleSwap(context.Background(), membership.ID, cart)
	require.NoError(t, err)

	cartJSON, scheduleDate, ok := scheduled.ScheduledSwap()
	require.True(t, ok)
	assert.Equal(t, expiration.Truncate(time.Second), scheduleDate)

	var stored domain.Cart
	require.NoError(t, json.Unmarshal([]byte(cartJSON), &stored))
	assert.Equal(t, domain.CartTypeDowngrade, stored.Type)
}

func TestRenewAppliesScheduledSwap(t *testing.T) {
	membership := pendingMembership()
	membership.Status = domain.MembershipStatusActive
	membership.TimesBilled = 2

	cart := recurringCart()
	cart.LineItems[0].ProductID = "plan-lite"
	cart.LineItems[0].Title = "Lite"
	cartJSON, err := json.Marshal(cart)
	require.NoError(t, err)

	// Смена назначена на уже прошедшую границу периода
	require.NoError(t, membership.ScheduleSwap(string(cartJSON), time.Now().UTC().Add(-time.Hour)))

	svc := newTestMembershipService(newFakeMembershipRepo(membership), &fakeAdapter{}, &fakeProducer{})
	require.NoError(t, svc.Renew(context.Background(), membership, nil))

	assert.Equal(t, "plan-lite", membership.PlanID)
	_, _, ok := membership.ScheduledSwap()
	assert.False(t, ok, "applied swap must be cleared")
}

func TestRenewalExpiration(t *testing.T) {
	monthly := &domain.Membership{Duration: 1, DurationUnit: "month"}
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	t.Run("no gateway period end", func(t *testing.T) {
		got := renewalExpiration(monthly, nil, now)
		assert.Equal(t, time.Date(2026, 2, 15, 23, 59, 59, 0, time.UTC), got)
	})

	t.Run("gateway period end stretched to end of day", func(t *testing.T) {
		periodEnd := time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)
		got := renewalExpiration(monthly, &periodEnd, now)
		assert.Equal(t, time.Date(2026, 2, 20, 23, 59, 59, 0, time.UTC), got)
	})

	t.Run("late period end keeps the padding", func(t *testing.T) {
		periodEnd := time.Date(2026, 2, 20, 23, 30, 0, 0, time.UTC)
		got := renewalExpiration(monthly, &periodEnd, now)
		assert.Equal(t, periodEnd.Add(2*time.Hour), got)
	})

	t.Run("past period end falls back to plan duration", func(t *testing.T) {
		periodEnd := now.Add(-time.Hour)
		got := renewalExpiration(monthly, &periodEnd, now)
		assert.Equal(t, time.Date(2026, 2, 15, 23, 59, 59, 0, time.UTC), got)
	})
}

func TestAddDuration(t *testing.T) {
	base := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, base.AddDate(0, 0, 3), addDuration(base, 3, "day"))
	assert.Equal(t, base.AddDate(0, 0, 14), addDuration(base, 2, "week"))
	assert.Equal(t, base.AddDate(0, 2, 0), addDuration(base, 2, "month"))
	assert.Equal(t, base.AddDate(1, 0, 0), addDuration(base, 1, "year"))

	// Нулевая длительность означает один период
	assert.Equal(t, base.AddDate(0, 1, 0), addDuration(base, 0, "month"))
}

func TestUnusedPeriodValue(t *testing.T) {
	now := time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC)
	created := now.AddDate(0, 0, -15)
	expiration := now.AddDate(0, 0, 15)

	m := &domain.Membership{Amount: 30.00, CreatedAt: created, DateExpiration: &expiration}

	// Половина периода не использована
	assert.Equal(t, int64(1500), unusedPeriodValue(m, now))
}

func TestUnusedPeriodValueExpired(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	m := &domain.Membership{Amount: 30.00, DateExpiration: &past}
	assert.Equal(t, int64(0), unusedPeriodValue(m, time.Now().UTC()))

	assert.Equal(t, int64(0), unusedPeriodValue(&domain.Membership{Amount: 30.00}, time.Now().UTC()))
}
