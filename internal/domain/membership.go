package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MembershipStatus статус жизненного цикла членства
type MembershipStatus string

const (
	MembershipStatusPending   MembershipStatus = "pending"
	MembershipStatusTrialing  MembershipStatus = "trialing"
	MembershipStatusActive    MembershipStatus = "active"
	MembershipStatusCancelled MembershipStatus = "cancelled"
	MembershipStatusExpired   MembershipStatus = "expired"
)

// Membership представляет подписку клиента: повторяющуюся или разовую.
// Запись никогда не удаляется, только переводится в cancelled/expired.
type Membership struct {
	ID                    uuid.UUID         `json:"id" db:"id"`
	CustomerID            uuid.UUID         `json:"customer_id" db:"customer_id"`
	PlanID                string            `json:"plan_id" db:"plan_id"`
	PlanName              string            `json:"plan_name" db:"plan_name"`
	Status                MembershipStatus  `json:"status" db:"status"`
	GatewayID             string            `json:"gateway_id" db:"gateway_id"`
	GatewayCustomerID     string            `json:"gateway_customer_id" db:"gateway_customer_id"`
	GatewaySubscriptionID string            `json:"gateway_subscription_id" db:"gateway_subscription_id"`
	Amount                float64           `json:"amount" db:"amount"`
	InitialAmount         float64           `json:"initial_amount" db:"initial_amount"`
	Currency              string            `json:"currency" db:"currency"`
	Duration              int               `json:"duration" db:"duration"`
	DurationUnit          string            `json:"duration_unit" db:"duration_unit"`
	TimesBilled           int               `json:"times_billed" db:"times_billed"`
	BillingCycles         int               `json:"billing_cycles" db:"billing_cycles"`
	AutoRenew             bool              `json:"auto_renew" db:"auto_renew"`
	Recurring             bool              `json:"recurring" db:"recurring"`
	DateExpiration        *time.Time        `json:"date_expiration" db:"date_expiration"`
	DateRenewed           *time.Time        `json:"date_renewed" db:"date_renewed"`
	DateCancellation      *time.Time        `json:"date_cancellation" db:"date_cancellation"`
	CancellationReason    string            `json:"cancellation_reason" db:"cancellation_reason"`
	Meta                  map[string]string `json:"meta" db:"-"`
	CreatedAt             time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at" db:"updated_at"`
}

// IsForeverRecurring проверяет, продлевается ли членство без ограничения числа циклов
func (m *Membership) IsForeverRecurring() bool {
	return m.BillingCycles == 0
}

// AtMaximumRenewals проверяет, выбраны ли все оплачиваемые периоды
// членства с фиксированным числом циклов. Первый платеж не считается
// продлением, поэтому из счетчика вычитается единица.
func (m *Membership) AtMaximumRenewals() bool {
	if m.IsForeverRecurring() {
		return false
	}

	return m.TimesBilled-1 >= m.BillingCycles
}

// AddToTimesBilled увеличивает счетчик оплаченных периодов.
// Счетчик только растет; вызывающий код обязан гарантировать
// не более одного инкремента на каждый gateway_payment_id.
func (m *Membership) AddToTimesBilled(n int) {
	if n < 0 {
		return
	}
	m.TimesBilled += n
}

// Renew переводит членство в оплаченное состояние с новой датой истечения.
// Платежную сторону продления метод не трогает: он вызывается после того,
// как платеж за продление уже подтвержден.
func (m *Membership) Renew(autoRenew bool, status MembershipStatus, expiration time.Time) error {
	if m.PlanID == "" {
		return ErrMissingPlan
	}

	// Членство с фиксированным числом циклов после последнего платежа не продлевается
	if !m.IsForeverRecurring() && m.AtMaximumRenewals() {
		return ErrMaximumRenewals
	}

	if status != "" {
		m.Status = status
	}

	m.DateExpiration = &expiration
	m.AutoRenew = autoRenew

	now := time.Now().UTC()
	m.DateRenewed = &now
	m.UpdatedAt = now

	return nil
}

// Cancel переводит членство в статус cancelled.
// Отмену удаленной подписки у шлюза метод не выполняет: это отдельный
// best-effort вызов адаптера, который не должен блокировать локальный переход.
func (m *Membership) Cancel(reason string) {
	if m.Status == MembershipStatusCancelled {
		return // Уже отменено
	}

	m.Status = MembershipStatusCancelled

	now := time.Now().UTC()
	m.DateCancellation = &now
	m.UpdatedAt = now

	if reason != "" {
		m.CancellationReason = reason
	}
}

// Swap заменяет тарифные параметры членства содержимым корзины.
// Используется при немедленном апгрейде/даунгрейде; сохранение изменений
// остается на вызывающем коде.
func (m *Membership) Swap(cart *Cart) error {
	if cart == nil || len(cart.LineItems) == 0 {
		return ErrInvalidCart
	}

	planID := cart.PlanID()
	if planID == "" {
		return fmt.Errorf("%w: cart has no plan item", ErrInvalidCart)
	}

	m.PlanID = planID
	m.PlanName = cart.PlanName()
	m.Amount = cart.RecurringTotal()
	m.InitialAmount = cart.Total()
	m.Recurring = cart.HasRecurring()
	m.Duration = cart.Duration
	m.DurationUnit = cart.DurationUnit
	m.UpdatedAt = time.Now().UTC()

	return nil
}

// Метаключи отложенной смены тарифа
const (
	MetaSwapCart          = "swap_order"
	MetaSwapScheduledDate = "swap_scheduled_date"
)

// ScheduleSwap откладывает смену тарифа до границы платежного периода.
// Корзина и дата сохраняются в мете членства; удаленная подписка
// меняется только при следующем продлении.
func (m *Membership) ScheduleSwap(cartJSON string, scheduleDate time.Time) error {
	if cartJSON == "" {
		return ErrInvalidCart
	}

	if scheduleDate.IsZero() {
		if m.DateExpiration == nil {
			return fmt.Errorf("%w: no expiration date to schedule against", ErrInvalidCart)
		}
		scheduleDate = *m.DateExpiration
	}

	if m.Meta == nil {
		m.Meta = make(map[string]string)
	}

	m.Meta[MetaSwapCart] = cartJSON
	m.Meta[MetaSwapScheduledDate] = scheduleDate.UTC().Format(time.RFC3339)
	m.UpdatedAt = time.Now().UTC()

	return nil
}

// ScheduledSwap возвращает отложенную смену тарифа, если она назначена
func (m *Membership) ScheduledSwap() (cartJSON string, scheduleDate time.Time, ok bool) {
	if m.Meta == nil {
		return "", time.Time{}, false
	}

	cartJSON, hasCart := m.Meta[MetaSwapCart]
	dateStr, hasDate := m.Meta[MetaSwapScheduledDate]
	if !hasCart || !hasDate {
		return "", time.Time{}, false
	}

	t, err := time.Parse(time.RFC3339, dateStr)
	if err != nil {
		return "", time.Time{}, false
	}

	return cartJSON, t, true
}

// DeleteScheduledSwap снимает отложенную смену тарифа
func (m *Membership) DeleteScheduledSwap() {
	delete(m.Meta, MetaSwapCart)
	delete(m.Meta, MetaSwapScheduledDate)
}
