package domain

import "time"

// Типы входящих событий в нормализованном виде.
// Каждый адаптер шлюза переводит собственные типы событий в этот набор.
type EventType string

const (
	EventTypePaymentSucceeded    EventType = "payment.succeeded"
	EventTypePaymentFailed       EventType = "payment.failed"
	EventTypePaymentRefunded     EventType = "payment.refunded"
	EventTypeSubscriptionCreated EventType = "subscription.created"
	EventTypeSubscriptionUpdated EventType = "subscription.updated"
	EventTypeSubscriptionDeleted EventType = "subscription.deleted"
	EventTypeInvoicePaid         EventType = "invoice.paid"
	EventTypeUnknown             EventType = "unknown"
)

// InboundEvent представляет проверенное уведомление платежного шлюза
// в нормализованном виде. Событие не персистится: обработка обязана
// быть идемпотентной, повторная доставка того же события ничего не меняет.
type InboundEvent struct {
	GatewayID            string
	ID                   string
	Type                 EventType
	RawType              string
	RemoteObjectID       string
	RemotePaymentID      string
	RemoteSubscriptionID string
	RemoteCustomerID     string
	Correlation          *Correlation
	AmountMinor          int64
	TaxMinor             int64
	Currency             string
	PeriodEnd            *time.Time
	LineItems            []LineItem
	IsRenewal            bool
	CreatedAt            time.Time
}

// Amount возвращает сумму события в десятичном виде
func (e *InboundEvent) Amount() float64 {
	return FromMinorUnits(e.AmountMinor)
}

// Tax возвращает налог события в десятичном виде
func (e *InboundEvent) Tax() float64 {
	return FromMinorUnits(e.TaxMinor)
}
