package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// PaymentStatus статус платежа
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusCompleted         PaymentStatus = "completed"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

// TransactionType тип транзакции платежа
type TransactionType string

const (
	TransactionTypeNew       TransactionType = "new"
	TransactionTypeRenewal   TransactionType = "renewal"
	TransactionTypeUpgrade   TransactionType = "upgrade"
	TransactionTypeDowngrade TransactionType = "downgrade"
	TransactionTypeAddon     TransactionType = "addon"
)

// Метаключи платежа, используемые между префлайтом и завершением оплаты
const (
	MetaPaymentIntentID = "stripe_payment_intent_id"
)

// Payment представляет одну денежную транзакцию по членству.
// На каждый gateway_payment_id существует не более одной локальной записи.
type Payment struct {
	ID               uuid.UUID         `json:"id" db:"id"`
	MembershipID     uuid.UUID         `json:"membership_id" db:"membership_id"`
	CustomerID       uuid.UUID         `json:"customer_id" db:"customer_id"`
	Status           PaymentStatus     `json:"status" db:"status"`
	GatewayID        string            `json:"gateway_id" db:"gateway_id"`
	GatewayPaymentID string            `json:"gateway_payment_id" db:"gateway_payment_id"`
	Total            float64           `json:"total" db:"total"`
	Subtotal         float64           `json:"subtotal" db:"subtotal"`
	TaxTotal         float64           `json:"tax_total" db:"tax_total"`
	DiscountTotal    float64           `json:"discount_total" db:"discount_total"`
	Refunded         float64           `json:"refunded" db:"refunded"`
	Currency         string            `json:"currency" db:"currency"`
	TransactionType  TransactionType   `json:"transaction_type" db:"transaction_type"`
	LineItems        []LineItem        `json:"line_items" db:"-"`
	Meta             map[string]string `json:"meta" db:"-"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at" db:"updated_at"`
}

// LineItem представляет одну позицию платежа или корзины
type LineItem struct {
	ProductID     string  `json:"product_id"`
	Title         string  `json:"title"`
	Quantity      int     `json:"quantity"`
	UnitPrice     float64 `json:"unit_price"`
	Subtotal      float64 `json:"subtotal"`
	TaxRate       float64 `json:"tax_rate"`
	TaxInclusive  bool    `json:"tax_inclusive"`
	TaxTotal      float64 `json:"tax_total"`
	DiscountTotal float64 `json:"discount_total"`
	Total         float64 `json:"total"`
	Recurring     bool    `json:"recurring"`
	IsPlan        bool    `json:"is_plan"`
}

// MarkCompleted помечает платеж завершенным и фиксирует удаленный идентификатор
func (p *Payment) MarkCompleted(gatewayPaymentID string) {
	p.Status = PaymentStatusCompleted
	if gatewayPaymentID != "" {
		p.GatewayPaymentID = gatewayPaymentID
	}
	p.UpdatedAt = time.Now().UTC()
}

// MarkRefunded учитывает возврат по платежу; частичный возврат
// не переводит платеж в терминальный статус refunded.
func (p *Payment) MarkRefunded(amount float64) {
	p.Refunded += amount
	if p.Refunded >= p.Total {
		p.Status = PaymentStatusRefunded
	} else {
		p.Status = PaymentStatusPartiallyRefunded
	}
	p.UpdatedAt = time.Now().UTC()
}

// round2 округляет до двух знаков после запятой
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// DistributeTax распределяет совокупный налог инвойса по позициям
// пропорционально доле каждой позиции в сумме без налога. Последняя
// позиция поглощает остаток округления, так что сумма распределенного
// налога в точности равна исходной.
func DistributeTax(taxTotal float64, items []LineItem) []LineItem {
	if len(items) == 0 {
		return items
	}

	var subtotalSum float64
	for _, item := range items {
		subtotalSum += item.Subtotal
	}

	if subtotalSum == 0 {
		// Нечего пропорционально делить: весь налог на первую позицию
		items[0].TaxTotal = round2(taxTotal)
		for i := 1; i < len(items); i++ {
			items[i].TaxTotal = 0
		}
		return items
	}

	var distributed float64
	for i := range items {
		if i == len(items)-1 {
			items[i].TaxTotal = round2(taxTotal - distributed)
			break
		}

		share := round2(taxTotal * items[i].Subtotal / subtotalSum)
		items[i].TaxTotal = share
		distributed += share
	}

	return items
}
