package domain

import "time"

// CartType тип оформляемого заказа
type CartType string

const (
	CartTypeNew       CartType = "new"
	CartTypeRenewal   CartType = "renewal"
	CartTypeUpgrade   CartType = "upgrade"
	CartTypeDowngrade CartType = "downgrade"
	CartTypeAddon     CartType = "addon"
	CartTypeRetry     CartType = "retry"
)

// Cart представляет содержимое оформляемого заказа.
// Корзина — входной контракт чекаута: сервис ее не собирает, а потребляет.
type Cart struct {
	Type         CartType   `json:"type"`
	LineItems    []LineItem `json:"line_items"`
	Currency     string     `json:"currency"`
	Duration     int        `json:"duration"`
	DurationUnit string     `json:"duration_unit"`
	AutoRenew    bool       `json:"auto_renew"`
	TrialEnd     *time.Time `json:"trial_end,omitempty"`
}

// Total возвращает полную сумму заказа с налогами и скидками
func (c *Cart) Total() float64 {
	var total float64
	for _, item := range c.LineItems {
		total += item.Total
	}
	return round2(total)
}

// Subtotal возвращает сумму заказа без налогов
func (c *Cart) Subtotal() float64 {
	var subtotal float64
	for _, item := range c.LineItems {
		subtotal += item.Subtotal
	}
	return round2(subtotal)
}

// TaxTotal возвращает сумму налогов по заказу
func (c *Cart) TaxTotal() float64 {
	var tax float64
	for _, item := range c.LineItems {
		tax += item.TaxTotal
	}
	return round2(tax)
}

// DiscountTotal возвращает сумму скидок по заказу
func (c *Cart) DiscountTotal() float64 {
	var discount float64
	for _, item := range c.LineItems {
		discount += item.DiscountTotal
	}
	return round2(discount)
}

// RecurringTotal возвращает сумму, списываемую при каждом продлении
func (c *Cart) RecurringTotal() float64 {
	var total float64
	for _, item := range c.LineItems {
		if item.Recurring {
			total += item.Total
		}
	}
	return round2(total)
}

// HasRecurring проверяет наличие повторяющихся позиций в заказе
func (c *Cart) HasRecurring() bool {
	for _, item := range c.LineItems {
		if item.Recurring {
			return true
		}
	}
	return false
}

// ShouldAutoRenew сообщает, нужно ли создавать удаленную подписку
func (c *Cart) ShouldAutoRenew() bool {
	return c.AutoRenew && c.HasRecurring()
}

// HasTrial проверяет, начинается ли заказ с пробного периода
func (c *Cart) HasTrial() bool {
	return c.TrialEnd != nil && c.TrialEnd.After(time.Now())
}

// IsFree проверяет, что заказ не требует оплаты
func (c *Cart) IsFree() bool {
	return c.Total() == 0
}

// PlanID возвращает идентификатор тарифного плана из позиций корзины
func (c *Cart) PlanID() string {
	for _, item := range c.LineItems {
		if item.IsPlan {
			return item.ProductID
		}
	}
	return ""
}

// PlanName возвращает название тарифного плана из позиций корзины
func (c *Cart) PlanName() string {
	for _, item := range c.LineItems {
		if item.IsPlan {
			return item.Title
		}
	}
	return ""
}

// TransactionType возвращает тип транзакции, соответствующий типу корзины
func (c *Cart) TransactionType() TransactionType {
	switch c.Type {
	case CartTypeRenewal, CartTypeRetry:
		return TransactionTypeRenewal
	case CartTypeUpgrade:
		return TransactionTypeUpgrade
	case CartTypeDowngrade:
		return TransactionTypeDowngrade
	case CartTypeAddon:
		return TransactionTypeAddon
	default:
		return TransactionTypeNew
	}
}
