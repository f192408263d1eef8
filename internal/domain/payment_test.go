package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistributeTaxProportional(t *testing.T) {
	items := []LineItem{
		{Title: "Pro Plan", Subtotal: 19.00},
		{Title: "Addon", Subtotal: 10.00},
	}

	items = DistributeTax(2.32, items)

	assert.Equal(t, 1.52, items[0].TaxTotal)
	assert.Equal(t, 0.80, items[1].TaxTotal)
	assert.Equal(t, 2.32, round2(items[0].TaxTotal+items[1].TaxTotal))
}

func TestDistributeTaxExactSum(t *testing.T) {
	// Остаток округления поглощает последняя позиция: сумма долей
	// всегда в точности равна исходному налогу
	items := []LineItem{
		{Subtotal: 10.00},
		{Subtotal: 10.00},
		{Subtotal: 10.00},
	}

	items = DistributeTax(1.00, items)

	assert.Equal(t, 0.33, items[0].TaxTotal)
	assert.Equal(t, 0.33, items[1].TaxTotal)
	assert.Equal(t, 0.34, items[2].TaxTotal)

	var sum float64
	for _, item := range items {
		sum += item.TaxTotal
	}
	assert.Equal(t, 1.00, round2(sum))
}

func TestDistributeTaxZeroSubtotal(t *testing.T) {
	items := []LineItem{
		{Subtotal: 0},
		{Subtotal: 0},
	}

	items = DistributeTax(2.50, items)

	assert.Equal(t, 2.50, items[0].TaxTotal)
	assert.Equal(t, 0.0, items[1].TaxTotal)
}

func TestDistributeTaxSingleItem(t *testing.T) {
	items := DistributeTax(5.51, []LineItem{{Subtotal: 29.00}})
	require.Len(t, items, 1)
	assert.Equal(t, 5.51, items[0].TaxTotal)
}

func TestDistributeTaxEmpty(t *testing.T) {
	assert.Empty(t, DistributeTax(1.00, nil))
	assert.Empty(t, DistributeTax(1.00, []LineItem{}))
}

func TestMarkCompleted(t *testing.T) {
	p := &Payment{Status: PaymentStatusPending, GatewayPaymentID: "pi_old"}

	p.MarkCompleted("pi_new")
	assert.Equal(t, PaymentStatusCompleted, p.Status)
	assert.Equal(t, "pi_new", p.GatewayPaymentID)

	// Пустой идентификатор не затирает уже сохраненный
	p.MarkCompleted("")
	assert.Equal(t, "pi_new", p.GatewayPaymentID)
}

func TestMarkRefundedPartial(t *testing.T) {
	p := &Payment{Status: PaymentStatusCompleted, Total: 29.00}

	p.MarkRefunded(10.00)
	assert.Equal(t, PaymentStatusPartiallyRefunded, p.Status)
	assert.Equal(t, 10.00, p.Refunded)

	p.MarkRefunded(19.00)
	assert.Equal(t, PaymentStatusRefunded, p.Status)
	assert.Equal(t, 29.00, p.Refunded)
}

func TestMarkRefundedFull(t *testing.T) {
	p := &Payment{Status: PaymentStatusCompleted, Total: 29.00}

	p.MarkRefunded(29.00)
	assert.Equal(t, PaymentStatusRefunded, p.Status)
}
