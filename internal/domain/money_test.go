package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMinorUnits(t *testing.T) {
	tests := []struct {
		name   string
		amount float64
		want   int64
	}{
		{"whole amount", 29.00, 2900},
		{"cents", 19.99, 1999},
		{"small amount", 0.07, 7},
		{"zero", 0, 0},
		{"negative", -5.25, -525},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToMinorUnits(tt.amount))
		})
	}
}

func TestFromMinorUnits(t *testing.T) {
	assert.Equal(t, 29.00, FromMinorUnits(2900))
	assert.Equal(t, 0.07, FromMinorUnits(7))
	assert.Equal(t, -5.25, FromMinorUnits(-525))
}

func TestMinorUnitsRoundTrip(t *testing.T) {
	for _, amount := range []float64{29.00, 19.99, 0.01, 123.45} {
		assert.Equal(t, amount, FromMinorUnits(ToMinorUnits(amount)))
	}
}

func TestPriceLookupKey(t *testing.T) {
	key := PriceLookupKey("Pro Plan", 2900, "USD", 1, "month", "exclusive")
	assert.Equal(t, "pro-plan-2900-usd-1-month-exclusive", key)

	// Одинаковые аргументы всегда дают один и тот же ключ
	again := PriceLookupKey("Pro Plan", 2900, "USD", 1, "month", "exclusive")
	assert.Equal(t, key, again)

	// Разовая позиция без интервала и налога
	oneOff := PriceLookupKey("Setup Fee", 500, "eur", 0, "", "")
	assert.Equal(t, "setup-fee-500-eur", oneOff)
}

func TestPlanLookupKey(t *testing.T) {
	assert.Equal(t, "pro-plan-2900-usd-1month", PlanLookupKey("Pro Plan", 2900, "USD", 1, "month"))
}

func TestTaxRateLookupKey(t *testing.T) {
	assert.Equal(t, "de-19-vat", TaxRateLookupKey("DE", 19, "vat", false))
	assert.Equal(t, "de-7.5-vat-inclusive", TaxRateLookupKey("DE", 7.5, "vat", true))
}

func TestCouponLookupKey(t *testing.T) {
	assert.Equal(t, "1500-usd-once", CouponLookupKey(1500, "USD", "once"))
}

func TestCorrelationRoundTrip(t *testing.T) {
	token := EncodeCorrelation("pay-1", "mem-2", "cus-3")
	assert.Equal(t, "pay-1|mem-2|cus-3", token)

	corr, err := ParseCorrelation(token)
	require.NoError(t, err)
	assert.Equal(t, "pay-1", corr.PaymentID)
	assert.Equal(t, "mem-2", corr.MembershipID)
	assert.Equal(t, "cus-3", corr.CustomerID)
	assert.Equal(t, token, corr.String())
}

func TestParseCorrelationInvalid(t *testing.T) {
	_, err := ParseCorrelation("not-a-token")
	assert.Error(t, err)

	_, err = ParseCorrelation("a|b")
	assert.Error(t, err)

	// Пустые части допустимы: токен может нести только часть идентификаторов
	corr, err := ParseCorrelation("|mem-1|")
	require.NoError(t, err)
	assert.Equal(t, "mem-1", corr.MembershipID)
	assert.Empty(t, corr.PaymentID)
}
