package domain

import (
	"fmt"
	"math"
	"strings"
)

// ToMinorUnits конвертирует десятичную сумму в минимальные единицы валюты (копейки, центы).
// Валюты без дробной части (JPY и т.п.) сервис не обслуживает.
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// FromMinorUnits конвертирует сумму из минимальных единиц валюты в десятичную.
func FromMinorUnits(v int64) float64 {
	return float64(v) / 100.0
}

// sanitizeKeyPart приводит часть ключа к виду, пригодному для метаданных шлюза
func sanitizeKeyPart(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "-")
	return s
}

// PriceLookupKey строит детерминированный ключ поиска цены.
// Одна и та же комбинация (продукт, сумма, валюта, интервал, налоговое поведение)
// всегда дает один и тот же ключ, поэтому повторное создание цены
// разрешается в уже существующий удаленный идентификатор.
func PriceLookupKey(product string, amountMinor int64, currency string, duration int, durationUnit string, taxBehavior string) string {
	key := fmt.Sprintf("%s-%d-%s", sanitizeKeyPart(product), amountMinor, sanitizeKeyPart(currency))

	if duration > 0 && durationUnit != "" {
		key = fmt.Sprintf("%s-%d-%s", key, duration, sanitizeKeyPart(durationUnit))
	}

	if taxBehavior != "" {
		key = fmt.Sprintf("%s-%s", key, sanitizeKeyPart(taxBehavior))
	}

	return key
}

// PlanLookupKey строит детерминированный идентификатор тарифного плана.
func PlanLookupKey(name string, amountMinor int64, currency string, duration int, durationUnit string) string {
	return fmt.Sprintf("%s-%d-%s-%d%s",
		sanitizeKeyPart(name), amountMinor, sanitizeKeyPart(currency), duration, sanitizeKeyPart(durationUnit))
}

// TaxRateLookupKey строит детерминированный ключ налоговой ставки.
func TaxRateLookupKey(country string, rate float64, taxType string, inclusive bool) string {
	key := fmt.Sprintf("%s-%s-%s", sanitizeKeyPart(country), trimRate(rate), sanitizeKeyPart(taxType))
	if inclusive {
		key += "-inclusive"
	}
	return key
}

// trimRate форматирует ставку без хвостовых нулей (7.5 -> "7.5", 20 -> "20")
func trimRate(rate float64) string {
	s := fmt.Sprintf("%g", rate)
	return s
}

// CouponLookupKey строит детерминированный идентификатор кредитного купона.
// duration: "once" для разового кредита при апгрейде.
func CouponLookupKey(amountMinor int64, currency string, duration string) string {
	return fmt.Sprintf("%d-%s-%s", amountMinor, sanitizeKeyPart(currency), sanitizeKeyPart(duration))
}

// Correlation связывает удаленный объект шлюза с локальными записями.
// Токен передается шлюзу в поле метаданных/custom и возвращается в уведомлениях.
type Correlation struct {
	PaymentID    string
	MembershipID string
	CustomerID   string
}

const correlationSeparator = "|"

// EncodeCorrelation кодирует связку локальных идентификаторов в токен для шлюза
func EncodeCorrelation(paymentID, membershipID, customerID string) string {
	return strings.Join([]string{paymentID, membershipID, customerID}, correlationSeparator)
}

// ParseCorrelation разбирает токен корреляции из уведомления шлюза
func ParseCorrelation(s string) (Correlation, error) {
	parts := strings.Split(s, correlationSeparator)
	if len(parts) != 3 {
		return Correlation{}, fmt.Errorf("invalid correlation token: %q", s)
	}

	return Correlation{
		PaymentID:    parts[0],
		MembershipID: parts[1],
		CustomerID:   parts[2],
	}, nil
}

// String реализует fmt.Stringer
func (c Correlation) String() string {
	return EncodeCorrelation(c.PaymentID, c.MembershipID, c.CustomerID)
}
