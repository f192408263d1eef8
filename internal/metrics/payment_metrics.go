package metrics

import (
	"github.com/Dhoini/Billing-reconciliation/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PaymentMetrics интерфейс для метрик платежей
type PaymentMetrics interface {
	IncPaymentCreated(gateway, currency string)
	IncPaymentCompleted(gateway, currency string)
	IncPaymentFailed(gateway, currency string)
	IncPaymentRefunded(gateway, currency string)
	IncPaymentDuplicate(gateway string)
	ObservePaymentAmount(amount float64, currency string, status string)
}

type paymentMetrics struct {
	log               *logger.Logger
	paymentsCreated   *prometheus.CounterVec
	paymentsStatus    *prometheus.CounterVec
	paymentsDuplicate *prometheus.CounterVec
	paymentsAmount    *prometheus.HistogramVec
}

// NewPaymentMetrics создает новые метрики платежей
func NewPaymentMetrics(registry *prometheus.Registry, log *logger.Logger) PaymentMetrics {
	paymentsCreated := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_created_total",
			Help: "The total number of created payments",
		},
		[]string{"gateway", "currency"},
	)

	paymentsStatus := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_status_total",
			Help: "The total number of payments by status",
		},
		[]string{"status", "gateway", "currency"},
	)

	paymentsDuplicate := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_duplicate_total",
			Help: "The total number of gateway transactions seen more than once",
		},
		[]string{"gateway"},
	)

	paymentsAmount := promauto.With(registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payments_amount",
			Help:    "Payment amounts distribution",
			Buckets: prometheus.ExponentialBuckets(10, 10, 5),
		},
		[]string{"currency", "status"},
	)

	return &paymentMetrics{
		log:               log,
		paymentsCreated:   paymentsCreated,
		paymentsStatus:    paymentsStatus,
		paymentsDuplicate: paymentsDuplicate,
		paymentsAmount:    paymentsAmount,
	}
}

// IncPaymentCreated увеличивает счетчик созданных платежей
func (m *paymentMetrics) IncPaymentCreated(gateway, currency string) {
	m.paymentsCreated.WithLabelValues(gateway, currency).Inc()
}

// IncPaymentCompleted увеличивает счетчик завершенных платежей
func (m *paymentMetrics) IncPaymentCompleted(gateway, currency string) {
	m.paymentsStatus.WithLabelValues("completed", gateway, currency).Inc()
}

// IncPaymentFailed увеличивает счетчик неудачных платежей
func (m *paymentMetrics) IncPaymentFailed(gateway, currency string) {
	m.paymentsStatus.WithLabelValues("failed", gateway, currency).Inc()
}

// IncPaymentRefunded увеличивает счетчик возвращенных платежей
func (m *paymentMetrics) IncPaymentRefunded(gateway, currency string) {
	m.paymentsStatus.WithLabelValues("refunded", gateway, currency).Inc()
}

// IncPaymentDuplicate увеличивает счетчик повторно увиденных транзакций
func (m *paymentMetrics) IncPaymentDuplicate(gateway string) {
	m.paymentsDuplicate.WithLabelValues(gateway).Inc()
}

// ObservePaymentAmount записывает сумму платежа
func (m *paymentMetrics) ObservePaymentAmount(amount float64, currency string, status string) {
	m.paymentsAmount.WithLabelValues(currency, status).Observe(amount)
}
