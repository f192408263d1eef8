package metrics

import (
	"time"

	"github.com/Dhoini/Billing-reconciliation/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WebhookMetrics интерфейс для метрик обработки уведомлений шлюзов
type WebhookMetrics interface {
	IncEventReceived(gateway, eventType string)
	IncEventOutcome(gateway, outcome string)
	IncVerificationFailed(gateway string)
	IncCheckoutDeferred()
	ObserveProcessingDuration(gateway string, d time.Duration)
}

type webhookMetrics struct {
	log                *logger.Logger
	eventsReceived     *prometheus.CounterVec
	eventOutcomes      *prometheus.CounterVec
	verificationFailed *prometheus.CounterVec
	checkoutDeferred   prometheus.Counter
	processingDuration *prometheus.HistogramVec
}

// NewWebhookMetrics создает новые метрики уведомлений
func NewWebhookMetrics(registry *prometheus.Registry, log *logger.Logger) WebhookMetrics {
	eventsReceived := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_received_total",
			Help: "The total number of gateway events received",
		},
		[]string{"gateway", "event_type"},
	)

	eventOutcomes := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_outcome_total",
			Help: "The total number of processed gateway events by outcome",
		},
		[]string{"gateway", "outcome"},
	)

	verificationFailed := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_verification_failed_total",
			Help: "The total number of events rejected at signature verification",
		},
		[]string{"gateway"},
	)

	checkoutDeferred := promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "checkout_deferred_total",
			Help: "The total number of checkout completions deferred by lock contention",
		},
	)

	processingDuration := promauto.With(registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_processing_duration_seconds",
			Help:    "Gateway event processing duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"gateway"},
	)

	return &webhookMetrics{
		log:                log,
		eventsReceived:     eventsReceived,
		eventOutcomes:      eventOutcomes,
		verificationFailed: verificationFailed,
		checkoutDeferred:   checkoutDeferred,
		processingDuration: processingDuration,
	}
}

// IncEventReceived увеличивает счетчик принятых событий
func (m *webhookMetrics) IncEventReceived(gateway, eventType string) {
	m.eventsReceived.WithLabelValues(gateway, eventType).Inc()
}

// IncEventOutcome увеличивает счетчик исходов обработки
func (m *webhookMetrics) IncEventOutcome(gateway, outcome string) {
	m.eventOutcomes.WithLabelValues(gateway, outcome).Inc()
}

// IncVerificationFailed увеличивает счетчик отклоненных событий
func (m *webhookMetrics) IncVerificationFailed(gateway string) {
	m.verificationFailed.WithLabelValues(gateway).Inc()
}

// IncCheckoutDeferred увеличивает счетчик отложенных завершений чекаута
func (m *webhookMetrics) IncCheckoutDeferred() {
	m.checkoutDeferred.Inc()
}

// ObserveProcessingDuration записывает длительность обработки события
func (m *webhookMetrics) ObserveProcessingDuration(gateway string, d time.Duration) {
	m.processingDuration.WithLabelValues(gateway).Observe(d.Seconds())
}
