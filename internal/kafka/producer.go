package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Dhoini/Billing-reconciliation/internal/domain"
	"github.com/Dhoini/Billing-reconciliation/pkg/logger"
	"github.com/IBM/sarama"
)

// Топики доменных событий
const (
	TopicMembershipEvents = "membership-events"
	TopicPaymentEvents    = "payment-events"
)

// MembershipEvent представляет событие жизненного цикла членства для Kafka
type MembershipEvent struct {
	EventType    string                  `json:"event_type"`
	MembershipID string                  `json:"membership_id"`
	CustomerID   string                  `json:"customer_id"`
	PlanID       string                  `json:"plan_id"`
	Status       domain.MembershipStatus `json:"status"`
	GatewayID    string                  `json:"gateway_id"`
	TimesBilled  int                     `json:"times_billed"`
	Expiration   *time.Time              `json:"expiration,omitempty"`
	Timestamp    time.Time               `json:"timestamp"`
}

// PaymentEvent представляет событие платежа для Kafka
type PaymentEvent struct {
	EventType        string               `json:"event_type"`
	PaymentID        string               `json:"payment_id"`
	MembershipID     string               `json:"membership_id"`
	CustomerID       string               `json:"customer_id"`
	GatewayID        string               `json:"gateway_id"`
	GatewayPaymentID string               `json:"gateway_payment_id"`
	Total            float64              `json:"total"`
	TaxTotal         float64              `json:"tax_total"`
	Currency         string               `json:"currency"`
	Status           domain.PaymentStatus `json:"status"`
	Timestamp        time.Time            `json:"timestamp"`
}

// EventProducer интерфейс для публикации доменных событий
type EventProducer interface {
	// PublishMembershipEvent отправляет событие членства. Ключ сообщения —
	// ID членства: все события одного членства попадают в одну партицию.
	PublishMembershipEvent(ctx context.Context, eventType string, membership *domain.Membership) error

	// PublishPaymentEvent отправляет событие платежа, ключ — ID членства
	PublishPaymentEvent(ctx context.Context, eventType string, payment *domain.Payment) error

	// Close закрывает соединение продюсера Kafka
	Close() error
}

type saramaEventProducer struct {
	producer sarama.SyncProducer
	log      *logger.Logger
}

// NewEventProducer создает продюсер доменных событий поверх sarama
func NewEventProducer(cfg *Config, log *logger.Logger) (EventProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are not configured")
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewSaramaConfig(cfg))
	if err != nil {
		log.Errorw("Failed to create Kafka producer", "error", err, "brokers", cfg.Brokers)
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	log.Infow("Kafka producer initialized", "brokers", cfg.Brokers)
	return &saramaEventProducer{producer: producer, log: log}, nil
}

// PublishMembershipEvent публикует событие членства
func (p *saramaEventProducer) PublishMembershipEvent(ctx context.Context, eventType string, membership *domain.Membership) error {
	event := MembershipEvent{
		EventType:    eventType,
		MembershipID: membership.ID.String(),
		CustomerID:   membership.CustomerID.String(),
		PlanID:       membership.PlanID,
		Status:       membership.Status,
		GatewayID:    membership.GatewayID,
		TimesBilled:  membership.TimesBilled,
		Expiration:   membership.DateExpiration,
		Timestamp:    time.Now().UTC(),
	}

	return p.publish(TopicMembershipEvents, eventType, membership.ID.String(), event)
}

// PublishPaymentEvent публикует событие платежа
func (p *saramaEventProducer) PublishPaymentEvent(ctx context.Context, eventType string, payment *domain.Payment) error {
	event := PaymentEvent{
		EventType:        eventType,
		PaymentID:        payment.ID.String(),
		MembershipID:     payment.MembershipID.String(),
		CustomerID:       payment.CustomerID.String(),
		GatewayID:        payment.GatewayID,
		GatewayPaymentID: payment.GatewayPaymentID,
		Total:            payment.Total,
		TaxTotal:         payment.TaxTotal,
		Currency:         payment.Currency,
		Status:           payment.Status,
		Timestamp:        time.Now().UTC(),
	}

	return p.publish(TopicPaymentEvents, eventType, payment.MembershipID.String(), event)
}

// publish сериализует событие и отправляет его в топик
func (p *saramaEventProducer) publish(topic, eventType, key string, event interface{}) error {
	messageValue, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(messageValue),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("event_type"),
				Value: []byte(eventType),
			},
		},
		Timestamp: time.Now(),
	}

	partition, offset, err := p.producer.SendMessage(message)
	if err != nil {
		p.log.Errorw("Failed to publish event", "error", err, "topic", topic, "eventType", eventType)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.log.Debugw("Published event", "topic", topic, "eventType", eventType, "partition", partition, "offset", offset)
	return nil
}

// Close закрывает продюсер
func (p *saramaEventProducer) Close() error {
	if err := p.producer.Close(); err != nil {
		p.log.Errorw("Failed to close Kafka producer", "error", err)
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}
