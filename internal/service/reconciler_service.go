package service

import (
	"context"
	"errors"
	"time"

	"github.com/Dhoini/Billing-reconciliation/internal/domain"
	"github.com/Dhoini/Billing-reconciliation/internal/kafka"
	"github.com/Dhoini/Billing-reconciliation/internal/metrics"
	"github.com/Dhoini/Billing-reconciliation/internal/repository"
	"github.com/Dhoini/Billing-reconciliation/pkg/logger"
	"github.com/google/uuid"
)

// Типы событий платежей, публикуемые в Kafka
const (
	EventPaymentCompleted = "payment.completed"
	EventPaymentRefunded  = "payment.refunded"
	EventPaymentFailed    = "payment.failed"
)

// ReconcilerService сводит подтвержденные события шлюза с локальными
// платежами и членствами. Каждая операция идемпотентна: повторная доставка
// того же события завершается исходом Ignorable без изменения состояния.
type ReconcilerService interface {
	// RecordPayment записывает подтвержденный платеж не более одного раза
	// на каждый gateway_payment_id
	RecordPayment(ctx context.Context, membership *domain.Membership, event *domain.InboundEvent) domain.Outcome

	// RecordRefund учитывает возврат по ранее записанному платежу
	RecordRefund(ctx context.Context, event *domain.InboundEvent) domain.Outcome

	// RecordFailure учитывает неудачное списание
	RecordFailure(ctx context.Context, membership *domain.Membership, event *domain.InboundEvent) domain.Outcome

	// HandleSubscriptionDeleted обрабатывает отмену удаленной подписки
	HandleSubscriptionDeleted(ctx context.Context, membership *domain.Membership) domain.Outcome
}

type reconcilerService struct {
	paymentRepo       repository.PaymentRepository
	membershipRepo    repository.MembershipRepository
	membershipService MembershipService
	producer          kafka.EventProducer
	paymentMetrics    metrics.PaymentMetrics
	log               *logger.Logger
}

// NewReconcilerService создает новый сервис сверки платежей
func NewReconcilerService(
	paymentRepo repository.PaymentRepository,
	membershipRepo repository.MembershipRepository,
	membershipService MembershipService,
	producer kafka.EventProducer,
	paymentMetrics metrics.PaymentMetrics,
	log *logger.Logger,
) ReconcilerService {
	return &reconcilerService{
		paymentRepo:       paymentRepo,
		membershipRepo:    membershipRepo,
		membershipService: membershipService,
		producer:          producer,
		paymentMetrics:    paymentMetrics,
		log:               log,
	}
}

// RecordPayment записывает подтвержденный платеж. Первая доставка события
// создает или завершает локальный платеж и двигает членство; все последующие
// доставки того же gateway_payment_id игнорируются.
func (s *reconcilerService) RecordPayment(ctx context.Context, membership *domain.Membership, event *domain.InboundEvent) domain.Outcome {
	if event.RemotePaymentID == "" {
		return domain.Ignorable("event carries no gateway payment id")
	}

	existing, err := s.paymentRepo.GetByGatewayPaymentID(ctx, event.GatewayID, event.RemotePaymentID)
	if err != nil && !errors.Is(err, domain.ErrPaymentNotFound) {
		return domain.Fatal(err)
	}
	if existing != nil {
		s.log.Debugw("Gateway payment already recorded", "gatewayPaymentID", event.RemotePaymentID)
		s.paymentMetrics.IncPaymentDuplicate(event.GatewayID)
		return domain.Ignorable("payment already recorded")
	}

	isRenewal := event.IsRenewal || membership.Status == domain.MembershipStatusActive && event.Type == domain.EventTypeInvoicePaid

	var payment *domain.Payment
	if !isRenewal {
		payment, err = s.completePendingPayment(ctx, membership, event)
		if err != nil && !errors.Is(err, domain.ErrPaymentNotFound) {
			return domain.Fatal(err)
		}
	}

	if payment == nil {
		payment, err = s.createPaymentFromEvent(ctx, membership, event, isRenewal)
		if errors.Is(err, domain.ErrDuplicatePayment) {
			// Параллельная доставка успела записать платеж первой
			s.paymentMetrics.IncPaymentDuplicate(event.GatewayID)
			return domain.Ignorable("payment already recorded")
		}
		if err != nil {
			return domain.Fatal(err)
		}
	}

	if err := s.advanceMembership(ctx, membership, event, isRenewal); err != nil {
		if errors.Is(err, domain.ErrMaximumRenewals) {
			s.log.Warnw("Membership is at maximum renewals, payment recorded without renewal",
				"membershipID", membership.ID, "gatewayPaymentID", event.RemotePaymentID)
		} else {
			return domain.Fatal(err)
		}
	}

	s.paymentMetrics.IncPaymentCompleted(event.GatewayID, payment.Currency)
	s.paymentMetrics.ObservePaymentAmount(payment.Total, payment.Currency, string(payment.Status))
	s.publishPayment(ctx, EventPaymentCompleted, payment)

	s.log.Infow("Payment reconciled", "paymentID", payment.ID, "gatewayPaymentID", event.RemotePaymentID,
		"membershipID", membership.ID, "renewal", isRenewal)
	return domain.Ok()
}

// completePendingPayment завершает платеж, созданный на чекауте,
// привязывая к нему удаленный идентификатор транзакции
func (s *reconcilerService) completePendingPayment(ctx context.Context, membership *domain.Membership, event *domain.InboundEvent) (*domain.Payment, error) {
	pending, err := s.paymentRepo.GetPendingByMembershipID(ctx, membership.ID)
	if err != nil {
		return nil, err
	}

	pending.MarkCompleted(event.RemotePaymentID)
	if event.TaxMinor > 0 && len(pending.LineItems) > 0 {
		pending.TaxTotal = event.Tax()
		pending.LineItems = domain.DistributeTax(event.Tax(), pending.LineItems)
	}

	if err := s.paymentRepo.Update(ctx, pending); err != nil {
		return nil, err
	}

	s.log.Debugw("Pending payment completed", "paymentID", pending.ID, "gatewayPaymentID", event.RemotePaymentID)
	return pending, nil
}

// createPaymentFromEvent создает запись платежа по данным события шлюза.
// Используется для продлений и событий, у которых нет ожидающего платежа.
func (s *reconcilerService) createPaymentFromEvent(ctx context.Context, membership *domain.Membership, event *domain.InboundEvent, isRenewal bool) (*domain.Payment, error) {
	transactionType := domain.TransactionTypeNew
	if isRenewal {
		transactionType = domain.TransactionTypeRenewal
	}

	lineItems := event.LineItems
	if len(lineItems) == 0 {
		lineItems = []domain.LineItem{
			{
				ProductID: membership.PlanID,
				Title:     membership.PlanName,
				Quantity:  1,
				UnitPrice: event.Amount() - event.Tax(),
				Subtotal:  event.Amount() - event.Tax(),
				Total:     event.Amount(),
				Recurring: true,
				IsPlan:    true,
			},
		}
	}
	lineItems = domain.DistributeTax(event.Tax(), lineItems)

	payment := &domain.Payment{
		ID:               uuid.New(),
		MembershipID:     membership.ID,
		CustomerID:       membership.CustomerID,
		Status:           domain.PaymentStatusCompleted,
		GatewayID:        event.GatewayID,
		GatewayPaymentID: event.RemotePaymentID,
		Total:            event.Amount(),
		Subtotal:         event.Amount() - event.Tax(),
		TaxTotal:         event.Tax(),
		Currency:         paymentCurrency(event, membership),
		TransactionType:  transactionType,
		LineItems:        lineItems,
	}

	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		return nil, err
	}

	s.paymentMetrics.IncPaymentCreated(event.GatewayID, payment.Currency)
	return payment, nil
}

// advanceMembership двигает членство после записанного платежа:
// первый платеж активирует, платеж за продление продлевает
func (s *reconcilerService) advanceMembership(ctx context.Context, membership *domain.Membership, event *domain.InboundEvent, isRenewal bool) error {
	if !isRenewal {
		trial := membership.Status == domain.MembershipStatusPending && event.Amount() == 0 && membership.Recurring
		// Первое списание тоже считается выбранным циклом, иначе лимит
		// billing_cycles сдвигается на один период
		if !trial {
			membership.AddToTimesBilled(1)
		}
		return s.membershipService.Activate(ctx, membership, event.PeriodEnd, trial)
	}

	membership.AddToTimesBilled(1)
	return s.membershipService.Renew(ctx, membership, event.PeriodEnd)
}

// RecordRefund учитывает возврат по ранее записанному платежу
func (s *reconcilerService) RecordRefund(ctx context.Context, event *domain.InboundEvent) domain.Outcome {
	if event.RemotePaymentID == "" {
		return domain.Ignorable("refund event carries no gateway payment id")
	}

	payment, err := s.paymentRepo.GetByGatewayPaymentID(ctx, event.GatewayID, event.RemotePaymentID)
	if errors.Is(err, domain.ErrPaymentNotFound) {
		return domain.Ignorable("refund for unknown payment")
	}
	if err != nil {
		return domain.Fatal(err)
	}

	if payment.Status == domain.PaymentStatusRefunded {
		return domain.Ignorable("payment already fully refunded")
	}

	payment.MarkRefunded(event.Amount())
	if err := s.paymentRepo.Update(ctx, payment); err != nil {
		return domain.Fatal(err)
	}

	s.paymentMetrics.IncPaymentRefunded(event.GatewayID, payment.Currency)
	s.publishPayment(ctx, EventPaymentRefunded, payment)

	s.log.Infow("Refund recorded", "paymentID", payment.ID, "amount", event.Amount(), "status", payment.Status)
	return domain.Ok()
}

// RecordFailure учитывает неудачное списание. Членство не трогается:
// шлюз сам повторяет списание по своему расписанию.
func (s *reconcilerService) RecordFailure(ctx context.Context, membership *domain.Membership, event *domain.InboundEvent) domain.Outcome {
	currency := paymentCurrency(event, membership)
	s.paymentMetrics.IncPaymentFailed(event.GatewayID, currency)

	pending, err := s.paymentRepo.GetPendingByMembershipID(ctx, membership.ID)
	if err == nil && pending != nil {
		pending.Status = domain.PaymentStatusFailed
		pending.UpdatedAt = time.Now().UTC()
		if uerr := s.paymentRepo.Update(ctx, pending); uerr != nil {
			return domain.Fatal(uerr)
		}
		s.publishPayment(ctx, EventPaymentFailed, pending)
	} else if err != nil && !errors.Is(err, domain.ErrPaymentNotFound) {
		return domain.Fatal(err)
	}

	s.log.Warnw("Gateway payment failed", "membershipID", membership.ID, "gatewayID", event.GatewayID, "rawType", event.RawType)
	return domain.Ok()
}

// HandleSubscriptionDeleted обрабатывает отмену удаленной подписки.
// Членство с фиксированным числом циклов, выбравшее все продления,
// не отменяется: оно истекает естественно в назначенную дату.
func (s *reconcilerService) HandleSubscriptionDeleted(ctx context.Context, membership *domain.Membership) domain.Outcome {
	if membership.Status == domain.MembershipStatusCancelled || membership.Status == domain.MembershipStatusExpired {
		return domain.Ignorable("membership already in terminal status")
	}

	if membership.AtMaximumRenewals() {
		s.log.Infow("Remote subscription ended after final billing cycle, membership left to expire",
			"membershipID", membership.ID, "timesBilled", membership.TimesBilled)
		return domain.Ignorable("membership completed its billing cycles")
	}

	membership.Cancel("gateway subscription cancelled")
	if err := s.membershipRepo.Update(ctx, membership); err != nil {
		return domain.Fatal(err)
	}

	if s.producer != nil {
		if err := s.producer.PublishMembershipEvent(ctx, EventMembershipCancelled, membership); err != nil {
			s.log.Errorw("Failed to publish membership event", "error", err, "membershipID", membership.ID)
		}
	}

	s.log.Infow("Membership cancelled by gateway", "membershipID", membership.ID)
	return domain.Ok()
}

// publishPayment отправляет событие платежа в Kafka, сбой публикации не фатален
func (s *reconcilerService) publishPayment(ctx context.Context, eventType string, payment *domain.Payment) {
	if s.producer == nil {
		return
	}
	if err := s.producer.PublishPaymentEvent(ctx, eventType, payment); err != nil {
		s.log.Errorw("Failed to publish payment event", "error", err, "eventType", eventType, "paymentID", payment.ID)
	}
}

// paymentCurrency выбирает валюту платежа: из события, иначе из членства
func paymentCurrency(event *domain.InboundEvent, membership *domain.Membership) string {
	if event.Currency != "" {
		return event.Currency
	}
	return membership.Currency
}
