package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/Dhoini/Billing-reconciliation/internal/domain"
	paypalGw "github.com/Dhoini/Billing-reconciliation/internal/gateway/paypal"
	stripeGw "github.com/Dhoini/Billing-reconciliation/internal/gateway/stripe"
	"github.com/Dhoini/Billing-reconciliation/internal/metrics"
	"github.com/Dhoini/Billing-reconciliation/internal/repository"
	"github.com/Dhoini/Billing-reconciliation/pkg/logger"
	"github.com/google/uuid"
)

// WebhookService принимает уведомления шлюзов, проверяет их подлинность
// и маршрутизирует нормализованные события в сервис сверки
type WebhookService interface {
	// HandleStripeEvent проверяет подпись вебхука и обрабатывает событие.
	// Телу вебхука сервис не доверяет: событие перечитывается у API по ID.
	HandleStripeEvent(ctx context.Context, payload []byte, sigHeader string) domain.Outcome

	// HandlePayPalIPN проверяет подлинность IPN обратным запросом и обрабатывает его
	HandlePayPalIPN(ctx context.Context, rawBody []byte) domain.Outcome
}

type webhookService struct {
	stripe         *stripeGw.Client
	paypal         *paypalGw.Client
	membershipRepo repository.MembershipRepository
	reconciler     ReconcilerService
	webhookMetrics metrics.WebhookMetrics
	log            *logger.Logger
}

// NewWebhookService создает новый сервис обработки уведомлений
func NewWebhookService(
	stripeClient *stripeGw.Client,
	paypalClient *paypalGw.Client,
	membershipRepo repository.MembershipRepository,
	reconciler ReconcilerService,
	webhookMetrics metrics.WebhookMetrics,
	log *logger.Logger,
) WebhookService {
	return &webhookService{
		stripe:         stripeClient,
		paypal:         paypalClient,
		membershipRepo: membershipRepo,
		reconciler:     reconciler,
		webhookMetrics: webhookMetrics,
		log:            log,
	}
}

// HandleStripeEvent проверяет подпись и обрабатывает событие Stripe
func (s *webhookService) HandleStripeEvent(ctx context.Context, payload []byte, sigHeader string) domain.Outcome {
	if err := s.stripe.VerifySignature(payload, sigHeader); err != nil {
		s.webhookMetrics.IncVerificationFailed(stripeGw.GatewayID)
		s.log.Warnw("Stripe webhook signature rejected", "error", err)
		return domain.Fatal(fmt.Errorf("%w: %v", domain.ErrVerificationFailed, err))
	}

	eventID, err := s.stripe.ParseEventID(payload)
	if err != nil {
		return domain.Fatal(err)
	}

	// Состояние события берется у API, а не из доставленного тела
	event, err := s.stripe.RetrieveEvent(ctx, eventID)
	if err != nil {
		return domain.Fatal(err)
	}

	return s.route(ctx, event)
}

// HandlePayPalIPN проверяет подлинность и обрабатывает IPN PayPal
func (s *webhookService) HandlePayPalIPN(ctx context.Context, rawBody []byte) domain.Outcome {
	if err := s.paypal.VerifyIPN(ctx, rawBody); err != nil {
		s.webhookMetrics.IncVerificationFailed(paypalGw.GatewayID)
		s.log.Warnw("PayPal IPN verification rejected", "error", err)
		return domain.Fatal(err)
	}

	form, err := url.ParseQuery(string(rawBody))
	if err != nil {
		return domain.Fatal(fmt.Errorf("failed to parse IPN body: %w", err))
	}

	event, err := s.paypal.ParseIPN(form)
	if err != nil {
		return domain.Fatal(err)
	}

	return s.route(ctx, event)
}

// route сопоставляет событие с членством и передает его сверке.
// События, не относящиеся к известным членствам этого шлюза,
// намеренно игнорируются: шлюз получает успех и не повторяет доставку.
func (s *webhookService) route(ctx context.Context, event *domain.InboundEvent) domain.Outcome {
	started := time.Now()
	s.webhookMetrics.IncEventReceived(event.GatewayID, string(event.Type))

	outcome := s.dispatch(ctx, event)

	s.webhookMetrics.IncEventOutcome(event.GatewayID, outcome.String())
	s.webhookMetrics.ObserveProcessingDuration(event.GatewayID, time.Since(started))

	switch {
	case outcome.IsIgnorable():
		s.log.Debugw("Event ignored", "gatewayID", event.GatewayID, "eventID", event.ID,
			"type", event.Type, "reason", outcome.Reason)
	case outcome.IsFatal():
		s.log.Errorw("Event processing failed", "error", outcome.Err,
			"gatewayID", event.GatewayID, "eventID", event.ID, "type", event.Type)
	default:
		s.log.Infow("Event processed", "gatewayID", event.GatewayID, "eventID", event.ID, "type", event.Type)
	}

	return outcome
}

func (s *webhookService) dispatch(ctx context.Context, event *domain.InboundEvent) domain.Outcome {
	if event.Type == domain.EventTypeUnknown {
		return domain.Ignorable("unhandled event type " + event.RawType)
	}

	// Возврату достаточно записанного платежа: исходное списание могло прийти
	// без корреляции, а частичная сумма не совпадает с суммой членства
	if event.Type == domain.EventTypePaymentRefunded {
		return s.reconciler.RecordRefund(ctx, event)
	}

	membership, outcome := s.resolveMembership(ctx, event)
	if membership == nil {
		return outcome
	}

	if membership.GatewayID != event.GatewayID {
		return domain.Ignorable("membership belongs to another gateway")
	}

	switch event.Type {
	case domain.EventTypePaymentSucceeded, domain.EventTypeInvoicePaid:
		return s.reconciler.RecordPayment(ctx, membership, event)

	case domain.EventTypePaymentFailed:
		return s.reconciler.RecordFailure(ctx, membership, event)

	case domain.EventTypeSubscriptionCreated, domain.EventTypeSubscriptionUpdated:
		return s.syncSubscription(ctx, membership, event)

	case domain.EventTypeSubscriptionDeleted:
		return s.reconciler.HandleSubscriptionDeleted(ctx, membership)

	default:
		return domain.Ignorable("unhandled event type " + string(event.Type))
	}
}

// resolveMembership находит членство события: по удаленной подписке,
// затем по токену корреляции, затем по клиенту шлюза и сумме
func (s *webhookService) resolveMembership(ctx context.Context, event *domain.InboundEvent) (*domain.Membership, domain.Outcome) {
	if event.RemoteSubscriptionID != "" {
		membership, err := s.membershipRepo.GetByGatewaySubscriptionID(ctx, event.GatewayID, event.RemoteSubscriptionID)
		if err == nil {
			return membership, domain.Ok()
		}
		if !errors.Is(err, domain.ErrMembershipNotFound) {
			return nil, domain.Fatal(err)
		}
	}

	if event.Correlation != nil && event.Correlation.MembershipID != "" {
		id, err := uuid.Parse(event.Correlation.MembershipID)
		if err == nil {
			membership, gerr := s.membershipRepo.GetByID(ctx, id)
			if gerr == nil {
				return membership, domain.Ok()
			}
			if !errors.Is(gerr, domain.ErrMembershipNotFound) {
				return nil, domain.Fatal(gerr)
			}
		} else {
			s.log.Warnw("Event correlation carries invalid membership id",
				"membershipID", event.Correlation.MembershipID, "eventID", event.ID)
		}
	}

	if event.Correlation != nil && event.Correlation.CustomerID != "" && event.AmountMinor > 0 {
		customerID, err := uuid.Parse(event.Correlation.CustomerID)
		if err == nil {
			membership, gerr := s.membershipRepo.GetByCustomerGateway(ctx, customerID, event.GatewayID, domain.FromMinorUnits(event.AmountMinor))
			if gerr == nil {
				return membership, domain.Ok()
			}
			if !errors.Is(gerr, domain.ErrMembershipNotFound) {
				return nil, domain.Fatal(gerr)
			}
		}
	}

	return nil, domain.Ignorable("no matching membership")
}

// syncSubscription привязывает удаленную подписку к членству, если чекаут
// еще не успел ее сохранить, и доносит сдвиг границы периода на стороне
// шлюза до локальной даты истечения
func (s *webhookService) syncSubscription(ctx context.Context, membership *domain.Membership, event *domain.InboundEvent) domain.Outcome {
	changed := false

	if event.RemoteSubscriptionID != "" && membership.GatewaySubscriptionID != event.RemoteSubscriptionID {
		membership.GatewaySubscriptionID = event.RemoteSubscriptionID
		changed = true
	}

	if event.Type == domain.EventTypeSubscriptionUpdated && event.PeriodEnd != nil {
		expiration := renewalExpiration(membership, event.PeriodEnd, time.Now().UTC())
		if membership.DateExpiration == nil || !membership.DateExpiration.Equal(expiration) {
			membership.DateExpiration = &expiration
			changed = true
		}
	}

	if !changed {
		return domain.Ignorable("subscription already in sync")
	}

	if err := s.membershipRepo.Update(ctx, membership); err != nil {
		return domain.Fatal(err)
	}

	s.log.Infow("Remote subscription synced", "membershipID", membership.ID,
		"subscriptionID", membership.GatewaySubscriptionID, "expiration", membership.DateExpiration)
	return domain.Ok()
}
