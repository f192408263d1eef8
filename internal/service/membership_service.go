package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Billing-reconciliation/internal/domain"
	"github.com/Dhoini/Billing-reconciliation/internal/gateway"
	"github.com/Dhoini/Billing-reconciliation/internal/kafka"
	"github.com/Dhoini/Billing-reconciliation/internal/repository"
	"github.com/Dhoini/Billing-reconciliation/pkg/logger"
	"github.com/google/uuid"
)

// Типы событий членства, публикуемые в Kafka
const (
	EventMembershipActivated = "membership.activated"
	EventMembershipRenewed   = "membership.renewed"
	EventMembershipCancelled = "membership.cancelled"
	EventMembershipSwapped   = "membership.swapped"
)

// MembershipService интерфейс сервиса для работы с членствами
type MembershipService interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Membership, error)

	// Activate переводит оплаченное членство из pending в active/trialing
	// и назначает дату истечения
	Activate(ctx context.Context, membership *domain.Membership, periodEnd *time.Time, trial bool) error

	// Renew продлевает членство после подтвержденного платежа за продление
	Renew(ctx context.Context, membership *domain.Membership, periodEnd *time.Time) error

	// Cancel отменяет членство локально и best-effort отменяет удаленную подписку
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*domain.Membership, error)

	// Swap немедленно меняет тарифный план членства (апгрейд)
	Swap(ctx context.Context, id uuid.UUID, cart *domain.Cart) (*domain.Membership, error)

	// ScheduleSwap откладывает смену тарифа до границы платежного периода (даунгрейд)
	ScheduleSwap(ctx context.Context, id uuid.UUID, cart *domain.Cart) (*domain.Membership, error)
}

type membershipService struct {
	membershipRepo repository.MembershipRepository
	adapters       map[string]gateway.Adapter
	couponIssuer   CreditCouponIssuer
	producer       kafka.EventProducer
	log            *logger.Logger
}

// CreditCouponIssuer выпускает разовый кредитный купон на неиспользованную
// часть периода при апгрейде. Реализуется клиентом Stripe; шлюзы без
// купонов передают nil.
type CreditCouponIssuer interface {
	GetOrCreateCreditCoupon(ctx context.Context, amountMinor int64, currency string) (string, error)
}

// NewMembershipService создает новый сервис для работы с членствами
func NewMembershipService(
	membershipRepo repository.MembershipRepository,
	adapters map[string]gateway.Adapter,
	couponIssuer CreditCouponIssuer,
	producer kafka.EventProducer,
	log *logger.Logger,
) MembershipService {
	return &membershipService{
		membershipRepo: membershipRepo,
		adapters:       adapters,
		couponIssuer:   couponIssuer,
		producer:       producer,
		log:            log,
	}
}

// GetByID возвращает членство по ID
func (s *membershipService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Membership, error) {
	return s.membershipRepo.GetByID(ctx, id)
}

// Activate переводит оплаченное членство в активное состояние
func (s *membershipService) Activate(ctx context.Context, membership *domain.Membership, periodEnd *time.Time, trial bool) error {
	status := domain.MembershipStatusActive
	if trial {
		status = domain.MembershipStatusTrialing
	}

	membership.Status = status
	expiration := renewalExpiration(membership, periodEnd, time.Now().UTC())
	membership.DateExpiration = &expiration

	if err := s.membershipRepo.Update(ctx, membership); err != nil {
		return err
	}

	s.log.Infow("Membership activated", "membershipID", membership.ID, "status", status, "expiration", expiration)
	s.publish(ctx, EventMembershipActivated, membership)
	return nil
}

// Renew продлевает членство после подтвержденного платежа за продление.
// Инкремент счетчика периодов выполняет вызывающая сторона, уже доказавшая,
// что платеж записан впервые.
func (s *membershipService) Renew(ctx context.Context, membership *domain.Membership, periodEnd *time.Time) error {
	expiration := renewalExpiration(membership, periodEnd, time.Now().UTC())

	if err := membership.Renew(membership.AutoRenew, domain.MembershipStatusActive, expiration); err != nil {
		return err
	}

	// Отложенная смена тарифа применяется на границе периода
	if cartJSON, scheduleDate, ok := membership.ScheduledSwap(); ok && !scheduleDate.After(time.Now().UTC()) {
		if err := s.applyScheduledSwap(ctx, membership, cartJSON); err != nil {
			s.log.Errorw("Failed to apply scheduled swap", "error", err, "membershipID", membership.ID)
		}
	}

	if err := s.membershipRepo.Update(ctx, membership); err != nil {
		return err
	}

	s.log.Infow("Membership renewed", "membershipID", membership.ID, "timesBilled", membership.TimesBilled, "expiration", expiration)
	s.publish(ctx, EventMembershipRenewed, membership)
	return nil
}

// applyScheduledSwap применяет сохраненную в мете смену тарифа
func (s *membershipService) applyScheduledSwap(ctx context.Context, membership *domain.Membership, cartJSON string) error {
	var cart domain.Cart
	if err := json.Unmarshal([]byte(cartJSON), &cart); err != nil {
		return fmt.Errorf("failed to unmarshal scheduled swap cart: %w", err)
	}

	if err := s.swapRemote(ctx, membership, &cart, 0); err != nil {
		return err
	}

	if err := membership.Swap(&cart); err != nil {
		return err
	}

	membership.DeleteScheduledSwap()
	s.log.Infow("Scheduled swap applied", "membershipID", membership.ID, "planID", membership.PlanID)
	return nil
}

// Cancel отменяет членство. Отмена удаленной подписки выполняется best-effort:
// сбой на стороне шлюза логируется, но не откатывает локальную отмену.
func (s *membershipService) Cancel(ctx context.Context, id uuid.UUID, reason string) (*domain.Membership, error) {
	membership, err := s.membershipRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if membership.GatewaySubscriptionID != "" {
		if adapter, ok := s.adapters[membership.GatewayID]; ok {
			if err := adapter.CancelSubscription(ctx, membership.GatewaySubscriptionID); err != nil {
				s.log.Errorw("Failed to cancel remote subscription", "error", err,
					"membershipID", id, "subscriptionID", membership.GatewaySubscriptionID)
			}
		}
	}

	membership.Cancel(reason)
	if err := s.membershipRepo.Update(ctx, membership); err != nil {
		return nil, err
	}

	s.log.Infow("Membership cancelled", "membershipID", id, "reason", reason)
	s.publish(ctx, EventMembershipCancelled, membership)
	return membership, nil
}

// Swap немедленно меняет тарифный план. Разница в стоимости неиспользованной
// части периода компенсируется кредитным купоном, перерасчет шлюза отключен.
func (s *membershipService) Swap(ctx context.Context, id uuid.UUID, cart *domain.Cart) (*domain.Membership, error) {
	membership, err := s.membershipRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	credit := unusedPeriodValue(membership, time.Now().UTC())
	if err := s.swapRemote(ctx, membership, cart, credit); err != nil {
		return nil, err
	}

	if err := membership.Swap(cart); err != nil {
		return nil, err
	}

	if err := s.membershipRepo.Update(ctx, membership); err != nil {
		return nil, err
	}

	s.log.Infow("Membership swapped", "membershipID", id, "planID", membership.PlanID, "credit", credit)
	s.publish(ctx, EventMembershipSwapped, membership)
	return membership, nil
}

// swapRemote заменяет позиции удаленной подписки. Шлюзы без поддержки замены
// (PayPal) получают отмену старого профиля: новый создается при следующем чекауте.
func (s *membershipService) swapRemote(ctx context.Context, membership *domain.Membership, cart *domain.Cart, creditMinor int64) error {
	if membership.GatewaySubscriptionID == "" {
		return nil
	}

	adapter, ok := s.adapters[membership.GatewayID]
	if !ok {
		return fmt.Errorf("%w: no adapter for gateway %s", domain.ErrNotSupported, membership.GatewayID)
	}

	items, err := adapter.BuildLineItems(ctx, cart)
	if err != nil {
		return err
	}

	if creditMinor > 0 && s.couponIssuer != nil && membership.GatewayID == adapter.ID() {
		couponID, err := s.couponIssuer.GetOrCreateCreditCoupon(ctx, creditMinor, membership.Currency)
		if err != nil {
			s.log.Errorw("Failed to issue credit coupon", "error", err, "membershipID", membership.ID)
		} else {
			s.log.Debugw("Credit coupon resolved", "membershipID", membership.ID, "couponID", couponID, "credit", creditMinor)
		}
	}

	err = withRetry(ctx, s.log, "update subscription", func() error {
		_, uerr := adapter.UpdateSubscription(ctx, membership.GatewaySubscriptionID, items, gateway.ProrationNone)
		return uerr
	})
	if err == nil {
		return nil
	}

	if errors.Is(err, domain.ErrNotSupported) {
		if cerr := adapter.CancelSubscription(ctx, membership.GatewaySubscriptionID); cerr != nil {
			return cerr
		}
		membership.GatewaySubscriptionID = ""
		return nil
	}

	return err
}

// ScheduleSwap откладывает смену тарифа до границы платежного периода
func (s *membershipService) ScheduleSwap(ctx context.Context, id uuid.UUID, cart *domain.Cart) (*domain.Membership, error) {
	membership, err := s.membershipRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	cartJSON, err := json.Marshal(cart)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal swap cart: %w", err)
	}

	if err := membership.ScheduleSwap(string(cartJSON), time.Time{}); err != nil {
		return nil, err
	}

	if err := s.membershipRepo.Update(ctx, membership); err != nil {
		return nil, err
	}

	s.log.Infow("Membership swap scheduled", "membershipID", id, "scheduledPlanID", cart.PlanID())
	return membership, nil
}

// publish отправляет событие членства в Kafka, сбой публикации не фатален
func (s *membershipService) publish(ctx context.Context, eventType string, membership *domain.Membership) {
	if s.producer == nil {
		return
	}
	if err := s.producer.PublishMembershipEvent(ctx, eventType, membership); err != nil {
		s.log.Errorw("Failed to publish membership event", "error", err, "eventType", eventType, "membershipID", membership.ID)
	}
}

// renewalExpiration вычисляет дату истечения оплаченного периода.
// База — конец периода от шлюза, при его отсутствии дата считается
// от текущего момента по длительности тарифа. Дата растягивается
// до конца суток; если шлюзовая граница с запасом позже, берется она.
func renewalExpiration(m *domain.Membership, periodEnd *time.Time, now time.Time) time.Time {
	var base time.Time
	if periodEnd != nil && periodEnd.After(now) {
		base = periodEnd.UTC()
	} else {
		base = addDuration(now, m.Duration, m.DurationUnit)
	}

	endOfDay := time.Date(base.Year(), base.Month(), base.Day(), 23, 59, 59, 0, time.UTC)
	padded := base.Add(2 * time.Hour)
	if padded.After(endOfDay) {
		return padded
	}
	return endOfDay
}

// addDuration добавляет длительность тарифного периода к дате
func addDuration(t time.Time, duration int, unit string) time.Time {
	if duration <= 0 {
		duration = 1
	}
	switch unit {
	case "day":
		return t.AddDate(0, 0, duration)
	case "week":
		return t.AddDate(0, 0, 7*duration)
	case "year":
		return t.AddDate(duration, 0, 0)
	default:
		return t.AddDate(0, duration, 0)
	}
}

// unusedPeriodValue оценивает стоимость неиспользованной части текущего
// периода в минимальных единицах валюты
func unusedPeriodValue(m *domain.Membership, now time.Time) int64 {
	if m.DateExpiration == nil || !m.DateExpiration.After(now) || m.Amount <= 0 {
		return 0
	}

	periodStart := m.CreatedAt
	if m.DateRenewed != nil {
		periodStart = *m.DateRenewed
	}

	total := m.DateExpiration.Sub(periodStart)
	if total <= 0 {
		return 0
	}

	remaining := m.DateExpiration.Sub(now)
	fraction := float64(remaining) / float64(total)
	if fraction > 1 {
		fraction = 1
	}

	return domain.ToMinorUnits(m.Amount * fraction)
}
