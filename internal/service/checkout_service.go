package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Dhoini/Billing-reconciliation/internal/domain"
	"github.com/Dhoini/Billing-reconciliation/internal/gateway"
	paypalGw "github.com/Dhoini/Billing-reconciliation/internal/gateway/paypal"
	stripeGw "github.com/Dhoini/Billing-reconciliation/internal/gateway/stripe"
	"github.com/Dhoini/Billing-reconciliation/internal/lock"
	"github.com/Dhoini/Billing-reconciliation/internal/metrics"
	"github.com/Dhoini/Billing-reconciliation/internal/repository"
	"github.com/Dhoini/Billing-reconciliation/pkg/logger"
	"github.com/google/uuid"
)

// Скрытые поля, возвращаемые префлайтом платежной формы
const (
	HiddenFieldClientSecret = "stripe_client_secret"
	HiddenFieldIntentType   = "stripe_intent_type"

	IntentTypePayment = "payment"
	IntentTypeSetup   = "setup"
)

// PreflightRequest запрос подготовки платежной формы
type PreflightRequest struct {
	CustomerID        uuid.UUID
	Email             string
	Name              string
	Country           string
	Address           string
	City              string
	PostalCode        string
	GatewayID         string
	GatewayCustomerID string
	IntentID          string
	Cart              *domain.Cart
}

// PreflightResult результат префлайта: удаленный клиент и скрытые поля формы
type PreflightResult struct {
	GatewayCustomerID string
	IntentID          string
	HiddenFields      map[string]string
}

// CheckoutRequest запрос завершения оформления заказа
type CheckoutRequest struct {
	MembershipID      uuid.UUID
	CustomerID        uuid.UUID
	GatewayID         string
	GatewayCustomerID string
	PaymentMethod     string
	ReturnURL         string
	CancelURL         string
	Cart              *domain.Cart
}

// CheckoutResult результат завершения оформления.
// Deferred означает, что заказ этого членства уже обрабатывается
// параллельным запросом; это не ошибка.
type CheckoutResult struct {
	Deferred    bool
	RedirectURL string
	Membership  *domain.Membership
	Payment     *domain.Payment
}

// CheckoutService интерфейс сервиса оформления заказов
type CheckoutService interface {
	// Preflight подготавливает платежную форму: создает удаленного клиента
	// и платежное намерение, возвращая его скрытыми полями
	Preflight(ctx context.Context, req PreflightRequest) (*PreflightResult, error)

	// Complete завершает оформление: создает членство, ожидающий платеж
	// и удаленную подписку под блокировкой создания
	Complete(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)

	// CompleteRedirect завершает redirect-поток после возврата плательщика
	CompleteRedirect(ctx context.Context, membershipID uuid.UUID, token, payerID string) (*CheckoutResult, error)
}

type checkoutService struct {
	stripe         *stripeGw.Client
	paypal         *paypalGw.Client
	adapters       map[string]gateway.Adapter
	membershipRepo repository.MembershipRepository
	paymentRepo    repository.PaymentRepository
	locker         lock.Locker
	lockTTL        time.Duration
	webhookMetrics metrics.WebhookMetrics
	paymentMetrics metrics.PaymentMetrics
	log            *logger.Logger
}

// NewCheckoutService создает новый сервис оформления заказов
func NewCheckoutService(
	stripeClient *stripeGw.Client,
	paypalClient *paypalGw.Client,
	adapters map[string]gateway.Adapter,
	membershipRepo repository.MembershipRepository,
	paymentRepo repository.PaymentRepository,
	locker lock.Locker,
	lockTTL time.Duration,
	webhookMetrics metrics.WebhookMetrics,
	paymentMetrics metrics.PaymentMetrics,
	log *logger.Logger,
) CheckoutService {
	if lockTTL <= 0 {
		lockTTL = lock.DefaultTTL
	}
	return &checkoutService{
		stripe:         stripeClient,
		paypal:         paypalClient,
		adapters:       adapters,
		membershipRepo: membershipRepo,
		paymentRepo:    paymentRepo,
		locker:         locker,
		lockTTL:        lockTTL,
		webhookMetrics: webhookMetrics,
		paymentMetrics: paymentMetrics,
		log:            log,
	}
}

// Preflight подготавливает платежную форму карточного шлюза.
// Redirect-шлюзам префлайт не нужен: их поток начинается в Complete.
func (s *checkoutService) Preflight(ctx context.Context, req PreflightRequest) (*PreflightResult, error) {
	if req.Cart == nil || len(req.Cart.LineItems) == 0 {
		return nil, domain.ErrInvalidCart
	}

	if req.GatewayID != stripeGw.GatewayID {
		return &PreflightResult{GatewayCustomerID: req.GatewayCustomerID, HiddenFields: map[string]string{}}, nil
	}

	customer, err := s.stripe.GetOrCreateCustomer(ctx, gateway.CustomerRef{
		CustomerID: req.CustomerID.String(),
		Email:      req.Email,
		Name:       req.Name,
		Country:    req.Country,
		Address:    req.Address,
		City:       req.City,
		PostalCode: req.PostalCode,
	}, req.GatewayCustomerID)
	if err != nil {
		return nil, err
	}

	totalMinor := domain.ToMinorUnits(req.Cart.Total())

	// Бесплатные и пробные заказы не списывают ничего сейчас, но карту
	// нужно сохранить для первого продления
	if totalMinor == 0 || req.Cart.HasTrial() {
		if !req.Cart.HasRecurring() {
			return &PreflightResult{GatewayCustomerID: customer.ID, HiddenFields: map[string]string{}}, nil
		}

		intent, err := s.stripe.CreateSetupIntent(ctx, customer.ID, map[string]string{
			"customer_id": req.CustomerID.String(),
		})
		if err != nil {
			return nil, err
		}

		return &PreflightResult{
			GatewayCustomerID: customer.ID,
			IntentID:          intent.ID,
			HiddenFields: map[string]string{
				HiddenFieldClientSecret: intent.ClientSecret,
				HiddenFieldIntentType:   IntentTypeSetup,
			},
		}, nil
	}

	intent, err := s.resolvePaymentIntent(ctx, customer.ID, req, totalMinor)
	if err != nil {
		return nil, err
	}

	return &PreflightResult{
		GatewayCustomerID: customer.ID,
		IntentID:          intent.ID,
		HiddenFields: map[string]string{
			HiddenFieldClientSecret: intent.ClientSecret,
			HiddenFieldIntentType:   IntentTypePayment,
		},
	}, nil
}

// resolvePaymentIntent переиспользует намерение предыдущего префлайта,
// подгоняя его сумму под текущую корзину; намерение другого типа
// или отсутствующее заменяется новым
func (s *checkoutService) resolvePaymentIntent(ctx context.Context, customerID string, req PreflightRequest, totalMinor int64) (*stripeGw.PaymentIntentResponse, error) {
	if strings.HasPrefix(req.IntentID, stripeGw.PaymentIntentPrefix) {
		intent, err := s.stripe.GetPaymentIntent(ctx, req.IntentID)
		if err != nil {
			return nil, err
		}
		if intent != nil {
			if intent.Amount == totalMinor {
				return intent, nil
			}
			updated, err := s.stripe.UpdatePaymentIntent(ctx, intent.ID, totalMinor, req.Cart.Currency)
			if err != nil {
				return nil, err
			}
			s.log.Debugw("Payment intent amount updated", "intentID", intent.ID, "amount", totalMinor)
			return updated, nil
		}
	}

	return s.stripe.CreatePaymentIntent(ctx, customerID, totalMinor, req.Cart.Currency, map[string]string{
		"customer_id": req.CustomerID.String(),
	})
}

// Complete завершает оформление заказа. Создание удаленной подписки
// выполняется под блокировкой членства: параллельный запрос получает
// Deferred и не создает вторую подписку.
func (s *checkoutService) Complete(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if req.Cart == nil || len(req.Cart.LineItems) == 0 {
		return nil, domain.ErrInvalidCart
	}

	adapter, ok := s.adapters[req.GatewayID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown gateway %s", domain.ErrNotSupported, req.GatewayID)
	}

	membership, err := s.resolveMembership(ctx, req)
	if err != nil {
		return nil, err
	}

	// Бесплатный разовый заказ не требует ни платежа, ни подписки
	if req.Cart.IsFree() && !req.Cart.HasRecurring() {
		membership.Status = domain.MembershipStatusActive
		expiration := renewalExpiration(membership, nil, time.Now().UTC())
		membership.DateExpiration = &expiration
		if err := s.membershipRepo.Update(ctx, membership); err != nil {
			return nil, err
		}
		return &CheckoutResult{Membership: membership}, nil
	}

	acquired, err := s.locker.TryAcquire(ctx, lock.RecurringCreationKey(membership.ID.String()), s.lockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		s.webhookMetrics.IncCheckoutDeferred()
		s.log.Infow("Checkout already in progress, deferring", "membershipID", membership.ID)
		return &CheckoutResult{Deferred: true, Membership: membership}, nil
	}
	defer func() {
		if rerr := s.locker.Release(ctx, lock.RecurringCreationKey(membership.ID.String())); rerr != nil {
			s.log.Warnw("Failed to release checkout lock", "error", rerr, "membershipID", membership.ID)
		}
	}()

	payment, err := s.resolvePendingPayment(ctx, membership, req)
	if err != nil {
		return nil, err
	}

	correlation := domain.Correlation{
		PaymentID:    payment.ID.String(),
		MembershipID: membership.ID.String(),
		CustomerID:   req.CustomerID.String(),
	}

	if req.GatewayID == paypalGw.GatewayID {
		return s.startRedirectFlow(ctx, membership, payment, req, correlation)
	}

	if req.Cart.ShouldAutoRenew() {
		if err := s.createRemoteSubscription(ctx, adapter, membership, payment, req, correlation); err != nil {
			return nil, err
		}
	}

	return &CheckoutResult{Membership: membership, Payment: payment}, nil
}

// resolveMembership загружает членство повторного запроса или создает новое
func (s *checkoutService) resolveMembership(ctx context.Context, req CheckoutRequest) (*domain.Membership, error) {
	if req.MembershipID != uuid.Nil {
		return s.membershipRepo.GetByID(ctx, req.MembershipID)
	}

	membership := &domain.Membership{
		ID:                uuid.New(),
		CustomerID:        req.CustomerID,
		PlanID:            req.Cart.PlanID(),
		PlanName:          req.Cart.PlanName(),
		Status:            domain.MembershipStatusPending,
		GatewayID:         req.GatewayID,
		GatewayCustomerID: req.GatewayCustomerID,
		Amount:            req.Cart.RecurringTotal(),
		InitialAmount:     req.Cart.Total(),
		Currency:          req.Cart.Currency,
		Duration:          req.Cart.Duration,
		DurationUnit:      req.Cart.DurationUnit,
		AutoRenew:         req.Cart.ShouldAutoRenew(),
		Recurring:         req.Cart.HasRecurring(),
	}
	if membership.PlanID == "" {
		return nil, fmt.Errorf("%w: cart has no plan item", domain.ErrInvalidCart)
	}

	if err := s.membershipRepo.Create(ctx, membership); err != nil {
		return nil, err
	}

	return membership, nil
}

// resolvePendingPayment возвращает ожидающий платеж членства или создает новый
func (s *checkoutService) resolvePendingPayment(ctx context.Context, membership *domain.Membership, req CheckoutRequest) (*domain.Payment, error) {
	existing, err := s.paymentRepo.GetPendingByMembershipID(ctx, membership.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrPaymentNotFound) {
		return nil, err
	}

	payment := &domain.Payment{
		ID:              uuid.New(),
		MembershipID:    membership.ID,
		CustomerID:      req.CustomerID,
		Status:          domain.PaymentStatusPending,
		GatewayID:       req.GatewayID,
		Total:           req.Cart.Total(),
		Subtotal:        req.Cart.Subtotal(),
		TaxTotal:        req.Cart.TaxTotal(),
		DiscountTotal:   req.Cart.DiscountTotal(),
		Currency:        req.Cart.Currency,
		TransactionType: req.Cart.TransactionType(),
		LineItems:       req.Cart.LineItems,
		Meta:            map[string]string{},
	}
	if req.GatewayID == stripeGw.GatewayID && req.PaymentMethod != "" {
		payment.Meta[domain.MetaPaymentIntentID] = req.PaymentMethod
	}

	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		return nil, err
	}

	s.paymentMetrics.IncPaymentCreated(req.GatewayID, payment.Currency)
	return payment, nil
}

// createRemoteSubscription создает удаленную подписку карточного шлюза.
// Начальный платеж уже взят платежным намерением, поэтому первый цикл
// подписки привязывается к концу оплаченного периода.
func (s *checkoutService) createRemoteSubscription(ctx context.Context, adapter gateway.Adapter, membership *domain.Membership, payment *domain.Payment, req CheckoutRequest, correlation domain.Correlation) error {
	items, err := adapter.BuildLineItems(ctx, req.Cart)
	if err != nil {
		return err
	}

	start := gateway.StartPolicy{Kind: gateway.StartImmediate}
	switch {
	case req.Cart.HasTrial():
		start = gateway.StartPolicy{Kind: gateway.StartTrialUntil, Date: *req.Cart.TrialEnd}
	case !req.Cart.IsFree():
		anchor := stripeGw.MaxBillingCycleAnchor(req.Cart.Duration, req.Cart.DurationUnit, time.Now().UTC())
		start = gateway.StartPolicy{Kind: gateway.StartAnchorAt, Date: anchor}
	}

	var sub *gateway.RemoteSubscription
	err = withRetry(ctx, s.log, "create subscription", func() error {
		var serr error
		sub, serr = adapter.CreateSubscription(ctx, membership.GatewayCustomerID, items, start, req.PaymentMethod, correlation)
		return serr
	})
	if err != nil {
		return err
	}

	membership.GatewaySubscriptionID = sub.ID
	if err := s.membershipRepo.Update(ctx, membership); err != nil {
		return err
	}

	s.log.Infow("Remote subscription created", "membershipID", membership.ID, "subscriptionID", sub.ID)
	return nil
}

// startRedirectFlow открывает сессию express checkout и возвращает URL
// перенаправления плательщика. Заказ довершается в CompleteRedirect.
func (s *checkoutService) startRedirectFlow(ctx context.Context, membership *domain.Membership, payment *domain.Payment, req CheckoutRequest, correlation domain.Correlation) (*CheckoutResult, error) {
	token, err := s.paypal.SetExpressCheckout(ctx,
		domain.ToMinorUnits(req.Cart.Total()), req.Cart.Currency, membership.PlanName,
		req.ReturnURL, req.CancelURL, req.Cart.ShouldAutoRenew(), correlation)
	if err != nil {
		return nil, err
	}

	if payment.Meta == nil {
		payment.Meta = map[string]string{}
	}
	payment.Meta[paypalGw.MetaExpressToken] = token
	if err := s.paymentRepo.Update(ctx, payment); err != nil {
		return nil, err
	}

	return &CheckoutResult{
		Membership:  membership,
		Payment:     payment,
		RedirectURL: s.paypal.ExpressCheckoutURL(token),
	}, nil
}

// CompleteRedirect довершает redirect-поток после одобрения плательщика:
// списывает начальный платеж и создает профиль повторяющихся платежей
func (s *checkoutService) CompleteRedirect(ctx context.Context, membershipID uuid.UUID, token, payerID string) (*CheckoutResult, error) {
	membership, err := s.membershipRepo.GetByID(ctx, membershipID)
	if err != nil {
		return nil, err
	}

	acquired, err := s.locker.TryAcquire(ctx, lock.RecurringCreationKey(membership.ID.String()), s.lockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		s.webhookMetrics.IncCheckoutDeferred()
		return &CheckoutResult{Deferred: true, Membership: membership}, nil
	}
	defer func() {
		if rerr := s.locker.Release(ctx, lock.RecurringCreationKey(membership.ID.String())); rerr != nil {
			s.log.Warnw("Failed to release checkout lock", "error", rerr, "membershipID", membership.ID)
		}
	}()

	payment, err := s.paymentRepo.GetPendingByMembershipID(ctx, membership.ID)
	if err != nil {
		return nil, err
	}

	correlation := domain.Correlation{
		PaymentID:    payment.ID.String(),
		MembershipID: membership.ID.String(),
		CustomerID:   membership.CustomerID.String(),
	}

	if payment.Total > 0 {
		charge, err := s.paypal.CreateCharge(ctx, payerID, domain.ToMinorUnits(payment.Total), payment.Currency,
			membership.PlanName, map[string]string{
				paypalGw.MetaExpressToken: token,
				"custom":                  correlation.String(),
			})
		if err != nil {
			return nil, err
		}
		payment.Meta[paypalGw.MetaPayerID] = payerID
		payment.Meta["paypal_transaction_id"] = charge.ID
		if err := s.paymentRepo.Update(ctx, payment); err != nil {
			return nil, err
		}
	}

	membership.GatewayCustomerID = payerID

	if membership.AutoRenew && membership.Recurring {
		// Начальный платеж уже взят, профиль начинает биллиться
		// со следующей границы периода
		profileStart := addDuration(time.Now().UTC(), membership.Duration, membership.DurationUnit)
		profile, err := s.paypal.CreateSubscriptionProfile(ctx, payerID, token,
			domain.ToMinorUnits(membership.Amount), membership.Currency,
			membership.Duration, membership.DurationUnit, profileStart, correlation, membership.PlanName)
		if err != nil {
			return nil, err
		}
		membership.GatewaySubscriptionID = profile.ID
	}

	if err := s.membershipRepo.Update(ctx, membership); err != nil {
		return nil, err
	}

	s.log.Infow("Redirect checkout completed", "membershipID", membership.ID, "payerID", payerID)
	return &CheckoutResult{Membership: membership, Payment: payment}, nil
}
