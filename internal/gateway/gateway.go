package gateway

import (
	"context"
	"time"

	"github.com/Dhoini/Billing-reconciliation/internal/domain"
)

// CustomerRef представляет платежный профиль клиента для создания
// удаленного клиента у шлюза
type CustomerRef struct {
	CustomerID string
	Email      string
	Name       string
	Country    string
	Address    string
	City       string
	PostalCode string
}

// RemoteCustomer представляет клиента на стороне шлюза
type RemoteCustomer struct {
	ID    string
	Email string
}

// RemoteLineItem представляет позицию, готовую к отправке шлюзу.
// Interval и IntervalCount несут период биллинга рекуррентной позиции:
// карточные шлюзы хранят его в удаленной цене, redirect-шлюзы передают
// при создании профиля.
type RemoteLineItem struct {
	PriceID       string
	TaxRateIDs    []string
	Quantity      int
	AmountMinor   int64
	Currency      string
	Description   string
	Recurring     bool
	Interval      string
	IntervalCount int
}

// RemoteSubscription представляет подписку на стороне шлюза
type RemoteSubscription struct {
	ID               string
	Status           string
	CurrentPeriodEnd time.Time
	LatestInvoiceID  string
	ClientSecret     string
}

// RemoteCharge представляет разовое списание на стороне шлюза
type RemoteCharge struct {
	ID           string
	Status       string
	ClientSecret string
}

// StartPolicyKind вид политики старта подписки
type StartPolicyKind int

const (
	// StartImmediate подписка стартует и биллится сразу
	StartImmediate StartPolicyKind = iota

	// StartTrialUntil подписка стартует с пробным периодом до даты
	StartTrialUntil

	// StartAnchorAt первый цикл привязывается к дате (начальный платеж уже взят отдельно)
	StartAnchorAt
)

// StartPolicy определяет, когда удаленная подписка начинает биллиться
type StartPolicy struct {
	Kind StartPolicyKind
	Date time.Time
}

// ProrationPolicy политика перерасчета при смене позиций подписки
type ProrationPolicy string

const (
	// ProrationNone перерасчет отключен: разница компенсируется кредитным купоном
	ProrationNone ProrationPolicy = "none"

	// ProrationCreateProrations шлюз сам создает строки перерасчета
	ProrationCreateProrations ProrationPolicy = "create_prorations"
)

// Adapter определяет контракт адаптера платежного шлюза.
// Каждая реализация транслирует локальные корзины и членства
// в вызовы API конкретного процессора.
type Adapter interface {
	// ID возвращает идентификатор шлюза ("stripe", "paypal")
	ID() string

	// GetOrCreateCustomer ищет клиента по сохраненному удаленному id;
	// при промахе или удалении создает нового из платежного профиля.
	// Возвращенный id персистит вызывающая сторона.
	GetOrCreateCustomer(ctx context.Context, ref CustomerRef, existingRemoteID string) (*RemoteCustomer, error)

	// BuildLineItems конвертирует корзину в позиции шлюза, разрешая
	// удаленные цены и налоговые ставки через кэш ресурсов.
	BuildLineItems(ctx context.Context, cart *domain.Cart) ([]RemoteLineItem, error)

	// CreateSubscription создает удаленную подписку. Реализация обязана
	// передать идемпотентный токен, выведенный из собственных аргументов,
	// чтобы транспортные ретраи не создали две подписки.
	CreateSubscription(ctx context.Context, customerID string, items []RemoteLineItem, start StartPolicy, paymentMethod string, correlation domain.Correlation) (*RemoteSubscription, error)

	// UpdateSubscription заменяет позиции существующей подписки
	UpdateSubscription(ctx context.Context, id string, items []RemoteLineItem, proration ProrationPolicy) (*RemoteSubscription, error)

	// CancelSubscription отменяет удаленную подписку.
	// "Уже отменена" считается успехом, а не ошибкой.
	CancelSubscription(ctx context.Context, id string) error

	// CreateCharge создает разовое списание
	CreateCharge(ctx context.Context, customerID string, amountMinor int64, currency, description string, meta map[string]string) (*RemoteCharge, error)

	// CreateRefund создает возврат по удаленному платежу
	CreateRefund(ctx context.Context, remotePaymentID string, amountMinor int64) error

	// RetrieveEvent перечитывает событие на стороне шлюза вместо того,
	// чтобы доверять телу вебхука. Шлюзы без такого API возвращают
	// domain.ErrNotSupported.
	RetrieveEvent(ctx context.Context, eventID string) (*domain.InboundEvent, error)
}
