package gateway

import "context"

// Виды кэшируемых удаленных ресурсов
const (
	ResourceKindPrice   = "price"
	ResourceKindProduct = "product"
	ResourceKindTaxRate = "tax_rate"
	ResourceKindCoupon  = "coupon"
)

// ResourceCache кэширует соответствие локального ключа поиска удаленному
// идентификатору ресурса шлюза. Промах кэша не фатален: адаптер всегда
// может переспросить шлюз по ключу поиска.
type ResourceCache interface {
	// Get возвращает закэшированный удаленный id или "" при промахе
	Get(ctx context.Context, gatewayID, kind, lookupKey string) (string, error)

	// Put сохраняет соответствие ключа поиска удаленному id
	Put(ctx context.Context, gatewayID, kind, lookupKey, remoteID string) error
}
