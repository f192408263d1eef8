package stripe

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/Dhoini/Billing-reconciliation/internal/domain"
	"github.com/Dhoini/Billing-reconciliation/internal/gateway"
)

// Price представляет цену в Stripe
type Price struct {
	ID         string            `json:"id"`
	Object     string            `json:"object"`
	Active     bool              `json:"active"`
	Currency   string            `json:"currency"`
	UnitAmount int64             `json:"unit_amount"`
	LookupKey  string            `json:"lookup_key"`
	Recurring  *PriceRecurring   `json:"recurring"`
	ProductID  string            `json:"product"`
	Metadata   map[string]string `json:"metadata"`
	Error      *ErrorResponse    `json:"error,omitempty"`
}

// PriceRecurring представляет периодичность цены
type PriceRecurring struct {
	Interval      string `json:"interval"`
	IntervalCount int    `json:"interval_count"`
}

// PriceListResponse представляет список цен
type PriceListResponse struct {
	Object  string         `json:"object"`
	Data    []Price        `json:"data"`
	HasMore bool           `json:"has_more"`
	Error   *ErrorResponse `json:"error,omitempty"`
}

// TaxRate представляет налоговую ставку в Stripe
type TaxRate struct {
	ID          string            `json:"id"`
	Object      string            `json:"object"`
	Active      bool              `json:"active"`
	DisplayName string            `json:"display_name"`
	Percentage  float64           `json:"percentage"`
	Inclusive   bool              `json:"inclusive"`
	Country     string            `json:"country"`
	Metadata    map[string]string `json:"metadata"`
	Error       *ErrorResponse    `json:"error,omitempty"`
}

// TaxRateListResponse представляет список налоговых ставок
type TaxRateListResponse struct {
	Object  string         `json:"object"`
	Data    []TaxRate      `json:"data"`
	HasMore bool           `json:"has_more"`
	Error   *ErrorResponse `json:"error,omitempty"`
}

// CouponResponse представляет купон в Stripe
type CouponResponse struct {
	ID        string         `json:"id"`
	Object    string         `json:"object"`
	AmountOff int64          `json:"amount_off"`
	Currency  string         `json:"currency"`
	Duration  string         `json:"duration"`
	Valid     bool           `json:"valid"`
	Error     *ErrorResponse `json:"error,omitempty"`
}

// resolveOrCreate разрешает ключ поиска в удаленный id: сначала локальный кэш,
// затем поиск на стороне Stripe, в последнюю очередь создание ресурса.
// Параллельное создание одного и того же логического ресурса допустимо:
// редкий безобидный дубликат цены дешевле глобальной блокировки чекаута.
func (c *Client) resolveOrCreate(ctx context.Context, kind, lookupKey string, remoteResolve, create func(ctx context.Context) (string, error)) (string, error) {
	if c.cache != nil {
		cached, err := c.cache.Get(ctx, GatewayID, kind, lookupKey)
		if err != nil {
			c.log.Warnw("Resource cache lookup failed", "kind", kind, "lookupKey", lookupKey, "error", err)
		}
		if cached != "" {
			return cached, nil
		}
	}

	remoteID, err := remoteResolve(ctx)
	if err != nil {
		// Чтение не удалось: попробуем создать, шлюз сам отсечет явные дубликаты
		c.log.Warnw("Remote resource lookup failed, falling back to create", "kind", kind, "lookupKey", lookupKey, "error", err)
	}

	if remoteID == "" {
		remoteID, err = create(ctx)
		if err != nil {
			return "", err
		}
	}

	if c.cache != nil {
		if err := c.cache.Put(ctx, GatewayID, kind, lookupKey, remoteID); err != nil {
			c.log.Warnw("Failed to cache resource id", "kind", kind, "lookupKey", lookupKey, "error", err)
		}
	}

	return remoteID, nil
}

// BuildLineItems конвертирует корзину в позиции Stripe, разрешая
// удаленные цены и налоговые ставки по детерминированным ключам поиска.
func (c *Client) BuildLineItems(ctx context.Context, cart *domain.Cart) ([]gateway.RemoteLineItem, error) {
	if cart == nil || len(cart.LineItems) == 0 {
		return nil, domain.ErrInvalidCart
	}

	items := make([]gateway.RemoteLineItem, 0, len(cart.LineItems))

	for _, li := range cart.LineItems {
		li := li

		amountMinor := domain.ToMinorUnits(li.UnitPrice)

		taxBehavior := ""
		if li.TaxRate > 0 {
			if li.TaxInclusive {
				taxBehavior = "inclusive"
			} else {
				taxBehavior = "exclusive"
			}
		}

		duration, durationUnit := 0, ""
		if li.Recurring {
			duration, durationUnit = cart.Duration, cart.DurationUnit
		}

		lookupKey := domain.PriceLookupKey(li.ProductID, amountMinor, cart.Currency, duration, durationUnit, taxBehavior)

		priceID, err := c.resolveOrCreate(ctx, gateway.ResourceKindPrice, lookupKey,
			func(ctx context.Context) (string, error) {
				return c.findPriceByLookupKey(ctx, lookupKey)
			},
			func(ctx context.Context) (string, error) {
				return c.createPrice(ctx, &li, cart, lookupKey, taxBehavior)
			},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve price for %q: %w", li.Title, err)
		}

		item := gateway.RemoteLineItem{
			PriceID:     priceID,
			Quantity:    li.Quantity,
			AmountMinor: amountMinor,
			Currency:    cart.Currency,
			Description: li.Title,
			Recurring:   li.Recurring,
		}

		if li.TaxRate > 0 {
			taxRateID, err := c.resolveTaxRate(ctx, &li)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve tax rate for %q: %w", li.Title, err)
			}
			item.TaxRateIDs = []string{taxRateID}
		}

		items = append(items, item)
	}

	return items, nil
}

// findPriceByLookupKey ищет активную цену по ключу поиска
func (c *Client) findPriceByLookupKey(ctx context.Context, lookupKey string) (string, error) {
	query := url.Values{}
	query.Add("lookup_keys[]", lookupKey)
	query.Add("active", "true")
	query.Add("limit", "1")

	var resp PriceListResponse
	status, err := c.do(ctx, "GET", "/prices?"+query.Encode(), nil, "", &resp)
	if err != nil {
		return "", err
	}

	if resp.Error != nil {
		return "", c.apiError(resp.Error, status)
	}

	if len(resp.Data) == 0 {
		return "", nil
	}

	return resp.Data[0].ID, nil
}

// createPrice создает цену в Stripe с ключом поиска в метаданных
func (c *Client) createPrice(ctx context.Context, li *domain.LineItem, cart *domain.Cart, lookupKey, taxBehavior string) (string, error) {
	productID, err := c.getOrCreateProduct(ctx, li)
	if err != nil {
		return "", err
	}

	formData := url.Values{}
	formData.Add("unit_amount", strconv.FormatInt(domain.ToMinorUnits(li.UnitPrice), 10))
	formData.Add("currency", cart.Currency)
	formData.Add("product", productID)
	formData.Add("lookup_key", lookupKey)
	formData.Add("metadata[lookup_key]", lookupKey)

	if li.Recurring {
		formData.Add("recurring[interval]", cart.DurationUnit)
		if cart.Duration > 1 {
			formData.Add("recurring[interval_count]", strconv.Itoa(cart.Duration))
		}
	}
	if taxBehavior != "" {
		formData.Add("tax_behavior", taxBehavior)
	}

	var resp Price
	status, err := c.do(ctx, "POST", "/prices", formData, "", &resp)
	if err != nil {
		return "", err
	}

	if resp.Error != nil {
		return "", c.apiError(resp.Error, status)
	}

	c.log.Infow("Created Stripe price", "priceID", resp.ID, "lookupKey", lookupKey)
	return resp.ID, nil
}

// getOrCreateProduct разрешает продукт для позиции корзины
func (c *Client) getOrCreateProduct(ctx context.Context, li *domain.LineItem) (string, error) {
	productKey := li.ProductID
	if productKey == "" {
		productKey = li.Title
	}

	return c.resolveOrCreate(ctx, gateway.ResourceKindProduct, productKey,
		func(ctx context.Context) (string, error) {
			// Продукты без выделенного поиска: полагаемся на кэш,
			// промах означает создание
			return "", nil
		},
		func(ctx context.Context) (string, error) {
			formData := url.Values{}
			formData.Add("name", li.Title)
			formData.Add("metadata[product_id]", productKey)

			var resp struct {
				ID    string         `json:"id"`
				Error *ErrorResponse `json:"error,omitempty"`
			}
			status, err := c.do(ctx, "POST", "/products", formData, "", &resp)
			if err != nil {
				return "", err
			}
			if resp.Error != nil {
				return "", c.apiError(resp.Error, status)
			}

			c.log.Infow("Created Stripe product", "productID", resp.ID, "name", li.Title)
			return resp.ID, nil
		},
	)
}

// resolveTaxRate разрешает налоговую ставку позиции по слагу в метаданных
func (c *Client) resolveTaxRate(ctx context.Context, li *domain.LineItem) (string, error) {
	slug := domain.TaxRateLookupKey("", li.TaxRate, "vat", li.TaxInclusive)

	return c.resolveOrCreate(ctx, gateway.ResourceKindTaxRate, slug,
		func(ctx context.Context) (string, error) {
			return c.findTaxRateBySlug(ctx, slug)
		},
		func(ctx context.Context) (string, error) {
			return c.createTaxRate(ctx, li, slug)
		},
	)
}

// findTaxRateBySlug сканирует активные налоговые ставки в поисках слага в метаданных
func (c *Client) findTaxRateBySlug(ctx context.Context, slug string) (string, error) {
	query := url.Values{}
	query.Add("active", "true")
	query.Add("limit", "100")

	var resp TaxRateListResponse
	status, err := c.do(ctx, "GET", "/tax_rates?"+query.Encode(), nil, "", &resp)
	if err != nil {
		return "", err
	}

	if resp.Error != nil {
		return "", c.apiError(resp.Error, status)
	}

	for _, rate := range resp.Data {
		if rate.Metadata["tax_rate_id"] == slug {
			return rate.ID, nil
		}
	}

	return "", nil
}

// createTaxRate создает налоговую ставку со слагом в метаданных
func (c *Client) createTaxRate(ctx context.Context, li *domain.LineItem, slug string) (string, error) {
	formData := url.Values{}
	formData.Add("display_name", "Tax")
	formData.Add("percentage", strconv.FormatFloat(li.TaxRate, 'f', -1, 64))
	formData.Add("inclusive", strconv.FormatBool(li.TaxInclusive))
	formData.Add("metadata[tax_rate_id]", slug)

	var resp TaxRate
	status, err := c.do(ctx, "POST", "/tax_rates", formData, "", &resp)
	if err != nil {
		return "", err
	}

	if resp.Error != nil {
		return "", c.apiError(resp.Error, status)
	}

	c.log.Infow("Created Stripe tax rate", "taxRateID", resp.ID, "slug", slug)
	return resp.ID, nil
}

// GetOrCreateCreditCoupon возвращает разовый кредитный купон на сумму.
// Идентификатор купона детерминирован, поэтому повторное создание
// разрешается в уже существующий купон.
func (c *Client) GetOrCreateCreditCoupon(ctx context.Context, amountMinor int64, currency string) (string, error) {
	couponID := domain.CouponLookupKey(amountMinor, currency, "once")

	return c.resolveOrCreate(ctx, gateway.ResourceKindCoupon, couponID,
		func(ctx context.Context) (string, error) {
			var resp CouponResponse
			status, err := c.do(ctx, "GET", "/coupons/"+couponID, nil, "", &resp)
			if err != nil {
				return "", err
			}
			if resp.Error != nil {
				if isResourceMissing(resp.Error) {
					return "", nil
				}
				return "", c.apiError(resp.Error, status)
			}
			return resp.ID, nil
		},
		func(ctx context.Context) (string, error) {
			formData := url.Values{}
			formData.Add("id", couponID)
			formData.Add("amount_off", strconv.FormatInt(amountMinor, 10))
			formData.Add("currency", currency)
			formData.Add("duration", "once")

			var resp CouponResponse
			status, err := c.do(ctx, "POST", "/coupons", formData, "", &resp)
			if err != nil {
				return "", err
			}
			if resp.Error != nil {
				// Гонка с параллельным создателем того же купона: id детерминирован,
				// существующий купон и есть нужный
				if resp.Error.Code == "resource_already_exists" {
					return couponID, nil
				}
				return "", c.apiError(resp.Error, status)
			}

			c.log.Infow("Created Stripe credit coupon", "couponID", resp.ID)
			return resp.ID, nil
		},
	)
}
