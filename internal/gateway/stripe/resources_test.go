package stripe

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/Dhoini/Billing-reconciliation/internal/domain"
	"github.com/Dhoini/Billing-reconciliation/internal/gateway"
	"github.com/Dhoini/Billing-reconciliation/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memCache реализация gateway.ResourceCache в памяти
type memCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string]string)}
}

func (c *memCache) Get(_ context.Context, gatewayID, kind, lookupKey string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[gatewayID+":"+kind+":"+lookupKey], nil
}

func (c *memCache) Put(_ context.Context, gatewayID, kind, lookupKey, remoteID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[gatewayID+":"+kind+":"+lookupKey] = remoteID
	return nil
}

func recurringTestCart() *domain.Cart {
	return &domain.Cart{
		Currency:     "USD",
		Duration:     1,
		DurationUnit: "month",
		LineItems: []domain.LineItem{
			{ProductID: "plan-pro", Title: "Pro", Quantity: 1, UnitPrice: 29.00, Subtotal: 29.00, Total: 29.00, Recurring: true, IsPlan: true},
		},
	}
}

func TestBuildLineItemsResolveOrCreate(t *testing.T) {
	var requests int
	var createdLookupKey string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == "GET" && r.URL.Path == "/prices":
			// Цены с таким ключом еще нет
			fmt.Fprint(w, `{"object":"list","data":[],"has_more":false}`)

		case r.Method == "POST" && r.URL.Path == "/products":
			fmt.Fprint(w, `{"id":"prod_1","object":"product"}`)

		case r.Method == "POST" && r.URL.Path == "/prices":
			createdLookupKey = r.PostForm.Get("lookup_key")
			assert.Equal(t, "2900", r.PostForm.Get("unit_amount"))
			assert.Equal(t, "month", r.PostForm.Get("recurring[interval]"))
			fmt.Fprint(w, `{"id":"price_1","object":"price"}`)

		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	cache := newMemCache()
	c := NewClient(Config{APIKey: "sk_test_1", APIBase: srv.URL}, cache, logger.New(logger.ERROR))

	items, err := c.BuildLineItems(context.Background(), recurringTestCart())
	require.NoError(t, err)
	require.Len(t, items, 1)

	assert.Equal(t, "price_1", items[0].PriceID)
	assert.True(t, items[0].Recurring)
	assert.Equal(t, domain.PriceLookupKey("plan-pro", 2900, "USD", 1, "month", ""), createdLookupKey)

	// Второй проход той же корзины разрешается из кэша без единого запроса
	before := requests
	items, err = c.BuildLineItems(context.Background(), recurringTestCart())
	require.NoError(t, err)
	assert.Equal(t, "price_1", items[0].PriceID)
	assert.Equal(t, before, requests)
}

func TestBuildLineItemsReusesExistingPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "GET", r.Method)
		require.Equal(t, "/prices", r.URL.Path)
		fmt.Fprint(w, `{"object":"list","data":[{"id":"price_existing","object":"price"}],"has_more":false}`)
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "sk_test_1", APIBase: srv.URL}, newMemCache(), logger.New(logger.ERROR))

	items, err := c.BuildLineItems(context.Background(), recurringTestCart())
	require.NoError(t, err)
	assert.Equal(t, "price_existing", items[0].PriceID)
}

func TestBuildLineItemsInvalidCart(t *testing.T) {
	c := newTestClient("")

	_, err := c.BuildLineItems(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidCart)

	_, err = c.BuildLineItems(context.Background(), &domain.Cart{})
	assert.ErrorIs(t, err, domain.ErrInvalidCart)
}

func TestGetOrCreateCreditCoupon(t *testing.T) {
	couponID := domain.CouponLookupKey(1500, "USD", "once")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == "GET" && r.URL.Path == "/coupons/"+couponID:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"type":"invalid_request_error","code":"resource_missing"}}`)

		case r.Method == "POST" && r.URL.Path == "/coupons":
			assert.Equal(t, couponID, r.PostForm.Get("id"))
			assert.Equal(t, "1500", r.PostForm.Get("amount_off"))
			assert.Equal(t, "once", r.PostForm.Get("duration"))
			fmt.Fprintf(w, `{"id":"%s","object":"coupon","amount_off":1500,"duration":"once","valid":true}`, couponID)

		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	cache := newMemCache()
	c := NewClient(Config{APIKey: "sk_test_1", APIBase: srv.URL}, cache, logger.New(logger.ERROR))

	id, err := c.GetOrCreateCreditCoupon(context.Background(), 1500, "USD")
	require.NoError(t, err)
	assert.Equal(t, couponID, id)

	// Идентификатор детерминирован и закэширован
	cached, _ := cache.Get(context.Background(), GatewayID, gateway.ResourceKindCoupon, couponID)
	assert.Equal(t, couponID, cached)
}

func TestGetOrCreateCreditCouponRace(t *testing.T) {
	couponID := domain.CouponLookupKey(500, "USD", "once")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == "GET":
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"type":"invalid_request_error","code":"resource_missing"}}`)
		default:
			// Параллельный создатель успел первым
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"type":"invalid_request_error","code":"resource_already_exists"}}`)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "sk_test_1", APIBase: srv.URL}, nil, logger.New(logger.ERROR))

	id, err := c.GetOrCreateCreditCoupon(context.Background(), 500, "USD")
	require.NoError(t, err)
	assert.Equal(t, couponID, id)
}
