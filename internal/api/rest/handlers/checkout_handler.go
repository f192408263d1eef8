package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/Dhoini/Billing-reconciliation/internal/domain"
	"github.com/Dhoini/Billing-reconciliation/internal/service"
	"github.com/Dhoini/Billing-reconciliation/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CartItemRequest позиция корзины в теле запроса
type CartItemRequest struct {
	ProductID     string  `json:"product_id" binding:"required"`
	Title         string  `json:"title"`
	Quantity      int     `json:"quantity" binding:"required,min=1"`
	UnitPrice     float64 `json:"unit_price" binding:"min=0"`
	Subtotal      float64 `json:"subtotal" binding:"min=0"`
	TaxRate       float64 `json:"tax_rate" binding:"min=0"`
	TaxInclusive  bool    `json:"tax_inclusive"`
	TaxTotal      float64 `json:"tax_total" binding:"min=0"`
	DiscountTotal float64 `json:"discount_total" binding:"min=0"`
	Total         float64 `json:"total" binding:"min=0"`
	Recurring     bool    `json:"recurring"`
	IsPlan        bool    `json:"is_plan"`
}

// CartRequest корзина в теле запроса
type CartRequest struct {
	Type         string            `json:"type" binding:"omitempty,oneof=new renewal upgrade downgrade addon retry"`
	Currency     string            `json:"currency" binding:"required,len=3"`
	Duration     int               `json:"duration" binding:"min=0"`
	DurationUnit string            `json:"duration_unit" binding:"omitempty,durationunit"`
	AutoRenew    bool              `json:"auto_renew"`
	TrialEnd     *time.Time        `json:"trial_end"`
	LineItems    []CartItemRequest `json:"line_items" binding:"required,min=1,dive"`
}

// ToDomain конвертирует корзину запроса в доменную
func (r *CartRequest) ToDomain() *domain.Cart {
	cartType := domain.CartType(r.Type)
	if r.Type == "" {
		cartType = domain.CartTypeNew
	}

	items := make([]domain.LineItem, 0, len(r.LineItems))
	for _, li := range r.LineItems {
		items = append(items, domain.LineItem{
			ProductID:     li.ProductID,
			Title:         li.Title,
			Quantity:      li.Quantity,
			UnitPrice:     li.UnitPrice,
			Subtotal:      li.Subtotal,
			TaxRate:       li.TaxRate,
			TaxInclusive:  li.TaxInclusive,
			TaxTotal:      li.TaxTotal,
			DiscountTotal: li.DiscountTotal,
			Total:         li.Total,
			Recurring:     li.Recurring,
			IsPlan:        li.IsPlan,
		})
	}

	return &domain.Cart{
		Type:         cartType,
		LineItems:    items,
		Currency:     r.Currency,
		Duration:     r.Duration,
		DurationUnit: r.DurationUnit,
		AutoRenew:    r.AutoRenew,
		TrialEnd:     r.TrialEnd,
	}
}

// PreflightRequest тело запроса префлайта платежной формы
type PreflightRequest struct {
	CustomerID        string      `json:"customer_id" binding:"required,uuid"`
	Email             string      `json:"email" binding:"required,email"`
	Name              string      `json:"name"`
	Country           string      `json:"country"`
	Address           string      `json:"address"`
	City              string      `json:"city"`
	PostalCode        string      `json:"postal_code"`
	GatewayID         string      `json:"gateway_id" binding:"required,oneof=stripe paypal"`
	GatewayCustomerID string      `json:"gateway_customer_id"`
	IntentID          string      `json:"intent_id"`
	Cart              CartRequest `json:"cart" binding:"required"`
}

// CompleteRequest тело запроса завершения оформления
type CompleteRequest struct {
	MembershipID      string      `json:"membership_id" binding:"omitempty,uuid"`
	CustomerID        string      `json:"customer_id" binding:"required,uuid"`
	GatewayID         string      `json:"gateway_id" binding:"required,oneof=stripe paypal"`
	GatewayCustomerID string      `json:"gateway_customer_id"`
	PaymentMethod     string      `json:"payment_method"`
	ReturnURL         string      `json:"return_url" binding:"omitempty,url"`
	CancelURL         string      `json:"cancel_url" binding:"omitempty,url"`
	Cart              CartRequest `json:"cart" binding:"required"`
}

// CompleteRedirectRequest тело запроса довершения redirect-потока
type CompleteRedirectRequest struct {
	MembershipID string `json:"membership_id" binding:"required,uuid"`
	Token        string `json:"token" binding:"required"`
	PayerID      string `json:"payer_id" binding:"required"`
}

// CheckoutHandler обработчик оформления заказов
type CheckoutHandler struct {
	checkoutService service.CheckoutService
	log             *logger.Logger
}

// NewCheckoutHandler создает новый обработчик оформления заказов
func NewCheckoutHandler(checkoutService service.CheckoutService, log *logger.Logger) *CheckoutHandler {
	return &CheckoutHandler{checkoutService: checkoutService, log: log}
}

// Preflight подготавливает платежную форму
func (h *CheckoutHandler) Preflight(c *gin.Context) {
	var req PreflightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	customerID, _ := uuid.Parse(req.CustomerID)

	result, err := h.checkoutService.Preflight(c.Request.Context(), service.PreflightRequest{
		CustomerID:        customerID,
		Email:             req.Email,
		Name:              req.Name,
		Country:           req.Country,
		Address:           req.Address,
		City:              req.City,
		PostalCode:        req.PostalCode,
		GatewayID:         req.GatewayID,
		GatewayCustomerID: req.GatewayCustomerID,
		IntentID:          req.IntentID,
		Cart:              req.Cart.ToDomain(),
	})
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"gateway_customer_id": result.GatewayCustomerID,
		"intent_id":           result.IntentID,
		"hidden_fields":       result.HiddenFields,
	})
}

// Complete завершает оформление заказа
func (h *CheckoutHandler) Complete(c *gin.Context) {
	var req CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	customerID, _ := uuid.Parse(req.CustomerID)
	var membershipID uuid.UUID
	if req.MembershipID != "" {
		membershipID, _ = uuid.Parse(req.MembershipID)
	}

	result, err := h.checkoutService.Complete(c.Request.Context(), service.CheckoutRequest{
		MembershipID:      membershipID,
		CustomerID:        customerID,
		GatewayID:         req.GatewayID,
		GatewayCustomerID: req.GatewayCustomerID,
		PaymentMethod:     req.PaymentMethod,
		ReturnURL:         req.ReturnURL,
		CancelURL:         req.CancelURL,
		Cart:              req.Cart.ToDomain(),
	})
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	respondCheckoutResult(c, result)
}

// CompleteRedirect довершает redirect-поток после возврата плательщика
func (h *CheckoutHandler) CompleteRedirect(c *gin.Context) {
	var req CompleteRedirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	membershipID, _ := uuid.Parse(req.MembershipID)

	result, err := h.checkoutService.CompleteRedirect(c.Request.Context(), membershipID, req.Token, req.PayerID)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	respondCheckoutResult(c, result)
}

// respondCheckoutResult сериализует результат оформления.
// Отложенный заказ отвечает 202: клиент опрашивает членство позже.
func respondCheckoutResult(c *gin.Context, result *service.CheckoutResult) {
	if result.Deferred {
		c.JSON(http.StatusAccepted, gin.H{
			"deferred":      true,
			"membership_id": result.Membership.ID,
		})
		return
	}

	resp := gin.H{"membership": result.Membership}
	if result.Payment != nil {
		resp["payment"] = result.Payment
	}
	if result.RedirectURL != "" {
		resp["redirect_url"] = result.RedirectURL
	}

	c.JSON(http.StatusOK, resp)
}

// respondServiceError транслирует ошибки сервисов в HTTP статусы
func respondServiceError(c *gin.Context, log *logger.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidCart), errors.Is(err, domain.ErrNotSupported):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrMembershipNotFound), errors.Is(err, domain.ErrPaymentNotFound),
		errors.Is(err, domain.ErrCustomerNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrMaximumRenewals), errors.Is(err, domain.ErrMissingPlan):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Errorw("Request handling failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
