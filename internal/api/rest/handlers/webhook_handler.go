package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/Dhoini/Billing-reconciliation/internal/domain"
	"github.com/Dhoini/Billing-reconciliation/internal/service"
	"github.com/Dhoini/Billing-reconciliation/pkg/logger"
	"github.com/gin-gonic/gin"
)

// WebhookHandler обработчик уведомлений платежных шлюзов
type WebhookHandler struct {
	webhookService service.WebhookService
	log            *logger.Logger
}

// NewWebhookHandler создает новый обработчик вебхуков
func NewWebhookHandler(webhookService service.WebhookService, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{webhookService: webhookService, log: log}
}

// HandleStripeWebhook обрабатывает вебхуки от Stripe.
// Ok и Ignorable исходы отвечают 200, чтобы шлюз не повторял доставку;
// 500 возвращается только при сбое, который повторная доставка может исправить.
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.log.Errorw("Failed to read webhook body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read webhook body"})
		return
	}

	outcome := h.webhookService.HandleStripeEvent(c.Request.Context(), bodyBytes, c.GetHeader("Stripe-Signature"))
	respondOutcome(c, outcome)
}

// HandlePayPalIPN обрабатывает IPN уведомления PayPal
func (h *WebhookHandler) HandlePayPalIPN(c *gin.Context) {
	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.log.Errorw("Failed to read IPN body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read IPN body"})
		return
	}

	outcome := h.webhookService.HandlePayPalIPN(c.Request.Context(), bodyBytes)
	respondOutcome(c, outcome)
}

// respondOutcome транслирует исход обработки события в HTTP ответ
func respondOutcome(c *gin.Context, outcome domain.Outcome) {
	if outcome.IsFatal() {
		if errors.Is(outcome.Err, domain.ErrVerificationFailed) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "verification failed"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
