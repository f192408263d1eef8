package rest

import (
	"github.com/Dhoini/Billing-reconciliation/internal/api/rest/handlers"
	"github.com/Dhoini/Billing-reconciliation/internal/api/rest/middleware"
	"github.com/Dhoini/Billing-reconciliation/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerValidations добавляет прикладные правила валидации к движку gin
func registerValidations() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("durationunit", func(fl validator.FieldLevel) bool {
			switch fl.Field().String() {
			case "day", "week", "month", "year":
				return true
			}
			return false
		})
	}
}

// SetupRouter настраивает маршрутизатор Gin с маршрутами и middleware
func SetupRouter(
	log *logger.Logger,
	registry *prometheus.Registry,
	checkoutHandler *handlers.CheckoutHandler,
	webhookHandler *handlers.WebhookHandler,
	membershipHandler *handlers.MembershipHandler,
) *gin.Engine {
	registerValidations()

	r := gin.New()

	r.Use(middleware.LoggerMiddleware(log))
	r.Use(gin.Recovery())

	// Endpoint для проверки работоспособности сервиса
	r.GET("/health", handlers.HealthCheck)

	// Prometheus метрики
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	{
		checkout := v1.Group("/checkout")
		{
			checkout.POST("/preflight", checkoutHandler.Preflight)
			checkout.POST("/complete", checkoutHandler.Complete)
			checkout.POST("/complete-redirect", checkoutHandler.CompleteRedirect)
		}

		memberships := v1.Group("/memberships")
		{
			memberships.GET("/:id", membershipHandler.GetMembership)
			memberships.POST("/:id/cancel", membershipHandler.CancelMembership)
			memberships.POST("/:id/swap", membershipHandler.SwapMembership)
		}
	}

	// Вебхуки на корневом уровне роутера
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/stripe", webhookHandler.HandleStripeWebhook)
		webhooks.POST("/paypal", webhookHandler.HandlePayPalIPN)
	}

	return r
}
