package middleware

import (
	"time"

	"github.com/Dhoini/Billing-reconciliation/pkg/logger"
	"github.com/gin-gonic/gin"
)

// LoggerMiddleware создает middleware для логирования запросов
func LoggerMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		latency := time.Since(startTime)
		statusCode := c.Writer.Status()

		switch {
		case statusCode >= 500:
			log.Errorw("Request failed", "method", c.Request.Method, "uri", c.Request.RequestURI,
				"status", statusCode, "latency", latency.String(), "clientIP", c.ClientIP())
		case statusCode >= 400:
			log.Warnw("Request rejected", "method", c.Request.Method, "uri", c.Request.RequestURI,
				"status", statusCode, "latency", latency.String(), "clientIP", c.ClientIP())
		default:
			log.Infow("Request served", "method", c.Request.Method, "uri", c.Request.RequestURI,
				"status", statusCode, "latency", latency.String(), "clientIP", c.ClientIP())
		}
	}
}
