package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-reconciler/internal/health"
	"github.com/imrishuroy/storefront-reconciler/internal/logging"
)

const requestIDHeader = "X-Request-Id"

// RequestLogger attaches a request-scoped logger to the context and logs one line per request.
func RequestLogger(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(requestIDHeader, reqID)

		logger := base.With(zap.String("request_id", reqID))
		c.Request = c.Request.WithContext(logging.WithContext(c.Request.Context(), logger))
		c.Next()

		logger.Info("http_request",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// RequireHealthy fails fast with 503 while the datastore is unreachable.
func RequireHealthy(checker *health.Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if checker != nil && !checker.Healthy(c.Request.Context()) {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "datastore_unavailable"})
			return
		}
		c.Next()
	}
}
