// Package handlers exposes the checkout, payment, webhook and admin routes over gin.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-reconciler/internal/admission"
	"github.com/imrishuroy/storefront-reconciler/internal/catalog"
	"github.com/imrishuroy/storefront-reconciler/internal/gateway"
	"github.com/imrishuroy/storefront-reconciler/internal/health"
	"github.com/imrishuroy/storefront-reconciler/internal/identity"
	"github.com/imrishuroy/storefront-reconciler/internal/logging"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
	"github.com/imrishuroy/storefront-reconciler/internal/payments"
	"github.com/imrishuroy/storefront-reconciler/internal/stock"
	"github.com/imrishuroy/storefront-reconciler/internal/validation"
	"github.com/imrishuroy/storefront-reconciler/internal/webhooks"
)

// Config groups the services behind the routes. Health and MetricsHandler are optional.
type Config struct {
	Admission  *admission.Service
	Orders     *orders.Store
	Initiator  *payments.Initiator
	Retry      *payments.RetryController
	Reconciler *payments.Reconciler
	Applier    *payments.Applier
	Ingestor   *webhooks.Ingestor
	Health     *health.Checker

	// TrustIdentityHeaders accepts X-User-* headers as the caller identity. Local runs only.
	TrustIdentityHeaders bool
	Logger               *zap.Logger
	MetricsHandler       http.Handler
}

type api struct {
	cfg Config
	v   *validatorv10.Validate
}

// NewRouter builds the engine with every route registered.
func NewRouter(cfg Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	RegisterRoutes(r, cfg)
	return r
}

// RegisterRoutes registers all routes on r.
func RegisterRoutes(r *gin.Engine, cfg Config) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	a := &api{cfg: cfg, v: validation.New()}

	r.Use(RequestLogger(cfg.Logger))
	r.GET("/health", a.health)
	if cfg.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(cfg.MetricsHandler))
	}

	guarded := r.Group("/", RequireHealthy(cfg.Health), identity.Middleware(cfg.TrustIdentityHeaders))
	guarded.POST("/webhooks/:gateway", a.webhook)

	user := guarded.Group("/orders", identity.RequireUser())
	user.POST("", a.createOrder)
	user.GET("/:id", a.getOrder)
	user.POST("/:id/payment/session", a.createSession)
	user.POST("/:id/payment/retry", a.retryPayment)
	user.GET("/:id/payment/status", a.paymentStatus)

	admin := guarded.Group("/admin/orders", identity.RequireAdmin())
	admin.POST("/:id/confirm-payment", a.confirmPayment)
	admin.POST("/:id/mark-failed", a.markFailed)
	admin.PATCH("/:id/delivery", a.updateDelivery)
}

func (a *api) health(c *gin.Context) {
	if a.cfg.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	st := a.cfg.Health.Status(c.Request.Context())
	code, status := http.StatusOK, "ok"
	if !st.Healthy {
		code, status = http.StatusServiceUnavailable, "degraded"
	}
	c.JSON(code, gin.H{"status": status, "datastore": st})
}

// writeError maps a service error onto a status code and an error slug.
func writeError(c *gin.Context, err error) {
	var retry *payments.RetryAfterError
	if errors.As(err, &retry) {
		secs := int(retry.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "retry_too_soon", "retry_after_seconds": secs})
		return
	}

	code, slug := classify(err)
	body := gin.H{"error": slug}
	if code < http.StatusInternalServerError {
		body["msg"] = err.Error()
	}
	var short *stock.ShortageError
	if errors.As(err, &short) {
		body["product_id"] = short.ProductID
		if short.Size != "" {
			body["size"] = short.Size
		}
		body["available"] = short.Available
	}

	logger := logging.FromContext(c.Request.Context())
	if code >= http.StatusInternalServerError {
		logger.Error("request_failed", zap.Int("status", code), zap.String("error_code", slug), zap.Error(err))
	} else {
		logger.Info("request_rejected", zap.Int("status", code), zap.String("error_code", slug), zap.Error(err))
	}
	c.AbortWithStatusJSON(code, body)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, admission.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, catalog.ErrSizeNotFound):
		return http.StatusBadRequest, "size_not_found"
	case errors.Is(err, payments.ErrInvalidGateway):
		return http.StatusBadRequest, "invalid_gateway"
	case errors.Is(err, stock.ErrInsufficientStock):
		return http.StatusConflict, "insufficient_stock"
	case errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound, "order_not_found"
	case errors.Is(err, catalog.ErrProductNotFound):
		return http.StatusNotFound, "product_not_found"
	case errors.Is(err, gateway.ErrNotConfigured):
		return http.StatusServiceUnavailable, "gateway_not_configured"
	case errors.Is(err, gateway.ErrAuthFailed):
		return http.StatusServiceUnavailable, "gateway_auth_failed"
	case errors.Is(err, gateway.ErrUnavailable):
		return http.StatusServiceUnavailable, "gateway_unavailable"
	case errors.Is(err, gateway.ErrBadResponse):
		return http.StatusBadGateway, "gateway_bad_response"
	case errors.Is(err, gateway.ErrInvalidAmount), errors.Is(err, gateway.ErrAmountUnitMismatch):
		return http.StatusInternalServerError, "invalid_amount"
	case errors.Is(err, payments.ErrNotRetryable), errors.Is(err, payments.ErrNotPrepaid):
		return http.StatusConflict, "payment_not_allowed"
	case errors.Is(err, orders.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, orders.ErrVersionConflict), errors.Is(err, payments.ErrCommitRetriesExhausted):
		return http.StatusConflict, "concurrent_update"
	case errors.Is(err, health.ErrDatastoreUnavailable):
		return http.StatusServiceUnavailable, "datastore_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
