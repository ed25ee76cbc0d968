package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-reconciler/internal/logging"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
	"github.com/imrishuroy/storefront-reconciler/internal/webhooks"
)

// webhook acknowledges every authenticated push with 200 so providers stop redelivering; only a
// bad signature gets 401.
func (a *api) webhook(c *gin.Context) {
	gw, ok := orders.ParseGateway(c.Param("gateway"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown_gateway"})
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body"})
		return
	}

	var signature string
	if h := a.cfg.Ingestor.SignatureHeader(gw); h != "" {
		signature = c.GetHeader(h)
	}
	res, err := a.cfg.Ingestor.Ingest(c.Request.Context(), gw, body, signature)
	if errors.Is(err, webhooks.ErrUnauthorized) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature"})
		return
	}
	if err != nil {
		logging.FromContext(c.Request.Context()).Error("webhook_failed", zap.String("gateway", string(gw)), zap.Error(err))
		res = &webhooks.Result{Status: webhooks.ResultError}
	}
	c.JSON(http.StatusOK, res)
}
