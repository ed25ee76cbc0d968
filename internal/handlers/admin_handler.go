package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-reconciler/internal/gateway"
	"github.com/imrishuroy/storefront-reconciler/internal/identity"
	"github.com/imrishuroy/storefront-reconciler/internal/logging"
	"github.com/imrishuroy/storefront-reconciler/internal/payments"
	"github.com/imrishuroy/storefront-reconciler/internal/validation"
)

func (a *api) confirmPayment(c *gin.Context) {
	a.adminOutcome(c, gateway.OutcomeSuccess)
}

func (a *api) markFailed(c *gin.Context) {
	a.adminOutcome(c, gateway.OutcomeFailed)
}

func (a *api) adminOutcome(c *gin.Context, outcome gateway.Outcome) {
	admin, _ := identity.FromGin(c)
	ctx := logging.WithContext(c.Request.Context(), logging.FromContext(c.Request.Context()).With(zap.String("admin_id", admin.UserID)))

	res, err := a.cfg.Applier.Apply(ctx, c.Param("id"), "", outcome, payments.SourceAdmin)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order":   newOrderResponse(res.Order),
		"changed": res.Changed,
		"noop":    res.Noop,
	})
}

func (a *api) updateDelivery(c *gin.Context) {
	var req validation.DeliveryRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	o, err := a.cfg.Applier.AdvanceDelivery(c.Request.Context(), c.Param("id"), req.Target())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(o))
}
