package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/storefront-reconciler/internal/identity"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
	"github.com/imrishuroy/storefront-reconciler/internal/payments"
	"github.com/imrishuroy/storefront-reconciler/internal/validation"
)

type sessionOpener func(ctx context.Context, orderID string, user identity.Identity, gw orders.Gateway) (*payments.SessionResult, error)

func (a *api) createSession(c *gin.Context) {
	a.openSession(c, a.cfg.Initiator.CreateSession)
}

func (a *api) retryPayment(c *gin.Context) {
	a.openSession(c, a.cfg.Retry.Retry)
}

func (a *api) openSession(c *gin.Context, open sessionOpener) {
	var req validation.SessionRequest
	if err := validation.BindOptional(c, &req, a.v); err != nil {
		return
	}
	o, ok := a.ownedOrder(c)
	if !ok {
		return
	}
	user, _ := identity.FromGin(c)

	s, err := open(c.Request.Context(), o.OrderID, user, req.GatewayName())
	if err != nil {
		writeError(c, err)
		return
	}
	if s.Reused {
		c.JSON(http.StatusOK, s)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (a *api) paymentStatus(c *gin.Context) {
	o, ok := a.ownedOrder(c)
	if !ok {
		return
	}
	view, err := a.cfg.Reconciler.Check(c.Request.Context(), o.OrderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
