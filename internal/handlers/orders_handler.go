package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/storefront-reconciler/internal/admission"
	"github.com/imrishuroy/storefront-reconciler/internal/identity"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
	"github.com/imrishuroy/storefront-reconciler/internal/validation"
)

const idempotencyHeader = "Idempotency-Key"

// orderResponse is an order with its folded attempt history.
type orderResponse struct {
	*orders.Order
	Attempts []orders.PaymentAttempt `json:"payment_attempts,omitempty"`
}

func newOrderResponse(o *orders.Order) orderResponse {
	return orderResponse{Order: o, Attempts: o.Attempts()}
}

func (a *api) createOrder(c *gin.Context) {
	var req validation.CreateOrderRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		// BindAndValidate already wrote a 400
		return
	}
	user, _ := identity.FromGin(c)

	res, err := a.cfg.Admission.PlaceOrder(c.Request.Context(), admission.Request{
		User:           user,
		Items:          req.LineItems(),
		Shipping:       req.Address(),
		PaymentMethod:  orders.PaymentMethod(req.PaymentMethod),
		Gateway:        req.GatewayName(),
		PromoCode:      req.PromoCode,
		IdempotencyKey: strings.TrimSpace(c.GetHeader(idempotencyHeader)),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Location", fmt.Sprintf("/orders/%s", res.Order.OrderID))
	if res.Replayed {
		c.JSON(http.StatusOK, newOrderResponse(res.Order))
		return
	}
	c.JSON(http.StatusCreated, newOrderResponse(res.Order))
}

func (a *api) getOrder(c *gin.Context) {
	o, ok := a.ownedOrder(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(o))
}

// ownedOrder loads :id for the caller. Orders of other users are reported as missing.
func (a *api) ownedOrder(c *gin.Context) (*orders.Order, bool) {
	user, _ := identity.FromGin(c)
	o, err := loadOwned(c.Request.Context(), a.cfg.Orders, c.Param("id"), user)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return o, true
}

func loadOwned(ctx context.Context, store *orders.Store, orderID string, user identity.Identity) (*orders.Order, error) {
	o, err := store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != user.UserID && !user.IsAdmin() {
		return nil, fmt.Errorf("order %s: %w", orderID, orders.ErrNotFound)
	}
	return o, nil
}
