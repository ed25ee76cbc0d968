package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-reconciler/internal/gateway"
	"github.com/imrishuroy/storefront-reconciler/internal/identity"
	"github.com/imrishuroy/storefront-reconciler/internal/logging"
	"github.com/imrishuroy/storefront-reconciler/internal/metrics"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
)

// ErrInvalidGateway is returned when neither the request nor the order names a known gateway.
var ErrInvalidGateway = errors.New("unknown payment gateway")

// SessionResult is what the client needs to complete a payment.
type SessionResult struct {
	OrderID         string         `json:"order_id"`
	AttemptID       string         `json:"attempt_id"`
	Gateway         orders.Gateway `json:"gateway"`
	GatewayOrderRef string         `json:"gateway_order_ref"`
	SessionHandle   string         `json:"session_handle"`
	Amount          int64          `json:"amount"`
	Currency        string         `json:"currency"`
	// Reused is true when an open session was returned instead of a new one.
	Reused bool `json:"reused"`
}

// Initiator opens gateway sessions for Prepaid orders.
type Initiator struct {
	deps *Deps
}

func NewInitiator(d *Deps) *Initiator {
	return &Initiator{deps: d}
}

// CreateSession returns the open session of the order's pending attempt, or opens a new one.
// gw may be empty to use the gateway chosen at order time.
func (in *Initiator) CreateSession(ctx context.Context, orderID string, user identity.Identity, gw orders.Gateway) (*SessionResult, error) {
	return in.start(ctx, orderID, user, gw, false)
}

// start opens a session. The gateway is called before anything is written, so a failed call
// leaves the order untouched.
func (in *Initiator) start(ctx context.Context, orderID string, user identity.Identity, gw orders.Gateway, forceNew bool) (*SessionResult, error) {
	d := in.deps
	logger := logging.FromContext(ctx).With(zap.String("order_id", orderID))

	o, err := d.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := checkRetryable(o); err != nil {
		return nil, err
	}
	if gw == "" {
		gw = o.PaymentGateway
	}
	if !gw.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidGateway, gw)
	}

	if !forceNew {
		if reuse := reusableSession(o, gw); reuse != nil {
			logger.Info("payment_session_reused", zap.String("attempt_id", reuse.AttemptID))
			return reuse, nil
		}
	}

	now := d.now()
	if wait := cooldownRemaining(o, d.Config.RetryCooldown, now); wait > 0 {
		return nil, &RetryAfterError{RetryAfter: wait}
	}
	snapshotAttemptAt := o.LastPaymentAttemptAt

	adapter, err := d.Gateways.Get(gw)
	if err != nil {
		d.recorder().Count(ctx, metrics.SessionsCreated, metrics.L("gateway", string(gw)), metrics.L("result", "not_configured"))
		return nil, err
	}

	quote, err := d.Pricer.Price(ctx, o.Items)
	if err != nil {
		return nil, fmt.Errorf("reprice order %s: %w", orderID, err)
	}
	discount, shipping, total := d.Pricer.Totals(quote.Subtotal, o.DiscountAmount)
	amount := gateway.MajorUnits(total)
	if err := d.Guard.Check(amount); err != nil {
		logger.Error("payment_amount_rejected",
			zap.Int64("total_minor", total),
			zap.String("amount", amount.String()),
			zap.Error(err))
		d.recorder().Count(ctx, metrics.SessionsCreated, metrics.L("gateway", string(gw)), metrics.L("result", "amount_rejected"))
		return nil, err
	}

	attemptID := orders.NewAttemptID()
	ref := orders.BuildGatewayRef(orderID, attemptID)
	sess, err := adapter.CreateSession(ctx, amount, ref, customerFor(o, user))
	if err != nil {
		logger.Warn("payment_session_failed", gatewayErrorFields(adapter, err)...)
		d.recorder().Count(ctx, metrics.SessionsCreated, metrics.L("gateway", string(gw)), metrics.L("result", "error"))
		return nil, err
	}

	saved, _, err := d.Mutate(ctx, "session", orderID, func(o *orders.Order) (bool, error) {
		if err := checkRetryable(o); err != nil {
			return false, err
		}
		if !sameTime(o.LastPaymentAttemptAt, snapshotAttemptAt) {
			// another session was opened since we checked the cool-down
			return false, &RetryAfterError{RetryAfter: cooldownRemaining(o, d.Config.RetryCooldown, now)}
		}
		cancelled, err := o.StartAttempt(attemptID, ref, gw, now)
		if err != nil {
			return false, err
		}
		if len(cancelled) > 0 {
			logger.Info("payment_attempts_superseded", zap.Strings("attempt_ids", cancelled))
		}
		o.Items = quote.Items
		o.Subtotal = quote.Subtotal
		o.DiscountAmount = discount
		o.ShippingCost = shipping
		o.TotalAmount = total
		o.SessionHandle = sess.Handle
		o.PaymentStatus = orders.PaymentPending
		o.FailureReason = ""
		o.LastPaymentAttemptAt = timePtr(now)
		o.LastVerifiedAt = nil
		if o.PaymentInitiatedAt == nil {
			o.PaymentInitiatedAt = timePtr(now)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	d.recorder().Count(ctx, metrics.SessionsCreated, metrics.L("gateway", string(gw)), metrics.L("result", "ok"))
	logger.Info("payment_session_created",
		zap.String("attempt_id", attemptID),
		zap.String("gateway", string(gw)),
		zap.Int64("total_amount", total))

	return &SessionResult{
		OrderID:         saved.OrderID,
		AttemptID:       attemptID,
		Gateway:         gw,
		GatewayOrderRef: ref,
		SessionHandle:   sess.Handle,
		Amount:          total,
		Currency:        saved.Currency,
	}, nil
}

// reusableSession returns the pending attempt's session when it was opened on gw.
func reusableSession(o *orders.Order, gw orders.Gateway) *SessionResult {
	if o.PaymentStatus != orders.PaymentPending || o.SessionHandle == "" {
		return nil
	}
	cur, ok := o.PendingAttempt()
	if !ok || cur.Gateway != gw {
		return nil
	}
	return &SessionResult{
		OrderID:         o.OrderID,
		AttemptID:       cur.AttemptID,
		Gateway:         cur.Gateway,
		GatewayOrderRef: cur.GatewayOrderRef,
		SessionHandle:   o.SessionHandle,
		Amount:          o.TotalAmount,
		Currency:        o.Currency,
		Reused:          true,
	}
}

func customerFor(o *orders.Order, user identity.Identity) gateway.Customer {
	c := gateway.Customer{ID: o.UserID, Name: user.Name, Email: user.Email, Phone: user.Phone}
	if c.Name == "" {
		c.Name = o.Shipping.Name
	}
	if c.Phone == "" {
		c.Phone = o.Shipping.Phone
	}
	return c
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
