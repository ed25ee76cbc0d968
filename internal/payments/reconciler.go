package payments

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-reconciler/internal/logging"
	"github.com/imrishuroy/storefront-reconciler/internal/metrics"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
)

// StatusView is the normalized payment status returned to polling clients.
type StatusView struct {
	OrderID            string                 `json:"order_id"`
	OrderStatus        orders.Status          `json:"order_status"`
	PaymentStatus      orders.PaymentStatus   `json:"payment_status"`
	FailureReason      orders.FailureReason   `json:"failure_reason,omitempty"`
	PaymentGateway     orders.Gateway         `json:"payment_gateway,omitempty"`
	CanRetry           bool                   `json:"can_retry"`
	CurrentAttempt     *orders.PaymentAttempt `json:"current_attempt,omitempty"`
	LastVerifiedAt     *time.Time             `json:"last_verified_at,omitempty"`
	NextAllowedCheckAt *time.Time             `json:"next_allowed_check_at,omitempty"`
	// Verified is true when this call queried the gateway.
	Verified bool `json:"verified"`
}

// NewStatusView builds the client view of o.
func NewStatusView(o *orders.Order) *StatusView {
	v := &StatusView{
		OrderID:        o.OrderID,
		OrderStatus:    o.OrderStatus,
		PaymentStatus:  o.PaymentStatus,
		FailureReason:  o.FailureReason,
		PaymentGateway: o.PaymentGateway,
		LastVerifiedAt: o.LastVerifiedAt,
	}
	cur, hasCurrent := o.CurrentAttempt()
	if hasCurrent {
		v.CurrentAttempt = &cur
	}
	v.CanRetry = checkRetryable(o) == nil && (o.PaymentStatus == orders.PaymentFailed || !hasCurrent)
	return v
}

// Reconciler answers status polls, failing stale pending payments and verifying with the gateway
// at most once per throttle window.
type Reconciler struct {
	deps    *Deps
	applier *Applier
}

func NewReconciler(d *Deps, a *Applier) *Reconciler {
	return &Reconciler{deps: d, applier: a}
}

// Check returns the order's payment status, reconciling it first when allowed.
func (r *Reconciler) Check(ctx context.Context, orderID string) (*StatusView, error) {
	d := r.deps
	logger := logging.FromContext(ctx).With(zap.String("order_id", orderID))

	o, err := d.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.IsPaid() || o.PaymentMethod != orders.MethodPrepaid {
		d.recorder().Count(ctx, metrics.Reconciliations, metrics.L("result", "settled"))
		return NewStatusView(o), nil
	}

	now := d.now()
	if o.PaymentStatus == orders.PaymentPending && pendingTooLong(o, d.Config.PendingTimeout, now) {
		saved, changed, err := d.Mutate(ctx, "timeout", orderID, func(o *orders.Order) (bool, error) {
			if o.PaymentStatus != orders.PaymentPending || !pendingTooLong(o, d.Config.PendingTimeout, now) {
				return false, nil
			}
			return o.MarkFailed(orders.FailureTimeout), nil
		})
		if err != nil {
			return nil, err
		}
		if changed {
			d.recorder().Count(ctx, metrics.PaymentTimeouts)
			logger.Info("payment_timed_out", zap.Timep("last_payment_attempt_at", saved.LastPaymentAttemptAt))
		}
		d.recorder().Count(ctx, metrics.Reconciliations, metrics.L("result", "timeout"))
		return NewStatusView(saved), nil
	}

	pending, ok := o.PendingAttempt()
	if o.PaymentStatus != orders.PaymentPending || !ok || pending.GatewayOrderRef == "" {
		d.recorder().Count(ctx, metrics.Reconciliations, metrics.L("result", "idle"))
		return NewStatusView(o), nil
	}

	if next := nextCheckAt(o, d.Config.VerifyThrottle); next != nil && now.Before(*next) {
		v := NewStatusView(o)
		v.NextAllowedCheckAt = next
		d.recorder().Count(ctx, metrics.Reconciliations, metrics.L("result", "throttled"))
		return v, nil
	}

	adapter, err := d.Gateways.Get(pending.Gateway)
	if err != nil {
		logger.Warn("payment_verify_skipped", zap.String("gateway", string(pending.Gateway)), zap.Error(err))
		d.recorder().Count(ctx, metrics.Reconciliations, metrics.L("result", "not_configured"))
		return NewStatusView(o), nil
	}
	outcome, err := adapter.VerifyStatus(ctx, pending.GatewayOrderRef)
	if err != nil {
		// order unchanged; the next poll retries
		logger.Warn("payment_verify_failed", gatewayErrorFields(adapter, err)...)
		d.recorder().Count(ctx, metrics.Reconciliations, metrics.L("result", "verify_failed"))
		return NewStatusView(o), nil
	}

	res, err := r.applier.apply(ctx, orderID, pending.AttemptID, outcome, SourcePoll, func(o *orders.Order) {
		o.LastVerifiedAt = timePtr(now)
	})
	if err != nil {
		return nil, err
	}
	result := "verified"
	if res.Changed {
		result = "applied"
	}
	d.recorder().Count(ctx, metrics.Reconciliations, metrics.L("result", result))

	v := NewStatusView(res.Order)
	v.Verified = true
	if res.Order.PaymentStatus == orders.PaymentPending {
		v.NextAllowedCheckAt = nextCheckAt(res.Order, d.Config.VerifyThrottle)
	}
	return v, nil
}

func pendingTooLong(o *orders.Order, timeout time.Duration, now time.Time) bool {
	if timeout <= 0 {
		return false
	}
	start := o.CreatedAt
	if o.LastPaymentAttemptAt != nil {
		start = *o.LastPaymentAttemptAt
	}
	return now.Sub(start) > timeout
}

func nextCheckAt(o *orders.Order, throttle time.Duration) *time.Time {
	if o.LastVerifiedAt == nil || throttle <= 0 {
		return nil
	}
	return timePtr(o.LastVerifiedAt.Add(throttle))
}
