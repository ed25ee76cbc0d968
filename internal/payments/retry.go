package payments

import (
	"context"

	"github.com/imrishuroy/storefront-reconciler/internal/identity"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
)

// RetryController opens a fresh session for an unpaid order, at most once per cool-down window.
type RetryController struct {
	deps      *Deps
	initiator *Initiator
}

func NewRetryController(d *Deps, in *Initiator) *RetryController {
	return &RetryController{deps: d, initiator: in}
}

// Retry supersedes the current attempt with a new session. gw may name a different configured
// gateway; empty keeps the order's current one.
func (r *RetryController) Retry(ctx context.Context, orderID string, user identity.Identity, gw orders.Gateway) (*SessionResult, error) {
	o, err := r.deps.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := checkRetryable(o); err != nil {
		return nil, err
	}
	if wait := cooldownRemaining(o, r.deps.Config.RetryCooldown, r.deps.now()); wait > 0 {
		return nil, &RetryAfterError{RetryAfter: wait}
	}
	return r.initiator.start(ctx, orderID, user, gw, true)
}
