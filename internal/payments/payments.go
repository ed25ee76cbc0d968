// Package payments owns every Prepaid payment transition: opening and retrying gateway sessions,
// applying provider outcomes and reconciling pending payments on client polls.
package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-reconciler/internal/config"
	"github.com/imrishuroy/storefront-reconciler/internal/gateway"
	"github.com/imrishuroy/storefront-reconciler/internal/logging"
	"github.com/imrishuroy/storefront-reconciler/internal/metrics"
	"github.com/imrishuroy/storefront-reconciler/internal/notify"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
	"github.com/imrishuroy/storefront-reconciler/internal/pricing"
	"github.com/imrishuroy/storefront-reconciler/internal/stock"
)

var (
	ErrNotPrepaid             = errors.New("order is not prepaid")
	ErrNotRetryable           = errors.New("order payment cannot be retried")
	ErrCommitRetriesExhausted = errors.New("order commit retries exhausted")
)

// RetryAfterError rejects a session request inside the cool-down window.
type RetryAfterError struct {
	RetryAfter time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("payment retried too soon, retry after %s", e.RetryAfter.Round(time.Second))
}

// CartClearer empties a user's cart.
type CartClearer interface {
	Clear(ctx context.Context, userID string) (int, error)
}

// Deps wires the collaborators shared by the payment components.
type Deps struct {
	Orders   *orders.Store
	Stock    *stock.Mutator
	Pricer   *pricing.Pricer
	Gateways *gateway.Registry
	Guard    gateway.Guard
	Carts    CartClearer
	Notify   *notify.Dispatcher
	Metrics  metrics.Recorder
	Config   config.PaymentsConfig
	// Now defaults to time.Now.
	Now func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *Deps) recorder() metrics.Recorder {
	if d.Metrics == nil {
		return metrics.Nop{}
	}
	return d.Metrics
}

// mutation edits a freshly loaded order. It reports whether anything must be written and any
// extra transaction items to commit with the order.
type mutation func(ctx context.Context, o *orders.Order) (changed bool, extra []types.TransactWriteItem, err error)

// commit loads the order, runs fn and saves the result under the version guard, reloading and
// re-running fn on a conflict.
func (d *Deps) commit(ctx context.Context, op, orderID string, fn mutation) (*orders.Order, bool, error) {
	logger := logging.FromContext(ctx)
	retries := d.Config.MaxCommitRetries
	if retries <= 0 {
		retries = 3
	}
	for attempt := 0; attempt <= retries; attempt++ {
		o, err := d.Orders.Get(ctx, orderID)
		if err != nil {
			return nil, false, err
		}
		changed, extra, err := fn(ctx, o)
		if err != nil {
			return o, false, err
		}
		if !changed {
			return o, false, nil
		}
		err = d.Orders.Save(ctx, o, extra...)
		if err == nil {
			return o, true, nil
		}
		if !errors.Is(err, orders.ErrVersionConflict) {
			return nil, false, fmt.Errorf("%s: save order %s: %w", op, orderID, err)
		}
		d.recorder().Count(ctx, metrics.CommitConflicts, metrics.L("op", op))
		logger.Debug("order_commit_conflict",
			zap.String("op", op),
			zap.String("order_id", orderID),
			zap.Int("attempt", attempt+1))
	}
	return nil, false, fmt.Errorf("%s: order %s: %w", op, orderID, ErrCommitRetriesExhausted)
}

// Mutate applies fn to the order under the same reload-and-retry commit. fn returns false to skip
// the write.
func (d *Deps) Mutate(ctx context.Context, op, orderID string, fn func(o *orders.Order) (bool, error)) (*orders.Order, bool, error) {
	return d.commit(ctx, op, orderID, func(_ context.Context, o *orders.Order) (bool, []types.TransactWriteItem, error) {
		changed, err := fn(o)
		return changed, nil, err
	})
}

// checkRetryable rejects orders that cannot take a new payment session.
func checkRetryable(o *orders.Order) error {
	switch {
	case o.PaymentMethod != orders.MethodPrepaid:
		return ErrNotPrepaid
	case o.IsPaid():
		return fmt.Errorf("%w: already paid", ErrNotRetryable)
	case o.OrderStatus == orders.StatusCancelled:
		return fmt.Errorf("%w: order cancelled", ErrNotRetryable)
	case o.PaymentStatus == orders.PaymentRefunded:
		return fmt.Errorf("%w: payment refunded", ErrNotRetryable)
	}
	return nil
}

// cooldownRemaining is how long the caller must wait before opening another session.
func cooldownRemaining(o *orders.Order, cooldown time.Duration, now time.Time) time.Duration {
	if o.LastPaymentAttemptAt == nil || cooldown <= 0 {
		return 0
	}
	wait := o.LastPaymentAttemptAt.Add(cooldown).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

func timePtr(t time.Time) *time.Time { return &t }

// gatewayErrorFields describes a failed gateway call. Authentication failures carry the masked
// credential hint and nothing more of the credentials.
func gatewayErrorFields(adapter gateway.Adapter, err error) []zap.Field {
	fields := []zap.Field{zap.String("gateway", string(adapter.Name())), zap.Error(err)}
	if errors.Is(err, gateway.ErrAuthFailed) {
		fields = append(fields, zap.String("credential_hint", adapter.CredentialHint()))
	}
	return fields
}
