package payments

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-reconciler/internal/gateway"
	"github.com/imrishuroy/storefront-reconciler/internal/identity"
	"github.com/imrishuroy/storefront-reconciler/internal/logging"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
	"github.com/imrishuroy/storefront-reconciler/internal/stock"
)

// Source names where an outcome came from.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePoll    Source = "poll"
	SourceAdmin   Source = "admin"
)

// Reasons an outcome was acknowledged without a state change.
const (
	NoopAlreadyPaid    = "already_paid"
	NoopAlreadyFailed  = "already_failed"
	NoopUnknownAttempt = "unknown_attempt"
	NoopStaleAttempt   = "stale_attempt"
	NoopNotCurrent     = "not_current_attempt"
	NoopPending        = "still_pending"
)

// ApplyResult describes what Apply did.
type ApplyResult struct {
	Order   *orders.Order
	Outcome gateway.Outcome
	Changed bool
	// Noop is set when the outcome was acknowledged without a payment state change.
	Noop string
	// Skipped lists stock lines that could not be reduced after payment.
	Skipped []stock.Line
}

// Applier turns a provider outcome into an order transition. Webhooks, status polls and admin
// overrides all go through it.
type Applier struct {
	deps *Deps
}

func NewApplier(d *Deps) *Applier {
	return &Applier{deps: d}
}

// Apply records outcome for attemptID on the order. Repeated or stale signals are no-ops. For
// SourceAdmin, attemptID may be empty: the pending attempt is used, or a manual one is recorded.
func (a *Applier) Apply(ctx context.Context, orderID, attemptID string, outcome gateway.Outcome, source Source) (*ApplyResult, error) {
	return a.apply(ctx, orderID, attemptID, outcome, source, nil)
}

// apply runs the transition; touch, when set, edits the order on every commit (the poll path
// stamps LastVerifiedAt) and forces a write even for a no-op outcome.
func (a *Applier) apply(ctx context.Context, orderID, attemptID string, outcome gateway.Outcome, source Source, touch func(*orders.Order)) (*ApplyResult, error) {
	logger := logging.FromContext(ctx).With(
		zap.String("order_id", orderID),
		zap.String("attempt_id", attemptID),
		zap.String("outcome", string(outcome)),
		zap.String("source", string(source)))

	var res *ApplyResult
	o, _, err := a.deps.commit(ctx, "apply_"+string(source), orderID, func(ctx context.Context, o *orders.Order) (bool, []types.TransactWriteItem, error) {
		res = &ApplyResult{Outcome: outcome}
		extra, err := a.decide(ctx, o, attemptID, outcome, source, res)
		if err != nil {
			return false, nil, err
		}
		if touch != nil {
			touch(o)
			return true, extra, nil
		}
		return res.Changed, extra, nil
	})
	if err != nil {
		return nil, err
	}
	res.Order = o

	if !res.Changed {
		logger.Info("payment_outcome_noop", zap.String("reason", res.Noop))
		return res, nil
	}
	if o.IsPaid() {
		a.afterPaid(ctx, o, logger)
	} else {
		logger.Info("payment_marked_failed", zap.String("failure_reason", string(o.FailureReason)))
	}
	return res, nil
}

// decide mutates o for the outcome and returns the stock writes to commit with it.
func (a *Applier) decide(ctx context.Context, o *orders.Order, attemptID string, outcome gateway.Outcome, source Source, res *ApplyResult) ([]types.TransactWriteItem, error) {
	now := a.deps.now()

	if outcome == gateway.OutcomePending || outcome == "" {
		res.Noop = NoopPending
		return nil, nil
	}
	if o.IsPaid() {
		res.Noop = NoopAlreadyPaid
		return nil, nil
	}

	if source == SourceAdmin {
		return a.decideAdmin(ctx, o, outcome, now, res)
	}

	attempt, ok := o.Attempt(attemptID)
	if !ok {
		res.Noop = NoopUnknownAttempt
		return nil, nil
	}
	if attempt.Terminal() {
		res.Noop = NoopStaleAttempt
		return nil, nil
	}

	if outcome == gateway.OutcomeSuccess {
		if err := o.CloseAttempt(attemptID, orders.AttemptSuccess, string(source), now); err != nil {
			return nil, err
		}
		return a.markPaid(ctx, o, now, res)
	}

	if cur, ok := o.CurrentAttempt(); !ok || cur.AttemptID != attemptID {
		res.Noop = NoopNotCurrent
		return nil, nil
	}
	status, reason := failureFor(outcome)
	if err := o.CloseAttempt(attemptID, status, string(source), now); err != nil {
		return nil, err
	}
	o.MarkFailed(reason)
	res.Changed = true
	return nil, nil
}

func (a *Applier) decideAdmin(ctx context.Context, o *orders.Order, outcome gateway.Outcome, now time.Time, res *ApplyResult) ([]types.TransactWriteItem, error) {
	pending, hasPending := o.PendingAttempt()

	if outcome != gateway.OutcomeSuccess {
		if hasPending {
			status, _ := failureFor(outcome)
			if err := o.CloseAttempt(pending.AttemptID, status, string(SourceAdmin), now); err != nil {
				return nil, err
			}
		} else if o.PaymentStatus == orders.PaymentFailed && o.FailureReason == orders.FailureManual {
			res.Noop = NoopAlreadyFailed
			return nil, nil
		}
		o.MarkFailed(orders.FailureManual)
		res.Changed = true
		return nil, nil
	}

	if o.PaymentMethod == orders.MethodCOD {
		// cash collected; COD stock was taken at admission
		o.MarkPaid(now)
		res.Changed = true
		return nil, nil
	}
	attemptID := pending.AttemptID
	if !hasPending {
		attemptID = orders.NewAttemptID()
		if _, err := o.StartAttempt(attemptID, orders.BuildGatewayRef(o.OrderID, attemptID), o.PaymentGateway, now); err != nil {
			return nil, err
		}
	}
	if err := o.CloseAttempt(attemptID, orders.AttemptSuccess, string(SourceAdmin), now); err != nil {
		return nil, err
	}
	return a.markPaid(ctx, o, now, res)
}

// markPaid sets the order Paid and plans the stock reduction. A cancelled order keeps its stock.
func (a *Applier) markPaid(ctx context.Context, o *orders.Order, now time.Time, res *ApplyResult) ([]types.TransactWriteItem, error) {
	o.MarkPaid(now)
	res.Changed = true
	if o.OrderStatus == orders.StatusCancelled || o.PaymentMethod != orders.MethodPrepaid {
		return nil, nil
	}
	plan, err := a.deps.Stock.Reduce(ctx, stock.LinesFor(o.Items), stock.ModeReconcile)
	if err != nil {
		return nil, err
	}
	res.Skipped = plan.Skipped
	return plan.Items, nil
}

// afterPaid runs the best-effort effects of a committed payment.
func (a *Applier) afterPaid(ctx context.Context, o *orders.Order, logger *zap.Logger) {
	if o.OrderStatus == orders.StatusCancelled {
		logger.Warn("payment_on_cancelled_order", zap.Int64("total_amount", o.TotalAmount))
		a.deps.Notify.RefundReview(ctx, o)
		return
	}
	logger.Info("payment_marked_paid", zap.Int64("total_amount", o.TotalAmount))
	if o.PaymentMethod != orders.MethodPrepaid {
		return
	}
	if a.deps.Carts != nil {
		if _, err := a.deps.Carts.Clear(ctx, o.UserID); err != nil {
			logger.Warn("cart_clear_failed", zap.String("user_id", o.UserID), zap.Error(err))
		}
	}
	a.deps.Notify.OrderPlaced(ctx, o, identity.Identity{UserID: o.UserID, Name: o.Shipping.Name, Phone: o.Shipping.Phone})
}

func failureFor(outcome gateway.Outcome) (orders.AttemptStatus, orders.FailureReason) {
	switch outcome {
	case gateway.OutcomeExpired:
		return orders.AttemptExpired, orders.FailureExpired
	case gateway.OutcomeCancelled:
		return orders.AttemptCancelled, orders.FailureUserCancelled
	default:
		return orders.AttemptFailed, orders.FailureDeclined
	}
}
