// Package webhooks authenticates and applies provider push notifications.
package webhooks

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-reconciler/internal/gateway"
	"github.com/imrishuroy/storefront-reconciler/internal/logging"
	"github.com/imrishuroy/storefront-reconciler/internal/metrics"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
	"github.com/imrishuroy/storefront-reconciler/internal/payments"
)

// ErrUnauthorized is the only error Ingest returns for a well-routed request: the signature is
// missing or invalid, or the gateway cannot verify signatures because it is not configured.
var ErrUnauthorized = errors.New("webhook signature invalid")

// Result values.
const (
	ResultApplied      = "applied"
	ResultNoop         = "noop"
	ResultUnresolved   = "unresolved"
	ResultMalformed    = "malformed"
	ResultVerifyFailed = "verify_failed"
	ResultError        = "error"
)

// ReasonGatewayMismatch marks a push for an attempt that was opened with a different gateway.
const ReasonGatewayMismatch = "gateway_mismatch"

// Result is what happened to an acknowledged webhook.
type Result struct {
	Status  string          `json:"status"`
	OrderID string          `json:"order_id,omitempty"`
	Outcome gateway.Outcome `json:"outcome,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

// Ingestor is the push path into the shared outcome applier.
type Ingestor struct {
	orders   *orders.Store
	gateways *gateway.Registry
	applier  *payments.Applier
	metrics  metrics.Recorder
}

func NewIngestor(o *orders.Store, g *gateway.Registry, a *payments.Applier, m metrics.Recorder) *Ingestor {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Ingestor{orders: o, gateways: g, applier: a, metrics: m}
}

// SignatureHeader names the header carrying gw's signature, or "" when gw is not configured.
func (in *Ingestor) SignatureHeader(gw orders.Gateway) string {
	adapter, err := in.gateways.Get(gw)
	if err != nil {
		return ""
	}
	return adapter.SignatureHeader()
}

// Ingest verifies rawBody, exactly as received, against signature and applies the outcome it
// reports. Everything after authentication is acknowledged; failures only reach the logs.
func (in *Ingestor) Ingest(ctx context.Context, gw orders.Gateway, rawBody []byte, signature string) (*Result, error) {
	logger := logging.FromContext(ctx).With(zap.String("gateway", string(gw)))

	adapter, err := in.gateways.Get(gw)
	if err != nil {
		logger.Warn("webhook_gateway_not_configured", zap.Error(err))
		in.count(ctx, gw, "unauthorized")
		return nil, ErrUnauthorized
	}
	if strings.TrimSpace(signature) == "" || !adapter.VerifyWebhookSignature(rawBody, signature) {
		logger.Warn("webhook_signature_invalid", zap.Bool("signature_present", signature != ""))
		in.count(ctx, gw, "unauthorized")
		return nil, ErrUnauthorized
	}

	ev, err := adapter.ParseWebhook(rawBody)
	if err != nil {
		logger.Warn("webhook_malformed", zap.Error(err))
		return in.done(ctx, gw, &Result{Status: ResultMalformed}), nil
	}
	logger = logger.With(zap.String("gateway_order_ref", ev.ProviderOrderRef))

	o, attemptID, err := in.resolve(ctx, ev.ProviderOrderRef)
	if err != nil {
		logger.Error("webhook_resolve_failed", zap.Error(err))
		return in.done(ctx, gw, &Result{Status: ResultError}), nil
	}
	if o == nil {
		logger.Info("webhook_order_unresolved")
		return in.done(ctx, gw, &Result{Status: ResultUnresolved}), nil
	}
	logger = logger.With(zap.String("order_id", o.OrderID), zap.String("attempt_id", attemptID))
	if a, ok := o.Attempt(attemptID); ok && a.Gateway != gw {
		logger.Warn("webhook_gateway_mismatch", zap.String("attempt_gateway", string(a.Gateway)))
		return in.done(ctx, gw, &Result{Status: ResultNoop, OrderID: o.OrderID, Reason: ReasonGatewayMismatch}), nil
	}

	outcome := ev.Outcome
	if !adapter.PushAuthoritative() {
		outcome, err = adapter.VerifyStatus(ctx, ev.ProviderOrderRef)
		if err != nil {
			logger.Warn("webhook_verify_failed", zap.Error(err))
			return in.done(ctx, gw, &Result{Status: ResultVerifyFailed, OrderID: o.OrderID}), nil
		}
		if outcome != ev.Outcome {
			logger.Info("webhook_outcome_overridden",
				zap.String("pushed", string(ev.Outcome)),
				zap.String("verified", string(outcome)))
		}
	}

	res, err := in.applier.Apply(logging.WithContext(ctx, logger), o.OrderID, attemptID, outcome, payments.SourceWebhook)
	if err != nil {
		logger.Error("webhook_apply_failed", zap.Error(err))
		return in.done(ctx, gw, &Result{Status: ResultError, OrderID: o.OrderID, Outcome: outcome}), nil
	}
	out := &Result{Status: ResultApplied, OrderID: o.OrderID, Outcome: outcome}
	if !res.Changed {
		out.Status = ResultNoop
		out.Reason = res.Noop
	}
	return in.done(ctx, gw, out), nil
}

// resolve finds the order and attempt for ref: the gateway-ref index first, then the ids embedded
// in the ref itself. Superseded attempts are only reachable the second way.
func (in *Ingestor) resolve(ctx context.Context, ref string) (*orders.Order, string, error) {
	if ref == "" {
		return nil, "", nil
	}
	o, err := in.orders.FindByGatewayRef(ctx, ref)
	if err != nil {
		return nil, "", err
	}
	if o != nil {
		for _, a := range o.Attempts() {
			if a.GatewayOrderRef == ref {
				return o, a.AttemptID, nil
			}
		}
	}

	orderID, attemptID, ok := orders.ParseGatewayRef(ref)
	if !ok {
		return nil, "", nil
	}
	if o == nil || o.OrderID != orderID {
		o, err = in.orders.Get(ctx, orderID)
		if errors.Is(err, orders.ErrNotFound) {
			return nil, "", nil
		}
		if err != nil {
			return nil, "", err
		}
	}
	return o, attemptID, nil
}

func (in *Ingestor) done(ctx context.Context, gw orders.Gateway, r *Result) *Result {
	in.count(ctx, gw, r.Status)
	return r
}

func (in *Ingestor) count(ctx context.Context, gw orders.Gateway, result string) {
	in.metrics.Count(ctx, metrics.WebhooksHandled, metrics.L("gateway", string(gw)), metrics.L("result", result))
}
