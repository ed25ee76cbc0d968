// Package metrics counts engine events. Lambda deployments push to CloudWatch, local runs expose
// Prometheus counters on /metrics.
package metrics

import "context"

// Counter names. Each has a fixed label set, see Counters.
const (
	OrdersAdmitted  = "orders_admitted_total"
	SessionsCreated = "payment_sessions_total"
	WebhooksHandled = "webhooks_handled_total"
	Reconciliations = "payment_status_checks_total"
	PaymentTimeouts = "payment_timeouts_total"
	CommitConflicts = "order_commit_conflicts_total"
)

// Counters maps every counter to its label keys.
var Counters = map[string][]string{
	OrdersAdmitted:  {"method"},
	SessionsCreated: {"gateway", "result"},
	WebhooksHandled: {"gateway", "result"},
	Reconciliations: {"result"},
	PaymentTimeouts: {},
	CommitConflicts: {"op"},
}

var help = map[string]string{
	OrdersAdmitted:  "Orders admitted, by payment method.",
	SessionsCreated: "Payment session creation attempts, by gateway and result.",
	WebhooksHandled: "Inbound gateway webhooks, by gateway and result.",
	Reconciliations: "Client-triggered payment status checks, by result.",
	PaymentTimeouts: "Pending payments failed by the timeout rule.",
	CommitConflicts: "Optimistic commit retries, by operation.",
}

type Label struct{ Key, Value string }

func L(k, v string) Label { return Label{Key: k, Value: v} }

// Recorder increments a named counter.
type Recorder interface {
	Count(ctx context.Context, name string, labels ...Label)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Count(context.Context, string, ...Label) {}
