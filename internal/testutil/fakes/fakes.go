// Package fakes holds in-memory collaborators for engine tests: a scriptable gateway adapter, a
// recording notifier and a cart clearer.
package fakes

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/storefront-reconciler/internal/gateway"
	"github.com/imrishuroy/storefront-reconciler/internal/identity"
	"github.com/imrishuroy/storefront-reconciler/internal/logging"
	"github.com/imrishuroy/storefront-reconciler/internal/notify"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
)

// SessionCall records one CreateSession invocation.
type SessionCall struct {
	Amount   decimal.Decimal
	OrderRef string
	Customer gateway.Customer
}

// Gateway is a scriptable gateway.Adapter. Signatures are valid when equal to Secret.
type Gateway struct {
	mu sync.Mutex

	ID            orders.Gateway
	Secret        string
	Authoritative bool

	SessionErr error
	Status     gateway.Outcome
	StatusErr  error
	// Event is returned by ParseWebhook; ParseErr overrides it.
	Event    gateway.WebhookEvent
	ParseErr error

	sessions    []SessionCall
	verifyCalls int
}

func NewGateway(id orders.Gateway) *Gateway {
	return &Gateway{ID: id, Secret: "sig", Authoritative: true, Status: gateway.OutcomePending}
}

func (g *Gateway) Name() orders.Gateway    { return g.ID }
func (g *Gateway) SignatureHeader() string { return "X-Test-Signature" }
func (g *Gateway) PushAuthoritative() bool { return g.Authoritative }

func (g *Gateway) CredentialHint() string {
	return "key=" + logging.Mask("test-"+g.Secret+"-key")
}

func (g *Gateway) CreateSession(ctx context.Context, amount decimal.Decimal, orderRef string, customer gateway.Customer) (gateway.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.SessionErr != nil {
		return gateway.Session{}, g.SessionErr
	}
	g.sessions = append(g.sessions, SessionCall{Amount: amount, OrderRef: orderRef, Customer: customer})
	return gateway.Session{Handle: "handle-" + orderRef, ProviderOrderRef: orderRef}, nil
}

func (g *Gateway) VerifyStatus(ctx context.Context, providerOrderRef string) (gateway.Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyCalls++
	if g.StatusErr != nil {
		return "", g.StatusErr
	}
	return g.Status, nil
}

func (g *Gateway) VerifyWebhookSignature(rawBody []byte, signature string) bool {
	return signature != "" && signature == g.Secret
}

func (g *Gateway) ParseWebhook(rawBody []byte) (gateway.WebhookEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ParseErr != nil {
		return gateway.WebhookEvent{}, g.ParseErr
	}
	return g.Event, nil
}

// SetStatus changes what VerifyStatus reports.
func (g *Gateway) SetStatus(o gateway.Outcome) {
	g.mu.Lock()
	g.Status = o
	g.mu.Unlock()
}

// Sessions returns every CreateSession call so far.
func (g *Gateway) Sessions() []SessionCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]SessionCall(nil), g.sessions...)
}

// VerifyCalls is the number of VerifyStatus calls so far.
func (g *Gateway) VerifyCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.verifyCalls
}

// Notifier records every notification by type.
type Notifier struct {
	mu   sync.Mutex
	sent map[string][]string
	Err  error
}

func (n *Notifier) record(kind string, o *orders.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sent == nil {
		n.sent = map[string][]string{}
	}
	n.sent[kind] = append(n.sent[kind], o.OrderID)
	return n.Err
}

func (n *Notifier) SendOrderConfirmation(ctx context.Context, o *orders.Order, user identity.Identity) error {
	return n.record(notify.TypeOrderConfirmation, o)
}

func (n *Notifier) SendAdminOrderAlert(ctx context.Context, o *orders.Order) error {
	return n.record(notify.TypeAdminOrderAlert, o)
}

func (n *Notifier) SendRefundReview(ctx context.Context, o *orders.Order) error {
	return n.record(notify.TypeRefundReview, o)
}

// Sent returns the order ids notified for kind.
func (n *Notifier) Sent(kind string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent[kind]...)
}

// Carts counts Clear calls per user.
type Carts struct {
	mu      sync.Mutex
	cleared map[string]int
	Err     error
}

func (c *Carts) Clear(ctx context.Context, userID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cleared == nil {
		c.cleared = map[string]int{}
	}
	c.cleared[userID]++
	return 1, c.Err
}

// Cleared is how many times userID's cart was cleared.
func (c *Carts) Cleared(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleared[userID]
}
