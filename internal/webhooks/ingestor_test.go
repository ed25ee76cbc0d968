package webhooks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/imrishuroy/storefront-reconciler/internal/catalog"
	"github.com/imrishuroy/storefront-reconciler/internal/config"
	"github.com/imrishuroy/storefront-reconciler/internal/gateway"
	"github.com/imrishuroy/storefront-reconciler/internal/identity"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
	"github.com/imrishuroy/storefront-reconciler/internal/payments"
	"github.com/imrishuroy/storefront-reconciler/internal/pricing"
	"github.com/imrishuroy/storefront-reconciler/internal/stock"
	"github.com/imrishuroy/storefront-reconciler/internal/testutil"
	"github.com/imrishuroy/storefront-reconciler/internal/testutil/fakes"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	ctx       context.Context
	now       time.Time
	fake      *testutil.FakeDynamo
	orders    *orders.Store
	catalog   *catalog.Store
	gw        *fakes.Gateway
	initiator *payments.Initiator
	retry     *payments.RetryController
	deps      *payments.Deps
	ingestor  *Ingestor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{ctx: context.Background(), now: t0}
	f.fake = testutil.NewFakeDynamo(map[string][]string{
		"orders":   {"order_id"},
		"products": {"product_id"},
	})
	f.orders = orders.NewStore(f.fake, "orders", "")
	f.catalog = catalog.NewStore(f.fake, "products")
	f.gw = fakes.NewGateway(orders.GatewayA)
	registry := gateway.NewRegistry(f.gw)

	deps := &payments.Deps{
		Orders:   f.orders,
		Stock:    stock.NewMutator(f.catalog),
		Pricer:   pricing.NewPricer(f.catalog, pricing.ShippingRule{}),
		Gateways: registry,
		Guard:    gateway.NewGuard(config.GuardConfig{MinAmount: 1, MaxAmount: 500000, UnitMismatchThreshold: 100000}),
		Config:   config.PaymentsConfig{RetryCooldown: 10 * time.Second, PendingTimeout: 20 * time.Minute},
		Now:      func() time.Time { return f.now },
	}
	f.deps = deps
	f.initiator = payments.NewInitiator(deps)
	f.retry = payments.NewRetryController(deps, f.initiator)
	f.ingestor = NewIngestor(f.orders, registry, payments.NewApplier(deps), nil)

	if err := f.catalog.Put(f.ctx, &catalog.Product{ProductID: "p1", Price: 500, StockQuantity: 5}); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	o := &orders.Order{
		OrderID:        "o1",
		UserID:         "u1",
		Items:          []orders.LineItem{{ProductID: "p1", Quantity: 2}},
		PaymentMethod:  orders.MethodPrepaid,
		PaymentStatus:  orders.PaymentPending,
		OrderStatus:    orders.StatusPending,
		PaymentGateway: orders.GatewayA,
		CreatedAt:      t0,
	}
	if err := f.orders.Create(f.ctx, o); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return f
}

func (f *fixture) open(t *testing.T) *payments.SessionResult {
	t.Helper()
	s, err := f.initiator.CreateSession(f.ctx, "o1", identity.Identity{UserID: "u1"}, "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s
}

func (f *fixture) push(ref string, outcome gateway.Outcome) {
	f.gw.Event = gateway.WebhookEvent{ProviderOrderRef: ref, Outcome: outcome}
}

func (f *fixture) stockOf(t *testing.T) int {
	t.Helper()
	p, err := f.catalog.Get(f.ctx, "p1")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	return p.StockQuantity
}

func TestRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	f.push(s.GatewayOrderRef, gateway.OutcomeSuccess)
	writes := f.fake.Calls("PutItem") + f.fake.Calls("TransactWriteItems")

	for _, sig := range []string{"", "forged"} {
		if _, err := f.ingestor.Ingest(f.ctx, orders.GatewayA, []byte(`{}`), sig); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("signature %q: expected ErrUnauthorized, got %v", sig, err)
		}
	}
	if _, err := f.ingestor.Ingest(f.ctx, orders.GatewayB, []byte(`{}`), "sig"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unconfigured gateway: expected ErrUnauthorized, got %v", err)
	}
	if f.fake.Calls("PutItem")+f.fake.Calls("TransactWriteItems") != writes {
		t.Fatalf("rejected webhook wrote state")
	}
}

func TestSuccessPushAppliesOnce(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	f.push(s.GatewayOrderRef, gateway.OutcomeSuccess)

	res, err := f.ingestor.Ingest(f.ctx, orders.GatewayA, []byte(`{}`), "sig")
	if err != nil || res.Status != ResultApplied || res.OrderID != "o1" {
		t.Fatalf("first push: %v %+v", err, res)
	}
	res, err = f.ingestor.Ingest(f.ctx, orders.GatewayA, []byte(`{}`), "sig")
	if err != nil || res.Status != ResultNoop || res.Reason != payments.NoopAlreadyPaid {
		t.Fatalf("replayed push: %v %+v", err, res)
	}
	if got := f.stockOf(t); got != 3 {
		t.Fatalf("stock = %d, want 3", got)
	}
}

func TestHintOnlyPushIsVerified(t *testing.T) {
	f := newFixture(t)
	f.gw.Authoritative = false
	s := f.open(t)
	f.push(s.GatewayOrderRef, gateway.OutcomeSuccess)

	res, err := f.ingestor.Ingest(f.ctx, orders.GatewayA, []byte(`{}`), "sig")
	if err != nil || res.Status != ResultNoop || res.Outcome != gateway.OutcomePending {
		t.Fatalf("unconfirmed push must not apply: %v %+v", err, res)
	}
	if f.gw.VerifyCalls() != 1 {
		t.Fatalf("expected one status query, got %d", f.gw.VerifyCalls())
	}

	f.gw.SetStatus(gateway.OutcomeSuccess)
	res, err = f.ingestor.Ingest(f.ctx, orders.GatewayA, []byte(`{}`), "sig")
	if err != nil || res.Status != ResultApplied {
		t.Fatalf("confirmed push: %v %+v", err, res)
	}

	f.gw.StatusErr = gateway.ErrUnavailable
	res, err = f.ingestor.Ingest(f.ctx, orders.GatewayA, []byte(`{}`), "sig")
	if err != nil || res.Status != ResultVerifyFailed {
		t.Fatalf("verify failure is still acknowledged: %v %+v", err, res)
	}
}

func TestSupersededAttemptIsStale(t *testing.T) {
	f := newFixture(t)
	old := f.open(t)

	f.now = t0.Add(time.Minute)
	if _, err := f.retry.Retry(f.ctx, "o1", identity.Identity{UserID: "u1"}, ""); err != nil {
		t.Fatalf("retry: %v", err)
	}

	f.push(old.GatewayOrderRef, gateway.OutcomeSuccess)
	res, err := f.ingestor.Ingest(f.ctx, orders.GatewayA, []byte(`{}`), "sig")
	if err != nil || res.Status != ResultNoop || res.Reason != payments.NoopStaleAttempt {
		t.Fatalf("old attempt webhook: %v %+v", err, res)
	}
	o, _ := f.orders.Get(f.ctx, "o1")
	if o.IsPaid() || f.stockOf(t) != 5 {
		t.Fatalf("stale webhook changed the order")
	}
}

func TestUnresolvedAndMalformedAreAcknowledged(t *testing.T) {
	f := newFixture(t)
	f.open(t)

	for _, ref := range []string{"ORD_ghost_abcdef012345", "not-ours", ""} {
		f.push(ref, gateway.OutcomeSuccess)
		res, err := f.ingestor.Ingest(f.ctx, orders.GatewayA, []byte(`{}`), "sig")
		if err != nil || res.Status != ResultUnresolved {
			t.Fatalf("ref %q: %v %+v", ref, err, res)
		}
	}

	f.gw.ParseErr = gateway.ErrMalformedWebhook
	res, err := f.ingestor.Ingest(f.ctx, orders.GatewayA, []byte(`garbage`), "sig")
	if err != nil || res.Status != ResultMalformed {
		t.Fatalf("malformed: %v %+v", err, res)
	}
}

func TestPushFromOtherGatewayIsIgnored(t *testing.T) {
	f := newFixture(t)
	other := fakes.NewGateway(orders.GatewayB)
	ingestor := NewIngestor(f.orders, gateway.NewRegistry(f.gw, other), payments.NewApplier(f.deps), nil)
	s := f.open(t)
	other.Event = gateway.WebhookEvent{ProviderOrderRef: s.GatewayOrderRef, Outcome: gateway.OutcomeSuccess}

	res, err := ingestor.Ingest(f.ctx, orders.GatewayB, []byte(`{}`), "sig")
	if err != nil || res.Status != ResultNoop || res.Reason != ReasonGatewayMismatch || res.OrderID != "o1" {
		t.Fatalf("cross-gateway push: %v %+v", err, res)
	}
	o, _ := f.orders.Get(f.ctx, "o1")
	if o.IsPaid() || f.stockOf(t) != 5 {
		t.Fatalf("cross-gateway push changed the order")
	}

	f.push(s.GatewayOrderRef, gateway.OutcomeSuccess)
	res, err = ingestor.Ingest(f.ctx, orders.GatewayA, []byte(`{}`), "sig")
	if err != nil || res.Status != ResultApplied {
		t.Fatalf("push from the attempt's gateway: %v %+v", err, res)
	}
}
