package admission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/imrishuroy/storefront-reconciler/internal/catalog"
	"github.com/imrishuroy/storefront-reconciler/internal/idempotency"
	"github.com/imrishuroy/storefront-reconciler/internal/identity"
	"github.com/imrishuroy/storefront-reconciler/internal/notify"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
	"github.com/imrishuroy/storefront-reconciler/internal/pricing"
	"github.com/imrishuroy/storefront-reconciler/internal/promo"
	"github.com/imrishuroy/storefront-reconciler/internal/stock"
	"github.com/imrishuroy/storefront-reconciler/internal/testutil"
	"github.com/imrishuroy/storefront-reconciler/internal/testutil/fakes"
)

var user = identity.Identity{UserID: "u1", Name: "Asha", Email: "asha@example.com"}

type fixture struct {
	ctx      context.Context
	fake     *testutil.FakeDynamo
	svc      *Service
	orders   *orders.Store
	catalog  *catalog.Store
	promos   *promo.Store
	carts    *fakes.Carts
	notifier *fakes.Notifier
	notify   *notify.Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{ctx: context.Background()}
	f.fake = testutil.NewFakeDynamo(map[string][]string{
		"orders":      {"order_id"},
		"products":    {"product_id"},
		"promos":      {"code"},
		"idempotency": {"idempotency_key"},
	})
	f.orders = orders.NewStore(f.fake, "orders", "")
	f.catalog = catalog.NewStore(f.fake, "products")
	f.promos = promo.NewStore(f.fake, "promos")
	f.carts = &fakes.Carts{}
	f.notifier = &fakes.Notifier{}
	f.notify = notify.NewDispatcher(f.notifier, time.Second)
	f.svc = NewService(Config{
		Orders:      f.orders,
		Stock:       stock.NewMutator(f.catalog),
		Pricer:      pricing.NewPricer(f.catalog, pricing.ShippingRule{FlatFee: 50, FreeAbove: 2000}),
		Promos:      f.promos,
		Idempotency: idempotency.NewStore(f.fake, "idempotency", time.Hour),
		Carts:       f.carts,
		Notify:      f.notify,
		Currency:    "INR",
	})

	for _, p := range []*catalog.Product{
		{ProductID: "mug", Name: "Mug", Price: 500, StockQuantity: 5},
		{ProductID: "tee", Name: "Tee", Price: 900, Sizes: []catalog.SizeBucket{
			{Size: "M", Quantity: 1},
			{Size: "L", Price: 1100, Quantity: 4},
		}},
	} {
		if err := f.catalog.Put(f.ctx, p); err != nil {
			t.Fatalf("seed %s: %v", p.ProductID, err)
		}
	}
	return f
}

func (f *fixture) stockOf(t *testing.T, id, size string) int {
	t.Helper()
	p, err := f.catalog.Get(f.ctx, id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	n, err := p.Available(size)
	if err != nil {
		t.Fatalf("available %s/%s: %v", id, size, err)
	}
	return n
}

func TestCODOrderTakesStockAndStartsProcessing(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.PlaceOrder(f.ctx, Request{
		User:          user,
		Items:         []orders.LineItem{{ProductID: "mug", Quantity: 2, UnitPrice: 1}},
		PaymentMethod: orders.MethodCOD,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	o := res.Order
	if o.OrderStatus != orders.StatusProcessing || o.PaymentStatus != orders.PaymentPending {
		t.Fatalf("unexpected status %s/%s", o.OrderStatus, o.PaymentStatus)
	}
	if o.Subtotal != 1000 || o.ShippingCost != 50 || o.TotalAmount != 1050 {
		t.Fatalf("amounts = %d + %d = %d", o.Subtotal, o.ShippingCost, o.TotalAmount)
	}
	if got := f.stockOf(t, "mug", ""); got != 3 {
		t.Fatalf("stock = %d, want 3", got)
	}
	if f.carts.Cleared("u1") != 1 {
		t.Fatalf("cart not cleared")
	}
	f.notify.Wait()
	if len(f.notifier.Sent(notify.TypeOrderConfirmation)) != 1 || len(f.notifier.Sent(notify.TypeAdminOrderAlert)) != 1 {
		t.Fatalf("expected confirmation and admin alert")
	}
}

func TestCODShortLineRejectsWholeOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.PlaceOrder(f.ctx, Request{
		User: user,
		Items: []orders.LineItem{
			{ProductID: "mug", Quantity: 2},
			{ProductID: "tee", Size: "m", Quantity: 2},
		},
		PaymentMethod: orders.MethodCOD,
	})
	var short *stock.ShortageError
	if !errors.As(err, &short) || short.ProductID != "tee" || short.Size != "M" {
		t.Fatalf("expected tee/M shortage, got %v", err)
	}
	if f.stockOf(t, "mug", "") != 5 || f.fake.Len("orders") != 0 {
		t.Fatalf("rejected order must not touch stock or orders")
	}
}

func TestPrepaidOrderOnlyChecksAvailability(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.PlaceOrder(f.ctx, Request{
		User:          user,
		Items:         []orders.LineItem{{ProductID: "tee", Size: "l", Quantity: 2}},
		PaymentMethod: orders.MethodPrepaid,
		Gateway:       orders.GatewayB,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	o := res.Order
	if o.OrderStatus != orders.StatusPending || o.PaymentGateway != orders.GatewayB {
		t.Fatalf("unexpected order %+v", o)
	}
	if o.Items[0].UnitPrice != 1100 || o.Items[0].Name != "Tee" || o.TotalAmount != 2200 {
		t.Fatalf("size price not applied: %+v", o.Items[0])
	}
	if got := f.stockOf(t, "tee", "L"); got != 4 {
		t.Fatalf("prepaid admission must not take stock, got %d", got)
	}
	if f.carts.Cleared("u1") != 0 {
		t.Fatalf("prepaid admission must not clear the cart")
	}

	_, err = f.svc.PlaceOrder(f.ctx, Request{
		User:          user,
		Items:         []orders.LineItem{{ProductID: "tee", Size: "L", Quantity: 5}},
		PaymentMethod: orders.MethodPrepaid,
		Gateway:       orders.GatewayB,
	})
	if !errors.Is(err, stock.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}

func TestPromoDiscount(t *testing.T) {
	f := newFixture(t)
	if err := f.promos.Put(f.ctx, &promo.Promo{Code: "save10", Kind: promo.KindPercent, Value: 10, Active: true}); err != nil {
		t.Fatalf("seed promo: %v", err)
	}
	res, err := f.svc.PlaceOrder(f.ctx, Request{
		User:          user,
		Items:         []orders.LineItem{{ProductID: "mug", Quantity: 4}},
		PaymentMethod: orders.MethodCOD,
		PromoCode:     " save10 ",
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	o := res.Order
	// 2000 - 200 = 1800 is below the free shipping line
	if o.PromoCode != "SAVE10" || o.DiscountAmount != 200 || o.ShippingCost != 50 || o.TotalAmount != 1850 {
		t.Fatalf("unexpected amounts %+v", o)
	}

	_, err = f.svc.PlaceOrder(f.ctx, Request{
		User:          user,
		Items:         []orders.LineItem{{ProductID: "mug", Quantity: 1}},
		PaymentMethod: orders.MethodCOD,
		PromoCode:     "NOPE",
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("unknown promo should be a validation error, got %v", err)
	}
}

func TestIdempotencyKeyReplaysOrder(t *testing.T) {
	f := newFixture(t)
	req := Request{
		User:           user,
		Items:          []orders.LineItem{{ProductID: "mug", Quantity: 1}},
		PaymentMethod:  orders.MethodCOD,
		IdempotencyKey: "k1",
	}
	first, err := f.svc.PlaceOrder(f.ctx, req)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := f.svc.PlaceOrder(f.ctx, req)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.Replayed || second.Order.OrderID != first.Order.OrderID {
		t.Fatalf("expected replay of %s, got %+v", first.Order.OrderID, second)
	}
	if f.fake.Len("orders") != 1 || f.stockOf(t, "mug", "") != 4 {
		t.Fatalf("replay must not admit a second order")
	}
}

func TestConcurrentKeyLoserReplays(t *testing.T) {
	f := newFixture(t)
	req := Request{
		User:           user,
		Items:          []orders.LineItem{{ProductID: "mug", Quantity: 1}},
		PaymentMethod:  orders.MethodPrepaid,
		Gateway:        orders.GatewayA,
		IdempotencyKey: "k1",
	}
	var winner *Result
	f.fake.BeforeTransact = func() {
		f.fake.BeforeTransact = nil
		var err error
		if winner, err = f.svc.PlaceOrder(f.ctx, req); err != nil {
			t.Errorf("winner: %v", err)
		}
	}
	loser, err := f.svc.PlaceOrder(f.ctx, req)
	if err != nil {
		t.Fatalf("loser: %v", err)
	}
	if winner == nil || !loser.Replayed || loser.Order.OrderID != winner.Order.OrderID {
		t.Fatalf("loser should replay the winner's order, got %+v", loser)
	}
	if f.fake.Len("orders") != 1 {
		t.Fatalf("expected exactly one order, got %d", f.fake.Len("orders"))
	}
}

func TestValidation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]Request{
		"no items":        {User: user, PaymentMethod: orders.MethodCOD},
		"zero quantity":   {User: user, PaymentMethod: orders.MethodCOD, Items: []orders.LineItem{{ProductID: "mug"}}},
		"prepaid no gw":   {User: user, PaymentMethod: orders.MethodPrepaid, Items: []orders.LineItem{{ProductID: "mug", Quantity: 1}}},
		"unknown method":  {User: user, PaymentMethod: "Barter", Items: []orders.LineItem{{ProductID: "mug", Quantity: 1}}},
		"anonymous buyer": {PaymentMethod: orders.MethodCOD, Items: []orders.LineItem{{ProductID: "mug", Quantity: 1}}},
	}
	for name, req := range cases {
		if _, err := f.svc.PlaceOrder(f.ctx, req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("%s: expected ErrInvalidRequest, got %v", name, err)
		}
	}
	_, err := f.svc.PlaceOrder(f.ctx, Request{User: user, PaymentMethod: orders.MethodCOD, Items: []orders.LineItem{{ProductID: "ghost", Quantity: 1}}})
	if !errors.Is(err, catalog.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}
