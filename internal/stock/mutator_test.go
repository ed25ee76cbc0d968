package stock

import (
	"context"
	"errors"
	"testing"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/storefront-reconciler/internal/catalog"
	"github.com/imrishuroy/storefront-reconciler/internal/testutil"
)

func setup(t *testing.T, products ...*catalog.Product) (*Mutator, *catalog.Store, *testutil.FakeDynamo) {
	t.Helper()
	fake := testutil.NewFakeDynamo(map[string][]string{"products": {"product_id"}})
	store := catalog.NewStore(fake, "products")
	for _, p := range products {
		if err := store.Put(context.Background(), p); err != nil {
			t.Fatalf("seed %s: %v", p.ProductID, err)
		}
	}
	return NewMutator(store), store, fake
}

func commit(t *testing.T, fake *testutil.FakeDynamo, plan *Plan) {
	t.Helper()
	if len(plan.Items) == 0 {
		return
	}
	if _, err := fake.TransactWriteItems(context.Background(), &dyn.TransactWriteItemsInput{TransactItems: plan.Items}); err != nil {
		t.Fatalf("commit plan: %v", err)
	}
}

func TestReduceFlatStock(t *testing.T) {
	ctx := context.Background()
	m, store, fake := setup(t, &catalog.Product{ProductID: "p1", Price: 100, StockQuantity: 5})

	plan, err := m.Reduce(ctx, []Line{{ProductID: "p1", Quantity: 2}}, ModeAdmission)
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	commit(t, fake, plan)

	p, _ := store.Get(ctx, "p1")
	if p.StockQuantity != 3 || !p.InStock || p.Version != 1 {
		t.Fatalf("expected 3 in stock at version 1, got %+v", p)
	}
}

func TestReduceSizeBucketsMergesLines(t *testing.T) {
	ctx := context.Background()
	m, store, fake := setup(t, &catalog.Product{ProductID: "shirt", Price: 900, Sizes: []catalog.SizeBucket{
		{Size: "M", Quantity: 2},
		{Size: "L", Quantity: 1},
	}})

	plan, err := m.Reduce(ctx, []Line{
		{ProductID: "shirt", Size: "m", Quantity: 2},
		{ProductID: "shirt", Size: "L", Quantity: 1},
	}, ModeAdmission)
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if len(plan.Items) != 1 {
		t.Fatalf("expected one write per product, got %d", len(plan.Items))
	}
	commit(t, fake, plan)

	p, _ := store.Get(ctx, "shirt")
	if p.StockQuantity != 0 || p.InStock {
		t.Fatalf("aggregate should be 0/out of stock, got %d/%t", p.StockQuantity, p.InStock)
	}
	for _, b := range p.Sizes {
		if b.InStock || b.Quantity != 0 {
			t.Fatalf("bucket %s should be empty, got %+v", b.Size, b)
		}
	}
}

func TestReduceAdmissionIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	m, store, _ := setup(t,
		&catalog.Product{ProductID: "p1", Price: 100, StockQuantity: 5},
		&catalog.Product{ProductID: "p2", Price: 100, StockQuantity: 1},
	)

	_, err := m.Reduce(ctx, []Line{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 3},
	}, ModeAdmission)
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	var short *ShortageError
	if !errors.As(err, &short) || short.ProductID != "p2" || short.Available != 1 {
		t.Fatalf("unexpected shortage detail %v", err)
	}
	p1, _ := store.Get(ctx, "p1")
	if p1.StockQuantity != 5 {
		t.Fatalf("no stock may change on rejection, p1=%d", p1.StockQuantity)
	}
}

func TestReduceCumulativeQuantityPerBucket(t *testing.T) {
	ctx := context.Background()
	m, _, _ := setup(t, &catalog.Product{ProductID: "p1", Price: 100, StockQuantity: 3})

	_, err := m.Reduce(ctx, []Line{{ProductID: "p1", Quantity: 2}, {ProductID: "p1", Quantity: 2}}, ModeAdmission)
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("two lines exceeding stock together must be rejected, got %v", err)
	}
}

func TestReduceReconcileSkipsShortLines(t *testing.T) {
	ctx := context.Background()
	m, store, fake := setup(t,
		&catalog.Product{ProductID: "p1", Price: 100, StockQuantity: 5},
		&catalog.Product{ProductID: "p2", Price: 100, StockQuantity: 0},
	)

	plan, err := m.Reduce(ctx, []Line{
		{ProductID: "p1", Quantity: 1},
		{ProductID: "p2", Quantity: 1},
		{ProductID: "gone", Quantity: 1},
	}, ModeReconcile)
	if err != nil {
		t.Fatalf("reconcile must not fail: %v", err)
	}
	if len(plan.Skipped) != 2 || len(plan.Items) != 1 {
		t.Fatalf("expected 2 skipped and 1 write, got %d/%d", len(plan.Skipped), len(plan.Items))
	}
	commit(t, fake, plan)

	p1, _ := store.Get(ctx, "p1")
	p2, _ := store.Get(ctx, "p2")
	if p1.StockQuantity != 4 || p2.StockQuantity != 0 {
		t.Fatalf("unexpected stock p1=%d p2=%d", p1.StockQuantity, p2.StockQuantity)
	}
}

func TestPlanConflictsWithConcurrentWriter(t *testing.T) {
	ctx := context.Background()
	m, store, fake := setup(t, &catalog.Product{ProductID: "p1", Price: 100, StockQuantity: 5})

	plan, err := m.Reduce(ctx, []Line{{ProductID: "p1", Quantity: 1}}, ModeReconcile)
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}

	p, _ := store.Get(ctx, "p1")
	p.StockQuantity = 10
	competing, err := store.VersionedPut(*p, p.Version)
	if err != nil {
		t.Fatalf("competing put: %v", err)
	}
	if _, err := fake.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: []types.TransactWriteItem{competing}}); err != nil {
		t.Fatalf("competing write: %v", err)
	}
	if _, err := fake.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: plan.Items}); err == nil {
		t.Fatalf("stale plan must not commit")
	}
}

func TestCheckAvailabilityDoesNotWrite(t *testing.T) {
	ctx := context.Background()
	m, _, fake := setup(t, &catalog.Product{ProductID: "p1", Price: 100, StockQuantity: 1})

	if err := m.CheckAvailability(ctx, []Line{{ProductID: "p1", Quantity: 1}}); err != nil {
		t.Fatalf("available line rejected: %v", err)
	}
	if err := m.CheckAvailability(ctx, []Line{{ProductID: "p1", Quantity: 2}}); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if err := m.CheckAvailability(ctx, []Line{{ProductID: "nope", Quantity: 1}}); !errors.Is(err, catalog.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
	if n := fake.Calls("TransactWriteItems"); n != 0 {
		t.Fatalf("availability check wrote %d transactions", n)
	}
}
