package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/imrishuroy/storefront-reconciler/internal/testutil"
)

func TestCheckerCachesAndRecovers(t *testing.T) {
	fake := testutil.NewFakeDynamo(map[string][]string{"orders": {"order_id"}})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewChecker(fake, "orders", 5*time.Second)
	c.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	if !c.Healthy(ctx) {
		t.Fatalf("expected healthy")
	}
	fake.Err = errors.New("connection refused")
	if !c.Healthy(ctx) {
		t.Fatalf("cached state should still be healthy inside the TTL")
	}
	if fake.Calls("DescribeTable") != 1 {
		t.Fatalf("expected one DescribeTable call, got %d", fake.Calls("DescribeTable"))
	}

	now = now.Add(6 * time.Second)
	if err := c.Check(ctx); !errors.Is(err, ErrDatastoreUnavailable) {
		t.Fatalf("expected ErrDatastoreUnavailable, got %v", err)
	}
	if st := c.Status(ctx); st.Error == "" {
		t.Fatalf("status should carry the DescribeTable error")
	}

	fake.Err = nil
	now = now.Add(6 * time.Second)
	if !c.Healthy(ctx) {
		t.Fatalf("expected recovery after TTL")
	}
}

func TestCheckerMissingTable(t *testing.T) {
	fake := testutil.NewFakeDynamo(map[string][]string{})
	st := NewChecker(fake, "orders", time.Second).Status(context.Background())
	if st.Healthy {
		t.Fatalf("missing table must be unhealthy")
	}
	if st.Code != "ResourceNotFoundException" {
		t.Fatalf("expected ResourceNotFoundException code, got %q", st.Code)
	}
}

type slowTable struct {
	*testutil.FakeDynamo
	started chan struct{}
	release chan struct{}
}

func (s *slowTable) DescribeTable(ctx context.Context, in *dyn.DescribeTableInput, optFns ...func(*dyn.Options)) (*dyn.DescribeTableOutput, error) {
	s.started <- struct{}{}
	<-s.release
	return s.FakeDynamo.DescribeTable(ctx, in, optFns...)
}

func TestCheckerServesCachedStatusDuringRefresh(t *testing.T) {
	fake := testutil.NewFakeDynamo(map[string][]string{"orders": {"order_id"}})
	slow := &slowTable{FakeDynamo: fake, started: make(chan struct{}, 1), release: make(chan struct{})}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var clock sync.Mutex
	c := NewChecker(slow, "orders", 5*time.Second)
	c.nowFunc = func() time.Time {
		clock.Lock()
		defer clock.Unlock()
		return now
	}
	ctx := context.Background()

	close(slow.release)
	if !c.Healthy(ctx) {
		t.Fatalf("expected healthy")
	}
	<-slow.started
	slow.release = make(chan struct{})

	clock.Lock()
	now = now.Add(6 * time.Second)
	clock.Unlock()
	fake.Err = errors.New("connection refused")

	refreshed := make(chan Status, 1)
	go func() { refreshed <- c.Status(ctx) }()
	<-slow.started

	// The refresh is blocked inside DescribeTable; other callers must not queue behind it.
	for i := 0; i < 3; i++ {
		if !c.Healthy(ctx) {
			t.Fatalf("caller during refresh should get the cached healthy status")
		}
	}
	close(slow.release)
	if st := <-refreshed; st.Healthy {
		t.Fatalf("refresh should report the DescribeTable failure")
	}
	if c.Healthy(ctx) {
		t.Fatalf("refreshed status should now be cached")
	}
	if n := fake.Calls("DescribeTable"); n != 2 {
		t.Fatalf("expected two DescribeTable calls, got %d", n)
	}
}

func TestCheckerFirstCheckSharedByConcurrentCallers(t *testing.T) {
	fake := testutil.NewFakeDynamo(map[string][]string{"orders": {"order_id"}})
	slow := &slowTable{FakeDynamo: fake, started: make(chan struct{}, 1), release: make(chan struct{})}
	c := NewChecker(slow, "orders", 5*time.Second)
	ctx := context.Background()

	first := make(chan Status, 1)
	go func() { first <- c.Status(ctx) }()
	<-slow.started

	var wg sync.WaitGroup
	results := make([]Status, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Status(ctx)
		}(i)
	}
	close(slow.release)
	wg.Wait()
	if st := <-first; !st.Healthy {
		t.Fatalf("expected healthy first check, got %+v", st)
	}
	for i, st := range results {
		if !st.Healthy {
			t.Fatalf("caller %d: expected shared healthy result, got %+v", i, st)
		}
	}
	if n := fake.Calls("DescribeTable"); n != 1 {
		t.Fatalf("expected a single DescribeTable call, got %d", n)
	}
}
