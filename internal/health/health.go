// Package health tracks whether the datastore is reachable. The last check result is cached for a
// short TTL so request paths can consult it cheaply.
package health

import (
	"context"
	"errors"
	"sync"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-reconciler/internal/aws"
	"github.com/imrishuroy/storefront-reconciler/internal/logging"
)

var ErrDatastoreUnavailable = errors.New("datastore unavailable")

// Status is the cached check result.
type Status struct {
	Healthy   bool      `json:"healthy"`
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
	Code      string    `json:"code,omitempty"` // AWS error code of a failed check
}

// Checker checks DynamoDB with DescribeTable. At most one check runs at a time; callers arriving
// during a check get the previous result, or wait for the first one.
type Checker struct {
	client  aws.DynamoDBAPI
	table   string
	ttl     time.Duration
	timeout time.Duration
	nowFunc func() time.Time

	mu       sync.Mutex
	last     Status
	inflight chan struct{}
}

func NewChecker(client aws.DynamoDBAPI, table string, ttl time.Duration) *Checker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Checker{client: client, table: table, ttl: ttl, timeout: 2 * time.Second, nowFunc: time.Now}
}

// Status returns the cached state, checking again once the TTL has passed.
func (c *Checker) Status(ctx context.Context) Status {
	c.mu.Lock()
	now := c.nowFunc()
	if !c.last.CheckedAt.IsZero() && (c.inflight != nil || now.Sub(c.last.CheckedAt) < c.ttl) {
		st := c.last
		c.mu.Unlock()
		return st
	}
	if wait := c.inflight; wait != nil {
		c.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return Status{CheckedAt: now, Error: ctx.Err().Error()}
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.last
	}
	done := make(chan struct{})
	c.inflight = done
	prev := c.last
	c.mu.Unlock()

	st := c.describe(ctx, now)
	if !st.Healthy && (prev.Healthy || prev.CheckedAt.IsZero()) {
		logging.FromContext(ctx).Error("datastore_unreachable", zap.String("table", c.table), zap.String("error", st.Error))
	} else if st.Healthy && !prev.Healthy && !prev.CheckedAt.IsZero() {
		logging.FromContext(ctx).Info("datastore_recovered", zap.String("table", c.table))
	}

	c.mu.Lock()
	c.last = st
	c.inflight = nil
	c.mu.Unlock()
	close(done)
	return st
}

func (c *Checker) describe(ctx context.Context, now time.Time) Status {
	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, err := c.client.DescribeTable(pctx, &dyn.DescribeTableInput{TableName: &c.table})
	if err == nil {
		return Status{Healthy: true, CheckedAt: now}
	}
	st := Status{CheckedAt: now, Error: err.Error()}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		st.Code = apiErr.ErrorCode()
	}
	return st
}

// Healthy reports the cached reachability.
func (c *Checker) Healthy(ctx context.Context) bool { return c.Status(ctx).Healthy }

// Check returns ErrDatastoreUnavailable when the datastore is down.
func (c *Checker) Check(ctx context.Context) error {
	if !c.Healthy(ctx) {
		return ErrDatastoreUnavailable
	}
	return nil
}
