// Package stock decrements product inventory for order lines. It is the only writer of stock
// quantities; callers commit the returned plan in the same transaction as the order transition
// that gates it.
package stock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-reconciler/internal/catalog"
	"github.com/imrishuroy/storefront-reconciler/internal/logging"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
)

var ErrInsufficientStock = errors.New("insufficient stock")

// Mode selects how a short line is handled.
type Mode int

const (
	// ModeAdmission rejects the whole batch when any line is short.
	ModeAdmission Mode = iota
	// ModeReconcile skips short lines with a warning; payment has already succeeded.
	ModeReconcile
)

func (m Mode) String() string {
	if m == ModeReconcile {
		return "reconcile"
	}
	return "admission"
}

// Line is one (product, size, quantity) request.
type Line struct {
	ProductID string
	Size      string
	Quantity  int
}

// LinesFor converts order line items.
func LinesFor(items []orders.LineItem) []Line {
	lines := make([]Line, 0, len(items))
	for _, it := range items {
		lines = append(lines, Line{ProductID: it.ProductID, Size: it.Size, Quantity: it.Quantity})
	}
	return lines
}

// ShortageError describes the first line that could not be satisfied.
type ShortageError struct {
	ProductID string
	Size      string
	Requested int
	Available int
}

func (e *ShortageError) Error() string {
	if e.Size != "" {
		return fmt.Sprintf("insufficient stock for %s size %s: requested %d, available %d", e.ProductID, e.Size, e.Requested, e.Available)
	}
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *ShortageError) Unwrap() error { return ErrInsufficientStock }

// Plan holds the product writes for one batch, one versioned Put per touched product.
type Plan struct {
	Items   []types.TransactWriteItem
	Skipped []Line
	// Products holds the post-decrement state, keyed by product id.
	Products map[string]*catalog.Product
}

// Mutator builds stock decrement plans from the catalog.
type Mutator struct {
	catalog *catalog.Store
}

func NewMutator(c *catalog.Store) *Mutator {
	return &Mutator{catalog: c}
}

// Reduce loads every product referenced by lines, checks the cumulative quantity per bucket and
// returns the writes that apply the decrement. Nothing is persisted here.
func (m *Mutator) Reduce(ctx context.Context, lines []Line, mode Mode) (*Plan, error) {
	logger := logging.FromContext(ctx)
	plan := &Plan{Products: map[string]*catalog.Product{}}
	loaded := map[string]int64{}
	applied := map[string]bool{}
	var order []string

	for _, ln := range lines {
		if ln.Quantity <= 0 {
			return nil, fmt.Errorf("stock: line %s has non-positive quantity %d", ln.ProductID, ln.Quantity)
		}
		p, ok := plan.Products[ln.ProductID]
		if !ok {
			got, err := m.catalog.Get(ctx, ln.ProductID)
			if err != nil {
				if mode == ModeReconcile && errors.Is(err, catalog.ErrProductNotFound) {
					logger.Warn("stock_line_skipped",
						zap.String("product_id", ln.ProductID),
						zap.String("reason", "product_not_found"))
					plan.Skipped = append(plan.Skipped, ln)
					continue
				}
				return nil, err
			}
			p = got
			plan.Products[ln.ProductID] = p
			loaded[ln.ProductID] = p.Version
			order = append(order, ln.ProductID)
		}

		available, err := p.Available(ln.Size)
		if err != nil {
			if mode == ModeReconcile {
				logger.Warn("stock_line_skipped",
					zap.String("product_id", ln.ProductID),
					zap.String("size", ln.Size),
					zap.String("reason", "size_not_found"))
				plan.Skipped = append(plan.Skipped, ln)
				continue
			}
			return nil, fmt.Errorf("%w: %q for product %s", err, ln.Size, ln.ProductID)
		}
		if available < ln.Quantity {
			short := &ShortageError{ProductID: ln.ProductID, Size: bucketLabel(p, ln.Size), Requested: ln.Quantity, Available: available}
			if mode == ModeAdmission {
				return nil, short
			}
			logger.Warn("stock_line_skipped",
				zap.String("product_id", ln.ProductID),
				zap.String("size", ln.Size),
				zap.Int("requested", ln.Quantity),
				zap.Int("available", available),
				zap.String("reason", "insufficient"))
			plan.Skipped = append(plan.Skipped, ln)
			continue
		}
		decrement(p, ln.Size, ln.Quantity)
		applied[ln.ProductID] = true
	}

	for _, id := range order {
		if !applied[id] {
			continue
		}
		p := plan.Products[id]
		p.Recompute()
		item, err := m.catalog.VersionedPut(*p, loaded[id])
		if err != nil {
			return nil, err
		}
		plan.Items = append(plan.Items, item)
	}
	return plan, nil
}

// CheckAvailability verifies every line could be satisfied right now without writing anything.
// Used for prepaid admission, where stock is only taken on confirmed payment.
func (m *Mutator) CheckAvailability(ctx context.Context, lines []Line) error {
	_, err := m.Reduce(ctx, lines, ModeAdmission)
	return err
}

func decrement(p *catalog.Product, size string, qty int) {
	if !p.HasSizes() {
		p.StockQuantity -= qty
		return
	}
	if b, ok := p.Bucket(size); ok {
		b.Quantity -= qty
	}
}

func bucketLabel(p *catalog.Product, size string) string {
	if !p.HasSizes() {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(size))
}
