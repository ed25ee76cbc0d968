// Package pricing computes order amounts from the catalog. Client-sent amounts never enter here.
package pricing

import (
	"context"

	"github.com/imrishuroy/storefront-reconciler/internal/catalog"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
)

// ShippingRule charges FlatFee unless the discounted subtotal reaches FreeAbove (when set).
type ShippingRule struct {
	FlatFee   int64
	FreeAbove int64
}

func (r ShippingRule) Cost(discountedSubtotal int64) int64 {
	if r.FlatFee <= 0 {
		return 0
	}
	if r.FreeAbove > 0 && discountedSubtotal >= r.FreeAbove {
		return 0
	}
	return r.FlatFee
}

// Quote is the server-side price of a set of lines.
type Quote struct {
	Items    []orders.LineItem
	Subtotal int64
}

// Pricer resolves current unit prices from the catalog.
type Pricer struct {
	catalog  *catalog.Store
	Shipping ShippingRule
}

func NewPricer(c *catalog.Store, shipping ShippingRule) *Pricer {
	return &Pricer{catalog: c, Shipping: shipping}
}

// Price returns items with UnitPrice and Name refreshed from the catalog.
// Unknown products fail with catalog.ErrProductNotFound, unknown sizes with catalog.ErrSizeNotFound.
func (p *Pricer) Price(ctx context.Context, items []orders.LineItem) (*Quote, error) {
	q := &Quote{Items: make([]orders.LineItem, 0, len(items))}
	cache := map[string]*catalog.Product{}
	for _, it := range items {
		prod, ok := cache[it.ProductID]
		if !ok {
			got, err := p.catalog.Get(ctx, it.ProductID)
			if err != nil {
				return nil, err
			}
			prod = got
			cache[it.ProductID] = prod
		}
		price, err := prod.UnitPrice(it.Size)
		if err != nil {
			return nil, err
		}
		it.UnitPrice = price
		it.Name = prod.Name
		q.Items = append(q.Items, it)
	}
	q.Subtotal = orders.LinesSubtotal(q.Items)
	return q, nil
}

// Totals applies a discount (capped at subtotal) and the shipping rule.
func (p *Pricer) Totals(subtotal, discount int64) (appliedDiscount, shipping, total int64) {
	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		discount = 0
	}
	shipping = p.Shipping.Cost(subtotal - discount)
	return discount, shipping, orders.ComputedTotal(subtotal, discount, shipping)
}
