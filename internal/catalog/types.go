package catalog

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrProductNotFound = errors.New("catalog: product not found")
	ErrSizeNotFound    = errors.New("catalog: size not found")
)

// SizeBucket is the per-size inventory of a product sold in multiple sizes.
// A zero Price inherits the product price.
type SizeBucket struct {
	Size      string `dynamodbav:"size" json:"size"`
	Price     int64  `dynamodbav:"price,omitempty" json:"price,omitempty"`
	SalePrice int64  `dynamodbav:"sale_price,omitempty" json:"sale_price,omitempty"`
	Quantity  int    `dynamodbav:"quantity" json:"quantity"`
	InStock   bool   `dynamodbav:"in_stock" json:"in_stock"`
}

// Product is the item stored in the products table. Prices are in minor units.
type Product struct {
	ProductID     string       `dynamodbav:"product_id" json:"product_id"`
	Name          string       `dynamodbav:"name" json:"name"`
	Price         int64        `dynamodbav:"price" json:"price"`
	SalePrice     int64        `dynamodbav:"sale_price,omitempty" json:"sale_price,omitempty"`
	StockQuantity int          `dynamodbav:"stock_quantity" json:"stock_quantity"`
	InStock       bool         `dynamodbav:"in_stock" json:"in_stock"`
	Sizes         []SizeBucket `dynamodbav:"sizes,omitempty" json:"sizes,omitempty"`
	Version       int64        `dynamodbav:"version" json:"version"`
	UpdatedAt     time.Time    `dynamodbav:"updated_at" json:"updated_at"`
}

// HasSizes reports whether stock is tracked per size bucket.
func (p *Product) HasSizes() bool { return len(p.Sizes) > 0 }

// Bucket finds a size bucket by label, case-insensitively.
func (p *Product) Bucket(size string) (*SizeBucket, bool) {
	want := strings.TrimSpace(size)
	for i := range p.Sizes {
		if strings.EqualFold(p.Sizes[i].Size, want) {
			return &p.Sizes[i], true
		}
	}
	return nil, false
}

// Available returns the quantity that can be sold for size ("" for flat-stock products).
func (p *Product) Available(size string) (int, error) {
	if !p.HasSizes() {
		return p.StockQuantity, nil
	}
	b, ok := p.Bucket(size)
	if !ok {
		return 0, ErrSizeNotFound
	}
	return b.Quantity, nil
}

// Recompute refreshes the derived flags: each bucket's in-stock flag and, for size-bucketed
// products, the aggregate stock quantity; the product is in stock iff any bucket (or the flat
// quantity) is positive.
func (p *Product) Recompute() {
	if !p.HasSizes() {
		p.InStock = p.StockQuantity > 0
		return
	}
	total := 0
	for i := range p.Sizes {
		p.Sizes[i].InStock = p.Sizes[i].Quantity > 0
		total += p.Sizes[i].Quantity
	}
	p.StockQuantity = total
	p.InStock = total > 0
}
