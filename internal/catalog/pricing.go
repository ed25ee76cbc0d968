package catalog

import "fmt"

// UnitPrice resolves the price a line is charged at: the size bucket's price when the product has
// buckets, else the flat price. A sale price applies when it is positive and lower.
func (p *Product) UnitPrice(size string) (int64, error) {
	base, sale := p.Price, p.SalePrice
	if p.HasSizes() {
		b, ok := p.Bucket(size)
		if !ok {
			return 0, fmt.Errorf("%w: %q for product %s", ErrSizeNotFound, size, p.ProductID)
		}
		if b.Price > 0 {
			base, sale = b.Price, b.SalePrice
		}
	}
	if sale > 0 && sale < base {
		return sale, nil
	}
	if base <= 0 {
		return 0, fmt.Errorf("catalog: product %s has no price", p.ProductID)
	}
	return base, nil
}
