package validation

import (
	"strings"

	"github.com/imrishuroy/storefront-reconciler/internal/orders"
)

// Item represents a single order line. Prices come from the catalog, never from here.
type Item struct {
	ProductID string `json:"product_id" validate:"required,max=64"`
	Size      string `json:"size,omitempty" validate:"omitempty,max=16"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=100"`
}

// ShippingAddress is the delivery address captured with the order.
type ShippingAddress struct {
	Name       string `json:"name" validate:"required,max=120"`
	Phone      string `json:"phone" validate:"required,min=7,max=20"`
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2,omitempty" validate:"omitempty,max=200"`
	City       string `json:"city" validate:"required,max=80"`
	State      string `json:"state" validate:"required,max=80"`
	PostalCode string `json:"postal_code" validate:"required,max=12"`
	Country    string `json:"country" validate:"required,len=2"`
}

// CreateOrderRequest is the payload for POST /orders
type CreateOrderRequest struct {
	Items         []Item          `json:"items" validate:"required,min=1,max=50,dive"`
	Shipping      ShippingAddress `json:"shipping" validate:"required"`
	PaymentMethod string          `json:"payment_method" validate:"required,oneof=COD Prepaid"`
	Gateway       string          `json:"gateway,omitempty"`
	PromoCode     string          `json:"promo_code,omitempty" validate:"omitempty,max=32"`
}

// SessionRequest is the optional body of the payment session and retry routes.
type SessionRequest struct {
	Gateway string `json:"gateway,omitempty"`
}

// DeliveryRequest is the payload for PATCH /admin/orders/:id/delivery
type DeliveryRequest struct {
	Status string `json:"status" validate:"required"`
}

// LineItems converts the request lines.
func (r CreateOrderRequest) LineItems() []orders.LineItem {
	items := make([]orders.LineItem, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, orders.LineItem{
			ProductID: strings.TrimSpace(it.ProductID),
			Size:      strings.TrimSpace(it.Size),
			Quantity:  it.Quantity,
		})
	}
	return items
}

func (r CreateOrderRequest) Address() orders.ShippingAddress {
	a := r.Shipping
	return orders.ShippingAddress{
		Name:       a.Name,
		Phone:      a.Phone,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    strings.ToUpper(a.Country),
	}
}

// GatewayName resolves the requested gateway; "" when none was given.
func (r CreateOrderRequest) GatewayName() orders.Gateway {
	g, _ := orders.ParseGateway(r.Gateway)
	return g
}

func (r SessionRequest) GatewayName() orders.Gateway {
	g, _ := orders.ParseGateway(r.Gateway)
	return g
}

// Target is the requested delivery status.
func (r DeliveryRequest) Target() orders.Status {
	return orders.Status(r.Status)
}
