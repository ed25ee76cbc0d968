package orders

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type PaymentMethod string

const (
	MethodCOD     PaymentMethod = "COD"
	MethodPrepaid PaymentMethod = "Prepaid"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "Pending"
	PaymentPaid     PaymentStatus = "Paid"
	PaymentFailed   PaymentStatus = "Failed"
	PaymentRefunded PaymentStatus = "Refunded"
)

// Status is the order/delivery status.
type Status string

const (
	StatusPending        Status = "Pending"
	StatusProcessing     Status = "Processing"
	StatusShipped        Status = "Shipped"
	StatusOutForDelivery Status = "Out for Delivery"
	StatusDelivered      Status = "Delivered"
	StatusCancelled      Status = "Cancelled"
)

// Gateway identifies one of the external payment providers.
type Gateway string

const (
	GatewayA Gateway = "GatewayA"
	GatewayB Gateway = "GatewayB"
	GatewayC Gateway = "GatewayC"
)

// Valid reports whether g is a known gateway.
func (g Gateway) Valid() bool {
	switch g {
	case GatewayA, GatewayB, GatewayC:
		return true
	}
	return false
}

// Slug is the lower-case form used in webhook URLs ("gateway-a").
func (g Gateway) Slug() string {
	if !g.Valid() {
		return ""
	}
	return "gateway-" + strings.ToLower(strings.TrimPrefix(string(g), "Gateway"))
}

// ParseGateway accepts either the stored name or the slug, ignoring case.
func ParseGateway(s string) (Gateway, bool) {
	for _, g := range []Gateway{GatewayA, GatewayB, GatewayC} {
		if strings.EqualFold(s, string(g)) || strings.EqualFold(s, g.Slug()) {
			return g, true
		}
	}
	return "", false
}

type FailureReason string

const (
	FailureTimeout       FailureReason = "Timeout"
	FailureDeclined      FailureReason = "PaymentFailed"
	FailureExpired       FailureReason = "Expired"
	FailureUserCancelled FailureReason = "UserCancelled"
	FailureManual        FailureReason = "ManualFailure"
)

type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "Pending"
	AttemptSuccess   AttemptStatus = "Success"
	AttemptFailed    AttemptStatus = "Failed"
	AttemptCancelled AttemptStatus = "Cancelled"
	AttemptExpired   AttemptStatus = "Expired"
)

var (
	ErrNotFound        = errors.New("order not found")
	ErrAlreadyExists   = errors.New("order already exists")
	ErrVersionConflict = errors.New("order modified concurrently")
	ErrAttemptNotFound = errors.New("payment attempt not found")
	ErrAttemptClosed   = errors.New("payment attempt already closed")
)

// LineItem is one product line; UnitPrice is captured in minor units when amounts are computed.
type LineItem struct {
	ProductID string `dynamodbav:"product_id" json:"product_id"`
	Name      string `dynamodbav:"name,omitempty" json:"name,omitempty"`
	Size      string `dynamodbav:"size,omitempty" json:"size,omitempty"`
	Quantity  int    `dynamodbav:"quantity" json:"quantity"`
	UnitPrice int64  `dynamodbav:"unit_price" json:"unit_price"`
}

// ShippingAddress is a snapshot taken at order time, not a live reference.
type ShippingAddress struct {
	Name       string `dynamodbav:"name" json:"name"`
	Phone      string `dynamodbav:"phone" json:"phone"`
	Line1      string `dynamodbav:"line1" json:"line1"`
	Line2      string `dynamodbav:"line2,omitempty" json:"line2,omitempty"`
	City       string `dynamodbav:"city" json:"city"`
	State      string `dynamodbav:"state" json:"state"`
	PostalCode string `dynamodbav:"postal_code" json:"postal_code"`
	Country    string `dynamodbav:"country" json:"country"`
}

// Order represents the item stored in the orders table. Amounts are minor units.
type Order struct {
	OrderID  string          `dynamodbav:"order_id" json:"order_id"` // PK
	UserID   string          `dynamodbav:"user_id" json:"user_id"`
	Items    []LineItem      `dynamodbav:"items" json:"items"`
	Shipping ShippingAddress `dynamodbav:"shipping" json:"shipping"`

	PaymentMethod  PaymentMethod `dynamodbav:"payment_method" json:"payment_method"`
	PaymentStatus  PaymentStatus `dynamodbav:"payment_status" json:"payment_status"`
	OrderStatus    Status        `dynamodbav:"order_status" json:"order_status"`
	PaymentGateway Gateway       `dynamodbav:"payment_gateway,omitempty" json:"payment_gateway,omitempty"`
	FailureReason  FailureReason `dynamodbav:"failure_reason,omitempty" json:"failure_reason,omitempty"`

	Currency       string `dynamodbav:"currency" json:"currency"`
	PromoCode      string `dynamodbav:"promo_code,omitempty" json:"promo_code,omitempty"`
	Subtotal       int64  `dynamodbav:"subtotal" json:"subtotal"`
	DiscountAmount int64  `dynamodbav:"discount_amount" json:"discount_amount"`
	ShippingCost   int64  `dynamodbav:"shipping_cost" json:"shipping_cost"`
	TotalAmount    int64  `dynamodbav:"total_amount" json:"total_amount"`

	// GatewayOrderRef mirrors the current attempt's provider reference; it backs the lookup index.
	GatewayOrderRef string `dynamodbav:"gateway_order_ref,omitempty" json:"gateway_order_ref,omitempty"`
	SessionHandle   string `dynamodbav:"session_handle,omitempty" json:"-"`

	PaymentInitiatedAt   *time.Time `dynamodbav:"payment_initiated_at,omitempty" json:"payment_initiated_at,omitempty"`
	LastPaymentAttemptAt *time.Time `dynamodbav:"last_payment_attempt_at,omitempty" json:"last_payment_attempt_at,omitempty"`
	LastVerifiedAt       *time.Time `dynamodbav:"last_verified_at,omitempty" json:"last_verified_at,omitempty"`
	PaidAt               *time.Time `dynamodbav:"paid_at,omitempty" json:"paid_at,omitempty"`

	AttemptLog []AttemptEvent `dynamodbav:"attempt_log,omitempty" json:"-"`

	Version   int64     `dynamodbav:"version" json:"-"`
	CreatedAt time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

// ComputedTotal is subtotal - discount + shipping, floored at zero.
func ComputedTotal(subtotal, discount, shipping int64) int64 {
	total := subtotal - discount + shipping
	if total < 0 {
		return 0
	}
	return total
}

// LinesSubtotal sums unit price x quantity.
func LinesSubtotal(items []LineItem) int64 {
	var sum int64
	for _, it := range items {
		sum += it.UnitPrice * int64(it.Quantity)
	}
	return sum
}

// IsPaid reports whether the payment reached its terminal Paid state.
func (o *Order) IsPaid() bool { return o.PaymentStatus == PaymentPaid }

// MarkPaid records a successful payment. Only a Pending order moves to Processing; a cancelled or
// already-fulfilling order keeps its status.
func (o *Order) MarkPaid(at time.Time) {
	o.PaymentStatus = PaymentPaid
	o.FailureReason = ""
	if o.OrderStatus == StatusPending {
		o.OrderStatus = StatusProcessing
	}
	paid := at
	o.PaidAt = &paid
}

// MarkFailed records a failed payment. Paid orders are never reverted.
func (o *Order) MarkFailed(reason FailureReason) bool {
	if o.IsPaid() {
		return false
	}
	o.PaymentStatus = PaymentFailed
	o.FailureReason = reason
	return true
}

// ErrInvalidTransition is returned for a delivery status change the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid order status transition")

var deliveryNext = map[Status][]Status{
	StatusPending:        {StatusCancelled},
	StatusProcessing:     {StatusShipped, StatusCancelled},
	StatusShipped:        {StatusOutForDelivery, StatusDelivered},
	StatusOutForDelivery: {StatusDelivered},
}

// AdvanceDelivery moves the order along Processing -> Shipped -> Out for Delivery -> Delivered,
// or to Cancelled before shipping. Delivering a COD order records the cash as collected.
func (o *Order) AdvanceDelivery(to Status, at time.Time) error {
	for _, next := range deliveryNext[o.OrderStatus] {
		if next != to {
			continue
		}
		o.OrderStatus = to
		if to == StatusDelivered && o.PaymentMethod == MethodCOD && !o.IsPaid() {
			o.MarkPaid(at)
		}
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.OrderStatus, to)
}
