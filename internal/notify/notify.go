// Package notify publishes order notifications to SQS. Delivery happens in the worker; failures
// here are logged and never reach the caller.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-reconciler/internal/aws"
	"github.com/imrishuroy/storefront-reconciler/internal/identity"
	"github.com/imrishuroy/storefront-reconciler/internal/logging"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
)

const (
	TypeOrderConfirmation = "order_confirmation"
	TypeAdminOrderAlert   = "admin_order_alert"
	TypeRefundReview      = "refund_review"
)

// Event is the queue message body.
type Event struct {
	Type          string    `json:"type"`
	OrderID       string    `json:"order_id"`
	UserID        string    `json:"user_id,omitempty"`
	Recipient     string    `json:"recipient,omitempty"`
	Name          string    `json:"name,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	TotalAmount   int64     `json:"total_amount"`
	Currency      string    `json:"currency"`
	PaymentMethod string    `json:"payment_method"`
	PaymentStatus string    `json:"payment_status"`
	OrderStatus   string    `json:"order_status"`
	At            time.Time `json:"at"`
}

// Decode parses a queue message body.
func Decode(body string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		return Event{}, fmt.Errorf("decode notification: %w", err)
	}
	if ev.Type == "" || ev.OrderID == "" {
		return Event{}, fmt.Errorf("decode notification: missing type or order_id")
	}
	return ev, nil
}

// Notifier is the outbound notification contract.
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, o *orders.Order, user identity.Identity) error
	SendAdminOrderAlert(ctx context.Context, o *orders.Order) error
	SendRefundReview(ctx context.Context, o *orders.Order) error
}

// Queue implements Notifier over the SQS publisher.
type Queue struct {
	publisher  *aws.Publisher
	adminEmail string
	nowFunc    func() time.Time
}

func NewQueue(p *aws.Publisher, adminEmail string) *Queue {
	return &Queue{publisher: p, adminEmail: adminEmail, nowFunc: time.Now}
}

func (q *Queue) event(kind string, o *orders.Order) Event {
	return Event{
		Type:          kind,
		OrderID:       o.OrderID,
		UserID:        o.UserID,
		Name:          o.Shipping.Name,
		Phone:         o.Shipping.Phone,
		TotalAmount:   o.TotalAmount,
		Currency:      o.Currency,
		PaymentMethod: string(o.PaymentMethod),
		PaymentStatus: string(o.PaymentStatus),
		OrderStatus:   string(o.OrderStatus),
		At:            q.nowFunc().UTC(),
	}
}

func (q *Queue) publish(ctx context.Context, ev Event) error {
	return q.publisher.Publish(ctx, ev, map[string]string{"type": ev.Type, "order_id": ev.OrderID})
}

func (q *Queue) SendOrderConfirmation(ctx context.Context, o *orders.Order, user identity.Identity) error {
	ev := q.event(TypeOrderConfirmation, o)
	ev.Recipient = user.Email
	if user.Name != "" {
		ev.Name = user.Name
	}
	return q.publish(ctx, ev)
}

func (q *Queue) SendAdminOrderAlert(ctx context.Context, o *orders.Order) error {
	ev := q.event(TypeAdminOrderAlert, o)
	ev.Recipient = q.adminEmail
	return q.publish(ctx, ev)
}

// SendRefundReview alerts admins to a payment captured on an order that was already cancelled.
func (q *Queue) SendRefundReview(ctx context.Context, o *orders.Order) error {
	ev := q.event(TypeRefundReview, o)
	ev.Recipient = q.adminEmail
	return q.publish(ctx, ev)
}

// Dispatcher fires notifications in the background with a bounded timeout.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewDispatcher(n Notifier, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{notifier: n, timeout: timeout}
}

// OrderPlaced sends the customer confirmation and the admin alert.
func (d *Dispatcher) OrderPlaced(ctx context.Context, o *orders.Order, user identity.Identity) {
	snapshot := *o
	d.fire(ctx, TypeOrderConfirmation, o.OrderID, func(ctx context.Context) error {
		return d.notifier.SendOrderConfirmation(ctx, &snapshot, user)
	})
	d.fire(ctx, TypeAdminOrderAlert, o.OrderID, func(ctx context.Context) error {
		return d.notifier.SendAdminOrderAlert(ctx, &snapshot)
	})
}

// RefundReview asks an admin to look at a paid-but-cancelled order.
func (d *Dispatcher) RefundReview(ctx context.Context, o *orders.Order) {
	snapshot := *o
	d.fire(ctx, TypeRefundReview, o.OrderID, func(ctx context.Context) error {
		return d.notifier.SendRefundReview(ctx, &snapshot)
	})
}

func (d *Dispatcher) fire(ctx context.Context, kind, orderID string, send func(context.Context) error) {
	if d == nil || d.notifier == nil {
		return
	}
	logger := logging.FromContext(ctx)
	base := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(base, d.timeout)
		defer cancel()
		if err := send(ctx); err != nil {
			logger.Warn("notification_failed",
				zap.String("type", kind),
				zap.String("order_id", orderID),
				zap.Error(err))
		}
	}()
}

// Wait blocks until every fired notification has finished.
func (d *Dispatcher) Wait() {
	if d != nil {
		d.wg.Wait()
	}
}

// Deliverer hands a decoded event to its final channel.
type Deliverer interface {
	Deliver(ctx context.Context, ev Event) error
}

// LogDeliverer records each delivery as a structured log line; outbound email is out of scope.
type LogDeliverer struct{}

func (LogDeliverer) Deliver(ctx context.Context, ev Event) error {
	logging.FromContext(ctx).Info("notification_delivered",
		zap.String("type", ev.Type),
		zap.String("order_id", ev.OrderID),
		zap.String("recipient", ev.Recipient),
		zap.Int64("total_amount", ev.TotalAmount),
		zap.String("payment_status", ev.PaymentStatus))
	return nil
}
