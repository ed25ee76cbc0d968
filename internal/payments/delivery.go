package payments

import (
	"context"

	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-reconciler/internal/logging"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
)

// AdvanceDelivery moves the order's delivery status. Delivering a COD order records payment.
// Cancelling does not restock.
func (a *Applier) AdvanceDelivery(ctx context.Context, orderID string, to orders.Status) (*orders.Order, error) {
	var from orders.Status
	o, changed, err := a.deps.Mutate(ctx, "delivery", orderID, func(o *orders.Order) (bool, error) {
		from = o.OrderStatus
		if o.OrderStatus == to {
			return false, nil
		}
		return true, o.AdvanceDelivery(to, a.deps.now())
	})
	if err != nil {
		return nil, err
	}
	if changed {
		logging.FromContext(ctx).Info("order_status_changed",
			zap.String("order_id", orderID),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.String("payment_status", string(o.PaymentStatus)))
	}
	return o, nil
}
