package validation

import (
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/storefront-reconciler/internal/orders"
)

// New returns a configured validator with the request struct-level rules registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})
	v.RegisterStructValidation(sessionStructValidation, SessionRequest{})
	v.RegisterStructValidation(deliveryStructValidation, DeliveryRequest{})

	return v
}

// createOrderStructValidation requires a known gateway for Prepaid orders and rejects an unknown
// one for any order.
func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)

	_, known := orders.ParseGateway(req.Gateway)
	switch {
	case req.Gateway != "" && !known:
		sl.ReportError(req.Gateway, "gateway", "Gateway", "gateway_known", "")
	case req.PaymentMethod == string(orders.MethodPrepaid) && !known:
		sl.ReportError(req.Gateway, "gateway", "Gateway", "required_for_prepaid", "")
	}
}

func sessionStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(SessionRequest)
	if req.Gateway == "" {
		return
	}
	if _, ok := orders.ParseGateway(req.Gateway); !ok {
		sl.ReportError(req.Gateway, "gateway", "Gateway", "gateway_known", "")
	}
}

func deliveryStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(DeliveryRequest)
	switch orders.Status(req.Status) {
	case orders.StatusShipped, orders.StatusOutForDelivery, orders.StatusDelivered, orders.StatusCancelled:
	default:
		sl.ReportError(req.Status, "status", "Status", "delivery_status", "")
	}
}
