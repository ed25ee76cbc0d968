package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/storefront-reconciler/internal/orders"
)

func validShipping() ShippingAddress {
	return ShippingAddress{
		Name:       "Asha",
		Phone:      "9000000000",
		Line1:      "12 MG Road",
		City:       "Pune",
		State:      "MH",
		PostalCode: "411001",
		Country:    "in",
	}
}

func TestCreateOrderRequest_Valid(t *testing.T) {
	v := New()

	req := CreateOrderRequest{
		Items: []Item{
			{ProductID: "mug", Quantity: 2},
			{ProductID: "tee", Size: " m ", Quantity: 1},
		},
		Shipping:      validShipping(),
		PaymentMethod: "Prepaid",
		Gateway:       "gateway-b",
	}

	if err := v.Struct(req); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
	if req.GatewayName() != orders.GatewayB {
		t.Fatalf("gateway = %q", req.GatewayName())
	}
	items := req.LineItems()
	if items[1].Size != "m" || items[0].UnitPrice != 0 {
		t.Fatalf("unexpected line items %+v", items)
	}
	if req.Address().Country != "IN" {
		t.Fatalf("country not normalized")
	}
}

func TestCreateOrderRequest_PrepaidNeedsGateway(t *testing.T) {
	v := New()

	req := CreateOrderRequest{
		Items:         []Item{{ProductID: "mug", Quantity: 1}},
		Shipping:      validShipping(),
		PaymentMethod: "Prepaid",
	}
	if err := v.Struct(req); err == nil {
		t.Fatal("expected validation error for prepaid order without gateway, got nil")
	}

	req.PaymentMethod = "COD"
	if err := v.Struct(req); err != nil {
		t.Fatalf("COD without gateway should pass: %v", err)
	}
	req.Gateway = "gateway-z"
	if err := v.Struct(req); err == nil {
		t.Fatal("expected validation error for unknown gateway, got nil")
	}
}

func TestCreateOrderRequest_MissingFields(t *testing.T) {
	v := New()

	req := CreateOrderRequest{
		Items:         []Item{{ProductID: "", Quantity: 0}},
		PaymentMethod: "Barter",
	}

	if err := v.Struct(req); err == nil {
		t.Fatal("expected validation errors for missing required fields, got nil")
	}
}

func TestDeliveryRequest(t *testing.T) {
	v := New()
	if err := v.Struct(DeliveryRequest{Status: "Out for Delivery"}); err != nil {
		t.Fatalf("expected valid: %v", err)
	}
	for _, s := range []string{"Pending", "Processing", "Lost", ""} {
		if err := v.Struct(DeliveryRequest{Status: s}); err == nil {
			t.Fatalf("status %q should be rejected", s)
		}
	}
}

func TestBindAndValidateWritesFieldErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"items":[],"payment_method":"COD"}`))
	c.Request.Header.Set("Content-Type", "application/json")

	var req CreateOrderRequest
	if err := BindAndValidate(c, &req, New()); err == nil {
		t.Fatal("expected an error")
	}
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "validation_failed") {
		t.Fatalf("unexpected response %d %s", w.Code, w.Body.String())
	}
}
