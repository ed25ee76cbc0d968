package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PAYMENT_PENDING_TIMEOUT", "")
	t.Setenv("ORDERS_TABLE", "")

	cfg := Load()

	if cfg.OrdersTable != "orders" {
		t.Fatalf("expected default orders table, got %s", cfg.OrdersTable)
	}
	if cfg.Payments.PendingTimeout != 20*time.Minute {
		t.Fatalf("expected 20m pending timeout, got %s", cfg.Payments.PendingTimeout)
	}
	if cfg.Payments.VerifyThrottle != 30*time.Second || cfg.Payments.RetryCooldown != 10*time.Second {
		t.Fatalf("unexpected throttle defaults: %+v", cfg.Payments)
	}
	if cfg.ShippingFlatFee != 0 {
		t.Fatalf("expected no shipping fee by default")
	}
	if len(cfg.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", cfg.Warnings)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("PAYMENT_RETRY_COOLDOWN", "soon")
	t.Setenv("SHIPPING_FLAT_FEE", "-5")
	t.Setenv("RUN_LOCAL", "yes please")

	cfg := Load()

	if cfg.Payments.RetryCooldown != 10*time.Second {
		t.Fatalf("expected fallback cooldown, got %s", cfg.Payments.RetryCooldown)
	}
	if cfg.ShippingFlatFee != 0 {
		t.Fatalf("expected fallback fee, got %d", cfg.ShippingFlatFee)
	}
	if cfg.RunLocal {
		t.Fatalf("expected RUN_LOCAL fallback to false")
	}
	if len(cfg.Warnings) != 3 {
		t.Fatalf("expected 3 warnings, got %v", cfg.Warnings)
	}
}

func TestGatewayConfigured(t *testing.T) {
	t.Setenv("GATEWAY_B_BASE_URL", "https://sandbox.gateway-b.test")
	t.Setenv("GATEWAY_B_CLIENT_ID", "id")
	t.Setenv("GATEWAY_B_CLIENT_SECRET", "")

	cfg := Load()
	if cfg.GatewayB.Configured() {
		t.Fatalf("gateway B should not be configured without a secret")
	}
	if cfg.GatewayA.Configured() || cfg.GatewayC.Configured() {
		t.Fatalf("gateways without env should be unconfigured")
	}
}
