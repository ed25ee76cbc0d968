package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full runtime configuration, resolved from the environment.
type Config struct {
	ServiceName string
	Env         string
	RunLocal    bool
	HTTPAddr    string

	OrdersTable      string
	ProductsTable    string
	CartsTable       string
	PromosTable      string
	IdempotencyTable string
	GatewayRefIndex  string

	NotificationsQueueURL string
	AdminAlertEmail       string

	Currency          string
	ShippingFlatFee   int64 // minor units
	FreeShippingAbove int64 // minor units, 0 disables the waiver

	Payments PaymentsConfig
	Guard    GuardConfig

	GatewayA GatewayAConfig
	GatewayB GatewayBConfig
	GatewayC GatewayCConfig

	// Warnings lists env values that failed to parse and were replaced by defaults.
	Warnings []string
}

// PaymentsConfig holds the reconciliation timing rules.
type PaymentsConfig struct {
	PendingTimeout   time.Duration
	VerifyThrottle   time.Duration
	RetryCooldown    time.Duration
	GatewayTimeout   time.Duration
	IdempotencyTTL   time.Duration
	NotifyTimeout    time.Duration
	HealthCacheTTL   time.Duration
	MaxCommitRetries int
}

// GuardConfig bounds the amount accepted by gateway adapters, in major units.
type GuardConfig struct {
	MinAmount             int64
	MaxAmount             int64
	UnitMismatchThreshold int64
}

// GatewayAConfig configures the bank-redirect checksum gateway.
type GatewayAConfig struct {
	BaseURL     string
	MerchantID  string
	MerchantKey string
	CallbackURL string
	Website     string
}

// Configured reports whether the credentials needed to open sessions are present.
func (c GatewayAConfig) Configured() bool {
	return c.BaseURL != "" && c.MerchantID != "" && c.MerchantKey != ""
}

// GatewayBConfig configures the hosted-checkout gateway.
type GatewayBConfig struct {
	BaseURL       string
	ClientID      string
	ClientSecret  string
	APIVersion    string
	WebhookSecret string
	ReturnURL     string
	NotifyURL     string
}

func (c GatewayBConfig) Configured() bool {
	return c.BaseURL != "" && c.ClientID != "" && c.ClientSecret != ""
}

// GatewayCConfig configures the card-network gateway. SaltKey signs outbound API calls,
// WebhookKey verifies inbound callbacks; the two are deliberately distinct.
type GatewayCConfig struct {
	BaseURL     string
	MerchantID  string
	SaltKey     string
	SaltIndex   string
	WebhookKey  string
	RedirectURL string
	CallbackURL string
}

func (c GatewayCConfig) Configured() bool {
	return c.BaseURL != "" && c.MerchantID != "" && c.SaltKey != "" && c.SaltIndex != ""
}

// Load reads the configuration from environment variables, falling back to defaults.
func Load() *Config {
	l := &loader{}
	cfg := &Config{
		ServiceName: l.str("SERVICE_NAME", "storefront-reconciler"),
		Env:         l.str("ENV", "dev"),
		RunLocal:    l.boolean("RUN_LOCAL", false),
		HTTPAddr:    l.str("HTTP_ADDR", ":8080"),

		OrdersTable:      l.str("ORDERS_TABLE", "orders"),
		ProductsTable:    l.str("PRODUCTS_TABLE", "products"),
		CartsTable:       l.str("CARTS_TABLE", "carts"),
		PromosTable:      l.str("PROMOS_TABLE", "promos"),
		IdempotencyTable: l.str("IDEMPOTENCY_TABLE", "idempotency"),
		GatewayRefIndex:  l.str("GATEWAY_REF_INDEX", "gateway_order_ref-index"),

		NotificationsQueueURL: l.str("NOTIFICATIONS_QUEUE_URL", ""),
		AdminAlertEmail:       l.str("ADMIN_ALERT_EMAIL", ""),

		Currency:          l.str("CURRENCY", "INR"),
		ShippingFlatFee:   l.int64("SHIPPING_FLAT_FEE", 0),
		FreeShippingAbove: l.int64("FREE_SHIPPING_ABOVE", 0),

		Payments: PaymentsConfig{
			PendingTimeout:   l.duration("PAYMENT_PENDING_TIMEOUT", 20*time.Minute),
			VerifyThrottle:   l.duration("PAYMENT_VERIFY_THROTTLE", 30*time.Second),
			RetryCooldown:    l.duration("PAYMENT_RETRY_COOLDOWN", 10*time.Second),
			GatewayTimeout:   l.duration("GATEWAY_HTTP_TIMEOUT", 15*time.Second),
			IdempotencyTTL:   l.duration("IDEMPOTENCY_TTL", 48*time.Hour),
			NotifyTimeout:    l.duration("NOTIFY_TIMEOUT", 5*time.Second),
			HealthCacheTTL:   l.duration("HEALTH_CACHE_TTL", 5*time.Second),
			MaxCommitRetries: int(l.int64("MAX_COMMIT_RETRIES", 3)),
		},
		Guard: GuardConfig{
			MinAmount:             l.int64("AMOUNT_GUARD_MIN", 1),
			MaxAmount:             l.int64("AMOUNT_GUARD_MAX", 500000),
			UnitMismatchThreshold: l.int64("AMOUNT_GUARD_UNIT_THRESHOLD", 100000),
		},

		GatewayA: GatewayAConfig{
			BaseURL:     l.str("GATEWAY_A_BASE_URL", ""),
			MerchantID:  l.str("GATEWAY_A_MERCHANT_ID", ""),
			MerchantKey: l.str("GATEWAY_A_MERCHANT_KEY", ""),
			CallbackURL: l.str("GATEWAY_A_CALLBACK_URL", ""),
			Website:     l.str("GATEWAY_A_WEBSITE", "DEFAULT"),
		},
		GatewayB: GatewayBConfig{
			BaseURL:       l.str("GATEWAY_B_BASE_URL", ""),
			ClientID:      l.str("GATEWAY_B_CLIENT_ID", ""),
			ClientSecret:  l.str("GATEWAY_B_CLIENT_SECRET", ""),
			APIVersion:    l.str("GATEWAY_B_API_VERSION", "2023-08-01"),
			WebhookSecret: l.str("GATEWAY_B_WEBHOOK_SECRET", ""),
			ReturnURL:     l.str("GATEWAY_B_RETURN_URL", ""),
			NotifyURL:     l.str("GATEWAY_B_NOTIFY_URL", ""),
		},
		GatewayC: GatewayCConfig{
			BaseURL:     l.str("GATEWAY_C_BASE_URL", ""),
			MerchantID:  l.str("GATEWAY_C_MERCHANT_ID", ""),
			SaltKey:     l.str("GATEWAY_C_SALT_KEY", ""),
			SaltIndex:   l.str("GATEWAY_C_SALT_INDEX", "1"),
			WebhookKey:  l.str("GATEWAY_C_WEBHOOK_KEY", ""),
			RedirectURL: l.str("GATEWAY_C_REDIRECT_URL", ""),
			CallbackURL: l.str("GATEWAY_C_CALLBACK_URL", ""),
		},
	}
	if cfg.Payments.MaxCommitRetries < 1 {
		cfg.Payments.MaxCommitRetries = 1
	}
	cfg.Warnings = l.warnings
	return cfg
}

type loader struct {
	warnings []string
}

func (l *loader) str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (l *loader) boolean(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.warn(key, v)
		return def
	}
	return b
}

func (l *loader) int64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		l.warn(key, v)
		return def
	}
	return n
}

func (l *loader) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		l.warn(key, v)
		return def
	}
	return d
}

func (l *loader) warn(key, value string) {
	l.warnings = append(l.warnings, fmt.Sprintf("%s=%q is invalid, using default", key, value))
}
