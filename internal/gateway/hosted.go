package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/storefront-reconciler/internal/config"
	"github.com/imrishuroy/storefront-reconciler/internal/logging"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
)

const defaultHostedAPIVersion = "2023-08-01"

// HostedGateway is the hosted-checkout provider: session creation returns one opaque
// payment_session_id consumed by the client SDK.
type HostedGateway struct {
	cfg  config.GatewayBConfig
	http *caller
}

func NewHostedGateway(cfg config.GatewayBConfig, client *http.Client, timeout time.Duration) (*HostedGateway, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, orders.GatewayB)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultHostedAPIVersion
	}
	if cfg.WebhookSecret == "" {
		cfg.WebhookSecret = cfg.ClientSecret
	}
	return &HostedGateway{cfg: cfg, http: newCaller(orders.GatewayB, client, timeout)}, nil
}

func (g *HostedGateway) Name() orders.Gateway    { return orders.GatewayB }
func (g *HostedGateway) SignatureHeader() string { return "x-webhook-signature" }

func (g *HostedGateway) CredentialHint() string {
	return "client=" + logging.Mask(g.cfg.ClientID)
}

func (g *HostedGateway) PushAuthoritative() bool { return true }

func (g *HostedGateway) headers() map[string]string {
	return map[string]string{
		"x-client-id":     g.cfg.ClientID,
		"x-client-secret": g.cfg.ClientSecret,
		"x-api-version":   g.cfg.APIVersion,
	}
}

type hostedOrderRequest struct {
	OrderID   string          `json:"order_id"`
	Amount    json.Number     `json:"order_amount"`
	Currency  string          `json:"order_currency"`
	Customer  hostedCustomer  `json:"customer_details"`
	OrderMeta hostedOrderMeta `json:"order_meta"`
}

type hostedCustomer struct {
	ID    string `json:"customer_id"`
	Name  string `json:"customer_name,omitempty"`
	Email string `json:"customer_email,omitempty"`
	Phone string `json:"customer_phone"`
}

type hostedOrderMeta struct {
	ReturnURL string `json:"return_url,omitempty"`
	NotifyURL string `json:"notify_url,omitempty"`
}

type hostedOrderResponse struct {
	OrderID          string `json:"order_id"`
	PaymentSessionID string `json:"payment_session_id"`
	OrderStatus      string `json:"order_status"`
}

func (g *HostedGateway) CreateSession(ctx context.Context, amount decimal.Decimal, orderRef string, customer Customer) (Session, error) {
	body, err := json.Marshal(hostedOrderRequest{
		OrderID:  orderRef,
		Amount:   json.Number(amount.StringFixed(2)),
		Currency: "INR",
		Customer: hostedCustomer{
			ID:    customer.ID,
			Name:  customer.Name,
			Email: customer.Email,
			Phone: customer.Phone,
		},
		OrderMeta: hostedOrderMeta{ReturnURL: g.cfg.ReturnURL, NotifyURL: g.cfg.NotifyURL},
	})
	if err != nil {
		return Session{}, fmt.Errorf("marshal order request: %w", err)
	}
	resp, err := g.http.do(ctx, "create_session", http.MethodPost, g.cfg.BaseURL+"/pg/orders", g.headers(), body)
	if err != nil {
		return Session{}, err
	}
	var out hostedOrderResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return Session{}, fmt.Errorf("%w: decode order response: %v", ErrBadResponse, err)
	}
	if out.PaymentSessionID == "" {
		return Session{}, fmt.Errorf("%w: order response has no payment_session_id", ErrBadResponse)
	}
	ref := out.OrderID
	if ref == "" {
		ref = orderRef
	}
	return Session{Handle: out.PaymentSessionID, ProviderOrderRef: ref}, nil
}

func (g *HostedGateway) VerifyStatus(ctx context.Context, providerOrderRef string) (Outcome, error) {
	resp, err := g.http.do(ctx, "verify_status", http.MethodGet, g.cfg.BaseURL+"/pg/orders/"+url.PathEscape(providerOrderRef), g.headers(), nil)
	if err != nil {
		return "", err
	}
	var out hostedOrderResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return "", fmt.Errorf("%w: decode order response: %v", ErrBadResponse, err)
	}
	switch strings.ToUpper(out.OrderStatus) {
	case "PAID":
		return OutcomeSuccess, nil
	case "ACTIVE":
		return OutcomePending, nil
	case "EXPIRED":
		return OutcomeExpired, nil
	case "TERMINATED", "TERMINATION_REQUESTED":
		return OutcomeCancelled, nil
	}
	return "", fmt.Errorf("%w: unknown order status %q", ErrBadResponse, out.OrderStatus)
}

func (g *HostedGateway) VerifyWebhookSignature(rawBody []byte, signature string) bool {
	return equalExact(signature, hmacBase64(rawBody, g.cfg.WebhookSecret))
}

type hostedWebhook struct {
	Type string `json:"type"`
	Data struct {
		Order struct {
			OrderID string `json:"order_id"`
		} `json:"order"`
		Payment struct {
			PaymentID     json.Number `json:"cf_payment_id"`
			PaymentStatus string      `json:"payment_status"`
		} `json:"payment"`
	} `json:"data"`
}

func (g *HostedGateway) ParseWebhook(rawBody []byte) (WebhookEvent, error) {
	var wh hostedWebhook
	if err := json.Unmarshal(rawBody, &wh); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	if wh.Data.Order.OrderID == "" {
		return WebhookEvent{}, fmt.Errorf("%w: missing data.order.order_id", ErrMalformedWebhook)
	}
	var outcome Outcome
	switch strings.ToUpper(wh.Data.Payment.PaymentStatus) {
	case "SUCCESS":
		outcome = OutcomeSuccess
	case "FAILED":
		outcome = OutcomeFailed
	case "USER_DROPPED", "CANCELLED":
		outcome = OutcomeCancelled
	case "PENDING", "NOT_ATTEMPTED":
		outcome = OutcomePending
	default:
		return WebhookEvent{}, fmt.Errorf("%w: unknown payment_status %q", ErrMalformedWebhook, wh.Data.Payment.PaymentStatus)
	}
	return WebhookEvent{
		ProviderOrderRef:  wh.Data.Order.OrderID,
		ProviderPaymentID: wh.Data.Payment.PaymentID.String(),
		Outcome:           outcome,
	}, nil
}
