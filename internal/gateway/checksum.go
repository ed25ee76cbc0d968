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

// ChecksumGateway is the bank-style redirect provider. Requests and callbacks carry an
// HMAC checksum keyed by the merchant key. Its callback is only a hint; status queries are
// authoritative.
type ChecksumGateway struct {
	cfg  config.GatewayAConfig
	http *caller
}

func NewChecksumGateway(cfg config.GatewayAConfig, client *http.Client, timeout time.Duration) (*ChecksumGateway, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, orders.GatewayA)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &ChecksumGateway{cfg: cfg, http: newCaller(orders.GatewayA, client, timeout)}, nil
}

func (g *ChecksumGateway) Name() orders.Gateway   { return orders.GatewayA }
func (g *ChecksumGateway) SignatureHeader() string { return "X-Checksum" }

func (g *ChecksumGateway) CredentialHint() string {
	return "merchant=" + logging.Mask(g.cfg.MerchantID)
}

func (g *ChecksumGateway) PushAuthoritative() bool { return false }

type checksumInitiateRequest struct {
	MerchantID  string           `json:"mid"`
	OrderID     string           `json:"order_id"`
	Amount      string           `json:"amount"`
	Currency    string           `json:"currency"`
	Website     string           `json:"website,omitempty"`
	CallbackURL string           `json:"callback_url,omitempty"`
	Customer    checksumCustomer `json:"customer"`
}

type checksumCustomer struct {
	ID    string `json:"cust_id"`
	Email string `json:"email,omitempty"`
	Phone string `json:"mobile,omitempty"`
}

type checksumResult struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type checksumInitiateResponse struct {
	Result   checksumResult `json:"result"`
	TxnToken string         `json:"txn_token"`
}

func (g *ChecksumGateway) CreateSession(ctx context.Context, amount decimal.Decimal, orderRef string, customer Customer) (Session, error) {
	body, err := json.Marshal(checksumInitiateRequest{
		MerchantID:  g.cfg.MerchantID,
		OrderID:     orderRef,
		Amount:      amount.StringFixed(2),
		Currency:    "INR",
		Website:     g.cfg.Website,
		CallbackURL: g.cfg.CallbackURL,
		Customer:    checksumCustomer{ID: customer.ID, Email: customer.Email, Phone: customer.Phone},
	})
	if err != nil {
		return Session{}, fmt.Errorf("marshal initiate request: %w", err)
	}
	resp, err := g.http.do(ctx, "create_session", http.MethodPost, g.cfg.BaseURL+"/v1/transactions/initiate",
		map[string]string{"X-Checksum": hmacHex(body, g.cfg.MerchantKey)}, body)
	if err != nil {
		return Session{}, err
	}
	var out checksumInitiateResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return Session{}, fmt.Errorf("%w: decode initiate response: %v", ErrBadResponse, err)
	}
	if !strings.EqualFold(out.Result.Status, "S") && !strings.EqualFold(out.Result.Status, "SUCCESS") {
		if out.Result.Code == "AUTH_FAILED" {
			return Session{}, fmt.Errorf("%w: %s", ErrAuthFailed, out.Result.Message)
		}
		return Session{}, fmt.Errorf("%w: initiate rejected: %s %s", ErrBadResponse, out.Result.Code, out.Result.Message)
	}
	if out.TxnToken == "" {
		return Session{}, fmt.Errorf("%w: initiate response has no txn token", ErrBadResponse)
	}
	q := url.Values{}
	q.Set("mid", g.cfg.MerchantID)
	q.Set("orderId", orderRef)
	q.Set("txnToken", out.TxnToken)
	return Session{
		Handle:           g.cfg.BaseURL + "/v1/transactions/show?" + q.Encode(),
		ProviderOrderRef: orderRef,
	}, nil
}

type checksumStatusRequest struct {
	MerchantID string `json:"mid"`
	OrderID    string `json:"order_id"`
}

type checksumStatusResponse struct {
	OrderID   string `json:"order_id"`
	TxnID     string `json:"txn_id"`
	TxnStatus string `json:"txn_status"`
}

func (g *ChecksumGateway) VerifyStatus(ctx context.Context, providerOrderRef string) (Outcome, error) {
	body, err := json.Marshal(checksumStatusRequest{MerchantID: g.cfg.MerchantID, OrderID: providerOrderRef})
	if err != nil {
		return "", fmt.Errorf("marshal status request: %w", err)
	}
	resp, err := g.http.do(ctx, "verify_status", http.MethodPost, g.cfg.BaseURL+"/v1/transactions/status",
		map[string]string{"X-Checksum": hmacHex(body, g.cfg.MerchantKey)}, body)
	if err != nil {
		return "", err
	}
	var out checksumStatusResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return "", fmt.Errorf("%w: decode status response: %v", ErrBadResponse, err)
	}
	return checksumOutcome(out.TxnStatus)
}

func checksumOutcome(status string) (Outcome, error) {
	switch strings.ToUpper(status) {
	case "TXN_SUCCESS":
		return OutcomeSuccess, nil
	case "PENDING", "OPEN":
		return OutcomePending, nil
	case "TXN_FAILURE":
		return OutcomeFailed, nil
	case "TXN_CANCELLED":
		return OutcomeCancelled, nil
	case "TXN_EXPIRED":
		return OutcomeExpired, nil
	}
	return "", fmt.Errorf("%w: unknown txn status %q", ErrBadResponse, status)
}

func (g *ChecksumGateway) VerifyWebhookSignature(rawBody []byte, signature string) bool {
	return equalSignature(signature, hmacHex(rawBody, g.cfg.MerchantKey))
}

type checksumCallback struct {
	OrderID string `json:"order_id"`
	TxnID   string `json:"txn_id"`
	Status  string `json:"status"`
}

func (g *ChecksumGateway) ParseWebhook(rawBody []byte) (WebhookEvent, error) {
	var cb checksumCallback
	if err := json.Unmarshal(rawBody, &cb); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	if cb.OrderID == "" {
		return WebhookEvent{}, fmt.Errorf("%w: missing order_id", ErrMalformedWebhook)
	}
	outcome, err := checksumOutcome(cb.Status)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	return WebhookEvent{ProviderOrderRef: cb.OrderID, ProviderPaymentID: cb.TxnID, Outcome: outcome}, nil
}
