package gateway

import (
	"context"
	"encoding/base64"
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

const cardNetPayPath = "/pg/v1/pay"

// CardNetGateway is the card-network provider. Every call carries an X-VERIFY header derived from
// the exact path and payload plus the salt key; callbacks are verified with a separate webhook key.
// Amounts travel in minor units.
type CardNetGateway struct {
	cfg  config.GatewayCConfig
	http *caller
}

func NewCardNetGateway(cfg config.GatewayCConfig, client *http.Client, timeout time.Duration) (*CardNetGateway, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, orders.GatewayC)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &CardNetGateway{cfg: cfg, http: newCaller(orders.GatewayC, client, timeout)}, nil
}

func (g *CardNetGateway) Name() orders.Gateway    { return orders.GatewayC }
func (g *CardNetGateway) SignatureHeader() string { return "X-VERIFY" }

func (g *CardNetGateway) CredentialHint() string {
	return "merchant=" + logging.Mask(g.cfg.MerchantID)
}

func (g *CardNetGateway) PushAuthoritative() bool { return true }

type cardNetPayload struct {
	MerchantID            string                `json:"merchantId"`
	MerchantTransactionID string                `json:"merchantTransactionId"`
	MerchantUserID        string                `json:"merchantUserId"`
	Amount                int64                 `json:"amount"`
	RedirectURL           string                `json:"redirectUrl,omitempty"`
	RedirectMode          string                `json:"redirectMode"`
	CallbackURL           string                `json:"callbackUrl,omitempty"`
	MobileNumber          string                `json:"mobileNumber,omitempty"`
	PaymentInstrument     cardNetInstrumentType `json:"paymentInstrument"`
}

type cardNetInstrumentType struct {
	Type string `json:"type"`
}

type cardNetEnvelope struct {
	Request string `json:"request"`
}

type cardNetResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		MerchantTransactionID string `json:"merchantTransactionId"`
		TransactionID         string `json:"transactionId"`
		InstrumentResponse    struct {
			RedirectInfo struct {
				URL string `json:"url"`
			} `json:"redirectInfo"`
		} `json:"instrumentResponse"`
	} `json:"data"`
}

func (g *CardNetGateway) CreateSession(ctx context.Context, amount decimal.Decimal, orderRef string, customer Customer) (Session, error) {
	payload, err := json.Marshal(cardNetPayload{
		MerchantID:            g.cfg.MerchantID,
		MerchantTransactionID: orderRef,
		MerchantUserID:        customer.ID,
		Amount:                MinorUnits(amount),
		RedirectURL:           g.cfg.RedirectURL,
		RedirectMode:          "REDIRECT",
		CallbackURL:           g.cfg.CallbackURL,
		MobileNumber:          customer.Phone,
		PaymentInstrument:     cardNetInstrumentType{Type: "PAY_PAGE"},
	})
	if err != nil {
		return Session{}, fmt.Errorf("marshal pay payload: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(payload)
	body, err := json.Marshal(cardNetEnvelope{Request: encoded})
	if err != nil {
		return Session{}, fmt.Errorf("marshal pay envelope: %w", err)
	}
	resp, err := g.http.do(ctx, "create_session", http.MethodPost, g.cfg.BaseURL+cardNetPayPath,
		map[string]string{"X-VERIFY": xVerify(encoded+cardNetPayPath, g.cfg.SaltKey, g.cfg.SaltIndex)}, body)
	if err != nil {
		return Session{}, err
	}
	var out cardNetResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return Session{}, fmt.Errorf("%w: decode pay response: %v", ErrBadResponse, err)
	}
	if !out.Success {
		if out.Code == "AUTHORIZATION_FAILED" || out.Code == "KEY_NOT_CONFIGURED" {
			return Session{}, fmt.Errorf("%w: %s", ErrAuthFailed, out.Code)
		}
		return Session{}, fmt.Errorf("%w: pay rejected: %s %s", ErrBadResponse, out.Code, out.Message)
	}
	redirect := out.Data.InstrumentResponse.RedirectInfo.URL
	if redirect == "" {
		return Session{}, fmt.Errorf("%w: pay response has no redirect url", ErrBadResponse)
	}
	return Session{Handle: redirect, ProviderOrderRef: orderRef}, nil
}

func (g *CardNetGateway) VerifyStatus(ctx context.Context, providerOrderRef string) (Outcome, error) {
	path := fmt.Sprintf("/pg/v1/status/%s/%s", url.PathEscape(g.cfg.MerchantID), url.PathEscape(providerOrderRef))
	resp, err := g.http.do(ctx, "verify_status", http.MethodGet, g.cfg.BaseURL+path, map[string]string{
		"X-VERIFY":      xVerify(path, g.cfg.SaltKey, g.cfg.SaltIndex),
		"X-MERCHANT-ID": g.cfg.MerchantID,
	}, nil)
	if err != nil {
		return "", err
	}
	var out cardNetResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return "", fmt.Errorf("%w: decode status response: %v", ErrBadResponse, err)
	}
	return cardNetOutcome(out.Code)
}

func cardNetOutcome(code string) (Outcome, error) {
	switch strings.ToUpper(code) {
	case "PAYMENT_SUCCESS":
		return OutcomeSuccess, nil
	case "PAYMENT_PENDING", "PAYMENT_INITIATED":
		return OutcomePending, nil
	case "PAYMENT_ERROR", "PAYMENT_DECLINED", "TRANSACTION_NOT_FOUND":
		return OutcomeFailed, nil
	case "TIMED_OUT":
		return OutcomeExpired, nil
	case "PAYMENT_CANCELLED":
		return OutcomeCancelled, nil
	}
	return "", fmt.Errorf("%w: unknown payment code %q", ErrBadResponse, code)
}

// VerifyWebhookSignature checks X-VERIFY: hex(sha256(rawBody + webhookKey)) + "###" + saltIndex.
// Without a webhook key nothing verifies; the salt key is never accepted in its place.
func (g *CardNetGateway) VerifyWebhookSignature(rawBody []byte, signature string) bool {
	if g.cfg.WebhookKey == "" {
		return false
	}
	digest, index, ok := strings.Cut(strings.TrimSpace(signature), "###")
	if !ok || index != g.cfg.SaltIndex {
		return false
	}
	want, _, _ := strings.Cut(xVerify(string(rawBody), g.cfg.WebhookKey, g.cfg.SaltIndex), "###")
	return equalSignature(digest, want)
}

type cardNetCallback struct {
	Response string `json:"response"`
}

func (g *CardNetGateway) ParseWebhook(rawBody []byte) (WebhookEvent, error) {
	var cb cardNetCallback
	if err := json.Unmarshal(rawBody, &cb); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	decoded, err := base64.StdEncoding.DecodeString(cb.Response)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: response is not base64: %v", ErrMalformedWebhook, err)
	}
	var inner cardNetResponse
	if err := json.Unmarshal(decoded, &inner); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: decode response: %v", ErrMalformedWebhook, err)
	}
	if inner.Data.MerchantTransactionID == "" {
		return WebhookEvent{}, fmt.Errorf("%w: missing merchantTransactionId", ErrMalformedWebhook)
	}
	outcome, err := cardNetOutcome(inner.Code)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	return WebhookEvent{
		ProviderOrderRef:  inner.Data.MerchantTransactionID,
		ProviderPaymentID: inner.Data.TransactionID,
		Outcome:           outcome,
	}, nil
}
