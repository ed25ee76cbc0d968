// Package gateway adapts the three external payment providers to one contract.
package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/storefront-reconciler/internal/orders"
)

var (
	ErrNotConfigured      = errors.New("gateway not configured")
	ErrAuthFailed         = errors.New("gateway authentication failed")
	ErrInvalidAmount      = errors.New("invalid payment amount")
	ErrAmountUnitMismatch = errors.New("payment amount looks like minor units")
	ErrUnavailable        = errors.New("gateway unavailable")
	ErrBadResponse        = errors.New("gateway returned an unexpected response")
	ErrMalformedWebhook   = errors.New("malformed webhook payload")
)

// Outcome is the normalized provider verdict for one attempt.
type Outcome string

const (
	OutcomeSuccess   Outcome = "Success"
	OutcomePending   Outcome = "Pending"
	OutcomeFailed    Outcome = "Failed"
	OutcomeExpired   Outcome = "Expired"
	OutcomeCancelled Outcome = "Cancelled"
)

// Terminal reports whether the outcome closes an attempt.
func (o Outcome) Terminal() bool { return o != OutcomePending && o != "" }

// Customer is the payer data some providers require on session creation.
type Customer struct {
	ID    string
	Name  string
	Email string
	Phone string
}

// Session is what the client needs to complete payment: a redirect URL or an SDK session id.
type Session struct {
	Handle           string
	ProviderOrderRef string
}

// WebhookEvent is the normalized content of a provider push.
type WebhookEvent struct {
	ProviderOrderRef  string
	ProviderPaymentID string
	Outcome           Outcome
}

// Adapter is implemented once per provider.
type Adapter interface {
	Name() orders.Gateway
	// CreateSession opens a payment for amount (major units) under orderRef.
	CreateSession(ctx context.Context, amount decimal.Decimal, orderRef string, customer Customer) (Session, error)
	VerifyStatus(ctx context.Context, providerOrderRef string) (Outcome, error)
	// VerifyWebhookSignature must be given the body exactly as received.
	VerifyWebhookSignature(rawBody []byte, signature string) bool
	SignatureHeader() string
	// CredentialHint identifies the configured credential in logs without revealing it.
	CredentialHint() string
	ParseWebhook(rawBody []byte) (WebhookEvent, error)
	// PushAuthoritative is false when a push must be confirmed by VerifyStatus before it is applied.
	PushAuthoritative() bool
}

// MajorUnits converts a minor-unit amount (paise, cents) into major units.
func MajorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// MinorUnits converts major units back, rounding half away from zero.
func MinorUnits(major decimal.Decimal) int64 {
	return major.Shift(2).Round(0).IntPart()
}
