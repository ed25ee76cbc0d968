package orders

import (
	"fmt"
	"time"
)

// AttemptEvent is one entry of the append-only payment attempt log.
type AttemptEvent struct {
	AttemptID       string        `dynamodbav:"attempt_id"`
	GatewayOrderRef string        `dynamodbav:"gateway_order_ref"`
	Gateway         Gateway       `dynamodbav:"gateway"`
	Status          AttemptStatus `dynamodbav:"status"`
	Source          string        `dynamodbav:"source,omitempty"`
	At              time.Time     `dynamodbav:"at"`
}

// PaymentAttempt is the folded view of every event recorded for one attempt id.
type PaymentAttempt struct {
	AttemptID       string        `json:"attempt_id"`
	GatewayOrderRef string        `json:"gateway_order_ref"`
	Gateway         Gateway       `json:"gateway"`
	Status          AttemptStatus `json:"status"`
	InitiatedAt     time.Time     `json:"initiated_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
}

// Terminal reports whether no further outcome may be applied to the attempt.
func (a PaymentAttempt) Terminal() bool { return a.Status != AttemptPending }

// Attempts folds the log into one view per attempt, in initiation order.
func (o *Order) Attempts() []PaymentAttempt {
	var out []PaymentAttempt
	index := map[string]int{}
	for _, e := range o.AttemptLog {
		i, ok := index[e.AttemptID]
		if !ok {
			index[e.AttemptID] = len(out)
			out = append(out, PaymentAttempt{
				AttemptID:       e.AttemptID,
				GatewayOrderRef: e.GatewayOrderRef,
				Gateway:         e.Gateway,
				Status:          e.Status,
				InitiatedAt:     e.At,
			})
			continue
		}
		a := &out[i]
		a.Status = e.Status
		if e.Status != AttemptPending && a.CompletedAt == nil {
			at := e.At
			a.CompletedAt = &at
		}
	}
	return out
}

// Attempt returns the view of a single attempt.
func (o *Order) Attempt(attemptID string) (PaymentAttempt, bool) {
	for _, a := range o.Attempts() {
		if a.AttemptID == attemptID {
			return a, true
		}
	}
	return PaymentAttempt{}, false
}

// CurrentAttempt is the latest attempt that has not been cancelled.
func (o *Order) CurrentAttempt() (PaymentAttempt, bool) {
	attempts := o.Attempts()
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].Status != AttemptCancelled {
			return attempts[i], true
		}
	}
	return PaymentAttempt{}, false
}

// PendingAttempt returns the attempt currently awaiting an outcome, if any.
func (o *Order) PendingAttempt() (PaymentAttempt, bool) {
	for _, a := range o.Attempts() {
		if a.Status == AttemptPending {
			return a, true
		}
	}
	return PaymentAttempt{}, false
}

// SuccessCount is the number of attempts that reached Success.
func (o *Order) SuccessCount() int {
	n := 0
	for _, a := range o.Attempts() {
		if a.Status == AttemptSuccess {
			n++
		}
	}
	return n
}

// StartAttempt cancels any pending attempt and appends a new pending one, keeping at most one
// pending attempt per order. It returns the ids of the cancelled attempts.
func (o *Order) StartAttempt(attemptID, ref string, gw Gateway, at time.Time) ([]string, error) {
	if _, exists := o.Attempt(attemptID); exists {
		return nil, fmt.Errorf("attempt %s already recorded", attemptID)
	}
	var cancelled []string
	for _, a := range o.Attempts() {
		if a.Status == AttemptPending {
			o.AttemptLog = append(o.AttemptLog, AttemptEvent{
				AttemptID:       a.AttemptID,
				GatewayOrderRef: a.GatewayOrderRef,
				Gateway:         a.Gateway,
				Status:          AttemptCancelled,
				Source:          "retry",
				At:              at,
			})
			cancelled = append(cancelled, a.AttemptID)
		}
	}
	o.AttemptLog = append(o.AttemptLog, AttemptEvent{
		AttemptID:       attemptID,
		GatewayOrderRef: ref,
		Gateway:         gw,
		Status:          AttemptPending,
		Source:          "session",
		At:              at,
	})
	o.GatewayOrderRef = ref
	o.PaymentGateway = gw
	return cancelled, nil
}

// CloseAttempt appends a terminal status for a pending attempt.
func (o *Order) CloseAttempt(attemptID string, status AttemptStatus, source string, at time.Time) error {
	a, ok := o.Attempt(attemptID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAttemptNotFound, attemptID)
	}
	if a.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrAttemptClosed, attemptID, a.Status)
	}
	if status == AttemptPending {
		return fmt.Errorf("attempt %s: pending is not a closing status", attemptID)
	}
	o.AttemptLog = append(o.AttemptLog, AttemptEvent{
		AttemptID:       attemptID,
		GatewayOrderRef: a.GatewayOrderRef,
		Gateway:         a.Gateway,
		Status:          status,
		Source:          source,
		At:              at,
	})
	return nil
}
