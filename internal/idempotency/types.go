package idempotency

import "time"

// StatusDone is the only status written: a record commits together with its order.
const StatusDone = "DONE"

// IdempotencyRecord is the shape persisted in the idempotency DynamoDB table. It is written in the
// same transaction as the order it admits, so a stored record always points at a real order.
type IdempotencyRecord struct {
	IdempotencyKey string    `dynamodbav:"idempotency_key"` // PK, scoped by user
	UserID         string    `dynamodbav:"user_id"`
	Status         string    `dynamodbav:"status"`
	OrderID        string    `dynamodbav:"order_id"`
	ResponseStatus int       `dynamodbav:"response_status,omitempty"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // TTL epoch seconds
}
