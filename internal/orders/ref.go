package orders

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RefPrefix leads every gateway order reference issued by this service.
const RefPrefix = "ORD"

// NewAttemptID returns a short id, unique per order, free of the '_' separator.
func NewAttemptID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// BuildGatewayRef encodes the internal order id and attempt id as {prefix}_{orderId}_{attemptId},
// so inbound signals map back to the order even without an index lookup.
func BuildGatewayRef(orderID, attemptID string) string {
	return fmt.Sprintf("%s_%s_%s", RefPrefix, orderID, attemptID)
}

// ParseGatewayRef decodes a reference built by BuildGatewayRef. Any non-empty prefix is accepted
// so references issued under an older prefix still resolve.
func ParseGatewayRef(ref string) (orderID, attemptID string, ok bool) {
	parts := strings.Split(ref, "_")
	if len(parts) != 3 {
		return "", "", false
	}
	if parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
