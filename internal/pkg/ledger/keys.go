package ledger

import "fmt"

// ReserveKey is the idempotency key of a job's token reservation.
func ReserveKey(jobID string) string {
	return "reserve_" + jobID
}

// RefundKey is the idempotency key of a job's refund.
func RefundKey(jobID string) string {
	return "refund_" + jobID
}

// ExternalGrantKey is the idempotency key of a purchase webhook grant.
func ExternalGrantKey(eventID string) string {
	return "rc_token_" + eventID
}

// SignupGrantKey is the idempotency key of a tenant's default grant for a new user.
func SignupGrantKey(tenantID uint, externalID string) string {
	return fmt.Sprintf("signup_%d_%s", tenantID, externalID)
}
