package models

import "strings"

const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusFailed  = "failed"
)

// NormalizePaymentStatus maps remote payment states onto the local set.
// Unknown values fall back to pending rather than failing ingestion.
func NormalizePaymentStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case PaymentStatusPaid, "payment_received", "completed":
		return PaymentStatusPaid
	case PaymentStatusFailed, "payment_failed", "cancelled", "canceled":
		return PaymentStatusFailed
	default:
		return PaymentStatusPending
	}
}
