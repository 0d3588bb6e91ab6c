// Package payments wraps the instant-payment provider used to charge leads.
package payments

import (
	"context"
	"errors"
	"strings"
)

// ErrNotConfigured is returned when no provider credentials are set.
var ErrNotConfigured = errors.New("payment provider not configured")

// Charge describes a payment to create.
type Charge struct {
	Value       float64
	PayerName   string
	PayerEmail  string
	Description string
}

// Payment is the provider's answer to a create call.
type Payment struct {
	ID     string
	Code   string // copy-and-paste payment code
	Status string
}

// Provider creates and inspects payments.
type Provider interface {
	CreatePayment(ctx context.Context, charge Charge) (Payment, error)
	PaymentStatus(ctx context.Context, paymentID string) (string, error)
}

var paidStatuses = map[string]struct{}{
	"approved":  {},
	"paid":      {},
	"completed": {},
	"confirmed": {},
	"success":   {},
	"aprovado":  {},
}

// IsPaidStatus reports whether a provider status means the money arrived.
func IsPaidStatus(status string) bool {
	_, ok := paidStatuses[strings.ToLower(strings.TrimSpace(status))]
	return ok
}
