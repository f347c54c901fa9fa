package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// PaymentStatus is the lifecycle state of a payment (mirrored on the order).
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentPaid       PaymentStatus = "PAID"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentRefunded   PaymentStatus = "REFUNDED"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:    {PaymentProcessing, PaymentPaid, PaymentFailed},
	PaymentProcessing: {PaymentPaid, PaymentFailed},
	PaymentFailed:     {PaymentProcessing, PaymentPaid},
	PaymentPaid:       {PaymentRefunded},
}

// Valid reports whether s is a known status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentProcessing, PaymentPaid, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// CanTransition reports whether a payment in s may move to next.
// Same-state and backward moves return false so redelivered or stale events never regress state.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	for _, n := range paymentTransitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// Payment tracks one payment attempt for an order.
type Payment struct {
	ID              uuid.UUID
	OrderID         uuid.UUID
	Amount          int64
	Currency        string
	Method          PaymentMethod
	Status          PaymentStatus
	ProviderRef     string // join key for webhook reconciliation
	ProviderPayload []byte // raw provider event kept for audit
	FailureReason   string
	PaidAt          *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PaymentUpdate carries the fields written with a status transition.
type PaymentUpdate struct {
	Status        PaymentStatus
	PaidAt        *time.Time
	FailureReason string
	Payload       []byte
}
