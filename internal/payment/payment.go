// Package payment abstracts the payment gateway and its webhook contract.
package payment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
)

// IntentRequest asks the gateway to prepare a payment.
type IntentRequest struct {
	Amount         int64 // minor units
	Currency       string
	OrderNumber    string
	IdempotencyKey string
}

// Intent is the gateway's answer. ProviderRef is echoed back in webhook events.
type Intent struct {
	ProviderRef  string
	ClientSecret string
}

// Gateway creates payment intents.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
}

// NoopGateway fabricates intents locally, for development and tests.
type NoopGateway struct{}

// CreateIntent returns a random reference. The same idempotency key yields the same reference.
func (NoopGateway) CreateIntent(_ context.Context, req IntentRequest) (Intent, error) {
	if req.Amount <= 0 {
		return Intent{}, errors.New("amount must be positive")
	}
	ref := "pi_noop_" + req.IdempotencyKey
	if req.IdempotencyKey == "" {
		b := make([]byte, 12)
		if _, err := rand.Read(b); err != nil {
			return Intent{}, err
		}
		ref = "pi_noop_" + hex.EncodeToString(b)
	}
	return Intent{ProviderRef: ref, ClientSecret: ref + "_secret"}, nil
}
