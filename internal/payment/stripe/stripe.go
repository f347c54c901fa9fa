// Package stripe implements payment.Gateway on the Stripe PaymentIntents API.
package stripe

import (
	"context"
	"fmt"
	"strings"

	"github.com/and161185/apinlero/internal/payment"
	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
)

// Gateway creates PaymentIntents with a per-instance API key.
type Gateway struct {
	client paymentintent.Client
}

var _ payment.Gateway = (*Gateway)(nil)

// New constructs a gateway for the given secret key.
func New(key string) *Gateway {
	return &Gateway{client: paymentintent.Client{B: stripego.GetBackend(stripego.APIBackend), Key: key}}
}

// NewWithBackend constructs a gateway over a custom backend.
func NewWithBackend(key string, b stripego.Backend) *Gateway {
	return &Gateway{client: paymentintent.Client{B: b, Key: key}}
}

// CreateIntent creates a PaymentIntent. The idempotency key makes retries of the same payment safe.
func (g *Gateway) CreateIntent(ctx context.Context, req payment.IntentRequest) (payment.Intent, error) {
	params := &stripego.PaymentIntentParams{
		Amount:   stripego.Int64(req.Amount),
		Currency: stripego.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripego.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripego.Bool(true),
		},
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.AddMetadata("order_number", req.OrderNumber)

	pi, err := g.client.New(params)
	if err != nil {
		return payment.Intent{}, fmt.Errorf("stripe create intent: %w", err)
	}
	return payment.Intent{ProviderRef: pi.ID, ClientSecret: pi.ClientSecret}, nil
}
