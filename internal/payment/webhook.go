package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/and161185/apinlero/internal/errs"
	"github.com/and161185/apinlero/internal/model"
)

// SignatureHeader carries the webhook signature.
const SignatureHeader = "Stripe-Signature"

// Sign builds a v1 signature header for payload at t.
func Sign(payload []byte, secret string, t time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: t,
	}).Header
}

// VerifySignature checks a "t=<unix>,v1=<hex>" header. Any v1 entry may match, and a
// timestamp older than tolerance is rejected. A zero tolerance disables the age check.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration) error {
	if header == "" || secret == "" {
		return errs.ErrInvalidSignature
	}
	var err error
	if tolerance > 0 {
		err = webhook.ValidatePayloadWithTolerance(payload, header, secret, tolerance)
	} else {
		err = webhook.ValidatePayloadIgnoringTolerance(payload, header, secret)
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, webhook.ErrTooOld):
		return errs.ErrInvalidSignature.WithMessage("webhook timestamp outside tolerance")
	default:
		return errs.ErrInvalidSignature
	}
}

// Event types handled by reconciliation.
const (
	EventSucceeded  = "payment_intent.succeeded"
	EventFailed     = "payment_intent.payment_failed"
	EventProcessing = "payment_intent.processing"
	EventRefunded   = "charge.refunded"
)

// Event is the part of a provider event that reconciliation needs.
type Event struct {
	ID            string
	Type          string
	Ref           string // payment intent id
	FailureReason string
	Raw           []byte
}

type wireEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID               string `json:"id"`
			PaymentIntent    string `json:"payment_intent"`
			LastPaymentError *struct {
				Message string `json:"message"`
			} `json:"last_payment_error"`
		} `json:"object"`
	} `json:"data"`
}

// ParseEvent decodes a verified payload.
func ParseEvent(payload []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return Event{}, errs.ErrValidation.WithMessage("malformed webhook payload")
	}
	if w.Type == "" {
		return Event{}, errs.ErrValidation.WithMessage("webhook event type missing")
	}
	e := Event{ID: w.ID, Type: w.Type, Ref: w.Data.Object.ID, Raw: payload}
	if w.Type == EventRefunded {
		e.Ref = w.Data.Object.PaymentIntent
	}
	if w.Data.Object.LastPaymentError != nil {
		e.FailureReason = w.Data.Object.LastPaymentError.Message
	}
	return e, nil
}

// Target maps the event to the payment status it asserts. ok is false for event types that are ignored.
func (e Event) Target() (model.PaymentStatus, bool) {
	switch e.Type {
	case EventSucceeded:
		return model.PaymentPaid, true
	case EventFailed:
		return model.PaymentFailed, true
	case EventProcessing:
		return model.PaymentProcessing, true
	case EventRefunded:
		return model.PaymentRefunded, true
	}
	return "", false
}

func (e Event) String() string { return fmt.Sprintf("%s(%s) ref=%s", e.Type, e.ID, e.Ref) }
