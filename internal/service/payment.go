package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/apinlero/internal/errs"
	"github.com/and161185/apinlero/internal/metrics"
	"github.com/and161185/apinlero/internal/model"
	"github.com/and161185/apinlero/internal/money"
	"github.com/and161185/apinlero/internal/payment"
	"github.com/and161185/apinlero/internal/repository"
	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Outcome describes what a webhook event did.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeStale     Outcome = "stale"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeNotFound  Outcome = "not_found"
)

// PaymentService creates payment intents and reconciles gateway webhooks.
type PaymentService interface {
	Initialize(ctx context.Context, in InitInput) (*InitResult, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) (Outcome, error)
	ApplyEvent(ctx context.Context, ev payment.Event, target model.PaymentStatus) (Outcome, error)
	Status(ctx context.Context, orderID, userID uuid.UUID, isAdmin bool) (*PaymentStatusView, error)
}

type InitInput struct {
	OrderID     uuid.UUID
	UserID      uuid.UUID
	ClientTotal *int64 // required on the REST surface; nil only for trusted internal callers
}

type InitResult struct {
	PaymentID    uuid.UUID
	ProviderRef  string
	ClientSecret string
	Amount       int64
	Currency     string
	Status       model.PaymentStatus
}

// PaymentStatusView is the payment state of an order. Payment is nil before any attempt exists.
type PaymentStatusView struct {
	OrderID       uuid.UUID
	OrderNumber   string
	PaymentStatus model.PaymentStatus
	Payment       *model.Payment
}

type PaymentConfig struct {
	Currency         string
	WebhookSecret    string
	WebhookTolerance time.Duration
}

type PaymentServiceImpl struct {
	store   repository.Store
	gateway payment.Gateway
	cfg     PaymentConfig
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

var _ PaymentService = (*PaymentServiceImpl)(nil)

func NewPaymentService(store repository.Store, gw payment.Gateway, cfg PaymentConfig, log *zap.Logger, m *metrics.Metrics) *PaymentServiceImpl {
	return &PaymentServiceImpl{store: store, gateway: gw, cfg: cfg, log: log, metrics: m, now: time.Now}
}

// Initialize prepares a card payment. The payment row, with the gateway reference attached,
// is persisted before the client secret is returned, so any webhook can be joined to it.
func (s *PaymentServiceImpl) Initialize(ctx context.Context, in InitInput) (_ *InitResult, err error) {
	ctx, span := tracer.Start(ctx, "payment.initialize", withAttrs(attribute.String("order.id", in.OrderID.String())))
	defer func() { endSpan(span, err) }()

	o, err := s.store.Orders().GetByID(ctx, in.OrderID)
	if errors.Is(err, errs.ErrNotFound) || (err == nil && o.UserID != in.UserID) {
		return nil, errs.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	switch {
	case o.PaymentMethod != model.PaymentCard:
		return nil, errs.ErrUnsupportedPayment
	case o.PaymentStatus == model.PaymentPaid || o.PaymentStatus == model.PaymentRefunded:
		return nil, errs.ErrAlreadyPaid
	case o.Status == model.OrderCancelled:
		return nil, errs.ErrInvalidTransition.WithMessage("order is cancelled")
	}
	if !o.Consistent() {
		s.log.Error("order totals inconsistent", zap.String("order_id", o.ID.String()))
		return nil, errs.ErrPriceMismatch
	}
	if in.ClientTotal != nil && !money.WithinTolerance(*in.ClientTotal, o.Total, priceTolerance) {
		return nil, errs.ErrPriceMismatch.WithDetails(map[string]string{
			"expected": money.Format(*in.ClientTotal),
			"actual":   money.Format(o.Total),
		})
	}

	var p *model.Payment
	err = s.store.InTx(ctx, func(tx repository.Store) error {
		latest, err := tx.Payments().LatestForOrder(ctx, o.ID)
		switch {
		case err == nil && latest.Status != model.PaymentFailed:
			if latest.Status == model.PaymentPaid {
				return errs.ErrAlreadyPaid
			}
			p = latest
			return nil
		case err != nil && !errors.Is(err, errs.ErrNotFound):
			return err
		}
		p = &model.Payment{
			ID:       uuid.Must(uuid.NewV7()),
			OrderID:  o.ID,
			Amount:   o.Total,
			Currency: s.cfg.Currency,
			Method:   o.PaymentMethod,
			Status:   model.PaymentPending,
		}
		return tx.Payments().Create(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	intent, err := s.gateway.CreateIntent(ctx, payment.IntentRequest{
		Amount:         p.Amount,
		Currency:       p.Currency,
		OrderNumber:    o.OrderNumber,
		IdempotencyKey: p.ID.String(),
	})
	if err != nil {
		s.log.Error("gateway create intent failed", zap.String("payment_id", p.ID.String()), zap.Error(err))
		return nil, errs.ErrGateway
	}
	if p.ProviderRef != intent.ProviderRef {
		if err := s.store.Payments().AttachProviderRef(ctx, p.ID, intent.ProviderRef, p.Status); err != nil {
			return nil, fmt.Errorf("attach provider ref: %w", err)
		}
		p.ProviderRef = intent.ProviderRef
	}
	return &InitResult{
		PaymentID:    p.ID,
		ProviderRef:  p.ProviderRef,
		ClientSecret: intent.ClientSecret,
		Amount:       p.Amount,
		Currency:     p.Currency,
		Status:       p.Status,
	}, nil
}

// HandleWebhook verifies the signature before reading the payload, then applies the event.
// Unknown event types and unmatched references are not errors: the provider must not retry them.
func (s *PaymentServiceImpl) HandleWebhook(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	if err := payment.VerifySignature(payload, signature, s.cfg.WebhookSecret, s.cfg.WebhookTolerance); err != nil {
		s.metrics.WebhookEvent("unknown", "invalid_signature")
		return "", err
	}
	ev, err := payment.ParseEvent(payload)
	if err != nil {
		s.metrics.WebhookEvent("unknown", "malformed")
		return "", err
	}
	target, ok := ev.Target()
	if !ok || ev.Ref == "" {
		s.metrics.WebhookEvent(ev.Type, string(OutcomeIgnored))
		s.log.Debug("webhook event ignored", zap.String("event", ev.String()))
		return OutcomeIgnored, nil
	}
	return s.ApplyEvent(ctx, ev, target)
}

// ApplyEvent moves the payment referenced by ev to target and mirrors the status on the order.
// Redelivered and out-of-order events leave state unchanged.
func (s *PaymentServiceImpl) ApplyEvent(ctx context.Context, ev payment.Event, target model.PaymentStatus) (out Outcome, err error) {
	ctx, span := tracer.Start(ctx, "payment.apply_event", withAttrs(
		attribute.String("event.type", ev.Type),
		attribute.String("payment.ref", ev.Ref),
	))
	defer func() {
		endSpan(span, err)
		if err == nil {
			s.metrics.WebhookEvent(ev.Type, string(out))
		}
	}()

	var (
		p         *model.Payment
		from      model.PaymentStatus
		orderFrom model.PaymentStatus
		mirrored  bool
	)
	err = s.store.InTx(ctx, func(tx repository.Store) error {
		p, err = tx.Payments().GetByProviderRefForUpdate(ctx, ev.Ref)
		if errors.Is(err, errs.ErrNotFound) {
			out = OutcomeNotFound
			return nil
		}
		if err != nil {
			return err
		}
		from = p.Status
		switch {
		case p.Status == target:
			out = OutcomeDuplicate
			return nil
		case !p.Status.CanTransition(target):
			out = OutcomeStale
			return nil
		}
		u := model.PaymentUpdate{Status: target, FailureReason: ev.FailureReason, Payload: ev.Raw}
		if target == model.PaymentPaid {
			now := s.now()
			u.PaidAt = &now
		}
		if err := tx.Payments().UpdateStatus(ctx, p.ID, u); err != nil {
			return err
		}
		out = OutcomeApplied

		o, err := tx.Orders().GetForUpdate(ctx, p.OrderID)
		if err != nil {
			return err
		}
		latest, err := tx.Payments().LatestForOrder(ctx, p.OrderID)
		if err != nil {
			return err
		}
		orderFrom = o.PaymentStatus
		if !mirrorsOnOrder(o.PaymentStatus, target, latest.ID == p.ID) {
			return nil
		}
		mirrored = true
		return tx.Orders().SetPaymentStatus(ctx, p.OrderID, target)
	})
	if err != nil {
		return "", err
	}

	switch out {
	case OutcomeNotFound:
		s.log.Error("webhook for unknown payment",
			zap.String("event_id", ev.ID),
			zap.String("event_type", ev.Type),
			zap.String("provider_ref", ev.Ref),
			zap.Error(errs.ErrPaymentNotFound),
		)
	case OutcomeApplied:
		s.log.Info("payment status changed",
			zap.String("payment_id", p.ID.String()),
			zap.String("from", string(from)),
			zap.String("to", string(target)),
			zap.Bool("order_updated", mirrored),
			zap.String("order_payment_status", string(orderFrom)),
		)
	default:
		s.log.Info("webhook event not applied",
			zap.String("event", ev.String()),
			zap.String("outcome", string(out)),
			zap.String("current", string(from)),
		)
	}
	return out, nil
}

// mirrorsOnOrder reports whether a payment moving to target may update the order's payment status.
// The order only follows legal forward moves. A superseded attempt may still mark it paid
// but never moves it backwards.
func mirrorsOnOrder(order, target model.PaymentStatus, current bool) bool {
	if !order.CanTransition(target) {
		return false
	}
	return current || target == model.PaymentPaid
}

func (s *PaymentServiceImpl) Status(ctx context.Context, orderID, userID uuid.UUID, isAdmin bool) (*PaymentStatusView, error) {
	o, err := s.store.Orders().GetByID(ctx, orderID)
	if errors.Is(err, errs.ErrNotFound) || (err == nil && !isAdmin && o.UserID != userID) {
		return nil, errs.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	v := &PaymentStatusView{OrderID: o.ID, OrderNumber: o.OrderNumber, PaymentStatus: o.PaymentStatus}
	p, err := s.store.Payments().LatestForOrder(ctx, o.ID)
	switch {
	case err == nil:
		v.Payment = p
	case !errors.Is(err, errs.ErrNotFound):
		return nil, err
	}
	return v, nil
}
