package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/and161185/apinlero/internal/errs"
	"github.com/and161185/apinlero/internal/model"
	"github.com/and161185/apinlero/internal/payment"
	"go.uber.org/zap/zaptest"
)

const webhookSecret = "whsec_test_secret"

type fakeGateway struct {
	calls int
	err   error
}

var _ payment.Gateway = (*fakeGateway)(nil)

func (g *fakeGateway) CreateIntent(ctx context.Context, req payment.IntentRequest) (payment.Intent, error) {
	g.calls++
	if g.err != nil {
		return payment.Intent{}, g.err
	}
	return payment.NoopGateway{}.CreateIntent(ctx, req)
}

type paymentEnv struct {
	*orderEnv
	gw       *fakeGateway
	payments *PaymentServiceImpl
}

func newPaymentEnv(t *testing.T) *paymentEnv {
	t.Helper()
	e := newOrderEnv(t)
	gw := &fakeGateway{}
	return &paymentEnv{
		orderEnv: e,
		gw:       gw,
		payments: NewPaymentService(e.st, gw, PaymentConfig{Currency: "GBP", WebhookSecret: webhookSecret, WebhookTolerance: 5 * time.Minute},
			zaptest.NewLogger(t), nil),
	}
}

// placeOrder checks out 2 x 15.00 to London.
func (e *paymentEnv) placeOrder(t *testing.T, method model.PaymentMethod) (*model.User, *model.Order) {
	t.Helper()
	u := seedUser(t, e.st, "")
	addr := seedAddress(t, e.st, u.ID, "London")
	yam := seedProduct(t, e.st, "Yam", 1500, 10, 1)
	if _, err := e.carts.AddItem(context.Background(), u.ID, yam.ID, 2); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	return u, e.checkout(t, u, addr, method)
}

func event(typ, ref string) []byte {
	obj := fmt.Sprintf(`{"id":%q}`, ref)
	if typ == payment.EventRefunded {
		obj = fmt.Sprintf(`{"id":"ch_1","payment_intent":%q}`, ref)
	}
	if typ == payment.EventFailed {
		obj = fmt.Sprintf(`{"id":%q,"last_payment_error":{"message":"card declined"}}`, ref)
	}
	return []byte(fmt.Sprintf(`{"id":"evt_%s","type":%q,"data":{"object":%s}}`, typ, typ, obj))
}

func (e *paymentEnv) deliver(t *testing.T, payload []byte) Outcome {
	t.Helper()
	out, err := e.payments.HandleWebhook(context.Background(), payload, payment.Sign(payload, webhookSecret, time.Now()))
	if err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	return out
}

func (e *paymentEnv) state(t *testing.T, o *model.Order) (*model.Order, *model.Payment) {
	t.Helper()
	ctx := context.Background()
	got, err := e.st.Orders().GetByID(ctx, o.ID)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	p, err := e.st.Payments().LatestForOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	return got, p
}

func TestPayment_Initialize(t *testing.T) {
	t.Parallel()
	e := newPaymentEnv(t)
	ctx := context.Background()
	u, o := e.placeOrder(t, model.PaymentCard)

	res, err := e.payments.Initialize(ctx, InitInput{OrderID: o.ID, UserID: u.ID})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if res.ProviderRef == "" || res.ClientSecret == "" || res.Amount != o.Total || res.Status != model.PaymentPending {
		t.Fatalf("bad result: %+v", res)
	}
	_, p := e.state(t, o)
	if p.ID != res.PaymentID || p.ProviderRef != res.ProviderRef {
		t.Fatalf("provider ref not persisted before returning: %+v", p)
	}

	again, err := e.payments.Initialize(ctx, InitInput{OrderID: o.ID, UserID: u.ID})
	if err != nil || again.PaymentID != res.PaymentID || again.ProviderRef != res.ProviderRef {
		t.Fatalf("retry must reuse the pending payment: %+v %v", again, err)
	}
}

func TestPayment_Initialize_Rejects(t *testing.T) {
	t.Parallel()
	e := newPaymentEnv(t)
	ctx := context.Background()
	u, o := e.placeOrder(t, model.PaymentCard)
	other := seedUser(t, e.st, "")

	if _, err := e.payments.Initialize(ctx, InitInput{OrderID: o.ID, UserID: other.ID}); !errors.Is(err, errs.ErrOrderNotFound) {
		t.Fatalf("non-owner: want ErrOrderNotFound, got %v", err)
	}

	tampered := o.Total - 500
	if _, err := e.payments.Initialize(ctx, InitInput{OrderID: o.ID, UserID: u.ID, ClientTotal: &tampered}); !errors.Is(err, errs.ErrPriceMismatch) {
		t.Fatalf("want ErrPriceMismatch, got %v", err)
	}
	if e.gw.calls != 0 {
		t.Fatalf("gateway must not be called on mismatch")
	}
	if _, p := e.state(t, o); p.ProviderRef != "" {
		t.Fatalf("no intent may be recorded on mismatch: %+v", p)
	}

	cu, cod := e.placeOrder(t, model.PaymentCashOnDelivery)
	if _, err := e.payments.Initialize(ctx, InitInput{OrderID: cod.ID, UserID: cu.ID}); !errors.Is(err, errs.ErrUnsupportedPayment) {
		t.Fatalf("want ErrUnsupportedPayment, got %v", err)
	}

	e.gw.err = errors.New("connection reset")
	if _, err := e.payments.Initialize(ctx, InitInput{OrderID: o.ID, UserID: u.ID}); !errors.Is(err, errs.ErrGateway) {
		t.Fatalf("want ErrGateway, got %v", err)
	}
}

func TestPayment_Webhook_SucceededIdempotent(t *testing.T) {
	t.Parallel()
	e := newPaymentEnv(t)
	ctx := context.Background()
	u, o := e.placeOrder(t, model.PaymentCard)
	res, err := e.payments.Initialize(ctx, InitInput{OrderID: o.ID, UserID: u.ID})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	payload := event(payment.EventSucceeded, res.ProviderRef)
	if out := e.deliver(t, payload); out != OutcomeApplied {
		t.Fatalf("first delivery: %s", out)
	}
	order, p := e.state(t, o)
	if p.Status != model.PaymentPaid || order.PaymentStatus != model.PaymentPaid || p.PaidAt == nil {
		t.Fatalf("not paid: payment=%s order=%s", p.Status, order.PaymentStatus)
	}
	if string(p.ProviderPayload) != string(payload) {
		t.Fatalf("raw payload not kept")
	}
	if order.Status != model.OrderPending {
		t.Fatalf("payment must not change order status, got %s", order.Status)
	}
	paidAt := *p.PaidAt

	if out := e.deliver(t, payload); out != OutcomeDuplicate {
		t.Fatalf("replay: %s", out)
	}
	// stale redelivery of an earlier event
	if out := e.deliver(t, event(payment.EventProcessing, res.ProviderRef)); out != OutcomeStale {
		t.Fatalf("stale processing: %s", out)
	}
	order, p = e.state(t, o)
	if p.Status != model.PaymentPaid || order.PaymentStatus != model.PaymentPaid || !p.PaidAt.Equal(paidAt) {
		t.Fatalf("state regressed: payment=%s order=%s", p.Status, order.PaymentStatus)
	}

	if _, err := e.payments.Initialize(ctx, InitInput{OrderID: o.ID, UserID: u.ID}); !errors.Is(err, errs.ErrAlreadyPaid) {
		t.Fatalf("want ErrAlreadyPaid, got %v", err)
	}

	if out := e.deliver(t, event(payment.EventRefunded, res.ProviderRef)); out != OutcomeApplied {
		t.Fatalf("refund: %s", out)
	}
	if order, p = e.state(t, o); p.Status != model.PaymentRefunded || order.PaymentStatus != model.PaymentRefunded {
		t.Fatalf("not refunded: payment=%s order=%s", p.Status, order.PaymentStatus)
	}
}

func TestPayment_Webhook_FailedThenRetry(t *testing.T) {
	t.Parallel()
	e := newPaymentEnv(t)
	ctx := context.Background()
	u, o := e.placeOrder(t, model.PaymentCard)
	first, err := e.payments.Initialize(ctx, InitInput{OrderID: o.ID, UserID: u.ID})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if out := e.deliver(t, event(payment.EventFailed, first.ProviderRef)); out != OutcomeApplied {
		t.Fatalf("failed event: %s", out)
	}
	order, p := e.state(t, o)
	if p.Status != model.PaymentFailed || order.PaymentStatus != model.PaymentFailed || p.FailureReason != "card declined" {
		t.Fatalf("not failed: %+v order=%s", p, order.PaymentStatus)
	}
	if order.Status != model.OrderPending {
		t.Fatalf("failed payment must not cancel the order, got %s", order.Status)
	}

	second, err := e.payments.Initialize(ctx, InitInput{OrderID: o.ID, UserID: u.ID})
	if err != nil {
		t.Fatalf("retry Initialize: %v", err)
	}
	if second.PaymentID == first.PaymentID || second.ProviderRef == first.ProviderRef {
		t.Fatalf("a failed attempt must not be reused")
	}
	if out := e.deliver(t, event(payment.EventSucceeded, second.ProviderRef)); out != OutcomeApplied {
		t.Fatalf("succeeded: %s", out)
	}
	if order, _ = e.state(t, o); order.PaymentStatus != model.PaymentPaid {
		t.Fatalf("order payment status = %s", order.PaymentStatus)
	}
}

func TestPayment_Webhook_SupersededAttemptKeepsOrderPaid(t *testing.T) {
	t.Parallel()
	e := newPaymentEnv(t)
	ctx := context.Background()
	u, o := e.placeOrder(t, model.PaymentCard)

	first, err := e.payments.Initialize(ctx, InitInput{OrderID: o.ID, UserID: u.ID})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	e.deliver(t, event(payment.EventFailed, first.ProviderRef))
	second, err := e.payments.Initialize(ctx, InitInput{OrderID: o.ID, UserID: u.ID})
	if err != nil {
		t.Fatalf("retry Initialize: %v", err)
	}
	e.deliver(t, event(payment.EventSucceeded, second.ProviderRef))

	// A late processing event for the abandoned attempt arrives after the retry was paid.
	e.deliver(t, event(payment.EventProcessing, first.ProviderRef))

	order, latest := e.state(t, o)
	if order.PaymentStatus != model.PaymentPaid {
		t.Fatalf("order payment status regressed to %s", order.PaymentStatus)
	}
	if latest.ID != second.PaymentID || latest.Status != model.PaymentPaid {
		t.Fatalf("latest payment = %s %s", latest.ID, latest.Status)
	}
	old, err := e.st.Payments().GetByProviderRefForUpdate(ctx, first.ProviderRef)
	if err != nil {
		t.Fatalf("load first payment: %v", err)
	}
	if old.Status != model.PaymentProcessing {
		t.Fatalf("superseded payment row = %s", old.Status)
	}
}

func TestPayment_Webhook_SupersededAttemptCanStillPay(t *testing.T) {
	t.Parallel()
	e := newPaymentEnv(t)
	ctx := context.Background()
	u, o := e.placeOrder(t, model.PaymentCard)

	first, err := e.payments.Initialize(ctx, InitInput{OrderID: o.ID, UserID: u.ID})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	e.deliver(t, event(payment.EventFailed, first.ProviderRef))
	if _, err := e.payments.Initialize(ctx, InitInput{OrderID: o.ID, UserID: u.ID}); err != nil {
		t.Fatalf("retry Initialize: %v", err)
	}

	// A non-paid event for the old attempt leaves the order alone.
	e.deliver(t, event(payment.EventProcessing, first.ProviderRef))
	if order, _ := e.state(t, o); order.PaymentStatus != model.PaymentFailed {
		t.Fatalf("order followed a superseded attempt to %s", order.PaymentStatus)
	}

	e.deliver(t, event(payment.EventSucceeded, first.ProviderRef))
	if order, _ := e.state(t, o); order.PaymentStatus != model.PaymentPaid {
		t.Fatalf("order payment status = %s", order.PaymentStatus)
	}
	if _, err := e.payments.Initialize(ctx, InitInput{OrderID: o.ID, UserID: u.ID}); !errors.Is(err, errs.ErrAlreadyPaid) {
		t.Fatalf("want ErrAlreadyPaid, got %v", err)
	}
}

func TestPayment_Webhook_Rejections(t *testing.T) {
	t.Parallel()
	e := newPaymentEnv(t)
	ctx := context.Background()
	payload := event(payment.EventSucceeded, "pi_unknown")

	if _, err := e.payments.HandleWebhook(ctx, payload, ""); !errors.Is(err, errs.ErrInvalidSignature) {
		t.Fatalf("missing signature: %v", err)
	}
	if _, err := e.payments.HandleWebhook(ctx, payload, payment.Sign(payload, "wrong", time.Now())); !errors.Is(err, errs.ErrInvalidSignature) {
		t.Fatalf("wrong secret: %v", err)
	}
	old := payment.Sign(payload, webhookSecret, time.Now().Add(-time.Hour))
	if _, err := e.payments.HandleWebhook(ctx, payload, old); !errors.Is(err, errs.ErrInvalidSignature) {
		t.Fatalf("stale timestamp: %v", err)
	}
	// signature over different bytes
	if _, err := e.payments.HandleWebhook(ctx, append(payload, ' '), payment.Sign(payload, webhookSecret, time.Now())); !errors.Is(err, errs.ErrInvalidSignature) {
		t.Fatalf("tampered body: %v", err)
	}

	if out := e.deliver(t, payload); out != OutcomeNotFound {
		t.Fatalf("unknown ref: %s", out)
	}
	if out := e.deliver(t, []byte(`{"id":"evt_x","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)); out != OutcomeIgnored {
		t.Fatalf("unhandled type: %s", out)
	}
	garbage := []byte(`not json`)
	if _, err := e.payments.HandleWebhook(ctx, garbage, payment.Sign(garbage, webhookSecret, time.Now())); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("malformed: %v", err)
	}
}

func TestPayment_Status(t *testing.T) {
	t.Parallel()
	e := newPaymentEnv(t)
	ctx := context.Background()
	u, o := e.placeOrder(t, model.PaymentCard)
	other := seedUser(t, e.st, "")

	v, err := e.payments.Status(ctx, o.ID, u.ID, false)
	if err != nil || v.PaymentStatus != model.PaymentPending || v.Payment == nil || v.OrderNumber != o.OrderNumber {
		t.Fatalf("Status: %+v %v", v, err)
	}
	if _, err := e.payments.Status(ctx, o.ID, other.ID, false); !errors.Is(err, errs.ErrOrderNotFound) {
		t.Fatalf("non-owner: want ErrOrderNotFound, got %v", err)
	}
	if _, err := e.payments.Status(ctx, o.ID, other.ID, true); err != nil {
		t.Fatalf("admin: %v", err)
	}
}
