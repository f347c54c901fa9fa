package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/and161185/apinlero/internal/errs"
	"github.com/and161185/apinlero/internal/model"
	"github.com/and161185/apinlero/internal/notify"
	"github.com/and161185/apinlero/internal/repository"
	"github.com/and161185/apinlero/internal/repository/memory"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"
)

var testFees = DeliveryFees{Default: 499, FreeThreshold: 5000, ByRegion: map[string]int64{"london": 299}}

type orderEnv struct {
	st     *memory.Store
	carts  *CartServiceImpl
	orders *OrderServiceImpl
	notes  *recordingNotifier
}

func newOrderEnv(t *testing.T) *orderEnv {
	t.Helper()
	st := memory.New()
	notes := &recordingNotifier{}
	return &orderEnv{
		st:    st,
		carts: NewCartService(st),
		orders: NewOrderService(st, OrderConfig{Currency: "GBP", Fees: testFees, AdminEmail: "ops@apinlero.test"},
			notes, zaptest.NewLogger(t), nil),
		notes: notes,
	}
}

func (e *orderEnv) checkout(t *testing.T, u *model.User, addr *model.Address, method model.PaymentMethod) *model.Order {
	t.Helper()
	o, err := e.orders.Create(context.Background(), CreateOrderInput{UserID: u.ID, AddressID: addr.ID, PaymentMethod: method})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return o
}

func TestDeliveryFees(t *testing.T) {
	t.Parallel()
	tests := []struct {
		region   string
		subtotal int64
		want     int64
	}{
		{"London", 3000, 299},
		{" london ", 3000, 299},
		{"Lagos", 3000, 499},
		{"", 100, 499},
		{"London", 5000, 0},
		{"Nowhere", 9000, 0},
	}
	for _, tt := range tests {
		if got := testFees.For(tt.region, tt.subtotal); got != tt.want {
			t.Fatalf("For(%q, %d) = %d, want %d", tt.region, tt.subtotal, got, tt.want)
		}
	}
	if got := (DeliveryFees{Default: 300}).For("x", 1_000_000); got != 300 {
		t.Fatalf("zero threshold must never waive the fee, got %d", got)
	}
}

func TestNewOrderNumber(t *testing.T) {
	t.Parallel()
	re := regexp.MustCompile(`^APN-261014-[0-9A-HJKMNP-TV-Z]{8}$`)
	at := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		n, err := NewOrderNumber(at)
		if err != nil {
			t.Fatalf("NewOrderNumber: %v", err)
		}
		if !re.MatchString(n) {
			t.Fatalf("bad order number %q", n)
		}
		seen[n] = true
	}
	if len(seen) < 199 {
		t.Fatalf("suffixes collide too often: %d unique", len(seen))
	}
}

func TestOrder_Create(t *testing.T) {
	t.Parallel()
	e := newOrderEnv(t)
	ctx := context.Background()
	u := seedUser(t, e.st, "+447700900123")
	addr := seedAddress(t, e.st, u.ID, "London")
	yam := seedProduct(t, e.st, "Yam", 1500, 10, 1)

	if _, err := e.carts.AddItem(ctx, u.ID, yam.ID, 2); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	o := e.checkout(t, u, addr, model.PaymentCard)

	if len(o.Items) != 1 || o.Items[0].Quantity != 2 || o.Items[0].Total != 3000 || o.Items[0].UnitPrice != 1500 {
		t.Fatalf("bad items: %+v", o.Items)
	}
	if o.Subtotal != 3000 || o.DeliveryFee != 299 || o.Total != 3299 || !o.Consistent() {
		t.Fatalf("bad totals: subtotal=%d fee=%d total=%d", o.Subtotal, o.DeliveryFee, o.Total)
	}
	if o.Status != model.OrderPending || o.PaymentStatus != model.PaymentPending {
		t.Fatalf("bad statuses: %s/%s", o.Status, o.PaymentStatus)
	}
	if o.ID.Version() != uuid.V7 {
		t.Fatalf("order id version = %d, want time ordered", o.ID.Version())
	}
	if got := stockOf(t, e.st, yam.ID); got != 8 {
		t.Fatalf("stock = %d, want 8", got)
	}
	v, _ := e.carts.Get(ctx, u.ID)
	if len(v.Lines) != 0 {
		t.Fatalf("cart not cleared")
	}
	p, err := e.st.Payments().LatestForOrder(ctx, o.ID)
	if err != nil || p.Status != model.PaymentPending || p.Amount != o.Total || p.Currency != "GBP" {
		t.Fatalf("payment row: %+v %v", p, err)
	}
	tr, _ := e.orders.Tracking(ctx, o.ID, u.ID, false)
	if len(tr) != 1 || tr[0].Status != model.OrderPending {
		t.Fatalf("tracking: %+v", tr)
	}

	got := e.notes.templates()
	if len(got) != 2 || got[0] != notify.TemplateOrderPlaced || got[1] != notify.TemplateOrderPlacedAdmin {
		t.Fatalf("notifications: %v", got)
	}
	if e.notes.msgs[0].Channel != notify.ChannelWhatsApp || e.notes.msgs[0].To != u.Phone {
		t.Fatalf("customer notification: %+v", e.notes.msgs[0])
	}

	// a later price change does not touch the snapshot
	yam.Price = 9999
	if err := e.st.Products().Update(ctx, yam); err != nil {
		t.Fatalf("update: %v", err)
	}
	again, _ := e.orders.Get(ctx, o.ID, u.ID, false)
	if again.Items[0].UnitPrice != 1500 || again.Total != 3299 {
		t.Fatalf("order snapshot changed: %+v", again)
	}
}

func TestOrder_Create_Failures(t *testing.T) {
	t.Parallel()
	e := newOrderEnv(t)
	ctx := context.Background()
	u := seedUser(t, e.st, "")
	other := seedUser(t, e.st, "")
	addr := seedAddress(t, e.st, u.ID, "Lagos")
	foreign := seedAddress(t, e.st, other.ID, "Lagos")
	yam := seedProduct(t, e.st, "Yam", 1500, 2, 1)

	in := CreateOrderInput{UserID: u.ID, AddressID: addr.ID, PaymentMethod: model.PaymentCard}
	if _, err := e.orders.Create(ctx, in); !errors.Is(err, errs.ErrCartEmpty) {
		t.Fatalf("want ErrCartEmpty, got %v", err)
	}

	if _, err := e.carts.AddItem(ctx, u.ID, yam.ID, 3); !errors.Is(err, errs.ErrInsufficientStock) {
		t.Fatalf("want ErrInsufficientStock, got %v", err)
	}
	if _, err := e.carts.AddItem(ctx, u.ID, yam.ID, 2); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	bad := in
	bad.AddressID = foreign.ID
	if _, err := e.orders.Create(ctx, bad); !errors.Is(err, errs.ErrInvalidAddress) {
		t.Fatalf("foreign address: want ErrInvalidAddress, got %v", err)
	}
	bad.AddressID = uuid.Must(uuid.NewV4())
	if _, err := e.orders.Create(ctx, bad); !errors.Is(err, errs.ErrInvalidAddress) {
		t.Fatalf("unknown address: want ErrInvalidAddress, got %v", err)
	}
	bad = in
	bad.PaymentMethod = "BITCOIN"
	if _, err := e.orders.Create(ctx, bad); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}

	// total 3000 + 499 fee; the client claims 30.00
	tampered := int64(3000)
	bad = in
	bad.ExpectedTotal = &tampered
	if _, err := e.orders.Create(ctx, bad); !errors.Is(err, errs.ErrPriceMismatch) {
		t.Fatalf("want ErrPriceMismatch, got %v", err)
	}

	// stock drifts below the cart quantity
	if _, err := e.st.Products().AdjustStock(ctx, yam.ID, -1); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	_, err := e.orders.Create(ctx, in)
	if !errors.Is(err, errs.ErrCartInvalid) {
		t.Fatalf("want ErrCartInvalid, got %v", err)
	}
	de, _ := errs.As(err)
	if v, ok := de.Details.([]string); !ok || len(v) != 1 || v[0] != "Yam: only 1 left in stock" {
		t.Fatalf("details: %#v", de.Details)
	}

	orders, total, _ := e.orders.List(ctx, model.OrderFilter{})
	if total != 0 || len(orders) != 0 {
		t.Fatalf("no order may be created, got %d", total)
	}
	if got := stockOf(t, e.st, yam.ID); got != 1 {
		t.Fatalf("stock = %d, want 1", got)
	}
	if len(e.notes.templates()) != 0 {
		t.Fatalf("failed orders must not notify")
	}
}

func TestOrder_Create_WithinTolerance(t *testing.T) {
	t.Parallel()
	e := newOrderEnv(t)
	ctx := context.Background()
	u := seedUser(t, e.st, "")
	addr := seedAddress(t, e.st, u.ID, "London")
	yam := seedProduct(t, e.st, "Yam", 1500, 10, 1)
	if _, err := e.carts.AddItem(ctx, u.ID, yam.ID, 2); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	expected := int64(3298) // one penny off
	if _, err := e.orders.Create(ctx, CreateOrderInput{UserID: u.ID, AddressID: addr.ID, PaymentMethod: model.PaymentCard, ExpectedTotal: &expected}); err != nil {
		t.Fatalf("Create within tolerance: %v", err)
	}
}

func TestOrder_Create_LastUnitRace(t *testing.T) {
	t.Parallel()
	e := newOrderEnv(t)
	ctx := context.Background()
	yam := seedProduct(t, e.st, "Yam", 1500, 1, 1)

	const buyers = 5
	var inputs []CreateOrderInput
	for i := 0; i < buyers; i++ {
		u := seedUser(t, e.st, "")
		addr := seedAddress(t, e.st, u.ID, "London")
		if _, err := e.carts.AddItem(ctx, u.ID, yam.ID, 1); err != nil {
			t.Fatalf("AddItem: %v", err)
		}
		inputs = append(inputs, CreateOrderInput{UserID: u.ID, AddressID: addr.ID, PaymentMethod: model.PaymentCashOnDelivery})
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for _, in := range inputs {
		wg.Add(1)
		go func(in CreateOrderInput) {
			defer wg.Done()
			if _, err := e.orders.Create(ctx, in); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(in)
	}
	wg.Wait()
	if ok != 1 {
		t.Fatalf("want exactly one successful order, got %d", ok)
	}
	if got := stockOf(t, e.st, yam.ID); got != 0 {
		t.Fatalf("stock = %d, want 0", got)
	}
}

// collidingStore makes the first n order inserts report a duplicate order number.
type collidingStore struct {
	repository.Store
	left *int
}

func (c collidingStore) InTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return c.Store.InTx(ctx, func(tx repository.Store) error { return fn(collidingStore{tx, c.left}) })
}

func (c collidingStore) Orders() repository.OrderRepository {
	return collidingOrders{c.Store.Orders(), c.left}
}

type collidingOrders struct {
	repository.OrderRepository
	left *int
}

func (o collidingOrders) Create(ctx context.Context, ord *model.Order) error {
	if *o.left > 0 {
		*o.left--
		return errs.ErrAlreadyExists
	}
	return o.OrderRepository.Create(ctx, ord)
}

func TestOrder_Create_RetriesOrderNumber(t *testing.T) {
	t.Parallel()
	for _, tt := range []struct {
		collisions int
		wantErr    bool
	}{{2, false}, {3, true}} {
		st := memory.New()
		left := tt.collisions
		orders := NewOrderService(collidingStore{st, &left}, OrderConfig{Currency: "GBP", Fees: testFees}, &recordingNotifier{}, zaptest.NewLogger(t), nil)
		ctx := context.Background()
		u := seedUser(t, st, "")
		addr := seedAddress(t, st, u.ID, "London")
		yam := seedProduct(t, st, "Yam", 1500, 10, 1)
		if _, err := NewCartService(st).AddItem(ctx, u.ID, yam.ID, 2); err != nil {
			t.Fatalf("AddItem: %v", err)
		}

		_, err := orders.Create(ctx, CreateOrderInput{UserID: u.ID, AddressID: addr.ID, PaymentMethod: model.PaymentCard})
		if (err != nil) != tt.wantErr {
			t.Fatalf("collisions=%d: err=%v", tt.collisions, err)
		}
		want := 8
		if tt.wantErr {
			want = 10
		}
		if got := stockOf(t, st, yam.ID); got != want {
			t.Fatalf("collisions=%d: stock=%d want %d", tt.collisions, got, want)
		}
	}
}

func TestOrder_Cancel_RestoresStock(t *testing.T) {
	t.Parallel()
	e := newOrderEnv(t)
	ctx := context.Background()
	u := seedUser(t, e.st, "")
	other := seedUser(t, e.st, "")
	addr := seedAddress(t, e.st, u.ID, "London")
	yam := seedProduct(t, e.st, "Yam", 1500, 10, 1)
	ogi := seedProduct(t, e.st, "Ogi", 350, 4, 1)

	if _, err := e.carts.AddItem(ctx, u.ID, yam.ID, 3); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if _, err := e.carts.AddItem(ctx, u.ID, ogi.ID, 4); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	o := e.checkout(t, u, addr, model.PaymentCashOnDelivery)
	if stockOf(t, e.st, yam.ID) != 7 || stockOf(t, e.st, ogi.ID) != 0 {
		t.Fatalf("stock not decremented")
	}

	if _, err := e.orders.Cancel(ctx, o.ID, other.ID); !errors.Is(err, errs.ErrOrderNotFound) {
		t.Fatalf("non-owner: want ErrOrderNotFound, got %v", err)
	}
	c, err := e.orders.Cancel(ctx, o.ID, u.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if c.Status != model.OrderCancelled || c.CancelledAt == nil {
		t.Fatalf("bad cancelled order: %+v", c)
	}
	if stockOf(t, e.st, yam.ID) != 10 || stockOf(t, e.st, ogi.ID) != 4 {
		t.Fatalf("stock not restored: yam=%d ogi=%d", stockOf(t, e.st, yam.ID), stockOf(t, e.st, ogi.ID))
	}
	if _, err := e.orders.Cancel(ctx, o.ID, u.ID); !errors.Is(err, errs.ErrCannotCancel) {
		t.Fatalf("second cancel: want ErrCannotCancel, got %v", err)
	}
	if stockOf(t, e.st, yam.ID) != 10 {
		t.Fatalf("second cancel must not restore again")
	}
	tr, _ := e.orders.Tracking(ctx, o.ID, u.ID, false)
	if len(tr) != 2 || tr[0].Status != model.OrderCancelled || tr[1].Status != model.OrderPending {
		t.Fatalf("tracking must be newest first: %+v", tr)
	}
}

func TestOrder_Cancel_OnlyWhilePending(t *testing.T) {
	t.Parallel()
	e := newOrderEnv(t)
	ctx := context.Background()
	u := seedUser(t, e.st, "")
	addr := seedAddress(t, e.st, u.ID, "London")
	yam := seedProduct(t, e.st, "Yam", 1500, 10, 1)
	if _, err := e.carts.AddItem(ctx, u.ID, yam.ID, 1); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	o := e.checkout(t, u, addr, model.PaymentCard)
	if _, err := e.orders.UpdateStatus(ctx, o.ID, UpdateStatusInput{Status: model.OrderConfirmed}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := e.orders.Cancel(ctx, o.ID, u.ID); !errors.Is(err, errs.ErrCannotCancel) {
		t.Fatalf("want ErrCannotCancel, got %v", err)
	}
}

func TestOrder_UpdateStatus(t *testing.T) {
	t.Parallel()
	e := newOrderEnv(t)
	ctx := context.Background()
	u := seedUser(t, e.st, "")
	addr := seedAddress(t, e.st, u.ID, "London")
	yam := seedProduct(t, e.st, "Yam", 1500, 10, 1)
	if _, err := e.carts.AddItem(ctx, u.ID, yam.ID, 2); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	o := e.checkout(t, u, addr, model.PaymentCard)

	// admins may skip CONFIRMED and PROCESSING
	if _, err := e.orders.UpdateStatus(ctx, o.ID, UpdateStatusInput{Status: model.OrderShipped, Location: "Depot 4"}); err != nil {
		t.Fatalf("ship: %v", err)
	}
	if _, err := e.orders.UpdateStatus(ctx, o.ID, UpdateStatusInput{Status: model.OrderConfirmed}); !errors.Is(err, errs.ErrInvalidTransition) {
		t.Fatalf("backward: want ErrInvalidTransition, got %v", err)
	}
	if _, err := e.orders.UpdateStatus(ctx, o.ID, UpdateStatusInput{Status: "LOST"}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("unknown: want ErrValidation, got %v", err)
	}
	d, err := e.orders.UpdateStatus(ctx, o.ID, UpdateStatusInput{Status: model.OrderDelivered})
	if err != nil || d.DeliveredAt == nil {
		t.Fatalf("deliver: %+v %v", d, err)
	}
	if _, err := e.orders.UpdateStatus(ctx, o.ID, UpdateStatusInput{Status: model.OrderCancelled}); !errors.Is(err, errs.ErrInvalidTransition) {
		t.Fatalf("terminal: want ErrInvalidTransition, got %v", err)
	}
	if _, err := e.orders.UpdateStatus(ctx, uuid.Must(uuid.NewV4()), UpdateStatusInput{Status: model.OrderConfirmed}); !errors.Is(err, errs.ErrOrderNotFound) {
		t.Fatalf("want ErrOrderNotFound, got %v", err)
	}

	tr, _ := e.orders.Tracking(ctx, o.ID, u.ID, false)
	if len(tr) != 3 || tr[1].Location != "Depot 4" {
		t.Fatalf("tracking: %+v", tr)
	}
	for i, st := range []model.OrderStatus{model.OrderDelivered, model.OrderShipped, model.OrderPending} {
		if tr[i].Status != st {
			t.Fatalf("tracking[%d] = %s, want %s", i, tr[i].Status, st)
		}
	}
	got := e.notes.templates()
	want := []notify.Template{notify.TemplateOrderPlaced, notify.TemplateOrderPlacedAdmin, notify.TemplateOrderShipped, notify.TemplateOrderDelivered}
	if len(got) != len(want) {
		t.Fatalf("notifications: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("notifications: %v", got)
		}
	}
}

func TestOrder_AdminCancel_RestoresStock(t *testing.T) {
	t.Parallel()
	e := newOrderEnv(t)
	ctx := context.Background()
	u := seedUser(t, e.st, "")
	addr := seedAddress(t, e.st, u.ID, "London")
	yam := seedProduct(t, e.st, "Yam", 1500, 10, 1)
	if _, err := e.carts.AddItem(ctx, u.ID, yam.ID, 4); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	o := e.checkout(t, u, addr, model.PaymentCard)
	if _, err := e.orders.UpdateStatus(ctx, o.ID, UpdateStatusInput{Status: model.OrderProcessing}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if _, err := e.orders.UpdateStatus(ctx, o.ID, UpdateStatusInput{Status: model.OrderCancelled, Description: "Out of delivery area"}); err != nil {
		t.Fatalf("admin cancel: %v", err)
	}
	if got := stockOf(t, e.st, yam.ID); got != 10 {
		t.Fatalf("stock = %d, want 10", got)
	}
	if last := e.notes.templates(); last[len(last)-1] != notify.TemplateOrderCancelled {
		t.Fatalf("want cancelled notification, got %v", last)
	}
	var audited bool
	for _, a := range e.st.AuditLog() {
		if a.Action == ActionOrderStatus && a.ResourceID == o.ID.String() {
			audited = true
		}
	}
	if !audited {
		t.Fatalf("status change not audited")
	}
}

func TestOrder_GetAndList(t *testing.T) {
	t.Parallel()
	e := newOrderEnv(t)
	ctx := context.Background()
	u := seedUser(t, e.st, "")
	other := seedUser(t, e.st, "")
	addr := seedAddress(t, e.st, u.ID, "London")
	yam := seedProduct(t, e.st, "Yam", 1500, 100, 1)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		if _, err := e.carts.AddItem(ctx, u.ID, yam.ID, 1); err != nil {
			t.Fatalf("AddItem: %v", err)
		}
		ids = append(ids, e.checkout(t, u, addr, model.PaymentCard).ID)
	}
	if _, err := e.orders.Get(ctx, ids[0], other.ID, false); !errors.Is(err, errs.ErrOrderNotFound) {
		t.Fatalf("non-owner: want ErrOrderNotFound, got %v", err)
	}
	if _, err := e.orders.Get(ctx, ids[0], other.ID, true); err != nil {
		t.Fatalf("admin: %v", err)
	}
	if _, err := e.orders.Tracking(ctx, ids[0], other.ID, false); !errors.Is(err, errs.ErrOrderNotFound) {
		t.Fatalf("tracking non-owner: want ErrOrderNotFound, got %v", err)
	}

	page, total, err := e.orders.List(ctx, model.OrderFilter{UserID: &u.ID, Limit: 2})
	if err != nil || total != 3 || len(page) != 2 {
		t.Fatalf("List: len=%d total=%d err=%v", len(page), total, err)
	}
	none, total, _ := e.orders.List(ctx, model.OrderFilter{UserID: &other.ID})
	if total != 0 || len(none) != 0 {
		t.Fatalf("scoped listing leaked %d orders", total)
	}
	if _, _, err := e.orders.List(ctx, model.OrderFilter{Status: "NOPE"}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
}

func TestOrder_NotificationQueueFull(t *testing.T) {
	t.Parallel()
	e := newOrderEnv(t)
	e.notes.full = true
	ctx := context.Background()
	u := seedUser(t, e.st, "")
	addr := seedAddress(t, e.st, u.ID, "London")
	yam := seedProduct(t, e.st, "Yam", 1500, 10, 1)
	if _, err := e.carts.AddItem(ctx, u.ID, yam.ID, 1); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if _, err := e.orders.Create(ctx, CreateOrderInput{UserID: u.ID, AddressID: addr.ID, PaymentMethod: model.PaymentCard}); err != nil {
		t.Fatalf("a dropped notification must not fail the order: %v", err)
	}
}
