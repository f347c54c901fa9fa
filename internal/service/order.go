package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/and161185/apinlero/internal/crypto"
	"github.com/and161185/apinlero/internal/errs"
	"github.com/and161185/apinlero/internal/metrics"
	"github.com/and161185/apinlero/internal/model"
	"github.com/and161185/apinlero/internal/money"
	"github.com/and161185/apinlero/internal/notify"
	"github.com/and161185/apinlero/internal/repository"
	"github.com/and161185/apinlero/internal/sanitize"
	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	orderNumberAttempts = 3
	priceTolerance      = 1 // minor units
	crockford           = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
)

// errNumberTaken marks an order number collision; the whole transaction is retried.
var errNumberTaken = errors.New("order number taken")

// OrderService places and manages orders.
type OrderService interface {
	Create(ctx context.Context, in CreateOrderInput) (*model.Order, error)
	Cancel(ctx context.Context, orderID, userID uuid.UUID) (*model.Order, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, in UpdateStatusInput) (*model.Order, error)
	Get(ctx context.Context, orderID, userID uuid.UUID, isAdmin bool) (*model.Order, error)
	List(ctx context.Context, f model.OrderFilter) ([]model.Order, int, error)
	Tracking(ctx context.Context, orderID, userID uuid.UUID, isAdmin bool) ([]model.TrackingEntry, error)
}

// Notifications accepts outbound messages without blocking.
type Notifications interface {
	Enqueue(m notify.Message) bool
}

type CreateOrderInput struct {
	UserID        uuid.UUID
	AddressID     uuid.UUID
	PaymentMethod model.PaymentMethod
	Notes         string
	ExpectedTotal *int64 // client-computed total in minor units, required on the REST surface
}

type UpdateStatusInput struct {
	Status      model.OrderStatus
	Description string
	Location    string
}

// DeliveryFees is the region fee table, amounts in minor units.
type DeliveryFees struct {
	Default       int64
	FreeThreshold int64 // 0 disables free delivery
	ByRegion      map[string]int64
}

// For returns the fee for a region. Unknown regions pay the default fee.
func (f DeliveryFees) For(region string, subtotal int64) int64 {
	if f.FreeThreshold > 0 && subtotal >= f.FreeThreshold {
		return 0
	}
	if fee, ok := f.ByRegion[strings.ToLower(strings.TrimSpace(region))]; ok {
		return fee
	}
	return f.Default
}

type OrderConfig struct {
	Currency   string
	Fees       DeliveryFees
	AdminPhone string
	AdminEmail string
}

type OrderServiceImpl struct {
	store   repository.Store
	cfg     OrderConfig
	notes   Notifications
	audit   auditor
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

var _ OrderService = (*OrderServiceImpl)(nil)

func NewOrderService(store repository.Store, cfg OrderConfig, notes Notifications, log *zap.Logger, m *metrics.Metrics) *OrderServiceImpl {
	return &OrderServiceImpl{
		store:   store,
		cfg:     cfg,
		notes:   notes,
		audit:   auditor{repo: store.Audit(), log: log, metrics: m},
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

// NewOrderNumber returns APN-YYMMDD-XXXXXXXX with a random Crockford base32 suffix.
func NewOrderNumber(now time.Time) (string, error) {
	b, err := crypto.RandBytes(8)
	if err != nil {
		return "", err
	}
	suffix := make([]byte, len(b))
	for i, v := range b {
		suffix[i] = crockford[v&31]
	}
	return fmt.Sprintf("APN-%s-%s", now.UTC().Format("060102"), suffix), nil
}

// Create turns the user's cart into an order. Everything from validation to clearing the cart
// happens in one transaction; notifications are queued only after it commits.
func (s *OrderServiceImpl) Create(ctx context.Context, in CreateOrderInput) (_ *model.Order, err error) {
	ctx, span := tracer.Start(ctx, "order.create")
	defer func() { endSpan(span, err) }()

	if !in.PaymentMethod.Valid() {
		return nil, errs.ErrValidation.WithDetails([]errs.FieldError{{Field: "paymentMethod", Message: "unknown payment method"}})
	}

	var (
		o    *model.Order
		user *model.User
	)
	for attempt := 1; ; attempt++ {
		o, user, err = s.create(ctx, in)
		if !errors.Is(err, errNumberTaken) {
			break
		}
		if attempt == orderNumberAttempts {
			return nil, fmt.Errorf("generate order number: %w", err)
		}
		s.log.Warn("order number collision, retrying", zap.Int("attempt", attempt))
	}
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("order.number", o.OrderNumber), attribute.Int64("order.total", o.Total))
	s.metrics.OrderCreated()
	s.log.Info("order placed",
		zap.String("order_id", o.ID.String()),
		zap.String("order_number", o.OrderNumber),
		zap.Int64("total", o.Total),
	)
	s.notifyPlaced(o, user)
	return o, nil
}

func (s *OrderServiceImpl) create(ctx context.Context, in CreateOrderInput) (*model.Order, *model.User, error) {
	var (
		o    *model.Order
		user *model.User
	)
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		cart, err := tx.Carts().GetOrCreate(ctx, in.UserID)
		if err != nil {
			return err
		}
		if len(cart.Items) == 0 {
			return errs.ErrCartEmpty
		}
		products, err := tx.Products().GetMany(ctx, cart.ProductIDs(), true)
		if err != nil {
			return err
		}
		if v := validateLines(cart, products); len(v) > 0 {
			return errs.ErrCartInvalid.WithDetails(v)
		}
		addr, err := tx.Addresses().GetByID(ctx, in.AddressID)
		if errors.Is(err, errs.ErrNotFound) || (err == nil && addr.UserID != in.UserID) {
			return errs.ErrInvalidAddress
		}
		if err != nil {
			return err
		}
		if user, err = tx.Users().GetByID(ctx, in.UserID); err != nil {
			return err
		}

		now := s.now()
		number, err := NewOrderNumber(now)
		if err != nil {
			return err
		}
		o = &model.Order{
			ID:            uuid.Must(uuid.NewV7()),
			OrderNumber:   number,
			UserID:        in.UserID,
			AddressID:     addr.ID,
			Status:        model.OrderPending,
			PaymentStatus: model.PaymentPending,
			PaymentMethod: in.PaymentMethod,
			Notes:         sanitize.FreeText(in.Notes),
		}
		for _, it := range cart.Items {
			p := products[it.ProductID]
			line := p.Price * int64(it.Quantity)
			o.Items = append(o.Items, model.OrderItem{
				ID:        uuid.Must(uuid.NewV4()),
				OrderID:   o.ID,
				ProductID: p.ID,
				Name:      p.Name,
				SKU:       p.SKU,
				UnitPrice: p.Price,
				Quantity:  it.Quantity,
				Total:     line,
			})
			o.Subtotal += line
		}
		o.DeliveryFee = s.cfg.Fees.For(addr.Region, o.Subtotal)
		o.Total = o.Subtotal + o.DeliveryFee
		if in.ExpectedTotal != nil && !money.WithinTolerance(*in.ExpectedTotal, o.Total, priceTolerance) {
			return errs.ErrPriceMismatch.WithDetails(map[string]string{
				"expected": money.Format(*in.ExpectedTotal),
				"actual":   money.Format(o.Total),
			})
		}

		if err := tx.Orders().Create(ctx, o); err != nil {
			if errors.Is(err, errs.ErrAlreadyExists) {
				return errNumberTaken
			}
			return err
		}
		if err := tx.Orders().AppendTracking(ctx, &model.TrackingEntry{
			OrderID:     o.ID,
			Status:      model.OrderPending,
			Description: "Order placed",
		}); err != nil {
			return err
		}
		for _, it := range o.Items {
			if _, err := tx.Products().AdjustStock(ctx, it.ProductID, -it.Quantity); err != nil {
				if errors.Is(err, errs.ErrInsufficientStock) {
					return errs.ErrInsufficientStock.WithMessage("%s: insufficient stock", it.Name)
				}
				return err
			}
		}
		if err := tx.Payments().Create(ctx, &model.Payment{
			ID:       uuid.Must(uuid.NewV7()),
			OrderID:  o.ID,
			Amount:   o.Total,
			Currency: s.cfg.Currency,
			Method:   o.PaymentMethod,
			Status:   model.PaymentPending,
		}); err != nil {
			return err
		}
		return tx.Carts().Clear(ctx, cart.ID)
	})
	if err != nil {
		return nil, nil, err
	}
	return o, user, nil
}

// Cancel lets the owner cancel a PENDING order. Stock is restored.
func (s *OrderServiceImpl) Cancel(ctx context.Context, orderID, userID uuid.UUID) (_ *model.Order, err error) {
	ctx, span := tracer.Start(ctx, "order.cancel")
	defer func() { endSpan(span, err) }()

	var o *model.Order
	err = s.store.InTx(ctx, func(tx repository.Store) error {
		o, err = tx.Orders().GetForUpdate(ctx, orderID)
		if errors.Is(err, errs.ErrNotFound) || (err == nil && o.UserID != userID) {
			return errs.ErrOrderNotFound
		}
		if err != nil {
			return err
		}
		if !o.Status.CanTransition(model.OrderCancelled, false) {
			return errs.ErrCannotCancel
		}
		return s.transition(ctx, tx, o, UpdateStatusInput{Status: model.OrderCancelled, Description: "Cancelled by customer"})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.OrderCancelled()
	s.notifyStatus(ctx, o)
	return o, nil
}

// UpdateStatus is the admin transition: forward along the fulfilment chain, or CANCELLED from any
// non-terminal state.
func (s *OrderServiceImpl) UpdateStatus(ctx context.Context, orderID uuid.UUID, in UpdateStatusInput) (_ *model.Order, err error) {
	ctx, span := tracer.Start(ctx, "order.update_status", withAttrs(attribute.String("order.status", string(in.Status))))
	defer func() { endSpan(span, err) }()

	if !in.Status.Valid() {
		return nil, errs.ErrValidation.WithDetails([]errs.FieldError{{Field: "status", Message: "unknown status"}})
	}
	in.Description = sanitize.FreeText(in.Description)
	in.Location = sanitize.AddressLine(in.Location)

	var (
		o    *model.Order
		prev model.OrderStatus
	)
	err = s.store.InTx(ctx, func(tx repository.Store) error {
		o, err = tx.Orders().GetForUpdate(ctx, orderID)
		if errors.Is(err, errs.ErrNotFound) {
			return errs.ErrOrderNotFound
		}
		if err != nil {
			return err
		}
		prev = o.Status
		if !o.Status.CanTransition(in.Status, true) {
			return errs.ErrInvalidTransition.WithMessage("cannot move order from %s to %s", o.Status, in.Status)
		}
		return s.transition(ctx, tx, o, in)
	})
	if err != nil {
		return nil, err
	}
	s.audit.record(ctx, model.AuditEntry{
		Action:     ActionOrderStatus,
		Resource:   "order",
		ResourceID: o.ID.String(),
		Success:    true,
		Details:    fmt.Sprintf("%s -> %s", prev, o.Status),
	})
	if o.Status == model.OrderCancelled {
		s.metrics.OrderCancelled()
	}
	s.notifyStatus(ctx, o)
	return o, nil
}

// transition applies a checked status change to a locked order: status, tracking and, for
// cancellations, the exact inverse of the stock taken at creation.
func (s *OrderServiceImpl) transition(ctx context.Context, tx repository.Store, o *model.Order, in UpdateStatusInput) error {
	now := s.now()
	if err := tx.Orders().UpdateStatus(ctx, o.ID, in.Status, now); err != nil {
		return err
	}
	if in.Status == model.OrderCancelled {
		for _, it := range o.Items {
			if it.ProductID == uuid.Nil {
				continue
			}
			if _, err := tx.Products().AdjustStock(ctx, it.ProductID, it.Quantity); err != nil && !errors.Is(err, errs.ErrNotFound) {
				return fmt.Errorf("restore stock %s: %w", it.SKU, err)
			}
		}
		o.CancelledAt = &now
	}
	if in.Status == model.OrderDelivered {
		o.DeliveredAt = &now
	}
	desc := in.Description
	if desc == "" {
		desc = "Status changed to " + string(in.Status)
	}
	if err := tx.Orders().AppendTracking(ctx, &model.TrackingEntry{
		OrderID:     o.ID,
		Status:      in.Status,
		Description: desc,
		Location:    in.Location,
	}); err != nil {
		return err
	}
	o.Status = in.Status
	o.UpdatedAt = now
	return nil
}

// Get returns an order visible to the caller. Other users' orders are reported as not found.
func (s *OrderServiceImpl) Get(ctx context.Context, orderID, userID uuid.UUID, isAdmin bool) (*model.Order, error) {
	o, err := s.store.Orders().GetByID(ctx, orderID)
	if errors.Is(err, errs.ErrNotFound) || (err == nil && !isAdmin && o.UserID != userID) {
		return nil, errs.ErrOrderNotFound
	}
	return o, err
}

// List pages through orders newest first. Callers scope customers by setting f.UserID.
func (s *OrderServiceImpl) List(ctx context.Context, f model.OrderFilter) ([]model.Order, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, errs.ErrValidation.WithDetails([]errs.FieldError{{Field: "status", Message: "unknown status"}})
	}
	if f.PaymentStatus != "" && !f.PaymentStatus.Valid() {
		return nil, 0, errs.ErrValidation.WithDetails([]errs.FieldError{{Field: "paymentStatus", Message: "unknown status"}})
	}
	f.Offset, f.Limit = clampPage(f.Offset, f.Limit)
	return s.store.Orders().List(ctx, f)
}

// Tracking returns the order history newest first.
func (s *OrderServiceImpl) Tracking(ctx context.Context, orderID, userID uuid.UUID, isAdmin bool) ([]model.TrackingEntry, error) {
	if _, err := s.Get(ctx, orderID, userID, isAdmin); err != nil {
		return nil, err
	}
	return s.store.Orders().Tracking(ctx, orderID)
}

func (s *OrderServiceImpl) enqueue(m notify.Message) {
	if m.To == "" {
		return
	}
	if !s.notes.Enqueue(m) {
		s.log.Error("notification dropped",
			zap.String("template", string(m.Template)),
			zap.String("order_number", m.Data["order_number"]),
		)
	}
}

func contactOf(u *model.User) (notify.Channel, string) {
	if u.Phone != "" {
		return notify.ChannelWhatsApp, u.Phone
	}
	return notify.ChannelEmail, u.Email
}

func orderData(o *model.Order, currency string) map[string]string {
	return map[string]string{
		"order_number": o.OrderNumber,
		"status":       string(o.Status),
		"total":        money.Format(o.Total),
		"currency":     currency,
		"items":        fmt.Sprint(len(o.Items)),
	}
}

func (s *OrderServiceImpl) notifyPlaced(o *model.Order, u *model.User) {
	ch, to := contactOf(u)
	s.enqueue(notify.Message{Channel: ch, To: to, Template: notify.TemplateOrderPlaced, Data: orderData(o, s.cfg.Currency)})

	if s.cfg.AdminPhone != "" {
		s.enqueue(notify.Message{Channel: notify.ChannelWhatsApp, To: s.cfg.AdminPhone, Template: notify.TemplateOrderPlacedAdmin, Data: orderData(o, s.cfg.Currency)})
	} else {
		s.enqueue(notify.Message{Channel: notify.ChannelEmail, To: s.cfg.AdminEmail, Template: notify.TemplateOrderPlacedAdmin, Data: orderData(o, s.cfg.Currency)})
	}
}

func statusTemplate(st model.OrderStatus) notify.Template {
	switch st {
	case model.OrderShipped:
		return notify.TemplateOrderShipped
	case model.OrderDelivered:
		return notify.TemplateOrderDelivered
	case model.OrderCancelled:
		return notify.TemplateOrderCancelled
	}
	return notify.TemplateOrderStatusChanged
}

func (s *OrderServiceImpl) notifyStatus(ctx context.Context, o *model.Order) {
	u, err := s.store.Users().GetByID(ctx, o.UserID)
	if err != nil {
		s.log.Warn("notification skipped, customer lookup failed", zap.String("order_id", o.ID.String()), zap.Error(err))
		return
	}
	ch, to := contactOf(u)
	s.enqueue(notify.Message{Channel: ch, To: to, Template: statusTemplate(o.Status), Data: orderData(o, s.cfg.Currency)})
}
