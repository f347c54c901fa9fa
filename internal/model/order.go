package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// OrderStatus is the fulfilment state of an order.
type OrderStatus string

const (
	OrderPending        OrderStatus = "PENDING"
	OrderConfirmed      OrderStatus = "CONFIRMED"
	OrderProcessing     OrderStatus = "PROCESSING"
	OrderShipped        OrderStatus = "SHIPPED"
	OrderOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	OrderDelivered      OrderStatus = "DELIVERED"
	OrderCancelled      OrderStatus = "CANCELLED"
)

// fulfilment is the forward chain; CANCELLED sits outside it.
var fulfilment = []OrderStatus{
	OrderPending, OrderConfirmed, OrderProcessing, OrderShipped, OrderOutForDelivery, OrderDelivered,
}

func (s OrderStatus) rank() int {
	for i, st := range fulfilment {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool { return s == OrderCancelled || s.rank() >= 0 }

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool { return s == OrderDelivered || s == OrderCancelled }

// CanTransition reports whether an order may move from s to next.
// Customers may only cancel a PENDING order. Admins move forward along the chain, possibly
// skipping states, or cancel from any non-terminal state.
func (s OrderStatus) CanTransition(next OrderStatus, admin bool) bool {
	if s.Terminal() || !next.Valid() || s == next {
		return false
	}
	if next == OrderCancelled {
		return admin || s == OrderPending
	}
	if !admin {
		return false
	}
	return next.rank() > s.rank()
}

// PaymentMethod is how the customer pays.
type PaymentMethod string

const (
	PaymentCard           PaymentMethod = "CARD"
	PaymentCashOnDelivery PaymentMethod = "CASH_ON_DELIVERY"
	PaymentBankTransfer   PaymentMethod = "BANK_TRANSFER"
)

// Valid reports whether m is a known method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCard, PaymentCashOnDelivery, PaymentBankTransfer:
		return true
	}
	return false
}

// Order is an immutable snapshot once created; only statuses and timestamps change.
type Order struct {
	ID            uuid.UUID
	OrderNumber   string
	UserID        uuid.UUID
	AddressID     uuid.UUID
	Subtotal      int64
	DeliveryFee   int64
	Total         int64
	Status        OrderStatus
	PaymentStatus PaymentStatus
	PaymentMethod PaymentMethod
	Notes         string
	Items         []OrderItem
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeliveredAt   *time.Time
	CancelledAt   *time.Time
}

// ItemsTotal sums the captured line totals.
func (o *Order) ItemsTotal() int64 {
	var sum int64
	for _, it := range o.Items {
		sum += it.Total
	}
	return sum
}

// Consistent reports whether total == subtotal + fee and subtotal == Σ line totals.
func (o *Order) Consistent() bool {
	return o.Total == o.Subtotal+o.DeliveryFee && o.Subtotal == o.ItemsTotal()
}

// OrderItem captures product data at order time. Never mutated.
type OrderItem struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	ProductID uuid.UUID
	Name      string
	SKU       string
	UnitPrice int64
	Quantity  int
	Total     int64
}

// TrackingEntry is an append-only status log row.
type TrackingEntry struct {
	ID          int64
	OrderID     uuid.UUID
	Status      OrderStatus
	Description string
	Location    string
	CreatedAt   time.Time
}

// OrderFilter narrows order listings. UserID nil means all users (admin).
type OrderFilter struct {
	UserID        *uuid.UUID
	Status        OrderStatus
	PaymentStatus PaymentStatus
	From          *time.Time
	To            *time.Time
	Offset        int
	Limit         int
}
