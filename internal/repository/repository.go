// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/and161185/apinlero/internal/model"
	"github.com/gofrs/uuid/v5"
)

// Store bundles all repositories behind one handle so services can scope them to a transaction.
type Store interface {
	Users() UserRepository
	RefreshTokens() RefreshTokenRepository
	Audit() AuditRepository
	Categories() CategoryRepository
	Products() ProductRepository
	Carts() CartRepository
	Addresses() AddressRepository
	Orders() OrderRepository
	Payments() PaymentRepository

	// InTx runs fn inside one transaction. fn receives a Store bound to that transaction;
	// returning nil commits, any error rolls back every write made through it.
	// Calling InTx on a transactional Store runs fn in the same transaction.
	InTx(ctx context.Context, fn func(tx Store) error) error
}

// UserRepository provides access to accounts and their login state.
type UserRepository interface {
	// Create inserts a new user; a taken email yields errs.ErrAlreadyExists.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByEmail loads a user by normalised email.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// RecordLoginFailure increments the failure counter atomically and locks the account for lockFor
	// once the counter reaches maxAttempts. It returns the new counter and lock expiry.
	RecordLoginFailure(ctx context.Context, id uuid.UUID, maxAttempts int, lockFor time.Duration) (int, *time.Time, error)
	// RecordLoginSuccess clears the counter and the lock and stores last-login metadata.
	RecordLoginSuccess(ctx context.Context, id uuid.UUID, ip string, at time.Time) error
	// UpdatePassword replaces the password hash.
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
}

// RefreshTokenRepository stores hashed refresh tokens.
type RefreshTokenRepository interface {
	Create(ctx context.Context, t *model.RefreshToken) error
	// GetByHashForUpdate loads a token and locks its row for the rest of the transaction.
	GetByHashForUpdate(ctx context.Context, hash []byte) (*model.RefreshToken, error)
	// Revoke marks an active token revoked. It reports false when the token was already revoked.
	Revoke(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	// RevokeByHash revokes the user's token with the given hash, if still active.
	RevokeByHash(ctx context.Context, userID uuid.UUID, hash []byte, at time.Time) error
	// RevokeAllForUser revokes every active token of the user and returns how many were revoked.
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error)
	// DeleteByHash removes a token row.
	DeleteByHash(ctx context.Context, hash []byte) error
}

// AuditRepository appends audit log rows.
type AuditRepository interface {
	Insert(ctx context.Context, e *model.AuditEntry) error
}

// CategoryRepository manages product categories.
type CategoryRepository interface {
	List(ctx context.Context, activeOnly bool) ([]model.Category, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Category, error)
	Create(ctx context.Context, c *model.Category) error
	Update(ctx context.Context, c *model.Category) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// ProductRepository manages the catalog and inventory.
type ProductRepository interface {
	List(ctx context.Context, f model.ProductFilter) ([]model.Product, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Product, error)
	// GetMany loads products by id; forUpdate locks the rows (in id order) for the transaction.
	// Missing ids are absent from the result.
	GetMany(ctx context.Context, ids []uuid.UUID, forUpdate bool) (map[uuid.UUID]*model.Product, error)
	Create(ctx context.Context, p *model.Product) error
	Update(ctx context.Context, p *model.Product) error
	// AdjustStock adds delta to stock in one guarded statement and returns the new stock.
	// A result below zero is refused with errs.ErrInsufficientStock.
	AdjustStock(ctx context.Context, id uuid.UUID, delta int) (int, error)
	SetImageURL(ctx context.Context, id uuid.UUID, url string) error
}

// CartRepository manages the per-user cart.
type CartRepository interface {
	// GetOrCreate returns the user's cart, creating an empty one on first use.
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*model.Cart, error)
	// SetItemQuantity inserts or replaces the quantity of a line.
	SetItemQuantity(ctx context.Context, cartID, productID uuid.UUID, qty int) error
	// RemoveItem deletes a line; absent lines are not an error.
	RemoveItem(ctx context.Context, cartID, productID uuid.UUID) error
	// Clear deletes all lines.
	Clear(ctx context.Context, cartID uuid.UUID) error
}

// AddressRepository manages delivery addresses.
type AddressRepository interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Address, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Address, error)
	Create(ctx context.Context, a *model.Address) error
	ClearDefault(ctx context.Context, userID uuid.UUID) error
	// Delete soft-deletes an address owned by userID; errs.ErrNotFound otherwise.
	Delete(ctx context.Context, userID, id uuid.UUID) error
}

// OrderRepository stores orders, their items and tracking history.
type OrderRepository interface {
	// Create inserts the order and its items. A duplicate order number yields errs.ErrAlreadyExists.
	Create(ctx context.Context, o *model.Order) error
	// GetByID loads an order with items.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error)
	// GetForUpdate loads an order with items and locks the order row.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Order, error)
	// List returns a page of orders (newest first, items not loaded) and the total match count.
	List(ctx context.Context, f model.OrderFilter) ([]model.Order, int, error)
	// UpdateStatus sets status and stamps delivered_at / cancelled_at as appropriate.
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.OrderStatus, at time.Time) error
	SetPaymentStatus(ctx context.Context, id uuid.UUID, status model.PaymentStatus) error
	AppendTracking(ctx context.Context, e *model.TrackingEntry) error
	// Tracking returns the history newest first.
	Tracking(ctx context.Context, orderID uuid.UUID) ([]model.TrackingEntry, error)
}

// PaymentRepository stores payment attempts.
type PaymentRepository interface {
	Create(ctx context.Context, p *model.Payment) error
	// LatestForOrder returns the most recent payment of an order.
	LatestForOrder(ctx context.Context, orderID uuid.UUID) (*model.Payment, error)
	// GetByProviderRefForUpdate loads a payment by gateway reference and locks it.
	GetByProviderRefForUpdate(ctx context.Context, ref string) (*model.Payment, error)
	// AttachProviderRef stores the gateway reference and moves the payment to status.
	AttachProviderRef(ctx context.Context, id uuid.UUID, ref string, status model.PaymentStatus) error
	// UpdateStatus applies a status transition.
	UpdateStatus(ctx context.Context, id uuid.UUID, u model.PaymentUpdate) error
}
