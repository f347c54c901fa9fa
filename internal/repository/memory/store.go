// Package memory provides an in-process repository.Store. Transactions are serialised by a single
// mutex and roll back by restoring a snapshot, which is enough to exercise service invariants in tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/and161185/apinlero/internal/model"
	"github.com/and161185/apinlero/internal/repository"
	"github.com/gofrs/uuid/v5"
)

type state struct {
	users      map[uuid.UUID]model.User
	tokens     map[uuid.UUID]model.RefreshToken
	audit      []model.AuditEntry
	categories map[uuid.UUID]model.Category
	products   map[uuid.UUID]model.Product
	carts      map[uuid.UUID]model.Cart // keyed by user id
	addresses  map[uuid.UUID]model.Address
	deleted    map[uuid.UUID]bool // soft-deleted addresses
	orders     map[uuid.UUID]model.Order
	tracking   []model.TrackingEntry
	payments   map[uuid.UUID]model.Payment
	seq        int64
}

func newState() *state {
	return &state{
		users:      map[uuid.UUID]model.User{},
		tokens:     map[uuid.UUID]model.RefreshToken{},
		categories: map[uuid.UUID]model.Category{},
		products:   map[uuid.UUID]model.Product{},
		carts:      map[uuid.UUID]model.Cart{},
		addresses:  map[uuid.UUID]model.Address{},
		deleted:    map[uuid.UUID]bool{},
		orders:     map[uuid.UUID]model.Order{},
		payments:   map[uuid.UUID]model.Payment{},
	}
}

func cloneMap[K comparable, V any](m map[K]V, cp func(V) V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = cp(v)
	}
	return out
}

func same[V any](v V) V { return v }

func (s *state) clone() *state {
	return &state{
		users:      cloneMap(s.users, same[model.User]),
		tokens:     cloneMap(s.tokens, same[model.RefreshToken]),
		audit:      append([]model.AuditEntry(nil), s.audit...),
		categories: cloneMap(s.categories, same[model.Category]),
		products:   cloneMap(s.products, same[model.Product]),
		carts:      cloneMap(s.carts, cloneCart),
		addresses:  cloneMap(s.addresses, same[model.Address]),
		deleted:    cloneMap(s.deleted, same[bool]),
		orders:     cloneMap(s.orders, cloneOrder),
		tracking:   append([]model.TrackingEntry(nil), s.tracking...),
		payments:   cloneMap(s.payments, clonePayment),
		seq:        s.seq,
	}
}

func cloneCart(c model.Cart) model.Cart {
	c.Items = append([]model.CartItem(nil), c.Items...)
	return c
}

func cloneOrder(o model.Order) model.Order {
	o.Items = append([]model.OrderItem(nil), o.Items...)
	return o
}

func clonePayment(p model.Payment) model.Payment {
	p.ProviderPayload = append([]byte(nil), p.ProviderPayload...)
	return p
}

// Store is an in-memory repository.Store.
type Store struct {
	mu  *sync.Mutex
	st  **state
	tx  bool
	now func() time.Time
}

var _ repository.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	st := newState()
	return &Store{mu: &sync.Mutex{}, st: &st, now: time.Now}
}

// WithClock overrides the clock used for generated timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// lock runs fn with exclusive access to the state; inside a transaction the mutex is already held.
func (s *Store) lock(fn func(st *state)) {
	if !s.tx {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	fn(*s.st)
}

func (s *Store) Users() repository.UserRepository                 { return userRepo{s} }
func (s *Store) RefreshTokens() repository.RefreshTokenRepository { return tokenRepo{s} }
func (s *Store) Audit() repository.AuditRepository                { return auditRepo{s} }
func (s *Store) Categories() repository.CategoryRepository        { return categoryRepo{s} }
func (s *Store) Products() repository.ProductRepository           { return productRepo{s} }
func (s *Store) Carts() repository.CartRepository                 { return cartRepo{s} }
func (s *Store) Addresses() repository.AddressRepository          { return addressRepo{s} }
func (s *Store) Orders() repository.OrderRepository               { return orderRepo{s} }
func (s *Store) Payments() repository.PaymentRepository           { return paymentRepo{s} }

// InTx serialises fn against every other store call and restores the snapshot if fn fails or panics.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Store) error) (err error) {
	if s.tx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := (*s.st).clone()
	defer func() {
		if p := recover(); p != nil {
			*s.st = snapshot
			panic(p)
		}
		if err != nil {
			*s.st = snapshot
		}
	}()
	return fn(&Store{mu: s.mu, st: s.st, tx: true, now: s.now})
}
