package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/and161185/apinlero/internal/auth"
	"github.com/and161185/apinlero/internal/model"
	"github.com/and161185/apinlero/internal/notify"
	"github.com/and161185/apinlero/internal/repository"
	"github.com/and161185/apinlero/internal/repository/memory"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newAuth(t *testing.T, st repository.Store) *AuthServiceImpl {
	t.Helper()
	s, err := NewAuthService(st, auth.NewTokenManager(testKey, 15*time.Minute), AuthConfig{
		RefreshTTL:      time.Hour,
		BcryptCost:      4,
		MaxFailedLogins: 5,
		LockDuration:    30 * time.Minute,
	}, zaptest.NewLogger(t), nil)
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}
	return s
}

type failingAudit struct{}

func (failingAudit) Insert(context.Context, *model.AuditEntry) error { return errors.New("audit down") }

// brokenAuditStore serves every repository from the embedded store except the audit log.
type brokenAuditStore struct{ repository.Store }

func (brokenAuditStore) Audit() repository.AuditRepository { return failingAudit{} }

// recordingNotifier captures enqueued messages.
type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
	full bool
}

func (r *recordingNotifier) Enqueue(m notify.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return false
	}
	r.msgs = append(r.msgs, m)
	return true
}

func (r *recordingNotifier) templates() []notify.Template {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Template, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.Template)
	}
	return out
}

func seedUser(t *testing.T, st *memory.Store, phone string) *model.User {
	t.Helper()
	u := &model.User{
		ID:       uuid.Must(uuid.NewV4()),
		Email:    uuid.Must(uuid.NewV4()).String() + "@example.com",
		Phone:    phone,
		Role:     model.RoleCustomer,
		IsActive: true,
	}
	if err := st.Users().Create(context.Background(), u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func seedProduct(t *testing.T, st *memory.Store, name string, price int64, stock, minOrder int) *model.Product {
	t.Helper()
	p := &model.Product{
		ID:       uuid.Must(uuid.NewV4()),
		SKU:      "SKU-" + uuid.Must(uuid.NewV4()).String()[:8],
		Name:     name,
		Price:    price,
		Unit:     "pack",
		MinOrder: minOrder,
		Stock:    stock,
		IsActive: true,
	}
	if err := st.Products().Create(context.Background(), p); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return p
}

func seedAddress(t *testing.T, st *memory.Store, userID uuid.UUID, region string) *model.Address {
	t.Helper()
	a := &model.Address{
		ID:       uuid.Must(uuid.NewV4()),
		UserID:   userID,
		Line1:    "1 High Street",
		City:     "London",
		Region:   region,
		Postcode: "E1 6AN",
	}
	if err := st.Addresses().Create(context.Background(), a); err != nil {
		t.Fatalf("seed address: %v", err)
	}
	return a
}

func stockOf(t *testing.T, st repository.Store, id uuid.UUID) int {
	t.Helper()
	p, err := st.Products().GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	return p.Stock
}
