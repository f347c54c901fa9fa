package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/and161185/apinlero/internal/auth"
	"github.com/and161185/apinlero/internal/limiter"
	"github.com/and161185/apinlero/internal/model"
	"github.com/and161185/apinlero/internal/notify"
	"github.com/and161185/apinlero/internal/payment"
	"github.com/and161185/apinlero/internal/repository/memory"
	"github.com/and161185/apinlero/internal/service"
	"github.com/and161185/apinlero/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const webhookSecret = "whsec_test"

var testKey = []byte("0123456789abcdef0123456789abcdef")

type discardNotes struct{}

func (discardNotes) Enqueue(notify.Message) bool { return true }

type testEnv struct {
	r      *gin.Engine
	st     *memory.Store
	tokens *auth.TokenManager
}

type option func(*Deps)

func setupRouter(t *testing.T, opts ...option) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := zap.NewNop()
	st := memory.New()
	tokens := auth.NewTokenManager(testKey, 15*time.Minute)
	authSvc, err := service.NewAuthService(st, tokens, service.AuthConfig{
		RefreshTTL:      time.Hour,
		BcryptCost:      4,
		MaxFailedLogins: 5,
		LockDuration:    30 * time.Minute,
	}, log, nil)
	require.NoError(t, err)

	d := Deps{
		Auth:      authSvc,
		Carts:     service.NewCartService(st),
		Addresses: service.NewAddressService(st),
		Catalog:   service.NewCatalogService(st, storage.NewLocal(t.TempDir(), "/uploads"), 1<<10, log),
		Orders: service.NewOrderService(st, service.OrderConfig{
			Currency: "GBP",
			Fees:     service.DeliveryFees{Default: 499, FreeThreshold: 5000, ByRegion: map[string]int64{"london": 299}},
		}, discardNotes{}, log, nil),
		Payments: service.NewPaymentService(st, payment.NoopGateway{}, service.PaymentConfig{
			Currency:         "GBP",
			WebhookSecret:    webhookSecret,
			WebhookTolerance: 5 * time.Minute,
		}, log, nil),
		Limiter:     limiter.NewMemory(),
		Log:         log,
		CORSOrigins: []string{"https://shop.example.com"},
	}
	for _, o := range opts {
		o(&d)
	}
	return &testEnv{r: New(d), st: st, tokens: tokens}
}

func (e *testEnv) user(t *testing.T, role model.Role) (*model.User, string) {
	t.Helper()
	u := &model.User{
		ID:        uuid.Must(uuid.NewV4()),
		Email:     uuid.Must(uuid.NewV4()).String() + "@example.com",
		FirstName: "Ada",
		Role:      role,
		IsActive:  true,
	}
	require.NoError(t, e.st.Users().Create(context.Background(), u))
	tok, _, err := e.tokens.Issue(u)
	require.NoError(t, err)
	return u, tok
}

func (e *testEnv) product(t *testing.T, name string, price int64, stock int) *model.Product {
	t.Helper()
	p := &model.Product{
		ID:       uuid.Must(uuid.NewV4()),
		SKU:      "SKU-" + uuid.Must(uuid.NewV4()).String()[:8],
		Name:     name,
		Price:    price,
		Unit:     "pack",
		MinOrder: 1,
		Stock:    stock,
		IsActive: true,
	}
	require.NoError(t, e.st.Products().Create(context.Background(), p))
	return p
}

func (e *testEnv) address(t *testing.T, userID uuid.UUID) *model.Address {
	t.Helper()
	a := &model.Address{
		ID:       uuid.Must(uuid.NewV4()),
		UserID:   userID,
		Line1:    "1 High Street",
		City:     "London",
		Region:   "London",
		Postcode: "E1 6AN",
	}
	require.NoError(t, e.st.Addresses().Create(context.Background(), a))
	return a
}

func httpDo(r *gin.Engine, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		b, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func bearer(tok string) []string { return []string{"Authorization", "Bearer " + tok} }

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	e, ok := decode(t, w)["error"].(map[string]any)
	require.True(t, ok, w.Body.String())
	code, _ := e["code"].(string)
	return code
}
