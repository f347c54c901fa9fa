package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/and161185/apinlero/internal/errs"
	"github.com/and161185/apinlero/internal/limiter"
	"github.com/and161185/apinlero/internal/model"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	e := setupRouter(t)

	w := httpDo(e.r, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	require.Equal(t, "ok", body["status"])
	require.Contains(t, body, "uptimeSeconds")
	require.NotEmpty(t, w.Header().Get(RequestIDHeader))

	w = httpDo(e.r, "GET", "/health", nil, RequestIDHeader, "req-123")
	require.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
}

func TestUnknownRoute(t *testing.T) {
	e := setupRouter(t)
	w := httpDo(e.r, "GET", "/nope", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "NOT_FOUND", errorCode(t, w))
}

func TestAuthFlow(t *testing.T) {
	e := setupRouter(t)

	reg := map[string]string{"email": "Ada@Example.com", "password": "correct horse", "firstName": "Ada", "lastName": "Lovelace"}
	w := httpDo(e.r, "POST", "/auth/register", reg)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	user := body["user"].(map[string]any)
	require.Equal(t, "ada@example.com", user["email"])
	require.Equal(t, "CUSTOMER", user["role"])
	require.NotContains(t, user, "pwdHash")

	w = httpDo(e.r, "POST", "/auth/register", reg)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "USER_EXISTS", errorCode(t, w))

	w = httpDo(e.r, "POST", "/auth/login", map[string]string{"email": "ada@example.com", "password": "wrong password"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "INVALID_CREDENTIALS", errorCode(t, w))

	w = httpDo(e.r, "POST", "/auth/login", map[string]string{"email": "ada@example.com", "password": "correct horse"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	tokens := decode(t, w)["tokens"].(map[string]any)
	access := tokens["accessToken"].(string)
	refresh := tokens["refreshToken"].(string)
	require.Equal(t, "Bearer", tokens["tokenType"])

	w = httpDo(e.r, "GET", "/auth/me", nil, bearer(access)...)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ada@example.com", decode(t, w)["user"].(map[string]any)["email"])

	w = httpDo(e.r, "POST", "/auth/refresh", map[string]string{"refreshToken": refresh})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rotated := decode(t, w)["tokens"].(map[string]any)["refreshToken"].(string)
	require.NotEqual(t, refresh, rotated)

	w = httpDo(e.r, "POST", "/auth/refresh", map[string]string{"refreshToken": refresh})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "TOKEN_REVOKED", errorCode(t, w))

	w = httpDo(e.r, "POST", "/auth/logout", map[string]string{"refreshToken": rotated}, bearer(access)...)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = httpDo(e.r, "POST", "/auth/refresh", map[string]string{"refreshToken": rotated})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegisterValidation(t *testing.T) {
	e := setupRouter(t)

	w := httpDo(e.r, "POST", "/auth/register", map[string]string{"email": "not-an-email", "password": "correct horse", "firstName": "Ada"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	errBody := decode(t, w)["error"].(map[string]any)
	require.Equal(t, "VALIDATION_FAILED", errBody["code"])
	fields := errBody["fields"].([]any)
	names := map[string]bool{}
	for _, f := range fields {
		names[f.(map[string]any)["field"].(string)] = true
	}
	require.True(t, names["email"], w.Body.String())
	require.True(t, names["lastName"], w.Body.String())

	w = httpDo(e.r, "POST", "/auth/register", map[string]string{"email": "a@b.co", "password": "short", "firstName": "A", "lastName": "B"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "WEAK_PASSWORD", errorCode(t, w))
}

func TestAuthMiddleware(t *testing.T) {
	e := setupRouter(t)

	w := httpDo(e.r, "GET", "/cart", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "UNAUTHENTICATED", errorCode(t, w))

	w = httpDo(e.r, "GET", "/cart", nil, "Authorization", "Basic abc")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "UNAUTHENTICATED", errorCode(t, w))

	w = httpDo(e.r, "GET", "/cart", nil, bearer("garbage")...)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "INVALID_TOKEN", errorCode(t, w))

	_, tok := e.user(t, model.RoleCustomer)
	w = httpDo(e.r, "GET", "/admin/orders", nil, bearer(tok)...)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "FORBIDDEN", errorCode(t, w))

	_, admin := e.user(t, model.RoleAdmin)
	w = httpDo(e.r, "GET", "/admin/orders", nil, bearer(admin)...)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestCORS(t *testing.T) {
	e := setupRouter(t)

	w := httpDo(e.r, "POST", "/auth/login", map[string]string{"email": "x@y.z", "password": "whatever1"}, "Origin", "https://evil.example.com")
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "ORIGIN_NOT_ALLOWED", errorCode(t, w))

	w = httpDo(e.r, "GET", "/health", nil, "Origin", "https://shop.example.com")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "https://shop.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = httpDo(e.r, "OPTIONS", "/orders", nil, "Origin", "https://shop.example.com", "Access-Control-Request-Method", "POST")
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestRateLimit(t *testing.T) {
	e := setupRouter(t, func(d *Deps) {
		d.Quotas = limiter.DefaultQuotas().Merge(limiter.Quotas{
			limiter.EndpointLogin: {Limit: 2, Window: time.Minute},
		})
	})
	creds := map[string]string{"email": "nobody@example.com", "password": "whatever1"}

	for i := 0; i < 2; i++ {
		w := httpDo(e.r, "POST", "/auth/login", creds, "X-Real-IP", "203.0.113.7")
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w := httpDo(e.r, "POST", "/auth/login", creds, "X-Real-IP", "203.0.113.7")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	require.Positive(t, retry)
	errBody := decode(t, w)["error"].(map[string]any)
	require.Equal(t, "RATE_LIMITED", errBody["code"])
	require.EqualValues(t, retry, errBody["retryAfter"])

	// Other clients and other endpoints keep their own budget.
	w = httpDo(e.r, "POST", "/auth/login", creds, "X-Real-IP", "203.0.113.8")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	w = httpDo(e.r, "GET", "/products", nil, "X-Real-IP", "203.0.113.7")
	require.Equal(t, http.StatusOK, w.Code)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, limiter.Quota) (limiter.Decision, error) {
	return limiter.Decision{}, errors.New("db down")
}

func TestRateLimitFailsOpen(t *testing.T) {
	e := setupRouter(t, func(d *Deps) { d.Limiter = brokenLimiter{} })
	w := httpDo(e.r, "GET", "/products", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRecovery(t *testing.T) {
	e := setupRouter(t)
	e.r.GET("/boom", func(*gin.Context) { panic("kaboom") })

	w := httpDo(e.r, "GET", "/boom", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, "INTERNAL", errorCode(t, w))
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want int
	}{
		{errs.ErrValidation, http.StatusBadRequest},
		{errs.ErrCartInvalid.WithDetails([]string{"x"}), http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", errs.ErrOrderNotFound), http.StatusNotFound},
		{errs.ErrTokenExpired, http.StatusUnauthorized},
		{errs.ErrAccountInactive, http.StatusForbidden},
		{errs.ErrCannotCancel, http.StatusConflict},
		{errs.ErrAccountLocked, http.StatusLocked},
		{errs.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{errs.ErrUnsupportedType, http.StatusUnsupportedMediaType},
		{errs.ErrRateLimited, http.StatusTooManyRequests},
		{errs.ErrGateway, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		require.Equal(t, c.want, StatusFor(c.err), c.err.Error())
	}
}

func TestErrorBody(t *testing.T) {
	t.Parallel()

	b := body(errs.ErrAccountLocked.WithDetails(map[string]int{"retryAfterMinutes": 12}))
	e := b["error"].(gin.H)
	require.Equal(t, "ACCOUNT_LOCKED", e["code"])
	require.Equal(t, 12, e["retryAfterMinutes"])

	b = body(errs.ErrCartInvalid.WithDetails([]string{"Yam is no longer available"}))
	require.Equal(t, []string{"Yam is no longer available"}, b["error"].(gin.H)["violations"])
}
