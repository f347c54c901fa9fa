package httpserver

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/and161185/apinlero/internal/auth"
	"github.com/and161185/apinlero/internal/errs"
	"github.com/and161185/apinlero/internal/limiter"
	"github.com/and161185/apinlero/internal/model"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RequestIDHeader is echoed on every response.
const RequestIDHeader = "X-Request-ID"

const (
	ctxRequestID = "request_id"
	ctxClientID  = "client_id"
	ctxClaims    = "claims"
)

// recovery turns a handler panic into a 500 and logs the stack.
func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("route", c.FullPath()),
					zap.String("request_id", requestIDFrom(c)),
					zap.String("stack", string(debug.Stack())),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError,
					gin.H{"error": gin.H{"code": "INTERNAL", "message": "internal error"}})
			}
		}()
		c.Next()
	}
}

// requestID keeps a well-formed incoming X-Request-ID or generates one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if rid == "" || len(rid) > 128 {
			rid = uuid.Must(uuid.NewV4()).String()
		}
		c.Set(ctxRequestID, rid)
		c.Header(RequestIDHeader, rid)
		c.Next()
	}
}

func requestIDFrom(c *gin.Context) string { return c.GetString(ctxRequestID) }

// observe extracts W3C trace context, then logs and measures the request once it completes.
func (s *Server) observe() gin.HandlerFunc {
	prop := otel.GetTextMapPropagator()
	return func(c *gin.Context) {
		ctx := prop.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		c.Request = c.Request.WithContext(ctx)

		clientID := limiter.ClientID(c.Request.Header, c.Request.RemoteAddr)
		c.Set(ctxClientID, clientID)

		start := time.Now()
		c.Next()
		dur := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		s.metrics.ObserveHTTP(c.Request.Method, route, status, dur)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("duration", dur),
			zap.String("client_id", clientID),
			zap.String("request_id", requestIDFrom(c)),
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
		}
		switch {
		case status >= 500:
			s.log.Error("http request", fields...)
		case status >= 400:
			s.log.Warn("http request", fields...)
		default:
			s.log.Info("http request", fields...)
		}
	}
}

// cors admits requests without an Origin and those whose Origin is allow-listed; "*" admits all.
// Anything else is rejected before the body is read.
func (s *Server) cors() gin.HandlerFunc {
	allowed := make(map[string]bool, len(s.corsOrigins))
	for _, o := range s.corsOrigins {
		allowed[strings.TrimRight(strings.TrimSpace(o), "/")] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		if !allowed["*"] && !allowed[strings.TrimRight(origin, "/")] {
			s.fail(c, errs.ErrOriginNotAllowed)
			return
		}
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Expose-Headers", "Retry-After, X-Request-ID")
		if c.Request.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
			h.Set("Access-Control-Max-Age", "600")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// routeEndpoints assigns quota names to routes; unlisted routes share the default quota.
var routeEndpoints = map[string]string{
	"POST /auth/login":               limiter.EndpointLogin,
	"POST /auth/register":            limiter.EndpointRegister,
	"POST /auth/refresh":             limiter.EndpointRefresh,
	"POST /orders":                   limiter.EndpointOrderCreate,
	"POST /payments/initialize":      limiter.EndpointPaymentInit,
	"POST /payments/webhook":         limiter.EndpointWebhook,
	"POST /admin/products/:id/image": limiter.EndpointUpload,
}

func endpointOf(method, route string) string {
	if ep, ok := routeEndpoints[method+" "+route]; ok {
		return ep
	}
	return limiter.EndpointDefault
}

// rateLimit enforces per-client quotas. Limiter failures fail open.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil || c.FullPath() == "/health" || c.FullPath() == "/metrics" {
			c.Next()
			return
		}
		ep := endpointOf(c.Request.Method, c.FullPath())
		key := limiter.Key(c.GetString(ctxClientID), ep)
		d, err := s.limiter.Allow(c.Request.Context(), key, s.quotas.For(ep))
		if err != nil {
			s.log.Warn("rate limiter unavailable", zap.String("endpoint", ep), zap.Error(err))
			c.Next()
			return
		}
		if !d.Allowed {
			secs := int(d.RetryAfter.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			s.metrics.RateLimited(ep)
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, body(errs.ErrRateLimited.WithDetails(map[string]int{"retryAfter": secs})))
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		c.Next()
	}
}

// authenticate requires a valid Bearer access token.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			s.fail(c, errs.ErrUnauthenticated)
			return
		}
		claims, err := s.auth.VerifyAccessToken(strings.TrimSpace(token))
		if err != nil {
			s.fail(c, err)
			return
		}
		c.Set(ctxClaims, claims)
		c.Next()
	}
}

// requireRole admits only the given role. It must run after authenticate.
func (s *Server) requireRole(role model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := claimsFrom(c)
		if !ok {
			s.fail(c, errs.ErrUnauthenticated)
			return
		}
		if cl.Role != role {
			s.fail(c, errs.ErrForbidden)
			return
		}
		c.Next()
	}
}

func claimsFrom(c *gin.Context) (auth.Claims, bool) {
	v, ok := c.Get(ctxClaims)
	if !ok {
		return auth.Claims{}, false
	}
	cl, ok := v.(auth.Claims)
	return cl, ok
}

// userID returns the authenticated user. Routes using it sit behind authenticate.
func userID(c *gin.Context) uuid.UUID {
	cl, _ := claimsFrom(c)
	return cl.UserID
}

func isAdmin(c *gin.Context) bool {
	cl, _ := claimsFrom(c)
	return cl.Role == model.RoleAdmin
}

func clientMeta(c *gin.Context) model.ClientMeta {
	return model.ClientMeta{IP: c.GetString(ctxClientID), UserAgent: c.Request.UserAgent()}
}
