// Package httpserver exposes the storefront and admin REST API over gin.
package httpserver

import (
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/and161185/apinlero/internal/limiter"
	"github.com/and161185/apinlero/internal/metrics"
	"github.com/and161185/apinlero/internal/model"
	"github.com/and161185/apinlero/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// maxWebhookBody caps webhook payloads.
const maxWebhookBody = 1 << 20

// Deps wires the HTTP surface to the services.
type Deps struct {
	Auth      service.AuthService
	Carts     service.CartService
	Addresses service.AddressService
	Catalog   service.CatalogService
	Orders    service.OrderService
	Payments  service.PaymentService

	Limiter limiter.Limiter // nil disables rate limiting
	Quotas  limiter.Quotas
	Metrics *metrics.Metrics
	Log     *zap.Logger

	CORSOrigins    []string
	UploadDir      string // served under UploadURL when set
	UploadURL      string
	MaxUploadBytes int64
	Started        time.Time
}

// Server holds the handler dependencies.
type Server struct {
	auth      service.AuthService
	carts     service.CartService
	addresses service.AddressService
	catalog   service.CatalogService
	orders    service.OrderService
	payments  service.PaymentService

	limiter     limiter.Limiter
	quotas      limiter.Quotas
	metrics     *metrics.Metrics
	log         *zap.Logger
	corsOrigins []string
	maxUpload   int64
	started     time.Time
}

var tagNameOnce sync.Once

// useJSONFieldNames makes validator report json field names instead of Go field names.
func useJSONFieldNames() {
	tagNameOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
	})
}

// New builds the gin engine with every route registered.
func New(d Deps) *gin.Engine {
	useJSONFieldNames()
	s := &Server{
		auth:        d.Auth,
		carts:       d.Carts,
		addresses:   d.Addresses,
		catalog:     d.Catalog,
		orders:      d.Orders,
		payments:    d.Payments,
		limiter:     d.Limiter,
		quotas:      d.Quotas,
		metrics:     d.Metrics,
		log:         d.Log,
		corsOrigins: d.CORSOrigins,
		maxUpload:   d.MaxUploadBytes,
		started:     d.Started,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.quotas == nil {
		s.quotas = limiter.DefaultQuotas()
	}
	if s.maxUpload <= 0 {
		s.maxUpload = 5 << 20
	}
	if s.started.IsZero() {
		s.started = time.Now()
	}

	r := gin.New()
	r.Use(s.recovery(), requestID(), s.observe(), s.cors(), s.rateLimit())
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "NOT_FOUND", "message": "route not found"}})
	})
	if d.UploadDir != "" && d.UploadURL != "" {
		r.Static(d.UploadURL, d.UploadDir)
	}
	s.RegisterRoutes(r)
	return r
}

// RegisterRoutes mounts the API on r.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	r.POST("/auth/register", s.register)
	r.POST("/auth/login", s.login)
	r.POST("/auth/refresh", s.refresh)
	r.POST("/payments/webhook", s.webhook)

	r.GET("/products", s.listProducts)
	r.GET("/products/:id", s.getProduct)
	r.GET("/categories", s.listCategories)

	authed := r.Group("/", s.authenticate())
	authed.POST("/auth/logout", s.logout)
	authed.POST("/auth/logout-all", s.logoutAll)
	authed.POST("/auth/change-password", s.changePassword)
	authed.GET("/auth/me", s.me)

	authed.GET("/cart", s.getCart)
	authed.DELETE("/cart", s.clearCart)
	authed.POST("/cart/items", s.addCartItem)
	authed.PATCH("/cart/items/:productId", s.updateCartItem)
	authed.DELETE("/cart/items/:productId", s.removeCartItem)
	authed.POST("/cart/validate", s.validateCart)

	authed.GET("/addresses", s.listAddresses)
	authed.POST("/addresses", s.createAddress)
	authed.DELETE("/addresses/:id", s.deleteAddress)

	authed.POST("/orders", s.createOrder)
	authed.GET("/orders", s.listOrders)
	authed.GET("/orders/:id", s.getOrder)
	authed.GET("/orders/:id/tracking", s.orderTracking)
	authed.POST("/orders/:id/cancel", s.cancelOrder)

	authed.POST("/payments/initialize", s.initPayment)
	authed.GET("/payments/:orderId/status", s.paymentStatus)

	admin := r.Group("/admin", s.authenticate(), s.requireRole(model.RoleAdmin))
	admin.GET("/orders", s.adminListOrders)
	admin.PATCH("/orders/:id/status", s.adminUpdateStatus)

	admin.POST("/products", s.adminCreateProduct)
	admin.PATCH("/products/:id", s.adminUpdateProduct)
	admin.DELETE("/products/:id", s.adminDeactivateProduct)
	admin.POST("/products/:id/stock", s.adminAdjustStock)
	admin.POST("/products/:id/image", s.adminUploadImage)

	admin.POST("/categories", s.adminCreateCategory)
	admin.PATCH("/categories/:id", s.adminUpdateCategory)
	admin.DELETE("/categories/:id", s.adminDeleteCategory)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"uptimeSeconds": int64(time.Since(s.started).Seconds()),
		"time":          time.Now().UTC().Format(time.RFC3339),
	})
}
