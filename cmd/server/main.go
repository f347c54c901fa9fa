// Command apinlero-server starts the storefront REST API and the ops gRPC health endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/and161185/apinlero/internal/auth"
	"github.com/and161185/apinlero/internal/config"
	"github.com/and161185/apinlero/internal/limiter"
	"github.com/and161185/apinlero/internal/metrics"
	"github.com/and161185/apinlero/internal/migrate"
	"github.com/and161185/apinlero/internal/notify"
	"github.com/and161185/apinlero/internal/payment"
	"github.com/and161185/apinlero/internal/payment/stripe"
	"github.com/and161185/apinlero/internal/repository/postgres"
	grpcserver "github.com/and161185/apinlero/internal/server/grpc"
	httpserver "github.com/and161185/apinlero/internal/server/http"
	"github.com/and161185/apinlero/internal/service"
	"github.com/and161185/apinlero/internal/storage"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const shutdownTimeout = 10 * time.Second

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	return cfg.Build()
}

// main loads configuration, runs migrations, and serves HTTP and gRPC until signalled.
func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot, _ := zap.NewProduction()
		boot.Fatal("load config", zap.Error(err))
	}

	logger, err := newLogger(cfg.Dev())
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("env", cfg.Env),
		zap.String("http", cfg.HTTP.Addr),
		zap.String("grpc", cfg.GRPC.Addr),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.Database.URL, logger); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	// DB pool
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("pgxpool.New", zap.Error(err))
	}
	defer pool.Close()
	db := &postgres.DB{Pool: pool}
	store := postgres.NewStore(db)

	m := metrics.New()

	dispatcher := notify.NewDispatcher(notify.NewLogNotifier(logger), logger, m, notify.Options{
		Workers:   cfg.Notify.Workers,
		QueueSize: cfg.Notify.QueueSize,
	})
	dispatcher.Start(ctx)

	var lim limiter.Limiter
	switch cfg.RateLimit.Backend {
	case "postgres":
		pg := limiter.NewPG(pool)
		lim = pg
		go pruneLoop(ctx, logger, func(ctx context.Context) error {
			_, err := pg.Prune(ctx, 24*time.Hour)
			return err
		})
	default:
		mem := limiter.NewMemory()
		lim = mem
		go mem.Run(ctx, time.Minute)
	}

	var gateway payment.Gateway = payment.NoopGateway{}
	if cfg.Payments.StripeKey != "" {
		gateway = stripe.New(cfg.Payments.StripeKey)
	} else {
		logger.Warn("payments.stripe_key not set; using the local no-op gateway")
	}

	// Services
	tokens := auth.NewTokenManager([]byte(cfg.Auth.JWTSecret), cfg.Auth.AccessTTL)
	authSvc, err := service.NewAuthService(store, tokens, service.AuthConfig{
		RefreshTTL:      cfg.Auth.RefreshTTL,
		BcryptCost:      cfg.Auth.BcryptCost,
		MaxFailedLogins: cfg.Auth.MaxFailedLogins,
		LockDuration:    cfg.Auth.LockDuration,
	}, logger, m)
	if err != nil {
		logger.Fatal("auth service", zap.Error(err))
	}
	objects := storage.NewLocal(cfg.Uploads.Dir, cfg.Uploads.BaseURL)
	orderSvc := service.NewOrderService(store, service.OrderConfig{
		Currency: cfg.Orders.Currency,
		Fees: service.DeliveryFees{
			Default:       cfg.Orders.DefaultFeeMinor,
			FreeThreshold: cfg.Orders.ThresholdMinor,
			ByRegion:      cfg.Orders.RegionFeesMinor,
		},
		AdminPhone: cfg.Orders.AdminPhone,
		AdminEmail: cfg.Orders.AdminEmail,
	}, dispatcher, logger, m)
	paymentSvc := service.NewPaymentService(store, gateway, service.PaymentConfig{
		Currency:         cfg.Orders.Currency,
		WebhookSecret:    cfg.Payments.WebhookSecret,
		WebhookTolerance: cfg.Payments.WebhookTolerance,
	}, logger, m)

	if !cfg.Dev() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpserver.New(httpserver.Deps{
		Auth:           authSvc,
		Carts:          service.NewCartService(store),
		Addresses:      service.NewAddressService(store),
		Catalog:        service.NewCatalogService(store, objects, cfg.Uploads.MaxBytes, logger),
		Orders:         orderSvc,
		Payments:       paymentSvc,
		Limiter:        lim,
		Quotas:         cfg.RateLimit.Quotas,
		Metrics:        m,
		Log:            logger,
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		UploadDir:      cfg.Uploads.Dir,
		UploadURL:      cfg.Uploads.BaseURL,
		MaxUploadBytes: cfg.Uploads.MaxBytes,
		Started:        time.Now(),
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ops := grpcserver.New(db, logger)
	go ops.Watch(ctx, grpcserver.DefaultProbeInterval)
	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := ops.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	// Wait for stop
	exit := 0
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		exit = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	// Handlers may still enqueue notifications until HTTP has drained.
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.Warn("notification queue not drained", zap.Error(err))
	}
	ops.Stop(shutdownCtx)

	logger.Info("shutdown complete")
	if exit != 0 {
		os.Exit(exit)
	}
}

// pruneLoop runs fn hourly until ctx is done.
func pruneLoop(ctx context.Context, log *zap.Logger, fn func(context.Context) error) {
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := fn(ctx); err != nil {
				log.Warn("rate limit prune", zap.Error(err))
			}
		}
	}
}
