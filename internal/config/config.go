// Package config loads service configuration from an optional YAML file and APINLERO_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/and161185/apinlero/internal/limiter"
	"github.com/and161185/apinlero/internal/money"
	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Env       string          `mapstructure:"env"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Orders    OrdersConfig    `mapstructure:"orders"`
	Payments  PaymentsConfig  `mapstructure:"payments"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Uploads   UploadsConfig   `mapstructure:"uploads"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

type HTTPConfig struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type AuthConfig struct {
	JWTSecret       string        `mapstructure:"jwt_secret"`
	AccessTTL       time.Duration `mapstructure:"access_ttl"`
	RefreshTTL      time.Duration `mapstructure:"refresh_ttl"`
	BcryptCost      int           `mapstructure:"bcrypt_cost"`
	MaxFailedLogins int           `mapstructure:"max_failed_logins"`
	LockDuration    time.Duration `mapstructure:"lock_duration"`
}

// OrdersConfig keeps amounts as decimal strings; Validate fills the minor-unit fields.
type OrdersConfig struct {
	Currency              string            `mapstructure:"currency"`
	DefaultDeliveryFee    string            `mapstructure:"default_delivery_fee"`
	FreeDeliveryThreshold string            `mapstructure:"free_delivery_threshold"`
	DeliveryFees          map[string]string `mapstructure:"delivery_fees"`
	AdminPhone            string            `mapstructure:"admin_phone"`
	AdminEmail            string            `mapstructure:"admin_email"`

	DefaultFeeMinor int64            `mapstructure:"-"`
	ThresholdMinor  int64            `mapstructure:"-"`
	RegionFeesMinor map[string]int64 `mapstructure:"-"`
}

type PaymentsConfig struct {
	WebhookSecret    string        `mapstructure:"webhook_secret"`
	WebhookTolerance time.Duration `mapstructure:"webhook_tolerance"`
	StripeKey        string        `mapstructure:"stripe_key"`
}

// RateLimitConfig quota keys use underscores in files, e.g. payments_webhook.
type RateLimitConfig struct {
	Backend string         `mapstructure:"backend"`
	Quotas  limiter.Quotas `mapstructure:"quotas"`
}

type UploadsConfig struct {
	Dir      string `mapstructure:"dir"`
	BaseURL  string `mapstructure:"base_url"`
	MaxBytes int64  `mapstructure:"max_bytes"`
}

type NotifyConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

const minSecretLen = 32

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "prod")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.cors_origins", []string{})
	v.SetDefault("grpc.addr", ":9090")
	v.SetDefault("database.url", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.access_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_ttl", 720*time.Hour)
	v.SetDefault("auth.bcrypt_cost", 12)
	v.SetDefault("auth.max_failed_logins", 5)
	v.SetDefault("auth.lock_duration", 30*time.Minute)
	v.SetDefault("orders.currency", "GBP")
	v.SetDefault("orders.default_delivery_fee", "4.99")
	v.SetDefault("orders.free_delivery_threshold", "50.00")
	v.SetDefault("orders.delivery_fees", map[string]string{})
	v.SetDefault("orders.admin_phone", "")
	v.SetDefault("orders.admin_email", "")
	v.SetDefault("payments.webhook_secret", "")
	v.SetDefault("payments.webhook_tolerance", 5*time.Minute)
	v.SetDefault("payments.stripe_key", "")
	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("uploads.dir", "./uploads")
	v.SetDefault("uploads.base_url", "/uploads")
	v.SetDefault("uploads.max_bytes", 5<<20)
	v.SetDefault("notify.workers", 4)
	v.SetDefault("notify.queue_size", 256)
}

// Load reads configuration. path may be empty, in which case ./config.yaml is used when present.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("APINLERO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.RateLimit.Quotas = limiter.DefaultQuotas().Merge(normaliseQuotaKeys(cfg.RateLimit.Quotas))
	return &cfg, nil
}

// normaliseQuotaKeys maps file keys such as auth_login to endpoint names such as auth.login;
// viper would otherwise split dotted keys into nested maps.
func normaliseQuotaKeys(in limiter.Quotas) limiter.Quotas {
	out := make(limiter.Quotas, len(in))
	for k, q := range in {
		out[strings.ReplaceAll(strings.ToLower(k), "_", ".")] = q
	}
	return out
}

// Dev reports whether the service runs in development mode.
func (c *Config) Dev() bool { return c.Env == "dev" }

// Validate checks required settings and converts amounts. All problems are reported together.
func (c *Config) Validate() error {
	var problems []error
	if c.Database.URL == "" {
		problems = append(problems, errors.New("database.url is required"))
	}
	if len(c.Auth.JWTSecret) < minSecretLen {
		problems = append(problems, fmt.Errorf("auth.jwt_secret must be at least %d bytes", minSecretLen))
	}
	if c.Payments.WebhookSecret == "" {
		problems = append(problems, errors.New("payments.webhook_secret is required"))
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		problems = append(problems, errors.New("auth.bcrypt_cost must be between 4 and 31"))
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		problems = append(problems, errors.New("auth token ttls must be positive"))
	}
	if c.Auth.MaxFailedLogins < 1 {
		problems = append(problems, errors.New("auth.max_failed_logins must be at least 1"))
	}
	switch c.RateLimit.Backend {
	case "memory", "postgres":
	default:
		problems = append(problems, fmt.Errorf("ratelimit.backend %q: want memory or postgres", c.RateLimit.Backend))
	}
	if c.Uploads.MaxBytes <= 0 {
		problems = append(problems, errors.New("uploads.max_bytes must be positive"))
	}

	var err error
	if c.Orders.DefaultFeeMinor, err = parseAmount("orders.default_delivery_fee", c.Orders.DefaultDeliveryFee); err != nil {
		problems = append(problems, err)
	}
	if c.Orders.ThresholdMinor, err = parseAmount("orders.free_delivery_threshold", c.Orders.FreeDeliveryThreshold); err != nil {
		problems = append(problems, err)
	}
	c.Orders.RegionFeesMinor = make(map[string]int64, len(c.Orders.DeliveryFees))
	for region, fee := range c.Orders.DeliveryFees {
		minor, err := parseAmount("orders.delivery_fees."+region, fee)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		c.Orders.RegionFeesMinor[strings.ToLower(strings.TrimSpace(region))] = minor
	}
	return errors.Join(problems...)
}

func parseAmount(key, s string) (int64, error) {
	v, err := money.Parse(s)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s: invalid amount %q", key, s)
	}
	return v, nil
}
