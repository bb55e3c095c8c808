package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL prepended to product image paths" flag:"image-base-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (SHOP_API_KEY_PEPPER)" flag:"api-key-pepper"`
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
	Checkout     CheckoutConfig
	CouponCache  CouponCacheConfig
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window, 0 disables limiting"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// CheckoutConfig holds order pricing parameters. Amounts are decimal strings.
type CheckoutConfig struct {
	ShippingFee           string `default:"4.99" usage:"Flat shipping fee" flag:"shipping-fee"`
	FreeShippingThreshold string `default:"50"   usage:"Subtotal waiving shipping, 0 disables" flag:"free-shipping-threshold"`
}

// CouponCacheConfig controls in-memory caching of coupon definitions.
type CouponCacheConfig struct {
	Enabled         bool          `default:"true" usage:"Cache coupon lookups in memory" flag:"coupon-cache"`
	TTL             time.Duration `default:"30s"  usage:"Coupon definition cache TTL" flag:"coupon-cache-ttl"`
	CleanupInterval time.Duration `default:"5m"   usage:"Expired coupon eviction interval" flag:"coupon-cache-cleanup"`
}

// Amounts parses the checkout amounts.
func (c CheckoutConfig) Amounts() (fee, threshold decimal.Decimal, err error) {
	if fee, err = decimal.NewFromString(c.ShippingFee); err != nil {
		return fee, threshold, errors.Wrap(err, "shipping fee")
	}
	if threshold, err = decimal.NewFromString(c.FreeShippingThreshold); err != nil {
		return fee, threshold, errors.Wrap(err, "free shipping threshold")
	}
	if fee.IsNegative() || threshold.IsNegative() {
		return fee, threshold, errors.New("checkout amounts must not be negative")
	}
	return fee, threshold, nil
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/shop/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
	}
	if _, _, err := c.Checkout.Amounts(); err != nil {
		return errors.Wrap(err, "checkout")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables that
// use standard names like DATABASE_URL and PORT to the SHOP_ configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
