package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (FULFIL_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (FULFIL_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisAddr   string `default:"localhost:6379" usage:"Redis address for the expiry queue" flag:"redis-addr"`
	Kafka       KafkaConfig
	Webhook     WebhookConfig
	Expiry      ExpiryConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// KafkaConfig controls the notification and rewards producers. Empty brokers
// disable publishing.
type KafkaConfig struct {
	Brokers      []string `usage:"Kafka broker addresses" flag:"kafka-brokers"`
	NotifyTopic  string   `default:"fulfillment.notifications" usage:"Notification topic" flag:"notify-topic"`
	RewardsTopic string   `default:"fulfillment.rewards" usage:"Loyalty credit topic" flag:"rewards-topic"`
	NotifyBuffer int      `default:"256" usage:"Notification inbox buffer size" flag:"notify-buffer"`
}

// WebhookConfig holds the per-gateway HMAC secrets. A gateway with no secret
// skips signature verification.
type WebhookConfig struct {
	MomoSecret    string `usage:"Momo webhook HMAC secret" flag:"momo-secret"`
	ZaloPaySecret string `usage:"ZaloPay webhook HMAC secret" flag:"zalopay-secret"`
	VNPaySecret   string `usage:"VNPay webhook HMAC secret" flag:"vnpay-secret"`
	PayPalSecret  string `usage:"PayPal webhook HMAC secret" flag:"paypal-secret"`
	StripeSecret  string `usage:"Stripe webhook HMAC secret" flag:"stripe-secret"`
}

// ExpiryConfig controls the payment expiry scheduler.
type ExpiryConfig struct {
	Interval time.Duration `default:"10s" usage:"Poll interval for due payment expiries" flag:"expiry-interval"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
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

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "FULFIL",
		Files:     []string{"config.yaml", "/etc/fulfillment/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set FULFIL_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT to the FULFIL_-prefixed
// configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" && c.RedisAddr == "localhost:6379" {
		c.RedisAddr = v
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
