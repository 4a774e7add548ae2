package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	NewRelic       NewRelicConfig
	Pricing        PricingConfig
	Gateway        GatewayConfig
	Stripe         StripeConfig
	Reconciliation ReconciliationConfig
	Queue          QueueConfig
	RateLimit      RateLimitConfig
	WebSocket      WebSocketConfig
	Cache          CacheConfig
	Log            LogConfig
	Storage        StorageConfig
}

type ServerConfig struct {
	Port            string
	Env             string
	Host            string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host           string
	Port           int
	Name           string
	User           string
	Password       string
	SSLMode        string
	MaxConnections int
	MaxIdleConns   int
	MaxLifetime    time.Duration
}

type RedisConfig struct {
	Host        string
	Port        string
	Password    string
	DB          int
	MaxRetries  int
	PoolSize    int
	MinIdleConn int
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

type NewRelicConfig struct {
	LicenseKey string
	AppName    string
	Enabled    bool
	LogLevel   string
}

type PricingConfig struct {
	PlatformFeePercent float64
	Currency           string
}

// GatewayConfig configures the hosted-checkout payment provider.
type GatewayConfig struct {
	Provider      string // cashfree or stripe
	BaseURL       string
	ClientID      string
	ClientSecret  string
	APIVersion    string
	WebhookSecret string
	ReturnURL     string // {booking_id} is substituted
	NotifyURL     string
	Timeout       time.Duration
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

type ReconciliationConfig struct {
	MaxVersionRetries int
	SweepOlderThan    time.Duration
	SweepBatchSize    int
	// SweepInterval schedules the sweep in the API process; zero disables it
	SweepInterval time.Duration
	ParkDelay     time.Duration
}

type QueueConfig struct {
	RedisDB     int
	Concurrency int
	MaxRetry    int
}

type RateLimitConfig struct {
	GeneralPerMinute int
	WebhookPerSecond int
	WebhookBurst     int
}

type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
}

type CacheConfig struct {
	TTLIdempotency   time.Duration
	TTLWebhookDedupe time.Duration
}

type LogConfig struct {
	Level  string
	Format string
	Output string
}

type StorageConfig struct {
	Driver string // postgres or memory
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Env:             getEnv("SERVER_ENV", "development"),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ShutdownTimeout: parseDuration(getEnv("SERVER_SHUTDOWN_TIMEOUT", "30s"), 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnvAsInt("DB_PORT", 5432),
			Name:           getEnv("DB_NAME", "tripnest"),
			User:           getEnv("DB_USER", "postgres"),
			Password:       getEnv("DB_PASSWORD", "postgres"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			MaxConnections: getEnvAsInt("DB_MAX_CONNECTIONS", 50),
			MaxIdleConns:   getEnvAsInt("DB_MAX_IDLE_CONNECTIONS", 10),
			MaxLifetime:    time.Duration(getEnvAsInt("DB_MAX_LIFETIME_MINUTES", 30)) * time.Minute,
		},
		Redis: RedisConfig{
			Host:        getEnv("REDIS_HOST", "localhost"),
			Port:        getEnv("REDIS_PORT", "6379"),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getEnvAsInt("REDIS_DB", 0),
			MaxRetries:  getEnvAsInt("REDIS_MAX_RETRIES", 3),
			PoolSize:    getEnvAsInt("REDIS_POOL_SIZE", 50),
			MinIdleConn: 5,
			DialTimeout: 5 * time.Second,
			ReadTimeout: 3 * time.Second,
		},
		NewRelic: NewRelicConfig{
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			AppName:    getEnv("NEW_RELIC_APP_NAME", "TripNest-BookingPayments"),
			Enabled:    getEnvAsBool("NEW_RELIC_ENABLED", true),
			LogLevel:   getEnv("NEW_RELIC_LOG_LEVEL", "info"),
		},
		Pricing: PricingConfig{
			PlatformFeePercent: getEnvAsFloat64("PLATFORM_FEE_PERCENT", 3),
			Currency:           getEnv("PAYMENT_CURRENCY", "INR"),
		},
		Gateway: GatewayConfig{
			Provider:      strings.ToLower(getEnv("PAYMENT_PROVIDER", "cashfree")),
			BaseURL:       getEnv("CASHFREE_BASE_URL", "https://sandbox.cashfree.com/pg"),
			ClientID:      getEnv("CASHFREE_CLIENT_ID", ""),
			ClientSecret:  getEnv("CASHFREE_CLIENT_SECRET", ""),
			APIVersion:    getEnv("CASHFREE_API_VERSION", "2023-08-01"),
			WebhookSecret: getEnv("CASHFREE_WEBHOOK_SECRET", ""),
			ReturnURL:     getEnv("PAYMENT_RETURN_URL", "http://localhost:8080/v1/payments/return?booking_id={booking_id}"),
			NotifyURL:     getEnv("PAYMENT_NOTIFY_URL", "http://localhost:8080/v1/payments/webhook"),
			Timeout:       parseDuration(getEnv("PAYMENT_GATEWAY_TIMEOUT", "10s"), 10*time.Second),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		},
		Reconciliation: ReconciliationConfig{
			MaxVersionRetries: getEnvAsInt("RECONCILE_MAX_VERSION_RETRIES", 3),
			SweepOlderThan:    parseDuration(getEnv("RECONCILE_SWEEP_OLDER_THAN", "15m"), 15*time.Minute),
			SweepBatchSize:    getEnvAsInt("RECONCILE_SWEEP_BATCH_SIZE", 100),
			SweepInterval:     parseDuration(getEnv("RECONCILE_SWEEP_INTERVAL", "5m"), 5*time.Minute),
			ParkDelay:         parseDuration(getEnv("RECONCILE_PARK_DELAY", "1m"), time.Minute),
		},
		Queue: QueueConfig{
			RedisDB:     getEnvAsInt("QUEUE_REDIS_DB", 1),
			Concurrency: getEnvAsInt("QUEUE_CONCURRENCY", 10),
			MaxRetry:    getEnvAsInt("QUEUE_MAX_RETRY", 5),
		},
		RateLimit: RateLimitConfig{
			GeneralPerMinute: getEnvAsInt("RATE_LIMIT_GENERAL_PER_MINUTE", 100),
			WebhookPerSecond: getEnvAsInt("RATE_LIMIT_WEBHOOK_PER_SECOND", 50),
			WebhookBurst:     getEnvAsInt("RATE_LIMIT_WEBHOOK_BURST", 100),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getEnvAsInt("WS_READ_BUFFER_SIZE", 1024),
			WriteBufferSize: getEnvAsInt("WS_WRITE_BUFFER_SIZE", 1024),
		},
		Cache: CacheConfig{
			TTLIdempotency:   time.Duration(getEnvAsInt("CACHE_TTL_IDEMPOTENCY", 86400)) * time.Second,
			TTLWebhookDedupe: time.Duration(getEnvAsInt("CACHE_TTL_WEBHOOK_DEDUPE", 86400)) * time.Second,
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(getEnv("STORAGE_DRIVER", "postgres")),
		},
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// IsProduction reports whether the server runs in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}
	switch c.Storage.Driver {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("DB_HOST is required")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("DB_NAME is required")
		}
	case "memory":
		if c.IsProduction() {
			return fmt.Errorf("STORAGE_DRIVER=memory is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver)
	}
	if c.Redis.Host == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}
	if c.Pricing.PlatformFeePercent < 0 || c.Pricing.PlatformFeePercent > 100 {
		return fmt.Errorf("PLATFORM_FEE_PERCENT must be between 0 and 100")
	}
	if c.Reconciliation.MaxVersionRetries < 1 {
		return fmt.Errorf("RECONCILE_MAX_VERSION_RETRIES must be at least 1")
	}
	switch c.Gateway.Provider {
	case "cashfree":
		if c.IsProduction() && (c.Gateway.ClientID == "" || c.Gateway.ClientSecret == "") {
			return fmt.Errorf("CASHFREE_CLIENT_ID and CASHFREE_CLIENT_SECRET must be set in production")
		}
	case "stripe":
		if c.Stripe.SecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required when PAYMENT_PROVIDER=stripe")
		}
	default:
		return fmt.Errorf("unknown PAYMENT_PROVIDER %q", c.Gateway.Provider)
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	return defaultValue
}
