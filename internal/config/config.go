package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the storefront core service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"SHOP_HTTP_PORT" envDefault:"8080"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"shop"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"shop_secret"`
	PostgresDB   string `env:"SHOP_DB_NAME" envDefault:"shop_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINS" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINS" envDefault:"30"`

	// Redis (cart store)
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Cart
	CartTTL time.Duration `env:"CART_TTL" envDefault:"168h"`

	// Payment
	PaymentProvider    string        `env:"PAYMENT_PROVIDER" envDefault:"mock"`
	ProviderBaseURL    string        `env:"PAYMENT_PROVIDER_BASE_URL" envDefault:"http://localhost:9200"`
	SessionTTL         time.Duration `env:"PAYMENT_SESSION_TTL" envDefault:"30m"`
	PollMaxAttempts    int           `env:"PAYMENT_POLL_MAX_ATTEMPTS" envDefault:"5"`
	PollInterval       time.Duration `env:"PAYMENT_POLL_INTERVAL" envDefault:"2s"`
	SessionSweepPeriod time.Duration `env:"PAYMENT_SESSION_SWEEP_PERIOD" envDefault:"1m"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Pprof debug endpoint allowlist (CIDR notation). Empty disables pprof.
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.PaymentProvider != "mock" && c.PaymentProvider != "hosted" {
		return fmt.Errorf("invalid payment provider %q, must be mock or hosted", c.PaymentProvider)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("payment session TTL must be positive, got %s", c.SessionTTL)
	}
	if c.PollMaxAttempts < 1 {
		return fmt.Errorf("payment poll max attempts must be at least 1, got %d", c.PollMaxAttempts)
	}
	return nil
}

// PostgresDSN returns the PostgreSQL connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPass, c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSL,
	)
}
