// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Payment gateway
	StripeSecretKey string // Stripe API key for wallet topups
	TopupSuccessURL string // Where the gateway sends the buyer after paying
	TopupCancelURL  string // Where the gateway sends the buyer after cancelling

	// Escrow settings
	PlatformAccountID string // Ledger account that collects fees and forfeits

	// Security
	APIKeyHash    string // For authenticating SDK clients
	AdminSecret   string // Admin API secret
	WebhookSecret string
	RateLimitRPS  int

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint; empty disables tracing
}

const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultPlatformAccountID = "platform"
	DefaultRateLimit         = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		StripeSecretKey:   os.Getenv("STRIPE_SECRET_KEY"),
		TopupSuccessURL:   os.Getenv("TOPUP_SUCCESS_URL"),
		TopupCancelURL:    os.Getenv("TOPUP_CANCEL_URL"),
		PlatformAccountID: getEnv("PLATFORM_ACCOUNT_ID", DefaultPlatformAccountID),
		APIKeyHash:        os.Getenv("API_KEY_HASH"),
		AdminSecret:       os.Getenv("ADMIN_SECRET"),
		WebhookSecret:     os.Getenv("WEBHOOK_SECRET"),
		RateLimitRPS:      int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.PlatformAccountID == "" {
		return fmt.Errorf("PLATFORM_ACCOUNT_ID must not be empty")
	}

	// Topups need the full gateway triple; all-or-nothing so a half
	// configured deployment fails at boot, not at first payment.
	gateway := 0
	for _, v := range []string{c.StripeSecretKey, c.TopupSuccessURL, c.TopupCancelURL} {
		if v != "" {
			gateway++
		}
	}
	if gateway != 0 && gateway != 3 {
		return fmt.Errorf("STRIPE_SECRET_KEY, TOPUP_SUCCESS_URL and TOPUP_CANCEL_URL must be set together")
	}

	if c.IsProduction() && c.StripeSecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required in production")
	}

	return nil
}

// TopupsEnabled reports whether the payment gateway is configured.
func (c *Config) TopupsEnabled() bool {
	return c.StripeSecretKey != ""
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
