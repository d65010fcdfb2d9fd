// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

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

	// Provider selection
	FraudProvider  string // "sandbox", "riskguard", "stripe"
	CreditProvider string // "sandbox", "equinav", "crednova"

	// Provider credentials / endpoints
	RiskGuardURL    string
	RiskGuardAPIKey string
	StripeAPIKey    string
	EquinavURL      string
	EquinavAPIKey   string
	CrednovaURL     string
	CrednovaToken   string

	// Provider call bounds
	FraudTimeout  time.Duration
	CreditTimeout time.Duration

	// Worker pool
	Workers     int // concurrent task processors
	MaxAttempts int // task delivery attempts before dead-lettering

	// Periodic review
	ReviewInterval time.Duration

	// Notifications
	NotifyWebhookURL string // optional outbound webhook for decision notifications

	// Tracing
	OTLPEndpoint string
}

// Defaults for local development.
const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultFraudProvider  = "sandbox"
	DefaultCreditProvider = "sandbox"
	DefaultWorkers        = 4
	DefaultMaxAttempts    = 3
	DefaultFraudTimeout   = 10 * time.Second
	DefaultCreditTimeout  = 15 * time.Second
	DefaultReviewInterval = 1 * time.Hour
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:      os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		FraudProvider:    getEnv("FRAUD_PROVIDER", DefaultFraudProvider),
		CreditProvider:   getEnv("CREDIT_PROVIDER", DefaultCreditProvider),
		RiskGuardURL:     os.Getenv("RISKGUARD_URL"),
		RiskGuardAPIKey:  os.Getenv("RISKGUARD_API_KEY"),
		StripeAPIKey:     os.Getenv("STRIPE_API_KEY"),
		EquinavURL:       os.Getenv("EQUINAV_URL"),
		EquinavAPIKey:    os.Getenv("EQUINAV_API_KEY"),
		CrednovaURL:      os.Getenv("CREDNOVA_URL"),
		CrednovaToken:    os.Getenv("CREDNOVA_TOKEN"),
		FraudTimeout:     getEnvDuration("FRAUD_TIMEOUT", DefaultFraudTimeout),
		CreditTimeout:    getEnvDuration("CREDIT_TIMEOUT", DefaultCreditTimeout),
		Workers:          int(getEnvInt64("WORKERS", DefaultWorkers)),
		MaxAttempts:      int(getEnvInt64("TASK_MAX_ATTEMPTS", DefaultMaxAttempts)),
		ReviewInterval:   getEnvDuration("REVIEW_INTERVAL", DefaultReviewInterval),
		NotifyWebhookURL: os.Getenv("NOTIFY_WEBHOOK_URL"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configured providers have the credentials they need.
// Unknown provider names are rejected here so a misconfigured deployment fails
// at startup, not on the first check.
func (c *Config) Validate() error {
	switch c.FraudProvider {
	case "sandbox":
	case "riskguard":
		if c.RiskGuardURL == "" || c.RiskGuardAPIKey == "" {
			return fmt.Errorf("RISKGUARD_URL and RISKGUARD_API_KEY are required for fraud provider %q", c.FraudProvider)
		}
	case "stripe":
		if c.StripeAPIKey == "" {
			return fmt.Errorf("STRIPE_API_KEY is required for fraud provider %q", c.FraudProvider)
		}
	default:
		return fmt.Errorf("unknown fraud provider %q", c.FraudProvider)
	}

	switch c.CreditProvider {
	case "sandbox":
	case "equinav":
		if c.EquinavURL == "" || c.EquinavAPIKey == "" {
			return fmt.Errorf("EQUINAV_URL and EQUINAV_API_KEY are required for credit provider %q", c.CreditProvider)
		}
	case "crednova":
		if c.CrednovaURL == "" || c.CrednovaToken == "" {
			return fmt.Errorf("CREDNOVA_URL and CREDNOVA_TOKEN are required for credit provider %q", c.CreditProvider)
		}
	default:
		return fmt.Errorf("unknown credit provider %q", c.CreditProvider)
	}

	if c.Workers <= 0 {
		return fmt.Errorf("WORKERS must be positive, got %d", c.Workers)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("TASK_MAX_ATTEMPTS must be positive, got %d", c.MaxAttempts)
	}

	return nil
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
