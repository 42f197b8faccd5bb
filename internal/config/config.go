// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// HTTP surface
	AllowedOrigins     []string // CORS; empty allows every origin
	RateLimitPerMinute int      // Per-address cap on withdrawal initiation; 0 disables

	// Database (optional, in-memory stores when unset)
	DatabaseURL string

	// Payment processor
	StripeAPIKey     string        // Required
	WebhookSecret    string        // Required, shared secret for inbound event signatures
	WebhookTolerance time.Duration // Max age of a signed webhook timestamp
	ProcessorTimeout time.Duration // Per-call bound on processor RPCs

	// Risk thresholds. The defaults mirror observed production tuning
	// and are deliberately overridable until policy pins them down.
	ReviewThreshold         int     // Composite score above which review is required
	LargeAmountCents        int64   // "high_amount" flag threshold
	UnusualAmountMultiplier float64 // Multiple of trailing average that flags "unusual_amount"
	NearLimitFraction       float64 // Fraction of daily limit that flags "near_limit"
	DefaultDailyLimitCents  int64   // Applied when an account has no explicit limit
	CollectorTimeout        time.Duration

	// Observability
	OTLPEndpoint string
}

// Defaults.
const (
	DefaultPort                 = "8080"
	DefaultEnv                  = "development"
	DefaultLogLevel             = "info"
	DefaultReviewThreshold      = 30
	DefaultLargeAmountCents     = 500_000    // $5,000
	DefaultDailyLimit           = 1_000_000  // $10,000
	DefaultUnusualMultiplier    = 10.0
	DefaultNearLimitFraction    = 0.95
	DefaultWebhookTolerance     = 5 * time.Minute
	DefaultProcessorTimeout     = 10 * time.Second
	DefaultCollectorTimeout     = 200 * time.Millisecond
	DefaultRateLimitPerMinute   = 60
)

// Load reads configuration from environment variables. A .env file is
// loaded first when present (local development only).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                    getEnv("PORT", DefaultPort),
		Env:                     getEnv("ENV", DefaultEnv),
		LogLevel:                getEnv("LOG_LEVEL", DefaultLogLevel),
		AllowedOrigins:          splitCSV(os.Getenv("ALLOWED_ORIGINS")),
		RateLimitPerMinute:      int(getEnvInt64("RATE_LIMIT_PER_MINUTE", DefaultRateLimitPerMinute)),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		StripeAPIKey:            os.Getenv("STRIPE_API_KEY"),
		WebhookSecret:           os.Getenv("WEBHOOK_SECRET"),
		WebhookTolerance:        getEnvDuration("WEBHOOK_TOLERANCE", DefaultWebhookTolerance),
		ProcessorTimeout:        getEnvDuration("PROCESSOR_TIMEOUT", DefaultProcessorTimeout),
		ReviewThreshold:         int(getEnvInt64("RISK_REVIEW_THRESHOLD", DefaultReviewThreshold)),
		LargeAmountCents:        getEnvInt64("RISK_LARGE_AMOUNT_CENTS", DefaultLargeAmountCents),
		UnusualAmountMultiplier: getEnvFloat("RISK_UNUSUAL_MULTIPLIER", DefaultUnusualMultiplier),
		NearLimitFraction:       getEnvFloat("RISK_NEAR_LIMIT_FRACTION", DefaultNearLimitFraction),
		DefaultDailyLimitCents:  getEnvInt64("DEFAULT_DAILY_LIMIT_CENTS", DefaultDailyLimit),
		CollectorTimeout:        getEnvDuration("RISK_COLLECTOR_TIMEOUT", DefaultCollectorTimeout),
		OTLPEndpoint:            os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate refuses to start without the secrets the money path depends
// on. A missing webhook secret must fail here, not per-request.
func (c *Config) Validate() error {
	if c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required")
	}
	if c.StripeAPIKey == "" {
		return fmt.Errorf("STRIPE_API_KEY is required")
	}
	if c.ReviewThreshold < 0 || c.ReviewThreshold > 100 {
		return fmt.Errorf("RISK_REVIEW_THRESHOLD must be in [0,100], got %d", c.ReviewThreshold)
	}
	if c.NearLimitFraction <= 0 || c.NearLimitFraction > 1 {
		return fmt.Errorf("RISK_NEAR_LIMIT_FRACTION must be in (0,1], got %f", c.NearLimitFraction)
	}
	if c.UnusualAmountMultiplier <= 1 {
		return fmt.Errorf("RISK_UNUSUAL_MULTIPLIER must be > 1, got %f", c.UnusualAmountMultiplier)
	}
	// The amount signal divides by the large-amount baseline.
	if c.LargeAmountCents <= 0 {
		return fmt.Errorf("RISK_LARGE_AMOUNT_CENTS must be positive, got %d", c.LargeAmountCents)
	}
	if c.DefaultDailyLimitCents <= 0 {
		return fmt.Errorf("DEFAULT_DAILY_LIMIT_CENTS must be positive, got %d", c.DefaultDailyLimitCents)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
