package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Loan API
	LoanAPIURL string
	LoanAPIKey string

	// Event feed
	EventFeedURL        string
	ReconnectMaxBackoff time.Duration
	// ResyncMinGap is the shortest feed outage that triggers a full
	// resync on reconnect. Zero resyncs after every reconnect.
	ResyncMinGap time.Duration

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	IdentityCacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// JWT / Auth
	JWTSecret string

	// Reports
	Currency        string
	ReportPageLines int
	ReportDir       string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		LoanAPIURL: getEnv("LOAN_API_URL", "http://localhost:8000"),
		LoanAPIKey: getEnv("LOAN_API_KEY", ""),

		EventFeedURL:        getEnv("EVENT_FEED_URL", "ws://localhost:8000/ws/loans"),
		ReconnectMaxBackoff: getEnvDuration("RECONNECT_MAX_BACKOFF", 30*time.Second),
		ResyncMinGap:        getEnvDuration("RESYNC_MIN_GAP", 0),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 16),

		IdentityCacheTTL: getEnvDuration("IDENTITY_CACHE_TTL", 5*time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		JWTSecret: getEnv("JWT_SECRET", "loandesk-default-dev-secret-change-me"),

		Currency:        getEnv("CURRENCY", "USD"),
		ReportPageLines: getEnvInt("REPORT_PAGE_LINES", 30),
		ReportDir:       getEnv("REPORT_DIR", "reports"),
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("PORT out of range: %d", c.Port)
	case c.LoanAPIURL == "":
		return fmt.Errorf("LOAN_API_URL is required")
	case c.EventFeedURL == "":
		return fmt.Errorf("EVENT_FEED_URL is required")
	case c.ResyncMinGap < 0:
		return fmt.Errorf("RESYNC_MIN_GAP must not be negative")
	case c.JWTSecret == "":
		return fmt.Errorf("JWT_SECRET is required")
	case c.ReportPageLines < 10:
		return fmt.Errorf("REPORT_PAGE_LINES too small: %d", c.ReportPageLines)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
