package internal

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// Application base URL (for email links)
	BaseURL string

	// SMTP Configuration
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string

	// Worker Configuration
	WorkerEnabled      bool
	WorkerConcurrency  int
	WorkerPollInterval time.Duration
	WorkerJobTimeout   time.Duration

	// Entitlement policy
	//
	// PastDueGraceWindow is how long a past_due subscription keeps its paid
	// entitlement before resolving as free. It is deployment policy, not a
	// per-user setting, and is never hard-coded in the resolver.
	PastDueGraceWindow time.Duration

	// InvitationTTL is how long a department invitation stays acceptable.
	InvitationTTL time.Duration

	// HistoryCleanupInterval is how often the search-history reclaim job is
	// re-enqueued. Retention itself is enforced at read time; the job only
	// reclaims storage.
	HistoryCleanupInterval time.Duration

	// Stripe Billing Configuration
	// These are required when billing is enabled in production.
	// In development the webhook handler rejects deliveries if they are empty.
	StripeSecretKey     string // Stripe API secret key (sk_test_... or sk_live_...)
	StripeWebhookSecret string // Stripe webhook signing secret (whsec_...)

	// Stripe Price IDs for individual subscription plans
	StripeProMonthlyPriceID        string
	StripeProYearlyPriceID         string
	StripeEnterpriseMonthlyPriceID string
	StripeEnterpriseYearlyPriceID  string

	// Stripe Price IDs for department (seat-based) plans
	StripeDeptStarterPriceID      string
	StripeDeptProfessionalPriceID string
	StripeDeptEnterprisePriceID   string

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		BaseURL: getEnv("BASE_URL", "http://localhost:8080"),

		// SMTP defaults for Mailhog (development)
		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnvInt("SMTP_PORT", 1025),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@titlescout.app"),
		SMTPFromName: getEnv("SMTP_FROM_NAME", "TitleScout"),

		// Worker defaults
		WorkerEnabled:      getEnvBool("WORKER_ENABLED", true),
		WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 2),
		WorkerPollInterval: getEnvDuration("WORKER_POLL_INTERVAL", 5*time.Second),
		WorkerJobTimeout:   getEnvDuration("WORKER_JOB_TIMEOUT", 5*time.Minute),

		// Entitlement policy defaults
		PastDueGraceWindow:     getEnvDuration("PAST_DUE_GRACE_WINDOW", 72*time.Hour),
		InvitationTTL:          getEnvDuration("INVITATION_TTL", 7*24*time.Hour),
		HistoryCleanupInterval: getEnvDuration("HISTORY_CLEANUP_INTERVAL", 6*time.Hour),

		// Stripe billing
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		// Stripe price IDs (required when billing is enabled)
		StripeProMonthlyPriceID:        getEnv("STRIPE_PRO_MONTHLY_PRICE_ID", ""),
		StripeProYearlyPriceID:         getEnv("STRIPE_PRO_YEARLY_PRICE_ID", ""),
		StripeEnterpriseMonthlyPriceID: getEnv("STRIPE_ENTERPRISE_MONTHLY_PRICE_ID", ""),
		StripeEnterpriseYearlyPriceID:  getEnv("STRIPE_ENTERPRISE_YEARLY_PRICE_ID", ""),
		StripeDeptStarterPriceID:       getEnv("STRIPE_DEPT_STARTER_PRICE_ID", ""),
		StripeDeptProfessionalPriceID:  getEnv("STRIPE_DEPT_PROFESSIONAL_PRICE_ID", ""),
		StripeDeptEnterprisePriceID:    getEnv("STRIPE_DEPT_ENTERPRISE_PRICE_ID", ""),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Required
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
	if cfg.DatabaseUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.PastDueGraceWindow < 0 {
		return nil, fmt.Errorf("PAST_DUE_GRACE_WINDOW must not be negative")
	}
	if cfg.InvitationTTL < time.Hour {
		return nil, fmt.Errorf("INVITATION_TTL must be at least 1 hour, got %v", cfg.InvitationTTL)
	}

	// Billing must be fully configured or not at all; a secret key without a
	// webhook secret would accept unsigned deliveries.
	if cfg.StripeSecretKey != "" && cfg.StripeWebhookSecret == "" {
		return nil, fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
