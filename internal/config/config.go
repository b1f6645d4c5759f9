package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string

	// Auth
	JWTSecret          string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	// Redis locks (optional)
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	LockTTL       time.Duration

	// Email
	EmailProvider     string
	SendGridAPIKey    string
	EmailFromAddress  string
	EmailFromName     string
	AWSRegion         string
	AWSAccessKeyID    string
	AWSSecretKey      string
	AWSEndpointURL    string
	NotifyTimeout     time.Duration
	RefundWindowHours int

	// Reconciler
	ReconcileInterval    time.Duration
	ReconcileStaleAfter  time.Duration
	ReconcileMaxAttempts int
	ReconcileBatchSize   int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: strings.TrimSpace(getEnv("STRIPE_WEBHOOK_SECRET", "")),

		JWTSecret:          getEnv("JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 40),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		LockTTL:       getEnvAsDuration("LOCK_TTL", 30*time.Second),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "auto"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		EmailFromAddress:  getEnv("EMAIL_FROM_ADDRESS", "bookings@sparkclean.app"),
		EmailFromName:     getEnv("EMAIL_FROM_NAME", "SparkClean"),
		AWSRegion:         getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:    getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointURL:    getEnv("AWS_ENDPOINT_URL", ""),
		NotifyTimeout:     getEnvAsDuration("NOTIFY_TIMEOUT", 15*time.Second),
		RefundWindowHours: getEnvAsInt("REFUND_FULL_WINDOW_HOURS", 24),

		ReconcileInterval:    getEnvAsDuration("RECONCILE_INTERVAL", time.Minute),
		ReconcileStaleAfter:  getEnvAsDuration("RECONCILE_STALE_AFTER", 10*time.Minute),
		ReconcileMaxAttempts: getEnvAsInt("RECONCILE_MAX_ATTEMPTS", 5),
		ReconcileBatchSize:   getEnvAsInt("RECONCILE_BATCH_SIZE", 25),
	}
}

// StripeConfigured reports whether outbound Stripe calls can be made.
func (c *Config) StripeConfigured() bool {
	return strings.TrimSpace(c.StripeSecretKey) != ""
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
