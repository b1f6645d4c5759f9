package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("STRIPE_SECRET_KEY", "")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.StripeWebhookSecret != "" {
		t.Fatalf("expected webhook secret unset by default")
	}
	if cfg.StripeConfigured() {
		t.Fatalf("expected stripe unconfigured by default")
	}
	if cfg.RefundWindowHours != 24 {
		t.Fatalf("expected 24h refund window, got %d", cfg.RefundWindowHours)
	}
	if cfg.ReconcileStaleAfter != 10*time.Minute {
		t.Fatalf("expected default stale window, got %s", cfg.ReconcileStaleAfter)
	}
	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Fatalf("expected no CORS origins, got %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "  whsec_abc  ")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("RECONCILE_INTERVAL", "45s")
	t.Setenv("RECONCILE_MAX_ATTEMPTS", "not-a-number")

	cfg := Load()
	if cfg.Port != "9090" || cfg.Env != "production" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected basics: %+v", cfg)
	}
	if cfg.StripeWebhookSecret != "whsec_abc" {
		t.Fatalf("expected trimmed webhook secret, got %q", cfg.StripeWebhookSecret)
	}
	if !cfg.StripeConfigured() {
		t.Fatalf("expected stripe configured")
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Fatalf("expected 2.5 rps, got %v", cfg.RateLimitRPS)
	}
	if cfg.ReconcileInterval != 45*time.Second {
		t.Fatalf("expected 45s interval, got %s", cfg.ReconcileInterval)
	}
	if cfg.ReconcileMaxAttempts != 5 {
		t.Fatalf("expected fallback to default attempts, got %d", cfg.ReconcileMaxAttempts)
	}
}
