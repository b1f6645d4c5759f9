package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sparkclean/sparkclean-platform/internal/http/handlers"
	httpmiddleware "github.com/sparkclean/sparkclean-platform/internal/http/middleware"
	"github.com/sparkclean/sparkclean-platform/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger *logging.Logger

	// StripeWebhook serves POST /api/stripe/webhook.
	StripeWebhook http.Handler
	Bookings      *handlers.BookingsHandler

	JWTSecret          string
	CORSAllowedOrigins []string
	RateLimiter        *httpmiddleware.RateLimiter
	MetricsHandler     http.Handler

	// HealthCheck reports dependency health; nil means always healthy.
	HealthCheck func(ctx context.Context) error
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}

	r.Get("/health", healthHandler(cfg.HealthCheck))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Provider callbacks authenticate by signature, not by user token.
	if cfg.StripeWebhook != nil {
		r.Method(http.MethodPost, "/api/stripe/webhook", cfg.StripeWebhook)
	}

	if cfg.Bookings != nil {
		r.Group(func(api chi.Router) {
			if cfg.RateLimiter != nil {
				api.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
			}
			api.Use(httpmiddleware.Auth(cfg.JWTSecret, cfg.Logger))
			api.Get("/api/bookings/{id}", cfg.Bookings.Get)
			api.Patch("/api/bookings/{id}", cfg.Bookings.Update)
			api.Delete("/api/bookings/{id}", cfg.Bookings.Cancel)
		})
	}

	return r
}

func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, body := http.StatusOK, map[string]string{"status": "ok"}
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				status, body = http.StatusServiceUnavailable, map[string]string{"status": "unavailable"}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
