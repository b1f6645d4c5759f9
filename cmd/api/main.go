package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sparkclean/sparkclean-platform/internal/api/router"
	"github.com/sparkclean/sparkclean-platform/internal/app/bootstrap"
	"github.com/sparkclean/sparkclean-platform/internal/bookings"
	"github.com/sparkclean/sparkclean-platform/internal/cancellation"
	"github.com/sparkclean/sparkclean-platform/internal/compliance"
	appconfig "github.com/sparkclean/sparkclean-platform/internal/config"
	"github.com/sparkclean/sparkclean-platform/internal/http/handlers"
	"github.com/sparkclean/sparkclean-platform/internal/http/middleware"
	"github.com/sparkclean/sparkclean-platform/internal/observability/metrics"
	"github.com/sparkclean/sparkclean-platform/internal/payments"
	"github.com/sparkclean/sparkclean-platform/internal/store"
	"github.com/sparkclean/sparkclean-platform/internal/webhooks"
	"github.com/sparkclean/sparkclean-platform/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting sparkclean API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		logger.Error("API server requires a reachable DATABASE_URL")
		os.Exit(1)
	}
	defer pool.Close()

	metricsHandler, paymentMetrics := setupMetrics()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}
	locker := bootstrap.BuildLocker(redisClient, cfg, "sparkclean:lock:")

	notifier, err := bootstrap.BuildNotifier(ctx, cfg, pool, paymentMetrics, logger)
	if err != nil {
		logger.Error("failed to configure email", "error", err)
		os.Exit(1)
	}
	defer notifier.Wait()

	audit := compliance.NewAuditService(stdlib.OpenDBFromPool(pool))
	uow := store.NewPostgres(pool, logger)

	if !cfg.StripeConfigured() {
		logger.Warn("STRIPE_SECRET_KEY not set; cancellations will not issue refunds")
	}
	refunds := payments.NewStripeRefunds(cfg.StripeSecretKey, logger)
	canceller := cancellation.NewService(uow, refunds, locker, notifier, audit, paymentMetrics, logger,
		cancellation.WithFullRefundWindow(time.Duration(cfg.RefundWindowHours)*time.Hour),
	)
	updater := bookings.NewUpdater(bookings.NewRepository(pool), notifier, logger)

	processor, _ := bootstrap.BuildWebhookProcessor(pool, uow, notifier, audit, paymentMetrics, logger)
	verifier := payments.NewStripeVerifier(cfg.StripeWebhookSecret)
	if !verifier.Configured() {
		logger.Warn("STRIPE_WEBHOOK_SECRET not set; webhook endpoint will answer 501")
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer limiter.Stop()

	r := router.New(&router.Config{
		Logger:             logger,
		StripeWebhook:      webhooks.NewGate(verifier, processor, locker, logger),
		Bookings:           handlers.NewBookingsHandler(updater, canceller, logger),
		JWTSecret:          cfg.JWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        limiter,
		MetricsHandler:     metricsHandler,
		HealthCheck:        pool.Ping,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	logger.Info("server stopped")
}

// connectPostgresPool returns nil when the URL is empty or unreachable.
func connectPostgresPool(ctx context.Context, url string, logger *logging.Logger) *pgxpool.Pool {
	if url == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("failed to reach postgres", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

func setupMetrics() (http.Handler, *metrics.PaymentMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewPaymentMetrics(reg)
}
