package main

import (
	"context"
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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sparkclean/sparkclean-platform/internal/app/bootstrap"
	"github.com/sparkclean/sparkclean-platform/internal/compliance"
	appconfig "github.com/sparkclean/sparkclean-platform/internal/config"
	"github.com/sparkclean/sparkclean-platform/internal/observability/metrics"
	"github.com/sparkclean/sparkclean-platform/internal/reconcile"
	"github.com/sparkclean/sparkclean-platform/internal/store"
	"github.com/sparkclean/sparkclean-platform/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL == "" {
		logger.Error("reconciler requires DATABASE_URL")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	paymentMetrics := metrics.NewPaymentMetrics(reg)

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	notifier, err := bootstrap.BuildNotifier(ctx, cfg, pool, paymentMetrics, logger)
	if err != nil {
		logger.Error("failed to configure email", "error", err)
		os.Exit(1)
	}
	defer notifier.Wait()

	audit := compliance.NewAuditService(stdlib.OpenDBFromPool(pool))
	processor, eventLog := bootstrap.BuildWebhookProcessor(pool, store.NewPostgres(pool, logger), notifier, audit, paymentMetrics, logger)

	reconciler := reconcile.New(eventLog, processor, logger).
		WithInterval(cfg.ReconcileInterval).
		WithStaleAfter(cfg.ReconcileStaleAfter).
		WithMaxAttempts(cfg.ReconcileMaxAttempts).
		WithBatchSize(cfg.ReconcileBatchSize).
		WithLocker(bootstrap.BuildLocker(redisClient, cfg, "sparkclean:lock:")).
		WithMetrics(paymentMetrics)

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	logger.Info("webhook reconciler started",
		"interval", cfg.ReconcileInterval.String(),
		"stale_after", cfg.ReconcileStaleAfter.String(),
		"max_attempts", cfg.ReconcileMaxAttempts,
	)
	reconciler.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	logger.Info("webhook reconciler stopped")
}
