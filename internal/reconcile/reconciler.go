// Package reconcile re-drives webhook events that never reached a final
// status, e.g. because the process died mid-handler or the handler failed.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/sparkclean/sparkclean-platform/internal/events"
	"github.com/sparkclean/sparkclean-platform/internal/locks"
	"github.com/sparkclean/sparkclean-platform/internal/observability/metrics"
	"github.com/sparkclean/sparkclean-platform/internal/webhooks"
	"github.com/sparkclean/sparkclean-platform/pkg/logging"
)

// EventLog lists stale events and records unrecoverable ones.
type EventLog interface {
	ListStale(ctx context.Context, statuses []events.Status, olderThan time.Time, maxAttempts, limit int) ([]events.WebhookEvent, error)
	Record(ctx context.Context, rec events.Record) error
}

// Processor is the shared processing path used by the ingestion gate.
type Processor interface {
	Process(ctx context.Context, evt webhooks.Event) webhooks.Result
	AlreadyHandled(ctx context.Context, eventID string) bool
}

var staleStatuses = []events.Status{events.StatusReceived, events.StatusProcessing, events.StatusFailed}

// Reconciler polls webhook_events and re-runs stuck events.
type Reconciler struct {
	log         EventLog
	processor   Processor
	locker      locks.Locker
	metrics     *metrics.PaymentMetrics
	logger      *logging.Logger
	batchSize   int
	interval    time.Duration
	staleAfter  time.Duration
	maxAttempts int
	now         func() time.Time
}

// New builds a reconciler that redrives up to 25 stale events a minute.
// The With* setters override the defaults.
func New(log EventLog, processor Processor, logger *logging.Logger) *Reconciler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Reconciler{
		log:         log,
		processor:   processor,
		locker:      locks.Noop{},
		logger:      logger,
		batchSize:   25,
		interval:    time.Minute,
		staleAfter:  10 * time.Minute,
		maxAttempts: 5,
		now:         time.Now,
	}
}

func (r *Reconciler) WithBatchSize(size int) *Reconciler {
	if size > 0 {
		r.batchSize = size
	}
	return r
}

func (r *Reconciler) WithInterval(interval time.Duration) *Reconciler {
	if interval > 0 {
		r.interval = interval
	}
	return r
}

func (r *Reconciler) WithStaleAfter(d time.Duration) *Reconciler {
	if d > 0 {
		r.staleAfter = d
	}
	return r
}

func (r *Reconciler) WithMaxAttempts(n int) *Reconciler {
	if n > 0 {
		r.maxAttempts = n
	}
	return r
}

func (r *Reconciler) WithLocker(l locks.Locker) *Reconciler {
	if l != nil {
		r.locker = l
	}
	return r
}

func (r *Reconciler) WithMetrics(m *metrics.PaymentMetrics) *Reconciler {
	r.metrics = m
	return r
}

// Start runs a pass every interval until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) {
	if r.log == nil || r.processor == nil {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("reconcile pass failed", "error", err)
			}
		}
	}
}

// RunOnce re-drives one batch and returns how many events reached a final
// status.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.staleAfter)
	stale, err := r.log.ListStale(ctx, staleStatuses, cutoff, r.maxAttempts, r.batchSize)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for _, row := range stale {
		if r.redrive(ctx, row) {
			resolved++
		}
	}
	if len(stale) > 0 {
		r.logger.Info("reconcile pass complete", "candidates", len(stale), "resolved", resolved)
	}
	return resolved, nil
}

func (r *Reconciler) redrive(ctx context.Context, row events.WebhookEvent) bool {
	evt, err := webhooks.ParseStripePayload(row.Payload)
	if err != nil {
		r.logger.Error("stored webhook payload unreadable", "error", err, "event_id", row.EventID)
		r.metrics.ObserveRedrive("invalid")
		rerr := r.log.Record(ctx, events.Record{
			Provider:     row.Provider,
			EventID:      row.EventID,
			EventType:    row.EventType,
			Status:       events.StatusFailed,
			Error:        err.Error(),
			CountAttempt: true,
		})
		if rerr != nil {
			r.logger.Warn("webhook event log write failed", "error", rerr, "event_id", row.EventID)
		}
		return false
	}

	release, err := r.locker.Acquire(ctx, webhooks.LockKey(evt.ID))
	switch {
	case errors.Is(err, locks.ErrNotHeld):
		r.metrics.ObserveRedrive("locked")
		return false
	case err != nil:
		r.logger.Warn("reconcile lock unavailable", "error", err, "event_id", evt.ID)
	default:
		defer release()
	}

	if r.processor.AlreadyHandled(ctx, evt.ID) {
		r.metrics.ObserveRedrive("skipped")
		return false
	}

	res := r.processor.Process(ctx, evt)
	if !res.OK() {
		r.logger.Warn("webhook re-drive failed", "event_id", evt.ID, "event_type", evt.Type,
			"attempts", row.Attempts+1, "detail", res.Detail)
		r.metrics.ObserveRedrive("failed")
		return false
	}
	r.logger.Info("webhook re-driven", "event_id", evt.ID, "event_type", evt.Type, "outcome", string(res.Outcome))
	r.metrics.ObserveRedrive(string(res.Outcome))
	return true
}
