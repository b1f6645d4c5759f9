package webhooks

import (
	"context"
	"errors"
	"time"

	"github.com/sparkclean/sparkclean-platform/internal/events"
	"github.com/sparkclean/sparkclean-platform/internal/observability/metrics"
	"github.com/sparkclean/sparkclean-platform/pkg/logging"
)

// EventLog is the webhook_events surface used during processing.
type EventLog interface {
	Get(ctx context.Context, provider, eventID string) (*events.WebhookEvent, error)
	Record(ctx context.Context, rec events.Record) error
}

// BillingRecorder stores billing copies of allow-listed events.
type BillingRecorder interface {
	Insert(ctx context.Context, evt events.BillingEvent) error
}

// Processor runs one event through the dispatcher and records every stage.
// The ingestion gate and the reconciler share it.
type Processor struct {
	log        EventLog
	billing    BillingRecorder
	dispatcher *Dispatcher
	metrics    *metrics.PaymentMetrics
	logger     *logging.Logger
}

// NewProcessor records each stage in log and copies allow-listed events to
// billing, which may be nil.
func NewProcessor(log EventLog, billing BillingRecorder, dispatcher *Dispatcher, m *metrics.PaymentMetrics, logger *logging.Logger) *Processor {
	if log == nil || dispatcher == nil {
		panic("webhooks: event log and dispatcher required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Processor{log: log, billing: billing, dispatcher: dispatcher, metrics: m, logger: logger}
}

// Process marks the event processing, dispatches it and stores the outcome.
// Log writes are best-effort; only the dispatch result decides the response.
func (p *Processor) Process(ctx context.Context, evt Event) Result {
	start := time.Now()
	p.record(ctx, events.Record{
		Provider:     providerStripe,
		EventID:      evt.ID,
		EventType:    evt.Type,
		TenantID:     evt.TenantID,
		Status:       events.StatusProcessing,
		CountAttempt: true,
	})

	if p.billing != nil && events.IsBillingEvent(evt.Type) {
		sum := evt.summary()
		err := p.billing.Insert(ctx, events.BillingEvent{
			Provider:    providerStripe,
			EventID:     evt.ID,
			EventType:   evt.Type,
			TenantID:    evt.TenantID,
			AmountMinor: sum.Amount,
			Currency:    sum.Currency,
			Payload:     evt.Payload,
		})
		if err != nil {
			p.logger.Warn("billing event write failed", "error", err, "event_id", evt.ID)
		}
	}

	res := p.dispatcher.Dispatch(ctx, evt)

	rec := events.Record{
		Provider:   providerStripe,
		EventID:    evt.ID,
		EventType:  evt.Type,
		TenantID:   evt.TenantID,
		HTTPStatus: res.HTTPStatus(),
	}
	switch res.Outcome {
	case OutcomeProcessed:
		rec.Status = events.StatusProcessed
	case OutcomeIgnored:
		rec.Status = events.StatusIgnored
	default:
		rec.Status = events.StatusFailed
		rec.Error = res.Detail
		rec.Snapshot = events.Snapshot(evt.Payload)
	}
	p.record(ctx, rec)
	if res.OK() && res.Note != "" {
		p.logger.Info("webhook event left no changes", "event_id", evt.ID, "event_type", evt.Type, "note", res.Note)
	}

	p.metrics.ObserveWebhook(evt.Type, string(res.Outcome), time.Since(start).Seconds())
	return res
}

// RecordReceived stores the first sighting of an event with its payload.
func (p *Processor) RecordReceived(ctx context.Context, evt Event) {
	p.record(ctx, events.Record{
		Provider:  providerStripe,
		EventID:   evt.ID,
		EventType: evt.Type,
		TenantID:  evt.TenantID,
		Status:    events.StatusReceived,
		Payload:   evt.Payload,
	})
}

// AlreadyHandled reports whether the event reached a final status before.
func (p *Processor) AlreadyHandled(ctx context.Context, eventID string) bool {
	existing, err := p.log.Get(ctx, providerStripe, eventID)
	if err != nil {
		if !errors.Is(err, events.ErrNotFound) {
			p.logger.Warn("webhook event lookup failed", "error", err, "event_id", eventID)
		}
		return false
	}
	return existing.Status.Final()
}

func (p *Processor) record(ctx context.Context, rec events.Record) {
	if err := p.log.Record(ctx, rec); err != nil {
		p.logger.Warn("webhook event log write failed", "error", err, "event_id", rec.EventID, "status", string(rec.Status))
	}
}
