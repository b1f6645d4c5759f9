package webhooks

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sparkclean/sparkclean-platform/pkg/logging"
)

// HandlerFunc applies one event. A non-empty note explains a deliberate
// no-op; an error asks the provider to retry.
type HandlerFunc func(ctx context.Context, evt Event) (note string, err error)

// lifecycleNoops are recognized types that need no work.
var lifecycleNoops = []string{
	"payout.created",
	"payout.updated",
	"payout.paid",
	"payout.failed",
	"payout.canceled",
	"payout.reconciliation_completed",
}

// Dispatcher routes events to handlers by exact type match.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	noops    map[string]struct{}
	logger   *logging.Logger
}

// NewDispatcher returns an empty dispatcher; register handlers with Handle.
func NewDispatcher(logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	d := &Dispatcher{
		handlers: map[string]HandlerFunc{},
		noops:    map[string]struct{}{},
		logger:   logger,
	}
	for _, t := range lifecycleNoops {
		d.noops[t] = struct{}{}
	}
	return d
}

// Handle registers fn for eventType.
func (d *Dispatcher) Handle(eventType string, fn HandlerFunc) {
	d.handlers[eventType] = fn
}

// Register wires the payment handlers.
func (d *Dispatcher) Register(h *Handlers) *Dispatcher {
	d.Handle("payment_intent.succeeded", h.PaymentSucceeded)
	d.Handle("payment_intent.payment_failed", h.PaymentFailed)
	d.Handle("charge.refunded", h.ChargeRefunded)
	d.Handle("account.updated", h.AccountUpdated)
	return d
}

// Dispatch runs the handler for evt and classifies the outcome. Panics are
// recovered and reported as unknown failures.
func (d *Dispatcher) Dispatch(ctx context.Context, evt Event) (res Result) {
	ctx, span := webhooksTracer.Start(ctx, "webhooks.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("stripe.event_id", evt.ID),
		attribute.String("stripe.event_type", evt.Type),
	)

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("webhook handler panicked", "event_id", evt.ID, "event_type", evt.Type, "panic", r)
			res = failed(FailureUnknown, fmt.Sprintf("panic: %v", r))
		}
		span.SetAttributes(attribute.String("sparkclean.outcome", string(res.Outcome)))
	}()

	if _, ok := d.noops[evt.Type]; ok {
		d.logger.Debug("webhook lifecycle event acknowledged", "event_id", evt.ID, "event_type", evt.Type)
		return processed("lifecycle event, no action")
	}
	fn, ok := d.handlers[evt.Type]
	if !ok {
		d.logger.Info("unhandled webhook event type", "event_id", evt.ID, "event_type", evt.Type)
		return ignored("unhandled event type")
	}

	note, err := fn(ctx, evt)
	if err != nil {
		span.RecordError(err)
		d.logger.Error("webhook handler failed", "error", err, "event_id", evt.ID, "event_type", evt.Type)
		return failed(FailureProcessing, err.Error())
	}
	return processed(note)
}
