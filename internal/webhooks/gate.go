package webhooks

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v83"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sparkclean/sparkclean-platform/internal/locks"
	"github.com/sparkclean/sparkclean-platform/pkg/logging"
)

// MaxBodyBytes caps inbound webhook payloads.
const MaxBodyBytes = 256 << 10

// Verifier authenticates a provider payload.
type Verifier interface {
	Configured() bool
	Verify(payload []byte, header string) (stripe.Event, error)
}

// Gate is the HTTP entry point for provider webhooks.
type Gate struct {
	verifier  Verifier
	processor *Processor
	locker    locks.Locker
	logger    *logging.Logger
}

// NewGate panics without a verifier or processor. A nil locker disables
// cross-instance locking.
func NewGate(verifier Verifier, processor *Processor, locker locks.Locker, logger *logging.Logger) *Gate {
	if verifier == nil || processor == nil {
		panic("webhooks: verifier and processor required")
	}
	if locker == nil {
		locker = locks.Noop{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Gate{verifier: verifier, processor: processor, locker: locker, logger: logger}
}

func (g *Gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := webhooksTracer.Start(r.Context(), "webhooks.gate", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	if !g.verifier.Configured() {
		g.logger.Error("stripe webhook secret not configured")
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "Webhook not configured"})
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		g.logger.Warn("webhook body read failed", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	stripeEvt, err := g.verifier.Verify(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		g.logger.Warn("stripe webhook signature rejected", "error", err)
		res := failed(FailureSignature, err.Error())
		writeJSON(w, res.HTTPStatus(), map[string]string{"error": res.PublicError()})
		return
	}

	evt := FromStripe(stripeEvt, payload)
	if evt.ID == "" || evt.Type == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid event"})
		return
	}
	span.SetAttributes(
		attribute.String("stripe.event_id", evt.ID),
		attribute.String("stripe.event_type", evt.Type),
	)

	release, err := g.locker.Acquire(ctx, LockKey(evt.ID))
	switch {
	case errors.Is(err, locks.ErrNotHeld):
		g.logger.Info("webhook event already in flight", "event_id", evt.ID)
		writeJSON(w, http.StatusConflict, map[string]string{"error": "Event is already being processed"})
		return
	case err != nil:
		// Redis unavailable: continue unlocked, the unique ledger keys still hold.
		g.logger.Warn("webhook lock unavailable", "error", err, "event_id", evt.ID)
	default:
		defer release()
	}

	if g.processor.AlreadyHandled(ctx, evt.ID) {
		g.logger.Info("duplicate webhook event", "event_id", evt.ID, "event_type", evt.Type)
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "duplicate": true})
		return
	}

	g.processor.RecordReceived(ctx, evt)
	res := g.processor.Process(ctx, evt)
	span.SetAttributes(attribute.String("sparkclean.outcome", string(res.Outcome)))
	if !res.OK() {
		writeJSON(w, res.HTTPStatus(), map[string]string{"error": res.PublicError()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}

// LockKey is the lock held while an event is being processed.
func LockKey(eventID string) string {
	return "webhook:" + providerStripe + ":" + eventID
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
