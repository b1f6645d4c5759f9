// Package webhooks ingests payment provider events: it verifies them, logs
// every processing stage and routes each event to an idempotent handler.
package webhooks

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v83"
)

const providerStripe = "stripe"

// Event is a verified provider event.
type Event struct {
	ID       string
	Type     string
	TenantID string
	// Object is the raw data.object of the event.
	Object json.RawMessage
	// Payload is the full envelope as received.
	Payload []byte
}

type objectSummary struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata"`
}

// FromStripe converts a decoded Stripe event.
func FromStripe(evt stripe.Event, payload []byte) Event {
	out := Event{ID: evt.ID, Type: string(evt.Type), Payload: payload}
	if evt.Data != nil {
		out.Object = evt.Data.Raw
	}
	out.TenantID = out.summary().Metadata["tenant_id"]
	return out
}

// ParseStripePayload decodes a stored envelope without verifying it.
func ParseStripePayload(payload []byte) (Event, error) {
	var evt stripe.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return Event{}, fmt.Errorf("webhooks: decode event: %w", err)
	}
	if evt.ID == "" {
		return Event{}, fmt.Errorf("webhooks: event id missing")
	}
	return FromStripe(evt, payload), nil
}

func (e Event) summary() objectSummary {
	var s objectSummary
	if len(e.Object) > 0 {
		_ = json.Unmarshal(e.Object, &s)
	}
	return s
}

// Outcome is the closed set of dispatch results.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeFailed    Outcome = "failed"
)

// FailureKind classifies a failed outcome.
type FailureKind string

const (
	FailureNone       FailureKind = ""
	FailureSignature  FailureKind = "signature"
	FailureProcessing FailureKind = "processing"
	FailureUnknown    FailureKind = "unknown"
)

// Result is returned by dispatch instead of shared error state.
type Result struct {
	Outcome Outcome
	Failure FailureKind
	// Detail is the internal error text; never sent to the caller.
	Detail string
	// Note explains a deliberate no-op.
	Note string
}

func processed(note string) Result { return Result{Outcome: OutcomeProcessed, Note: note} }

func ignored(note string) Result { return Result{Outcome: OutcomeIgnored, Note: note} }

func failed(kind FailureKind, detail string) Result {
	return Result{Outcome: OutcomeFailed, Failure: kind, Detail: detail}
}

// OK reports whether the provider should consider the event delivered.
func (r Result) OK() bool {
	return r.Outcome == OutcomeProcessed || r.Outcome == OutcomeIgnored
}

// HTTPStatus maps the result onto the status code the provider acts on.
func (r Result) HTTPStatus() int {
	switch {
	case r.OK():
		return http.StatusOK
	case r.Failure == FailureSignature:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// PublicError is the error string safe to return to the caller.
func (r Result) PublicError() string {
	switch r.Failure {
	case FailureSignature:
		return "Invalid signature"
	case FailureProcessing:
		return "Webhook processing failed"
	case FailureNone:
		return ""
	default:
		return "Internal server error"
	}
}
