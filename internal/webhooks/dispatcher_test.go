package webhooks

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sparkclean/sparkclean-platform/pkg/logging"
)

func TestDispatcherOutcomes(t *testing.T) {
	d := NewDispatcher(logging.Discard())
	d.Handle("ok.event", func(context.Context, Event) (string, error) { return "", nil })
	d.Handle("noop.event", func(context.Context, Event) (string, error) { return "nothing to do", nil })
	d.Handle("bad.event", func(context.Context, Event) (string, error) { return "", errors.New("db down") })
	d.Handle("panic.event", func(context.Context, Event) (string, error) { panic("boom") })

	tests := []struct {
		name       string
		eventType  string
		outcome    Outcome
		failure    FailureKind
		status     int
		publicErr  string
		wantDetail string
		wantNote   string
	}{
		{name: "handled", eventType: "ok.event", outcome: OutcomeProcessed, status: http.StatusOK},
		{name: "handler no-op", eventType: "noop.event", outcome: OutcomeProcessed, status: http.StatusOK, wantNote: "nothing to do"},
		{name: "lifecycle", eventType: "payout.paid", outcome: OutcomeProcessed, status: http.StatusOK, wantNote: "lifecycle event, no action"},
		{name: "unknown", eventType: "customer.created", outcome: OutcomeIgnored, status: http.StatusOK, wantNote: "unhandled event type"},
		{name: "handler error", eventType: "bad.event", outcome: OutcomeFailed, failure: FailureProcessing,
			status: http.StatusInternalServerError, publicErr: "Webhook processing failed", wantDetail: "db down"},
		{name: "panic", eventType: "panic.event", outcome: OutcomeFailed, failure: FailureUnknown,
			status: http.StatusInternalServerError, publicErr: "Internal server error", wantDetail: "panic: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := d.Dispatch(context.Background(), Event{ID: "evt_1", Type: tt.eventType})
			assert.Equal(t, tt.outcome, res.Outcome)
			assert.Equal(t, tt.failure, res.Failure)
			assert.Equal(t, tt.status, res.HTTPStatus())
			assert.Equal(t, tt.publicErr, res.PublicError())
			assert.Equal(t, tt.wantDetail, res.Detail)
			assert.Equal(t, tt.wantNote, res.Note)
		})
	}
}

func TestSignatureResult(t *testing.T) {
	res := failed(FailureSignature, "bad header")
	assert.False(t, res.OK())
	assert.Equal(t, http.StatusUnauthorized, res.HTTPStatus())
	assert.Equal(t, "Invalid signature", res.PublicError())
}

func TestRegisterWiresPaymentHandlers(t *testing.T) {
	h, _, _, _ := newTestHandlers()
	d := NewDispatcher(logging.Discard()).Register(h)
	for _, typ := range []string{"payment_intent.succeeded", "payment_intent.payment_failed", "charge.refunded", "account.updated"} {
		_, ok := d.handlers[typ]
		assert.True(t, ok, typ)
	}
}
