// Package payments adapts the Stripe API: webhook signature verification and
// refunds.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sparkclean/sparkclean-platform/pkg/logging"
)

var stripeTracer = otel.Tracer("sparkclean.internal.payments.stripe")

var (
	ErrNotConfigured    = errors.New("payments: stripe not configured")
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
)

// StripeVerifier checks Stripe-Signature headers against the endpoint secret.
type StripeVerifier struct {
	secret string
}

func NewStripeVerifier(secret string) *StripeVerifier {
	return &StripeVerifier{secret: strings.TrimSpace(secret)}
}

// Configured reports whether a signing secret is set.
func (v *StripeVerifier) Configured() bool {
	return v != nil && v.secret != ""
}

// Verify authenticates payload and decodes the event envelope.
func (v *StripeVerifier) Verify(payload []byte, header string) (stripe.Event, error) {
	if !v.Configured() {
		return stripe.Event{}, ErrNotConfigured
	}
	evt, err := webhook.ConstructEventWithOptions(payload, header, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return evt, nil
}

// RefundRequest asks for a refund of part or all of a payment intent.
type RefundRequest struct {
	PaymentIntentID string
	AmountMinor     int64
	BookingID       string
	Reason          string
}

// RefundResult is the provider's answer. Confirmed means the refund settled
// immediately.
type RefundResult struct {
	ID        string
	Status    string
	Confirmed bool
}

// StripeRefunds issues refunds through the Stripe API.
type StripeRefunds struct {
	client *stripe.Client
	logger *logging.Logger
}

// NewStripeRefunds builds a refund client. Extra client options allow
// pointing the client at a test backend.
func NewStripeRefunds(secretKey string, logger *logging.Logger, opts ...stripe.ClientOption) *StripeRefunds {
	if logger == nil {
		logger = logging.Default()
	}
	key := strings.TrimSpace(secretKey)
	if key == "" {
		return &StripeRefunds{logger: logger}
	}
	return &StripeRefunds{client: stripe.NewClient(key, opts...), logger: logger}
}

// Configured reports whether an API key was supplied.
func (s *StripeRefunds) Configured() bool {
	return s != nil && s.client != nil
}

// Refund creates a refund tagged with the booking for provider-side audit.
// The idempotency key is derived from the booking so a retried cancellation
// cannot refund twice.
func (s *StripeRefunds) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if !s.Configured() {
		return nil, ErrNotConfigured
	}
	ctx, span := stripeTracer.Start(ctx, "stripe.refund")
	defer span.End()
	span.SetAttributes(
		attribute.String("sparkclean.booking_id", req.BookingID),
		attribute.String("stripe.payment_intent", req.PaymentIntentID),
		attribute.Int64("sparkclean.amount_minor", req.AmountMinor),
	)

	params := &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(req.PaymentIntentID),
		Amount:        stripe.Int64(req.AmountMinor),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.AddMetadata("booking_id", req.BookingID)
	if req.Reason != "" {
		params.AddMetadata("cancellation_reason", req.Reason)
	}
	params.SetIdempotencyKey("cancel-refund-" + req.BookingID)

	refund, err := s.client.V1Refunds.Create(ctx, params)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("stripe refund failed", "error", err, "booking_id", req.BookingID, "payment_intent", req.PaymentIntentID)
		return nil, fmt.Errorf("payments: stripe refund: %w", err)
	}
	status := string(refund.Status)
	return &RefundResult{
		ID:        refund.ID,
		Status:    status,
		Confirmed: refund.Status == stripe.RefundStatusSucceeded,
	}, nil
}
