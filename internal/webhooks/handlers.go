package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v83"
	"go.opentelemetry.io/otel"

	"github.com/sparkclean/sparkclean-platform/internal/bookings"
	"github.com/sparkclean/sparkclean-platform/internal/ledger"
	"github.com/sparkclean/sparkclean-platform/internal/store"
	"github.com/sparkclean/sparkclean-platform/pkg/logging"
)

var webhooksTracer = otel.Tracer("sparkclean.internal.webhooks")

// noteInvalidBookingID marks events whose booking id is not a UUID.
const noteInvalidBookingID = "invalid booking id"

// Notifier sends booking emails without blocking.
type Notifier interface {
	Dispatch(ctx context.Context, bookingID, template string)
}

// Auditor records provider account changes.
type Auditor interface {
	LogProviderPayoutUpdated(ctx context.Context, tenantID, providerID, accountID string, payoutsEnabled, detailsSubmitted bool) error
}

// Handlers apply payment events to the ledger and bookings. Each handler's
// writes share one unit of work.
type Handlers struct {
	uow      store.UnitOfWork
	notifier Notifier
	audit    Auditor
	logger   *logging.Logger
}

// NewHandlers builds the payment handlers over uow. notifier and audit may be nil.
func NewHandlers(uow store.UnitOfWork, notifier Notifier, audit Auditor, logger *logging.Logger) *Handlers {
	if uow == nil {
		panic("webhooks: unit of work required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handlers{uow: uow, notifier: notifier, audit: audit, logger: logger}
}

func decodeObject(evt Event, into any) error {
	if len(evt.Object) == 0 {
		return fmt.Errorf("webhooks: %s: empty data.object", evt.Type)
	}
	if err := json.Unmarshal(evt.Object, into); err != nil {
		return fmt.Errorf("webhooks: %s: decode object: %w", evt.Type, err)
	}
	return nil
}

// PaymentSucceeded records a completed payment and marks the booking paid.
func (h *Handlers) PaymentSucceeded(ctx context.Context, evt Event) (string, error) {
	var pi stripe.PaymentIntent
	if err := decodeObject(evt, &pi); err != nil {
		return "", err
	}
	bookingID := strings.TrimSpace(pi.Metadata["booking_id"])
	if bookingID == "" {
		h.logger.Info("payment intent has no booking id", "event_id", evt.ID, "payment_intent", pi.ID)
		return "no booking id in metadata", nil
	}

	amount := ledger.FromMinor(pi.Amount)
	fee := h.metadataAmount(pi.Metadata, "platform_fee", decimal.Zero, evt.ID)
	payout := h.metadataAmount(pi.Metadata, "provider_payout", amount.Sub(fee), evt.ID)
	method := "card"
	if len(pi.PaymentMethodTypes) > 0 && pi.PaymentMethodTypes[0] != "" {
		method = pi.PaymentMethodTypes[0]
	}

	applied := false
	err := h.uow.Do(ctx, func(r store.Repos) error {
		booking, err := r.Bookings.Get(ctx, bookingID)
		if err != nil {
			return fmt.Errorf("webhooks: load booking %s: %w", bookingID, err)
		}
		_, applied, err = r.Ledger.UpsertPayment(ctx, ledger.Transaction{
			TenantID:        booking.TenantID,
			BookingID:       booking.ID,
			CustomerID:      booking.CustomerID,
			ProviderID:      booking.ProviderID,
			Amount:          amount,
			PlatformFee:     fee,
			ProviderPayout:  payout,
			PaymentMethod:   method,
			PaymentIntentID: pi.ID,
		})
		if err != nil || !applied {
			return err
		}
		if _, err := r.Bookings.MarkPaid(ctx, booking.ID); err != nil {
			return fmt.Errorf("webhooks: mark booking paid: %w", err)
		}
		return nil
	})
	if errors.Is(err, bookings.ErrInvalidID) {
		h.logger.Warn("payment intent carries a malformed booking id", "event_id", evt.ID, "payment_intent", pi.ID, "booking_id", bookingID)
		return noteInvalidBookingID, nil
	}
	if err != nil {
		return "", err
	}
	if !applied {
		h.logger.Info("payment already recorded", "event_id", evt.ID, "payment_intent", pi.ID, "booking_id", bookingID)
		return "payment already recorded", nil
	}

	h.logger.Info("payment recorded", "event_id", evt.ID, "payment_intent", pi.ID, "booking_id", bookingID, "amount", amount.String())
	if h.notifier != nil {
		h.notifier.Dispatch(ctx, bookingID, "confirmed")
	}
	return "", nil
}

// PaymentFailed marks the intent's transaction and the booking as failed.
func (h *Handlers) PaymentFailed(ctx context.Context, evt Event) (string, error) {
	var pi stripe.PaymentIntent
	if err := decodeObject(evt, &pi); err != nil {
		return "", err
	}
	bookingID := strings.TrimSpace(pi.Metadata["booking_id"])
	if bookingID == "" {
		return "no booking id in metadata", nil
	}

	note := ""
	err := h.uow.Do(ctx, func(r store.Repos) error {
		existing, err := r.Ledger.FindByIntent(ctx, pi.ID, ledger.TypePayment)
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			h.logger.Warn("no transaction for failed payment intent", "event_id", evt.ID, "payment_intent", pi.ID)
		case err != nil:
			return err
		case settled(existing.Status):
			// A late failure for an attempt that was later paid must not undo it.
			note = "payment already settled"
			return nil
		default:
			if _, err := r.Ledger.UpdateStatusByIntent(ctx, pi.ID, ledger.TypePayment, ledger.StatusFailed); err != nil {
				return err
			}
		}
		if _, err := r.Bookings.MarkPaymentFailed(ctx, bookingID); err != nil {
			return fmt.Errorf("webhooks: mark booking payment failed: %w", err)
		}
		return nil
	})
	if errors.Is(err, bookings.ErrInvalidID) {
		h.logger.Warn("payment intent carries a malformed booking id", "event_id", evt.ID, "payment_intent", pi.ID, "booking_id", bookingID)
		return noteInvalidBookingID, nil
	}
	if err != nil {
		return "", err
	}
	if note == "" {
		h.logger.Info("payment failure recorded", "event_id", evt.ID, "payment_intent", pi.ID, "booking_id", bookingID)
	}
	return note, nil
}

// ChargeRefunded reconciles a refund issued at the provider with the ledger.
func (h *Handlers) ChargeRefunded(ctx context.Context, evt Event) (string, error) {
	var charge stripe.Charge
	if err := decodeObject(evt, &charge); err != nil {
		return "", err
	}
	if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
		return "charge has no payment intent", nil
	}
	intentID := charge.PaymentIntent.ID

	var (
		note      string
		bookingID string
		template  string
	)
	err := h.uow.Do(ctx, func(r store.Repos) error {
		original, err := r.Ledger.FindCompletedPaymentByIntent(ctx, intentID)
		if errors.Is(err, ledger.ErrNotFound) {
			note = "no completed payment for intent"
			return nil
		}
		if err != nil {
			return err
		}
		bookingID = original.BookingID

		refund, err := r.Ledger.FindByIntent(ctx, intentID, ledger.TypeRefund)
		switch {
		case err == nil && refund.Status == ledger.StatusPending:
			return h.confirmPendingRefund(ctx, r, original, refund)
		case err == nil:
			note = "refund already recorded"
			return nil
		case !errors.Is(err, ledger.ErrNotFound):
			return err
		}

		_, inserted, err := r.Ledger.InsertRefund(ctx, ledger.Transaction{
			TenantID:        original.TenantID,
			BookingID:       original.BookingID,
			CustomerID:      original.CustomerID,
			ProviderID:      original.ProviderID,
			Amount:          original.Amount,
			PlatformFee:     decimal.Zero,
			ProviderPayout:  decimal.Zero,
			PaymentMethod:   original.PaymentMethod,
			PaymentIntentID: intentID,
			Status:          ledger.StatusCompleted,
		})
		if err != nil {
			return err
		}
		if !inserted {
			note = "refund already recorded"
			return nil
		}
		if err := r.Ledger.UpdateStatus(ctx, original.ID, ledger.StatusRefunded); err != nil {
			return fmt.Errorf("webhooks: flip original transaction: %w", err)
		}
		if _, err := r.Bookings.MarkRefunded(ctx, original.BookingID); err != nil {
			return fmt.Errorf("webhooks: mark booking refunded: %w", err)
		}
		template = "refunded"
		return nil
	})
	if err != nil {
		return "", err
	}
	if note != "" {
		h.logger.Info("charge.refunded no-op", "event_id", evt.ID, "payment_intent", intentID, "reason", note)
		return note, nil
	}
	h.logger.Info("refund reconciled", "event_id", evt.ID, "payment_intent", intentID, "booking_id", bookingID)
	if template != "" && h.notifier != nil {
		h.notifier.Dispatch(ctx, bookingID, template)
	}
	return "", nil
}

// confirmPendingRefund settles a refund the cancellation flow left pending.
// The booking keeps its cancelled status.
func (h *Handlers) confirmPendingRefund(ctx context.Context, r store.Repos, original, refund *ledger.Transaction) error {
	if err := r.Ledger.UpdateStatus(ctx, refund.ID, ledger.StatusCompleted); err != nil {
		return fmt.Errorf("webhooks: confirm pending refund: %w", err)
	}
	status := ledger.StatusRefunded
	if refund.Amount.LessThan(original.Amount) {
		status = ledger.StatusPartiallyRefunded
	}
	if err := r.Ledger.UpdateStatus(ctx, original.ID, status); err != nil {
		return fmt.Errorf("webhooks: flip original transaction: %w", err)
	}
	if _, err := r.Bookings.MarkPaymentRefunded(ctx, original.BookingID); err != nil {
		return fmt.Errorf("webhooks: mark booking payment refunded: %w", err)
	}
	return nil
}

// AccountUpdated copies payout eligibility onto the provider profile.
func (h *Handlers) AccountUpdated(ctx context.Context, evt Event) (string, error) {
	var acct stripe.Account
	if err := decodeObject(evt, &acct); err != nil {
		return "", err
	}
	if acct.ID == "" {
		return "", fmt.Errorf("webhooks: account.updated: account id missing")
	}

	var (
		providerID string
		tenantID   string
		found      bool
	)
	err := h.uow.Do(ctx, func(r store.Repos) error {
		profile, ok, err := r.Providers.UpdatePayoutFlags(ctx, acct.ID, acct.PayoutsEnabled, acct.DetailsSubmitted)
		if err != nil {
			return err
		}
		if ok {
			found, providerID, tenantID = true, profile.ID, profile.TenantID
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if !found {
		h.logger.Info("no provider for connected account", "event_id", evt.ID, "account_id", acct.ID)
		return "no provider for account", nil
	}

	if h.audit != nil {
		if err := h.audit.LogProviderPayoutUpdated(ctx, tenantID, providerID, acct.ID, acct.PayoutsEnabled, acct.DetailsSubmitted); err != nil {
			h.logger.Warn("audit log write failed", "error", err, "provider_id", providerID)
		}
	}
	h.logger.Info("provider payout flags updated", "event_id", evt.ID, "provider_id", providerID,
		"payouts_enabled", acct.PayoutsEnabled, "details_submitted", acct.DetailsSubmitted)
	return "", nil
}

// metadataAmount parses a major-unit amount from metadata.
func (h *Handlers) metadataAmount(md map[string]string, key string, fallback decimal.Decimal, eventID string) decimal.Decimal {
	raw := strings.TrimSpace(md[key])
	if raw == "" {
		return fallback
	}
	v, err := decimal.NewFromString(raw)
	if err != nil || v.IsNegative() {
		h.logger.Warn("invalid amount in metadata", "event_id", eventID, "key", key, "value", raw)
		return fallback
	}
	return v
}

func settled(s ledger.Status) bool {
	return s == ledger.StatusCompleted || s == ledger.StatusRefunded || s == ledger.StatusPartiallyRefunded
}
