// Package cancellation cancels bookings and refunds the customer according to
// how close to the appointment the cancellation happens.
package cancellation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sparkclean/sparkclean-platform/internal/access"
	"github.com/sparkclean/sparkclean-platform/internal/bookings"
	"github.com/sparkclean/sparkclean-platform/internal/ledger"
	"github.com/sparkclean/sparkclean-platform/internal/locks"
	"github.com/sparkclean/sparkclean-platform/internal/observability/metrics"
	"github.com/sparkclean/sparkclean-platform/internal/payments"
	"github.com/sparkclean/sparkclean-platform/internal/store"
	"github.com/sparkclean/sparkclean-platform/internal/tenancy"
	"github.com/sparkclean/sparkclean-platform/pkg/logging"
)

var cancellationTracer = otel.Tracer("sparkclean.internal.cancellation")

var (
	ErrAlreadyCancelled = errors.New("cancellation: booking is already cancelled")
	ErrCompleted        = errors.New("cancellation: cannot cancel a completed booking")
	ErrForbidden        = errors.New("cancellation: not allowed to cancel this booking")
	ErrLocked           = errors.New("cancellation: booking is being cancelled")
)

const (
	messageCancelled = "Booking cancelled successfully"
	messageRefunded  = " and refund processed"
)

// Refunder issues refunds at the payment provider.
type Refunder interface {
	Configured() bool
	Refund(ctx context.Context, req payments.RefundRequest) (*payments.RefundResult, error)
}

// Auditor records cancellations and failed refunds.
type Auditor interface {
	LogBookingCancelled(ctx context.Context, tenantID, actor, bookingID string, refundMinor int64, refundStatus string) error
	LogRefundFailed(ctx context.Context, tenantID, actor, bookingID string, refundMinor int64, cause string) error
}

// Notifier sends booking emails without blocking.
type Notifier interface {
	Dispatch(ctx context.Context, bookingID, template string)
}

// Request is a cancellation as submitted by the caller.
type Request struct {
	BookingID     string
	Reason        *string
	ProcessRefund bool
}

// Result is returned to the caller after a successful cancellation.
type Result struct {
	Booking         *bookings.Booking `json:"booking"`
	RefundProcessed bool              `json:"refundProcessed"`
	Message         string            `json:"message"`

	RefundMinor  int64  `json:"-"`
	RefundStatus string `json:"-"`
}

// Option configures a Service.
type Option func(*Service)

// WithFullRefundWindow overrides DefaultFullRefundWindow.
func WithFullRefundWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service orchestrates cancellation and refund.
type Service struct {
	uow      store.UnitOfWork
	refunds  Refunder
	locker   locks.Locker
	notifier Notifier
	audit    Auditor
	metrics  *metrics.PaymentMetrics
	logger   *logging.Logger
	window   time.Duration
	now      func() time.Time
}

// NewService requires uow. refunds, notifier and audit may be nil.
func NewService(uow store.UnitOfWork, refunds Refunder, locker locks.Locker, notifier Notifier, audit Auditor,
	m *metrics.PaymentMetrics, logger *logging.Logger, opts ...Option) *Service {
	if uow == nil {
		panic("cancellation: unit of work required")
	}
	if locker == nil {
		locker = locks.Noop{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		uow: uow, refunds: refunds, locker: locker, notifier: notifier, audit: audit,
		metrics: m, logger: logger, window: DefaultFullRefundWindow, now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cancel cancels the booking for p and refunds what the policy allows.
// A failed refund does not stop the cancellation.
func (s *Service) Cancel(ctx context.Context, p tenancy.Principal, req Request) (res *Result, err error) {
	ctx, span := cancellationTracer.Start(ctx, "cancellation.cancel")
	defer span.End()
	span.SetAttributes(
		attribute.String("sparkclean.tenant_id", p.TenantID),
		attribute.String("sparkclean.booking_id", req.BookingID),
	)
	defer func() { s.metrics.ObserveCancellation(outcomeLabel(res, err)) }()

	booking, err := s.load(ctx, p.TenantID, req.BookingID)
	if err != nil {
		return nil, err
	}
	resource := access.Resource{TenantID: booking.TenantID, OwnerID: booking.CustomerID, AssigneeID: booking.AssigneeID()}
	if access.Decide(p, access.Request{Action: access.ActionCancelBooking, Resource: resource}) != access.Allow {
		return nil, ErrForbidden
	}
	if err := guard(booking.Status); err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, "booking-cancel:"+booking.ID)
	switch {
	case errors.Is(err, locks.ErrNotHeld):
		return nil, ErrLocked
	case err != nil:
		s.logger.Warn("cancellation lock unavailable", "error", err, "booking_id", booking.ID)
	default:
		defer release()
	}

	// Re-read under the lock: a concurrent cancel may have just finished.
	booking, err = s.load(ctx, p.TenantID, req.BookingID)
	if err != nil {
		return nil, err
	}
	if err := guard(booking.Status); err != nil {
		return nil, err
	}

	original, err := s.paidTransaction(ctx, booking)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	var (
		refund      *payments.RefundResult
		refundMinor int64
	)
	if req.ProcessRefund && original != nil && s.refunds != nil && s.refunds.Configured() {
		pct := RefundPercent(booking.ScheduledAt, now, s.window)
		refundMinor = RefundMinor(original.Amount, pct)
		span.SetAttributes(attribute.Int64("sparkclean.refund_minor", refundMinor))
		if refundMinor > 0 {
			refund = s.issueRefund(ctx, p, booking, original, refundMinor, req.Reason)
		}
	}

	cancelled, err := s.persist(ctx, booking, original, refund, refundMinor, req.Reason, now)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	out := &Result{Booking: cancelled, Message: messageCancelled}
	refundStatus := "none"
	if refund != nil {
		out.RefundProcessed = true
		out.RefundMinor = refundMinor
		out.Message += messageRefunded
		refundStatus = refund.Status
	}
	out.RefundStatus = refundStatus

	if s.audit != nil {
		if err := s.audit.LogBookingCancelled(ctx, booking.TenantID, p.ID, booking.ID, out.RefundMinor, refundStatus); err != nil {
			s.logger.Warn("audit log write failed", "error", err, "booking_id", booking.ID)
		}
	}
	s.logger.Info("booking cancelled", "booking_id", booking.ID, "tenant_id", booking.TenantID,
		"actor", p.ID, "refund_minor", out.RefundMinor, "refund_status", refundStatus)
	if s.notifier != nil {
		s.notifier.Dispatch(ctx, booking.ID, "cancelled")
	}
	return out, nil
}

func (s *Service) load(ctx context.Context, tenantID, id string) (*bookings.Booking, error) {
	var booking *bookings.Booking
	err := s.uow.Do(ctx, func(r store.Repos) error {
		var err error
		booking, err = r.Bookings.GetForTenant(ctx, tenantID, id)
		return err
	})
	return booking, err
}

func guard(status bookings.Status) error {
	switch status {
	case bookings.StatusCancelled:
		return ErrAlreadyCancelled
	case bookings.StatusCompleted:
		return ErrCompleted
	}
	return nil
}

// paidTransaction returns the completed payment for a paid booking, or nil
// when there is nothing to refund.
func (s *Service) paidTransaction(ctx context.Context, b *bookings.Booking) (*ledger.Transaction, error) {
	if b.PaymentStatus != bookings.PaymentPaid {
		return nil, nil
	}
	var txn *ledger.Transaction
	err := s.uow.Do(ctx, func(r store.Repos) error {
		var err error
		txn, err = r.Ledger.FindCompletedPayment(ctx, b.ID)
		return err
	})
	if errors.Is(err, ledger.ErrNotFound) {
		s.logger.Warn("paid booking has no completed payment", "booking_id", b.ID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cancellation: load payment: %w", err)
	}
	return txn, nil
}

func (s *Service) issueRefund(ctx context.Context, p tenancy.Principal, b *bookings.Booking, original *ledger.Transaction,
	minor int64, reason *string) *payments.RefundResult {
	req := payments.RefundRequest{
		PaymentIntentID: original.PaymentIntentID,
		AmountMinor:     minor,
		BookingID:       b.ID,
	}
	if reason != nil {
		req.Reason = *reason
	}
	refund, err := s.refunds.Refund(ctx, req)
	if err != nil {
		s.metrics.ObserveRefund("error")
		s.logger.Error("refund failed, cancelling without refund", "error", err, "booking_id", b.ID, "refund_minor", minor)
		if s.audit != nil {
			if aerr := s.audit.LogRefundFailed(ctx, b.TenantID, p.ID, b.ID, minor, err.Error()); aerr != nil {
				s.logger.Warn("audit log write failed", "error", aerr, "booking_id", b.ID)
			}
		}
		return nil
	}
	s.metrics.ObserveRefund(refund.Status)
	return refund
}

// persist writes the refund row, the original payment status and the
// cancelled booking in one unit of work.
func (s *Service) persist(ctx context.Context, b *bookings.Booking, original *ledger.Transaction, refund *payments.RefundResult,
	refundMinor int64, reason *string, now time.Time) (*bookings.Booking, error) {
	confirmed := refund != nil && refund.Confirmed
	var cancelled *bookings.Booking
	err := s.uow.Do(ctx, func(r store.Repos) error {
		if refund != nil {
			status := ledger.StatusPending
			if confirmed {
				status = ledger.StatusCompleted
			}
			_, inserted, err := r.Ledger.InsertRefund(ctx, ledger.Transaction{
				TenantID:        b.TenantID,
				BookingID:       b.ID,
				CustomerID:      b.CustomerID,
				ProviderID:      b.ProviderID,
				Amount:          ledger.FromMinor(refundMinor),
				PlatformFee:     ledger.FromMinor(0),
				ProviderPayout:  ledger.FromMinor(0),
				PaymentMethod:   original.PaymentMethod,
				PaymentIntentID: original.PaymentIntentID,
				Status:          status,
			})
			if err != nil {
				return fmt.Errorf("cancellation: record refund: %w", err)
			}
			if !inserted {
				s.logger.Warn("refund already recorded for payment", "booking_id", b.ID, "payment_intent", original.PaymentIntentID)
			}
			if confirmed {
				next := ledger.StatusRefunded
				if refundMinor < ledger.ToMinor(original.Amount) {
					next = ledger.StatusPartiallyRefunded
				}
				if err := r.Ledger.UpdateStatus(ctx, original.ID, next); err != nil {
					return fmt.Errorf("cancellation: update payment status: %w", err)
				}
			}
		}
		var err error
		cancelled, err = r.Bookings.Cancel(ctx, b.ID, bookings.CancelParams{
			Reason:          reason,
			At:              now,
			PaymentRefunded: confirmed,
		})
		if err != nil {
			return fmt.Errorf("cancellation: cancel booking: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("cancellation write failed", "error", err, "booking_id", b.ID)
		return nil, err
	}
	return cancelled, nil
}

func outcomeLabel(res *Result, err error) string {
	switch {
	case err == nil && res != nil && res.RefundProcessed:
		return "cancelled_refunded"
	case err == nil:
		return "cancelled"
	case errors.Is(err, bookings.ErrNotFound), errors.Is(err, bookings.ErrInvalidID):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrAlreadyCancelled), errors.Is(err, ErrCompleted):
		return "rejected"
	case errors.Is(err, ErrLocked):
		return "locked"
	default:
		return "error"
	}
}
