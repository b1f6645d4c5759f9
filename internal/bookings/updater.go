package bookings

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sparkclean/sparkclean-platform/internal/access"
	"github.com/sparkclean/sparkclean-platform/internal/tenancy"
	"github.com/sparkclean/sparkclean-platform/pkg/logging"
)

var bookingsTracer = otel.Tracer("sparkclean.internal.bookings")

// Store is the persistence surface the updater needs.
type Store interface {
	GetForTenant(ctx context.Context, tenantID, id string) (*Booking, error)
	Update(ctx context.Context, id string, p Patch, now time.Time) (*Booking, error)
}

// Notifier dispatches a templated booking email without blocking.
type Notifier interface {
	Dispatch(ctx context.Context, bookingID, template string)
}

// Updater applies partial booking updates under the role guard.
type Updater struct {
	store    Store
	notifier Notifier
	logger   *logging.Logger
	now      func() time.Time
}

// NewUpdater constructs an Updater.
func NewUpdater(store Store, notifier Notifier, logger *logging.Logger) *Updater {
	if store == nil {
		panic("bookings: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Updater{store: store, notifier: notifier, logger: logger, now: time.Now}
}

// Get returns a booking the caller is allowed to see.
func (u *Updater) Get(ctx context.Context, p tenancy.Principal, id string) (*Booking, error) {
	b, err := u.store.GetForTenant(ctx, p.TenantID, id)
	if err != nil {
		return nil, err
	}
	if access.Decide(p, access.Request{Action: access.ActionViewBooking, Resource: resourceOf(b)}) != access.Allow {
		return nil, ErrForbidden
	}
	return b, nil
}

// Update checks the caller's rights and the status transition, writes the
// patch and notifies on an actual status change.
func (u *Updater) Update(ctx context.Context, p tenancy.Principal, id string, patch Patch) (*Booking, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.update")
	defer span.End()
	span.SetAttributes(
		attribute.String("sparkclean.tenant_id", p.TenantID),
		attribute.String("sparkclean.booking_id", id),
	)

	if patch.IsEmpty() {
		return nil, ErrEmptyPatch
	}

	current, err := u.store.GetForTenant(ctx, p.TenantID, id)
	if err != nil {
		return nil, err
	}
	res := resourceOf(current)

	if patch.Status != nil {
		if access.Decide(p, access.Request{Action: access.ActionSetStatus, TargetStatus: string(*patch.Status), Resource: res}) != access.Allow {
			return nil, ErrForbidden
		}
		if err := checkTransition(current.Status, *patch.Status, access.IsAdmin(p.Role)); err != nil {
			return nil, err
		}
	}
	if patch.ScheduledAt != nil || patch.ProviderID != nil || patch.TotalAmount != nil || patch.CancelledAt != nil {
		if access.Decide(p, access.Request{Action: access.ActionEditBooking, Resource: res}) != access.Allow {
			return nil, ErrForbidden
		}
	}
	if patch.Notes != nil || patch.CancellationReason != nil {
		if access.Decide(p, access.Request{Action: access.ActionEditNotes, Resource: res}) != access.Allow {
			return nil, ErrForbidden
		}
	}

	now := u.now().UTC()
	if patch.Status != nil && *patch.Status == StatusCancelled && current.Status != StatusCancelled && patch.CancelledAt == nil {
		patch.CancelledAt = &now
	}

	updated, err := u.store.Update(ctx, id, patch, now)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if patch.Status != nil && current.Status != updated.Status {
		if tmpl, ok := TemplateForStatus(updated.Status); ok && u.notifier != nil {
			u.notifier.Dispatch(ctx, updated.ID, tmpl)
		}
	}
	u.logger.Info("booking updated",
		"booking_id", id,
		"tenant_id", p.TenantID,
		"actor", p.ID,
		"old_status", current.Status,
		"new_status", updated.Status,
	)
	return updated, nil
}

// checkTransition enforces the terminal states of the update path.
func checkTransition(from, to Status, admin bool) error {
	if from == to {
		return nil
	}
	switch from {
	case StatusCompleted:
		return fmt.Errorf("%w: booking is completed", ErrInvalidTransition)
	case StatusCancelled:
		if admin && to == StatusRefunded {
			return nil
		}
		return fmt.Errorf("%w: booking is cancelled", ErrInvalidTransition)
	}
	return nil
}

func resourceOf(b *Booking) access.Resource {
	return access.Resource{TenantID: b.TenantID, OwnerID: b.CustomerID, AssigneeID: b.AssigneeID()}
}
