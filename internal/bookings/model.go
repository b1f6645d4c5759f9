package bookings

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// PaymentStatus tracks money collected for a booking.
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

var (
	ErrNotFound          = errors.New("bookings: not found")
	ErrForbidden         = errors.New("bookings: forbidden")
	ErrInvalidStatus     = errors.New("bookings: invalid status")
	ErrInvalidTransition = errors.New("bookings: invalid status transition")
	ErrEmptyPatch        = errors.New("bookings: nothing to update")
	// ErrInvalidID means the id is not a UUID, so no booking can match it.
	ErrInvalidID = errors.New("bookings: invalid booking id")
)

// Booking is a scheduled cleaning engagement.
type Booking struct {
	ID                 string          `json:"id"`
	TenantID           string          `json:"tenant_id"`
	CustomerID         string          `json:"customer_id"`
	ProviderID         *string         `json:"provider_id"`
	ScheduledAt        time.Time       `json:"scheduled_at"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	Status             Status          `json:"status"`
	PaymentStatus      PaymentStatus   `json:"payment_status"`
	CancellationReason *string         `json:"cancellation_reason"`
	CancelledAt        *time.Time      `json:"cancelled_at"`
	Notes              *string         `json:"notes"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// AssigneeID returns the provider id or "" when unassigned.
func (b *Booking) AssigneeID() string {
	if b == nil || b.ProviderID == nil {
		return ""
	}
	return *b.ProviderID
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusRefunded:
		return st, nil
	}
	return "", ErrInvalidStatus
}

// statusTemplates maps a new booking status to its email template key.
var statusTemplates = map[Status]string{
	StatusConfirmed:  "confirmed",
	StatusInProgress: "inProgress",
	StatusCompleted:  "completed",
	StatusCancelled:  "cancelled",
	StatusRefunded:   "refunded",
}

// TemplateForStatus returns the notification template for a status change.
func TemplateForStatus(s Status) (string, bool) {
	t, ok := statusTemplates[s]
	return t, ok
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Status             *Status
	ScheduledAt        *time.Time
	ProviderID         *string
	TotalAmount        *decimal.Decimal
	Notes              *string
	CancellationReason *string
	CancelledAt        *time.Time
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Status == nil && p.ScheduledAt == nil && p.ProviderID == nil &&
		p.TotalAmount == nil && p.Notes == nil && p.CancellationReason == nil && p.CancelledAt == nil
}

// CancelParams describes the write performed when a booking is cancelled.
type CancelParams struct {
	Reason          *string
	At              time.Time
	PaymentRefunded bool
}
