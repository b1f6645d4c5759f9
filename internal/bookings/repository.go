package bookings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// querier is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const bookingColumns = `id::text, tenant_id::text, customer_id::text, provider_id::text, scheduled_at,
	total_amount::text, status, payment_status, cancellation_reason, cancelled_at, notes, created_at, updated_at`

// invalidTextRepresentation is what Postgres raises for a malformed uuid literal.
const invalidTextRepresentation = "22P02"

// Repository provides persistence helpers for bookings.
type Repository struct {
	db querier
}

// NewRepository creates a repository over a pool or transaction.
func NewRepository(db querier) *Repository {
	if db == nil {
		panic("bookings: querier required")
	}
	return &Repository{db: db}
}

// Get loads a booking by id regardless of tenant.
func (r *Repository) Get(ctx context.Context, id string) (*Booking, error) {
	row := r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	b, err := scanBooking(row)
	if err != nil {
		return nil, fmt.Errorf("bookings: get: %w", err)
	}
	return b, nil
}

// GetForTenant returns a booking scoped to the tenant.
func (r *Repository) GetForTenant(ctx context.Context, tenantID, id string) (*Booking, error) {
	row := r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	b, err := scanBooking(row)
	if err != nil {
		return nil, fmt.Errorf("bookings: get for tenant: %w", err)
	}
	return b, nil
}

// MarkPaid records a captured payment; pending bookings become confirmed.
func (r *Repository) MarkPaid(ctx context.Context, id string) (*Booking, error) {
	query := `
		UPDATE bookings
		SET payment_status = 'paid',
			status = CASE WHEN status = 'pending' THEN 'confirmed' ELSE status END,
			updated_at = now()
		WHERE id = $1
		RETURNING ` + bookingColumns
	b, err := scanBooking(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("bookings: mark paid: %w", err)
	}
	return b, nil
}

// MarkPaymentFailed flags the booking's payment as failed.
func (r *Repository) MarkPaymentFailed(ctx context.Context, id string) (*Booking, error) {
	query := `
		UPDATE bookings
		SET payment_status = 'failed', updated_at = now()
		WHERE id = $1
		RETURNING ` + bookingColumns
	b, err := scanBooking(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("bookings: mark payment failed: %w", err)
	}
	return b, nil
}

// MarkRefunded moves the booking and its payment to refunded.
func (r *Repository) MarkRefunded(ctx context.Context, id string) (*Booking, error) {
	query := `
		UPDATE bookings
		SET payment_status = 'refunded', status = 'refunded', updated_at = now()
		WHERE id = $1
		RETURNING ` + bookingColumns
	b, err := scanBooking(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("bookings: mark refunded: %w", err)
	}
	return b, nil
}

// MarkPaymentRefunded sets payment_status only, leaving the lifecycle status.
func (r *Repository) MarkPaymentRefunded(ctx context.Context, id string) (*Booking, error) {
	query := `
		UPDATE bookings
		SET payment_status = 'refunded', updated_at = now()
		WHERE id = $1
		RETURNING ` + bookingColumns
	b, err := scanBooking(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("bookings: mark payment refunded: %w", err)
	}
	return b, nil
}

// Cancel writes the cancelled state.
func (r *Repository) Cancel(ctx context.Context, id string, p CancelParams) (*Booking, error) {
	query := `
		UPDATE bookings
		SET status = 'cancelled',
			cancelled_at = $2,
			cancellation_reason = COALESCE($3, cancellation_reason),
			payment_status = CASE WHEN $4 THEN 'refunded' ELSE payment_status END,
			updated_at = $2
		WHERE id = $1
		RETURNING ` + bookingColumns
	b, err := scanBooking(r.db.QueryRow(ctx, query, id, p.At, p.Reason, p.PaymentRefunded))
	if err != nil {
		return nil, fmt.Errorf("bookings: cancel: %w", err)
	}
	return b, nil
}

// Update applies a partial update and stamps updated_at.
func (r *Repository) Update(ctx context.Context, id string, p Patch, now time.Time) (*Booking, error) {
	if p.IsEmpty() {
		return nil, ErrEmptyPatch
	}
	sets := make([]string, 0, 8)
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.ScheduledAt != nil {
		add("scheduled_at", *p.ScheduledAt)
	}
	if p.ProviderID != nil {
		add("provider_id", nullIfEmpty(*p.ProviderID))
	}
	if p.TotalAmount != nil {
		args = append(args, p.TotalAmount.String())
		sets = append(sets, fmt.Sprintf("total_amount = $%d::numeric", len(args)))
	}
	if p.Notes != nil {
		add("notes", *p.Notes)
	}
	if p.CancellationReason != nil {
		add("cancellation_reason", *p.CancellationReason)
	}
	if p.CancelledAt != nil {
		add("cancelled_at", *p.CancelledAt)
	}
	add("updated_at", now)

	query := `UPDATE bookings SET ` + strings.Join(sets, ", ") + ` WHERE id = $1 RETURNING ` + bookingColumns
	b, err := scanBooking(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("bookings: update: %w", err)
	}
	return b, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var (
		b           Booking
		providerID  pgtype.Text
		amount      string
		status      string
		payment     string
		reason      pgtype.Text
		cancelledAt pgtype.Timestamptz
		notes       pgtype.Text
	)
	err := row.Scan(&b.ID, &b.TenantID, &b.CustomerID, &providerID, &b.ScheduledAt,
		&amount, &status, &payment, &reason, &cancelledAt, &notes, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == invalidTextRepresentation {
			return nil, ErrInvalidID
		}
		return nil, err
	}
	total, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse total_amount %q: %w", amount, err)
	}
	b.TotalAmount = total
	b.Status = Status(status)
	b.PaymentStatus = PaymentStatus(payment)
	b.ProviderID = textPtr(providerID)
	b.CancellationReason = textPtr(reason)
	b.Notes = textPtr(notes)
	if cancelledAt.Valid {
		t := cancelledAt.Time
		b.CancelledAt = &t
	}
	return &b, nil
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
