package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

var ErrContactNotFound = errors.New("notify: booking contact not found")

// BookingContact is what a booking email needs to know about its recipients.
type BookingContact struct {
	BookingID     string
	TenantID      string
	CustomerEmail string
	CustomerName  string
	ProviderEmail string
	ProviderName  string
	ScheduledAt   time.Time
	TotalAmount   decimal.Decimal
	Status        string
}

// ContactLookup resolves the recipients of a booking email.
type ContactLookup interface {
	BookingContact(ctx context.Context, bookingID string) (*BookingContact, error)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresContacts reads recipients from bookings joined with profiles.
type PostgresContacts struct {
	db rowQuerier
}

func NewPostgresContacts(db rowQuerier) *PostgresContacts {
	if db == nil {
		panic("notify: querier required")
	}
	return &PostgresContacts{db: db}
}

func (c *PostgresContacts) BookingContact(ctx context.Context, bookingID string) (*BookingContact, error) {
	query := `
		SELECT b.id::text, b.tenant_id::text, b.scheduled_at, b.total_amount::text, b.status,
			cp.email, cp.full_name, pp.email, pp.full_name
		FROM bookings b
		LEFT JOIN profiles cp ON cp.id = b.customer_id
		LEFT JOIN profiles pp ON pp.id = b.provider_id
		WHERE b.id = $1`
	var (
		bc                                       BookingContact
		amount                                   string
		custEmail, custName, provEmail, provName pgtype.Text
	)
	err := c.db.QueryRow(ctx, query, bookingID).Scan(&bc.BookingID, &bc.TenantID, &bc.ScheduledAt, &amount, &bc.Status,
		&custEmail, &custName, &provEmail, &provName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrContactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("notify: booking contact: %w", err)
	}
	if bc.TotalAmount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("notify: parse total_amount %q: %w", amount, err)
	}
	bc.CustomerEmail, bc.CustomerName = custEmail.String, custName.String
	bc.ProviderEmail, bc.ProviderName = provEmail.String, provName.String
	return &bc, nil
}
