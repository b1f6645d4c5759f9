package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const transactionColumns = `id::text, tenant_id::text, booking_id::text, customer_id::text, provider_id::text,
	amount::text, platform_fee::text, provider_payout::text, transaction_type, payment_method,
	payment_intent_id, status, created_at, updated_at`

// Repository reads and writes the transactions table.
type Repository struct {
	db querier
}

// NewRepository wraps a pool or an open transaction.
func NewRepository(db querier) *Repository {
	if db == nil {
		panic("ledger: querier required")
	}
	return &Repository{db: db}
}

// FindByIntent returns the transaction of the given type for a payment intent.
func (r *Repository) FindByIntent(ctx context.Context, intentID string, typ Type) (*Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE payment_intent_id = $1 AND transaction_type = $2`
	t, err := scanTransaction(r.db.QueryRow(ctx, query, intentID, string(typ)))
	if err != nil {
		return nil, fmt.Errorf("ledger: find by intent: %w", err)
	}
	return t, nil
}

// FindCompletedPayment returns the completed payment for a booking.
func (r *Repository) FindCompletedPayment(ctx context.Context, bookingID string) (*Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE booking_id = $1 AND transaction_type = 'payment' AND status = 'completed'
		ORDER BY created_at DESC
		LIMIT 1`
	t, err := scanTransaction(r.db.QueryRow(ctx, query, bookingID))
	if err != nil {
		return nil, fmt.Errorf("ledger: find completed payment: %w", err)
	}
	return t, nil
}

// FindCompletedPaymentByIntent returns the completed payment for an intent.
func (r *Repository) FindCompletedPaymentByIntent(ctx context.Context, intentID string) (*Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE payment_intent_id = $1 AND transaction_type = 'payment' AND status = 'completed'`
	t, err := scanTransaction(r.db.QueryRow(ctx, query, intentID))
	if err != nil {
		return nil, fmt.Errorf("ledger: find completed payment by intent: %w", err)
	}
	return t, nil
}

// UpsertPayment records a completed payment. A pending or failed row for the
// same intent is promoted; any other existing row is left untouched and
// applied is false.
func (r *Repository) UpsertPayment(ctx context.Context, t Transaction) (*Transaction, bool, error) {
	query := `
		INSERT INTO transactions (
			tenant_id, booking_id, customer_id, provider_id, amount, platform_fee, provider_payout,
			transaction_type, payment_method, payment_intent_id, status
		) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, 'payment', $8, $9, 'completed')
		ON CONFLICT (payment_intent_id, transaction_type) DO UPDATE
		SET status = 'completed',
			amount = EXCLUDED.amount,
			platform_fee = EXCLUDED.platform_fee,
			provider_payout = EXCLUDED.provider_payout,
			payment_method = EXCLUDED.payment_method,
			updated_at = now()
		WHERE transactions.status IN ('pending', 'failed')
		RETURNING ` + transactionColumns
	row := r.db.QueryRow(ctx, query,
		t.TenantID, t.BookingID, t.CustomerID, t.ProviderID,
		t.Amount.String(), t.PlatformFee.String(), t.ProviderPayout.String(),
		t.PaymentMethod, t.PaymentIntentID,
	)
	saved, err := scanTransaction(row)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ledger: upsert payment: %w", err)
	}
	return saved, true, nil
}

// InsertRefund records a refund. It returns false when a refund for the
// intent already exists.
func (r *Repository) InsertRefund(ctx context.Context, t Transaction) (*Transaction, bool, error) {
	query := `
		INSERT INTO transactions (
			tenant_id, booking_id, customer_id, provider_id, amount, platform_fee, provider_payout,
			transaction_type, payment_method, payment_intent_id, status
		) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, 'refund', $8, $9, $10)
		ON CONFLICT (payment_intent_id, transaction_type) DO NOTHING
		RETURNING ` + transactionColumns
	row := r.db.QueryRow(ctx, query,
		t.TenantID, t.BookingID, t.CustomerID, t.ProviderID,
		t.Amount.String(), t.PlatformFee.String(), t.ProviderPayout.String(),
		t.PaymentMethod, t.PaymentIntentID, string(t.Status),
	)
	saved, err := scanTransaction(row)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ledger: insert refund: %w", err)
	}
	return saved, true, nil
}

// UpdateStatusByIntent sets the status of the intent's transaction of the
// given type. It reports whether a row was updated.
func (r *Repository) UpdateStatusByIntent(ctx context.Context, intentID string, typ Type, status Status) (bool, error) {
	ct, err := r.db.Exec(ctx, `
		UPDATE transactions SET status = $3, updated_at = now()
		WHERE payment_intent_id = $1 AND transaction_type = $2`,
		intentID, string(typ), string(status))
	if err != nil {
		return false, fmt.Errorf("ledger: update status by intent: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// UpdateStatus sets the status of one transaction.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status Status) error {
	ct, err := r.db.Exec(ctx, `UPDATE transactions SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("ledger: update status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var (
		t                   Transaction
		providerID          pgtype.Text
		amount, fee, payout string
		typ, method, status string
	)
	err := row.Scan(&t.ID, &t.TenantID, &t.BookingID, &t.CustomerID, &providerID,
		&amount, &fee, &payout, &typ, &method, &t.PaymentIntentID, &status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if t.PlatformFee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("parse platform_fee %q: %w", fee, err)
	}
	if t.ProviderPayout, err = decimal.NewFromString(payout); err != nil {
		return nil, fmt.Errorf("parse provider_payout %q: %w", payout, err)
	}
	t.Type = Type(typ)
	t.PaymentMethod = method
	t.Status = Status(status)
	if providerID.Valid {
		p := providerID.String
		t.ProviderID = &p
	}
	return &t, nil
}
