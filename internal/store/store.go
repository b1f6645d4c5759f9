// Package store groups the booking, ledger and provider repositories behind a
// unit of work so one handler's writes commit or roll back together.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sparkclean/sparkclean-platform/internal/bookings"
	"github.com/sparkclean/sparkclean-platform/internal/ledger"
	"github.com/sparkclean/sparkclean-platform/internal/providers"
	"github.com/sparkclean/sparkclean-platform/pkg/logging"
)

// BookingRepository is the booking surface used by payment reconciliation.
type BookingRepository interface {
	Get(ctx context.Context, id string) (*bookings.Booking, error)
	GetForTenant(ctx context.Context, tenantID, id string) (*bookings.Booking, error)
	MarkPaid(ctx context.Context, id string) (*bookings.Booking, error)
	MarkPaymentFailed(ctx context.Context, id string) (*bookings.Booking, error)
	MarkRefunded(ctx context.Context, id string) (*bookings.Booking, error)
	MarkPaymentRefunded(ctx context.Context, id string) (*bookings.Booking, error)
	Cancel(ctx context.Context, id string, p bookings.CancelParams) (*bookings.Booking, error)
}

// LedgerRepository is the transactions surface.
type LedgerRepository interface {
	FindByIntent(ctx context.Context, intentID string, typ ledger.Type) (*ledger.Transaction, error)
	FindCompletedPayment(ctx context.Context, bookingID string) (*ledger.Transaction, error)
	FindCompletedPaymentByIntent(ctx context.Context, intentID string) (*ledger.Transaction, error)
	UpsertPayment(ctx context.Context, t ledger.Transaction) (*ledger.Transaction, bool, error)
	InsertRefund(ctx context.Context, t ledger.Transaction) (*ledger.Transaction, bool, error)
	UpdateStatusByIntent(ctx context.Context, intentID string, typ ledger.Type, status ledger.Status) (bool, error)
	UpdateStatus(ctx context.Context, id string, status ledger.Status) error
}

// ProviderRepository updates provider payout flags.
type ProviderRepository interface {
	UpdatePayoutFlags(ctx context.Context, accountID string, payoutsEnabled, detailsSubmitted bool) (*providers.Profile, bool, error)
}

// Repos is the set of repositories bound to one transaction.
type Repos struct {
	Bookings  BookingRepository
	Ledger    LedgerRepository
	Providers ProviderRepository
}

// UnitOfWork runs fn inside a single transaction. fn returning an error
// rolls everything back.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(Repos) error) error
}

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres is a UnitOfWork over a pgx pool.
type Postgres struct {
	pool   txBeginner
	logger *logging.Logger
}

// NewPostgres accepts a *pgxpool.Pool (or pgxmock pool in tests).
func NewPostgres(pool txBeginner, logger *logging.Logger) *Postgres {
	if pool == nil {
		panic("store: pgx pool required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Postgres{pool: pool, logger: logger}
}

// Do begins a transaction, binds the repositories to it and commits when fn
// succeeds.
func (p *Postgres) Do(ctx context.Context, fn func(Repos) error) (err error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			p.logger.Warn("store: rollback failed", "error", rbErr)
		}
	}()

	if err = fn(Repos{
		Bookings:  bookings.NewRepository(tx),
		Ledger:    ledger.NewRepository(tx),
		Providers: providers.NewRepository(tx),
	}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}
