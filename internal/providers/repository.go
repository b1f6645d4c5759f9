// Package providers stores payout eligibility for service providers'
// connected payment accounts.
package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Profile identifies the provider whose account was updated.
type Profile struct {
	ID               string
	TenantID         string
	UserID           string
	StripeAccountID  string
	PayoutsEnabled   bool
	DetailsSubmitted bool
}

// Repository updates provider_profiles.
type Repository struct {
	db querier
}

func NewRepository(db querier) *Repository {
	if db == nil {
		panic("providers: querier required")
	}
	return &Repository{db: db}
}

// UpdatePayoutFlags sets the payout flags for the provider linked to the
// external account. found is false when no profile matches.
func (r *Repository) UpdatePayoutFlags(ctx context.Context, accountID string, payoutsEnabled, detailsSubmitted bool) (*Profile, bool, error) {
	query := `
		UPDATE provider_profiles
		SET payouts_enabled = $2, details_submitted = $3, updated_at = now()
		WHERE stripe_account_id = $1
		RETURNING id::text, tenant_id::text, user_id::text, stripe_account_id, payouts_enabled, details_submitted`
	var p Profile
	err := r.db.QueryRow(ctx, query, accountID, payoutsEnabled, detailsSubmitted).
		Scan(&p.ID, &p.TenantID, &p.UserID, &p.StripeAccountID, &p.PayoutsEnabled, &p.DetailsSubmitted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("providers: update payout flags: %w", err)
	}
	return &p, true, nil
}
