package events

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// billingTypes is the allow-list of provider events kept for financial audit.
var billingTypes = map[string]struct{}{
	"payment_intent.succeeded":      {},
	"payment_intent.payment_failed": {},
	"charge.refunded":               {},
	"charge.dispute.created":        {},
	"payout.paid":                   {},
	"payout.failed":                 {},
}

// IsBillingEvent reports whether eventType is kept in billing_events.
func IsBillingEvent(eventType string) bool {
	_, ok := billingTypes[eventType]
	return ok
}

// BillingEvent is a write-only copy of a financially relevant event.
type BillingEvent struct {
	Provider    string
	EventID     string
	EventType   string
	TenantID    string
	AmountMinor int64
	Currency    string
	Payload     []byte
}

// BillingStore appends to billing_events.
type BillingStore struct {
	pool rowQuerier
}

func NewBillingStore(pool *pgxpool.Pool) *BillingStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &BillingStore{pool: pool}
}

func newBillingStoreWithQuerier(q rowQuerier) *BillingStore {
	if q == nil {
		panic("events: querier required")
	}
	return &BillingStore{pool: q}
}

// Insert stores the event once per provider event id.
func (s *BillingStore) Insert(ctx context.Context, evt BillingEvent) error {
	query := `
		INSERT INTO billing_events (provider, event_id, event_type, tenant_id, amount_minor, currency, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (provider, event_id) DO NOTHING
	`
	_, err := s.pool.Exec(ctx, query,
		evt.Provider, evt.EventID, evt.EventType, nullString(evt.TenantID),
		evt.AmountMinor, nullString(evt.Currency), nullBytes(evt.Payload),
	)
	if err != nil {
		return fmt.Errorf("events: insert billing event: %w", err)
	}
	return nil
}
