// Package memstore is an in-memory store.UnitOfWork with the same
// idempotency rules as the PostgreSQL schema. It is test support for the
// services built on store.UnitOfWork; FailOn injects repository errors.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sparkclean/sparkclean-platform/internal/bookings"
	"github.com/sparkclean/sparkclean-platform/internal/ledger"
	"github.com/sparkclean/sparkclean-platform/internal/providers"
	"github.com/sparkclean/sparkclean-platform/internal/store"
)

type state struct {
	bookings     map[string]bookings.Booking
	transactions map[string]ledger.Transaction
	providers    map[string]providers.Profile
}

func (s state) clone() state {
	out := state{
		bookings:     make(map[string]bookings.Booking, len(s.bookings)),
		transactions: make(map[string]ledger.Transaction, len(s.transactions)),
		providers:    make(map[string]providers.Profile, len(s.providers)),
	}
	for k, v := range s.bookings {
		out.bookings[k] = v
	}
	for k, v := range s.transactions {
		out.transactions[k] = v
	}
	for k, v := range s.providers {
		out.providers[k] = v
	}
	return out
}

// Store holds all rows in memory. Do serialises units of work and applies
// their writes only when fn succeeds.
type Store struct {
	mu     sync.Mutex
	state  state
	now    func() time.Time
	faults map[string]error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		state: state{
			bookings:     map[string]bookings.Booking{},
			transactions: map[string]ledger.Transaction{},
			providers:    map[string]providers.Profile{},
		},
		now:    time.Now,
		faults: map[string]error{},
	}
}

// FailOn makes the named booking repository method (for example "Cancel")
// return err from then on. A nil err clears the fault.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, method)
		return
	}
	s.faults[method] = err
}

// Do implements store.UnitOfWork.
func (s *Store) Do(ctx context.Context, fn func(store.Repos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	tx := &txn{st: &work, now: s.now, faults: s.faults}
	if err := fn(store.Repos{Bookings: tx, Ledger: tx, Providers: tx}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// PutBooking seeds or replaces a booking.
func (s *Store) PutBooking(b bookings.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.bookings[b.ID] = b
}

// PutTransaction seeds a ledger row, assigning an id when empty.
func (s *Store) PutTransaction(t ledger.Transaction) ledger.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	s.state.transactions[t.ID] = t
	return t
}

// PutProvider seeds a provider profile.
func (s *Store) PutProvider(p providers.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.providers[p.ID] = p
}

// Booking returns a copy of the stored booking.
func (s *Store) Booking(id string) (bookings.Booking, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.state.bookings[id]
	return b, ok
}

// Transactions returns all ledger rows ordered by creation.
func (s *Store) Transactions() []ledger.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Transaction, 0, len(s.state.transactions))
	for _, t := range s.state.transactions {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Provider returns a copy of the stored provider profile.
func (s *Store) Provider(id string) (providers.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.state.providers[id]
	return p, ok
}

// GetForTenant and Update satisfy bookings.Store outside a unit of work.
func (s *Store) GetForTenant(ctx context.Context, tenantID, id string) (*bookings.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&txn{st: &s.state, now: s.now, faults: s.faults}).GetForTenant(ctx, tenantID, id)
}

func (s *Store) Update(ctx context.Context, id string, p bookings.Patch, now time.Time) (*bookings.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.IsEmpty() {
		return nil, bookings.ErrEmptyPatch
	}
	b, ok := s.state.bookings[id]
	if !ok {
		return nil, fmt.Errorf("memstore: update: %w", bookings.ErrNotFound)
	}
	if p.Status != nil {
		b.Status = *p.Status
	}
	if p.ScheduledAt != nil {
		b.ScheduledAt = *p.ScheduledAt
	}
	if p.ProviderID != nil {
		if *p.ProviderID == "" {
			b.ProviderID = nil
		} else {
			v := *p.ProviderID
			b.ProviderID = &v
		}
	}
	if p.TotalAmount != nil {
		b.TotalAmount = *p.TotalAmount
	}
	if p.Notes != nil {
		v := *p.Notes
		b.Notes = &v
	}
	if p.CancellationReason != nil {
		v := *p.CancellationReason
		b.CancellationReason = &v
	}
	if p.CancelledAt != nil {
		v := *p.CancelledAt
		b.CancelledAt = &v
	}
	b.UpdatedAt = now
	s.state.bookings[id] = b
	return &b, nil
}

type txn struct {
	st     *state
	now    func() time.Time
	faults map[string]error
}

func (t *txn) fault(method string) error {
	if err, ok := t.faults[method]; ok {
		return fmt.Errorf("memstore: %s: %w", method, err)
	}
	return nil
}

func (t *txn) Get(_ context.Context, id string) (*bookings.Booking, error) {
	if err := t.fault("Get"); err != nil {
		return nil, err
	}
	b, ok := t.st.bookings[id]
	if !ok {
		return nil, fmt.Errorf("memstore: get: %w", bookings.ErrNotFound)
	}
	return &b, nil
}

func (t *txn) GetForTenant(_ context.Context, tenantID, id string) (*bookings.Booking, error) {
	if err := t.fault("GetForTenant"); err != nil {
		return nil, err
	}
	b, ok := t.st.bookings[id]
	if !ok || b.TenantID != tenantID {
		return nil, fmt.Errorf("memstore: get for tenant: %w", bookings.ErrNotFound)
	}
	return &b, nil
}

func (t *txn) mutate(method, id string, fn func(b *bookings.Booking)) (*bookings.Booking, error) {
	if err := t.fault(method); err != nil {
		return nil, err
	}
	b, ok := t.st.bookings[id]
	if !ok {
		return nil, fmt.Errorf("memstore: update booking: %w", bookings.ErrNotFound)
	}
	b.UpdatedAt = t.now()
	fn(&b)
	t.st.bookings[id] = b
	return &b, nil
}

func (t *txn) MarkPaid(_ context.Context, id string) (*bookings.Booking, error) {
	return t.mutate("MarkPaid", id, func(b *bookings.Booking) {
		b.PaymentStatus = bookings.PaymentPaid
		if b.Status == bookings.StatusPending {
			b.Status = bookings.StatusConfirmed
		}
	})
}

func (t *txn) MarkPaymentFailed(_ context.Context, id string) (*bookings.Booking, error) {
	return t.mutate("MarkPaymentFailed", id, func(b *bookings.Booking) { b.PaymentStatus = bookings.PaymentFailed })
}

func (t *txn) MarkRefunded(_ context.Context, id string) (*bookings.Booking, error) {
	return t.mutate("MarkRefunded", id, func(b *bookings.Booking) {
		b.PaymentStatus = bookings.PaymentRefunded
		b.Status = bookings.StatusRefunded
	})
}

func (t *txn) MarkPaymentRefunded(_ context.Context, id string) (*bookings.Booking, error) {
	return t.mutate("MarkPaymentRefunded", id, func(b *bookings.Booking) { b.PaymentStatus = bookings.PaymentRefunded })
}

func (t *txn) Cancel(_ context.Context, id string, p bookings.CancelParams) (*bookings.Booking, error) {
	return t.mutate("Cancel", id, func(b *bookings.Booking) {
		at := p.At
		b.Status = bookings.StatusCancelled
		b.CancelledAt = &at
		b.UpdatedAt = at
		if p.Reason != nil {
			r := *p.Reason
			b.CancellationReason = &r
		}
		if p.PaymentRefunded {
			b.PaymentStatus = bookings.PaymentRefunded
		}
	})
}

func (t *txn) find(match func(ledger.Transaction) bool) (*ledger.Transaction, error) {
	var found *ledger.Transaction
	for _, row := range t.st.transactions {
		if !match(row) {
			continue
		}
		r := row
		if found == nil || r.CreatedAt.After(found.CreatedAt) {
			found = &r
		}
	}
	if found == nil {
		return nil, ledger.ErrNotFound
	}
	return found, nil
}

func (t *txn) FindByIntent(_ context.Context, intentID string, typ ledger.Type) (*ledger.Transaction, error) {
	return t.find(func(r ledger.Transaction) bool {
		return r.PaymentIntentID == intentID && r.Type == typ
	})
}

func (t *txn) FindCompletedPayment(_ context.Context, bookingID string) (*ledger.Transaction, error) {
	return t.find(func(r ledger.Transaction) bool {
		return r.BookingID == bookingID && r.Type == ledger.TypePayment && r.Status == ledger.StatusCompleted
	})
}

func (t *txn) FindCompletedPaymentByIntent(_ context.Context, intentID string) (*ledger.Transaction, error) {
	return t.find(func(r ledger.Transaction) bool {
		return r.PaymentIntentID == intentID && r.Type == ledger.TypePayment && r.Status == ledger.StatusCompleted
	})
}

func (t *txn) UpsertPayment(ctx context.Context, in ledger.Transaction) (*ledger.Transaction, bool, error) {
	now := t.now()
	existing, err := t.FindByIntent(ctx, in.PaymentIntentID, ledger.TypePayment)
	if err == nil {
		if existing.Status != ledger.StatusPending && existing.Status != ledger.StatusFailed {
			return nil, false, nil
		}
		existing.Status = ledger.StatusCompleted
		existing.Amount = in.Amount
		existing.PlatformFee = in.PlatformFee
		existing.ProviderPayout = in.ProviderPayout
		existing.PaymentMethod = in.PaymentMethod
		existing.UpdatedAt = now
		t.st.transactions[existing.ID] = *existing
		return existing, true, nil
	}
	in.ID = uuid.NewString()
	in.Type = ledger.TypePayment
	in.Status = ledger.StatusCompleted
	in.CreatedAt, in.UpdatedAt = now, now
	t.st.transactions[in.ID] = in
	return &in, true, nil
}

func (t *txn) InsertRefund(ctx context.Context, in ledger.Transaction) (*ledger.Transaction, bool, error) {
	if _, err := t.FindByIntent(ctx, in.PaymentIntentID, ledger.TypeRefund); err == nil {
		return nil, false, nil
	}
	now := t.now()
	in.ID = uuid.NewString()
	in.Type = ledger.TypeRefund
	in.CreatedAt, in.UpdatedAt = now, now
	t.st.transactions[in.ID] = in
	return &in, true, nil
}

func (t *txn) UpdateStatusByIntent(_ context.Context, intentID string, typ ledger.Type, status ledger.Status) (bool, error) {
	updated := false
	for id, row := range t.st.transactions {
		if row.PaymentIntentID == intentID && row.Type == typ {
			row.Status = status
			row.UpdatedAt = t.now()
			t.st.transactions[id] = row
			updated = true
		}
	}
	return updated, nil
}

func (t *txn) UpdateStatus(_ context.Context, id string, status ledger.Status) error {
	row, ok := t.st.transactions[id]
	if !ok {
		return ledger.ErrNotFound
	}
	row.Status = status
	row.UpdatedAt = t.now()
	t.st.transactions[id] = row
	return nil
}

func (t *txn) UpdatePayoutFlags(_ context.Context, accountID string, payoutsEnabled, detailsSubmitted bool) (*providers.Profile, bool, error) {
	for id, p := range t.st.providers {
		if p.StripeAccountID != accountID {
			continue
		}
		p.PayoutsEnabled = payoutsEnabled
		p.DetailsSubmitted = detailsSubmitted
		t.st.providers[id] = p
		return &p, true, nil
	}
	return nil, false, nil
}
