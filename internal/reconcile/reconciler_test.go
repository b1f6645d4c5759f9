package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparkclean/sparkclean-platform/internal/events"
	"github.com/sparkclean/sparkclean-platform/internal/locks"
	"github.com/sparkclean/sparkclean-platform/internal/webhooks"
	"github.com/sparkclean/sparkclean-platform/pkg/logging"
)

type fakeLog struct {
	mu        sync.Mutex
	rows      map[string]*events.WebhookEvent
	records   []events.Record
	listErr   error
	gotCutoff time.Time
	gotLimit  int
	gotMax    int
}

func (f *fakeLog) ListStale(_ context.Context, _ []events.Status, olderThan time.Time, maxAttempts, limit int) ([]events.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotCutoff, f.gotMax, f.gotLimit = olderThan, maxAttempts, limit
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []events.WebhookEvent
	for _, row := range f.rows {
		if !row.Status.Final() && row.Attempts < maxAttempts {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (f *fakeLog) Get(_ context.Context, _, eventID string) (*events.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[eventID]
	if !ok {
		return nil, events.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (f *fakeLog) Record(_ context.Context, rec events.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	row, ok := f.rows[rec.EventID]
	if !ok {
		row = &events.WebhookEvent{Provider: rec.Provider, EventID: rec.EventID}
		f.rows[rec.EventID] = row
	}
	row.Status = rec.Status
	if rec.CountAttempt {
		row.Attempts++
	}
	return nil
}

func stored(id, typ string, status events.Status, attempts int) *events.WebhookEvent {
	return &events.WebhookEvent{
		Provider: "stripe", EventID: id, EventType: typ, Status: status, Attempts: attempts,
		Payload: []byte(`{"id":"` + id + `","object":"event","type":"` + typ + `","data":{"object":{"id":"obj_1"}}}`),
	}
}

func newTestReconciler(log *fakeLog, handler webhooks.HandlerFunc) *Reconciler {
	d := webhooks.NewDispatcher(logging.Discard())
	d.Handle("payment_intent.succeeded", handler)
	p := webhooks.NewProcessor(log, nil, d, nil, logging.Discard())
	r := New(log, p, logging.Discard()).WithMaxAttempts(3).WithBatchSize(10).WithStaleAfter(5 * time.Minute)
	r.now = func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestRunOnceRedrivesStuckEvents(t *testing.T) {
	log := &fakeLog{rows: map[string]*events.WebhookEvent{
		"evt_stuck":  stored("evt_stuck", "payment_intent.succeeded", events.StatusProcessing, 1),
		"evt_failed": stored("evt_failed", "payment_intent.succeeded", events.StatusFailed, 2),
	}}
	var handled []string
	var mu sync.Mutex
	r := newTestReconciler(log, func(_ context.Context, evt webhooks.Event) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, evt.ID)
		return "", nil
	})

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"evt_stuck", "evt_failed"}, handled)
	assert.Equal(t, events.StatusProcessed, log.rows["evt_stuck"].Status)
	assert.Equal(t, events.StatusProcessed, log.rows["evt_failed"].Status)

	assert.Equal(t, time.Date(2026, 6, 1, 11, 55, 0, 0, time.UTC), log.gotCutoff)
	assert.Equal(t, 3, log.gotMax)
	assert.Equal(t, 10, log.gotLimit)

	// Nothing is left for a second pass.
	n, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, handled, 2)
}

func TestRunOnceCountsFailedAttempts(t *testing.T) {
	log := &fakeLog{rows: map[string]*events.WebhookEvent{
		"evt_1": stored("evt_1", "payment_intent.succeeded", events.StatusFailed, 1),
	}}
	r := newTestReconciler(log, func(context.Context, webhooks.Event) (string, error) {
		return "", errors.New("still broken")
	})

	for i := 0; i < 5; i++ {
		_, err := r.RunOnce(context.Background())
		require.NoError(t, err)
	}
	// Attempts stop at the cap and the row stays failed for review.
	assert.Equal(t, 3, log.rows["evt_1"].Attempts)
	assert.Equal(t, events.StatusFailed, log.rows["evt_1"].Status)
}

func TestRunOnceUnreadablePayload(t *testing.T) {
	bad := stored("evt_bad", "payment_intent.succeeded", events.StatusReceived, 0)
	bad.Payload = []byte(`not json`)
	log := &fakeLog{rows: map[string]*events.WebhookEvent{"evt_bad": bad}}
	r := newTestReconciler(log, func(context.Context, webhooks.Event) (string, error) {
		t.Fatal("handler must not run")
		return "", nil
	})

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	require.Len(t, log.records, 1)
	assert.Equal(t, events.StatusFailed, log.records[0].Status)
	assert.Equal(t, 1, log.rows["evt_bad"].Attempts)
}

type heldLocker struct{}

func (heldLocker) Acquire(context.Context, string) (func(), error) { return nil, locks.ErrNotHeld }

func TestRunOnceSkipsLockedEvents(t *testing.T) {
	log := &fakeLog{rows: map[string]*events.WebhookEvent{
		"evt_1": stored("evt_1", "payment_intent.succeeded", events.StatusProcessing, 0),
	}}
	r := newTestReconciler(log, func(context.Context, webhooks.Event) (string, error) {
		t.Fatal("handler must not run while the live delivery holds the lock")
		return "", nil
	}).WithLocker(heldLocker{})

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, log.records)
}

func TestRunOnceListError(t *testing.T) {
	log := &fakeLog{rows: map[string]*events.WebhookEvent{}, listErr: errors.New("db down")}
	r := newTestReconciler(log, nil)
	_, err := r.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestStartStopsOnCancel(t *testing.T) {
	log := &fakeLog{rows: map[string]*events.WebhookEvent{}}
	r := newTestReconciler(log, nil).WithInterval(5 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}
