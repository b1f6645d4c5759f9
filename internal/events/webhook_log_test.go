package events

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var webhookRowColumns = []string{
	"provider", "event_id", "event_type", "tenant_id", "status", "http_status", "error_message",
	"payload", "attempts", "created_at", "updated_at", "processed_at",
}

func TestWebhookLogGet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	log := newWebhookLogWithQuerier(mock)
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .* FROM webhook_events").
		WithArgs("stripe", "evt_1").
		WillReturnRows(pgxmock.NewRows(webhookRowColumns).AddRow(
			"stripe", "evt_1", "payment_intent.succeeded", pgtype.Text{String: "tenant-1", Valid: true},
			"processed", pgtype.Int4{Int32: 200, Valid: true}, pgtype.Text{},
			[]byte(`{"id":"evt_1"}`), 1, now, now, pgtype.Timestamptz{Time: now, Valid: true},
		))

	evt, err := log.Get(context.Background(), "stripe", "evt_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !evt.Status.Final() || evt.HTTPStatus != 200 || evt.TenantID != "tenant-1" {
		t.Fatalf("unexpected event %#v", evt)
	}
	if evt.ProcessedAt == nil {
		t.Fatal("expected processed_at")
	}

	mock.ExpectQuery("SELECT .* FROM webhook_events").
		WithArgs("stripe", "evt_missing").
		WillReturnError(pgx.ErrNoRows)
	if _, err := log.Get(context.Background(), "stripe", "evt_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWebhookLogRecordProcessing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	log := newWebhookLogWithQuerier(mock)
	payload := []byte(`{"id":"evt_1"}`)
	mock.ExpectExec("INSERT INTO webhook_events").
		WithArgs("stripe", "evt_1", "charge.refunded", nil, "processing", nil, nil, payload, nil, 1, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = log.Record(context.Background(), Record{
		Provider: "stripe", EventID: "evt_1", EventType: "charge.refunded",
		Status: StatusProcessing, Payload: payload, CountAttempt: true,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWebhookLogRecordFinalStampsProcessedAt(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	log := newWebhookLogWithQuerier(mock)
	mock.ExpectExec("INSERT INTO webhook_events").
		WithArgs("stripe", "evt_2", "customer.created", "tenant-1", "ignored", 200, nil, nil, nil, 0, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = log.Record(context.Background(), Record{
		Provider: "stripe", EventID: "evt_2", EventType: "customer.created", TenantID: "tenant-1",
		Status: StatusIgnored, HTTPStatus: 200,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWebhookLogListStale(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	log := newWebhookLogWithQuerier(mock)
	cutoff := time.Now().Add(-10 * time.Minute)
	old := cutoff.Add(-time.Hour)
	mock.ExpectQuery("SELECT .* FROM webhook_events\\s+WHERE status = ANY").
		WithArgs(pgxmock.AnyArg(), cutoff, 5, 25).
		WillReturnRows(pgxmock.NewRows(webhookRowColumns).
			AddRow("stripe", "evt_a", "payment_intent.succeeded", pgtype.Text{}, "processing", pgtype.Int4{}, pgtype.Text{},
				[]byte(`{"id":"evt_a"}`), 1, old, old, pgtype.Timestamptz{}).
			AddRow("stripe", "evt_b", "charge.refunded", pgtype.Text{}, "failed", pgtype.Int4{Int32: 500, Valid: true},
				pgtype.Text{String: "boom", Valid: true}, []byte(`{"id":"evt_b"}`), 2, old, old, pgtype.Timestamptz{}))

	stale, err := log.ListStale(context.Background(), []Status{StatusReceived, StatusProcessing, StatusFailed}, cutoff, 5, 25)
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 2 || stale[1].ErrorMessage != "boom" || stale[1].Attempts != 2 {
		t.Fatalf("unexpected stale events %#v", stale)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSnapshotTruncates(t *testing.T) {
	big := []byte(strings.Repeat("x", SnapshotLimit+100))
	if got := Snapshot(big); len(got) != SnapshotLimit {
		t.Fatalf("expected %d bytes, got %d", SnapshotLimit, len(got))
	}
	if got := Snapshot([]byte("small")); got != "small" {
		t.Fatalf("unexpected snapshot %q", got)
	}
}

func TestBillingStoreInsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newBillingStoreWithQuerier(mock)
	payload := []byte(`{"id":"evt_1"}`)
	mock.ExpectExec("INSERT INTO billing_events").
		WithArgs("stripe", "evt_1", "charge.refunded", "tenant-1", int64(10000), "usd", payload).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.Insert(context.Background(), BillingEvent{
		Provider: "stripe", EventID: "evt_1", EventType: "charge.refunded", TenantID: "tenant-1",
		AmountMinor: 10000, Currency: "usd", Payload: payload,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestIsBillingEvent(t *testing.T) {
	for _, typ := range []string{"payment_intent.succeeded", "charge.dispute.created", "payout.failed"} {
		if !IsBillingEvent(typ) {
			t.Fatalf("expected %s on allow-list", typ)
		}
	}
	if IsBillingEvent("account.updated") {
		t.Fatal("account.updated is not a billing event")
	}
}
