package bookings

import (
	"context"
	"errors"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
)

var bookingRowColumns = []string{
	"id", "tenant_id", "customer_id", "provider_id", "scheduled_at", "total_amount",
	"status", "payment_status", "cancellation_reason", "cancelled_at", "notes", "created_at", "updated_at",
}

func bookingRow(id, status, payment string, cancelledAt pgtype.Timestamptz) *pgxmock.Rows {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return pgxmock.NewRows(bookingRowColumns).AddRow(
		id, "tenant-1", "cust-1", pgtype.Text{String: "prov-1", Valid: true},
		created.Add(72*time.Hour), "100.00",
		status, payment, pgtype.Text{}, cancelledAt, pgtype.Text{String: "gate code 1234", Valid: true},
		created, created,
	)
}

func TestRepositoryGetForTenant(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := NewRepository(mock)
	mock.ExpectQuery("SELECT .* FROM bookings WHERE id = \\$1 AND tenant_id = \\$2").
		WithArgs("b-1", "tenant-1").
		WillReturnRows(bookingRow("b-1", "confirmed", "paid", pgtype.Timestamptz{}))

	b, err := repo.GetForTenant(context.Background(), "tenant-1", "b-1")
	if err != nil {
		t.Fatalf("get for tenant: %v", err)
	}
	if b.Status != StatusConfirmed || b.PaymentStatus != PaymentPaid {
		t.Fatalf("unexpected status %s/%s", b.Status, b.PaymentStatus)
	}
	if !b.TotalAmount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected amount %s", b.TotalAmount)
	}
	if b.AssigneeID() != "prov-1" {
		t.Fatalf("unexpected assignee %q", b.AssigneeID())
	}
	if b.CancellationReason != nil || b.CancelledAt != nil {
		t.Fatalf("expected null cancellation fields")
	}
	if b.Notes == nil || *b.Notes != "gate code 1234" {
		t.Fatalf("unexpected notes %v", b.Notes)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRepositoryGetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := NewRepository(mock)
	mock.ExpectQuery("SELECT .* FROM bookings WHERE id = \\$1").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = repo.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRepositoryMalformedIDIsInvalidID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := NewRepository(mock)
	mock.ExpectQuery("SELECT .* FROM bookings WHERE id = \\$1 AND tenant_id = \\$2").
		WithArgs("not-a-uuid", "tenant-1").
		WillReturnError(&pgconn.PgError{Code: "22P02", Message: "invalid input syntax for type uuid"})
	mock.ExpectQuery("UPDATE bookings").
		WithArgs("not-a-uuid").
		WillReturnError(&pgconn.PgError{Code: "22P02", Message: "invalid input syntax for type uuid"})

	if _, err := repo.GetForTenant(context.Background(), "tenant-1", "not-a-uuid"); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID from get, got %v", err)
	}
	if _, err := repo.MarkPaymentFailed(context.Background(), "not-a-uuid"); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID from update, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRepositoryMarkPaidConfirmsPending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := NewRepository(mock)
	mock.ExpectQuery("UPDATE bookings").
		WithArgs("b-1").
		WillReturnRows(bookingRow("b-1", "confirmed", "paid", pgtype.Timestamptz{}))

	b, err := repo.MarkPaid(context.Background(), "b-1")
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if b.Status != StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", b.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRepositoryCancel(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := NewRepository(mock)
	at := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	reason := "moving house"
	mock.ExpectQuery("UPDATE bookings").
		WithArgs("b-1", at, &reason, true).
		WillReturnRows(bookingRow("b-1", "cancelled", "refunded", pgtype.Timestamptz{Time: at, Valid: true}))

	b, err := repo.Cancel(context.Background(), "b-1", CancelParams{Reason: &reason, At: at, PaymentRefunded: true})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if b.Status != StatusCancelled || b.PaymentStatus != PaymentRefunded {
		t.Fatalf("unexpected state %s/%s", b.Status, b.PaymentStatus)
	}
	if b.CancelledAt == nil || !b.CancelledAt.Equal(at) {
		t.Fatalf("expected cancelled_at %s, got %v", at, b.CancelledAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRepositoryUpdateBuildsDynamicSet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := NewRepository(mock)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	status := StatusInProgress
	amount := decimal.RequireFromString("120.50")
	mock.ExpectQuery("UPDATE bookings SET status = \\$2, total_amount = \\$3::numeric, updated_at = \\$4 WHERE id = \\$1").
		WithArgs("b-1", "in-progress", "120.5", now).
		WillReturnRows(bookingRow("b-1", "in-progress", "paid", pgtype.Timestamptz{}))

	if _, err := repo.Update(context.Background(), "b-1", Patch{Status: &status, TotalAmount: &amount}, now); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRepositoryUpdateRejectsEmptyPatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	if _, err := NewRepository(mock).Update(context.Background(), "b-1", Patch{}, time.Now()); !errors.Is(err, ErrEmptyPatch) {
		t.Fatalf("expected ErrEmptyPatch, got %v", err)
	}
}
