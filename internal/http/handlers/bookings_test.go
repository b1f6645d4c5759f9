package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparkclean/sparkclean-platform/internal/bookings"
	"github.com/sparkclean/sparkclean-platform/internal/cancellation"
	"github.com/sparkclean/sparkclean-platform/internal/ledger"
	"github.com/sparkclean/sparkclean-platform/internal/payments"
	"github.com/sparkclean/sparkclean-platform/internal/store/memstore"
	"github.com/sparkclean/sparkclean-platform/internal/tenancy"
	"github.com/sparkclean/sparkclean-platform/pkg/logging"
)

type stubRefunds struct{ calls []payments.RefundRequest }

func (s *stubRefunds) Configured() bool { return true }

func (s *stubRefunds) Refund(_ context.Context, req payments.RefundRequest) (*payments.RefundResult, error) {
	s.calls = append(s.calls, req)
	return &payments.RefundResult{ID: "re_1", Status: "succeeded", Confirmed: true}, nil
}

type nopNotifier struct{ sent []string }

func (n *nopNotifier) Dispatch(_ context.Context, id, tmpl string) { n.sent = append(n.sent, id+":"+tmpl) }

var (
	owner    = tenancy.Principal{ID: "cust-1", Role: "customer", TenantID: "tenant-1"}
	assignee = tenancy.Principal{ID: "prov-1", Role: "provider", TenantID: "tenant-1"}
	admin    = tenancy.Principal{ID: "admin-1", Role: "admin", TenantID: "tenant-1"}
	stranger = tenancy.Principal{ID: "cust-2", Role: "customer", TenantID: "tenant-1"}
)

type harness struct {
	router   http.Handler
	st       *memstore.Store
	refunds  *stubRefunds
	notifier *nopNotifier
}

func newHarness(t *testing.T, status bookings.Status, payment bookings.PaymentStatus) *harness {
	t.Helper()
	st := memstore.New()
	provider := "prov-1"
	st.PutBooking(bookings.Booking{
		ID: "b-1", TenantID: "tenant-1", CustomerID: "cust-1", ProviderID: &provider,
		ScheduledAt: time.Now().Add(72 * time.Hour), TotalAmount: decimal.NewFromInt(100),
		Status: status, PaymentStatus: payment,
	})
	if payment == bookings.PaymentPaid {
		st.PutTransaction(ledger.Transaction{
			TenantID: "tenant-1", BookingID: "b-1", Amount: decimal.NewFromInt(100),
			Type: ledger.TypePayment, PaymentIntentID: "pi_1", Status: ledger.StatusCompleted,
		})
	}
	refunds := &stubRefunds{}
	n := &nopNotifier{}
	h := NewBookingsHandler(
		bookings.NewUpdater(st, n, logging.Discard()),
		cancellation.NewService(st, refunds, nil, n, nil, nil, logging.Discard()),
		logging.Discard(),
	)
	r := chi.NewRouter()
	r.Get("/api/bookings/{id}", h.Get)
	r.Patch("/api/bookings/{id}", h.Update)
	r.Delete("/api/bookings/{id}", h.Cancel)
	return &harness{router: r, st: st, refunds: refunds, notifier: n}
}

func (h *harness) do(t *testing.T, p *tenancy.Principal, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if p != nil {
		req = req.WithContext(tenancy.WithPrincipal(req.Context(), *p))
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func TestGetBooking(t *testing.T) {
	h := newHarness(t, bookings.StatusConfirmed, bookings.PaymentUnpaid)

	code, body := h.do(t, &assignee, http.MethodGet, "/api/bookings/b-1", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "b-1", body["booking"].(map[string]any)["id"])

	code, _ = h.do(t, &stranger, http.MethodGet, "/api/bookings/b-1", "")
	assert.Equal(t, http.StatusForbidden, code)

	code, body = h.do(t, &owner, http.MethodGet, "/api/bookings/missing", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Booking not found", body["error"])

	code, _ = h.do(t, nil, http.MethodGet, "/api/bookings/b-1", "")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestPatchBooking(t *testing.T) {
	cases := []struct {
		name     string
		status   bookings.Status
		caller   tenancy.Principal
		body     string
		wantCode int
		wantMail []string
	}{
		{name: "provider starts job", status: bookings.StatusConfirmed, caller: assignee,
			body: `{"status":"in-progress"}`, wantCode: http.StatusOK, wantMail: []string{"b-1:inProgress"}},
		{name: "owner cancels", status: bookings.StatusConfirmed, caller: owner,
			body: `{"status":"cancelled","cancellation_reason":"moving"}`, wantCode: http.StatusOK, wantMail: []string{"b-1:cancelled"}},
		{name: "owner cannot complete", status: bookings.StatusInProgress, caller: owner,
			body: `{"status":"completed"}`, wantCode: http.StatusForbidden},
		{name: "provider cannot reschedule", status: bookings.StatusConfirmed, caller: assignee,
			body: `{"scheduled_at":"2026-07-01T10:00:00Z"}`, wantCode: http.StatusForbidden},
		{name: "completed is terminal", status: bookings.StatusCompleted, caller: admin,
			body: `{"status":"confirmed"}`, wantCode: http.StatusBadRequest},
		{name: "admin refunds cancelled", status: bookings.StatusCancelled, caller: admin,
			body: `{"status":"refunded"}`, wantCode: http.StatusOK, wantMail: []string{"b-1:refunded"}},
		{name: "unknown field", status: bookings.StatusConfirmed, caller: admin,
			body: `{"status":"confirmed","payment_status":"paid"}`, wantCode: http.StatusBadRequest},
		{name: "bad status", status: bookings.StatusConfirmed, caller: admin,
			body: `{"status":"done"}`, wantCode: http.StatusBadRequest},
		{name: "empty patch", status: bookings.StatusConfirmed, caller: admin,
			body: `{}`, wantCode: http.StatusBadRequest},
		{name: "same status sends nothing", status: bookings.StatusConfirmed, caller: admin,
			body: `{"status":"confirmed"}`, wantCode: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.status, bookings.PaymentUnpaid)
			code, body := h.do(t, &tc.caller, http.MethodPatch, "/api/bookings/b-1", tc.body)
			assert.Equal(t, tc.wantCode, code, body)
			if code == http.StatusOK {
				assert.Equal(t, "Booking updated successfully", body["message"])
			}
			assert.Equal(t, tc.wantMail, h.notifier.sent)
		})
	}
}

func TestPatchCancelStampsCancelledAt(t *testing.T) {
	h := newHarness(t, bookings.StatusConfirmed, bookings.PaymentUnpaid)
	code, _ := h.do(t, &owner, http.MethodPatch, "/api/bookings/b-1", `{"status":"cancelled"}`)
	require.Equal(t, http.StatusOK, code)
	b, _ := h.st.Booking("b-1")
	assert.NotNil(t, b.CancelledAt)
}

func TestDeleteBookingRefunds(t *testing.T) {
	h := newHarness(t, bookings.StatusConfirmed, bookings.PaymentPaid)
	code, body := h.do(t, &owner, http.MethodDelete, "/api/bookings/b-1", `{"cancellation_reason":"sick"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["refundProcessed"])
	assert.Equal(t, "Booking cancelled successfully and refund processed", body["message"])
	assert.Equal(t, "cancelled", body["booking"].(map[string]any)["status"])
	require.Len(t, h.refunds.calls, 1)
	assert.Equal(t, int64(10000), h.refunds.calls[0].AmountMinor)
}

func TestDeleteBookingWithoutBodyOrRefund(t *testing.T) {
	h := newHarness(t, bookings.StatusConfirmed, bookings.PaymentPaid)
	code, body := h.do(t, &owner, http.MethodDelete, "/api/bookings/b-1", `{"process_refund":false}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["refundProcessed"])
	assert.Empty(t, h.refunds.calls)

	h = newHarness(t, bookings.StatusConfirmed, bookings.PaymentUnpaid)
	code, body = h.do(t, &owner, http.MethodDelete, "/api/bookings/b-1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Booking cancelled successfully", body["message"])
}

func TestDeleteBookingErrors(t *testing.T) {
	cases := []struct {
		name     string
		status   bookings.Status
		caller   tenancy.Principal
		path     string
		wantCode int
		wantErr  string
	}{
		{name: "not found", status: bookings.StatusConfirmed, caller: owner, path: "/api/bookings/nope",
			wantCode: http.StatusNotFound, wantErr: "Booking not found"},
		{name: "forbidden", status: bookings.StatusConfirmed, caller: stranger, path: "/api/bookings/b-1",
			wantCode: http.StatusForbidden, wantErr: "Forbidden"},
		{name: "already cancelled", status: bookings.StatusCancelled, caller: owner, path: "/api/bookings/b-1",
			wantCode: http.StatusBadRequest, wantErr: "Booking is already cancelled"},
		{name: "completed", status: bookings.StatusCompleted, caller: owner, path: "/api/bookings/b-1",
			wantCode: http.StatusBadRequest, wantErr: "Cannot cancel a completed booking"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.status, bookings.PaymentPaid)
			code, body := h.do(t, &tc.caller, http.MethodDelete, tc.path, "")
			assert.Equal(t, tc.wantCode, code)
			assert.Equal(t, tc.wantErr, body["error"])
			assert.Empty(t, h.refunds.calls)
		})
	}
}

func TestDeleteBookingMalformedBody(t *testing.T) {
	h := newHarness(t, bookings.StatusConfirmed, bookings.PaymentPaid)
	code, _ := h.do(t, &owner, http.MethodDelete, "/api/bookings/b-1", `{"process_refund":`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMalformedBookingIDIsNotFound(t *testing.T) {
	h := newHarness(t, bookings.StatusConfirmed, bookings.PaymentPaid)
	h.st.FailOn("GetForTenant", bookings.ErrInvalidID)

	for _, method := range []string{http.MethodGet, http.MethodPatch, http.MethodDelete} {
		body := ""
		if method == http.MethodPatch {
			body = `{"notes":"side door"}`
		}
		code, out := h.do(t, &owner, method, "/api/bookings/not-a-uuid", body)
		assert.Equal(t, http.StatusNotFound, code, method)
		assert.Equal(t, "Booking not found", out["error"], method)
	}
	assert.Empty(t, h.refunds.calls)
}

func TestGetBookingMalformedIDFromPostgres(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	mock.ExpectQuery("SELECT .* FROM bookings WHERE id = \\$1 AND tenant_id = \\$2").
		WithArgs("not-a-uuid", "tenant-1").
		WillReturnError(&pgconn.PgError{Code: "22P02", Message: "invalid input syntax for type uuid"})

	h := NewBookingsHandler(bookings.NewUpdater(bookings.NewRepository(mock), nil, logging.Discard()), nil, logging.Discard())
	r := chi.NewRouter()
	r.Get("/api/bookings/{id}", h.Get)

	req := httptest.NewRequest(http.MethodGet, "/api/bookings/not-a-uuid", nil)
	req = req.WithContext(tenancy.WithPrincipal(req.Context(), owner))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Booking not found"}`, rec.Body.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteBookingWriteFailure(t *testing.T) {
	h := newHarness(t, bookings.StatusConfirmed, bookings.PaymentPaid)
	h.st.FailOn("Cancel", errors.New("connection reset"))

	code, body := h.do(t, &owner, http.MethodDelete, "/api/bookings/b-1", "")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Internal server error", body["error"])
	assert.Empty(t, h.notifier.sent)

	b, _ := h.st.Booking("b-1")
	assert.Equal(t, bookings.StatusConfirmed, b.Status)
	for _, txn := range h.st.Transactions() {
		assert.NotEqual(t, ledger.TypeRefund, txn.Type, "refund row must roll back with the booking write")
	}
}
