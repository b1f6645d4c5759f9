package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/sparkclean/sparkclean-platform/internal/bookings"
	"github.com/sparkclean/sparkclean-platform/internal/cancellation"
	"github.com/sparkclean/sparkclean-platform/internal/tenancy"
	"github.com/sparkclean/sparkclean-platform/pkg/logging"
)

const maxBookingBodyBytes = 64 << 10

// BookingUpdater reads and patches bookings under the role guard.
type BookingUpdater interface {
	Get(ctx context.Context, p tenancy.Principal, id string) (*bookings.Booking, error)
	Update(ctx context.Context, p tenancy.Principal, id string, patch bookings.Patch) (*bookings.Booking, error)
}

// BookingCanceller cancels a booking and refunds per policy.
type BookingCanceller interface {
	Cancel(ctx context.Context, p tenancy.Principal, req cancellation.Request) (*cancellation.Result, error)
}

// BookingsHandler serves /api/bookings/{id}.
type BookingsHandler struct {
	updater   BookingUpdater
	canceller BookingCanceller
	logger    *logging.Logger
}

// NewBookingsHandler serves the tenant booking routes.
func NewBookingsHandler(updater BookingUpdater, canceller BookingCanceller, logger *logging.Logger) *BookingsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingsHandler{updater: updater, canceller: canceller, logger: logger}
}

type bookingPatchRequest struct {
	Status             *string          `json:"status"`
	ScheduledAt        *time.Time       `json:"scheduled_at"`
	ProviderID         *string          `json:"provider_id"`
	Notes              *string          `json:"notes"`
	TotalAmount        *decimal.Decimal `json:"total_amount"`
	CancellationReason *string          `json:"cancellation_reason"`
}

type cancelRequest struct {
	CancellationReason *string `json:"cancellation_reason"`
	ProcessRefund      *bool   `json:"process_refund"`
}

// Get handles GET /api/bookings/{id}.
func (h *BookingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := tenancy.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	b, err := h.updater.Get(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.writeBookingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking": b})
}

// Update handles PATCH /api/bookings/{id}.
func (h *BookingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, ok := tenancy.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req bookingPatchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBookingBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	patch := bookings.Patch{
		ScheduledAt:        req.ScheduledAt,
		ProviderID:         req.ProviderID,
		Notes:              req.Notes,
		TotalAmount:        req.TotalAmount,
		CancellationReason: req.CancellationReason,
	}
	if req.Status != nil {
		status, err := bookings.ParseStatus(strings.TrimSpace(*req.Status))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid status")
			return
		}
		patch.Status = &status
	}
	if patch.TotalAmount != nil && patch.TotalAmount.IsNegative() {
		writeError(w, http.StatusBadRequest, "Invalid total_amount")
		return
	}

	b, err := h.updater.Update(r.Context(), p, chi.URLParam(r, "id"), patch)
	if err != nil {
		h.writeBookingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking": b, "message": "Booking updated successfully"})
}

// Cancel handles DELETE /api/bookings/{id}.
func (h *BookingsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	p, ok := tenancy.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req cancelRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBookingBodyBytes))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	processRefund := true
	if req.ProcessRefund != nil {
		processRefund = *req.ProcessRefund
	}

	res, err := h.canceller.Cancel(r.Context(), p, cancellation.Request{
		BookingID:     chi.URLParam(r, "id"),
		Reason:        req.CancellationReason,
		ProcessRefund: processRefund,
	})
	if err != nil {
		h.writeBookingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *BookingsHandler) writeBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bookings.ErrNotFound), errors.Is(err, bookings.ErrInvalidID):
		writeError(w, http.StatusNotFound, "Booking not found")
	case errors.Is(err, bookings.ErrForbidden), errors.Is(err, cancellation.ErrForbidden):
		writeError(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, cancellation.ErrAlreadyCancelled):
		writeError(w, http.StatusBadRequest, "Booking is already cancelled")
	case errors.Is(err, cancellation.ErrCompleted):
		writeError(w, http.StatusBadRequest, "Cannot cancel a completed booking")
	case errors.Is(err, bookings.ErrInvalidTransition):
		writeError(w, http.StatusBadRequest, "Invalid status transition")
	case errors.Is(err, bookings.ErrEmptyPatch):
		writeError(w, http.StatusBadRequest, "No fields to update")
	case errors.Is(err, bookings.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "Invalid status")
	case errors.Is(err, cancellation.ErrLocked):
		writeError(w, http.StatusConflict, "Booking is being updated, retry shortly")
	default:
		h.logger.Error("booking request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
