// Package compliance records an append-only audit trail of money and
// account changes.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction names what happened.
type AuditAction string

const (
	ActionProviderPayoutUpdated AuditAction = "provider.payout_flags_updated"
	ActionBookingCancelled      AuditAction = "booking.cancelled"
	ActionRefundFailed          AuditAction = "booking.refund_failed"
)

// SystemActor is recorded when no user caused the change.
const SystemActor = "system:stripe"

// AuditEvent represents an immutable audit record.
type AuditEvent struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenant_id"`
	Actor      string          `json:"actor"`
	Action     AuditAction     `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Details    json.RawMessage `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// AuditService appends rows to audit_logs.
type AuditService struct {
	db *sql.DB
}

// NewAuditService writes through db; a nil db makes every write fail.
func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

// LogEvent records an audit event.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("compliance: audit store not configured")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.Actor == "" {
		event.Actor = SystemActor
	}

	query := `
		INSERT INTO audit_logs (id, tenant_id, actor, action, entity_type, entity_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	var details any
	if len(event.Details) > 0 {
		details = []byte(event.Details)
	}
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		nullString(event.TenantID),
		event.Actor,
		string(event.Action),
		event.EntityType,
		event.EntityID,
		details,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}
	return nil
}

// LogProviderPayoutUpdated records a payout eligibility change pushed by the
// payment provider.
func (s *AuditService) LogProviderPayoutUpdated(ctx context.Context, tenantID, providerID, accountID string, payoutsEnabled, detailsSubmitted bool) error {
	details, _ := json.Marshal(map[string]any{
		"stripe_account_id": accountID,
		"payouts_enabled":   payoutsEnabled,
		"details_submitted": detailsSubmitted,
	})
	return s.LogEvent(ctx, AuditEvent{
		TenantID:   tenantID,
		Action:     ActionProviderPayoutUpdated,
		EntityType: "provider_profile",
		EntityID:   providerID,
		Details:    details,
	})
}

// LogBookingCancelled records who cancelled a booking and the refund outcome.
func (s *AuditService) LogBookingCancelled(ctx context.Context, tenantID, actor, bookingID string, refundMinor int64, refundStatus string) error {
	details, _ := json.Marshal(map[string]any{
		"refund_amount_minor": refundMinor,
		"refund_status":       refundStatus,
	})
	return s.LogEvent(ctx, AuditEvent{
		TenantID:   tenantID,
		Actor:      actor,
		Action:     ActionBookingCancelled,
		EntityType: "booking",
		EntityID:   bookingID,
		Details:    details,
	})
}

// LogRefundFailed records a refund the provider rejected during cancellation.
func (s *AuditService) LogRefundFailed(ctx context.Context, tenantID, actor, bookingID string, refundMinor int64, cause string) error {
	details, _ := json.Marshal(map[string]any{
		"refund_amount_minor": refundMinor,
		"error":               cause,
	})
	return s.LogEvent(ctx, AuditEvent{
		TenantID:   tenantID,
		Actor:      actor,
		Action:     ActionRefundFailed,
		EntityType: "booking",
		EntityID:   bookingID,
		Details:    details,
	})
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
