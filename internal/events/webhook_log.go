// Package events keeps the inbound webhook event log and the billing audit copies.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// Status is the processing stage of an inbound webhook event.
type Status string

const (
	StatusReceived   Status = "received"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
	StatusIgnored    Status = "ignored"
)

// Final reports whether the event needs no further processing.
func (s Status) Final() bool {
	return s == StatusProcessed || s == StatusIgnored
}

// SnapshotLimit caps the payload excerpt stored with failures.
const SnapshotLimit = 4 << 10

var ErrNotFound = errors.New("events: webhook event not found")

// WebhookEvent is one row of the inbound event log.
type WebhookEvent struct {
	Provider     string
	EventID      string
	EventType    string
	TenantID     string
	Status       Status
	HTTPStatus   int
	ErrorMessage string
	Payload      json.RawMessage
	Attempts     int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ProcessedAt  *time.Time
}

// Record is a lifecycle write for one event. Zero HTTPStatus and empty
// TenantID keep the stored values.
type Record struct {
	Provider   string
	EventID    string
	EventType  string
	TenantID   string
	Status     Status
	HTTPStatus int
	Error      string
	// Payload is kept only from the first write for an event.
	Payload []byte
	// Snapshot is a truncated payload excerpt stored with failures.
	Snapshot string
	// CountAttempt increments the attempts counter.
	CountAttempt bool
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// WebhookLog persists the webhook_events table.
type WebhookLog struct {
	pool rowQuerier
}

func NewWebhookLog(pool *pgxpool.Pool) *WebhookLog {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &WebhookLog{pool: pool}
}

func newWebhookLogWithQuerier(q rowQuerier) *WebhookLog {
	if q == nil {
		panic("events: querier required")
	}
	return &WebhookLog{pool: q}
}

const webhookColumns = `provider, event_id, event_type, tenant_id::text, status, http_status, error_message,
	payload, attempts, created_at, updated_at, processed_at`

// Get loads an event by provider and event id.
func (l *WebhookLog) Get(ctx context.Context, provider, eventID string) (*WebhookEvent, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhook_events WHERE provider = $1 AND event_id = $2`
	evt, err := scanWebhookEvent(l.pool.QueryRow(ctx, query, provider, eventID))
	if err != nil {
		return nil, fmt.Errorf("events: get webhook event: %w", err)
	}
	return evt, nil
}

// Record upserts the lifecycle row for an event.
func (l *WebhookLog) Record(ctx context.Context, rec Record) error {
	query := `
		INSERT INTO webhook_events (
			provider, event_id, event_type, tenant_id, status, http_status, error_message,
			payload, payload_snapshot, attempts, processed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (provider, event_id) DO UPDATE
		SET event_type = EXCLUDED.event_type,
			tenant_id = COALESCE(EXCLUDED.tenant_id, webhook_events.tenant_id),
			status = EXCLUDED.status,
			http_status = COALESCE(EXCLUDED.http_status, webhook_events.http_status),
			error_message = EXCLUDED.error_message,
			payload = COALESCE(webhook_events.payload, EXCLUDED.payload),
			payload_snapshot = COALESCE(EXCLUDED.payload_snapshot, webhook_events.payload_snapshot),
			attempts = webhook_events.attempts + EXCLUDED.attempts,
			processed_at = COALESCE(EXCLUDED.processed_at, webhook_events.processed_at),
			updated_at = now()
	`
	var processedAt *time.Time
	if rec.Status.Final() {
		now := time.Now().UTC()
		processedAt = &now
	}
	attempts := 0
	if rec.CountAttempt {
		attempts = 1
	}
	_, err := l.pool.Exec(ctx, query,
		rec.Provider, rec.EventID, rec.EventType, nullString(rec.TenantID), string(rec.Status),
		nullInt(rec.HTTPStatus), nullString(rec.Error), nullBytes(rec.Payload), nullString(rec.Snapshot),
		attempts, processedAt,
	)
	if err != nil {
		return fmt.Errorf("events: record webhook event: %w", err)
	}
	return nil
}

// ListStale returns events left in one of statuses since before olderThan
// that still have attempts left.
func (l *WebhookLog) ListStale(ctx context.Context, statuses []Status, olderThan time.Time, maxAttempts, limit int) ([]WebhookEvent, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	query := `SELECT ` + webhookColumns + ` FROM webhook_events
		WHERE status = ANY($1) AND updated_at < $2 AND attempts < $3 AND payload IS NOT NULL
		ORDER BY updated_at
		LIMIT $4`
	rows, err := l.pool.Query(ctx, query, pq.Array(names), olderThan, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("events: list stale: %w", err)
	}
	defer rows.Close()

	var out []WebhookEvent
	for rows.Next() {
		evt, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("events: scan stale: %w", err)
		}
		out = append(out, *evt)
	}
	return out, rows.Err()
}

func scanWebhookEvent(row pgx.Row) (*WebhookEvent, error) {
	var (
		evt         WebhookEvent
		tenantID    pgtype.Text
		status      string
		httpStatus  pgtype.Int4
		errMsg      pgtype.Text
		payload     []byte
		processedAt pgtype.Timestamptz
	)
	err := row.Scan(&evt.Provider, &evt.EventID, &evt.EventType, &tenantID, &status, &httpStatus, &errMsg,
		&payload, &evt.Attempts, &evt.CreatedAt, &evt.UpdatedAt, &processedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	evt.TenantID = tenantID.String
	evt.Status = Status(status)
	if httpStatus.Valid {
		evt.HTTPStatus = int(httpStatus.Int32)
	}
	evt.ErrorMessage = errMsg.String
	evt.Payload = append(json.RawMessage(nil), payload...)
	if processedAt.Valid {
		t := processedAt.Time
		evt.ProcessedAt = &t
	}
	return &evt, nil
}

// Snapshot truncates a payload to SnapshotLimit bytes.
func Snapshot(payload []byte) string {
	if len(payload) <= SnapshotLimit {
		return string(payload)
	}
	return string(payload[:SnapshotLimit])
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
