// Package ledger records money movements tied to bookings.
package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Type is the kind of money movement.
type Type string

const (
	TypePayment Type = "payment"
	TypeRefund  Type = "refund"
)

// Status is the settlement state of a transaction.
type Status string

const (
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusPending           Status = "pending"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
)

var ErrNotFound = errors.New("ledger: transaction not found")

// Transaction is one row of the ledger. Amounts are in major currency units.
type Transaction struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	BookingID       string          `json:"booking_id"`
	CustomerID      string          `json:"customer_id"`
	ProviderID      *string         `json:"provider_id"`
	Amount          decimal.Decimal `json:"amount"`
	PlatformFee     decimal.Decimal `json:"platform_fee"`
	ProviderPayout  decimal.Decimal `json:"provider_payout"`
	Type            Type            `json:"transaction_type"`
	PaymentMethod   string          `json:"payment_method"`
	PaymentIntentID string          `json:"payment_intent_id"`
	Status          Status          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// FromMinor converts an amount in minor units (cents) to major units.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// ToMinor converts major units to minor units, rounding half away from zero.
func ToMinor(major decimal.Decimal) int64 {
	return major.Shift(2).Round(0).IntPart()
}
