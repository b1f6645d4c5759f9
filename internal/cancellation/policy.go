package cancellation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sparkclean/sparkclean-platform/internal/ledger"
)

// DefaultFullRefundWindow is how far ahead of the appointment a customer can
// cancel and still get all of their money back.
const DefaultFullRefundWindow = 24 * time.Hour

var (
	fullRefund    = decimal.NewFromInt(1)
	partialRefund = decimal.NewFromFloat(0.5)
)

// RefundPercent returns the share of the payment refunded when cancelling at
// now a booking scheduled for scheduledAt.
func RefundPercent(scheduledAt, now time.Time, window time.Duration) decimal.Decimal {
	if scheduledAt.Sub(now) >= window {
		return fullRefund
	}
	return partialRefund
}

// RefundMinor converts amount times pct to minor units, rounded to the
// nearest unit.
func RefundMinor(amount, pct decimal.Decimal) int64 {
	return ledger.ToMinor(amount.Mul(pct))
}
