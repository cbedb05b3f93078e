package subscription

import (
	"time"

	"github.com/xraph/subledger/types"
)

// Prorate computes the mid-period price adjustment for a plan change using
// the delta-only convention: the change transaction charges only the price
// difference for the remainder of the period, and the next renewal charges
// the new plan's full price.
//
//	prorated = (newPrice - oldPrice) × remainingSeconds / totalSeconds
//
// rounded half-up by Money.Fraction. The result is negative for a
// downgrade; the pricer floors the resulting charge at zero (no credit is
// issued). A change at or after period end prorates to zero.
func Prorate(oldPrice, newPrice types.Money, periodStart, periodEnd, at time.Time) types.Money {
	delta := newPrice.Subtract(oldPrice)

	total := int64(periodEnd.Sub(periodStart) / time.Second)
	if total <= 0 {
		return types.Zero(delta.Currency)
	}

	remaining := int64(periodEnd.Sub(at) / time.Second)
	if remaining <= 0 {
		return types.Zero(delta.Currency)
	}
	if remaining > total {
		remaining = total
	}

	return delta.Fraction(remaining, total)
}
