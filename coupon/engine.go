package coupon

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/xraph/subledger/types"
)

// Validation errors. The root package re-exports these as its
// ErrCoupon* sentinels so errors.Is works at either level.
var (
	ErrInvalid    = errors.New("coupon: invalid")
	ErrNotStarted = errors.New("coupon: not yet valid")
	ErrExpired    = errors.New("coupon: expired")
	ErrExhausted  = errors.New("coupon: redemptions exhausted")
)

// Validate checks the coupon against its validity window and redemption
// limit at the given time. A nil error means the coupon may be applied.
func (c *Coupon) Validate(at time.Time) error {
	if err := c.CheckConfig(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.ValidFrom != nil && at.Before(*c.ValidFrom) {
		return fmt.Errorf("%w: %s starts %s", ErrNotStarted, c.Code, c.ValidFrom.Format(time.RFC3339))
	}
	if c.ValidUntil != nil && !at.Before(*c.ValidUntil) {
		return fmt.Errorf("%w: %s ended %s", ErrExpired, c.Code, c.ValidUntil.Format(time.RFC3339))
	}
	if c.Exhausted() {
		return fmt.Errorf("%w: %s used %d of %d", ErrExhausted, c.Code, c.TimesRedeemed, c.MaxRedemptions)
	}
	return nil
}

// Stack sorts coupons into their fixed application order: ascending by
// coupon ID. IDs are K-sortable, so this is creation order. The order is
// load-bearing for percentage stacking (20% then 10% off $100 is $72;
// giving a different order a different result) and must never vary between
// pricings of the same subscription.
func Stack(coupons []*Coupon) []*Coupon {
	stacked := make([]*Coupon, len(coupons))
	copy(stacked, coupons)
	sort.Slice(stacked, func(i, j int) bool {
		return stacked[i].ID.Less(stacked[j].ID)
	})
	return stacked
}

// ApplyAll validates and applies coupons sequentially in Stack order,
// returning the discounted amount and the coupons actually applied.
// Invalid coupons are skipped unless strict is set, in which case the
// first validation failure aborts.
func ApplyAll(base types.Money, coupons []*Coupon, at time.Time, strict bool) (types.Money, []*Coupon, error) {
	amount := base
	applied := make([]*Coupon, 0, len(coupons))

	for _, c := range Stack(coupons) {
		if err := c.Validate(at); err != nil {
			if strict {
				return types.Zero(base.Currency), nil, err
			}
			continue
		}
		amount = c.Apply(amount)
		applied = append(applied, c)
	}

	return amount, applied, nil
}
