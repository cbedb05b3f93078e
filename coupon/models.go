// Package coupon defines discount coupons and the rules for applying them.
package coupon

import (
	"fmt"
	"time"

	"github.com/xraph/subledger/id"
	"github.com/xraph/subledger/types"
)

type Type string

const (
	TypePercentage  Type = "percentage"
	TypeFixedAmount Type = "fixed_amount"
)

type Coupon struct {
	types.Entity
	ID             id.CouponID       `json:"id"`
	Code           string            `json:"code"`
	Name           string            `json:"name,omitempty"`
	Type           Type              `json:"type"`
	Percentage     int64             `json:"percentage,omitempty"` // (0,100] for TypePercentage
	Amount         types.Money       `json:"amount,omitempty"`     // ≥0 for TypeFixedAmount
	ValidFrom      *time.Time        `json:"valid_from,omitempty"`
	ValidUntil     *time.Time        `json:"valid_until,omitempty"`
	MaxRedemptions int               `json:"max_redemptions"` // 0 = unlimited
	TimesRedeemed  int               `json:"times_redeemed"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// CheckConfig validates the coupon's static configuration at creation time.
func (c *Coupon) CheckConfig() error {
	switch c.Type {
	case TypePercentage:
		if c.Percentage <= 0 || c.Percentage > 100 {
			return fmt.Errorf("coupon %s: percentage %d outside (0,100]", c.Code, c.Percentage)
		}
	case TypeFixedAmount:
		if c.Amount.IsNegative() {
			return fmt.Errorf("coupon %s: negative fixed amount %s", c.Code, c.Amount)
		}
	default:
		return fmt.Errorf("coupon %s: unknown type %q", c.Code, c.Type)
	}
	if c.ValidFrom != nil && c.ValidUntil != nil && c.ValidUntil.Before(*c.ValidFrom) {
		return fmt.Errorf("coupon %s: validity window ends before it starts", c.Code)
	}
	return nil
}

// Exhausted reports whether the redemption limit has been reached.
func (c *Coupon) Exhausted() bool {
	return c.MaxRedemptions > 0 && c.TimesRedeemed >= c.MaxRedemptions
}

// Limited reports whether the coupon has a redemption limit at all.
// Unlimited coupons skip the atomic redeem/release bookkeeping.
func (c *Coupon) Limited() bool {
	return c.MaxRedemptions > 0
}

// Discount returns the discount the coupon takes off base. The result is
// always within [0, base]: a percentage uses half-up rounding via
// types.Money.Percent, a fixed amount is capped at base so stacked coupons
// can never drive a charge negative.
func (c *Coupon) Discount(base types.Money) types.Money {
	if !base.IsPositive() {
		return types.Zero(base.Currency)
	}
	switch c.Type {
	case TypePercentage:
		return base.Percent(c.Percentage).Clamp(types.Zero(base.Currency), base)
	case TypeFixedAmount:
		return c.Amount.Clamp(types.Zero(base.Currency), base)
	default:
		return types.Zero(base.Currency)
	}
}

// Apply returns base minus the coupon's discount.
func (c *Coupon) Apply(base types.Money) types.Money {
	return base.Subtract(c.Discount(base))
}
