package coupon

import (
	"errors"
	"testing"
	"time"

	"github.com/xraph/subledger/id"
	"github.com/xraph/subledger/types"
)

func percentCoupon(code string, p int64) *Coupon {
	return &Coupon{ID: id.NewCouponID(), Code: code, Type: TypePercentage, Percentage: p}
}

func fixedCoupon(code string, amount types.Money) *Coupon {
	return &Coupon{ID: id.NewCouponID(), Code: code, Type: TypeFixedAmount, Amount: amount}
}

func TestDiscount(t *testing.T) {
	tests := []struct {
		name     string
		coupon   *Coupon
		base     types.Money
		expected types.Money
	}{
		{"20% of $100.00", percentCoupon("SAVE20", 20), types.USD(10000), types.USD(2000)},
		{"100% of $100.00", percentCoupon("FREE", 100), types.USD(10000), types.USD(10000)},
		{"1% of $0.50 rounds", percentCoupon("TINY", 1), types.USD(50), types.USD(1)},
		{"fixed $5 off $20", fixedCoupon("5OFF", types.USD(500)), types.USD(2000), types.USD(500)},
		{"fixed capped at base", fixedCoupon("50OFF", types.USD(5000)), types.USD(2000), types.USD(2000)},
		{"zero base", percentCoupon("SAVE20", 20), types.USD(0), types.USD(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.coupon.Discount(tt.base)
			if !got.Equal(tt.expected) {
				t.Errorf("Discount: got %v, want %v", got, tt.expected)
			}
		})
	}
}

// Discount must stay within [0, base] for every percentage in (0,100].
func TestDiscountBounds(t *testing.T) {
	bases := []types.Money{types.USD(1), types.USD(99), types.USD(10000), types.USD(999999)}
	for p := int64(1); p <= 100; p++ {
		for _, base := range bases {
			d := percentCoupon("P", p).Discount(base)
			if d.IsNegative() || d.GreaterThan(base) {
				t.Fatalf("percentage %d of %v: discount %v out of bounds", p, base, d)
			}
		}
	}
}

func TestValidate(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name    string
		coupon  *Coupon
		wantErr error
	}{
		{"valid open-ended", percentCoupon("OK", 20), nil},
		{"not started", &Coupon{ID: id.NewCouponID(), Code: "SOON", Type: TypePercentage, Percentage: 10, ValidFrom: &future}, ErrNotStarted},
		{"expired", &Coupon{ID: id.NewCouponID(), Code: "LATE", Type: TypePercentage, Percentage: 10, ValidUntil: &past}, ErrExpired},
		{"boundary end excluded", &Coupon{ID: id.NewCouponID(), Code: "EDGE", Type: TypePercentage, Percentage: 10, ValidUntil: &now}, ErrExpired},
		{"exhausted", &Coupon{ID: id.NewCouponID(), Code: "GONE", Type: TypePercentage, Percentage: 10, MaxRedemptions: 5, TimesRedeemed: 5}, ErrExhausted},
		{"zero percentage invalid", &Coupon{ID: id.NewCouponID(), Code: "BAD", Type: TypePercentage, Percentage: 0}, ErrInvalid},
		{"percentage over 100 invalid", &Coupon{ID: id.NewCouponID(), Code: "BAD2", Type: TypePercentage, Percentage: 101}, ErrInvalid},
		{"negative fixed invalid", &Coupon{ID: id.NewCouponID(), Code: "BAD3", Type: TypeFixedAmount, Amount: types.USD(-100)}, ErrInvalid},
		{"unknown type invalid", &Coupon{ID: id.NewCouponID(), Code: "BAD4", Type: "lucky_draw"}, ErrInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.coupon.Validate(now)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("expected valid, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStackOrderIsCreationOrder(t *testing.T) {
	first := percentCoupon("FIRST", 20)
	time.Sleep(2 * time.Millisecond)
	second := percentCoupon("SECOND", 10)

	stacked := Stack([]*Coupon{second, first})
	if stacked[0].Code != "FIRST" || stacked[1].Code != "SECOND" {
		t.Errorf("stack order: got %s, %s", stacked[0].Code, stacked[1].Code)
	}
}

func TestApplyAllSequential(t *testing.T) {
	now := time.Now().UTC()
	first := percentCoupon("P20", 20)
	time.Sleep(2 * time.Millisecond)
	second := percentCoupon("P10", 10)

	// $100.00 -> -20% -> $80.00 -> -10% -> $72.00
	amount, applied, err := ApplyAll(types.USD(10000), []*Coupon{second, first}, now, false)
	if err != nil {
		t.Fatal(err)
	}
	if !amount.Equal(types.USD(7200)) {
		t.Errorf("got %v, want $72.00", amount)
	}
	if len(applied) != 2 {
		t.Errorf("applied %d coupons, want 2", len(applied))
	}
}

func TestApplyAllSkipsInvalid(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	expired := &Coupon{ID: id.NewCouponID(), Code: "OLD", Type: TypePercentage, Percentage: 50, ValidUntil: &past}
	valid := percentCoupon("P20", 20)

	amount, applied, err := ApplyAll(types.USD(10000), []*Coupon{expired, valid}, now, false)
	if err != nil {
		t.Fatal(err)
	}
	if !amount.Equal(types.USD(8000)) {
		t.Errorf("got %v, want $80.00", amount)
	}
	if len(applied) != 1 || applied[0].Code != "P20" {
		t.Errorf("applied: %v", applied)
	}
}

func TestApplyAllStrictAborts(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	expired := &Coupon{ID: id.NewCouponID(), Code: "OLD", Type: TypePercentage, Percentage: 50, ValidUntil: &past}

	_, _, err := ApplyAll(types.USD(10000), []*Coupon{expired}, now, true)
	if !errors.Is(err, ErrExpired) {
		t.Errorf("got %v, want ErrExpired", err)
	}
}

func TestApplyAllFloorsAtZero(t *testing.T) {
	now := time.Now().UTC()
	big := fixedCoupon("BIG", types.USD(99999))
	small := fixedCoupon("SMALL", types.USD(100))

	amount, _, err := ApplyAll(types.USD(5000), []*Coupon{big, small}, now, false)
	if err != nil {
		t.Fatal(err)
	}
	if amount.IsNegative() {
		t.Errorf("discounted amount went negative: %v", amount)
	}
	if !amount.IsZero() {
		t.Errorf("got %v, want $0.00", amount)
	}
}
