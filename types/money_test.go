package types

import (
	"encoding/json"
	"testing"
)

func TestMoneyConstructors(t *testing.T) {
	tests := []struct {
		name     string
		money    Money
		amount   int64
		currency string
		display  string
	}{
		{"USD", USD(4900), 4900, "usd", "$49.00"},
		{"EUR", EUR(19900), 19900, "eur", "€199.00"},
		{"GBP", GBP(9900), 9900, "gbp", "£99.00"},
		{"JPY", JPY(100), 100, "jpy", "¥100"},
		{"CAD", CAD(2500), 2500, "cad", "C$25.00"},
		{"AUD", AUD(7550), 7550, "aud", "A$75.50"},
		{"Zero USD", Zero("USD"), 0, "usd", "$0.00"},
		{"Zero EUR", Zero("EUR"), 0, "eur", "€0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.money.Amount != tt.amount {
				t.Errorf("Amount: got %d, want %d", tt.money.Amount, tt.amount)
			}
			if tt.money.Currency != tt.currency {
				t.Errorf("Currency: got %s, want %s", tt.money.Currency, tt.currency)
			}
			if tt.money.String() != tt.display {
				t.Errorf("Display: got %s, want %s", tt.money.String(), tt.display)
			}
		})
	}
}

func TestMoneyArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		op       func() Money
		expected Money
	}{
		{"Add", func() Money { return USD(100).Add(USD(200)) }, USD(300)},
		{"Subtract", func() Money { return USD(500).Subtract(USD(200)) }, USD(300)},
		{"Multiply", func() Money { return USD(100).Multiply(3) }, USD(300)},
		{"Negate", func() Money { return USD(100).Negate() }, USD(-100)},
		{"Abs positive", func() Money { return USD(100).Abs() }, USD(100)},
		{"Abs negative", func() Money { return USD(-100).Abs() }, USD(100)},
		{"Clamp below", func() Money { return USD(-50).Clamp(USD(0), USD(100)) }, USD(0)},
		{"Clamp above", func() Money { return USD(150).Clamp(USD(0), USD(100)) }, USD(100)},
		{"Complex", func() Money {
			return USD(1000).Add(USD(500)).Multiply(2).Subtract(USD(1000))
		}, USD(2000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.op()
			if !result.Equal(tt.expected) {
				t.Errorf("Got %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestMoneyPercent(t *testing.T) {
	tests := []struct {
		name     string
		money    Money
		p        int64
		expected Money
	}{
		{"20% of $100.00", USD(10000), 20, USD(2000)},
		{"100% identity", USD(10000), 100, USD(10000)},
		{"0%", USD(10000), 0, USD(0)},
		{"33% of $0.50 rounds up", USD(50), 33, USD(17)},
		{"half cent rounds up", USD(50), 25, USD(13)},    // 12.5 -> 13
		{"negative rounds away", USD(-50), 25, USD(-13)}, // -12.5 -> -13
		{"1% of ¥100", JPY(100), 1, JPY(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.money.Percent(tt.p)
			if !result.Equal(tt.expected) {
				t.Errorf("Got %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestMoneyFraction(t *testing.T) {
	tests := []struct {
		name     string
		money    Money
		num, den int64
		expected Money
	}{
		{"half of $50.00", USD(5000), 1, 2, USD(2500)},
		{"half period of $50 delta", USD(5000), 1296000, 2592000, USD(2500)},
		{"third rounds", USD(100), 1, 3, USD(33)},
		{"two thirds rounds up", USD(100), 2, 3, USD(67)},
		{"whole", USD(100), 7, 7, USD(100)},
		{"negative denominator", USD(100), 1, -2, USD(-50)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.money.Fraction(tt.num, tt.den)
			if !result.Equal(tt.expected) {
				t.Errorf("Got %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestMoneyFractionZeroDenominator(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for zero denominator")
		}
	}()

	_ = USD(100).Fraction(1, 0)
}

func TestMoneyCurrencyMismatch(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for currency mismatch")
		}
	}()

	// This should panic
	_ = USD(100).Add(EUR(100))
}

func TestMoneyNonNegative(t *testing.T) {
	if err := USD(0).NonNegative(); err != nil {
		t.Errorf("zero should be allowed: %v", err)
	}
	if err := USD(100).NonNegative(); err != nil {
		t.Errorf("positive should be allowed: %v", err)
	}
	if err := USD(-1).NonNegative(); err == nil {
		t.Error("negative should be rejected")
	}
}

func TestMoneyComparison(t *testing.T) {
	tests := []struct {
		name    string
		a, b    Money
		less    bool
		greater bool
		equal   bool
	}{
		{"Equal", USD(100), USD(100), false, false, true},
		{"Less", USD(50), USD(100), true, false, false},
		{"Greater", USD(200), USD(100), false, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.LessThan(tt.b); got != tt.less {
				t.Errorf("LessThan: got %v, want %v", got, tt.less)
			}
			if got := tt.a.GreaterThan(tt.b); got != tt.greater {
				t.Errorf("GreaterThan: got %v, want %v", got, tt.greater)
			}
			if got := tt.a.Equal(tt.b); got != tt.equal {
				t.Errorf("Equal: got %v, want %v", got, tt.equal)
			}
		})
	}
}

func TestMoneyMinMax(t *testing.T) {
	if got := USD(100).Min(USD(200)); !got.Equal(USD(100)) {
		t.Errorf("Min: got %v", got)
	}
	if got := USD(100).Max(USD(200)); !got.Equal(USD(200)) {
		t.Errorf("Max: got %v", got)
	}
}

func TestMoneySignPredicates(t *testing.T) {
	if !USD(0).IsZero() || USD(1).IsZero() {
		t.Error("IsZero")
	}
	if !USD(1).IsPositive() || USD(-1).IsPositive() {
		t.Error("IsPositive")
	}
	if !USD(-1).IsNegative() || USD(1).IsNegative() {
		t.Error("IsNegative")
	}
}

func TestMoneyJSONRoundTrip(t *testing.T) {
	in := USD(8000)
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}

	var out Money
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if !out.Equal(in) {
		t.Errorf("Got %v, want %v", out, in)
	}
}

func TestSum(t *testing.T) {
	total := Sum(USD(100), USD(200), USD(300))
	if !total.Equal(USD(600)) {
		t.Errorf("Got %v, want %v", total, USD(600))
	}

	empty := Sum()
	if !empty.IsZero() {
		t.Errorf("Empty sum should be zero, got %v", empty)
	}
}
