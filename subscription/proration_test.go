package subscription

import (
	"testing"
	"time"

	"github.com/xraph/subledger/types"
)

func TestProrate(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	mid := start.Add(end.Sub(start) / 2)

	tests := []struct {
		name     string
		oldPrice types.Money
		newPrice types.Money
		at       time.Time
		expected types.Money
	}{
		// Upgrade $100/mo -> $150/mo at exactly half the period: (150-100)*0.5 = $25.00.
		{"upgrade at half period", types.USD(10000), types.USD(15000), mid, types.USD(2500)},
		{"upgrade at period start", types.USD(10000), types.USD(15000), start, types.USD(5000)},
		{"upgrade at period end", types.USD(10000), types.USD(15000), end, types.USD(0)},
		{"upgrade after period end", types.USD(10000), types.USD(15000), end.Add(time.Hour), types.USD(0)},
		{"downgrade is negative", types.USD(15000), types.USD(10000), mid, types.USD(-2500)},
		{"same price", types.USD(10000), types.USD(10000), mid, types.USD(0)},
		{"before period start clamps", types.USD(10000), types.USD(15000), start.Add(-time.Hour), types.USD(5000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Prorate(tt.oldPrice, tt.newPrice, start, end, tt.at)
			if !got.Equal(tt.expected) {
				t.Errorf("Prorate: got %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestProrateRounding(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(3 * time.Second)

	// $0.01 delta over a 3-second period with 2 seconds remaining:
	// 0.666... cents rounds half-up to 1 cent.
	got := Prorate(types.USD(0), types.USD(1), start, end, start.Add(time.Second))
	if !got.Equal(types.USD(1)) {
		t.Errorf("got %v, want $0.01", got)
	}
}

func TestProrateDegeneratePeriod(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got := Prorate(types.USD(10000), types.USD(15000), at, at, at)
	if !got.IsZero() {
		t.Errorf("zero-length period should prorate to zero, got %v", got)
	}
}
