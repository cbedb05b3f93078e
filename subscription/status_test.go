package subscription

import (
	"testing"
	"time"
)

var allStatuses = []Status{StatusTrialing, StatusActive, StatusPastDue, StatusCanceled, StatusExpired}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusTrialing, StatusActive}:   true,
		{StatusTrialing, StatusCanceled}: true,
		{StatusTrialing, StatusExpired}:  true,
		{StatusActive, StatusPastDue}:    true,
		{StatusActive, StatusCanceled}:   true,
		{StatusActive, StatusExpired}:    true,
		{StatusPastDue, StatusActive}:    true,
		{StatusPastDue, StatusCanceled}:  true,
		{StatusPastDue, StatusExpired}:   true,
	}

	// Exhaustive: every pair not in the allowed set must be rejected.
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := allowed[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s): got %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminalHasNoOutgoingEdges(t *testing.T) {
	for _, terminal := range []Status{StatusCanceled, StatusExpired} {
		if !terminal.Terminal() {
			t.Errorf("%s should be terminal", terminal)
		}
		for _, to := range allStatuses {
			if CanTransition(terminal, to) {
				t.Errorf("terminal %s has outgoing edge to %s", terminal, to)
			}
		}
	}
}

func TestRetryPolicyExhausted(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	twoDaysAgo := now.Add(-48 * time.Hour)

	tests := []struct {
		name   string
		policy RetryPolicy
		sub    Subscription
		want   bool
	}{
		{"zero policy never exhausts", RetryPolicy{}, Subscription{FailedAttempts: 100, FirstFailureAt: &twoDaysAgo}, false},
		{"under attempt limit", RetryPolicy{MaxAttempts: 3}, Subscription{FailedAttempts: 2}, false},
		{"at attempt limit", RetryPolicy{MaxAttempts: 3}, Subscription{FailedAttempts: 3}, true},
		{"under age limit", RetryPolicy{MaxAge: 72 * time.Hour}, Subscription{FirstFailureAt: &twoDaysAgo}, false},
		{"over age limit", RetryPolicy{MaxAge: 24 * time.Hour}, Subscription{FirstFailureAt: &twoDaysAgo}, true},
		{"age limit without failures", RetryPolicy{MaxAge: 24 * time.Hour}, Subscription{}, false},
		{"either bound triggers", RetryPolicy{MaxAttempts: 10, MaxAge: 24 * time.Hour}, Subscription{FailedAttempts: 1, FirstFailureAt: &twoDaysAgo}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Exhausted(&tt.sub, now); got != tt.want {
				t.Errorf("Exhausted: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInPeriod(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	sub := Subscription{CurrentPeriodStart: start, CurrentPeriodEnd: end}

	if !sub.InPeriod(start) {
		t.Error("period start should be inside")
	}
	if sub.InPeriod(end) {
		t.Error("period end should be outside")
	}
	if sub.InPeriod(start.Add(-time.Second)) {
		t.Error("before start should be outside")
	}
}
