// Package subscription defines subscriptions and their lifecycle rules.
package subscription

import (
	"time"

	"github.com/xraph/subledger/id"
	"github.com/xraph/subledger/types"
)

type Status string

const (
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
)

// transitions is the complete edge set of the subscription state machine.
// Every status change must pass CanTransition; canceled and expired have no
// outgoing edges.
var transitions = map[Status][]Status{
	StatusTrialing: {StatusActive, StatusCanceled, StatusExpired},
	StatusActive:   {StatusPastDue, StatusCanceled, StatusExpired},
	StatusPastDue:  {StatusActive, StatusCanceled, StatusExpired},
	StatusCanceled: {},
	StatusExpired:  {},
}

// CanTransition reports whether the edge from -> to exists.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status accepts no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCanceled || s == StatusExpired
}

type Subscription struct {
	types.Entity
	ID     id.SubscriptionID `json:"id"`
	UserID id.UserID         `json:"user_id"`
	PlanID id.PlanID         `json:"plan_id"`
	Status Status            `json:"status"`

	// ProratedAmount is set on a plan change and consumed exactly once by
	// the change transaction's pricing, then cleared. May be negative for
	// downgrades; the pricer floors the resulting charge at zero.
	ProratedAmount *types.Money `json:"prorated_amount,omitempty"`

	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	TrialStart         *time.Time `json:"trial_start,omitempty"`
	TrialEnd           *time.Time `json:"trial_end,omitempty"`
	CanceledAt         *time.Time `json:"canceled_at,omitempty"`
	EndedAt            *time.Time `json:"ended_at,omitempty"`

	// Renewal failure tracking, reset on a successful charge. The retry
	// exhaustion policy reads these.
	FailedAttempts int        `json:"failed_attempts"`
	FirstFailureAt *time.Time `json:"first_failure_at,omitempty"`

	CouponIDs []id.CouponID     `json:"coupon_ids,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// IsTerminal reports whether the subscription can accept new transactions.
func (s *Subscription) IsTerminal() bool {
	return s.Status.Terminal()
}

// InPeriod reports whether the given time falls inside the current period.
func (s *Subscription) InPeriod(at time.Time) bool {
	return !at.Before(s.CurrentPeriodStart) && at.Before(s.CurrentPeriodEnd)
}

// RetryPolicy configures when a past_due subscription gives up and expires.
// Either bound triggers exhaustion; a zero value disables that bound. The
// zero policy never exhausts (the subscription stays past_due until a
// charge succeeds or it is canceled explicitly).
type RetryPolicy struct {
	// MaxAttempts is the number of failed renewal attempts tolerated.
	MaxAttempts int `json:"max_attempts" mapstructure:"max_attempts" yaml:"max_attempts"`

	// MaxAge is how long after the first failure retries keep being accepted.
	MaxAge time.Duration `json:"max_age" mapstructure:"max_age" yaml:"max_age"`
}

// Exhausted reports whether the policy gives up on the subscription at the
// given time.
func (p RetryPolicy) Exhausted(s *Subscription, at time.Time) bool {
	if p.MaxAttempts > 0 && s.FailedAttempts >= p.MaxAttempts {
		return true
	}
	if p.MaxAge > 0 && s.FirstFailureAt != nil && at.Sub(*s.FirstFailureAt) >= p.MaxAge {
		return true
	}
	return false
}
