// Package plan defines the read-mostly plan catalog.
//
// Plans are immutable once a live subscription references them: "editing" a
// plan means deriving a new version with NewVersion and archiving the old
// one. Subscriptions keep their plan until explicitly migrated, so a price
// change never silently rewrites what an existing customer is charged.
package plan

import (
	"github.com/xraph/subledger/id"
	"github.com/xraph/subledger/types"
)

type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// Interval is the billing period length.
type Interval string

const (
	IntervalMonthly Interval = "monthly"
	IntervalYearly  Interval = "yearly"
)

// Months returns the interval length in calendar months.
func (i Interval) Months() int {
	if i == IntervalYearly {
		return 12
	}
	return 1
}

type Plan struct {
	types.Entity
	ID           id.PlanID         `json:"id"`
	Name         string            `json:"name"`
	Slug         string            `json:"slug"`
	Description  string            `json:"description,omitempty"`
	Price        types.Money       `json:"price"` // per Interval, never negative
	Interval     Interval          `json:"interval"`
	Status       Status            `json:"status"`
	TrialDays    int               `json:"trial_days"`
	Version      int               `json:"version"`
	SupersededBy id.PlanID         `json:"superseded_by,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// IsActive reports whether the plan can be attached to new subscriptions.
func (p *Plan) IsActive() bool {
	return p.Status == StatusActive
}

// Validate checks the plan's invariants.
func (p *Plan) Validate() error {
	return p.Price.NonNegative()
}

// NewVersion derives the successor plan record. The receiver is not
// modified; callers archive it and set SupersededBy once the successor is
// persisted.
func (p *Plan) NewVersion(price types.Money) *Plan {
	next := *p
	next.ID = id.NewPlanID()
	next.Price = price
	next.Version = p.Version + 1
	next.Status = StatusActive
	next.SupersededBy = id.Nil
	return &next
}
