// Package transaction defines the ledger's transaction records and their
// append-only event history.
//
// A Transaction is the authoritative record of one monetary movement
// against a subscription. Its Amount is write-once: corrections are new
// transactions (a refund links back via RefundedFrom and carries a
// negative amount). Its State is not stored truth but a projection of the
// event sequence; see ProjectState.
package transaction

import (
	"time"

	"github.com/xraph/subledger/id"
	"github.com/xraph/subledger/types"
)

// Type classifies what a transaction settles.
type Type string

const (
	TypePayment    Type = "payment"   // periodic renewal or first charge
	TypeRefund     Type = "refund"    // negative amount, links to the charge
	TypeProration  Type = "proration" // mid-period plan change delta
	TypeAdjustment Type = "adjustment"
)

// State is a transaction's position in its lifecycle. It moves
// monotonically: pending -> completed | failed | canceled, and never back.
type State string

const (
	StatePending   State = "pending"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

// Terminal reports whether the state accepts no further settlement.
// A completed charge may still accumulate refunded/disputed events, but
// its classification never leaves completed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCanceled
}

type Transaction struct {
	types.Entity
	ID             id.TransactionID  `json:"id"`
	SubscriptionID id.SubscriptionID `json:"subscription_id"`
	Type           Type              `json:"type"`
	Amount         types.Money       `json:"amount"` // signed: charges positive, refunds negative; write-once
	State          State             `json:"state"`
	BackendRef     string            `json:"backend_ref,omitempty"` // backend's settlement reference
	RefundedFrom   id.TransactionID  `json:"refunded_from,omitempty"`
	CouponIDs      []id.CouponID     `json:"coupon_ids,omitempty"` // coupons redeemed for this transaction
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// IdempotencyKey returns the key handed to the payment backend. It is the
// transaction ID itself: stable across retries, so the backend can
// guarantee at most one financial effect per transaction.
func (t *Transaction) IdempotencyKey() string {
	return t.ID.String()
}

// EventType tags one step of a transaction's lifecycle. The core set below
// is closed, but the type is open-ended: stores must round-trip unknown
// values so new event kinds can be introduced without breaking history.
type EventType string

const (
	EventCreated    EventType = "created"
	EventAuthorized EventType = "authorized"
	EventCaptured   EventType = "captured"
	EventFailed     EventType = "failed"
	EventRefunded   EventType = "refunded"
	EventDisputed   EventType = "disputed"
	EventCanceled   EventType = "canceled"
)

// Known reports whether the event type belongs to the core set.
// Unknown types are carried as custom annotations; they never affect the
// state projection.
func (e EventType) Known() bool {
	switch e {
	case EventCreated, EventAuthorized, EventCaptured, EventFailed, EventRefunded, EventDisputed, EventCanceled:
		return true
	}
	return false
}

// Event is one immutable entry in a transaction's audit history. Events
// are append-only and timestamp-ordered; nothing updates or deletes them.
type Event struct {
	ID            id.EventID        `json:"id"`
	TransactionID id.TransactionID  `json:"transaction_id"`
	Type          EventType         `json:"type"`
	Timestamp     time.Time         `json:"timestamp"`
	Code          string            `json:"code,omitempty"` // backend error code or custom detail
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// History pairs a transaction with its full event sequence.
type History struct {
	Transaction *Transaction `json:"transaction"`
	Events      []*Event     `json:"events"`
}
