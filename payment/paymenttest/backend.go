// Package paymenttest provides a scriptable in-memory payment backend for
// tests. It honors idempotency keys the way a production gateway would:
// repeating a call with a key that already settled returns the recorded
// result without a second financial effect.
package paymenttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/xraph/subledger/payment"
)

// Outcome scripts how the fake responds to the next matching call.
type Outcome int

const (
	// Approve settles the call successfully.
	Approve Outcome = iota
	// Decline rejects the call with DeclineCode.
	Decline
	// Hang blocks until the caller's context expires, then returns its
	// error. The settlement is NOT recorded: the outcome stays unknown,
	// like a gateway that went dark mid-call.
	Hang
	// HangButSettle blocks until the context expires but records the
	// charge as settled anyway: the "timeout but the charge actually
	// went through upstream" case reconciliation exists for.
	HangButSettle
)

// Call records one invocation the fake received.
type Call struct {
	Kind           string // "charge" or "refund"
	IdempotencyKey string
	AmountMinor    int64
}

// Backend is the fake. The zero value approves everything.
type Backend struct {
	mu sync.Mutex

	// DeclineCode is attached to declined results (default "card_declined").
	DeclineCode string

	next    []Outcome // consumed front-to-back; empty means Approve
	settled map[string]*payment.ChargeResult
	refunds map[string]*payment.RefundResult
	calls   []Call
	seq     int
}

var _ payment.Backend = (*Backend)(nil)

// New creates a fake backend that approves all calls until scripted.
func New() *Backend {
	return &Backend{
		DeclineCode: "card_declined",
		settled:     make(map[string]*payment.ChargeResult),
		refunds:     make(map[string]*payment.RefundResult),
	}
}

// Script queues outcomes for upcoming calls, consumed in order.
func (b *Backend) Script(outcomes ...Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next = append(b.next, outcomes...)
}

// Calls returns a copy of every invocation received so far.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Call, len(b.calls))
	copy(out, b.calls)
	return out
}

// ChargeCount returns how many distinct charges actually settled.
func (b *Backend) ChargeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, r := range b.settled {
		if r.Approved {
			n++
		}
	}
	return n
}

func (b *Backend) pop() Outcome {
	if len(b.next) == 0 {
		return Approve
	}
	o := b.next[0]
	b.next = b.next[1:]
	return o
}

// Charge implements payment.Backend.
func (b *Backend) Charge(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
	b.mu.Lock()
	b.calls = append(b.calls, Call{Kind: "charge", IdempotencyKey: req.IdempotencyKey, AmountMinor: req.Amount.Amount})

	// Idempotent replay: a key that already settled returns the recorded
	// result, no new effect.
	if prior, ok := b.settled[req.IdempotencyKey]; ok {
		b.mu.Unlock()
		return prior, nil
	}

	outcome := b.pop()
	switch outcome {
	case Decline:
		res := &payment.ChargeResult{Approved: false, Code: b.DeclineCode}
		b.settled[req.IdempotencyKey] = res
		b.mu.Unlock()
		return res, nil

	case Hang:
		b.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()

	case HangButSettle:
		b.seq++
		res := &payment.ChargeResult{Approved: true, BackendRef: fmt.Sprintf("ch_%06d", b.seq)}
		b.settled[req.IdempotencyKey] = res
		b.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()

	default: // Approve
		b.seq++
		res := &payment.ChargeResult{Approved: true, BackendRef: fmt.Sprintf("ch_%06d", b.seq)}
		b.settled[req.IdempotencyKey] = res
		b.mu.Unlock()
		return res, nil
	}
}

// Refund implements payment.Backend.
func (b *Backend) Refund(ctx context.Context, req payment.RefundRequest) (*payment.RefundResult, error) {
	b.mu.Lock()
	b.calls = append(b.calls, Call{Kind: "refund", IdempotencyKey: req.IdempotencyKey, AmountMinor: req.Amount.Amount})

	if prior, ok := b.refunds[req.IdempotencyKey]; ok {
		b.mu.Unlock()
		return prior, nil
	}

	outcome := b.pop()
	switch outcome {
	case Decline:
		res := &payment.RefundResult{Approved: false, Code: b.DeclineCode}
		b.refunds[req.IdempotencyKey] = res
		b.mu.Unlock()
		return res, nil

	case Hang:
		b.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()

	default:
		b.seq++
		res := &payment.RefundResult{Approved: true, BackendRef: fmt.Sprintf("re_%06d", b.seq)}
		b.refunds[req.IdempotencyKey] = res
		b.mu.Unlock()
		return res, nil
	}
}
