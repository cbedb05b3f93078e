// Package subledger provides a subscription billing ledger for Go applications.
//
// Subledger is designed as a library, not a service. Import it directly into
// your Go application and wire it to your payment provider. It provides:
//
//   - Integer-only money arithmetic with fixed half-up rounding
//   - A versioned, read-mostly plan catalog with grandfathered pricing
//   - Percentage and fixed-amount coupons with atomic redemption limits
//   - Subscription lifecycle with dunning and a configurable retry policy
//   - Append-only transaction event history with projected state
//   - Idempotent settlement: at most one financial effect per transaction
//   - Pluggable lifecycle hooks for audit trails and metrics
//
// # Quick Start
//
// Create an engine with your preferred store and payment backend:
//
//	import (
//	    subledger "github.com/xraph/subledger"
//	    "github.com/xraph/subledger/store/memory"
//	)
//
//	engine := subledger.New(memory.New(),
//	    subledger.WithBackend(myBackend),
//	)
//
//	// Start the engine (runs migrations, begins the reconcile sweeper)
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop()
//
// # Core Concepts
//
// Plans define what a subscription costs per billing interval:
//
//	pro := &plan.Plan{
//	    Name:     "Pro",
//	    Slug:     "pro",
//	    Price:    types.USD(4900),
//	    Interval: plan.IntervalMonthly,
//	}
//
// Subscriptions connect users to plans:
//
//	sub, err := engine.CreateSubscription(ctx, userID, pro.ID)
//
// Renewals charge the plan price, minus any attached coupons, through the
// payment backend:
//
//	txn, err := engine.ChargeRenewal(ctx, sub.ID)
//
// A decline is a result, not an error: the returned transaction is failed
// and the subscription enters dunning. A backend timeout leaves the
// transaction pending; ReconcileTransaction resolves it later by retrying
// with the same idempotency key, so the customer can never be charged
// twice for one transaction.
//
// # Storage
//
// Four store implementations ship with the module: memory (tests and
// prototyping), postgres and sqlite (grove ORM), and mongo. All satisfy
// store.Store; bring your own by implementing the interface.
package subledger
