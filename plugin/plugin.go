// Package plugin provides an extensible plugin system for Subledger.
// Plugins can hook into various lifecycle events to extend functionality.
package plugin

import (
	"context"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Plan lifecycle hooks
// ──────────────────────────────────────────────────

// OnPlanCreated is called when a new plan is created.
type OnPlanCreated interface {
	Plugin
	OnPlanCreated(ctx context.Context, plan interface{}) error
}

// OnPlanVersioned is called when a plan is superseded by a new version.
type OnPlanVersioned interface {
	Plugin
	OnPlanVersioned(ctx context.Context, oldPlan, newPlan interface{}) error
}

// OnPlanArchived is called when a plan is archived.
type OnPlanArchived interface {
	Plugin
	OnPlanArchived(ctx context.Context, planID string) error
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated is called when a new subscription is created.
type OnSubscriptionCreated interface {
	Plugin
	OnSubscriptionCreated(ctx context.Context, sub interface{}) error
}

// OnPlanChanged is called when a subscription moves to a different plan.
type OnPlanChanged interface {
	Plugin
	OnPlanChanged(ctx context.Context, sub interface{}, oldPlan, newPlan interface{}) error
}

// OnSubscriptionCanceled is called when a subscription is canceled.
type OnSubscriptionCanceled interface {
	Plugin
	OnSubscriptionCanceled(ctx context.Context, sub interface{}) error
}

// OnSubscriptionExpired is called when a subscription expires after
// exhausting renewal retries.
type OnSubscriptionExpired interface {
	Plugin
	OnSubscriptionExpired(ctx context.Context, sub interface{}) error
}

// OnSubscriptionPastDue is called when a renewal charge is declined and
// the subscription enters dunning.
type OnSubscriptionPastDue interface {
	Plugin
	OnSubscriptionPastDue(ctx context.Context, sub interface{}, attempts int) error
}

// OnSubscriptionRecovered is called when a past-due subscription charges
// successfully and returns to active.
type OnSubscriptionRecovered interface {
	Plugin
	OnSubscriptionRecovered(ctx context.Context, sub interface{}) error
}

// ──────────────────────────────────────────────────
// Coupon hooks
// ──────────────────────────────────────────────────

// OnCouponCreated is called when a coupon is created.
type OnCouponCreated interface {
	Plugin
	OnCouponCreated(ctx context.Context, coupon interface{}) error
}

// OnCouponRedeemed is called when a coupon redemption is counted against
// its limit.
type OnCouponRedeemed interface {
	Plugin
	OnCouponRedeemed(ctx context.Context, coupon interface{}, sub interface{}) error
}

// ──────────────────────────────────────────────────
// Transaction lifecycle hooks
// ──────────────────────────────────────────────────

// OnTransactionCreated is called when a transaction enters the ledger.
type OnTransactionCreated interface {
	Plugin
	OnTransactionCreated(ctx context.Context, txn interface{}) error
}

// OnTransactionCompleted is called when a transaction settles.
type OnTransactionCompleted interface {
	Plugin
	OnTransactionCompleted(ctx context.Context, txn interface{}) error
}

// OnTransactionFailed is called when a transaction is declined.
type OnTransactionFailed interface {
	Plugin
	OnTransactionFailed(ctx context.Context, txn interface{}, code string) error
}

// OnTransactionCanceled is called when a pending transaction is canceled
// before dispatch.
type OnTransactionCanceled interface {
	Plugin
	OnTransactionCanceled(ctx context.Context, txn interface{}) error
}

// OnRefundIssued is called when a refund transaction settles.
type OnRefundIssued interface {
	Plugin
	OnRefundIssued(ctx context.Context, refund interface{}, original interface{}) error
}

// OnReconcileNeeded is called when a transaction's backend outcome is
// unknown and the reconciliation sweeper picks it up.
type OnReconcileNeeded interface {
	Plugin
	OnReconcileNeeded(ctx context.Context, txn interface{}) error
}

// ──────────────────────────────────────────────────
// Transaction recorders
// ──────────────────────────────────────────────────

// EventRecorder receives every event appended to a transaction history,
// for export to external audit or analytics sinks.
type EventRecorder interface {
	Plugin
	RecordEvent(ctx context.Context, event interface{}) error
}
