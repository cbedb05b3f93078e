// Package observability provides a metrics extension for Subledger that
// records lifecycle event counts through caller-supplied counters.
package observability

import (
	"context"

	"github.com/xraph/subledger/plugin"
	"github.com/xraph/subledger/transaction"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                  = (*MetricsExtension)(nil)
	_ plugin.OnInit                  = (*MetricsExtension)(nil)
	_ plugin.OnPlanCreated           = (*MetricsExtension)(nil)
	_ plugin.OnPlanVersioned         = (*MetricsExtension)(nil)
	_ plugin.OnPlanArchived          = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCreated   = (*MetricsExtension)(nil)
	_ plugin.OnPlanChanged           = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCanceled  = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionExpired   = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionPastDue   = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionRecovered = (*MetricsExtension)(nil)
	_ plugin.OnCouponRedeemed        = (*MetricsExtension)(nil)
	_ plugin.OnTransactionCreated    = (*MetricsExtension)(nil)
	_ plugin.OnTransactionCompleted  = (*MetricsExtension)(nil)
	_ plugin.OnTransactionFailed     = (*MetricsExtension)(nil)
	_ plugin.OnTransactionCanceled   = (*MetricsExtension)(nil)
	_ plugin.OnRefundIssued          = (*MetricsExtension)(nil)
	_ plugin.OnReconcileNeeded       = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a Ledger plugin to automatically track billing metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Plan metrics
	PlanCreated   Counter
	PlanVersioned Counter
	PlanArchived  Counter

	// Subscription metrics
	SubscriptionCreated   Counter
	SubscriptionChanged   Counter
	SubscriptionCanceled  Counter
	SubscriptionExpired   Counter
	SubscriptionPastDue   Counter
	SubscriptionRecovered Counter

	// Coupon metrics
	CouponRedemptions Counter

	// Transaction metrics
	TransactionCreated   Counter
	TransactionCompleted Counter
	TransactionFailed    Counter
	TransactionCanceled  Counter
	RefundsIssued        Counter
	ReconcileNeeded      Counter
	ChargeAmount         Histogram
	RefundAmount         Histogram

	// Error metrics
	StoreErrors  Counter
	PluginErrors Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Plan metrics
		PlanCreated:   factory.Counter("subledger.plan.created"),
		PlanVersioned: factory.Counter("subledger.plan.versioned"),
		PlanArchived:  factory.Counter("subledger.plan.archived"),

		// Subscription metrics
		SubscriptionCreated:   factory.Counter("subledger.subscription.created"),
		SubscriptionChanged:   factory.Counter("subledger.subscription.plan_changed"),
		SubscriptionCanceled:  factory.Counter("subledger.subscription.canceled"),
		SubscriptionExpired:   factory.Counter("subledger.subscription.expired"),
		SubscriptionPastDue:   factory.Counter("subledger.subscription.past_due"),
		SubscriptionRecovered: factory.Counter("subledger.subscription.recovered"),

		// Coupon metrics
		CouponRedemptions: factory.Counter("subledger.coupon.redemptions"),

		// Transaction metrics
		TransactionCreated:   factory.Counter("subledger.transaction.created"),
		TransactionCompleted: factory.Counter("subledger.transaction.completed"),
		TransactionFailed:    factory.Counter("subledger.transaction.failed"),
		TransactionCanceled:  factory.Counter("subledger.transaction.canceled"),
		RefundsIssued:        factory.Counter("subledger.transaction.refunds"),
		ReconcileNeeded:      factory.Counter("subledger.transaction.reconcile_needed"),
		ChargeAmount:         factory.Histogram("subledger.transaction.charge_minor_units"),
		RefundAmount:         factory.Histogram("subledger.transaction.refund_minor_units"),

		// Error metrics
		StoreErrors:  factory.Counter("subledger.store.errors"),
		PluginErrors: factory.Counter("subledger.plugin.errors"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	// No initialization needed
	return nil
}

// ──────────────────────────────────────────────────
// Plan lifecycle hooks
// ──────────────────────────────────────────────────

// OnPlanCreated implements plugin.OnPlanCreated.
func (m *MetricsExtension) OnPlanCreated(_ context.Context, _ interface{}) error {
	m.PlanCreated.Inc()
	return nil
}

// OnPlanVersioned implements plugin.OnPlanVersioned.
func (m *MetricsExtension) OnPlanVersioned(_ context.Context, _, _ interface{}) error {
	m.PlanVersioned.Inc()
	return nil
}

// OnPlanArchived implements plugin.OnPlanArchived.
func (m *MetricsExtension) OnPlanArchived(_ context.Context, _ string) error {
	m.PlanArchived.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (m *MetricsExtension) OnSubscriptionCreated(_ context.Context, _ interface{}) error {
	m.SubscriptionCreated.Inc()
	return nil
}

// OnPlanChanged implements plugin.OnPlanChanged.
func (m *MetricsExtension) OnPlanChanged(_ context.Context, _ interface{}, _, _ interface{}) error {
	m.SubscriptionChanged.Inc()
	return nil
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (m *MetricsExtension) OnSubscriptionCanceled(_ context.Context, _ interface{}) error {
	m.SubscriptionCanceled.Inc()
	return nil
}

// OnSubscriptionExpired implements plugin.OnSubscriptionExpired.
func (m *MetricsExtension) OnSubscriptionExpired(_ context.Context, _ interface{}) error {
	m.SubscriptionExpired.Inc()
	return nil
}

// OnSubscriptionPastDue implements plugin.OnSubscriptionPastDue.
func (m *MetricsExtension) OnSubscriptionPastDue(_ context.Context, _ interface{}, _ int) error {
	m.SubscriptionPastDue.Inc()
	return nil
}

// OnSubscriptionRecovered implements plugin.OnSubscriptionRecovered.
func (m *MetricsExtension) OnSubscriptionRecovered(_ context.Context, _ interface{}) error {
	m.SubscriptionRecovered.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Coupon hooks
// ──────────────────────────────────────────────────

// OnCouponRedeemed implements plugin.OnCouponRedeemed.
func (m *MetricsExtension) OnCouponRedeemed(_ context.Context, _, _ interface{}) error {
	m.CouponRedemptions.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Transaction lifecycle hooks
// ──────────────────────────────────────────────────

// OnTransactionCreated implements plugin.OnTransactionCreated.
func (m *MetricsExtension) OnTransactionCreated(_ context.Context, v interface{}) error {
	m.TransactionCreated.Inc()
	if t, ok := v.(*transaction.Transaction); ok && t.Amount.IsPositive() {
		m.ChargeAmount.Observe(float64(t.Amount.Amount))
	}
	return nil
}

// OnTransactionCompleted implements plugin.OnTransactionCompleted.
func (m *MetricsExtension) OnTransactionCompleted(_ context.Context, _ interface{}) error {
	m.TransactionCompleted.Inc()
	return nil
}

// OnTransactionFailed implements plugin.OnTransactionFailed.
func (m *MetricsExtension) OnTransactionFailed(_ context.Context, _ interface{}, _ string) error {
	m.TransactionFailed.Inc()
	return nil
}

// OnTransactionCanceled implements plugin.OnTransactionCanceled.
func (m *MetricsExtension) OnTransactionCanceled(_ context.Context, _ interface{}) error {
	m.TransactionCanceled.Inc()
	return nil
}

// OnRefundIssued implements plugin.OnRefundIssued.
func (m *MetricsExtension) OnRefundIssued(_ context.Context, refundV, _ interface{}) error {
	m.RefundsIssued.Inc()
	if t, ok := refundV.(*transaction.Transaction); ok {
		m.RefundAmount.Observe(float64(t.Amount.Abs().Amount))
	}
	return nil
}

// OnReconcileNeeded implements plugin.OnReconcileNeeded.
func (m *MetricsExtension) OnReconcileNeeded(_ context.Context, _ interface{}) error {
	m.ReconcileNeeded.Inc()
	return nil
}
