// Package audithook bridges Subledger lifecycle events to an audit trail
// backend.
//
// It defines a local Recorder interface so the package does not import
// Chronicle directly. Callers inject a RecorderFunc adapter that bridges
// to Chronicle at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/subledger/coupon"
	"github.com/xraph/subledger/plan"
	"github.com/xraph/subledger/plugin"
	"github.com/xraph/subledger/subscription"
	"github.com/xraph/subledger/transaction"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                  = (*Extension)(nil)
	_ plugin.OnPlanCreated           = (*Extension)(nil)
	_ plugin.OnPlanVersioned         = (*Extension)(nil)
	_ plugin.OnPlanArchived          = (*Extension)(nil)
	_ plugin.OnSubscriptionCreated   = (*Extension)(nil)
	_ plugin.OnPlanChanged           = (*Extension)(nil)
	_ plugin.OnSubscriptionCanceled  = (*Extension)(nil)
	_ plugin.OnSubscriptionExpired   = (*Extension)(nil)
	_ plugin.OnSubscriptionPastDue   = (*Extension)(nil)
	_ plugin.OnSubscriptionRecovered = (*Extension)(nil)
	_ plugin.OnCouponCreated         = (*Extension)(nil)
	_ plugin.OnCouponRedeemed        = (*Extension)(nil)
	_ plugin.OnTransactionCreated    = (*Extension)(nil)
	_ plugin.OnTransactionCompleted  = (*Extension)(nil)
	_ plugin.OnTransactionFailed     = (*Extension)(nil)
	_ plugin.OnTransactionCanceled   = (*Extension)(nil)
	_ plugin.OnRefundIssued          = (*Extension)(nil)
	_ plugin.OnReconcileNeeded       = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// This matches chronicle.Emitter but is defined locally so that the
// audit_hook package does not import Chronicle directly; callers inject
// the concrete *chronicle.Chronicle at wiring time.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
// It mirrors chronicle/audit.Event but avoids a module dependency.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Subledger lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Plan lifecycle hooks
// ──────────────────────────────────────────────────

// OnPlanCreated implements plugin.OnPlanCreated.
func (e *Extension) OnPlanCreated(ctx context.Context, v interface{}) error {
	p, _ := v.(*plan.Plan)
	return e.record(ctx, ActionPlanCreated, SeverityInfo, OutcomeSuccess,
		ResourcePlan, planID(p), CategoryBilling, nil,
		"slug", planSlug(p),
	)
}

// OnPlanVersioned implements plugin.OnPlanVersioned.
func (e *Extension) OnPlanVersioned(ctx context.Context, oldV, newV interface{}) error {
	oldPlan, _ := oldV.(*plan.Plan)
	newPlan, _ := newV.(*plan.Plan)
	return e.record(ctx, ActionPlanVersioned, SeverityInfo, OutcomeSuccess,
		ResourcePlan, planID(newPlan), CategoryBilling, nil,
		"superseded", planID(oldPlan),
		"slug", planSlug(newPlan),
	)
}

// OnPlanArchived implements plugin.OnPlanArchived.
func (e *Extension) OnPlanArchived(ctx context.Context, planID string) error {
	return e.record(ctx, ActionPlanArchived, SeverityInfo, OutcomeSuccess,
		ResourcePlan, planID, CategoryBilling, nil,
		"plan_id", planID,
	)
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (e *Extension) OnSubscriptionCreated(ctx context.Context, v interface{}) error {
	sub, _ := v.(*subscription.Subscription)
	return e.record(ctx, ActionSubscriptionCreated, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, subID(sub), CategorySubscription, nil,
		"status", subStatus(sub),
	)
}

// OnPlanChanged implements plugin.OnPlanChanged.
func (e *Extension) OnPlanChanged(ctx context.Context, subV interface{}, oldV, newV interface{}) error {
	sub, _ := subV.(*subscription.Subscription)
	oldPlan, _ := oldV.(*plan.Plan)
	newPlan, _ := newV.(*plan.Plan)
	return e.record(ctx, ActionSubscriptionChanged, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, subID(sub), CategorySubscription, nil,
		"old_plan", planID(oldPlan),
		"new_plan", planID(newPlan),
	)
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (e *Extension) OnSubscriptionCanceled(ctx context.Context, v interface{}) error {
	sub, _ := v.(*subscription.Subscription)
	return e.record(ctx, ActionSubscriptionCanceled, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, subID(sub), CategorySubscription, nil,
	)
}

// OnSubscriptionExpired implements plugin.OnSubscriptionExpired.
func (e *Extension) OnSubscriptionExpired(ctx context.Context, v interface{}) error {
	sub, _ := v.(*subscription.Subscription)
	return e.record(ctx, ActionSubscriptionExpired, SeverityWarning, OutcomeFailure,
		ResourceSubscription, subID(sub), CategorySubscription, nil,
		"failed_attempts", subAttempts(sub),
	)
}

// OnSubscriptionPastDue implements plugin.OnSubscriptionPastDue.
func (e *Extension) OnSubscriptionPastDue(ctx context.Context, v interface{}, attempts int) error {
	sub, _ := v.(*subscription.Subscription)
	return e.record(ctx, ActionSubscriptionPastDue, SeverityWarning, OutcomeFailure,
		ResourceSubscription, subID(sub), CategorySubscription, nil,
		"failed_attempts", attempts,
	)
}

// OnSubscriptionRecovered implements plugin.OnSubscriptionRecovered.
func (e *Extension) OnSubscriptionRecovered(ctx context.Context, v interface{}) error {
	sub, _ := v.(*subscription.Subscription)
	return e.record(ctx, ActionSubscriptionRecovered, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, subID(sub), CategorySubscription, nil,
	)
}

// ──────────────────────────────────────────────────
// Coupon hooks
// ──────────────────────────────────────────────────

// OnCouponCreated implements plugin.OnCouponCreated.
func (e *Extension) OnCouponCreated(ctx context.Context, v interface{}) error {
	c, _ := v.(*coupon.Coupon)
	return e.record(ctx, ActionCouponCreated, SeverityInfo, OutcomeSuccess,
		ResourceCoupon, couponID(c), CategoryDiscount, nil,
		"code", couponCode(c),
	)
}

// OnCouponRedeemed implements plugin.OnCouponRedeemed.
func (e *Extension) OnCouponRedeemed(ctx context.Context, cv, sv interface{}) error {
	c, _ := cv.(*coupon.Coupon)
	sub, _ := sv.(*subscription.Subscription)
	return e.record(ctx, ActionCouponRedeemed, SeverityInfo, OutcomeSuccess,
		ResourceCoupon, couponID(c), CategoryDiscount, nil,
		"code", couponCode(c),
		"subscription_id", subID(sub),
	)
}

// ──────────────────────────────────────────────────
// Transaction lifecycle hooks
// ──────────────────────────────────────────────────

// OnTransactionCreated implements plugin.OnTransactionCreated.
func (e *Extension) OnTransactionCreated(ctx context.Context, v interface{}) error {
	t, _ := v.(*transaction.Transaction)
	return e.record(ctx, ActionTransactionCreated, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, txnID(t), CategoryPayment, nil,
		"amount", txnAmount(t),
	)
}

// OnTransactionCompleted implements plugin.OnTransactionCompleted.
func (e *Extension) OnTransactionCompleted(ctx context.Context, v interface{}) error {
	t, _ := v.(*transaction.Transaction)
	return e.record(ctx, ActionTransactionCompleted, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, txnID(t), CategoryPayment, nil,
		"amount", txnAmount(t),
	)
}

// OnTransactionFailed implements plugin.OnTransactionFailed.
func (e *Extension) OnTransactionFailed(ctx context.Context, v interface{}, code string) error {
	t, _ := v.(*transaction.Transaction)
	return e.record(ctx, ActionTransactionFailed, SeverityError, OutcomeFailure,
		ResourceTransaction, txnID(t), CategoryPayment, nil,
		"decline_code", code,
		"amount", txnAmount(t),
	)
}

// OnTransactionCanceled implements plugin.OnTransactionCanceled.
func (e *Extension) OnTransactionCanceled(ctx context.Context, v interface{}) error {
	t, _ := v.(*transaction.Transaction)
	return e.record(ctx, ActionTransactionCanceled, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, txnID(t), CategoryPayment, nil,
	)
}

// OnRefundIssued implements plugin.OnRefundIssued.
func (e *Extension) OnRefundIssued(ctx context.Context, refundV, originalV interface{}) error {
	refund, _ := refundV.(*transaction.Transaction)
	original, _ := originalV.(*transaction.Transaction)
	return e.record(ctx, ActionRefundIssued, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, txnID(refund), CategoryPayment, nil,
		"original", txnID(original),
		"amount", txnAmount(refund),
	)
}

// OnReconcileNeeded implements plugin.OnReconcileNeeded.
func (e *Extension) OnReconcileNeeded(ctx context.Context, v interface{}) error {
	t, _ := v.(*transaction.Transaction)
	return e.record(ctx, ActionReconcileNeeded, SeverityCritical, OutcomePartial,
		ResourceTransaction, txnID(t), CategoryPayment, nil,
		"amount", txnAmount(t),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}

// The payload extractors tolerate nil and foreign types: an audit entry
// with a blank resource ID beats a panic inside a plugin dispatch.

func planID(p *plan.Plan) string {
	if p == nil {
		return ""
	}
	return p.ID.String()
}

func planSlug(p *plan.Plan) string {
	if p == nil {
		return ""
	}
	return p.Slug
}

func subID(s *subscription.Subscription) string {
	if s == nil {
		return ""
	}
	return s.ID.String()
}

func subStatus(s *subscription.Subscription) string {
	if s == nil {
		return ""
	}
	return string(s.Status)
}

func subAttempts(s *subscription.Subscription) int {
	if s == nil {
		return 0
	}
	return s.FailedAttempts
}

func couponID(c *coupon.Coupon) string {
	if c == nil {
		return ""
	}
	return c.ID.String()
}

func couponCode(c *coupon.Coupon) string {
	if c == nil {
		return ""
	}
	return c.Code
}

func txnID(t *transaction.Transaction) string {
	if t == nil {
		return ""
	}
	return t.ID.String()
}

func txnAmount(t *transaction.Transaction) string {
	if t == nil {
		return ""
	}
	return t.Amount.String()
}
