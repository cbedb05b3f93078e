package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	// Type-cached plugin lists for efficient dispatch
	onInit                  []OnInit
	onShutdown              []OnShutdown
	onPlanCreated           []OnPlanCreated
	onPlanVersioned         []OnPlanVersioned
	onPlanArchived          []OnPlanArchived
	onSubscriptionCreated   []OnSubscriptionCreated
	onPlanChanged           []OnPlanChanged
	onSubscriptionCanceled  []OnSubscriptionCanceled
	onSubscriptionExpired   []OnSubscriptionExpired
	onSubscriptionPastDue   []OnSubscriptionPastDue
	onSubscriptionRecovered []OnSubscriptionRecovered
	onCouponCreated         []OnCouponCreated
	onCouponRedeemed        []OnCouponRedeemed
	onTransactionCreated    []OnTransactionCreated
	onTransactionCompleted  []OnTransactionCompleted
	onTransactionFailed     []OnTransactionFailed
	onTransactionCanceled   []OnTransactionCanceled
	onRefundIssued          []OnRefundIssued
	onReconcileNeeded       []OnReconcileNeeded
	eventRecorders          []EventRecorder
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnPlanCreated); ok {
		r.onPlanCreated = append(r.onPlanCreated, v)
	}
	if v, ok := p.(OnPlanVersioned); ok {
		r.onPlanVersioned = append(r.onPlanVersioned, v)
	}
	if v, ok := p.(OnPlanArchived); ok {
		r.onPlanArchived = append(r.onPlanArchived, v)
	}
	if v, ok := p.(OnSubscriptionCreated); ok {
		r.onSubscriptionCreated = append(r.onSubscriptionCreated, v)
	}
	if v, ok := p.(OnPlanChanged); ok {
		r.onPlanChanged = append(r.onPlanChanged, v)
	}
	if v, ok := p.(OnSubscriptionCanceled); ok {
		r.onSubscriptionCanceled = append(r.onSubscriptionCanceled, v)
	}
	if v, ok := p.(OnSubscriptionExpired); ok {
		r.onSubscriptionExpired = append(r.onSubscriptionExpired, v)
	}
	if v, ok := p.(OnSubscriptionPastDue); ok {
		r.onSubscriptionPastDue = append(r.onSubscriptionPastDue, v)
	}
	if v, ok := p.(OnSubscriptionRecovered); ok {
		r.onSubscriptionRecovered = append(r.onSubscriptionRecovered, v)
	}
	if v, ok := p.(OnCouponCreated); ok {
		r.onCouponCreated = append(r.onCouponCreated, v)
	}
	if v, ok := p.(OnCouponRedeemed); ok {
		r.onCouponRedeemed = append(r.onCouponRedeemed, v)
	}
	if v, ok := p.(OnTransactionCreated); ok {
		r.onTransactionCreated = append(r.onTransactionCreated, v)
	}
	if v, ok := p.(OnTransactionCompleted); ok {
		r.onTransactionCompleted = append(r.onTransactionCompleted, v)
	}
	if v, ok := p.(OnTransactionFailed); ok {
		r.onTransactionFailed = append(r.onTransactionFailed, v)
	}
	if v, ok := p.(OnTransactionCanceled); ok {
		r.onTransactionCanceled = append(r.onTransactionCanceled, v)
	}
	if v, ok := p.(OnRefundIssued); ok {
		r.onRefundIssued = append(r.onRefundIssued, v)
	}
	if v, ok := p.(OnReconcileNeeded); ok {
		r.onReconcileNeeded = append(r.onReconcileNeeded, v)
	}
	if v, ok := p.(EventRecorder); ok {
		r.eventRecorders = append(r.eventRecorders, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", r.getImplementedInterfaces(p),
	)

	return nil
}

// getImplementedInterfaces returns a list of interfaces implemented by the plugin.
func (r *Registry) getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	// Check each interface
	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	// List all interfaces to check
	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnPlanCreated)(nil)).Elem(), "OnPlanCreated")
	checkInterface(reflect.TypeOf((*OnSubscriptionCreated)(nil)).Elem(), "OnSubscriptionCreated")
	checkInterface(reflect.TypeOf((*OnCouponRedeemed)(nil)).Elem(), "OnCouponRedeemed")
	checkInterface(reflect.TypeOf((*OnTransactionCreated)(nil)).Elem(), "OnTransactionCreated")
	checkInterface(reflect.TypeOf((*OnTransactionCompleted)(nil)).Elem(), "OnTransactionCompleted")
	checkInterface(reflect.TypeOf((*OnRefundIssued)(nil)).Elem(), "OnRefundIssued")
	checkInterface(reflect.TypeOf((*EventRecorder)(nil)).Elem(), "EventRecorder")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, engine)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitPlanCreated emits a plan created event.
func (r *Registry) EmitPlanCreated(ctx context.Context, plan interface{}) {
	r.mu.RLock()
	plugins := r.onPlanCreated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPlanCreated(ctx, plan)
		}); err != nil {
			r.logger.Warn("plugin OnPlanCreated failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitPlanVersioned emits a plan versioned event.
func (r *Registry) EmitPlanVersioned(ctx context.Context, oldPlan, newPlan interface{}) {
	r.mu.RLock()
	plugins := r.onPlanVersioned
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPlanVersioned(ctx, oldPlan, newPlan)
		}); err != nil {
			r.logger.Warn("plugin OnPlanVersioned failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitPlanArchived emits a plan archived event.
func (r *Registry) EmitPlanArchived(ctx context.Context, planID string) {
	r.mu.RLock()
	plugins := r.onPlanArchived
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPlanArchived(ctx, planID)
		}); err != nil {
			r.logger.Warn("plugin OnPlanArchived failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSubscriptionCreated emits a subscription created event.
func (r *Registry) EmitSubscriptionCreated(ctx context.Context, sub interface{}) {
	r.mu.RLock()
	plugins := r.onSubscriptionCreated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSubscriptionCreated(ctx, sub)
		}); err != nil {
			r.logger.Warn("plugin OnSubscriptionCreated failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitPlanChanged emits a plan change event for a subscription.
func (r *Registry) EmitPlanChanged(ctx context.Context, sub, oldPlan, newPlan interface{}) {
	r.mu.RLock()
	plugins := r.onPlanChanged
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPlanChanged(ctx, sub, oldPlan, newPlan)
		}); err != nil {
			r.logger.Warn("plugin OnPlanChanged failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSubscriptionCanceled emits a subscription canceled event.
func (r *Registry) EmitSubscriptionCanceled(ctx context.Context, sub interface{}) {
	r.mu.RLock()
	plugins := r.onSubscriptionCanceled
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSubscriptionCanceled(ctx, sub)
		}); err != nil {
			r.logger.Warn("plugin OnSubscriptionCanceled failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSubscriptionExpired emits a subscription expired event.
func (r *Registry) EmitSubscriptionExpired(ctx context.Context, sub interface{}) {
	r.mu.RLock()
	plugins := r.onSubscriptionExpired
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSubscriptionExpired(ctx, sub)
		}); err != nil {
			r.logger.Warn("plugin OnSubscriptionExpired failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSubscriptionPastDue emits a past due event after a declined renewal.
func (r *Registry) EmitSubscriptionPastDue(ctx context.Context, sub interface{}, attempts int) {
	r.mu.RLock()
	plugins := r.onSubscriptionPastDue
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSubscriptionPastDue(ctx, sub, attempts)
		}); err != nil {
			r.logger.Warn("plugin OnSubscriptionPastDue failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSubscriptionRecovered emits a recovery event when dunning succeeds.
func (r *Registry) EmitSubscriptionRecovered(ctx context.Context, sub interface{}) {
	r.mu.RLock()
	plugins := r.onSubscriptionRecovered
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSubscriptionRecovered(ctx, sub)
		}); err != nil {
			r.logger.Warn("plugin OnSubscriptionRecovered failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitCouponCreated emits a coupon created event.
func (r *Registry) EmitCouponCreated(ctx context.Context, coupon interface{}) {
	r.mu.RLock()
	plugins := r.onCouponCreated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnCouponCreated(ctx, coupon)
		}); err != nil {
			r.logger.Warn("plugin OnCouponCreated failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitCouponRedeemed emits a coupon redeemed event.
func (r *Registry) EmitCouponRedeemed(ctx context.Context, coupon, sub interface{}) {
	r.mu.RLock()
	plugins := r.onCouponRedeemed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnCouponRedeemed(ctx, coupon, sub)
		}); err != nil {
			r.logger.Warn("plugin OnCouponRedeemed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitTransactionCreated emits a transaction created event.
func (r *Registry) EmitTransactionCreated(ctx context.Context, txn interface{}) {
	r.mu.RLock()
	plugins := r.onTransactionCreated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnTransactionCreated(ctx, txn)
		}); err != nil {
			r.logger.Warn("plugin OnTransactionCreated failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitTransactionCompleted emits a transaction completed event.
func (r *Registry) EmitTransactionCompleted(ctx context.Context, txn interface{}) {
	r.mu.RLock()
	plugins := r.onTransactionCompleted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnTransactionCompleted(ctx, txn)
		}); err != nil {
			r.logger.Warn("plugin OnTransactionCompleted failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitTransactionFailed emits a transaction failed event.
func (r *Registry) EmitTransactionFailed(ctx context.Context, txn interface{}, code string) {
	r.mu.RLock()
	plugins := r.onTransactionFailed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnTransactionFailed(ctx, txn, code)
		}); err != nil {
			r.logger.Warn("plugin OnTransactionFailed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitTransactionCanceled emits a transaction canceled event.
func (r *Registry) EmitTransactionCanceled(ctx context.Context, txn interface{}) {
	r.mu.RLock()
	plugins := r.onTransactionCanceled
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnTransactionCanceled(ctx, txn)
		}); err != nil {
			r.logger.Warn("plugin OnTransactionCanceled failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitRefundIssued emits a refund issued event.
func (r *Registry) EmitRefundIssued(ctx context.Context, refund, original interface{}) {
	r.mu.RLock()
	plugins := r.onRefundIssued
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnRefundIssued(ctx, refund, original)
		}); err != nil {
			r.logger.Warn("plugin OnRefundIssued failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitReconcileNeeded emits a reconciliation event for a stuck transaction.
func (r *Registry) EmitReconcileNeeded(ctx context.Context, txn interface{}) {
	r.mu.RLock()
	plugins := r.onReconcileNeeded
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnReconcileNeeded(ctx, txn)
		}); err != nil {
			r.logger.Warn("plugin OnReconcileNeeded failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitEventRecorded forwards a ledger event to all event recorders.
func (r *Registry) EmitEventRecorded(ctx context.Context, event interface{}) {
	r.mu.RLock()
	plugins := r.eventRecorders
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.RecordEvent(ctx, event)
		}); err != nil {
			r.logger.Warn("plugin RecordEvent failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the billing pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
