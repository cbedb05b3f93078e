package subledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/subledger/account"
	"github.com/xraph/subledger/coupon"
	"github.com/xraph/subledger/id"
	"github.com/xraph/subledger/payment"
	"github.com/xraph/subledger/plan"
	"github.com/xraph/subledger/plugin"
	"github.com/xraph/subledger/store"
	"github.com/xraph/subledger/subscription"
	"github.com/xraph/subledger/types"
)

// Ledger is the main billing engine.
type Ledger struct {
	store   store.Store
	backend payment.Backend
	plugins *plugin.Registry
	logger  *slog.Logger
	clock   func() time.Time

	// Per-subscription locks: one transaction in flight per subscription.
	subLocks sync.Map

	// Background workers
	stopChan chan struct{}
	wg       sync.WaitGroup

	// Configuration
	autoMigrate       bool
	backendTimeout    time.Duration
	planCacheTTL      time.Duration
	reconcileInterval time.Duration
	reconcileAfter    time.Duration
	expiryGrace       time.Duration
	retryPolicy       subscription.RetryPolicy
	strictCoupons     bool
}

// New creates a new Ledger instance.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:             s,
		plugins:           plugin.NewRegistry(),
		logger:            slog.Default(),
		clock:             time.Now,
		stopChan:          make(chan struct{}),
		autoMigrate:       true,
		backendTimeout:    30 * time.Second,
		planCacheTTL:      30 * time.Second,
		reconcileInterval: time.Minute,
		reconcileAfter:    5 * time.Minute,
		expiryGrace:       24 * time.Hour,
		retryPolicy:       subscription.RetryPolicy{MaxAttempts: 3},
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithBackend sets the payment backend charges and refunds settle against.
func WithBackend(b payment.Backend) Option {
	return func(l *Ledger) {
		l.backend = b
	}
}

// WithClock injects the time source. Tests pin it to make periods,
// proration, and coupon validity deterministic.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) {
		l.clock = clock
	}
}

// WithRetryPolicy sets when a past_due subscription gives up and expires.
func WithRetryPolicy(p subscription.RetryPolicy) Option {
	return func(l *Ledger) {
		l.retryPolicy = p
	}
}

// WithStrictCoupons makes pricing abort on the first invalid coupon
// instead of skipping it.
func WithStrictCoupons(strict bool) Option {
	return func(l *Ledger) {
		l.strictCoupons = strict
	}
}

// WithAutoMigrate controls whether Start runs store migrations. Disable
// it when migrations are applied out of band.
func WithAutoMigrate(enabled bool) Option {
	return func(l *Ledger) {
		l.autoMigrate = enabled
	}
}

// WithBackendTimeout bounds each backend call.
func WithBackendTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		l.backendTimeout = d
	}
}

// WithPlanCacheTTL sets the plan cache TTL.
func WithPlanCacheTTL(ttl time.Duration) Option {
	return func(l *Ledger) {
		l.planCacheTTL = ttl
	}
}

// WithReconcileConfig configures the reconciliation sweeper: how often it
// runs and how long a transaction may sit pending before it is flagged.
func WithReconcileConfig(every, staleAfter time.Duration) Option {
	return func(l *Ledger) {
		l.reconcileInterval = every
		l.reconcileAfter = staleAfter
	}
}

// WithExpiryGrace sets how long past its period end a subscription may go
// unrenewed before the sweeper expires it.
func WithExpiryGrace(d time.Duration) Option {
	return func(l *Ledger) {
		l.expiryGrace = d
	}
}

// Start begins background workers.
func (l *Ledger) Start(ctx context.Context) error {
	// Migrate database
	if l.autoMigrate {
		if err := l.store.Migrate(ctx); err != nil {
			return err
		}
	}

	// Initialize plugins
	l.plugins.EmitInit(ctx, l)

	// Start reconciliation sweeper
	l.wg.Add(1)
	go l.reconcileWorker()

	l.logger.Info("subledger started",
		"backend_timeout", l.backendTimeout,
		"reconcile_interval", l.reconcileInterval,
		"plan_cache_ttl", l.planCacheTTL,
	)

	return nil
}

// Stop shuts down the Ledger.
func (l *Ledger) Stop() error {
	close(l.stopChan)
	l.wg.Wait()

	ctx := context.Background()
	l.plugins.EmitShutdown(ctx)

	return l.store.Close()
}

// Store exposes the underlying store, mainly for extensions and plugins.
func (l *Ledger) Store() store.Store {
	return l.store
}

// Plugins exposes the plugin registry for post-construction registration.
func (l *Ledger) Plugins() *plugin.Registry {
	return l.plugins
}

func (l *Ledger) now() time.Time {
	return l.clock().UTC()
}

// lockSubscription acquires the per-subscription lock without blocking.
// Contention returns ErrConcurrencyConflict: the ledger never queues or
// retries financial effects, the caller retries with backoff.
func (l *Ledger) lockSubscription(subID id.SubscriptionID) (func(), error) {
	v, _ := l.subLocks.LoadOrStore(subID.String(), &sync.Mutex{})
	mu := v.(*sync.Mutex)
	if !mu.TryLock() {
		return nil, ErrConcurrencyConflict
	}
	return mu.Unlock, nil
}

// ──────────────────────────────────────────────────
// Users and payment methods
// ──────────────────────────────────────────────────

// CreateUser creates a billing account.
func (l *Ledger) CreateUser(ctx context.Context, u *account.User) error {
	if u.ID.IsNil() {
		u.ID = id.NewUserID()
	}
	u.Entity = types.NewEntityAt(l.now())

	return l.store.CreateUser(ctx, u)
}

// GetUser retrieves a user by ID.
func (l *Ledger) GetUser(ctx context.Context, userID id.UserID) (*account.User, error) {
	return l.store.GetUser(ctx, userID)
}

// AddPaymentMethod stores a tokenized payment method for a user.
func (l *Ledger) AddPaymentMethod(ctx context.Context, m *account.PaymentMethod) error {
	if m.Token == "" {
		return fmt.Errorf("%w: payment method token is required", ErrInvalidInput)
	}
	if _, err := l.store.GetUser(ctx, m.UserID); err != nil {
		return err
	}

	if m.ID.IsNil() {
		m.ID = id.NewPaymentMethodID()
	}
	m.Entity = types.NewEntityAt(l.now())

	return l.store.CreatePaymentMethod(ctx, m)
}

// ──────────────────────────────────────────────────
// Plan Management
// ──────────────────────────────────────────────────

// CreatePlan creates a new billing plan.
func (l *Ledger) CreatePlan(ctx context.Context, p *plan.Plan) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	if p.ID.IsNil() {
		p.ID = id.NewPlanID()
	}
	if p.Version == 0 {
		p.Version = 1
	}
	if p.Status == "" {
		p.Status = plan.StatusActive
	}
	p.Entity = types.NewEntityAt(l.now())

	if err := l.store.CreatePlan(ctx, p); err != nil {
		return err
	}

	l.plugins.EmitPlanCreated(ctx, p)
	return nil
}

// GetPlan retrieves a plan by ID, preferring the plan cache.
func (l *Ledger) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	if cached, err := l.store.GetCachedPlan(ctx, planID); err == nil {
		return cached, nil
	}

	p, err := l.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	_ = l.store.SetCachedPlan(ctx, p, l.planCacheTTL) //nolint:errcheck // best-effort cache set
	return p, nil
}

// GetPlanBySlug retrieves the live version of a plan by slug.
func (l *Ledger) GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error) {
	return l.store.GetPlanBySlug(ctx, slug)
}

// ListPlans lists plans.
func (l *Ledger) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	return l.store.ListPlans(ctx, opts)
}

// NewPlanVersion derives a successor plan with a new price, archives the
// old version, and records the supersession. Existing subscriptions keep
// the old version until explicitly migrated.
func (l *Ledger) NewPlanVersion(ctx context.Context, planID id.PlanID, price types.Money) (*plan.Plan, error) {
	old, err := l.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if old.Status == plan.StatusArchived {
		return nil, fmt.Errorf("%w: %s", ErrPlanArchived, old.Slug)
	}

	next := old.NewVersion(price)
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	next.Entity = types.NewEntityAt(l.now())

	if err := l.store.CreatePlan(ctx, next); err != nil {
		return nil, err
	}
	if err := l.store.SupersedePlan(ctx, old.ID, next.ID); err != nil {
		return nil, err
	}

	_ = l.store.InvalidatePlan(ctx, old.ID) //nolint:errcheck // best-effort cache invalidation

	l.plugins.EmitPlanVersioned(ctx, old, next)
	return next, nil
}

// ArchivePlan archives a plan. Subscriptions already on it are unaffected;
// it can no longer be attached to new ones.
func (l *Ledger) ArchivePlan(ctx context.Context, planID id.PlanID) error {
	if err := l.store.ArchivePlan(ctx, planID); err != nil {
		return err
	}

	_ = l.store.InvalidatePlan(ctx, planID) //nolint:errcheck // best-effort cache invalidation

	l.plugins.EmitPlanArchived(ctx, planID.String())
	return nil
}

// ──────────────────────────────────────────────────
// Coupon Management
// ──────────────────────────────────────────────────

// CreateCoupon creates a coupon after checking its static configuration.
func (l *Ledger) CreateCoupon(ctx context.Context, c *coupon.Coupon) error {
	if err := c.CheckConfig(); err != nil {
		return fmt.Errorf("%w: %v", ErrCouponInvalid, err)
	}

	if c.ID.IsNil() {
		c.ID = id.NewCouponID()
	}
	c.Entity = types.NewEntityAt(l.now())

	if err := l.store.CreateCoupon(ctx, c); err != nil {
		return err
	}

	l.plugins.EmitCouponCreated(ctx, c)
	return nil
}

// GetCoupon retrieves a coupon by code.
func (l *Ledger) GetCoupon(ctx context.Context, code string) (*coupon.Coupon, error) {
	return l.store.GetCoupon(ctx, code)
}

// AttachCoupon links a coupon to a subscription by code. Attachment does
// not redeem: redemption is counted when a transaction is priced with it.
func (l *Ledger) AttachCoupon(ctx context.Context, subID id.SubscriptionID, code string) error {
	c, err := l.store.GetCoupon(ctx, code)
	if err != nil {
		return err
	}
	if err := c.Validate(l.now()); err != nil {
		return err
	}

	sub, err := l.store.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}
	if sub.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrSubscriptionTerminal, sub.Status)
	}

	return l.store.AttachCoupon(ctx, subID, c.ID)
}

// DetachCoupon removes a coupon from a subscription.
func (l *Ledger) DetachCoupon(ctx context.Context, subID id.SubscriptionID, couponID id.CouponID) error {
	return l.store.DetachCoupon(ctx, subID, couponID)
}

// ──────────────────────────────────────────────────
// Subscription Management
// ──────────────────────────────────────────────────

// CreateSubscription subscribes a user to a plan. The subscription starts
// trialing when the plan has trial days, active otherwise. No charge is
// made here: the first charge is an explicit ChargeRenewal, so the caller
// owns retry semantics from the start.
func (l *Ledger) CreateSubscription(ctx context.Context, userID id.UserID, planID id.PlanID) (*subscription.Subscription, error) {
	if _, err := l.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	p, err := l.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !p.IsActive() {
		return nil, fmt.Errorf("%w: %s", ErrPlanArchived, p.Slug)
	}

	now := l.now()
	sub := &subscription.Subscription{
		Entity:             types.NewEntityAt(now),
		ID:                 id.NewSubscriptionID(),
		UserID:             userID,
		PlanID:             planID,
		Status:             subscription.StatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, p.Interval.Months(), 0),
	}

	if p.TrialDays > 0 {
		trialEnd := now.AddDate(0, 0, p.TrialDays)
		sub.Status = subscription.StatusTrialing
		sub.TrialStart = &now
		sub.TrialEnd = &trialEnd
	}

	if err := l.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	l.plugins.EmitSubscriptionCreated(ctx, sub)
	return sub, nil
}

// GetSubscription retrieves a subscription by ID.
func (l *Ledger) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	return l.store.GetSubscription(ctx, subID)
}

// GetActiveSubscription retrieves the user's current non-terminal subscription.
func (l *Ledger) GetActiveSubscription(ctx context.Context, userID id.UserID) (*subscription.Subscription, error) {
	return l.store.GetActiveSubscription(ctx, userID)
}

// CancelSubscription cancels a subscription, at period end by default or
// immediately when requested.
func (l *Ledger) CancelSubscription(ctx context.Context, subID id.SubscriptionID, immediately bool) error {
	unlock, err := l.lockSubscription(subID)
	if err != nil {
		return err
	}
	defer unlock()

	sub, err := l.store.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}
	if !subscription.CanTransition(sub.Status, subscription.StatusCanceled) {
		return fmt.Errorf("%w: %s -> canceled", ErrInvalidTransition, sub.Status)
	}

	cancelAt := sub.CurrentPeriodEnd
	if immediately {
		cancelAt = l.now()
	}

	if err := l.store.CancelSubscription(ctx, subID, cancelAt); err != nil {
		return err
	}

	sub.Status = subscription.StatusCanceled
	l.plugins.EmitSubscriptionCanceled(ctx, sub)
	return nil
}

// ──────────────────────────────────────────────────
// Reconciliation sweeper
// ──────────────────────────────────────────────────

// reconcileWorker periodically flags transactions stuck in pending.
func (l *Ledger) reconcileWorker() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.sweepStalePending(context.Background())
			if _, err := l.ExpireLapsedSubscriptions(context.Background()); err != nil {
				l.logger.Error("failed to sweep lapsed subscriptions", "error", err)
			}
		}
	}
}

// sweepStalePending emits OnReconcileNeeded for every transaction that has
// sat pending past the stale threshold. Resolution stays with the
// operator: they call ReconcileTransaction, which retries the backend with
// the original idempotency key.
func (l *Ledger) sweepStalePending(ctx context.Context) {
	before := l.now().Add(-l.reconcileAfter)

	stale, err := l.store.ListStalePendingTransactions(ctx, before, 100)
	if err != nil {
		l.logger.Error("failed to list stale pending transactions", "error", err)
		return
	}

	for _, t := range stale {
		l.logger.Warn("transaction needs reconciliation",
			"transaction_id", t.ID.String(),
			"subscription_id", t.SubscriptionID.String(),
			"amount", t.Amount.String(),
		)
		l.plugins.EmitReconcileNeeded(ctx, t)
	}
}

// ExpireLapsedSubscriptions expires active and trialing subscriptions whose
// billing period ended more than the expiry grace ago without being
// renewed. The sweeper runs it on every tick; operators can also trigger a
// pass directly. It returns how many subscriptions were expired.
//
// Past-due subscriptions are not swept here: once a renewal has been
// declined, the retry policy decides when the subscription gives up.
func (l *Ledger) ExpireLapsedSubscriptions(ctx context.Context) (int, error) {
	before := l.now().Add(-l.expiryGrace)

	lapsed, err := l.store.ListLapsedSubscriptions(ctx, before, 100)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, sub := range lapsed {
		done, err := l.expireLapsed(ctx, sub.ID, before)
		if err != nil {
			if errors.Is(err, ErrConcurrencyConflict) {
				// A charge holds the lock; the next sweep revisits.
				continue
			}
			l.logger.Error("failed to expire lapsed subscription",
				"subscription_id", sub.ID.String(),
				"error", err,
			)
			continue
		}
		if done {
			expired++
		}
	}
	return expired, nil
}

// expireLapsed re-reads the subscription under its lock, so a renewal that
// raced the sweep wins and the subscription stays active.
func (l *Ledger) expireLapsed(ctx context.Context, subID id.SubscriptionID, before time.Time) (bool, error) {
	unlock, err := l.lockSubscription(subID)
	if err != nil {
		return false, err
	}
	defer unlock()

	sub, err := l.store.GetSubscription(ctx, subID)
	if err != nil {
		return false, err
	}
	if sub.Status != subscription.StatusActive && sub.Status != subscription.StatusTrialing {
		return false, nil
	}
	if !sub.CurrentPeriodEnd.Before(before) {
		return false, nil
	}
	if !subscription.CanTransition(sub.Status, subscription.StatusExpired) {
		return false, nil
	}

	now := l.now()
	sub.Status = subscription.StatusExpired
	sub.EndedAt = &now
	sub.TouchAt(now)

	if err := l.store.UpdateSubscription(ctx, sub); err != nil {
		return false, err
	}

	l.logger.Info("subscription expired unrenewed",
		"subscription_id", sub.ID.String(),
		"period_end", sub.CurrentPeriodEnd,
	)
	l.plugins.EmitSubscriptionExpired(ctx, sub)
	return true, nil
}
