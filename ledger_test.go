package subledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	subledger "github.com/xraph/subledger"
	"github.com/xraph/subledger/account"
	"github.com/xraph/subledger/coupon"
	"github.com/xraph/subledger/id"
	"github.com/xraph/subledger/payment/paymenttest"
	"github.com/xraph/subledger/plan"
	"github.com/xraph/subledger/plugin"
	"github.com/xraph/subledger/store/memory"
	"github.com/xraph/subledger/subscription"
	"github.com/xraph/subledger/transaction"
	"github.com/xraph/subledger/types"
)

// fixture wires an engine on the memory store with a scriptable backend
// and a movable clock.
type fixture struct {
	ledger  *subledger.Ledger
	store   *memory.Store
	backend *paymenttest.Backend
	now     time.Time
}

func newFixture(t *testing.T, opts ...subledger.Option) *fixture {
	t.Helper()

	f := &fixture{
		store:   memory.New(),
		backend: paymenttest.New(),
		now:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	all := append([]subledger.Option{
		subledger.WithBackend(f.backend),
		subledger.WithClock(func() time.Time { return f.now }),
		subledger.WithBackendTimeout(200 * time.Millisecond),
	}, opts...)

	f.ledger = subledger.New(f.store, all...)
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

// newSubscriber creates a user with a default card and an active
// subscription on a fresh plan at the given monthly price.
func (f *fixture) newSubscriber(t *testing.T, slug string, price types.Money) (*subscription.Subscription, *plan.Plan) {
	t.Helper()
	ctx := context.Background()

	u := &account.User{ExternalRef: "acct-" + slug}
	require.NoError(t, f.ledger.CreateUser(ctx, u))
	require.NoError(t, f.ledger.AddPaymentMethod(ctx, &account.PaymentMethod{
		UserID:  u.ID,
		Type:    account.MethodCreditCard,
		Token:   "tok_" + slug,
		Valid:   true,
		Default: true,
	}))

	p := &plan.Plan{Name: slug, Slug: slug, Price: price, Interval: plan.IntervalMonthly}
	require.NoError(t, f.ledger.CreatePlan(ctx, p))

	sub, err := f.ledger.CreateSubscription(ctx, u.ID, p.ID)
	require.NoError(t, err)
	require.Equal(t, subscription.StatusActive, sub.Status)
	return sub, p
}

func TestChargeRenewalAppliesCouponDiscount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, _ := f.newSubscriber(t, "pro", types.USD(10000))

	require.NoError(t, f.ledger.CreateCoupon(ctx, &coupon.Coupon{
		Code:       "SAVE20",
		Type:       coupon.TypePercentage,
		Percentage: 20,
	}))
	require.NoError(t, f.ledger.AttachCoupon(ctx, sub.ID, "SAVE20"))

	txn, err := f.ledger.ChargeRenewal(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StateCompleted, txn.State)
	assert.Equal(t, types.USD(8000), txn.Amount)
	assert.NotEmpty(t, txn.BackendRef)
	assert.Len(t, txn.CouponIDs, 1)

	// The period rolled forward and the event history tells the full story.
	sub, err = f.ledger.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, f.now.AddDate(0, 1, 0), sub.CurrentPeriodStart)

	events, err := f.ledger.GetTransactionEvents(ctx, txn.ID)
	require.NoError(t, err)
	kinds := make([]transaction.EventType, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Type)
	}
	assert.Contains(t, kinds, transaction.EventCreated)
	assert.Contains(t, kinds, transaction.EventAuthorized)
	assert.Contains(t, kinds, transaction.EventCaptured)
	assert.Equal(t, transaction.StateCompleted, transaction.ProjectState(events))
}

func TestFullyDiscountedChargeSkipsBackend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, _ := f.newSubscriber(t, "free-month", types.USD(4900))

	require.NoError(t, f.ledger.CreateCoupon(ctx, &coupon.Coupon{
		Code:       "COMP100",
		Type:       coupon.TypePercentage,
		Percentage: 100,
	}))
	require.NoError(t, f.ledger.AttachCoupon(ctx, sub.ID, "COMP100"))

	txn, err := f.ledger.ChargeRenewal(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StateCompleted, txn.State)
	assert.True(t, txn.Amount.IsZero())
	assert.Empty(t, f.backend.Calls())
}

func TestBackendTimeoutLeavesPendingAndReconcileSettlesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, _ := f.newSubscriber(t, "pro", types.USD(10000))
	periodStart := sub.CurrentPeriodStart

	// The gateway goes dark after actually settling the charge upstream.
	f.backend.Script(paymenttest.HangButSettle)

	txn, err := f.ledger.ChargeRenewal(ctx, sub.ID)
	require.Error(t, err)
	assert.True(t, subledger.NeedsReconciliation(err))
	require.NotNil(t, txn)
	assert.Equal(t, transaction.StatePending, txn.State)

	// Outcome unknown: the period must not advance yet.
	sub, err = f.ledger.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, periodStart, sub.CurrentPeriodStart)

	// Reconciliation replays the same idempotency key and finds the
	// settled result. Two calls, one financial effect.
	resolved, err := f.ledger.ReconcileTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StateCompleted, resolved.State)
	assert.Equal(t, 1, f.backend.ChargeCount())
	assert.Len(t, f.backend.Calls(), 2)

	sub, err = f.ledger.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, periodStart.AddDate(0, 1, 0), sub.CurrentPeriodStart)
}

func TestDeclinedRenewalsWalkDunningToExpiry(t *testing.T) {
	f := newFixture(t, subledger.WithRetryPolicy(subscription.RetryPolicy{MaxAttempts: 2}))
	ctx := context.Background()

	sub, _ := f.newSubscriber(t, "pro", types.USD(10000))

	f.backend.Script(paymenttest.Decline, paymenttest.Decline)

	txn, err := f.ledger.ChargeRenewal(ctx, sub.ID)
	require.NoError(t, err, "a decline is a result, not an error")
	assert.Equal(t, transaction.StateFailed, txn.State)

	sub, err = f.ledger.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusPastDue, sub.Status)
	assert.Equal(t, 1, sub.FailedAttempts)

	events, err := f.ledger.GetTransactionEvents(ctx, txn.ID)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, transaction.EventFailed, last.Type)
	assert.Equal(t, "card_declined", last.Code)

	// Second decline exhausts the policy.
	_, err = f.ledger.ChargeRenewal(ctx, sub.ID)
	require.NoError(t, err)

	sub, err = f.ledger.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusExpired, sub.Status)
	require.NotNil(t, sub.EndedAt)

	// Terminal subscriptions accept no new transactions.
	_, err = f.ledger.ChargeRenewal(ctx, sub.ID)
	assert.ErrorIs(t, err, subledger.ErrSubscriptionTerminal)
}

func TestPastDueSubscriptionRecoversOnSuccess(t *testing.T) {
	f := newFixture(t, subledger.WithRetryPolicy(subscription.RetryPolicy{MaxAttempts: 5}))
	ctx := context.Background()

	sub, _ := f.newSubscriber(t, "pro", types.USD(10000))

	f.backend.Script(paymenttest.Decline)
	_, err := f.ledger.ChargeRenewal(ctx, sub.ID)
	require.NoError(t, err)

	_, err = f.ledger.ChargeRenewal(ctx, sub.ID)
	require.NoError(t, err)

	sub, err = f.ledger.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, sub.Status)
	assert.Equal(t, 0, sub.FailedAttempts)
	assert.Nil(t, sub.FirstFailureAt)
}

func TestChangePlanChargesProratedDelta(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, _ := f.newSubscriber(t, "basic", types.USD(10000))

	upgrade := &plan.Plan{Name: "Premium", Slug: "premium", Price: types.USD(15000), Interval: plan.IntervalMonthly}
	require.NoError(t, f.ledger.CreatePlan(ctx, upgrade))

	// Halfway through the period the upgrade costs half the price delta.
	half := sub.CurrentPeriodEnd.Sub(sub.CurrentPeriodStart) / 2
	f.advance(half)

	txn, err := f.ledger.ChangePlan(ctx, sub.ID, upgrade.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.TypeProration, txn.Type)
	assert.Equal(t, types.USD(2500), txn.Amount)
	assert.Equal(t, transaction.StateCompleted, txn.State)

	sub, err = f.ledger.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, upgrade.ID, sub.PlanID)
	assert.Nil(t, sub.ProratedAmount, "the prorated amount is consumed exactly once")
}

func TestDowngradeChargesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, _ := f.newSubscriber(t, "premium", types.USD(15000))

	downgrade := &plan.Plan{Name: "Basic", Slug: "basic", Price: types.USD(10000), Interval: plan.IntervalMonthly}
	require.NoError(t, f.ledger.CreatePlan(ctx, downgrade))

	f.advance(sub.CurrentPeriodEnd.Sub(sub.CurrentPeriodStart) / 2)

	txn, err := f.ledger.ChangePlan(ctx, sub.ID, downgrade.ID)
	require.NoError(t, err)
	assert.True(t, txn.Amount.IsZero(), "no credit is issued for downgrades")
	assert.Equal(t, transaction.StateCompleted, txn.State)
	assert.Empty(t, f.backend.Calls())
}

func TestCancelPendingTransactionBeforeDispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, _ := f.newSubscriber(t, "pro", types.USD(10000))

	// A pending transaction that never reached the backend, written
	// through the store the way a crashed settle attempt leaves one.
	txn := &transaction.Transaction{
		Entity:         types.NewEntityAt(f.now),
		ID:             id.NewTransactionID(),
		SubscriptionID: sub.ID,
		Type:           transaction.TypePayment,
		Amount:         types.USD(10000),
		State:          transaction.StatePending,
	}
	created := &transaction.Event{
		ID:            id.NewEventID(),
		TransactionID: txn.ID,
		Type:          transaction.EventCreated,
		Timestamp:     f.now,
	}
	require.NoError(t, f.store.CreateTransaction(ctx, txn, created))

	require.NoError(t, f.ledger.CancelTransaction(ctx, txn.ID))
	assert.Empty(t, f.backend.Calls())

	got, err := f.ledger.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StateCanceled, got.State)

	// Canceling twice hits the terminal check.
	err = f.ledger.CancelTransaction(ctx, txn.ID)
	assert.ErrorIs(t, err, subledger.ErrTransactionTerminal)
}

func TestCancelAfterDispatchIsRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, _ := f.newSubscriber(t, "pro", types.USD(10000))

	f.backend.Script(paymenttest.HangButSettle)
	txn, err := f.ledger.ChargeRenewal(ctx, sub.ID)
	require.Error(t, err)
	require.Equal(t, transaction.StatePending, txn.State)

	err = f.ledger.CancelTransaction(ctx, txn.ID)
	assert.ErrorIs(t, err, subledger.ErrCancelAfterDispatch)
}

func TestRefundsAreCappedAtTheOriginalCharge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, _ := f.newSubscriber(t, "pro", types.USD(10000))

	charge, err := f.ledger.ChargeRenewal(ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, transaction.StateCompleted, charge.State)

	first, err := f.ledger.RefundTransaction(ctx, charge.ID, types.USD(6000))
	require.NoError(t, err)
	assert.Equal(t, transaction.StateCompleted, first.State)
	assert.Equal(t, types.USD(-6000), first.Amount)
	assert.Equal(t, charge.ID, first.RefundedFrom)

	// The original charge is annotated, never modified.
	got, err := f.ledger.GetTransaction(ctx, charge.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StateCompleted, got.State)
	assert.Equal(t, types.USD(10000), got.Amount)

	_, err = f.ledger.RefundTransaction(ctx, charge.ID, types.USD(5000))
	assert.ErrorIs(t, err, subledger.ErrRefundExceedsCharge)

	second, err := f.ledger.RefundTransaction(ctx, charge.ID, types.USD(4000))
	require.NoError(t, err)
	assert.Equal(t, transaction.StateCompleted, second.State)

	// Refunding a refund is refused.
	_, err = f.ledger.RefundTransaction(ctx, first.ID, types.USD(100))
	assert.ErrorIs(t, err, subledger.ErrRefundNotCompleted)
}

func TestConcurrentOperationsOnOneSubscriptionConflict(t *testing.T) {
	f := newFixture(t, subledger.WithBackendTimeout(time.Second))
	ctx := context.Background()

	sub, _ := f.newSubscriber(t, "pro", types.USD(10000))

	// First charge hangs inside the backend, holding the subscription
	// lock; the overlapping charge must conflict, not queue.
	f.backend.Script(paymenttest.Hang)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = f.ledger.ChargeRenewal(ctx, sub.ID)
	}()

	// Wait until the first charge is inside the backend, so the lock is
	// definitely held when the second one arrives.
	for len(f.backend.Calls()) == 0 {
		time.Sleep(time.Millisecond)
	}

	_, err := f.ledger.ChargeRenewal(ctx, sub.ID)
	wg.Wait()

	assert.ErrorIs(t, err, subledger.ErrConcurrencyConflict)
	assert.True(t, subledger.IsRetryable(err))
}

func TestConcurrentRedemptionsHonorCouponLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ledger.CreateCoupon(ctx, &coupon.Coupon{
		Code:           "FIRST3",
		Type:           coupon.TypeFixedAmount,
		Amount:         types.USD(1000),
		MaxRedemptions: 3,
	}))

	const subscribers = 8
	subs := make([]*subscription.Subscription, subscribers)
	for i := range subs {
		sub, _ := f.newSubscriber(t, "pro-"+string(rune('a'+i)), types.USD(10000))
		subs[i] = sub
		require.NoError(t, f.ledger.AttachCoupon(ctx, sub.ID, "FIRST3"))
	}

	var wg sync.WaitGroup
	amounts := make(chan int64, subscribers)
	for _, sub := range subs {
		wg.Add(1)
		go func(subID id.SubscriptionID) {
			defer wg.Done()
			txn, err := f.ledger.ChargeRenewal(ctx, subID)
			if err == nil {
				amounts <- txn.Amount.Amount
			}
		}(sub.ID)
	}
	wg.Wait()
	close(amounts)

	discounted := 0
	for a := range amounts {
		if a == 9000 {
			discounted++
		}
	}
	assert.LessOrEqual(t, discounted, 3, "coupon usage never exceeds the redemption limit")

	c, err := f.ledger.GetCoupon(ctx, "FIRST3")
	require.NoError(t, err)
	assert.LessOrEqual(t, c.TimesRedeemed, 3)
}

// recordingPlugin captures transaction lifecycle hook invocations.
type recordingPlugin struct {
	mu        sync.Mutex
	completed int
	failed    []string
}

func (p *recordingPlugin) Name() string { return "recording" }

func (p *recordingPlugin) OnTransactionCompleted(context.Context, interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed++
	return nil
}

func (p *recordingPlugin) OnTransactionFailed(_ context.Context, _ interface{}, code string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, code)
	return nil
}

var (
	_ plugin.OnTransactionCompleted = (*recordingPlugin)(nil)
	_ plugin.OnTransactionFailed    = (*recordingPlugin)(nil)
)

func TestPluginsSeeTransactionLifecycle(t *testing.T) {
	rec := &recordingPlugin{}
	f := newFixture(t, subledger.WithPlugin(rec))
	ctx := context.Background()

	sub, _ := f.newSubscriber(t, "pro", types.USD(10000))

	_, err := f.ledger.ChargeRenewal(ctx, sub.ID)
	require.NoError(t, err)

	f.backend.Script(paymenttest.Decline)
	_, err = f.ledger.ChargeRenewal(ctx, sub.ID)
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.completed)
	assert.Equal(t, []string{"card_declined"}, rec.failed)
}

func TestTrialSubscriptionStartsWithoutCharge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u := &account.User{ExternalRef: "trial-user"}
	require.NoError(t, f.ledger.CreateUser(ctx, u))

	p := &plan.Plan{Name: "Trial", Slug: "trial", Price: types.USD(4900), Interval: plan.IntervalMonthly, TrialDays: 14}
	require.NoError(t, f.ledger.CreatePlan(ctx, p))

	sub, err := f.ledger.CreateSubscription(ctx, u.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusTrialing, sub.Status)
	require.NotNil(t, sub.TrialEnd)
	assert.Equal(t, f.now.AddDate(0, 0, 14), *sub.TrialEnd)
	assert.Empty(t, f.backend.Calls())
}

func TestPlanVersioningLeavesSubscribersOnOldPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, p := f.newSubscriber(t, "pro", types.USD(10000))

	next, err := f.ledger.NewPlanVersion(ctx, p.ID, types.USD(12000))
	require.NoError(t, err)
	assert.Equal(t, 2, next.Version)

	// The slug now resolves to the live version.
	live, err := f.ledger.GetPlanBySlug(ctx, "pro")
	require.NoError(t, err)
	assert.Equal(t, next.ID, live.ID)

	// The existing subscriber still renews at the grandfathered price.
	txn, err := f.ledger.ChargeRenewal(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, types.USD(10000), txn.Amount)

	// New subscriptions on the archived version are refused.
	u := &account.User{ExternalRef: "late-joiner"}
	require.NoError(t, f.ledger.CreateUser(ctx, u))
	_, err = f.ledger.CreateSubscription(ctx, u.ID, p.ID)
	assert.ErrorIs(t, err, subledger.ErrPlanArchived)
}

func TestLapsedSubscriptionsExpireAfterGrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lapsed, _ := f.newSubscriber(t, "lapsing", types.USD(10000))
	renewing, _ := f.newSubscriber(t, "renewing", types.USD(10000))

	// Move well past both period ends plus the default expiry grace.
	f.advance(32*24*time.Hour + 25*time.Hour)

	// One subscriber renews late; the other never does.
	_, err := f.ledger.ChargeRenewal(ctx, renewing.ID)
	require.NoError(t, err)

	n, err := f.ledger.ExpireLapsedSubscriptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.ledger.GetSubscription(ctx, lapsed.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusExpired, got.Status)
	require.NotNil(t, got.EndedAt)

	// Expired is terminal: no further charges.
	_, err = f.ledger.ChargeRenewal(ctx, lapsed.ID)
	assert.ErrorIs(t, err, subledger.ErrSubscriptionTerminal)

	got, err = f.ledger.GetSubscription(ctx, renewing.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, got.Status)

	// A second pass finds nothing left to expire.
	n, err = f.ledger.ExpireLapsedSubscriptions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSubscriptionInsideGraceIsNotExpired(t *testing.T) {
	f := newFixture(t, subledger.WithExpiryGrace(72*time.Hour))
	ctx := context.Background()

	sub, _ := f.newSubscriber(t, "pro", types.USD(10000))

	// The period has ended but the grace has not run out.
	f.advance(32 * 24 * time.Hour)

	n, err := f.ledger.ExpireLapsedSubscriptions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := f.ledger.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, got.Status)
}

func TestReconciledRefundAnnotatesOriginalCharge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, _ := f.newSubscriber(t, "pro", types.USD(10000))

	charge, err := f.ledger.ChargeRenewal(ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, transaction.StateCompleted, charge.State)

	// The refund call goes dark; the outcome stays unknown.
	f.backend.Script(paymenttest.Hang)
	refund, err := f.ledger.RefundTransaction(ctx, charge.ID, types.USD(2500))
	require.Error(t, err)
	assert.True(t, subledger.NeedsReconciliation(err))
	require.Equal(t, transaction.StatePending, refund.State)

	// No annotation while the refund is unresolved.
	events, err := f.ledger.GetTransactionEvents(ctx, charge.ID)
	require.NoError(t, err)
	for _, ev := range events {
		assert.NotEqual(t, transaction.EventRefunded, ev.Type)
	}

	resolved, err := f.ledger.ReconcileTransaction(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StateCompleted, resolved.State)

	// The settled refund marks the original charge just like a refund
	// that completed on the first call.
	events, err = f.ledger.GetTransactionEvents(ctx, charge.ID)
	require.NoError(t, err)
	annotated := false
	for _, ev := range events {
		if ev.Type == transaction.EventRefunded {
			annotated = true
			assert.Equal(t, refund.ID.String(), ev.Code)
		}
	}
	assert.True(t, annotated)
}

func TestAbortedPlanChangeLeavesSubscriptionUntouched(t *testing.T) {
	f := newFixture(t, subledger.WithStrictCoupons(true))
	ctx := context.Background()

	sub, p := f.newSubscriber(t, "basic", types.USD(10000))

	upgrade := &plan.Plan{Name: "Premium", Slug: "premium", Price: types.USD(15000), Interval: plan.IntervalMonthly}
	require.NoError(t, f.ledger.CreatePlan(ctx, upgrade))

	until := f.now.Add(time.Hour)
	require.NoError(t, f.ledger.CreateCoupon(ctx, &coupon.Coupon{
		Code:       "FLASH",
		Type:       coupon.TypePercentage,
		Percentage: 10,
		ValidUntil: &until,
	}))
	require.NoError(t, f.ledger.AttachCoupon(ctx, sub.ID, "FLASH"))

	// The coupon has expired by the time the change is priced; strict
	// mode aborts the whole operation.
	f.advance(2 * time.Hour)
	_, err := f.ledger.ChangePlan(ctx, sub.ID, upgrade.ID)
	require.Error(t, err)

	got, err := f.ledger.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.PlanID, "an aborted change keeps the old plan")
	assert.Nil(t, got.ProratedAmount)

	txns, err := f.ledger.ListTransactions(ctx, sub.ID, transaction.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, txns)

	// With the dead coupon detached the same change goes through.
	c, err := f.ledger.GetCoupon(ctx, "FLASH")
	require.NoError(t, err)
	require.NoError(t, f.ledger.DetachCoupon(ctx, sub.ID, c.ID))

	txn, err := f.ledger.ChangePlan(ctx, sub.ID, upgrade.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StateCompleted, txn.State)
}

func TestPlanChangeRequiresPaymentMethod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u := &account.User{ExternalRef: "cardless"}
	require.NoError(t, f.ledger.CreateUser(ctx, u))

	p := &plan.Plan{Name: "Basic", Slug: "basic", Price: types.USD(10000), Interval: plan.IntervalMonthly}
	require.NoError(t, f.ledger.CreatePlan(ctx, p))
	upgrade := &plan.Plan{Name: "Premium", Slug: "premium", Price: types.USD(15000), Interval: plan.IntervalMonthly}
	require.NoError(t, f.ledger.CreatePlan(ctx, upgrade))

	sub, err := f.ledger.CreateSubscription(ctx, u.ID, p.ID)
	require.NoError(t, err)

	f.advance(12 * time.Hour)
	_, err = f.ledger.ChangePlan(ctx, sub.ID, upgrade.ID)
	assert.ErrorIs(t, err, subledger.ErrNoPaymentMethod)

	got, err := f.ledger.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.PlanID)
	assert.Nil(t, got.ProratedAmount)
}

func TestSubscriptionHistoryPairsTransactionsWithEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, _ := f.newSubscriber(t, "pro", types.USD(10000))

	charge, err := f.ledger.ChargeRenewal(ctx, sub.ID)
	require.NoError(t, err)
	f.advance(time.Hour)
	refund, err := f.ledger.RefundTransaction(ctx, charge.ID, types.USD(2500))
	require.NoError(t, err)

	history, err := f.ledger.GetSubscriptionHistory(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)

	// Newest first: the refund precedes the charge it reverses.
	assert.Equal(t, refund.ID, history[0].Transaction.ID)
	assert.Equal(t, charge.ID, history[1].Transaction.ID)
	assert.Equal(t, charge.ID, history[0].Transaction.RefundedFrom)

	for _, h := range history {
		require.NotEmpty(t, h.Events)
		assert.Equal(t, transaction.EventCreated, h.Events[0].Type)
		assert.Equal(t, h.Transaction.State, transaction.ProjectState(h.Events))
	}

	_, err = f.ledger.GetSubscriptionHistory(ctx, id.NewSubscriptionID())
	assert.ErrorIs(t, err, subledger.ErrSubscriptionNotFound)
}
