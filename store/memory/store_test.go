package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/subledger"
	"github.com/xraph/subledger/account"
	"github.com/xraph/subledger/coupon"
	"github.com/xraph/subledger/id"
	"github.com/xraph/subledger/plan"
	"github.com/xraph/subledger/subscription"
	"github.com/xraph/subledger/transaction"
	"github.com/xraph/subledger/types"
)

func TestPlanLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	p := &plan.Plan{
		ID:       id.NewPlanID(),
		Name:     "Pro",
		Slug:     "pro",
		Price:    types.USD(2900),
		Interval: plan.IntervalMonthly,
		Status:   plan.StatusActive,
		Version:  1,
	}
	if err := s.CreatePlan(ctx, p); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	if err := s.CreatePlan(ctx, p); !errors.Is(err, subledger.ErrAlreadyExists) {
		t.Fatalf("duplicate create: got %v, want ErrAlreadyExists", err)
	}

	got, err := s.GetPlanBySlug(ctx, "pro")
	if err != nil || got.ID != p.ID {
		t.Fatalf("GetPlanBySlug: got %v, %v", got, err)
	}

	next := p.NewVersion(types.USD(3900))
	if err := s.CreatePlan(ctx, next); err != nil {
		t.Fatalf("CreatePlan v2: %v", err)
	}
	if err := s.SupersedePlan(ctx, p.ID, next.ID); err != nil {
		t.Fatalf("SupersedePlan: %v", err)
	}

	old, _ := s.GetPlan(ctx, p.ID)
	if old.Status != plan.StatusArchived || old.SupersededBy != next.ID {
		t.Fatalf("superseded plan: status=%s supersededBy=%s", old.Status, old.SupersededBy)
	}

	// Slug lookup follows the live version after supersession.
	live, err := s.GetPlanBySlug(ctx, "pro")
	if err != nil || live.ID != next.ID {
		t.Fatalf("GetPlanBySlug after supersede: got %v, %v", live, err)
	}
}

func TestPlanCache(t *testing.T) {
	ctx := context.Background()
	s := New()

	p := &plan.Plan{ID: id.NewPlanID(), Slug: "starter", Price: types.USD(900)}
	if _, err := s.GetCachedPlan(ctx, p.ID); !errors.Is(err, subledger.ErrCacheMiss) {
		t.Fatalf("cold cache: got %v, want ErrCacheMiss", err)
	}

	if err := s.SetCachedPlan(ctx, p, time.Minute); err != nil {
		t.Fatalf("SetCachedPlan: %v", err)
	}
	got, err := s.GetCachedPlan(ctx, p.ID)
	if err != nil || got.Slug != "starter" {
		t.Fatalf("warm cache: got %v, %v", got, err)
	}

	if err := s.InvalidatePlan(ctx, p.ID); err != nil {
		t.Fatalf("InvalidatePlan: %v", err)
	}
	if _, err := s.GetCachedPlan(ctx, p.ID); !errors.Is(err, subledger.ErrCacheMiss) {
		t.Fatalf("after invalidate: got %v, want ErrCacheMiss", err)
	}
}

func TestDefaultPaymentMethodIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := New()
	userID := id.NewUserID()

	first := &account.PaymentMethod{
		ID: id.NewPaymentMethodID(), UserID: userID,
		Type: account.MethodCreditCard, Token: "tok_1", Valid: true, Default: true,
	}
	second := &account.PaymentMethod{
		ID: id.NewPaymentMethodID(), UserID: userID,
		Type: account.MethodPayPal, Token: "tok_2", Valid: true, Default: true,
	}
	if err := s.CreatePaymentMethod(ctx, first); err != nil {
		t.Fatalf("create first: %v", err)
	}
	if err := s.CreatePaymentMethod(ctx, second); err != nil {
		t.Fatalf("create second: %v", err)
	}

	def, err := s.GetDefaultPaymentMethod(ctx, userID)
	if err != nil {
		t.Fatalf("GetDefaultPaymentMethod: %v", err)
	}
	if def.ID != second.ID {
		t.Fatalf("default = %s, want %s", def.ID, second.ID)
	}
	demoted, _ := s.GetPaymentMethod(ctx, first.ID)
	if demoted.Default {
		t.Fatal("first method should have been demoted")
	}
}

func TestRedeemReleaseRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	c := &coupon.Coupon{
		ID: id.NewCouponID(), Code: "ONCE", Type: coupon.TypePercentage,
		Percentage: 10, MaxRedemptions: 1,
	}
	if err := s.CreateCoupon(ctx, c); err != nil {
		t.Fatalf("CreateCoupon: %v", err)
	}

	if err := s.RedeemCoupon(ctx, c.ID); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if err := s.RedeemCoupon(ctx, c.ID); !errors.Is(err, subledger.ErrCouponExhausted) {
		t.Fatalf("second redeem: got %v, want ErrCouponExhausted", err)
	}
	if err := s.ReleaseCoupon(ctx, c.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := s.RedeemCoupon(ctx, c.ID); err != nil {
		t.Fatalf("redeem after release: %v", err)
	}
}

func TestConcurrentRedemptionHonorsLimit(t *testing.T) {
	ctx := context.Background()
	s := New()

	const limit = 5
	const attempts = 50

	c := &coupon.Coupon{
		ID: id.NewCouponID(), Code: "LIMITED", Type: coupon.TypeFixedAmount,
		Amount: types.USD(500), MaxRedemptions: limit,
	}
	if err := s.CreateCoupon(ctx, c); err != nil {
		t.Fatalf("CreateCoupon: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.RedeemCoupon(ctx, c.ID)
		}()
	}
	wg.Wait()
	close(results)

	var ok, exhausted int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, subledger.ErrCouponExhausted):
			exhausted++
		default:
			t.Fatalf("unexpected redeem error: %v", err)
		}
	}
	if ok != limit {
		t.Fatalf("successful redemptions = %d, want %d", ok, limit)
	}
	if exhausted != attempts-limit {
		t.Fatalf("exhausted redemptions = %d, want %d", exhausted, attempts-limit)
	}

	got, _ := s.GetCouponByID(ctx, c.ID)
	if got.TimesRedeemed != limit {
		t.Fatalf("TimesRedeemed = %d, want %d", got.TimesRedeemed, limit)
	}
}

func TestAttachCouponIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()

	c := &coupon.Coupon{ID: id.NewCouponID(), Code: "STACK", Type: coupon.TypePercentage, Percentage: 20}
	if err := s.CreateCoupon(ctx, c); err != nil {
		t.Fatalf("CreateCoupon: %v", err)
	}
	sub := &subscription.Subscription{
		ID: id.NewSubscriptionID(), UserID: id.NewUserID(), PlanID: id.NewPlanID(),
		Status: subscription.StatusActive,
	}
	if err := s.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.AttachCoupon(ctx, sub.ID, c.ID); err != nil {
			t.Fatalf("AttachCoupon #%d: %v", i, err)
		}
	}
	got, _ := s.GetSubscription(ctx, sub.ID)
	if len(got.CouponIDs) != 1 {
		t.Fatalf("CouponIDs = %v, want one entry", got.CouponIDs)
	}

	if err := s.DetachCoupon(ctx, sub.ID, c.ID); err != nil {
		t.Fatalf("DetachCoupon: %v", err)
	}
	got, _ = s.GetSubscription(ctx, sub.ID)
	if len(got.CouponIDs) != 0 {
		t.Fatalf("CouponIDs after detach = %v, want empty", got.CouponIDs)
	}
}

func TestTransactionEventsAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := New()

	txn := &transaction.Transaction{
		ID:             id.NewTransactionID(),
		SubscriptionID: id.NewSubscriptionID(),
		Type:           transaction.TypePayment,
		Amount:         types.USD(8000),
		State:          transaction.StatePending,
	}
	txn.Entity = types.NewEntityAt(time.Now().Add(-time.Hour))
	initial := &transaction.Event{
		ID: id.NewEventID(), TransactionID: txn.ID,
		Type: transaction.EventCreated, Timestamp: time.Now(),
	}
	if err := s.CreateTransaction(ctx, txn, initial); err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}

	captured := &transaction.Event{
		ID: id.NewEventID(), TransactionID: txn.ID,
		Type: transaction.EventCaptured, Timestamp: time.Now(),
	}
	if err := s.AppendTransactionEvent(ctx, captured, transaction.StateCompleted); err != nil {
		t.Fatalf("AppendTransactionEvent: %v", err)
	}

	got, _ := s.GetTransaction(ctx, txn.ID)
	if got.State != transaction.StateCompleted {
		t.Fatalf("state = %s, want completed", got.State)
	}
	events, err := s.ListTransactionEvents(ctx, txn.ID)
	if err != nil || len(events) != 2 {
		t.Fatalf("events = %d, %v; want 2", len(events), err)
	}
	if events[0].Type != transaction.EventCreated || events[1].Type != transaction.EventCaptured {
		t.Fatalf("event order = %s, %s", events[0].Type, events[1].Type)
	}
}

func TestListStalePendingTransactions(t *testing.T) {
	ctx := context.Background()
	s := New()
	subID := id.NewSubscriptionID()

	stale := &transaction.Transaction{
		ID: id.NewTransactionID(), SubscriptionID: subID,
		Type: transaction.TypePayment, Amount: types.USD(100), State: transaction.StatePending,
	}
	stale.Entity = types.NewEntityAt(time.Now().Add(-2 * time.Hour))

	fresh := &transaction.Transaction{
		ID: id.NewTransactionID(), SubscriptionID: subID,
		Type: transaction.TypePayment, Amount: types.USD(200), State: transaction.StatePending,
	}
	fresh.Entity = types.NewEntityAt(time.Now())

	done := &transaction.Transaction{
		ID: id.NewTransactionID(), SubscriptionID: subID,
		Type: transaction.TypePayment, Amount: types.USD(300), State: transaction.StateCompleted,
	}
	done.Entity = types.NewEntityAt(time.Now().Add(-2 * time.Hour))

	for _, txn := range []*transaction.Transaction{stale, fresh, done} {
		if err := s.CreateTransaction(ctx, txn, nil); err != nil {
			t.Fatalf("CreateTransaction: %v", err)
		}
	}

	got, err := s.ListStalePendingTransactions(ctx, time.Now().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("ListStalePendingTransactions: %v", err)
	}
	if len(got) != 1 || got[0].ID != stale.ID {
		t.Fatalf("stale list = %v, want only %s", got, stale.ID)
	}
}

func TestListTransactionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	subID := id.NewSubscriptionID()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	const count = 12
	txns := make([]*transaction.Transaction, count)
	for i := range txns {
		txn := &transaction.Transaction{
			ID: id.NewTransactionID(), SubscriptionID: subID,
			Type: transaction.TypePayment, Amount: types.USD(int64(100 * (i + 1))),
			State: transaction.StateCompleted,
		}
		txn.Entity = types.NewEntityAt(base.Add(time.Duration(i) * time.Minute))
		txns[i] = txn
	}
	// Insert out of creation order; the listing must not depend on it.
	for i := range txns {
		if err := s.CreateTransaction(ctx, txns[(i*5)%count], nil); err != nil {
			t.Fatalf("CreateTransaction: %v", err)
		}
	}

	got, err := s.ListTransactions(ctx, subID, transaction.ListOpts{})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(got) != count {
		t.Fatalf("len = %d, want %d", len(got), count)
	}
	for i, txn := range got {
		if want := txns[count-1-i]; txn.ID != want.ID {
			t.Fatalf("position %d = %s (%s), want %s", i, txn.ID, txn.CreatedAt, want.ID)
		}
	}

	// Pagination walks the same order without gaps or repeats.
	var pages []*transaction.Transaction
	for offset := 0; offset < count; offset += 5 {
		page, err := s.ListTransactions(ctx, subID, transaction.ListOpts{Offset: offset, Limit: 5})
		if err != nil {
			t.Fatalf("ListTransactions page at %d: %v", offset, err)
		}
		pages = append(pages, page...)
	}
	if len(pages) != count {
		t.Fatalf("paged total = %d, want %d", len(pages), count)
	}
	for i := range pages {
		if pages[i].ID != got[i].ID {
			t.Fatalf("paged position %d = %s, want %s", i, pages[i].ID, got[i].ID)
		}
	}
}

func TestListLapsedSubscriptions(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	mk := func(status subscription.Status, periodEnd time.Time) *subscription.Subscription {
		sub := &subscription.Subscription{
			ID: id.NewSubscriptionID(), UserID: id.NewUserID(), PlanID: id.NewPlanID(),
			Status:           status,
			CurrentPeriodEnd: periodEnd,
		}
		sub.Entity = types.NewEntityAt(periodEnd.AddDate(0, -1, 0))
		if err := s.CreateSubscription(ctx, sub); err != nil {
			t.Fatalf("CreateSubscription: %v", err)
		}
		return sub
	}

	longLapsed := mk(subscription.StatusTrialing, now.Add(-72*time.Hour))
	lapsed := mk(subscription.StatusActive, now.Add(-48*time.Hour))
	mk(subscription.StatusActive, now.Add(24*time.Hour))   // current
	mk(subscription.StatusPastDue, now.Add(-48*time.Hour)) // dunning owns it
	mk(subscription.StatusCanceled, now.Add(-48*time.Hour))

	got, err := s.ListLapsedSubscriptions(ctx, now.Add(-24*time.Hour), 10)
	if err != nil {
		t.Fatalf("ListLapsedSubscriptions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != longLapsed.ID || got[1].ID != lapsed.ID {
		t.Fatalf("order = %s, %s; want longest lapsed first", got[0].ID, got[1].ID)
	}
}
