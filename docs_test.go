package subledger_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	subledger "github.com/xraph/subledger"
	"github.com/xraph/subledger/account"
	"github.com/xraph/subledger/payment/paymenttest"
	"github.com/xraph/subledger/plan"
	"github.com/xraph/subledger/store/memory"
	"github.com/xraph/subledger/subscription"
	"github.com/xraph/subledger/transaction"
	"github.com/xraph/subledger/types"
)

// TestQuickStart walks the package-doc flow end to end: a plan, a user with a
// stored card, a subscription, and a first renewal charge.
func TestQuickStart(t *testing.T) {
	ctx := context.Background()

	backend := paymenttest.New()
	engine := subledger.New(memory.New(),
		subledger.WithBackend(backend),
		subledger.WithLogger(slog.Default()),
	)

	if err := engine.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer engine.Stop() //nolint:errcheck

	var (
		pro *plan.Plan
		usr *account.User
		sub *subscription.Subscription
	)

	t.Run("create plan", func(t *testing.T) {
		pro = &plan.Plan{
			Name:     "Pro",
			Slug:     "pro",
			Price:    types.USD(4900),
			Interval: plan.IntervalMonthly,
		}
		if err := engine.CreatePlan(ctx, pro); err != nil {
			t.Fatalf("create plan: %v", err)
		}
		if pro.Version != 1 {
			t.Errorf("version = %d, want 1", pro.Version)
		}
	})

	t.Run("create user with card", func(t *testing.T) {
		usr = &account.User{ExternalRef: "acct_42", Email: "dev@example.com"}
		if err := engine.CreateUser(ctx, usr); err != nil {
			t.Fatalf("create user: %v", err)
		}

		method := &account.PaymentMethod{
			UserID:  usr.ID,
			Type:    account.MethodCreditCard,
			Token:   "tok_visa",
			Valid:   true,
			Default: true,
		}
		if err := engine.AddPaymentMethod(ctx, method); err != nil {
			t.Fatalf("add payment method: %v", err)
		}
	})

	t.Run("subscribe", func(t *testing.T) {
		var err error
		sub, err = engine.CreateSubscription(ctx, usr.ID, pro.ID)
		if err != nil {
			t.Fatalf("create subscription: %v", err)
		}
		if sub.Status != subscription.StatusActive {
			t.Errorf("status = %s, want active", sub.Status)
		}
		if got := len(backend.Calls()); got != 0 {
			t.Errorf("subscribing made %d backend calls, want 0", got)
		}
	})

	t.Run("charge first renewal", func(t *testing.T) {
		txn, err := engine.ChargeRenewal(ctx, sub.ID)
		if err != nil {
			t.Fatalf("charge renewal: %v", err)
		}
		if txn.State != transaction.StateCompleted {
			t.Fatalf("state = %s, want completed", txn.State)
		}
		if !txn.Amount.Equal(types.USD(4900)) {
			t.Errorf("amount = %s, want $49.00", txn.Amount)
		}

		sub, err = engine.GetSubscription(ctx, sub.ID)
		if err != nil {
			t.Fatalf("get subscription: %v", err)
		}
		if !sub.CurrentPeriodEnd.After(time.Now().AddDate(0, 1, -1)) {
			t.Errorf("period end %s did not advance", sub.CurrentPeriodEnd)
		}
	})
}
