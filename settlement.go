package subledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/subledger/coupon"
	"github.com/xraph/subledger/id"
	"github.com/xraph/subledger/payment"
	"github.com/xraph/subledger/plan"
	"github.com/xraph/subledger/subscription"
	"github.com/xraph/subledger/transaction"
	"github.com/xraph/subledger/types"
)

// eventDispatched marks the moment a pending transaction was handed to the
// payment backend. It is not part of the core event set: the state
// projection ignores it, but CancelTransaction refuses to cancel once it
// appears, because from that point the backend may have settled.
const eventDispatched transaction.EventType = "dispatched"

// ──────────────────────────────────────────────────
// Pricing
// ──────────────────────────────────────────────────

// price computes a charge amount. The base is the plan price, or the
// stored prorated amount for a plan-change transaction. Coupons apply in
// their fixed stacking order; the result never goes below zero.
func (l *Ledger) price(sub *subscription.Subscription, p *plan.Plan, coupons []*coupon.Coupon, kind transaction.Type) (types.Money, []*coupon.Coupon, error) {
	var base types.Money

	switch kind {
	case transaction.TypeProration:
		if sub.ProratedAmount == nil {
			return types.Money{}, nil, fmt.Errorf("%w: no prorated amount on subscription %s", ErrPricingFailed, sub.ID)
		}
		base = *sub.ProratedAmount
	default:
		if p == nil {
			return types.Money{}, nil, fmt.Errorf("%w: no plan for subscription %s", ErrPricingFailed, sub.ID)
		}
		base = p.Price
	}

	amount, applied, err := coupon.ApplyAll(base, coupons, l.now(), l.strictCoupons)
	if err != nil {
		return types.Money{}, nil, err
	}

	if amount.IsNegative() {
		amount = types.Zero(amount.Currency)
	}
	return amount, applied, nil
}

// loadCoupons resolves the coupons attached to a subscription. A dangling
// reference is skipped unless strict mode is on.
func (l *Ledger) loadCoupons(ctx context.Context, couponIDs []id.CouponID) ([]*coupon.Coupon, error) {
	out := make([]*coupon.Coupon, 0, len(couponIDs))
	for _, cid := range couponIDs {
		c, err := l.store.GetCouponByID(ctx, cid)
		if err != nil {
			if IsNotFound(err) && !l.strictCoupons {
				continue
			}
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// redeemCoupons counts a redemption against every limited coupon in
// applied. A CAS failure releases what was already taken and aborts, even
// in non-strict mode: the price already includes the coupon's discount, so
// the caller must re-price rather than silently pay more of the limit.
func (l *Ledger) redeemCoupons(ctx context.Context, applied []*coupon.Coupon) ([]id.CouponID, error) {
	redeemed := make([]id.CouponID, 0, len(applied))
	for _, c := range applied {
		if !c.Limited() {
			continue
		}
		if err := l.store.RedeemCoupon(ctx, c.ID); err != nil {
			l.releaseCoupons(ctx, redeemed)
			return nil, err
		}
		redeemed = append(redeemed, c.ID)
	}
	return redeemed, nil
}

func (l *Ledger) releaseCoupons(ctx context.Context, couponIDs []id.CouponID) {
	for _, cid := range couponIDs {
		if err := l.store.ReleaseCoupon(ctx, cid); err != nil {
			l.logger.Error("failed to release coupon redemption",
				"coupon_id", cid.String(),
				"error", err,
			)
		}
	}
}

// ──────────────────────────────────────────────────
// Transaction pipeline
// ──────────────────────────────────────────────────

// appendEvent appends one event to a transaction's history and stores the
// state projected from the full sequence. The projection, not the caller,
// decides the new state.
func (l *Ledger) appendEvent(ctx context.Context, t *transaction.Transaction, typ transaction.EventType, code string) error {
	if !transaction.Replayable(t.State, typ) {
		return fmt.Errorf("%w: %s after %s", ErrEventOutOfOrder, typ, t.State)
	}

	ev := &transaction.Event{
		ID:            id.NewEventID(),
		TransactionID: t.ID,
		Type:          typ,
		Timestamp:     l.now(),
		Code:          code,
	}

	events, err := l.store.ListTransactionEvents(ctx, t.ID)
	if err != nil {
		return err
	}
	next := transaction.ProjectState(append(events, ev))

	if err := l.store.AppendTransactionEvent(ctx, ev, next); err != nil {
		return err
	}

	t.State = next
	l.plugins.EmitEventRecorded(ctx, ev)
	return nil
}

// createPending redeems the applied coupons and writes the transaction in
// pending with its created event. If the write fails, the redemptions are
// released so the usage count stays honest.
func (l *Ledger) createPending(ctx context.Context, sub *subscription.Subscription, kind transaction.Type, amount types.Money, applied []*coupon.Coupon, refundedFrom id.TransactionID) (*transaction.Transaction, error) {
	redeemed, err := l.redeemCoupons(ctx, applied)
	if err != nil {
		return nil, err
	}

	now := l.now()
	t := &transaction.Transaction{
		Entity:         types.NewEntityAt(now),
		ID:             id.NewTransactionID(),
		SubscriptionID: sub.ID,
		Type:           kind,
		Amount:         amount,
		State:          transaction.StatePending,
		RefundedFrom:   refundedFrom,
	}
	for _, c := range applied {
		t.CouponIDs = append(t.CouponIDs, c.ID)
	}

	created := &transaction.Event{
		ID:            id.NewEventID(),
		TransactionID: t.ID,
		Type:          transaction.EventCreated,
		Timestamp:     now,
	}

	if err := l.store.CreateTransaction(ctx, t, created); err != nil {
		l.releaseCoupons(ctx, redeemed)
		return nil, err
	}

	l.plugins.EmitTransactionCreated(ctx, t)
	l.plugins.EmitEventRecorded(ctx, created)
	for _, c := range applied {
		l.plugins.EmitCouponRedeemed(ctx, c, sub)
	}
	return t, nil
}

// dispatchCharge sends a pending charge to the backend and applies the
// outcome to the event history.
//
// A zero amount settles locally without touching the backend. A backend
// error or timeout leaves the transaction pending: the outcome is unknown
// and is assumed charged until ReconcileTransaction resolves it with the
// same idempotency key.
func (l *Ledger) dispatchCharge(ctx context.Context, t *transaction.Transaction, methodToken string) error {
	if !t.Amount.IsPositive() {
		if err := l.appendEvent(ctx, t, transaction.EventCaptured, ""); err != nil {
			return err
		}
		l.plugins.EmitTransactionCompleted(ctx, t)
		return nil
	}

	if err := l.appendEvent(ctx, t, eventDispatched, ""); err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, l.backendTimeout)
	defer cancel()

	res, err := l.backend.Charge(cctx, payment.ChargeRequest{
		Amount:         t.Amount,
		MethodToken:    methodToken,
		IdempotencyKey: t.IdempotencyKey(),
		Metadata:       t.Metadata,
	})
	if err != nil {
		l.logger.Warn("charge outcome unknown, leaving transaction pending",
			"transaction_id", t.ID.String(),
			"error", err,
		)
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrNeedsReconciliation, err)
	}

	return l.applyChargeResult(ctx, t, res)
}

func (l *Ledger) applyChargeResult(ctx context.Context, t *transaction.Transaction, res *payment.ChargeResult) error {
	if !res.Approved {
		if err := l.appendEvent(ctx, t, transaction.EventFailed, res.Code); err != nil {
			return err
		}
		l.plugins.EmitTransactionFailed(ctx, t, res.Code)
		return nil
	}

	if err := l.store.SetTransactionBackendRef(ctx, t.ID, res.BackendRef); err != nil {
		return err
	}
	t.BackendRef = res.BackendRef

	if err := l.appendEvent(ctx, t, transaction.EventAuthorized, ""); err != nil {
		return err
	}
	if err := l.appendEvent(ctx, t, transaction.EventCaptured, ""); err != nil {
		return err
	}

	l.plugins.EmitTransactionCompleted(ctx, t)
	return nil
}

// chargeToken returns the token to charge for a subscription's user.
func (l *Ledger) chargeToken(ctx context.Context, userID id.UserID) (string, error) {
	m, err := l.store.GetDefaultPaymentMethod(ctx, userID)
	if err != nil {
		if IsNotFound(err) {
			return "", ErrNoPaymentMethod
		}
		return "", err
	}
	if !m.Usable() {
		return "", fmt.Errorf("%w: method %s", ErrNoPaymentMethod, m.ID)
	}
	return m.Token, nil
}

// ──────────────────────────────────────────────────
// Renewal
// ──────────────────────────────────────────────────

// ChargeRenewal charges the subscription's plan price for the next period.
//
// A decline is a result, not an error: the returned transaction is in
// state failed, the subscription moves to past_due, and past the retry
// policy it expires. On success the period advances and a past_due or
// trialing subscription returns to active. A timeout returns the pending
// transaction together with ErrBackendTimeout.
func (l *Ledger) ChargeRenewal(ctx context.Context, subID id.SubscriptionID) (*transaction.Transaction, error) {
	if l.backend == nil {
		return nil, ErrBackendNotConfigured
	}

	unlock, err := l.lockSubscription(subID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sub, err := l.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	if sub.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionTerminal, sub.Status)
	}

	p, err := l.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	coupons, err := l.loadCoupons(ctx, sub.CouponIDs)
	if err != nil {
		return nil, err
	}

	amount, applied, err := l.price(sub, p, coupons, transaction.TypePayment)
	if err != nil {
		return nil, err
	}

	token, err := l.chargeToken(ctx, sub.UserID)
	if err != nil {
		return nil, err
	}

	t, err := l.createPending(ctx, sub, transaction.TypePayment, amount, applied, id.Nil)
	if err != nil {
		return nil, err
	}

	if err := l.dispatchCharge(ctx, t, token); err != nil {
		return t, err
	}

	switch t.State {
	case transaction.StateCompleted:
		l.advancePeriod(ctx, sub, p)
	case transaction.StateFailed:
		l.recordRenewalFailure(ctx, sub)
	}

	return t, nil
}

// advancePeriod rolls the subscription into its next billing period after
// a successful charge and clears any dunning state.
func (l *Ledger) advancePeriod(ctx context.Context, sub *subscription.Subscription, p *plan.Plan) {
	now := l.now()
	recovered := sub.Status == subscription.StatusPastDue

	sub.CurrentPeriodStart = sub.CurrentPeriodEnd
	sub.CurrentPeriodEnd = sub.CurrentPeriodEnd.AddDate(0, p.Interval.Months(), 0)
	sub.FailedAttempts = 0
	sub.FirstFailureAt = nil

	if sub.Status != subscription.StatusActive && subscription.CanTransition(sub.Status, subscription.StatusActive) {
		sub.Status = subscription.StatusActive
	}
	sub.TouchAt(now)

	if err := l.store.UpdateSubscription(ctx, sub); err != nil {
		l.logger.Error("failed to advance subscription period",
			"subscription_id", sub.ID.String(),
			"error", err,
		)
		return
	}

	if recovered {
		l.plugins.EmitSubscriptionRecovered(ctx, sub)
	}
}

// recordRenewalFailure counts a declined renewal, moves the subscription
// into dunning, and expires it once the retry policy is exhausted.
func (l *Ledger) recordRenewalFailure(ctx context.Context, sub *subscription.Subscription) {
	now := l.now()

	sub.FailedAttempts++
	if sub.FirstFailureAt == nil {
		sub.FirstFailureAt = &now
	}

	if sub.Status == subscription.StatusActive {
		sub.Status = subscription.StatusPastDue
	}

	expired := false
	if l.retryPolicy.Exhausted(sub, now) && subscription.CanTransition(sub.Status, subscription.StatusExpired) {
		sub.Status = subscription.StatusExpired
		sub.EndedAt = &now
		expired = true
	}
	sub.TouchAt(now)

	if err := l.store.UpdateSubscription(ctx, sub); err != nil {
		l.logger.Error("failed to record renewal failure",
			"subscription_id", sub.ID.String(),
			"error", err,
		)
		return
	}

	if expired {
		l.plugins.EmitSubscriptionExpired(ctx, sub)
	} else if sub.Status == subscription.StatusPastDue {
		l.plugins.EmitSubscriptionPastDue(ctx, sub, sub.FailedAttempts)
	}
}

// ──────────────────────────────────────────────────
// Plan change
// ──────────────────────────────────────────────────

// ChangePlan moves a subscription to a different plan mid-period and
// charges the prorated price difference for the remainder of the period.
// The next renewal charges the new plan's full price. Downgrades floor the
// change charge at zero; no credit is issued.
func (l *Ledger) ChangePlan(ctx context.Context, subID id.SubscriptionID, newPlanID id.PlanID) (*transaction.Transaction, error) {
	if l.backend == nil {
		return nil, ErrBackendNotConfigured
	}

	unlock, err := l.lockSubscription(subID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sub, err := l.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	if sub.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionTerminal, sub.Status)
	}
	if sub.PlanID == newPlanID {
		return nil, ErrSamePlan
	}

	oldPlan, err := l.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	newPlan, err := l.GetPlan(ctx, newPlanID)
	if err != nil {
		return nil, err
	}
	if !newPlan.IsActive() {
		return nil, fmt.Errorf("%w: %s", ErrPlanArchived, newPlan.Slug)
	}
	if oldPlan.Price.Currency != newPlan.Price.Currency {
		return nil, fmt.Errorf("%w: currency change %s -> %s", ErrPricingFailed, oldPlan.Price.Currency, newPlan.Price.Currency)
	}

	now := l.now()
	prorated := subscription.Prorate(oldPlan.Price, newPlan.Price, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, now)

	coupons, err := l.loadCoupons(ctx, sub.CouponIDs)
	if err != nil {
		return nil, err
	}

	sub.PlanID = newPlanID
	sub.ProratedAmount = &prorated
	amount, applied, err := l.price(sub, newPlan, coupons, transaction.TypeProration)
	if err != nil {
		return nil, err
	}

	token, err := l.chargeToken(ctx, sub.UserID)
	if err != nil {
		return nil, err
	}

	// The plan switch is persisted only once pricing and the payment
	// method check have passed: an aborted change leaves the subscription
	// on its old plan.
	sub.TouchAt(now)
	if err := l.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	// The prorated amount is consumed exactly once.
	sub.ProratedAmount = nil
	sub.TouchAt(l.now())
	if err := l.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	t, err := l.createPending(ctx, sub, transaction.TypeProration, amount, applied, id.Nil)
	if err != nil {
		return nil, err
	}

	dispatchErr := l.dispatchCharge(ctx, t, token)

	l.plugins.EmitPlanChanged(ctx, sub, oldPlan, newPlan)
	return t, dispatchErr
}

// ──────────────────────────────────────────────────
// Refunds
// ──────────────────────────────────────────────────

// RefundTransaction issues a refund against a completed charge. The
// original transaction is never modified: the refund is a new transaction
// with a negative amount linked via RefundedFrom. The refunded total
// across all refunds of a charge can never exceed the charge.
func (l *Ledger) RefundTransaction(ctx context.Context, txnID id.TransactionID, amount types.Money) (*transaction.Transaction, error) {
	if l.backend == nil {
		return nil, ErrBackendNotConfigured
	}

	original, err := l.store.GetTransaction(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if original.State != transaction.StateCompleted || original.Type == transaction.TypeRefund {
		return nil, fmt.Errorf("%w: %s is %s", ErrRefundNotCompleted, original.ID, original.State)
	}

	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: refund amount %s", ErrInvalidAmount, amount)
	}
	if amount.Currency != original.Amount.Currency {
		return nil, fmt.Errorf("%w: currency %s against charge in %s", ErrInvalidAmount, amount.Currency, original.Amount.Currency)
	}

	unlock, err := l.lockSubscription(original.SubscriptionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	refunded, err := l.refundedTotal(ctx, original)
	if err != nil {
		return nil, err
	}
	if refunded.Add(amount).GreaterThan(original.Amount) {
		return nil, fmt.Errorf("%w: %s + %s exceeds %s", ErrRefundExceedsCharge, refunded, amount, original.Amount)
	}

	sub, err := l.store.GetSubscription(ctx, original.SubscriptionID)
	if err != nil {
		return nil, err
	}

	t, err := l.createPending(ctx, sub, transaction.TypeRefund, amount.Negate(), nil, original.ID)
	if err != nil {
		return nil, err
	}

	if err := l.dispatchRefund(ctx, t, original); err != nil {
		return t, err
	}

	if t.State == transaction.StateCompleted {
		l.annotateRefunded(ctx, t, original)
		l.plugins.EmitRefundIssued(ctx, t, original)
	}

	return t, nil
}

// annotateRefunded records the refunded marker on the original charge once
// a refund settles. The refund itself is already final; a failed annotation
// only loses the cross-reference, so it is logged and not propagated.
func (l *Ledger) annotateRefunded(ctx context.Context, t, original *transaction.Transaction) {
	if err := l.appendEvent(ctx, original, transaction.EventRefunded, t.ID.String()); err != nil {
		l.logger.Error("failed to annotate refunded charge",
			"transaction_id", original.ID.String(),
			"error", err,
		)
	}
}

// refundedTotal sums prior refunds against a charge, counting pending
// refunds too: an in-flight refund may still settle.
func (l *Ledger) refundedTotal(ctx context.Context, original *transaction.Transaction) (types.Money, error) {
	all, err := l.store.ListTransactions(ctx, original.SubscriptionID, transaction.ListOpts{Type: transaction.TypeRefund})
	if err != nil {
		return types.Money{}, err
	}

	total := types.Zero(original.Amount.Currency)
	for _, t := range all {
		if t.RefundedFrom != original.ID {
			continue
		}
		if t.State == transaction.StateFailed || t.State == transaction.StateCanceled {
			continue
		}
		total = total.Add(t.Amount.Abs())
	}
	return total, nil
}

func (l *Ledger) dispatchRefund(ctx context.Context, t *transaction.Transaction, original *transaction.Transaction) error {
	if err := l.appendEvent(ctx, t, eventDispatched, ""); err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, l.backendTimeout)
	defer cancel()

	res, err := l.backend.Refund(cctx, payment.RefundRequest{
		BackendRef:     original.BackendRef,
		Amount:         t.Amount.Abs(),
		IdempotencyKey: t.IdempotencyKey(),
	})
	if err != nil {
		l.logger.Warn("refund outcome unknown, leaving transaction pending",
			"transaction_id", t.ID.String(),
			"error", err,
		)
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrNeedsReconciliation, err)
	}

	return l.applyChargeResult(ctx, t, &payment.ChargeResult{
		Approved:   res.Approved,
		BackendRef: res.BackendRef,
		Code:       res.Code,
	})
}

// ──────────────────────────────────────────────────
// Cancellation and reconciliation
// ──────────────────────────────────────────────────

// CancelTransaction cancels a pending transaction. Cancellation is only
// possible before backend dispatch; after that the outcome may exist
// upstream and must be reconciled, not discarded.
func (l *Ledger) CancelTransaction(ctx context.Context, txnID id.TransactionID) error {
	t, err := l.store.GetTransaction(ctx, txnID)
	if err != nil {
		return err
	}

	unlock, err := l.lockSubscription(t.SubscriptionID)
	if err != nil {
		return err
	}
	defer unlock()

	switch t.State {
	case transaction.StateCompleted:
		return fmt.Errorf("%w: %s", ErrTransactionSettled, t.ID)
	case transaction.StateFailed, transaction.StateCanceled:
		return fmt.Errorf("%w: %s is %s", ErrTransactionTerminal, t.ID, t.State)
	}

	events, err := l.store.ListTransactionEvents(ctx, t.ID)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if ev.Type == eventDispatched {
			return fmt.Errorf("%w: %s", ErrCancelAfterDispatch, t.ID)
		}
	}

	if err := l.appendEvent(ctx, t, transaction.EventCanceled, ""); err != nil {
		return err
	}

	l.releaseCoupons(ctx, t.CouponIDs)
	l.plugins.EmitTransactionCanceled(ctx, t)
	return nil
}

// ReconcileTransaction resolves a transaction stuck in pending by retrying
// the backend with the original idempotency key. The backend returns the
// recorded outcome if the lost call actually settled, so the charge can
// never be applied twice. Already-resolved transactions return as-is.
func (l *Ledger) ReconcileTransaction(ctx context.Context, txnID id.TransactionID) (*transaction.Transaction, error) {
	if l.backend == nil {
		return nil, ErrBackendNotConfigured
	}

	t, err := l.store.GetTransaction(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if t.State != transaction.StatePending {
		return t, nil
	}

	unlock, err := l.lockSubscription(t.SubscriptionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sub, err := l.store.GetSubscription(ctx, t.SubscriptionID)
	if err != nil {
		return nil, err
	}

	if t.Type == transaction.TypeRefund {
		original, err := l.store.GetTransaction(ctx, t.RefundedFrom)
		if err != nil {
			return nil, err
		}
		if err := l.dispatchRefund(ctx, t, original); err != nil {
			return t, err
		}
		if t.State == transaction.StateCompleted {
			l.annotateRefunded(ctx, t, original)
			l.plugins.EmitRefundIssued(ctx, t, original)
		}
		return t, nil
	}

	token, err := l.chargeToken(ctx, sub.UserID)
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, l.backendTimeout)
	defer cancel()

	res, err := l.backend.Charge(cctx, payment.ChargeRequest{
		Amount:         t.Amount,
		MethodToken:    token,
		IdempotencyKey: t.IdempotencyKey(),
		Metadata:       t.Metadata,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return t, fmt.Errorf("%w: %v", ErrBackendTimeout, err)
		}
		return t, fmt.Errorf("%w: %v", ErrNeedsReconciliation, err)
	}

	if err := l.applyChargeResult(ctx, t, res); err != nil {
		return t, err
	}

	if t.State == transaction.StateCompleted && t.Type == transaction.TypePayment {
		if p, perr := l.GetPlan(ctx, sub.PlanID); perr == nil {
			l.advancePeriod(ctx, sub, p)
		}
	}

	return t, nil
}

// ──────────────────────────────────────────────────
// History
// ──────────────────────────────────────────────────

// GetTransaction retrieves a transaction by ID.
func (l *Ledger) GetTransaction(ctx context.Context, txnID id.TransactionID) (*transaction.Transaction, error) {
	return l.store.GetTransaction(ctx, txnID)
}

// ListTransactions lists a subscription's transactions.
func (l *Ledger) ListTransactions(ctx context.Context, subID id.SubscriptionID, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	return l.store.ListTransactions(ctx, subID, opts)
}

// GetTransactionEvents returns a transaction's full append-only event
// sequence in timestamp order.
func (l *Ledger) GetTransactionEvents(ctx context.Context, txnID id.TransactionID) ([]*transaction.Event, error) {
	if _, err := l.store.GetTransaction(ctx, txnID); err != nil {
		return nil, err
	}
	return l.store.ListTransactionEvents(ctx, txnID)
}

// GetSubscriptionHistory returns every transaction recorded against a
// subscription, newest first, each paired with its event sequence.
func (l *Ledger) GetSubscriptionHistory(ctx context.Context, subID id.SubscriptionID) ([]transaction.History, error) {
	if _, err := l.store.GetSubscription(ctx, subID); err != nil {
		return nil, err
	}

	txns, err := l.store.ListTransactions(ctx, subID, transaction.ListOpts{})
	if err != nil {
		return nil, err
	}

	history := make([]transaction.History, 0, len(txns))
	for _, t := range txns {
		events, err := l.store.ListTransactionEvents(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		history = append(history, transaction.History{Transaction: t, Events: events})
	}
	return history, nil
}
