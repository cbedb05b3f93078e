package subledger

import (
	"errors"
	"fmt"

	"github.com/xraph/subledger/coupon"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("subledger: not found")
	ErrAlreadyExists = errors.New("subledger: already exists")
	ErrInvalidInput  = errors.New("subledger: invalid input")
	ErrInvalidAmount = errors.New("subledger: invalid amount")

	// User / payment method errors
	ErrUserNotFound          = errors.New("subledger: user not found")
	ErrPaymentMethodNotFound = errors.New("subledger: payment method not found")
	ErrPaymentMethodInvalid  = errors.New("subledger: payment method is not valid")

	// Plan errors
	ErrPlanNotFound = errors.New("subledger: plan not found")
	ErrPlanArchived = errors.New("subledger: plan is archived")
	ErrPlanInUse    = errors.New("subledger: plan is in use by subscriptions")

	// Coupon errors. The validation sentinels live in the coupon package
	// (its engine cannot import this one); they are re-exported here so
	// callers can errors.Is against either name.
	ErrCouponNotFound   = errors.New("subledger: coupon not found")
	ErrCouponInvalid    = coupon.ErrInvalid
	ErrCouponExpired    = coupon.ErrExpired
	ErrCouponNotStarted = coupon.ErrNotStarted
	ErrCouponExhausted  = coupon.ErrExhausted

	// Subscription errors
	ErrSubscriptionNotFound = errors.New("subledger: subscription not found")
	ErrSubscriptionTerminal = errors.New("subledger: subscription is terminal")
	ErrInvalidTransition    = errors.New("subledger: invalid status transition")
	ErrSamePlan             = errors.New("subledger: subscription already on plan")

	// Pricing errors
	ErrPricingFailed = errors.New("subledger: pricing failed")

	// Transaction errors
	ErrTransactionNotFound  = errors.New("subledger: transaction not found")
	ErrTransactionTerminal  = errors.New("subledger: transaction is terminal")
	ErrTransactionSettled   = errors.New("subledger: transaction already settled")
	ErrRefundExceedsCharge  = errors.New("subledger: refund exceeds original charge")
	ErrRefundNotCompleted   = errors.New("subledger: refund target is not a completed charge")
	ErrAmountImmutable      = errors.New("subledger: transaction amount is write-once")
	ErrEventOutOfOrder      = errors.New("subledger: transaction event out of order")
	ErrCancelAfterDispatch  = errors.New("subledger: transaction already dispatched to backend")
	ErrNeedsReconciliation  = errors.New("subledger: transaction pending reconciliation")
	ErrNoPaymentMethod      = errors.New("subledger: no usable payment method")
	ErrBackendNotConfigured = errors.New("subledger: payment backend not configured")

	// Backend errors
	ErrBackendFailure = errors.New("subledger: payment backend failure")
	ErrBackendTimeout = errors.New("subledger: payment backend timeout")

	// Concurrency errors
	ErrConcurrencyConflict = errors.New("subledger: concurrent operation on subscription")

	// Store errors
	ErrCacheMiss         = errors.New("subledger: cache miss")
	ErrStoreNotReady     = errors.New("subledger: store not ready")
	ErrStoreClosed       = errors.New("subledger: store is closed")
	ErrTransactionFailed = errors.New("subledger: store transaction failed")
	ErrMigrationFailed   = errors.New("subledger: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("subledger: validation failed for %s: %s", e.Field, e.Message)
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrPaymentMethodNotFound) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrCouponNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}

// IsCouponError returns true if the error is a coupon validation failure.
// In non-strict mode the pricer treats these as a skip, not an abort.
func IsCouponError(err error) bool {
	return errors.Is(err, ErrCouponInvalid) ||
		errors.Is(err, ErrCouponExpired) ||
		errors.Is(err, ErrCouponNotStarted) ||
		errors.Is(err, ErrCouponExhausted)
}

// IsValidation returns true for errors that are recovered locally: the
// caller is told the specific reason and no transaction is created.
func IsValidation(err error) bool {
	var verr ValidationError
	return errors.As(err, &verr) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidAmount) ||
		IsNotFound(err) ||
		IsCouponError(err)
}

// IsRetryable returns true if the error is temporary and the operation can
// be retried by the caller. The ledger itself never retries financial side
// effects; ErrConcurrencyConflict in particular is a caller-retries-with-
// backoff signal.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) ||
		errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, ErrTransactionFailed)
}

// NeedsReconciliation returns true if the error indicates an ambiguous
// backend outcome: the transaction was left pending and must be resolved
// by an idempotent retry, never by a fresh charge.
func NeedsReconciliation(err error) bool {
	return errors.Is(err, ErrBackendTimeout) ||
		errors.Is(err, ErrNeedsReconciliation)
}
