package store

import (
	"context"
	"time"

	"github.com/xraph/subledger/account"
	"github.com/xraph/subledger/coupon"
	"github.com/xraph/subledger/id"
	"github.com/xraph/subledger/plan"
	"github.com/xraph/subledger/subscription"
	"github.com/xraph/subledger/transaction"
)

// Store is the unified storage interface for all Subledger entities.
// Instead of embedding the sub-interfaces, we explicitly declare all methods
// to avoid naming conflicts.
type Store interface {
	// User methods
	CreateUser(ctx context.Context, u *account.User) error
	GetUser(ctx context.Context, userID id.UserID) (*account.User, error)
	UpdateUser(ctx context.Context, u *account.User) error

	// Payment method methods
	CreatePaymentMethod(ctx context.Context, m *account.PaymentMethod) error
	GetPaymentMethod(ctx context.Context, methodID id.PaymentMethodID) (*account.PaymentMethod, error)
	GetDefaultPaymentMethod(ctx context.Context, userID id.UserID) (*account.PaymentMethod, error)
	ListPaymentMethods(ctx context.Context, userID id.UserID) ([]*account.PaymentMethod, error)
	UpdatePaymentMethod(ctx context.Context, m *account.PaymentMethod) error

	// Plan methods
	CreatePlan(ctx context.Context, p *plan.Plan) error
	GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error)
	GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error)
	ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error)
	SupersedePlan(ctx context.Context, oldID, newID id.PlanID) error
	ArchivePlan(ctx context.Context, planID id.PlanID) error

	// Plan cache methods
	GetCachedPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error)
	SetCachedPlan(ctx context.Context, p *plan.Plan, ttl time.Duration) error
	InvalidatePlan(ctx context.Context, planID id.PlanID) error

	// Coupon methods
	CreateCoupon(ctx context.Context, c *coupon.Coupon) error
	GetCoupon(ctx context.Context, code string) (*coupon.Coupon, error)
	GetCouponByID(ctx context.Context, couponID id.CouponID) (*coupon.Coupon, error)
	ListCoupons(ctx context.Context, opts coupon.ListOpts) ([]*coupon.Coupon, error)
	DeleteCoupon(ctx context.Context, couponID id.CouponID) error
	RedeemCoupon(ctx context.Context, couponID id.CouponID) error
	ReleaseCoupon(ctx context.Context, couponID id.CouponID) error

	// Subscription methods
	CreateSubscription(ctx context.Context, s *subscription.Subscription) error
	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error)
	GetActiveSubscription(ctx context.Context, userID id.UserID) (*subscription.Subscription, error)
	ListSubscriptions(ctx context.Context, userID id.UserID, opts subscription.ListOpts) ([]*subscription.Subscription, error)
	UpdateSubscription(ctx context.Context, s *subscription.Subscription) error
	CancelSubscription(ctx context.Context, subID id.SubscriptionID, cancelAt time.Time) error
	ListLapsedSubscriptions(ctx context.Context, before time.Time, limit int) ([]*subscription.Subscription, error)
	AttachCoupon(ctx context.Context, subID id.SubscriptionID, couponID id.CouponID) error
	DetachCoupon(ctx context.Context, subID id.SubscriptionID, couponID id.CouponID) error

	// Transaction methods
	CreateTransaction(ctx context.Context, t *transaction.Transaction, initial *transaction.Event) error
	GetTransaction(ctx context.Context, txnID id.TransactionID) (*transaction.Transaction, error)
	ListTransactions(ctx context.Context, subID id.SubscriptionID, opts transaction.ListOpts) ([]*transaction.Transaction, error)
	AppendTransactionEvent(ctx context.Context, e *transaction.Event, newState transaction.State) error
	ListTransactionEvents(ctx context.Context, txnID id.TransactionID) ([]*transaction.Event, error)
	SetTransactionBackendRef(ctx context.Context, txnID id.TransactionID, backendRef string) error
	ListStalePendingTransactions(ctx context.Context, before time.Time, limit int) ([]*transaction.Transaction, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
