package audithook

// Action constants for audit events.
const (
	// Plan actions
	ActionPlanCreated   = "plan.created"
	ActionPlanVersioned = "plan.versioned"
	ActionPlanArchived  = "plan.archived"

	// Subscription actions
	ActionSubscriptionCreated   = "subscription.created"
	ActionSubscriptionChanged   = "subscription.plan_changed"
	ActionSubscriptionCanceled  = "subscription.canceled"
	ActionSubscriptionExpired   = "subscription.expired"
	ActionSubscriptionPastDue   = "subscription.past_due"
	ActionSubscriptionRecovered = "subscription.recovered"

	// Coupon actions
	ActionCouponCreated  = "coupon.created"
	ActionCouponRedeemed = "coupon.redeemed"

	// Transaction actions
	ActionTransactionCreated   = "transaction.created"
	ActionTransactionCompleted = "transaction.completed"
	ActionTransactionFailed    = "transaction.failed"
	ActionTransactionCanceled  = "transaction.canceled"
	ActionRefundIssued         = "transaction.refunded"
	ActionReconcileNeeded      = "transaction.reconcile_needed"
)

// Resource constants for audit events.
const (
	ResourcePlan         = "plan"
	ResourceSubscription = "subscription"
	ResourceCoupon       = "coupon"
	ResourceTransaction  = "transaction"
)

// Category constants for audit events.
const (
	CategoryBilling      = "billing"
	CategorySubscription = "subscription"
	CategoryPayment      = "payment"
	CategoryDiscount     = "discount"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
