package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	subledger "github.com/xraph/subledger"
	"github.com/xraph/subledger/account"
	"github.com/xraph/subledger/coupon"
	"github.com/xraph/subledger/id"
	"github.com/xraph/subledger/plan"
	substore "github.com/xraph/subledger/store"
	"github.com/xraph/subledger/subscription"
	"github.com/xraph/subledger/transaction"
)

// compile-time interface check
var _ substore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("subledger/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("subledger/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== User Store ====================

func (s *Store) CreateUser(ctx context.Context, u *account.User) error {
	m := toUserModel(u)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetUser(ctx context.Context, userID id.UserID) (*account.User, error) {
	m := new(userModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", userID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, subledger.ErrUserNotFound
		}
		return nil, err
	}
	return fromUserModel(m)
}

func (s *Store) UpdateUser(ctx context.Context, u *account.User) error {
	m := toUserModel(u)
	m.UpdatedAt = now()
	res, err := s.pg.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return subledger.ErrUserNotFound
	}
	return nil
}

// ==================== Payment method Store ====================

func (s *Store) CreatePaymentMethod(ctx context.Context, pm *account.PaymentMethod) error {
	if pm.Default {
		if err := s.clearDefaultMethod(ctx, pm.UserID); err != nil {
			return err
		}
	}
	m := toPaymentMethodModel(pm)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetPaymentMethod(ctx context.Context, methodID id.PaymentMethodID) (*account.PaymentMethod, error) {
	m := new(paymentMethodModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", methodID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, subledger.ErrPaymentMethodNotFound
		}
		return nil, err
	}
	return fromPaymentMethodModel(m)
}

func (s *Store) GetDefaultPaymentMethod(ctx context.Context, userID id.UserID) (*account.PaymentMethod, error) {
	m := new(paymentMethodModel)
	err := s.pg.NewSelect(m).
		Where("user_id = $1", userID.String()).
		Where("is_default = TRUE").
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, subledger.ErrPaymentMethodNotFound
		}
		return nil, err
	}
	return fromPaymentMethodModel(m)
}

func (s *Store) ListPaymentMethods(ctx context.Context, userID id.UserID) ([]*account.PaymentMethod, error) {
	var models []paymentMethodModel
	err := s.pg.NewSelect(&models).
		Where("user_id = $1", userID.String()).
		OrderExpr("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*account.PaymentMethod, len(models))
	for i := range models {
		pm, err := fromPaymentMethodModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = pm
	}
	return result, nil
}

func (s *Store) UpdatePaymentMethod(ctx context.Context, pm *account.PaymentMethod) error {
	if pm.Default {
		if err := s.clearDefaultMethod(ctx, pm.UserID); err != nil {
			return err
		}
	}
	m := toPaymentMethodModel(pm)
	m.UpdatedAt = now()
	res, err := s.pg.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return subledger.ErrPaymentMethodNotFound
	}
	return nil
}

// clearDefaultMethod demotes the current default so the partial unique
// index on (user_id) WHERE is_default never sees two rows.
func (s *Store) clearDefaultMethod(ctx context.Context, userID id.UserID) error {
	_, err := s.pg.NewUpdate((*paymentMethodModel)(nil)).
		Set("is_default = FALSE").
		Set("updated_at = $1", now()).
		Where("user_id = $2", userID.String()).
		Where("is_default = TRUE").
		Exec(ctx)
	return err
}

// ==================== Plan Store ====================

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	m := toPlanModel(p)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	m := new(planModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", planID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, subledger.ErrPlanNotFound
		}
		return nil, err
	}
	return fromPlanModel(m)
}

func (s *Store) GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error) {
	m := new(planModel)
	err := s.pg.NewSelect(m).
		Where("slug = $1", slug).
		OrderExpr("version DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, subledger.ErrPlanNotFound
		}
		return nil, err
	}
	return fromPlanModel(m)
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	var models []planModel
	q := s.pg.NewSelect(&models)

	if opts.Status != "" {
		q = q.Where("status = $1", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*plan.Plan, len(models))
	for i := range models {
		p, err := fromPlanModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

func (s *Store) SupersedePlan(ctx context.Context, oldID, newID id.PlanID) error {
	res, err := s.pg.NewUpdate((*planModel)(nil)).
		Set("superseded_by = $1", newID.String()).
		Set("status = $2", string(plan.StatusArchived)).
		Set("updated_at = $3", now()).
		Where("id = $4", oldID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return subledger.ErrPlanNotFound
	}
	return nil
}

func (s *Store) ArchivePlan(ctx context.Context, planID id.PlanID) error {
	res, err := s.pg.NewUpdate((*planModel)(nil)).
		Set("status = $1", string(plan.StatusArchived)).
		Set("updated_at = $2", now()).
		Where("id = $3", planID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return subledger.ErrPlanNotFound
	}
	return nil
}

// ==================== Plan cache Store ====================

func (s *Store) GetCachedPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	m := new(planCacheModel)
	err := s.pg.NewSelect(m).
		Where("plan_id = $1", planID.String()).
		Where("expires_at > $2", now()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, subledger.ErrCacheMiss
		}
		return nil, err
	}
	return fromPlanCacheModel(m)
}

func (s *Store) SetCachedPlan(ctx context.Context, p *plan.Plan, ttl time.Duration) error {
	m := toPlanCacheModel(p, now().Add(ttl))
	_, err := s.pg.NewInsert(m).
		OnConflict("(plan_id) DO UPDATE").
		Set("payload = EXCLUDED.payload").
		Set("expires_at = EXCLUDED.expires_at").
		Set("created_at = EXCLUDED.created_at").
		Exec(ctx)
	return err
}

func (s *Store) InvalidatePlan(ctx context.Context, planID id.PlanID) error {
	_, err := s.pg.NewDelete((*planCacheModel)(nil)).
		Where("plan_id = $1", planID.String()).
		Exec(ctx)
	return err
}

// ==================== Coupon Store ====================

func (s *Store) CreateCoupon(ctx context.Context, c *coupon.Coupon) error {
	m := toCouponModel(c)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetCoupon(ctx context.Context, code string) (*coupon.Coupon, error) {
	m := new(couponModel)
	err := s.pg.NewSelect(m).
		Where("code = $1", code).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, subledger.ErrCouponNotFound
		}
		return nil, err
	}
	return fromCouponModel(m)
}

func (s *Store) GetCouponByID(ctx context.Context, couponID id.CouponID) (*coupon.Coupon, error) {
	m := new(couponModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", couponID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, subledger.ErrCouponNotFound
		}
		return nil, err
	}
	return fromCouponModel(m)
}

func (s *Store) ListCoupons(ctx context.Context, opts coupon.ListOpts) ([]*coupon.Coupon, error) {
	var models []couponModel
	q := s.pg.NewSelect(&models)

	if opts.Active {
		q = q.Where("(valid_from IS NULL OR valid_from <= $1)", now()).
			Where("(valid_until IS NULL OR valid_until > $2)", now())
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*coupon.Coupon, len(models))
	for i := range models {
		c, err := fromCouponModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = c
	}
	return result, nil
}

func (s *Store) DeleteCoupon(ctx context.Context, couponID id.CouponID) error {
	res, err := s.pg.NewDelete((*couponModel)(nil)).
		Where("id = $1", couponID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return subledger.ErrCouponNotFound
	}
	return nil
}

// RedeemCoupon increments times_redeemed with the limit check folded into
// the UPDATE's predicate, so concurrent redeemers serialize on the row and
// the limit holds without a separate read.
func (s *Store) RedeemCoupon(ctx context.Context, couponID id.CouponID) error {
	res, err := s.pg.NewUpdate((*couponModel)(nil)).
		Set("times_redeemed = times_redeemed + 1").
		Set("updated_at = $1", now()).
		Where("id = $2", couponID.String()).
		Where("(max_redemptions = 0 OR times_redeemed < max_redemptions)").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.GetCouponByID(ctx, couponID); err != nil {
			return err
		}
		return subledger.ErrCouponExhausted
	}
	return nil
}

func (s *Store) ReleaseCoupon(ctx context.Context, couponID id.CouponID) error {
	res, err := s.pg.NewUpdate((*couponModel)(nil)).
		Set("times_redeemed = times_redeemed - 1").
		Set("updated_at = $1", now()).
		Where("id = $2", couponID.String()).
		Where("times_redeemed > 0").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.GetCouponByID(ctx, couponID); err != nil {
			return err
		}
	}
	return nil
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", subID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, subledger.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) GetActiveSubscription(ctx context.Context, userID id.UserID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("user_id = $1", userID.String()).
		Where("status IN ($2, $3, $4)",
			string(subscription.StatusActive),
			string(subscription.StatusTrialing),
			string(subscription.StatusPastDue)).
		OrderExpr("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, subledger.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) ListSubscriptions(ctx context.Context, userID id.UserID, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.pg.NewSelect(&models).
		Where("user_id = $1", userID.String())

	if opts.Status != "" {
		q = q.Where("status = $2", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	m.UpdatedAt = now()
	res, err := s.pg.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return subledger.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) CancelSubscription(ctx context.Context, subID id.SubscriptionID, cancelAt time.Time) error {
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("status = $1", string(subscription.StatusCanceled)).
		Set("canceled_at = $2", cancelAt).
		Set("ended_at = $3", cancelAt).
		Set("updated_at = $4", now()).
		Where("id = $5", subID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return subledger.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) ListLapsedSubscriptions(ctx context.Context, before time.Time, limit int) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.pg.NewSelect(&models).
		Where("status IN ($1, $2)",
			string(subscription.StatusActive),
			string(subscription.StatusTrialing)).
		Where("current_period_end < $3", before).
		OrderExpr("current_period_end ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

func (s *Store) AttachCoupon(ctx context.Context, subID id.SubscriptionID, couponID id.CouponID) error {
	if _, err := s.GetCouponByID(ctx, couponID); err != nil {
		return err
	}
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("coupon_ids = coupon_ids || to_jsonb($1::text)", couponID.String()).
		Set("updated_at = $2", now()).
		Where("id = $3", subID.String()).
		Where("NOT coupon_ids @> to_jsonb($4::text)", couponID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Either already attached or missing; only the latter is an error.
		if _, err := s.GetSubscription(ctx, subID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DetachCoupon(ctx context.Context, subID id.SubscriptionID, couponID id.CouponID) error {
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("coupon_ids = coupon_ids - $1", couponID.String()).
		Set("updated_at = $2", now()).
		Where("id = $3", subID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return subledger.ErrSubscriptionNotFound
	}
	return nil
}

// ==================== Transaction Store ====================

func (s *Store) CreateTransaction(ctx context.Context, t *transaction.Transaction, initial *transaction.Event) error {
	m := toTransactionModel(t)
	if _, err := s.pg.NewInsert(m).Exec(ctx); err != nil {
		return err
	}
	if initial != nil {
		em := toTransactionEventModel(initial)
		if _, err := s.pg.NewInsert(em).Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, txnID id.TransactionID) (*transaction.Transaction, error) {
	m := new(transactionModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", txnID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, subledger.ErrTransactionNotFound
		}
		return nil, err
	}
	return fromTransactionModel(m)
}

func (s *Store) ListTransactions(ctx context.Context, subID id.SubscriptionID, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	var models []transactionModel
	q := s.pg.NewSelect(&models).
		Where("subscription_id = $1", subID.String())

	argIdx := 1
	if opts.State != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("state = $%d", argIdx), string(opts.State))
	}
	if opts.Type != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("type = $%d", argIdx), string(opts.Type))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*transaction.Transaction, len(models))
	for i := range models {
		t, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = t
	}
	return result, nil
}

func (s *Store) AppendTransactionEvent(ctx context.Context, e *transaction.Event, newState transaction.State) error {
	em := toTransactionEventModel(e)
	if _, err := s.pg.NewInsert(em).Exec(ctx); err != nil {
		return err
	}
	res, err := s.pg.NewUpdate((*transactionModel)(nil)).
		Set("state = $1", string(newState)).
		Set("updated_at = $2", now()).
		Where("id = $3", e.TransactionID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return subledger.ErrTransactionNotFound
	}
	return nil
}

func (s *Store) ListTransactionEvents(ctx context.Context, txnID id.TransactionID) ([]*transaction.Event, error) {
	var models []transactionEventModel
	err := s.pg.NewSelect(&models).
		Where("transaction_id = $1", txnID.String()).
		OrderExpr("timestamp ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*transaction.Event, len(models))
	for i := range models {
		e, err := fromTransactionEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

func (s *Store) SetTransactionBackendRef(ctx context.Context, txnID id.TransactionID, backendRef string) error {
	res, err := s.pg.NewUpdate((*transactionModel)(nil)).
		Set("backend_ref = $1", backendRef).
		Set("updated_at = $2", now()).
		Where("id = $3", txnID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return subledger.ErrTransactionNotFound
	}
	return nil
}

func (s *Store) ListStalePendingTransactions(ctx context.Context, before time.Time, limit int) ([]*transaction.Transaction, error) {
	var models []transactionModel
	q := s.pg.NewSelect(&models).
		Where("state = $1", string(transaction.StatePending)).
		Where("created_at < $2", before).
		OrderExpr("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*transaction.Transaction, len(models))
	for i := range models {
		t, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = t
	}
	return result, nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
