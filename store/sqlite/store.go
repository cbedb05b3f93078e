package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
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

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("subledger/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("subledger/sqlite: migration failed: %w", err)
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
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetUser(ctx context.Context, userID id.UserID) (*account.User, error) {
	m := new(userModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", userID.String()).
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
	res, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx)
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
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetPaymentMethod(ctx context.Context, methodID id.PaymentMethodID) (*account.PaymentMethod, error) {
	m := new(paymentMethodModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", methodID.String()).
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
	err := s.sdb.NewSelect(m).
		Where("user_id = ?", userID.String()).
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
	err := s.sdb.NewSelect(&models).
		Where("user_id = ?", userID.String()).
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
	res, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx)
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

func (s *Store) clearDefaultMethod(ctx context.Context, userID id.UserID) error {
	_, err := s.sdb.NewUpdate((*paymentMethodModel)(nil)).
		Set("is_default = FALSE").
		Set("updated_at = ?", now()).
		Where("user_id = ?", userID.String()).
		Where("is_default = TRUE").
		Exec(ctx)
	return err
}

// ==================== Plan Store ====================

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	m := toPlanModel(p)
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	m := new(planModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", planID.String()).
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
	err := s.sdb.NewSelect(m).
		Where("slug = ?", slug).
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
	q := s.sdb.NewSelect(&models)

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
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
	res, err := s.sdb.NewUpdate((*planModel)(nil)).
		Set("superseded_by = ?", newID.String()).
		Set("status = ?", string(plan.StatusArchived)).
		Set("updated_at = ?", now()).
		Where("id = ?", oldID.String()).
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
	res, err := s.sdb.NewUpdate((*planModel)(nil)).
		Set("status = ?", string(plan.StatusArchived)).
		Set("updated_at = ?", now()).
		Where("id = ?", planID.String()).
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
	err := s.sdb.NewSelect(m).
		Where("plan_id = ?", planID.String()).
		Where("expires_at > ?", now()).
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
	// SQLite has no EXCLUDED upsert via the query builder; delete-then-insert
	// is sufficient for a cache row.
	if err := s.InvalidatePlan(ctx, p.ID); err != nil {
		return err
	}
	m := toPlanCacheModel(p, now().Add(ttl))
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) InvalidatePlan(ctx context.Context, planID id.PlanID) error {
	_, err := s.sdb.NewDelete((*planCacheModel)(nil)).
		Where("plan_id = ?", planID.String()).
		Exec(ctx)
	return err
}

// ==================== Coupon Store ====================

func (s *Store) CreateCoupon(ctx context.Context, c *coupon.Coupon) error {
	m := toCouponModel(c)
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetCoupon(ctx context.Context, code string) (*coupon.Coupon, error) {
	m := new(couponModel)
	err := s.sdb.NewSelect(m).
		Where("code = ?", code).
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
	err := s.sdb.NewSelect(m).
		Where("id = ?", couponID.String()).
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
	q := s.sdb.NewSelect(&models)

	if opts.Active {
		q = q.Where("(valid_from IS NULL OR valid_from <= ?)", now()).
			Where("(valid_until IS NULL OR valid_until > ?)", now())
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
	res, err := s.sdb.NewDelete((*couponModel)(nil)).
		Where("id = ?", couponID.String()).
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

// RedeemCoupon folds the limit check into the UPDATE's predicate. SQLite
// serializes writers, so the increment never races past the limit.
func (s *Store) RedeemCoupon(ctx context.Context, couponID id.CouponID) error {
	res, err := s.sdb.NewUpdate((*couponModel)(nil)).
		Set("times_redeemed = times_redeemed + 1").
		Set("updated_at = ?", now()).
		Where("id = ?", couponID.String()).
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
	res, err := s.sdb.NewUpdate((*couponModel)(nil)).
		Set("times_redeemed = times_redeemed - 1").
		Set("updated_at = ?", now()).
		Where("id = ?", couponID.String()).
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
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", subID.String()).
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
	err := s.sdb.NewSelect(m).
		Where("user_id = ?", userID.String()).
		Where("status IN (?, ?, ?)",
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
	q := s.sdb.NewSelect(&models).
		Where("user_id = ?", userID.String())

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
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
	res, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx)
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
	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("status = ?", string(subscription.StatusCanceled)).
		Set("canceled_at = ?", cancelAt).
		Set("ended_at = ?", cancelAt).
		Set("updated_at = ?", now()).
		Where("id = ?", subID.String()).
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
	q := s.sdb.NewSelect(&models).
		Where("status IN (?, ?)",
			string(subscription.StatusActive),
			string(subscription.StatusTrialing)).
		Where("current_period_end < ?", before).
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

// AttachCoupon reads and rewrites the coupon list. SQLite lacks the JSON
// array operators used by the postgres store.
func (s *Store) AttachCoupon(ctx context.Context, subID id.SubscriptionID, couponID id.CouponID) error {
	if _, err := s.GetCouponByID(ctx, couponID); err != nil {
		return err
	}
	sub, err := s.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}
	for _, existing := range sub.CouponIDs {
		if existing == couponID {
			return nil
		}
	}
	sub.CouponIDs = append(sub.CouponIDs, couponID)
	return s.UpdateSubscription(ctx, sub)
}

func (s *Store) DetachCoupon(ctx context.Context, subID id.SubscriptionID, couponID id.CouponID) error {
	sub, err := s.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}
	kept := sub.CouponIDs[:0]
	for _, existing := range sub.CouponIDs {
		if existing != couponID {
			kept = append(kept, existing)
		}
	}
	sub.CouponIDs = kept
	return s.UpdateSubscription(ctx, sub)
}

// ==================== Transaction Store ====================

func (s *Store) CreateTransaction(ctx context.Context, t *transaction.Transaction, initial *transaction.Event) error {
	m := toTransactionModel(t)
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
		return err
	}
	if initial != nil {
		em := toTransactionEventModel(initial)
		if _, err := s.sdb.NewInsert(em).Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, txnID id.TransactionID) (*transaction.Transaction, error) {
	m := new(transactionModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", txnID.String()).
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
	q := s.sdb.NewSelect(&models).
		Where("subscription_id = ?", subID.String())

	if opts.State != "" {
		q = q.Where("state = ?", string(opts.State))
	}
	if opts.Type != "" {
		q = q.Where("type = ?", string(opts.Type))
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
	if _, err := s.sdb.NewInsert(em).Exec(ctx); err != nil {
		return err
	}
	res, err := s.sdb.NewUpdate((*transactionModel)(nil)).
		Set("state = ?", string(newState)).
		Set("updated_at = ?", now()).
		Where("id = ?", e.TransactionID.String()).
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
	err := s.sdb.NewSelect(&models).
		Where("transaction_id = ?", txnID.String()).
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
	res, err := s.sdb.NewUpdate((*transactionModel)(nil)).
		Set("backend_ref = ?", backendRef).
		Set("updated_at = ?", now()).
		Where("id = ?", txnID.String()).
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
	q := s.sdb.NewSelect(&models).
		Where("state = ?", string(transaction.StatePending)).
		Where("created_at < ?", before).
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
