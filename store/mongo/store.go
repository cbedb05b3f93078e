package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	subledger "github.com/xraph/subledger"
	"github.com/xraph/subledger/account"
	"github.com/xraph/subledger/coupon"
	"github.com/xraph/subledger/id"
	"github.com/xraph/subledger/plan"
	substore "github.com/xraph/subledger/store"
	"github.com/xraph/subledger/subscription"
	"github.com/xraph/subledger/transaction"
)

// Collection name constants.
const (
	colUsers          = "subledger_users"
	colPaymentMethods = "subledger_payment_methods"
	colPlans          = "subledger_plans"
	colPlanCache      = "subledger_plan_cache"
	colCoupons        = "subledger_coupons"
	colSubscriptions  = "subledger_subscriptions"
	colTransactions   = "subledger_transactions"
	colTxnEvents      = "subledger_transaction_events"
)

// compile-time interface check
var _ substore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all subledger collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("subledger/mongo: migrate %s indexes: %w", col, err)
		}
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
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("subledger/mongo: create user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID id.UserID) (*account.User, error) {
	var m userModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": userID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, subledger.ErrUserNotFound
		}
		return nil, fmt.Errorf("subledger/mongo: get user: %w", err)
	}
	return fromUserModel(&m)
}

func (s *Store) UpdateUser(ctx context.Context, u *account.User) error {
	m := toUserModel(u)
	m.UpdatedAt = now()

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("subledger/mongo: update user: %w", err)
	}
	if res.MatchedCount() == 0 {
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
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("subledger/mongo: create payment method: %w", err)
	}
	return nil
}

func (s *Store) GetPaymentMethod(ctx context.Context, methodID id.PaymentMethodID) (*account.PaymentMethod, error) {
	var m paymentMethodModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": methodID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, subledger.ErrPaymentMethodNotFound
		}
		return nil, fmt.Errorf("subledger/mongo: get payment method: %w", err)
	}
	return fromPaymentMethodModel(&m)
}

func (s *Store) GetDefaultPaymentMethod(ctx context.Context, userID id.UserID) (*account.PaymentMethod, error) {
	var m paymentMethodModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"user_id": userID.String(), "is_default": true}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, subledger.ErrPaymentMethodNotFound
		}
		return nil, fmt.Errorf("subledger/mongo: get default payment method: %w", err)
	}
	return fromPaymentMethodModel(&m)
}

func (s *Store) ListPaymentMethods(ctx context.Context, userID id.UserID) ([]*account.PaymentMethod, error) {
	var models []paymentMethodModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"user_id": userID.String()}).
		Sort(bson.D{{Key: "created_at", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("subledger/mongo: list payment methods: %w", err)
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

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("subledger/mongo: update payment method: %w", err)
	}
	if res.MatchedCount() == 0 {
		return subledger.ErrPaymentMethodNotFound
	}
	return nil
}

func (s *Store) clearDefaultMethod(ctx context.Context, userID id.UserID) error {
	_, err := s.mdb.NewUpdate((*paymentMethodModel)(nil)).
		Filter(bson.M{"user_id": userID.String(), "is_default": true}).
		Set("is_default", false).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("subledger/mongo: clear default payment method: %w", err)
	}
	return nil
}

// ==================== Plan Store ====================

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	m := toPlanModel(p)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("subledger/mongo: create plan: %w", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	var m planModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": planID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, subledger.ErrPlanNotFound
		}
		return nil, fmt.Errorf("subledger/mongo: get plan: %w", err)
	}
	return fromPlanModel(&m)
}

func (s *Store) GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error) {
	var m planModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"slug": slug}).
		Sort(bson.D{{Key: "version", Value: -1}}).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, subledger.ErrPlanNotFound
		}
		return nil, fmt.Errorf("subledger/mongo: get plan by slug: %w", err)
	}
	return fromPlanModel(&m)
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	var models []planModel

	filter := bson.M{}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("subledger/mongo: list plans: %w", err)
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
	res, err := s.mdb.NewUpdate((*planModel)(nil)).
		Filter(bson.M{"_id": oldID.String()}).
		Set("superseded_by", newID.String()).
		Set("status", string(plan.StatusArchived)).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("subledger/mongo: supersede plan: %w", err)
	}
	if res.MatchedCount() == 0 {
		return subledger.ErrPlanNotFound
	}
	return nil
}

func (s *Store) ArchivePlan(ctx context.Context, planID id.PlanID) error {
	res, err := s.mdb.NewUpdate((*planModel)(nil)).
		Filter(bson.M{"_id": planID.String()}).
		Set("status", string(plan.StatusArchived)).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("subledger/mongo: archive plan: %w", err)
	}
	if res.MatchedCount() == 0 {
		return subledger.ErrPlanNotFound
	}
	return nil
}

// ==================== Plan cache Store ====================

func (s *Store) GetCachedPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	var m planCacheModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{
			"_id":        planID.String(),
			"expires_at": bson.M{"$gt": now()},
		}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, subledger.ErrCacheMiss
		}
		return nil, fmt.Errorf("subledger/mongo: get cached plan: %w", err)
	}
	return fromPlanCacheModel(&m)
}

func (s *Store) SetCachedPlan(ctx context.Context, p *plan.Plan, ttl time.Duration) error {
	m := toPlanCacheModel(p, now().Add(ttl))

	_, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.PlanID}).
		SetUpdate(bson.M{"$set": bson.M{
			"_id":        m.PlanID,
			"payload":    m.Payload,
			"expires_at": m.ExpiresAt,
			"created_at": m.CreatedAt,
		}}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("subledger/mongo: set cached plan: %w", err)
	}
	return nil
}

func (s *Store) InvalidatePlan(ctx context.Context, planID id.PlanID) error {
	_, err := s.mdb.NewDelete((*planCacheModel)(nil)).
		Filter(bson.M{"_id": planID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("subledger/mongo: invalidate plan: %w", err)
	}
	return nil
}

// ==================== Coupon Store ====================

func (s *Store) CreateCoupon(ctx context.Context, c *coupon.Coupon) error {
	m := toCouponModel(c)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("subledger/mongo: create coupon: %w", err)
	}
	return nil
}

func (s *Store) GetCoupon(ctx context.Context, code string) (*coupon.Coupon, error) {
	var m couponModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"code": code}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, subledger.ErrCouponNotFound
		}
		return nil, fmt.Errorf("subledger/mongo: get coupon: %w", err)
	}
	return fromCouponModel(&m)
}

func (s *Store) GetCouponByID(ctx context.Context, couponID id.CouponID) (*coupon.Coupon, error) {
	var m couponModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": couponID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, subledger.ErrCouponNotFound
		}
		return nil, fmt.Errorf("subledger/mongo: get coupon by id: %w", err)
	}
	return fromCouponModel(&m)
}

func (s *Store) ListCoupons(ctx context.Context, opts coupon.ListOpts) ([]*coupon.Coupon, error) {
	var models []couponModel

	filter := bson.M{}
	if opts.Active {
		t := now()
		filter["$and"] = []bson.M{
			{"$or": []bson.M{{"valid_from": nil}, {"valid_from": bson.M{"$lte": t}}}},
			{"$or": []bson.M{{"valid_until": nil}, {"valid_until": bson.M{"$gt": t}}}},
		}
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("subledger/mongo: list coupons: %w", err)
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
	res, err := s.mdb.NewDelete((*couponModel)(nil)).
		Filter(bson.M{"_id": couponID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("subledger/mongo: delete coupon: %w", err)
	}
	if res.DeletedCount() == 0 {
		return subledger.ErrCouponNotFound
	}
	return nil
}

// RedeemCoupon uses a filtered $inc so the limit check and the increment
// hit the document atomically.
func (s *Store) RedeemCoupon(ctx context.Context, couponID id.CouponID) error {
	res, err := s.mdb.NewUpdate((*couponModel)(nil)).
		Filter(bson.M{
			"_id": couponID.String(),
			"$or": []bson.M{
				{"max_redemptions": 0},
				{"$expr": bson.M{"$lt": bson.A{"$times_redeemed", "$max_redemptions"}}},
			},
		}).
		SetUpdate(bson.M{
			"$inc": bson.M{"times_redeemed": 1},
			"$set": bson.M{"updated_at": now()},
		}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("subledger/mongo: redeem coupon: %w", err)
	}
	if res.MatchedCount() == 0 {
		if _, err := s.GetCouponByID(ctx, couponID); err != nil {
			return err
		}
		return subledger.ErrCouponExhausted
	}
	return nil
}

func (s *Store) ReleaseCoupon(ctx context.Context, couponID id.CouponID) error {
	_, err := s.mdb.NewUpdate((*couponModel)(nil)).
		Filter(bson.M{
			"_id":            couponID.String(),
			"times_redeemed": bson.M{"$gt": 0},
		}).
		SetUpdate(bson.M{
			"$inc": bson.M{"times_redeemed": -1},
			"$set": bson.M{"updated_at": now()},
		}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("subledger/mongo: release coupon: %w", err)
	}
	return nil
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("subledger/mongo: create subscription: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": subID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, subledger.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("subledger/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) GetActiveSubscription(ctx context.Context, userID id.UserID) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{
			"user_id": userID.String(),
			"status": bson.M{"$in": []string{
				string(subscription.StatusActive),
				string(subscription.StatusTrialing),
				string(subscription.StatusPastDue),
			}},
		}).
		Sort(bson.D{{Key: "created_at", Value: -1}}).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, subledger.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("subledger/mongo: get active subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) ListSubscriptions(ctx context.Context, userID id.UserID, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel

	filter := bson.M{"user_id": userID.String()}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("subledger/mongo: list subscriptions: %w", err)
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

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("subledger/mongo: update subscription: %w", err)
	}
	if res.MatchedCount() == 0 {
		return subledger.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) CancelSubscription(ctx context.Context, subID id.SubscriptionID, cancelAt time.Time) error {
	res, err := s.mdb.NewUpdate((*subscriptionModel)(nil)).
		Filter(bson.M{"_id": subID.String()}).
		Set("status", string(subscription.StatusCanceled)).
		Set("canceled_at", cancelAt).
		Set("ended_at", cancelAt).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("subledger/mongo: cancel subscription: %w", err)
	}
	if res.MatchedCount() == 0 {
		return subledger.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) ListLapsedSubscriptions(ctx context.Context, before time.Time, limit int) ([]*subscription.Subscription, error) {
	var models []subscriptionModel

	q := s.mdb.NewFind(&models).
		Filter(bson.M{
			"status": bson.M{"$in": []string{
				string(subscription.StatusActive),
				string(subscription.StatusTrialing),
			}},
			"current_period_end": bson.M{"$lt": before},
		}).
		Sort(bson.D{{Key: "current_period_end", Value: 1}})
	if limit > 0 {
		q = q.Limit(int64(limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("subledger/mongo: list lapsed subscriptions: %w", err)
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
	res, err := s.mdb.NewUpdate((*subscriptionModel)(nil)).
		Filter(bson.M{"_id": subID.String()}).
		SetUpdate(bson.M{
			"$addToSet": bson.M{"coupon_ids": couponID.String()},
			"$set":      bson.M{"updated_at": now()},
		}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("subledger/mongo: attach coupon: %w", err)
	}
	if res.MatchedCount() == 0 {
		return subledger.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) DetachCoupon(ctx context.Context, subID id.SubscriptionID, couponID id.CouponID) error {
	res, err := s.mdb.NewUpdate((*subscriptionModel)(nil)).
		Filter(bson.M{"_id": subID.String()}).
		SetUpdate(bson.M{
			"$pull": bson.M{"coupon_ids": couponID.String()},
			"$set":  bson.M{"updated_at": now()},
		}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("subledger/mongo: detach coupon: %w", err)
	}
	if res.MatchedCount() == 0 {
		return subledger.ErrSubscriptionNotFound
	}
	return nil
}

// ==================== Transaction Store ====================

func (s *Store) CreateTransaction(ctx context.Context, t *transaction.Transaction, initial *transaction.Event) error {
	m := toTransactionModel(t)
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		return fmt.Errorf("subledger/mongo: create transaction: %w", err)
	}
	if initial != nil {
		em := toTransactionEventModel(initial)
		if _, err := s.mdb.NewInsert(em).Exec(ctx); err != nil {
			return fmt.Errorf("subledger/mongo: create transaction event: %w", err)
		}
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, txnID id.TransactionID) (*transaction.Transaction, error) {
	var m transactionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": txnID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, subledger.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("subledger/mongo: get transaction: %w", err)
	}
	return fromTransactionModel(&m)
}

func (s *Store) ListTransactions(ctx context.Context, subID id.SubscriptionID, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	var models []transactionModel

	filter := bson.M{"subscription_id": subID.String()}
	if opts.State != "" {
		filter["state"] = string(opts.State)
	}
	if opts.Type != "" {
		filter["type"] = string(opts.Type)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("subledger/mongo: list transactions: %w", err)
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
	if _, err := s.mdb.NewInsert(em).Exec(ctx); err != nil {
		return fmt.Errorf("subledger/mongo: append transaction event: %w", err)
	}

	res, err := s.mdb.NewUpdate((*transactionModel)(nil)).
		Filter(bson.M{"_id": e.TransactionID.String()}).
		Set("state", string(newState)).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("subledger/mongo: update transaction state: %w", err)
	}
	if res.MatchedCount() == 0 {
		return subledger.ErrTransactionNotFound
	}
	return nil
}

func (s *Store) ListTransactionEvents(ctx context.Context, txnID id.TransactionID) ([]*transaction.Event, error) {
	var models []transactionEventModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"transaction_id": txnID.String()}).
		Sort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("subledger/mongo: list transaction events: %w", err)
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
	res, err := s.mdb.NewUpdate((*transactionModel)(nil)).
		Filter(bson.M{"_id": txnID.String()}).
		Set("backend_ref", backendRef).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("subledger/mongo: set backend ref: %w", err)
	}
	if res.MatchedCount() == 0 {
		return subledger.ErrTransactionNotFound
	}
	return nil
}

func (s *Store) ListStalePendingTransactions(ctx context.Context, before time.Time, limit int) ([]*transaction.Transaction, error) {
	var models []transactionModel
	q := s.mdb.NewFind(&models).
		Filter(bson.M{
			"state":      string(transaction.StatePending),
			"created_at": bson.M{"$lt": before},
		}).
		Sort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		q = q.Limit(int64(limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("subledger/mongo: list stale pending: %w", err)
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

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all subledger collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colUsers: {
			{Keys: bson.D{{Key: "external_ref", Value: 1}}},
		},
		colPaymentMethods: {
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "is_default", Value: 1}}},
		},
		colPlans: {
			{
				Keys:    bson.D{{Key: "slug", Value: 1}, {Key: "version", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		colPlanCache: {
			{Keys: bson.D{{Key: "expires_at", Value: 1}}},
		},
		colCoupons: {
			{
				Keys:    bson.D{{Key: "code", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
		},
		colSubscriptions: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "plan_id", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "current_period_end", Value: 1}}},
		},
		colTransactions: {
			{Keys: bson.D{{Key: "subscription_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "state", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		colTxnEvents: {
			{Keys: bson.D{{Key: "transaction_id", Value: 1}, {Key: "timestamp", Value: 1}}},
		},
	}
}
