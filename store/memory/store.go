package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/subledger"
	"github.com/xraph/subledger/account"
	"github.com/xraph/subledger/coupon"
	"github.com/xraph/subledger/id"
	"github.com/xraph/subledger/plan"
	substore "github.com/xraph/subledger/store"
	"github.com/xraph/subledger/subscription"
	"github.com/xraph/subledger/transaction"
)

type Store struct {
	mu sync.RWMutex

	// Account storage
	users          map[string]*account.User
	paymentMethods map[string]*account.PaymentMethod

	// Plan storage
	plans map[string]*plan.Plan

	// Plan cache
	planCache   map[string]*plan.Plan
	cacheExpiry map[string]time.Time

	// Coupon storage
	coupons map[string]*coupon.Coupon

	// Subscription storage
	subscriptions map[string]*subscription.Subscription

	// Transaction storage. Events are append-only per transaction.
	transactions map[string]*transaction.Transaction
	events       map[string][]*transaction.Event
}

var _ substore.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:          make(map[string]*account.User),
		paymentMethods: make(map[string]*account.PaymentMethod),
		plans:          make(map[string]*plan.Plan),
		planCache:      make(map[string]*plan.Plan),
		cacheExpiry:    make(map[string]time.Time),
		coupons:        make(map[string]*coupon.Coupon),
		subscriptions:  make(map[string]*subscription.Subscription),
		transactions:   make(map[string]*transaction.Transaction),
		events:         make(map[string][]*transaction.Event),
	}
}

// User Store implementation
func (s *Store) CreateUser(_ context.Context, u *account.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[u.ID.String()]; exists {
		return subledger.ErrAlreadyExists
	}
	s.users[u.ID.String()] = u
	return nil
}

func (s *Store) GetUser(_ context.Context, userID id.UserID) (*account.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if u, ok := s.users[userID.String()]; ok {
		return u, nil
	}
	return nil, subledger.ErrUserNotFound
}

func (s *Store) UpdateUser(_ context.Context, u *account.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[u.ID.String()]; !exists {
		return subledger.ErrUserNotFound
	}
	s.users[u.ID.String()] = u
	return nil
}

// Payment method Store implementation
func (s *Store) CreatePaymentMethod(_ context.Context, m *account.PaymentMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.paymentMethods[m.ID.String()]; exists {
		return subledger.ErrAlreadyExists
	}
	if m.Default {
		// A user has at most one default method.
		for _, other := range s.paymentMethods {
			if other.UserID == m.UserID {
				other.Default = false
			}
		}
	}
	s.paymentMethods[m.ID.String()] = m
	return nil
}

func (s *Store) GetPaymentMethod(_ context.Context, methodID id.PaymentMethodID) (*account.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if m, ok := s.paymentMethods[methodID.String()]; ok {
		return m, nil
	}
	return nil, subledger.ErrPaymentMethodNotFound
}

func (s *Store) GetDefaultPaymentMethod(_ context.Context, userID id.UserID) (*account.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.paymentMethods {
		if m.UserID == userID && m.Default {
			return m, nil
		}
	}
	return nil, subledger.ErrPaymentMethodNotFound
}

func (s *Store) ListPaymentMethods(_ context.Context, userID id.UserID) ([]*account.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*account.PaymentMethod, 0)
	for _, m := range s.paymentMethods {
		if m.UserID == userID {
			result = append(result, m)
		}
	}

	// Oldest first, matching the SQL stores.
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}

func (s *Store) UpdatePaymentMethod(_ context.Context, m *account.PaymentMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.paymentMethods[m.ID.String()]; !exists {
		return subledger.ErrPaymentMethodNotFound
	}
	if m.Default {
		for _, other := range s.paymentMethods {
			if other.UserID == m.UserID && other.ID != m.ID {
				other.Default = false
			}
		}
	}
	s.paymentMethods[m.ID.String()] = m
	return nil
}

// Plan Store implementation
func (s *Store) CreatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.ID.String()]; exists {
		return subledger.ErrAlreadyExists
	}
	s.plans[p.ID.String()] = p
	return nil
}

func (s *Store) GetPlan(_ context.Context, planID id.PlanID) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.plans[planID.String()]; ok {
		return p, nil
	}
	return nil, subledger.ErrPlanNotFound
}

func (s *Store) GetPlanBySlug(_ context.Context, slug string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Prefer the live version when a slug has been superseded.
	var best *plan.Plan
	for _, p := range s.plans {
		if p.Slug != slug {
			continue
		}
		if best == nil || p.Version > best.Version {
			best = p
		}
	}
	if best != nil {
		return best, nil
	}
	return nil, subledger.ErrPlanNotFound
}

func (s *Store) ListPlans(_ context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*plan.Plan, 0)
	for _, p := range s.plans {
		if opts.Status == "" || p.Status == opts.Status {
			result = append(result, p)
		}
	}

	// Oldest first, matching the SQL stores. Map iteration order would make
	// pagination unstable.
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

// paginate applies offset and limit after the slice has been sorted.
func paginate[T any](items []T, offset, limit int) []T {
	start := offset
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if limit == 0 || end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func (s *Store) SupersedePlan(_ context.Context, oldID, newID id.PlanID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.plans[oldID.String()]
	if !ok {
		return subledger.ErrPlanNotFound
	}
	if _, ok := s.plans[newID.String()]; !ok {
		return subledger.ErrPlanNotFound
	}
	old.SupersededBy = newID
	old.Status = plan.StatusArchived
	return nil
}

func (s *Store) ArchivePlan(_ context.Context, planID id.PlanID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plans[planID.String()]
	if !ok {
		return subledger.ErrPlanNotFound
	}
	p.Status = plan.StatusArchived
	return nil
}

// Plan cache implementation
func (s *Store) GetCachedPlan(_ context.Context, planID id.PlanID) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := planID.String()
	if expiry, ok := s.cacheExpiry[key]; ok {
		if time.Now().Before(expiry) {
			if p, ok := s.planCache[key]; ok {
				return p, nil
			}
		}
	}
	return nil, subledger.ErrCacheMiss
}

func (s *Store) SetCachedPlan(_ context.Context, p *plan.Plan, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := p.ID.String()
	s.planCache[key] = p
	s.cacheExpiry[key] = time.Now().Add(ttl)
	return nil
}

func (s *Store) InvalidatePlan(_ context.Context, planID id.PlanID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := planID.String()
	delete(s.planCache, key)
	delete(s.cacheExpiry, key)
	return nil
}

// Coupon Store implementation
//
// Coupon getters return copies: redemption counts are mutated under the
// store lock, and handing out the live pointer would let pricing read
// TimesRedeemed while RedeemCoupon increments it.
func (s *Store) CreateCoupon(_ context.Context, c *coupon.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.coupons[c.ID.String()]; exists {
		return subledger.ErrAlreadyExists
	}
	for _, other := range s.coupons {
		if other.Code == c.Code {
			return subledger.ErrAlreadyExists
		}
	}
	s.coupons[c.ID.String()] = c
	return nil
}

func (s *Store) GetCoupon(_ context.Context, code string) (*coupon.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.coupons {
		if c.Code == code {
			copied := *c
			return &copied, nil
		}
	}
	return nil, subledger.ErrCouponNotFound
}

func (s *Store) GetCouponByID(_ context.Context, couponID id.CouponID) (*coupon.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.coupons[couponID.String()]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, subledger.ErrCouponNotFound
}

func (s *Store) ListCoupons(_ context.Context, opts coupon.ListOpts) ([]*coupon.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	result := make([]*coupon.Coupon, 0)
	for _, c := range s.coupons {
		if opts.Active && c.Validate(now) != nil {
			continue
		}
		copied := *c
		result = append(result, &copied)
	}

	// Newest first, matching the SQL stores.
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) DeleteCoupon(_ context.Context, couponID id.CouponID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.coupons[couponID.String()]; !exists {
		return subledger.ErrCouponNotFound
	}
	delete(s.coupons, couponID.String())
	return nil
}

// RedeemCoupon is the compare-and-increment the redemption limit depends
// on. The check and the increment happen under a single write lock.
func (s *Store) RedeemCoupon(_ context.Context, couponID id.CouponID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.coupons[couponID.String()]
	if !ok {
		return subledger.ErrCouponNotFound
	}
	if c.Exhausted() {
		return subledger.ErrCouponExhausted
	}
	c.TimesRedeemed++
	return nil
}

func (s *Store) ReleaseCoupon(_ context.Context, couponID id.CouponID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.coupons[couponID.String()]
	if !ok {
		return subledger.ErrCouponNotFound
	}
	if c.TimesRedeemed > 0 {
		c.TimesRedeemed--
	}
	return nil
}

// Subscription Store implementation
//
// Subscriptions cross the boundary as copies in both directions: the
// engine mutates its working copy freely and an operation that aborts
// before UpdateSubscription leaves the stored row untouched.
func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[sub.ID.String()]; exists {
		return subledger.ErrAlreadyExists
	}
	copied := *sub
	s.subscriptions[sub.ID.String()] = &copied
	return nil
}

func (s *Store) GetSubscription(_ context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub, ok := s.subscriptions[subID.String()]; ok {
		copied := *sub
		return &copied, nil
	}
	return nil, subledger.ErrSubscriptionNotFound
}

func (s *Store) GetActiveSubscription(_ context.Context, userID id.UserID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// The newest non-terminal subscription wins, matching the SQL stores.
	var best *subscription.Subscription
	for _, sub := range s.subscriptions {
		if sub.UserID != userID || sub.IsTerminal() {
			continue
		}
		if best == nil || sub.CreatedAt.After(best.CreatedAt) {
			best = sub
		}
	}
	if best != nil {
		copied := *best
		return &copied, nil
	}
	return nil, subledger.ErrSubscriptionNotFound
}

func (s *Store) ListSubscriptions(_ context.Context, userID id.UserID, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.UserID != userID {
			continue
		}
		if opts.Status == "" || sub.Status == opts.Status {
			copied := *sub
			result = append(result, &copied)
		}
	}

	// Newest first, matching the SQL stores.
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[sub.ID.String()]; !exists {
		return subledger.ErrSubscriptionNotFound
	}
	copied := *sub
	s.subscriptions[sub.ID.String()] = &copied
	return nil
}

func (s *Store) CancelSubscription(_ context.Context, subID id.SubscriptionID, cancelAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return subledger.ErrSubscriptionNotFound
	}
	sub.Status = subscription.StatusCanceled
	sub.CanceledAt = &cancelAt
	sub.EndedAt = &cancelAt
	return nil
}

func (s *Store) AttachCoupon(_ context.Context, subID id.SubscriptionID, couponID id.CouponID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return subledger.ErrSubscriptionNotFound
	}
	if _, ok := s.coupons[couponID.String()]; !ok {
		return subledger.ErrCouponNotFound
	}
	for _, existing := range sub.CouponIDs {
		if existing == couponID {
			return nil
		}
	}
	sub.CouponIDs = append(sub.CouponIDs, couponID)
	return nil
}

func (s *Store) DetachCoupon(_ context.Context, subID id.SubscriptionID, couponID id.CouponID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return subledger.ErrSubscriptionNotFound
	}
	kept := sub.CouponIDs[:0]
	for _, existing := range sub.CouponIDs {
		if existing != couponID {
			kept = append(kept, existing)
		}
	}
	sub.CouponIDs = kept
	return nil
}

func (s *Store) ListLapsedSubscriptions(_ context.Context, before time.Time, limit int) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.Status != subscription.StatusActive && sub.Status != subscription.StatusTrialing {
			continue
		}
		if !sub.CurrentPeriodEnd.Before(before) {
			continue
		}
		copied := *sub
		result = append(result, &copied)
	}

	// Longest lapsed first.
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CurrentPeriodEnd.Equal(result[j].CurrentPeriodEnd) {
			return result[i].CurrentPeriodEnd.Before(result[j].CurrentPeriodEnd)
		}
		return result[i].ID.String() < result[j].ID.String()
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Transaction Store implementation
func (s *Store) CreateTransaction(_ context.Context, t *transaction.Transaction, initial *transaction.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transactions[t.ID.String()]; exists {
		return subledger.ErrAlreadyExists
	}
	s.transactions[t.ID.String()] = t
	if initial != nil {
		s.events[t.ID.String()] = append(s.events[t.ID.String()], initial)
	}
	return nil
}

func (s *Store) GetTransaction(_ context.Context, txnID id.TransactionID) (*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.transactions[txnID.String()]; ok {
		return t, nil
	}
	return nil, subledger.ErrTransactionNotFound
}

func (s *Store) ListTransactions(_ context.Context, subID id.SubscriptionID, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*transaction.Transaction, 0)
	for _, t := range s.transactions {
		if t.SubscriptionID != subID {
			continue
		}
		if opts.State != "" && t.State != opts.State {
			continue
		}
		if opts.Type != "" && t.Type != opts.Type {
			continue
		}
		result = append(result, t)
	}

	// Newest first, matching the SQL stores.
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) AppendTransactionEvent(_ context.Context, e *transaction.Event, newState transaction.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transactions[e.TransactionID.String()]
	if !ok {
		return subledger.ErrTransactionNotFound
	}
	s.events[e.TransactionID.String()] = append(s.events[e.TransactionID.String()], e)
	t.State = newState
	return nil
}

func (s *Store) ListTransactionEvents(_ context.Context, txnID id.TransactionID) ([]*transaction.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.transactions[txnID.String()]; !ok {
		return nil, subledger.ErrTransactionNotFound
	}
	events := s.events[txnID.String()]
	result := make([]*transaction.Event, len(events))
	copy(result, events)
	return result, nil
}

func (s *Store) SetTransactionBackendRef(_ context.Context, txnID id.TransactionID, backendRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transactions[txnID.String()]
	if !ok {
		return subledger.ErrTransactionNotFound
	}
	t.BackendRef = backendRef
	return nil
}

func (s *Store) ListStalePendingTransactions(_ context.Context, before time.Time, limit int) ([]*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*transaction.Transaction, 0)
	for _, t := range s.transactions {
		if t.State != transaction.StatePending {
			continue
		}
		if !t.CreatedAt.Before(before) {
			continue
		}
		result = append(result, t)
	}

	// Oldest first, so the longest-stuck transactions are flagged before
	// the limit cuts the batch off.
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Core Store implementation
func (s *Store) Migrate(_ context.Context) error {
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	return nil
}

func (s *Store) Close() error {
	return nil
}
