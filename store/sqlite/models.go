package sqlite

import (
	"encoding/json"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/subledger/account"
	"github.com/xraph/subledger/coupon"
	"github.com/xraph/subledger/id"
	"github.com/xraph/subledger/plan"
	"github.com/xraph/subledger/subscription"
	"github.com/xraph/subledger/transaction"
	"github.com/xraph/subledger/types"
)

// ==================== User models ====================

type userModel struct {
	grove.BaseModel `grove:"table:subledger_users"`

	ID          string            `grove:"id,pk"`
	ExternalRef string            `grove:"external_ref"`
	Email       string            `grove:"email"`
	Metadata    map[string]string `grove:"metadata,type:jsonb"`
	CreatedAt   time.Time         `grove:"created_at"`
	UpdatedAt   time.Time         `grove:"updated_at"`
}

func toUserModel(u *account.User) *userModel {
	return &userModel{
		ID:          u.ID.String(),
		ExternalRef: u.ExternalRef,
		Email:       u.Email,
		Metadata:    u.Metadata,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

func fromUserModel(m *userModel) (*account.User, error) {
	userID, err := id.ParseUserID(m.ID)
	if err != nil {
		return nil, err
	}

	return &account.User{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          userID,
		ExternalRef: m.ExternalRef,
		Email:       m.Email,
		Metadata:    m.Metadata,
	}, nil
}

// ==================== Payment method models ====================

type paymentMethodModel struct {
	grove.BaseModel `grove:"table:subledger_payment_methods"`

	ID        string            `grove:"id,pk"`
	UserID    string            `grove:"user_id"`
	Type      string            `grove:"type"`
	Token     string            `grove:"token"`
	Valid     bool              `grove:"valid"`
	IsDefault bool              `grove:"is_default"`
	Metadata  map[string]string `grove:"metadata,type:jsonb"`
	CreatedAt time.Time         `grove:"created_at"`
	UpdatedAt time.Time         `grove:"updated_at"`
}

func toPaymentMethodModel(pm *account.PaymentMethod) *paymentMethodModel {
	return &paymentMethodModel{
		ID:        pm.ID.String(),
		UserID:    pm.UserID.String(),
		Type:      string(pm.Type),
		Token:     pm.Token,
		Valid:     pm.Valid,
		IsDefault: pm.Default,
		Metadata:  pm.Metadata,
		CreatedAt: pm.CreatedAt,
		UpdatedAt: pm.UpdatedAt,
	}
}

func fromPaymentMethodModel(m *paymentMethodModel) (*account.PaymentMethod, error) {
	methodID, err := id.ParsePaymentMethodID(m.ID)
	if err != nil {
		return nil, err
	}
	userID, err := id.ParseUserID(m.UserID)
	if err != nil {
		return nil, err
	}

	return &account.PaymentMethod{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:       methodID,
		UserID:   userID,
		Type:     account.MethodType(m.Type),
		Token:    m.Token,
		Valid:    m.Valid,
		Default:  m.IsDefault,
		Metadata: m.Metadata,
	}, nil
}

// ==================== Plan models ====================

type planModel struct {
	grove.BaseModel `grove:"table:subledger_plans"`

	ID            string            `grove:"id,pk"`
	Name          string            `grove:"name"`
	Slug          string            `grove:"slug"`
	Description   string            `grove:"description"`
	PriceCents    int64             `grove:"price_cents"`
	PriceCurrency string            `grove:"price_currency"`
	Interval      string            `grove:"interval"`
	Status        string            `grove:"status"`
	TrialDays     int               `grove:"trial_days"`
	Version       int               `grove:"version"`
	SupersededBy  string            `grove:"superseded_by"`
	Metadata      map[string]string `grove:"metadata,type:jsonb"`
	CreatedAt     time.Time         `grove:"created_at"`
	UpdatedAt     time.Time         `grove:"updated_at"`
}

func toPlanModel(p *plan.Plan) *planModel {
	m := &planModel{
		ID:            p.ID.String(),
		Name:          p.Name,
		Slug:          p.Slug,
		Description:   p.Description,
		PriceCents:    p.Price.Amount,
		PriceCurrency: p.Price.Currency,
		Interval:      string(p.Interval),
		Status:        string(p.Status),
		TrialDays:     p.TrialDays,
		Version:       p.Version,
		Metadata:      p.Metadata,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
	if !p.SupersededBy.IsNil() {
		m.SupersededBy = p.SupersededBy.String()
	}
	return m
}

func fromPlanModel(m *planModel) (*plan.Plan, error) {
	planID, err := id.ParsePlanID(m.ID)
	if err != nil {
		return nil, err
	}

	supersededBy := id.Nil
	if m.SupersededBy != "" {
		supersededBy, err = id.ParsePlanID(m.SupersededBy)
		if err != nil {
			return nil, err
		}
	}

	return &plan.Plan{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:           planID,
		Name:         m.Name,
		Slug:         m.Slug,
		Description:  m.Description,
		Price:        types.Money{Amount: m.PriceCents, Currency: m.PriceCurrency},
		Interval:     plan.Interval(m.Interval),
		Status:       plan.Status(m.Status),
		TrialDays:    m.TrialDays,
		Version:      m.Version,
		SupersededBy: supersededBy,
		Metadata:     m.Metadata,
	}, nil
}

// ==================== Plan cache models ====================

type planCacheModel struct {
	grove.BaseModel `grove:"table:subledger_plan_cache"`

	PlanID    string          `grove:"plan_id,pk"`
	Payload   json.RawMessage `grove:"payload,type:jsonb"`
	ExpiresAt time.Time       `grove:"expires_at"`
	CreatedAt time.Time       `grove:"created_at"`
}

func toPlanCacheModel(p *plan.Plan, expiresAt time.Time) *planCacheModel {
	payload, _ := json.Marshal(p) //nolint:errcheck // best-effort
	return &planCacheModel{
		PlanID:    p.ID.String(),
		Payload:   payload,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
}

func fromPlanCacheModel(m *planCacheModel) (*plan.Plan, error) {
	p := new(plan.Plan)
	if err := json.Unmarshal(m.Payload, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ==================== Coupon models ====================

type couponModel struct {
	grove.BaseModel `grove:"table:subledger_coupons"`

	ID             string            `grove:"id,pk"`
	Code           string            `grove:"code"`
	Name           string            `grove:"name"`
	Type           string            `grove:"type"`
	Percentage     int64             `grove:"percentage"`
	AmountCents    int64             `grove:"amount_cents"`
	AmountCurrency string            `grove:"amount_currency"`
	MaxRedemptions int               `grove:"max_redemptions"`
	TimesRedeemed  int               `grove:"times_redeemed"`
	ValidFrom      *time.Time        `grove:"valid_from"`
	ValidUntil     *time.Time        `grove:"valid_until"`
	Metadata       map[string]string `grove:"metadata,type:jsonb"`
	CreatedAt      time.Time         `grove:"created_at"`
	UpdatedAt      time.Time         `grove:"updated_at"`
}

func toCouponModel(c *coupon.Coupon) *couponModel {
	return &couponModel{
		ID:             c.ID.String(),
		Code:           c.Code,
		Name:           c.Name,
		Type:           string(c.Type),
		Percentage:     c.Percentage,
		AmountCents:    c.Amount.Amount,
		AmountCurrency: c.Amount.Currency,
		MaxRedemptions: c.MaxRedemptions,
		TimesRedeemed:  c.TimesRedeemed,
		ValidFrom:      c.ValidFrom,
		ValidUntil:     c.ValidUntil,
		Metadata:       c.Metadata,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func fromCouponModel(m *couponModel) (*coupon.Coupon, error) {
	couponID, err := id.ParseCouponID(m.ID)
	if err != nil {
		return nil, err
	}

	return &coupon.Coupon{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             couponID,
		Code:           m.Code,
		Name:           m.Name,
		Type:           coupon.Type(m.Type),
		Percentage:     m.Percentage,
		Amount:         types.Money{Amount: m.AmountCents, Currency: m.AmountCurrency},
		MaxRedemptions: m.MaxRedemptions,
		TimesRedeemed:  m.TimesRedeemed,
		ValidFrom:      m.ValidFrom,
		ValidUntil:     m.ValidUntil,
		Metadata:       m.Metadata,
	}, nil
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:subledger_subscriptions"`

	ID                 string            `grove:"id,pk"`
	UserID             string            `grove:"user_id"`
	PlanID             string            `grove:"plan_id"`
	Status             string            `grove:"status"`
	ProratedCents      *int64            `grove:"prorated_cents"`
	ProratedCurrency   string            `grove:"prorated_currency"`
	CurrentPeriodStart time.Time         `grove:"current_period_start"`
	CurrentPeriodEnd   time.Time         `grove:"current_period_end"`
	TrialStart         *time.Time        `grove:"trial_start"`
	TrialEnd           *time.Time        `grove:"trial_end"`
	CanceledAt         *time.Time        `grove:"canceled_at"`
	EndedAt            *time.Time        `grove:"ended_at"`
	FailedAttempts     int               `grove:"failed_attempts"`
	FirstFailureAt     *time.Time        `grove:"first_failure_at"`
	CouponIDs          json.RawMessage   `grove:"coupon_ids,type:jsonb"`
	Metadata           map[string]string `grove:"metadata,type:jsonb"`
	CreatedAt          time.Time         `grove:"created_at"`
	UpdatedAt          time.Time         `grove:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	couponIDs, _ := json.Marshal(s.CouponIDs) //nolint:errcheck // best-effort

	m := &subscriptionModel{
		ID:                 s.ID.String(),
		UserID:             s.UserID.String(),
		PlanID:             s.PlanID.String(),
		Status:             string(s.Status),
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		TrialStart:         s.TrialStart,
		TrialEnd:           s.TrialEnd,
		CanceledAt:         s.CanceledAt,
		EndedAt:            s.EndedAt,
		FailedAttempts:     s.FailedAttempts,
		FirstFailureAt:     s.FirstFailureAt,
		CouponIDs:          couponIDs,
		Metadata:           s.Metadata,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
	if s.ProratedAmount != nil {
		cents := s.ProratedAmount.Amount
		m.ProratedCents = &cents
		m.ProratedCurrency = s.ProratedAmount.Currency
	}
	return m
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}
	userID, err := id.ParseUserID(m.UserID)
	if err != nil {
		return nil, err
	}
	planID, err := id.ParsePlanID(m.PlanID)
	if err != nil {
		return nil, err
	}

	var couponIDs []id.CouponID
	if len(m.CouponIDs) > 0 {
		_ = json.Unmarshal(m.CouponIDs, &couponIDs) //nolint:errcheck // best-effort
	}

	var prorated *types.Money
	if m.ProratedCents != nil {
		prorated = &types.Money{Amount: *m.ProratedCents, Currency: m.ProratedCurrency}
	}

	return &subscription.Subscription{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                 subID,
		UserID:             userID,
		PlanID:             planID,
		Status:             subscription.Status(m.Status),
		ProratedAmount:     prorated,
		CurrentPeriodStart: m.CurrentPeriodStart,
		CurrentPeriodEnd:   m.CurrentPeriodEnd,
		TrialStart:         m.TrialStart,
		TrialEnd:           m.TrialEnd,
		CanceledAt:         m.CanceledAt,
		EndedAt:            m.EndedAt,
		FailedAttempts:     m.FailedAttempts,
		FirstFailureAt:     m.FirstFailureAt,
		CouponIDs:          couponIDs,
		Metadata:           m.Metadata,
	}, nil
}

// ==================== Transaction models ====================

type transactionModel struct {
	grove.BaseModel `grove:"table:subledger_transactions"`

	ID             string            `grove:"id,pk"`
	SubscriptionID string            `grove:"subscription_id"`
	Type           string            `grove:"type"`
	AmountCents    int64             `grove:"amount_cents"`
	AmountCurrency string            `grove:"amount_currency"`
	State          string            `grove:"state"`
	BackendRef     string            `grove:"backend_ref"`
	RefundedFrom   string            `grove:"refunded_from"`
	CouponIDs      json.RawMessage   `grove:"coupon_ids,type:jsonb"`
	Metadata       map[string]string `grove:"metadata,type:jsonb"`
	CreatedAt      time.Time         `grove:"created_at"`
	UpdatedAt      time.Time         `grove:"updated_at"`
}

func toTransactionModel(t *transaction.Transaction) *transactionModel {
	couponIDs, _ := json.Marshal(t.CouponIDs) //nolint:errcheck // best-effort

	m := &transactionModel{
		ID:             t.ID.String(),
		SubscriptionID: t.SubscriptionID.String(),
		Type:           string(t.Type),
		AmountCents:    t.Amount.Amount,
		AmountCurrency: t.Amount.Currency,
		State:          string(t.State),
		BackendRef:     t.BackendRef,
		CouponIDs:      couponIDs,
		Metadata:       t.Metadata,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
	if !t.RefundedFrom.IsNil() {
		m.RefundedFrom = t.RefundedFrom.String()
	}
	return m
}

func fromTransactionModel(m *transactionModel) (*transaction.Transaction, error) {
	txnID, err := id.ParseTransactionID(m.ID)
	if err != nil {
		return nil, err
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, err
	}

	refundedFrom := id.Nil
	if m.RefundedFrom != "" {
		refundedFrom, err = id.ParseTransactionID(m.RefundedFrom)
		if err != nil {
			return nil, err
		}
	}

	var couponIDs []id.CouponID
	if len(m.CouponIDs) > 0 {
		_ = json.Unmarshal(m.CouponIDs, &couponIDs) //nolint:errcheck // best-effort
	}

	return &transaction.Transaction{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             txnID,
		SubscriptionID: subID,
		Type:           transaction.Type(m.Type),
		Amount:         types.Money{Amount: m.AmountCents, Currency: m.AmountCurrency},
		State:          transaction.State(m.State),
		BackendRef:     m.BackendRef,
		RefundedFrom:   refundedFrom,
		CouponIDs:      couponIDs,
		Metadata:       m.Metadata,
	}, nil
}

// ==================== Transaction event models ====================

type transactionEventModel struct {
	grove.BaseModel `grove:"table:subledger_transaction_events"`

	ID            string            `grove:"id,pk"`
	TransactionID string            `grove:"transaction_id"`
	Type          string            `grove:"type"`
	Timestamp     time.Time         `grove:"timestamp"`
	Code          string            `grove:"code"`
	Metadata      map[string]string `grove:"metadata,type:jsonb"`
}

func toTransactionEventModel(e *transaction.Event) *transactionEventModel {
	return &transactionEventModel{
		ID:            e.ID.String(),
		TransactionID: e.TransactionID.String(),
		Type:          string(e.Type),
		Timestamp:     e.Timestamp,
		Code:          e.Code,
		Metadata:      e.Metadata,
	}
}

func fromTransactionEventModel(m *transactionEventModel) (*transaction.Event, error) {
	eventID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, err
	}
	txnID, err := id.ParseTransactionID(m.TransactionID)
	if err != nil {
		return nil, err
	}

	return &transaction.Event{
		ID:            eventID,
		TransactionID: txnID,
		Type:          transaction.EventType(m.Type),
		Timestamp:     m.Timestamp,
		Code:          m.Code,
		Metadata:      m.Metadata,
	}, nil
}
