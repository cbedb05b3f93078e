package subscription

import (
	"context"
	"time"

	"github.com/xraph/subledger/id"
)

type Store interface {
	Create(ctx context.Context, s *Subscription) error
	Get(ctx context.Context, subID id.SubscriptionID) (*Subscription, error)
	GetActive(ctx context.Context, userID id.UserID) (*Subscription, error)
	List(ctx context.Context, userID id.UserID, opts ListOpts) ([]*Subscription, error)
	Update(ctx context.Context, s *Subscription) error
	Cancel(ctx context.Context, subID id.SubscriptionID, canceledAt time.Time) error

	// AttachCoupon records the many-to-many link between a subscription
	// and a coupon. Attachment does not redeem: redemption happens
	// atomically with transaction creation.
	AttachCoupon(ctx context.Context, subID id.SubscriptionID, couponID id.CouponID) error
	DetachCoupon(ctx context.Context, subID id.SubscriptionID, couponID id.CouponID) error
}

type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}
