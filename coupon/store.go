package coupon

import (
	"context"

	"github.com/xraph/subledger/id"
)

type Store interface {
	Create(ctx context.Context, c *Coupon) error
	Get(ctx context.Context, code string) (*Coupon, error)
	GetByID(ctx context.Context, couponID id.CouponID) (*Coupon, error)
	List(ctx context.Context, opts ListOpts) ([]*Coupon, error)
	Delete(ctx context.Context, couponID id.CouponID) error

	// Redeem atomically increments TimesRedeemed, failing with ErrExhausted
	// when the limit would be exceeded. Implementations must use a
	// compare-and-increment (or serializable transaction): the usage count
	// is shared across subscriptions and must hold under concurrency.
	Redeem(ctx context.Context, couponID id.CouponID) error

	// Release undoes one Redeem. Called when transaction creation fails
	// after the coupon was already counted, keeping the two atomic.
	Release(ctx context.Context, couponID id.CouponID) error
}

type ListOpts struct {
	Active bool
	Limit  int
	Offset int
}
