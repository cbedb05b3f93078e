package account

import (
	"context"

	"github.com/xraph/subledger/id"
)

type Store interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, userID id.UserID) (*User, error)
	UpdateUser(ctx context.Context, u *User) error

	CreatePaymentMethod(ctx context.Context, pm *PaymentMethod) error
	GetPaymentMethod(ctx context.Context, pmID id.PaymentMethodID) (*PaymentMethod, error)
	GetDefaultPaymentMethod(ctx context.Context, userID id.UserID) (*PaymentMethod, error)
	ListPaymentMethods(ctx context.Context, userID id.UserID) ([]*PaymentMethod, error)
	UpdatePaymentMethod(ctx context.Context, pm *PaymentMethod) error
}
