// Package payment defines the contract the ledger needs from an external
// payment backend. Subledger never talks to card networks itself: it hands
// the backend an amount, a stored-instrument token, and an idempotency key
// (the transaction ID), and records what came back.
package payment

import (
	"context"

	"github.com/xraph/subledger/types"
)

// Gateway names for the backends commonly wired behind this interface.
const (
	GatewayStripe    = "stripe"
	GatewayAdyen     = "adyen"
	GatewayBraintree = "braintree"
	GatewayPayPal    = "paypal"
	GatewaySquare    = "square"
	GatewayAuthorize = "authorize"
	GatewayWorldpay  = "worldpay"
)

// ChargeRequest asks the backend to authorize and capture a charge.
type ChargeRequest struct {
	Amount      types.Money
	MethodToken string

	// IdempotencyKey must equal the transaction ID. The backend guarantees
	// at most one financial effect per key regardless of retry count.
	IdempotencyKey string

	Metadata map[string]string
}

// ChargeResult reports the backend's decision. A decline is a result
// (Approved=false with a Code), not an error: errors are reserved for
// transport failures and timeouts, where the outcome is unknown.
type ChargeResult struct {
	Approved   bool
	BackendRef string // backend's settlement reference, set when approved
	Code       string // decline or error code, set when not approved
}

// RefundRequest asks the backend to return funds for an earlier charge.
type RefundRequest struct {
	BackendRef     string // the original charge's settlement reference
	Amount         types.Money
	IdempotencyKey string
}

// RefundResult reports the refund decision, same shape as ChargeResult.
type RefundResult struct {
	Approved   bool
	BackendRef string
	Code       string
}

// Backend is the payment processor the ledger settles against.
//
// Both calls may be slow; the ledger bounds them with a context deadline.
// When a call returns an error the financial outcome is unknown: the
// caller must leave the transaction pending and resolve it later by
// retrying with the same idempotency key, never by issuing a fresh charge.
type Backend interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}
