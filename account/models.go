// Package account defines users and their tokenized payment methods.
//
// Subledger does not own identity or card data. A User is an opaque record
// referencing an external identity by ExternalRef, and a PaymentMethod holds
// only the backend's token for a stored instrument.
package account

import (
	"github.com/xraph/subledger/id"
	"github.com/xraph/subledger/types"
)

type User struct {
	types.Entity
	ID          id.UserID         `json:"id"`
	ExternalRef string            `json:"external_ref"`
	Email       string            `json:"email,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// MethodType classifies how a payment method settles.
type MethodType string

const (
	MethodCreditCard   MethodType = "credit_card"
	MethodDebitCard    MethodType = "debit_card"
	MethodBankTransfer MethodType = "bank_transfer"
	MethodPayPal       MethodType = "paypal"
	MethodApplePay     MethodType = "apple_pay"
	MethodGooglePay    MethodType = "google_pay"
)

// RequiresCVV reports whether the method type needs CVV verification.
func (t MethodType) RequiresCVV() bool {
	return t == MethodCreditCard || t == MethodDebitCard
}

// Requires3DS reports whether the method type may trigger 3-D Secure.
func (t MethodType) Requires3DS() bool {
	return t == MethodCreditCard || t == MethodDebitCard
}

// IsCard reports whether the method is card-based.
func (t MethodType) IsCard() bool {
	return t == MethodCreditCard || t == MethodDebitCard
}

// IsWallet reports whether the method is a digital wallet.
func (t MethodType) IsWallet() bool {
	return t == MethodPayPal || t == MethodApplePay || t == MethodGooglePay
}

type PaymentMethod struct {
	types.Entity
	ID       id.PaymentMethodID `json:"id"`
	UserID   id.UserID          `json:"user_id"`
	Type     MethodType         `json:"type"`
	Token    string             `json:"token"` // opaque backend reference
	Valid    bool               `json:"valid"`
	Default  bool               `json:"default"`
	Metadata map[string]string  `json:"metadata,omitempty"`
}

// Usable reports whether the method can be charged.
func (pm *PaymentMethod) Usable() bool {
	return pm.Valid && pm.Token != ""
}
