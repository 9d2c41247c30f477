// Package token implements the append-only token ledger. A user's
// balance is materialized alongside the ledger; credits are positive,
// debits negative.
package token

import (
	"time"

	"github.com/xraph/tarif/id"
	"github.com/xraph/tarif/types"
)

// TransactionType classifies why tokens moved.
type TransactionType string

const (
	// TypePurchase credits tokens from a purchased bundle.
	TypePurchase TransactionType = "purchase"

	// TypeSubscriptionGrant credits tokens for a plan or add-on period.
	TypeSubscriptionGrant TransactionType = "subscription_grant"

	// TypeBonus credits promotional tokens.
	TypeBonus TransactionType = "bonus"

	// TypeUsage debits tokens consumed by the application.
	TypeUsage TransactionType = "usage"

	// TypeAdjustment corrects a balance by hand. Amount carries the
	// sign, so adjustments may credit or debit.
	TypeAdjustment TransactionType = "adjustment"

	// TypeRefund debits tokens taken back when a payment is refunded.
	TypeRefund TransactionType = "refund"
)

// Credit reports whether the type adds tokens. Adjustments are signed
// and counted as credits only when the amount is.
func (t TransactionType) Credit() bool {
	switch t {
	case TypePurchase, TypeSubscriptionGrant, TypeBonus:
		return true
	}
	return false
}

// Transaction is one immutable entry in the token ledger. Amount is
// positive for credits and negative for debits.
type Transaction struct {
	types.Entity
	ID        id.TokenTransactionID `json:"id"`
	UserID    string                `json:"user_id"`
	Type      TransactionType       `json:"type"`
	Amount    int64                 `json:"amount"`
	RefID     id.AnyID              `json:"ref_id,omitzero"`
	InvoiceID id.InvoiceID          `json:"invoice_id,omitzero"`
	Note      string                `json:"note,omitempty"`
}

// Clone returns an independent copy of the transaction.
func (t *Transaction) Clone() *Transaction {
	c := *t
	return &c
}

// Balance is a user's materialized token position at a point in time.
type Balance struct {
	UserID string    `json:"user_id"`
	Tokens int64     `json:"tokens"`
	AsOf   time.Time `json:"as_of"`
}

// PurchaseStatus tracks a bundle purchase through its lifecycle.
type PurchaseStatus string

const (
	// PurchasePending awaits payment capture.
	PurchasePending PurchaseStatus = "pending"

	// PurchaseCompleted has been paid and its tokens credited.
	PurchaseCompleted PurchaseStatus = "completed"

	// PurchaseRefunded was paid and then clawed back.
	PurchaseRefunded PurchaseStatus = "refunded"

	// PurchaseCancelled never settled; its invoice lapsed.
	PurchaseCancelled PurchaseStatus = "cancelled"
)

// BundlePurchase records one acquisition of a token bundle.
// TokensCredited flips exactly once, when capture credits the ledger,
// so a replayed capture never grants twice.
type BundlePurchase struct {
	types.Entity
	ID             id.BundlePurchaseID `json:"id"`
	UserID         string              `json:"user_id"`
	BundleID       id.TokenBundleID    `json:"bundle_id"`
	InvoiceID      id.InvoiceID        `json:"invoice_id"`
	Tokens         int64               `json:"tokens"`
	Price          types.Money         `json:"price"`
	Status         PurchaseStatus      `json:"status"`
	TokensCredited bool                `json:"tokens_credited"`
	CompletedAt    *time.Time          `json:"completed_at,omitempty"`
}

// Clone returns an independent copy of the purchase.
func (p *BundlePurchase) Clone() *BundlePurchase {
	c := *p
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// SumOf folds a transaction list into a balance figure.
func SumOf(txns []Transaction) int64 {
	var total int64
	for _, txn := range txns {
		total += txn.Amount
	}
	return total
}
