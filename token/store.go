package token

import (
	"context"

	"github.com/xraph/tarif/id"
)

// Store is the token ledger persistence interface. The ledger is
// append-only; transactions are never updated or deleted.
type Store interface {
	// Append writes a credit transaction (Amount > 0).
	Append(ctx context.Context, txn *Transaction) error

	// AppendDebit writes a debit transaction (Amount < 0), failing
	// with an insufficient-balance error when the user's balance would
	// go negative. The balance check and the write are atomic.
	AppendDebit(ctx context.Context, txn *Transaction) error

	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]*Transaction, error)
	BalanceOf(ctx context.Context, userID string) (int64, error)

	CreateBundlePurchase(ctx context.Context, p *BundlePurchase) error
	GetBundlePurchase(ctx context.Context, purchaseID id.BundlePurchaseID) (*BundlePurchase, error)
	ListBundlePurchases(ctx context.Context, userID string) ([]*BundlePurchase, error)
}

// ListOpts filters transaction listings.
type ListOpts struct {
	Type   TransactionType
	Limit  int
	Offset int
}
