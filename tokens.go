package tarif

import (
	"context"

	"github.com/xraph/tarif/id"
	"github.com/xraph/tarif/token"
	"github.com/xraph/tarif/types"
)

// Balance reports a user's current token balance: the sum of every
// transaction on their ledger.
func (e *Engine) Balance(ctx context.Context, userID string) (*token.Balance, error) {
	total, err := e.store.TokenBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &token.Balance{
		UserID: userID,
		Tokens: total,
		AsOf:   e.now(),
	}, nil
}

// CreditTokens adds promotional tokens to a user's ledger.
func (e *Engine) CreditTokens(ctx context.Context, userID string, amount int64, note string) (*token.Transaction, error) {
	if amount <= 0 {
		return nil, ValidationError{Field: "amount", Message: "must be positive"}
	}

	txn := &token.Transaction{
		Entity: types.NewEntityAt(e.now()),
		ID:     id.NewTokenTransactionID(),
		UserID: userID,
		Type:   token.TypeBonus,
		Amount: amount,
		Note:   note,
	}
	if err := e.store.AppendTransaction(ctx, txn); err != nil {
		return nil, err
	}

	e.plugins.EmitTokensCredited(ctx, txn)
	return txn, nil
}

// DebitTokens spends tokens from a user's ledger. Fails with
// ErrInsufficientTokens when the balance cannot cover the amount; the
// balance check and the write are atomic in the store.
func (e *Engine) DebitTokens(ctx context.Context, userID string, amount int64, note string) (*token.Transaction, error) {
	if amount <= 0 {
		return nil, ValidationError{Field: "amount", Message: "must be positive"}
	}

	txn := &token.Transaction{
		Entity: types.NewEntityAt(e.now()),
		ID:     id.NewTokenTransactionID(),
		UserID: userID,
		Type:   token.TypeUsage,
		Amount: -amount,
		Note:   note,
	}
	if err := e.store.AppendDebit(ctx, txn); err != nil {
		return nil, err
	}

	e.plugins.EmitTokensDebited(ctx, txn)
	return txn, nil
}

// AdjustTokens corrects a user's balance by a signed amount, e.g. for
// support interventions. Negative adjustments are bounded by the
// available balance like any other debit.
func (e *Engine) AdjustTokens(ctx context.Context, userID string, amount int64, note string) (*token.Transaction, error) {
	if amount == 0 {
		return nil, ValidationError{Field: "amount", Message: "must be non-zero"}
	}

	txn := &token.Transaction{
		Entity: types.NewEntityAt(e.now()),
		ID:     id.NewTokenTransactionID(),
		UserID: userID,
		Type:   token.TypeAdjustment,
		Amount: amount,
		Note:   note,
	}

	if amount < 0 {
		if err := e.store.AppendDebit(ctx, txn); err != nil {
			return nil, err
		}
		e.plugins.EmitTokensDebited(ctx, txn)
		return txn, nil
	}

	if err := e.store.AppendTransaction(ctx, txn); err != nil {
		return nil, err
	}
	e.plugins.EmitTokensCredited(ctx, txn)
	return txn, nil
}

// ListTransactions lists a user's ledger entries.
func (e *Engine) ListTransactions(ctx context.Context, userID string, opts token.ListOpts) ([]*token.Transaction, error) {
	return e.store.ListTransactions(ctx, userID, opts)
}

// ListBundlePurchases lists a user's token bundle purchases.
func (e *Engine) ListBundlePurchases(ctx context.Context, userID string) ([]*token.BundlePurchase, error) {
	return e.store.ListBundlePurchases(ctx, userID)
}
