package tarif_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/xraph/tarif"
	"github.com/xraph/tarif/token"
)

func TestTokenLedger(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	t.Run("CreditAndDebit", func(t *testing.T) {
		if _, err := e.CreditTokens(ctx, "u1", 100, "welcome bonus"); err != nil {
			t.Fatal(err)
		}
		if _, err := e.DebitTokens(ctx, "u1", 30, "api usage"); err != nil {
			t.Fatal(err)
		}

		bal, err := e.Balance(ctx, "u1")
		if err != nil {
			t.Fatal(err)
		}
		if bal.Tokens != 70 {
			t.Fatalf("balance = %d, want 70", bal.Tokens)
		}
	})

	t.Run("BalanceIsLedgerSum", func(t *testing.T) {
		txns, err := e.ListTransactions(ctx, "u1", token.ListOpts{})
		if err != nil {
			t.Fatal(err)
		}
		var sum int64
		for _, txn := range txns {
			sum += txn.Amount
		}
		bal, err := e.Balance(ctx, "u1")
		if err != nil {
			t.Fatal(err)
		}
		if bal.Tokens != sum {
			t.Fatalf("balance = %d, ledger sum = %d", bal.Tokens, sum)
		}
	})

	t.Run("DebitTypeAndSign", func(t *testing.T) {
		txn, err := e.DebitTokens(ctx, "u1", 10, "")
		if err != nil {
			t.Fatal(err)
		}
		if txn.Type != token.TypeUsage {
			t.Fatalf("type = %s, want usage", txn.Type)
		}
		if txn.Amount != -10 {
			t.Fatalf("amount = %d, want -10", txn.Amount)
		}
	})

	t.Run("NonPositiveAmountsRejected", func(t *testing.T) {
		if _, err := e.CreditTokens(ctx, "u1", 0, ""); err == nil {
			t.Fatal("expected validation error for zero credit")
		}
		if _, err := e.DebitTokens(ctx, "u1", -5, ""); err == nil {
			t.Fatal("expected validation error for negative debit")
		}
	})

	t.Run("InsufficientBalance", func(t *testing.T) {
		_, err := e.DebitTokens(ctx, "u2", 1, "")
		if !errors.Is(err, tarif.ErrInsufficientTokens) {
			t.Fatalf("got %v, want ErrInsufficientTokens", err)
		}
	})
}

func TestAdjustTokens(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	up, err := e.AdjustTokens(ctx, "u1", 25, "support goodwill")
	if err != nil {
		t.Fatal(err)
	}
	if up.Type != token.TypeAdjustment {
		t.Fatalf("type = %s, want adjustment", up.Type)
	}
	if up.Amount != 25 {
		t.Fatalf("amount = %d, want 25", up.Amount)
	}

	down, err := e.AdjustTokens(ctx, "u1", -10, "billing correction")
	if err != nil {
		t.Fatal(err)
	}
	if down.Type != token.TypeAdjustment || down.Amount != -10 {
		t.Fatalf("got %s/%d, want adjustment/-10", down.Type, down.Amount)
	}

	if _, err := e.AdjustTokens(ctx, "u1", 0, ""); err == nil {
		t.Fatal("expected validation error for zero adjustment")
	}

	if _, err := e.AdjustTokens(ctx, "u1", -1000, ""); !errors.Is(err, tarif.ErrInsufficientTokens) {
		t.Fatalf("got %v, want ErrInsufficientTokens", err)
	}

	bal, err := e.Balance(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if bal.Tokens != 15 {
		t.Fatalf("balance = %d, want 15", bal.Tokens)
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.CreditTokens(ctx, "u1", 50, "seed"); err != nil {
		t.Fatal(err)
	}

	const workers = 100

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.DebitTokens(ctx, "u1", 1, ""); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 50 {
		t.Fatalf("succeeded = %d, want exactly the seeded 50", succeeded)
	}

	bal, err := e.Balance(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if bal.Tokens != 0 {
		t.Fatalf("balance = %d, want 0 and never negative", bal.Tokens)
	}
}
