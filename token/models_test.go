package token

import "testing"

func TestTransactionTypeCredit(t *testing.T) {
	credits := []TransactionType{TypePurchase, TypeSubscriptionGrant, TypeBonus}
	for _, tt := range credits {
		if !tt.Credit() {
			t.Errorf("%s.Credit() = false, want true", tt)
		}
	}

	debits := []TransactionType{TypeUsage, TypeAdjustment, TypeRefund}
	for _, tt := range debits {
		if tt.Credit() {
			t.Errorf("%s.Credit() = true, want false", tt)
		}
	}
}

func TestSumOf(t *testing.T) {
	txns := []Transaction{
		{Type: TypeSubscriptionGrant, Amount: 500},
		{Type: TypePurchase, Amount: 100},
		{Type: TypeUsage, Amount: -250},
		{Type: TypeRefund, Amount: -100},
	}

	if got := SumOf(txns); got != 250 {
		t.Errorf("SumOf = %d, want 250", got)
	}

	if got := SumOf(nil); got != 0 {
		t.Errorf("SumOf(nil) = %d, want 0", got)
	}
}
