package invoice

import (
	"regexp"
	"testing"
	"time"

	"github.com/xraph/tarif/types"
)

func TestInvoiceTotalAndConsistent(t *testing.T) {
	inv := &Invoice{
		Currency: "eur",
		Amount:   types.EUR(4500),
		LineItems: []LineItem{
			{Type: LineItemPlan, Amount: types.EUR(6000)},
			{Type: LineItemProration, Amount: types.EUR(-1500)},
		},
	}

	if got := inv.Total(); !got.Equal(types.EUR(4500)) {
		t.Errorf("Total = %v, want %v", got, types.EUR(4500))
	}

	if !inv.Consistent() {
		t.Error("invoice with matching amount should be consistent")
	}

	inv.Amount = types.EUR(9999)
	if inv.Consistent() {
		t.Error("invoice with mismatched amount should be inconsistent")
	}
}

func TestInvoiceTotalEmpty(t *testing.T) {
	inv := &Invoice{Currency: "eur", Amount: types.EUR(0)}
	if !inv.Consistent() {
		t.Error("empty invoice with zero amount should be consistent")
	}
}

func TestNewNumber(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	pattern := regexp.MustCompile(`^INV-\d+-[0-9a-f]{6}$`)

	seen := make(map[string]bool)
	for range 100 {
		number := NewNumber(now)
		if !pattern.MatchString(number) {
			t.Fatalf("number %q does not match INV-<ts>-<6hex>", number)
		}
		if seen[number] {
			t.Fatalf("duplicate invoice number %q", number)
		}
		seen[number] = true
	}
}

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusPending, false},
		{StatusPaid, false},
		{StatusFailed, false},
		{StatusRefunded, true},
		{StatusLapsed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}
