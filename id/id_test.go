package id

import (
	"encoding/json"
	"testing"
)

func TestNewGeneratesValidIDs(t *testing.T) {
	tests := []struct {
		name   string
		gen    func() ID
		prefix Prefix
	}{
		{"plan", NewPlanID, PrefixPlan},
		{"category", NewCategoryID, PrefixCategory},
		{"addon", NewAddOnID, PrefixAddOn},
		{"token bundle", NewTokenBundleID, PrefixTokenBundle},
		{"subscription", NewSubscriptionID, PrefixSubscription},
		{"addon subscription", NewAddOnSubID, PrefixAddOnSub},
		{"invoice", NewInvoiceID, PrefixInvoice},
		{"line item", NewLineItemID, PrefixLineItem},
		{"bundle purchase", NewBundlePurchaseID, PrefixBundlePurchase},
		{"token transaction", NewTokenTransactionID, PrefixTokenTransaction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generated := tt.gen()
			if generated.IsNil() {
				t.Fatal("expected non-nil ID")
			}

			if generated.Prefix() != tt.prefix {
				t.Errorf("Prefix() = %q, want %q", generated.Prefix(), tt.prefix)
			}

			roundTrip, err := Parse(generated.String())
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", generated.String(), err)
			}

			if roundTrip.String() != generated.String() {
				t.Errorf("round trip = %q, want %q", roundTrip.String(), generated.String())
			}
		})
	}
}

func TestNewIsUnique(t *testing.T) {
	seen := make(map[string]bool)

	for range 1000 {
		generated := NewSubscriptionID()
		if seen[generated.String()] {
			t.Fatalf("duplicate ID generated: %s", generated)
		}

		seen[generated.String()] = true
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty string", ""},
		{"garbage", "not-a-typeid!"},
		{"bad suffix", "plan_zzzzzzzzzzzzzzzzzzzzzzzzzz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.input); err == nil {
				t.Errorf("Parse(%q) expected error, got nil", tt.input)
			}
		})
	}
}

func TestParseWithPrefix(t *testing.T) {
	planID := NewPlanID()

	if _, err := ParsePlanID(planID.String()); err != nil {
		t.Errorf("ParsePlanID(%q) error: %v", planID, err)
	}

	if _, err := ParseInvoiceID(planID.String()); err == nil {
		t.Errorf("ParseInvoiceID(%q) expected prefix mismatch error, got nil", planID)
	}
}

func TestNilID(t *testing.T) {
	if !Nil.IsNil() {
		t.Error("Nil.IsNil() = false, want true")
	}

	if Nil.String() != "" {
		t.Errorf("Nil.String() = %q, want empty", Nil.String())
	}

	if Nil.Prefix() != "" {
		t.Errorf("Nil.Prefix() = %q, want empty", Nil.Prefix())
	}
}

func TestJSONRoundTrip(t *testing.T) {
	original := NewInvoiceID()

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var decoded ID
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}

	if decoded.String() != original.String() {
		t.Errorf("round trip = %q, want %q", decoded.String(), original.String())
	}
}

func TestSQLValueAndScan(t *testing.T) {
	original := NewPlanID()

	value, err := original.Value()
	if err != nil {
		t.Fatalf("Value() error: %v", err)
	}

	var scanned ID
	if err := scanned.Scan(value); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}

	if scanned.String() != original.String() {
		t.Errorf("scanned = %q, want %q", scanned, original)
	}

	t.Run("nil scans to Nil", func(t *testing.T) {
		var fromNull ID
		if err := fromNull.Scan(nil); err != nil {
			t.Fatalf("Scan(nil) error: %v", err)
		}

		if !fromNull.IsNil() {
			t.Error("Scan(nil) produced non-nil ID")
		}
	})

	t.Run("nil ID stores NULL", func(t *testing.T) {
		value, err := Nil.Value()
		if err != nil {
			t.Fatalf("Nil.Value() error: %v", err)
		}

		if value != nil {
			t.Errorf("Nil.Value() = %v, want nil", value)
		}
	})
}
