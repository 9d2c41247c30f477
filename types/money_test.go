package types

import (
	"testing"
)

func TestMoneyArithmetic(t *testing.T) {
	tests := []struct {
		name string
		op   func() Money
		want Money
	}{
		{
			name: "add same currency",
			op:   func() Money { return EUR(1000).Add(EUR(500)) },
			want: EUR(1500),
		},
		{
			name: "subtract same currency",
			op:   func() Money { return EUR(1000).Subtract(EUR(300)) },
			want: EUR(700),
		},
		{
			name: "subtract below zero",
			op:   func() Money { return EUR(300).Subtract(EUR(1000)) },
			want: EUR(-700),
		},
		{
			name: "multiply",
			op:   func() Money { return EUR(250).Multiply(4) },
			want: EUR(1000),
		},
		{
			name: "negate",
			op:   func() Money { return EUR(500).Negate() },
			want: EUR(-500),
		},
		{
			name: "abs of negative",
			op:   func() Money { return EUR(-500).Abs() },
			want: EUR(500),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.op()
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMoneyAddPanicsOnCurrencyMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on currency mismatch")
		}
	}()

	EUR(100).Add(USD(100))
}

func TestMoneyScale(t *testing.T) {
	tests := []struct {
		name     string
		amount   Money
		num, den int64
		want     Money
	}{
		{"half", EUR(3000), 15, 30, EUR(1500)},
		{"full period", EUR(3000), 30, 30, EUR(3000)},
		{"zero numerator", EUR(3000), 0, 30, EUR(0)},
		{"rounds toward zero", EUR(1000), 1, 3, EUR(333)},
		{"midpoint upgrade credit", EUR(3000) /* 30.00 */, 15, 30, EUR(1500)},
		{"negative amount", EUR(-3000), 15, 30, EUR(-1500)},
		{"large values multiply before divide", EUR(1_000_000_000), 7, 30, EUR(233_333_333)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.amount.Scale(tt.num, tt.den)
			if !got.Equal(tt.want) {
				t.Errorf("Scale(%d, %d) = %v, want %v", tt.num, tt.den, got, tt.want)
			}
		})
	}
}

func TestMoneyScalePanicsOnZeroDenominator(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on zero denominator")
		}
	}()

	EUR(100).Scale(1, 0)
}

func TestMoneyComparisons(t *testing.T) {
	if !EUR(0).IsZero() {
		t.Error("EUR(0).IsZero() = false")
	}

	if !EUR(100).IsPositive() {
		t.Error("EUR(100).IsPositive() = false")
	}

	if !EUR(-100).IsNegative() {
		t.Error("EUR(-100).IsNegative() = false")
	}

	if !EUR(100).LessThan(EUR(200)) {
		t.Error("EUR(100).LessThan(EUR(200)) = false")
	}

	if !EUR(200).GreaterThan(EUR(100)) {
		t.Error("EUR(200).GreaterThan(EUR(100)) = false")
	}

	if got := EUR(100).Max(EUR(200)); !got.Equal(EUR(200)) {
		t.Errorf("Max = %v, want %v", got, EUR(200))
	}
}

func TestMoneyFormat(t *testing.T) {
	tests := []struct {
		name  string
		money Money
		want  string
	}{
		{"euros", EUR(2999), "€29.99"},
		{"dollars", USD(1050), "$10.50"},
		{"pounds", GBP(99), "£0.99"},
		{"negative", EUR(-500), "€-5.00"},
		{"zero", Zero("eur"), "€0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.money.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSum(t *testing.T) {
	total := Sum(EUR(100), EUR(200), EUR(300))
	if !total.Equal(EUR(600)) {
		t.Errorf("Sum = %v, want %v", total, EUR(600))
	}

	empty := Sum()
	if !empty.IsZero() {
		t.Errorf("empty Sum = %v, want zero", empty)
	}
}
