package gateway

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/storefront-reconciler/internal/config"
)

func TestGuardCheck(t *testing.T) {
	g := NewGuard(config.GuardConfig{MinAmount: 1, MaxAmount: 500000, UnitMismatchThreshold: 100000})

	cases := []struct {
		amount string
		want   error
	}{
		{"499.50", nil},
		{"1", nil},
		{"100000", nil},
		{"0", ErrInvalidAmount},
		{"-10", ErrInvalidAmount},
		{"0.50", ErrInvalidAmount},
		{"250000", ErrAmountUnitMismatch},
		{"499900", ErrAmountUnitMismatch},
		{"250001", nil},
		{"50000000", ErrInvalidAmount},
		{"500001", ErrInvalidAmount},
	}
	for _, tc := range cases {
		err := g.Check(decimal.RequireFromString(tc.amount))
		if tc.want == nil && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.amount, err)
		}
		if tc.want != nil && !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.amount, tc.want, err)
		}
	}
}

func TestUnitConversion(t *testing.T) {
	if got := MajorUnits(12345).String(); got != "123.45" {
		t.Fatalf("major units = %s", got)
	}
	if got := MinorUnits(decimal.RequireFromString("123.455")); got != 12346 {
		t.Fatalf("minor units = %d", got)
	}
}
