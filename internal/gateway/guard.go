package gateway

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/storefront-reconciler/internal/config"
)

var hundred = decimal.NewFromInt(100)

// Guard rejects amounts that must never reach a provider.
type Guard struct {
	min       decimal.Decimal
	max       decimal.Decimal
	threshold decimal.Decimal
}

func NewGuard(cfg config.GuardConfig) Guard {
	return Guard{
		min:       decimal.NewFromInt(cfg.MinAmount),
		max:       decimal.NewFromInt(cfg.MaxAmount),
		threshold: decimal.NewFromInt(cfg.UnitMismatchThreshold),
	}
}

// Check validates an amount in major units. The unit-mismatch test runs before the ceiling so a
// value sent in minor units is reported as such rather than as merely too large.
func (g Guard) Check(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, amount)
	}
	if amount.LessThan(g.min) {
		return fmt.Errorf("%w: %s below minimum %s", ErrInvalidAmount, amount, g.min)
	}
	if g.unitMismatch(amount) {
		return fmt.Errorf("%w: %s (did you mean %s?)", ErrAmountUnitMismatch, amount, amount.Div(hundred))
	}
	if amount.GreaterThan(g.max) {
		return fmt.Errorf("%w: %s above ceiling %s", ErrInvalidAmount, amount, g.max)
	}
	return nil
}

func (g Guard) unitMismatch(amount decimal.Decimal) bool {
	if !amount.IsInteger() || !amount.Mod(hundred).IsZero() {
		return false
	}
	if !amount.GreaterThan(g.threshold) {
		return false
	}
	divided := amount.Div(hundred)
	return !divided.LessThan(g.min) && !divided.GreaterThan(g.threshold)
}
