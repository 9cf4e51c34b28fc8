package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyScale is the fixed decimal scale for all monetary values. Balances
// and amounts are stored as int64 minor units (cents) and only converted
// to decimals at the edges.
const MoneyScale = 2

// ToMinorUnits converts a decimal amount to int64 minor units, rounding
// half away from zero at the fixed scale.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Round(MoneyScale).Shift(MoneyScale).IntPart()
}

// FromMinorUnits converts int64 minor units back to an exact decimal.
func FromMinorUnits(units int64) decimal.Decimal {
	return decimal.New(units, -MoneyScale)
}

// ParseAmount parses a caller-supplied amount string into minor units.
// The value must be strictly positive.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("amount must be greater than zero")
	}
	return ToMinorUnits(d), nil
}

// FormatAmount renders minor units as a fixed two-decimal string.
func FormatAmount(units int64) string {
	return FromMinorUnits(units).StringFixed(MoneyScale)
}
