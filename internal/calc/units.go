package calc

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/argenta/argenta-backend/internal/errs"
)

// ToDecimal renders a fixed-point integer with the given decimals as a
// human-readable decimal, e.g. 1500e18 at 18 decimals -> 1500.
func ToDecimal(x *uint256.Int, decimals uint8) decimal.Decimal {
	if x == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(x.ToBig(), -int32(decimals))
}

// FromDecimal parses a human-readable amount into fixed-point units. Fractions
// finer than the token's decimals and negative values are rejected.
func FromDecimal(d decimal.Decimal, decimals uint8) (*uint256.Int, error) {
	if d.IsNegative() {
		return nil, fmt.Errorf("negative amount %s: %w", d, errs.ErrInvalidAmount)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %s has more than %d decimals: %w", d, decimals, errs.ErrInvalidAmount)
	}
	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("amount %s overflows: %w", d, errs.ErrInvalidAmount)
	}
	return v, nil
}

// ParseAmount accepts a decimal string such as "1.5" and scales it.
func ParseAmount(s string, decimals uint8) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, errs.ErrInvalidAmount)
	}
	return FromDecimal(d, decimals)
}
