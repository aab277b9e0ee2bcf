package calc

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/argenta/argenta-backend/internal/errs"
)

const (
	// PriceDecimals is the fixed scale every oracle price is normalized to.
	PriceDecimals = 18
	// BpsDenominator is 100% expressed in basis points.
	BpsDenominator = 10_000
)

var (
	// WAD is 1e18, one whole stable unit.
	WAD = uint256.NewInt(1_000_000_000_000_000_000)
	// MaxRatio is returned for debt-free positions. It never satisfies a
	// below-threshold comparison.
	MaxRatio = new(uint256.Int).SetAllOne()
	// HealthSentinel is the health factor of a debt-free position (2^255).
	HealthSentinel = new(uint256.Int).Lsh(uint256.NewInt(1), 255)

	bps = uint256.NewInt(BpsDenominator)
)

// Pow10 returns 10^n. n above 77 does not fit in 256 bits and panics.
func Pow10(n uint8) *uint256.Int {
	if n > 77 {
		panic(fmt.Sprintf("calc: 10^%d overflows uint256", n))
	}
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(n)))
}

// AssetValue converts an amount of a token with the given decimals into stable
// units using an 18-decimal price. Overflow saturates to MaxRatio's bit
// pattern so oversized positions read as healthy rather than wrapping.
func AssetValue(amount, price *uint256.Int, decimals uint8) *uint256.Int {
	v, overflow := new(uint256.Int).MulDivOverflow(amount, price, Pow10(decimals))
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return v
}

// AddSaturating returns a+b clamped at 2^256-1.
func AddSaturating(a, b *uint256.Int) *uint256.Int {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return sum.SetAllOne()
	}
	return sum
}

// RatioBps computes value * 10000 / debt. A zero debt yields MaxRatio.
func RatioBps(value, debt *uint256.Int) *uint256.Int {
	if debt.IsZero() {
		return new(uint256.Int).Set(MaxRatio)
	}
	r, overflow := new(uint256.Int).MulDivOverflow(value, bps, debt)
	if overflow {
		return new(uint256.Int).Set(MaxRatio)
	}
	return r
}

// HealthFactor computes value * 1e18 / debt. A zero debt yields HealthSentinel.
func HealthFactor(value, debt *uint256.Int) *uint256.Int {
	if debt.IsZero() {
		return new(uint256.Int).Set(HealthSentinel)
	}
	hf, overflow := new(uint256.Int).MulDivOverflow(value, WAD, debt)
	if overflow {
		return new(uint256.Int).Set(HealthSentinel)
	}
	return hf
}

// MeetsRatio reports whether value backs debt at or above requiredBps.
func MeetsRatio(value, debt *uint256.Int, requiredBps uint64) bool {
	return RatioBps(value, debt).CmpUint64(requiredBps) >= 0
}

// BelowThreshold reports whether a position with non-zero debt has fallen
// strictly under thresholdBps.
func BelowThreshold(value, debt *uint256.Int, thresholdBps uint64) bool {
	if debt.IsZero() {
		return false
	}
	return RatioBps(value, debt).LtUint64(thresholdBps)
}

// ValidateCRConstraint fails with ErrUndercollateralized when value no longer
// backs debt at minBps.
func ValidateCRConstraint(value, debt *uint256.Int, minBps uint64) error {
	if !MeetsRatio(value, debt, minBps) {
		return fmt.Errorf("collateral ratio %s bps below minimum %d bps: %w",
			RatioBps(value, debt).Dec(), minBps, errs.ErrUndercollateralized)
	}
	return nil
}

// NormalizePrice rescales a raw feed answer with the given decimals to
// PriceDecimals. Non-positive answers and overflow fail with ErrPriceUnavailable.
func NormalizePrice(answer *big.Int, decimals uint8) (*uint256.Int, error) {
	if answer == nil || answer.Sign() <= 0 {
		return nil, fmt.Errorf("non-positive answer %v: %w", answer, errs.ErrPriceUnavailable)
	}
	raw, overflow := uint256.FromBig(answer)
	if overflow {
		return nil, fmt.Errorf("answer exceeds 256 bits: %w", errs.ErrPriceUnavailable)
	}
	switch {
	case decimals == PriceDecimals:
		return raw, nil
	case decimals < PriceDecimals:
		scaled, overflow := new(uint256.Int).MulOverflow(raw, Pow10(PriceDecimals-decimals))
		if overflow {
			return nil, fmt.Errorf("scaling %d-decimal answer overflows: %w", decimals, errs.ErrPriceUnavailable)
		}
		return scaled, nil
	default:
		if decimals > 77 {
			return nil, fmt.Errorf("unsupported feed decimals %d: %w", decimals, errs.ErrPriceUnavailable)
		}
		scaled := new(uint256.Int).Div(raw, Pow10(decimals-PriceDecimals))
		if scaled.IsZero() {
			return nil, fmt.Errorf("answer rounds to zero at %d decimals: %w", decimals, errs.ErrPriceUnavailable)
		}
		return scaled, nil
	}
}

// GoverningBps returns the strictest (largest) requirement among the given
// per-asset thresholds, or 0 when none are supplied.
func GoverningBps(thresholds ...uint64) uint64 {
	var max uint64
	for _, t := range thresholds {
		if t > max {
			max = t
		}
	}
	return max
}
