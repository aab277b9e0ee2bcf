package calc

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/argenta/argenta-backend/internal/errs"
)

// ValidateOracleAge checks if oracle data is fresh enough. A zero maxAge
// disables the check.
func ValidateOracleAge(updatedAt, now time.Time, maxAge time.Duration) error {
	if maxAge <= 0 {
		return nil
	}
	age := now.Sub(updatedAt)
	if age > maxAge {
		return fmt.Errorf("oracle data too stale: %v > %v: %w", age, maxAge, errs.ErrPriceUnavailable)
	}
	return nil
}

// ValidateAmount checks that an amount is present and positive
func ValidateAmount(amount *uint256.Int, operation string) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("invalid %s amount: must be positive: %w", operation, errs.ErrInvalidAmount)
	}
	return nil
}

// ValidateRatioOrder enforces minRatio > liqThreshold > 100%.
func ValidateRatioOrder(minRatioBps, liqThresholdBps uint64) error {
	if liqThresholdBps <= BpsDenominator {
		return fmt.Errorf("liquidation threshold %d bps must exceed %d: %w",
			liqThresholdBps, BpsDenominator, errs.ErrInvalidConfig)
	}
	if minRatioBps <= liqThresholdBps {
		return fmt.Errorf("minimum ratio %d bps must exceed liquidation threshold %d bps: %w",
			minRatioBps, liqThresholdBps, errs.ErrInvalidConfig)
	}
	return nil
}
