// Package interest implements the flat linear interest rate model.
package interest

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/argenta/argenta-backend/internal/calc"
	"github.com/argenta/argenta-backend/internal/errs"
)

// SecondsPerYear is the accrual year (365 days).
const SecondsPerYear = 31_536_000

var yearWad = new(uint256.Int).Mul(uint256.NewInt(SecondsPerYear), calc.WAD)

// Model accrues simple interest at an annual rate scaled by 1e18
// (5e16 = 5% per year). The rate is fixed for the model's lifetime.
type Model struct {
	rate *uint256.Int
}

func New(annualRate *uint256.Int) (*Model, error) {
	if annualRate == nil {
		return nil, fmt.Errorf("interest model: missing annual rate: %w", errs.ErrInvalidConfig)
	}
	return &Model{rate: new(uint256.Int).Set(annualRate)}, nil
}

func (m *Model) AnnualRate() *uint256.Int {
	return new(uint256.Int).Set(m.rate)
}

// Accrue returns principal * rate * elapsed / (SecondsPerYear * 1e18),
// rounded down. The product is carried at 512 bits so short windows on small
// principals keep their precision; a result beyond 256 bits saturates.
func (m *Model) Accrue(principal *uint256.Int, elapsedSeconds uint64) *uint256.Int {
	if principal.IsZero() || m.rate.IsZero() || elapsedSeconds == 0 {
		return new(uint256.Int)
	}
	rateTime, overflow := new(uint256.Int).MulOverflow(m.rate, uint256.NewInt(elapsedSeconds))
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	out, overflow := new(uint256.Int).MulDivOverflow(principal, rateTime, yearWad)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return out
}
