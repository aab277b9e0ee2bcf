package vault

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/argenta/argenta-backend/internal/calc"
	"github.com/argenta/argenta-backend/internal/errs"
)

type AssetValuation struct {
	Asset  common.Address `json:"asset"`
	Amount *uint256.Int   `json:"amount"`
	Price  *uint256.Int   `json:"price"`
	Value  *uint256.Int   `json:"value"`
}

// Valuation prices a position's collateral against a debt figure. The
// governing thresholds are the strictest among the assets held, so the
// position satisfies every held asset's requirement at once.
type Valuation struct {
	Value           *uint256.Int     `json:"value"`
	Debt            *uint256.Int     `json:"debt"`
	RatioBps        *uint256.Int     `json:"ratioBps"`
	HealthFactor    *uint256.Int     `json:"healthFactor"`
	MinRatioBps     uint64           `json:"minRatioBps"`
	LiqThresholdBps uint64           `json:"liqThresholdBps"`
	Assets          []AssetValuation `json:"assets"`
}

func (v Valuation) HasCollateral() bool {
	return len(v.Assets) > 0
}

// MeetsMinimum reports whether the ratio satisfies the governing minimum.
func (v Valuation) MeetsMinimum() bool {
	return calc.MeetsRatio(v.Value, v.Debt, v.MinRatioBps)
}

// Liquidatable reports whether a position with debt sits strictly below the
// governing liquidation threshold.
func (v Valuation) Liquidatable() bool {
	return calc.BelowThreshold(v.Value, v.Debt, v.LiqThresholdBps)
}

// valuate prices every non-zero balance in collateral with a fresh oracle
// read and evaluates it against debt.
func (m *Manager) valuate(ctx context.Context, collateral map[common.Address]*uint256.Int, debt *uint256.Int) (Valuation, error) {
	val := Valuation{
		Value: new(uint256.Int),
		Debt:  new(uint256.Int).Set(debt),
	}

	held := Position{Collateral: collateral}.HeldAssets()
	mins := make([]uint64, 0, len(held))
	liqs := make([]uint64, 0, len(held))
	for _, asset := range held {
		params, ok := m.registry.Lookup(asset)
		if !ok {
			return Valuation{}, fmt.Errorf("valuing %s: not registered: %w", asset.Hex(), errs.ErrInvalidAsset)
		}
		token, err := m.book.Get(asset)
		if err != nil {
			return Valuation{}, fmt.Errorf("valuing %s: %w", asset.Hex(), err)
		}
		price, _, err := m.oracle.GetPrice(ctx, asset)
		if err != nil {
			return Valuation{}, fmt.Errorf("valuing %s: %w", asset.Hex(), err)
		}

		amount := collateral[asset]
		value := calc.AssetValue(amount, price, token.Decimals())
		val.Value = calc.AddSaturating(val.Value, value)
		val.Assets = append(val.Assets, AssetValuation{
			Asset:  asset,
			Amount: new(uint256.Int).Set(amount),
			Price:  price,
			Value:  value,
		})
		mins = append(mins, params.MinRatioBps)
		liqs = append(liqs, params.LiqThresholdBps)
	}

	val.MinRatioBps = calc.GoverningBps(mins...)
	val.LiqThresholdBps = calc.GoverningBps(liqs...)
	val.RatioBps = calc.RatioBps(val.Value, val.Debt)
	val.HealthFactor = calc.HealthFactor(val.Value, val.Debt)
	return val, nil
}
