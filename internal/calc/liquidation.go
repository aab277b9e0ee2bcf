package calc

import (
	"github.com/holiman/uint256"
)

// SeizeValue is the collateral value owed to a liquidator who repays debt:
// debt * (10000 + bonusBps) / 10000.
func SeizeValue(debt *uint256.Int, bonusBps uint64) *uint256.Int {
	v, overflow := new(uint256.Int).MulDivOverflow(debt, uint256.NewInt(BpsDenominator+bonusBps), bps)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return v
}

// ProRata returns amount * part / whole rounded down. A zero whole yields zero.
func ProRata(amount, part, whole *uint256.Int) *uint256.Int {
	if whole.IsZero() {
		return new(uint256.Int)
	}
	if part.Cmp(whole) >= 0 {
		return new(uint256.Int).Set(amount)
	}
	v, _ := new(uint256.Int).MulDivOverflow(amount, part, whole)
	return v
}

// SplitSeizure divides each held balance between the liquidator and the
// owner. When seizeValue covers totalValue the liquidator takes everything;
// otherwise every asset is split in the same seizeValue/totalValue proportion.
// Rounding favours the owner.
func SplitSeizure[K comparable](balances map[K]*uint256.Int, totalValue, seizeValue *uint256.Int) (toLiquidator, toOwner map[K]*uint256.Int) {
	toLiquidator = make(map[K]*uint256.Int, len(balances))
	toOwner = make(map[K]*uint256.Int, len(balances))
	for asset, bal := range balances {
		seized := ProRata(bal, seizeValue, totalValue)
		if totalValue.IsZero() {
			seized = new(uint256.Int).Set(bal)
		}
		toLiquidator[asset] = seized
		toOwner[asset] = new(uint256.Int).Sub(bal, seized)
	}
	return toLiquidator, toOwner
}
