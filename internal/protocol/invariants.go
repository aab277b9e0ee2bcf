package protocol

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/argenta/argenta-backend/internal/vault"
)

var ErrInvariant = errors.New("invariant violated")

// CheckInvariants verifies the cross-component accounting identities:
//
//   - a closed position holds no collateral and no debt
//   - per asset, position balances sum to the registry total and to the
//     vault's custody balance
//   - principals sum to the debt engine's total
//   - stable supply never exceeds total debt, since interest adds debt
//     without minting
//
// It must run between actions; a concurrent action may be observed half way.
func (p *Protocol) CheckInvariants() error {
	var violations []error

	for _, pos := range p.Vault.Positions() {
		if pos.State != vault.StateClosed {
			continue
		}
		if len(pos.HeldAssets()) > 0 {
			violations = append(violations, fmt.Errorf("closed position %d holds collateral: %w", pos.ID, ErrInvariant))
		}
		if !pos.Principal.IsZero() {
			violations = append(violations, fmt.Errorf("closed position %d owes %s: %w", pos.ID, pos.Principal.Dec(), ErrInvariant))
		}
	}

	totals := p.Vault.CollateralTotals()
	for _, asset := range p.Registry.Assets() {
		held := totals[asset.Address]
		if held == nil {
			held = new(uint256.Int)
		}
		if !held.Eq(asset.TotalDeposited) {
			violations = append(violations, fmt.Errorf("asset %s: positions hold %s, registry tracks %s: %w",
				asset.Address.Hex(), held.Dec(), asset.TotalDeposited.Dec(), ErrInvariant))
		}
		token, err := p.Token(asset.Address)
		if err != nil {
			continue
		}
		if custody := token.BalanceOf(p.Vault.Address()); !custody.Eq(held) {
			violations = append(violations, fmt.Errorf("asset %s: vault custodies %s, positions hold %s: %w",
				asset.Address.Hex(), custody.Dec(), held.Dec(), ErrInvariant))
		}
	}

	total := p.Debt.TotalDebt()
	if sum := p.Debt.SumPrincipals(); !sum.Eq(total) {
		violations = append(violations, fmt.Errorf("principals sum to %s, total debt %s: %w", sum.Dec(), total.Dec(), ErrInvariant))
	}
	if supply := p.Stable.TotalSupply(); supply.Gt(total) {
		violations = append(violations, fmt.Errorf("stable supply %s exceeds total debt %s: %w", supply.Dec(), total.Dec(), ErrInvariant))
	}

	return errors.Join(violations...)
}
