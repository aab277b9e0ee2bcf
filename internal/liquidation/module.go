// Package liquidation is the permissionless overlay that seizes positions
// whose collateral ratio fell below the liquidation threshold.
package liquidation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/argenta/argenta-backend/internal/access"
	"github.com/argenta/argenta-backend/internal/calc"
	"github.com/argenta/argenta-backend/internal/errs"
	"github.com/argenta/argenta-backend/internal/events"
	"github.com/argenta/argenta-backend/internal/uow"
	"github.com/argenta/argenta-backend/internal/vault"
)

// DefaultBonusBps is the liquidator incentive on top of repaid debt (5%).
const DefaultBonusBps = 500

// Vault is the position manager surface the module seizes through.
type Vault interface {
	Address() common.Address
	Seize(ctx context.Context, caller, liquidator common.Address, id uint64, plan vault.Planner) (vault.Seizure, error)
}

type Module struct {
	mu       sync.RWMutex
	addr     common.Address
	admin    access.Admin
	bonusBps uint64
	vault    Vault
	pub      uow.Publisher
	logger   *zap.SugaredLogger
}

func New(addr common.Address, admin access.Admin, bonusBps uint64, pub uow.Publisher, logger *zap.SugaredLogger) (*Module, error) {
	if bonusBps > calc.BpsDenominator {
		return nil, fmt.Errorf("liquidation bonus %d bps above 100%%: %w", bonusBps, errs.ErrInvalidConfig)
	}
	return &Module{
		addr:     addr,
		admin:    admin,
		bonusBps: bonusBps,
		pub:      pub,
		logger:   logger,
	}, nil
}

func (m *Module) Address() common.Address { return m.addr }

func (m *Module) BonusBps() uint64 { return m.bonusBps }

// SetVault wires the position manager to liquidate through.
func (m *Module) SetVault(ctx context.Context, caller common.Address, v Vault) error {
	if err := m.admin.Require(caller, "liquidation: setVault"); err != nil {
		return err
	}
	if v == nil {
		return fmt.Errorf("liquidation: setVault: nil vault: %w", errs.ErrInvalidConfig)
	}

	m.mu.Lock()
	m.vault = v
	m.mu.Unlock()

	m.logger.Infow("Liquidation vault set", "vault", v.Address().Hex())
	if m.pub != nil {
		m.pub.Publish(ctx, []events.Event{{
			Kind:    events.KindVaultSet,
			Time:    time.Now().UTC(),
			Payload: events.Wired{Component: "liquidation", Target: v.Address()},
		}})
	}
	return nil
}

// Liquidate seizes position id in full. The caller repays the entire
// principal and receives collateral worth debt plus the bonus, capped at what
// the position holds; whatever is left returns to the owner.
func (m *Module) Liquidate(ctx context.Context, caller common.Address, id uint64) (vault.Seizure, error) {
	m.mu.RLock()
	v := m.vault
	m.mu.RUnlock()
	if v == nil {
		return vault.Seizure{}, fmt.Errorf("liquidate position %d: vault not wired: %w", id, errs.ErrInvalidState)
	}
	if caller == (common.Address{}) {
		return vault.Seizure{}, fmt.Errorf("liquidate position %d: zero caller: %w", id, errs.ErrUnauthorized)
	}

	seizure, err := v.Seize(ctx, m.addr, caller, id, m.plan)
	if err != nil {
		return vault.Seizure{}, err
	}

	m.logger.Infow("Position liquidated",
		"position_id", id,
		"liquidator", caller.Hex(),
		"owner", seizure.Owner.Hex(),
		"debt_repaid", seizure.DebtRepaid.Dec(),
		"ratio_bps", seizure.Valuation.RatioBps.Dec())
	return seizure, nil
}

// Eligible reports whether a valuation permits liquidation.
func Eligible(val vault.Valuation) bool {
	return val.Liquidatable()
}

func (m *Module) plan(p vault.Position, val vault.Valuation) (vault.SeizurePlan, error) {
	if !Eligible(val) {
		return vault.SeizurePlan{}, fmt.Errorf("ratio %s bps at or above threshold %d bps: %w",
			val.RatioBps.Dec(), val.LiqThresholdBps, errs.ErrNotLiquidatable)
	}

	balances := make(map[common.Address]*uint256.Int)
	for _, asset := range p.HeldAssets() {
		balances[asset] = p.Collateral[asset]
	}
	toLiq, toOwner := calc.SplitSeizure(balances, val.Value, calc.SeizeValue(val.Debt, m.bonusBps))
	return vault.SeizurePlan{ToLiquidator: toLiq, ToOwner: toOwner}, nil
}
