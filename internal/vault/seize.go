package vault

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/argenta/argenta-backend/internal/errs"
	"github.com/argenta/argenta-backend/internal/events"
	"github.com/argenta/argenta-backend/internal/uow"
)

// SeizurePlan divides every held balance between liquidator and owner.
type SeizurePlan struct {
	ToLiquidator map[common.Address]*uint256.Int
	ToOwner      map[common.Address]*uint256.Int
}

// Planner decides, from a valuation taken inside the seizing action, whether
// the position may be seized and how its collateral is split.
type Planner func(p Position, val Valuation) (SeizurePlan, error)

type Seizure struct {
	PositionID   uint64              `json:"positionId"`
	Owner        common.Address      `json:"owner"`
	Liquidator   common.Address      `json:"liquidator"`
	DebtRepaid   *uint256.Int        `json:"debtRepaid"`
	Valuation    Valuation           `json:"valuation"`
	ToLiquidator []events.AssetAmount `json:"toLiquidator"`
	ToOwner      []events.AssetAmount `json:"toOwner"`
}

// Seize fully liquidates position id on behalf of liquidator, who pays the
// whole principal in stable. Only the registered liquidation module may call
// it. The position stays Open with zero collateral and zero debt.
func (m *Manager) Seize(ctx context.Context, caller, liquidator common.Address, id uint64, plan Planner) (Seizure, error) {
	var out Seizure
	err := m.atomic(ctx, func(tx *uow.Unit) error {
		m.mu.RLock()
		registered := m.liquidator
		pos, ok := m.positions[id]
		m.mu.RUnlock()

		if registered == (common.Address{}) || caller != registered {
			return fmt.Errorf("seize position %d by %s: %w", id, caller.Hex(), errs.ErrUnauthorized)
		}
		if !ok {
			return fmt.Errorf("position %d: %w", id, errs.ErrNotFound)
		}
		if pos.state != StateOpen {
			return fmt.Errorf("position %d is %s: %w", id, pos.state, errs.ErrInvalidState)
		}

		if err := m.debt.AccrueInterest(tx, m.addr, id); err != nil {
			return fmt.Errorf("seize position %d: %w", id, err)
		}
		principal := m.debt.Principal(id)
		collateral := m.collateralOf(pos)
		val, err := m.valuate(ctx, collateral, principal)
		if err != nil {
			return fmt.Errorf("seize position %d: %w", id, err)
		}

		view := m.withDebt(pos.viewLocked(&m.mu))
		split, err := plan(view, val)
		if err != nil {
			return fmt.Errorf("seize position %d: %w", id, err)
		}

		held := view.HeldAssets()
		for _, asset := range held {
			sum := new(uint256.Int)
			if v := split.ToLiquidator[asset]; v != nil {
				sum.Add(sum, v)
			}
			if v := split.ToOwner[asset]; v != nil {
				sum.Add(sum, v)
			}
			if !sum.Eq(collateral[asset]) {
				return fmt.Errorf("seize position %d: plan moves %s of %s holding %s: %w",
					id, sum.Dec(), asset.Hex(), collateral[asset].Dec(), errs.ErrInvalidState)
			}
		}

		// Effects: zero the position and release registry totals.
		for _, asset := range held {
			m.adjust(tx, pos, asset, collateral[asset], false)
			if _, err := m.registry.Release(tx, asset, collateral[asset]); err != nil {
				return fmt.Errorf("seize position %d: %w", id, err)
			}
		}
		repaid, err := m.debt.Burn(tx, m.addr, id, liquidator, principal)
		if err != nil {
			return fmt.Errorf("seize position %d: %w", id, err)
		}

		// Interactions: pay out custody.
		toLiq := make([]events.AssetAmount, 0, len(held))
		toOwner := make([]events.AssetAmount, 0, len(held))
		for _, asset := range held {
			token, err := m.book.Get(asset)
			if err != nil {
				return fmt.Errorf("seize position %d: %w", id, err)
			}
			liqAmt := amountOrZero(split.ToLiquidator[asset])
			ownerAmt := amountOrZero(split.ToOwner[asset])
			if err := m.payout(tx, token, liquidator, liqAmt); err != nil {
				return fmt.Errorf("seize position %d: %w", id, err)
			}
			if err := m.payout(tx, token, pos.owner, ownerAmt); err != nil {
				return fmt.Errorf("seize position %d: %w", id, err)
			}
			toLiq = append(toLiq, events.AssetAmount{Asset: asset, Amount: liqAmt})
			toOwner = append(toOwner, events.AssetAmount{Asset: asset, Amount: ownerAmt})
		}

		out = Seizure{
			PositionID:   id,
			Owner:        pos.owner,
			Liquidator:   liquidator,
			DebtRepaid:   repaid,
			Valuation:    val,
			ToLiquidator: toLiq,
			ToOwner:      toOwner,
		}
		tx.Emit(events.KindLiquidated, events.Liquidated{
			PositionID:      id,
			Owner:           pos.owner,
			Liquidator:      liquidator,
			DebtRepaid:      repaid,
			CollateralValue: val.Value,
			RatioBps:        val.RatioBps,
			ThresholdBps:    val.LiqThresholdBps,
			Seized:          toLiq,
			Returned:        toOwner,
			TotalDebt:       m.debt.TotalDebt(),
		})
		return nil
	})
	if err != nil {
		return Seizure{}, err
	}
	return out, nil
}

func amountOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
