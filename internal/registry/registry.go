// Package registry holds per-asset collateral risk parameters and the running
// deposit total of each asset.
package registry

import (
	"context"
	"fmt"
	"sort"
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
)

type Asset struct {
	Address         common.Address `json:"address"`
	MinRatioBps     uint64         `json:"minRatioBps"`
	LiqThresholdBps uint64         `json:"liqThresholdBps"`
	DepositCap      *uint256.Int   `json:"depositCap"`
	Active          bool           `json:"active"`
	TotalDeposited  *uint256.Int   `json:"totalDeposited"`
}

func (a Asset) clone() Asset {
	a.DepositCap = new(uint256.Int).Set(a.DepositCap)
	a.TotalDeposited = new(uint256.Int).Set(a.TotalDeposited)
	return a
}

type Registry struct {
	mu     sync.RWMutex
	admin  access.Admin
	assets map[common.Address]*Asset
	pub    uow.Publisher
	logger *zap.SugaredLogger
}

func New(admin access.Admin, pub uow.Publisher, logger *zap.SugaredLogger) *Registry {
	return &Registry{
		admin:  admin,
		assets: make(map[common.Address]*Asset),
		pub:    pub,
		logger: logger,
	}
}

// SetCollateral registers or updates an asset's parameters. The running
// deposit total survives reconfiguration.
func (r *Registry) SetCollateral(ctx context.Context, caller, asset common.Address, minRatioBps, liqThresholdBps uint64, depositCap *uint256.Int, active bool) error {
	if err := r.admin.Require(caller, "setCollateral"); err != nil {
		return err
	}
	if err := calc.ValidateRatioOrder(minRatioBps, liqThresholdBps); err != nil {
		return fmt.Errorf("setCollateral %s: %w", asset.Hex(), err)
	}
	if depositCap == nil {
		return fmt.Errorf("setCollateral %s: missing deposit cap: %w", asset.Hex(), errs.ErrInvalidConfig)
	}

	r.mu.Lock()
	total := new(uint256.Int)
	if existing, ok := r.assets[asset]; ok {
		total = existing.TotalDeposited
	}
	r.assets[asset] = &Asset{
		Address:         asset,
		MinRatioBps:     minRatioBps,
		LiqThresholdBps: liqThresholdBps,
		DepositCap:      new(uint256.Int).Set(depositCap),
		Active:          active,
		TotalDeposited:  total,
	}
	r.mu.Unlock()

	r.logger.Infow("Collateral parameters updated",
		"asset", asset.Hex(),
		"min_ratio_bps", minRatioBps,
		"liq_threshold_bps", liqThresholdBps,
		"cap", depositCap.Dec(),
		"active", active)

	if r.pub != nil {
		r.pub.Publish(ctx, []events.Event{{
			Kind: events.KindCollateralParamsUpdated,
			Time: time.Now().UTC(),
			Payload: events.CollateralParamsUpdated{
				Asset:           asset,
				MinRatioBps:     minRatioBps,
				LiqThresholdBps: liqThresholdBps,
				DepositCap:      new(uint256.Int).Set(depositCap),
				Active:          active,
			},
		}})
	}
	return nil
}

// GetParams returns the parameters of an active asset.
func (r *Registry) GetParams(asset common.Address) (Asset, error) {
	a, ok := r.Lookup(asset)
	if !ok {
		return Asset{}, fmt.Errorf("asset %s not registered: %w", asset.Hex(), errs.ErrInvalidAsset)
	}
	if !a.Active {
		return Asset{}, fmt.Errorf("asset %s inactive: %w", asset.Hex(), errs.ErrInvalidAsset)
	}
	return a, nil
}

// Lookup returns an asset's parameters whether or not it is active. Positions
// holding a deactivated asset still need its thresholds to be valued.
func (r *Registry) Lookup(asset common.Address) (Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[asset]
	if !ok {
		return Asset{}, false
	}
	return a.clone(), true
}

// Deposit adds amount to the asset's running total, failing with
// ErrCapExceeded when the total would pass the deposit cap.
func (r *Registry) Deposit(tx *uow.Unit, asset common.Address, amount *uint256.Int) (*uint256.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.assets[asset]
	if !ok {
		return nil, fmt.Errorf("deposit %s: %w", asset.Hex(), errs.ErrInvalidAsset)
	}
	next, overflow := new(uint256.Int).AddOverflow(a.TotalDeposited, amount)
	if overflow || next.Gt(a.DepositCap) {
		return nil, fmt.Errorf("deposit %s: total %s + %s exceeds cap %s: %w",
			asset.Hex(), a.TotalDeposited.Dec(), amount.Dec(), a.DepositCap.Dec(), errs.ErrCapExceeded)
	}

	prev := a.TotalDeposited
	a.TotalDeposited = next
	tx.Defer(func() { r.restoreTotal(asset, prev) })
	return new(uint256.Int).Set(next), nil
}

// Release subtracts amount from the asset's running total.
func (r *Registry) Release(tx *uow.Unit, asset common.Address, amount *uint256.Int) (*uint256.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.assets[asset]
	if !ok {
		return nil, fmt.Errorf("release %s: %w", asset.Hex(), errs.ErrInvalidAsset)
	}
	if a.TotalDeposited.Lt(amount) {
		return nil, fmt.Errorf("release %s: %s exceeds tracked total %s: %w",
			asset.Hex(), amount.Dec(), a.TotalDeposited.Dec(), errs.ErrInvalidState)
	}

	prev := a.TotalDeposited
	a.TotalDeposited = new(uint256.Int).Sub(prev, amount)
	tx.Defer(func() { r.restoreTotal(asset, prev) })
	return new(uint256.Int).Set(a.TotalDeposited), nil
}

func (r *Registry) restoreTotal(asset common.Address, total *uint256.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.assets[asset]; ok {
		a.TotalDeposited = total
	}
}

func (r *Registry) TotalDeposited(asset common.Address) *uint256.Int {
	a, ok := r.Lookup(asset)
	if !ok {
		return new(uint256.Int)
	}
	return a.TotalDeposited
}

// Assets lists every registered asset ordered by address.
func (r *Registry) Assets() []Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Asset, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, a.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Hex() < out[j].Address.Hex() })
	return out
}
