// Package guard enforces protocol-wide exposure ceilings: total debt, debt
// minted per rolling window and collateral deposited per asset.
package guard

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/argenta/argenta-backend/internal/errs"
	"github.com/argenta/argenta-backend/internal/uow"
)

const DefaultWindow = 24 * time.Hour

type Limits struct {
	MaxTotalDebt       *uint256.Int  `json:"maxTotalDebt"`
	MaxWindowMint      *uint256.Int  `json:"maxWindowMint"`
	MaxPerAssetDeposit *uint256.Int  `json:"maxPerAssetDeposit"`
	Window             time.Duration `json:"window"`
}

// WindowState is the mint accumulator for one window epoch.
type WindowState struct {
	Epoch  int64
	Minted *uint256.Int
}

type Guard struct {
	mu     sync.Mutex
	limits Limits
	window WindowState
}

func New(limits Limits) (*Guard, error) {
	if limits.MaxTotalDebt == nil || limits.MaxWindowMint == nil || limits.MaxPerAssetDeposit == nil {
		return nil, fmt.Errorf("safety guard: every ceiling must be set: %w", errs.ErrInvalidConfig)
	}
	if limits.Window <= 0 {
		limits.Window = DefaultWindow
	}
	if limits.Window < time.Second {
		return nil, fmt.Errorf("safety guard: window %v below one second: %w", limits.Window, errs.ErrInvalidConfig)
	}
	return &Guard{
		limits: limits,
		window: WindowState{Minted: new(uint256.Int)},
	}, nil
}

func (g *Guard) Limits() Limits {
	return Limits{
		MaxTotalDebt:       new(uint256.Int).Set(g.limits.MaxTotalDebt),
		MaxWindowMint:      new(uint256.Int).Set(g.limits.MaxWindowMint),
		MaxPerAssetDeposit: new(uint256.Int).Set(g.limits.MaxPerAssetDeposit),
		Window:             g.limits.Window,
	}
}

func (g *Guard) CheckGlobalDebtCap(proposedTotal *uint256.Int) error {
	if proposedTotal.Gt(g.limits.MaxTotalDebt) {
		return fmt.Errorf("total debt %s above ceiling %s: %w",
			proposedTotal.Dec(), g.limits.MaxTotalDebt.Dec(), errs.ErrCapExceeded)
	}
	return nil
}

func (g *Guard) CheckPerAssetCap(asset common.Address, proposedTotal *uint256.Int) error {
	if proposedTotal.Gt(g.limits.MaxPerAssetDeposit) {
		return fmt.Errorf("deposits of %s would reach %s above ceiling %s: %w",
			asset.Hex(), proposedTotal.Dec(), g.limits.MaxPerAssetDeposit.Dec(), errs.ErrCapExceeded)
	}
	return nil
}

// CheckMintWindow admits amount into the window containing now. The
// accumulator only moves when the check passes; a new epoch starts from zero.
func (g *Guard) CheckMintWindow(now time.Time, amount *uint256.Int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	epoch := now.Unix() / int64(g.limits.Window/time.Second)
	next := WindowState{Epoch: epoch, Minted: new(uint256.Int)}
	if g.window.Epoch == epoch {
		next.Minted.Set(g.window.Minted)
	}

	minted, overflow := new(uint256.Int).AddOverflow(next.Minted, amount)
	if overflow || minted.Gt(g.limits.MaxWindowMint) {
		return fmt.Errorf("minting %s in window %d with %s already minted exceeds %s: %w",
			amount.Dec(), epoch, next.Minted.Dec(), g.limits.MaxWindowMint.Dec(), errs.ErrCapExceeded)
	}
	next.Minted = minted
	g.window = next
	return nil
}

// CheckMint runs CheckMintWindow at the unit's time and restores the
// accumulator if the unit rolls back.
func (g *Guard) CheckMint(tx *uow.Unit, amount *uint256.Int) error {
	prev := g.WindowState()
	if err := g.CheckMintWindow(tx.Now(), amount); err != nil {
		return err
	}
	tx.Defer(func() { g.RestoreWindow(prev) })
	return nil
}

func (g *Guard) WindowState() WindowState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return WindowState{Epoch: g.window.Epoch, Minted: new(uint256.Int).Set(g.window.Minted)}
}

func (g *Guard) RestoreWindow(s WindowState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.window = WindowState{Epoch: s.Epoch, Minted: new(uint256.Int).Set(s.Minted)}
}
