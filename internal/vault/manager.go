// Package vault orchestrates the position lifecycle. The manager is the only
// writer of per-position collateral balances and custodies deposited
// collateral under its own address; debt changes are delegated to the debt
// engine inside the same unit of work.
package vault

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
	"github.com/argenta/argenta-backend/internal/debt"
	"github.com/argenta/argenta-backend/internal/errs"
	"github.com/argenta/argenta-backend/internal/events"
	"github.com/argenta/argenta-backend/internal/guard"
	"github.com/argenta/argenta-backend/internal/ledger"
	"github.com/argenta/argenta-backend/internal/registry"
	"github.com/argenta/argenta-backend/internal/uow"
)

// PriceReader is the oracle surface the manager values collateral with.
type PriceReader interface {
	GetPrice(ctx context.Context, asset common.Address) (*uint256.Int, time.Time, error)
}

type Config struct {
	// Address is the custody identity collateral is held under.
	Address  common.Address
	Admin    access.Admin
	Registry *registry.Registry
	Oracle   PriceReader
	Guard    *guard.Guard
	Debt     *debt.Engine
	Book     *ledger.Book
	Bus      uow.Publisher
	Logger   *zap.SugaredLogger
	Clock    func() time.Time
}

type Manager struct {
	// action serializes every state-changing action.
	action sync.Mutex
	mu     sync.RWMutex

	addr     common.Address
	admin    access.Admin
	registry *registry.Registry
	oracle   PriceReader
	guard    *guard.Guard
	debt     *debt.Engine
	book     *ledger.Book
	bus      uow.Publisher
	logger   *zap.SugaredLogger
	now      func() time.Time

	positions  map[uint64]*position
	byOwner    map[common.Address][]uint64
	nextID     uint64
	liquidator common.Address
}

func NewManager(cfg Config) *Manager {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		addr:      cfg.Address,
		admin:     cfg.Admin,
		registry:  cfg.Registry,
		oracle:    cfg.Oracle,
		guard:     cfg.Guard,
		debt:      cfg.Debt,
		book:      cfg.Book,
		bus:       cfg.Bus,
		logger:    cfg.Logger,
		now:       clock,
		positions: make(map[uint64]*position),
		byOwner:   make(map[common.Address][]uint64),
	}
}

func (m *Manager) Address() common.Address { return m.addr }

func (m *Manager) Liquidator() common.Address {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.liquidator
}

// SetLiquidator registers the only address allowed to call Seize.
func (m *Manager) SetLiquidator(ctx context.Context, caller, liquidator common.Address) error {
	if err := m.admin.Require(caller, "vault: setLiquidator"); err != nil {
		return err
	}
	if liquidator == (common.Address{}) {
		return fmt.Errorf("vault: setLiquidator: zero address: %w", errs.ErrInvalidConfig)
	}

	m.mu.Lock()
	m.liquidator = liquidator
	m.mu.Unlock()

	m.logger.Infow("Liquidator set", "liquidator", liquidator.Hex())
	if m.bus != nil {
		m.bus.Publish(ctx, []events.Event{{
			Kind:    events.KindLiquidatorSet,
			Time:    m.now().UTC(),
			Payload: events.Wired{Component: "vault", Target: liquidator},
		}})
	}
	return nil
}

// OpenVault creates an empty Open position owned by caller.
func (m *Manager) OpenVault(ctx context.Context, caller common.Address) (uint64, error) {
	if caller == (common.Address{}) {
		return 0, fmt.Errorf("openVault: zero caller: %w", errs.ErrUnauthorized)
	}

	var id uint64
	err := m.atomic(ctx, func(tx *uow.Unit) error {
		m.mu.Lock()
		m.nextID++
		id = m.nextID
		m.positions[id] = &position{
			id:         id,
			owner:      caller,
			state:      StateOpen,
			collateral: make(map[common.Address]*uint256.Int),
			openedAt:   tx.Now(),
		}
		m.byOwner[caller] = append(m.byOwner[caller], id)
		m.mu.Unlock()

		tx.Defer(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.positions, id)
			ids := m.byOwner[caller]
			m.byOwner[caller] = ids[:len(ids)-1]
			m.nextID--
		})
		tx.Emit(events.KindPositionOpened, events.PositionOpened{PositionID: id, Owner: caller})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AddCollateral pulls amount of asset from the caller into the position. The
// caller must have approved the manager's address beforehand.
func (m *Manager) AddCollateral(ctx context.Context, caller common.Address, id uint64, asset common.Address, amount *uint256.Int) error {
	if err := calc.ValidateAmount(amount, "addCollateral"); err != nil {
		return err
	}
	return m.atomic(ctx, func(tx *uow.Unit) error {
		pos, err := m.ownedOpen(caller, id)
		if err != nil {
			return err
		}
		if _, err := m.registry.GetParams(asset); err != nil {
			return fmt.Errorf("addCollateral to position %d: %w", id, err)
		}
		token, err := m.book.Get(asset)
		if err != nil {
			return fmt.Errorf("addCollateral to position %d: %w", id, err)
		}

		total, err := m.registry.Deposit(tx, asset, amount)
		if err != nil {
			return fmt.Errorf("addCollateral to position %d: %w", id, err)
		}
		if err := m.guard.CheckPerAssetCap(asset, total); err != nil {
			return fmt.Errorf("addCollateral to position %d: %w", id, err)
		}

		balance := m.adjust(tx, pos, asset, amount, true)

		if err := token.TransferFrom(m.addr, caller, m.addr, amount); err != nil {
			return fmt.Errorf("addCollateral to position %d: pull %s: %w", id, token.Symbol(), err)
		}

		tx.Emit(events.KindCollateralAdded, events.CollateralMoved{
			PositionID:     id,
			Owner:          pos.owner,
			Asset:          asset,
			Amount:         new(uint256.Int).Set(amount),
			Balance:        balance,
			TotalDeposited: total,
		})
		return nil
	})
}

// Borrow mints amount of new debt to the owner if the position stays at or
// above the governing minimum ratio and every safety ceiling holds.
func (m *Manager) Borrow(ctx context.Context, caller common.Address, id uint64, amount *uint256.Int) error {
	if err := calc.ValidateAmount(amount, "borrow"); err != nil {
		return err
	}
	return m.atomic(ctx, func(tx *uow.Unit) error {
		pos, err := m.ownedOpen(caller, id)
		if err != nil {
			return err
		}
		if err := m.debt.AccrueInterest(tx, m.addr, id); err != nil {
			return fmt.Errorf("borrow on position %d: %w", id, err)
		}

		newDebt, overflow := new(uint256.Int).AddOverflow(m.debt.Principal(id), amount)
		if overflow {
			return fmt.Errorf("borrow on position %d: debt overflows: %w", id, errs.ErrCapExceeded)
		}
		val, err := m.valuate(ctx, m.collateralOf(pos), newDebt)
		if err != nil {
			return fmt.Errorf("borrow on position %d: %w", id, err)
		}
		if !val.HasCollateral() {
			return fmt.Errorf("borrow on position %d: no collateral: %w", id, errs.ErrUndercollateralized)
		}
		if err := calc.ValidateCRConstraint(val.Value, newDebt, val.MinRatioBps); err != nil {
			return fmt.Errorf("borrow on position %d: %w", id, err)
		}

		proposedTotal, overflow := new(uint256.Int).AddOverflow(m.debt.TotalDebt(), amount)
		if overflow {
			return fmt.Errorf("borrow on position %d: total debt overflows: %w", id, errs.ErrCapExceeded)
		}
		if err := m.guard.CheckGlobalDebtCap(proposedTotal); err != nil {
			return fmt.Errorf("borrow on position %d: %w", id, err)
		}
		if err := m.guard.CheckMint(tx, amount); err != nil {
			return fmt.Errorf("borrow on position %d: %w", id, err)
		}

		if err := m.debt.Mint(tx, m.addr, id, pos.owner, amount); err != nil {
			return fmt.Errorf("borrow on position %d: %w", id, err)
		}
		return nil
	})
}

// Repay burns stable from the caller against the position's debt. Only the
// outstanding principal is taken; any excess stays with the caller. The
// amount actually repaid is returned.
func (m *Manager) Repay(ctx context.Context, caller common.Address, id uint64, amount *uint256.Int) (*uint256.Int, error) {
	if err := calc.ValidateAmount(amount, "repay"); err != nil {
		return nil, err
	}
	var repaid *uint256.Int
	err := m.atomic(ctx, func(tx *uow.Unit) error {
		if _, err := m.ownedOpen(caller, id); err != nil {
			return err
		}
		if err := m.debt.AccrueInterest(tx, m.addr, id); err != nil {
			return fmt.Errorf("repay on position %d: %w", id, err)
		}
		burned, err := m.debt.Burn(tx, m.addr, id, caller, amount)
		if err != nil {
			return fmt.Errorf("repay on position %d: %w", id, err)
		}
		repaid = burned
		return nil
	})
	if err != nil {
		return nil, err
	}
	return repaid, nil
}

// WithdrawCollateral returns amount of asset to the owner. With debt
// outstanding the remaining collateral must still meet the governing minimum.
func (m *Manager) WithdrawCollateral(ctx context.Context, caller common.Address, id uint64, asset common.Address, amount *uint256.Int) error {
	if err := calc.ValidateAmount(amount, "withdrawCollateral"); err != nil {
		return err
	}
	return m.atomic(ctx, func(tx *uow.Unit) error {
		pos, err := m.ownedOpen(caller, id)
		if err != nil {
			return err
		}
		m.mu.RLock()
		held := pos.balance(asset)
		m.mu.RUnlock()
		if held.Lt(amount) {
			return fmt.Errorf("withdraw %s from position %d holding %s: %w",
				amount.Dec(), id, held.Dec(), errs.ErrInvalidAmount)
		}
		token, err := m.book.Get(asset)
		if err != nil {
			return fmt.Errorf("withdraw from position %d: %w", id, err)
		}
		if err := m.debt.AccrueInterest(tx, m.addr, id); err != nil {
			return fmt.Errorf("withdraw from position %d: %w", id, err)
		}

		balance := m.adjust(tx, pos, asset, amount, false)
		total, err := m.registry.Release(tx, asset, amount)
		if err != nil {
			return fmt.Errorf("withdraw from position %d: %w", id, err)
		}

		if principal := m.debt.Principal(id); !principal.IsZero() {
			val, err := m.valuate(ctx, m.collateralOf(pos), principal)
			if err != nil {
				return fmt.Errorf("withdraw from position %d: %w", id, err)
			}
			if !val.HasCollateral() {
				return fmt.Errorf("withdraw from position %d: would leave debt unbacked: %w", id, errs.ErrUndercollateralized)
			}
			if err := calc.ValidateCRConstraint(val.Value, principal, val.MinRatioBps); err != nil {
				return fmt.Errorf("withdraw from position %d: %w", id, err)
			}
		}

		if err := m.payout(tx, token, pos.owner, amount); err != nil {
			return fmt.Errorf("withdraw from position %d: %w", id, err)
		}
		tx.Emit(events.KindCollateralWithdrawn, events.CollateralMoved{
			PositionID:     id,
			Owner:          pos.owner,
			Asset:          asset,
			Amount:         new(uint256.Int).Set(amount),
			Balance:        balance,
			TotalDeposited: total,
		})
		return nil
	})
}

// CloseVault sweeps remaining collateral to the owner and tombstones the
// position. Outstanding debt must be repaid first.
func (m *Manager) CloseVault(ctx context.Context, caller common.Address, id uint64) error {
	return m.atomic(ctx, func(tx *uow.Unit) error {
		pos, err := m.ownedOpen(caller, id)
		if err != nil {
			return err
		}
		if principal := m.debt.Principal(id); !principal.IsZero() {
			return fmt.Errorf("close position %d with %s debt outstanding: %w", id, principal.Dec(), errs.ErrInvalidState)
		}

		type sweep struct {
			token  ledger.Ledger
			amount *uint256.Int
			total  *uint256.Int
		}
		var sweeps []sweep
		held := Position{Collateral: m.collateralOf(pos)}.HeldAssets()
		for _, asset := range held {
			token, err := m.book.Get(asset)
			if err != nil {
				return fmt.Errorf("close position %d: %w", id, err)
			}
			m.mu.RLock()
			amount := pos.balance(asset)
			m.mu.RUnlock()

			m.adjust(tx, pos, asset, amount, false)
			total, err := m.registry.Release(tx, asset, amount)
			if err != nil {
				return fmt.Errorf("close position %d: %w", id, err)
			}
			sweeps = append(sweeps, sweep{token: token, amount: amount, total: total})
		}

		m.mu.Lock()
		pos.state = StateClosed
		pos.closedAt = tx.Now()
		m.mu.Unlock()
		tx.Defer(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			pos.state = StateOpen
			pos.closedAt = time.Time{}
		})

		for _, s := range sweeps {
			if err := m.payout(tx, s.token, pos.owner, s.amount); err != nil {
				return fmt.Errorf("close position %d: %w", id, err)
			}
			tx.Emit(events.KindCollateralWithdrawn, events.CollateralMoved{
				PositionID:     id,
				Owner:          pos.owner,
				Asset:          s.token.Address(),
				Amount:         s.amount,
				Balance:        new(uint256.Int),
				TotalDeposited: s.total,
			})
		}
		tx.Emit(events.KindPositionClosed, events.PositionClosed{PositionID: id, Owner: pos.owner})
		return nil
	})
}

// Position returns the current view of position id.
func (m *Manager) Position(id uint64) (Position, error) {
	m.mu.RLock()
	pos, ok := m.positions[id]
	if !ok {
		m.mu.RUnlock()
		return Position{}, fmt.Errorf("position %d: %w", id, errs.ErrNotFound)
	}
	view := pos.view()
	m.mu.RUnlock()
	return m.withDebt(view), nil
}

func (m *Manager) PositionsByOwner(owner common.Address) []Position {
	m.mu.RLock()
	ids := append([]uint64(nil), m.byOwner[owner]...)
	m.mu.RUnlock()

	out := make([]Position, 0, len(ids))
	for _, id := range ids {
		if p, err := m.Position(id); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// Positions returns every position in id order, open and closed.
func (m *Manager) Positions() []Position {
	m.mu.RLock()
	views := make([]Position, 0, len(m.positions))
	for _, pos := range m.positions {
		views = append(views, pos.view())
	}
	m.mu.RUnlock()

	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	for i := range views {
		views[i] = m.withDebt(views[i])
	}
	return views
}

func (m *Manager) OpenPositions() []Position {
	all := m.Positions()
	out := all[:0]
	for _, p := range all {
		if p.State == StateOpen {
			out = append(out, p)
		}
	}
	return out
}

// Health values position id at current prices against its debt including
// interest accrued up to now.
func (m *Manager) Health(ctx context.Context, id uint64) (Valuation, error) {
	p, err := m.Position(id)
	if err != nil {
		return Valuation{}, err
	}
	return m.valuate(ctx, p.Collateral, m.debt.DebtAt(id, m.now().UTC()))
}

// CollateralTotals sums every position's balances per asset.
func (m *Manager) CollateralTotals() map[common.Address]*uint256.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[common.Address]*uint256.Int)
	for _, pos := range m.positions {
		for asset, amt := range pos.collateral {
			if out[asset] == nil {
				out[asset] = new(uint256.Int)
			}
			out[asset].Add(out[asset], amt)
		}
	}
	return out
}

func (m *Manager) atomic(ctx context.Context, fn func(tx *uow.Unit) error) error {
	m.action.Lock()
	defer m.action.Unlock()
	return uow.Run(ctx, m.now().UTC(), m.bus, fn)
}

func (m *Manager) ownedOpen(caller common.Address, id uint64) (*position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[id]
	if !ok {
		return nil, fmt.Errorf("position %d: %w", id, errs.ErrNotFound)
	}
	if pos.owner != caller {
		return nil, fmt.Errorf("position %d owned by %s, not %s: %w", id, pos.owner.Hex(), caller.Hex(), errs.ErrUnauthorized)
	}
	if pos.state != StateOpen {
		return nil, fmt.Errorf("position %d is %s: %w", id, pos.state, errs.ErrInvalidState)
	}
	return pos, nil
}

func (m *Manager) collateralOf(pos *position) map[common.Address]*uint256.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return pos.view().Collateral
}

// adjust adds or removes amount from a balance and records the undo step.
// Callers have already checked that a removal is covered.
func (m *Manager) adjust(tx *uow.Unit, pos *position, asset common.Address, amount *uint256.Int, add bool) *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := pos.balance(asset)
	next := new(uint256.Int)
	if add {
		next.Add(prev, amount)
	} else {
		next.Sub(prev, amount)
	}
	pos.collateral[asset] = next
	tx.Defer(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		pos.collateral[asset] = prev
	})
	return new(uint256.Int).Set(next)
}

// payout moves custody funds out. Internal bookkeeping must already be
// written when this runs.
func (m *Manager) payout(tx *uow.Unit, token ledger.Ledger, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if err := token.Transfer(m.addr, to, amount); err != nil {
		return fmt.Errorf("pay %s %s to %s: %w", amount.Dec(), token.Symbol(), to.Hex(), err)
	}
	tx.Defer(func() {
		if err := token.Transfer(to, m.addr, amount); err != nil {
			m.logger.Errorw("Custody compensation failed during rollback",
				"token", token.Symbol(),
				"to", to.Hex(),
				"amount", amount.Dec(),
				"error", err)
		}
	})
	return nil
}

func (m *Manager) withDebt(p Position) Position {
	acc, _ := m.debt.Account(p.ID)
	p.Principal = acc.Principal
	p.LastAccrual = acc.LastAccrual
	return p
}
