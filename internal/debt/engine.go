// Package debt is the authoritative ledger of stable-unit debt. It is the only
// writer of position principals and of the protocol's total issued debt, and
// it holds the stable token's mint authority.
package debt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/argenta/argenta-backend/internal/access"
	"github.com/argenta/argenta-backend/internal/errs"
	"github.com/argenta/argenta-backend/internal/events"
	"github.com/argenta/argenta-backend/internal/ledger"
	"github.com/argenta/argenta-backend/internal/uow"
)

// Accruer computes interest owed on principal over elapsed seconds.
type Accruer interface {
	Accrue(principal *uint256.Int, elapsedSeconds uint64) *uint256.Int
}

type Account struct {
	Principal   *uint256.Int `json:"principal"`
	LastAccrual time.Time    `json:"lastAccrual"`
}

type Engine struct {
	mu       sync.RWMutex
	addr     common.Address
	admin    access.Admin
	stable   ledger.Mintable
	irm      Accruer
	vault    common.Address
	accounts map[uint64]*Account
	total    *uint256.Int
	pub      uow.Publisher
	logger   *zap.SugaredLogger
}

// New creates an engine identified by addr. addr must be made the stable
// token's minter before Mint or Burn can succeed.
func New(addr common.Address, admin access.Admin, stable ledger.Mintable, irm Accruer, pub uow.Publisher, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		addr:     addr,
		admin:    admin,
		stable:   stable,
		irm:      irm,
		accounts: make(map[uint64]*Account),
		total:    new(uint256.Int),
		pub:      pub,
		logger:   logger,
	}
}

func (e *Engine) Address() common.Address { return e.addr }

func (e *Engine) Stable() ledger.Mintable { return e.stable }

func (e *Engine) Vault() common.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.vault
}

// SetVault wires the only address allowed to mutate debt.
func (e *Engine) SetVault(ctx context.Context, caller, vault common.Address) error {
	if err := e.admin.Require(caller, "debt: setVault"); err != nil {
		return err
	}
	if vault == (common.Address{}) {
		return fmt.Errorf("debt: setVault: zero address: %w", errs.ErrInvalidConfig)
	}

	e.mu.Lock()
	e.vault = vault
	e.mu.Unlock()

	e.logger.Infow("Debt engine vault set", "vault", vault.Hex())
	if e.pub != nil {
		e.pub.Publish(ctx, []events.Event{{
			Kind:    events.KindVaultSet,
			Time:    time.Now().UTC(),
			Payload: events.Wired{Component: "debt", Target: vault},
		}})
	}
	return nil
}

// Mint records amount of new debt against position id and credits the stable
// unit to owner.
func (e *Engine) Mint(tx *uow.Unit, caller common.Address, id uint64, owner common.Address, amount *uint256.Int) error {
	if err := e.requireVault(caller, "mint"); err != nil {
		return err
	}

	e.mu.Lock()
	acc := e.accountLocked(id, tx.Now())
	principal, overflow := new(uint256.Int).AddOverflow(acc.Principal, amount)
	if overflow {
		e.mu.Unlock()
		return fmt.Errorf("debt: mint on position %d overflows principal: %w", id, errs.ErrCapExceeded)
	}
	prevPrincipal, prevTotal := acc.Principal, e.total
	acc.Principal = principal
	e.total = new(uint256.Int).Add(e.total, amount)
	total := new(uint256.Int).Set(e.total)
	e.mu.Unlock()
	tx.Defer(func() { e.restore(id, prevPrincipal, prevTotal) })

	if err := e.stable.Mint(e.addr, owner, amount); err != nil {
		return fmt.Errorf("debt: mint stable for position %d: %w", id, err)
	}
	tx.Defer(func() { e.compensate(e.stable.Burn(e.addr, owner, amount), "burn", id) })

	tx.Emit(events.KindDebtMinted, events.DebtMinted{
		PositionID: id,
		Owner:      owner,
		Amount:     new(uint256.Int).Set(amount),
		Principal:  new(uint256.Int).Set(principal),
		TotalDebt:  total,
	})
	return nil
}

// Burn retires min(amount, principal) of position id's debt, burning that
// much stable from payer. It returns the amount actually retired.
func (e *Engine) Burn(tx *uow.Unit, caller common.Address, id uint64, payer common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if err := e.requireVault(caller, "burn"); err != nil {
		return nil, err
	}

	e.mu.Lock()
	acc := e.accountLocked(id, tx.Now())
	burned := new(uint256.Int).Set(amount)
	if burned.Gt(acc.Principal) {
		burned.Set(acc.Principal)
	}
	if burned.IsZero() {
		e.mu.Unlock()
		return burned, nil
	}
	prevPrincipal, prevTotal := acc.Principal, e.total
	acc.Principal = new(uint256.Int).Sub(acc.Principal, burned)
	e.total = new(uint256.Int).Sub(e.total, burned)
	principal := new(uint256.Int).Set(acc.Principal)
	total := new(uint256.Int).Set(e.total)
	e.mu.Unlock()
	tx.Defer(func() { e.restore(id, prevPrincipal, prevTotal) })

	if err := e.stable.Burn(e.addr, payer, burned); err != nil {
		return nil, fmt.Errorf("debt: burn stable for position %d: %w", id, err)
	}
	tx.Defer(func() { e.compensate(e.stable.Mint(e.addr, payer, burned), "mint", id) })

	tx.Emit(events.KindDebtBurned, events.DebtBurned{
		PositionID: id,
		Payer:      payer,
		Amount:     new(uint256.Int).Set(burned),
		Principal:  principal,
		TotalDebt:  total,
	})
	return burned, nil
}

// AccrueInterest capitalizes interest since the last accrual into principal
// and moves the accrual timestamp to the unit's time.
func (e *Engine) AccrueInterest(tx *uow.Unit, caller common.Address, id uint64) error {
	if err := e.requireVault(caller, "accrueInterest"); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := tx.Now()
	acc := e.accountLocked(id, now)
	var elapsed uint64
	if now.After(acc.LastAccrual) {
		elapsed = uint64(now.Sub(acc.LastAccrual) / time.Second)
	}
	if elapsed == 0 {
		return nil
	}

	prevPrincipal, prevTotal, prevAt := acc.Principal, e.total, acc.LastAccrual
	interest := e.irm.Accrue(acc.Principal, elapsed)
	principal, overflow := new(uint256.Int).AddOverflow(acc.Principal, interest)
	if overflow {
		return fmt.Errorf("debt: interest on position %d overflows: %w", id, errs.ErrCapExceeded)
	}
	acc.Principal = principal
	acc.LastAccrual = acc.LastAccrual.Add(time.Duration(elapsed) * time.Second)
	e.total = new(uint256.Int).Add(e.total, interest)
	tx.Defer(func() {
		e.restore(id, prevPrincipal, prevTotal)
		e.mu.Lock()
		e.accounts[id].LastAccrual = prevAt
		e.mu.Unlock()
	})

	if !interest.IsZero() {
		tx.Emit(events.KindInterestAccrued, events.InterestAccrued{
			PositionID: id,
			Interest:   interest,
			Principal:  new(uint256.Int).Set(principal),
			TotalDebt:  new(uint256.Int).Set(e.total),
			Elapsed:    elapsed,
		})
	}
	return nil
}

func (e *Engine) Principal(id uint64) *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if acc, ok := e.accounts[id]; ok {
		return new(uint256.Int).Set(acc.Principal)
	}
	return new(uint256.Int)
}

// DebtAt previews position id's debt at now: principal plus interest since
// the last accrual. Nothing is written.
func (e *Engine) DebtAt(id uint64, now time.Time) *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	acc, ok := e.accounts[id]
	if !ok {
		return new(uint256.Int)
	}
	if !now.After(acc.LastAccrual) {
		return new(uint256.Int).Set(acc.Principal)
	}
	elapsed := uint64(now.Sub(acc.LastAccrual) / time.Second)
	owed, overflow := new(uint256.Int).AddOverflow(acc.Principal, e.irm.Accrue(acc.Principal, elapsed))
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return owed
}

// Account returns a copy of the position's debt record.
func (e *Engine) Account(id uint64) (Account, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	acc, ok := e.accounts[id]
	if !ok {
		return Account{Principal: new(uint256.Int)}, false
	}
	return Account{Principal: new(uint256.Int).Set(acc.Principal), LastAccrual: acc.LastAccrual}, true
}

func (e *Engine) TotalDebt() *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return new(uint256.Int).Set(e.total)
}

// SumPrincipals adds up every account. It equals TotalDebt whenever no
// action is in flight.
func (e *Engine) SumPrincipals() *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	sum := new(uint256.Int)
	for _, acc := range e.accounts {
		sum.Add(sum, acc.Principal)
	}
	return sum
}

func (e *Engine) requireVault(caller common.Address, op string) error {
	e.mu.RLock()
	vault := e.vault
	e.mu.RUnlock()
	if vault == (common.Address{}) || caller != vault {
		return fmt.Errorf("debt: %s by %s: %w", op, caller.Hex(), errs.ErrUnauthorized)
	}
	return nil
}

func (e *Engine) accountLocked(id uint64, now time.Time) *Account {
	acc, ok := e.accounts[id]
	if !ok {
		acc = &Account{Principal: new(uint256.Int), LastAccrual: now}
		e.accounts[id] = acc
	}
	return acc
}

func (e *Engine) restore(id uint64, principal, total *uint256.Int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if acc, ok := e.accounts[id]; ok {
		acc.Principal = principal
	}
	e.total = total
}

func (e *Engine) compensate(err error, op string, id uint64) {
	if err != nil {
		e.logger.Errorw("Stable compensation failed during rollback",
			"op", op,
			"position_id", id,
			"error", err)
	}
}
