package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/argenta/argenta-backend/internal/access"
	"github.com/argenta/argenta-backend/internal/errs"
	"github.com/argenta/argenta-backend/internal/events"
	"github.com/argenta/argenta-backend/internal/uow"
)

type TokenConfig struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
	Admin    access.Admin
	// Minter may be set later with SetMinter.
	Minter common.Address
}

// Token is an in-memory Mintable. Every method is atomic on its own.
type Token struct {
	mu         sync.RWMutex
	cfg        TokenConfig
	minter     common.Address
	supply     *uint256.Int
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
	pub        uow.Publisher
}

func NewToken(cfg TokenConfig, pub uow.Publisher) *Token {
	return &Token{
		cfg:        cfg,
		minter:     cfg.Minter,
		supply:     new(uint256.Int),
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
		pub:        pub,
	}
}

func (t *Token) Address() common.Address { return t.cfg.Address }
func (t *Token) Symbol() string          { return t.cfg.Symbol }
func (t *Token) Decimals() uint8         { return t.cfg.Decimals }

func (t *Token) Minter() common.Address {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.minter
}

// SetMinter hands supply control to minter. Wiring the debt engine as the
// stable unit's minter goes through here.
func (t *Token) SetMinter(ctx context.Context, caller, minter common.Address) error {
	if err := t.cfg.Admin.Require(caller, t.cfg.Symbol+": setMinter"); err != nil {
		return err
	}
	if minter == (common.Address{}) {
		return fmt.Errorf("%s: setMinter: %w", t.cfg.Symbol, ErrZeroAddress)
	}

	t.mu.Lock()
	t.minter = minter
	t.mu.Unlock()

	if t.pub != nil {
		t.pub.Publish(ctx, []events.Event{{
			Kind:    events.KindMinterSet,
			Time:    time.Now().UTC(),
			Payload: events.Wired{Component: t.cfg.Symbol, Target: minter},
		}})
	}
	return nil
}

func (t *Token) TotalSupply() *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(uint256.Int).Set(t.supply)
}

func (t *Token) BalanceOf(account common.Address) *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balanceLocked(account)
}

func (t *Token) Allowance(owner, spender common.Address) *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if a, ok := t.allowances[owner][spender]; ok {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int)
}

func (t *Token) Approve(owner, spender common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) {
		return fmt.Errorf("%s: approve: %w", t.cfg.Symbol, ErrZeroAddress)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*uint256.Int)
	}
	t.allowances[owner][spender] = new(uint256.Int).Set(amount)
	return nil
}

func (t *Token) Transfer(from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.moveLocked(from, to, amount)
}

// TransferFrom moves owner funds on behalf of spender, consuming allowance.
func (t *Token) TransferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowed := new(uint256.Int)
	if a, ok := t.allowances[from][spender]; ok {
		allowed = a
	}
	if allowed.Lt(amount) {
		return fmt.Errorf("%s: %s allowance %s < %s: %w",
			t.cfg.Symbol, spender.Hex(), allowed.Dec(), amount.Dec(), ErrInsufficientAllowance)
	}
	if err := t.moveLocked(from, to, amount); err != nil {
		return err
	}
	if t.allowances[from] == nil {
		t.allowances[from] = make(map[common.Address]*uint256.Int)
	}
	t.allowances[from][spender] = new(uint256.Int).Sub(allowed, amount)
	return nil
}

func (t *Token) Mint(caller, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.requireMinterLocked(caller, "mint"); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return fmt.Errorf("%s: mint: %w", t.cfg.Symbol, ErrZeroAddress)
	}
	supply, overflow := new(uint256.Int).AddOverflow(t.supply, amount)
	if overflow {
		return fmt.Errorf("%s: mint overflows supply: %w", t.cfg.Symbol, errs.ErrCapExceeded)
	}
	t.supply = supply
	t.balances[to] = new(uint256.Int).Add(t.balanceLocked(to), amount)
	return nil
}

func (t *Token) Burn(caller, from common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.requireMinterLocked(caller, "burn"); err != nil {
		return err
	}
	bal := t.balanceLocked(from)
	if bal.Lt(amount) {
		return fmt.Errorf("%s: burn %s from %s holding %s: %w",
			t.cfg.Symbol, amount.Dec(), from.Hex(), bal.Dec(), ErrInsufficientBalance)
	}
	t.balances[from] = bal.Sub(bal, amount)
	t.supply = new(uint256.Int).Sub(t.supply, amount)
	return nil
}

func (t *Token) requireMinterLocked(caller common.Address, op string) error {
	if t.minter == (common.Address{}) || caller != t.minter {
		return fmt.Errorf("%s: %s by %s: %w", t.cfg.Symbol, op, caller.Hex(), errs.ErrUnauthorized)
	}
	return nil
}

func (t *Token) moveLocked(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("%s: transfer: %w", t.cfg.Symbol, ErrZeroAddress)
	}
	bal := t.balanceLocked(from)
	if bal.Lt(amount) {
		return fmt.Errorf("%s: transfer %s from %s holding %s: %w",
			t.cfg.Symbol, amount.Dec(), from.Hex(), bal.Dec(), ErrInsufficientBalance)
	}
	t.balances[from] = new(uint256.Int).Sub(bal, amount)
	t.balances[to] = new(uint256.Int).Add(t.balanceLocked(to), amount)
	return nil
}

func (t *Token) balanceLocked(account common.Address) *uint256.Int {
	if b, ok := t.balances[account]; ok {
		return new(uint256.Int).Set(b)
	}
	return new(uint256.Int)
}
