// Package ledger defines the fungible-value ledger the protocol consumes and
// an in-memory implementation used for the stable unit and collateral tokens.
package ledger

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrZeroAddress           = errors.New("zero address")
)

// Ledger is the narrow surface the protocol needs from a fungible token.
type Ledger interface {
	Address() common.Address
	Symbol() string
	Decimals() uint8
	TotalSupply() *uint256.Int
	BalanceOf(account common.Address) *uint256.Int
	Allowance(owner, spender common.Address) *uint256.Int
	Transfer(from, to common.Address, amount *uint256.Int) error
	TransferFrom(spender, from, to common.Address, amount *uint256.Int) error
	Approve(owner, spender common.Address, amount *uint256.Int) error
}

// Mintable is a Ledger whose supply is controlled by a single minter.
type Mintable interface {
	Ledger
	Mint(caller, to common.Address, amount *uint256.Int) error
	Burn(caller, from common.Address, amount *uint256.Int) error
}
