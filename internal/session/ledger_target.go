package session

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/argenta/argenta-backend/internal/errs"
	"github.com/argenta/argenta-backend/internal/ledger"
)

var (
	SelectorTransfer = Selector("transfer(address,uint256)")
	SelectorApprove  = Selector("approve(address,uint256)")
)

// LedgerTarget exposes a token's transfer and approve to the executor. Both
// act on the caller's own balance.
type LedgerTarget struct {
	token ledger.Ledger
}

func NewLedgerTarget(token ledger.Ledger) *LedgerTarget {
	return &LedgerTarget{token: token}
}

func (l *LedgerTarget) Address() common.Address { return l.token.Address() }

func (l *LedgerTarget) Call(_ context.Context, caller common.Address, data []byte) ([]byte, error) {
	if len(data) != 4+64 {
		return nil, fmt.Errorf("%s: calldata length %d: %w", l.token.Symbol(), len(data), errs.ErrInvalidAmount)
	}
	var sel [4]byte
	copy(sel[:], data[:4])
	to := common.BytesToAddress(data[4:36])
	amount := new(uint256.Int).SetBytes32(data[36:68])

	var err error
	switch sel {
	case SelectorTransfer:
		err = l.token.Transfer(caller, to, amount)
	case SelectorApprove:
		err = l.token.Approve(caller, to, amount)
	default:
		return nil, fmt.Errorf("%s: unknown selector %s: %w", l.token.Symbol(), SelectorHex(sel), errs.ErrInvalidState)
	}
	if err != nil {
		return nil, err
	}
	return common.LeftPadBytes([]byte{1}, 32), nil
}

// EncodeAddressAmount builds calldata for a (address,uint256) call.
func EncodeAddressAmount(sel [4]byte, to common.Address, amount *uint256.Int) []byte {
	data := make([]byte, 0, 4+64)
	data = append(data, sel[:]...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	word := amount.Bytes32()
	return append(data, word[:]...)
}
