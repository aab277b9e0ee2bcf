// Package access holds the administrator capability shared by every
// component that exposes configuration calls.
package access

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/argenta/argenta-backend/internal/errs"
)

// Admin is the capability fixed at deployment. Components hold a copy and
// check it at the top of each mutating administrative operation.
type Admin struct {
	addr common.Address
}

func NewAdmin(addr common.Address) Admin {
	return Admin{addr: addr}
}

func (a Admin) Address() common.Address {
	return a.addr
}

// Require fails with ErrUnauthorized unless caller is the administrator.
func (a Admin) Require(caller common.Address, op string) error {
	if caller != a.addr || a.addr == (common.Address{}) {
		return fmt.Errorf("%s: caller %s is not admin: %w", op, caller.Hex(), errs.ErrUnauthorized)
	}
	return nil
}
