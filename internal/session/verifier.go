// Package session lets an account delegate individual calls to agents. A
// grant names a target and a 4-byte selector; any agent may then execute that
// call through the Executor on the granter's behalf until the grant expires
// or is revoked.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/argenta/argenta-backend/internal/errs"
	"github.com/argenta/argenta-backend/internal/events"
	"github.com/argenta/argenta-backend/internal/uow"
)

// Selector returns the first four bytes of keccak256(signature), e.g.
// Selector("transfer(address,uint256)").
func Selector(signature string) [4]byte {
	var sel [4]byte
	copy(sel[:], crypto.Keccak256([]byte(signature))[:4])
	return sel
}

// ParseSelector decodes a 0x-prefixed 4-byte hex selector.
func ParseSelector(s string) ([4]byte, error) {
	var sel [4]byte
	raw, err := hexutil.Decode(s)
	if err != nil || len(raw) != 4 {
		return sel, fmt.Errorf("selector %q must be 4 hex bytes: %w", s, errs.ErrInvalidConfig)
	}
	copy(sel[:], raw)
	return sel, nil
}

func SelectorHex(sel [4]byte) string {
	return hexutil.Encode(sel[:])
}

type Grant struct {
	ID       uint64         `json:"id"`
	Granter  common.Address `json:"granter"`
	Target   common.Address `json:"target"`
	Selector [4]byte        `json:"-"`
	// Expiry is exclusive. The zero time never expires.
	Expiry  time.Time `json:"expiry,omitempty"`
	Revoked bool      `json:"revoked"`
}

// Live reports whether the grant can be used at now.
func (g Grant) Live(now time.Time) bool {
	if g.Revoked {
		return false
	}
	return g.Expiry.IsZero() || now.Before(g.Expiry)
}

type Verifier struct {
	mu     sync.RWMutex
	grants []Grant
	pub    uow.Publisher
	now    func() time.Time
}

func NewVerifier(pub uow.Publisher) *Verifier {
	return &Verifier{pub: pub, now: time.Now}
}

// WithClock overrides the clock used for event timestamps.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// GrantPermission records a grant from granter and returns its id. Ids are
// assigned sequentially from zero.
func (v *Verifier) GrantPermission(ctx context.Context, granter, target common.Address, selector [4]byte, expiry time.Time) (uint64, error) {
	if granter == (common.Address{}) {
		return 0, fmt.Errorf("grant: zero granter: %w", errs.ErrUnauthorized)
	}
	if target == (common.Address{}) {
		return 0, fmt.Errorf("grant: zero target: %w", errs.ErrInvalidConfig)
	}

	v.mu.Lock()
	id := uint64(len(v.grants))
	v.grants = append(v.grants, Grant{
		ID:       id,
		Granter:  granter,
		Target:   target,
		Selector: selector,
		Expiry:   expiry,
	})
	v.mu.Unlock()

	var exp int64
	if !expiry.IsZero() {
		exp = expiry.Unix()
	}
	v.publish(ctx, events.KindPermissionGranted, events.PermissionGranted{
		PermissionID: id,
		Granter:      granter,
		Target:       target,
		Selector:     SelectorHex(selector),
		Expiry:       exp,
	})
	return id, nil
}

// RevokePermission disables grant id. Only its granter may revoke it.
func (v *Verifier) RevokePermission(ctx context.Context, caller common.Address, id uint64) error {
	v.mu.Lock()
	if id >= uint64(len(v.grants)) {
		v.mu.Unlock()
		return fmt.Errorf("permission %d: %w", id, errs.ErrNotFound)
	}
	g := &v.grants[id]
	if g.Granter != caller {
		v.mu.Unlock()
		return fmt.Errorf("revoke permission %d by %s: %w", id, caller.Hex(), errs.ErrUnauthorized)
	}
	if g.Revoked {
		v.mu.Unlock()
		return fmt.Errorf("permission %d already revoked: %w", id, errs.ErrInvalidState)
	}
	g.Revoked = true
	v.mu.Unlock()

	v.publish(ctx, events.KindPermissionRevoked, events.PermissionRevoked{PermissionID: id, Granter: caller})
	return nil
}

// IsAllowed reports whether granter holds a live grant for selector on target.
func (v *Verifier) IsAllowed(granter, target common.Address, selector [4]byte, now time.Time) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, g := range v.grants {
		if g.Granter == granter && g.Target == target && g.Selector == selector && g.Live(now) {
			return true
		}
	}
	return false
}

func (v *Verifier) Grant(id uint64) (Grant, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if id >= uint64(len(v.grants)) {
		return Grant{}, fmt.Errorf("permission %d: %w", id, errs.ErrNotFound)
	}
	return v.grants[id], nil
}

// GrantsBy lists every grant issued by granter, revoked ones included.
func (v *Verifier) GrantsBy(granter common.Address) []Grant {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var out []Grant
	for _, g := range v.grants {
		if g.Granter == granter {
			out = append(out, g)
		}
	}
	return out
}

func (v *Verifier) publish(ctx context.Context, kind events.Kind, payload any) {
	if v.pub == nil {
		return
	}
	v.pub.Publish(ctx, []events.Event{{Kind: kind, Time: v.now().UTC(), Payload: payload}})
}
