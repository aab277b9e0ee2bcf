package vault

import (
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type State string

const (
	StateOpen   State = "open"
	StateClosed State = "closed"
)

// Position is a read-only view joining the manager's collateral record with
// the debt engine's principal.
type Position struct {
	ID          uint64                          `json:"id"`
	Owner       common.Address                  `json:"owner"`
	State       State                           `json:"state"`
	Collateral  map[common.Address]*uint256.Int `json:"collateral"`
	Principal   *uint256.Int                    `json:"principal"`
	LastAccrual time.Time                       `json:"lastAccrual"`
	OpenedAt    time.Time                       `json:"openedAt"`
	ClosedAt    time.Time                       `json:"closedAt,omitempty"`
}

// HeldAssets returns the assets with a non-zero balance, ordered by address.
func (p Position) HeldAssets() []common.Address {
	var out []common.Address
	for asset, amt := range p.Collateral {
		if !amt.IsZero() {
			out = append(out, asset)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hex() < out[j].Hex() })
	return out
}

type position struct {
	id         uint64
	owner      common.Address
	state      State
	collateral map[common.Address]*uint256.Int
	openedAt   time.Time
	closedAt   time.Time
}

func (p *position) balance(asset common.Address) *uint256.Int {
	if b, ok := p.collateral[asset]; ok {
		return new(uint256.Int).Set(b)
	}
	return new(uint256.Int)
}

func (p *position) viewLocked(mu *sync.RWMutex) Position {
	mu.RLock()
	defer mu.RUnlock()
	return p.view()
}

func (p *position) view() Position {
	coll := make(map[common.Address]*uint256.Int, len(p.collateral))
	for a, amt := range p.collateral {
		coll[a] = new(uint256.Int).Set(amt)
	}
	return Position{
		ID:         p.id,
		Owner:      p.owner,
		State:      p.state,
		Collateral: coll,
		OpenedAt:   p.openedAt,
		ClosedAt:   p.closedAt,
	}
}
