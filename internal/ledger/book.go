package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/argenta/argenta-backend/internal/errs"
)

// Book resolves asset addresses to their ledgers.
type Book struct {
	mu     sync.RWMutex
	tokens map[common.Address]Ledger
}

func NewBook(tokens ...Ledger) *Book {
	b := &Book{tokens: make(map[common.Address]Ledger)}
	for _, t := range tokens {
		b.Add(t)
	}
	return b
}

func (b *Book) Add(l Ledger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens[l.Address()] = l
}

func (b *Book) Get(asset common.Address) (Ledger, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	l, ok := b.tokens[asset]
	if !ok {
		return nil, fmt.Errorf("no ledger for asset %s: %w", asset.Hex(), errs.ErrInvalidAsset)
	}
	return l, nil
}

// All returns the ledgers ordered by symbol.
func (b *Book) All() []Ledger {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Ledger, 0, len(b.tokens))
	for _, l := range b.tokens {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol() < out[j].Symbol() })
	return out
}
