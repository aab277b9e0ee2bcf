package mock

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/argenta/argenta-backend/internal/oracle"
)

// Aggregator is a settable feed reporting a raw answer at fixed decimals.
type Aggregator struct {
	mu        sync.RWMutex
	answer    *big.Int
	decimals  uint8
	updatedAt time.Time
	err       error
}

func NewAggregator(answer int64, decimals uint8) *Aggregator {
	return &Aggregator{
		answer:    big.NewInt(answer),
		decimals:  decimals,
		updatedAt: time.Now().UTC(),
	}
}

func (a *Aggregator) Decimals() uint8 { return a.decimals }

func (a *Aggregator) Description() string { return "mock-aggregator" }

func (a *Aggregator) LatestRound(context.Context) (oracle.Round, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.err != nil {
		return oracle.Round{}, a.err
	}
	return oracle.Round{Answer: new(big.Int).Set(a.answer), UpdatedAt: a.updatedAt}, nil
}

// SetAnswer reports answer as of now.
func (a *Aggregator) SetAnswer(answer int64) {
	a.SetRound(big.NewInt(answer), time.Now().UTC())
}

func (a *Aggregator) SetRound(answer *big.Int, updatedAt time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.answer = new(big.Int).Set(answer)
	a.updatedAt = updatedAt
}

// SetError makes every read fail with err until cleared with nil.
func (a *Aggregator) SetError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}
