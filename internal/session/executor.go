package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/argenta/argenta-backend/internal/errs"
	"github.com/argenta/argenta-backend/internal/events"
	"github.com/argenta/argenta-backend/internal/uow"
)

// Target is a callable surface reachable through the executor. data is a
// 4-byte selector followed by ABI-encoded arguments; caller is always the
// executor's own address.
type Target interface {
	Address() common.Address
	Call(ctx context.Context, caller common.Address, data []byte) ([]byte, error)
}

type Executor struct {
	mu       sync.RWMutex
	addr     common.Address
	verifier *Verifier
	targets  map[common.Address]Target
	pub      uow.Publisher
	logger   *zap.SugaredLogger
	now      func() time.Time
}

func NewExecutor(addr common.Address, verifier *Verifier, pub uow.Publisher, logger *zap.SugaredLogger) *Executor {
	return &Executor{
		addr:     addr,
		verifier: verifier,
		targets:  make(map[common.Address]Target),
		pub:      pub,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the clock grants are checked against.
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

func (e *Executor) Address() common.Address { return e.addr }

// Register makes t callable. A later registration for the same address
// replaces the earlier one.
func (e *Executor) Register(t Target) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.targets[t.Address()] = t
}

// Execute forwards data to target if onBehalfOf granted the call's selector
// on target. The target sees the executor as its caller.
func (e *Executor) Execute(ctx context.Context, agent, onBehalfOf, target common.Address, data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("execute: calldata shorter than a selector: %w", errs.ErrPermissionDenied)
	}
	var sel [4]byte
	copy(sel[:], data[:4])

	now := e.now()
	if !e.verifier.IsAllowed(onBehalfOf, target, sel, now) {
		return nil, fmt.Errorf("execute %s on %s for %s: %w",
			SelectorHex(sel), target.Hex(), onBehalfOf.Hex(), errs.ErrPermissionDenied)
	}

	e.mu.RLock()
	t, ok := e.targets[target]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("execute: no target at %s: %w", target.Hex(), errs.ErrNotFound)
	}

	out, err := t.Call(ctx, e.addr, data)
	if err != nil {
		return nil, fmt.Errorf("execute %s on %s: %w", SelectorHex(sel), target.Hex(), err)
	}

	e.logger.Infow("Session call executed",
		"agent", agent.Hex(),
		"on_behalf_of", onBehalfOf.Hex(),
		"target", target.Hex(),
		"selector", SelectorHex(sel))
	if e.pub != nil {
		e.pub.Publish(ctx, []events.Event{{
			Kind: events.KindCallExecuted,
			Time: now.UTC(),
			Payload: events.CallExecuted{
				Agent:      agent,
				OnBehalfOf: onBehalfOf,
				Target:     target,
				Selector:   SelectorHex(sel),
			},
		}})
	}
	return out, nil
}
