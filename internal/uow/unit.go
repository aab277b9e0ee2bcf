// Package uow implements the unit of work every protocol action runs in.
// Components record an undo step next to each write; a failed action replays
// the steps in reverse so no partial effect survives, and pending events are
// released only on commit.
package uow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/argenta/argenta-backend/internal/events"
)

var ErrCompleted = errors.New("unit of work already completed")

type Unit struct {
	mu         sync.Mutex
	now        time.Time
	undo       []func()
	pending    []events.Event
	committed  bool
	rolledBack bool
}

// New starts a unit pinned to the action's evaluation time.
func New(now time.Time) *Unit {
	return &Unit{now: now}
}

// Now is the single timestamp the whole action is evaluated at.
func (u *Unit) Now() time.Time {
	return u.now
}

// Defer registers fn to run if the unit is rolled back.
func (u *Unit) Defer(fn func()) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.undo = append(u.undo, fn)
}

// Emit queues an event for release on commit.
func (u *Unit) Emit(kind events.Kind, payload any) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.pending = append(u.pending, events.Event{Kind: kind, Time: u.now, Payload: payload})
}

// Commit finalizes the unit and returns its pending events.
func (u *Unit) Commit() ([]events.Event, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.committed || u.rolledBack {
		return nil, ErrCompleted
	}
	u.committed = true
	u.undo = nil
	out := u.pending
	u.pending = nil
	return out, nil
}

// Rollback runs the undo log newest first and drops pending events.
func (u *Unit) Rollback() error {
	u.mu.Lock()
	if u.committed || u.rolledBack {
		u.mu.Unlock()
		return ErrCompleted
	}
	u.rolledBack = true
	steps := u.undo
	u.undo = nil
	u.pending = nil
	u.mu.Unlock()

	for i := len(steps) - 1; i >= 0; i-- {
		steps[i]()
	}
	return nil
}

// IsCompleted returns true if the unit has been committed or rolled back
func (u *Unit) IsCompleted() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.committed || u.rolledBack
}

// Publisher receives committed events.
type Publisher interface {
	Publish(ctx context.Context, evts []events.Event) []events.Event
}

// Run executes fn inside a fresh unit. On error the unit is rolled back and
// the error returned unchanged; on success the events go to pub.
func Run(ctx context.Context, now time.Time, pub Publisher, fn func(*Unit) error) error {
	u := New(now)
	if err := fn(u); err != nil {
		_ = u.Rollback()
		return err
	}
	evts, err := u.Commit()
	if err != nil {
		return err
	}
	if pub != nil {
		pub.Publish(ctx, evts)
	}
	return nil
}
