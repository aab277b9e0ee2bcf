package uow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/argenta/argenta-backend/internal/events"
)

func TestRollbackRunsUndoInReverse(t *testing.T) {
	u := New(time.Unix(100, 0))
	var order []int
	u.Defer(func() { order = append(order, 1) })
	u.Defer(func() { order = append(order, 2) })
	u.Emit(events.KindPositionOpened, events.PositionOpened{PositionID: 1})

	require.NoError(t, u.Rollback())
	assert.Equal(t, []int{2, 1}, order)
	assert.True(t, u.IsCompleted())

	_, err := u.Commit()
	assert.ErrorIs(t, err, ErrCompleted)
	assert.ErrorIs(t, u.Rollback(), ErrCompleted)
}

func TestCommitReturnsEventsAndDropsUndo(t *testing.T) {
	at := time.Unix(200, 0)
	u := New(at)
	undone := false
	u.Defer(func() { undone = true })
	u.Emit(events.KindPositionOpened, events.PositionOpened{PositionID: 9})

	evts, err := u.Commit()
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, at, evts[0].Time)
	assert.False(t, undone)
	assert.ErrorIs(t, u.Rollback(), ErrCompleted)
}

func TestRun(t *testing.T) {
	bus := events.NewBus(zap.NewNop().Sugar())
	rec := events.NewRecorder()
	bus.Subscribe(rec)
	ctx := context.Background()

	state := 0
	boom := errors.New("boom")

	err := Run(ctx, time.Unix(1, 0), bus, func(u *Unit) error {
		prev := state
		state = 5
		u.Defer(func() { state = prev })
		u.Emit(events.KindPositionOpened, events.PositionOpened{PositionID: 1})
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, state)
	assert.Empty(t, rec.Events(), "failed actions emit nothing")

	err = Run(ctx, time.Unix(2, 0), bus, func(u *Unit) error {
		state = 7
		u.Emit(events.KindPositionOpened, events.PositionOpened{PositionID: 2})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, state)
	assert.Len(t, rec.Events(), 1)
}
