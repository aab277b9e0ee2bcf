// Package repository stores the committed event stream for queries that the
// in-process components do not answer: history by sequence, by position and
// by kind.
package repository

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/argenta/argenta-backend/internal/events"
)

// ErrNotFound is returned for unknown indexer cursors.
var ErrNotFound = errors.New("not found")

// EventStore is implemented by the Postgres repository and the memory store.
type EventStore interface {
	StoreEvents(ctx context.Context, recs []events.Record) error
	EventsAfter(ctx context.Context, seq uint64, limit int) ([]events.Record, error)
	PositionEvents(ctx context.Context, positionID uint64, limit int) ([]events.Record, error)
	LastSeq(ctx context.Context) (uint64, error)
	GetIndexerState(ctx context.Context, name string) (uint64, error)
	UpdateIndexerState(ctx context.Context, name string, seq uint64) error
	Ping(ctx context.Context) error
}

// Sink adapts an EventStore to the event bus.
type Sink struct {
	store  EventStore
	logger *zap.SugaredLogger
}

func NewSink(store EventStore, logger *zap.SugaredLogger) *Sink {
	return &Sink{store: store, logger: logger}
}

func (s *Sink) Name() string { return "repository" }

func (s *Sink) Handle(ctx context.Context, evts []events.Event) error {
	recs := make([]events.Record, 0, len(evts))
	for _, e := range evts {
		rec, err := e.Record()
		if err != nil {
			return err
		}
		recs = append(recs, rec)
	}
	if err := s.store.StoreEvents(ctx, recs); err != nil {
		return err
	}
	s.logger.Debugw("Stored events", "count", len(recs))
	return nil
}

// Backfill stores records the store has not seen yet, e.g. journal entries
// written while the database was unreachable. It returns how many it stored.
func Backfill(ctx context.Context, store EventStore, recs []events.Record) (int, error) {
	last, err := store.LastSeq(ctx)
	if err != nil {
		return 0, err
	}
	missing := make([]events.Record, 0, len(recs))
	for _, r := range recs {
		if r.Seq > last {
			missing = append(missing, r)
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}
	if err := store.StoreEvents(ctx, missing); err != nil {
		return 0, fmt.Errorf("backfill %d events: %w", len(missing), err)
	}
	return len(missing), nil
}
