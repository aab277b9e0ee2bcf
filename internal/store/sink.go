package store

import (
	"context"
	"fmt"

	"github.com/argenta/argenta-backend/internal/events"
)

// EventSink publishes committed events on ChannelEvents and drops cached
// views of the positions they touch.
type EventSink struct {
	cache *Cache
}

func NewEventSink(cache *Cache) *EventSink {
	return &EventSink{cache: cache}
}

func (s *EventSink) Name() string { return "pubsub" }

func (s *EventSink) Handle(ctx context.Context, evts []events.Event) error {
	dirty := false
	for _, e := range evts {
		rec, err := e.Record()
		if err != nil {
			return err
		}
		if err := s.cache.Publish(ctx, ChannelEvents, rec); err != nil {
			return fmt.Errorf("publish event %d: %w", rec.Seq, err)
		}
		if id, ok := rec.PositionID(); ok {
			if err := s.cache.InvalidatePosition(ctx, id); err != nil {
				return err
			}
			continue
		}
		dirty = true
	}
	if dirty {
		return s.cache.Delete(ctx, KeyProtocolSummary)
	}
	return nil
}
