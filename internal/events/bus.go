package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Sink receives batches of committed events in sequence order.
type Sink interface {
	Name() string
	Handle(ctx context.Context, evts []Event) error
}

type Bus struct {
	mu     sync.Mutex
	seq    uint64
	sinks  []Sink
	logger *zap.SugaredLogger
}

func NewBus(logger *zap.SugaredLogger) *Bus {
	return &Bus{logger: logger}
}

func (b *Bus) Subscribe(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Resume continues numbering after seq, used when a journal already holds
// earlier events.
func (b *Bus) Resume(seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if seq > b.seq {
		b.seq = seq
	}
}

func (b *Bus) LastSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Publish numbers the batch and hands it to every sink. Sink failures are
// logged and never reach the action that produced the events.
func (b *Bus) Publish(ctx context.Context, evts []Event) []Event {
	if len(evts) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Event, len(evts))
	for i, e := range evts {
		b.seq++
		e.Seq = b.seq
		out[i] = e
	}

	for _, s := range b.sinks {
		if err := s.Handle(ctx, out); err != nil {
			b.logger.Warnw("Event sink failed",
				"sink", s.Name(),
				"from_seq", out[0].Seq,
				"count", len(out),
				"error", err)
		}
	}
	return out
}
