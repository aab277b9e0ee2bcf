package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/argenta/argenta-backend/internal/events"
)

// MemoryStore is the EventStore used when no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records []events.Record
	seen    map[uint64]struct{}
	cursors map[string]uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seen:    make(map[uint64]struct{}),
		cursors: make(map[string]uint64),
	}
}

func (m *MemoryStore) StoreEvents(_ context.Context, recs []events.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recs {
		if _, dup := m.seen[r.Seq]; dup {
			continue
		}
		m.seen[r.Seq] = struct{}{}
		m.records = append(m.records, r)
	}
	sort.Slice(m.records, func(i, j int) bool { return m.records[i].Seq < m.records[j].Seq })
	return nil
}

func (m *MemoryStore) EventsAfter(_ context.Context, seq uint64, limit int) ([]events.Record, error) {
	return m.filter(limit, func(r events.Record) bool { return r.Seq > seq }), nil
}

func (m *MemoryStore) PositionEvents(_ context.Context, positionID uint64, limit int) ([]events.Record, error) {
	return m.filter(limit, func(r events.Record) bool {
		id, ok := r.PositionID()
		return ok && id == positionID
	}), nil
}

func (m *MemoryStore) LastSeq(context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.records) == 0 {
		return 0, nil
	}
	return m.records[len(m.records)-1].Seq, nil
}

func (m *MemoryStore) GetIndexerState(_ context.Context, name string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seq, ok := m.cursors[name]
	if !ok {
		return 0, fmt.Errorf("indexer %q: %w", name, ErrNotFound)
	}
	return seq, nil
}

func (m *MemoryStore) UpdateIndexerState(_ context.Context, name string, seq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[name] = seq
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) filter(limit int, keep func(events.Record) bool) []events.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []events.Record
	for _, r := range m.records {
		if !keep(r) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
