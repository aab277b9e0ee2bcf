// Package journal persists committed protocol events in a write-ahead log so
// the event stream survives restarts and can be replayed from any sequence.
package journal

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/argenta/argenta-backend/internal/events"
)

const (
	defaultDir          = "./wal/events"
	defaultSegmentLimit = 1000
	defaultMaxSegments  = 100
	keyPrefix           = "event_"
)

type Config struct {
	Dir              string
	SegmentThreshold int
	MaxSegments      int
	SyncWrites       bool
}

// Journal is an events.Sink backed by gowal.
type Journal struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

func Open(cfg Config) (*Journal, error) {
	if cfg.Dir == "" {
		cfg.Dir = defaultDir
	}
	if cfg.SegmentThreshold <= 0 {
		cfg.SegmentThreshold = defaultSegmentLimit
	}
	if cfg.MaxSegments <= 0 {
		cfg.MaxSegments = defaultMaxSegments
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              cfg.Dir,
		Prefix:           "events_",
		SegmentThreshold: cfg.SegmentThreshold,
		MaxSegments:      cfg.MaxSegments,
		IsInSyncDiskMode: cfg.SyncWrites,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init event journal")
	}
	return &Journal{wal: wal}, nil
}

func (j *Journal) Name() string { return "journal" }

// Handle appends every event in order.
func (j *Journal) Handle(_ context.Context, evts []events.Event) error {
	for _, e := range evts {
		if err := j.Append(e); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) Append(e events.Event) error {
	if j == nil || j.wal == nil {
		return errors.New("event journal is not initialized")
	}
	rec, err := e.Record()
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal event record")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	next := j.wal.CurrentIndex() + 1
	if err := j.wal.Write(next, keyPrefix+string(e.Kind), payload); err != nil {
		return errors.Wrapf(err, "write event %d", e.Seq)
	}
	return nil
}

// After returns the journaled records with a sequence number above seq,
// oldest first, at most limit of them (0 means no limit).
func (j *Journal) After(seq uint64, limit int) ([]events.Record, error) {
	if j == nil || j.wal == nil {
		return nil, errors.New("event journal is not initialized")
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []events.Record
	current := j.wal.CurrentIndex()
	for idx := uint64(1); idx <= current; idx++ {
		key, payload, err := j.wal.Get(idx)
		if err != nil || !strings.HasPrefix(key, keyPrefix) {
			continue
		}
		var rec events.Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, errors.Wrapf(err, "decode journal entry %d", idx)
		}
		if rec.Seq <= seq {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// LastSeq returns the highest sequence number journaled, or 0.
func (j *Journal) LastSeq() (uint64, error) {
	if j == nil || j.wal == nil {
		return 0, errors.New("event journal is not initialized")
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	for idx := j.wal.CurrentIndex(); idx > 0; idx-- {
		key, payload, err := j.wal.Get(idx)
		if err != nil || !strings.HasPrefix(key, keyPrefix) {
			continue
		}
		var rec events.Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return 0, errors.Wrapf(err, "decode journal entry %d", idx)
		}
		return rec.Seq, nil
	}
	return 0, nil
}

// CurrentIndex returns the latest WAL index stored.
func (j *Journal) CurrentIndex() uint64 {
	if j == nil || j.wal == nil {
		return 0
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	return j.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (j *Journal) Close() error {
	if j == nil || j.wal == nil {
		return errors.New("event journal is not initialized")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	return j.wal.Close()
}
