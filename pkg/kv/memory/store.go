package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/argenta/argenta-backend/pkg/kv"
)

type entry struct {
	value   []byte
	hash    map[string][]byte
	expires time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// Store is an in-memory kv.Store. Expired keys disappear on access and are
// swept by a janitor goroutine when one is configured.
type Store struct {
	mu   sync.Mutex
	data map[string]*entry
	now  func() time.Time

	janitorInterval time.Duration
	janitorStop     chan struct{}
	janitorDone     chan struct{}
	closeOnce       sync.Once
}

// New starts a janitor when janitorInterval is positive.
func New(janitorInterval time.Duration) *Store {
	s := &Store{
		data:            make(map[string]*entry),
		now:             time.Now,
		janitorInterval: janitorInterval,
		janitorStop:     make(chan struct{}),
		janitorDone:     make(chan struct{}),
	}
	if janitorInterval > 0 {
		go s.janitor()
	} else {
		close(s.janitorDone)
	}
	return s
}

func (s *Store) janitor() {
	defer close(s.janitorDone)
	ticker := time.NewTicker(s.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.janitorStop:
			return
		}
	}
}

func (s *Store) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, e := range s.data {
		if e.expired(now) {
			delete(s.data, key)
		}
	}
}

// lookup returns the live entry for key, dropping it if expired. Caller
// holds mu.
func (s *Store) lookup(key string) (*entry, bool) {
	e, ok := s.data[key]
	if !ok {
		return nil, false
	}
	if e.expired(s.now()) {
		delete(s.data, key)
		return nil, false
	}
	return e, true
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl ...time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &entry{value: append([]byte(nil), value...)}
	if len(ttl) > 0 && ttl[0] > 0 {
		e.expires = s.now().Add(ttl[0])
	}
	s.data[key] = e
	return nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return nil, kv.ErrNotFound
	}
	if e.hash != nil {
		return nil, kv.ErrWrongType
	}
	return append([]byte(nil), e.value...), nil
}

func (s *Store) Del(_ context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for _, key := range keys {
		if _, ok := s.lookup(key); ok {
			delete(s.data, key)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) Exists(_ context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, key := range keys {
		if _, ok := s.lookup(key); ok {
			n++
		}
	}
	return n, nil
}

func (s *Store) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return false, nil
	}
	if ttl <= 0 {
		delete(s.data, key)
		return true, nil
	}
	e.expires = s.now().Add(ttl)
	return true, nil
}

func (s *Store) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return 0, kv.ErrNotFound
	}
	if e.expires.IsZero() {
		return -1, nil
	}
	return e.expires.Sub(s.now()), nil
}

func (s *Store) IncrBy(_ context.Context, key string, n int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		e = &entry{}
		s.data[key] = e
	}
	if e.hash != nil {
		return 0, kv.ErrWrongType
	}
	var current int64
	if len(e.value) > 0 {
		parsed, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return 0, kv.ErrWrongType
		}
		current = parsed
	}
	current += n
	e.value = []byte(strconv.FormatInt(current, 10))
	return current, nil
}

func (s *Store) HSet(_ context.Context, key, field string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		e = &entry{hash: make(map[string][]byte)}
		s.data[key] = e
	}
	if e.hash == nil {
		return kv.ErrWrongType
	}
	e.hash[field] = append([]byte(nil), value...)
	return nil
}

func (s *Store) HGet(_ context.Context, key, field string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return nil, kv.ErrNotFound
	}
	if e.hash == nil {
		return nil, kv.ErrWrongType
	}
	v, ok := e.hash[field]
	if !ok {
		return nil, kv.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *Store) HDel(_ context.Context, key string, fields ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return 0, nil
	}
	if e.hash == nil {
		return 0, kv.ErrWrongType
	}
	var deleted int64
	for _, f := range fields {
		if _, ok := e.hash[f]; ok {
			delete(e.hash, f)
			deleted++
		}
	}
	// Redis drops a hash once its last field is gone.
	if len(e.hash) == 0 {
		delete(s.data, key)
	}
	return deleted, nil
}

func (s *Store) HGetAll(_ context.Context, key string) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return nil, kv.ErrNotFound
	}
	if e.hash == nil {
		return nil, kv.ErrWrongType
	}
	out := make(map[string][]byte, len(e.hash))
	for f, v := range e.hash {
		out[f] = append([]byte(nil), v...)
	}
	return out, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Close stops the janitor and drops all data.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.janitorInterval > 0 {
			close(s.janitorStop)
		}
		<-s.janitorDone

		s.mu.Lock()
		s.data = make(map[string]*entry)
		s.mu.Unlock()
	})
	return nil
}
