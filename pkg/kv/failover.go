package kv

import (
	"context"
	"errors"
	"sync"
	"time"
)

// LogFunc receives failover transitions as a message plus key/value pairs.
type LogFunc func(msg string, fields ...any)

// FailoverStore serves from primary and switches to fallback when primary
// reports ErrBackendUnavailable. While failed over it pings primary every
// probe interval and switches back once a ping succeeds. Writes made to the
// fallback are not copied back.
type FailoverStore struct {
	primary       Store
	fallback      Store
	probeInterval time.Duration
	logger        LogFunc

	mu      sync.RWMutex
	active  Store
	probing bool

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

func NewFailoverStore(primary, fallback Store, probeInterval time.Duration, logger LogFunc) *FailoverStore {
	if logger == nil {
		logger = func(string, ...any) {}
	}
	if probeInterval <= 0 {
		probeInterval = 5 * time.Second
	}
	return &FailoverStore{
		primary:       primary,
		fallback:      fallback,
		probeInterval: probeInterval,
		logger:        logger,
		active:        primary,
		closed:        make(chan struct{}),
	}
}

// NewFailoverStoreWithFallbackActive starts on the fallback and probes
// primary immediately, for a primary that failed its startup ping.
func NewFailoverStoreWithFallbackActive(primary, fallback Store, probeInterval time.Duration, logger LogFunc) *FailoverStore {
	fs := NewFailoverStore(primary, fallback, probeInterval, logger)
	fs.mu.Lock()
	fs.active = fallback
	fs.startProbingLocked()
	fs.mu.Unlock()
	return fs
}

func (fs *FailoverStore) current() Store {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.active
}

// ActiveBackend reports "primary" or "fallback".
func (fs *FailoverStore) ActiveBackend() string {
	if fs.current() == fs.primary {
		return "primary"
	}
	return "fallback"
}

func (fs *FailoverStore) demote() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.active == fs.fallback {
		return
	}
	fs.active = fs.fallback
	fs.logger("failing over to in-memory store", "reason", "primary_unavailable")
	fs.startProbingLocked()
}

func (fs *FailoverStore) startProbingLocked() {
	if fs.probing {
		return
	}
	select {
	case <-fs.closed:
		return
	default:
	}
	fs.probing = true
	fs.wg.Add(1)
	go fs.probe()
}

func (fs *FailoverStore) probe() {
	defer fs.wg.Done()
	ticker := time.NewTicker(fs.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-fs.closed:
			fs.mu.Lock()
			fs.probing = false
			fs.mu.Unlock()
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), fs.probeInterval/2)
			err := fs.primary.Ping(ctx)
			cancel()
			if err != nil {
				continue
			}
			fs.mu.Lock()
			fs.active = fs.primary
			fs.probing = false
			fs.mu.Unlock()
			fs.logger("recovered to primary store", "reason", "primary_healthy")
			return
		}
	}
}

func call[T any](fs *FailoverStore, fn func(Store) (T, error)) (T, error) {
	store := fs.current()
	res, err := fn(store)
	if store == fs.primary && errors.Is(err, ErrBackendUnavailable) {
		fs.demote()
		return fn(fs.fallback)
	}
	return res, err
}

func (fs *FailoverStore) Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error {
	_, err := call(fs, func(s Store) (struct{}, error) {
		return struct{}{}, s.Set(ctx, key, value, ttl...)
	})
	return err
}

func (fs *FailoverStore) Get(ctx context.Context, key string) ([]byte, error) {
	return call(fs, func(s Store) ([]byte, error) { return s.Get(ctx, key) })
}

func (fs *FailoverStore) Del(ctx context.Context, keys ...string) (int64, error) {
	return call(fs, func(s Store) (int64, error) { return s.Del(ctx, keys...) })
}

func (fs *FailoverStore) Exists(ctx context.Context, keys ...string) (int64, error) {
	return call(fs, func(s Store) (int64, error) { return s.Exists(ctx, keys...) })
}

func (fs *FailoverStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return call(fs, func(s Store) (bool, error) { return s.Expire(ctx, key, ttl) })
}

func (fs *FailoverStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	return call(fs, func(s Store) (time.Duration, error) { return s.TTL(ctx, key) })
}

func (fs *FailoverStore) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	return call(fs, func(s Store) (int64, error) { return s.IncrBy(ctx, key, n) })
}

func (fs *FailoverStore) HSet(ctx context.Context, key, field string, value []byte) error {
	_, err := call(fs, func(s Store) (struct{}, error) {
		return struct{}{}, s.HSet(ctx, key, field, value)
	})
	return err
}

func (fs *FailoverStore) HGet(ctx context.Context, key, field string) ([]byte, error) {
	return call(fs, func(s Store) ([]byte, error) { return s.HGet(ctx, key, field) })
}

func (fs *FailoverStore) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	return call(fs, func(s Store) (int64, error) { return s.HDel(ctx, key, fields...) })
}

func (fs *FailoverStore) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	return call(fs, func(s Store) (map[string][]byte, error) { return s.HGetAll(ctx, key) })
}

// Ping checks the active store only; a failed-over store stays healthy.
func (fs *FailoverStore) Ping(ctx context.Context) error {
	return fs.current().Ping(ctx)
}

func (fs *FailoverStore) Close() error {
	fs.closeOnce.Do(func() { close(fs.closed) })
	fs.wg.Wait()
	return errors.Join(fs.primary.Close(), fs.fallback.Close())
}
