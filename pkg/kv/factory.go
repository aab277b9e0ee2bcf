package kv

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type Backend string

const (
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
)

// Config selects and tunes a Store backend.
type Config struct {
	Backend Backend

	// RedisURL is redis://host:port/db or a bare host:port.
	RedisURL string

	// JanitorInterval is the memory backend's expiry sweep period. Default 30s.
	JanitorInterval time.Duration

	// FailoverEnabled keeps a memory store behind Redis and switches to it
	// on connection errors.
	FailoverEnabled bool

	// ProbeInterval is how often a failed-over store pings Redis. Default 5s.
	ProbeInterval time.Duration

	// StartupProbeTimeout bounds the initial Redis ping. Default 1s.
	StartupProbeTimeout time.Duration

	Logger LogFunc
}

type StoreFactory func(cfg Config) (Store, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[Backend]StoreFactory)
)

// RegisterBackend makes a backend available to NewStoreFromConfig.
func RegisterBackend(backend Backend, factory StoreFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[backend] = factory
}

func factoryFor(backend Backend) (StoreFactory, error) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[backend]
	if !ok {
		return nil, fmt.Errorf("%s backend not registered", backend)
	}
	return f, nil
}

// NewStoreFromConfig builds a store for cfg.Backend. A Redis backend that
// cannot be reached at startup degrades to memory instead of failing.
func NewStoreFromConfig(cfg Config) (Store, error) {
	if cfg.JanitorInterval == 0 {
		cfg.JanitorInterval = 30 * time.Second
	}
	if cfg.ProbeInterval == 0 {
		cfg.ProbeInterval = 5 * time.Second
	}
	if cfg.StartupProbeTimeout == 0 {
		cfg.StartupProbeTimeout = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = func(string, ...any) {}
	}

	switch cfg.Backend {
	case BackendMemory:
		factory, err := factoryFor(BackendMemory)
		if err != nil {
			return nil, err
		}
		return factory(cfg)
	case BackendRedis:
		return newRedisWithFallback(cfg)
	default:
		return nil, fmt.Errorf("unsupported backend: %s (supported: %s, %s)",
			cfg.Backend, BackendMemory, BackendRedis)
	}
}

func newRedisWithFallback(cfg Config) (Store, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis URL is required when backend is 'redis'")
	}
	memoryFactory, err := factoryFor(BackendMemory)
	if err != nil {
		return nil, err
	}
	redisFactory, err := factoryFor(BackendRedis)
	if err != nil {
		return nil, err
	}

	fallback, err := memoryFactory(cfg)
	if err != nil {
		return nil, fmt.Errorf("create memory fallback: %w", err)
	}

	primary, err := redisFactory(cfg)
	if err != nil {
		cfg.Logger("redis unavailable at startup; using in-memory store", "error", err.Error())
		return fallback, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.StartupProbeTimeout)
	defer cancel()
	pingErr := primary.Ping(ctx)

	if !cfg.FailoverEnabled {
		if pingErr != nil {
			_ = primary.Close()
			cfg.Logger("redis health check failed at startup; using in-memory store", "error", pingErr.Error())
			return fallback, nil
		}
		_ = fallback.Close()
		return primary, nil
	}

	if pingErr != nil {
		cfg.Logger("redis unhealthy at startup; serving from memory and probing", "error", pingErr.Error())
		return NewFailoverStoreWithFallbackActive(primary, fallback, cfg.ProbeInterval, cfg.Logger), nil
	}
	cfg.Logger("redis healthy at startup; using redis with in-memory failover")
	return NewFailoverStore(primary, fallback, cfg.ProbeInterval, cfg.Logger), nil
}
