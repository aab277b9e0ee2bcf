package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/argenta/argenta-backend/internal/metrics"
	"github.com/argenta/argenta-backend/pkg/kv"
	memkv "github.com/argenta/argenta-backend/pkg/kv/memory"
	_ "github.com/argenta/argenta-backend/pkg/kv/redis"
)

// Cache key prefixes
const (
	KeyProtocolSummary = "arg:protocol:summary"
	KeyOraclePrices    = "arg:oracle:prices"
	KeyPosition        = "arg:position"
	KeyKeeperCounter   = "arg:keeper"
)

// Pub/sub channels
const (
	ChannelEvents = "arg:events"
	ChannelPrices = "arg:prices"
)

const (
	summaryTTL  = 3 * time.Second
	positionTTL = 10 * time.Second
)

var ErrCacheMiss = errors.New("cache miss")

// Cache keeps read-model snapshots in a kv.Store and fans out pub/sub
// messages. Without Redis both live in process.
type Cache struct {
	kv kv.Store
	// client is set only when Redis answered at startup; it carries pub/sub.
	client *redis.Client
	hub    *PubSubHub

	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

// NewCache connects to Redis at addr. An empty addr, or a Redis that does
// not answer, selects the in-memory store and hub.
func NewCache(addr string, logger *zap.SugaredLogger, m *metrics.Metrics) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if addr == "" {
		return NewMemoryCache(logger, m), nil
	}

	store, err := kv.NewStoreFromConfig(kv.Config{
		Backend:         kv.BackendRedis,
		RedisURL:        addr,
		FailoverEnabled: true,
		Logger:          logger.Infow,
	})
	if err != nil {
		return nil, fmt.Errorf("cache store: %w", err)
	}

	opt, err := redis.ParseURL(addr)
	if err != nil {
		opt = &redis.Options{Addr: addr}
	}
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.PoolSize = 10
	opt.MinIdleConns = 5
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warnw("Redis unavailable; using in-memory pubsub", "error", err)
		_ = client.Close()
		return &Cache{kv: store, hub: NewPubSubHub(), logger: logger, metrics: m}, nil
	}

	return &Cache{kv: store, client: client, logger: logger, metrics: m}, nil
}

// NewMemoryCache never touches the network.
func NewMemoryCache(logger *zap.SugaredLogger, m *metrics.Metrics) *Cache {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Cache{
		kv:      memkv.NewStore(),
		hub:     NewPubSubHub(),
		logger:  logger,
		metrics: m,
	}
}

func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			c.metrics.RecordCacheMiss(ctx, key)
			return ErrCacheMiss
		}
		c.logger.Errorw("Cache get error", "key", key, "error", err)
		return fmt.Errorf("cache get error: %w", err)
	}
	c.metrics.RecordCacheHit(ctx, key)
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache unmarshal error: %w", err)
	}
	return nil
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}
	if err := c.kv.Set(ctx, key, data, ttl); err != nil {
		c.logger.Errorw("Cache set error", "key", key, "error", err)
		return fmt.Errorf("cache set error: %w", err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := c.kv.Del(ctx, keys...); err != nil {
		c.logger.Errorw("Cache delete error", "keys", keys, "error", err)
		return fmt.Errorf("cache delete error: %w", err)
	}
	return nil
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.kv.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("cache exists error: %w", err)
	}
	return n > 0, nil
}

func (c *Cache) GetProtocolSummary(ctx context.Context, dest interface{}) error {
	return c.Get(ctx, KeyProtocolSummary, dest)
}

func (c *Cache) SetProtocolSummary(ctx context.Context, value interface{}) error {
	return c.Set(ctx, KeyProtocolSummary, value, summaryTTL)
}

func positionKey(id uint64) string {
	return KeyPosition + ":" + strconv.FormatUint(id, 10)
}

func (c *Cache) GetPosition(ctx context.Context, id uint64, dest interface{}) error {
	return c.Get(ctx, positionKey(id), dest)
}

func (c *Cache) SetPosition(ctx context.Context, id uint64, value interface{}) error {
	return c.Set(ctx, positionKey(id), value, positionTTL)
}

// InvalidatePosition drops the position view and the protocol summary that
// includes it.
func (c *Cache) InvalidatePosition(ctx context.Context, id uint64) error {
	return c.Delete(ctx, positionKey(id), KeyProtocolSummary)
}

// SetOraclePrice stores the latest price snapshot for asset in the prices hash.
func (c *Cache) SetOraclePrice(ctx context.Context, asset common.Address, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}
	if err := c.kv.HSet(ctx, KeyOraclePrices, strings.ToLower(asset.Hex()), data); err != nil {
		return fmt.Errorf("cache set error: %w", err)
	}
	return nil
}

func (c *Cache) GetOraclePrice(ctx context.Context, asset common.Address, dest interface{}) error {
	data, err := c.kv.HGet(ctx, KeyOraclePrices, strings.ToLower(asset.Hex()))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			c.metrics.RecordCacheMiss(ctx, KeyOraclePrices)
			return ErrCacheMiss
		}
		return fmt.Errorf("cache get error: %w", err)
	}
	c.metrics.RecordCacheHit(ctx, KeyOraclePrices)
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache unmarshal error: %w", err)
	}
	return nil
}

// OraclePrices returns every cached price snapshot keyed by lowercase asset hex.
func (c *Cache) OraclePrices(ctx context.Context) (map[string]json.RawMessage, error) {
	all, err := c.kv.HGetAll(ctx, KeyOraclePrices)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("cache get error: %w", err)
	}
	out := make(map[string]json.RawMessage, len(all))
	for asset, data := range all {
		out[asset] = json.RawMessage(data)
	}
	return out, nil
}

// IncrKeeperCounter bumps a keeper statistic such as "liquidations".
func (c *Cache) IncrKeeperCounter(ctx context.Context, name string, n int64) (int64, error) {
	return c.kv.IncrBy(ctx, KeyKeeperCounter+":"+name, n)
}

func (c *Cache) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("pubsub marshal error: %w", err)
	}

	if c.client != nil {
		if err := c.client.Publish(ctx, channel, data).Err(); err != nil {
			c.logger.Errorw("Publish error", "channel", channel, "error", err)
			return fmt.Errorf("pubsub publish error: %w", err)
		}
		return nil
	}

	c.hub.Publish(channel, string(data))
	return nil
}

// Subscribe returns a subscription on Redis pub/sub or the in-memory hub.
// It ends when ctx is cancelled or Close is called.
func (c *Cache) Subscribe(ctx context.Context, channels ...string) Subscription {
	if c.client != nil {
		return newRedisSubscription(ctx, c.client.Subscribe(ctx, channels...))
	}
	return c.hub.Subscribe(ctx, channels...)
}

// LocalSubscribers counts in-process subscribers on channel. Redis
// subscriptions are not counted.
func (c *Cache) LocalSubscribers(channel string) int {
	if c.hub == nil {
		return 0
	}
	return c.hub.Subscribers(channel)
}

func (c *Cache) IsInMemoryMode() bool {
	return c.client == nil
}

func (c *Cache) Ping(ctx context.Context) error {
	if c.client != nil {
		if err := c.client.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return c.kv.Ping(ctx)
}

func (c *Cache) Close() error {
	var errs []error
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	errs = append(errs, c.kv.Close())
	return errors.Join(errs...)
}
