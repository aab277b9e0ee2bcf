package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/argenta/argenta-backend/internal/events"
)

type priceSnapshot struct {
	Asset string `json:"asset"`
	Price string `json:"price"`
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c := NewMemoryCache(zap.NewNop().Sugar(), nil)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCache_UnreachableRedisFallsBackToMemory(t *testing.T) {
	c, err := NewCache("127.0.0.1:1", zap.NewNop().Sugar(), nil)
	require.NoError(t, err)
	defer c.Close()

	assert.True(t, c.IsInMemoryMode())
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "arg:test", map[string]int{"n": 1}, time.Minute))

	var got map[string]int
	require.NoError(t, c.Get(ctx, "arg:test", &got))
	assert.Equal(t, 1, got["n"])
	assert.NoError(t, c.Ping(ctx))
}

func TestCache_GetSetDelete(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	var dest map[string]string
	assert.ErrorIs(t, c.Get(ctx, "arg:missing", &dest), ErrCacheMiss)

	require.NoError(t, c.SetProtocolSummary(ctx, map[string]string{"totalDebt": "1000"}))
	require.NoError(t, c.GetProtocolSummary(ctx, &dest))
	assert.Equal(t, "1000", dest["totalDebt"])

	ok, err := c.Exists(ctx, KeyProtocolSummary)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Delete(ctx, KeyProtocolSummary))
	ok, err = c.Exists(ctx, KeyProtocolSummary)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_OraclePrices(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	weth := common.HexToAddress("0xc1")
	wbtc := common.HexToAddress("0xc2")

	var snap priceSnapshot
	assert.ErrorIs(t, c.GetOraclePrice(ctx, weth, &snap), ErrCacheMiss)

	all, err := c.OraclePrices(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	require.NoError(t, c.SetOraclePrice(ctx, weth, priceSnapshot{Asset: "WETH", Price: "2000"}))
	require.NoError(t, c.SetOraclePrice(ctx, wbtc, priceSnapshot{Asset: "WBTC", Price: "60000"}))
	require.NoError(t, c.SetOraclePrice(ctx, weth, priceSnapshot{Asset: "WETH", Price: "1200"}))

	require.NoError(t, c.GetOraclePrice(ctx, weth, &snap))
	assert.Equal(t, "1200", snap.Price)

	all, err = c.OraclePrices(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCache_KeeperCounter(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	n, err := c.IncrKeeperCounter(ctx, "liquidations", 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = c.IncrKeeperCounter(ctx, "liquidations", 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestCache_InMemoryPubSub(t *testing.T) {
	c := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := c.Subscribe(ctx, ChannelPrices)
	other := c.Subscribe(ctx, ChannelEvents)

	require.NoError(t, c.Publish(ctx, ChannelPrices, priceSnapshot{Asset: "WETH", Price: "2000"}))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, ChannelPrices, msg.Channel)
		var snap priceSnapshot
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &snap))
		assert.Equal(t, "2000", snap.Price)
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	select {
	case msg := <-other.Channel():
		t.Fatalf("unexpected delivery on %s", msg.Channel)
	default:
	}
}

func TestPubSubHub_CancelRemovesSubscriber(t *testing.T) {
	hub := NewPubSubHub()
	ctx, cancel := context.WithCancel(context.Background())

	sub := hub.Subscribe(ctx, ChannelEvents)
	assert.Equal(t, 1, hub.Subscribers(ChannelEvents))

	cancel()
	assert.Eventually(t, func() bool { return hub.Subscribers(ChannelEvents) == 0 },
		time.Second, 5*time.Millisecond)

	_, open := <-sub.Channel()
	assert.False(t, open)
	assert.NoError(t, sub.Close())
}

func TestEventSink_PublishesAndInvalidates(t *testing.T) {
	c := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, c.SetPosition(ctx, 7, map[string]string{"debt": "1000"}))
	require.NoError(t, c.SetProtocolSummary(ctx, map[string]string{"totalDebt": "1000"}))
	sub := c.Subscribe(ctx, ChannelEvents)

	sink := NewEventSink(c)
	assert.Equal(t, "pubsub", sink.Name())
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	err := sink.Handle(ctx, []events.Event{{
		Seq:     42,
		Kind:    events.KindPositionClosed,
		Time:    at,
		Payload: events.PositionClosed{PositionID: 7, Owner: common.HexToAddress("0xd1")},
	}})
	require.NoError(t, err)

	var view map[string]string
	assert.ErrorIs(t, c.GetPosition(ctx, 7, &view), ErrCacheMiss)
	assert.ErrorIs(t, c.GetProtocolSummary(ctx, &view), ErrCacheMiss)

	select {
	case msg := <-sub.Channel():
		var rec events.Record
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &rec))
		assert.EqualValues(t, 42, rec.Seq)
		assert.Equal(t, events.KindPositionClosed, rec.Kind)
	case <-time.After(time.Second):
		t.Fatal("event not published")
	}
}
