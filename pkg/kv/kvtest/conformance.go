// Package kvtest holds a conformance suite every kv.Store backend must pass.
package kvtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argenta/argenta-backend/pkg/kv"
)

// StoreFactory returns a fresh, empty store. The suite closes it.
type StoreFactory func(t *testing.T) kv.Store

func RunConformanceTests(t *testing.T, factory StoreFactory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s kv.Store)
	}{
		{"GetSetDel", testGetSetDel},
		{"Expiry", testExpiry},
		{"IncrBy", testIncrBy},
		{"Hash", testHash},
		{"WrongType", testWrongType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := factory(t)
			t.Cleanup(func() { s.Close() })
			tt.fn(t, s)
		})
	}
}

func testGetSetDel(t *testing.T, s kv.Store) {
	ctx := context.Background()

	_, err := s.Get(ctx, "kvtest:missing")
	assert.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, s.Set(ctx, "kvtest:a", []byte("1")))
	got, err := s.Get(ctx, "kvtest:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)

	require.NoError(t, s.Set(ctx, "kvtest:a", []byte("2")))
	got, err = s.Get(ctx, "kvtest:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), got)

	n, err := s.Exists(ctx, "kvtest:a", "kvtest:missing")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = s.Del(ctx, "kvtest:a", "kvtest:missing")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	_, err = s.Get(ctx, "kvtest:a")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func testExpiry(t *testing.T, s kv.Store) {
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "kvtest:forever", []byte("x")))
	ttl, err := s.TTL(ctx, "kvtest:forever")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl)

	_, err = s.TTL(ctx, "kvtest:missing")
	assert.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, s.Set(ctx, "kvtest:short", []byte("x"), 200*time.Millisecond))
	ttl, err = s.TTL(ctx, "kvtest:short")
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	ok, err := s.Expire(ctx, "kvtest:forever", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Expire(ctx, "kvtest:missing", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	require.Eventually(t, func() bool {
		_, err := s.Get(ctx, "kvtest:short")
		return err == kv.ErrNotFound
	}, 3*time.Second, 50*time.Millisecond)
}

func testIncrBy(t *testing.T, s kv.Store) {
	ctx := context.Background()

	v, err := s.IncrBy(ctx, "kvtest:counter", 3)
	require.NoError(t, err)
	assert.EqualValues(t, 3, v)
	v, err = s.IncrBy(ctx, "kvtest:counter", -5)
	require.NoError(t, err)
	assert.EqualValues(t, -2, v)

	got, err := s.Get(ctx, "kvtest:counter")
	require.NoError(t, err)
	assert.Equal(t, "-2", string(got))
}

func testHash(t *testing.T, s kv.Store) {
	ctx := context.Background()

	_, err := s.HGetAll(ctx, "kvtest:h")
	assert.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, s.HSet(ctx, "kvtest:h", "a", []byte("1")))
	require.NoError(t, s.HSet(ctx, "kvtest:h", "b", []byte("2")))

	got, err := s.HGet(ctx, "kvtest:h", "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)
	_, err = s.HGet(ctx, "kvtest:h", "z")
	assert.ErrorIs(t, err, kv.ErrNotFound)

	all, err := s.HGetAll(ctx, "kvtest:h")
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, all)

	n, err := s.HDel(ctx, "kvtest:h", "a", "z")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = s.HDel(ctx, "kvtest:h", "b")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	exists, err := s.Exists(ctx, "kvtest:h")
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func testWrongType(t *testing.T, s kv.Store) {
	ctx := context.Background()

	require.NoError(t, s.HSet(ctx, "kvtest:typed", "f", []byte("v")))
	_, err := s.Get(ctx, "kvtest:typed")
	assert.ErrorIs(t, err, kv.ErrWrongType)

	require.NoError(t, s.Set(ctx, "kvtest:plain", []byte("v")))
	_, err = s.HGet(ctx, "kvtest:plain", "f")
	assert.ErrorIs(t, err, kv.ErrWrongType)
}
