package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type quote struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

func TestMemoryCacheTypedRoundTrip(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, Key("prices", "BTC"), quote{Symbol: "BTC", Price: "70100"}, time.Minute))

	var got quote
	require.NoError(t, c.Get(ctx, "prices:BTC", &got))
	assert.Equal(t, quote{Symbol: "BTC", Price: "70100"}, got)

	var raw string
	require.NoError(t, c.Set(ctx, "plain", "hello", 0))
	require.NoError(t, c.Get(ctx, "plain", &raw))
	assert.Equal(t, "hello", raw)
}

func TestMemoryCacheMissAndExpiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	var got quote
	assert.ErrorIs(t, c.Get(ctx, "absent", &got), ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "short", "v", time.Second))
	now = now.Add(2 * time.Second)
	var v string
	assert.ErrorIs(t, c.Get(ctx, "short", &v), ErrCacheMiss)
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewMemoryCache(WithMemoryMaxSize(2))
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", "1", 0))
	require.NoError(t, c.Set(ctx, "b", "2", 0))
	var v string
	require.NoError(t, c.Get(ctx, "a", &v))
	require.NoError(t, c.Set(ctx, "c", "3", 0))

	assert.ErrorIs(t, c.Get(ctx, "b", &v), ErrCacheMiss, "b was least recently used")
	require.NoError(t, c.Get(ctx, "a", &v))
	require.NoError(t, c.Get(ctx, "c", &v))
	assert.Equal(t, 2, c.Len())

	// overwriting an existing key never evicts
	require.NoError(t, c.Set(ctx, "a", "4", 0))
	require.NoError(t, c.Get(ctx, "c", &v))
}

func TestMemoryCacheTryLock(t *testing.T) {
	c := NewMemoryCache()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := c.TryLock(ctx, "engine:tick", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.TryLock(ctx, "engine:tick", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Unlock(ctx, "engine:tick"))
	ok, err = c.TryLock(ctx, "engine:tick", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// a crashed holder's lock lapses after its ttl
	now = now.Add(2 * time.Minute)
	ok, err = c.TryLock(ctx, "engine:tick", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
