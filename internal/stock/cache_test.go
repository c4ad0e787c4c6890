package stock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestCacheRoundTripAndInvalidate(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	cache := NewCache(client, time.Minute)
	ctx := context.Background()

	_, ok := cache.Get(ctx, 1, 2)
	require.False(t, ok)

	bal := Balance{ItemID: 1, LocationID: 2, Qty: 42, AvgCost: 7.5}
	cache.Set(ctx, bal)

	got, ok := cache.Get(ctx, 1, 2)
	require.True(t, ok)
	require.InDelta(t, bal.Qty, got.Qty, 1e-9)
	require.InDelta(t, bal.AvgCost, got.AvgCost, 1e-9)

	cache.Invalidate(ctx)
	_, ok = cache.Get(ctx, 1, 2)
	require.False(t, ok)
}

func TestNilCacheIsNoop(t *testing.T) {
	var cache *Cache
	ctx := context.Background()
	cache.Set(ctx, Balance{ItemID: 1, LocationID: 1})
	cache.Invalidate(ctx)
	_, ok := cache.Get(ctx, 1, 1)
	require.False(t, ok)
}
