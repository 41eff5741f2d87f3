package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/fulfillment/services/inventory/internal/domain"
)

func setupCache(t *testing.T) (*miniredis.Miniredis, *StockCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewStockCache(rdb, 10*time.Second)
}

func TestStockCache_SetGetInvalidate(t *testing.T) {
	mr, cache := setupCache(t)
	ctx := context.Background()
	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	miss, err := cache.Get(ctx, 10)
	require.NoError(t, err)
	assert.Nil(t, miss)

	require.NoError(t, cache.Set(ctx, &domain.Stock{SKU: 10, Available: 7, UpdatedAt: updated}))

	hit, err := cache.Get(ctx, 10)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, 7, hit.Available)
	assert.True(t, updated.Equal(hit.UpdatedAt))
	assert.Equal(t, 10*time.Second, mr.TTL("inventory:stock:10"))

	require.NoError(t, cache.Invalidate(ctx, 10, 20))
	assert.False(t, mr.Exists("inventory:stock:10"))
}

func TestStockCache_ИстекаетПоTTL(t *testing.T) {
	mr, cache := setupCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, &domain.Stock{SKU: 10, Available: 1}))
	mr.FastForward(11 * time.Second)

	got, err := cache.Get(ctx, 10)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStockCache_БитаяЗапись(t *testing.T) {
	mr, cache := setupCache(t)
	require.NoError(t, mr.Set("inventory:stock:10", "{"))

	_, err := cache.Get(context.Background(), 10)

	assert.Error(t, err)
}
