package leader

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestLock_ОдинЛидер(t *testing.T) {
	_, rdb := setupRedis(t)
	ctx := context.Background()

	a := New(rdb, "relay:order", 5*time.Second)
	b := New(rdb, "relay:order", 5*time.Second)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "второй экземпляр не становится лидером")

	ok, err = a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "лидер продлевает блокировку")
	assert.True(t, a.IsHolder())
	assert.False(t, b.IsHolder())
}

func TestLock_ПереходЛидерстваПослеRelease(t *testing.T) {
	_, rdb := setupRedis(t)
	ctx := context.Background()

	a := New(rdb, "relay:payment", 5*time.Second)
	b := New(rdb, "relay:payment", 5*time.Second)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, a.Release(ctx))
	assert.False(t, a.IsHolder())

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLock_ПереходЛидерстваПослеИстеченияTTL(t *testing.T) {
	mr, rdb := setupRedis(t)
	ctx := context.Background()

	a := New(rdb, "relay:inventory", 2*time.Second)
	b := New(rdb, "relay:inventory", 2*time.Second)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(3 * time.Second)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "после истечения TTL лидером становится другой экземпляр")

	ok, err = a.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, a.IsHolder())
}

func TestLock_ReleaseБезЛидерства(t *testing.T) {
	_, rdb := setupRedis(t)

	assert.NoError(t, New(rdb, "k", 0).Release(context.Background()))
}
