package kv_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/storage/kv"
)

func exerciseStore(t *testing.T, store kv.KVStore) {
	t.Helper()

	ctx := context.Background()

	_, err := store.Get(ctx, "calcache:1")
	assert.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, store.Set(ctx, "calcache:1", []byte("[1,2,3]"), 0))

	got, err := store.Get(ctx, "calcache:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("[1,2,3]"), got)

	// 返回的是副本
	got[0] = 'x'
	again, err := store.Get(ctx, "calcache:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("[1,2,3]"), again)

	ok, err := store.Exists(ctx, "calcache:1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Set(ctx, "calcache:2", []byte("[]"), time.Hour))
	require.NoError(t, store.Set(ctx, "rc:abc", []byte("{}"), time.Hour))

	keys, err := store.Keys(ctx, "calcache:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"calcache:1", "calcache:2"}, keys)

	require.NoError(t, store.Delete(ctx, "calcache:1"))
	require.NoError(t, store.Delete(ctx, "never-set"))

	ok, err = store.Exists(ctx, "calcache:1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func exerciseClaim(t *testing.T, store kv.KVStore) {
	t.Helper()

	ctx := context.Background()

	c, ok := store.(kv.Claimer)
	require.True(t, ok)

	won, err := c.SetNX(ctx, "joblock:sweep", []byte("node-a"), time.Minute)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = c.SetNX(ctx, "joblock:sweep", []byte("node-b"), time.Minute)
	require.NoError(t, err)
	assert.False(t, won)

	got, err := store.Get(ctx, "joblock:sweep")
	require.NoError(t, err)
	assert.Equal(t, []byte("node-a"), got)

	require.NoError(t, store.Delete(ctx, "joblock:sweep"))

	won, err = c.SetNX(ctx, "joblock:sweep", []byte("node-b"), time.Minute)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestMemoryKV(t *testing.T) {
	store, err := kv.NewKVStore(context.Background(), kv.KVTypeMemory, nil)
	require.NoError(t, err)

	exerciseStore(t, store)
	exerciseClaim(t, store)
}

func TestMemoryKVClaimExpired(t *testing.T) {
	ctx := context.Background()

	store, err := kv.NewMemoryKV(ctx, nil)
	require.NoError(t, err)

	c := store.(kv.Claimer)

	won, err := c.SetNX(ctx, "joblock:gauges", []byte("a"), 20*time.Millisecond)
	require.NoError(t, err)
	require.True(t, won)

	time.Sleep(40 * time.Millisecond)

	won, err = c.SetNX(ctx, "joblock:gauges", []byte("b"), time.Minute)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestMemoryKVExpiry(t *testing.T) {
	ctx := context.Background()

	store, err := kv.NewMemoryKV(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "short", []byte("x"), 50*time.Millisecond))
	require.NoError(t, store.Set(ctx, "long", []byte("y"), time.Hour))

	got, err := store.Get(ctx, "short")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)

	time.Sleep(80 * time.Millisecond)

	_, err = store.Get(ctx, "short")
	assert.ErrorIs(t, err, kv.ErrNotFound)

	keys, err := store.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"long"}, keys)
}

func TestRedisKV(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := kv.NewKVStore(context.Background(), kv.KVTypeRedis, &configs.KVConfig{Redis: configs.RedisKVConfig{Addr: mr.Addr()}})
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	exerciseStore(t, store)
	exerciseClaim(t, store)
}

func TestRedisKVTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	store, err := kv.NewKVStore(ctx, kv.KVTypeRedis, &configs.KVConfig{Redis: configs.RedisKVConfig{Addr: mr.Addr()}})
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestRedisKVUnreachable(t *testing.T) {
	_, err := kv.NewKVStore(context.Background(), kv.KVTypeRedis, &configs.KVConfig{Redis: configs.RedisKVConfig{Addr: "127.0.0.1:1"}})
	assert.Error(t, err)
}

func TestGroupcacheKV(t *testing.T) {
	store, err := kv.NewKVStore(context.Background(), kv.KVTypeGroupcache, &configs.KVConfig{
		Groupcache: configs.GroupcacheKVConfig{Name: "test-groupcache", CacheBytes: 1 << 20},
	})
	require.NoError(t, err)

	exerciseStore(t, store)

	gc, ok := store.(*kv.GroupcacheKV)
	require.True(t, ok)
	assert.Nil(t, gc.PeerHandler(), "single node has no peer handler")
}

func TestUnsupportedKVType(t *testing.T) {
	_, err := kv.NewKVStore(context.Background(), "etcd", nil)
	assert.ErrorContains(t, err, "unsupported KV type")
}
