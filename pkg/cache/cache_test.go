package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/fitsvault/pkg/cache"
	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/storage/kv"
)

type edge struct {
	CalHID  uint   `json:"cal_hid"`
	Caltype string `json:"caltype"`
	Rank    int    `json:"rank"`
}

func memoryCache(t *testing.T) *cache.Cache {
	t.Helper()

	store, err := kv.NewMemoryKV(context.Background(), nil)
	require.NoError(t, err)

	return cache.NewCache(store)
}

func TestGetMiss(t *testing.T) {
	c := memoryCache(t)

	_, err := cache.Get[[]edge](context.Background(), c, "calcache:1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, cache.ErrMiss))
}

func TestSetGet(t *testing.T) {
	ctx := context.Background()
	c := memoryCache(t)

	want := []edge{{CalHID: 7, Caltype: "bias"}, {CalHID: 8, Caltype: "bias", Rank: 1}}
	require.NoError(t, cache.Set(ctx, c, "calcache:1", want, time.Minute))

	got, err := cache.Get[[]edge](ctx, c, "calcache:1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	ok, err := c.Exists(ctx, "calcache:1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Delete(ctx, "calcache:1"))
	require.NoError(t, c.Delete(ctx, "calcache:1"))

	ok, err = c.Exists(ctx, "calcache:1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetOrSet(t *testing.T) {
	ctx := context.Background()
	c := memoryCache(t)

	calls := 0
	load := func() ([]edge, error) {
		calls++
		return []edge{{CalHID: 3, Caltype: "flat"}}, nil
	}

	for range 3 {
		got, err := cache.GetOrSet(ctx, c, "calcache:2", load, time.Minute)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, uint(3), got[0].CalHID)
	}

	assert.Equal(t, 1, calls)
}

func TestGetOrSetSourceError(t *testing.T) {
	ctx := context.Background()
	c := memoryCache(t)

	boom := errors.New("database is down")

	_, err := cache.GetOrSet(ctx, c, "calcache:3", func() ([]edge, error) { return nil, boom }, time.Minute)
	require.ErrorIs(t, err, boom)

	ok, err := c.Exists(ctx, "calcache:3")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetOrSetCorruptEntry(t *testing.T) {
	ctx := context.Background()

	store, err := kv.NewMemoryKV(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "calcache:4", []byte("{not json"), 0))

	c := cache.NewCache(store)

	got, err := cache.GetOrSet(ctx, c, "calcache:4", func() ([]edge, error) {
		return []edge{{CalHID: 9}}, nil
	}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []edge{{CalHID: 9}}, got)

	// 回源结果覆盖损坏的值
	again, err := cache.Get[[]edge](ctx, c, "calcache:4")
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestDeletePrefixRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	store, err := kv.NewKVStore(ctx, kv.KVTypeRedis, &configs.KVConfig{Redis: configs.RedisKVConfig{Addr: mr.Addr()}})
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	c := cache.NewCache(store)

	require.NoError(t, cache.Set(ctx, c, "rc:aaaa", "summary", time.Minute))
	require.NoError(t, cache.Set(ctx, c, "rc:bbbb", "filelist", time.Minute))
	require.NoError(t, cache.Set(ctx, c, "calcache:5", []edge{}, time.Minute))

	n, err := c.DeletePrefix(ctx, "rc:")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ok, err := c.Exists(ctx, "calcache:5")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Exists(ctx, "rc:aaaa")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetOrSetCoalescesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	c := memoryCache(t)

	var calls atomic.Int32

	release := make(chan struct{})
	load := func() ([]edge, error) {
		calls.Add(1)
		<-release

		return []edge{{CalHID: 11, Caltype: "dark"}}, nil
	}

	var wg sync.WaitGroup

	results := make([][]edge, 8)

	for i := range results {
		wg.Add(1)

		go func() {
			defer wg.Done()

			got, err := cache.GetOrSet(ctx, c, "calcache:6", load, time.Minute)
			assert.NoError(t, err)
			results[i] = got
		}()
	}

	// 等第一个回源开始后再放行
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(8))

	for _, got := range results {
		assert.Equal(t, []edge{{CalHID: 11, Caltype: "dark"}}, got)
	}

	// 写回之后不再回源
	before := calls.Load()
	_, err := cache.GetOrSet(ctx, c, "calcache:6", load, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, before, calls.Load())
}
