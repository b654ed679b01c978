// Package cache 是 KV 后端之上的类型化读穿缓存，值以 JSON 存放.
//
// 键空间:
//
//	calcache:<obs_hid>  科学帧的定标关联边
//	rc:<sha1>           只读目录接口的响应
//
// 缓存只是加速，读写失败都退回数据库. 同一进程内对同一键的并发未命中合并为一次回源.
// groupcache 后端有多个节点时 Delete 只清本节点.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/yeisme/fitsvault/pkg/internal/storage/kv"
	nlog "github.com/yeisme/fitsvault/pkg/log"
)

// ErrMiss 键不存在或已过期.
var ErrMiss = kv.ErrNotFound

// Cache 类型化缓存. 零值不可用，用 NewCache 创建.
type Cache struct {
	store  kv.KVStore
	loads  singleflight.Group
	logger zerolog.Logger
}

func NewCache(store kv.KVStore) *Cache {
	return &Cache{store: store, logger: nlog.Component("cache")}
}

func decode[T any](key string, data []byte) (T, error) {
	var v T
	if err := sonic.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode cache entry %s: %w", key, err)
	}

	return v, nil
}

// Get 未命中时 errors.Is(err, ErrMiss).
func Get[T any](ctx context.Context, c *Cache, key string) (T, error) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		var zero T
		return zero, err
	}

	return decode[T](key, data)
}

// Set ttl 为 0 时不过期.
func Set[T any](ctx context.Context, c *Cache, key string, value T, ttl time.Duration) error {
	data, err := sonic.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}

	return c.store.Set(ctx, key, data, ttl)
}

// GetOrSet 命中直接返回. 未命中、值损坏或后端出错时调用 load 并写回，load 的错误原样返回.
func GetOrSet[T any](ctx context.Context, c *Cache, key string, load func() (T, error), ttl time.Duration) (T, error) {
	cached, err := Get[T](ctx, c, key)
	if err == nil {
		return cached, nil
	}

	if !errors.Is(err, ErrMiss) {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed, loading from source")
	}

	v, err, _ := c.loads.Do(key, func() (any, error) {
		fresh, err := load()
		if err != nil {
			return nil, err
		}

		if err := Set(ctx, c, key, fresh, ttl); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
		}

		return fresh, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}

	return v.(T), nil
}

// Delete 键不存在不算错误.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.store.Delete(ctx, key); err != nil && !errors.Is(err, kv.ErrNotFound) {
		return err
	}

	return nil
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	return c.store.Exists(ctx, key)
}

// DeletePrefix 清掉一个键空间，返回删除的数量. 出错时已删除的不回滚.
func (c *Cache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := c.store.Keys(ctx, prefix+"*")
	if err != nil {
		return 0, fmt.Errorf("list %s*: %w", prefix, err)
	}

	deleted := 0

	for _, key := range keys {
		// Keys 的 glob 会把 prefix 里的 * ? [ 当通配符
		if !strings.HasPrefix(key, prefix) {
			continue
		}

		if err := c.Delete(ctx, key); err != nil {
			return deleted, err
		}

		deleted++
	}

	if deleted > 0 {
		c.logger.Info().Str("prefix", prefix).Int("deleted", deleted).Msg("cache prefix cleared")
	}

	return deleted, nil
}
