package kv

import (
	"context"
	"net/http"
	"path"
	"sync"
	"time"

	"github.com/golang/groupcache"

	"github.com/yeisme/fitsvault/pkg/configs"
)

// GroupcachePath 节点之间互相取值的 HTTP 路径前缀.
const GroupcachePath = "/_groupcache/"

var groupcachePoolOnce sync.Once

// GroupcacheKV 每个节点把自己写入的值放在本地，读不到时经 groupcache 向键的属主节点取.
// 删除只作用于本节点，其他节点热缓存里的旧值要等过期，因此只适合短 TTL 的响应缓存.
type GroupcacheKV struct {
	group *groupcache.Group
	pool  *groupcache.HTTPPool
	now   func() time.Time

	mu    sync.RWMutex
	local map[string][]byte
}

// NewGroupcacheKV 创建缓存组. 配置了 peers 时同时创建 HTTP 节点池，需要把 PeerHandler 挂到服务上.
func NewGroupcacheKV(_ context.Context, cfg *configs.KVConfig) (KVStore, error) {
	gc := cfg.Groupcache
	if gc.Name == "" {
		gc.Name = "fitsvault"
	}

	if gc.CacheBytes <= 0 {
		gc.CacheBytes = 64 << 20
	}

	g := &GroupcacheKV{local: map[string][]byte{}, now: time.Now}

	// 同名组只能注册一次，测试里会重复创建
	if existing := groupcache.GetGroup(gc.Name); existing != nil {
		g.group = existing
	} else {
		g.group = groupcache.NewGroup(gc.Name, gc.CacheBytes, groupcache.GetterFunc(g.fill))
	}

	if len(gc.Peers) > 0 {
		// HTTPPool 全进程只能有一个
		groupcachePoolOnce.Do(func() {
			g.pool = groupcache.NewHTTPPoolOpts(gc.Self, &groupcache.HTTPPoolOptions{BasePath: GroupcachePath})
			g.pool.Set(gc.Peers...)
		})
	}

	return g, nil
}

// fill 属主节点从本地数据回答其他节点的请求. 不存在时返回错误，groupcache 不缓存错误.
func (g *GroupcacheKV) fill(_ context.Context, key string, dest groupcache.Sink) error {
	g.mu.RLock()
	v, ok := g.local[key]
	g.mu.RUnlock()

	if !ok {
		return notFound(key)
	}

	return dest.SetBytes(v)
}

// PeerHandler 供 HTTP 服务挂载在 GroupcachePath 下. 单节点时为 nil.
func (g *GroupcacheKV) PeerHandler() http.Handler {
	if g.pool == nil {
		return nil
	}

	return g.pool
}

func (g *GroupcacheKV) raw(ctx context.Context, key string) ([]byte, bool) {
	g.mu.RLock()
	v, ok := g.local[key]
	g.mu.RUnlock()

	if ok {
		return v, true
	}

	if g.pool == nil {
		return nil, false
	}

	var b []byte
	if err := g.group.Get(ctx, key, groupcache.AllocatingByteSliceSink(&b)); err != nil {
		return nil, false
	}

	return b, true
}

func (g *GroupcacheKV) Get(ctx context.Context, key string) ([]byte, error) {
	b, ok := g.raw(ctx, key)
	if !ok {
		return nil, notFound(key)
	}

	val, live := unwrapExpiry(b, g.now())
	if !live {
		_ = g.Delete(ctx, key)
		return nil, notFound(key)
	}

	return append([]byte(nil), val...), nil
}

func (g *GroupcacheKV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	g.mu.Lock()
	g.local[key] = wrapExpiry(value, ttl, g.now())
	g.mu.Unlock()

	return nil
}

func (g *GroupcacheKV) Delete(_ context.Context, key string) error {
	g.mu.Lock()
	delete(g.local, key)
	g.mu.Unlock()

	return nil
}

func (g *GroupcacheKV) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.Get(ctx, key)
	return err == nil, nil
}

// Keys 只列本节点的键.
func (g *GroupcacheKV) Keys(_ context.Context, pattern string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	now := g.now()

	var keys []string

	for k, v := range g.local {
		if _, live := unwrapExpiry(v, now); !live {
			continue
		}

		if pattern != "" {
			if ok, _ := path.Match(pattern, k); !ok {
				continue
			}
		}

		keys = append(keys, k)
	}

	return keys, nil
}

func (g *GroupcacheKV) Close() error { return nil }

func init() {
	RegisterKVFactory(KVTypeGroupcache, NewGroupcacheKV)
}
