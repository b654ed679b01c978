// Package kv 是目录响应与定标关联结果的缓存后端. 缓存内容都可以从数据库重建，
// 后端故障时调用方直接回源.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yeisme/fitsvault/pkg/configs"
)

// ErrNotFound 键不存在或已过期.
var ErrNotFound = errors.New("kv: key not found")

func notFound(key string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, key)
}

// Client 包装当前配置的 KVStore.
type Client struct {
	KVStore
}

// KVStore 键值存储. ttl 为 0 表示不过期.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Keys 返回匹配 glob 模式的键，空模式返回全部. 只用于运维与按前缀清理
	Keys(ctx context.Context, pattern string) ([]string, error)
	Close() error
}

// Claimer 能原子地在键不存在时写入的后端. 多个节点靠它互斥执行定时任务.
// groupcache 的写入只在本节点可见，不实现它.
type Claimer interface {
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

// KVType 后端类型.
type KVType string

const (
	KVTypeMemory     KVType = "memory"
	KVTypeRedis      KVType = "redis"
	KVTypeNATS       KVType = "nats"
	KVTypeGroupcache KVType = "groupcache"
)

// KVFactory 按配置创建后端. cfg 可能为 nil，此时使用默认值.
type KVFactory func(ctx context.Context, cfg *configs.KVConfig) (KVStore, error)

var kvFactories = map[KVType]KVFactory{}

// RegisterKVFactory 注册后端，各实现在 init 中调用.
func RegisterKVFactory(kvType KVType, factory KVFactory) {
	kvFactories[kvType] = factory
}

// GetRegisteredKVTypes 已注册的后端.
func GetRegisteredKVTypes() []KVType {
	types := make([]KVType, 0, len(kvFactories))
	for t := range kvFactories {
		types = append(types, t)
	}

	return types
}

// NewKVStore 按类型创建后端.
func NewKVStore(ctx context.Context, kvType KVType, cfg *configs.KVConfig) (KVStore, error) {
	factory, ok := kvFactories[kvType]
	if !ok {
		return nil, fmt.Errorf("unsupported KV type: %s", kvType)
	}

	if cfg == nil {
		cfg = &configs.KVConfig{}
	}

	return factory(ctx, cfg)
}

// NewKVClient 按全局配置创建客户端.
func NewKVClient(ctx context.Context) (*Client, error) {
	cfg := configs.GetConfig().KV

	store, err := NewKVStore(ctx, KVType(cfg.Type), &cfg)
	if err != nil {
		return nil, err
	}

	return &Client{KVStore: store}, nil
}
