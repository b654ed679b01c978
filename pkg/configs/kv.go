package configs

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultKVTTL 没有单独指定时缓存条目的生存时间，也是 NATS bucket 的 MaxAge.
	DefaultKVTTL = 10 * time.Minute
	// DefaultGroupcacheBytes 每个节点的 groupcache 热缓存上限.
	DefaultGroupcacheBytes = 256 << 20
)

// KVConfig 目录响应与定标关联的缓存后端. 缓存可随时丢弃，不影响正确性.
type KVConfig struct {
	Type       string             `mapstructure:"type"       rule:"oneof=memory redis nats groupcache"`
	TTL        time.Duration      `mapstructure:"ttl"`
	Redis      RedisKVConfig      `mapstructure:"redis"`
	NATS       NATSKVConfig       `mapstructure:"nats"`
	Groupcache GroupcacheKVConfig `mapstructure:"groupcache"`
}

// RedisKVConfig Redis 缓存.
type RedisKVConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"       rule:"min=0,max=15"`
}

// NATSKVConfig JetStream KV 缓存.
type NATSKVConfig struct {
	URL      string `mapstructure:"url"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Bucket   string `mapstructure:"bucket"`
}

// GroupcacheKVConfig 多个 serve 节点之间共享的 groupcache. Self 与 Peers 为节点的 HTTP 基址，
// 节点之间经 /_groupcache/ 取值.
type GroupcacheKVConfig struct {
	Name       string   `mapstructure:"name"`
	CacheBytes int64    `mapstructure:"cache_bytes"`
	Peers      []string `mapstructure:"peers"`
	Self       string   `mapstructure:"self"`
}

// GetKVType 当前后端类型.
func (c *KVConfig) GetKVType() string {
	return c.Type
}

// GetTTL 缓存条目的默认生存时间.
func (c *KVConfig) GetTTL() time.Duration {
	if c.TTL <= 0 {
		return DefaultKVTTL
	}

	return c.TTL
}

// Validate 检查所选后端必需的字段.
func (c *KVConfig) Validate() error {
	switch c.Type {
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("kv.redis.addr is required")
		}
	case "nats":
		if c.NATS.URL == "" || c.NATS.Bucket == "" {
			return fmt.Errorf("kv.nats.url and kv.nats.bucket are required")
		}
	case "groupcache":
		if len(c.Groupcache.Peers) > 0 && c.Groupcache.Self == "" {
			return fmt.Errorf("kv.groupcache.self is required when peers are configured")
		}
	}

	return nil
}

func (c *KVConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("kv.type", "memory")
	v.SetDefault("kv.ttl", DefaultKVTTL)

	v.SetDefault("kv.redis.addr", "localhost:6379")
	v.SetDefault("kv.redis.db", 1)

	v.SetDefault("kv.nats.url", "nats://localhost:4222")
	v.SetDefault("kv.nats.bucket", "fitsvault-cache")

	v.SetDefault("kv.groupcache.name", "fitsvault")
	v.SetDefault("kv.groupcache.cache_bytes", DefaultGroupcacheBytes)
	v.SetDefault("kv.groupcache.peers", []string{})
}
