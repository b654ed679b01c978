package configs

import (
	"fmt"

	"github.com/spf13/viper"
)

// MQType 唤醒通知使用的消息系统.
type MQType string

const (
	MQTypeNATS   MQType = "nats"
	MQTypeRedis  MQType = "redis"
	MQTypeMemory MQType = "memory"
)

const (
	DefaultMQURL         = "nats://localhost:4222"
	DefaultMQClientID    = "fitsvault"
	DefaultMaxReconnects = 60
	DefaultReconnectWait = 2     // 秒
	DefaultPingInterval  = 20    // 秒
	DefaultBufferSize    = 32768 // 断线期间缓存的发布字节数
	// DefaultWakeupGroup 同一队列组内一条唤醒只投递给一个 worker 进程.
	DefaultWakeupGroup = "fitsvault-workers"
)

// MQConfig 消息队列配置. 消息只是 "队列里有新条目" 的提示，丢失时 worker 靠轮询兜底，
// 因此默认不开启 JetStream 持久化.
type MQConfig struct {
	Type   MQType         `mapstructure:"type"   rule:"oneof=nats redis memory"`
	Common MQCommonConfig `mapstructure:"common"`
	NATS   MQNATSConfig   `mapstructure:"nats"`
	Redis  MQRedisConfig  `mapstructure:"redis"`
}

// MQCommonConfig 各实现共用的连接参数.
type MQCommonConfig struct {
	URL           string `mapstructure:"url"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	ClientID      string `mapstructure:"client_id"`
	MaxReconnects int    `mapstructure:"max_reconnects" rule:"min=-1"`
	ReconnectWait int    `mapstructure:"reconnect_wait" rule:"min=1,max=300"`
	PingInterval  int    `mapstructure:"ping_interval"  rule:"min=1,max=300"`
	BufferSize    int    `mapstructure:"buffer_size"    rule:"min=1024,max=1048576"`
	// EnableMetrics 在 Endpoint 上单独暴露 watermill 的发布/订阅指标
	EnableMetrics bool   `mapstructure:"enable_metrics"`
	Endpoint      string `mapstructure:"endpoint"`
}

// MQNATSConfig NATS 专有配置.
type MQNATSConfig struct {
	JetStreamEnabled       bool   `mapstructure:"jetstream_enabled"`
	JetStreamAutoProvision bool   `mapstructure:"jetstream_auto_provision"`
	JetStreamTrackMsgID    bool   `mapstructure:"jetstream_track_msg_id"`
	JetStreamAckAsync      bool   `mapstructure:"jetstream_ack_async"`
	JetStreamDurablePrefix string `mapstructure:"jetstream_durable_prefix"`
	// SubjectPrefix 所有唤醒主题的前缀，多套部署共用一个 NATS 时用来隔离
	SubjectPrefix string   `mapstructure:"subject_prefix"`
	JWT           string   `mapstructure:"jwt"`
	NKey          string   `mapstructure:"nkey"`
	ClusterURLs   []string `mapstructure:"cluster_urls"`
	// WakeupGroup 非空时使用 NATS 队列组，否则每个 worker 都收到每条唤醒
	WakeupGroup string `mapstructure:"wakeup_group"`
}

// MQRedisConfig Redis Pub/Sub 配置.
type MQRedisConfig struct {
	Addr     string `mapstructure:"addr"     rule:"hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"       rule:"min=0,max=15"`
	// Channel 前缀，作用同 NATS 的 subject_prefix
	Prefix string `mapstructure:"prefix"`
}

// TopicPrefix 当前实现的主题前缀.
func (c *MQConfig) TopicPrefix() string {
	switch c.Type {
	case MQTypeNATS:
		return c.NATS.SubjectPrefix
	case MQTypeRedis:
		return c.Redis.Prefix
	}

	return ""
}

// Validate NATS 的 JWT 认证必须同时给出 nkey seed.
func (c *MQConfig) Validate() error {
	if c.Type == MQTypeNATS && c.NATS.JWT != "" && c.NATS.NKey == "" {
		return fmt.Errorf("mq.nats.nkey is required when mq.nats.jwt is set")
	}

	if c.Common.EnableMetrics && c.Common.Endpoint == "" {
		return fmt.Errorf("mq.common.endpoint is required when mq metrics are enabled")
	}

	return nil
}

func (c *MQConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("mq.type", MQTypeMemory)

	v.SetDefault("mq.common.url", DefaultMQURL)
	v.SetDefault("mq.common.client_id", DefaultMQClientID)
	v.SetDefault("mq.common.max_reconnects", DefaultMaxReconnects)
	v.SetDefault("mq.common.reconnect_wait", DefaultReconnectWait)
	v.SetDefault("mq.common.ping_interval", DefaultPingInterval)
	v.SetDefault("mq.common.buffer_size", DefaultBufferSize)
	v.SetDefault("mq.common.enable_metrics", false)
	v.SetDefault("mq.common.endpoint", ":9092")

	v.SetDefault("mq.nats.jetstream_enabled", false)
	v.SetDefault("mq.nats.jetstream_auto_provision", true)
	v.SetDefault("mq.nats.jetstream_track_msg_id", false)
	v.SetDefault("mq.nats.jetstream_ack_async", true)
	v.SetDefault("mq.nats.jetstream_durable_prefix", "fitsvault")
	v.SetDefault("mq.nats.subject_prefix", "fitsvault.")
	v.SetDefault("mq.nats.wakeup_group", DefaultWakeupGroup)

	v.SetDefault("mq.redis.addr", "localhost:6379")
	v.SetDefault("mq.redis.db", 0)
	v.SetDefault("mq.redis.prefix", "fitsvault:")
}
