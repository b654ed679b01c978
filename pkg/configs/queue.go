package configs

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultIngestDelay   = 0 * time.Second
	DefaultRetryCooldown = 10 * time.Minute
	DefaultStuckAfter    = 30 * time.Minute
	DefaultMaxAttempts   = 5
	DefaultPollInterval  = 5 * time.Second
	DefaultWorkers       = 1
)

// QueueConfig 数据库队列调度参数.
type QueueConfig struct {
	// IngestDelay 延迟 ingest 窗口，容忍 DHS 仍在写入
	IngestDelay time.Duration `mapstructure:"ingest_delay"`
	// RetryCooldown 瞬时失败重新排队前的冷却时间
	RetryCooldown time.Duration `mapstructure:"retry_cooldown"`
	// StuckAfter inprogress 超过该时长视为 worker 崩溃
	StuckAfter time.Duration `mapstructure:"stuck_after"`
	// MaxAttempts 瞬时失败最多自动重试次数
	MaxAttempts int `mapstructure:"max_attempts" rule:"min=0,max=100"`
	// PollInterval 未收到唤醒通知时的轮询间隔
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// Workers 每个 worker 进程内的并行循环数
	Workers int `mapstructure:"workers" rule:"min=1,max=64"`
}

func (c *QueueConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("queue.ingest_delay", DefaultIngestDelay)
	v.SetDefault("queue.retry_cooldown", DefaultRetryCooldown)
	v.SetDefault("queue.stuck_after", DefaultStuckAfter)
	v.SetDefault("queue.max_attempts", DefaultMaxAttempts)
	v.SetDefault("queue.poll_interval", DefaultPollInterval)
	v.SetDefault("queue.workers", DefaultWorkers)
}
