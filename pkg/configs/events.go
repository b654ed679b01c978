package configs

import "github.com/spf13/viper"

// EventsConfig 控制队列唤醒通知的发布（全局与分队列）.
// 关闭后 worker 仅依赖轮询.
type EventsConfig struct {
	Enabled bool              `mapstructure:"enabled"` // 总开关
	Queues  QueueEventsConfig `mapstructure:"queues"`
}

// QueueEventsConfig 分队列开关.
type QueueEventsConfig struct {
	Ingest   bool `mapstructure:"ingest"`
	Export   bool `mapstructure:"export"`
	Preview  bool `mapstructure:"preview"`
	CalCache bool `mapstructure:"calcache"`
	Fileops  bool `mapstructure:"fileops"`
}

// QueueEnabled 返回指定队列是否发布唤醒通知.
func (c *EventsConfig) QueueEnabled(name string) bool {
	if !c.Enabled {
		return false
	}

	switch name {
	case "ingest":
		return c.Queues.Ingest
	case "export":
		return c.Queues.Export
	case "preview":
		return c.Queues.Preview
	case "calcache":
		return c.Queues.CalCache
	case "fileops":
		return c.Queues.Fileops
	default:
		return false
	}
}

func (c *EventsConfig) setDefaults(v *viper.Viper) {
	// 总开关：默认关闭，单机部署只依赖轮询
	v.SetDefault("events.enabled", false)

	v.SetDefault("events.queues.ingest", true)
	v.SetDefault("events.queues.export", true)
	v.SetDefault("events.queues.preview", true)
	v.SetDefault("events.queues.calcache", true)
	v.SetDefault("events.queues.fileops", true)
}
