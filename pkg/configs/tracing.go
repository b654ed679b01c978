package configs

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// 追踪导出器类型.
const (
	ExporterOTLPHTTP = "otlp-http"
	ExporterOTLPGRPC = "otlp-grpc"
	ExporterZipkin   = "zipkin"
)

const (
	DefaultTraceBatchSize = 512
	DefaultTraceQueueSize = 2048
	// DefaultTraceSampleRate 队列条目量大，默认只采样一部分.
	DefaultTraceSampleRate = 0.1
)

// TracingConfig OpenTelemetry 追踪配置. resource_labels 附加到每个 span 的资源上，
// 通常用来区分站点，例如 site: gemini-north.
type TracingConfig struct {
	Enabled        bool              `mapstructure:"enabled"`
	ServiceName    string            `mapstructure:"service_name"`
	ServiceVersion string            `mapstructure:"service_version"`
	ExporterType   string            `mapstructure:"exporter_type"`
	Endpoint       string            `mapstructure:"endpoint"`
	SampleRate     float64           `mapstructure:"sample_rate"`
	BatchTimeout   time.Duration     `mapstructure:"batch_timeout"`
	MaxBatchSize   int               `mapstructure:"max_batch_size"`
	MaxQueueSize   int               `mapstructure:"max_queue_size"`
	ResourceLabels map[string]string `mapstructure:"resource_labels"`
}

func (c *TracingConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "fitsvault")
	v.SetDefault("tracing.service_version", AppVersion)
	v.SetDefault("tracing.exporter_type", ExporterOTLPHTTP)
	v.SetDefault("tracing.endpoint", "http://localhost:4318")
	v.SetDefault("tracing.sample_rate", DefaultTraceSampleRate)
	v.SetDefault("tracing.batch_timeout", "5s")
	v.SetDefault("tracing.max_batch_size", DefaultTraceBatchSize)
	v.SetDefault("tracing.max_queue_size", DefaultTraceQueueSize)
}

// Validate 只在启用时检查.
func (c *TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	switch c.ExporterType {
	case ExporterOTLPHTTP, ExporterOTLPGRPC, ExporterZipkin:
	default:
		return fmt.Errorf("tracing.exporter_type %q must be one of %s, %s, %s",
			c.ExporterType, ExporterOTLPHTTP, ExporterOTLPGRPC, ExporterZipkin)
	}

	if c.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}

	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate %v out of range [0,1]", c.SampleRate)
	}

	return nil
}
