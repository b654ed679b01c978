package configs

import (
	"github.com/spf13/viper"
)

// MetricsConfig Prometheus 指标. Endpoint 为空时 /metrics 挂在主服务上，
// 否则单独监听，避免对外暴露.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Path     string `mapstructure:"path"     rule:"omitempty,startswith=/"`
	// Labels 附加在归档自身指标上的常量标签，如 site、role
	Labels map[string]string `mapstructure:"labels"`
	// Pprof 在指标监听上挂载 /debug/pprof
	Pprof bool `mapstructure:"pprof"`
}

// GetPath 指标路径.
func (c *MetricsConfig) GetPath() string {
	if c.Path == "" {
		return "/metrics"
	}

	return c.Path
}

func (c *MetricsConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.endpoint", ":9090")
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.pprof", false)
	v.SetDefault("metrics.labels", map[string]string{})
}
