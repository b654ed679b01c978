package configs

import (
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"github.com/spf13/viper"
)

const (
	DefaultCBEnabled           = false
	DefaultCBFailureRate       = 0.5
	DefaultCBMinRequests       = 20
	DefaultCBIntervalSeconds   = 60
	DefaultCBTimeoutSeconds    = 30
	DefaultCBMaxRequestsInHalf = 5
)

// CircuitBreakerConfig 熔断器配置，HTTP 入口与向下游归档的导出共用.
type CircuitBreakerConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	FailureRate       float64 `mapstructure:"failure_rate"`         // 窗口内失败比例阈值
	MinRequests       uint32  `mapstructure:"min_requests"`         // 少于此数不判定
	IntervalSeconds   int     `mapstructure:"interval_seconds"`     // 关闭状态下计数清零的周期
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`      // 打开多久后进入半开
	MaxRequestsInHalf uint32  `mapstructure:"max_requests_in_half"` // 半开状态放行的请求数
}

// Settings 按配置生成 gobreaker 参数. OnStateChange 由调用方补充.
func (c CircuitBreakerConfig) Settings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: c.MaxRequestsInHalf,
		Interval:    time.Duration(c.IntervalSeconds) * time.Second,
		Timeout:     time.Duration(c.TimeoutSeconds) * time.Second,
		ReadyToTrip: c.trips,
	}
}

func (c CircuitBreakerConfig) trips(counts gobreaker.Counts) bool {
	if counts.Requests < c.MinRequests || counts.Requests == 0 {
		return false
	}

	return float64(counts.TotalFailures)/float64(counts.Requests) >= c.FailureRate
}

// Validate 启用时检查阈值范围.
func (c *CircuitBreakerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.FailureRate <= 0 || c.FailureRate > 1 {
		return fmt.Errorf("circuit_breaker.failure_rate must be in (0, 1], got %v", c.FailureRate)
	}

	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("circuit_breaker.timeout_seconds must be positive")
	}

	return nil
}

func (c *CircuitBreakerConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("circuit_breaker.enabled", DefaultCBEnabled)
	v.SetDefault("circuit_breaker.failure_rate", DefaultCBFailureRate)
	v.SetDefault("circuit_breaker.min_requests", DefaultCBMinRequests)
	v.SetDefault("circuit_breaker.interval_seconds", DefaultCBIntervalSeconds)
	v.SetDefault("circuit_breaker.timeout_seconds", DefaultCBTimeoutSeconds)
	v.SetDefault("circuit_breaker.max_requests_in_half", DefaultCBMaxRequestsInHalf)
}
