package configs

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultRateLimitRPS      = 50.0
	DefaultRateLimitBurst    = 100
	DefaultDownloadRateRPS   = 2.0
	DefaultDownloadRateBurst = 10
	DefaultRateLimitIdleTTL  = 10 * time.Minute
)

// RateLimitConfig 按请求方限流. 目录查询与文件下载使用各自的令牌桶，职员不受限.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"   rule:"min=0"`
	Burst   int     `mapstructure:"burst" rule:"min=0"`
	// DownloadRPS /file、/download 与 /preview 的限额，0 时与 RPS 相同
	DownloadRPS   float64 `mapstructure:"download_rps"   rule:"min=0"`
	DownloadBurst int     `mapstructure:"download_burst" rule:"min=0"`
	// Key 限流维度: global、ip 或 user (登录用户，匿名按 IP)
	Key string `mapstructure:"key" rule:"omitempty,oneof=global ip user"`
	// IdleTTL 超过该时长未出现的请求方丢弃其令牌桶
	IdleTTL time.Duration `mapstructure:"idle_ttl"`
}

func (c *RateLimitConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.rps", DefaultRateLimitRPS)
	v.SetDefault("rate_limit.burst", DefaultRateLimitBurst)
	v.SetDefault("rate_limit.download_rps", DefaultDownloadRateRPS)
	v.SetDefault("rate_limit.download_burst", DefaultDownloadRateBurst)
	v.SetDefault("rate_limit.key", "ip")
	v.SetDefault("rate_limit.idle_ttl", DefaultRateLimitIdleTTL)
}
