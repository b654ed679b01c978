package configs

import (
	"net"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultPort         = 8080
	DefaultHost         = "0.0.0.0"
	DefaultReloadConfig = true
	DefaultDebug        = false
	DefaultTimeout      = 30 // 秒
	// DefaultShutdownGrace 大文件下载需要更长的收尾时间
	DefaultShutdownGrace = 60 * time.Second
)

// ServerConfig HTTP 服务配置. 下载没有写超时，只限制读请求头.
type ServerConfig struct {
	Port          int           `mapstructure:"port"           rule:"min=1,max=65535"`
	Host          string        `mapstructure:"host"           rule:"ip"`
	ReloadConfig  bool          `mapstructure:"reload_config"`
	Debug         bool          `mapstructure:"debug"`
	Timeout       int           `mapstructure:"timeout"        rule:"min=1,max=300"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
	// CORSOrigins 为空时允许任意来源
	CORSOrigins []string `mapstructure:"cors_origins"`
	// PublicURL 对外地址，写进 Swagger 与导出通知. 为空时用 host:port
	PublicURL string `mapstructure:"public_url"`
}

// GetTimeoutDuration 读请求头的超时.
func (s *ServerConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// Addr 监听地址.
func (s *ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// GetShutdownGrace 优雅退出等待进行中请求的时间.
func (s *ServerConfig) GetShutdownGrace() time.Duration {
	if s.ShutdownGrace <= 0 {
		return DefaultShutdownGrace
	}

	return s.ShutdownGrace
}

func (s *ServerConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.host", DefaultHost)
	v.SetDefault("server.reload_config", DefaultReloadConfig)
	v.SetDefault("server.debug", DefaultDebug)
	v.SetDefault("server.timeout", DefaultTimeout)
	v.SetDefault("server.shutdown_grace", DefaultShutdownGrace)
	v.SetDefault("server.cors_origins", []string{})
}
