package configs

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultExportTimeout      = 30 * time.Second
	DefaultExportDeferPending = 40 * time.Second
	// DefaultUploadCookieName 下游归档上传认证 cookie 名.
	DefaultUploadCookieName = "gemini_fits_upload_auth"
)

// ExportDestination 下游对等归档.
type ExportDestination struct {
	URL string `mapstructure:"url" rule:"required,url"`
	// Token 上传认证 cookie 值
	Token string `mapstructure:"token"`
	// Priority 越大越优先，参与 export 队列 sortkey
	Priority int `mapstructure:"priority" rule:"min=0,max=9"`
	// Compress 传输时对未压缩源文件进行 bzip2
	Compress bool `mapstructure:"compress"`
}

// ExportConfig 导出复制配置.
type ExportConfig struct {
	Destinations []ExportDestination `mapstructure:"destinations" rule:"dive"`
	Timeout      time.Duration       `mapstructure:"timeout"`
	// DeferPending 对端 ingest 仍在排队时的推迟时长
	DeferPending time.Duration `mapstructure:"defer_pending"`
	CookieName   string        `mapstructure:"cookie_name"`
}

// Destination 根据 URL 查找目的地配置.
func (c *ExportConfig) Destination(url string) (ExportDestination, bool) {
	for _, d := range c.Destinations {
		if d.URL == url {
			return d, true
		}
	}

	return ExportDestination{}, false
}

func (c *ExportConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("export.destinations", []ExportDestination{})
	v.SetDefault("export.timeout", DefaultExportTimeout)
	v.SetDefault("export.defer_pending", DefaultExportDeferPending)
	v.SetDefault("export.cookie_name", DefaultUploadCookieName)
}
