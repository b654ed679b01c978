package configs

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultCalRecursionDepth      = 5
	DefaultCalCacheRecursionDepth = 4
	DefaultGmosDarkCutoff         = "2020-01-01"
)

// CalConfig 定标关联引擎参数.
type CalConfig struct {
	RecursionDepth      int `mapstructure:"recursion_depth"       rule:"min=0,max=10"`
	CacheRecursionDepth int `mapstructure:"cache_recursion_depth" rule:"min=0,max=10"`
	// GmosDarkCutoff nod-and-shuffle 科学帧需要 dark 的截止日期（探测器更换）
	GmosDarkCutoff string `mapstructure:"gmos_dark_cutoff"`
}

// GmosDarkCutoffTime 解析 GmosDarkCutoff，失败时使用默认值.
func (c *CalConfig) GmosDarkCutoffTime() time.Time {
	t, err := time.Parse(time.DateOnly, c.GmosDarkCutoff)
	if err != nil {
		t, _ = time.Parse(time.DateOnly, DefaultGmosDarkCutoff)
	}

	return t
}

func (c *CalConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("cal.recursion_depth", DefaultCalRecursionDepth)
	v.SetDefault("cal.cache_recursion_depth", DefaultCalCacheRecursionDepth)
	v.SetDefault("cal.gmos_dark_cutoff", DefaultGmosDarkCutoff)
}
