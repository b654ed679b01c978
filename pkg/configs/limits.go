package configs

import "github.com/spf13/viper"

const (
	DefaultSummaryOpenLimit    = 500
	DefaultSummaryClosedLimit  = 10000
	DefaultDownloadOpenCount   = 1000
	DefaultDownloadOpenBytes   = 20 << 30
	DefaultDownloadClosedCount = 20000
	DefaultDownloadClosedBytes = 200 << 30
	DefaultCalmgrOpenLimit     = 1000
	DefaultUploadMaxBytes      = 4 << 30
)

// LimitsConfig 结果数量与体积上限. open 指没有日期/程序号等约束的查询.
type LimitsConfig struct {
	SummaryOpen         int   `mapstructure:"summary_open"          rule:"min=1"`
	SummaryClosed       int   `mapstructure:"summary_closed"        rule:"min=1"`
	DownloadOpenCount   int   `mapstructure:"download_open_count"   rule:"min=1"`
	DownloadOpenBytes   int64 `mapstructure:"download_open_bytes"   rule:"min=1"`
	DownloadClosedCount int   `mapstructure:"download_closed_count" rule:"min=1"`
	DownloadClosedBytes int64 `mapstructure:"download_closed_bytes" rule:"min=1"`
	CalmgrOpen          int   `mapstructure:"calmgr_open"           rule:"min=1"`
	UploadMaxBytes      int64 `mapstructure:"upload_max_bytes"      rule:"min=1"`
}

func (c *LimitsConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("limits.summary_open", DefaultSummaryOpenLimit)
	v.SetDefault("limits.summary_closed", DefaultSummaryClosedLimit)
	v.SetDefault("limits.download_open_count", DefaultDownloadOpenCount)
	v.SetDefault("limits.download_open_bytes", DefaultDownloadOpenBytes)
	v.SetDefault("limits.download_closed_count", DefaultDownloadClosedCount)
	v.SetDefault("limits.download_closed_bytes", DefaultDownloadClosedBytes)
	v.SetDefault("limits.calmgr_open", DefaultCalmgrOpenLimit)
	v.SetDefault("limits.upload_max_bytes", DefaultUploadMaxBytes)
}
