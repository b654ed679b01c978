package configs

import (
	"time"

	"github.com/spf13/viper"
)

// Role 部署角色.
type Role string

const (
	RoleArchive Role = "archive" // 公开归档
	RoleSummit  Role = "summit"  // 山顶站点

	DefaultArchiveTimezone = "Pacific/Honolulu"
)

// ArchiveConfig 部署角色与行为开关.
type ArchiveConfig struct {
	Role Role `mapstructure:"role" rule:"oneof=archive summit"`
	// PublicHost 生成 calmgr 下载 URL 使用的主机名
	PublicHost string `mapstructure:"public_host"`
	// UsePreviews ingest 后是否排入预览队列
	UsePreviews bool `mapstructure:"use_previews"`
	// UseCalCache ingest 后是否排入 calcache 队列，calmgr 是否读缓存
	UseCalCache bool `mapstructure:"use_calcache"`
	// UseFileURL calmgr 返回 file:// URL（与请求方同机部署时）
	UseFileURL bool `mapstructure:"use_file_url"`
	// Timezone 山顶观测夜所在时区
	Timezone string `mapstructure:"timezone"`
}

// IsArchive 是否为公开归档角色.
func (c *ArchiveConfig) IsArchive() bool {
	return c.Role == RoleArchive
}

// Location 返回观测夜时区，无法解析时退回 UTC.
func (c *ArchiveConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}

	return loc
}

func (c *ArchiveConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("archive.role", RoleArchive)
	v.SetDefault("archive.public_host", "localhost:8080")
	v.SetDefault("archive.use_previews", true)
	v.SetDefault("archive.use_calcache", true)
	v.SetDefault("archive.use_file_url", false)
	v.SetDefault("archive.timezone", DefaultArchiveTimezone)
}
