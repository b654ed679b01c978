package configs

import "github.com/spf13/viper"

const (
	// DefaultMagicDownloadCookieName 魔术下载 cookie 名.
	DefaultMagicDownloadCookieName = "gemini_fits_authorization"
	// DefaultMagicAPICookieName 魔术 API cookie 名.
	DefaultMagicAPICookieName = "gemini_api_authorization"
	// DefaultSessionCookieName 用户会话 cookie 名.
	DefaultSessionCookieName = "gemini_archive_session"
)

// AuthConfig 控制身份识别与魔术 cookie.
// 用户身份来自会话 cookie 或 oauth2-proxy 注入的请求头.
type AuthConfig struct {
	Enabled   bool     `mapstructure:"enabled"`    // 管理路由要求已识别身份
	SkipPaths []string `mapstructure:"skip_paths"` // 跳过认证的路径前缀（如 /metrics、/api/v1/health）

	SessionCookie string `mapstructure:"session_cookie"`
	// MagicDownloadCookie 名与值，值为空时关闭该通道
	MagicDownloadCookieName  string `mapstructure:"magic_download_cookie_name"`
	MagicDownloadCookieValue string `mapstructure:"magic_download_cookie_value"`
	// MagicAPICookie 允许 header 更新等 API 调用
	MagicAPICookieName  string `mapstructure:"magic_api_cookie_name"`
	MagicAPICookieValue string `mapstructure:"magic_api_cookie_value"`
	// UploadCookieValue 接收对端 upload_file 时校验的 cookie 值
	UploadCookieValue string `mapstructure:"upload_cookie_value"`
	// APITokens 有效的 API token（Authorization: Bearer）
	APITokens []string `mapstructure:"api_tokens"`
}

func (c *AuthConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.skip_paths", []string{
		"/metrics",
		"/debug/pprof",
		"/api/v1/health",
		"/swagger",
	})
	v.SetDefault("auth.session_cookie", DefaultSessionCookieName)
	v.SetDefault("auth.magic_download_cookie_name", DefaultMagicDownloadCookieName)
	v.SetDefault("auth.magic_download_cookie_value", "")
	v.SetDefault("auth.magic_api_cookie_name", DefaultMagicAPICookieName)
	v.SetDefault("auth.magic_api_cookie_value", "")
	v.SetDefault("auth.upload_cookie_value", "")
	v.SetDefault("auth.api_tokens", []string{})
}
