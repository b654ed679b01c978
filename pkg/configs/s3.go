package configs

import (
	"fmt"
	"net/url"

	"github.com/spf13/viper"
)

// S3Config storage.mode=s3 时文件本体所在的 S3 兼容对象存储.
type S3Config struct {
	// Endpoint host:port，也接受带 http:// 或 https:// 的完整地址
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
	Region          string `mapstructure:"region"`
	// CreateBucket bucket 不存在时创建，关闭后缺少 bucket 视为配置错误
	CreateBucket bool `mapstructure:"create_bucket"`
}

const (
	DefaultS3Endpoint        = "localhost:9000"
	DefaultS3AccessKeyID     = "minioadmin"
	DefaultS3SecretAccessKey = "minioadmin"
	DefaultS3UseSSL          = false
	DefaultS3BucketName      = "fitsvault"
	DefaultS3Region          = "us-east-1"
)

// HostAndSecure 去掉 scheme 后的 host 以及是否走 TLS. https:// 前缀总是启用 TLS.
func (c *S3Config) HostAndSecure() (string, bool) {
	if u, err := url.Parse(c.Endpoint); err == nil && u.Host != "" {
		return u.Host, c.UseSSL || u.Scheme == "https"
	}

	return c.Endpoint, c.UseSSL
}

// Validate 检查连接对象存储所需的字段，只在 storage.mode=s3 时调用.
func (c *S3Config) Validate() error {
	if host, _ := c.HostAndSecure(); host == "" {
		return fmt.Errorf("s3.endpoint is required")
	}

	if c.BucketName == "" {
		return fmt.Errorf("s3.bucket_name is required")
	}

	return nil
}

func (c *S3Config) setDefaults(v *viper.Viper) {
	v.SetDefault("s3.endpoint", DefaultS3Endpoint)
	v.SetDefault("s3.access_key_id", DefaultS3AccessKeyID)
	v.SetDefault("s3.secret_access_key", DefaultS3SecretAccessKey)
	v.SetDefault("s3.use_ssl", DefaultS3UseSSL)
	v.SetDefault("s3.bucket_name", DefaultS3BucketName)
	v.SetDefault("s3.region", DefaultS3Region)
	v.SetDefault("s3.create_bucket", true)
}
