// Package configs 管理应用程序配置，包括数据库、存储、队列与归档角色等配置信息.
// configs 包支持多种配置格式（YAML、JSON、TOML、dotenv），运行期只热重载 server 与 log 段.
//
// Example:
//
//	err := configs.InitConfig("./")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	config := configs.GetConfig()
//	fmt.Println(config.Server.Port)
//
// Example accessing storage config:
//
//	config := configs.GetConfig()
//	root := config.Storage.Root
//	fmt.Println("storage root:", root)
//
// Example accessing export destinations:
//
//	for _, d := range configs.GetConfig().Export.Destinations {
//		fmt.Println(d.URL, d.Priority)
//	}
package configs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/yeisme/fitsvault/pkg/rule"
)

// AppVersion 应用版本号，构建时可通过 -ldflags 覆盖.
var AppVersion = "0.3.0"

// EnvPrefix 环境变量前缀.
const EnvPrefix = "FITSVAULT"

type (
	// AppConfig 全局应用程序配置.
	AppConfig struct {
		DB             DBConfig             `mapstructure:"db"`              // DBConfig 数据库配置
		S3             S3Config             `mapstructure:"s3"`              // S3Config 对象存储配置
		Storage        StorageConfig        `mapstructure:"storage"`         // StorageConfig 文件存储根与布局
		MQ             MQConfig             `mapstructure:"mq"`              // MQConfig 消息队列配置
		KV             KVConfig             `mapstructure:"kv"`              // KVConfig 键值缓存配置
		Server         ServerConfig         `mapstructure:"server"`          // ServerConfig 服务器配置
		Log            LogConfig            `mapstructure:"log"`             // LogConfig 日志相关配置
		Metrics        MetricsConfig        `mapstructure:"metrics"`         // MetricsConfig 指标
		Tracing        TracingConfig        `mapstructure:"tracing"`         // TracingConfig 链路追踪
		CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"` // CircuitBreakerConfig 熔断
		RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`      // RateLimitConfig 限流
		Auth           AuthConfig           `mapstructure:"auth"`            // AuthConfig 认证与魔术 cookie
		Events         EventsConfig         `mapstructure:"events"`          // EventsConfig 队列唤醒通知
		Archive        ArchiveConfig        `mapstructure:"archive"`         // ArchiveConfig 部署角色
		Queue          QueueConfig          `mapstructure:"queue"`           // QueueConfig 队列调度参数
		Export         ExportConfig         `mapstructure:"export"`          // ExportConfig 下游归档
		Cal            CalConfig            `mapstructure:"cal"`             // CalConfig 定标关联
		Limits         LimitsConfig         `mapstructure:"limits"`          // LimitsConfig 结果数量上限
		SMTP           SMTPConfig           `mapstructure:"smtp"`            // SMTPConfig 邮件中继
	}
)

var (
	// globalConfig 全局配置实例.
	globalConfig AppConfig
	// appViper 全局 Viper 实例.
	appViper *viper.Viper
	// mu 保护热重载期间的写入.
	mu sync.RWMutex
	// reloadHooks 热重载回调.
	reloadHooks []func(AppConfig)
)

// InitConfig 加载应用程序配置，支持多种格式(yaml、json、toml、dotenv).
// path 为空或不存在配置文件时只使用默认值与环境变量.
func InitConfig(path string) error {
	appViper = viper.New()
	// 设置默认值
	setAllDefaults(appViper)

	hasFile := false

	// 检查path是否是文件
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		appViper.SetConfigFile(path)

		hasFile = true
	} else if path != "" {
		appViper.SetConfigName("config")
		appViper.AddConfigPath(path)
		appViper.AddConfigPath(filepath.Join(path, "configs"))

		exts := []string{"yaml", "yml", "json", "toml", "env", "dotenv"}

		for _, ext := range exts {
			cfg := filepath.Join(path, "config."+ext)
			if _, err := os.Stat(cfg); err == nil {
				appViper.SetConfigFile(cfg)

				hasFile = true

				break
			}
		}
	}

	appViper.SetEnvPrefix(EnvPrefix)
	appViper.AutomaticEnv()

	if hasFile {
		if err := appViper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg AppConfig
	if err := appViper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := rule.ValidateStruct(&cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	mu.Lock()
	globalConfig = cfg
	mu.Unlock()

	if hasFile {
		reloadConfigs(appViper, cfg.Server.ReloadConfig)
	}

	return nil
}

// setAllDefaults 设置所有配置的默认值.
func setAllDefaults(v *viper.Viper) {
	var c AppConfig

	c.Server.setDefaults(v)
	c.DB.setDefaults(v)
	c.S3.setDefaults(v)
	c.Storage.setDefaults(v)
	c.MQ.setDefaults(v)
	c.KV.setDefaults(v)
	c.Log.setDefaults(v)
	c.Metrics.setDefaults(v)
	c.Tracing.setDefaults(v)
	c.CircuitBreaker.setDefaults(v)
	c.RateLimit.setDefaults(v)
	c.Auth.setDefaults(v)
	c.Events.setDefaults(v)
	c.Archive.setDefaults(v)
	c.Queue.setDefaults(v)
	c.Export.setDefaults(v)
	c.Cal.setDefaults(v)
	c.Limits.setDefaults(v)
	c.SMTP.setDefaults(v)
}

// validate 跨字段检查，struct tag 表达不了的规则放在各段的 Validate 里.
func (c *AppConfig) validate() error {
	var s3 error
	if c.Storage.Mode == StorageModeS3 {
		s3 = c.S3.Validate()
	}

	return errors.Join(
		c.DB.Validate(),
		s3,
		c.MQ.Validate(),
		c.KV.Validate(),
		c.Tracing.Validate(),
		c.CircuitBreaker.Validate(),
	)
}

// OnReload 注册热重载回调，新配置生效后按注册顺序调用.
func OnReload(fn func(AppConfig)) {
	mu.Lock()
	reloadHooks = append(reloadHooks, fn)
	mu.Unlock()
}

// reloadConfigs 热重载只刷新 server 与 log 段，其余配置启动后保持不变.
// 文件改坏时保留旧配置.
func reloadConfigs(v *viper.Viper, isHotReload bool) {
	if !isHotReload {
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var next AppConfig
		if err := v.Unmarshal(&next); err != nil {
			fmt.Fprintf(os.Stderr, "config reload %s: %v, keeping previous config\n", e.Name, err)
			return
		}

		if err := rule.ValidateStruct(&next); err != nil {
			fmt.Fprintf(os.Stderr, "config reload %s: %v, keeping previous config\n", e.Name, err)
			return
		}

		mu.Lock()
		globalConfig.Server = next.Server
		globalConfig.Log = next.Log
		current := globalConfig
		hooks := append([]func(AppConfig){}, reloadHooks...)
		mu.Unlock()

		for _, fn := range hooks {
			fn(current)
		}
	})
	v.WatchConfig()
}

// GetConfig 返回全局配置实例.
func GetConfig() *AppConfig {
	mu.RLock()
	defer mu.RUnlock()

	return &globalConfig
}

// SetConfig 替换全局配置，供测试与嵌入场景使用.
func SetConfig(c AppConfig) {
	mu.Lock()
	globalConfig = c
	mu.Unlock()
}

// Defaults 返回仅包含默认值的配置.
func Defaults() AppConfig {
	v := viper.New()
	setAllDefaults(v)

	var c AppConfig
	_ = v.Unmarshal(&c)

	return c
}

// GetViper 返回全局 Viper 实例.
func GetViper() *viper.Viper {
	return appViper
}
