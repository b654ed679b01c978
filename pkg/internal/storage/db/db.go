// Package db 打开目录数据库并按方言暴露加锁能力.
package db

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	gormPrometheus "gorm.io/plugin/prometheus"

	"github.com/yeisme/fitsvault/pkg/configs"
	nlog "github.com/yeisme/fitsvault/pkg/log"
)

// Client 包装 GORM DB 客户端.
type Client struct {
	*gorm.DB
	Dialect Dialect
}

var (
	clientMu   sync.Mutex
	clientInst *Client
)

// metricsRefreshSeconds gorm 连接池指标的采集间隔.
const metricsRefreshSeconds = 15

// New 按全局配置打开数据库连接，重复调用返回同一实例.
func New(ctx context.Context) (*Client, error) {
	clientMu.Lock()
	defer clientMu.Unlock()

	if clientInst != nil {
		return clientInst, nil
	}

	app := configs.GetConfig()
	cfg := app.DB

	d, ok := Lookup(cfg.Type)
	if !ok {
		return nil, fmt.Errorf("unsupported database type: %s (registered: %v)", cfg.Type, GetRegisteredDBTypes())
	}

	dsn := cfg.GetDSN()
	if dsn == "" {
		return nil, fmt.Errorf("failed to generate DSN for database type: %s", cfg.Type)
	}

	client, err := Open(ctx, d.Open(dsn), &cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Redacted(), err)
	}

	client.Dialect = d

	if cfg.EnableMetrics || app.Metrics.Enabled {
		if err := client.Use(gormPrometheus.New(gormPrometheus.Config{
			DBName:          cfg.Database,
			RefreshInterval: metricsRefreshSeconds,
		})); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("register gorm metrics: %w", err)
		}
	}

	l := nlog.Component("db")
	l.Info().
		Str("target", cfg.Redacted()).
		Bool("skip_locked", d.SkipLocked).
		Msg("catalog database connected")

	clientInst = client

	return client, nil
}

// Open 用给定 dialector 打开连接并配置连接池. 测试直接传入内存 SQLite.
func Open(ctx context.Context, dialector gorm.Dialector, cfg *configs.DBConfig) (*Client, error) {
	slow := cfg.SlowThreshold
	if slow <= 0 {
		slow = configs.DefaultSlowThreshold
	}

	gl := nlog.Component("gorm")

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(&gl, logger.Config{
			SlowThreshold:             slow,
			LogLevel:                  gormLogLevel(cfg.LogLevel),
			IgnoreRecordNotFoundError: true,
		}),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)

	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{DB: db, Dialect: familyOf(db)}, nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// HealthCheck ping 底层连接.
func (c *Client) HealthCheck(ctx context.Context) error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return err
	}

	return sqlDB.PingContext(ctx)
}

// Close 关闭底层连接池.
func (c *Client) Close() error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}
