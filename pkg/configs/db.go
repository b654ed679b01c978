package configs

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DBType 目录数据库类型.
type DBType string

const (
	PostgreSQL DBType = "postgresql"
	Postgres   DBType = "postgres"
	Pg         DBType = "pg"
	MySQL      DBType = "mysql"
	MariaDB    DBType = "mariadb"
	SQLite     DBType = "sqlite"
)

const (
	DefaultDatabaseHost    = "localhost"
	DefaultDatabasePort    = 5432
	DefaultDatabaseUser    = "fitsdata"
	DefaultDatabaseName    = "fitsdata"
	DefaultDatabaseSSLMode = "disable"
	// DefaultMaxOpenConns 每个 worker 循环与 HTTP 处理各占一条连接，留出余量.
	DefaultMaxOpenConns    = 20
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 30 * time.Minute
	DefaultSlowThreshold   = 500 * time.Millisecond
	// DefaultSQLiteBusyTimeout 多个 worker 进程共用一个 SQLite 文件时的锁等待.
	DefaultSQLiteBusyTimeout = 5 * time.Second
)

// DBConfig 目录数据库配置. 生产使用 PostgreSQL，SQLite 用于单机与测试.
type DBConfig struct {
	Type            DBType        `mapstructure:"type"              rule:"oneof=postgresql postgres pg mysql mariadb sqlite"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"              rule:"min=1,max=65535"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"    rule:"min=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    rule:"min=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SlowThreshold   time.Duration `mapstructure:"slow_threshold"`
	// DSN 非空时直接使用，忽略上面的分项配置
	DSN string `mapstructure:"dsn"`
	// LogLevel gorm 日志级别: silent/error/warn/info
	LogLevel string `mapstructure:"log_level" rule:"omitempty,oneof=silent error warn info"`
	// EnableMetrics 启用 gorm prometheus 插件
	EnableMetrics bool `mapstructure:"enable_metrics"`
	// AutoMigrate 启动时创建或补齐目录表
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// Family 归一化后的数据库族: postgres、mysql 或 sqlite.
func (c *DBConfig) Family() string {
	switch c.Type {
	case PostgreSQL, Postgres, Pg:
		return "postgres"
	case MySQL, MariaDB:
		return "mysql"
	case SQLite:
		return "sqlite"
	}

	return ""
}

// GetDSN 连接串. DSN 字段优先.
func (c *DBConfig) GetDSN() string {
	if c.DSN != "" {
		return c.DSN
	}

	switch c.Family() {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			c.User, c.Password, c.Host, c.Port, c.Database)
	case "sqlite":
		return c.sqliteDSN()
	}

	return ""
}

// sqliteDSN database 作为文件路径，打开 WAL 与外键，并设置 busy_timeout.
func (c *DBConfig) sqliteDSN() string {
	name := c.Database
	if !strings.HasSuffix(name, ".db") && !strings.HasSuffix(name, ".sqlite") {
		name += ".db"
	}

	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", DefaultSQLiteBusyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")

	return "file:" + name + "?" + q.Encode()
}

// Redacted 日志里展示的连接目标，不含密码.
func (c *DBConfig) Redacted() string {
	if c.DSN != "" {
		return string(c.Type) + " (dsn)"
	}

	if c.Family() == "sqlite" {
		return "sqlite " + c.Database
	}

	return fmt.Sprintf("%s %s@%s:%d/%s", c.Family(), c.User, c.Host, c.Port, c.Database)
}

// Validate 服务器型数据库需要 host 与 database.
func (c *DBConfig) Validate() error {
	if c.DSN != "" {
		return nil
	}

	if c.Database == "" {
		return fmt.Errorf("db.database is required")
	}

	if c.Family() != "sqlite" && c.Host == "" {
		return fmt.Errorf("db.host is required for %s", c.Type)
	}

	return nil
}

func (c *DBConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("db.type", PostgreSQL)
	v.SetDefault("db.host", DefaultDatabaseHost)
	v.SetDefault("db.port", DefaultDatabasePort)
	v.SetDefault("db.user", DefaultDatabaseUser)
	v.SetDefault("db.database", DefaultDatabaseName)
	v.SetDefault("db.sslmode", DefaultDatabaseSSLMode)
	v.SetDefault("db.max_open_conns", DefaultMaxOpenConns)
	v.SetDefault("db.max_idle_conns", DefaultMaxIdleConns)
	v.SetDefault("db.conn_max_lifetime", DefaultConnMaxLifetime)
	v.SetDefault("db.slow_threshold", DefaultSlowThreshold)
	v.SetDefault("db.log_level", "warn")
	v.SetDefault("db.enable_metrics", false)
	v.SetDefault("db.auto_migrate", true)
}
