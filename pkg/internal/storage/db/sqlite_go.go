//go:build !no_sqlite && !cgo

package db

import (
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/configs"
)

// 纯 Go 构建，单机部署不需要 C 工具链.
func init() {
	Register(Dialect{
		Family: "sqlite",
		Open:   func(dsn string) gorm.Dialector { return sqlite.Open(dsn) },
	}, configs.SQLite)
}
