//go:build !no_sqlite && cgo

package db

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/configs"
)

// cgo 构建使用 mattn/go-sqlite3.
func init() {
	Register(Dialect{
		Family: "sqlite",
		Open:   func(dsn string) gorm.Dialector { return sqlite.Open(dsn) },
	}, configs.SQLite)
}
