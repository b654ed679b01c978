//go:build !no_server_db

package db

import (
	"errors"

	mysqldrv "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/configs"
)

func init() {
	Register(Dialect{
		Family:        "postgres",
		Open:          func(dsn string) gorm.Dialector { return postgres.Open(dsn) },
		RowLocks:      true,
		SkipLocked:    true,
		AdvisoryLocks: true,
	}, configs.PostgreSQL, configs.Postgres, configs.Pg)

	// MySQL 8 与 MariaDB 10.6 起支持 SKIP LOCKED 与 NOWAIT
	Register(Dialect{
		Family:     "mysql",
		Open:       func(dsn string) gorm.Dialector { return mysql.Open(dsn) },
		RowLocks:   true,
		SkipLocked: true,
		NoWait:     true,
		LockBusy:   mysqlLockBusy,
	}, configs.MySQL, configs.MariaDB)
}

// MySQL 的 NOWAIT 失败为 ER_LOCK_NOWAIT (3572)，MariaDB 报 ER_LOCK_WAIT_TIMEOUT (1205).
// 两者都只回滚当前语句，事务可以继续.
const (
	errLockNoWait      = 3572
	errLockWaitTimeout = 1205
)

func mysqlLockBusy(err error) bool {
	var me *mysqldrv.MySQLError
	if !errors.As(err, &me) {
		return false
	}

	return me.Number == errLockNoWait || me.Number == errLockWaitTimeout
}
