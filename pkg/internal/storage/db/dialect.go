package db

import (
	"slices"

	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/configs"
)

// Dialect 一种数据库族的打开方式与队列、摄取需要的能力.
type Dialect struct {
	// Family 与 gorm Dialector.Name() 一致
	Family string
	Open   func(dsn string) gorm.Dialector
	// RowLocks 支持 SELECT ... FOR UPDATE
	RowLocks bool
	// SkipLocked 支持 FOR UPDATE SKIP LOCKED，多 worker 可并发出队
	SkipLocked bool
	// AdvisoryLocks 支持事务级咨询锁
	AdvisoryLocks bool
	// NoWait 支持 FOR UPDATE NOWAIT，LockBusy 识别其失败
	NoWait   bool
	LockBusy func(err error) bool
}

var dialects = map[configs.DBType]Dialect{}

// Register 注册一个数据库族及其别名.
func Register(d Dialect, types ...configs.DBType) {
	for _, t := range types {
		dialects[t] = d
	}
}

// Lookup 按配置类型查找.
func Lookup(t configs.DBType) (Dialect, bool) {
	d, ok := dialects[t]
	return d, ok
}

// GetRegisteredDBTypes 已注册的类型，按名称排序.
func GetRegisteredDBTypes() []configs.DBType {
	types := make([]configs.DBType, 0, len(dialects))
	for t := range dialects {
		types = append(types, t)
	}

	slices.Sort(types)

	return types
}

// familyOf 已打开连接对应的能力. 未注册的驱动按没有任何锁能力处理.
func familyOf(db *gorm.DB) Dialect {
	name := db.Dialector.Name()
	for _, d := range dialects {
		if d.Family == name {
			return d
		}
	}

	return Dialect{Family: name}
}

// IsSQLite SQLite 没有行锁，出队需要进程内互斥.
func IsSQLite(db *gorm.DB) bool {
	return db.Dialector.Name() == "sqlite"
}

// IsPostgres 判断连接是否为 PostgreSQL.
func IsPostgres(db *gorm.DB) bool {
	return db.Dialector.Name() == "postgres"
}

// SupportsAdvisoryLocks 连接能否取事务级咨询锁.
func SupportsAdvisoryLocks(db *gorm.DB) bool {
	return familyOf(db).AdvisoryLocks
}

// SupportsRowLocks 连接能否加 FOR UPDATE.
func SupportsRowLocks(db *gorm.DB) bool {
	return familyOf(db).RowLocks
}

// SupportsNoWait 连接能否加 FOR UPDATE NOWAIT.
func SupportsNoWait(db *gorm.DB) bool {
	d := familyOf(db)
	return d.NoWait && d.LockBusy != nil
}

// IsLockBusy NOWAIT 因行被其他事务持有而失败.
func IsLockBusy(db *gorm.DB, err error) bool {
	d := familyOf(db)
	return err != nil && d.LockBusy != nil && d.LockBusy(err)
}
