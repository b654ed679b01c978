// Package dbtest 为测试提供迁移好的内存 SQLite 目录.
package dbtest

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	dbc "github.com/yeisme/fitsvault/pkg/internal/storage/db"
)

var seq atomic.Int64

// New 返回一个独立的内存数据库，测试结束时关闭.
func New(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
		name, seq.Add(1))

	client, err := dbc.Open(context.Background(), sqlite.Open(dsn), &configs.DBConfig{
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	require.NoError(t, model.Migrate(client.DB))

	t.Cleanup(func() { _ = client.Close() })

	return client.DB
}
