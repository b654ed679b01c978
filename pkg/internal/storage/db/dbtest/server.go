package dbtest

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	dbc "github.com/yeisme/fitsvault/pkg/internal/storage/db"
)

// Server 连接 FITSVAULT_TEST_<TYPE>_DSN 指向的服务器数据库并迁移，未设置时跳过测试.
// 调用方负责清理自己写入的表.
func Server(t testing.TB, typ configs.DBType) *gorm.DB {
	t.Helper()

	env := "FITSVAULT_TEST_" + strings.ToUpper(string(typ)) + "_DSN"

	dsn := os.Getenv(env)
	if dsn == "" {
		t.Skipf("%s not set", env)
	}

	d, ok := dbc.Lookup(typ)
	require.True(t, ok, "dialect %s not compiled in", typ)

	client, err := dbc.Open(context.Background(), d.Open(dsn), &configs.DBConfig{
		MaxOpenConns: 8,
		MaxIdleConns: 8,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	require.NoError(t, model.Migrate(client.DB))

	t.Cleanup(func() { _ = client.Close() })

	return client.DB
}
