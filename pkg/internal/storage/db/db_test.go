package db_test

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/storage/db"
)

func TestRegisteredDialects(t *testing.T) {
	types := db.GetRegisteredDBTypes()
	assert.Contains(t, types, configs.SQLite)
	assert.Contains(t, types, configs.PostgreSQL)
	assert.Contains(t, types, configs.MariaDB)
	assert.IsIncreasing(t, types)

	pg, ok := db.Lookup(configs.Pg)
	require.True(t, ok)
	assert.Equal(t, "postgres", pg.Family)
	assert.True(t, pg.SkipLocked)
	assert.True(t, pg.AdvisoryLocks)

	my, ok := db.Lookup(configs.MySQL)
	require.True(t, ok)
	assert.True(t, my.RowLocks)
	assert.False(t, my.AdvisoryLocks)

	_, ok = db.Lookup("duckdb")
	assert.False(t, ok)
}

func TestOpenSQLite(t *testing.T) {
	client, err := db.Open(context.Background(), sqlite.Open("file:dbtest_open?mode=memory&cache=shared"), &configs.DBConfig{
		MaxOpenConns: 1,
		LogLevel:     "silent",
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Close() })

	assert.Equal(t, "sqlite", client.Dialect.Family)
	assert.True(t, db.IsSQLite(client.DB))
	assert.False(t, db.IsPostgres(client.DB))
	assert.False(t, db.SupportsRowLocks(client.DB))
	assert.False(t, db.SupportsAdvisoryLocks(client.DB))
	assert.NoError(t, client.HealthCheck(context.Background()))
}
