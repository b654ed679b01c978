package configs

import (
	"strings"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	c := Defaults()
	require.NoError(t, c.validate())

	assert.Equal(t, PostgreSQL, c.DB.Type)
	assert.True(t, c.DB.AutoMigrate)
	assert.Equal(t, "memory", c.KV.Type)
	assert.Equal(t, "0.0.0.0:8080", c.Server.Addr())
	assert.Equal(t, DefaultShutdownGrace, c.Server.GetShutdownGrace())
}

func TestDBConfigDSN(t *testing.T) {
	c := DBConfig{Type: Pg, Host: "db", Port: 5432, User: "u", Password: "p", Database: "fits", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=fits sslmode=disable", c.GetDSN())
	assert.NotContains(t, c.Redacted(), "p@")
	assert.Equal(t, "postgres u@db:5432/fits", c.Redacted())

	c = DBConfig{Type: MariaDB, Host: "db", Port: 3306, User: "u", Password: "p", Database: "fits"}
	assert.True(t, strings.HasPrefix(c.GetDSN(), "u:p@tcp(db:3306)/fits?"))

	c = DBConfig{Type: SQLite, Database: "/var/lib/fits/catalog"}
	dsn := c.GetDSN()
	assert.True(t, strings.HasPrefix(dsn, "file:/var/lib/fits/catalog.db?"))
	assert.Contains(t, dsn, "busy_timeout")

	c = DBConfig{Type: SQLite, DSN: "file::memory:"}
	assert.Equal(t, "file::memory:", c.GetDSN())
}

func TestValidateCrossField(t *testing.T) {
	c := Defaults()
	c.DB.Host = ""
	c.KV.Type = "redis"
	c.KV.Redis.Addr = ""
	c.CircuitBreaker.Enabled = true
	c.CircuitBreaker.FailureRate = 2

	err := c.validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "db.host")
	assert.ErrorContains(t, err, "kv.redis.addr")
	assert.ErrorContains(t, err, "failure_rate")
}

func TestS3ValidatedOnlyInS3Mode(t *testing.T) {
	c := Defaults()
	c.S3.BucketName = ""
	require.NoError(t, c.validate())

	c.Storage.Mode = StorageModeS3
	assert.ErrorContains(t, c.validate(), "s3.bucket_name")
}

func TestS3HostAndSecure(t *testing.T) {
	c := S3Config{Endpoint: "https://minio.example.org:9000"}
	host, secure := c.HostAndSecure()
	assert.Equal(t, "minio.example.org:9000", host)
	assert.True(t, secure)

	c = S3Config{Endpoint: "localhost:9000"}
	host, secure = c.HostAndSecure()
	assert.Equal(t, "localhost:9000", host)
	assert.False(t, secure)
}

func TestCircuitBreakerTrips(t *testing.T) {
	c := CircuitBreakerConfig{FailureRate: 0.5, MinRequests: 4, TimeoutSeconds: 10}
	s := c.Settings("x")
	assert.Equal(t, "x", s.Name)
	assert.Equal(t, int64(10), int64(s.Timeout.Seconds()))

	assert.False(t, s.ReadyToTrip(gobreaker.Counts{Requests: 3, TotalFailures: 3}))
	assert.True(t, s.ReadyToTrip(gobreaker.Counts{Requests: 4, TotalFailures: 2}))
	assert.False(t, s.ReadyToTrip(gobreaker.Counts{Requests: 10, TotalFailures: 4}))
}
