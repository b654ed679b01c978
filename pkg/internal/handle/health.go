package handle

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yeisme/fitsvault/pkg/configs"
	ctxPkg "github.com/yeisme/fitsvault/pkg/context"
	"github.com/yeisme/fitsvault/pkg/internal/types"
)

const timeout = 2 * time.Second

// healthProbe 放在文件存储根下用于探测的文件名，不要求存在.
const healthProbe = ".healthcheck"

// healthKVKey 写入缓存再读回的探测键.
const healthKVKey = "health:probe"

var errNotConfigured = errors.New("not configured")

// probe 一个组件的检查. optional 的组件未配置时不影响整体状态.
type probe struct {
	name     string
	optional bool
	check    func(ctx context.Context) (string, error)
}

func probes() []probe {
	return []probe{
		{name: "db", check: checkDB},
		{name: "blob", check: checkBlob},
		{name: "s3", optional: true, check: checkS3},
		{name: "kv", optional: true, check: checkKV},
		{name: "mq", optional: true, check: checkMQ},
	}
}

func checkDB(ctx context.Context) (string, error) {
	dbc := ctxPkg.GetDBClient(ctx)
	if dbc == nil || dbc.DB == nil {
		return "db", errNotConfigured
	}

	return "db", dbc.HealthCheck(ctx)
}

func checkS3(ctx context.Context) (string, error) {
	s3c := ctxPkg.GetS3Client(ctx)
	if s3c == nil || s3c.Client == nil {
		return "s3", errNotConfigured
	}

	return "s3", s3c.HealthCheck(ctx)
}

func checkBlob(ctx context.Context) (string, error) {
	store := ctxPkg.GetBlobStore(ctx)
	if store == nil {
		return "blob", errNotConfigured
	}

	_, err := store.Exists(ctx, "", healthProbe)

	return "blob:" + store.Kind(), err
}

func checkKV(ctx context.Context) (string, error) {
	kvc := ctxPkg.GetKVClient(ctx)
	if kvc == nil || kvc.KVStore == nil {
		return "kv", errNotConfigured
	}

	if err := kvc.Set(ctx, healthKVKey, []byte("ok"), time.Minute); err != nil {
		return "kv", err
	}

	_, err := kvc.Get(ctx, healthKVKey)

	return "kv", err
}

func checkMQ(ctx context.Context) (string, error) {
	if ctxPkg.GetMQClient(ctx) == nil {
		return "mq", errNotConfigured
	}

	return "mq", nil
}

func run(c *gin.Context, p probe) types.HealthResponse {
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	component, err := p.check(ctx)
	if err != nil {
		return types.HealthResponse{Component: component, Status: "unhealthy", Error: err.Error()}
	}

	return types.HealthResponse{Component: component, Status: "ok"}
}

func single(name string) gin.HandlerFunc {
	var p probe

	for _, candidate := range probes() {
		if candidate.name == name {
			p = candidate
		}
	}

	return func(c *gin.Context) {
		res := run(c, p)
		if res.Status != "ok" {
			c.JSON(http.StatusServiceUnavailable, res)
			return
		}

		c.JSON(http.StatusOK, res)
	}
}

// Health 汇总全部组件. 必需组件 (目录与文件存储) 异常时返回 503，可选组件未配置时只列出.
//
//	@Summary	整体健康检查
//	@Tags		健康检查
//	@Produce	json
//	@Success	200	{object}	types.HealthReport
//	@Failure	503	{object}	types.HealthReport
//	@Router		/api/v1/health [get]
func Health(c *gin.Context) {
	report := types.HealthReport{Status: "ok", Version: configs.AppVersion}

	for _, p := range probes() {
		res := run(c, p)
		if p.optional && res.Error == errNotConfigured.Error() {
			res.Status = "disabled"
			res.Error = ""
		}

		if res.Status == "unhealthy" {
			report.Status = "degraded"
		}

		report.Components = append(report.Components, res)
	}

	if report.Status != "ok" {
		c.JSON(http.StatusServiceUnavailable, report)
		return
	}

	c.JSON(http.StatusOK, report)
}

// HealthDB 目录数据库健康检查.
//
//	@Summary	目录数据库健康检查
//	@Tags		健康检查
//	@Produce	json
//	@Success	200	{object}	types.HealthResponse
//	@Failure	503	{object}	types.HealthResponse
//	@Router		/api/v1/health/db [get]
func HealthDB(c *gin.Context) { single("db")(c) }

// HealthS3 对象存储健康检查. 本地存储模式下没有 S3 客户端，返回 503.
//
//	@Summary	对象存储健康检查
//	@Tags		健康检查
//	@Produce	json
//	@Success	200	{object}	types.HealthResponse
//	@Failure	503	{object}	types.HealthResponse
//	@Router		/api/v1/health/s3 [get]
func HealthS3(c *gin.Context) { single("s3")(c) }

// HealthBlob 文件本体存储健康检查，对任一实现都做一次 Exists 探测.
//
//	@Summary	文件存储健康检查
//	@Tags		健康检查
//	@Produce	json
//	@Success	200	{object}	types.HealthResponse
//	@Failure	503	{object}	types.HealthResponse
//	@Router		/api/v1/health/blob [get]
func HealthBlob(c *gin.Context) { single("blob")(c) }

// HealthKV 响应缓存健康检查，写入一个短 TTL 的探测键再读回.
//
//	@Summary	缓存健康检查
//	@Tags		健康检查
//	@Produce	json
//	@Success	200	{object}	types.HealthResponse
//	@Failure	503	{object}	types.HealthResponse
//	@Router		/api/v1/health/kv [get]
func HealthKV(c *gin.Context) { single("kv")(c) }

// HealthMQ 唤醒通知总线健康检查.
//
//	@Summary	唤醒通知总线健康检查
//	@Tags		健康检查
//	@Produce	json
//	@Success	200	{object}	types.HealthResponse
//	@Failure	503	{object}	types.HealthResponse
//	@Router		/api/v1/health/mq [get]
func HealthMQ(c *gin.Context) { single("mq")(c) }
