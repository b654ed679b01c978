// Package context 把存储管理器与调度器放进 request context，并提供带 trace 的日志.
package context

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/yeisme/fitsvault/pkg/internal/blob"
	"github.com/yeisme/fitsvault/pkg/internal/storage"
	dbc "github.com/yeisme/fitsvault/pkg/internal/storage/db"
	kvc "github.com/yeisme/fitsvault/pkg/internal/storage/kv"
	mqc "github.com/yeisme/fitsvault/pkg/internal/storage/mq"
	s3c "github.com/yeisme/fitsvault/pkg/internal/storage/s3"
	nlog "github.com/yeisme/fitsvault/pkg/log"
	"github.com/yeisme/fitsvault/pkg/scheduler"
)

type ContextKey string

const (
	StorageManagerKey ContextKey = "storageManager"
	SchedulerKey      ContextKey = "scheduler"
)

// WithStorageManager 将 Manager 存储到 context 中.
func WithStorageManager(ctx context.Context, mgr *storage.Manager) context.Context {
	return context.WithValue(ctx, StorageManagerKey, mgr)
}

// GetManager 从 context 中获取 Manager.
func GetManager(ctx context.Context) *storage.Manager {
	if mgr, ok := ctx.Value(StorageManagerKey).(*storage.Manager); ok {
		return mgr
	}

	return nil
}

// WithScheduler 只有运行定时任务的 serve 进程才会放入调度器.
func WithScheduler(ctx context.Context, sched *scheduler.Scheduler) context.Context {
	return context.WithValue(ctx, SchedulerKey, sched)
}

// GetScheduler 未放入时为 nil.
func GetScheduler(ctx context.Context) *scheduler.Scheduler {
	if s, ok := ctx.Value(SchedulerKey).(*scheduler.Scheduler); ok {
		return s
	}

	return nil
}

func GetS3Client(ctx context.Context) *s3c.Client {
	if mgr := GetManager(ctx); mgr != nil {
		return mgr.GetS3Client()
	}

	return nil
}

func GetDBClient(ctx context.Context) *dbc.Client {
	if mgr := GetManager(ctx); mgr != nil {
		return mgr.GetDBClient()
	}

	return nil
}

func GetMQClient(ctx context.Context) *mqc.Client {
	if mgr := GetManager(ctx); mgr != nil {
		return mgr.GetMQClient()
	}

	return nil
}

func GetKVClient(ctx context.Context) *kvc.Client {
	if mgr := GetManager(ctx); mgr != nil {
		return mgr.GetKVClient()
	}

	return nil
}

func GetBlobStore(ctx context.Context) blob.Store {
	if mgr := GetManager(ctx); mgr != nil {
		return mgr.GetBlobStore()
	}

	return nil
}

// Logger 组件 logger，ctx 中有采样中的 span 时附带 trace_id 与 span_id.
func Logger(ctx context.Context, component string) zerolog.Logger {
	return WithTraceContext(ctx, nlog.Component(component))
}

// WithTraceContext 给 logger 加上当前 span 的标识.
func WithTraceContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || !sc.IsSampled() {
		return logger
	}

	return logger.With().
		Str("trace_id", sc.TraceID().String()).
		Str("span_id", sc.SpanID().String()).
		Logger()
}
