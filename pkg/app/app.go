// Package app 组装 HTTP 服务: 配置、追踪、指标、存储、定时任务与路由.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/yeisme/fitsvault/pkg/api"
	appcache "github.com/yeisme/fitsvault/pkg/cache"
	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/access"
	"github.com/yeisme/fitsvault/pkg/internal/jobs"
	"github.com/yeisme/fitsvault/pkg/internal/router"
	"github.com/yeisme/fitsvault/pkg/internal/storage"
	"github.com/yeisme/fitsvault/pkg/internal/storage/kv"
	"github.com/yeisme/fitsvault/pkg/internal/workqueue"
	"github.com/yeisme/fitsvault/pkg/log"
	"github.com/yeisme/fitsvault/pkg/metrics"
	"github.com/yeisme/fitsvault/pkg/middleware"
	"github.com/yeisme/fitsvault/pkg/scheduler"
	"github.com/yeisme/fitsvault/pkg/tracing"
)

// App HTTP 服务.
type App struct {
	Engine *gin.Engine

	config     *configs.AppConfig
	manager    *storage.Manager
	sched      *scheduler.Scheduler
	metricsSrv *http.Server
}

// Bootstrap 初始化配置、追踪、指标与存储，serve 与 worker 共用.
func Bootstrap(ctx context.Context, configPath string) (*configs.AppConfig, *storage.Manager, error) {
	if err := configs.InitConfig(configPath); err != nil {
		return nil, nil, fmt.Errorf("init config: %w", err)
	}

	cfg := configs.GetConfig()

	if err := tracing.InitTracer(ctx, cfg.Tracing); err != nil {
		return nil, nil, fmt.Errorf("init tracing: %w", err)
	}

	if err := metrics.InitMetrics(cfg.Metrics); err != nil {
		return nil, nil, fmt.Errorf("init metrics: %w", err)
	}

	manager, err := storage.Init(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("init storage: %w", err)
	}

	return cfg, manager, nil
}

// NewApp 创建 HTTP 服务. withJobs 为 true 时在本进程运行队列清扫与指标任务.
func NewApp(ctx context.Context, configPath string, withJobs bool) (*App, error) {
	config, manager, err := Bootstrap(ctx, configPath)
	if err != nil {
		return nil, err
	}

	l := log.Logger()
	gin.DefaultWriter = log.NewGinWriter(l, zerolog.InfoLevel)
	gin.DefaultErrorWriter = log.NewGinWriter(l, zerolog.ErrorLevel)

	sched, err := scheduler.NewScheduler(schedulerOptions(manager)...)
	if err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}

	db := manager.GetDBClient().DB

	if withJobs {
		d := jobs.Deps{DB: db, Queue: config.Queue}
		if mq := manager.GetMQClient(); mq != nil {
			d.Notifier = workqueue.NewMQNotifier(mq, config.Events, "scheduler")
		}

		if err := jobs.RegisterCronJobs(sched, d); err != nil {
			return nil, fmt.Errorf("register jobs: %w", err)
		}
	}

	engine := gin.New()
	engine.Use(middleware.Common(config, access.New(db, config.Auth), db)...)
	engine.Use(
		middleware.StorageMiddleware(manager),
		middleware.SchedulerMiddleware(sched),
	)

	opts := router.Options{Auth: config.Auth, Server: config.Server}
	if kvc := manager.GetKVClient(); kvc != nil {
		opts.Cache = appcache.NewCache(kvc.KVStore)

		if gc, ok := kvc.KVStore.(*kv.GroupcacheKV); ok {
			opts.Peers = gc.PeerHandler()
		}
	}

	api.RegisterRoutes(engine, opts)

	return &App{
		Engine:     engine,
		config:     config,
		manager:    manager,
		sched:      sched,
		metricsSrv: metrics.StartMetricsServer(config.Metrics, engine),
	}, nil
}

// jobLockTTL 任务锁的生存时间，长于最慢的清扫.
const jobLockTTL = 10 * time.Minute

// schedulerOptions 共享缓存 (redis、nats) 可用时给定时任务加分布式锁.
func schedulerOptions(manager *storage.Manager) []scheduler.Option {
	kvc := manager.GetKVClient()
	if kvc == nil {
		return nil
	}

	switch kvc.KVStore.(type) {
	case *kv.RedisKV, *kv.NATSKV:
	default:
		return nil
	}

	locker, err := scheduler.NewKVLocker(kvc.KVStore, jobLockTTL)
	if err != nil {
		log.Logger().Warn().Err(err).Msg("job locks disabled")
		return nil
	}

	return []scheduler.Option{scheduler.WithLocker(locker)}
}

// Run 启动定时任务并监听，ctx 结束后优雅退出.
func (a *App) Run(ctx context.Context) error {
	addr := a.config.Server.Addr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Engine,
		ReadHeaderTimeout: a.config.Server.GetTimeoutDuration(),
	}

	a.sched.Start()

	errc := make(chan error, 1)

	go func() {
		log.Logger().Info().Str("addr", addr).Str("role", string(a.config.Archive.Role)).Msg("http server listening")
		errc <- srv.ListenAndServe()
	}()

	var err error

	select {
	case err = <-errc:
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), a.config.Server.GetShutdownGrace())
		defer cancel()

		err = srv.Shutdown(sctx)
	}

	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	return errors.Join(err, a.Close())
}

// Close 停止定时任务并释放存储连接.
func (a *App) Close() error {
	sctx, cancel := context.WithTimeout(context.Background(), a.config.Server.GetShutdownGrace())
	defer cancel()

	return errors.Join(
		a.sched.Shutdown(),
		metrics.Shutdown(sctx, a.metricsSrv),
		a.manager.Close(),
		tracing.ShutdownTracer(sctx),
	)
}
