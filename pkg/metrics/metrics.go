// Package metrics 归档的 Prometheus 指标.
//
//	if err := metrics.InitMetrics(cfg.Metrics); err != nil {
//		return err
//	}
//
//	metrics.QueueEvents.WithLabelValues("ingest", "completed").Inc()
//	metrics.QueueLength.WithLabelValues("ingest", "pending").Set(12)
//
// gorm 插件与进程、Go 运行时指标在默认注册表上，/metrics 把两者合并输出.
package metrics

import (
	"context"
	"errors"
	"net/http"
	_ "net/http/pprof" // 注册 /debug/pprof 到 DefaultServeMux
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yeisme/fitsvault/pkg/configs"
	nlog "github.com/yeisme/fitsvault/pkg/log"
)

// 归档指标. 队列长度由定时任务刷新，其余在事件发生时记录.
var (
	// RequestCounter 按路由模板与状态码计数.
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitsvault_http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration 请求耗时，下载按传输完成计.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fitsvault_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .025, .1, .5, 1, 5, 30, 120, 600},
		},
		[]string{"method", "route"},
	)

	// ActiveConnections 正在处理的请求数.
	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fitsvault_http_inflight_requests",
			Help: "Requests currently being served",
		},
	)

	// QueueLength 各队列按状态的条目数，由定时任务刷新.
	QueueLength = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fitsvault_queue_length",
			Help: "Number of queue entries by state",
		},
		[]string{"queue", "state"},
	)

	// QueueEvents 出队、完成、失败、推迟次数.
	QueueEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitsvault_queue_events_total",
			Help: "Queue entry transitions",
		},
		[]string{"queue", "event"},
	)

	// ExportBytes 向下游归档传输的字节数.
	ExportBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitsvault_export_bytes_total",
			Help: "Bytes transferred to peer archives",
		},
		[]string{"destination"},
	)

	// IngestActions ingest 决策结果计数.
	IngestActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitsvault_ingest_actions_total",
			Help: "Ingest outcomes by action",
		},
		[]string{"action"},
	)

	// CalAssociation 定标关联耗时.
	CalAssociation = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fitsvault_cal_association_seconds",
			Help:    "Calibration association latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"instrument", "cached"},
	)

	// JobRuns 定时任务执行次数.
	JobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitsvault_job_runs_total",
			Help: "Scheduled job runs by result",
		},
		[]string{"job", "result"},
	)

	// ResponseCache 目录响应缓存的命中情况.
	ResponseCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitsvault_response_cache_total",
			Help: "Catalog response cache lookups by result",
		},
		[]string{"result"},
	)

	registry = prometheus.NewRegistry()
	initOnce sync.Once
	initErr  error
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		RequestCounter, RequestDuration, ActiveConnections,
		QueueLength, QueueEvents, ExportBytes, IngestActions, CalAssociation, JobRuns, ResponseCache,
	}
}

// InitMetrics 把归档指标注册到独立注册表，配置的常量标签加在每个指标上. 重复调用无副作用.
func InitMetrics(cfg configs.MetricsConfig) error {
	if !cfg.Enabled {
		return nil
	}

	initOnce.Do(func() {
		reg := prometheus.WrapRegistererWith(prometheus.Labels(cfg.Labels), registry)
		for _, c := range collectors() {
			if err := reg.Register(c); err != nil {
				initErr = errors.Join(initErr, err)
			}
		}
	})

	return initErr
}

// Handler 合并归档注册表与默认注册表的输出.
func Handler() http.Handler {
	return promhttp.HandlerFor(
		prometheus.Gatherers{registry, prometheus.DefaultGatherer},
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	)
}

func mount(e *gin.Engine, cfg configs.MetricsConfig) {
	e.GET(cfg.GetPath(), gin.WrapH(Handler()))

	if cfg.Pprof {
		e.GET("/debug/pprof/*any", gin.WrapH(http.DefaultServeMux))
	}
}

// StartMetricsServer endpoint 为空时挂到 main 上并返回 nil；否则在 endpoint 上单独监听，
// 返回的 server 由调用方关闭.
func StartMetricsServer(cfg configs.MetricsConfig, main *gin.Engine) *http.Server {
	if !cfg.Enabled {
		return nil
	}

	if cfg.Endpoint == "" {
		mount(main, cfg)
		return nil
	}

	e := gin.New()
	e.Use(gin.Recovery())
	mount(e, cfg)

	srv := &http.Server{Addr: cfg.Endpoint, Handler: e, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		l := nlog.Component("metrics")
		l.Info().Str("addr", cfg.Endpoint).Str("path", cfg.GetPath()).Msg("metrics server listening")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	return srv
}

// Shutdown 关闭单独的指标监听，srv 为 nil 时什么都不做.
func Shutdown(ctx context.Context, srv *http.Server) error {
	if srv == nil {
		return nil
	}

	return srv.Shutdown(ctx)
}
