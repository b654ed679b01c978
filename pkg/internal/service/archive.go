// Package service 实现归档对外接口背后的业务逻辑: 目录查询、定标管理、
// 文件下载与打包、上传暂存、头修改请求、队列状态与目录一致性检查.
package service

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/cache"
	"github.com/yeisme/fitsvault/pkg/configs"
	ctxPkg "github.com/yeisme/fitsvault/pkg/context"
	"github.com/yeisme/fitsvault/pkg/internal/access"
	"github.com/yeisme/fitsvault/pkg/internal/blob"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	"github.com/yeisme/fitsvault/pkg/internal/workqueue"
)

var (
	// ErrNoStorage context 中没有存储管理器.
	ErrNoStorage = errors.New("storage manager not available")
	// ErrNotFound 文件不存在或已不在存储上.
	ErrNotFound = errors.New("file not found")
	// ErrBadRequest 请求参数不合法.
	ErrBadRequest = errors.New("bad request")
	// ErrTooLarge 结果超出数量或体积上限.
	ErrTooLarge = errors.New("result exceeds download limits")
	// ErrNoCaltype calmgr POST 没有给出定标类型.
	ErrNoCaltype = errors.New("no calibration type specified")
)

// ArchiveService 归档服务.
type ArchiveService struct {
	db      *gorm.DB
	store   blob.Store
	staging blob.Store
	cache   *cache.Cache
	gate    *access.Gate
	fileops *workqueue.FileopsQueue
	cfg     *configs.AppConfig
	now     func() time.Time

	notifier workqueue.Notifier
}

// Option 配置 ArchiveService.
type Option func(*ArchiveService)

// WithCache 启用 calcache 读穿透缓存.
func WithCache(c *cache.Cache) Option {
	return func(s *ArchiveService) { s.cache = c }
}

// WithStaging 替换上传暂存区.
func WithStaging(st blob.Store) Option {
	return func(s *ArchiveService) { s.staging = st }
}

// WithClock 替换时钟.
func WithClock(now func() time.Time) Option {
	return func(s *ArchiveService) { s.now = now }
}

// WithNotifier fileops 入队后发送唤醒通知.
func WithNotifier(n workqueue.Notifier) Option {
	return func(s *ArchiveService) { s.notifier = n }
}

// New 创建 ArchiveService.
func New(db *gorm.DB, store blob.Store, cfg *configs.AppConfig, opts ...Option) *ArchiveService {
	s := &ArchiveService{db: db, store: store, cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(s)
	}

	if s.staging == nil {
		s.staging = blob.NewLocal(cfg.Storage.UploadStaging)
	}

	qopts := []workqueue.Option{workqueue.WithClock(s.now)}
	if s.notifier != nil {
		qopts = append(qopts, workqueue.WithNotifier(s.notifier))
	}

	s.fileops = workqueue.New[model.FileopsQueueEntry](db, qopts...)
	s.gate = access.New(db, cfg.Auth, access.WithClock(s.now))

	return s
}

// NewArchiveService 使用 context 中的存储管理器与全局配置创建服务.
func NewArchiveService(ctx context.Context) (*ArchiveService, error) {
	mgr := ctxPkg.GetManager(ctx)
	if mgr == nil || mgr.GetDBClient() == nil || mgr.GetBlobStore() == nil {
		return nil, ErrNoStorage
	}

	cfg := configs.GetConfig()

	var opts []Option

	if kv := mgr.GetKVClient(); kv != nil && cfg.Archive.UseCalCache {
		opts = append(opts, WithCache(cache.NewCache(kv.KVStore)))
	}

	if mq := mgr.GetMQClient(); mq != nil {
		opts = append(opts, WithNotifier(workqueue.NewMQNotifier(mq, cfg.Events, "api")))
	}

	return New(mgr.GetDBClient().DB, mgr.GetBlobStore(), cfg, opts...), nil
}

// Gate 访问控制.
func (s *ArchiveService) Gate() *access.Gate {
	return s.gate
}
