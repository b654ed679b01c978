// Package ingest 消费 ingest 队列: 校验文件存在、计算 md5、决定动作、在一个事务内修改目录，
// 然后为下游队列排入 export、preview 与 calcache 条目.
//
//	pop → 存在性检查 → md5 → 决策 → 修改目录 → 下游入队 → complete
//
// 同一 File 的并发 ingest 通过对 File 行的 SELECT ... FOR UPDATE 串行化.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/blob"
	"github.com/yeisme/fitsvault/pkg/internal/fits"
	"github.com/yeisme/fitsvault/pkg/internal/gemini"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	"github.com/yeisme/fitsvault/pkg/internal/workqueue"
	nlog "github.com/yeisme/fitsvault/pkg/log"
	"github.com/yeisme/fitsvault/pkg/metrics"
)

var (
	// ErrFileMissing 存储上找不到文件，需要人工处理.
	ErrFileMissing = errors.New("file missing from storage")
	// ErrMD5Mismatch 声明的 md5 与实际不符.
	ErrMD5Mismatch = errors.New("md5 mismatch")
	// ErrInvariant 目录不变量被破坏，事务回滚.
	ErrInvariant = errors.New("catalog invariant violated")
)

// Config ingest 之后的下游排队策略.
type Config struct {
	Destinations []configs.ExportDestination
	UsePreviews  bool
	UseCalCache  bool
}

// ConfigFrom 从全局配置提取.
func ConfigFrom(c *configs.AppConfig) Config {
	return Config{
		Destinations: c.Export.Destinations,
		UsePreviews:  c.Archive.UsePreviews,
		UseCalCache:  c.Archive.UseCalCache,
	}
}

// Ingester 处理单个 ingest 条目，不含出队循环.
type Ingester struct {
	db        *gorm.DB
	store     blob.Store
	extractor fits.Extractor
	validator fits.Validator
	cfg       Config
	now       func() time.Time

	exports  *workqueue.ExportQueue
	previews *workqueue.PreviewQueue
	calcache *workqueue.CalCacheQueue
}

// Option Ingester 选项.
type Option func(*Ingester)

// WithExtractor 替换元数据提取器.
func WithExtractor(x fits.Extractor) Option {
	return func(in *Ingester) { in.extractor = x }
}

// WithValidator 替换校验器.
func WithValidator(v fits.Validator) Option {
	return func(in *Ingester) { in.validator = v }
}

// WithClock 替换时钟.
func WithClock(now func() time.Time) Option {
	return func(in *Ingester) { in.now = now }
}

// WithQueueOptions 下游队列使用的选项，例如唤醒通知.
func WithQueueOptions(opts ...workqueue.Option) Option {
	return func(in *Ingester) {
		in.exports = workqueue.New[model.ExportQueueEntry](in.db, opts...)
		in.previews = workqueue.New[model.PreviewQueueEntry](in.db, opts...)
		in.calcache = workqueue.New[model.CalCacheQueueEntry](in.db, opts...)
	}
}

// New 创建 Ingester.
func New(db *gorm.DB, store blob.Store, cfg Config, opts ...Option) *Ingester {
	in := &Ingester{
		db:        db,
		store:     store,
		extractor: fits.NewExtractor(),
		validator: fits.NewValidator(),
		cfg:       cfg,
		now:       time.Now,
		exports:   workqueue.New[model.ExportQueueEntry](db),
		previews:  workqueue.New[model.PreviewQueueEntry](db),
		calcache:  workqueue.New[model.CalCacheQueueEntry](db),
	}

	for _, opt := range opts {
		opt(in)
	}

	return in
}

// Result 一次 ingest 的结果.
type Result struct {
	Action     Action `json:"action"`
	FileID     uint   `json:"file_id"`
	DiskFileID uint   `json:"diskfile_id"`
	HeaderIDs  []uint `json:"header_ids,omitempty"`
	// MdReady 元数据是否通过校验
	MdReady  bool `json:"mdready"`
	Enqueued int  `json:"enqueued"`
}

// Process 执行一个已出队的 ingest 条目. 返回的错误由调用方写入队列条目.
func (in *Ingester) Process(ctx context.Context, e *model.IngestQueueEntry) (*Result, error) {
	log := nlog.Logger().With().
		Str("queue", string(model.QueueIngest)).
		Str("filename", e.Filename).
		Uint("id", e.ID).
		Logger()

	if e.HeaderUpdate != "" {
		changed, err := in.applyHeaderUpdate(ctx, e)
		if err != nil {
			return nil, err
		}

		if !changed {
			log.Info().Msg("header update is a no-op")
			metrics.IngestActions.WithLabelValues(string(ActionNoop)).Inc()

			return &Result{Action: ActionNoop}, nil
		}
	}

	info, err := in.store.Stat(ctx, e.Path, e.Filename)
	if err != nil {
		if errors.Is(err, blob.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileMissing, e.Filename)
		}

		return nil, workqueue.Transient(fmt.Errorf("stat %s: %w", e.Filename, err))
	}

	name := gemini.NormalizeFilename(e.Filename)

	if !e.Force && !e.ForceMD5 && e.HeaderUpdate == "" {
		if res, ok, err := in.lastmodShortcut(ctx, name, e, info); err != nil || ok {
			return res, err
		}
	}

	sum, err := blob.Summarize(ctx, in.store, e.Path, e.Filename)
	if err != nil {
		return nil, workqueue.Transient(fmt.Errorf("summarize %s: %w", e.Filename, err))
	}

	in0 := &ingestion{
		in:    in,
		entry: e,
		name:  name,
		info:  info,
		sum:   sum,
		log:   log,
	}

	res, err := in0.run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("ingest failed")
		return nil, err
	}

	metrics.IngestActions.WithLabelValues(string(res.Action)).Inc()

	if res.Action != ActionUnchanged {
		res.Enqueued = in.enqueueDownstream(ctx, log, e, res)
	}

	log.Info().
		Str("action", string(res.Action)).
		Uint("diskfile_id", res.DiskFileID).
		Bool("mdready", res.MdReady).
		Int("enqueued", res.Enqueued).
		Msg("ingested")

	return res, nil
}

// lastmodShortcut canonical 版本的 lastmod 与存储一致时跳过 md5 计算.
func (in *Ingester) lastmodShortcut(ctx context.Context, name string, e *model.IngestQueueEntry,
	info blob.Info) (*Result, bool, error) {
	var df model.DiskFile

	err := in.db.WithContext(ctx).
		Joins("JOIN file ON file.id = diskfile.file_id").
		Where("file.name = ? AND diskfile.canonical = ?", name, true).
		First(&df).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, err
	}

	if df.Path != e.Path || df.Filename != e.Filename || !df.Present || !sameInstant(df.Lastmod, info.LastMod) {
		return nil, false, nil
	}

	metrics.IngestActions.WithLabelValues(string(ActionUnchanged)).Inc()

	return &Result{Action: ActionUnchanged, FileID: df.FileID, DiskFileID: df.ID, MdReady: df.MdReady}, true, nil
}

// enqueueDownstream 下游入队失败只记录日志，不影响 ingest 条目.
func (in *Ingester) enqueueDownstream(ctx context.Context, log zerolog.Logger, e *model.IngestQueueEntry, res *Result) int {
	n := 0

	add := func(what string, ok bool, err error) {
		if err != nil {
			log.Error().Err(err).Str("downstream", what).Msg("failed to enqueue downstream work")
			return
		}

		if ok {
			n++
		}
	}

	for _, d := range in.cfg.Destinations {
		ok, err := in.exports.Enqueue(ctx, workqueue.NewExportEntry(e.Filename, e.Path, d.URL, d.Priority))
		add("export", ok, err)
	}

	if in.cfg.UsePreviews && res.DiskFileID != 0 {
		ok, err := in.previews.Enqueue(ctx, workqueue.NewPreviewEntry(res.DiskFileID, e.Filename, false))
		add("preview", ok, err)
	}

	if in.cfg.UseCalCache {
		for _, hid := range res.HeaderIDs {
			ok, err := in.calcache.Enqueue(ctx, workqueue.NewCalCacheEntry(hid, e.Filename))
			add("calcache", ok, err)
		}
	}

	return n
}

// sameInstant 按微秒比较，数据库往返会丢失纳秒.
func sameInstant(a, b time.Time) bool {
	return a.UTC().Truncate(time.Microsecond).Equal(b.UTC().Truncate(time.Microsecond))
}
