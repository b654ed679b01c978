// Package calcache 物化定标关联: 为每个观测 Header 预先计算 caltype=all 的递归关联结果，
// 写入 calcache 表，供 AssociateCached 与 calmgr 快速读取.
package calcache

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/cache"
	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/cal"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	"github.com/yeisme/fitsvault/pkg/internal/workqueue"
	nlog "github.com/yeisme/fitsvault/pkg/log"
)

// ErrHeaderMissing 条目引用的 Header 已不存在.
var ErrHeaderMissing = errors.New("observation header not found")

// Builder 处理 calcache 队列条目.
type Builder struct {
	db    *gorm.DB
	opts  cal.Options
	depth int
	cache *cache.Cache
}

// Option Builder 选项.
type Option func(*Builder)

// WithCache 写入后使该 obs_hid 的 KV 读穿缓存失效.
func WithCache(c *cache.Cache) Option {
	return func(b *Builder) { b.cache = c }
}

// WithOptions 替换定标引擎参数.
func WithOptions(o cal.Options) Option {
	return func(b *Builder) { b.opts = o }
}

// New 创建 Builder. depth 为 0 时使用 cal.DefaultDepth.
func New(db *gorm.DB, depth int, opts ...Option) *Builder {
	b := &Builder{db: db, depth: depth}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// NewFromConfig 按全局配置创建 Builder.
func NewFromConfig(db *gorm.DB, cfg *configs.CalConfig, opts ...Option) *Builder {
	opts = append([]Option{WithOptions(cal.OptionsFrom(cfg))}, opts...)

	return New(db, cfg.RecursionDepth, opts...)
}

// Rows 由关联结果生成 calcache 行. 观测帧自身不作为自己的定标，
// rank 为同一 caltype 内的出现次序.
func Rows(obsID uint, results []cal.Result) []model.CalCache {
	ranks := make(map[string]int)
	out := make([]model.CalCache, 0, len(results))

	for _, r := range results {
		if r.Header.ID == obsID {
			continue
		}

		out = append(out, model.CalCache{
			ObsHID:    obsID,
			CalHID:    r.Header.ID,
			Caltype:   r.Caltype,
			Rank:      ranks[r.Caltype],
			IsPrimary: r.Primary,
		})
		ranks[r.Caltype]++
	}

	return out
}

// Process 重新计算一个观测的关联并替换其全部 calcache 行，返回写入行数.
func (b *Builder) Process(ctx context.Context, e *model.CalCacheQueueEntry) (int, error) {
	log := nlog.Logger().With().
		Str("queue", string(model.QueueCalCache)).
		Uint("obs_hid", e.ObsHID).
		Uint("id", e.ID).
		Logger()

	var obs model.Header

	err := b.db.WithContext(ctx).First(&obs, e.ObsHID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("%w: %d", ErrHeaderMissing, e.ObsHID)
	}

	if err != nil {
		return 0, workqueue.Transient(fmt.Errorf("load header %d: %w", e.ObsHID, err))
	}

	// 没有仪器或观测时间时无法关联，已有的行保持不变
	if obs.Instrument == "" || obs.UTDatetime == nil {
		log.Debug().Msg("header has no instrument or ut_datetime, skipping")
		return 0, nil
	}

	results, err := cal.Associate(ctx, b.db, []model.Header{obs}, cal.CaltypeAll, b.depth, b.opts)
	if err != nil {
		return 0, workqueue.Transient(err)
	}

	rows := Rows(obs.ID, results)

	err = b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("obs_hid = ?", obs.ID).Delete(&model.CalCache{}).Error; err != nil {
			return err
		}

		if len(rows) == 0 {
			return nil
		}

		return tx.CreateInBatches(rows, 200).Error
	})
	if err != nil {
		return 0, workqueue.Transient(fmt.Errorf("replace calcache rows for %d: %w", obs.ID, err))
	}

	if err := cal.Invalidate(ctx, b.cache, obs.ID); err != nil {
		log.Warn().Err(err).Msg("failed to invalidate cached calibration edges")
	}

	log.Info().Int("rows", len(rows)).Str("instrument", obs.Instrument).Msg("calcache updated")

	return len(rows), nil
}
