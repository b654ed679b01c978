package cal

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yeisme/fitsvault/pkg/cache"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	"github.com/yeisme/fitsvault/pkg/metrics"
)

const (
	// DefaultDepth Associate 的默认递归深度.
	DefaultDepth = 5
	// DefaultCachedDepth AssociateCached 的默认递归深度.
	DefaultCachedDepth = 4
)

// Result 一条关联结果.
type Result struct {
	Header model.Header
	// ObsID 得到该结果的帧，递归结果指向上一层的定标帧
	ObsID   uint
	Caltype string
	// Rank 在同一 ObsID 与 Caltype 下的次序，从 0 开始
	Rank int
	// Primary 首层结果为 true
	Primary bool
}

// Associate 为 headers 寻找定标帧. caltype 为 all 时对结果递归，直到 depth 层
// 或不再出现新的帧. 结果按 header id 去重，保留第一次出现.
func Associate(ctx context.Context, db *gorm.DB, headers []model.Header, caltype string, depth int, opts Options) ([]Result, error) {
	if depth <= 0 {
		depth = DefaultDepth
	}

	seen := make(map[uint]struct{})

	var out []Result

	level := headers

	for i := 0; i < depth && len(level) > 0; i++ {
		found, err := associateLevel(ctx, db, level, caltype, opts, i == 0)
		if err != nil {
			return nil, err
		}

		var next []model.Header

		for _, r := range found {
			if _, ok := seen[r.Header.ID]; ok {
				continue
			}

			seen[r.Header.ID] = struct{}{}
			out = append(out, r)
			next = append(next, r.Header)
		}

		if caltype != CaltypeAll {
			break
		}

		level = next
	}

	return out, nil
}

// associateLevel 单层关联，不去重.
func associateLevel(ctx context.Context, db *gorm.DB, headers []model.Header, caltype string, opts Options, primary bool) ([]Result, error) {
	var out []Result

	for i := range headers {
		h := &headers[i]
		start := time.Now()

		d, err := FromHeader(ctx, db, h)
		if err != nil {
			return nil, err
		}

		c := New(ctx, db, d, opts)

		for _, ct := range c.Applicable() {
			if caltype != CaltypeAll && caltype != ct {
				continue
			}

			cals, err := c.Get(ct, 0)
			if err != nil {
				return nil, fmt.Errorf("associate %s for header %d: %w", ct, h.ID, err)
			}

			for rank, cal := range cals {
				out = append(out, Result{Header: cal, ObsID: h.ID, Caltype: ct, Rank: rank, Primary: primary})
			}
		}

		metrics.CalAssociation.WithLabelValues(h.Instrument, "false").Observe(time.Since(start).Seconds())
	}

	return out, nil
}

// Edge 一条 calcache 边.
type Edge struct {
	CalHID  uint   `gorm:"column:cal_hid" json:"cal_hid"`
	Caltype string `gorm:"column:caltype" json:"caltype"`
	Rank    int    `gorm:"column:rank"    json:"rank"`
}

// CacheKey calcache 边在 KV 中的键.
func CacheKey(obsID uint) string {
	return "calcache:" + strconv.FormatUint(uint64(obsID), 10)
}

// Edges 读取 obsID 的 calcache 边，按 caltype 与 rank 排序. c 非 nil 时先查 KV.
func Edges(ctx context.Context, db *gorm.DB, c *cache.Cache, ttl time.Duration, obsID uint) ([]Edge, error) {
	load := func() ([]Edge, error) {
		var edges []Edge

		err := db.WithContext(ctx).Model(&model.CalCache{}).
			Select("cal_hid", "caltype", "rank").
			Where("obs_hid = ?", obsID).
			Order(clause.OrderBy{Columns: []clause.OrderByColumn{
				{Column: clause.Column{Name: "caltype"}},
				{Column: clause.Column{Name: "rank"}},
			}}).
			Find(&edges).Error
		if err != nil {
			return nil, fmt.Errorf("read calcache for %d: %w", obsID, err)
		}

		return edges, nil
	}

	if c == nil {
		return load()
	}

	return cache.GetOrSet(ctx, c, CacheKey(obsID), load, ttl)
}

// Invalidate 删除 obsID 的 KV 缓存. c 为 nil 时什么也不做.
func Invalidate(ctx context.Context, c *cache.Cache, obsID uint) error {
	if c == nil {
		return nil
	}

	return c.Delete(ctx, CacheKey(obsID))
}

// CachedOptions AssociateCached 的可选 KV 缓存.
type CachedOptions struct {
	Cache *cache.Cache
	TTL   time.Duration
}

// AssociateCached 与 Associate 语义相同，但读取预先计算的 calcache 表.
func AssociateCached(ctx context.Context, db *gorm.DB, obsIDs []uint, caltype string, depth int, co CachedOptions) ([]model.Header, error) {
	if depth <= 0 {
		depth = DefaultCachedDepth
	}

	start := time.Now()
	defer func() {
		metrics.CalAssociation.WithLabelValues("", "true").Observe(time.Since(start).Seconds())
	}()

	seen := make(map[uint]struct{})

	var ordered []uint

	level := obsIDs

	for i := 0; i < depth && len(level) > 0; i++ {
		var next []uint

		for _, obs := range level {
			edges, err := Edges(ctx, db, co.Cache, co.TTL, obs)
			if err != nil {
				return nil, err
			}

			for _, e := range edges {
				if caltype != CaltypeAll && e.Caltype != caltype {
					continue
				}

				if _, ok := seen[e.CalHID]; ok {
					continue
				}

				seen[e.CalHID] = struct{}{}
				ordered = append(ordered, e.CalHID)
				next = append(next, e.CalHID)
			}
		}

		if caltype != CaltypeAll {
			break
		}

		level = next
	}

	return loadHeaders(ctx, db, ordered)
}

// loadHeaders 按给定顺序读取 Header.
func loadHeaders(ctx context.Context, db *gorm.DB, ids []uint) ([]model.Header, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var rows []model.Header
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load headers: %w", err)
	}

	byID := make(map[uint]model.Header, len(rows))
	for _, h := range rows {
		byID[h.ID] = h
	}

	out := make([]model.Header, 0, len(ids))

	for _, id := range ids {
		if h, ok := byID[id]; ok {
			out = append(out, h)
		}
	}

	return out, nil
}
