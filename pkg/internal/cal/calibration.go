package cal

import (
	"context"
	"slices"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/model"
)

// CaltypeAll 请求全部适用的定标类型.
const CaltypeAll = "all"

// Calibration 一个科学帧的定标管理器.
type Calibration interface {
	// Applicable 该帧需要的定标类型. 不在列表中的类型仍可直接请求.
	Applicable() []string
	// Get 按定标类型查询，howmany 为 0 时使用该类型的默认数量.
	// processed_<x> 形式的类型等价于 x 的处理结果.
	Get(caltype string, howmany int) ([]model.Header, error)
}

// Options 定标引擎的可配置参数.
type Options struct {
	// Procmode 非空时只接受对应处理模式的定标
	Procmode string
	// GmosDarkCutoff 此日期之后的 GMOS nod-and-shuffle 帧不再需要 dark
	GmosDarkCutoff time.Time
}

// OptionsFrom 从全局配置提取.
func OptionsFrom(c *configs.CalConfig) Options {
	return Options{GmosDarkCutoff: c.GmosDarkCutoffTime()}
}

// method 一个定标类型的查询实现.
type method func(processed bool, howmany int) ([]model.Header, error)

// base 各仪器共享的状态.
type base struct {
	ctx        context.Context
	db         *gorm.DB
	d          *Descriptors
	instTable  string
	opts       Options
	applicable []string
	methods    map[string]method
}

func (b *base) query() *CalQuery {
	return newQuery(b.ctx, b.db, b.d, b.instTable, b.opts.Procmode)
}

func (b *base) need(caltypes ...string) {
	for _, ct := range caltypes {
		if !slices.Contains(b.applicable, ct) {
			b.applicable = append(b.applicable, ct)
		}
	}
}

func (b *base) hasTag(tag string) bool {
	return b.d.HasTag(tag)
}

// Applicable 该帧需要的定标类型.
func (b *base) Applicable() []string {
	return b.applicable
}

// Get 按定标类型查询.
func (b *base) Get(caltype string, howmany int) ([]model.Header, error) {
	name, processed := strings.CutPrefix(caltype, "processed_")

	m, ok := b.methods[name]
	if !ok {
		return nil, nil
	}

	return m(processed, howmany)
}

// defaultCount howmany 为 0 时按是否处理结果选择默认数量.
func defaultCount(howmany int, processed bool, raw int) int {
	switch {
	case howmany > 0:
		return howmany
	case processed:
		return 1
	default:
		return raw
	}
}

// notProcessed 不支持处理结果的类型直接返回空.
func notProcessed(m method) method {
	return func(processed bool, howmany int) ([]model.Header, error) {
		if processed {
			return nil, nil
		}

		return m(processed, howmany)
	}
}

// notImaging 只适用于光谱帧.
func (b *base) notImaging(m method) method {
	return func(processed bool, howmany int) ([]model.Header, error) {
		if !b.d.Spectroscopy {
			return nil, nil
		}

		return m(processed, howmany)
	}
}

// notSpectroscopy 只适用于成像帧.
func (b *base) notSpectroscopy(m method) method {
	return func(processed bool, howmany int) ([]model.Header, error) {
		if b.d.Spectroscopy {
			return nil, nil
		}

		return m(processed, howmany)
	}
}

// New 按仪器选择定标管理器.
func New(ctx context.Context, db *gorm.DB, d *Descriptors, opts Options) Calibration {
	b := &base{ctx: ctx, db: db, d: d, opts: opts, methods: make(map[string]method)}

	switch d.Instrument {
	case "GMOS-N", "GMOS-S":
		return newGMOS(b)
	case "NIRI":
		return newNIRI(b)
	case "F2":
		return newF2(b)
	case "GNIRS":
		return newGNIRS(b)
	}

	return newGeneric(b)
}
