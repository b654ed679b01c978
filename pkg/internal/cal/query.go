package cal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yeisme/fitsvault/pkg/internal/model"
)

// ErrUnknownDescriptor 查询引用了描述符中没有的列.
var ErrUnknownDescriptor = errors.New("no descriptor for column")

// ProcmodeScienceQuality 只接受 Science-Quality 处理结果的 procmode.
const ProcmodeScienceQuality = "Science-Quality"

// CalQuery 链式构造一条候选定标查询. 任一步发现无法满足的条件后 All 直接返回空.
type CalQuery struct {
	tx    *gorm.DB
	d     *Descriptors
	order []clause.Expr
	// override 非空时替换默认排序
	override []clause.Expr
	empty    bool
	err      error
}

// newQuery 基础过滤: canonical、QA 非 Fail、处理标签为 Raw 或已发布、
// 科学帧非工程数据时排除工程数据. instTable 非空时连接仪器子表.
func newQuery(ctx context.Context, db *gorm.DB, d *Descriptors, instTable, procmode string) *CalQuery {
	tx := db.WithContext(ctx).Model(&model.Header{}).
		Select("header.*").
		Joins("JOIN diskfile ON diskfile.id = header.diskfile_id").
		Joins("LEFT JOIN processingtag ON processingtag.tag = header.processing_tag")

	if instTable != "" {
		tx = tx.Joins(fmt.Sprintf("JOIN %s ON %s.header_id = header.id", instTable, instTable))
	}

	tx = tx.Where("diskfile.canonical = ?", true).
		Where("header.qa_state <> ?", "Fail").
		Where("(header.processing IN ? OR processingtag.published = ?)", []string{"Raw", ""}, true)

	if procmode == ProcmodeScienceQuality || procmode == "sq" {
		tx = tx.Where("header.processing = ?", ProcmodeScienceQuality)
	}

	if d.Engineering != nil && !*d.Engineering {
		tx = tx.Where("header.engineering = ?", false)
	}

	return &CalQuery{
		tx:    tx,
		d:     d,
		order: []clause.Expr{{SQL: "COALESCE(processingtag.priority, 0) DESC"}},
	}
}

// Where 追加任意过滤条件.
func (q *CalQuery) Where(query string, args ...any) *CalQuery {
	q.tx = q.tx.Where(query, args...)
	return q
}

// MatchDescriptors 每列必须等于科学帧的同名描述符. 描述符为 nil 时要求列为 NULL.
// 未知列使 All 返回 ErrUnknownDescriptor.
func (q *CalQuery) MatchDescriptors(cols ...string) *CalQuery {
	for _, col := range cols {
		field := col
		if i := strings.LastIndexByte(col, '.'); i >= 0 {
			field = col[i+1:]
		}

		v, ok := q.d.Value(field)
		if !ok {
			if q.err == nil {
				q.err = fmt.Errorf("%w %s", ErrUnknownDescriptor, col)
			}

			q.empty = true

			continue
		}

		if v == nil {
			q.tx = q.tx.Where(col + " IS NULL")
			continue
		}

		q.tx = q.tx.Where(col+" = ?", v)
	}

	return q
}

// Tolerance 要求 |col - target| < delta. cond 为假或目标描述符为 nil 时跳过.
func (q *CalQuery) Tolerance(cond bool, col string, delta float64) *CalQuery {
	if !cond {
		return q
	}

	field := strings.TrimPrefix(col, "header.")

	target := q.d.Float(field)
	if target == nil {
		return q
	}

	q.tx = q.tx.Where(col+" > ? AND "+col+" < ?", *target-delta, *target+delta)

	return q
}

// MaxInterval 时间窗口. 科学帧没有 ut_datetime 时结果为空.
func (q *CalQuery) MaxInterval(days float64) *CalQuery {
	secs, ok := q.targetSecs()
	if !ok {
		q.empty = true
		return q
	}

	window := int64(days * 86400)
	q.tx = q.tx.Where("header.ut_datetime_secs > ? AND header.ut_datetime_secs < ?", secs-window, secs+window)

	return q
}

// NotAfter 定标帧不晚于科学帧，用于 BPM.
func (q *CalQuery) NotAfter() *CalQuery {
	secs, ok := q.targetSecs()
	if !ok {
		q.empty = true
		return q
	}

	q.tx = q.tx.Where("header.ut_datetime_secs <= ?", secs)

	return q
}

// If cond 为真时应用 fn.
func (q *CalQuery) If(cond bool, fn func(*CalQuery) *CalQuery) *CalQuery {
	if cond {
		return fn(q)
	}

	return q
}

// Raw 只要原始帧.
func (q *CalQuery) Raw() *CalQuery {
	return q.Reduction("RAW")
}

// Reduction 约束 header.reduction.
func (q *CalQuery) Reduction(r string) *CalQuery {
	return q.Where("header.reduction = ?", r)
}

// ObservationType 约束 header.observation_type.
func (q *CalQuery) ObservationType(t string) *CalQuery {
	return q.Where("header.observation_type = ?", t)
}

// ObservationClass 约束 header.observation_class.
func (q *CalQuery) ObservationClass(c string) *CalQuery {
	return q.Where("header.observation_class = ?", c)
}

// Object 约束 header.object.
func (q *CalQuery) Object(o string) *CalQuery {
	return q.Where("header.object = ?", o)
}

// Spectroscopy 约束 header.spectroscopy.
func (q *CalQuery) Spectroscopy(b bool) *CalQuery {
	return q.Where("header.spectroscopy = ?", b)
}

// HasType 标签集合包含 tag.
func (q *CalQuery) HasType(tag string) *CalQuery {
	return q.Where("header.types LIKE ?", "%"+tag+"%")
}

// RawOrProcessed processed 时为 PROCESSED_<name>，否则为 observation_type=<name> 的原始帧.
func (q *CalQuery) RawOrProcessed(name string, processed bool) *CalQuery {
	if processed {
		return q.Reduction("PROCESSED_" + name)
	}

	return q.Raw().ObservationType(name)
}

// RawOrProcessedByTypes 与 RawOrProcessed 相同，但原始帧按标签识别.
func (q *CalQuery) RawOrProcessedByTypes(name string, processed bool) *CalQuery {
	if processed {
		return q.Reduction("PROCESSED_" + name)
	}

	return q.Raw().HasType(name)
}

func (q *CalQuery) Bias(processed bool) *CalQuery     { return q.RawOrProcessed("BIAS", processed) }
func (q *CalQuery) Dark(processed bool) *CalQuery     { return q.RawOrProcessed("DARK", processed) }
func (q *CalQuery) Flat(processed bool) *CalQuery     { return q.RawOrProcessed("FLAT", processed) }
func (q *CalQuery) Arc(processed bool) *CalQuery      { return q.RawOrProcessed("ARC", processed) }
func (q *CalQuery) Standard(processed bool) *CalQuery { return q.RawOrProcessed("STANDARD", processed) }
func (q *CalQuery) Pinhole(processed bool) *CalQuery  { return q.RawOrProcessed("PINHOLE", processed) }
func (q *CalQuery) Bpm(processed bool) *CalQuery      { return q.RawOrProcessed("BPM", processed) }

// Slitillum 原始狭缝照明帧没有专门的 OBSTYPE，按标签识别.
func (q *CalQuery) Slitillum(processed bool) *CalQuery {
	return q.RawOrProcessedByTypes("SLITILLUM", processed)
}

// PhotometricStandard 成像测光标准星: 原始帧为指定类型与类别的成像帧.
func (q *CalQuery) PhotometricStandard(processed bool, obsType, obsClass string) *CalQuery {
	if processed {
		return q.Reduction("PROCESSED_PHOTSTANDARD")
	}

	return q.Raw().Spectroscopy(false).ObservationType(obsType).ObservationClass(obsClass)
}

// TelluricStandard 光谱大气标准星.
func (q *CalQuery) TelluricStandard(processed bool, obsType, obsClass string) *CalQuery {
	if processed {
		return q.Reduction("PROCESSED_TELLURIC")
	}

	return q.Raw().Spectroscopy(true).ObservationType(obsType).ObservationClass(obsClass)
}

// OrderByClosest 用时间与波长的加权距离替换默认排序:
// |Δt|/timeRange + |Δλ|/wlenRange，timeRange 单位为天，wlenRange 单位为微米.
func (q *CalQuery) OrderByClosest(timeRangeDays, wlenRange float64) *CalQuery {
	secs, ok := q.targetSecs()
	if !ok || q.d.CentralWavelength == nil || wlenRange == 0 {
		return q
	}

	q.override = []clause.Expr{{
		SQL: "ABS((header.ut_datetime_secs - ?) * 1.0 / ?) + ABS((header.central_wavelength - ?) * 1.0 / ?) ASC",
		Vars: []any{
			secs, timeRangeDays * 86400,
			*q.d.CentralWavelength, wlenRange,
		},
	}}

	return q
}

// All 执行查询，返回至多 limit 行. 默认排序: 标签优先级降序、时间距离升序、
// 处理结果优先于原始帧，extra 在默认排序之后，最后按入库时间降序.
func (q *CalQuery) All(limit int, extra ...string) ([]model.Header, error) {
	if q.err != nil {
		return nil, q.err
	}

	if q.empty {
		return nil, nil
	}

	order := append([]clause.Expr{}, q.order...)

	if q.override != nil {
		order = append(order, q.override...)
	} else {
		if secs, ok := q.targetSecs(); ok {
			order = append(order, clause.Expr{SQL: "ABS(header.ut_datetime_secs - ?) ASC", Vars: []any{secs}})
		}

		order = append(order, clause.Expr{SQL: "header.processing DESC"})
	}

	for _, e := range extra {
		order = append(order, clause.Expr{SQL: e})
	}

	order = append(order, clause.Expr{SQL: "diskfile.entrytime DESC"}, clause.Expr{SQL: "header.id DESC"})

	var out []model.Header

	err := q.tx.Order(joinOrder(order)).Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("calibration query: %w", err)
	}

	return out, nil
}

func (q *CalQuery) targetSecs() (int64, bool) {
	if q.d.UTDatetime == nil {
		return 0, false
	}

	return model.SecsSinceEpoch(q.d.UTDatetime.UTC()), true
}

// joinOrder 合成单个 ORDER BY 表达式，gorm 合并带 Expression 的 OrderBy 时会丢列.
func joinOrder(terms []clause.Expr) clause.OrderBy {
	sqls := make([]string, len(terms))

	var vars []any

	for i, t := range terms {
		sqls[i] = t.SQL
		vars = append(vars, t.Vars...)
	}

	return clause.OrderBy{Expression: clause.Expr{SQL: strings.Join(sqls, ", "), Vars: vars, WithoutParentheses: true}}
}
