// Package workqueue 实现以数据库表为载体的工作队列: 入队、原子出队、完成、失败、推迟与清扫.
//
// 每个队列是一张表. 出队在一个事务中完成: PostgreSQL/MySQL 使用
// SELECT ... FOR UPDATE SKIP LOCKED，SQLite 使用进程内互斥加写事务，
// 因此 SQLite 只适合单个 worker 进程.
// 同一逻辑目标 (文件名或 obs_hid) 同时至多一个条目处于处理中.
package workqueue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yeisme/fitsvault/pkg/internal/model"
	dbc "github.com/yeisme/fitsvault/pkg/internal/storage/db"
	"github.com/yeisme/fitsvault/pkg/metrics"
)

// Epoch 未推迟条目的 after 值，也是未失败条目的 last_failed 值.
var Epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// maxClaimAttempts 单次出队最多跳过的被并发占用目标数.
const maxClaimAttempts = 8

// sqlitePop SQLite 不支持行锁，出队在进程内串行.
var sqlitePop sync.Mutex

// spec 队列表的列布局.
type spec struct {
	table string
	// target 逻辑目标列
	target string
	// optional 目标可为空串，空目标不互斥
	optional bool
	// answered 已处理完、等待调用方取走的行，保持处理中且不被清扫重置
	answered string
}

var specs = map[model.QueueName]spec{
	model.QueueIngest:   {table: "ingestqueue", target: "filename"},
	model.QueueExport:   {table: "exportqueue", target: "filename"},
	model.QueuePreview:  {table: "previewqueue", target: "filename"},
	model.QueueCalCache: {table: "calcachequeue", target: "obs_hid"},
	model.QueueFileops:  {table: "fileopsqueue", target: "filename", optional: true, answered: "response <> ''"},
}

// Option 队列选项.
type Option func(*options)

type options struct {
	now      func() time.Time
	notifier Notifier
}

// WithClock 替换时钟，测试使用.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithNotifier 入队成功后发送唤醒通知.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// Queue 一个队列表上的操作. PT 为条目指针类型.
type Queue[T any, PT interface {
	*T
	model.QueueEntry
}] struct {
	db   *gorm.DB
	name model.QueueName
	spec spec
	opts options
}

// New 创建队列句柄.
func New[T any, PT interface {
	*T
	model.QueueEntry
}](db *gorm.DB, opts ...Option) *Queue[T, PT] {
	var zero T

	table := PT(&zero).TableName()

	var (
		name model.QueueName
		sp   spec
	)

	for n, s := range specs {
		if s.table == table {
			name, sp = n, s
		}
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return &Queue[T, PT]{db: db, name: name, spec: sp, opts: o}
}

// Name 队列名.
func (q *Queue[T, PT]) Name() model.QueueName {
	return q.name
}

func (q *Queue[T, PT]) now() time.Time {
	return q.opts.now().UTC()
}

// Enqueue 插入待处理条目. 已有相同的待处理条目时不插入，返回 false.
func (q *Queue[T, PT]) Enqueue(ctx context.Context, e PT) (bool, error) {
	return q.enqueue(ctx, q.db, e)
}

// EnqueueTx 在调用方事务中入队. 通知在提交前发出，消费者以数据库为准.
func (q *Queue[T, PT]) EnqueueTx(ctx context.Context, tx *gorm.DB, e PT) (bool, error) {
	return q.enqueue(ctx, tx, e)
}

func (q *Queue[T, PT]) enqueue(ctx context.Context, db *gorm.DB, e PT) (bool, error) {
	st := e.State()
	st.ID = 0
	st.InProgress = false
	st.Failed = false
	st.Added = q.now()

	if st.After.IsZero() {
		st.After = Epoch
	}

	st.LastFailed = Epoch

	res := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(e)
	if res.Error != nil {
		if isDuplicate(res.Error) {
			return false, nil
		}

		return false, fmt.Errorf("enqueue %s: %w", q.name, res.Error)
	}

	if res.RowsAffected == 0 {
		return false, nil
	}

	metrics.QueueEvents.WithLabelValues(string(q.name), "enqueued").Inc()

	if q.opts.notifier != nil {
		q.opts.notifier.Notify(ctx, q.name, e.Target())
	}

	return true, nil
}

// Pop 取出一个可处理条目并标记为处理中. 队列为空时返回 nil, nil.
func (q *Queue[T, PT]) Pop(ctx context.Context) (PT, error) {
	sqlite := dbc.IsSQLite(q.db)
	if sqlite {
		sqlitePop.Lock()
		defer sqlitePop.Unlock()
	}

	var popped PT

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := q.now()

		var skip []uint

		for range maxClaimAttempts {
			var e T

			res := q.candidates(tx, now, skip, sqlite).Find(&e)
			if res.Error != nil {
				return res.Error
			}

			if res.RowsAffected == 0 {
				return nil
			}

			pe := PT(&e)

			ok, err := q.claim(tx, pe)
			if err != nil {
				return err
			}

			if !ok {
				skip = append(skip, pe.GetID())
				continue
			}

			st := pe.State()
			st.InProgress = true
			st.StartedAt = now

			err = tx.Model(PT(new(T))).Where("id = ?", st.ID).
				Updates(map[string]any{"inprogress": true, "started_at": now}).Error
			if err != nil {
				return err
			}

			popped = pe

			return nil
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pop %s: %w", q.name, err)
	}

	if popped != nil {
		metrics.QueueEvents.WithLabelValues(string(q.name), "popped").Inc()
	}

	return popped, nil
}

// candidates 待处理、已到期、目标未被占用的条目，按 after 升序、sortkey 降序、目标降序.
func (q *Queue[T, PT]) candidates(tx *gorm.DB, now time.Time, skip []uint, sqlite bool) *gorm.DB {
	t, col := q.spec.table, q.spec.target

	busy := fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %[1]s busy WHERE busy.inprogress = ? AND busy.%[2]s = %[1]s.%[2]s)", t, col)
	if q.spec.optional {
		busy = fmt.Sprintf("(%s.%s = '' OR %s)", t, col, busy)
	}

	stmt := tx.Model(PT(new(T))).
		Where("inprogress = ? AND failed = ?", false, false).
		Where(clause.Lte{Column: clause.Column{Name: "after"}, Value: now}).
		Where(busy, true)

	if len(skip) > 0 {
		stmt = stmt.Where("id NOT IN ?", skip)
	}

	stmt = stmt.Order(clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: "after"}},
		{Column: clause.Column{Name: "sortkey"}, Desc: true},
		{Column: clause.Column{Name: col}, Desc: true},
	}}).Limit(1)

	if !sqlite {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}

	return stmt
}

// claim 确认目标没有被并发事务占用. PostgreSQL 先取事务级咨询锁，再以新快照复查.
// MySQL 用 NOWAIT 锁住该目标的全部行: 另一出队事务持有同目标的任一行时立即放弃，
// 锁定读总是读到最新提交的 inprogress.
func (q *Queue[T, PT]) claim(tx *gorm.DB, e PT) (bool, error) {
	target := e.Target()
	if target == "" && q.spec.optional {
		return true, nil
	}

	if dbc.SupportsNoWait(tx) {
		return q.lockTarget(tx, target)
	}

	if dbc.SupportsAdvisoryLocks(tx) {
		var locked bool

		key := q.spec.table + ":" + target
		if err := tx.Raw("SELECT pg_try_advisory_xact_lock(hashtext(?))", key).Scan(&locked).Error; err != nil {
			return false, err
		}

		if !locked {
			return false, nil
		}
	}

	var busy int64

	err := tx.Model(PT(new(T))).
		Where("inprogress = ? AND "+q.spec.target+" = ?", true, target).
		Count(&busy).Error
	if err != nil {
		return false, err
	}

	return busy == 0, nil
}

func (q *Queue[T, PT]) lockTarget(tx *gorm.DB, target string) (bool, error) {
	var flags []bool

	err := tx.Model(PT(new(T))).
		Where(q.spec.target+" = ?", target).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "NOWAIT"}).
		Pluck("inprogress", &flags).Error
	if dbc.IsLockBusy(tx, err) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return !slices.Contains(flags, true), nil
}

// Complete 删除已完成条目.
func (q *Queue[T, PT]) Complete(ctx context.Context, id uint) error {
	if err := q.db.WithContext(ctx).Delete(PT(new(T)), id).Error; err != nil {
		return fmt.Errorf("complete %s/%d: %w", q.name, id, err)
	}

	metrics.QueueEvents.WithLabelValues(string(q.name), "completed").Inc()

	return nil
}

// Fail 标记失败并记录错误文本. 瞬时错误 (IsTransient) 可被清扫重排.
func (q *Queue[T, PT]) Fail(ctx context.Context, id uint, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}

	err := q.db.WithContext(ctx).Model(PT(new(T))).Where("id = ?", id).Updates(map[string]any{
		"failed":      true,
		"inprogress":  false,
		"error":       msg,
		"transient":   IsTransient(cause),
		"last_failed": q.now(),
		"attempts":    gorm.Expr("attempts + 1"),
	}).Error
	if err != nil {
		return fmt.Errorf("fail %s/%d: %w", q.name, id, err)
	}

	metrics.QueueEvents.WithLabelValues(string(q.name), "failed").Inc()

	return nil
}

// Defer 清除处理中标记并推迟到 until. 已存在相同的待处理条目时删除本条目.
func (q *Queue[T, PT]) Defer(ctx context.Context, id uint, until time.Time) error {
	err := q.db.WithContext(ctx).Model(PT(new(T))).Where("id = ?", id).Updates(map[string]any{
		"inprogress": false,
		"after":      until.UTC(),
	}).Error
	if isDuplicate(err) {
		err = q.db.WithContext(ctx).Delete(PT(new(T)), id).Error
	}

	if err != nil {
		return fmt.Errorf("defer %s/%d: %w", q.name, id, err)
	}

	metrics.QueueEvents.WithLabelValues(string(q.name), "deferred").Inc()

	return nil
}

// Get 按主键读取条目，不存在返回 gorm.ErrRecordNotFound.
func (q *Queue[T, PT]) Get(ctx context.Context, id uint) (PT, error) {
	var e T
	if err := q.db.WithContext(ctx).First(&e, id).Error; err != nil {
		return nil, err
	}

	return PT(&e), nil
}

// Delete 删除条目，供需要响应的 fileops 调用方读取后清理.
func (q *Queue[T, PT]) Delete(ctx context.Context, id uint) error {
	return q.db.WithContext(ctx).Delete(PT(new(T)), id).Error
}

// Filter List 的过滤条件.
type Filter struct {
	Failed     *bool
	InProgress *bool
	Limit      int
}

// List 按 added 倒序列出条目.
func (q *Queue[T, PT]) List(ctx context.Context, f Filter) ([]T, error) {
	stmt := q.db.WithContext(ctx).Model(PT(new(T))).Order("added desc")

	if f.Failed != nil {
		stmt = stmt.Where("failed = ?", *f.Failed)
	}

	if f.InProgress != nil {
		stmt = stmt.Where("inprogress = ?", *f.InProgress)
	}

	if f.Limit > 0 {
		stmt = stmt.Limit(f.Limit)
	}

	var out []T

	return out, stmt.Find(&out).Error
}

// Status 当前状态计数.
func (q *Queue[T, PT]) Status(ctx context.Context) (Status, error) {
	return StatusOf(ctx, q.db, q.name, q.now())
}

// isDuplicate 唯一约束冲突. 部分驱动不翻译错误，退回匹配错误文本.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())

	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}
