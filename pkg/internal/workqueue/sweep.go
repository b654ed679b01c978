package workqueue

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yeisme/fitsvault/pkg/internal/model"
)

// Status 一个队列的状态计数.
type Status struct {
	Queue      model.QueueName `json:"queue"`
	Pending    int64           `json:"pending"`
	Deferred   int64           `json:"deferred"`
	InProgress int64           `json:"inprogress"`
	Failed     int64           `json:"failed"`
}

// Total 条目总数.
func (s Status) Total() int64 {
	return s.Pending + s.Deferred + s.InProgress + s.Failed
}

// StatusOf 统计指定队列.
func StatusOf(ctx context.Context, db *gorm.DB, name model.QueueName, now time.Time) (Status, error) {
	sp, ok := specs[name]
	if !ok {
		return Status{}, fmt.Errorf("unknown queue %q", name)
	}

	st := Status{Queue: name}
	after := clause.Column{Name: "after"}

	counts := []struct {
		dst   *int64
		query func(*gorm.DB) *gorm.DB
	}{
		{&st.Pending, func(d *gorm.DB) *gorm.DB {
			return d.Where("inprogress = ? AND failed = ?", false, false).Where(clause.Lte{Column: after, Value: now})
		}},
		{&st.Deferred, func(d *gorm.DB) *gorm.DB {
			return d.Where("inprogress = ? AND failed = ?", false, false).Where(clause.Gt{Column: after, Value: now})
		}},
		{&st.InProgress, func(d *gorm.DB) *gorm.DB { return d.Where("inprogress = ?", true) }},
		{&st.Failed, func(d *gorm.DB) *gorm.DB { return d.Where("failed = ?", true) }},
	}

	for _, c := range counts {
		if err := c.query(db.WithContext(ctx).Table(sp.table)).Count(c.dst).Error; err != nil {
			return st, fmt.Errorf("count %s: %w", name, err)
		}
	}

	return st, nil
}

// StatusAll 统计全部队列.
func StatusAll(ctx context.Context, db *gorm.DB, now time.Time) ([]Status, error) {
	out := make([]Status, 0, len(model.AllQueues))

	for _, name := range model.AllQueues {
		st, err := StatusOf(ctx, db, name, now)
		if err != nil {
			return out, err
		}

		out = append(out, st)
	}

	return out, nil
}

// ResetStuck 将 started_at 早于 before 的处理中条目放回待处理，用于 worker 崩溃后的恢复.
// 已有相同待处理条目的行直接删除.
func ResetStuck(ctx context.Context, db *gorm.DB, name model.QueueName, before time.Time) (int, error) {
	sp, ok := specs[name]
	if !ok {
		return 0, fmt.Errorf("unknown queue %q", name)
	}

	var ids []uint

	stmt := db.WithContext(ctx).Table(sp.table).
		Where("inprogress = ? AND started_at < ?", true, before.UTC())

	if sp.answered != "" {
		stmt = stmt.Where("NOT (" + sp.answered + ")")
	}

	if err := stmt.Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("select stuck %s: %w", name, err)
	}

	return resetRows(ctx, db, sp.table, ids, map[string]any{"inprogress": false})
}

// RearmFailures 将冷却期已过、次数未超限的瞬时失败重新置为待处理.
func RearmFailures(ctx context.Context, db *gorm.DB, name model.QueueName, now time.Time,
	cooldown time.Duration, maxAttempts int) (int, error) {
	sp, ok := specs[name]
	if !ok {
		return 0, fmt.Errorf("unknown queue %q", name)
	}

	var ids []uint

	err := db.WithContext(ctx).Table(sp.table).
		Where("failed = ? AND transient = ? AND attempts < ? AND last_failed < ?",
			true, true, maxAttempts, now.Add(-cooldown).UTC()).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("select failures %s: %w", name, err)
	}

	return resetRows(ctx, db, sp.table, ids, map[string]any{
		"failed":      false,
		"inprogress":  false,
		"last_failed": Epoch,
	})
}

func resetRows(ctx context.Context, db *gorm.DB, table string, ids []uint, set map[string]any) (int, error) {
	n := 0

	for _, id := range ids {
		err := db.WithContext(ctx).Table(table).Where("id = ?", id).Updates(set).Error
		if isDuplicate(err) {
			err = db.WithContext(ctx).Exec("DELETE FROM "+table+" WHERE id = ?", id).Error
		}

		if err != nil {
			return n, fmt.Errorf("reset %s/%d: %w", table, id, err)
		}

		n++
	}

	return n, nil
}

// SweepConfig 清扫参数.
type SweepConfig struct {
	StuckAfter    time.Duration
	RetryCooldown time.Duration
	MaxAttempts   int
}

// SweepResult 一次清扫的结果.
type SweepResult struct {
	Queue  model.QueueName `json:"queue"`
	Reset  int             `json:"reset"`
	Rearmd int             `json:"rearmed"`
}

// Sweep 对全部队列执行 ResetStuck 与 RearmFailures.
func Sweep(ctx context.Context, db *gorm.DB, now time.Time, cfg SweepConfig) ([]SweepResult, error) {
	out := make([]SweepResult, 0, len(model.AllQueues))

	for _, name := range model.AllQueues {
		r := SweepResult{Queue: name}

		var err error

		if cfg.StuckAfter > 0 {
			if r.Reset, err = ResetStuck(ctx, db, name, now.Add(-cfg.StuckAfter)); err != nil {
				return out, err
			}
		}

		if r.Rearmd, err = RearmFailures(ctx, db, name, now, cfg.RetryCooldown, cfg.MaxAttempts); err != nil {
			return out, err
		}

		out = append(out, r)
	}

	return out, nil
}
