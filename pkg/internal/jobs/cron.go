// Package jobs 注册后台定时任务: 队列清扫与队列指标.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/workqueue"
	"github.com/yeisme/fitsvault/pkg/log"
	"github.com/yeisme/fitsvault/pkg/metrics"
	"github.com/yeisme/fitsvault/pkg/scheduler"
)

// Deps 定时任务使用的资源.
type Deps struct {
	DB    *gorm.DB
	Queue configs.QueueConfig
	// Notifier 非空时，有到期待处理条目的队列会收到唤醒通知
	Notifier workqueue.Notifier
	Now      func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}

	return time.Now()
}

// RegisterCronJobs 配置队列定时任务:
//   - 每分钟重置卡住的处理中条目，并重排冷却期已过的瞬时失败
//   - 每 30 秒刷新队列长度指标，并唤醒有到期条目 (例如延迟 ingest) 的队列
func RegisterCronJobs(sched *scheduler.Scheduler, d Deps) error {
	if sched == nil {
		return errors.New("scheduler is nil")
	}

	if d.DB == nil {
		return errors.New("db is nil")
	}

	ctx := context.Background()

	if err := sched.AddCron(JobQueueSweep, CronQueueSweep, func(ctx context.Context) error {
		_, err := Sweep(ctx, d)
		return err
	}, ctx); err != nil {
		return err
	}

	return sched.AddInterval(JobQueueGauges, QueueGaugesInterval, func(ctx context.Context) error {
		_, err := RefreshGauges(ctx, d)
		return err
	}, ctx)
}

// Sweep 对全部队列执行一次清扫.
func Sweep(ctx context.Context, d Deps) ([]workqueue.SweepResult, error) {
	l := log.Logger().With().Str("job", JobQueueSweep).Logger()

	res, err := workqueue.Sweep(ctx, d.DB, d.now(), workqueue.SweepConfig{
		StuckAfter:    d.Queue.StuckAfter,
		RetryCooldown: d.Queue.RetryCooldown,
		MaxAttempts:   d.Queue.MaxAttempts,
	})
	if err != nil {
		return res, fmt.Errorf("sweep queues: %w", err)
	}

	for _, r := range res {
		if r.Reset > 0 || r.Rearmd > 0 {
			l.Info().Str("queue", string(r.Queue)).Int("reset", r.Reset).Int("rearmed", r.Rearmd).Msg("queue swept")
		}
	}

	return res, nil
}

// RefreshGauges 刷新 fitsvault_queue_length 并唤醒有待处理条目的队列.
func RefreshGauges(ctx context.Context, d Deps) ([]workqueue.Status, error) {
	all, err := workqueue.StatusAll(ctx, d.DB, d.now())
	if err != nil {
		return nil, fmt.Errorf("queue status: %w", err)
	}

	for _, st := range all {
		q := string(st.Queue)

		metrics.QueueLength.WithLabelValues(q, "pending").Set(float64(st.Pending))
		metrics.QueueLength.WithLabelValues(q, "deferred").Set(float64(st.Deferred))
		metrics.QueueLength.WithLabelValues(q, "inprogress").Set(float64(st.InProgress))
		metrics.QueueLength.WithLabelValues(q, "failed").Set(float64(st.Failed))

		if d.Notifier != nil && st.Pending > 0 {
			d.Notifier.Notify(ctx, st.Queue, "")
		}
	}

	return all, nil
}
