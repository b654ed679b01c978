// Package worker 运行队列消费循环.
//
// 每个循环单线程: 出队一个条目、处理、按结果完成/失败/推迟，然后取下一个.
// 队列为空时等待唤醒通知或轮询间隔. ctx 取消后不再出队，正在处理的条目会处理完.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yeisme/fitsvault/pkg/configs"
	ctxPkg "github.com/yeisme/fitsvault/pkg/context"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	"github.com/yeisme/fitsvault/pkg/internal/workqueue"
	nlog "github.com/yeisme/fitsvault/pkg/log"
	"github.com/yeisme/fitsvault/pkg/tracing"
)

// Consumer 一个队列的消费者.
type Consumer interface {
	Name() model.QueueName
	// Step 出队并处理一个条目. 队列为空时返回 false.
	Step(ctx context.Context) (bool, error)
}

// ProcessFunc 处理一个已出队的条目. keep 为 true 时条目不删除，留给调用方取走响应.
type ProcessFunc[PT any] func(ctx context.Context, e PT) (keep bool, err error)

type consumer[T any, PT interface {
	*T
	model.QueueEntry
}] struct {
	queue   *workqueue.Queue[T, PT]
	process ProcessFunc[PT]
}

// NewConsumer 用队列与处理函数组成消费者.
func NewConsumer[T any, PT interface {
	*T
	model.QueueEntry
}](q *workqueue.Queue[T, PT], process ProcessFunc[PT]) Consumer {
	return &consumer[T, PT]{queue: q, process: process}
}

func (c *consumer[T, PT]) Name() model.QueueName {
	return c.queue.Name()
}

func (c *consumer[T, PT]) Step(ctx context.Context) (bool, error) {
	e, err := c.queue.Pop(ctx)
	if err != nil || e == nil {
		return false, err
	}

	id := e.GetID()

	// 条目已标记处理中，取消信号只阻止下一次出队
	work, span := tracing.StartEntrySpan(context.WithoutCancel(ctx), string(c.queue.Name()), id, e.Target())

	keep, err := c.run(work, e)
	tracing.End(span, err)

	switch {
	case err == nil && keep:
		return true, nil
	case err == nil:
		return true, c.queue.Complete(work, id)
	}

	if until, ok := workqueue.DeferredUntil(err); ok {
		return true, c.queue.Defer(work, id, until)
	}

	l := ctxPkg.Logger(work, "worker")
	l.Error().Err(err).
		Str("queue", string(c.queue.Name())).
		Str("target", e.Target()).
		Uint("id", id).
		Bool("transient", workqueue.IsTransient(err)).
		Msg("queue entry failed")

	return true, c.queue.Fail(work, id, err)
}

// run 调用处理函数，panic 转为带调用栈的失败.
func (c *consumer[T, PT]) run(ctx context.Context, e PT) (keep bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			keep = false
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	return c.process(ctx, e)
}

// Supervisor 在一个队列上运行 N 个消费循环.
type Supervisor struct {
	consumer Consumer
	workers  int
	poll     time.Duration
	wake     <-chan struct{}
}

// Option Supervisor 选项.
type Option func(*Supervisor)

// WithWorkers 并行循环数.
func WithWorkers(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithPollInterval 没有唤醒通知时的轮询间隔.
func WithPollInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.poll = d
		}
	}
}

// WithWakeups 唤醒通知通道，通常来自 workqueue.Wakeups.
func WithWakeups(ch <-chan struct{}) Option {
	return func(s *Supervisor) { s.wake = ch }
}

// NewSupervisor 创建 Supervisor.
func NewSupervisor(c Consumer, opts ...Option) *Supervisor {
	s := &Supervisor{consumer: c, workers: configs.DefaultWorkers, poll: configs.DefaultPollInterval}
	for _, o := range opts {
		o(s)
	}

	return s
}

// Run 阻塞直到 ctx 结束且所有循环退出.
func (s *Supervisor) Run(ctx context.Context) error {
	l := nlog.Component("worker").With().Str("queue", string(s.consumer.Name())).Logger()
	l.Info().Int("workers", s.workers).Dur("poll", s.poll).Msg("worker started")

	g, gctx := errgroup.WithContext(ctx)

	for i := range s.workers {
		g.Go(func() error { return s.loop(gctx, i) })
	}

	err := g.Wait()

	l.Info().Err(err).Msg("worker stopped")

	return err
}

func (s *Supervisor) loop(ctx context.Context, n int) error {
	l := nlog.Component("worker").With().Str("queue", string(s.consumer.Name())).Int("loop", n).Logger()

	t := time.NewTicker(s.poll)
	defer t.Stop()

	wake := s.wake

	for {
		if ctx.Err() != nil {
			return nil
		}

		did, err := s.consumer.Step(ctx)
		if err != nil && ctx.Err() == nil {
			l.Error().Err(err).Msg("queue step failed")
		}

		if did && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		case _, ok := <-wake:
			if !ok {
				// 订阅结束，退回纯轮询
				wake = nil
			}
		}
	}
}
