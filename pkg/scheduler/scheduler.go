// Package scheduler 在 serve 进程里运行归档的定时任务 (队列清扫、队列指标).
//
// 任务按名称登记，同名只能有一个，上一次未结束时本次顺延. 多个 serve 节点共用 Redis 或
// NATS 缓存时可配置分布式锁，同一时刻只有一个节点执行某个任务.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yeisme/fitsvault/pkg/log"
	"github.com/yeisme/fitsvault/pkg/metrics"
)

// refreshInterval 刷新 NextRun 的间隔.
const refreshInterval = 10 * time.Second

// JobStatus 任务状态.
type JobStatus string

const (
	StatusScheduled JobStatus = "scheduled"
	StatusRunning   JobStatus = "running"
	StatusStopped   JobStatus = "stopped"
	StatusError     JobStatus = "error" // 上一次执行失败
)

// JobFunc 任务函数. 返回的错误记入任务状态.
type JobFunc func(ctx context.Context) error

// JobInfo 任务的运行记录，供 /api/v1/scheduler 展示.
type JobInfo struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Schedule     string        `json:"schedule"`
	NextRun      time.Time     `json:"next_run"`
	LastRun      time.Time     `json:"last_run"`
	LastSuccess  time.Time     `json:"last_success,omitempty"`
	LastDuration time.Duration `json:"last_duration"`
	Runs         int64         `json:"runs"`
	// Skipped 因其他节点持有锁而跳过的次数
	Skipped   int64     `json:"skipped"`
	Status    JobStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Scheduler 包装 gocron 调度器并记录每个任务的运行情况.
type Scheduler struct {
	cron   gocron.Scheduler
	logger zerolog.Logger

	mu    sync.RWMutex
	jobs  map[string]gocron.Job
	infos map[string]*JobInfo
	names map[uuid.UUID]string

	stop     context.CancelFunc
	stopOnce sync.Once
}

type options struct {
	location *time.Location
	locker   gocron.Locker
}

// Option 调度器选项.
type Option func(*options)

// WithLocation cron 表达式按哪个时区解释，默认 UTC.
func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.location = loc }
}

// WithLocker 多节点互斥. 拿不到锁的节点跳过本次执行.
func WithLocker(l gocron.Locker) Option {
	return func(o *options) { o.locker = l }
}

// NewScheduler 创建调度器，Start 之前任务不会执行.
func NewScheduler(opts ...Option) (*Scheduler, error) {
	o := options{location: time.UTC}
	for _, fn := range opts {
		fn(&o)
	}

	s := &Scheduler{
		logger: log.Component("scheduler"),
		jobs:   map[string]gocron.Job{},
		infos:  map[string]*JobInfo{},
		names:  map[uuid.UUID]string{},
	}

	cronOpts := []gocron.SchedulerOption{
		gocron.WithLocation(o.location),
		gocron.WithGlobalJobOptions(gocron.WithEventListeners(gocron.AfterLockError(s.lockSkipped))),
	}
	if o.locker != nil {
		cronOpts = append(cronOpts, gocron.WithDistributedLocker(o.locker))
	}

	cron, err := gocron.NewScheduler(cronOpts...)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	s.cron = cron

	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel

	go s.refreshLoop(ctx)

	return s, nil
}

// AddCron 按 cron 表达式登记任务. 六段表达式的第一段为秒.
func (s *Scheduler) AddCron(name string, cronExpr string, job JobFunc, ctx context.Context) error {
	withSeconds := len(strings.Fields(cronExpr)) == 6

	return s.add(name, cronExpr, gocron.CronJob(cronExpr, withSeconds), job, ctx)
}

// AddInterval 按固定间隔登记任务.
func (s *Scheduler) AddInterval(name string, every time.Duration, job JobFunc, ctx context.Context) error {
	if every <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}

	return s.add(name, "@every "+every.String(), gocron.DurationJob(every), job, ctx)
}

func (s *Scheduler) add(name, schedule string, def gocron.JobDefinition, job JobFunc, ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	j, err := s.cron.NewJob(
		def,
		gocron.NewTask(func(ctx context.Context) { s.run(ctx, name, job) }, ctx),
		gocron.WithName(name),
		gocron.WithTags("fitsvault"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("add job %s: %w", name, err)
	}

	now := time.Now()
	next, _ := j.NextRun()

	s.jobs[name] = j
	s.names[j.ID()] = name
	s.infos[name] = &JobInfo{
		ID:        j.ID().String(),
		Name:      name,
		Schedule:  schedule,
		NextRun:   next,
		Status:    StatusScheduled,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.logger.Info().Str("job", name).Str("schedule", schedule).Msg("job registered")

	return nil
}

// run 执行一次任务，panic 按失败记录.
func (s *Scheduler) run(ctx context.Context, name string, job JobFunc) {
	s.setStatus(name, StatusRunning)

	start := time.Now()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in job: %v", r)
			}
		}()

		return job(ctx)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.infos[name]
	if !ok {
		// 执行期间被移除
		return
	}

	info.LastRun = start
	info.LastDuration = time.Since(start)
	info.Runs++
	info.UpdatedAt = time.Now()

	if err != nil {
		info.Status = StatusError
		info.Error = err.Error()

		metrics.JobRuns.WithLabelValues(name, "error").Inc()
		s.logger.Error().Err(err).Str("job", name).Dur("took", info.LastDuration).Msg("job failed")

		return
	}

	info.Status = StatusScheduled
	info.Error = ""
	info.LastSuccess = info.UpdatedAt

	metrics.JobRuns.WithLabelValues(name, "ok").Inc()
}

// lockSkipped 其他节点正在执行同一任务.
func (s *Scheduler) lockSkipped(_ uuid.UUID, name string, err error) {
	s.mu.Lock()
	if info, ok := s.infos[name]; ok {
		info.Skipped++
	}
	s.mu.Unlock()

	metrics.JobRuns.WithLabelValues(name, "skipped").Inc()

	if !errors.Is(err, ErrLocked) {
		s.logger.Warn().Err(err).Str("job", name).Msg("job lock failed")
	}
}

// RemoveJobByName 按名称移除任务.
func (s *Scheduler) RemoveJobByName(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[name]
	if !exists {
		return fmt.Errorf("job %s does not exist", name)
	}

	return s.remove(name, job.ID())
}

// RemoveJob 按 ID 移除任务.
func (s *Scheduler) RemoveJob(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, exists := s.names[id]
	if !exists {
		return fmt.Errorf("job %s does not exist", id)
	}

	return s.remove(name, id)
}

// remove 调用方持有 mu.
func (s *Scheduler) remove(name string, id uuid.UUID) error {
	if err := s.cron.RemoveJob(id); err != nil {
		return err
	}

	delete(s.jobs, name)
	delete(s.infos, name)
	delete(s.names, id)

	s.logger.Info().Str("job", name).Msg("job removed")

	return nil
}

// GetJobInfoByName 任务信息的副本.
func (s *Scheduler) GetJobInfoByName(name string) (JobInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, exists := s.infos[name]
	if !exists {
		return JobInfo{}, fmt.Errorf("job %s does not exist", name)
	}

	return *info, nil
}

// RunNow 立即执行一次，不影响原有调度.
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	job, exists := s.jobs[name]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("job %s does not exist", name)
	}

	return job.RunNow()
}

// Start 开始调度.
func (s *Scheduler) Start() {
	s.logger.Info().Int("jobs", len(s.GetJobInfos())).Msg("scheduler started")
	s.cron.Start()
}

// Shutdown 停止调度并等待运行中的任务结束. 可重复调用.
func (s *Scheduler) Shutdown() error {
	var err error

	s.stopOnce.Do(func() {
		s.stop()
		err = s.cron.Shutdown()
		s.logger.Info().Err(err).Msg("scheduler stopped")
	})

	return err
}

// StopJobs 暂停所有任务，登记保留，Start 可恢复.
func (s *Scheduler) StopJobs() error {
	if err := s.cron.StopJobs(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, info := range s.infos {
		info.Status = StatusStopped
		info.UpdatedAt = now
	}

	return nil
}

// JobsWaitingInQueue 因并发限制等待执行的任务数.
func (s *Scheduler) JobsWaitingInQueue() int {
	return s.cron.JobsWaitingInQueue()
}

// GetJobInfos 全部任务，按名称排序.
func (s *Scheduler) GetJobInfos() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]JobInfo, 0, len(s.infos))
	for _, info := range s.infos {
		jobs = append(jobs, *info)
	}

	slices.SortFunc(jobs, func(a, b JobInfo) int { return strings.Compare(a.Name, b.Name) })

	return jobs
}

func (s *Scheduler) refreshLoop(ctx context.Context) {
	t := time.NewTicker(refreshInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.refreshNextRuns()
		}
	}
}

func (s *Scheduler) refreshNextRuns() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, job := range s.jobs {
		if next, err := job.NextRun(); err == nil {
			s.infos[name].NextRun = next
		}
	}
}

func (s *Scheduler) setStatus(name string, status JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if info, ok := s.infos[name]; ok {
		info.Status = status
		info.UpdatedAt = time.Now()
	}
}
