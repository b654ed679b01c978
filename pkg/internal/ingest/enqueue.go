package ingest

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/internal/blob"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	"github.com/yeisme/fitsvault/pkg/internal/workqueue"
)

// Enqueuer 将文件加入 ingest 队列. 文件比 delay 更新时推迟到 lastmod+delay，
// 给仍在写入的 DHS 留出时间.
type Enqueuer struct {
	queue *workqueue.IngestQueue
	store blob.Store
	delay time.Duration
	now   func() time.Time
}

// NewEnqueuer 创建 Enqueuer.
func NewEnqueuer(db *gorm.DB, store blob.Store, delay time.Duration, opts ...workqueue.Option) *Enqueuer {
	return &Enqueuer{
		queue: workqueue.New[model.IngestQueueEntry](db, opts...),
		store: store,
		delay: delay,
		now:   time.Now,
	}
}

// Request 一次入队请求.
type Request struct {
	Filename string
	Path     string
	Force    bool
	ForceMD5 bool
	// NoDefer 调用方确认文件已写完
	NoDefer bool
	// HeaderUpdate 非空时为头修改请求的 JSON
	HeaderUpdate string
	MD5Before    string
	MD5After     string
}

// Add 入队. 已有相同的待处理条目时返回 false.
func (q *Enqueuer) Add(ctx context.Context, r Request) (bool, error) {
	now := q.now()

	var wait time.Duration

	if q.delay > 0 && !r.NoDefer {
		info, err := q.store.Stat(ctx, r.Path, r.Filename)
		switch {
		case err == nil:
			if ready := info.LastMod.Add(q.delay); ready.After(now) {
				wait = ready.Sub(now)
			}
		case !errors.Is(err, blob.ErrNotExist):
			return false, err
		}
	}

	e := workqueue.NewIngestEntry(r.Filename, r.Path, r.Force, r.ForceMD5, now, wait)
	e.HeaderUpdate = r.HeaderUpdate
	e.MD5Before = r.MD5Before
	e.MD5After = r.MD5After

	return q.queue.Enqueue(ctx, e)
}

// Queue 底层队列.
func (q *Enqueuer) Queue() *workqueue.IngestQueue {
	return q.queue
}
