package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	"github.com/yeisme/fitsvault/pkg/internal/storage/db/dbtest"
	"github.com/yeisme/fitsvault/pkg/internal/worker"
	"github.com/yeisme/fitsvault/pkg/internal/workqueue"
)

var yes = true

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

func ingestQueue(t *testing.T, names ...string) (*workqueue.IngestQueue, *gorm.DB) {
	t.Helper()

	db := dbtest.New(t)
	q := workqueue.New[model.IngestQueueEntry](db)

	for _, n := range names {
		_, err := q.Enqueue(context.Background(), workqueue.NewIngestEntry(n, "", false, false, time.Now(), 0))
		require.NoError(t, err)
	}

	return q, db
}

func status(t *testing.T, q *workqueue.IngestQueue) workqueue.Status {
	t.Helper()

	st, err := q.Status(context.Background())
	require.NoError(t, err)

	return st
}

// run 运行 supervisor 直到 done 关闭.
func run(t *testing.T, s *worker.Supervisor, done <-chan struct{}) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)

	go func() { errc <- s.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not finish in time")
	}

	cancel()
	require.NoError(t, <-errc)
}

func TestSupervisorOutcomes(t *testing.T) {
	q, _ := ingestQueue(t, "N20200101S0001.fits", "N20200101S0002.fits", "N20200101S0003.fits")

	var (
		mu   sync.Mutex
		seen []string
	)

	done := make(chan struct{})

	c := worker.NewConsumer(q, func(_ context.Context, e *model.IngestQueueEntry) (bool, error) {
		mu.Lock()
		defer mu.Unlock()

		seen = append(seen, e.Filename)
		if len(seen) == 3 {
			close(done)
		}

		switch e.Filename {
		case "N20200101S0002.fits":
			return false, workqueue.Transient(errors.New("nfs hiccup"))
		case "N20200101S0001.fits":
			return false, workqueue.DeferUntil(time.Now().Add(time.Hour), "still writing")
		}

		return false, nil
	})

	run(t, worker.NewSupervisor(c, worker.WithPollInterval(10*time.Millisecond)), done)

	assert.ElementsMatch(t, []string{"N20200101S0001.fits", "N20200101S0002.fits", "N20200101S0003.fits"}, seen)

	st := status(t, q)
	assert.EqualValues(t, 0, st.Pending)
	assert.EqualValues(t, 1, st.Deferred)
	assert.EqualValues(t, 1, st.Failed)
	assert.EqualValues(t, 0, st.InProgress)

	failed, err := q.List(context.Background(), workqueue.Filter{Failed: &yes})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "N20200101S0002.fits", failed[0].Filename)
	assert.True(t, failed[0].Transient)
	assert.Equal(t, "nfs hiccup", failed[0].Error)
}

func TestPanicBecomesFailure(t *testing.T) {
	q, _ := ingestQueue(t, "N20200101S0001.fits")

	c := worker.NewConsumer(q, func(context.Context, *model.IngestQueueEntry) (bool, error) {
		panic("boom")
	})

	did, err := c.Step(context.Background())
	require.NoError(t, err)
	assert.True(t, did)

	failed, err := q.List(context.Background(), workqueue.Filter{Failed: &yes})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Error, "panic: boom")
	assert.Contains(t, failed[0].Error, "worker_test.go", "stack trace is kept")
	assert.False(t, failed[0].Transient)
}

func TestStepEmptyQueue(t *testing.T) {
	q, _ := ingestQueue(t)

	c := worker.NewConsumer(q, func(context.Context, *model.IngestQueueEntry) (bool, error) {
		t.Fatal("nothing to process")
		return false, nil
	})

	did, err := c.Step(context.Background())
	require.NoError(t, err)
	assert.False(t, did)
	assert.Equal(t, model.QueueIngest, c.Name())
}

func TestKeepLeavesEntryInProgress(t *testing.T) {
	q, _ := ingestQueue(t, "N20200101S0001.fits")

	c := worker.NewConsumer(q, func(context.Context, *model.IngestQueueEntry) (bool, error) {
		return true, nil
	})

	did, err := c.Step(context.Background())
	require.NoError(t, err)
	assert.True(t, did)
	assert.EqualValues(t, 1, status(t, q).InProgress)
}

func TestStopFinishesCurrentEntry(t *testing.T) {
	q, _ := ingestQueue(t, "N20200101S0001.fits", "N20200101S0002.fits")

	started := make(chan struct{})
	release := make(chan struct{})

	var calls atomic.Int32

	c := worker.NewConsumer(q, func(ctx context.Context, _ *model.IngestQueueEntry) (bool, error) {
		calls.Add(1)
		close(started)
		<-release

		// 处理期间的 context 不随停止信号取消
		return false, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)

	go func() { errc <- worker.NewSupervisor(c, worker.WithPollInterval(time.Hour)).Run(ctx) }()

	<-started
	cancel()
	close(release)

	require.NoError(t, <-errc)
	assert.EqualValues(t, 1, calls.Load())

	st := status(t, q)
	assert.EqualValues(t, 1, st.Pending, "second entry is left for the next worker")
	assert.EqualValues(t, 0, st.InProgress)
	assert.EqualValues(t, 0, st.Failed)
}

type countingConsumer struct {
	steps atomic.Int32
	hit   chan struct{}
}

func (c *countingConsumer) Name() model.QueueName { return model.QueuePreview }

func (c *countingConsumer) Step(context.Context) (bool, error) {
	if c.steps.Add(1) == 2 {
		close(c.hit)
	}

	return false, nil
}

func TestWakeupTriggersStep(t *testing.T) {
	c := &countingConsumer{hit: make(chan struct{})}
	wake := make(chan struct{}, 1)

	s := worker.NewSupervisor(c, worker.WithPollInterval(time.Hour), worker.WithWakeups(wake))

	go func() {
		// 第一次 Step 之后才发送唤醒
		for c.steps.Load() == 0 {
			time.Sleep(time.Millisecond)
		}

		wake <- struct{}{}
	}()

	run(t, s, c.hit)
	assert.EqualValues(t, 2, c.steps.Load())
}

func TestClosedWakeupsFallBackToPolling(t *testing.T) {
	c := &countingConsumer{hit: make(chan struct{})}
	wake := make(chan struct{})
	close(wake)

	s := worker.NewSupervisor(c, worker.WithPollInterval(5*time.Millisecond), worker.WithWakeups(wake), worker.WithWorkers(1))

	run(t, s, c.hit)
	assert.GreaterOrEqual(t, c.steps.Load(), int32(2))
}

func TestForQueue(t *testing.T) {
	cfg := configs.Defaults()
	d := worker.Deps{DB: dbtest.New(t)}

	for _, name := range model.AllQueues {
		c, err := worker.ForQueue(name, d, &cfg)
		require.NoError(t, err, name)
		assert.Equal(t, name, c.Name())
	}

	_, err := worker.ForQueue("bogus", d, &cfg)
	require.Error(t, err)
}
