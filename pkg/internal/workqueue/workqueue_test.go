package workqueue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	"github.com/yeisme/fitsvault/pkg/internal/storage/db/dbtest"
	"github.com/yeisme/fitsvault/pkg/internal/workqueue"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu      sync.Mutex
	targets []string
}

func (r *recorder) Notify(_ context.Context, _ model.QueueName, target string) {
	r.mu.Lock()
	r.targets = append(r.targets, target)
	r.mu.Unlock()
}

func newIngest(t *testing.T) (*workqueue.IngestQueue, *gorm.DB, *clock) {
	t.Helper()

	db := dbtest.New(t)
	clk := &clock{now: t0}

	return workqueue.New[model.IngestQueueEntry](db, workqueue.WithClock(clk.Now)), db, clk
}

func TestEnqueueDuplicatePending(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	db := dbtest.New(t)
	q := workqueue.New[model.IngestQueueEntry](db, workqueue.WithNotifier(rec))

	assert.Equal(t, model.QueueIngest, q.Name())

	ok, err := q.Enqueue(ctx, workqueue.NewIngestEntry("N20200101S0001.fits", "", false, false, t0, 0))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.Enqueue(ctx, workqueue.NewIngestEntry("N20200101S0001.fits", "", false, false, t0, 0))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = q.Enqueue(ctx, workqueue.NewIngestEntry("N20200101S0001.fits", "sub", false, false, t0, 0))
	require.NoError(t, err)
	assert.True(t, ok, "different path is a different entry")

	st, err := q.Status(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, st.Pending)
	assert.Equal(t, []string{"N20200101S0001.fits", "N20200101S0001.fits"}, rec.targets)
}

func TestPopOrder(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newIngest(t)

	for _, name := range []string{"N20200101S0001.fits", "misc.fits", "N20200102S0005.fits", "N20200101S0002.fits"} {
		_, err := q.Enqueue(ctx, workqueue.NewIngestEntry(name, "", false, false, t0, 0))
		require.NoError(t, err)
	}

	var got []string

	for {
		e, err := q.Pop(ctx)
		require.NoError(t, err)

		if e == nil {
			break
		}

		got = append(got, e.Filename)
		require.NoError(t, q.Complete(ctx, e.ID))
	}

	assert.Equal(t, []string{
		"N20200102S0005.fits", "N20200101S0002.fits", "N20200101S0001.fits", "misc.fits",
	}, got)
}

func TestPopTargetExclusion(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newIngest(t)

	_, err := q.Enqueue(ctx, workqueue.NewIngestEntry("N20200101S0001.fits", "", false, false, t0, 0))
	require.NoError(t, err)

	first, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.True(t, first.InProgress)

	// 同一文件在处理中时可以再次入队，但不会被取出
	ok, err := q.Enqueue(ctx, workqueue.NewIngestEntry("N20200101S0001.fits", "", false, false, t0, 0))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = q.Enqueue(ctx, workqueue.NewIngestEntry("N20200101S0002.fits", "", false, false, t0, 0))
	require.NoError(t, err)

	second, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "N20200101S0002.fits", second.Filename)

	none, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, q.Complete(ctx, first.ID))

	third, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, "N20200101S0001.fits", third.Filename)
}

func TestDeferredEntry(t *testing.T) {
	ctx := context.Background()
	q, _, clk := newIngest(t)

	_, err := q.Enqueue(ctx, workqueue.NewIngestEntry("N20200101S0001.fits", "", false, false, t0, time.Minute))
	require.NoError(t, err)

	st, err := q.Status(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.Deferred)
	assert.EqualValues(t, 0, st.Pending)

	e, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Nil(t, e)

	clk.Advance(2 * time.Minute)

	e, err = q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, e)
}

func TestDeferRemovesDuplicate(t *testing.T) {
	ctx := context.Background()
	q, db, clk := newIngest(t)

	_, err := q.Enqueue(ctx, workqueue.NewIngestEntry("N20200101S0001.fits", "", false, false, t0, 0))
	require.NoError(t, err)

	e, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, e)

	// 处理期间又来了一个相同的请求
	_, err = q.Enqueue(ctx, workqueue.NewIngestEntry("N20200101S0001.fits", "", false, false, t0, 0))
	require.NoError(t, err)

	require.NoError(t, q.Defer(ctx, e.ID, clk.Now().Add(time.Minute)))

	var n int64
	require.NoError(t, db.Model(&model.IngestQueueEntry{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)

	_, err = q.Get(ctx, e.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestFailAndRearm(t *testing.T) {
	ctx := context.Background()
	q, db, clk := newIngest(t)

	_, err := q.Enqueue(ctx, workqueue.NewIngestEntry("N20200101S0001.fits", "", false, false, t0, 0))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, workqueue.NewIngestEntry("N20200101S0002.fits", "", false, false, t0, 0))
	require.NoError(t, err)

	a, err := q.Pop(ctx)
	require.NoError(t, err)
	b, err := q.Pop(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Fail(ctx, a.ID, workqueue.Transient(errors.New("storage timeout"))))
	require.NoError(t, q.Fail(ctx, b.ID, errors.New("bad header")))

	got, err := q.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Failed)
	assert.True(t, got.Transient)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "storage timeout", got.Error)

	failed := true
	list, err := q.List(ctx, workqueue.Filter{Failed: &failed})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	// 冷却期内不重排
	n, err := workqueue.RearmFailures(ctx, db, model.QueueIngest, clk.Now(), 10*time.Minute, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clk.Advance(11 * time.Minute)

	n, err = workqueue.RearmFailures(ctx, db, model.QueueIngest, clk.Now(), 10*time.Minute, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, a.Filename, again.Filename)

	st, err := q.Status(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.Failed)
	assert.EqualValues(t, 1, st.InProgress)
}

func TestRearmRespectsMaxAttempts(t *testing.T) {
	ctx := context.Background()
	q, db, clk := newIngest(t)

	_, err := q.Enqueue(ctx, workqueue.NewIngestEntry("N20200101S0001.fits", "", false, false, t0, 0))
	require.NoError(t, err)

	for range 2 {
		e, err := q.Pop(ctx)
		require.NoError(t, err)
		require.NotNil(t, e)
		require.NoError(t, q.Fail(ctx, e.ID, context.DeadlineExceeded))

		clk.Advance(time.Hour)

		_, err = workqueue.RearmFailures(ctx, db, model.QueueIngest, clk.Now(), time.Minute, 2)
		require.NoError(t, err)
	}

	e, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestResetStuck(t *testing.T) {
	ctx := context.Background()
	q, db, clk := newIngest(t)

	_, err := q.Enqueue(ctx, workqueue.NewIngestEntry("N20200101S0001.fits", "", false, false, t0, 0))
	require.NoError(t, err)

	e, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, e)

	clk.Advance(time.Hour)

	res, err := workqueue.Sweep(ctx, db, clk.Now(), workqueue.SweepConfig{
		StuckAfter: 30 * time.Minute, RetryCooldown: time.Minute, MaxAttempts: 3,
	})
	require.NoError(t, err)
	require.Len(t, res, len(model.AllQueues))
	assert.Equal(t, 1, res[0].Reset)

	again, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, e.ID, again.ID)
}

func TestFileopsOptionalTarget(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	q := workqueue.New[model.FileopsQueueEntry](db)

	for i := range 3 {
		_, err := q.Enqueue(ctx, workqueue.NewFileopsEntry("", fmt.Sprintf(`{"op":"noop","n":%d}`, i), false))
		require.NoError(t, err)
	}

	for range 3 {
		e, err := q.Pop(ctx)
		require.NoError(t, err)
		require.NotNil(t, e, "empty targets never exclude each other")
	}
}

func TestExportSortkeyPriority(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	q := workqueue.New[model.ExportQueueEntry](db)

	_, err := q.Enqueue(ctx, workqueue.NewExportEntry("N20200102S0001.fits", "", "https://low", 1))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, workqueue.NewExportEntry("N20200101S0001.fits", "", "https://high", 5))
	require.NoError(t, err)

	e, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "https://high", e.Destination)
}

func TestStatusAll(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)

	cq := workqueue.New[model.CalCacheQueueEntry](db)
	_, err := cq.Enqueue(ctx, workqueue.NewCalCacheEntry(7, "N20200101S0001.fits"))
	require.NoError(t, err)

	all, err := workqueue.StatusAll(ctx, db, t0)
	require.NoError(t, err)
	require.Len(t, all, len(model.AllQueues))

	for _, st := range all {
		if st.Queue == model.QueueCalCache {
			assert.EqualValues(t, 1, st.Total())
		} else {
			assert.Zero(t, st.Total())
		}
	}
}

func TestIsTransient(t *testing.T) {
	assert.False(t, workqueue.IsTransient(nil))
	assert.False(t, workqueue.IsTransient(errors.New("boom")))
	assert.True(t, workqueue.IsTransient(fmt.Errorf("wrap: %w", workqueue.Transient(errors.New("x")))))
	assert.True(t, workqueue.IsTransient(context.DeadlineExceeded))
	assert.Nil(t, workqueue.Transient(nil))
}

func TestDeferredUntil(t *testing.T) {
	until := t0.Add(40 * time.Second)

	got, ok := workqueue.DeferredUntil(fmt.Errorf("export: %w", workqueue.DeferUntil(until, "ingest pending")))
	require.True(t, ok)
	assert.True(t, got.Equal(until))

	_, ok = workqueue.DeferredUntil(errors.New("boom"))
	assert.False(t, ok)
}

func TestConcurrentPopSharedTarget(t *testing.T) {
	backends := map[string]func(t *testing.T) *gorm.DB{
		"sqlite":   func(t *testing.T) *gorm.DB { return dbtest.New(t) },
		"postgres": func(t *testing.T) *gorm.DB { return dbtest.Server(t, configs.PostgreSQL) },
		"mysql":    func(t *testing.T) *gorm.DB { return dbtest.Server(t, configs.MySQL) },
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			db := open(t)
			require.NoError(t, db.Where("1 = 1").Delete(&model.ExportQueueEntry{}).Error)
			t.Cleanup(func() { db.Where("1 = 1").Delete(&model.ExportQueueEntry{}) })

			q := workqueue.New[model.ExportQueueEntry](db)

			// 同一文件发往多个目的地，目标相同
			for i := range 6 {
				_, err := q.Enqueue(ctx, workqueue.NewExportEntry("N20200101S0001.fits", "", fmt.Sprintf("dest%d", i), 0))
				require.NoError(t, err)
			}

			_, err := q.Enqueue(ctx, workqueue.NewExportEntry("N20200101S0002.fits", "", "dest0", 0))
			require.NoError(t, err)

			var (
				wg     sync.WaitGroup
				mu     sync.Mutex
				popped []string
				start  = make(chan struct{})
			)

			for range 6 {
				wg.Add(1)

				go func() {
					defer wg.Done()
					<-start

					e, err := q.Pop(ctx)
					assert.NoError(t, err)

					if e != nil {
						mu.Lock()
						popped = append(popped, e.Filename)
						mu.Unlock()
					}
				}()
			}

			close(start)
			wg.Wait()

			seen := map[string]int{}
			for _, f := range popped {
				seen[f]++
			}

			for f, n := range seen {
				assert.Equal(t, 1, n, "%s popped %d times", f, n)
			}

			var busy []string
			require.NoError(t, db.Model(&model.ExportQueueEntry{}).Where("inprogress = ?", true).Pluck("filename", &busy).Error)
			assert.ElementsMatch(t, popped, busy)
		})
	}
}
