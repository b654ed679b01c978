package jobs_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/jobs"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	"github.com/yeisme/fitsvault/pkg/internal/storage/db/dbtest"
	"github.com/yeisme/fitsvault/pkg/internal/workqueue"
	"github.com/yeisme/fitsvault/pkg/metrics"
	"github.com/yeisme/fitsvault/pkg/scheduler"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	queues []model.QueueName
}

func (r *recorder) Notify(_ context.Context, name model.QueueName, _ string) {
	r.mu.Lock()
	r.queues = append(r.queues, name)
	r.mu.Unlock()
}

func TestSweepResetsAndRearms(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	q := workqueue.New[model.IngestQueueEntry](db, workqueue.WithClock(func() time.Time { return t0 }))

	for _, n := range []string{"N20240501S0001.fits", "N20240501S0002.fits"} {
		_, err := q.Enqueue(ctx, workqueue.NewIngestEntry(n, "", false, false, t0, 0))
		require.NoError(t, err)
	}

	stuck, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, stuck)

	flaky, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, flaky)
	require.NoError(t, q.Fail(ctx, flaky.ID, workqueue.Transient(errors.New("timeout"))))

	d := jobs.Deps{
		DB:    db,
		Queue: configs.QueueConfig{StuckAfter: 30 * time.Minute, RetryCooldown: 10 * time.Minute, MaxAttempts: 5},
		Now:   func() time.Time { return t0.Add(time.Hour) },
	}

	res, err := jobs.Sweep(ctx, d)
	require.NoError(t, err)
	require.Len(t, res, len(model.AllQueues))
	assert.Equal(t, model.QueueIngest, res[0].Queue)
	assert.Equal(t, 1, res[0].Reset)
	assert.Equal(t, 1, res[0].Rearmd)

	st, err := q.Status(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, st.Pending)
}

func TestRefreshGauges(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)

	preview := workqueue.New[model.PreviewQueueEntry](db)
	_, err := preview.Enqueue(ctx, workqueue.NewPreviewEntry(7, "N20240501S0001.fits", false))
	require.NoError(t, err)

	ingest := workqueue.New[model.IngestQueueEntry](db)
	_, err = ingest.Enqueue(ctx, workqueue.NewIngestEntry("N20240501S0002.fits", "", false, false, time.Now(), time.Hour))
	require.NoError(t, err)

	rec := &recorder{}

	all, err := jobs.RefreshGauges(ctx, jobs.Deps{DB: db, Notifier: rec})
	require.NoError(t, err)
	require.Len(t, all, len(model.AllQueues))

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.QueueLength.WithLabelValues("preview", "pending")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.QueueLength.WithLabelValues("ingest", "deferred")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.QueueLength.WithLabelValues("ingest", "pending")), 0)

	assert.Equal(t, []model.QueueName{model.QueuePreview}, rec.queues, "only queues with due work are woken")
}

func TestRegisterCronJobs(t *testing.T) {
	sched, err := scheduler.NewScheduler()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sched.Shutdown() })

	require.Error(t, jobs.RegisterCronJobs(nil, jobs.Deps{}))
	require.Error(t, jobs.RegisterCronJobs(sched, jobs.Deps{}))

	require.NoError(t, jobs.RegisterCronJobs(sched, jobs.Deps{DB: dbtest.New(t), Queue: configs.Defaults().Queue}))

	names := make([]string, 0, 2)
	for _, j := range sched.GetJobInfos() {
		names = append(names, j.Name)
	}

	assert.Equal(t, []string{jobs.JobQueueGauges, jobs.JobQueueSweep}, names)
}
