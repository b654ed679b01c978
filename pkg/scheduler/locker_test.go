package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/fitsvault/pkg/internal/storage/kv"
	"github.com/yeisme/fitsvault/pkg/scheduler"
)

func TestKVLocker(t *testing.T) {
	ctx := context.Background()

	store, err := kv.NewMemoryKV(ctx, nil)
	require.NoError(t, err)

	a, err := scheduler.NewKVLocker(store, time.Minute)
	require.NoError(t, err)
	b, err := scheduler.NewKVLocker(store, time.Minute)
	require.NoError(t, err)

	lock, err := a.Lock(ctx, "queue-sweep")
	require.NoError(t, err)

	_, err = b.Lock(ctx, "queue-sweep")
	assert.ErrorIs(t, err, scheduler.ErrLocked)

	// 其他任务不受影响
	other, err := b.Lock(ctx, "queue-gauges")
	require.NoError(t, err)
	require.NoError(t, other.Unlock(ctx))

	require.NoError(t, lock.Unlock(ctx))

	lock, err = b.Lock(ctx, "queue-sweep")
	require.NoError(t, err)
	require.NoError(t, lock.Unlock(ctx))
}

func TestKVLockerUnlockKeepsForeignLock(t *testing.T) {
	ctx := context.Background()

	store, err := kv.NewMemoryKV(ctx, nil)
	require.NoError(t, err)

	a, err := scheduler.NewKVLocker(store, 30*time.Millisecond)
	require.NoError(t, err)
	b, err := scheduler.NewKVLocker(store, time.Minute)
	require.NoError(t, err)

	stale, err := a.Lock(ctx, "queue-sweep")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	held, err := b.Lock(ctx, "queue-sweep")
	require.NoError(t, err)

	// a 的锁已过期，解锁不能删掉 b 的
	require.NoError(t, stale.Unlock(ctx))

	_, err = a.Lock(ctx, "queue-sweep")
	assert.ErrorIs(t, err, scheduler.ErrLocked)

	require.NoError(t, held.Unlock(ctx))
}

type plainStore struct{ kv.KVStore }

func TestKVLockerNeedsClaimer(t *testing.T) {
	store, err := kv.NewMemoryKV(context.Background(), nil)
	require.NoError(t, err)

	_, err = scheduler.NewKVLocker(plainStore{store}, time.Minute)
	assert.Error(t, err)
}

func TestLockedJobIsSkipped(t *testing.T) {
	ctx := context.Background()

	store, err := kv.NewMemoryKV(ctx, nil)
	require.NoError(t, err)

	holder, err := scheduler.NewKVLocker(store, time.Minute)
	require.NoError(t, err)
	locker, err := scheduler.NewKVLocker(store, time.Minute)
	require.NoError(t, err)

	held, err := holder.Lock(ctx, "queue-sweep")
	require.NoError(t, err)

	s, err := scheduler.NewScheduler(scheduler.WithLocker(locker), scheduler.WithLocation(time.Local))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown() })

	var runs atomic.Int32

	require.NoError(t, s.AddInterval("queue-sweep", time.Hour, func(context.Context) error {
		runs.Add(1)
		return nil
	}, ctx))

	s.Start()
	require.NoError(t, s.RunNow("queue-sweep"))

	require.Eventually(t, func() bool {
		info, err := s.GetJobInfoByName("queue-sweep")
		return err == nil && info.Skipped >= 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Zero(t, runs.Load())

	require.NoError(t, held.Unlock(ctx))
	require.NoError(t, s.RunNow("queue-sweep"))

	info := waitRuns(t, s, "queue-sweep", 1)
	assert.Equal(t, scheduler.StatusScheduled, info.Status)
	assert.Equal(t, int32(1), runs.Load())
}
