package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/yeisme/fitsvault/pkg/internal/storage/kv"
)

// lockPrefix 任务锁在缓存里的键前缀.
const lockPrefix = "joblock:"

// ErrLocked 其他节点持有任务锁.
var ErrLocked = errors.New("job locked by another node")

// KVLocker 用共享缓存的 SetNX 实现 gocron.Locker. 锁带 TTL，节点崩溃后自动释放.
type KVLocker struct {
	store   kv.KVStore
	claimer kv.Claimer
	ttl     time.Duration
	owner   string
}

// NewKVLocker store 必须实现 kv.Claimer. ttl 应长于最慢任务的执行时间.
func NewKVLocker(store kv.KVStore, ttl time.Duration) (*KVLocker, error) {
	c, ok := store.(kv.Claimer)
	if !ok {
		return nil, fmt.Errorf("kv store %T cannot hold job locks", store)
	}

	host, _ := os.Hostname()

	return &KVLocker{
		store:   store,
		claimer: c,
		ttl:     ttl,
		owner:   host + "/" + uuid.NewString(),
	}, nil
}

// Lock 实现 gocron.Locker.
func (l *KVLocker) Lock(ctx context.Context, key string) (gocron.Lock, error) {
	ok, err := l.claimer.SetNX(ctx, lockPrefix+key, []byte(l.owner), l.ttl)
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", key, err)
	}

	if !ok {
		return nil, ErrLocked
	}

	return &kvLock{locker: l, key: lockPrefix + key}, nil
}

type kvLock struct {
	locker *KVLocker
	key    string
}

// Unlock 只删除自己持有的锁. 读与删之间锁可能刚好过期并被别人拿到，TTL 远长于任务时间时可忽略.
func (k *kvLock) Unlock(ctx context.Context) error {
	v, err := k.locker.store.Get(ctx, k.key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}

	if err != nil {
		return err
	}

	if string(v) != k.locker.owner {
		return nil
	}

	return k.locker.store.Delete(ctx, k.key)
}
