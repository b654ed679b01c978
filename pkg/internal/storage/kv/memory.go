package kv

import (
	"bytes"
	"context"
	"path"
	"sync"
	"time"

	"github.com/yeisme/fitsvault/pkg/configs"
)

// memEntry sync.Map 的 CompareAnd* 需要可比较的值，存指针.
type memEntry struct {
	raw []byte
}

// MemoryKV 进程内缓存，过期在读取时惰性清理.
type MemoryKV struct {
	data sync.Map
	now  func() time.Time
}

// NewMemoryKV 创建进程内缓存. cfg 未使用.
func NewMemoryKV(_ context.Context, _ *configs.KVConfig) (KVStore, error) {
	return &MemoryKV{now: time.Now}, nil
}

func (m *MemoryKV) load(key string) ([]byte, bool) {
	v, ok := m.data.Load(key)
	if !ok {
		return nil, false
	}

	e := v.(*memEntry)

	val, live := unwrapExpiry(e.raw, m.now())
	if !live {
		m.data.CompareAndDelete(key, e)
		return nil, false
	}

	return val, true
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	val, ok := m.load(key)
	if !ok {
		return nil, notFound(key)
	}

	return bytes.Clone(val), nil
}

func (m *MemoryKV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.data.Store(key, &memEntry{raw: wrapExpiry(value, ttl, m.now())})
	return nil
}

// SetNX 已过期的旧值视为不存在.
func (m *MemoryKV) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	next := &memEntry{raw: wrapExpiry(value, ttl, m.now())}

	for {
		old, loaded := m.data.LoadOrStore(key, next)
		if !loaded {
			return true, nil
		}

		if _, live := unwrapExpiry(old.(*memEntry).raw, m.now()); live {
			return false, nil
		}

		if m.data.CompareAndSwap(key, old, next) {
			return true, nil
		}
	}
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.data.Delete(key)
	return nil
}

func (m *MemoryKV) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.load(key)
	return ok, nil
}

func (m *MemoryKV) Keys(_ context.Context, pattern string) ([]string, error) {
	var keys []string

	m.data.Range(func(k, _ any) bool {
		key := k.(string)
		if _, ok := m.load(key); !ok {
			return true
		}

		if pattern == "" {
			keys = append(keys, key)
		} else if matched, _ := path.Match(pattern, key); matched {
			keys = append(keys, key)
		}

		return true
	})

	return keys, nil
}

func (m *MemoryKV) Close() error { return nil }

func init() {
	RegisterKVFactory(KVTypeMemory, NewMemoryKV)
}
