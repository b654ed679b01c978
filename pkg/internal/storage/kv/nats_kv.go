package kv

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/yeisme/fitsvault/pkg/configs"
)

// NATSKV 基于 JetStream KV bucket. bucket 的 MaxAge 取 kv.ttl，单键 TTL 写在值前面.
type NATSKV struct {
	conn *nats.Conn
	kv   nats.KeyValue
	now  func() time.Time
}

// NewNATSKV 连接 NATS，bucket 不存在时创建.
func NewNATSKV(_ context.Context, cfg *configs.KVConfig) (KVStore, error) {
	var opts []nats.Option
	if cfg.NATS.User != "" {
		opts = append(opts, nats.UserInfo(cfg.NATS.User, cfg.NATS.Password))
	}

	conn, err := nats.Connect(cfg.NATS.URL, append(opts, nats.Name("fitsvault-kv"))...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.NATS.URL, err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	bucket, err := js.KeyValue(cfg.NATS.Bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		bucket, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      cfg.NATS.Bucket,
			Description: "fitsvault response and calibration cache",
			TTL:         cfg.GetTTL(),
			History:     1,
		})
	}

	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("kv bucket %s: %w", cfg.NATS.Bucket, err)
	}

	return &NATSKV{conn: conn, kv: bucket, now: time.Now}, nil
}

// entry 取值并检查单键 TTL. 过期的键顺带删除.
func (n *NATSKV) entry(key string) ([]byte, error) {
	e, err := n.kv.Get(key)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, notFound(key)
	}

	if err != nil {
		return nil, fmt.Errorf("nats kv get %s: %w", key, err)
	}

	val, live := unwrapExpiry(e.Value(), n.now())
	if !live {
		_ = n.kv.Delete(key)
		return nil, notFound(key)
	}

	return val, nil
}

func (n *NATSKV) Get(_ context.Context, key string) ([]byte, error) {
	return n.entry(key)
}

func (n *NATSKV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if _, err := n.kv.Put(key, wrapExpiry(value, ttl, n.now())); err != nil {
		return fmt.Errorf("nats kv put %s: %w", key, err)
	}

	return nil
}

// SetNX 用 JetStream KV 的 Create，键已存在但单键 TTL 已过时先删除再试一次.
func (n *NATSKV) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		_, err := n.kv.Create(key, wrapExpiry(value, ttl, n.now()))
		if err == nil {
			return true, nil
		}

		if !errors.Is(err, nats.ErrKeyExists) {
			return false, fmt.Errorf("nats kv create %s: %w", key, err)
		}

		// entry 会删除已过期的键
		if _, err := n.entry(key); !errors.Is(err, ErrNotFound) {
			return false, nil
		}
	}

	return false, nil
}

func (n *NATSKV) Delete(_ context.Context, key string) error {
	if err := n.kv.Delete(key); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("nats kv delete %s: %w", key, err)
	}

	return nil
}

func (n *NATSKV) Exists(_ context.Context, key string) (bool, error) {
	_, err := n.entry(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}

	return err == nil, err
}

func (n *NATSKV) Keys(_ context.Context, pattern string) ([]string, error) {
	all, err := n.kv.Keys()
	if errors.Is(err, nats.ErrNoKeysFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("nats kv keys: %w", err)
	}

	keys := all[:0]

	for _, k := range all {
		if pattern != "" {
			if ok, _ := path.Match(pattern, k); !ok {
				continue
			}
		}

		keys = append(keys, k)
	}

	return keys, nil
}

func (n *NATSKV) Close() error {
	return n.conn.Drain()
}

func init() {
	RegisterKVFactory(KVTypeNATS, NewNATSKV)
}
