// Package storage 聚合进程共享的存储资源: 目录数据库、文件本体存储、KV 缓存与消息队列.
//
// Example:
//
//	mgr, err := storage.Init(ctx)
//	if err != nil {
//		// 处理错误
//	}
//
//	db := mgr.GetDBClient()
//	files := mgr.GetBlobStore()
package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/blob"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	dbc "github.com/yeisme/fitsvault/pkg/internal/storage/db"
	kvc "github.com/yeisme/fitsvault/pkg/internal/storage/kv"
	mqc "github.com/yeisme/fitsvault/pkg/internal/storage/mq"
	s3c "github.com/yeisme/fitsvault/pkg/internal/storage/s3"
	nlog "github.com/yeisme/fitsvault/pkg/log"
)

// Manager 聚合所有存储资源. S3 仅在 storage.mode=s3 时初始化，MQ 仅在启用事件时初始化.
type Manager struct {
	DB   *dbc.Client
	S3   *s3c.Client
	KV   *kvc.Client
	MQ   *mqc.Client
	Blob blob.Store
}

var (
	mgr     *Manager
	mgrErr  error
	mgrOnce sync.Once
)

// Init 初始化默认存储，使用全局配置. 重复调用只返回已初始化实例.
func Init(ctx context.Context) (*Manager, error) {
	mgrOnce.Do(func() {
		mgr, mgrErr = build(ctx, configs.GetConfig())
		if mgrErr == nil {
			nlog.Logger().Info().Str("blob", mgr.Blob.Kind()).Msg("storage manager initialized")
		}
	})

	return mgr, mgrErr
}

func build(ctx context.Context, cfg *configs.AppConfig) (*Manager, error) {
	m := &Manager{}

	dbi, err := dbc.New(ctx)
	if err != nil {
		return nil, err
	}

	m.DB = dbi

	if cfg.DB.AutoMigrate {
		if err := model.Migrate(dbi.DB); err != nil {
			return nil, fmt.Errorf("migrate catalog: %w", err)
		}
	}

	if cfg.Storage.Mode == configs.StorageModeS3 {
		s3i, err := s3c.New(ctx, &cfg.S3)
		if err != nil {
			return nil, err
		}

		m.S3 = s3i
	}

	m.Blob, err = blob.New(&cfg.Storage, m.S3)
	if err != nil {
		return nil, err
	}

	m.KV, err = kvc.NewKVClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("init kv: %w", err)
	}

	if cfg.Events.Enabled {
		m.MQ, err = mqc.New(ctx)
		if err != nil {
			return nil, err
		}
	}

	return m, nil
}

// NewManager 用已构造的资源组装 Manager，供测试与嵌入使用.
func NewManager(db *dbc.Client, store blob.Store, kv *kvc.Client, mq *mqc.Client) *Manager {
	return &Manager{DB: db, Blob: store, KV: kv, MQ: mq}
}

// GetS3Client 获取 S3 客户端.
func (m *Manager) GetS3Client() *s3c.Client {
	return m.S3
}

// GetDBClient 获取 DB 客户端.
func (m *Manager) GetDBClient() *dbc.Client {
	return m.DB
}

// GetKVClient 获取 KV 客户端.
func (m *Manager) GetKVClient() *kvc.Client {
	return m.KV
}

// GetMQClient 获取 MQ 客户端，未启用事件时为 nil.
func (m *Manager) GetMQClient() *mqc.Client {
	return m.MQ
}

// GetBlobStore 获取文件本体存储.
func (m *Manager) GetBlobStore() blob.Store {
	return m.Blob
}

// Close 释放所有连接.
func (m *Manager) Close() error {
	var firstErr error

	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if m.MQ != nil {
		keep(m.MQ.Close())
	}

	if m.KV != nil {
		keep(m.KV.Close())
	}

	if m.DB != nil {
		keep(m.DB.Close())
	}

	return firstErr
}
