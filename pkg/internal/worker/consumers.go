package worker

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/cache"
	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/blob"
	"github.com/yeisme/fitsvault/pkg/internal/calcache"
	"github.com/yeisme/fitsvault/pkg/internal/export"
	"github.com/yeisme/fitsvault/pkg/internal/fileops"
	"github.com/yeisme/fitsvault/pkg/internal/ingest"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	"github.com/yeisme/fitsvault/pkg/internal/preview"
	"github.com/yeisme/fitsvault/pkg/internal/storage"
	"github.com/yeisme/fitsvault/pkg/internal/workqueue"
)

// Deps 构造消费者所需的资源.
type Deps struct {
	DB    *gorm.DB
	Store blob.Store
	Cache *cache.Cache
	// QueueOptions 下游入队使用的选项，例如唤醒通知
	QueueOptions []workqueue.Option
}

// DepsFrom 从存储管理器组装 Deps. 启用事件时下游入队会发送唤醒通知.
func DepsFrom(mgr *storage.Manager, cfg *configs.AppConfig, producer string) Deps {
	d := Deps{DB: mgr.GetDBClient().DB, Store: mgr.GetBlobStore()}

	if kv := mgr.GetKVClient(); kv != nil && cfg.Archive.UseCalCache {
		d.Cache = cache.NewCache(kv.KVStore)
	}

	if mq := mgr.GetMQClient(); mq != nil {
		d.QueueOptions = append(d.QueueOptions, workqueue.WithNotifier(workqueue.NewMQNotifier(mq, cfg.Events, producer)))
	}

	return d
}

// ForQueue 按队列名构造消费者.
func ForQueue(name model.QueueName, d Deps, cfg *configs.AppConfig) (Consumer, error) {
	switch name {
	case model.QueueIngest:
		in := ingest.New(d.DB, d.Store, ingest.ConfigFrom(cfg), ingest.WithQueueOptions(d.QueueOptions...))

		return NewConsumer(workqueue.New[model.IngestQueueEntry](d.DB),
			func(ctx context.Context, e *model.IngestQueueEntry) (bool, error) {
				_, err := in.Process(ctx, e)
				return false, err
			}), nil

	case model.QueueExport:
		x := export.New(d.DB, d.Store, cfg.Export, export.WithBreaker(cfg.CircuitBreaker))

		return NewConsumer(workqueue.New[model.ExportQueueEntry](d.DB),
			func(ctx context.Context, e *model.ExportQueueEntry) (bool, error) {
				_, err := x.Process(ctx, e)
				return false, err
			}), nil

	case model.QueuePreview:
		r := preview.New(d.DB, d.Store, cfg.Storage.PreviewPath)

		return NewConsumer(workqueue.New[model.PreviewQueueEntry](d.DB),
			func(ctx context.Context, e *model.PreviewQueueEntry) (bool, error) {
				_, err := r.Process(ctx, e)
				return false, err
			}), nil

	case model.QueueCalCache:
		var opts []calcache.Option
		if d.Cache != nil {
			opts = append(opts, calcache.WithCache(d.Cache))
		}

		b := calcache.NewFromConfig(d.DB, &cfg.Cal, opts...)

		return NewConsumer(workqueue.New[model.CalCacheQueueEntry](d.DB),
			func(ctx context.Context, e *model.CalCacheQueueEntry) (bool, error) {
				_, err := b.Process(ctx, e)
				return false, err
			}), nil

	case model.QueueFileops:
		enq := ingest.NewEnqueuer(d.DB, d.Store, cfg.Queue.IngestDelay, d.QueueOptions...)
		p := fileops.New(d.DB, d.Store, blob.NewLocal(cfg.Storage.UploadStaging), cfg.Storage, enq)

		return NewConsumer(workqueue.New[model.FileopsQueueEntry](d.DB),
			func(ctx context.Context, e *model.FileopsQueueEntry) (bool, error) {
				_, err := p.Process(ctx, e)
				// 已写入响应的条目由请求方取走后删除
				return e.ResponseRequired && err == nil, err
			}), nil
	}

	return nil, fmt.Errorf("unknown queue %q", name)
}
