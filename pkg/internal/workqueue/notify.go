package workqueue

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/trace"

	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	mqc "github.com/yeisme/fitsvault/pkg/internal/storage/mq"
	nlog "github.com/yeisme/fitsvault/pkg/log"
	"github.com/yeisme/fitsvault/pkg/queue"
)

// Notifier 入队后的唤醒通知. 通知尽力而为，失败只记录日志.
type Notifier interface {
	Notify(ctx context.Context, name model.QueueName, target string)
}

// MQNotifier 通过消息队列发布唤醒通知.
type MQNotifier struct {
	client   *mqc.Client
	events   configs.EventsConfig
	producer string
}

// NewMQNotifier 创建通知器. client 为 nil 时不发送.
func NewMQNotifier(client *mqc.Client, events configs.EventsConfig, producer string) *MQNotifier {
	return &MQNotifier{client: client, events: events, producer: producer}
}

// Notify 实现 Notifier.
func (n *MQNotifier) Notify(ctx context.Context, name model.QueueName, target string) {
	n.NotifyCount(ctx, name, target, 1)
}

// NotifyCount 一条通知代表 count 个新条目.
func (n *MQNotifier) NotifyCount(ctx context.Context, name model.QueueName, target string, count int) {
	if n == nil || n.client == nil || !n.events.QueueEnabled(string(name)) {
		return
	}

	opts := []queue.Option{queue.WithProducer(n.producer), queue.WithCount(max(count, 1))}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		opts = append(opts, queue.WithTraceID(sc.TraceID().String()))
	}

	w := queue.NewWakeup(string(name), target, opts...)

	msg, err := w.Message()
	if err == nil {
		err = n.client.Publish(ctx, queue.Topic(w.Queue), msg)
	}

	if err != nil {
		nlog.Logger().Warn().Err(err).Str("queue", string(name)).Msg("failed to publish queue wakeup")
	}
}

// Wakeups 订阅队列唤醒通知，每条通知转为一次非阻塞信号. ctx 结束时通道关闭.
func Wakeups(ctx context.Context, client *mqc.Client, name model.QueueName) (<-chan struct{}, error) {
	msgs, err := client.Subscribe(ctx, queue.Topic(string(name)))
	if err != nil {
		return nil, err
	}

	out := make(chan struct{}, 1)

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}

				signal(out, m)
			}
		}
	}()

	return out, nil
}

func signal(out chan<- struct{}, m *message.Message) {
	m.Ack()

	select {
	case out <- struct{}{}:
	default:
	}
}
