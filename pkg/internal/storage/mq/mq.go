// Package mq 封装 watermill 的 Publisher/Subscriber，按 mq.type 选择实现:
//   - nats: 核心 NATS，可选 JetStream
//   - redis: Redis Pub/Sub
//   - memory: 进程内 gochannel，单进程部署与测试
//
// 队列层只用它发送唤醒通知，队列状态始终以数据库为准.
package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	wmetrics "github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/yeisme/fitsvault/pkg/configs"
	nlog "github.com/yeisme/fitsvault/pkg/log"
)

// Factory 创建一对 Publisher 与 Subscriber.
type Factory func(ctx context.Context, cfg *configs.MQConfig, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber, error)

var factories = map[configs.MQType]Factory{}

// RegisterFactory 注册实现，各实现在 init 中调用.
func RegisterFactory(t configs.MQType, f Factory) {
	factories[t] = f
}

// GetRegisteredMQTypes 已注册的实现.
func GetRegisteredMQTypes() []configs.MQType {
	types := make([]configs.MQType, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}

	return types
}

// Client 发布与订阅唤醒通知. 主题统一加上部署前缀.
type Client struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	prefix     string
	closers    []func() error
}

// NewWithPubSub 使用现成的 Publisher/Subscriber 构造客户端，prefix 加在每个主题前.
func NewWithPubSub(pub message.Publisher, sub message.Subscriber, prefix string) *Client {
	return &Client{publisher: pub, subscriber: sub, prefix: prefix}
}

// Publish 发布到 prefix+topic.
func (c *Client) Publish(_ context.Context, topic string, msgs ...*message.Message) error {
	if c == nil || c.publisher == nil {
		return errors.New("mq publisher not initialized")
	}

	return c.publisher.Publish(c.prefix+topic, msgs...)
}

// Subscribe 订阅 prefix+topic，ctx 结束时通道关闭.
func (c *Client) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if c == nil || c.subscriber == nil {
		return nil, errors.New("mq subscriber not initialized")
	}

	return c.subscriber.Subscribe(ctx, c.prefix+topic)
}

// Close 关闭发布端、订阅端与指标服务.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}

	errs := []error{c.publisher.Close()}

	// memory 实现的发布端与订阅端是同一个对象
	if any(c.subscriber) != any(c.publisher) {
		errs = append(errs, c.subscriber.Close())
	}

	for _, f := range c.closers {
		errs = append(errs, f())
	}

	return errors.Join(errs...)
}

var (
	mqOnce sync.Once
	mqInst *Client
	mqErr  error
)

// New 按全局配置初始化客户端 (单例).
func New(ctx context.Context) (*Client, error) {
	mqOnce.Do(func() {
		cfg := configs.GetConfig()
		mqInst, mqErr = open(ctx, &cfg.MQ, cfg.Metrics.Enabled)
	})

	return mqInst, mqErr
}

func open(ctx context.Context, cfg *configs.MQConfig, metricsOn bool) (*Client, error) {
	factory, ok := factories[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported mq type: %s", cfg.Type)
	}

	logger := newLoggerAdapter(nlog.Component("mq"))

	pub, sub, err := factory(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init mq (%s): %w", cfg.Type, err)
	}

	c := NewWithPubSub(pub, sub, cfg.TopicPrefix())

	if metricsOn && cfg.Common.EnableMetrics {
		if err := c.instrument(cfg.Common.Endpoint); err != nil {
			return nil, errors.Join(err, c.Close())
		}
	}

	nlog.Logger().Info().Str("type", string(cfg.Type)).Str("prefix", c.prefix).Msg("mq client initialized")

	return c, nil
}

// instrument 用 watermill 的 prometheus 装饰器包装发布端与订阅端，指标在 endpoint 上单独暴露.
func (c *Client) instrument(endpoint string) error {
	registry, stop := wmetrics.CreateRegistryAndServeHTTP(endpoint)
	c.closers = append(c.closers, func() error { stop(); return nil })

	b := wmetrics.NewPrometheusMetricsBuilder(registry, "fitsvault", "wakeups")

	pub, err := b.DecoratePublisher(c.publisher)
	if err != nil {
		return fmt.Errorf("decorate publisher: %w", err)
	}

	sub, err := b.DecorateSubscriber(c.subscriber)
	if err != nil {
		return fmt.Errorf("decorate subscriber: %w", err)
	}

	c.publisher, c.subscriber = pub, sub

	nlog.Logger().Info().Str("endpoint", endpoint).Msg("mq metrics enabled")

	return nil
}
