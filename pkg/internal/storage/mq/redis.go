package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/yeisme/fitsvault/pkg/configs"
)

// redisChannelBuffer 每个订阅的输出缓冲. 唤醒可以合并，缓冲满时丢弃.
const redisChannelBuffer = 16

func init() {
	RegisterFactory(configs.MQTypeRedis, redisFactory)
}

// redisFrame Redis 消息体. Pub/Sub 没有消息头，ID 与元数据随消息体传递.
type redisFrame struct {
	UUID     string            `json:"id"`
	Metadata map[string]string `json:"md,omitempty"`
	Payload  []byte            `json:"p"`
}

type redisPublisher struct {
	rdb *redis.Client
}

// redisSubscriber 每次 Subscribe 建立一个独立的 PubSub 连接.
type redisSubscriber struct {
	rdb    *redis.Client
	logger watermill.LoggerAdapter

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
	wg     sync.WaitGroup
}

func redisFactory(ctx context.Context, cfg *configs.MQConfig, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		ClientName: cfg.Common.ClientID,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("ping redis %s: %w", cfg.Redis.Addr, err)
	}

	// 发布端与订阅端共用一个连接池，由订阅端负责关闭
	return &redisPublisher{rdb: rdb}, &redisSubscriber{rdb: rdb, logger: logger}, nil
}

func (p *redisPublisher) Publish(topic string, msgs ...*message.Message) error {
	for _, m := range msgs {
		body, err := sonic.Marshal(redisFrame{UUID: m.UUID, Metadata: m.Metadata, Payload: m.Payload})
		if err != nil {
			return fmt.Errorf("encode message %s: %w", m.UUID, err)
		}

		if err := p.rdb.Publish(m.Context(), topic, body).Err(); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
	}

	return nil
}

func (p *redisPublisher) Close() error { return nil }

func (s *redisSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("redis subscriber closed")
	}

	ps := s.rdb.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	s.subs = append(s.subs, ps)

	out := make(chan *message.Message, redisChannelBuffer)

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer close(out)
		defer ps.Close()

		in := ps.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case rm, ok := <-in:
				if !ok {
					return
				}

				m, err := decodeRedisFrame(rm.Payload)
				if err != nil {
					s.logger.Error("drop malformed redis message", err, watermill.LogFields{"topic": topic})
					continue
				}

				select {
				case out <- m:
				default:
					s.logger.Debug("subscriber busy, wakeup coalesced", watermill.LogFields{"topic": topic})
				}
			}
		}
	}()

	return out, nil
}

func decodeRedisFrame(b string) (*message.Message, error) {
	var f redisFrame
	if err := sonic.UnmarshalString(b, &f); err != nil {
		return nil, err
	}

	m := message.NewMessage(f.UUID, f.Payload)
	for k, v := range f.Metadata {
		m.Metadata.Set(k, v)
	}

	return m, nil
}

func (s *redisSubscriber) Close() error {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return nil
	}

	s.closed = true

	for _, ps := range s.subs {
		_ = ps.Close()
	}

	s.mu.Unlock()

	s.wg.Wait()

	return s.rdb.Close()
}
