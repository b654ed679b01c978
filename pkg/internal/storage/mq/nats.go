package mq

import (
	"context"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/yeisme/fitsvault/pkg/configs"
)

const (
	natsDrainTimeout   = 10 * time.Second
	natsFlusherTimeout = 5 * time.Second
)

func init() {
	RegisterFactory(configs.MQTypeNATS, natsFactory)
}

// natsOptions 连接选项. 认证优先使用 JWT + nkey seed，其次用户名密码.
func natsOptions(cfg *configs.MQConfig, logger watermill.LoggerAdapter) []nc.Option {
	opts := []nc.Option{
		nc.Name(cfg.Common.ClientID),
		nc.MaxReconnects(cfg.Common.MaxReconnects),
		nc.ReconnectWait(time.Duration(cfg.Common.ReconnectWait) * time.Second),
		nc.PingInterval(time.Duration(cfg.Common.PingInterval) * time.Second),
		nc.ReconnectBufSize(cfg.Common.BufferSize),
		nc.DrainTimeout(natsDrainTimeout),
		nc.FlusherTimeout(natsFlusherTimeout),
		// worker 可以先于 NATS 启动，期间靠轮询工作
		nc.RetryOnFailedConnect(true),
		nc.DisconnectErrHandler(func(_ *nc.Conn, err error) {
			logger.Info("nats disconnected, workers fall back to polling", watermill.LogFields{"err": err})
		}),
		nc.ReconnectHandler(func(conn *nc.Conn) {
			logger.Info("nats reconnected", watermill.LogFields{"url": conn.ConnectedUrl()})
		}),
	}

	switch {
	case cfg.NATS.JWT != "":
		opts = append(opts, nc.UserJWTAndSeed(cfg.NATS.JWT, cfg.NATS.NKey))
	case cfg.Common.User != "":
		opts = append(opts, nc.UserInfo(cfg.Common.User, cfg.Common.Password))
	}

	return opts
}

func jetStreamConfig(cfg *configs.MQConfig) nats.JetStreamConfig {
	if !cfg.NATS.JetStreamEnabled {
		return nats.JetStreamConfig{Disabled: true}
	}

	return nats.JetStreamConfig{
		AutoProvision: cfg.NATS.JetStreamAutoProvision,
		TrackMsgId:    cfg.NATS.JetStreamTrackMsgID,
		AckAsync:      cfg.NATS.JetStreamAckAsync,
		DurablePrefix: cfg.NATS.JetStreamDurablePrefix,
	}
}

func natsURL(cfg *configs.MQConfig) string {
	if len(cfg.NATS.ClusterURLs) > 0 {
		return strings.Join(cfg.NATS.ClusterURLs, ",")
	}

	return cfg.Common.URL
}

// natsFactory 发布端与订阅端各用一条连接. 配置了 wakeup_group 时订阅使用队列组，
// 一条唤醒只交给组内一个 worker.
func natsFactory(_ context.Context, cfg *configs.MQConfig, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber, error) {
	opts := natsOptions(cfg, logger)
	js := jetStreamConfig(cfg)
	marshaler := &nats.NATSMarshaler{}

	pub, err := nats.NewPublisher(nats.PublisherConfig{
		URL:         natsURL(cfg),
		NatsOptions: opts,
		JetStream:   js,
		Marshaler:   marshaler,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	subCfg := nats.SubscriberConfig{
		URL:         natsURL(cfg),
		NatsOptions: opts,
		JetStream:   js,
		Unmarshaler: marshaler,
	}
	if cfg.NATS.WakeupGroup != "" {
		subCfg.QueueGroupPrefix = cfg.NATS.WakeupGroup
	}

	sub, err := nats.NewSubscriber(subCfg, logger)
	if err != nil {
		_ = pub.Close()
		return nil, nil, err
	}

	logger.Info("nats wakeups configured", watermill.LogFields{
		"jetstream": cfg.NATS.JetStreamEnabled,
		"group":     cfg.NATS.WakeupGroup,
		"prefix":    cfg.NATS.SubjectPrefix,
	})

	return pub, sub, nil
}
