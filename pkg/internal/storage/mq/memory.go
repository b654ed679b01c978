package mq

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/yeisme/fitsvault/pkg/configs"
)

// memoryBuffer 进程内通道缓冲.
const memoryBuffer = 64

func init() {
	RegisterFactory(configs.MQTypeMemory, memoryFactory)
}

// memoryFactory 发布端与订阅端是同一个 gochannel. 只在 serve 与 worker 同进程时有意义.
func memoryFactory(_ context.Context, _ *configs.MQConfig, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber, error) {
	ps := NewMemoryPubSub(logger)

	return ps, ps, nil
}

// NewMemoryPubSub 进程内 pub/sub. 发布不等待订阅者确认.
func NewMemoryPubSub(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: memoryBuffer}, logger)
}
