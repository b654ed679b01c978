package mq

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/fitsvault/pkg/configs"
)

func receive(t *testing.T, ch <-chan *message.Message) *message.Message {
	t.Helper()

	select {
	case m, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestClientPrefixesTopics(t *testing.T) {
	ps := NewMemoryPubSub(nil)
	c := NewWithPubSub(ps, ps, "site-a.")
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	raw, err := ps.Subscribe(ctx, "site-a.queue.ingest.available")
	require.NoError(t, err)

	require.NoError(t, c.Publish(ctx, "queue.ingest.available", message.NewMessage("1", []byte("x"))))

	m := receive(t, raw)
	assert.Equal(t, "1", m.UUID)
	m.Ack()
}

func TestNilClient(t *testing.T) {
	var c *Client

	assert.Error(t, c.Publish(context.Background(), "t"))

	_, err := c.Subscribe(context.Background(), "t")
	assert.Error(t, err)
	assert.NoError(t, c.Close())
}

func TestRedisFactory(t *testing.T) {
	srv := miniredis.RunT(t)

	cfg := &configs.MQConfig{Type: configs.MQTypeRedis}
	cfg.Redis.Addr = srv.Addr()
	cfg.Redis.Prefix = "fv:"

	pub, sub, err := redisFactory(context.Background(), cfg, watermill.NopLogger{})
	require.NoError(t, err)

	c := NewWithPubSub(pub, sub, cfg.TopicPrefix())
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ingest, err := c.Subscribe(ctx, "queue.ingest.available")
	require.NoError(t, err)

	preview, err := c.Subscribe(ctx, "queue.preview.available")
	require.NoError(t, err)

	msg := message.NewMessage("abc", []byte(`{"queue":"ingest"}`))
	msg.Metadata.Set("producer", "test")
	require.NoError(t, c.Publish(ctx, "queue.ingest.available", msg))
	require.NoError(t, c.Publish(ctx, "queue.preview.available", message.NewMessage("def", nil)))

	got := receive(t, ingest)
	assert.Equal(t, "abc", got.UUID)
	assert.Equal(t, "test", got.Metadata.Get("producer"))
	assert.JSONEq(t, `{"queue":"ingest"}`, string(got.Payload))

	assert.Equal(t, "def", receive(t, preview).UUID)

	cancel()

	_, ok := <-ingest
	assert.False(t, ok)
}

func TestRedisFactoryUnreachable(t *testing.T) {
	cfg := &configs.MQConfig{Type: configs.MQTypeRedis}
	cfg.Redis.Addr = "127.0.0.1:1"

	_, _, err := redisFactory(context.Background(), cfg, watermill.NopLogger{})
	assert.Error(t, err)
}

func TestUnsupportedType(t *testing.T) {
	_, err := open(context.Background(), &configs.MQConfig{Type: "kafka"}, false)
	assert.ErrorContains(t, err, "unsupported mq type")
}
