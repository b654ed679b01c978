package workqueue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	mqc "github.com/yeisme/fitsvault/pkg/internal/storage/mq"
	"github.com/yeisme/fitsvault/pkg/internal/workqueue"
	"github.com/yeisme/fitsvault/pkg/queue"
)

func TestMQNotifierCount(t *testing.T) {
	ps := mqc.NewMemoryPubSub(nil)
	client := mqc.NewWithPubSub(ps, ps, "")
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msgs, err := client.Subscribe(ctx, queue.Topic("export"))
	require.NoError(t, err)

	events := configs.EventsConfig{Enabled: true, Queues: configs.QueueEventsConfig{Export: true}}
	workqueue.NewMQNotifier(client, events, "test").NotifyCount(ctx, model.QueueName("export"), "a.fits", 4)

	select {
	case m := <-msgs:
		w, err := queue.Parse(m)
		require.NoError(t, err)
		m.Ack()

		assert.Equal(t, "export", w.Queue)
		assert.Equal(t, "a.fits", w.Target)
		assert.Equal(t, "test", w.Producer)
		assert.Equal(t, 4, w.Count)
	case <-ctx.Done():
		t.Fatal("no wakeup received")
	}
}

func TestMQNotifierDisabledQueue(t *testing.T) {
	ps := mqc.NewMemoryPubSub(nil)
	client := mqc.NewWithPubSub(ps, ps, "")
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	msgs, err := client.Subscribe(ctx, queue.Topic("preview"))
	require.NoError(t, err)

	events := configs.EventsConfig{Enabled: true}
	workqueue.NewMQNotifier(client, events, "test").Notify(ctx, model.QueueName("preview"), "")

	select {
	case m, ok := <-msgs:
		if ok {
			t.Fatalf("unexpected wakeup %s", m.UUID)
		}
	case <-ctx.Done():
	}
}
