package queue

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/oklog/ulid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWakeupRoundTrip(t *testing.T) {
	w := NewWakeup("ingest", "N20200101S0001.fits", WithProducer("api"), WithTraceID("t1"))

	msg, err := w.Message()
	require.NoError(t, err)

	_, err = ulid.Parse(msg.UUID)
	require.NoError(t, err, "message id should be a ULID")
	assert.Equal(t, "ingest", msg.Metadata.Get(MetaQueue))
	assert.Equal(t, "api", msg.Metadata.Get(MetaProducer))

	got, err := Parse(msg)
	require.NoError(t, err)
	assert.Equal(t, WireVersion, got.Version)
	assert.Equal(t, 1, got.Count)
	assert.Equal(t, "t1", got.TraceID)
	assert.True(t, got.SentAt.Equal(w.SentAt))
}

func TestParseFallsBackToMetadata(t *testing.T) {
	msg := message.NewMessage("x", []byte(`{"v":2,"count":3,"extra":"ignored"}`))
	msg.Metadata.Set(MetaQueue, "preview")

	got, err := Parse(msg)
	require.NoError(t, err)
	assert.Equal(t, "preview", got.Queue)
	assert.Equal(t, 3, got.Count)

	_, err = Parse(message.NewMessage("y", []byte("not json")))
	assert.Error(t, err)
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "queue.calcache.available", Topic("calcache"))

	name, ok := QueueOf(Topic("fileops"))
	assert.True(t, ok)
	assert.Equal(t, "fileops", name)

	for _, bad := range []string{"queue..available", "other.ingest.available", "queue.a.b.available", "queue.ingest"} {
		_, ok := QueueOf(bad)
		assert.False(t, ok, bad)
	}
}
