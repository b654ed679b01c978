package log

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/fitsvault/pkg/configs"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, parseLevel(""))
	assert.Equal(t, zerolog.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("loud"))
}

func TestGinWriter(t *testing.T) {
	var buf bytes.Buffer

	l := zerolog.New(&buf)
	w := NewGinWriter(&l, zerolog.WarnLevel)

	n, err := w.Write([]byte("[GIN-debug] GET /api/v1/headers --> handler\n"))
	require.NoError(t, err)
	assert.Equal(t, 44, n)
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"message":"GET /api/v1/headers --> handler"`)
	assert.Contains(t, buf.String(), `"source":"gin"`)

	buf.Reset()
	_, _ = w.Write([]byte("   \n"))
	assert.Empty(t, buf.String())
}

func TestNewOutputQuietWithoutFile(t *testing.T) {
	out := newOutput(configs.LogConfig{Quiet: true})
	n, err := out.Write([]byte("dropped"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}
