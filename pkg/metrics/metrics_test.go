package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/metrics"
)

func TestMetricsMountedOnMainEngine(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := configs.MetricsConfig{Enabled: true, Labels: map[string]string{"site": "north"}}
	require.NoError(t, metrics.InitMetrics(cfg))
	require.NoError(t, metrics.InitMetrics(cfg), "second init is a no-op")

	metrics.QueueEvents.WithLabelValues("ingest", "completed").Inc()

	e := gin.New()
	assert.Nil(t, metrics.StartMetricsServer(cfg, e))

	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `fitsvault_queue_events_total{event="completed",queue="ingest",site="north"}`)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestMetricsDisabled(t *testing.T) {
	e := gin.New()
	assert.NoError(t, metrics.InitMetrics(configs.MetricsConfig{}))
	assert.Nil(t, metrics.StartMetricsServer(configs.MetricsConfig{}, e))
	assert.Empty(t, e.Routes())
}
