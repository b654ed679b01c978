package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appcache "github.com/yeisme/fitsvault/pkg/cache"
	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/storage/kv"
	"github.com/yeisme/fitsvault/pkg/middleware"
)

func newCache(t *testing.T) *appcache.Cache {
	t.Helper()

	store, err := kv.NewMemoryKV(context.Background(), nil)
	require.NoError(t, err)

	return appcache.NewCache(store)
}

func get(e *gin.Engine, target string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)

	return w
}

func TestCacheMiddlewareReplaysJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var calls atomic.Int32

	e := gin.New()
	e.Use(middleware.CacheMiddleware(middleware.DefaultCacheConfig(newCache(t))))
	e.GET("/jsonfilenames/*sel", func(c *gin.Context) {
		calls.Add(1)
		c.JSON(http.StatusOK, []gin.H{{"filename": "N20240101S0001.fits"}})
	})

	first := get(e, "/jsonfilenames/GN-2024A-Q-1", nil)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	second := get(e, "/jsonfilenames/GN-2024A-Q-1", nil)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, int32(1), calls.Load())

	etag := second.Header().Get("ETag")
	require.NotEmpty(t, etag)

	notModified := get(e, "/jsonfilenames/GN-2024A-Q-1", map[string]string{"If-None-Match": etag})
	assert.Equal(t, http.StatusNotModified, notModified.Code)

	// 不同选择不共用缓存
	get(e, "/jsonfilenames/GN-2024A-Q-2", nil)
	assert.Equal(t, int32(2), calls.Load())

	refreshed := get(e, "/jsonfilenames/GN-2024A-Q-1", map[string]string{"Cache-Control": "no-cache"})
	assert.Equal(t, "MISS", refreshed.Header().Get("X-Cache"))
	assert.Equal(t, int32(3), calls.Load())
}

func TestCacheMiddlewareSkipsErrorsAndSkipper(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var calls atomic.Int32

	cfg := middleware.DefaultCacheConfig(newCache(t))
	cfg.Skipper = func(c *gin.Context) bool { return c.GetHeader("X-Staff") != "" }

	e := gin.New()
	e.Use(middleware.CacheMiddleware(cfg))
	e.GET("/jsonsummary/*sel", func(c *gin.Context) {
		calls.Add(1)

		if c.Param("sel") == "/bad" {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "boom"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"n": calls.Load()})
	})

	get(e, "/jsonsummary/bad", nil)
	get(e, "/jsonsummary/bad", nil)
	assert.Equal(t, int32(2), calls.Load())

	get(e, "/jsonsummary/GN-2024A-Q-1", map[string]string{"X-Staff": "1"})
	w := get(e, "/jsonsummary/GN-2024A-Q-1", nil)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	assert.Equal(t, int32(4), calls.Load())
}

func TestSkipFileLookups(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var calls atomic.Int32

	cfg := middleware.DefaultCacheConfig(newCache(t))
	cfg.Skipper = middleware.SkipAny(middleware.SkipIdentified, middleware.SkipFileLookups)

	e := gin.New()
	e.Use(middleware.CacheMiddleware(cfg))
	e.GET("/jsonfilelist/*sel", func(c *gin.Context) {
		calls.Add(1)
		c.JSON(http.StatusOK, []gin.H{{"name": "N20240101S0001.fits", "n": calls.Load()}})
	})

	for _, target := range []string{"/jsonfilelist/present/filename=N20240101S0001.fits", "/jsonfilelist/filename=N20240101S0001.fits"} {
		before := calls.Load()
		get(e, target, nil)
		w := get(e, target, nil)
		assert.NotEqual(t, "HIT", w.Header().Get("X-Cache"), target)
		assert.Equal(t, before+2, calls.Load(), target)
	}

	get(e, "/jsonfilelist/GN-2024A-Q-1", nil)
	w := get(e, "/jsonfilelist/GN-2024A-Q-1", nil)
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
}

func TestCacheKeyIgnoresQueryOrder(t *testing.T) {
	a := httptest.NewRequest(http.MethodGet, "/calmgr/GN-2024A-Q-1?a=1&b=2", nil)
	b := httptest.NewRequest(http.MethodGet, "/calmgr/GN-2024A-Q-1?b=2&a=1", nil)
	c := httptest.NewRequest(http.MethodGet, "/calmgr/GN-2024A-Q-2?a=1&b=2", nil)

	assert.Equal(t, middleware.CacheKey(a), middleware.CacheKey(b))
	assert.NotEqual(t, middleware.CacheKey(a), middleware.CacheKey(c))
}

func TestRateLimitSeparatesDownloads(t *testing.T) {
	gin.SetMode(gin.TestMode)

	e := gin.New()
	e.Use(middleware.RateLimitMiddleware(configs.RateLimitConfig{
		Enabled:       true,
		RPS:           0.001,
		Burst:         2,
		DownloadRPS:   0.001,
		DownloadBurst: 1,
		Key:           "ip",
	}))

	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	e.GET("/jsonfilelist/*sel", ok)
	e.GET("/file/*name", ok)

	assert.Equal(t, http.StatusOK, get(e, "/file/a.fits", nil).Code)

	limited := get(e, "/file/a.fits", nil)
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.NotEmpty(t, limited.Header().Get("Retry-After"))

	// 目录查询有自己的令牌桶
	assert.Equal(t, http.StatusOK, get(e, "/jsonfilelist/today", nil).Code)
	assert.Equal(t, http.StatusOK, get(e, "/jsonfilelist/today", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(e, "/jsonfilelist/today", nil).Code)
}

func TestRateLimitDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)

	e := gin.New()
	e.Use(middleware.RateLimitMiddleware(configs.RateLimitConfig{}))
	e.GET("/file/*name", func(c *gin.Context) { c.Status(http.StatusOK) })

	for range 5 {
		assert.Equal(t, http.StatusOK, get(e, "/file/a.fits", nil).Code)
	}
}

func TestRequireMinRole(t *testing.T) {
	gin.SetMode(gin.TestMode)

	e := gin.New()
	e.GET("/queuestatus", middleware.RequireMinRole(middleware.RoleStaff), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := get(e, "/queuestatus", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "requires staff access")
}
