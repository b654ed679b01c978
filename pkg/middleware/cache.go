package middleware

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gin-gonic/gin"

	appcache "github.com/yeisme/fitsvault/pkg/cache"
	"github.com/yeisme/fitsvault/pkg/log"
	"github.com/yeisme/fitsvault/pkg/metrics"
)

const (
	// DefaultMaxBodyBytes 超过该大小的响应不缓存.
	DefaultMaxBodyBytes = 4 << 20
	// CacheKeyPrefix 响应缓存键前缀，目录变更后可按前缀清空.
	CacheKeyPrefix = "rc:"
	defaultTTL     = 30 * time.Second
)

// CacheConfig 目录响应缓存配置.
type CacheConfig struct {
	Cache *appcache.Cache
	TTL   time.Duration
	// Skipper 返回 true 时既不读也不写缓存
	Skipper      func(*gin.Context) bool
	MaxBodyBytes int
}

// SkipIdentified 只缓存匿名请求. 已识别身份的响应可能包含受保护坐标或专有文件.
func SkipIdentified(c *gin.Context) bool {
	p := GetPrincipal(c)
	return GetRole(c) != RoleAnonymous || p.Magic
}

// SkipFileLookups 不缓存 present 与 filename= 选择. 对端导出按它们比对 md5 与
// pending_ingest，需要目录的当前状态.
func SkipFileLookups(c *gin.Context) bool {
	for _, seg := range strings.Split(c.Request.URL.Path, "/") {
		if seg == "present" || strings.HasPrefix(seg, "filename=") {
			return true
		}
	}

	return false
}

// SkipAny 组合多个 skipper，任一返回 true 即跳过.
func SkipAny(skippers ...func(*gin.Context) bool) func(*gin.Context) bool {
	return func(c *gin.Context) bool {
		for _, skip := range skippers {
			if skip(c) {
				return true
			}
		}

		return false
	}
}

// DefaultCacheConfig 返回一份默认配置.
func DefaultCacheConfig(c *appcache.Cache) CacheConfig {
	return CacheConfig{Cache: c, TTL: defaultTTL, MaxBodyBytes: DefaultMaxBodyBytes}
}

// cachedResponse 缓存中的一次 200 响应.
type cachedResponse struct {
	ContentType string `json:"ct"`
	Body        []byte `json:"b"`
	ETag        string `json:"e"`
	StoredAt    int64  `json:"t"`
}

// CacheMiddleware 缓存 GET/HEAD 目录查询的 200 JSON 响应. 键由完整路径与排序后的 query
// 组成，选择条件在路径中，因此不能使用路由模板. 请求带 Cache-Control: no-cache 时回源并刷新.
// 命中时支持 If-None-Match. 缓存读写失败不影响请求.
//
//	cfg := middleware.DefaultCacheConfig(cache.NewCache(kvStore))
//	cfg.Skipper = middleware.SkipIdentified
//	group.Use(middleware.CacheMiddleware(cfg))
func CacheMiddleware(cfg CacheConfig) gin.HandlerFunc {
	if cfg.Cache == nil {
		panic("CacheMiddleware: Cache cannot be nil")
	}

	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}

	return func(c *gin.Context) {
		method := c.Request.Method
		if (method != http.MethodGet && method != http.MethodHead) || (cfg.Skipper != nil && cfg.Skipper(c)) {
			metrics.ResponseCache.WithLabelValues("skip").Inc()
			c.Next()

			return
		}

		key := CacheKey(c.Request)

		if !noCache(c.Request) && replay(c, cfg, key) {
			metrics.ResponseCache.WithLabelValues("hit").Inc()
			return
		}

		metrics.ResponseCache.WithLabelValues("miss").Inc()

		// 头在写 body 时发出，只能提前设置
		c.Header("X-Cache", "MISS")

		bw := &bodyCaptureWriter{ResponseWriter: c.Writer, max: cfg.MaxBodyBytes}
		c.Writer = bw
		c.Next()

		store(c, cfg, key, bw)
	}
}

// CacheKey 由请求路径与 query 生成缓存键. HEAD 与 GET 共用一个键.
func CacheKey(r *http.Request) string {
	s := r.URL.Path
	if q := r.URL.Query(); len(q) > 0 {
		s += "?" + q.Encode()
	}

	return CacheKeyPrefix + strconv.FormatUint(xxhash.Sum64String(s), 16)
}

func noCache(r *http.Request) bool {
	cc := strings.ToLower(r.Header.Get("Cache-Control"))
	return strings.Contains(cc, "no-cache") || strings.Contains(cc, "no-store")
}

// replay 命中时写出缓存的响应并返回 true.
func replay(c *gin.Context, cfg CacheConfig, key string) bool {
	entry, err := appcache.Get[cachedResponse](c.Request.Context(), cfg.Cache, key)
	if err != nil {
		return false
	}

	h := c.Writer.Header()
	h.Set("Content-Type", entry.ContentType)
	h.Set("ETag", entry.ETag)
	h.Set("Age", strconv.FormatInt(int64(time.Since(time.Unix(0, entry.StoredAt)).Seconds()), 10))
	h.Set("X-Cache", "HIT")

	switch {
	case c.GetHeader("If-None-Match") == entry.ETag:
		c.Status(http.StatusNotModified)
	case c.Request.Method == http.MethodHead:
		c.Status(http.StatusOK)
	default:
		c.Status(http.StatusOK)
		_, _ = c.Writer.Write(entry.Body)
	}

	c.Abort()

	return true
}

func store(c *gin.Context, cfg CacheConfig, key string, bw *bodyCaptureWriter) {
	if c.Writer.Status() != http.StatusOK || bw.truncated || c.Request.Method != http.MethodGet {
		return
	}

	ct := c.Writer.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "application/json") {
		return
	}

	body := bw.buf.Bytes()
	entry := cachedResponse{
		ContentType: ct,
		Body:        body,
		ETag:        "\"" + strconv.FormatUint(xxhash.Sum64(body), 16) + "\"",
		StoredAt:    time.Now().UnixNano(),
	}

	if err := appcache.Set(c.Request.Context(), cfg.Cache, key, entry, cfg.TTL); err != nil {
		log.Logger().Debug().Err(err).Str("key", key).Msg("response cache store failed")
	}
}

// bodyCaptureWriter 在写出响应的同时保留一份 body，超过 max 时放弃保留.
type bodyCaptureWriter struct {
	gin.ResponseWriter

	buf       bytes.Buffer
	max       int
	truncated bool
}

func (w *bodyCaptureWriter) Write(b []byte) (int, error) {
	if !w.truncated {
		if w.max > 0 && w.buf.Len()+len(b) > w.max {
			w.truncated = true
			w.buf.Reset()
		} else {
			w.buf.Write(b)
		}
	}

	return w.ResponseWriter.Write(b)
}

// WriteString gin 的 JSON 渲染可能走这条路径.
func (w *bodyCaptureWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}
