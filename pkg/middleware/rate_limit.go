package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/types"
)

// downloadPrefixes 按下载限额计费的路径.
var downloadPrefixes = []string{"/file/", "/download/", "/preview/"}

// bucket 一个请求方在一类端点上的令牌桶.
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet 按键分配令牌桶，闲置超过 idle 的桶在分配时顺带清理.
type limiterSet struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idle    time.Duration
	swept   time.Time
	now     func() time.Time
}

func newLimiterSet(rps float64, burst int, idle time.Duration) *limiterSet {
	return &limiterSet{
		buckets: map[string]*bucket{},
		limit:   rate.Limit(rps),
		burst:   burst,
		idle:    idle,
		now:     time.Now,
	}
}

func (s *limiterSet) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	if s.idle > 0 && now.Sub(s.swept) > s.idle {
		for k, b := range s.buckets {
			if now.Sub(b.lastSeen) > s.idle {
				delete(s.buckets, k)
			}
		}

		s.swept = now
	}

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.buckets[key] = b
	}

	b.lastSeen = now

	return b.limiter
}

// RateLimitMiddleware 按请求方限流. 文件下载与目录查询分开计数，职员不受限.
// 超限时返回 429 并带 Retry-After.
func RateLimitMiddleware(cfg configs.RateLimitConfig) gin.HandlerFunc {
	if !cfg.Enabled || cfg.RPS <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	dlRPS, dlBurst := cfg.DownloadRPS, cfg.DownloadBurst
	if dlRPS <= 0 {
		dlRPS, dlBurst = cfg.RPS, cfg.Burst
	}

	queries := newLimiterSet(cfg.RPS, cfg.Burst, cfg.IdleTTL)
	downloads := newLimiterSet(dlRPS, dlBurst, cfg.IdleTTL)

	return func(c *gin.Context) {
		if GetRole(c) >= RoleStaff {
			c.Next()
			return
		}

		set := queries
		if isDownload(c.Request.URL.Path) {
			set = downloads
		}

		r := set.get(rateKey(c, cfg.Key)).Reserve()
		if delay := r.Delay(); !r.OK() || delay > 0 {
			r.Cancel()

			secs := 1
			if r.OK() {
				secs = int(math.Ceil(delay.Seconds()))
			}

			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				types.ErrorResponse{Error: "rate limit exceeded, please try again later", Code: "rate_limited"})

			return
		}

		c.Next()
	}
}

func isDownload(path string) bool {
	for _, p := range downloadPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}

	return false
}

// rateKey 限流维度. user 模式下匿名请求按 IP.
func rateKey(c *gin.Context, mode string) string {
	switch mode {
	case "global":
		return "*"
	case "user":
		if u := GetPrincipal(c).Username(); u != "" {
			return "u:" + u
		}
	}

	return "ip:" + c.ClientIP()
}
