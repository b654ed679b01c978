// Package middleware 提供 HTTP 中间件: 身份识别与角色、访问日志、审计、限流、熔断、
// 追踪、指标与响应缓存.
package middleware

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/access"
)

// Common 所有路由共用的中间件链. 身份识别在 usagelog、限流之前，
// gate 为 nil 时所有请求按匿名处理.
func Common(cfg *configs.AppConfig, gate *access.Gate, db *gorm.DB) []gin.HandlerFunc {
	chain := []gin.HandlerFunc{
		gin.Recovery(),
		CORSMiddleware(cfg.Server),
		TracingMiddleware(),
		PrometheusMiddleware(),
		AccessLogMiddleware(),
	}

	if gate != nil {
		chain = append(chain, IdentifyMiddleware(gate))
	}

	return append(chain,
		UsageLogMiddleware(db),
		RateLimitMiddleware(cfg.RateLimit),
		CircuitBreakerMiddleware(cfg.CircuitBreaker),
	)
}
