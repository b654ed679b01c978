package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sony/gobreaker"

	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/types"
	nlog "github.com/yeisme/fitsvault/pkg/log"
)

// errServerError 5xx 响应计为一次失败.
var errServerError = errors.New("server error response")

// CircuitBreakerMiddleware 目录或存储持续返回 5xx 时快速失败，请求不再堆积在数据库连接池上.
// 4xx 与下载中途断开不计为失败.
func CircuitBreakerMiddleware(cfg configs.CircuitBreakerConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	settings := cfg.Settings("http")
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		l := nlog.Component("breaker")
		l.Warn().Str("breaker", name).
			Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
	}

	cb := gobreaker.NewCircuitBreaker(settings)

	return func(c *gin.Context) {
		_, err := cb.Execute(func() (any, error) {
			c.Next()

			if c.Writer.Status() >= http.StatusInternalServerError {
				return nil, errServerError
			}

			return nil, nil
		})

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.Header("Retry-After", "30")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, types.ErrorResponse{
				Error: "service temporarily unavailable",
				Code:  "circuit_open",
			})
		}
	}
}
