package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/yeisme/fitsvault/pkg/context"
)

// quietPrefixes 探活与抓取请求，成功时只记 debug.
var quietPrefixes = []string{"/health", "/metrics", "/_groupcache/"}

// AccessLogMiddleware 每个请求一行访问日志. 4xx 为 warn，5xx 为 error.
func AccessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		req := c.Request

		l := context.Logger(req.Context(), "http")
		ev := l.WithLevel(accessLevel(req.URL.Path, status)).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP())

		if route := c.FullPath(); route != "" {
			ev = ev.Str("route", route)
		}

		if q := req.URL.RawQuery; q != "" {
			ev = ev.Str("query", q)
		}

		if rid := GetRequestID(c); rid != "" {
			ev = ev.Str("request_id", rid)
		}

		if user := GetPrincipal(c).Username(); user != "" {
			ev = ev.Str("user", user)
		}

		if len(c.Errors) > 0 {
			ev = ev.Str("error", c.Errors.String())
		}

		ev.Msg("request")
	}
}

func accessLevel(path string, status int) zerolog.Level {
	switch {
	case status >= 500:
		return zerolog.ErrorLevel
	case status >= 400:
		return zerolog.WarnLevel
	}

	for _, p := range quietPrefixes {
		if strings.HasPrefix(path, p) {
			return zerolog.DebugLevel
		}
	}

	return zerolog.InfoLevel
}
