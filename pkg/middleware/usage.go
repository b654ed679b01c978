package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/internal/model"
	"github.com/yeisme/fitsvault/pkg/internal/service"
	"github.com/yeisme/fitsvault/pkg/log"
)

// RequestIDHeader 请求 ID 头，缺省时生成 UUID.
const RequestIDHeader = "X-Request-ID"

const requestIDKey = "request_id"

// GetRequestID 当前请求的 ID.
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// UsageLogMiddleware 为每个请求写一行 usagelog，并把 id 放入 request context
// 供 querylog / downloadlog 等关联. 请求结束后回填状态、字节数与耗时.
// db 为 nil 时只分配请求 ID.
func UsageLogMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}

		c.Set(requestIDKey, rid)
		c.Header(RequestIDHeader, rid)

		if db == nil {
			c.Next()
			return
		}

		start := time.Now()
		p := GetPrincipal(c)

		row := &model.UsageLog{
			UTDatetime: start.UTC(),
			IPAddress:  c.ClientIP(),
			UserAgent:  c.Request.UserAgent(),
			Referer:    c.Request.Referer(),
			Method:     c.Request.Method,
			URI:        c.Request.URL.RequestURI(),
			ThisKind:   endpointKind(c.Request.URL.Path),
			RequestID:  rid,
		}

		if p.User != nil {
			row.UserID = &p.User.ID
		}

		if err := service.RecordUsage(c.Request.Context(), db, row); err != nil {
			log.Logger().Warn().Err(err).Str("request_id", rid).Msg("failed to write usage log")
			c.Next()

			return
		}

		c.Request = c.Request.WithContext(service.WithUsageLog(c.Request.Context(), row.ID))

		c.Next()

		row.Status = c.Writer.Status()
		row.Bytes = max(int64(c.Writer.Size()), 0)
		row.DurationMS = time.Since(start).Milliseconds()

		if len(c.Errors) > 0 {
			row.Notes = c.Errors.String()
		}

		if err := service.FinishUsage(context.WithoutCancel(c.Request.Context()), db, row); err != nil {
			log.Logger().Warn().Err(err).Str("request_id", rid).Msg("failed to finish usage log")
		}
	}
}

// endpointKind 路径的第一段，如 /jsonsummary/today 为 jsonsummary.
func endpointKind(path string) string {
	kind, _, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	if kind == "" {
		return "root"
	}

	return kind
}
