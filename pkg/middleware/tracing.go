package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/yeisme/fitsvault/pkg/tracing"
)

// TracingMiddleware 每个请求一个 server span，沿用上游 traceparent. 选择路径记在
// AttrSelector 上，span 名称只用路由模板.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		parent := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		ctx, span := tracing.StartSpan(parent, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", c.Request.Method),
				attribute.String("http.route", route),
				attribute.String("url.path", c.Request.URL.Path),
				attribute.String("client.address", c.ClientIP()),
				attribute.String("user_agent.original", c.Request.UserAgent()),
			),
		)

		if sel := c.Param("sel"); sel != "" {
			span.SetAttributes(tracing.AttrSelector.String(sel))
		} else if name := c.Param("name"); name != "" {
			span.SetAttributes(tracing.AttrFilename.String(name))
		}

		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			attribute.Int("http.response.status_code", status),
			attribute.String("fitsvault.role", GetRole(c).String()),
		)

		if rid := GetRequestID(c); rid != "" {
			span.SetAttributes(attribute.String("fitsvault.request_id", rid))
		}

		var err error
		if len(c.Errors) > 0 {
			err = errors.New(c.Errors.String())
		} else if status >= http.StatusInternalServerError {
			err = errors.New(http.StatusText(status))
		}

		tracing.End(span, err)
	}
}
