package middleware

import (
	"github.com/ceyewan/hey/gateway/observability"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// TraceIDHeader HTTP header 中 trace_id 的键
const TraceIDHeader = "X-Trace-ID"

// Trace 从请求头提取 W3C Trace Context 并为每个请求开启 Span
// 有效的 TraceID 会通过 X-Trace-ID 响应头返回，便于客户端关联日志
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := observability.ExtractHTTP(c.Request.Context(), c.Request.Header)

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		ctx, end := observability.StartSpan(ctx, "HTTP "+c.Request.Method+" "+route,
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
		)
		defer end()

		if traceID := observability.TraceID(ctx); traceID != "" {
			c.Header(TraceIDHeader, traceID)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
