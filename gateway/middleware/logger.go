package middleware

import (
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/metrics"
	"github.com/ceyewan/hey/gateway/observability"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader 请求 ID 头
const RequestIDHeader = "X-Request-ID"

// Logger 返回一个请求日志中间件
// 记录请求方法、路径、状态码、耗时、客户端 IP 等，并上报 HTTP 指标
func Logger(logger clog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. 生成请求 ID
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(RequestIDHeader, requestID)

		// 2. 记录开始时间
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		// 3. 处理请求
		c.Next()

		// 4. 计算耗时
		latency := time.Since(start)
		status := c.Writer.Status()
		ctx := c.Request.Context()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		observability.RecordHTTPRequest(ctx)
		observability.RecordHTTPRequestDuration(ctx, latency,
			metrics.L("method", c.Request.Method),
			metrics.L("route", route))
		if status >= 400 {
			observability.RecordHTTPError(ctx,
				metrics.L("route", route),
				metrics.L("status", statusClass(status)))
		}

		// 5. 构建日志字段
		fields := []clog.Field{
			clog.String("request_id", requestID),
			clog.String("method", c.Request.Method),
			clog.String("path", path),
			clog.String("query", query),
			clog.Int("status", status),
			clog.String("client_ip", c.ClientIP()),
			clog.String("user_agent", c.Request.UserAgent()),
			clog.Duration("latency", latency),
		}

		// 如果有用户信息，记录用户 ID
		if user, ok := GetUser(c); ok {
			fields = append(fields, clog.String("user_id", user.ID))
		}

		// 6. 根据状态码选择日志级别
		switch {
		case status >= 500:
			logger.ErrorContext(ctx, "server error", fields...)
		case status >= 400:
			logger.WarnContext(ctx, "client error", fields...)
		default:
			logger.InfoContext(ctx, "request", fields...)
		}
	}
}

// SkipLogger 返回一个可以跳过某些路径的日志中间件
func SkipLogger(logger clog.Logger, skipPaths map[string]struct{}) gin.HandlerFunc {
	log := Logger(logger)
	return func(c *gin.Context) {
		if _, ok := skipPaths[c.Request.URL.Path]; ok {
			c.Next()
			return
		}
		log(c)
	}
}

// SlowQueryDetector 慢查询检测中间件
// 当请求超过指定阈值时，记录警告日志
func SlowQueryDetector(logger clog.Logger, threshold time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latency := time.Since(start)
		if latency > threshold {
			logger.WarnContext(c.Request.Context(), "slow request detected",
				clog.String("path", c.Request.URL.Path),
				clog.String("method", c.Request.Method),
				clog.Duration("latency", latency),
				clog.Int("status", c.Writer.Status()),
			)
		}
	}
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	default:
		return "ok"
	}
}
