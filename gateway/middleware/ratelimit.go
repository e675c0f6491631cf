package middleware

import (
	"fmt"
	"net/http"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/ratelimit"
	"github.com/gin-gonic/gin"
)

const msgRateLimited = "Too many requests, please try again later."

// RateLimitConfig 限流中间件配置
type RateLimitConfig struct {
	limiter ratelimit.Limiter
	logger  clog.Logger
}

// NewRateLimitConfig 创建限流配置
func NewRateLimitConfig(limiter ratelimit.Limiter, logger clog.Logger) *RateLimitConfig {
	return &RateLimitConfig{
		limiter: limiter,
		logger:  logger,
	}
}

// GlobalIP 全局 IP 限流中间件
// 同一 IP 的所有请求共享一个限流池
func (r *RateLimitConfig) GlobalIP(limit ratelimit.Limit) gin.HandlerFunc {
	return r.limit("global", func(c *gin.Context) string {
		return fmt.Sprintf("global_ip:%s", c.ClientIP())
	}, limit)
}

// IPBased 按 IP + 路由限流，适用于注册登录等公开接口
func (r *RateLimitConfig) IPBased(scope string, limit ratelimit.Limit) gin.HandlerFunc {
	return r.limit(scope, func(c *gin.Context) string {
		return fmt.Sprintf("%s:ip:%s:path:%s", scope, c.ClientIP(), c.FullPath())
	}, limit)
}

func (r *RateLimitConfig) limit(scope string, keyFn func(*gin.Context) string, limit ratelimit.Limit) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, err := r.limiter.Allow(c.Request.Context(), keyFn(c), limit)
		if err != nil {
			// 降级：限流器出错时放行
			r.logger.ErrorContext(c.Request.Context(), "ratelimit check failed",
				clog.String("scope", scope),
				clog.Error(err))
			c.Next()
			return
		}

		if !allowed {
			r.logger.WarnContext(c.Request.Context(), "rate limit exceeded",
				clog.String("scope", scope),
				clog.String("client_ip", c.ClientIP()),
				clog.String("path", c.FullPath()),
			)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, &ErrorResponse{
				Status:  "fail",
				Message: msgRateLimited,
			})
			return
		}

		c.Next()
	}
}
