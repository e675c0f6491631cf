package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/hey/pkg/apperr"
	"github.com/gin-gonic/gin"
)

// Recovery 返回一个恢复中间件，捕获 panic 并防止服务崩溃
// panic 被转换为 InternalError，由 ErrorHandler 写出通用错误
func Recovery(logger clog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				// 获取堆栈信息
				stack := debug.Stack()

				logger.ErrorContext(c.Request.Context(), "panic recovered",
					clog.Any("error", r),
					clog.String("path", c.Request.URL.Path),
					clog.String("method", c.Request.Method),
					clog.String("client_ip", c.ClientIP()),
					clog.String("stack", string(stack)),
				)

				Abort(c, apperr.Wrap(fmt.Errorf("panic: %v", r), apperr.KindInternal, apperr.MsgInternal))
			}
		}()

		c.Next()
	}
}
