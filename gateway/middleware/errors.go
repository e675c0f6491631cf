package middleware

import (
	"net/http"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/hey/pkg/apperr"
	"github.com/gin-gonic/gin"
)

// ErrorResponse REST 接口统一的错误响应
type ErrorResponse struct {
	Status  string              `json:"status"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

// NewErrorResponse 由分类错误构造响应体，4xx 为 fail，5xx 为 error
func NewErrorResponse(e *apperr.Error) (int, *ErrorResponse) {
	code := e.Kind.HTTPStatus()
	status := "error"
	if code < http.StatusInternalServerError {
		status = "fail"
	}
	return code, &ErrorResponse{
		Status:  status,
		Message: e.PublicMessage(),
		Details: e.Details,
	}
}

// Abort 记录错误并中止后续处理，响应由 ErrorHandler 统一写出
func Abort(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// ErrorHandler 将处理链中记录的最后一个错误翻译为 JSON 响应
func ErrorHandler(logger clog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		e := apperr.From(err)
		code, body := NewErrorResponse(e)

		if code >= http.StatusInternalServerError {
			logger.ErrorContext(c.Request.Context(), "request failed",
				clog.String("path", c.FullPath()),
				clog.String("kind", e.Kind.String()),
				clog.Error(err),
			)
		}

		c.JSON(code, body)
	}
}
