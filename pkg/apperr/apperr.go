// Package apperr 定义网关统一的错误分类。
//
// 事件层（websocket）和 HTTP 层都只依赖 Kind 做翻译：
// Internal 对外只暴露通用文案，其余类型把 Message 原样返回给调用方，
// 底层错误 Err 永远不会下发。
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 错误类别
type Kind int

const (
	KindInternal Kind = iota
	KindAuthentication
	KindValidation
	KindAuthorization
	KindNotFound
	KindConflict
	KindPersistence
)

// 对外通用文案
const (
	MsgInvalidData = "Invalid data received."
	MsgInternal    = "An internal server error occurred."
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "AuthenticationError"
	case KindValidation:
		return "ValidationError"
	case KindAuthorization:
		return "AuthorizationError"
	case KindNotFound:
		return "NotFoundError"
	case KindConflict:
		return "ConflictError"
	case KindPersistence:
		return "PersistenceError"
	default:
		return "InternalError"
	}
}

// HTTPStatus 错误类别对应的 HTTP 状态码
func (k Kind) HTTPStatus() int {
	switch k {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindValidation, KindConflict:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Exposed 该类错误的 Message 是否可以直接返回给客户端
func (k Kind) Exposed() bool {
	return k != KindInternal
}

// Error 带分类的错误
type Error struct {
	Kind    Kind
	Message string
	Details map[string][]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// PublicMessage 返回可以下发给客户端的文案
func (e *Error) PublicMessage() string {
	if e.Kind.Exposed() && e.Message != "" {
		return e.Message
	}
	return MsgInternal
}

// New 创建分类错误
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap 包装底层错误
func Wrap(err error, kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Authentication 握手/令牌错误
func Authentication(msg string) *Error { return New(KindAuthentication, msg) }

// Authorization 无权限
func Authorization(msg string) *Error { return New(KindAuthorization, msg) }

// NotFound 资源不存在
func NotFound(msg string) *Error { return New(KindNotFound, msg) }

// Conflict 资源冲突
func Conflict(msg string) *Error { return New(KindConflict, msg) }

// Validation 参数校验失败
func Validation(details map[string][]string) *Error {
	return &Error{Kind: KindValidation, Message: MsgInvalidData, Details: details}
}

// Persistence 存储失败，msg 为可以告知调用方的失败描述
func Persistence(err error, msg string) *Error {
	return &Error{Kind: KindPersistence, Message: msg, Err: err}
}

// From 将任意错误归类，未分类的错误视为 Internal
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, KindInternal, MsgInternal)
}

// KindOf 返回错误类别
func KindOf(err error) Kind {
	return From(err).Kind
}
