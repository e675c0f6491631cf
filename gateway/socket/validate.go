package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"strings"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/hey/gateway/observability"
	"github.com/ceyewan/hey/gateway/protocol"
	"github.com/ceyewan/hey/pkg/apperr"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// HandlerFunc 事件处理函数，payload 为未解码的原始数据
type HandlerFunc func(ctx context.Context, sess *Session, payload json.RawMessage)

// Validator 事件载荷校验器
//
// 所有入站事件都经过 Validated 包装：载荷不合法时回复 error 事件且不调用业务处理函数，
// 业务处理函数返回的错误（以及 panic）按 apperr 分类翻译成同一形状的 error 事件。
type Validator struct {
	validate *validator.Validate
	logger   clog.Logger
}

// NewValidator 创建事件校验器
func NewValidator(logger clog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", validators.NotBlank)

	return &Validator{validate: v, logger: logger}
}

// Struct 校验结构体，失败时返回 ValidationError
func (v *Validator) Struct(req any) error {
	err := v.validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperr.Validation(map[string][]string{"payload": {err.Error()}})
	}

	details := make(map[string][]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = append(details[fe.Field()], describe(fe))
	}
	return apperr.Validation(details)
}

// Decode 解码并校验载荷
func (v *Validator) Decode(payload json.RawMessage, req any) error {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" || trimmed == "null" {
		return apperr.Validation(map[string][]string{"payload": {"is required"}})
	}

	if err := json.Unmarshal(payload, req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return apperr.Validation(map[string][]string{
				typeErr.Field: {fmt.Sprintf("must be a %s", typeErr.Type.Kind())},
			})
		}
		return apperr.Validation(map[string][]string{"payload": {"must be a JSON object"}})
	}
	return v.Struct(req)
}

// Fail 将错误翻译为 error 事件发给当前连接，返回错误类别名
func (v *Validator) Fail(ctx context.Context, sess *Session, event string, err error) string {
	e := apperr.From(err)

	fields := []clog.Field{
		clog.String("event", event),
		clog.String("conn_id", sess.ConnID()),
		clog.String("user_id", sess.UserID()),
		clog.String("kind", e.Kind.String()),
		clog.Error(err),
	}
	switch e.Kind {
	case apperr.KindInternal, apperr.KindPersistence:
		v.logger.ErrorContext(ctx, "event handling failed", fields...)
	default:
		v.logger.WarnContext(ctx, "event rejected", fields...)
	}

	if sendErr := sess.Emit(protocol.EventError, &protocol.ErrorPayload{
		Message: e.PublicMessage(),
		Details: e.Details,
	}); sendErr != nil {
		v.logger.Warn("failed to emit error event",
			clog.String("conn_id", sess.ConnID()),
			clog.Error(sendErr))
	}
	return e.Kind.String()
}

// Validated 包装强类型事件处理函数：解码 + 校验 + 错误翻译 + panic 恢复
func Validated[T any](v *Validator, event string, handle func(ctx context.Context, sess *Session, req *T) error) HandlerFunc {
	return func(ctx context.Context, sess *Session, payload json.RawMessage) {
		start := time.Now()
		kind := ""

		ctx, end := observability.StartSpan(ctx, "socket."+event)
		defer func() {
			if r := recover(); r != nil {
				v.logger.Error("event handler panic",
					clog.String("event", event),
					clog.Any("panic", r),
					clog.String("stack", string(debug.Stack())))
				kind = v.Fail(ctx, sess, event, apperr.Wrap(fmt.Errorf("panic: %v", r), apperr.KindInternal, apperr.MsgInternal))
			}
			end()
			observability.RecordEvent(ctx, event, time.Since(start), kind)
		}()

		// 1. 解码并校验，失败则不调用业务处理函数
		req := new(T)
		if err := v.Decode(payload, req); err != nil {
			kind = v.Fail(ctx, sess, event, err)
			return
		}

		// 2. 业务处理
		if err := handle(ctx, sess, req); err != nil {
			kind = v.Fail(ctx, sess, event, err)
		}
	}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "notblank":
		return "must not be blank"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "email":
		return "must be a valid email"
	default:
		return fmt.Sprintf("failed on the '%s' rule", fe.Tag())
	}
}
