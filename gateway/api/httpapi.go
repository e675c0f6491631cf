package api

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/hey/gateway/middleware"
	"github.com/ceyewan/hey/model"
	"github.com/ceyewan/hey/pkg/apperr"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// UserStore REST 接口依赖的用户存储
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, userID string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]*model.User, error)
	AddContact(ctx context.Context, userID, contactID string) error
	RemoveContact(ctx context.Context, userID, contactID string) error
	ListContacts(ctx context.Context, userID string) ([]*model.User, error)
}

// ChatStore REST 接口依赖的会话存储
type ChatStore interface {
	CreateChat(ctx context.Context, chat *model.Chat, participantIDs []string) error
	GetChat(ctx context.Context, chatID string) (*model.Chat, error)
	ListChatsByParticipant(ctx context.Context, userID string) ([]*model.Chat, error)
	FindPrivateChat(ctx context.Context, userA, userB string) (*model.Chat, error)
}

// MessageStore REST 接口依赖的消息存储
type MessageStore interface {
	ListMessages(ctx context.Context, chatID string, page, limit int) ([]*model.Message, error)
	MarkChatRead(ctx context.Context, chatID, readerID string) (int64, error)
}

// TokenIssuer 签发访问令牌
type TokenIssuer interface {
	Issue(userID string) (string, time.Time, error)
}

// HTTPHandler 实现 Gateway 的 REST API
type HTTPHandler struct {
	users    UserStore
	chats    ChatStore
	messages MessageStore
	tokens   TokenIssuer
	logger   clog.Logger
}

// NewHTTPHandler 创建 API Handler
func NewHTTPHandler(users UserStore, chats ChatStore, messages MessageStore, tokens TokenIssuer, logger clog.Logger) *HTTPHandler {
	useJSONFieldNames()
	return &HTTPHandler{
		users:    users,
		chats:    chats,
		messages: messages,
		tokens:   tokens,
		logger:   logger,
	}
}

// UserView 对外暴露的用户信息
type UserView struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarUrl"`
}

func newUserView(u *model.User) *UserView {
	return &UserView{ID: u.ID, Username: u.Username, Email: u.Email, AvatarURL: u.AvatarURL}
}

func newUserViews(users []*model.User) []*UserView {
	out := make([]*UserView, 0, len(users))
	for _, u := range users {
		out = append(out, newUserView(u))
	}
	return out
}

// MessageResponse 只带提示文案的响应
type MessageResponse struct {
	Message string `json:"message"`
}

// ============================================================================
// 请求绑定
// ============================================================================

var tagNameOnce sync.Once

// useJSONFieldNames 让 gin 的校验错误使用 json 字段名
func useJSONFieldNames() {
	tagNameOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			for _, tag := range []string{"json", "form", "uri"} {
				name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
				if name == "-" {
					return ""
				}
				if name != "" {
					return name
				}
			}
			return fld.Name
		})
	})
}

// bindError 将绑定错误翻译为 ValidationError
func bindError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		details := make(map[string][]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			details[fe.Field()] = append(details[fe.Field()], describe(fe))
		}
		return apperr.Validation(details)
	}
	return apperr.Validation(map[string][]string{"body": {"must be a valid JSON object"}})
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min":
		if fe.Kind() == reflect.String {
			return "must be at least " + fe.Param() + " characters"
		}
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must be at most " + fe.Param()
	default:
		return "failed on the '" + fe.Tag() + "' rule"
	}
}

// currentUser 取出认证中间件放入的用户
func currentUser(c *gin.Context) *model.User {
	return middleware.MustGetUser(c)
}
