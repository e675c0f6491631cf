package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/hey/model"
	"github.com/ceyewan/hey/pkg/apperr"
	"github.com/ceyewan/hey/repo"
	"github.com/gin-gonic/gin"
)

const (
	// UserKey 是上下文中存储当前用户的键
	UserKey = "user"
)

// TokenVerifier 校验令牌并返回用户 ID
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// UserStore 按 ID 加载用户
type UserStore interface {
	GetUserByID(ctx context.Context, userID string) (*model.User, error)
}

// AuthConfig 认证中间件配置
type AuthConfig struct {
	verifier TokenVerifier
	users    UserStore
	logger   clog.Logger
}

// NewAuthConfig 创建认证配置
func NewAuthConfig(verifier TokenVerifier, users UserStore, logger clog.Logger) *AuthConfig {
	return &AuthConfig{
		verifier: verifier,
		users:    users,
		logger:   logger,
	}
}

// RequireAuth 返回一个需要认证的中间件
// 只接受 Authorization: Bearer <token>，通过后把用户放入上下文
func (a *AuthConfig) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := a.authenticate(c)
		if err != nil {
			a.logger.WarnContext(c.Request.Context(), "authentication failed",
				clog.String("client_ip", c.ClientIP()),
				clog.String("path", c.FullPath()),
				clog.Error(err),
			)
			Abort(c, err)
			return
		}

		c.Set(UserKey, user)
		c.Next()
	}
}

func (a *AuthConfig) authenticate(c *gin.Context) (*model.User, error) {
	header := c.GetHeader("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return nil, apperr.Authentication("Not authorized, no token")
	}
	token := strings.TrimSpace(header[7:])
	if token == "" {
		return nil, apperr.Authentication("Not authorized, no token")
	}

	userID, err := a.verifier.Verify(token)
	if err != nil {
		return nil, apperr.Authentication("Not authorized, token failed")
	}

	user, err := a.users.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, apperr.Authentication("User not found or token is invalid")
		}
		return nil, apperr.Persistence(err, "Failed to load user.")
	}
	return user, nil
}

// GetUser 从上下文获取当前用户
func GetUser(c *gin.Context) (*model.User, bool) {
	v, exists := c.Get(UserKey)
	if !exists {
		return nil, false
	}
	user, ok := v.(*model.User)
	return user, ok
}

// MustGetUser 从上下文获取当前用户，如果不存在则 panic
func MustGetUser(c *gin.Context) *model.User {
	user, ok := GetUser(c)
	if !ok {
		panic("user not found in context")
	}
	return user
}
