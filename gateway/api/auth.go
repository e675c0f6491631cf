package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/hey/gateway/auth"
	"github.com/ceyewan/hey/gateway/middleware"
	"github.com/ceyewan/hey/model"
	"github.com/ceyewan/hey/pkg/apperr"
	"github.com/ceyewan/hey/repo"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const msgInvalidCredentials = "Invalid email or password"

// RegisterRequest 注册请求
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=30"`
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=6,max=72"`
}

// LoginRequest 登录请求
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse 注册/登录响应
type AuthResponse struct {
	Message string    `json:"message"`
	Token   string    `json:"token"`
	User    *UserView `json:"user"`
}

// Register 注册新用户并签发令牌
func (h *HTTPHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Abort(c, bindError(err))
		return
	}
	ctx := c.Request.Context()

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		middleware.Abort(c, apperr.Wrap(err, apperr.KindInternal, apperr.MsgInternal))
		return
	}

	user := &model.User{
		ID:           uuid.NewString(),
		Username:     strings.TrimSpace(req.Username),
		Email:        strings.TrimSpace(req.Email),
		PasswordHash: hash,
	}
	if err := h.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			middleware.Abort(c, apperr.Conflict("User with this email or username already exists"))
			return
		}
		middleware.Abort(c, apperr.Persistence(err, "Failed to register user."))
		return
	}

	token, _, err := h.tokens.Issue(user.ID)
	if err != nil {
		middleware.Abort(c, apperr.Wrap(err, apperr.KindInternal, apperr.MsgInternal))
		return
	}

	h.logger.InfoContext(ctx, "user registered",
		clog.String("user_id", user.ID),
		clog.String("username", user.Username))

	c.JSON(http.StatusCreated, &AuthResponse{
		Message: "User registered successfully",
		Token:   token,
		User:    newUserView(user),
	})
}

// Login 校验邮箱和密码并签发令牌
func (h *HTTPHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Abort(c, bindError(err))
		return
	}
	ctx := c.Request.Context()

	user, err := h.users.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			middleware.Abort(c, apperr.Authentication(msgInvalidCredentials))
			return
		}
		middleware.Abort(c, apperr.Persistence(err, "Failed to log in."))
		return
	}

	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		h.logger.WarnContext(ctx, "login password mismatch", clog.String("user_id", user.ID))
		middleware.Abort(c, apperr.Authentication(msgInvalidCredentials))
		return
	}

	token, _, err := h.tokens.Issue(user.ID)
	if err != nil {
		middleware.Abort(c, apperr.Wrap(err, apperr.KindInternal, apperr.MsgInternal))
		return
	}

	c.JSON(http.StatusOK, &AuthResponse{
		Message: "Login successful",
		Token:   token,
		User:    newUserView(user),
	})
}

// Me 返回当前用户
func (h *HTTPHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, newUserView(currentUser(c)))
}
