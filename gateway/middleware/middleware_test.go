package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/ratelimit"
	"github.com/ceyewan/hey/model"
	"github.com/ceyewan/hey/pkg/apperr"
	"github.com/ceyewan/hey/repo"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubVerifier map[string]string

func (v stubVerifier) Verify(token string) (string, error) {
	if uid, ok := v[token]; ok {
		return uid, nil
	}
	return "", errors.New("bad token")
}

type stubUsers struct {
	users map[string]*model.User
	err   error
}

func (s *stubUsers) GetUserByID(_ context.Context, id string) (*model.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, repo.ErrNotFound
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func newAuthRouter(users *stubUsers) *gin.Engine {
	logger := clog.Discard()
	auth := NewAuthConfig(stubVerifier{"good": "u1", "ghost": "nobody"}, users, logger)

	r := gin.New()
	r.Use(ErrorHandler(logger))
	r.GET("/me", auth.RequireAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": MustGetUser(c).ID})
	})
	return r
}

func TestRequireAuth(t *testing.T) {
	users := &stubUsers{users: map[string]*model.User{"u1": {ID: "u1", Username: "alice"}}}
	r := newAuthRouter(users)

	tests := []struct {
		name    string
		header  string
		code    int
		message string
	}{
		{"缺少令牌", "", http.StatusUnauthorized, "Not authorized, no token"},
		{"非 Bearer", "Basic abc", http.StatusUnauthorized, "Not authorized, no token"},
		{"令牌无效", "Bearer bad", http.StatusUnauthorized, "Not authorized, token failed"},
		{"用户不存在", "Bearer ghost", http.StatusUnauthorized, "User not found or token is invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.code, w.Code)
			body := decodeError(t, w)
			assert.Equal(t, "fail", body.Status)
			assert.Equal(t, tt.message, body.Message)
		})
	}

	t.Run("认证通过", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer good")
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"id":"u1"}`, w.Body.String())
	})

	t.Run("存储故障返回 500", func(t *testing.T) {
		broken := newAuthRouter(&stubUsers{err: errors.New("db down")})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer good")
		broken.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "error", decodeError(t, w).Status)
	})
}

func TestErrorHandler(t *testing.T) {
	logger := clog.Discard()
	r := gin.New()
	r.Use(ErrorHandler(logger), Recovery(logger))
	r.GET("/validation", func(c *gin.Context) {
		Abort(c, apperr.Validation(map[string][]string{"email": {"must be a valid email"}}))
	})
	r.GET("/internal", func(c *gin.Context) {
		Abort(c, errors.New("secret detail"))
	})
	r.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})
	r.GET("/written", func(c *gin.Context) {
		c.JSON(http.StatusAccepted, gin.H{"ok": true})
		_ = c.Error(errors.New("after write"))
	})

	t.Run("校验错误带字段详情", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/validation", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		body := decodeError(t, w)
		assert.Equal(t, "fail", body.Status)
		assert.Equal(t, apperr.MsgInvalidData, body.Message)
		assert.Equal(t, []string{"must be a valid email"}, body.Details["email"])
	})

	t.Run("未分类错误不泄露细节", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		body := decodeError(t, w)
		assert.Equal(t, "error", body.Status)
		assert.Equal(t, apperr.MsgInternal, body.Message)
		assert.NotContains(t, w.Body.String(), "secret detail")
	})

	t.Run("panic 转为 500", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, apperr.MsgInternal, decodeError(t, w).Message)
	})

	t.Run("已写出的响应不被覆盖", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/written", nil))
		assert.Equal(t, http.StatusAccepted, w.Code)
	})
}

func TestRateLimit(t *testing.T) {
	limiter, err := ratelimit.New(&ratelimit.Config{Driver: ratelimit.DriverStandalone})
	require.NoError(t, err)

	rl := NewRateLimitConfig(limiter, clog.Discard())
	r := gin.New()
	r.POST("/login", rl.IPBased("auth", ratelimit.Limit{Rate: 1, Burst: 2}), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)

	// 不同 IP 使用独立的限流池
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestLogger_RequestID(t *testing.T) {
	r := gin.New()
	r.Use(Logger(clog.Discard()))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	t.Run("生成请求 ID", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	})

	t.Run("透传请求 ID", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set(RequestIDHeader, "req-1")
		r.ServeHTTP(w, req)
		assert.Equal(t, "req-1", w.Header().Get(RequestIDHeader))
	})
}
