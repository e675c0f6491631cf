package api

import (
	"github.com/gin-gonic/gin"
)

// RouteConfig 路由配置
type RouteConfig struct {
	RequireAuth   gin.HandlerFunc
	AuthRateLimit gin.HandlerFunc
}

// RouteOption 路由选项函数
type RouteOption func(*RouteConfig)

// WithRequireAuth 设置认证中间件
func WithRequireAuth(middleware gin.HandlerFunc) RouteOption {
	return func(cfg *RouteConfig) {
		cfg.RequireAuth = middleware
	}
}

// WithAuthRateLimit 设置注册登录接口的限流中间件
func WithAuthRateLimit(middleware gin.HandlerFunc) RouteOption {
	return func(cfg *RouteConfig) {
		cfg.AuthRateLimit = middleware
	}
}

// RegisterRoutes 在 group（通常是 /api）下注册 REST 路由
func (h *HTTPHandler) RegisterRoutes(group *gin.RouterGroup, opts ...RouteOption) {
	cfg := &RouteConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.RequireAuth == nil {
		panic("api: RequireAuth middleware is required")
	}

	// 公开路由（注册 / 登录）
	authGroup := group.Group("/auth")
	public := authGroup.Group("")
	if cfg.AuthRateLimit != nil {
		public.Use(cfg.AuthRateLimit)
	}
	public.POST("/register", h.Register)
	public.POST("/login", h.Login)
	authGroup.GET("/me", cfg.RequireAuth, h.Me)

	// 需要认证的路由
	users := group.Group("/users", cfg.RequireAuth)
	users.GET("/search", h.SearchUsers)
	users.POST("/contacts", h.AddContact)
	users.GET("/contacts", h.ListContacts)
	users.DELETE("/contacts/:id", h.RemoveContact)

	chats := group.Group("/chats", cfg.RequireAuth)
	chats.POST("", h.CreateChat)
	chats.GET("", h.ListChats)
	chats.GET("/:id/messages", h.ListMessages)
	chats.POST("/:id/messages/read", h.MarkRead)
}
