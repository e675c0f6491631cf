package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/ratelimit"
	"github.com/ceyewan/hey/gateway/api"
	"github.com/ceyewan/hey/gateway/config"
	"github.com/ceyewan/hey/gateway/middleware"
	"github.com/ceyewan/hey/gateway/socket"
	"github.com/ceyewan/hey/pkg/health"
	"github.com/gin-gonic/gin"
)

const slowRequestThreshold = time.Second

// Handlers HTTP 服务挂载的各个处理器
type Handlers struct {
	API       *api.HTTPHandler
	WebSocket *socket.Handler
	Auth      *middleware.AuthConfig
	RateLimit *middleware.RateLimitConfig // 为 nil 时不限流
	Probe     *health.Probe
}

// HTTPServer HTTP 服务包装器，REST、WebSocket 与健康检查共用一个端口
type HTTPServer struct {
	config   *config.Config
	logger   clog.Logger
	handlers Handlers
	server   *http.Server
}

// NewHTTPServer 创建 HTTP 服务
func NewHTTPServer(cfg *config.Config, logger clog.Logger, handlers Handlers) *HTTPServer {
	return &HTTPServer{
		config:   cfg,
		logger:   logger,
		handlers: handlers,
	}
}

// Router 构建路由，中间件顺序：trace -> logger -> error handler -> recovery -> 限流
func (s *HTTPServer) Router() *gin.Engine {
	router := gin.New()

	skip := map[string]struct{}{"/health": {}, "/ready": {}}
	router.Use(middleware.Trace())
	router.Use(middleware.SkipLogger(s.logger, skip))
	router.Use(middleware.ErrorHandler(s.logger))
	router.Use(middleware.Recovery(s.logger))
	router.Use(middleware.SlowQueryDetector(s.logger, slowRequestThreshold))

	rl := s.config.RateLimit
	var authLimit gin.HandlerFunc
	if s.handlers.RateLimit != nil && rl.Enabled {
		router.Use(s.handlers.RateLimit.GlobalIP(ratelimit.Limit{Rate: rl.GlobalQPS, Burst: rl.Burst}))
		authLimit = s.handlers.RateLimit.IPBased("auth", ratelimit.Limit{Rate: rl.AuthQPS, Burst: rl.AuthBurst})
	}

	// 健康检查
	if s.handlers.Probe != nil {
		router.GET("/health", gin.WrapF(s.handlers.Probe.LivenessHandler()))
		router.GET("/ready", gin.WrapF(s.handlers.Probe.ReadinessHandler()))
	}

	// WebSocket
	if s.handlers.WebSocket != nil {
		router.GET("/ws", s.handlers.WebSocket.HandleWebSocket)
	}

	// REST API
	if s.handlers.API != nil {
		opts := []api.RouteOption{api.WithRequireAuth(s.handlers.Auth.RequireAuth())}
		if authLimit != nil {
			opts = append(opts, api.WithAuthRateLimit(authLimit))
		}
		s.handlers.API.RegisterRoutes(router.Group("/api"), opts...)
	}

	return router
}

// Start 启动 HTTP 服务，阻塞直到服务关闭
func (s *HTTPServer) Start() error {
	s.server = &http.Server{
		Addr:              s.config.GetHTTPAddr(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("http server started", clog.String("addr", s.config.GetHTTPAddr()))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 停止 HTTP 服务
// 已升级的 WebSocket 连接不受 Shutdown 管理，需要调用方通过 Hub 关闭
func (s *HTTPServer) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
