package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/connector"
	"github.com/ceyewan/genesis/db"
	"github.com/ceyewan/genesis/ratelimit"
	"github.com/ceyewan/genesis/xerrors"
	"github.com/ceyewan/hey/gateway/api"
	"github.com/ceyewan/hey/gateway/auth"
	"github.com/ceyewan/hey/gateway/config"
	"github.com/ceyewan/hey/gateway/connection"
	"github.com/ceyewan/hey/gateway/middleware"
	"github.com/ceyewan/hey/gateway/observability"
	"github.com/ceyewan/hey/gateway/presence"
	"github.com/ceyewan/hey/gateway/server"
	"github.com/ceyewan/hey/gateway/socket"
	"github.com/ceyewan/hey/pkg/health"
	"github.com/ceyewan/hey/repo"
	"github.com/gin-gonic/gin"
)

// Gateway 网关服务生命周期管理器
type Gateway struct {
	config *config.Config
	logger clog.Logger

	// 服务实例
	httpServer  *server.HTTPServer
	healthProbe *health.Probe

	// 核心资源
	resources *resources
	ctx       context.Context
	cancel    context.CancelFunc
}

// resources 内部资源聚合，方便统一管理
type resources struct {
	postgresConn connector.PostgreSQLConnector
	database     db.DB
	userRepo     repo.UserRepo
	chatRepo     repo.ChatRepo
	messageRepo  repo.MessageRepo
	hub          *connection.Hub
	registry     *presence.Registry
}

// New 创建 Gateway 实例
func New() (*Gateway, error) {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		config:    cfg,
		ctx:       ctx,
		cancel:    cancel,
		resources: &resources{},
	}
	if err := g.initComponents(); err != nil {
		g.Close()
		return nil, err
	}

	return g, nil
}

// initComponents 初始化所有组件
func (g *Gateway) initComponents() error {
	// 1. 初始化可观测性（Trace + Metrics）
	obs := g.config.Observability
	obs.ServiceName = g.config.GetServiceName()
	obs.Instance = g.config.GetHost()
	if err := observability.Init(&obs); err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	// 2. 初始化 Logger（带 Trace Context 支持）
	logger, err := observability.NewLogger(&g.config.Log)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	g.logger = logger.WithNamespace(g.config.GetServiceName())

	if g.config.Service.Mode != "" {
		gin.SetMode(g.config.Service.Mode)
	}

	// 3. 初始化存储 (PostgreSQL + Repo)
	if err := g.initStorage(); err != nil {
		return err
	}

	// 4. 初始化在线状态与连接管理
	g.resources.registry = presence.NewRegistry()
	g.resources.hub = connection.NewHub(g.logger.WithNamespace("hub"))

	// 5. 初始化服务接口 (Servers)
	g.healthProbe = health.NewProbe()
	g.healthProbe.AddCheck("postgres", g.pingPostgres)
	return g.initServers()
}

// initStorage 连接 PostgreSQL 并创建数据访问层
func (g *Gateway) initStorage() error {
	var err error
	res := g.resources

	res.postgresConn, err = connector.NewPostgreSQL(&g.config.Postgres, connector.WithLogger(g.logger))
	if err != nil {
		return xerrors.Wrapf(err, "failed to create postgresql connector")
	}
	if err := res.postgresConn.Connect(g.ctx); err != nil {
		return xerrors.Wrapf(err, "failed to connect postgresql")
	}

	res.database, err = db.New(&db.Config{Driver: "postgresql"},
		db.WithPostgreSQLConnector(res.postgresConn),
		db.WithLogger(g.logger),
	)
	if err != nil {
		return xerrors.Wrapf(err, "failed to create db")
	}

	repoOpts := []repo.Option{repo.WithLogger(g.logger)}
	if res.userRepo, err = repo.NewUserRepo(res.database, repoOpts...); err != nil {
		return xerrors.Wrapf(err, "failed to create user repo")
	}
	if res.chatRepo, err = repo.NewChatRepo(res.database, repoOpts...); err != nil {
		return xerrors.Wrapf(err, "failed to create chat repo")
	}
	if res.messageRepo, err = repo.NewMessageRepo(res.database, repoOpts...); err != nil {
		return xerrors.Wrapf(err, "failed to create message repo")
	}
	return nil
}

// initServers 初始化 HTTP / WebSocket 服务端
func (g *Gateway) initServers() error {
	res := g.resources

	tokens, err := auth.NewTokenManager(g.config.Auth)
	if err != nil {
		return xerrors.Wrapf(err, "failed to create token manager")
	}

	// WebSocket Handler
	socketGateway := socket.NewGateway(
		tokens,
		res.userRepo,
		res.chatRepo,
		res.messageRepo,
		res.registry,
		res.hub,
		g.logger.WithNamespace("socket"),
	)
	wsHandler := socket.NewHandler(g.logger.WithNamespace("ws"), socketGateway, g.config.WSConfig)

	// HTTP Handler & Middlewares
	handlers := server.Handlers{
		API:       api.NewHTTPHandler(res.userRepo, res.chatRepo, res.messageRepo, tokens, g.logger.WithNamespace("api")),
		WebSocket: wsHandler,
		Auth:      middleware.NewAuthConfig(tokens, res.userRepo, g.logger),
		Probe:     g.healthProbe,
	}
	if g.config.RateLimit.Enabled {
		limiter, err := ratelimit.New(&ratelimit.Config{
			Driver: ratelimit.DriverStandalone,
		}, ratelimit.WithLogger(g.logger))
		if err != nil {
			return xerrors.Wrapf(err, "failed to create rate limiter")
		}
		handlers.RateLimit = middleware.NewRateLimitConfig(limiter, g.logger)
	}

	g.httpServer = server.NewHTTPServer(g.config, g.logger, handlers)
	return nil
}

// pingPostgres readiness 依赖检查
func (g *Gateway) pingPostgres(ctx context.Context) error {
	if g.resources.database == nil {
		return fmt.Errorf("postgres not initialized")
	}
	sqlDB, err := g.resources.database.DB(ctx).DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Run 启动所有服务
func (g *Gateway) Run() error {
	g.logger.Info("starting gateway servers...")
	g.healthProbe.SetReady(false)
	g.healthProbe.SetShutdown(false)

	go func() {
		if err := g.httpServer.Start(); err != nil {
			g.logger.Error("http server exited", clog.Error(err))
			g.cancel()
		}
	}()

	g.healthProbe.SetReady(true)
	return nil
}

// Done 在服务异常退出时关闭
func (g *Gateway) Done() <-chan struct{} {
	return g.ctx.Done()
}

// Close 优雅关闭资源
func (g *Gateway) Close() error {
	if g.logger != nil {
		g.logger.Info("shutting down gateway...")
	}
	if g.healthProbe != nil {
		g.healthProbe.SetReady(false)
		g.healthProbe.SetShutdown(true)
	}
	g.cancel()

	// 1. 停止接收新的 HTTP 请求与握手
	httpShutdownCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()

	if g.httpServer != nil {
		if err := g.httpServer.Stop(httpShutdownCtx); err != nil && g.logger != nil {
			g.logger.Warn("http server shutdown failed", clog.Error(err))
		}
	}

	// 2. 释放核心资源（带超时控制）
	if g.resources != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		done := make(chan struct{})
		go func() {
			res := g.resources
			// 已升级的连接不受 http.Server 管理，需要主动关闭
			if res.hub != nil {
				res.hub.CloseAll()
			}
			if res.userRepo != nil {
				res.userRepo.Close()
			}
			if res.chatRepo != nil {
				res.chatRepo.Close()
			}
			if res.messageRepo != nil {
				res.messageRepo.Close()
			}
			if res.database != nil {
				res.database.Close()
			}
			if res.postgresConn != nil {
				res.postgresConn.Close()
			}
			close(done)
		}()

		select {
		case <-done:
		case <-shutdownCtx.Done():
			if g.logger != nil {
				g.logger.Warn("resource shutdown timed out after 10s, some connections may not be closed cleanly")
			}
		}
	}

	// 3. 关闭可观测性组件
	if err := observability.Shutdown(context.Background()); err != nil && g.logger != nil {
		g.logger.Error("observability shutdown failed", clog.Error(err))
	}

	return nil
}
