package socket

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/hey/gateway/config"
	"github.com/ceyewan/hey/gateway/connection"
	"github.com/ceyewan/hey/pkg/apperr"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Handler 处理 WebSocket 连接握手和生命周期
type Handler struct {
	logger   clog.Logger
	gateway  *Gateway
	upgrader *websocket.Upgrader
	config   config.WSConfig
}

// NewHandler 创建 WebSocket 处理器
func NewHandler(logger clog.Logger, gateway *Gateway, cfg config.WSConfig) *Handler {
	upgrader := &websocket.Upgrader{
		ReadBufferSize:  cfg.GetReadBufferSize(),
		WriteBufferSize: cfg.GetWriteBufferSize(),
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}

	return &Handler{
		logger:   logger,
		gateway:  gateway,
		upgrader: upgrader,
		config:   cfg,
	}
}

// HandleWebSocket 处理握手请求
// 认证在升级之前完成，失败时直接返回 401，不产生任何连接状态
func (h *Handler) HandleWebSocket(c *gin.Context) {
	creds := Credentials{
		Token:         c.Query("token"),
		Authorization: c.GetHeader("Authorization"),
	}

	user, err := h.gateway.Authenticate(c.Request.Context(), creds)
	if err != nil {
		c.AbortWithStatusJSON(apperr.KindOf(err).HTTPStatus(), gin.H{"error": err.Error()})
		return
	}

	// 升级连接
	wsConn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket", clog.String("user_id", user.ID), clog.Error(err))
		return
	}

	// 创建连接对象
	conn := connection.NewConn(wsConn, h.logger.WithNamespace("conn"), h.config.ConnOptions())

	// 上线流程在读写协程启动前完成，保证首个下发事件是 online_users
	sess := h.gateway.Connect(conn.Context(), conn, user)
	conn.Run(h.gateway.Handler(sess))
}

// originChecker 为空时允许所有来源
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}
