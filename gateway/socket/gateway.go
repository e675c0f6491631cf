package socket

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/hey/gateway/connection"
	"github.com/ceyewan/hey/gateway/observability"
	"github.com/ceyewan/hey/gateway/presence"
	"github.com/ceyewan/hey/gateway/protocol"
	"github.com/ceyewan/hey/model"
	"github.com/ceyewan/hey/pkg/apperr"
	"github.com/ceyewan/hey/repo"
)

// 握手拒绝原因
const (
	reasonNoToken      = "no token"
	reasonInvalidToken = "invalid token"
	reasonUserNotFound = "user not found"
)

// eventInvalidFrame 无法解码的帧在日志中的事件名
const eventInvalidFrame = "invalid_frame"

// TokenVerifier 校验令牌并返回用户 ID
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// UserStore 握手时加载用户
type UserStore interface {
	GetUserByID(ctx context.Context, userID string) (*model.User, error)
}

// Credentials 握手凭证：优先使用连接参数中的 token，其次是 Authorization 头
type Credentials struct {
	Token         string
	Authorization string
}

// BearerToken 按优先级提取令牌
func (c Credentials) BearerToken() string {
	if t := strings.TrimSpace(c.Token); t != "" {
		return t
	}
	h := strings.TrimSpace(c.Authorization)
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// Gateway 负责连接的认证、上下线与事件路由
type Gateway struct {
	verifier   TokenVerifier
	users      UserStore
	chats      ChatStore
	registry   *presence.Registry
	hub        *connection.Hub
	validator  *Validator
	dispatcher *Dispatcher
	handlers   map[string]HandlerFunc
	logger     clog.Logger

	presenceLocks userLocks
}

// userLocks 按用户分片的互斥锁
// 同一用户的在线状态变更与对应广播整体串行，联系人看到的上下线顺序与注册表一致
type userLocks [64]sync.Mutex

func (l *userLocks) lock(userID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	mu := &l[h.Sum32()%uint32(len(l))]
	mu.Lock()
	return mu.Unlock
}

// NewGateway 创建连接网关
func NewGateway(
	verifier TokenVerifier,
	users UserStore,
	chats ChatStore,
	messages MessageStore,
	registry *presence.Registry,
	hub *connection.Hub,
	logger clog.Logger,
) *Gateway {
	validator := NewValidator(logger.WithNamespace("validator"))
	dispatcher := NewDispatcher(chats, messages, hub, logger.WithNamespace("dispatcher"))

	return &Gateway{
		verifier:   verifier,
		users:      users,
		chats:      chats,
		registry:   registry,
		hub:        hub,
		validator:  validator,
		dispatcher: dispatcher,
		handlers:   dispatcher.Handlers(validator),
		logger:     logger,
	}
}

// Authenticate 校验握手凭证，失败时返回 AuthenticationError，不会建立连接
func (g *Gateway) Authenticate(ctx context.Context, creds Credentials) (*model.User, error) {
	ctx, end := observability.StartSpan(ctx, "socket.authenticate")
	defer end()

	token := creds.BearerToken()
	if token == "" {
		return nil, g.reject(ctx, reasonNoToken, nil)
	}

	userID, err := g.verifier.Verify(token)
	if err != nil {
		return nil, g.reject(ctx, reasonInvalidToken, err)
	}

	user, err := g.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, g.reject(ctx, reasonUserNotFound, nil)
		}
		// 存储故障同样拒绝握手，但不向客户端暴露原因
		g.logger.ErrorContext(ctx, "failed to load user during handshake",
			clog.String("user_id", userID),
			clog.Error(err))
		return nil, g.reject(ctx, reasonInvalidToken, err)
	}
	return user, nil
}

func (g *Gateway) reject(ctx context.Context, reason string, cause error) error {
	observability.RecordHandshakeRejected(ctx, strings.ReplaceAll(reason, " ", "_"))
	fields := []clog.Field{clog.String("reason", reason)}
	if cause != nil {
		fields = append(fields, clog.Error(cause))
	}
	g.logger.WarnContext(ctx, "handshake rejected", fields...)
	return apperr.Authentication(reason)
}

// Connect 处理连接建立：登记在线、通知联系人、下发在线列表、加入房间
func (g *Gateway) Connect(ctx context.Context, conn protocol.Connection, user *model.User) *Session {
	sess := newSession(conn, user)
	g.hub.Register(conn)

	// 1. 加载会话并计算联系人，失败时降级为只加入个人房间
	chats, err := g.chats.ListChatsByParticipant(ctx, user.ID)
	if err != nil {
		g.logger.ErrorContext(ctx, "failed to load chats on connect, joining personal room only",
			clog.String("user_id", user.ID),
			clog.Error(err))
		chats = nil
	}
	sess.chatIDs, sess.contacts = contactsOf(chats, user.ID)

	// 2. 登记在线并通知联系人，与同一用户的下线广播串行
	unlock := g.presenceLocks.lock(user.ID)
	first := g.registry.Add(user.ID, conn.ID())
	g.notifyContacts(ctx, sess, protocol.EventUserOnline)
	unlock()

	// 3. 下发当前在线用户快照
	online := g.registry.Snapshot()
	list := make([]protocol.OnlineUser, 0, len(online))
	for _, uid := range online {
		list = append(list, protocol.OnlineUser{UserID: uid})
	}
	if err := sess.Emit(protocol.EventOnlineUsers, list); err != nil {
		g.logger.WarnContext(ctx, "failed to emit online users", clog.String("conn_id", conn.ID()), clog.Error(err))
	}

	// 4. 加入个人房间与所有会话房间
	g.hub.Join(conn.ID(), append([]string{user.ID}, sess.chatIDs...)...)

	observability.RecordWebSocketConnectionEstablished(ctx)
	observability.SetWebSocketConnectionsActive(ctx, g.hub.Count())
	observability.SetOnlineUsers(ctx, g.registry.OnlineCount())

	g.logger.InfoContext(ctx, "user connected",
		clog.String("user_id", user.ID),
		clog.String("conn_id", conn.ID()),
		clog.String("remote_addr", conn.RemoteAddr()),
		clog.Int("chats", len(sess.chatIDs)),
		clog.Int("connections", g.registry.ConnectionCount(user.ID)),
		clog.Any("first_connection", first))
	return sess
}

// Disconnect 处理连接断开，可重复调用
// 只有用户最后一个连接断开时才通知联系人下线
func (g *Gateway) Disconnect(ctx context.Context, sess *Session) {
	if !sess.closed.CompareAndSwap(false, true) {
		return
	}

	g.hub.Unregister(sess.ConnID())

	unlock := g.presenceLocks.lock(sess.UserID())
	wentOffline := g.registry.Remove(sess.UserID(), sess.ConnID())
	if wentOffline {
		g.notifyContacts(ctx, sess, protocol.EventUserOffline)
	}
	unlock()

	observability.SetWebSocketConnectionsActive(ctx, g.hub.Count())
	observability.SetOnlineUsers(ctx, g.registry.OnlineCount())

	g.logger.InfoContext(ctx, "user disconnected",
		clog.String("user_id", sess.UserID()),
		clog.String("conn_id", sess.ConnID()),
		clog.Any("offline", wentOffline),
		clog.Duration("duration", time.Since(sess.connectedAt)))
}

// Dispatch 将事件路由到对应的处理函数，未知事件回复 error
func (g *Gateway) Dispatch(ctx context.Context, sess *Session, env *protocol.Envelope) {
	if sess.closed.Load() {
		return
	}
	handle, ok := g.handlers[env.Event]
	if !ok {
		g.validator.Fail(ctx, sess, env.Event, apperr.New(apperr.KindValidation, "Unknown event: "+env.Event))
		return
	}
	handle(ctx, sess, env.Data)
}

// Reject 回复无法解码的帧，按 ValidationError 处理
func (g *Gateway) Reject(ctx context.Context, sess *Session, err error) {
	if sess.closed.Load() {
		return
	}
	details := map[string][]string{"payload": {"must be a JSON object with an event name"}}
	if errors.Is(err, protocol.ErrMissingEvent) {
		details = map[string][]string{"event": {"is required"}}
	}
	g.validator.Fail(ctx, sess, eventInvalidFrame, apperr.Validation(details))
}

// Handler 返回绑定到会话的连接处理器
func (g *Gateway) Handler(sess *Session) protocol.Handler {
	return &sessionHandler{gateway: g, sess: sess}
}

// notifyContacts 向联系人的个人房间广播上下线事件
func (g *Gateway) notifyContacts(ctx context.Context, sess *Session, event string) {
	env, err := protocol.NewEnvelope(event, &protocol.PresencePayload{UserID: sess.UserID()})
	if err != nil {
		g.logger.ErrorContext(ctx, "failed to build presence envelope", clog.Error(err))
		return
	}
	for _, contact := range sess.contacts {
		n := g.hub.EmitToRoom(contact, env, "")
		observability.RecordFanout(ctx, event, n)
	}
}

// contactsOf 汇总用户所在会话的 ID 和其他成员（去重，排除自己）
func contactsOf(chats []*model.Chat, userID string) ([]string, []string) {
	chatIDs := make([]string, 0, len(chats))
	seen := make(map[string]struct{})
	var contacts []string
	for _, c := range chats {
		chatIDs = append(chatIDs, c.ID)
		for _, uid := range c.OtherParticipants(userID) {
			if _, ok := seen[uid]; ok {
				continue
			}
			seen[uid] = struct{}{}
			contacts = append(contacts, uid)
		}
	}
	return chatIDs, contacts
}

// sessionHandler 将连接事件桥接到 Gateway
type sessionHandler struct {
	gateway *Gateway
	sess    *Session
}

func (h *sessionHandler) HandleEnvelope(ctx context.Context, _ protocol.Connection, env *protocol.Envelope) {
	h.gateway.Dispatch(ctx, h.sess, env)
}

func (h *sessionHandler) HandleInvalid(ctx context.Context, _ protocol.Connection, err error) {
	h.gateway.Reject(ctx, h.sess, err)
}

func (h *sessionHandler) HandleClose(_ protocol.Connection) {
	h.gateway.Disconnect(context.Background(), h.sess)
}
