package socket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/hey/gateway/connection"
	"github.com/ceyewan/hey/gateway/presence"
	"github.com/ceyewan/hey/gateway/protocol"
	"github.com/ceyewan/hey/model"
	"github.com/ceyewan/hey/repo"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// 连接
// ============================================================================

type fakeConn struct {
	id     string
	mu     sync.Mutex
	events []*protocol.Envelope
	closed bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string         { return c.id }
func (c *fakeConn) RemoteAddr() string { return "127.0.0.1:0" }

func (c *fakeConn) Send(env *protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	c.events = append(c.events, env)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// received 返回指定事件的所有载荷
func (c *fakeConn) received(event string) []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []json.RawMessage
	for _, env := range c.events {
		if env.Event == event {
			out = append(out, env.Data)
		}
	}
	return out
}

func (c *fakeConn) eventNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.events))
	for _, env := range c.events {
		names = append(names, env.Event)
	}
	return names
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

// ============================================================================
// 存储
// ============================================================================

type fakeUserStore struct {
	users map[string]*model.User
	err   error
}

func (s *fakeUserStore) GetUserByID(_ context.Context, userID string) (*model.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	u, ok := s.users[userID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return u, nil
}

type fakeChatStore struct {
	mu      sync.Mutex
	chats   map[string]*model.Chat
	listErr error
	getErr  error
	last    map[string]string
	panicOn string
}

func newFakeChatStore(chats ...*model.Chat) *fakeChatStore {
	s := &fakeChatStore{chats: make(map[string]*model.Chat), last: make(map[string]string)}
	for _, c := range chats {
		s.chats[c.ID] = c
	}
	return s
}

func (s *fakeChatStore) GetChat(_ context.Context, chatID string) (*model.Chat, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	c, ok := s.chats[chatID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return c, nil
}

func (s *fakeChatStore) GetChatForParticipant(ctx context.Context, chatID, userID string) (*model.Chat, error) {
	if s.panicOn == chatID {
		panic("boom")
	}
	c, err := s.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(userID) {
		return nil, repo.ErrNotFound
	}
	return c, nil
}

func (s *fakeChatStore) ListChatsByParticipant(_ context.Context, userID string) ([]*model.Chat, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*model.Chat
	for _, c := range s.chats {
		if c.HasParticipant(userID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeChatStore) SetLastMessage(_ context.Context, chatID, messageID string, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[chatID] = messageID
	return true, nil
}

func (s *fakeChatStore) lastMessage(chatID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[chatID]
}

type fakeMessageStore struct {
	mu        sync.Mutex
	msgs      map[string]*model.Message
	createErr error
	created   int
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{msgs: make(map[string]*model.Message)}
}

func (s *fakeMessageStore) CreateMessage(_ context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	cp := *msg
	s.msgs[msg.ID] = &cp
	s.created++
	return nil
}

func (s *fakeMessageStore) GetMessage(_ context.Context, messageID string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[messageID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *fakeMessageStore) UpdateStatus(_ context.Context, messageID string, from, to model.MessageStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[messageID]
	if !ok || m.Status != from || !from.CanTransitionTo(to) {
		return false, nil
	}
	m.Status = to
	return true, nil
}

func (s *fakeMessageStore) put(msg *model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs[msg.ID] = msg
}

func (s *fakeMessageStore) status(messageID string) model.MessageStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msgs[messageID].Status
}

type fakeVerifier struct {
	tokens map[string]string
}

func (v *fakeVerifier) Verify(token string) (string, error) {
	if uid, ok := v.tokens[token]; ok {
		return uid, nil
	}
	return "", errors.New("invalid token")
}

// ============================================================================
// 测试环境
// ============================================================================

type testEnv struct {
	gateway  *Gateway
	hub      *connection.Hub
	registry *presence.Registry
	users    *fakeUserStore
	chats    *fakeChatStore
	messages *fakeMessageStore
}

func newTestEnv(chats ...*model.Chat) *testEnv {
	users := &fakeUserStore{users: map[string]*model.User{
		"u1": {ID: "u1", Username: "alice", AvatarURL: "a.png"},
		"u2": {ID: "u2", Username: "bob"},
		"u3": {ID: "u3", Username: "carol"},
	}}
	chatStore := newFakeChatStore(chats...)
	messages := newFakeMessageStore()
	hub := connection.NewHub(clog.Discard())
	registry := presence.NewRegistry()
	verifier := &fakeVerifier{tokens: map[string]string{"T1": "u1", "T2": "u2", "T3": "u3", "TX": "ghost"}}

	return &testEnv{
		gateway:  NewGateway(verifier, users, chatStore, messages, registry, hub, clog.Discard()),
		hub:      hub,
		registry: registry,
		users:    users,
		chats:    chatStore,
		messages: messages,
	}
}

// connect 以指定用户建立一个连接
func (e *testEnv) connect(t *testing.T, connID, userID string) (*fakeConn, *Session) {
	t.Helper()
	user, err := e.users.GetUserByID(context.Background(), userID)
	require.NoError(t, err)
	conn := newFakeConn(connID)
	return conn, e.gateway.Connect(context.Background(), conn, user)
}

// send 模拟客户端发送事件
func (e *testEnv) send(t *testing.T, sess *Session, event string, data any) {
	t.Helper()
	env, err := protocol.NewEnvelope(event, data)
	require.NoError(t, err)
	e.gateway.Dispatch(context.Background(), sess, env)
}

func chat(id string, userIDs ...string) *model.Chat {
	c := &model.Chat{ID: id}
	for _, uid := range userIDs {
		c.Participants = append(c.Participants, &model.User{ID: uid})
	}
	return c
}
