package socket

import (
	"sync/atomic"
	"time"

	"github.com/ceyewan/hey/gateway/protocol"
	"github.com/ceyewan/hey/model"
)

// Session 已认证连接的上下文，在握手成功后创建并显式传给每个事件处理函数
type Session struct {
	conn        protocol.Connection
	user        *model.User
	connectedAt time.Time

	// 上线时加载的会话与联系人，下线时直接复用
	chatIDs  []string
	contacts []string

	closed atomic.Bool
}

func newSession(conn protocol.Connection, user *model.User) *Session {
	return &Session{
		conn:        conn,
		user:        user,
		connectedAt: time.Now(),
	}
}

// ConnID 连接 ID
func (s *Session) ConnID() string {
	return s.conn.ID()
}

// UserID 用户 ID
func (s *Session) UserID() string {
	return s.user.ID
}

// User 已认证用户
func (s *Session) User() *model.User {
	return s.user
}

// ChatIDs 上线时加入的会话房间
func (s *Session) ChatIDs() []string {
	return s.chatIDs
}

// Contacts 上线时计算出的联系人
func (s *Session) Contacts() []string {
	return s.contacts
}

// Emit 仅向当前连接发送事件
func (s *Session) Emit(event string, data any) error {
	env, err := protocol.NewEnvelope(event, data)
	if err != nil {
		return err
	}
	return s.conn.Send(env)
}
