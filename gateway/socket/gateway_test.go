package socket

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ceyewan/hey/gateway/protocol"
	"github.com/ceyewan/hey/pkg/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentials_BearerToken(t *testing.T) {
	tests := []struct {
		name  string
		creds Credentials
		want  string
	}{
		{"连接参数优先", Credentials{Token: "T1", Authorization: "Bearer T2"}, "T1"},
		{"回退到 Authorization 头", Credentials{Authorization: "Bearer T2"}, "T2"},
		{"大小写不敏感", Credentials{Authorization: "bearer T2"}, "T2"},
		{"非 Bearer 头", Credentials{Authorization: "Basic abc"}, ""},
		{"只有前缀", Credentials{Authorization: "Bearer "}, ""},
		{"都为空", Credentials{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.creds.BearerToken())
		})
	}
}

func TestGateway_Authenticate(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	t.Run("缺少令牌", func(t *testing.T) {
		_, err := env.gateway.Authenticate(ctx, Credentials{})
		require.Error(t, err)
		assert.Equal(t, "AuthenticationError: no token", err.Error())
		assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))
	})

	t.Run("令牌无效", func(t *testing.T) {
		_, err := env.gateway.Authenticate(ctx, Credentials{Token: "bogus"})
		require.Error(t, err)
		assert.Equal(t, "AuthenticationError: invalid token", err.Error())
	})

	t.Run("用户不存在", func(t *testing.T) {
		_, err := env.gateway.Authenticate(ctx, Credentials{Token: "TX"})
		require.Error(t, err)
		assert.Equal(t, "AuthenticationError: user not found", err.Error())
	})

	t.Run("存储故障也拒绝握手", func(t *testing.T) {
		broken := newTestEnv()
		broken.users.err = errors.New("db down")
		_, err := broken.gateway.Authenticate(ctx, Credentials{Token: "T1"})
		require.Error(t, err)
		assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))
	})

	t.Run("通过 Authorization 头认证", func(t *testing.T) {
		user, err := env.gateway.Authenticate(ctx, Credentials{Authorization: "Bearer T1"})
		require.NoError(t, err)
		assert.Equal(t, "u1", user.ID)
	})

	// 拒绝握手不产生任何连接状态
	assert.Empty(t, env.registry.Snapshot())
	assert.Equal(t, 0, env.hub.Count())
}

func TestGateway_Connect(t *testing.T) {
	t.Run("上线通知联系人并下发在线列表", func(t *testing.T) {
		env := newTestEnv(chat("c1", "u1", "u2"))

		bob, _ := env.connect(t, "conn-b", "u2")
		bob.reset()

		alice, _ := env.connect(t, "conn-a", "u1")

		online := bob.received(protocol.EventUserOnline)
		require.Len(t, online, 1)
		assert.Equal(t, "u1", decode[protocol.PresencePayload](t, online[0]).UserID)

		// 首个下发给新连接的事件是在线列表
		require.NotEmpty(t, alice.eventNames())
		assert.Equal(t, protocol.EventOnlineUsers, alice.eventNames()[0])
		list := decode[[]protocol.OnlineUser](t, alice.received(protocol.EventOnlineUsers)[0])
		ids := []string{list[0].UserID, list[1].UserID}
		sort.Strings(ids)
		assert.Equal(t, []string{"u1", "u2"}, ids)

		rooms := env.hub.Rooms("conn-a")
		sort.Strings(rooms)
		assert.Equal(t, []string{"c1", "u1"}, rooms)
	})

	t.Run("联系人不在线时上线通知为空操作", func(t *testing.T) {
		env := newTestEnv(chat("c1", "u1", "u2"))
		alice, sess := env.connect(t, "conn-a", "u1")

		assert.Equal(t, []string{protocol.EventOnlineUsers}, alice.eventNames())
		assert.Equal(t, []string{"u2"}, sess.Contacts())
	})

	t.Run("加载会话失败时只加入个人房间", func(t *testing.T) {
		env := newTestEnv(chat("c1", "u1", "u2"))
		env.chats.listErr = errors.New("db down")

		_, sess := env.connect(t, "conn-a", "u1")
		assert.Equal(t, []string{"u1"}, env.hub.Rooms("conn-a"))
		assert.Empty(t, sess.ChatIDs())
		assert.True(t, env.registry.IsOnline("u1"))
	})

	t.Run("联系人去重且排除自己", func(t *testing.T) {
		env := newTestEnv(chat("c1", "u1", "u2"), chat("c2", "u1", "u2", "u3"))
		_, sess := env.connect(t, "conn-a", "u1")

		contacts := append([]string(nil), sess.Contacts()...)
		sort.Strings(contacts)
		assert.Equal(t, []string{"u2", "u3"}, contacts)
		assert.Len(t, sess.ChatIDs(), 2)
	})
}

func TestGateway_Disconnect(t *testing.T) {
	t.Run("多端连接只在最后一个断开时下线", func(t *testing.T) {
		env := newTestEnv(chat("c1", "u1", "u2"))
		bob, _ := env.connect(t, "conn-b", "u2")
		_, phone := env.connect(t, "conn-a1", "u1")
		_, laptop := env.connect(t, "conn-a2", "u1")

		env.gateway.Disconnect(context.Background(), phone)
		assert.Empty(t, bob.received(protocol.EventUserOffline))
		assert.True(t, env.registry.IsOnline("u1"))

		env.gateway.Disconnect(context.Background(), laptop)
		offline := bob.received(protocol.EventUserOffline)
		require.Len(t, offline, 1)
		assert.Equal(t, "u1", decode[protocol.PresencePayload](t, offline[0]).UserID)
		assert.False(t, env.registry.IsOnline("u1"))
	})

	t.Run("重复断开不重复广播", func(t *testing.T) {
		env := newTestEnv(chat("c1", "u1", "u2"))
		bob, _ := env.connect(t, "conn-b", "u2")
		_, sess := env.connect(t, "conn-a", "u1")

		env.gateway.Disconnect(context.Background(), sess)
		env.gateway.Disconnect(context.Background(), sess)
		env.gateway.Handler(sess).HandleClose(nil)

		assert.Len(t, bob.received(protocol.EventUserOffline), 1)
		assert.Equal(t, 1, env.hub.Count())
	})

	t.Run("断开后不再处理事件", func(t *testing.T) {
		env := newTestEnv(chat("c1", "u1", "u2"))
		_, sess := env.connect(t, "conn-a", "u1")
		env.gateway.Disconnect(context.Background(), sess)

		env.send(t, sess, protocol.EventSendMessage, &protocol.SendMessageRequest{ChatID: "c1", Content: "late"})
		assert.Equal(t, 0, env.messages.created)
	})
}

func TestGateway_Reject(t *testing.T) {
	t.Run("缺少事件名映射到 event 字段", func(t *testing.T) {
		env := newTestEnv(chat("c1", "u1", "u2"))
		conn, sess := env.connect(t, "conn-a", "u1")
		conn.reset()

		env.gateway.Handler(sess).HandleInvalid(context.Background(), nil, protocol.ErrMissingEvent)

		require.Equal(t, []string{protocol.EventError}, conn.eventNames())
		got := decode[protocol.ErrorPayload](t, conn.received(protocol.EventError)[0])
		assert.Equal(t, apperr.MsgInvalidData, got.Message)
		assert.Contains(t, got.Details, "event")
	})

	t.Run("已断开的会话不再回复", func(t *testing.T) {
		env := newTestEnv(chat("c1", "u1", "u2"))
		conn, sess := env.connect(t, "conn-a", "u1")
		env.gateway.Disconnect(context.Background(), sess)
		conn.reset()

		env.gateway.Reject(context.Background(), sess, errors.New("garbage"))
		assert.Empty(t, conn.eventNames())
	})
}

func TestGateway_UnknownEvent(t *testing.T) {
	env := newTestEnv()
	conn, sess := env.connect(t, "conn-a", "u1")

	env.send(t, sess, "launch_rockets", map[string]string{"x": "y"})

	errs := conn.received(protocol.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "Unknown event: launch_rockets", decode[protocol.ErrorPayload](t, errs[0]).Message)
}

// stallingConn 在第一次收到指定事件时阻塞，直到 release 被关闭
type stallingConn struct {
	*fakeConn
	event   string
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (c *stallingConn) Send(env *protocol.Envelope) error {
	if env.Event == c.event {
		c.once.Do(func() {
			close(c.entered)
			<-c.release
		})
	}
	return c.fakeConn.Send(env)
}

func TestGateway_PresenceOrdering(t *testing.T) {
	t.Run("下线广播未完成时重新上线，联系人最后看到的是上线", func(t *testing.T) {
		env := newTestEnv(chat("c1", "u1", "u2"))
		bobUser, err := env.users.GetUserByID(context.Background(), "u2")
		require.NoError(t, err)
		bob := &stallingConn{
			fakeConn: newFakeConn("conn-b"),
			event:    protocol.EventUserOffline,
			entered:  make(chan struct{}),
			release:  make(chan struct{}),
		}
		env.gateway.Connect(context.Background(), bob, bobUser)
		_, phone := env.connect(t, "conn-a1", "u1")

		// 最后一个连接断开，下线广播卡在 bob 的连接上
		disconnected := make(chan struct{})
		go func() {
			env.gateway.Disconnect(context.Background(), phone)
			close(disconnected)
		}()
		<-bob.entered

		// 同一用户在广播完成前重新连接
		alice, err := env.users.GetUserByID(context.Background(), "u1")
		require.NoError(t, err)
		reconnected := make(chan struct{})
		go func() {
			env.gateway.Connect(context.Background(), newFakeConn("conn-a2"), alice)
			close(reconnected)
		}()
		time.Sleep(50 * time.Millisecond)
		close(bob.release)
		<-disconnected
		<-reconnected

		assert.True(t, env.registry.IsOnline("u1"))
		var presence []string
		for _, name := range bob.eventNames() {
			if name == protocol.EventUserOnline || name == protocol.EventUserOffline {
				presence = append(presence, name)
			}
		}
		require.NotEmpty(t, presence)
		assert.Equal(t, protocol.EventUserOnline, presence[len(presence)-1], "presence events: %v", presence)
	})
}
