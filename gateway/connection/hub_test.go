package connection

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/hey/gateway/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	events []*protocol.Envelope
	full   bool
	closed bool
}

func (c *fakeConn) ID() string         { return c.id }
func (c *fakeConn) RemoteAddr() string { return "127.0.0.1:0" }

func (c *fakeConn) Send(env *protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return fmt.Errorf("send buffer full")
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

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestHub(t *testing.T) {
	env, err := protocol.NewEnvelope(protocol.EventUserOnline, &protocol.PresencePayload{UserID: "u1"})
	require.NoError(t, err)

	t.Run("房间广播与排除发送者", func(t *testing.T) {
		h := NewHub(clog.Discard())
		a, b, c := &fakeConn{id: "a"}, &fakeConn{id: "b"}, &fakeConn{id: "c"}
		for _, conn := range []*fakeConn{a, b, c} {
			h.Register(conn)
		}
		h.Join("a", "chat-1", "user-a")
		h.Join("b", "chat-1")

		assert.Equal(t, 2, h.EmitToRoom("chat-1", env, ""))
		assert.Equal(t, 1, h.EmitToRoom("chat-1", env, "a"))
		assert.Equal(t, 0, h.EmitToRoom("nobody", env, ""))

		assert.Equal(t, 1, a.count())
		assert.Equal(t, 2, b.count())
		assert.Equal(t, 0, c.count())
	})

	t.Run("注销后退出所有房间且幂等", func(t *testing.T) {
		h := NewHub(clog.Discard())
		a := &fakeConn{id: "a"}
		h.Register(a)
		h.Join("a", "r1", "r2")

		rooms := h.Rooms("a")
		sort.Strings(rooms)
		assert.Equal(t, []string{"r1", "r2"}, rooms)

		assert.True(t, h.Unregister("a"))
		assert.False(t, h.Unregister("a"))
		assert.Equal(t, 0, h.Members("r1"))
		assert.Equal(t, 0, h.Count())
		assert.Equal(t, 0, h.EmitToRoom("r1", env, ""))
	})

	t.Run("未登记连接不能加入房间", func(t *testing.T) {
		h := NewHub(clog.Discard())
		h.Join("ghost", "r1")
		assert.Equal(t, 0, h.Members("r1"))
	})

	t.Run("慢连接不影响其他连接", func(t *testing.T) {
		h := NewHub(clog.Discard())
		slow, fast := &fakeConn{id: "slow", full: true}, &fakeConn{id: "fast"}
		h.Register(slow)
		h.Register(fast)
		h.Join("slow", "r")
		h.Join("fast", "r")

		assert.Equal(t, 1, h.EmitToRoom("r", env, ""))
		assert.Equal(t, 1, fast.count())
	})

	t.Run("关闭所有连接", func(t *testing.T) {
		h := NewHub(clog.Discard())
		a := &fakeConn{id: "a"}
		h.Register(a)
		h.CloseAll()
		assert.True(t, a.closed)
	})
}
