package connection

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/hey/gateway/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Options 连接参数
type Options struct {
	MaxMessageSize int64
	PingInterval   time.Duration
	PongTimeout    time.Duration
	SendBuffer     int
}

func (o Options) withDefaults() Options {
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 * 1024
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	return o
}

// Conn 表示一个 WebSocket 连接
type Conn struct {
	id         string
	conn       *websocket.Conn
	send       chan *protocol.Envelope
	logger     clog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
	running    atomic.Bool
	remoteAddr string
	opts       Options
}

// NewConn 创建新的连接
func NewConn(conn *websocket.Conn, logger clog.Logger, opts Options) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	opts = opts.withDefaults()
	return &Conn{
		id:         uuid.NewString(),
		conn:       conn,
		send:       make(chan *protocol.Envelope, opts.SendBuffer),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		remoteAddr: conn.RemoteAddr().String(),
		opts:       opts,
	}
}

// ID 实现 protocol.Connection 接口
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr 实现 protocol.Connection 接口
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// Context 连接生命周期 context，连接关闭时取消
func (c *Conn) Context() context.Context {
	return c.ctx
}

// Send 实现 protocol.Connection 接口
// 发送队列满时直接丢弃，慢连接不能拖住广播方
func (c *Conn) Send(env *protocol.Envelope) error {
	select {
	case <-c.ctx.Done():
		return fmt.Errorf("connection closed")
	default:
	}

	select {
	case c.send <- env:
		return nil
	case <-c.ctx.Done():
		return fmt.Errorf("connection closed")
	default:
		return fmt.Errorf("send buffer full")
	}
}

// Close 实现 protocol.Connection 接口
// send 通道不关闭，writePump 通过 ctx 退出后负责发送关闭帧并释放底层连接
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		if !c.running.Load() {
			c.conn.Close()
		}
	})
	return nil
}

// Run 启动连接的读写协程，handler 在读协程中串行调用
func (c *Conn) Run(handler protocol.Handler) {
	c.running.Store(true)
	go c.writePump()
	go c.readPump(handler)
}

// readPump 从 WebSocket 读取消息
func (c *Conn) readPump(handler protocol.Handler) {
	defer func() {
		c.Close()
		handler.HandleClose(c)
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error",
					clog.String("conn_id", c.id),
					clog.Error(err))
			}
			return
		}

		// 解码消息
		env, err := protocol.Decode(message)
		if err != nil {
			c.logger.Warn("failed to decode envelope",
				clog.String("conn_id", c.id),
				clog.Error(err))
			handler.HandleInvalid(c.ctx, c, err)
			continue
		}

		// 处理消息
		handler.HandleEnvelope(c.ctx, c, env)
	}
}

// writePump 向 WebSocket 写入消息
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.send:
			// 编码消息
			data, err := protocol.Encode(env)
			if err != nil {
				c.logger.Error("failed to encode envelope",
					clog.String("conn_id", c.id),
					clog.String("event", env.Event),
					clog.Error(err))
				continue
			}

			// 发送消息
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("failed to write message",
					clog.String("conn_id", c.id),
					clog.Error(err))
				return
			}

		case <-ticker.C:
			// 发送心跳
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
