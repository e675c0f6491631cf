package protocol

import (
	"context"
)

// Handler 处理单个连接上的事件
type Handler interface {
	// HandleEnvelope 处理接收到的事件，同一连接上的事件按到达顺序串行调用
	HandleEnvelope(ctx context.Context, conn Connection, env *Envelope)
	// HandleInvalid 收到无法解码的帧时调用，err 为 ErrMalformedFrame 或 ErrMissingEvent
	HandleInvalid(ctx context.Context, conn Connection, err error)
	// HandleClose 连接关闭时调用，每个连接恰好一次
	HandleClose(conn Connection)
}

// Connection 表示一个 WebSocket 连接的抽象
type Connection interface {
	// ID 连接唯一标识
	ID() string
	// Send 发送事件到客户端（非阻塞）
	Send(env *Envelope) error
	// Close 关闭连接
	Close() error
	// RemoteAddr 获取远程地址
	RemoteAddr() string
}
