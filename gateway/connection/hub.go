package connection

import (
	"sync"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/hey/gateway/protocol"
)

// Hub 管理本节点所有连接及其房间成员关系
//
// 房间是纯粹的广播分组：会话 ID 作为会话房间，用户 ID 作为该用户所有连接的个人房间。
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]protocol.Connection // connID -> conn
	rooms  map[string]map[string]struct{} // room -> connIDs
	joined map[string]map[string]struct{} // connID -> rooms
	logger clog.Logger
}

// NewHub 创建连接管理器
func NewHub(logger clog.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]protocol.Connection),
		rooms:  make(map[string]map[string]struct{}),
		joined: make(map[string]map[string]struct{}),
		logger: logger,
	}
}

// Register 登记连接
func (h *Hub) Register(conn protocol.Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns[conn.ID()] = conn
	if _, ok := h.joined[conn.ID()]; !ok {
		h.joined[conn.ID()] = make(map[string]struct{})
	}
}

// Unregister 移除连接并退出其所有房间，返回连接此前是否已登记
func (h *Hub) Unregister(connID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, ok := h.conns[connID]
	if !ok {
		return false
	}
	delete(h.conns, connID)

	for room := range h.joined[connID] {
		members := h.rooms[room]
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(h.joined, connID)
	return true
}

// Join 将连接加入房间，未登记的连接忽略
func (h *Hub) Join(connID string, rooms ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[connID]; !ok {
		return
	}
	for _, room := range rooms {
		if room == "" {
			continue
		}
		members, ok := h.rooms[room]
		if !ok {
			members = make(map[string]struct{})
			h.rooms[room] = members
		}
		members[connID] = struct{}{}
		h.joined[connID][room] = struct{}{}
	}
}

// Rooms 返回连接加入的房间
func (h *Hub) Rooms(connID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms := make([]string, 0, len(h.joined[connID]))
	for room := range h.joined[connID] {
		rooms = append(rooms, room)
	}
	return rooms
}

// Members 返回房间内的连接数
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Count 当前连接数
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// EmitToRoom 向房间广播事件，exceptConnID 非空时跳过该连接
// 发送失败（缓冲区满或已关闭）只记录日志，返回成功投递的连接数
func (h *Hub) EmitToRoom(room string, env *protocol.Envelope, exceptConnID string) int {
	h.mu.RLock()
	targets := make([]protocol.Connection, 0, len(h.rooms[room]))
	for connID := range h.rooms[room] {
		if connID == exceptConnID {
			continue
		}
		if conn, ok := h.conns[connID]; ok {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if err := conn.Send(env); err != nil {
			h.logger.Warn("failed to deliver event",
				clog.String("room", room),
				clog.String("event", env.Event),
				clog.String("conn_id", conn.ID()),
				clog.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}

// CloseAll 关闭所有连接（用于优雅关闭）
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]protocol.Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.Close()
	}
}
