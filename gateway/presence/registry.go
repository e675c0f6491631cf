// Package presence 维护本节点的在线状态：用户 -> 活跃连接集合。
//
// 用户在线当且仅当至少有一个活跃连接。所有操作在同一把锁内完成，
// 因此并发的连接/断开对同一用户也不会丢失更新。
package presence

import (
	"sort"
	"sync"
)

// Registry 在线用户注册表
type Registry struct {
	mu    sync.Mutex
	users map[string]map[string]struct{}
}

// NewRegistry 创建在线用户注册表
func NewRegistry() *Registry {
	return &Registry{users: make(map[string]map[string]struct{})}
}

// Add 记录用户的一个连接，返回是否为该用户的首个连接
func (r *Registry) Add(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.users[userID]
	if !ok {
		conns = make(map[string]struct{})
		r.users[userID] = conns
	}
	conns[connID] = struct{}{}
	return !ok
}

// Remove 移除用户的一个连接，返回该用户是否因此下线
// 未登记的用户或连接返回 false，不会产生额外的下线事件
func (r *Registry) Remove(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.users[userID]
	if !ok {
		return false
	}
	if _, ok := conns[connID]; !ok {
		return false
	}
	delete(conns, connID)
	if len(conns) > 0 {
		return false
	}
	delete(r.users, userID)
	return true
}

// IsOnline 用户是否在线
func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.users[userID]
	return ok
}

// Snapshot 返回当前所有在线用户 ID（有序）
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// ConnectionCount 用户的活跃连接数
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users[userID])
}

// OnlineCount 在线用户数
func (r *Registry) OnlineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}
