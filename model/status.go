package model

// MessageStatus 消息投递状态，只能单调前进：sent -> delivered -> read
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

func (s MessageStatus) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// Valid 是否为已知状态
func (s MessageStatus) Valid() bool {
	return s.rank() > 0
}

// Next 返回紧邻的后继状态，read 没有后继
func (s MessageStatus) Next() (MessageStatus, bool) {
	switch s {
	case StatusSent:
		return StatusDelivered, true
	case StatusDelivered:
		return StatusRead, true
	default:
		return "", false
	}
}

// CanTransitionTo 单步状态迁移：只允许迁移到紧邻的后继状态
func (s MessageStatus) CanTransitionTo(next MessageStatus) bool {
	n, ok := s.Next()
	return ok && n == next
}

// Advances 批量已读使用：next 是否严格位于 s 之后
func (s MessageStatus) Advances(next MessageStatus) bool {
	return s.Valid() && next.Valid() && next.rank() > s.rank()
}

// Before 返回严格位于 s 之前的所有状态，用于条件更新
func (s MessageStatus) Before() []MessageStatus {
	var out []MessageStatus
	for _, st := range []MessageStatus{StatusSent, StatusDelivered, StatusRead} {
		if st.rank() < s.rank() {
			out = append(out, st)
		}
	}
	return out
}
