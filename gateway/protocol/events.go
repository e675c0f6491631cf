package protocol

import (
	"time"

	"github.com/ceyewan/hey/model"
)

// 客户端 -> 服务端事件
const (
	EventSendMessage      = "send_message"
	EventTypingStarted    = "typing_started"
	EventTypingStopped    = "typing_stopped"
	EventMessageDelivered = "message_delivered"
	EventMessagesRead     = "messages_read"
)

// 服务端 -> 客户端事件
const (
	EventOnlineUsers            = "online_users"
	EventUserOnline             = "user_online"
	EventUserOffline            = "user_offline"
	EventMessageReceived        = "message_received"
	EventTypingIndicator        = "typing_indicator"
	EventTypingIndicatorStopped = "typing_indicator_stopped"
	EventMessageStatusUpdated   = "message_status_updated"
	EventMessagesMarkedAsRead   = "messages_marked_as_read"
	EventError                  = "error"
)

// SendMessageRequest send_message 载荷
type SendMessageRequest struct {
	ChatID  string `json:"chatId" validate:"required,max=64"`
	Content string `json:"content" validate:"required,notblank,max=5000"`
}

// TypingRequest typing_started / typing_stopped 载荷
type TypingRequest struct {
	ChatID string `json:"chatId" validate:"required,max=64"`
}

// MessageDeliveredRequest message_delivered 载荷
type MessageDeliveredRequest struct {
	MessageID string `json:"messageId" validate:"required,max=64"`
	ChatID    string `json:"chatId" validate:"required,max=64"`
}

// MessagesReadRequest messages_read 载荷
type MessagesReadRequest struct {
	ChatID string `json:"chatId" validate:"required,max=64"`
}

// OnlineUser online_users 列表项
type OnlineUser struct {
	UserID string `json:"userId"`
}

// PresencePayload user_online / user_offline 载荷
type PresencePayload struct {
	UserID string `json:"userId"`
}

// TypingUser 正在输入的用户
type TypingUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// TypingPayload typing_indicator 载荷
type TypingPayload struct {
	ChatID string      `json:"chatId"`
	User   *TypingUser `json:"user"`
}

// TypingStoppedPayload typing_indicator_stopped 载荷
type TypingStoppedPayload struct {
	ChatID string `json:"chatId"`
}

// SenderInfo 消息发送者展示信息
type SenderInfo struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// MessagePayload message_received 载荷
type MessagePayload struct {
	ID        string              `json:"id"`
	ChatID    string              `json:"chatId"`
	Content   string              `json:"content"`
	Status    model.MessageStatus `json:"status"`
	Sender    *SenderInfo         `json:"sender"`
	CreatedAt time.Time           `json:"createdAt"`
}

// NewMessagePayload 由消息与发送者构造下发载荷
func NewMessagePayload(msg *model.Message, sender *model.User) *MessagePayload {
	p := &MessagePayload{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		Content:   msg.Content,
		Status:    msg.Status,
		CreatedAt: msg.CreatedAt,
	}
	if sender != nil {
		p.Sender = &SenderInfo{ID: sender.ID, Username: sender.Username, AvatarURL: sender.AvatarURL}
	}
	return p
}

// StatusPayload message_status_updated 载荷
type StatusPayload struct {
	MessageID string              `json:"messageId"`
	ChatID    string              `json:"chatId"`
	Status    model.MessageStatus `json:"status"`
}

// ReadPayload messages_marked_as_read 载荷
type ReadPayload struct {
	ChatID   string `json:"chatId"`
	ReaderID string `json:"readerId"`
}

// ErrorPayload error 载荷
type ErrorPayload struct {
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}
