package socket

import (
	"context"
	"errors"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/hey/gateway/connection"
	"github.com/ceyewan/hey/gateway/observability"
	"github.com/ceyewan/hey/gateway/protocol"
	"github.com/ceyewan/hey/model"
	"github.com/ceyewan/hey/pkg/apperr"
	"github.com/ceyewan/hey/repo"
	"github.com/google/uuid"
)

const (
	msgNotParticipant = "You are not a participant of this chat."
	msgSendFailed     = "Failed to send message."
	msgChatNotFound   = "Chat not found."
)

// ChatStore 分发器依赖的会话存储
type ChatStore interface {
	GetChat(ctx context.Context, chatID string) (*model.Chat, error)
	GetChatForParticipant(ctx context.Context, chatID, userID string) (*model.Chat, error)
	ListChatsByParticipant(ctx context.Context, userID string) ([]*model.Chat, error)
	SetLastMessage(ctx context.Context, chatID, messageID string, at time.Time) (bool, error)
}

// MessageStore 分发器依赖的消息存储
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *model.Message) error
	GetMessage(ctx context.Context, messageID string) (*model.Message, error)
	UpdateStatus(ctx context.Context, messageID string, from, to model.MessageStatus) (bool, error)
}

// Dispatcher 处理已认证连接上的消息类事件并扇出到房间
type Dispatcher struct {
	chats    ChatStore
	messages MessageStore
	hub      *connection.Hub
	logger   clog.Logger
	now      func() time.Time
}

// NewDispatcher 创建消息分发器
func NewDispatcher(chats ChatStore, messages MessageStore, hub *connection.Hub, logger clog.Logger) *Dispatcher {
	return &Dispatcher{
		chats:    chats,
		messages: messages,
		hub:      hub,
		logger:   logger,
		now:      time.Now,
	}
}

// Handlers 返回事件名到处理函数的映射
func (d *Dispatcher) Handlers(v *Validator) map[string]HandlerFunc {
	return map[string]HandlerFunc{
		protocol.EventSendMessage:      Validated(v, protocol.EventSendMessage, d.HandleSendMessage),
		protocol.EventTypingStarted:    Validated(v, protocol.EventTypingStarted, d.HandleTypingStarted),
		protocol.EventTypingStopped:    Validated(v, protocol.EventTypingStopped, d.HandleTypingStopped),
		protocol.EventMessageDelivered: Validated(v, protocol.EventMessageDelivered, d.HandleMessageDelivered),
		protocol.EventMessagesRead:     Validated(v, protocol.EventMessagesRead, d.HandleMessagesRead),
	}
}

// HandleSendMessage 处理发送消息
func (d *Dispatcher) HandleSendMessage(ctx context.Context, sess *Session, req *protocol.SendMessageRequest) error {
	// 1. 成员校验以存储为准，不信任客户端声明
	chat, err := d.chats.GetChatForParticipant(ctx, req.ChatID, sess.UserID())
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return apperr.Authorization(msgNotParticipant)
		}
		return apperr.Persistence(err, msgSendFailed)
	}

	// 2. 持久化消息，初始状态为 sent
	msg := &model.Message{
		ID:        uuid.NewString(),
		ChatID:    chat.ID,
		SenderID:  sess.UserID(),
		Content:   req.Content,
		Status:    model.StatusSent,
		CreatedAt: d.now(),
	}
	if err := d.messages.CreateMessage(ctx, msg); err != nil {
		return apperr.Persistence(err, msgSendFailed)
	}

	// 3. 更新会话最后一条消息（只前进）
	if _, err := d.chats.SetLastMessage(ctx, chat.ID, msg.ID, msg.CreatedAt); err != nil {
		return apperr.Persistence(err, msgSendFailed)
	}

	// 4. 广播到会话房间，发送者的所有连接也会收到
	d.emit(ctx, chat.ID, protocol.EventMessageReceived, protocol.NewMessagePayload(msg, sess.User()), "")

	d.logger.DebugContext(ctx, "message sent",
		clog.String("message_id", msg.ID),
		clog.String("chat_id", chat.ID),
		clog.String("sender_id", sess.UserID()))
	return nil
}

// HandleTypingStarted 处理开始输入
// 输入状态是瞬时信号，不做成员复查也不落库
func (d *Dispatcher) HandleTypingStarted(ctx context.Context, sess *Session, req *protocol.TypingRequest) error {
	d.emit(ctx, req.ChatID, protocol.EventTypingIndicator, &protocol.TypingPayload{
		ChatID: req.ChatID,
		User: &protocol.TypingUser{
			ID:       sess.UserID(),
			Username: sess.User().Username,
		},
	}, sess.ConnID())
	return nil
}

// HandleTypingStopped 处理停止输入
func (d *Dispatcher) HandleTypingStopped(ctx context.Context, sess *Session, req *protocol.TypingRequest) error {
	d.emit(ctx, req.ChatID, protocol.EventTypingIndicatorStopped, &protocol.TypingStoppedPayload{
		ChatID: req.ChatID,
	}, sess.ConnID())
	return nil
}

// HandleMessageDelivered 处理送达回执
// 只有 sent -> delivered 的迁移会生效，重复或过期的回执静默忽略
func (d *Dispatcher) HandleMessageDelivered(ctx context.Context, sess *Session, req *protocol.MessageDeliveredRequest) error {
	msg, err := d.messages.GetMessage(ctx, req.MessageID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			d.logger.WarnContext(ctx, "delivered receipt for unknown message",
				clog.String("message_id", req.MessageID),
				clog.String("user_id", sess.UserID()))
			return nil
		}
		return apperr.Persistence(err, "Failed to update message status.")
	}

	if !msg.Status.CanTransitionTo(model.StatusDelivered) {
		d.logger.DebugContext(ctx, "delivered receipt ignored",
			clog.String("message_id", msg.ID),
			clog.String("status", string(msg.Status)))
		return nil
	}

	// 条件更新，并发回执中只有一个会成功
	updated, err := d.messages.UpdateStatus(ctx, msg.ID, msg.Status, model.StatusDelivered)
	if err != nil {
		return apperr.Persistence(err, "Failed to update message status.")
	}
	if !updated {
		return nil
	}

	// 通知发送者的所有连接
	d.emit(ctx, msg.SenderID, protocol.EventMessageStatusUpdated, &protocol.StatusPayload{
		MessageID: msg.ID,
		ChatID:    msg.ChatID,
		Status:    model.StatusDelivered,
	}, "")
	return nil
}

// HandleMessagesRead 处理已读通知
// 状态已由 REST 批量已读接口落库，这里只负责通知会话中的其他成员
func (d *Dispatcher) HandleMessagesRead(ctx context.Context, sess *Session, req *protocol.MessagesReadRequest) error {
	chat, err := d.chats.GetChat(ctx, req.ChatID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return apperr.NotFound(msgChatNotFound)
		}
		return apperr.Persistence(err, "Failed to process read receipt.")
	}
	// 额外的成员校验，非成员不能向会话成员广播已读回执
	if !chat.HasParticipant(sess.UserID()) {
		return apperr.Authorization(msgNotParticipant)
	}

	payload := &protocol.ReadPayload{ChatID: chat.ID, ReaderID: sess.UserID()}
	for _, uid := range chat.OtherParticipants(sess.UserID()) {
		d.emit(ctx, uid, protocol.EventMessagesMarkedAsRead, payload, "")
	}
	return nil
}

// emit 向房间广播事件
func (d *Dispatcher) emit(ctx context.Context, room, event string, data any, exceptConnID string) int {
	env, err := protocol.NewEnvelope(event, data)
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to build envelope", clog.String("event", event), clog.Error(err))
		return 0
	}
	n := d.hub.EmitToRoom(room, env, exceptConnID)
	observability.RecordFanout(ctx, event, n)
	return n
}
