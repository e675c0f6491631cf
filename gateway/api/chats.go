package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/hey/gateway/middleware"
	"github.com/ceyewan/hey/gateway/protocol"
	"github.com/ceyewan/hey/model"
	"github.com/ceyewan/hey/pkg/apperr"
	"github.com/ceyewan/hey/repo"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPage  = 1
	defaultLimit = 50
)

// CreateChatRequest 创建单聊请求
type CreateChatRequest struct {
	PartnerID string `json:"partnerId" binding:"required,max=64"`
}

// ListMessagesQuery 历史消息分页参数
type ListMessagesQuery struct {
	Page  int `form:"page" binding:"omitempty,min=1"`
	Limit int `form:"limit" binding:"omitempty,min=1,max=100"`
}

// CreateChat 获取或创建与 partner 的单聊
// 已存在时返回 200，新建时返回 201
func (h *HTTPHandler) CreateChat(c *gin.Context) {
	var req CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Abort(c, bindError(err))
		return
	}
	ctx := c.Request.Context()
	me := currentUser(c)

	if req.PartnerID == me.ID {
		middleware.Abort(c, apperr.New(apperr.KindValidation, "Cannot create a chat with yourself"))
		return
	}

	if _, err := h.users.GetUserByID(ctx, req.PartnerID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			middleware.Abort(c, apperr.NotFound("User not found"))
			return
		}
		middleware.Abort(c, apperr.Persistence(err, "Failed to create chat."))
		return
	}

	// 1. 已有单聊直接返回
	existing, err := h.chats.FindPrivateChat(ctx, me.ID, req.PartnerID)
	if err == nil {
		c.JSON(http.StatusOK, existing)
		return
	}
	if !errors.Is(err, repo.ErrNotFound) {
		middleware.Abort(c, apperr.Persistence(err, "Failed to create chat."))
		return
	}

	// 2. 新建
	chat := &model.Chat{ID: uuid.NewString(), IsGroupChat: false}
	if err := h.chats.CreateChat(ctx, chat, []string{me.ID, req.PartnerID}); err != nil {
		middleware.Abort(c, apperr.Persistence(err, "Failed to create chat."))
		return
	}

	h.logger.InfoContext(ctx, "private chat created",
		clog.String("chat_id", chat.ID),
		clog.String("user_id", me.ID),
		clog.String("partner_id", req.PartnerID))
	c.JSON(http.StatusCreated, chat)
}

// ListChats 获取当前用户的会话列表，按最近更新倒序
func (h *HTTPHandler) ListChats(c *gin.Context) {
	chats, err := h.chats.ListChatsByParticipant(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		middleware.Abort(c, apperr.Persistence(err, "Failed to load chats."))
		return
	}
	if chats == nil {
		chats = []*model.Chat{}
	}
	c.JSON(http.StatusOK, chats)
}

// ListMessages 分页拉取历史消息，返回最新一页并按时间正序排列
func (h *HTTPHandler) ListMessages(c *gin.Context) {
	var q ListMessagesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		middleware.Abort(c, bindError(err))
		return
	}
	if q.Page == 0 {
		q.Page = defaultPage
	}
	if q.Limit == 0 {
		q.Limit = defaultLimit
	}

	chat, ok := h.participantChat(c)
	if !ok {
		return
	}

	msgs, err := h.messages.ListMessages(c.Request.Context(), chat.ID, q.Page, q.Limit)
	if err != nil {
		middleware.Abort(c, apperr.Persistence(err, "Failed to load messages."))
		return
	}

	out := make([]*protocol.MessagePayload, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, protocol.NewMessagePayload(m, m.Sender))
	}
	c.JSON(http.StatusOK, out)
}

// MarkRead 将会话中他人发送的消息批量置为已读
func (h *HTTPHandler) MarkRead(c *gin.Context) {
	chat, ok := h.participantChat(c)
	if !ok {
		return
	}
	me := currentUser(c)

	n, err := h.messages.MarkChatRead(c.Request.Context(), chat.ID, me.ID)
	if err != nil {
		middleware.Abort(c, apperr.Persistence(err, "Failed to mark messages as read."))
		return
	}
	c.JSON(http.StatusOK, &MessageResponse{Message: fmt.Sprintf("%d messages marked as read.", n)})
}

// participantChat 加载路径中的会话并校验当前用户是成员
func (h *HTTPHandler) participantChat(c *gin.Context) (*model.Chat, bool) {
	chat, err := h.chats.GetChat(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			middleware.Abort(c, apperr.NotFound("Chat not found"))
			return nil, false
		}
		middleware.Abort(c, apperr.Persistence(err, "Failed to load chat."))
		return nil, false
	}
	if !chat.HasParticipant(currentUser(c).ID) {
		middleware.Abort(c, apperr.Authorization("Access denied. You are not a participant of this chat."))
		return nil, false
	}
	return chat, true
}
