package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/db"
	"github.com/ceyewan/genesis/xerrors"
	"github.com/ceyewan/hey/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// chatRepo 实现 ChatRepo 接口
type chatRepo struct {
	db     db.DB
	logger clog.Logger
}

// NewChatRepo 创建 ChatRepo 实例
func NewChatRepo(database db.DB, opts ...Option) (ChatRepo, error) {
	if database == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	logger, err := newLogger("chat_repo", opts)
	if err != nil {
		return nil, err
	}
	return &chatRepo{db: database, logger: logger}, nil
}

// CreateChat 创建会话并写入成员
func (r *chatRepo) CreateChat(ctx context.Context, chat *model.Chat, participantIDs []string) error {
	if chat == nil {
		return fmt.Errorf("chat cannot be nil")
	}
	if chat.ID == "" {
		return fmt.Errorf("chat id cannot be empty")
	}
	if len(participantIDs) == 0 {
		return fmt.Errorf("participants cannot be empty")
	}

	err := r.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		if err := tx.Create(chat).Error; err != nil {
			return err
		}
		members := make([]*model.ChatParticipant, 0, len(participantIDs))
		for _, uid := range participantIDs {
			members = append(members, &model.ChatParticipant{ChatID: chat.ID, UserID: uid})
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&members).Error
	})
	if err != nil {
		r.logger.Error("创建会话失败", clog.String("chat_id", chat.ID), clog.Error(err))
		return fmt.Errorf("failed to create chat: %w", err)
	}

	if err := r.hydrate(ctx, []*model.Chat{chat}); err != nil {
		return err
	}
	r.logger.Info("创建会话成功", clog.String("chat_id", chat.ID), clog.Int("participants", len(participantIDs)))
	return nil
}

// GetChat 根据 ID 获取会话
func (r *chatRepo) GetChat(ctx context.Context, chatID string) (*model.Chat, error) {
	if chatID == "" {
		return nil, ErrNotFound
	}

	var chat model.Chat
	if err := r.db.DB(ctx).Where("id = ?", chatID).First(&chat).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	if err := r.hydrate(ctx, []*model.Chat{&chat}); err != nil {
		return nil, err
	}
	return &chat, nil
}

// GetChatForParticipant 获取会话，要求 userID 是成员
func (r *chatRepo) GetChatForParticipant(ctx context.Context, chatID, userID string) (*model.Chat, error) {
	if chatID == "" || userID == "" {
		return nil, ErrNotFound
	}

	var chat model.Chat
	err := r.db.DB(ctx).
		Select("t_chat.*").
		Joins("JOIN t_chat_participant p ON p.chat_id = t_chat.id").
		Where("t_chat.id = ? AND p.user_id = ?", chatID, userID).
		First(&chat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get chat for participant: %w", err)
	}
	if err := r.hydrate(ctx, []*model.Chat{&chat}); err != nil {
		return nil, err
	}
	return &chat, nil
}

// ListChatsByParticipant 获取用户参与的所有会话
func (r *chatRepo) ListChatsByParticipant(ctx context.Context, userID string) ([]*model.Chat, error) {
	var chats []*model.Chat
	err := r.db.DB(ctx).
		Select("t_chat.*").
		Joins("JOIN t_chat_participant p ON p.chat_id = t_chat.id").
		Where("p.user_id = ?", userID).
		Order("t_chat.updated_at DESC").
		Find(&chats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	if err := r.hydrate(ctx, chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// FindPrivateChat 查找两人之间的单聊
func (r *chatRepo) FindPrivateChat(ctx context.Context, userA, userB string) (*model.Chat, error) {
	var chat model.Chat
	err := r.db.DB(ctx).
		Where("is_group_chat = ?", false).
		Where("id IN (?)", r.db.DB(ctx).Model(&model.ChatParticipant{}).
			Select("chat_id").
			Group("chat_id").
			Having("COUNT(*) = 2 AND COUNT(*) FILTER (WHERE user_id IN ?) = 2", []string{userA, userB})).
		Order("created_at ASC").
		First(&chat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find private chat: %w", err)
	}
	if err := r.hydrate(ctx, []*model.Chat{&chat}); err != nil {
		return nil, err
	}
	return &chat, nil
}

// SetLastMessage 更新会话最后一条消息 (CAS操作)
// 只有当 at 不早于当前记录时才更新，防止乱序写入导致指针回退
func (r *chatRepo) SetLastMessage(ctx context.Context, chatID, messageID string, at time.Time) (bool, error) {
	result := r.db.DB(ctx).Model(&model.Chat{}).
		Where("id = ? AND (last_message_at IS NULL OR last_message_at <= ?)", chatID, at).
		Updates(map[string]any{
			"last_message_id": messageID,
			"last_message_at": at,
			"updated_at":      time.Now(),
		})
	if result.Error != nil {
		r.logger.Error("更新会话最后消息失败",
			clog.String("chat_id", chatID),
			clog.String("message_id", messageID),
			clog.Error(result.Error))
		return false, fmt.Errorf("failed to set last message: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		r.logger.Debug("最后消息未前进，跳过更新",
			clog.String("chat_id", chatID),
			clog.String("message_id", messageID))
		return false, nil
	}
	return true, nil
}

// Close 释放资源（db 由调用方管理）
func (r *chatRepo) Close() error {
	return nil
}

// hydrate 批量填充会话成员与最后一条消息
func (r *chatRepo) hydrate(ctx context.Context, chats []*model.Chat) error {
	if len(chats) == 0 {
		return nil
	}

	chatIDs := make([]string, 0, len(chats))
	var lastIDs []string
	for _, c := range chats {
		chatIDs = append(chatIDs, c.ID)
		if c.LastMessageID != nil {
			lastIDs = append(lastIDs, *c.LastMessageID)
		}
	}

	gormDB := r.db.DB(ctx)

	// 1. 成员关系
	var members []*model.ChatParticipant
	if err := gormDB.Where("chat_id IN ?", chatIDs).Order("created_at ASC").Find(&members).Error; err != nil {
		return xerrors.Wrapf(err, "failed to load chat participants")
	}

	// 2. 成员用户信息
	userIDs := make([]string, 0, len(members))
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if _, ok := seen[m.UserID]; ok {
			continue
		}
		seen[m.UserID] = struct{}{}
		userIDs = append(userIDs, m.UserID)
	}
	users := make(map[string]*model.User, len(userIDs))
	if len(userIDs) > 0 {
		var list []*model.User
		if err := gormDB.Where("id IN ?", userIDs).Find(&list).Error; err != nil {
			return xerrors.Wrapf(err, "failed to load participant users")
		}
		for _, u := range list {
			users[u.ID] = u
		}
	}

	byChat := make(map[string][]*model.User, len(chats))
	for _, m := range members {
		if u, ok := users[m.UserID]; ok {
			byChat[m.ChatID] = append(byChat[m.ChatID], u)
		}
	}

	// 3. 最后一条消息
	lastMessages := make(map[string]*model.Message, len(lastIDs))
	if len(lastIDs) > 0 {
		var list []*model.Message
		if err := gormDB.Preload("Sender").Where("id IN ?", lastIDs).Find(&list).Error; err != nil {
			return xerrors.Wrapf(err, "failed to load last messages")
		}
		for _, m := range list {
			lastMessages[m.ID] = m
		}
	}

	for _, c := range chats {
		c.Participants = byChat[c.ID]
		if c.Participants == nil {
			c.Participants = []*model.User{}
		}
		if c.LastMessageID != nil {
			c.LastMessage = lastMessages[*c.LastMessageID]
		}
	}
	return nil
}
