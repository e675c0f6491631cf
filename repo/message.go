package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/db"
	"github.com/ceyewan/hey/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxPageSize = 100

// messageRepo 实现 MessageRepo 接口
type messageRepo struct {
	db     db.DB
	logger clog.Logger
}

// NewMessageRepo 创建 MessageRepo 实例
func NewMessageRepo(database db.DB, opts ...Option) (MessageRepo, error) {
	if database == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	logger, err := newLogger("message_repo", opts)
	if err != nil {
		return nil, err
	}
	return &messageRepo{db: database, logger: logger}, nil
}

// CreateMessage 保存消息
func (r *messageRepo) CreateMessage(ctx context.Context, msg *model.Message) error {
	if msg == nil {
		return fmt.Errorf("message cannot be nil")
	}
	if msg.ID == "" || msg.ChatID == "" || msg.SenderID == "" {
		return fmt.Errorf("message id, chat_id and sender_id cannot be empty")
	}
	if msg.Status == "" {
		msg.Status = model.StatusSent
	}

	// 发送者信息只用于下发，不随消息写入
	if err := r.db.DB(ctx).Omit(clause.Associations).Create(msg).Error; err != nil {
		r.logger.Error("保存消息失败",
			clog.String("message_id", msg.ID),
			clog.String("chat_id", msg.ChatID),
			clog.Error(err))
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// GetMessage 根据 ID 获取消息
func (r *messageRepo) GetMessage(ctx context.Context, messageID string) (*model.Message, error) {
	if messageID == "" {
		return nil, ErrNotFound
	}

	var msg model.Message
	if err := r.db.DB(ctx).Preload("Sender").Where("id = ?", messageID).First(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}

// UpdateStatus 条件更新消息状态
// WHERE status = from 保证并发下只有一个调用者完成迁移
func (r *messageRepo) UpdateStatus(ctx context.Context, messageID string, from, to model.MessageStatus) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, nil
	}

	result := r.db.DB(ctx).Model(&model.Message{}).
		Where("id = ? AND status = ?", messageID, from).
		Update("status", to)
	if result.Error != nil {
		r.logger.Error("更新消息状态失败",
			clog.String("message_id", messageID),
			clog.String("to", string(to)),
			clog.Error(result.Error))
		return false, fmt.Errorf("failed to update message status: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// MarkChatRead 批量已读
func (r *messageRepo) MarkChatRead(ctx context.Context, chatID, readerID string) (int64, error) {
	result := r.db.DB(ctx).Model(&model.Message{}).
		Where("chat_id = ? AND sender_id <> ? AND status IN ?", chatID, readerID, model.StatusRead.Before()).
		Update("status", model.StatusRead)
	if result.Error != nil {
		r.logger.Error("批量已读失败",
			clog.String("chat_id", chatID),
			clog.String("reader_id", readerID),
			clog.Error(result.Error))
		return 0, fmt.Errorf("failed to mark chat read: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ListMessages 分页拉取历史消息
// 按时间倒序取第 page 页，再翻转为正序返回
func (r *messageRepo) ListMessages(ctx context.Context, chatID string, page, limit int) ([]*model.Message, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > maxPageSize {
		limit = 50
	}

	var msgs []*model.Message
	err := r.db.DB(ctx).Preload("Sender").
		Where("chat_id = ?", chatID).
		Order("created_at DESC").
		Order("id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Close 释放资源（db 由调用方管理）
func (r *messageRepo) Close() error {
	return nil
}
