package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/xerrors"
	"github.com/ceyewan/hey/model"
)

// ErrNotFound 记录不存在
var ErrNotFound = xerrors.New("record not found")

// UserRepo 用户数据访问接口
type UserRepo interface {
	// CreateUser 创建用户，用户名或邮箱冲突时返回 ErrDuplicate
	CreateUser(ctx context.Context, user *model.User) error
	// GetUserByID 根据 ID 获取用户
	GetUserByID(ctx context.Context, userID string) (*model.User, error)
	// GetUserByEmail 根据邮箱获取用户
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	// SearchUsers 按用户名/邮箱模糊搜索，排除 excludeID
	SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]*model.User, error)
	// AddContact 添加联系人（幂等）
	AddContact(ctx context.Context, userID, contactID string) error
	// RemoveContact 删除联系人，不存在时返回 ErrNotFound
	RemoveContact(ctx context.Context, userID, contactID string) error
	// ListContacts 获取联系人列表
	ListContacts(ctx context.Context, userID string) ([]*model.User, error)
	// Close 释放资源
	Close() error
}

// ChatRepo 会话数据访问接口，返回的会话都已水合 Participants
type ChatRepo interface {
	// CreateChat 创建会话并写入成员
	CreateChat(ctx context.Context, chat *model.Chat, participantIDs []string) error
	// GetChat 根据 ID 获取会话
	GetChat(ctx context.Context, chatID string) (*model.Chat, error)
	// GetChatForParticipant 获取会话，要求 userID 是成员，否则返回 ErrNotFound
	GetChatForParticipant(ctx context.Context, chatID, userID string) (*model.Chat, error)
	// ListChatsByParticipant 获取用户参与的所有会话，按更新时间倒序
	ListChatsByParticipant(ctx context.Context, userID string) ([]*model.Chat, error)
	// FindPrivateChat 查找两人之间的单聊
	FindPrivateChat(ctx context.Context, userA, userB string) (*model.Chat, error)
	// SetLastMessage 更新会话最后一条消息 (CAS操作，只前进不后退)
	SetLastMessage(ctx context.Context, chatID, messageID string, at time.Time) (bool, error)
	// Close 释放资源
	Close() error
}

// MessageRepo 消息数据访问接口
type MessageRepo interface {
	// CreateMessage 保存消息
	CreateMessage(ctx context.Context, msg *model.Message) error
	// GetMessage 根据 ID 获取消息（含发送者）
	GetMessage(ctx context.Context, messageID string) (*model.Message, error)
	// UpdateStatus 条件更新状态：仅当当前状态为 from 时更新为 to，返回是否更新
	UpdateStatus(ctx context.Context, messageID string, from, to model.MessageStatus) (bool, error)
	// MarkChatRead 将会话中他人发送的未读消息批量置为已读，返回影响行数
	MarkChatRead(ctx context.Context, chatID, readerID string) (int64, error)
	// ListMessages 分页拉取历史消息，page 从 1 开始，返回按时间正序
	ListMessages(ctx context.Context, chatID string, page, limit int) ([]*model.Message, error)
	// Close 释放资源
	Close() error
}

// ErrDuplicate 唯一约束冲突
var ErrDuplicate = xerrors.New("duplicate record")

// Option 配置 repo 的选项
type Option func(*options)

type options struct {
	logger clog.Logger
}

// WithLogger 设置日志记录器
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// newLogger 提供默认 logger
func newLogger(namespace string, opts []Option) (clog.Logger, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger != nil {
		return o.logger.WithNamespace(namespace), nil
	}

	logger, err := clog.New(&clog.Config{
		Level:  "info",
		Format: "json",
		Output: "/dev/null",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create default logger: %w", err)
	}
	return logger.WithNamespace(namespace), nil
}
