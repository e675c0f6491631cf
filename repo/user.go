package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/db"
	"github.com/ceyewan/genesis/xerrors"
	"github.com/ceyewan/hey/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// userRepo 实现 UserRepo 接口
type userRepo struct {
	db     db.DB
	logger clog.Logger
}

// NewUserRepo 创建 UserRepo 实例
func NewUserRepo(database db.DB, opts ...Option) (UserRepo, error) {
	if database == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	logger, err := newLogger("user_repo", opts)
	if err != nil {
		return nil, err
	}
	return &userRepo{db: database, logger: logger}, nil
}

// CreateUser 创建用户
func (r *userRepo) CreateUser(ctx context.Context, user *model.User) error {
	if user == nil {
		return fmt.Errorf("user cannot be nil")
	}
	if user.ID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))

	gormDB := r.db.DB(ctx)

	// 1. 先查重，给出明确的冲突错误
	var count int64
	if err := gormDB.Model(&model.User{}).
		Where("email = ? OR username = ?", user.Email, user.Username).
		Count(&count).Error; err != nil {
		return xerrors.Wrapf(err, "failed to check duplicate user")
	}
	if count > 0 {
		return ErrDuplicate
	}

	// 2. 写入，并发注册时依赖唯一索引兜底
	if err := gormDB.Create(user).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicate
		}
		r.logger.Error("创建用户失败", clog.String("user_id", user.ID), clog.Error(err))
		return fmt.Errorf("failed to create user: %w", err)
	}

	r.logger.Info("创建用户成功", clog.String("user_id", user.ID), clog.String("username", user.Username))
	return nil
}

// GetUserByID 根据 ID 获取用户
func (r *userRepo) GetUserByID(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, ErrNotFound
	}

	var user model.User
	if err := r.db.DB(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// GetUserByEmail 根据邮箱获取用户
func (r *userRepo) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, ErrNotFound
	}

	var user model.User
	if err := r.db.DB(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return &user, nil
}

// SearchUsers 按用户名/邮箱模糊搜索
func (r *userRepo) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]*model.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*model.User{}, nil
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}

	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	var users []*model.User
	if err := r.db.DB(ctx).
		Where("(LOWER(username) LIKE ? OR LOWER(email) LIKE ?) AND id <> ?", pattern, pattern, excludeID).
		Order("username ASC").
		Limit(limit).
		Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	return users, nil
}

// AddContact 添加联系人
func (r *userRepo) AddContact(ctx context.Context, userID, contactID string) error {
	if userID == "" || contactID == "" {
		return fmt.Errorf("user_id and contact_id cannot be empty")
	}

	contact := &model.UserContact{UserID: userID, ContactID: contactID}
	if err := r.db.DB(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(contact).Error; err != nil {
		r.logger.Error("添加联系人失败",
			clog.String("user_id", userID),
			clog.String("contact_id", contactID),
			clog.Error(err))
		return fmt.Errorf("failed to add contact: %w", err)
	}
	return nil
}

// RemoveContact 删除联系人
func (r *userRepo) RemoveContact(ctx context.Context, userID, contactID string) error {
	result := r.db.DB(ctx).
		Where("user_id = ? AND contact_id = ?", userID, contactID).
		Delete(&model.UserContact{})
	if result.Error != nil {
		return fmt.Errorf("failed to remove contact: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListContacts 获取联系人列表
func (r *userRepo) ListContacts(ctx context.Context, userID string) ([]*model.User, error) {
	var users []*model.User
	if err := r.db.DB(ctx).
		Joins("JOIN t_user_contact uc ON uc.contact_id = t_user.id").
		Where("uc.user_id = ?", userID).
		Order("t_user.username ASC").
		Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	return users, nil
}

// Close 释放资源（db 由调用方管理）
func (r *userRepo) Close() error {
	return nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "duplicate key")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	return r.Replace(s)
}
