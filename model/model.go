package model

import (
	"time"
)

// ============================================================================
// 持久化模型（PostgreSQL）
// 以下结构体的 GORM tag 是数据库表结构的唯一真相来源 (Single Source of Truth)。
// 表结构通过 `go run main.go -module migrate` 调用 GORM AutoMigrate 自动创建/更新。
//
// 索引总览：
//
//	表                   索引名                   列                         类型       用途
//	──────────────────── ─────────────────────── ────────────────────────── ────────── ──────────────────────────────
//	t_user               PK                      id                         主键       按用户 ID 精确查询（握手鉴权）
//	t_user               uniq_user_username      username                   唯一       注册去重 / 用户搜索
//	t_user               uniq_user_email         email                      唯一       登录 / 注册去重
//	t_user_contact       PK                      (user_id, contact_id)      复合主键   联系人列表
//	t_chat               PK                      id                         主键       按会话 ID 精确查询
//	t_chat_participant   PK                      (chat_id, user_id)         复合主键   按会话查成员 / 判断成员资格
//	t_chat_participant   idx_participant_user    user_id                    普通       按用户反查所有会话（上线房间、联系人）
//	t_message            PK                      id                         主键       按消息 ID 精确查询（状态回执）
//	t_message            idx_message_chat_time   (chat_id, created_at)      复合       按会话拉取历史消息 / 批量已读
//
// ============================================================================

// User 用户表
// 索引：PK(id) + uniq_user_username + uniq_user_email
type User struct {
	ID           string    `gorm:"primaryKey;column:id;type:varchar(64);not null" json:"id"`
	Username     string    `gorm:"column:username;type:varchar(30);not null;uniqueIndex:uniq_user_username" json:"username"`
	Email        string    `gorm:"column:email;type:varchar(255);not null;uniqueIndex:uniq_user_email" json:"email"`
	PasswordHash string    `gorm:"column:password_hash;type:varchar(128);not null" json:"-"`
	AvatarURL    string    `gorm:"column:avatar_url;type:varchar(255)" json:"avatarUrl"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// UserContact 联系人关系表（单向）
// 索引：PK(user_id, contact_id)
type UserContact struct {
	UserID    string `gorm:"primaryKey;column:user_id;type:varchar(64);not null"`
	ContactID string `gorm:"primaryKey;column:contact_id;type:varchar(64);not null"`
	CreatedAt time.Time
}

// Chat 会话表（单聊/群聊）
// 索引：PK(id)
//
// Participants 与 LastMessage 不落库，由 repo 层批量水合。
type Chat struct {
	ID            string     `gorm:"primaryKey;column:id;type:varchar(64);not null" json:"id"`
	Name          string     `gorm:"column:name;type:varchar(128)" json:"name,omitempty"`
	IsGroupChat   bool       `gorm:"column:is_group_chat;not null;default:false" json:"isGroupChat"`
	LastMessageID *string    `gorm:"column:last_message_id;type:varchar(64)" json:"lastMessageId,omitempty"`
	LastMessageAt *time.Time `gorm:"column:last_message_at" json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`

	Participants []*User  `gorm:"-" json:"participants"`
	LastMessage  *Message `gorm:"-" json:"lastMessage,omitempty"`
}

// ChatParticipant 会话成员表
// 索引：PK(chat_id, user_id) + idx_participant_user(user_id)
type ChatParticipant struct {
	ChatID    string `gorm:"primaryKey;column:chat_id;type:varchar(64);not null"`
	UserID    string `gorm:"primaryKey;column:user_id;type:varchar(64);not null;index:idx_participant_user"`
	CreatedAt time.Time
}

// Message 消息表
// 索引：PK(id) + idx_message_chat_time(chat_id, created_at)
type Message struct {
	ID        string        `gorm:"primaryKey;column:id;type:varchar(64);not null" json:"id"`
	ChatID    string        `gorm:"column:chat_id;type:varchar(64);not null;index:idx_message_chat_time,priority:1" json:"chatId"`
	SenderID  string        `gorm:"column:sender_id;type:varchar(64);not null" json:"senderId"`
	Content   string        `gorm:"column:content;type:text;not null" json:"content"`
	Status    MessageStatus `gorm:"column:status;type:varchar(16);not null;default:'sent'" json:"status"`
	CreatedAt time.Time     `gorm:"index:idx_message_chat_time,priority:2" json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`

	Sender *User `gorm:"foreignKey:SenderID;references:ID" json:"sender,omitempty"`
}

// ============================================================================
// 表名映射
// ============================================================================

func (User) TableName() string            { return "t_user" }
func (UserContact) TableName() string     { return "t_user_contact" }
func (Chat) TableName() string            { return "t_chat" }
func (ChatParticipant) TableName() string { return "t_chat_participant" }
func (Message) TableName() string         { return "t_message" }

// HasParticipant 判断用户是否是会话成员
func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p != nil && p.ID == userID {
			return true
		}
	}
	return false
}

// OtherParticipants 返回除 userID 以外的成员 ID（去重）
func (c *Chat) OtherParticipants(userID string) []string {
	seen := make(map[string]struct{}, len(c.Participants))
	others := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p == nil || p.ID == userID {
			continue
		}
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		others = append(others, p.ID)
	}
	return others
}

// AllModels 返回所有需要 AutoMigrate 的模型列表
func AllModels() []any {
	return []any{
		&User{},
		&UserContact{},
		&Chat{},
		&ChatParticipant{},
		&Message{},
	}
}
