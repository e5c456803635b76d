package model

import (
	"time"

	"gorm.io/gorm"
)

// User 账号
type User struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Username  string    `gorm:"type:varchar(50);uniqueIndex" json:"username"`
	Password  string    `gorm:"type:varchar(100)" json:"-"`
	Nickname  string    `gorm:"type:varchar(50)" json:"nickname"`
	Frozen    bool      `gorm:"default:false" json:"frozen"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// 边状态，闭合集合
const (
	EdgePending  = "pending"             // 已申请，等待对方处理
	EdgeAccepted = "accepted"            // 已通过
	EdgeRejected = "rejected_or_removed" // 被拒绝或被移除
	EdgeBlocked  = "blocked"             // 拉黑，单向生效
)

// FriendEdge 有向好友关系边，主键 (owner_id, peer_id)。
// 双向好友由两条 accepted 边表示，两条边的变更必须在同一事务内完成。
type FriendEdge struct {
	OwnerID    string     `gorm:"primaryKey;type:varchar(36)" json:"owner_id"`
	PeerID     string     `gorm:"primaryKey;type:varchar(36)" json:"peer_id"`
	Status     string     `gorm:"type:varchar(20);not null;index" json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	VerifiedAt *time.Time `json:"verified_at"` // 转入 accepted 时设置
}

// TableName 指定表名
func (FriendEdge) TableName() string {
	return "friend_edge"
}

// 消息已读状态
const (
	MessageUnread = 0
	MessageRead   = 1
)

// Message 单聊消息。持久化后除 ReadStatus 外不可变，
// ReadStatus 只允许未读到已读的单向迁移，且只能由接收方触发。
type Message struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SenderID   string    `gorm:"type:varchar(36);index;not null" json:"sender_id"`
	ReceiverID string    `gorm:"type:varchar(36);index;not null" json:"receiver_id"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	SentAt     time.Time `gorm:"index" json:"sent_at"`
	ReadStatus int       `gorm:"default:0" json:"read_status"`
}

// TableName 指定表名
func (Message) TableName() string {
	return "message"
}

// PageResult 分页查询结果
type PageResult[T any] struct {
	Total    int64 `json:"total"`
	PageNum  int   `json:"page_num"`
	PageSize int   `json:"page_size"`
	Items    []T   `json:"items"`
}

// SetupDatabase 初始化数据库表结构
func SetupDatabase(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&FriendEdge{},
		&Message{},
	)
}
