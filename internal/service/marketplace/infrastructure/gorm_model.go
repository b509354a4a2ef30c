package infrastructure

import "time"

// UserModel 对应数据库中的 users 表
type UserModel struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	TelegramID int64  `gorm:"uniqueIndex;not null"`
	Username   string `gorm:"size:100"`
	FirstName  string `gorm:"size:100"`
	LastName   string `gorm:"size:100"`
	Role       string `gorm:"type:varchar(16);not null;default:user;index"`
	IsBanned   bool   `gorm:"not null;default:false"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (UserModel) TableName() string {
	return "users"
}

// CategoryModel 对应数据库中的 categories 表
type CategoryModel struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Name        string `gorm:"size:100;uniqueIndex;not null"`
	Description string `gorm:"type:text"`
	IsActive    bool   `gorm:"not null;default:true"`
	CreatedAt   time.Time
}

func (CategoryModel) TableName() string {
	return "categories"
}

// AdModel 对应数据库中的 ads 表
type AdModel struct {
	ID              int64   `gorm:"primaryKey;autoIncrement"`
	Title           string  `gorm:"size:200;not null"`
	Description     string  `gorm:"type:text;not null"`
	Price           float64 `gorm:"type:decimal(12,2);not null"`
	Location        string  `gorm:"size:200;not null"`
	ContactInfo     string  `gorm:"type:text;not null"`
	Status          string  `gorm:"type:varchar(16);not null;index"`
	RejectionReason *string `gorm:"type:text"`
	OwnerID         int64   `gorm:"not null;index"`
	CategoryID      *int64  `gorm:"index"`
	ModeratorID     *int64
	CreatedAt       time.Time  `gorm:"index"`
	UpdatedAt       time.Time  `gorm:"index"`
	ModeratedAt     *time.Time `gorm:"index"`
}

func (AdModel) TableName() string {
	return "ads"
}

// ModerationQueueModel 对应 moderation_queue 表，ad_id 唯一保证每条广告至多一项
type ModerationQueueModel struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	AdID       int64     `gorm:"uniqueIndex;not null"`
	Priority   int       `gorm:"not null;default:1;index:idx_queue_order,priority:1"`
	AssignedTo *int64    `gorm:"index"`
	EnqueuedAt time.Time `gorm:"not null;index:idx_queue_order,priority:2"`

	Ad *AdModel `gorm:"foreignKey:AdID"`
}

func (ModerationQueueModel) TableName() string {
	return "moderation_queue"
}

// SearchQueryModel 对应 search_queries 表
type SearchQueryModel struct {
	ID           int64    `gorm:"primaryKey;autoIncrement"`
	UserID       int64    `gorm:"not null;index"`
	Keywords     *string  `gorm:"size:200"`
	Location     *string  `gorm:"size:200"`
	MinPrice     *float64 `gorm:"type:decimal(12,2)"`
	MaxPrice     *float64 `gorm:"type:decimal(12,2)"`
	CategoryID   *int64
	IsActive     bool `gorm:"not null;default:true;index"`
	CreatedAt    time.Time
	LastNotified *time.Time `gorm:"index"`
}

func (SearchQueryModel) TableName() string {
	return "search_queries"
}

// NotificationModel 对应 notifications 表，Data 以 JSON 保存
type NotificationModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	UserID    int64     `gorm:"not null;index:idx_notifications_user_read,priority:1"`
	Type      string    `gorm:"size:50;not null"`
	Title     string    `gorm:"size:200"`
	Content   string    `gorm:"type:text;not null"`
	Data      []byte    `gorm:"type:json"`
	IsRead    bool      `gorm:"not null;default:false;index:idx_notifications_user_read,priority:2"`
	CreatedAt time.Time `gorm:"index"`
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// MessageModel 对应 messages 表
type MessageModel struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	SenderID   int64     `gorm:"not null;index"`
	ReceiverID int64     `gorm:"not null;index"`
	AdID       *int64    `gorm:"index"`
	Content    string    `gorm:"type:text;not null"`
	IsRead     bool      `gorm:"not null;default:false"`
	CreatedAt  time.Time `gorm:"index"`
}

func (MessageModel) TableName() string {
	return "messages"
}

// FeedbackModel 对应 feedbacks 表。MySQL 唯一索引允许多个 NULL，
// 因此对机器人的评价不受 (user_id, ad_id) 唯一约束影响。
type FeedbackModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	UserID    int64     `gorm:"not null;uniqueIndex:uniq_feedback_user_ad,priority:1"`
	AdID      *int64    `gorm:"uniqueIndex:uniq_feedback_user_ad,priority:2"`
	Rating    int       `gorm:"not null"`
	Comment   string    `gorm:"type:text"`
	Type      string    `gorm:"size:50;not null;index"`
	CreatedAt time.Time `gorm:"index"`
}

func (FeedbackModel) TableName() string {
	return "feedbacks"
}

// AllModels 供 AutoMigrate 使用
func AllModels() []interface{} {
	return []interface{}{
		&UserModel{},
		&CategoryModel{},
		&AdModel{},
		&ModerationQueueModel{},
		&SearchQueryModel{},
		&NotificationModel{},
		&MessageModel{},
		&FeedbackModel{},
	}
}
