package domain

import (
	"context"
	"time"
)

// Store 是领域层与持久化之间的“插座”。
// 所有组件只通过 Store 共享状态；Atomic 内的操作要么全部提交，要么全部回滚。
type Store interface {
	Ads() AdRepository
	Queue() ModerationQueueRepository
	Queries() SearchQueryRepository
	Notifications() NotificationRepository
	Users() UserRepository
	Messages() MessageRepository
	Feedback() FeedbackRepository
	Categories() CategoryRepository

	// Atomic 在一个事务中执行 fn，fn 收到的 tx 只能在回调内使用
	Atomic(ctx context.Context, fn func(tx Store) error) error
	Ping(ctx context.Context) error
}

type AdRepository interface {
	Create(ctx context.Context, ad *Ad) error
	FindByID(ctx context.Context, id int64) (*Ad, error)
	// SaveIfStatus 仅当数据库中的状态仍为 expected 时写入，否则返回 ErrStatusConflict
	SaveIfStatus(ctx context.Context, ad *Ad, expected Status) error
	Delete(ctx context.Context, id int64) error
	ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]*Ad, error)
	// CountActiveByOwner 统计未归档的广告数量
	CountActiveByOwner(ctx context.Context, ownerID int64) (int64, error)
	Search(ctx context.Context, filter SearchFilter) ([]*Ad, error)
	// ListApprovedSince 返回 moderated_at >= since 的已发布广告，按创建时间升序
	ListApprovedSince(ctx context.Context, since time.Time) ([]*Ad, error)
	// ListStaleApproved 返回 updated_at < before 的已发布广告
	ListStaleApproved(ctx context.Context, before time.Time, limit int) ([]*Ad, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
	CountCreatedIn(ctx context.Context, p Period) (int64, error)
	CountModeratedIn(ctx context.Context, status Status, p Period) (int64, error)
}

type ModerationQueueRepository interface {
	// Enqueue 已存在该广告的队列项时返回 ErrDuplicateEntry
	Enqueue(ctx context.Context, entry *QueueEntry) error
	// Next 按 (priority desc, enqueued_at asc) 返回队首，队列为空时返回 nil, nil
	Next(ctx context.Context) (*QueueEntry, error)
	FindByAdID(ctx context.Context, adID int64) (*QueueEntry, error)
	Assign(ctx context.Context, adID, moderatorID int64) error
	Update(ctx context.Context, entry *QueueEntry) error
	Remove(ctx context.Context, adID int64) error
	List(ctx context.Context, limit int) ([]*QueueEntry, error)
	Count(ctx context.Context) (int64, error)
	ListEnqueuedBefore(ctx context.Context, before time.Time) ([]*QueueEntry, error)
}

type SearchQueryRepository interface {
	Create(ctx context.Context, q *SearchQuery) error
	FindByID(ctx context.Context, id int64) (*SearchQuery, error)
	ListByUser(ctx context.Context, userID int64) ([]*SearchQuery, error)
	ListActive(ctx context.Context) ([]*SearchQuery, error)
	SetActive(ctx context.Context, id int64, active bool) error
	Delete(ctx context.Context, id int64) error
	// MarkNotified 仅当 last_notified 为空或早于 adCreatedAt 时写入 at，返回是否抢到了这次通知
	MarkNotified(ctx context.Context, id int64, adCreatedAt, at time.Time) (bool, error)
	DeleteNotifiedBefore(ctx context.Context, before time.Time) (int64, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, n *Notification) error
	ListUnread(ctx context.Context, userID int64, limit int) ([]*Notification, error)
	CountUnread(ctx context.Context, userID int64) (int64, error)
	// MarkRead 只能标记属于 userID 的通知
	MarkRead(ctx context.Context, id, userID int64) error
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
	DeleteReadBefore(ctx context.Context, before time.Time) (int64, error)
}

type UserRepository interface {
	FindByID(ctx context.Context, id int64) (*User, error)
	FindByTelegramID(ctx context.Context, telegramID int64) (*User, error)
	Create(ctx context.Context, u *User) error
	UpdateProfile(ctx context.Context, u *User) error
	SetRole(ctx context.Context, id int64, role Role) error
	SetBanned(ctx context.Context, id int64, banned bool) error
	ListByRoles(ctx context.Context, roles ...Role) ([]*User, error)
	Count(ctx context.Context) (int64, error)
	CountCreatedIn(ctx context.Context, p Period) (int64, error)
}

type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	ListForUser(ctx context.Context, userID int64, limit int) ([]*Message, error)
	MarkRead(ctx context.Context, id, receiverID int64) error
	CountUnread(ctx context.Context, receiverID int64) (int64, error)
	DeleteByAd(ctx context.Context, adID int64) error
	CountCreatedIn(ctx context.Context, p Period) (int64, error)
}

type FeedbackRepository interface {
	// Create 同一用户对同一广告重复评价时返回 ErrDuplicateEntry
	Create(ctx context.Context, f *Feedback) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]*Feedback, error)
	Summary(ctx context.Context, typ FeedbackType, adID *int64) (RatingSummary, error)
	DeleteByAd(ctx context.Context, adID int64) error
	CountCreatedIn(ctx context.Context, p Period) (int64, error)
}

type CategoryRepository interface {
	ListActive(ctx context.Context) ([]*Category, error)
	FindByID(ctx context.Context, id int64) (*Category, error)
}
