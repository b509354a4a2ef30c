package infrastructure

import (
	"context"
	"time"

	"gorm.io/gorm"

	"rentbot/internal/service/marketplace/domain"
)

// GormNotificationRepository 是 NotificationRepository 的 GORM 实现
type GormNotificationRepository struct {
	db *gorm.DB
}

func NewGormNotificationRepository(db *gorm.DB) *GormNotificationRepository {
	return &GormNotificationRepository{db: db}
}

func (r *GormNotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	model, err := FromDomainNotification(n)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return mapError(err, "create notification")
	}
	n.ID = model.ID
	return nil
}

func (r *GormNotificationRepository) ListUnread(ctx context.Context, userID int64, limit int) ([]*domain.Notification, error) {
	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_read = ?", userID, false).
		Order("created_at DESC, id DESC").
		Limit(limitOrAll(limit)).
		Find(&models).Error
	if err != nil {
		return nil, mapError(err, "list unread notifications")
	}
	out := make([]*domain.Notification, 0, len(models))
	for i := range models {
		out = append(out, ToDomainNotification(&models[i]))
	}
	return out, nil
}

func (r *GormNotificationRepository) CountUnread(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&NotificationModel{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&n).Error
	return n, mapError(err, "count unread notifications")
}

func (r *GormNotificationRepository) MarkRead(ctx context.Context, id, userID int64) error {
	var model NotificationModel
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Take(&model).Error
	if err != nil {
		return mapError(err, "find notification")
	}
	if model.IsRead {
		return nil
	}
	err = r.db.WithContext(ctx).Model(&NotificationModel{}).Where("id = ?", id).Update("is_read", true).Error
	return mapError(err, "mark notification read")
}

func (r *GormNotificationRepository) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	result := r.db.WithContext(ctx).Model(&NotificationModel{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	if result.Error != nil {
		return 0, mapError(result.Error, "mark all notifications read")
	}
	return result.RowsAffected, nil
}

func (r *GormNotificationRepository) DeleteReadBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("is_read = ? AND created_at < ?", true, before).
		Delete(&NotificationModel{})
	if result.Error != nil {
		return 0, mapError(result.Error, "purge read notifications")
	}
	return result.RowsAffected, nil
}
