package infrastructure

import (
	"context"

	"gorm.io/gorm"

	"rentbot/internal/service/marketplace/domain"
)

// GormMessageRepository 是 MessageRepository 的 GORM 实现
type GormMessageRepository struct {
	db *gorm.DB
}

func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

func (r *GormMessageRepository) Create(ctx context.Context, m *domain.Message) error {
	model := FromDomainMessage(m)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return mapError(err, "create message")
	}
	m.ID = model.ID
	return nil
}

// ListForUser 返回用户收到和发出的消息，最新的在前
func (r *GormMessageRepository) ListForUser(ctx context.Context, userID int64, limit int) ([]*domain.Message, error) {
	var models []MessageModel
	err := r.db.WithContext(ctx).
		Where("receiver_id = ? OR sender_id = ?", userID, userID).
		Order("created_at DESC, id DESC").
		Limit(limitOrAll(limit)).
		Find(&models).Error
	if err != nil {
		return nil, mapError(err, "list messages")
	}
	out := make([]*domain.Message, 0, len(models))
	for i := range models {
		out = append(out, ToDomainMessage(&models[i]))
	}
	return out, nil
}

func (r *GormMessageRepository) MarkRead(ctx context.Context, id, receiverID int64) error {
	var model MessageModel
	err := r.db.WithContext(ctx).Where("id = ? AND receiver_id = ?", id, receiverID).Take(&model).Error
	if err != nil {
		return mapError(err, "find message")
	}
	if model.IsRead {
		return nil
	}
	err = r.db.WithContext(ctx).Model(&MessageModel{}).Where("id = ?", id).Update("is_read", true).Error
	return mapError(err, "mark message read")
}

func (r *GormMessageRepository) CountUnread(ctx context.Context, receiverID int64) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&MessageModel{}).
		Where("receiver_id = ? AND is_read = ?", receiverID, false).
		Count(&n).Error
	return n, mapError(err, "count unread messages")
}

func (r *GormMessageRepository) DeleteByAd(ctx context.Context, adID int64) error {
	err := r.db.WithContext(ctx).Where("ad_id = ?", adID).Delete(&MessageModel{}).Error
	return mapError(err, "delete ad messages")
}

func (r *GormMessageRepository) CountCreatedIn(ctx context.Context, p domain.Period) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&MessageModel{}).
		Where("created_at >= ? AND created_at < ?", p.From, p.To).
		Count(&n).Error
	return n, mapError(err, "count new messages")
}
