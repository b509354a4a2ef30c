package infrastructure

import (
	"context"
	"time"

	"gorm.io/gorm"

	"rentbot/internal/service/marketplace/domain"
)

// queueOrder 与 domain.QueueLess 保持一致
const queueOrder = "priority DESC, enqueued_at ASC, ad_id ASC"

// GormQueueRepository 是 ModerationQueueRepository 的 GORM 实现
type GormQueueRepository struct {
	db *gorm.DB
}

func NewGormQueueRepository(db *gorm.DB) *GormQueueRepository {
	return &GormQueueRepository{db: db}
}

func (r *GormQueueRepository) Enqueue(ctx context.Context, entry *domain.QueueEntry) error {
	model := FromDomainQueueEntry(entry)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return mapError(err, "enqueue ad")
	}
	entry.ID = model.ID
	return nil
}

func (r *GormQueueRepository) Next(ctx context.Context) (*domain.QueueEntry, error) {
	var models []ModerationQueueModel
	err := r.db.WithContext(ctx).Preload("Ad").Order(queueOrder).Limit(1).Find(&models).Error
	if err != nil {
		return nil, mapError(err, "next queue entry")
	}
	if len(models) == 0 {
		return nil, nil
	}
	return ToDomainQueueEntry(&models[0]), nil
}

func (r *GormQueueRepository) FindByAdID(ctx context.Context, adID int64) (*domain.QueueEntry, error) {
	var model ModerationQueueModel
	if err := r.db.WithContext(ctx).Where("ad_id = ?", adID).Take(&model).Error; err != nil {
		return nil, mapError(err, "find queue entry")
	}
	return ToDomainQueueEntry(&model), nil
}

func (r *GormQueueRepository) Assign(ctx context.Context, adID, moderatorID int64) error {
	result := r.db.WithContext(ctx).Model(&ModerationQueueModel{}).
		Where("ad_id = ?", adID).
		Update("assigned_to", moderatorID)
	if result.Error != nil {
		return mapError(result.Error, "assign queue entry")
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormQueueRepository) Update(ctx context.Context, entry *domain.QueueEntry) error {
	result := r.db.WithContext(ctx).Model(&ModerationQueueModel{}).
		Where("ad_id = ?", entry.AdID).
		Updates(map[string]interface{}{
			"priority":    entry.Priority,
			"assigned_to": entry.AssignedTo,
			"enqueued_at": entry.EnqueuedAt,
		})
	if result.Error != nil {
		return mapError(result.Error, "update queue entry")
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Remove 对不存在的队列项是幂等的
func (r *GormQueueRepository) Remove(ctx context.Context, adID int64) error {
	err := r.db.WithContext(ctx).Where("ad_id = ?", adID).Delete(&ModerationQueueModel{}).Error
	return mapError(err, "remove queue entry")
}

func (r *GormQueueRepository) List(ctx context.Context, limit int) ([]*domain.QueueEntry, error) {
	var models []ModerationQueueModel
	err := r.db.WithContext(ctx).Preload("Ad").Order(queueOrder).Limit(limitOrAll(limit)).Find(&models).Error
	if err != nil {
		return nil, mapError(err, "list queue")
	}
	return toDomainEntries(models), nil
}

func (r *GormQueueRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&ModerationQueueModel{}).Count(&n).Error
	return n, mapError(err, "count queue")
}

func (r *GormQueueRepository) ListEnqueuedBefore(ctx context.Context, before time.Time) ([]*domain.QueueEntry, error) {
	var models []ModerationQueueModel
	err := r.db.WithContext(ctx).
		Where("enqueued_at < ?", before).
		Order(queueOrder).
		Find(&models).Error
	if err != nil {
		return nil, mapError(err, "list stale queue entries")
	}
	return toDomainEntries(models), nil
}

func toDomainEntries(models []ModerationQueueModel) []*domain.QueueEntry {
	out := make([]*domain.QueueEntry, 0, len(models))
	for i := range models {
		out = append(out, ToDomainQueueEntry(&models[i]))
	}
	return out
}
