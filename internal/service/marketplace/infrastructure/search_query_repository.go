package infrastructure

import (
	"context"
	"time"

	"gorm.io/gorm"

	"rentbot/internal/service/marketplace/domain"
)

// GormSearchQueryRepository 是 SearchQueryRepository 的 GORM 实现
type GormSearchQueryRepository struct {
	db *gorm.DB
}

func NewGormSearchQueryRepository(db *gorm.DB) *GormSearchQueryRepository {
	return &GormSearchQueryRepository{db: db}
}

func (r *GormSearchQueryRepository) Create(ctx context.Context, q *domain.SearchQuery) error {
	model := FromDomainSearchQuery(q)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return mapError(err, "create search query")
	}
	q.ID = model.ID
	return nil
}

func (r *GormSearchQueryRepository) FindByID(ctx context.Context, id int64) (*domain.SearchQuery, error) {
	var model SearchQueryModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&model).Error; err != nil {
		return nil, mapError(err, "find search query")
	}
	return ToDomainSearchQuery(&model), nil
}

func (r *GormSearchQueryRepository) ListByUser(ctx context.Context, userID int64) ([]*domain.SearchQuery, error) {
	var models []SearchQueryModel
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC, id DESC").Find(&models).Error
	if err != nil {
		return nil, mapError(err, "list search queries")
	}
	return toDomainQueries(models), nil
}

func (r *GormSearchQueryRepository) ListActive(ctx context.Context) ([]*domain.SearchQuery, error) {
	var models []SearchQueryModel
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("id ASC").Find(&models).Error
	if err != nil {
		return nil, mapError(err, "list active search queries")
	}
	return toDomainQueries(models), nil
}

func (r *GormSearchQueryRepository) SetActive(ctx context.Context, id int64, active bool) error {
	result := r.db.WithContext(ctx).Model(&SearchQueryModel{}).Where("id = ?", id).Update("is_active", active)
	if result.Error != nil {
		return mapError(result.Error, "toggle search query")
	}
	if result.RowsAffected == 0 {
		// MySQL 在值未变化时 RowsAffected 为 0，需要再确认一次行是否存在
		if _, err := r.FindByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *GormSearchQueryRepository) Delete(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&SearchQueryModel{})
	if result.Error != nil {
		return mapError(result.Error, "delete search query")
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkNotified 是一次条件更新，并发的两次匹配只有一次能命中
func (r *GormSearchQueryRepository) MarkNotified(ctx context.Context, id int64, adCreatedAt, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&SearchQueryModel{}).
		Where("id = ? AND (last_notified IS NULL OR last_notified < ?)", id, adCreatedAt).
		Update("last_notified", at)
	if result.Error != nil {
		return false, mapError(result.Error, "mark search query notified")
	}
	return result.RowsAffected > 0, nil
}

// DeleteNotifiedBefore 删除最后一次命中早于 before 的订阅，从未命中过的订阅保留
func (r *GormSearchQueryRepository) DeleteNotifiedBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("last_notified IS NOT NULL AND last_notified < ?", before).
		Delete(&SearchQueryModel{})
	if result.Error != nil {
		return 0, mapError(result.Error, "purge search queries")
	}
	return result.RowsAffected, nil
}

func toDomainQueries(models []SearchQueryModel) []*domain.SearchQuery {
	out := make([]*domain.SearchQuery, 0, len(models))
	for i := range models {
		out = append(out, ToDomainSearchQuery(&models[i]))
	}
	return out
}
