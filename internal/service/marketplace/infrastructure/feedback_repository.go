package infrastructure

import (
	"context"

	"gorm.io/gorm"

	"rentbot/internal/service/marketplace/domain"
)

// GormFeedbackRepository 是 FeedbackRepository 的 GORM 实现
type GormFeedbackRepository struct {
	db *gorm.DB
}

func NewGormFeedbackRepository(db *gorm.DB) *GormFeedbackRepository {
	return &GormFeedbackRepository{db: db}
}

// Create 依赖 (user_id, ad_id) 唯一索引拒绝重复评价
func (r *GormFeedbackRepository) Create(ctx context.Context, f *domain.Feedback) error {
	model := FromDomainFeedback(f)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return mapError(err, "create feedback")
	}
	f.ID = model.ID
	return nil
}

func (r *GormFeedbackRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*domain.Feedback, error) {
	var models []FeedbackModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limitOrAll(limit)).
		Find(&models).Error
	if err != nil {
		return nil, mapError(err, "list feedback")
	}
	out := make([]*domain.Feedback, 0, len(models))
	for i := range models {
		out = append(out, ToDomainFeedback(&models[i]))
	}
	return out, nil
}

type ratingRow struct {
	Total   int64
	Average *float64
}

func (r *GormFeedbackRepository) Summary(ctx context.Context, typ domain.FeedbackType, adID *int64) (domain.RatingSummary, error) {
	q := r.db.WithContext(ctx).Model(&FeedbackModel{}).
		Select("COUNT(*) AS total, AVG(rating) AS average").
		Where("type = ?", string(typ))
	if adID != nil {
		q = q.Where("ad_id = ?", *adID)
	}
	var row ratingRow
	if err := q.Scan(&row).Error; err != nil {
		return domain.RatingSummary{}, mapError(err, "summarize feedback")
	}
	summary := domain.RatingSummary{Count: row.Total}
	if row.Average != nil {
		summary.Average = *row.Average
	}
	return summary, nil
}

func (r *GormFeedbackRepository) DeleteByAd(ctx context.Context, adID int64) error {
	err := r.db.WithContext(ctx).Where("ad_id = ?", adID).Delete(&FeedbackModel{}).Error
	return mapError(err, "delete ad feedback")
}

func (r *GormFeedbackRepository) CountCreatedIn(ctx context.Context, p domain.Period) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&FeedbackModel{}).
		Where("created_at >= ? AND created_at < ?", p.From, p.To).
		Count(&n).Error
	return n, mapError(err, "count new feedback")
}
