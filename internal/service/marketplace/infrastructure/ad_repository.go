package infrastructure

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"rentbot/internal/service/marketplace/domain"
)

// GormAdRepository 是 AdRepository 的 GORM 实现
type GormAdRepository struct {
	db *gorm.DB
}

func NewGormAdRepository(db *gorm.DB) *GormAdRepository {
	return &GormAdRepository{db: db}
}

func (r *GormAdRepository) Create(ctx context.Context, ad *domain.Ad) error {
	model := FromDomainAd(ad)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return mapError(err, "create ad")
	}
	ad.ID = model.ID
	return nil
}

func (r *GormAdRepository) FindByID(ctx context.Context, id int64) (*domain.Ad, error) {
	var model AdModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&model).Error; err != nil {
		return nil, mapError(err, "find ad")
	}
	return ToDomainAd(&model), nil
}

// SaveIfStatus 是一次条件更新：WHERE 子句带上读取时的状态，
// 两个并发的审核只有一个能命中行，另一个得到 ErrStatusConflict。
func (r *GormAdRepository) SaveIfStatus(ctx context.Context, ad *domain.Ad, expected domain.Status) error {
	result := r.db.WithContext(ctx).Model(&AdModel{}).
		Where("id = ? AND status = ?", ad.ID, string(expected)).
		Updates(adUpdates(ad))
	if result.Error != nil {
		return mapError(result.Error, "save ad")
	}
	if result.RowsAffected == 0 {
		return domain.ErrStatusConflict
	}
	return nil
}

func (r *GormAdRepository) Delete(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&AdModel{})
	if result.Error != nil {
		return mapError(result.Error, "delete ad")
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormAdRepository) ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]*domain.Ad, error) {
	var models []AdModel
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC, id DESC").
		Limit(limitOrAll(limit)).Offset(offset).
		Find(&models).Error
	if err != nil {
		return nil, mapError(err, "list ads by owner")
	}
	return toDomainAds(models), nil
}

func (r *GormAdRepository) CountActiveByOwner(ctx context.Context, ownerID int64) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&AdModel{}).
		Where("owner_id = ? AND status <> ?", ownerID, string(domain.StatusArchived)).
		Count(&n).Error
	return n, mapError(err, "count ads by owner")
}

// Search 只返回已发布的广告，过滤条件与订阅匹配器一致
func (r *GormAdRepository) Search(ctx context.Context, filter domain.SearchFilter) ([]*domain.Ad, error) {
	filter = filter.Normalize()
	q := r.db.WithContext(ctx).Model(&AdModel{}).Where("status = ?", string(domain.StatusApproved))
	if kw := strings.TrimSpace(filter.Keywords); kw != "" {
		like := likePattern(kw)
		q = q.Where("(LOWER(title) LIKE ? OR LOWER(description) LIKE ?)", like, like)
	}
	if loc := strings.TrimSpace(filter.Location); loc != "" {
		q = q.Where("LOWER(location) LIKE ?", likePattern(loc))
	}
	if filter.MinPrice != nil {
		q = q.Where("price >= ?", *filter.MinPrice)
	}
	if filter.MaxPrice != nil {
		q = q.Where("price <= ?", *filter.MaxPrice)
	}
	if filter.CategoryID != nil {
		q = q.Where("category_id = ?", *filter.CategoryID)
	}

	var models []AdModel
	if err := q.Order("created_at DESC, id DESC").Limit(filter.Limit).Offset(filter.Offset).Find(&models).Error; err != nil {
		return nil, mapError(err, "search ads")
	}
	return toDomainAds(models), nil
}

func (r *GormAdRepository) ListApprovedSince(ctx context.Context, since time.Time) ([]*domain.Ad, error) {
	var models []AdModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND moderated_at >= ?", string(domain.StatusApproved), since).
		Order("created_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, mapError(err, "list recently approved ads")
	}
	return toDomainAds(models), nil
}

func (r *GormAdRepository) ListStaleApproved(ctx context.Context, before time.Time, limit int) ([]*domain.Ad, error) {
	var models []AdModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", string(domain.StatusApproved), before).
		Order("updated_at ASC, id ASC").
		Limit(limitOrAll(limit)).
		Find(&models).Error
	if err != nil {
		return nil, mapError(err, "list stale ads")
	}
	return toDomainAds(models), nil
}

type statusCount struct {
	Status string
	Total  int64
}

func (r *GormAdRepository) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	var rows []statusCount
	err := r.db.WithContext(ctx).Model(&AdModel{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, mapError(err, "count ads by status")
	}
	counts := make(map[domain.Status]int64, len(domain.AllStatuses))
	for _, s := range domain.AllStatuses {
		counts[s] = 0
	}
	for _, row := range rows {
		counts[domain.Status(row.Status)] = row.Total
	}
	return counts, nil
}

func (r *GormAdRepository) CountCreatedIn(ctx context.Context, p domain.Period) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&AdModel{}).
		Where("created_at >= ? AND created_at < ?", p.From, p.To).
		Count(&n).Error
	return n, mapError(err, "count new ads")
}

func (r *GormAdRepository) CountModeratedIn(ctx context.Context, status domain.Status, p domain.Period) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&AdModel{}).
		Where("status = ? AND moderated_at >= ? AND moderated_at < ?", string(status), p.From, p.To).
		Count(&n).Error
	return n, mapError(err, "count moderated ads")
}

func toDomainAds(models []AdModel) []*domain.Ad {
	ads := make([]*domain.Ad, 0, len(models))
	for i := range models {
		ads = append(ads, ToDomainAd(&models[i]))
	}
	return ads
}

// likePattern 生成大小写不敏感的 LIKE 模式，并转义通配符
func likePattern(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
	return "%" + s + "%"
}
