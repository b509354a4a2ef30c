package infrastructure

import (
	"context"

	"gorm.io/gorm"

	"rentbot/internal/service/marketplace/domain"
)

// GormCategoryRepository 是 CategoryRepository 的 GORM 实现
type GormCategoryRepository struct {
	db *gorm.DB
}

func (r *GormCategoryRepository) ListActive(ctx context.Context) ([]*domain.Category, error) {
	var models []CategoryModel
	if err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("name ASC").Find(&models).Error; err != nil {
		return nil, mapError(err, "list categories")
	}
	out := make([]*domain.Category, 0, len(models))
	for i := range models {
		out = append(out, ToDomainCategory(&models[i]))
	}
	return out, nil
}

func (r *GormCategoryRepository) FindByID(ctx context.Context, id int64) (*domain.Category, error) {
	var model CategoryModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&model).Error; err != nil {
		return nil, mapError(err, "find category")
	}
	return ToDomainCategory(&model), nil
}

// SeedCategories 在表为空时写入默认分类
func SeedCategories(ctx context.Context, db *gorm.DB, names []string) error {
	var n int64
	if err := db.WithContext(ctx).Model(&CategoryModel{}).Count(&n).Error; err != nil {
		return mapError(err, "count categories")
	}
	if n > 0 || len(names) == 0 {
		return nil
	}
	models := make([]CategoryModel, 0, len(names))
	for _, name := range names {
		models = append(models, CategoryModel{Name: name, IsActive: true})
	}
	return mapError(db.WithContext(ctx).Create(&models).Error, "seed categories")
}
