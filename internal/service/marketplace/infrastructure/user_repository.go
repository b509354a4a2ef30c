package infrastructure

import (
	"context"

	"gorm.io/gorm"

	"rentbot/internal/service/marketplace/domain"
)

// GormUserRepository 是 UserRepository 的 GORM 实现
type GormUserRepository struct {
	db *gorm.DB
}

func NewGormUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

func (r *GormUserRepository) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	var model UserModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&model).Error; err != nil {
		return nil, mapError(err, "find user")
	}
	return ToDomainUser(&model), nil
}

func (r *GormUserRepository) FindByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error) {
	var model UserModel
	if err := r.db.WithContext(ctx).Where("telegram_id = ?", telegramID).Take(&model).Error; err != nil {
		return nil, mapError(err, "find user by telegram id")
	}
	return ToDomainUser(&model), nil
}

func (r *GormUserRepository) Create(ctx context.Context, u *domain.User) error {
	model := FromDomainUser(u)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return mapError(err, "create user")
	}
	u.ID = model.ID
	return nil
}

func (r *GormUserRepository) UpdateProfile(ctx context.Context, u *domain.User) error {
	err := r.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", u.ID).
		Updates(map[string]interface{}{
			"username":   u.Username,
			"first_name": u.FirstName,
			"last_name":  u.LastName,
		}).Error
	return mapError(err, "update user profile")
}

func (r *GormUserRepository) SetRole(ctx context.Context, id int64, role domain.Role) error {
	err := r.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", id).Update("role", string(role)).Error
	return mapError(err, "set user role")
}

func (r *GormUserRepository) SetBanned(ctx context.Context, id int64, banned bool) error {
	err := r.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", id).Update("is_banned", banned).Error
	return mapError(err, "set user banned")
}

func (r *GormUserRepository) ListByRoles(ctx context.Context, roles ...domain.Role) ([]*domain.User, error) {
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, string(role))
	}
	var models []UserModel
	err := r.db.WithContext(ctx).
		Where("role IN ? AND is_banned = ?", names, false).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, mapError(err, "list users by role")
	}
	out := make([]*domain.User, 0, len(models))
	for i := range models {
		out = append(out, ToDomainUser(&models[i]))
	}
	return out, nil
}

func (r *GormUserRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&UserModel{}).Count(&n).Error
	return n, mapError(err, "count users")
}

func (r *GormUserRepository) CountCreatedIn(ctx context.Context, p domain.Period) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&UserModel{}).
		Where("created_at >= ? AND created_at < ?", p.From, p.To).
		Count(&n).Error
	return n, mapError(err, "count new users")
}
