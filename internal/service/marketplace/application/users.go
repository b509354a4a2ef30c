package application

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"rentbot/internal/pkg/logger"
	"rentbot/internal/service/marketplace/domain"
)

// UserService 负责用户注册和角色管理
type UserService struct {
	store   domain.Store
	tracer  trace.Tracer
	isAdmin func(telegramID int64) bool
	now     Clock
}

// NewUserService 的 isAdmin 通常是 Config.IsAdminTelegramID，配置热更新后立即生效
func NewUserService(store domain.Store, tracer trace.Tracer, isAdmin func(int64) bool, clock Clock) *UserService {
	if isAdmin == nil {
		isAdmin = func(int64) bool { return false }
	}
	if clock == nil {
		clock = systemClock
	}
	return &UserService{store: store, tracer: tracer, isAdmin: isAdmin, now: clock}
}

// Ensure 在每次收到更新时调用：不存在则创建，存在则刷新资料。
// ADMIN_IDS 中的用户在首次出现时被设为管理员。
func (s *UserService) Ensure(ctx context.Context, p domain.Profile) (*domain.User, error) {
	ctx, span := s.tracer.Start(ctx, "app.UserService.Ensure")
	defer span.End()
	span.SetAttributes(attribute.Int64("telegram.id", p.TelegramID))

	user, err := readWithRetry(ctx, func() (*domain.User, error) {
		return s.store.Users().FindByTelegramID(ctx, p.TelegramID)
	})
	switch {
	case err == nil:
		return s.refresh(ctx, user, p)
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fail(span, err, "Failed to load user")
	}

	user = &domain.User{
		TelegramID: p.TelegramID,
		Username:   p.Username,
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		Role:       domain.RoleUser,
		CreatedAt:  s.now(),
	}
	if s.isAdmin(p.TelegramID) {
		user.Role = domain.RoleAdmin
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		// 同一用户的两条更新可能在不同副本上并发注册
		if errors.Is(err, domain.ErrDuplicateEntry) {
			return s.store.Users().FindByTelegramID(ctx, p.TelegramID)
		}
		return nil, fail(span, err, "Failed to create user")
	}
	logger.Ctx(ctx).Info().Int64("user_id", user.ID).Str("role", string(user.Role)).Msg("✅ New user registered")
	return user, nil
}

func (s *UserService) refresh(ctx context.Context, user *domain.User, p domain.Profile) (*domain.User, error) {
	changed := user.Username != p.Username || user.FirstName != p.FirstName || user.LastName != p.LastName
	if s.isAdmin(p.TelegramID) && user.Role != domain.RoleAdmin {
		if err := s.store.Users().SetRole(ctx, user.ID, domain.RoleAdmin); err != nil {
			return nil, err
		}
		user.Role = domain.RoleAdmin
	}
	if !changed {
		return user, nil
	}
	user.Username, user.FirstName, user.LastName = p.Username, p.FirstName, p.LastName
	if err := s.store.Users().UpdateProfile(ctx, user); err != nil {
		// 资料刷新失败不影响本次请求
		logger.Ctx(ctx).Warn().Err(err).Int64("user_id", user.ID).Msg("could not refresh user profile")
	}
	return user, nil
}

func (s *UserService) Get(ctx context.Context, userID int64) (*domain.User, error) {
	return readWithRetry(ctx, func() (*domain.User, error) {
		return s.store.Users().FindByID(ctx, userID)
	})
}

// FindByTelegramID 供 /role 等管理命令定位目标用户
func (s *UserService) FindByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error) {
	return readWithRetry(ctx, func() (*domain.User, error) {
		return s.store.Users().FindByTelegramID(ctx, telegramID)
	})
}

// SetRole 仅管理员可用
func (s *UserService) SetRole(ctx context.Context, actorID, targetTelegramID int64, role domain.Role) error {
	ctx, span := s.tracer.Start(ctx, "app.UserService.SetRole")
	defer span.End()

	switch role {
	case domain.RoleUser, domain.RoleModerator, domain.RoleAdmin:
	default:
		return fail(span, domain.NewValidationError("role", "must be one of user, moderator, admin"), "Invalid role")
	}
	actor, target, err := s.adminAndTarget(ctx, actorID, targetTelegramID)
	if err != nil {
		return fail(span, err, "Failed to load users")
	}
	if err := s.store.Users().SetRole(ctx, target.ID, role); err != nil {
		return fail(span, err, "Failed to set role")
	}
	logger.Ctx(ctx).Warn().Int64("actor_id", actor.ID).Int64("target_id", target.ID).Str("role", string(role)).Msg("user role changed")
	return nil
}

// SetBanned 仅管理员可用
func (s *UserService) SetBanned(ctx context.Context, actorID, targetTelegramID int64, banned bool) error {
	ctx, span := s.tracer.Start(ctx, "app.UserService.SetBanned")
	defer span.End()

	actor, target, err := s.adminAndTarget(ctx, actorID, targetTelegramID)
	if err != nil {
		return fail(span, err, "Failed to load users")
	}
	if actor.ID == target.ID {
		return fail(span, domain.NewValidationError("target", "you cannot ban yourself"), "Self ban")
	}
	if err := s.store.Users().SetBanned(ctx, target.ID, banned); err != nil {
		return fail(span, err, "Failed to update ban flag")
	}
	logger.Ctx(ctx).Warn().Int64("actor_id", actor.ID).Int64("target_id", target.ID).Bool("banned", banned).Msg("user ban flag changed")
	return nil
}

func (s *UserService) adminAndTarget(ctx context.Context, actorID, targetTelegramID int64) (*domain.User, *domain.User, error) {
	actor, err := s.Get(ctx, actorID)
	if err != nil {
		return nil, nil, err
	}
	if !actor.IsAdmin() {
		logger.Ctx(ctx).Warn().Int64("user_id", actorID).Msg("non-admin attempted an admin action")
		return nil, nil, domain.ErrPermissionDenied
	}
	target, err := s.FindByTelegramID(ctx, targetTelegramID)
	if err != nil {
		return nil, nil, err
	}
	return actor, target, nil
}
