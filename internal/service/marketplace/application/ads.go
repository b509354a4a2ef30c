package application

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"rentbot/internal/pkg/logger"
	"rentbot/internal/service/marketplace/domain"
	"rentbot/internal/service/marketplace/domain/port"
)

// AdLimits 来自配置，每次调用时读取，热更新后立即生效
type AdLimits struct {
	MaxPerUser int
	Price      domain.PriceRange
}

// AdService 编排车主对广告的操作
type AdService struct {
	store    domain.Store
	priority port.PriorityPolicy
	tracer   trace.Tracer
	limits   func() AdLimits
	now      Clock
}

func NewAdService(store domain.Store, priority port.PriorityPolicy, tracer trace.Tracer, limits func() AdLimits, clock Clock) *AdService {
	if priority == nil {
		priority = port.DefaultPriority{}
	}
	if clock == nil {
		clock = systemClock
	}
	return &AdService{store: store, priority: priority, tracer: tracer, limits: limits, now: clock}
}

// Create 校验内容后写入广告；非草稿在同一事务中入队
func (s *AdService) Create(ctx context.Context, ownerID int64, content domain.AdContent, asDraft bool) (*domain.Ad, error) {
	ctx, span := s.tracer.Start(ctx, "app.AdService.Create")
	defer span.End()
	span.SetAttributes(attribute.Int64("owner.id", ownerID), attribute.Bool("ad.draft", asDraft))

	owner, err := loadActiveUser(ctx, s.store, ownerID)
	if err != nil {
		return nil, fail(span, err, "Failed to load owner")
	}
	limits := s.limits()
	if err := content.Validate(limits.Price); err != nil {
		return nil, fail(span, err, "Invalid ad content")
	}
	if err := s.checkCategory(ctx, content.CategoryID); err != nil {
		return nil, fail(span, err, "Invalid category")
	}
	if limits.MaxPerUser > 0 {
		active, err := readWithRetry(ctx, func() (int64, error) {
			return s.store.Ads().CountActiveByOwner(ctx, ownerID)
		})
		if err != nil {
			return nil, fail(span, err, "Failed to count ads")
		}
		if active >= int64(limits.MaxPerUser) {
			return nil, fail(span, domain.NewValidationError("ads",
				fmt.Sprintf("you already have %d active ads, the limit is %d", active, limits.MaxPerUser)), "Ad limit reached")
		}
	}

	now := s.now()
	ad := domain.NewAd(ownerID, content, asDraft, now)
	err = s.store.Atomic(ctx, func(tx domain.Store) error {
		if err := tx.Ads().Create(ctx, ad); err != nil {
			return err
		}
		if asDraft {
			return nil
		}
		return s.enqueue(ctx, tx, ad, owner)
	})
	if err != nil {
		return nil, fail(span, err, "Failed to create ad")
	}

	span.SetAttributes(attribute.Int64("ad.id", ad.ID))
	logger.Ctx(ctx).Info().Int64("ad_id", ad.ID).Int64("owner_id", ownerID).Str("status", ad.Status.String()).Msg("✅ Ad created")
	return ad, nil
}

// Submit 将草稿送审
func (s *AdService) Submit(ctx context.Context, ownerID, adID int64) (*domain.Ad, error) {
	ctx, span := s.tracer.Start(ctx, "app.AdService.Submit")
	defer span.End()

	owner, ad, err := s.ownedAd(ctx, ownerID, adID)
	if err != nil {
		return nil, fail(span, err, "Failed to load ad")
	}
	if err := ad.Submit(s.now()); err != nil {
		return nil, fail(span, err, "Invalid transition")
	}
	if err := s.saveAndEnqueue(ctx, ad, domain.StatusDraft, owner); err != nil {
		return nil, fail(span, err, "Failed to submit ad")
	}
	logger.Ctx(ctx).Info().Int64("ad_id", ad.ID).Msg("draft submitted for review")
	return ad, nil
}

// Edit 写入修改。受保护字段变化时由 ReconcileStatusOnEdit 决定是否重新审核，
// 写入以读到的状态为条件，期间被审核过则返回冲突。
func (s *AdService) Edit(ctx context.Context, ownerID, adID int64, changes domain.AdChanges) (*domain.Ad, error) {
	ctx, span := s.tracer.Start(ctx, "app.AdService.Edit")
	defer span.End()
	span.SetAttributes(attribute.Int64("ad.id", adID))

	owner, ad, err := s.ownedAd(ctx, ownerID, adID)
	if err != nil {
		return nil, fail(span, err, "Failed to load ad")
	}
	if err := changes.Preview(ad).Validate(s.limits().Price); err != nil {
		return nil, fail(span, err, "Invalid ad content")
	}
	if !changes.ClearCategory {
		if err := s.checkCategory(ctx, changes.CategoryID); err != nil {
			return nil, fail(span, err, "Invalid category")
		}
	}

	prev := ad.Status
	changed, requeue, err := ad.ApplyEdit(changes, s.now())
	if err != nil {
		return nil, fail(span, err, "Invalid transition")
	}
	if changed == 0 {
		return ad, nil
	}
	if requeue {
		err = s.saveAndEnqueue(ctx, ad, prev, owner)
	} else {
		err = s.store.Ads().SaveIfStatus(ctx, ad, prev)
	}
	if err != nil {
		return nil, fail(span, err, "Failed to save ad")
	}
	logger.Ctx(ctx).Info().Int64("ad_id", ad.ID).Str("from", prev.String()).Str("to", ad.Status.String()).Bool("requeued", requeue).Msg("ad edited")
	return ad, nil
}

// MarkRented 车主标记已出租
func (s *AdService) MarkRented(ctx context.Context, ownerID, adID int64) (*domain.Ad, error) {
	ctx, span := s.tracer.Start(ctx, "app.AdService.MarkRented")
	defer span.End()

	_, ad, err := s.ownedAd(ctx, ownerID, adID)
	if err != nil {
		return nil, fail(span, err, "Failed to load ad")
	}
	prev := ad.Status
	if err := ad.MarkRented(s.now()); err != nil {
		return nil, fail(span, err, "Invalid transition")
	}
	if err := s.store.Ads().SaveIfStatus(ctx, ad, prev); err != nil {
		return nil, fail(span, err, "Failed to save ad")
	}
	return ad, nil
}

// Reactivate 已归档或已出租的广告重新送审
func (s *AdService) Reactivate(ctx context.Context, ownerID, adID int64) (*domain.Ad, error) {
	ctx, span := s.tracer.Start(ctx, "app.AdService.Reactivate")
	defer span.End()

	owner, ad, err := s.ownedAd(ctx, ownerID, adID)
	if err != nil {
		return nil, fail(span, err, "Failed to load ad")
	}
	prev := ad.Status
	if err := ad.Reactivate(s.now()); err != nil {
		return nil, fail(span, err, "Invalid transition")
	}
	if err := s.saveAndEnqueue(ctx, ad, prev, owner); err != nil {
		return nil, fail(span, err, "Failed to reactivate ad")
	}
	return ad, nil
}

// Delete 车主或管理员删除广告，连带删除队列项、私信和评价
func (s *AdService) Delete(ctx context.Context, actorID, adID int64) error {
	ctx, span := s.tracer.Start(ctx, "app.AdService.Delete")
	defer span.End()
	span.SetAttributes(attribute.Int64("ad.id", adID), attribute.Int64("actor.id", actorID))

	actor, err := readWithRetry(ctx, func() (*domain.User, error) {
		return s.store.Users().FindByID(ctx, actorID)
	})
	if err != nil {
		return fail(span, err, "Failed to load actor")
	}
	ad, err := readWithRetry(ctx, func() (*domain.Ad, error) {
		return s.store.Ads().FindByID(ctx, adID)
	})
	if err != nil {
		return fail(span, err, "Failed to load ad")
	}
	if ad.OwnerID != actor.ID && !actor.IsAdmin() {
		logger.Ctx(ctx).Warn().Int64("actor_id", actorID).Int64("ad_id", adID).Msg("denied ad deletion by non-owner")
		return fail(span, domain.ErrPermissionDenied, "Not the owner")
	}

	err = s.store.Atomic(ctx, func(tx domain.Store) error {
		if err := tx.Queue().Remove(ctx, adID); err != nil {
			return err
		}
		if err := tx.Messages().DeleteByAd(ctx, adID); err != nil {
			return err
		}
		if err := tx.Feedback().DeleteByAd(ctx, adID); err != nil {
			return err
		}
		return tx.Ads().Delete(ctx, adID)
	})
	if err != nil {
		return fail(span, err, "Failed to delete ad")
	}
	logger.Ctx(ctx).Warn().Int64("actor_id", actorID).Int64("ad_id", adID).Int64("owner_id", ad.OwnerID).Msg("ad deleted")
	return nil
}

// ListMine 按创建时间倒序分页
func (s *AdService) ListMine(ctx context.Context, ownerID int64, limit, offset int) ([]*domain.Ad, error) {
	if limit <= 0 || limit > domain.MaxSearchResults {
		limit = domain.MaxSearchResults
	}
	return readWithRetry(ctx, func() ([]*domain.Ad, error) {
		return s.store.Ads().ListByOwner(ctx, ownerID, limit, max(offset, 0))
	})
}

// Get 已发布的广告所有人可见；其余状态只对车主和版主可见
func (s *AdService) Get(ctx context.Context, viewerID, adID int64) (*domain.Ad, error) {
	ad, err := readWithRetry(ctx, func() (*domain.Ad, error) {
		return s.store.Ads().FindByID(ctx, adID)
	})
	if err != nil {
		return nil, err
	}
	if ad.Status.IsVisible() || ad.OwnerID == viewerID {
		return ad, nil
	}
	viewer, err := readWithRetry(ctx, func() (*domain.User, error) {
		return s.store.Users().FindByID(ctx, viewerID)
	})
	if err != nil {
		return nil, err
	}
	if !viewer.CanModerate() {
		return nil, domain.ErrNotFound
	}
	return ad, nil
}

// Categories 返回可选分类
func (s *AdService) Categories(ctx context.Context) ([]*domain.Category, error) {
	return readWithRetry(ctx, func() ([]*domain.Category, error) {
		return s.store.Categories().ListActive(ctx)
	})
}

func (s *AdService) ownedAd(ctx context.Context, ownerID, adID int64) (*domain.User, *domain.Ad, error) {
	owner, err := loadActiveUser(ctx, s.store, ownerID)
	if err != nil {
		return nil, nil, err
	}
	ad, err := readWithRetry(ctx, func() (*domain.Ad, error) {
		return s.store.Ads().FindByID(ctx, adID)
	})
	if err != nil {
		return nil, nil, err
	}
	if ad.OwnerID != ownerID {
		logger.Ctx(ctx).Warn().Int64("user_id", ownerID).Int64("ad_id", adID).Msg("denied access to foreign ad")
		return nil, nil, domain.ErrPermissionDenied
	}
	return owner, ad, nil
}

func (s *AdService) checkCategory(ctx context.Context, id *int64) error {
	if id == nil {
		return nil
	}
	c, err := s.store.Categories().FindByID(ctx, *id)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && !c.IsActive) {
		return domain.NewValidationError("category", "unknown category")
	}
	return err
}

// saveAndEnqueue 以 expected 为条件写入进入 PENDING 的广告并入队
func (s *AdService) saveAndEnqueue(ctx context.Context, ad *domain.Ad, expected domain.Status, owner *domain.User) error {
	return s.store.Atomic(ctx, func(tx domain.Store) error {
		if err := tx.Ads().SaveIfStatus(ctx, ad, expected); err != nil {
			return err
		}
		return s.enqueue(ctx, tx, ad, owner)
	})
}

func (s *AdService) enqueue(ctx context.Context, tx domain.Store, ad *domain.Ad, owner *domain.User) error {
	priority := s.priority.Priority(ctx, ad, owner)
	return tx.Queue().Enqueue(ctx, domain.NewQueueEntry(ad.ID, priority, s.now()))
}
