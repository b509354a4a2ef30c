package application

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"rentbot/internal/pkg/logger"
	"rentbot/internal/service/marketplace/domain"
)

// errAlreadyNotified 只在事务内部使用，表示这次匹配被其他流程抢先通知，回滚即可
var errAlreadyNotified = errors.New("query already notified for this ad")

// SearchService 负责公开搜索、订阅管理和订阅匹配
type SearchService struct {
	store      domain.Store
	dispatcher *Dispatcher
	tracer     trace.Tracer
	now        Clock
}

func NewSearchService(store domain.Store, dispatcher *Dispatcher, tracer trace.Tracer, clock Clock) *SearchService {
	if clock == nil {
		clock = systemClock
	}
	return &SearchService{store: store, dispatcher: dispatcher, tracer: tracer, now: clock}
}

// Search 只返回已发布的广告
func (s *SearchService) Search(ctx context.Context, filter domain.SearchFilter) ([]*domain.Ad, error) {
	ctx, span := s.tracer.Start(ctx, "app.SearchService.Search")
	defer span.End()

	if err := filter.Criteria.Validate(); err != nil {
		return nil, fail(span, err, "Invalid search criteria")
	}
	filter = filter.Normalize()
	ads, err := readWithRetry(ctx, func() ([]*domain.Ad, error) {
		return s.store.Ads().Search(ctx, filter)
	})
	if err != nil {
		return nil, fail(span, err, "Search failed")
	}
	span.SetAttributes(attribute.Int("search.results", len(ads)))
	return ads, nil
}

func (s *SearchService) SaveQuery(ctx context.Context, userID int64, c domain.Criteria) (*domain.SearchQuery, error) {
	ctx, span := s.tracer.Start(ctx, "app.SearchService.SaveQuery")
	defer span.End()

	if _, err := loadActiveUser(ctx, s.store, userID); err != nil {
		return nil, fail(span, err, "Failed to load user")
	}
	if err := c.Validate(); err != nil {
		return nil, fail(span, err, "Invalid search criteria")
	}
	q := domain.NewSearchQuery(userID, c, s.now())
	if err := s.store.Queries().Create(ctx, q); err != nil {
		return nil, fail(span, err, "Failed to save search query")
	}
	logger.Ctx(ctx).Info().Int64("query_id", q.ID).Int64("user_id", userID).Bool("match_all", c.IsEmpty()).Msg("search query saved")
	return q, nil
}

func (s *SearchService) ListQueries(ctx context.Context, userID int64) ([]*domain.SearchQuery, error) {
	return readWithRetry(ctx, func() ([]*domain.SearchQuery, error) {
		return s.store.Queries().ListByUser(ctx, userID)
	})
}

// ToggleQuery 切换订阅的启用状态
func (s *SearchService) ToggleQuery(ctx context.Context, userID, queryID int64) (*domain.SearchQuery, error) {
	ctx, span := s.tracer.Start(ctx, "app.SearchService.ToggleQuery")
	defer span.End()

	q, err := s.ownedQuery(ctx, userID, queryID)
	if err != nil {
		return nil, fail(span, err, "Failed to load search query")
	}
	q.IsActive = !q.IsActive
	if err := s.store.Queries().SetActive(ctx, q.ID, q.IsActive); err != nil {
		return nil, fail(span, err, "Failed to toggle search query")
	}
	return q, nil
}

func (s *SearchService) DeleteQuery(ctx context.Context, userID, queryID int64) error {
	ctx, span := s.tracer.Start(ctx, "app.SearchService.DeleteQuery")
	defer span.End()

	if _, err := s.ownedQuery(ctx, userID, queryID); err != nil {
		return fail(span, err, "Failed to load search query")
	}
	if err := s.store.Queries().Delete(ctx, queryID); err != nil {
		return fail(span, err, "Failed to delete search query")
	}
	return nil
}

// ownedQuery 别人的订阅按不存在处理
func (s *SearchService) ownedQuery(ctx context.Context, userID, queryID int64) (*domain.SearchQuery, error) {
	q, err := readWithRetry(ctx, func() (*domain.SearchQuery, error) {
		return s.store.Queries().FindByID(ctx, queryID)
	})
	if err != nil {
		return nil, err
	}
	if q.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return q, nil
}

// NotifyMatches 为一条已发布的广告通知所有命中的订阅。
// 每个命中在独立事务中推进 last_notified 并写入通知，提交后再按节奏投递；
// 审核通过时的即时触发与定时扫描可能同时运行，条件更新保证同一订阅只通知一次。
func (s *SearchService) NotifyMatches(ctx context.Context, ad *domain.Ad) (int, error) {
	ctx, span := s.tracer.Start(ctx, "app.SearchService.NotifyMatches")
	defer span.End()
	span.SetAttributes(attribute.Int64("ad.id", ad.ID))

	if ad.Status != domain.StatusApproved {
		return 0, nil
	}
	queries, err := readWithRetry(ctx, func() ([]*domain.SearchQuery, error) {
		return s.store.Queries().ListActive(ctx)
	})
	if err != nil {
		return 0, fail(span, err, "Failed to list active queries")
	}
	matches := domain.FindMatches(queries, ad)
	if len(matches) == 0 {
		return 0, nil
	}

	created := make([]*domain.Notification, 0, len(matches))
	for _, q := range matches {
		now := s.now()
		n := domain.NewAdMatchNotification(q, ad, now)
		err := s.store.Atomic(ctx, func(tx domain.Store) error {
			claimed, err := tx.Queries().MarkNotified(ctx, q.ID, ad.CreatedAt, domain.NotifiedAt(ad, now))
			if err != nil {
				return err
			}
			if !claimed {
				return errAlreadyNotified
			}
			return s.dispatcher.Record(ctx, tx, n)
		})
		switch {
		case err == nil:
			created = append(created, n)
		case errors.Is(err, errAlreadyNotified):
			logger.Ctx(ctx).Debug().Int64("query_id", q.ID).Int64("ad_id", ad.ID).Msg("query already notified, skipping")
		default:
			// 后续订阅继续处理，失败的这条由下一次扫描补发
			span.RecordError(err)
			logger.Ctx(ctx).Error().Err(err).Int64("query_id", q.ID).Int64("ad_id", ad.ID).Msg("failed to record match notification")
		}
	}

	s.dispatcher.Deliver(ctx, created...)
	span.SetAttributes(attribute.Int("matches.notified", len(created)))
	if len(created) > 0 {
		logger.Ctx(ctx).Info().Int64("ad_id", ad.ID).Int("notified", len(created)).Msg("✅ Saved searches notified")
	}
	return len(created), nil
}
