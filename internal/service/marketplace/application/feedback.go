package application

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace"

	"rentbot/internal/pkg/logger"
	"rentbot/internal/service/marketplace/domain"
)

// FeedbackService 评价
type FeedbackService struct {
	store  domain.Store
	tracer trace.Tracer
	now    Clock
}

func NewFeedbackService(store domain.Store, tracer trace.Tracer, clock Clock) *FeedbackService {
	if clock == nil {
		clock = systemClock
	}
	return &FeedbackService{store: store, tracer: tracer, now: clock}
}

// Leave 同一用户对同一广告只能评价一次，重复评价返回 ErrConflict
func (s *FeedbackService) Leave(ctx context.Context, userID int64, typ domain.FeedbackType, adID *int64, rating int, comment string) (*domain.Feedback, error) {
	ctx, span := s.tracer.Start(ctx, "app.FeedbackService.Leave")
	defer span.End()

	if _, err := loadActiveUser(ctx, s.store, userID); err != nil {
		return nil, fail(span, err, "Failed to load user")
	}
	f, err := domain.NewFeedback(userID, typ, adID, rating, comment, s.now())
	if err != nil {
		return nil, fail(span, err, "Invalid feedback")
	}
	if f.AdID != nil {
		ad, err := readWithRetry(ctx, func() (*domain.Ad, error) {
			return s.store.Ads().FindByID(ctx, *f.AdID)
		})
		if err != nil {
			return nil, fail(span, err, "Failed to load ad")
		}
		if ad.OwnerID == userID {
			return nil, fail(span, domain.NewValidationError("ad_id", "you cannot rate your own ad"), "Own ad")
		}
	}
	if err := s.store.Feedback().Create(ctx, f); err != nil {
		if errors.Is(err, domain.ErrDuplicateEntry) {
			return nil, fail(span, errors.Wrap(domain.ErrConflict, "you have already rated this ad"), "Duplicate feedback")
		}
		return nil, fail(span, err, "Failed to save feedback")
	}
	logger.Ctx(ctx).Info().Int64("feedback_id", f.ID).Str("type", string(f.Type)).Int("rating", f.Rating).Msg("feedback received")
	return f, nil
}

func (s *FeedbackService) AverageRating(ctx context.Context, adID int64) (domain.RatingSummary, error) {
	return readWithRetry(ctx, func() (domain.RatingSummary, error) {
		return s.store.Feedback().Summary(ctx, domain.FeedbackAd, &adID)
	})
}

func (s *FeedbackService) Mine(ctx context.Context, userID int64) ([]*domain.Feedback, error) {
	return readWithRetry(ctx, func() ([]*domain.Feedback, error) {
		return s.store.Feedback().ListByUser(ctx, userID, domain.MaxSearchResults)
	})
}

// BotStats 对机器人本身的评价汇总
func (s *FeedbackService) BotStats(ctx context.Context) (domain.RatingSummary, error) {
	return readWithRetry(ctx, func() (domain.RatingSummary, error) {
		return s.store.Feedback().Summary(ctx, domain.FeedbackBot, nil)
	})
}
