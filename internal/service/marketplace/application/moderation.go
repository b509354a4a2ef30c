package application

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"rentbot/internal/pkg/logger"
	"rentbot/internal/pkg/metrics"
	"rentbot/internal/service/marketplace/domain"
)

// ModerationService 负责审核队列和审核决定。
// 审核决定以 “广告仍为 PENDING” 为条件写入，并发审核时只有先提交的一方成功。
type ModerationService struct {
	store      domain.Store
	dispatcher *Dispatcher
	search     *SearchService
	tracer     trace.Tracer
	now        Clock
}

func NewModerationService(store domain.Store, dispatcher *Dispatcher, search *SearchService, tracer trace.Tracer, clock Clock) *ModerationService {
	if clock == nil {
		clock = systemClock
	}
	return &ModerationService{store: store, dispatcher: dispatcher, search: search, tracer: tracer, now: clock}
}

func (s *ModerationService) PendingCount(ctx context.Context, moderatorID int64) (int64, error) {
	if _, err := s.requireModerator(ctx, moderatorID); err != nil {
		return 0, err
	}
	return readWithRetry(ctx, func() (int64, error) {
		return s.store.Queue().Count(ctx)
	})
}

// Next 查看队首。assign 为 true 时把队首分配给当前版主，分配不会阻止其他人处理同一条。
// 队列为空时返回 nil, nil。
func (s *ModerationService) Next(ctx context.Context, moderatorID int64, assign bool) (*domain.QueueEntry, error) {
	ctx, span := s.tracer.Start(ctx, "app.ModerationService.Next")
	defer span.End()

	if _, err := s.requireModerator(ctx, moderatorID); err != nil {
		return nil, fail(span, err, "Not a moderator")
	}
	entry, err := readWithRetry(ctx, func() (*domain.QueueEntry, error) {
		return s.store.Queue().Next(ctx)
	})
	if err != nil {
		return nil, fail(span, err, "Failed to read queue")
	}
	if entry == nil {
		return nil, nil
	}
	if entry.Ad == nil {
		ad, err := readWithRetry(ctx, func() (*domain.Ad, error) {
			return s.store.Ads().FindByID(ctx, entry.AdID)
		})
		if err != nil {
			return nil, fail(span, err, "Failed to load queued ad")
		}
		entry.Ad = ad
	}
	if assign {
		if err := s.store.Queue().Assign(ctx, entry.AdID, moderatorID); err != nil {
			// 取出和分配之间被别人处理掉了，调用方重新取即可
			return nil, fail(span, err, "Failed to assign queue entry")
		}
		entry.AssignedTo = &moderatorID
	}
	span.SetAttributes(attribute.Int64("ad.id", entry.AdID), attribute.Int("queue.priority", entry.Priority))
	return entry, nil
}

// Queue 按审核顺序列出队列
func (s *ModerationService) Queue(ctx context.Context, moderatorID int64, limit int) ([]*domain.QueueEntry, error) {
	if _, err := s.requireModerator(ctx, moderatorID); err != nil {
		return nil, err
	}
	return readWithRetry(ctx, func() ([]*domain.QueueEntry, error) {
		return s.store.Queue().List(ctx, limit)
	})
}

func (s *ModerationService) Assign(ctx context.Context, moderatorID, adID int64) error {
	if _, err := s.requireModerator(ctx, moderatorID); err != nil {
		return err
	}
	return s.store.Queue().Assign(ctx, adID, moderatorID)
}

// Approve 审核通过：移除队列项、通知车主，并触发订阅匹配
func (s *ModerationService) Approve(ctx context.Context, moderatorID, adID int64) (*domain.Ad, error) {
	ctx, span := s.tracer.Start(ctx, "app.ModerationService.Approve")
	defer span.End()
	span.SetAttributes(attribute.Int64("ad.id", adID), attribute.Int64("moderator.id", moderatorID))

	if _, err := s.requireModerator(ctx, moderatorID); err != nil {
		return nil, fail(span, err, "Not a moderator")
	}
	ad, err := s.decide(ctx, adID, func(tx domain.Store, ad *domain.Ad, now time.Time) error {
		return ad.Approve(moderatorID, now)
	})
	if err != nil {
		return nil, fail(span, err, "Failed to approve ad")
	}
	metrics.ModerationDecisions.WithLabelValues("approved").Inc()
	logger.Ctx(ctx).Info().Int64("ad_id", ad.ID).Int64("moderator_id", moderatorID).Msg("✅ Ad approved")

	// 匹配失败不影响审核结果，定时扫描会补发
	if _, err := s.search.NotifyMatches(ctx, ad); err != nil {
		logger.Ctx(ctx).Error().Err(err).Int64("ad_id", ad.ID).Msg("match scan after approval failed")
	}
	return ad, nil
}

// Reject 审核驳回。code 为空或 other 时 note 必填，最终原因为空时广告保持 PENDING。
func (s *ModerationService) Reject(ctx context.Context, moderatorID, adID int64, code domain.RejectionCode, note string) (*domain.Ad, error) {
	ctx, span := s.tracer.Start(ctx, "app.ModerationService.Reject")
	defer span.End()
	span.SetAttributes(attribute.Int64("ad.id", adID), attribute.String("rejection.code", string(code)))

	if _, err := s.requireModerator(ctx, moderatorID); err != nil {
		return nil, fail(span, err, "Not a moderator")
	}
	reason, err := domain.ResolveRejectionReason(code, note)
	if err != nil {
		return nil, fail(span, err, "Invalid rejection reason")
	}
	ad, err := s.decide(ctx, adID, func(tx domain.Store, ad *domain.Ad, now time.Time) error {
		return ad.Reject(moderatorID, reason, now)
	})
	if err != nil {
		return nil, fail(span, err, "Failed to reject ad")
	}
	metrics.ModerationDecisions.WithLabelValues("rejected").Inc()
	logger.Ctx(ctx).Info().Int64("ad_id", ad.ID).Int64("moderator_id", moderatorID).Str("reason", reason).Msg("ad rejected")
	return ad, nil
}

// BanAuthor 封禁车主并以违反规则为由驳回广告，两者在同一事务中完成
func (s *ModerationService) BanAuthor(ctx context.Context, moderatorID, adID int64) (*domain.Ad, error) {
	ctx, span := s.tracer.Start(ctx, "app.ModerationService.BanAuthor")
	defer span.End()
	span.SetAttributes(attribute.Int64("ad.id", adID))

	moderator, err := s.requireModerator(ctx, moderatorID)
	if err != nil {
		return nil, fail(span, err, "Not a moderator")
	}
	reason, _ := domain.ResolveRejectionReason(domain.RejectRules, "")
	ad, err := s.decide(ctx, adID, func(tx domain.Store, ad *domain.Ad, now time.Time) error {
		if ad.OwnerID == moderator.ID {
			return domain.NewValidationError("owner", "you cannot ban yourself")
		}
		owner, err := tx.Users().FindByID(ctx, ad.OwnerID)
		if err != nil {
			return err
		}
		// 版主不能封禁其他版主或管理员
		if owner.CanModerate() && !moderator.IsAdmin() {
			return domain.ErrPermissionDenied
		}
		if err := ad.Reject(moderatorID, reason, now); err != nil {
			return err
		}
		return tx.Users().SetBanned(ctx, ad.OwnerID, true)
	})
	if err != nil {
		return nil, fail(span, err, "Failed to ban author")
	}
	metrics.ModerationDecisions.WithLabelValues("banned").Inc()
	logger.Ctx(ctx).Warn().Int64("ad_id", ad.ID).Int64("owner_id", ad.OwnerID).Int64("moderator_id", moderatorID).Msg("ad author banned")
	return ad, nil
}

// Defer 推迟审核：优先级降一级（最低为 1），排到同级末尾并清除分配
func (s *ModerationService) Defer(ctx context.Context, moderatorID, adID int64) (*domain.QueueEntry, error) {
	ctx, span := s.tracer.Start(ctx, "app.ModerationService.Defer")
	defer span.End()

	if _, err := s.requireModerator(ctx, moderatorID); err != nil {
		return nil, fail(span, err, "Not a moderator")
	}
	var entry *domain.QueueEntry
	err := s.store.Atomic(ctx, func(tx domain.Store) error {
		var err error
		entry, err = tx.Queue().FindByAdID(ctx, adID)
		if err != nil {
			return err
		}
		entry.Defer(s.now())
		return tx.Queue().Update(ctx, entry)
	})
	if err != nil {
		return nil, fail(span, err, "Failed to defer queue entry")
	}
	metrics.ModerationDecisions.WithLabelValues("deferred").Inc()
	return entry, nil
}

// Stats 审核面板统计
func (s *ModerationService) Stats(ctx context.Context, moderatorID int64) (*domain.ModerationStats, error) {
	ctx, span := s.tracer.Start(ctx, "app.ModerationService.Stats")
	defer span.End()

	if _, err := s.requireModerator(ctx, moderatorID); err != nil {
		return nil, fail(span, err, "Not a moderator")
	}
	byStatus, err := readWithRetry(ctx, func() (map[domain.Status]int64, error) {
		return s.store.Ads().CountByStatus(ctx)
	})
	if err != nil {
		return nil, fail(span, err, "Failed to count ads")
	}
	entries, err := readWithRetry(ctx, func() ([]*domain.QueueEntry, error) {
		return s.store.Queue().List(ctx, 0)
	})
	if err != nil {
		return nil, fail(span, err, "Failed to list queue")
	}
	stats := &domain.ModerationStats{ByStatus: byStatus, Pending: int64(len(entries))}
	for _, e := range entries {
		if stats.OldestPending == nil || e.EnqueuedAt.Before(*stats.OldestPending) {
			at := e.EnqueuedAt
			stats.OldestPending = &at
		}
	}
	return stats, nil
}

// decide 是所有审核决定的公共部分。
// apply 在事务内对最新读取的广告执行状态转换，随后以 PENDING 为条件写回、移除队列项并记录通知；
// 通知在提交之后投递。
func (s *ModerationService) decide(ctx context.Context, adID int64, apply func(tx domain.Store, ad *domain.Ad, now time.Time) error) (*domain.Ad, error) {
	var (
		ad   *domain.Ad
		note *domain.Notification
	)
	err := s.store.Atomic(ctx, func(tx domain.Store) error {
		var err error
		ad, err = tx.Ads().FindByID(ctx, adID)
		if err != nil {
			return err
		}
		now := s.now()
		if err := apply(tx, ad, now); err != nil {
			return err
		}
		if err := tx.Ads().SaveIfStatus(ctx, ad, domain.StatusPending); err != nil {
			return err
		}
		if err := tx.Queue().Remove(ctx, adID); err != nil {
			return err
		}
		note = domain.ModerationNotification(ad, now)
		return s.dispatcher.Record(ctx, tx, note)
	})
	if err != nil {
		if errors.Is(err, domain.ErrStatusConflict) {
			metrics.ModerationDecisions.WithLabelValues("conflict").Inc()
			return nil, domain.ErrAlreadyModerated
		}
		if errors.Is(err, domain.ErrAlreadyModerated) {
			metrics.ModerationDecisions.WithLabelValues("conflict").Inc()
		}
		return nil, err
	}
	s.dispatcher.Deliver(ctx, note)
	return ad, nil
}

func (s *ModerationService) requireModerator(ctx context.Context, userID int64) (*domain.User, error) {
	user, err := readWithRetry(ctx, func() (*domain.User, error) {
		return s.store.Users().FindByID(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	if !user.CanModerate() {
		logger.Ctx(ctx).Warn().Int64("user_id", userID).Msg("denied moderation action to non-moderator")
		return nil, domain.ErrPermissionDenied
	}
	return user, nil
}
