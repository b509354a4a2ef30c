package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"rentbot/internal/pkg/logger"
	"rentbot/internal/pkg/metrics"
	"rentbot/internal/service/marketplace/domain"
)

// archiveBatch 单次清理最多归档的广告数量，剩余的留给下一次
const archiveBatch = 500

// SweepSettings 来自配置，每次运行时读取
type SweepSettings struct {
	// NotificationWindow 新广告扫描的回溯窗口
	NotificationWindow time.Duration
	StaleAfter         time.Duration
	AlertThreshold     int
	WarnThreshold      int
	ArchiveAfter       time.Duration
	ReadRetention      time.Duration
	QueryRetention     time.Duration
	AdminTelegramIDs   []int64
}

// SweepService 包含所有定时任务的业务逻辑，调度与互斥由 interfaces 层负责。
// 每个任务都可以安全地重复运行。
type SweepService struct {
	store      domain.Store
	dispatcher *Dispatcher
	search     *SearchService
	tracer     trace.Tracer
	settings   func() SweepSettings
	now        Clock
}

func NewSweepService(store domain.Store, dispatcher *Dispatcher, search *SearchService, tracer trace.Tracer, settings func() SweepSettings, clock Clock) *SweepService {
	if clock == nil {
		clock = systemClock
	}
	return &SweepService{store: store, dispatcher: dispatcher, search: search, tracer: tracer, settings: settings, now: clock}
}

// NotifyNewAds 对回溯窗口内审核通过的广告重新执行订阅匹配，弥补审核时漏掉的触发
func (s *SweepService) NotifyNewAds(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "app.SweepService.NotifyNewAds")
	defer span.End()

	since := s.now().Add(-s.settings().NotificationWindow)
	ads, err := readWithRetry(ctx, func() ([]*domain.Ad, error) {
		return s.store.Ads().ListApprovedSince(ctx, since)
	})
	if err != nil {
		return 0, fail(span, err, "Failed to list recently approved ads")
	}
	total := 0
	for _, ad := range ads {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.search.NotifyMatches(ctx, ad)
		if err != nil {
			logger.Ctx(ctx).Error().Err(err).Int64("ad_id", ad.ID).Msg("match scan failed")
			continue
		}
		total += n
	}
	span.SetAttributes(attribute.Int("ads.scanned", len(ads)), attribute.Int("notifications.created", total))
	return total, nil
}

// NotifyModerators 队列积压时提醒版主和管理员
func (s *SweepService) NotifyModerators(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "app.SweepService.NotifyModerators")
	defer span.End()

	cfg := s.settings()
	now := s.now()
	pending, err := readWithRetry(ctx, func() (int64, error) {
		return s.store.Queue().Count(ctx)
	})
	if err != nil {
		return 0, fail(span, err, "Failed to count queue")
	}
	if pending == 0 {
		return 0, nil
	}
	stale, err := readWithRetry(ctx, func() ([]*domain.QueueEntry, error) {
		return s.store.Queue().ListEnqueuedBefore(ctx, now.Add(-cfg.StaleAfter))
	})
	if err != nil {
		return 0, fail(span, err, "Failed to list stale entries")
	}
	if len(stale) == 0 && pending < int64(cfg.AlertThreshold) {
		return 0, nil
	}
	top, err := readWithRetry(ctx, func() ([]*domain.QueueEntry, error) {
		return s.store.Queue().List(ctx, 3)
	})
	if err != nil {
		return 0, fail(span, err, "Failed to list queue")
	}
	moderators, err := readWithRetry(ctx, func() ([]*domain.User, error) {
		return s.store.Users().ListByRoles(ctx, domain.RoleModerator, domain.RoleAdmin)
	})
	if err != nil {
		return 0, fail(span, err, "Failed to list moderators")
	}

	content := moderationAlertText(pending, len(stale), top, now)
	created := make([]*domain.Notification, 0, len(moderators))
	for _, m := range moderators {
		n := domain.NewNotification(m.ID, domain.NotificationModerationAlert, "Moderation queue needs attention", content,
			map[string]any{"pending": pending, "stale": len(stale)}, now)
		if err := s.store.Notifications().Create(ctx, n); err != nil {
			logger.Ctx(ctx).Error().Err(err).Int64("user_id", m.ID).Msg("failed to record moderation alert")
			continue
		}
		created = append(created, n)
	}
	s.dispatcher.Deliver(ctx, created...)
	logger.Ctx(ctx).Info().Int64("pending", pending).Int("stale", len(stale)).Int("alerted", len(created)).Msg("moderators alerted")
	return len(created), nil
}

func moderationAlertText(pending int64, stale int, top []*domain.QueueEntry, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⏳ %d ads are waiting for review", pending)
	if stale > 0 {
		fmt.Fprintf(&b, ", %d of them for more than a day", stale)
	}
	b.WriteString(".\n")
	for _, e := range top {
		title := fmt.Sprintf("ad #%d", e.AdID)
		if e.Ad != nil {
			title = e.Ad.Title
		}
		fmt.Fprintf(&b, "\n• %s (priority %d, waiting %s)", title, e.Priority, now.Sub(e.EnqueuedAt).Truncate(time.Minute))
	}
	b.WriteString("\n\nOpen the queue with /mod")
	return b.String()
}

// CleanupReport 一次清理的结果
type CleanupReport struct {
	Archived             int
	NotificationsDeleted int64
	QueriesDeleted       int64
}

// Cleanup 归档长期未更新的广告，删除过期的已读通知和长期不活跃的订阅
func (s *SweepService) Cleanup(ctx context.Context) (CleanupReport, error) {
	ctx, span := s.tracer.Start(ctx, "app.SweepService.Cleanup")
	defer span.End()

	var report CleanupReport
	cfg := s.settings()
	now := s.now()

	stale, err := readWithRetry(ctx, func() ([]*domain.Ad, error) {
		return s.store.Ads().ListStaleApproved(ctx, now.Add(-cfg.ArchiveAfter), archiveBatch)
	})
	if err != nil {
		return report, fail(span, err, "Failed to list stale ads")
	}
	archived := make([]*domain.Notification, 0, len(stale))
	for _, ad := range stale {
		if err := ad.Archive(now); err != nil {
			continue
		}
		n := domain.ArchivedNotification(ad, now)
		err := s.store.Atomic(ctx, func(tx domain.Store) error {
			if err := tx.Ads().SaveIfStatus(ctx, ad, domain.StatusApproved); err != nil {
				return err
			}
			return s.dispatcher.Record(ctx, tx, n)
		})
		if err != nil {
			// 车主刚好在编辑或标记出租，跳过
			if !errors.Is(err, domain.ErrStatusConflict) {
				logger.Ctx(ctx).Error().Err(err).Int64("ad_id", ad.ID).Msg("failed to archive ad")
			}
			continue
		}
		archived = append(archived, n)
	}
	report.Archived = len(archived)
	s.dispatcher.Deliver(ctx, archived...)

	if report.NotificationsDeleted, err = s.store.Notifications().DeleteReadBefore(ctx, now.Add(-cfg.ReadRetention)); err != nil {
		return report, fail(span, err, "Failed to delete read notifications")
	}
	if report.QueriesDeleted, err = s.store.Queries().DeleteNotifiedBefore(ctx, now.Add(-cfg.QueryRetention)); err != nil {
		return report, fail(span, err, "Failed to delete stale queries")
	}

	logger.Ctx(ctx).Info().
		Int("archived", report.Archived).
		Int64("notifications_deleted", report.NotificationsDeleted).
		Int64("queries_deleted", report.QueriesDeleted).
		Msg("✅ Cleanup finished")
	return report, nil
}

// DailyStats 汇总前一天的数据并发送给管理员。
// 还没有管理员账号时直接发给 ADMIN_IDS 中的 Telegram 用户，不写通知表。
func (s *SweepService) DailyStats(ctx context.Context) (*domain.DailyStats, error) {
	ctx, span := s.tracer.Start(ctx, "app.SweepService.DailyStats")
	defer span.End()

	now := s.now()
	stats, err := s.collectDailyStats(ctx, domain.Yesterday(now))
	if err != nil {
		return nil, fail(span, err, "Failed to collect daily stats")
	}
	text := dailyStatsText(stats)

	admins, err := readWithRetry(ctx, func() ([]*domain.User, error) {
		return s.store.Users().ListByRoles(ctx, domain.RoleAdmin)
	})
	if err != nil {
		return nil, fail(span, err, "Failed to list admins")
	}
	if len(admins) == 0 {
		for _, chatID := range s.settings().AdminTelegramIDs {
			s.dispatcher.DeliverDirect(ctx, chatID, text)
		}
		return stats, nil
	}
	created := make([]*domain.Notification, 0, len(admins))
	for _, a := range admins {
		n := domain.NewNotification(a.ID, domain.NotificationDailyStats, "", text,
			map[string]any{"day": stats.Day.Format("2006-01-02")}, now)
		if err := s.store.Notifications().Create(ctx, n); err != nil {
			logger.Ctx(ctx).Error().Err(err).Int64("user_id", a.ID).Msg("failed to record daily stats")
			continue
		}
		created = append(created, n)
	}
	s.dispatcher.Deliver(ctx, created...)
	return stats, nil
}

func (s *SweepService) collectDailyStats(ctx context.Context, p domain.Period) (*domain.DailyStats, error) {
	stats := &domain.DailyStats{Day: p.From}
	var byStatus map[domain.Status]int64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { stats.NewUsers, err = s.store.Users().CountCreatedIn(gctx, p); return })
	g.Go(func() (err error) { stats.NewAds, err = s.store.Ads().CountCreatedIn(gctx, p); return })
	g.Go(func() (err error) {
		stats.Approved, err = s.store.Ads().CountModeratedIn(gctx, domain.StatusApproved, p)
		return
	})
	g.Go(func() (err error) { stats.Messages, err = s.store.Messages().CountCreatedIn(gctx, p); return })
	g.Go(func() (err error) { stats.Feedback, err = s.store.Feedback().CountCreatedIn(gctx, p); return })
	g.Go(func() (err error) { stats.TotalUsers, err = s.store.Users().Count(gctx); return })
	g.Go(func() (err error) { byStatus, err = s.store.Ads().CountByStatus(gctx); return })
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, n := range byStatus {
		stats.TotalAds += n
	}
	stats.ActiveAds = byStatus[domain.StatusApproved]
	stats.PendingAds = byStatus[domain.StatusPending]
	return stats, nil
}

func dailyStatsText(st *domain.DailyStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Statistics for %s\n\n", st.Day.Format("2006-01-02"))
	fmt.Fprintf(&b, "👥 New users: %d\n", st.NewUsers)
	fmt.Fprintf(&b, "📝 New ads: %d\n", st.NewAds)
	fmt.Fprintf(&b, "✅ Approved: %d\n", st.Approved)
	fmt.Fprintf(&b, "💬 Messages: %d\n", st.Messages)
	fmt.Fprintf(&b, "⭐ Feedback: %d\n\n", st.Feedback)
	fmt.Fprintf(&b, "Total users: %d\nTotal ads: %d\nPublished: %d\nWaiting for review: %d", st.TotalUsers, st.TotalAds, st.ActiveAds, st.PendingAds)
	return b.String()
}

// HealthReport 健康检查结果
type HealthReport struct {
	Pending  int64
	Users    int64
	ByStatus map[domain.Status]int64
	Warning  bool
}

// Health 检查存储连通性并刷新队列深度指标
func (s *SweepService) Health(ctx context.Context) (HealthReport, error) {
	ctx, span := s.tracer.Start(ctx, "app.SweepService.Health")
	defer span.End()

	var report HealthReport
	if err := s.store.Ping(ctx); err != nil {
		return report, fail(span, err, "Store ping failed")
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { report.Pending, err = s.store.Queue().Count(gctx); return })
	g.Go(func() (err error) { report.Users, err = s.store.Users().Count(gctx); return })
	g.Go(func() (err error) { report.ByStatus, err = s.store.Ads().CountByStatus(gctx); return })
	if err := g.Wait(); err != nil {
		return report, fail(span, err, "Failed to collect health counters")
	}
	metrics.QueueDepth.Set(float64(report.Pending))

	if warn := s.settings().WarnThreshold; warn > 0 && report.Pending > int64(warn) {
		report.Warning = true
		logger.Ctx(ctx).Warn().Int64("pending", report.Pending).Int("threshold", warn).Msg("moderation queue is growing")
	}
	logger.Ctx(ctx).Debug().Int64("pending", report.Pending).Int64("users", report.Users).Msg("health check passed")
	return report, nil
}
