package application

import (
	"context"
	"strings"
	"testing"
	"time"

	"rentbot/internal/service/marketplace/domain"
)

func TestCleanupArchivesStaleAds(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.user(t, 1, domain.RoleUser)
	mod := env.user(t, 2, domain.RoleModerator)

	stale := env.approvedAd(t, owner, mod, "Old bike", 100)
	if _, err := env.dispatcher.MarkAllRead(ctx, owner.ID); err != nil {
		t.Fatalf("mark all read: %v", err)
	}
	env.clock.Advance(20 * 24 * time.Hour)
	fresh := env.approvedAd(t, owner, mod, "New bike", 100)
	env.clock.Advance(11 * 24 * time.Hour)

	report, err := env.sweeps.Cleanup(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if report.Archived != 1 {
		t.Fatalf("expected one archived ad, got %+v", report)
	}
	// 第一条广告的审核通知已读超过 7 天
	if report.NotificationsDeleted != 1 {
		t.Fatalf("expected one read notification purged, got %+v", report)
	}
	got, _ := env.store.Ads().FindByID(ctx, stale.ID)
	if got.Status != domain.StatusArchived {
		t.Fatalf("expected ARCHIVED, got %s", got.Status)
	}
	env.checkQueueInvariant(t, stale.ID)
	got, _ = env.store.Ads().FindByID(ctx, fresh.ID)
	if got.Status != domain.StatusApproved {
		t.Fatalf("expected fresh ad to stay APPROVED, got %s", got.Status)
	}
	if countType(env.unread(t, owner.ID), domain.NotificationAdArchived) != 1 {
		t.Fatal("expected an ad_archived notification")
	}

	report, err = env.sweeps.Cleanup(ctx)
	if err != nil || report.Archived != 0 {
		t.Fatalf("expected a second cleanup to be a no-op, got %+v, %v", report, err)
	}
}

func TestCleanupPurgesInactiveQueries(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.user(t, 1, domain.RoleUser)
	seeker := env.user(t, 2, domain.RoleUser)
	mod := env.user(t, 3, domain.RoleModerator)

	notified, _ := env.search.SaveQuery(ctx, seeker.ID, domain.Criteria{Keywords: "bike"})
	never, _ := env.search.SaveQuery(ctx, seeker.ID, domain.Criteria{Keywords: "boat"})
	env.approvedAd(t, owner, mod, "Bike", 100)
	env.clock.Advance(31 * 24 * time.Hour)

	report, err := env.sweeps.Cleanup(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if report.QueriesDeleted != 1 {
		t.Fatalf("expected one stale query deleted, got %+v", report)
	}
	if _, err := env.store.Queries().FindByID(ctx, notified.ID); err == nil {
		t.Fatal("expected the long-silent query to be deleted")
	}
	if _, err := env.store.Queries().FindByID(ctx, never.ID); err != nil {
		t.Fatalf("queries that never matched are kept: %v", err)
	}
}

func TestNotifyModeratorsThresholds(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.user(t, 1, domain.RoleUser)
	mod := env.user(t, 2, domain.RoleModerator)
	admin := env.user(t, 3, domain.RoleAdmin)

	if n, err := env.sweeps.NotifyModerators(ctx); err != nil || n != 0 {
		t.Fatalf("empty queue must not alert, got %d, %v", n, err)
	}
	env.pendingAd(t, owner, "Bike", 100)
	if n, _ := env.sweeps.NotifyModerators(ctx); n != 0 {
		t.Fatalf("a fresh small queue must not alert, got %d", n)
	}
	env.clock.Advance(25 * time.Hour)
	n, err := env.sweeps.NotifyModerators(ctx)
	if err != nil {
		t.Fatalf("notify moderators: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected moderator and admin to be alerted, got %d", n)
	}
	for _, u := range []int64{mod.ID, admin.ID} {
		notes := env.unread(t, u)
		if countType(notes, domain.NotificationModerationAlert) != 1 || !strings.Contains(notes[0].Content, "Bike") {
			t.Fatalf("unexpected alerts for user %d: %+v", u, notes)
		}
	}
}

func TestDailyStatsFallsBackToConfiguredAdmins(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.sweep.AdminTelegramIDs = []int64{777}
	owner := env.user(t, 1, domain.RoleUser)
	env.pendingAd(t, owner, "Bike", 100)
	env.clock.Advance(24 * time.Hour)

	stats, err := env.sweeps.DailyStats(ctx)
	if err != nil {
		t.Fatalf("daily stats: %v", err)
	}
	if stats.NewUsers != 1 || stats.NewAds != 1 || stats.PendingAds != 1 || stats.TotalAds != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	env.deliverer.mu.Lock()
	defer env.deliverer.mu.Unlock()
	if len(env.deliverer.sent) != 1 || env.deliverer.sent[0].chatID != 777 {
		t.Fatalf("expected a direct delivery to the configured admin, got %+v", env.deliverer.sent)
	}
}

func TestHealthReportsQueueDepth(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.sweep.WarnThreshold = 1
	owner := env.user(t, 1, domain.RoleUser)
	env.pendingAd(t, owner, "One", 100)
	env.pendingAd(t, owner, "Two", 100)

	report, err := env.sweeps.Health(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if report.Pending != 2 || report.Users != 1 || !report.Warning {
		t.Fatalf("unexpected report %+v", report)
	}
}
