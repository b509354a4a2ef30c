package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rentbot/internal/service/marketplace/domain"
)

func TestApprovePublishesAdAndNotifiesOwner(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.user(t, 1, domain.RoleUser)
	mod := env.user(t, 2, domain.RoleModerator)

	ad := env.pendingAd(t, owner, "Bike", 500)
	if ad.Status != domain.StatusPending {
		t.Fatalf("expected PENDING, got %s", ad.Status)
	}
	entries, err := env.moderation.Queue(ctx, mod.ID, 0)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(entries) != 1 || entries[0].AdID != ad.ID {
		t.Fatalf("expected exactly one queue entry for ad %d, got %+v", ad.ID, entries)
	}

	approved, err := env.moderation.Approve(ctx, mod.ID, ad.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != domain.StatusApproved || approved.ModeratorID == nil || *approved.ModeratorID != mod.ID {
		t.Fatalf("unexpected ad after approval: %+v", approved)
	}
	env.checkQueueInvariant(t, ad.ID)

	notes := env.unread(t, owner.ID)
	if len(notes) != 1 || notes[0].Type != domain.NotificationAdApproved {
		t.Fatalf("expected one ad_approved notification, got %+v", notes)
	}
	if env.deliverer.count() != 1 {
		t.Fatalf("expected one delivery, got %d", env.deliverer.count())
	}
}

func TestConcurrentDecisionsHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.user(t, 1, domain.RoleUser)
	modA := env.user(t, 2, domain.RoleModerator)
	modB := env.user(t, 3, domain.RoleAdmin)
	ad := env.pendingAd(t, owner, "Bike", 500)

	var (
		wg         sync.WaitGroup
		approveErr error
		rejectErr  error
	)
	start := make(chan struct{})
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		_, approveErr = env.moderation.Approve(ctx, modA.ID, ad.ID)
	}()
	go func() {
		defer wg.Done()
		<-start
		_, rejectErr = env.moderation.Reject(ctx, modB.ID, ad.ID, domain.RejectPrice, "")
	}()
	close(start)
	wg.Wait()

	if (approveErr == nil) == (rejectErr == nil) {
		t.Fatalf("expected exactly one success, got approve=%v reject=%v", approveErr, rejectErr)
	}
	loserErr, want := rejectErr, domain.StatusApproved
	if approveErr != nil {
		loserErr, want = approveErr, domain.StatusRejected
	}
	if !errors.Is(loserErr, domain.ErrAlreadyModerated) || !errors.Is(loserErr, domain.ErrConflict) {
		t.Fatalf("expected ErrAlreadyModerated for the second actor, got %v", loserErr)
	}
	final, err := env.store.Ads().FindByID(ctx, ad.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if final.Status != want {
		t.Fatalf("expected final status %s, got %s", want, final.Status)
	}
	env.checkQueueInvariant(t, ad.ID)
	if got := len(env.unread(t, owner.ID)); got != 1 {
		t.Fatalf("expected one owner notification, got %d", got)
	}
}

func TestRejectWithoutReasonKeepsAdPending(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.user(t, 1, domain.RoleUser)
	mod := env.user(t, 2, domain.RoleModerator)
	ad := env.pendingAd(t, owner, "Bike", 500)

	tests := []struct {
		name string
		code domain.RejectionCode
		note string
	}{
		{name: "no code and blank note", code: "", note: "   "},
		{name: "other without note", code: domain.RejectOther, note: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.moderation.Reject(ctx, mod.ID, ad.ID, tc.code, tc.note)
			if !domain.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
			env.checkQueueInvariant(t, ad.ID)
			current, _ := env.store.Ads().FindByID(ctx, ad.ID)
			if current.Status != domain.StatusPending {
				t.Fatalf("expected PENDING, got %s", current.Status)
			}
		})
	}

	rejected, err := env.moderation.Reject(ctx, mod.ID, ad.ID, domain.RejectOther, "Photos are missing")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.RejectionReason == nil || *rejected.RejectionReason != "Photos are missing" {
		t.Fatalf("unexpected rejection reason %v", rejected.RejectionReason)
	}
	env.checkQueueInvariant(t, ad.ID)
	notes := env.unread(t, owner.ID)
	if countType(notes, domain.NotificationAdRejected) != 1 {
		t.Fatalf("expected one ad_rejected notification, got %+v", notes)
	}
}

func TestModerationRequiresModerator(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.user(t, 1, domain.RoleUser)
	ad := env.pendingAd(t, owner, "Bike", 500)

	if _, err := env.moderation.Approve(ctx, owner.ID, ad.ID); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if _, err := env.moderation.Next(ctx, owner.ID, false); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	env.checkQueueInvariant(t, ad.ID)
}

func TestQueueOrderAndDefer(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.user(t, 1, domain.RoleUser)
	mod := env.user(t, 2, domain.RoleModerator)
	env.priority["Urgent"] = 3
	env.priority["Reported"] = 5

	first := env.pendingAd(t, owner, "Plain", 100)
	env.clock.Advance(time.Minute)
	urgent := env.pendingAd(t, owner, "Urgent", 100)
	env.clock.Advance(time.Minute)
	reported := env.pendingAd(t, owner, "Reported", 100)
	env.clock.Advance(time.Minute)
	second := env.pendingAd(t, owner, "Plain too", 100)

	entries, err := env.moderation.Queue(ctx, mod.ID, 0)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	want := []int64{reported.ID, urgent.ID, first.ID, second.ID}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, e := range entries {
		if e.AdID != want[i] {
			t.Fatalf("position %d: expected ad %d, got %d", i, want[i], e.AdID)
		}
	}

	next, err := env.moderation.Next(ctx, mod.ID, true)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next.AdID != reported.ID || next.AssignedTo == nil || *next.AssignedTo != mod.ID || next.Ad == nil {
		t.Fatalf("unexpected next entry %+v", next)
	}

	env.clock.Advance(time.Minute)
	deferred, err := env.moderation.Defer(ctx, mod.ID, reported.ID)
	if err != nil {
		t.Fatalf("defer: %v", err)
	}
	if deferred.Priority != 4 || deferred.AssignedTo != nil {
		t.Fatalf("unexpected deferred entry %+v", deferred)
	}
	for i := 0; i < 5; i++ {
		if _, err := env.moderation.Defer(ctx, mod.ID, first.ID); err != nil {
			t.Fatalf("defer: %v", err)
		}
	}
	entry, _ := env.store.Queue().FindByAdID(ctx, first.ID)
	if entry.Priority != domain.MinPriority {
		t.Fatalf("expected priority floor %d, got %d", domain.MinPriority, entry.Priority)
	}

	stats, err := env.moderation.Stats(ctx, mod.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Pending != 4 || stats.ByStatus[domain.StatusPending] != 4 || stats.OldestPending == nil {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestNextOnEmptyQueue(t *testing.T) {
	env := newTestEnv(t)
	mod := env.user(t, 2, domain.RoleModerator)
	entry, err := env.moderation.Next(context.Background(), mod.ID, true)
	if err != nil || entry != nil {
		t.Fatalf("expected nil, nil on empty queue, got %+v, %v", entry, err)
	}
}

func TestBanAuthorRejectsAndBans(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.user(t, 1, domain.RoleUser)
	mod := env.user(t, 2, domain.RoleModerator)
	ad := env.pendingAd(t, owner, "Bike", 500)

	banned, err := env.moderation.BanAuthor(ctx, mod.ID, ad.ID)
	if err != nil {
		t.Fatalf("ban: %v", err)
	}
	if banned.Status != domain.StatusRejected || *banned.RejectionReason != domain.RejectRules.Label() {
		t.Fatalf("unexpected ad %+v", banned)
	}
	u, _ := env.store.Users().FindByID(ctx, owner.ID)
	if !u.IsBanned {
		t.Fatal("expected owner to be banned")
	}
	env.checkQueueInvariant(t, ad.ID)

	if _, err := env.ads.Create(ctx, owner.ID, bikeContent("Another bike", 100), false); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected banned user to be denied, got %v", err)
	}
}

func TestDeliveryFailureKeepsDecision(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.user(t, 1, domain.RoleUser)
	mod := env.user(t, 2, domain.RoleModerator)
	ad := env.pendingAd(t, owner, "Bike", 500)

	env.deliverer.err = domain.ErrDelivery
	if _, err := env.moderation.Approve(ctx, mod.ID, ad.ID); err != nil {
		t.Fatalf("approve must not fail on delivery errors: %v", err)
	}
	if got := countType(env.unread(t, owner.ID), domain.NotificationAdApproved); got != 1 {
		t.Fatalf("expected the notification record to exist, got %d", got)
	}
}
