package application

import (
	"context"
	"errors"
	"testing"

	"rentbot/internal/service/marketplace/domain"
)

func strPtr(s string) *string { return &s }

func TestEditReconcilesStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.user(t, 1, domain.RoleUser)
	mod := env.user(t, 2, domain.RoleModerator)
	cats, err := env.ads.Categories(ctx)
	if err != nil || len(cats) == 0 {
		t.Fatalf("expected seeded categories, got %v, %v", cats, err)
	}

	ad := env.approvedAd(t, owner, mod, "Bike", 500)

	// 只改分类不需要重新审核
	edited, err := env.ads.Edit(ctx, owner.ID, ad.ID, domain.AdChanges{CategoryID: &cats[0].ID})
	if err != nil {
		t.Fatalf("edit category: %v", err)
	}
	if edited.Status != domain.StatusApproved {
		t.Fatalf("expected APPROVED after category edit, got %s", edited.Status)
	}
	env.checkQueueInvariant(t, ad.ID)

	edited, err = env.ads.Edit(ctx, owner.ID, ad.ID, domain.AdChanges{Title: strPtr("Bike with basket")})
	if err != nil {
		t.Fatalf("edit title: %v", err)
	}
	if edited.Status != domain.StatusPending || edited.ModeratorID != nil || edited.ModeratedAt != nil {
		t.Fatalf("expected a clean PENDING ad, got %+v", edited)
	}
	env.checkQueueInvariant(t, ad.ID)

	// 审核中的广告再次编辑，保留原有队列项
	if _, err := env.ads.Edit(ctx, owner.ID, ad.ID, domain.AdChanges{Title: strPtr("Bike with two baskets")}); err != nil {
		t.Fatalf("edit pending: %v", err)
	}
	env.checkQueueInvariant(t, ad.ID)

	rejected, err := env.moderation.Reject(ctx, mod.ID, ad.ID, domain.RejectPrice, "")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.RejectionReason == nil {
		t.Fatal("expected rejection reason")
	}
	edited, err = env.ads.Edit(ctx, owner.ID, ad.ID, domain.AdChanges{Description: strPtr("Now cheaper")})
	if err != nil {
		t.Fatalf("edit rejected: %v", err)
	}
	if edited.Status != domain.StatusPending || edited.RejectionReason != nil {
		t.Fatalf("expected rejected ad to return to review, got %+v", edited)
	}
	env.checkQueueInvariant(t, ad.ID)
}

func TestEditValidationAndOwnership(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.user(t, 1, domain.RoleUser)
	stranger := env.user(t, 2, domain.RoleUser)
	ad := env.pendingAd(t, owner, "Bike", 500)

	if _, err := env.ads.Edit(ctx, stranger.ID, ad.ID, domain.AdChanges{Title: strPtr("Mine now")}); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if _, err := env.ads.Edit(ctx, owner.ID, ad.ID, domain.AdChanges{Title: strPtr("  ")}); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	unknown := int64(424242)
	if _, err := env.ads.Edit(ctx, owner.ID, ad.ID, domain.AdChanges{CategoryID: &unknown}); !domain.IsValidation(err) {
		t.Fatalf("expected validation error for unknown category, got %v", err)
	}
}

func TestDraftSubmitAndLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.user(t, 1, domain.RoleUser)
	mod := env.user(t, 2, domain.RoleModerator)

	draft, err := env.ads.Create(ctx, owner.ID, bikeContent("Bike", 500), true)
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if draft.Status != domain.StatusDraft {
		t.Fatalf("expected DRAFT, got %s", draft.Status)
	}
	env.checkQueueInvariant(t, draft.ID)

	if _, err := env.ads.Submit(ctx, owner.ID, draft.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	env.checkQueueInvariant(t, draft.ID)
	if _, err := env.ads.Submit(ctx, owner.ID, draft.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict when submitting twice, got %v", err)
	}

	if _, err := env.moderation.Approve(ctx, mod.ID, draft.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	rented, err := env.ads.MarkRented(ctx, owner.ID, draft.ID)
	if err != nil || rented.Status != domain.StatusRented {
		t.Fatalf("mark rented: %+v, %v", rented, err)
	}
	env.checkQueueInvariant(t, draft.ID)

	again, err := env.ads.Reactivate(ctx, owner.ID, draft.ID)
	if err != nil || again.Status != domain.StatusPending {
		t.Fatalf("reactivate: %+v, %v", again, err)
	}
	env.checkQueueInvariant(t, draft.ID)
}

func TestCreateEnforcesLimits(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.adLimits.MaxPerUser = 2
	env.adLimits.Price = domain.PriceRange{Min: 10, Max: 1000}
	owner := env.user(t, 1, domain.RoleUser)

	if _, err := env.ads.Create(ctx, owner.ID, bikeContent("Too cheap", 5), false); !domain.IsValidation(err) {
		t.Fatalf("expected price validation error, got %v", err)
	}
	if _, err := env.ads.Create(ctx, owner.ID, bikeContent("Too expensive", 1001), false); !domain.IsValidation(err) {
		t.Fatalf("expected price validation error, got %v", err)
	}
	env.pendingAd(t, owner, "One", 100)
	env.pendingAd(t, owner, "Two", 100)
	if _, err := env.ads.Create(ctx, owner.ID, bikeContent("Three", 100), false); !domain.IsValidation(err) {
		t.Fatalf("expected limit validation error, got %v", err)
	}
}

func TestDeleteCascades(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.user(t, 1, domain.RoleUser)
	renter := env.user(t, 2, domain.RoleUser)
	mod := env.user(t, 3, domain.RoleModerator)
	admin := env.user(t, 900, domain.RoleUser)

	ad := env.approvedAd(t, owner, mod, "Bike", 500)
	if _, err := env.messages.Send(ctx, renter.ID, ad.ID, "Is it available?"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := env.feedback.Leave(ctx, renter.ID, domain.FeedbackAd, &ad.ID, 5, "great"); err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if err := env.ads.Delete(ctx, renter.ID, ad.ID); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if err := env.ads.Delete(ctx, admin.ID, ad.ID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}

	if _, err := env.store.Ads().FindByID(ctx, ad.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ad to be gone, got %v", err)
	}
	inbox, _ := env.messages.Inbox(ctx, renter.ID, 0)
	if len(inbox) != 0 {
		t.Fatalf("expected messages to be deleted, got %d", len(inbox))
	}
	summary, _ := env.feedback.AverageRating(ctx, ad.ID)
	if summary.Count != 0 {
		t.Fatalf("expected feedback to be deleted, got %+v", summary)
	}
}

func TestGetHidesUnpublishedAds(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.user(t, 1, domain.RoleUser)
	stranger := env.user(t, 2, domain.RoleUser)
	mod := env.user(t, 3, domain.RoleModerator)
	ad := env.pendingAd(t, owner, "Bike", 500)

	if _, err := env.ads.Get(ctx, stranger.ID, ad.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a stranger, got %v", err)
	}
	for _, viewer := range []int64{owner.ID, mod.ID} {
		if _, err := env.ads.Get(ctx, viewer, ad.ID); err != nil {
			t.Fatalf("viewer %d: %v", viewer, err)
		}
	}
}
