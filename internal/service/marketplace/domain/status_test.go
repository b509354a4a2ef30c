package domain

import "testing"

func TestStatusTransitions(t *testing.T) {
	allowed := map[Status][]Status{
		StatusDraft:    {StatusPending},
		StatusPending:  {StatusApproved, StatusRejected},
		StatusApproved: {StatusPending, StatusRented, StatusArchived},
		StatusRejected: {StatusPending},
		StatusRented:   {StatusPending},
		StatusArchived: {StatusPending},
	}
	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			want := false
			for _, s := range allowed[from] {
				if s == to {
					want = true
				}
			}
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("%s -> %s: expected %v, got %v", from, to, want, got)
			}
		}
	}
}

func TestParseStatus(t *testing.T) {
	if s, ok := ParseStatus("APPROVED"); !ok || s != StatusApproved {
		t.Fatalf("unexpected parse result %q, %v", s, ok)
	}
	if _, ok := ParseStatus("approved"); ok {
		t.Fatal("status parsing is case sensitive")
	}
}
