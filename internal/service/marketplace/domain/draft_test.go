package domain

import (
	"errors"
	"testing"
)

func TestAdDraftContent(t *testing.T) {
	limits := PriceRange{Min: 0, Max: 1000}
	d := &AdDraft{Title: "Bike", Description: "City bike", Price: 100, Location: "Center", ContactInfo: "@me"}
	c, err := d.Content(limits)
	if err != nil || c.Title != "Bike" {
		t.Fatalf("unexpected result %+v, %v", c, err)
	}

	d.Location = ""
	_, err = d.Content(limits)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "location" {
		t.Fatalf("expected location validation error, got %v", err)
	}
}

func TestFeedbackDraftValidate(t *testing.T) {
	ad := int64(3)
	tests := []struct {
		name  string
		draft FeedbackDraft
		ok    bool
	}{
		{name: "bot", draft: FeedbackDraft{Type: FeedbackBot, Rating: 5}, ok: true},
		{name: "ad", draft: FeedbackDraft{Type: FeedbackAd, AdID: &ad, Rating: 1}, ok: true},
		{name: "ad without id", draft: FeedbackDraft{Type: FeedbackAd, Rating: 3}},
		{name: "rating too high", draft: FeedbackDraft{Type: FeedbackBot, Rating: 6}},
		{name: "unknown type", draft: FeedbackDraft{Type: "shop", Rating: 3}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.draft.Validate()
			if tc.ok != (err == nil) {
				t.Fatalf("expected ok=%v, got %v", tc.ok, err)
			}
			if err != nil && !IsValidation(err) {
				t.Fatalf("expected a ValidationError, got %T", err)
			}
		})
	}
}
