package domain

import (
	"testing"
	"time"
)

func f64(v float64) *float64 { return &v }

func TestCriteriaMatches(t *testing.T) {
	cat := int64(3)
	other := int64(4)
	ad := &Ad{
		Title:       "Mountain Bike for rent",
		Description: "21 gears",
		Price:       500,
		Location:    "Moscow, Arbat",
		CategoryID:  &cat,
	}
	tests := []struct {
		name string
		c    Criteria
		want bool
	}{
		{name: "empty matches everything", c: Criteria{}, want: true},
		{name: "keyword in title, any case", c: Criteria{Keywords: "BIKE"}, want: true},
		{name: "keyword in description", c: Criteria{Keywords: "gears"}, want: true},
		{name: "keyword missing", c: Criteria{Keywords: "scooter"}, want: false},
		{name: "location substring", c: Criteria{Location: "arbat"}, want: true},
		{name: "location mismatch", c: Criteria{Location: "Tverskaya"}, want: false},
		{name: "category", c: Criteria{CategoryID: &cat}, want: true},
		{name: "other category", c: Criteria{CategoryID: &other}, want: false},
		{name: "all filters", c: Criteria{Keywords: "bike", Location: "moscow", MinPrice: f64(100), MaxPrice: f64(500), CategoryID: &cat}, want: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.c.Matches(ad); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestPriceBoundaries(t *testing.T) {
	q := &SearchQuery{IsActive: true, MinPrice: f64(100), MaxPrice: f64(500)}
	for price, want := range map[float64]bool{99: false, 100: true, 500: true, 501: false} {
		if got := q.Matches(&Ad{Price: price}); got != want {
			t.Errorf("price %.0f: expected %v, got %v", price, want, got)
		}
	}
}

func TestEligibilityAndWatermark(t *testing.T) {
	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	ad := &Ad{Title: "Bike", CreatedAt: created}
	q := &SearchQuery{ID: 1, IsActive: true}

	if got := FindMatches([]*SearchQuery{q, {ID: 2, IsActive: false}}, ad); len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("expected only the active query, got %+v", got)
	}
	at := NotifiedAt(ad, created.Add(-time.Minute))
	if !at.Equal(created) {
		t.Fatalf("watermark must not precede the ad, got %v", at)
	}
	if !q.MarkNotified(ad.CreatedAt, created.Add(time.Minute)) {
		t.Fatal("expected first claim to succeed")
	}
	if q.MarkNotified(ad.CreatedAt, created.Add(2*time.Minute)) {
		t.Fatal("a query must not be claimed twice for the same ad")
	}
	if q.EligibleFor(ad) {
		t.Fatal("notified query must not be eligible again")
	}
	later := &Ad{Title: "Bike", CreatedAt: created.Add(time.Hour)}
	if !q.EligibleFor(later) || !q.MarkNotified(later.CreatedAt, later.CreatedAt) {
		t.Fatal("a newer ad must be notifiable")
	}
}

func TestCriteriaValidate(t *testing.T) {
	if err := (Criteria{MinPrice: f64(10), MaxPrice: f64(5)}).Validate(); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := (Criteria{MinPrice: f64(5), MaxPrice: f64(5)}).Validate(); err != nil {
		t.Fatalf("equal bounds are valid: %v", err)
	}
}
