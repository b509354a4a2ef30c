package domain

import (
	"strings"
	"time"
)

// FeedbackType 区分对广告的评价和对机器人本身的评价
type FeedbackType string

const (
	FeedbackAd  FeedbackType = "ad"
	FeedbackBot FeedbackType = "bot"
)

type Feedback struct {
	ID        int64
	UserID    int64
	AdID      *int64
	Rating    int
	Comment   string
	Type      FeedbackType
	CreatedAt time.Time
}

func NewFeedback(userID int64, typ FeedbackType, adID *int64, rating int, comment string, now time.Time) (*Feedback, error) {
	if rating < 1 || rating > 5 {
		return nil, NewValidationError("rating", "rating must be between 1 and 5")
	}
	switch typ {
	case FeedbackAd:
		if adID == nil {
			return nil, NewValidationError("ad_id", "an ad is required")
		}
	case FeedbackBot:
		adID = nil
	default:
		return nil, NewValidationError("type", "unknown feedback type")
	}
	return &Feedback{
		UserID:    userID,
		AdID:      adID,
		Rating:    rating,
		Comment:   strings.TrimSpace(comment),
		Type:      typ,
		CreatedAt: now,
	}, nil
}

// RatingSummary 评分汇总
type RatingSummary struct {
	Count   int64
	Average float64
}
