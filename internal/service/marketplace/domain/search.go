package domain

import (
	"strings"
	"time"
)

// SearchQuery 是用户保存的订阅条件，所有过滤项都是可选的
type SearchQuery struct {
	ID           int64
	UserID       int64
	Keywords     *string
	Location     *string
	MinPrice     *float64
	MaxPrice     *float64
	CategoryID   *int64
	IsActive     bool
	CreatedAt    time.Time
	LastNotified *time.Time
}

// Criteria 是搜索与订阅共用的过滤条件
type Criteria struct {
	Keywords   string
	Location   string
	MinPrice   *float64
	MaxPrice   *float64
	CategoryID *int64
}

func (c Criteria) Validate() error {
	if c.MinPrice != nil && *c.MinPrice < 0 {
		return NewValidationError("min_price", "must not be negative")
	}
	if c.MaxPrice != nil && *c.MaxPrice < 0 {
		return NewValidationError("max_price", "must not be negative")
	}
	if c.MinPrice != nil && c.MaxPrice != nil && *c.MinPrice > *c.MaxPrice {
		return NewValidationError("max_price", "must not be lower than the minimum price")
	}
	return nil
}

// IsEmpty 没有任何过滤项的订阅会匹配所有广告
func (c Criteria) IsEmpty() bool {
	return strings.TrimSpace(c.Keywords) == "" && strings.TrimSpace(c.Location) == "" &&
		c.MinPrice == nil && c.MaxPrice == nil && c.CategoryID == nil
}

func NewSearchQuery(userID int64, c Criteria, now time.Time) *SearchQuery {
	q := &SearchQuery{
		UserID:     userID,
		MinPrice:   c.MinPrice,
		MaxPrice:   c.MaxPrice,
		CategoryID: c.CategoryID,
		IsActive:   true,
		CreatedAt:  now,
	}
	if kw := strings.TrimSpace(c.Keywords); kw != "" {
		q.Keywords = &kw
	}
	if loc := strings.TrimSpace(c.Location); loc != "" {
		q.Location = &loc
	}
	return q
}

// Criteria 把订阅还原为过滤条件
func (q *SearchQuery) Criteria() Criteria {
	c := Criteria{MinPrice: q.MinPrice, MaxPrice: q.MaxPrice, CategoryID: q.CategoryID}
	if q.Keywords != nil {
		c.Keywords = *q.Keywords
	}
	if q.Location != nil {
		c.Location = *q.Location
	}
	return c
}

// Matches 判断广告是否满足订阅的全部过滤项
func (q *SearchQuery) Matches(ad *Ad) bool {
	return q.Criteria().Matches(ad)
}

// Matches 对每个给出的过滤项做 AND，缺省项视为通配
func (c Criteria) Matches(ad *Ad) bool {
	if kw := strings.ToLower(strings.TrimSpace(c.Keywords)); kw != "" {
		if !strings.Contains(strings.ToLower(ad.Title), kw) &&
			!strings.Contains(strings.ToLower(ad.Description), kw) {
			return false
		}
	}
	if loc := strings.ToLower(strings.TrimSpace(c.Location)); loc != "" {
		if !strings.Contains(strings.ToLower(ad.Location), loc) {
			return false
		}
	}
	if c.MinPrice != nil && ad.Price < *c.MinPrice {
		return false
	}
	if c.MaxPrice != nil && ad.Price > *c.MaxPrice {
		return false
	}
	if c.CategoryID != nil && (ad.CategoryID == nil || *ad.CategoryID != *c.CategoryID) {
		return false
	}
	return true
}

// EligibleFor 表示该订阅还没有因为这条广告收到过通知
func (q *SearchQuery) EligibleFor(ad *Ad) bool {
	if !q.IsActive {
		return false
	}
	return q.LastNotified == nil || q.LastNotified.Before(ad.CreatedAt)
}

// NotifiedAt 返回本次通知应写入的水位，保证不小于广告创建时间
func NotifiedAt(ad *Ad, now time.Time) time.Time {
	if now.Before(ad.CreatedAt) {
		return ad.CreatedAt
	}
	return now
}

// MarkNotified 在订阅尚未因创建于 adCreatedAt 的广告收到通知时，把 last_notified 推进到 at。
// 返回 false 表示其他流程已经抢先通知过。at 不早于 adCreatedAt，因此水位只增不减。
func (q *SearchQuery) MarkNotified(adCreatedAt, at time.Time) bool {
	if q.LastNotified != nil && !q.LastNotified.Before(adCreatedAt) {
		return false
	}
	q.LastNotified = &at
	return true
}

// FindMatches 返回所有可通知且匹配的订阅
func FindMatches(queries []*SearchQuery, ad *Ad) []*SearchQuery {
	var out []*SearchQuery
	for _, q := range queries {
		if q.EligibleFor(ad) && q.Matches(ad) {
			out = append(out, q)
		}
	}
	return out
}

// SearchFilter 是公开搜索的参数
type SearchFilter struct {
	Criteria
	Limit  int
	Offset int
}

const MaxSearchResults = 50

// Normalize 修正分页参数
func (f SearchFilter) Normalize() SearchFilter {
	if f.Limit <= 0 || f.Limit > MaxSearchResults {
		f.Limit = MaxSearchResults
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
