package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NotificationType 是通知的类型标签
type NotificationType string

const (
	NotificationAdApproved      NotificationType = "ad_approved"
	NotificationAdRejected      NotificationType = "ad_rejected"
	NotificationAdArchived      NotificationType = "ad_archived"
	NotificationNewAd           NotificationType = "new_ad"
	NotificationNewMessage      NotificationType = "new_message"
	NotificationModerationAlert NotificationType = "moderation_alert"
	NotificationDailyStats      NotificationType = "daily_stats"
)

// Notification 创建后除 IsRead 外不可变
type Notification struct {
	ID        int64
	UserID    int64
	Type      NotificationType
	Title     string
	Content   string
	Payload   map[string]any
	IsRead    bool
	CreatedAt time.Time
}

func NewNotification(userID int64, typ NotificationType, title, content string, payload map[string]any, now time.Time) *Notification {
	return &Notification{
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Content:   content,
		Payload:   payload,
		CreatedAt: now,
	}
}

// Text 是投递到聊天里的完整文本
func (n *Notification) Text() string {
	if n.Title == "" {
		return n.Content
	}
	return "🔔 " + n.Title + "\n\n" + n.Content
}

// ModerationNotification 审核结果通知，只能在 APPROVED/REJECTED 之后调用
func ModerationNotification(ad *Ad, now time.Time) *Notification {
	var (
		typ     NotificationType
		content string
	)
	switch ad.Status {
	case StatusApproved:
		typ = NotificationAdApproved
		content = fmt.Sprintf("Your ad \"%s\" has been approved and is now visible in search.", ad.Title)
	case StatusRejected:
		typ = NotificationAdRejected
		reason := ""
		if ad.RejectionReason != nil {
			reason = *ad.RejectionReason
		}
		content = fmt.Sprintf("Your ad \"%s\" has been rejected.\nReason: %s\nEdit the ad to send it for review again.", ad.Title, reason)
	default:
		typ = NotificationType("ad_" + strings.ToLower(string(ad.Status)))
		content = fmt.Sprintf("Your ad \"%s\" is now %s.", ad.Title, ad.Status.Label())
	}
	return NewNotification(ad.OwnerID, typ, "Ad status changed", content, map[string]any{
		"ad_id":  ad.ID,
		"status": strings.ToLower(string(ad.Status)),
	}, now)
}

// NewAdMatchNotification 订阅命中通知
func NewAdMatchNotification(q *SearchQuery, ad *Ad, now time.Time) *Notification {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n💰 %s\n📍 %s\n\nYour criteria:\n", ad.Title, FormatPrice(ad.Price), ad.Location)
	if q.Keywords != nil {
		fmt.Fprintf(&b, "• Keywords: %s\n", *q.Keywords)
	}
	if q.Location != nil {
		fmt.Fprintf(&b, "• Location: %s\n", *q.Location)
	}
	if q.MinPrice != nil {
		fmt.Fprintf(&b, "• Price from: %s\n", FormatPrice(*q.MinPrice))
	}
	if q.MaxPrice != nil {
		fmt.Fprintf(&b, "• Price up to: %s\n", FormatPrice(*q.MaxPrice))
	}
	fmt.Fprintf(&b, "\nOpen with /ad_%d", ad.ID)
	return NewNotification(q.UserID, NotificationNewAd, "New ad matching your search", b.String(), map[string]any{
		"ad_id":    ad.ID,
		"query_id": q.ID,
	}, now)
}

// ArchivedNotification 自动归档通知
func ArchivedNotification(ad *Ad, now time.Time) *Notification {
	return NewNotification(ad.OwnerID, NotificationAdArchived, "Ad archived",
		fmt.Sprintf("Your ad \"%s\" was archived after a long time without updates. Reactivate it from /my.", ad.Title),
		map[string]any{"ad_id": ad.ID, "status": "archived"}, now)
}

// FormatPrice 统一的价格展示，千位用空格分隔
func FormatPrice(p float64) string {
	whole, frac, _ := strings.Cut(strconv.FormatFloat(p, 'f', 2, 64), ".")
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteRune(' ')
		}
		b.WriteRune(r)
	}
	if frac != "00" {
		b.WriteString("." + frac)
	}
	return b.String() + " ₽"
}
