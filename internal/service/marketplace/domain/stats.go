package domain

import "time"

// ModerationStats 审核面板展示的统计
type ModerationStats struct {
	ByStatus      map[Status]int64
	Pending       int64
	OldestPending *time.Time
}

// DailyStats 每日统计报告
type DailyStats struct {
	Day        time.Time
	NewUsers   int64
	NewAds     int64
	Approved   int64
	Messages   int64
	Feedback   int64
	TotalUsers int64
	TotalAds   int64
	ActiveAds  int64
	PendingAds int64
}

// Period 左闭右开的时间区间
type Period struct {
	From time.Time
	To   time.Time
}

// Yesterday 以 now 所在时区计算前一天
func Yesterday(now time.Time) Period {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	return Period{From: today.AddDate(0, 0, -1), To: today}
}
