package domain

import (
	"sort"
	"strings"
	"time"
)

const (
	DefaultPriority = 1
	MinPriority     = 1
	MaxPriority     = 5
)

// QueueEntry 是审核队列中的一项，每条 PENDING 广告恰好对应一项
type QueueEntry struct {
	ID         int64
	AdID       int64
	Priority   int
	AssignedTo *int64
	EnqueuedAt time.Time

	// Ad 为只读的关联数据，列表查询时填充
	Ad *Ad
}

func NewQueueEntry(adID int64, priority int, now time.Time) *QueueEntry {
	return &QueueEntry{
		AdID:       adID,
		Priority:   ClampPriority(priority),
		EnqueuedAt: now,
	}
}

// ClampPriority 把优先级限制在 [MinPriority, MaxPriority]
func ClampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// QueueLess 定义审核顺序：优先级高者在前，同优先级先入队者在前
func QueueLess(a, b *QueueEntry) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.AdID < b.AdID
}

// SortQueue 原地排序
func SortQueue(entries []*QueueEntry) {
	sort.SliceStable(entries, func(i, j int) bool { return QueueLess(entries[i], entries[j]) })
}

// Defer 降低一级优先级并排到同级末尾
func (e *QueueEntry) Defer(now time.Time) {
	e.Priority = ClampPriority(e.Priority - 1)
	e.EnqueuedAt = now
	e.AssignedTo = nil
}

// RejectionCode 驳回原因分类
type RejectionCode string

const (
	RejectRules    RejectionCode = "rules"
	RejectContent  RejectionCode = "content"
	RejectPrice    RejectionCode = "price"
	RejectLocation RejectionCode = "location"
	RejectContacts RejectionCode = "contacts"
	RejectEdit     RejectionCode = "edit"
	RejectOther    RejectionCode = "other"
)

var RejectionCodes = []RejectionCode{
	RejectRules, RejectContent, RejectPrice, RejectLocation, RejectContacts, RejectEdit, RejectOther,
}

func (c RejectionCode) Label() string {
	switch c {
	case RejectRules:
		return "Violates the rules"
	case RejectContent:
		return "Inappropriate content"
	case RejectPrice:
		return "Incorrect price"
	case RejectLocation:
		return "Incorrect location"
	case RejectContacts:
		return "Incorrect contact details"
	case RejectEdit:
		return "Needs editing"
	case RejectOther:
		return "Other reason"
	}
	return ""
}

func ParseRejectionCode(s string) (RejectionCode, bool) {
	c := RejectionCode(strings.ToLower(strings.TrimSpace(s)))
	return c, c.Label() != ""
}

// ResolveRejectionReason 组合分类和补充说明，得到最终写入的驳回原因。
// "other" 或未选择分类时必须提供补充说明。
func ResolveRejectionReason(code RejectionCode, note string) (string, error) {
	note = strings.TrimSpace(note)
	if code == "" || code == RejectOther {
		if note == "" {
			return "", NewValidationError("rejection_reason", "please describe the reason")
		}
		return note, nil
	}
	label := code.Label()
	if label == "" {
		return "", NewValidationError("rejection_reason", "unknown reason code "+string(code))
	}
	if note == "" {
		return label, nil
	}
	return label + ": " + note, nil
}
