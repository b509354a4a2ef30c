package domain

// Status 是广告的生命周期状态
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusRented   Status = "RENTED"
	StatusArchived Status = "ARCHIVED"
)

// AllStatuses 按展示顺序列出全部状态
var AllStatuses = []Status{
	StatusDraft,
	StatusPending,
	StatusApproved,
	StatusRejected,
	StatusRented,
	StatusArchived,
}

// ParseStatus 将持久化的字符串还原为 Status，未知值返回 false
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	return st, st.Valid()
}

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusApproved, StatusRejected, StatusRented, StatusArchived:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// CanTransitionTo 是状态机的唯一判定点。
// 每个状态都有显式分支，新增状态时编译器配合 exhaustive 检查可以发现遗漏。
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusDraft:
		return next == StatusPending
	case StatusPending:
		return next == StatusApproved || next == StatusRejected
	case StatusApproved:
		return next == StatusPending || next == StatusRented || next == StatusArchived
	case StatusRejected:
		// 驳回后只能通过重新编辑回到审核
		return next == StatusPending
	case StatusRented:
		return next == StatusPending
	case StatusArchived:
		// 归档后仅允许车主手动重新上架
		return next == StatusPending
	default:
		return false
	}
}

// IsModerated 表示该状态必须带有审核人和审核时间
func (s Status) IsModerated() bool {
	switch s {
	case StatusApproved, StatusRejected:
		return true
	case StatusDraft, StatusPending, StatusRented, StatusArchived:
		return false
	default:
		return false
	}
}

// IsVisible 表示广告能否出现在公开搜索结果中
func (s Status) IsVisible() bool {
	switch s {
	case StatusApproved:
		return true
	case StatusDraft, StatusPending, StatusRejected, StatusRented, StatusArchived:
		return false
	default:
		return false
	}
}

// Label 返回面向用户的状态文案
func (s Status) Label() string {
	switch s {
	case StatusDraft:
		return "📝 Draft"
	case StatusPending:
		return "⏳ Under review"
	case StatusApproved:
		return "✅ Published"
	case StatusRejected:
		return "❌ Rejected"
	case StatusRented:
		return "🔑 Rented"
	case StatusArchived:
		return "📦 Archived"
	default:
		return string(s)
	}
}
