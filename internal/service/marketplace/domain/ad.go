package domain

import (
	"fmt"
	"strings"
	"time"
)

// Ad 是广告聚合的根实体
type Ad struct {
	ID              int64
	Title           string
	Description     string
	Price           float64
	Location        string
	ContactInfo     string
	CategoryID      *int64
	Status          Status
	RejectionReason *string
	OwnerID         int64
	ModeratorID     *int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ModeratedAt     *time.Time
}

// AdContent 是车主可以填写和修改的内容部分
type AdContent struct {
	Title       string
	Description string
	Price       float64
	Location    string
	ContactInfo string
	CategoryID  *int64
}

// PriceRange 限定合法价格区间，来自配置
type PriceRange struct {
	Min float64
	Max float64
}

// Validate 检查内容是否可以被保存
func (c AdContent) Validate(limits PriceRange) error {
	if strings.TrimSpace(c.Title) == "" {
		return NewValidationError("title", "must not be empty")
	}
	if len([]rune(c.Title)) > 200 {
		return NewValidationError("title", "must be at most 200 characters")
	}
	if strings.TrimSpace(c.Description) == "" {
		return NewValidationError("description", "must not be empty")
	}
	if strings.TrimSpace(c.Location) == "" {
		return NewValidationError("location", "must not be empty")
	}
	if strings.TrimSpace(c.ContactInfo) == "" {
		return NewValidationError("contact_info", "must not be empty")
	}
	if c.Price < 0 {
		return NewValidationError("price", "must not be negative")
	}
	if c.Price < limits.Min || (limits.Max > 0 && c.Price > limits.Max) {
		return NewValidationError("price", fmt.Sprintf("must be between %.2f and %.2f", limits.Min, limits.Max))
	}
	return nil
}

// NewAd 创建一条新广告。草稿不会进入审核队列，其余直接进入 PENDING。
func NewAd(ownerID int64, content AdContent, asDraft bool, now time.Time) *Ad {
	status := StatusPending
	if asDraft {
		status = StatusDraft
	}
	return &Ad{
		Title:       strings.TrimSpace(content.Title),
		Description: strings.TrimSpace(content.Description),
		Price:       content.Price,
		Location:    strings.TrimSpace(content.Location),
		ContactInfo: strings.TrimSpace(content.ContactInfo),
		CategoryID:  content.CategoryID,
		Status:      status,
		OwnerID:     ownerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Content 返回当前内容的副本
func (a *Ad) Content() AdContent {
	return AdContent{
		Title:       a.Title,
		Description: a.Description,
		Price:       a.Price,
		Location:    a.Location,
		ContactInfo: a.ContactInfo,
		CategoryID:  a.CategoryID,
	}
}

func (a *Ad) transition(next Status, now time.Time) error {
	if !a.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: cannot move ad %d from %s to %s", ErrStatusConflict, a.ID, a.Status, next)
	}
	a.Status = next
	a.UpdatedAt = now
	if !next.IsModerated() {
		a.ModeratorID = nil
		a.ModeratedAt = nil
	}
	if next != StatusRejected {
		a.RejectionReason = nil
	}
	return nil
}

// Submit 将草稿提交审核
func (a *Ad) Submit(now time.Time) error {
	if a.Status != StatusDraft {
		return fmt.Errorf("%w: only drafts can be submitted", ErrStatusConflict)
	}
	return a.transition(StatusPending, now)
}

// Approve 审核通过
func (a *Ad) Approve(moderatorID int64, now time.Time) error {
	if moderatorID == 0 {
		return NewValidationError("moderator", "moderator identity is required")
	}
	if a.Status != StatusPending {
		return ErrAlreadyModerated
	}
	if err := a.transition(StatusApproved, now); err != nil {
		return err
	}
	a.ModeratorID = &moderatorID
	a.ModeratedAt = &now
	return nil
}

// Reject 审核驳回，reason 必须是最终的非空文本
func (a *Ad) Reject(moderatorID int64, reason string, now time.Time) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return NewValidationError("rejection_reason", "a rejection reason is required")
	}
	if moderatorID == 0 {
		return NewValidationError("moderator", "moderator identity is required")
	}
	if a.Status != StatusPending {
		return ErrAlreadyModerated
	}
	if err := a.transition(StatusRejected, now); err != nil {
		return err
	}
	a.ModeratorID = &moderatorID
	a.ModeratedAt = &now
	a.RejectionReason = &reason
	return nil
}

// MarkRented 车主标记为已出租
func (a *Ad) MarkRented(now time.Time) error {
	if a.Status != StatusApproved {
		return fmt.Errorf("%w: only published ads can be marked as rented", ErrStatusConflict)
	}
	return a.transition(StatusRented, now)
}

// Archive 长时间未更新的已发布广告自动归档
func (a *Ad) Archive(now time.Time) error {
	if a.Status != StatusApproved {
		return fmt.Errorf("%w: only published ads can be archived", ErrStatusConflict)
	}
	return a.transition(StatusArchived, now)
}

// Reactivate 将已归档或已出租的广告重新送审
func (a *Ad) Reactivate(now time.Time) error {
	if a.Status != StatusArchived && a.Status != StatusRented {
		return fmt.Errorf("%w: only archived or rented ads can be reactivated", ErrStatusConflict)
	}
	return a.transition(StatusPending, now)
}

// ApplyEdit 写入修改并按 ReconcileStatusOnEdit 调整状态。
// changed 为实际变化的字段；requeue 表示广告从其他状态进入了 PENDING，调用方需要为其入队。
func (a *Ad) ApplyEdit(changes AdChanges, now time.Time) (changed FieldSet, requeue bool, err error) {
	changed = changes.apply(a)
	if changed == 0 {
		return 0, false, nil
	}
	a.UpdatedAt = now
	prev := a.Status
	next := ReconcileStatusOnEdit(a, changed)
	if next == prev {
		return changed, false, nil
	}
	if err := a.transition(next, now); err != nil {
		return changed, false, err
	}
	return changed, next == StatusPending, nil
}

// CheckInvariants 校验状态相关字段的一致性
func (a *Ad) CheckInvariants() error {
	if !a.Status.Valid() {
		return fmt.Errorf("ad %d: unknown status %q", a.ID, a.Status)
	}
	if (a.Status == StatusRejected) != (a.RejectionReason != nil) {
		return fmt.Errorf("ad %d: rejection reason must be set iff status is REJECTED", a.ID)
	}
	moderated := a.ModeratorID != nil && a.ModeratedAt != nil
	partial := (a.ModeratorID != nil) != (a.ModeratedAt != nil)
	if partial || moderated != a.Status.IsModerated() {
		return fmt.Errorf("ad %d: moderator fields must be set iff status is APPROVED or REJECTED", a.ID)
	}
	if a.Price < 0 {
		return fmt.Errorf("ad %d: negative price", a.ID)
	}
	return nil
}
