package domain

import "strings"

// Field 标识广告中可编辑的字段
type Field uint8

const (
	FieldTitle Field = 1 << iota
	FieldDescription
	FieldPrice
	FieldLocation
	FieldContact
	FieldCategory
)

// FieldSet 是 Field 的位集合
type FieldSet uint8

// ProtectedFields 修改后需要重新审核的字段
const ProtectedFields = FieldSet(FieldTitle | FieldDescription | FieldPrice | FieldLocation | FieldContact)

func (s FieldSet) Has(f Field) bool { return s&FieldSet(f) != 0 }

func (s FieldSet) With(f Field) FieldSet { return s | FieldSet(f) }

// TouchesProtected 判断集合中是否有受保护字段
func (s FieldSet) TouchesProtected() bool { return s&ProtectedFields != 0 }

// ParseField 用于解析编辑按钮中的字段名
func ParseField(name string) (Field, bool) {
	switch strings.ToLower(name) {
	case "title":
		return FieldTitle, true
	case "description":
		return FieldDescription, true
	case "price":
		return FieldPrice, true
	case "location":
		return FieldLocation, true
	case "contact", "contacts", "contact_info":
		return FieldContact, true
	case "category":
		return FieldCategory, true
	}
	return 0, false
}

// AdChanges 描述一次编辑，nil 表示该字段不修改
type AdChanges struct {
	Title       *string
	Description *string
	Price       *float64
	Location    *string
	ContactInfo *string
	CategoryID  *int64
	// ClearCategory 为 true 时移除分类
	ClearCategory bool
}

// Preview 返回应用修改之后的内容，用于提交前校验
func (c AdChanges) Preview(a *Ad) AdContent {
	tmp := *a
	c.apply(&tmp)
	return tmp.Content()
}

// apply 只写入真正变化的字段，并返回变化的字段集合
func (c AdChanges) apply(a *Ad) FieldSet {
	var changed FieldSet
	if c.Title != nil && strings.TrimSpace(*c.Title) != a.Title {
		a.Title = strings.TrimSpace(*c.Title)
		changed = changed.With(FieldTitle)
	}
	if c.Description != nil && strings.TrimSpace(*c.Description) != a.Description {
		a.Description = strings.TrimSpace(*c.Description)
		changed = changed.With(FieldDescription)
	}
	if c.Price != nil && *c.Price != a.Price {
		a.Price = *c.Price
		changed = changed.With(FieldPrice)
	}
	if c.Location != nil && strings.TrimSpace(*c.Location) != a.Location {
		a.Location = strings.TrimSpace(*c.Location)
		changed = changed.With(FieldLocation)
	}
	if c.ContactInfo != nil && strings.TrimSpace(*c.ContactInfo) != a.ContactInfo {
		a.ContactInfo = strings.TrimSpace(*c.ContactInfo)
		changed = changed.With(FieldContact)
	}
	switch {
	case c.ClearCategory && a.CategoryID != nil:
		a.CategoryID = nil
		changed = changed.With(FieldCategory)
	case c.CategoryID != nil && (a.CategoryID == nil || *a.CategoryID != *c.CategoryID):
		id := *c.CategoryID
		a.CategoryID = &id
		changed = changed.With(FieldCategory)
	}
	return changed
}

// ReconcileStatusOnEdit 根据被修改的字段决定广告的下一个状态。
// 只修改分类不会触发重新审核；草稿保持草稿，审核中的广告保留原有队列项。
func ReconcileStatusOnEdit(ad *Ad, changed FieldSet) Status {
	if !changed.TouchesProtected() {
		return ad.Status
	}
	switch ad.Status {
	case StatusDraft:
		return StatusDraft
	case StatusPending:
		return StatusPending
	case StatusApproved, StatusRejected, StatusRented, StatusArchived:
		return StatusPending
	default:
		return ad.Status
	}
}
