package infrastructure

import (
	"encoding/json"

	"rentbot/internal/service/marketplace/domain"
)

// ToDomainAd 将数据库模型转换为领域模型
func ToDomainAd(model *AdModel) *domain.Ad {
	if model == nil {
		return nil
	}
	return &domain.Ad{
		ID:              model.ID,
		Title:           model.Title,
		Description:     model.Description,
		Price:           model.Price,
		Location:        model.Location,
		ContactInfo:     model.ContactInfo,
		CategoryID:      model.CategoryID,
		Status:          domain.Status(model.Status),
		RejectionReason: model.RejectionReason,
		OwnerID:         model.OwnerID,
		ModeratorID:     model.ModeratorID,
		CreatedAt:       model.CreatedAt,
		UpdatedAt:       model.UpdatedAt,
		ModeratedAt:     model.ModeratedAt,
	}
}

// FromDomainAd 将领域模型转换为数据库模型 (用于插入)
func FromDomainAd(ad *domain.Ad) *AdModel {
	if ad == nil {
		return nil
	}
	return &AdModel{
		ID:              ad.ID,
		Title:           ad.Title,
		Description:     ad.Description,
		Price:           ad.Price,
		Location:        ad.Location,
		ContactInfo:     ad.ContactInfo,
		Status:          string(ad.Status),
		RejectionReason: ad.RejectionReason,
		OwnerID:         ad.OwnerID,
		CategoryID:      ad.CategoryID,
		ModeratorID:     ad.ModeratorID,
		CreatedAt:       ad.CreatedAt,
		UpdatedAt:       ad.UpdatedAt,
		ModeratedAt:     ad.ModeratedAt,
	}
}

// adUpdates 列出 SaveIfStatus 需要写回的列。
// 使用 map 而不是结构体，这样 nil 指针会被写成 NULL 而不是被忽略。
func adUpdates(ad *domain.Ad) map[string]interface{} {
	return map[string]interface{}{
		"title":            ad.Title,
		"description":      ad.Description,
		"price":            ad.Price,
		"location":         ad.Location,
		"contact_info":     ad.ContactInfo,
		"category_id":      ad.CategoryID,
		"status":           string(ad.Status),
		"rejection_reason": ad.RejectionReason,
		"moderator_id":     ad.ModeratorID,
		"moderated_at":     ad.ModeratedAt,
		"updated_at":       ad.UpdatedAt,
	}
}

func ToDomainQueueEntry(model *ModerationQueueModel) *domain.QueueEntry {
	if model == nil {
		return nil
	}
	return &domain.QueueEntry{
		ID:         model.ID,
		AdID:       model.AdID,
		Priority:   model.Priority,
		AssignedTo: model.AssignedTo,
		EnqueuedAt: model.EnqueuedAt,
		Ad:         ToDomainAd(model.Ad),
	}
}

func FromDomainQueueEntry(e *domain.QueueEntry) *ModerationQueueModel {
	return &ModerationQueueModel{
		ID:         e.ID,
		AdID:       e.AdID,
		Priority:   e.Priority,
		AssignedTo: e.AssignedTo,
		EnqueuedAt: e.EnqueuedAt,
	}
}

func ToDomainSearchQuery(model *SearchQueryModel) *domain.SearchQuery {
	if model == nil {
		return nil
	}
	return &domain.SearchQuery{
		ID:           model.ID,
		UserID:       model.UserID,
		Keywords:     model.Keywords,
		Location:     model.Location,
		MinPrice:     model.MinPrice,
		MaxPrice:     model.MaxPrice,
		CategoryID:   model.CategoryID,
		IsActive:     model.IsActive,
		CreatedAt:    model.CreatedAt,
		LastNotified: model.LastNotified,
	}
}

func FromDomainSearchQuery(q *domain.SearchQuery) *SearchQueryModel {
	return &SearchQueryModel{
		ID:           q.ID,
		UserID:       q.UserID,
		Keywords:     q.Keywords,
		Location:     q.Location,
		MinPrice:     q.MinPrice,
		MaxPrice:     q.MaxPrice,
		CategoryID:   q.CategoryID,
		IsActive:     q.IsActive,
		CreatedAt:    q.CreatedAt,
		LastNotified: q.LastNotified,
	}
}

// ToDomainNotification 解码 JSON 负载；负载损坏时保留通知本身，只丢弃负载
func ToDomainNotification(model *NotificationModel) *domain.Notification {
	if model == nil {
		return nil
	}
	n := &domain.Notification{
		ID:        model.ID,
		UserID:    model.UserID,
		Type:      domain.NotificationType(model.Type),
		Title:     model.Title,
		Content:   model.Content,
		IsRead:    model.IsRead,
		CreatedAt: model.CreatedAt,
	}
	if len(model.Data) > 0 {
		var payload map[string]any
		if err := json.Unmarshal(model.Data, &payload); err == nil {
			n.Payload = payload
		}
	}
	return n
}

func FromDomainNotification(n *domain.Notification) (*NotificationModel, error) {
	model := &NotificationModel{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      string(n.Type),
		Title:     n.Title,
		Content:   n.Content,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
	if n.Payload != nil {
		data, err := json.Marshal(n.Payload)
		if err != nil {
			return nil, err
		}
		model.Data = data
	}
	return model, nil
}

func ToDomainUser(model *UserModel) *domain.User {
	if model == nil {
		return nil
	}
	return &domain.User{
		ID:         model.ID,
		TelegramID: model.TelegramID,
		Username:   model.Username,
		FirstName:  model.FirstName,
		LastName:   model.LastName,
		Role:       domain.Role(model.Role),
		IsBanned:   model.IsBanned,
		CreatedAt:  model.CreatedAt,
	}
}

func FromDomainUser(u *domain.User) *UserModel {
	return &UserModel{
		ID:         u.ID,
		TelegramID: u.TelegramID,
		Username:   u.Username,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Role:       string(u.Role),
		IsBanned:   u.IsBanned,
		CreatedAt:  u.CreatedAt,
	}
}

func ToDomainMessage(model *MessageModel) *domain.Message {
	return &domain.Message{
		ID:         model.ID,
		SenderID:   model.SenderID,
		ReceiverID: model.ReceiverID,
		AdID:       model.AdID,
		Content:    model.Content,
		IsRead:     model.IsRead,
		CreatedAt:  model.CreatedAt,
	}
}

func FromDomainMessage(m *domain.Message) *MessageModel {
	return &MessageModel{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		AdID:       m.AdID,
		Content:    m.Content,
		IsRead:     m.IsRead,
		CreatedAt:  m.CreatedAt,
	}
}

func ToDomainFeedback(model *FeedbackModel) *domain.Feedback {
	return &domain.Feedback{
		ID:        model.ID,
		UserID:    model.UserID,
		AdID:      model.AdID,
		Rating:    model.Rating,
		Comment:   model.Comment,
		Type:      domain.FeedbackType(model.Type),
		CreatedAt: model.CreatedAt,
	}
}

func FromDomainFeedback(f *domain.Feedback) *FeedbackModel {
	return &FeedbackModel{
		ID:        f.ID,
		UserID:    f.UserID,
		AdID:      f.AdID,
		Rating:    f.Rating,
		Comment:   f.Comment,
		Type:      string(f.Type),
		CreatedAt: f.CreatedAt,
	}
}

func ToDomainCategory(model *CategoryModel) *domain.Category {
	return &domain.Category{
		ID:          model.ID,
		Name:        model.Name,
		Description: model.Description,
		IsActive:    model.IsActive,
	}
}
