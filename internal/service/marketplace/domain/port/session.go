package port

import (
	"context"

	"rentbot/internal/service/marketplace/domain"
)

// SessionStore 保存对话中的临时草稿。Load 在没有会话时返回 nil, nil。
type SessionStore interface {
	Load(ctx context.Context, userID int64) (*domain.Session, error)
	Save(ctx context.Context, userID int64, s *domain.Session) error
	Clear(ctx context.Context, userID int64) error
}
