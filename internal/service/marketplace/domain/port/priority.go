package port

import (
	"context"

	"rentbot/internal/service/marketplace/domain"
)

// PriorityPolicy 决定广告入队时的优先级，队列本身只负责排序
type PriorityPolicy interface {
	Priority(ctx context.Context, ad *domain.Ad, owner *domain.User) int
}

// DefaultPriority 总是返回默认优先级
type DefaultPriority struct{}

func (DefaultPriority) Priority(context.Context, *domain.Ad, *domain.User) int {
	return domain.DefaultPriority
}
