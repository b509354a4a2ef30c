package port

import "context"

// Deliverer 是通知投递的出站端口，实现方只负责把文本送达聊天用户。
// 投递失败只返回错误，不得影响已经提交的数据。
type Deliverer interface {
	Deliver(ctx context.Context, chatID int64, text string) error
}
