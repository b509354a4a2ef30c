package port

import (
	"context"
	"time"
)

// RateLimiter 以固定窗口限制某个键的调用次数
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
