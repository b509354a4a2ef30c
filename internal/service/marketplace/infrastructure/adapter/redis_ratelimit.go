package adapter

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "rentbot:ratelimit:"

// RedisRateLimiter 实现了 port.RateLimiter 接口，使用固定窗口计数
type RedisRateLimiter struct {
	client goredis.Cmdable
}

func NewRedisRateLimiter(client goredis.Cmdable) *RedisRateLimiter {
	return &RedisRateLimiter{client: client}
}

// Allow 计数和设置过期时间在同一个脚本里完成，计数键不会因为中途失败而永久存在
func (l *RedisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	redisKey := rateLimitKeyPrefix + key

	n, err := rateLimitScript.Run(ctx, l.client, []string{redisKey}, window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limiter: %w", err)
	}
	return n <= int64(limit), nil
}

var rateLimitScript = goredis.NewScript(`
-- KEYS[1]: 计数键, 例如: rentbot:ratelimit:message:42
-- ARGV[1]: 窗口长度 (毫秒)

local n = redis.call('incr', KEYS[1])
-- 没有过期时间的键 (包括新建的) 都补上窗口
if redis.call('pttl', KEYS[1]) < 0 then
    redis.call('pexpire', KEYS[1], ARGV[1])
end
return n
`)
