package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"rentbot/internal/service/marketplace/domain"
)

const sessionKeyPrefix = "rentbot:session:"

// RedisSessionStore 实现了 port.SessionStore 接口，草稿以 JSON 保存并带过期时间
type RedisSessionStore struct {
	client goredis.Cmdable
	ttl    time.Duration
}

func NewRedisSessionStore(client goredis.Cmdable, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisSessionStore{client: client, ttl: ttl}
}

func sessionKey(userID int64) string {
	return fmt.Sprintf("%s%d", sessionKeyPrefix, userID)
}

func (s *RedisSessionStore) Load(ctx context.Context, userID int64) (*domain.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(userID)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		// 无法解析的旧会话直接丢弃
		_ = s.client.Del(ctx, sessionKey(userID)).Err()
		return nil, nil
	}
	return &session, nil
}

func (s *RedisSessionStore) Save(ctx context.Context, userID int64, session *domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(userID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Clear(ctx context.Context, userID int64) error {
	if err := s.client.Del(ctx, sessionKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
