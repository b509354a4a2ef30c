package adapter

import (
	"context"
	"sync"
	"time"

	"rentbot/internal/service/marketplace/domain"
)

// MemorySessionStore 在没有配置 Redis 时使用，进程重启后草稿丢失
type MemorySessionStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[int64]domain.Session
}

func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemorySessionStore{ttl: ttl, now: time.Now, sessions: map[int64]domain.Session{}}
}

func (s *MemorySessionStore) Load(_ context.Context, userID int64) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[userID]
	if !ok {
		return nil, nil
	}
	if s.now().Sub(session.UpdatedAt) > s.ttl {
		delete(s.sessions, userID)
		return nil, nil
	}
	return &session, nil
}

func (s *MemorySessionStore) Save(_ context.Context, userID int64, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = s.now()
	}
	s.sessions[userID] = cp
	return nil
}

func (s *MemorySessionStore) Clear(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	return nil
}

type window struct {
	start time.Time
	count int
}

// MemoryRateLimiter 是单进程的固定窗口限流器
type MemoryRateLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	windows map[string]*window
}

func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{now: time.Now, windows: map[string]*window{}}
}

func (l *MemoryRateLimiter) Allow(_ context.Context, key string, limit int, size time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= size {
		w = &window{start: now}
		l.windows[key] = w
	}
	w.count++
	return w.count <= limit, nil
}
