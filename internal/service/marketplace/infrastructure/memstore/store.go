// Package memstore 提供进程内的 domain.Store 实现，用于本地运行和测试。
package memstore

import (
	"context"
	"sync"

	"rentbot/internal/service/marketplace/domain"
)

type dataset struct {
	nextID        int64
	ads           map[int64]*domain.Ad
	queue         map[int64]*domain.QueueEntry // 按 ad_id 索引
	queries       map[int64]*domain.SearchQuery
	notifications map[int64]*domain.Notification
	users         map[int64]*domain.User
	messages      map[int64]*domain.Message
	feedback      map[int64]*domain.Feedback
	categories    map[int64]*domain.Category
}

func newDataset() *dataset {
	return &dataset{
		ads:           map[int64]*domain.Ad{},
		queue:         map[int64]*domain.QueueEntry{},
		queries:       map[int64]*domain.SearchQuery{},
		notifications: map[int64]*domain.Notification{},
		users:         map[int64]*domain.User{},
		messages:      map[int64]*domain.Message{},
		feedback:      map[int64]*domain.Feedback{},
		categories:    map[int64]*domain.Category{},
	}
}

func (d *dataset) id() int64 {
	d.nextID++
	return d.nextID
}

func (d *dataset) clone() *dataset {
	out := newDataset()
	out.nextID = d.nextID
	for k, v := range d.ads {
		out.ads[k] = copyAd(v)
	}
	for k, v := range d.queue {
		c := *v
		out.queue[k] = &c
	}
	for k, v := range d.queries {
		c := *v
		out.queries[k] = &c
	}
	for k, v := range d.notifications {
		c := *v
		out.notifications[k] = &c
	}
	for k, v := range d.users {
		c := *v
		out.users[k] = &c
	}
	for k, v := range d.messages {
		c := *v
		out.messages[k] = &c
	}
	for k, v := range d.feedback {
		c := *v
		out.feedback[k] = &c
	}
	for k, v := range d.categories {
		c := *v
		out.categories[k] = &c
	}
	return out
}

type faults struct {
	mu    sync.Mutex
	reads int
}

// Store 是进程内的 domain.Store。
// 写操作之间串行执行；Atomic 在数据副本上运行回调，成功后整体替换，失败则丢弃副本。
type Store struct {
	writeMu *sync.Mutex
	mu      *sync.RWMutex
	data    *dataset
	inTx    bool
	faults  *faults
}

func New() *Store {
	return &Store{
		writeMu: &sync.Mutex{},
		mu:      &sync.RWMutex{},
		data:    newDataset(),
		faults:  &faults{},
	}
}

// FailNextReads 让接下来的 n 次读操作返回 ErrTransientStore，用于模拟存储抖动
func (s *Store) FailNextReads(n int) {
	s.faults.mu.Lock()
	s.faults.reads = n
	s.faults.mu.Unlock()
}

func (s *Store) injectedFault() error {
	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()
	if s.faults.reads > 0 {
		s.faults.reads--
		return domain.ErrTransientStore
	}
	return nil
}

func (s *Store) read(fn func(d *dataset) error) error {
	if err := s.injectedFault(); err != nil {
		return err
	}
	if s.inTx {
		return fn(s.data)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.data)
}

func (s *Store) write(fn func(d *dataset) error) error {
	if s.inTx {
		return fn(s.data)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

func (s *Store) Atomic(ctx context.Context, fn func(tx domain.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	working := s.data.clone()
	s.mu.RUnlock()

	tx := &Store{
		writeMu: s.writeMu,
		mu:      s.mu,
		data:    working,
		inTx:    true,
		faults:  s.faults,
	}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = working
	s.mu.Unlock()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Ads() domain.AdRepository                     { return &adRepo{s: s} }
func (s *Store) Queue() domain.ModerationQueueRepository      { return &queueRepo{s: s} }
func (s *Store) Queries() domain.SearchQueryRepository        { return &queryRepo{s: s} }
func (s *Store) Notifications() domain.NotificationRepository { return &notificationRepo{s: s} }
func (s *Store) Users() domain.UserRepository                 { return &userRepo{s: s} }
func (s *Store) Messages() domain.MessageRepository           { return &messageRepo{s: s} }
func (s *Store) Feedback() domain.FeedbackRepository          { return &feedbackRepo{s: s} }
func (s *Store) Categories() domain.CategoryRepository        { return &categoryRepo{s: s} }

// SeedCategories 写入一组启用的分类，已有分类时不做任何事
func (s *Store) SeedCategories(names []string) {
	_ = s.write(func(d *dataset) error {
		if len(d.categories) > 0 {
			return nil
		}
		for _, name := range names {
			id := d.id()
			d.categories[id] = &domain.Category{ID: id, Name: name, IsActive: true}
		}
		return nil
	})
}

func copyAd(a *domain.Ad) *domain.Ad {
	c := *a
	return &c
}
