package memstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"rentbot/internal/service/marketplace/domain"
)

type adRepo struct{ s *Store }

func (r *adRepo) Create(_ context.Context, ad *domain.Ad) error {
	return r.s.write(func(d *dataset) error {
		ad.ID = d.id()
		d.ads[ad.ID] = copyAd(ad)
		return nil
	})
}

func (r *adRepo) FindByID(_ context.Context, id int64) (*domain.Ad, error) {
	var out *domain.Ad
	err := r.s.read(func(d *dataset) error {
		ad, ok := d.ads[id]
		if !ok {
			return domain.ErrNotFound
		}
		out = copyAd(ad)
		return nil
	})
	return out, err
}

func (r *adRepo) SaveIfStatus(_ context.Context, ad *domain.Ad, expected domain.Status) error {
	return r.s.write(func(d *dataset) error {
		cur, ok := d.ads[ad.ID]
		if !ok || cur.Status != expected {
			return domain.ErrStatusConflict
		}
		next := copyAd(ad)
		next.OwnerID = cur.OwnerID
		next.CreatedAt = cur.CreatedAt
		d.ads[ad.ID] = next
		return nil
	})
}

func (r *adRepo) Delete(_ context.Context, id int64) error {
	return r.s.write(func(d *dataset) error {
		if _, ok := d.ads[id]; !ok {
			return domain.ErrNotFound
		}
		delete(d.ads, id)
		return nil
	})
}

func (r *adRepo) ListByOwner(_ context.Context, ownerID int64, limit, offset int) ([]*domain.Ad, error) {
	return r.collect(func(a *domain.Ad) bool { return a.OwnerID == ownerID }, newestFirst, limit, offset)
}

func (r *adRepo) CountActiveByOwner(_ context.Context, ownerID int64) (int64, error) {
	ads, err := r.collect(func(a *domain.Ad) bool {
		return a.OwnerID == ownerID && a.Status != domain.StatusArchived
	}, newestFirst, 0, 0)
	return int64(len(ads)), err
}

func (r *adRepo) Search(_ context.Context, filter domain.SearchFilter) ([]*domain.Ad, error) {
	filter = filter.Normalize()
	return r.collect(func(a *domain.Ad) bool {
		return a.Status == domain.StatusApproved && filter.Criteria.Matches(a)
	}, newestFirst, filter.Limit, filter.Offset)
}

func (r *adRepo) ListApprovedSince(_ context.Context, since time.Time) ([]*domain.Ad, error) {
	return r.collect(func(a *domain.Ad) bool {
		return a.Status == domain.StatusApproved && a.ModeratedAt != nil && !a.ModeratedAt.Before(since)
	}, oldestFirst, 0, 0)
}

func (r *adRepo) ListStaleApproved(_ context.Context, before time.Time, limit int) ([]*domain.Ad, error) {
	return r.collect(func(a *domain.Ad) bool {
		return a.Status == domain.StatusApproved && a.UpdatedAt.Before(before)
	}, func(a, b *domain.Ad) bool {
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
		return a.ID < b.ID
	}, limit, 0)
}

func (r *adRepo) CountByStatus(_ context.Context) (map[domain.Status]int64, error) {
	counts := make(map[domain.Status]int64, len(domain.AllStatuses))
	for _, s := range domain.AllStatuses {
		counts[s] = 0
	}
	err := r.s.read(func(d *dataset) error {
		for _, a := range d.ads {
			counts[a.Status]++
		}
		return nil
	})
	return counts, err
}

func (r *adRepo) CountCreatedIn(_ context.Context, p domain.Period) (int64, error) {
	ads, err := r.collect(func(a *domain.Ad) bool { return inPeriod(a.CreatedAt, p) }, newestFirst, 0, 0)
	return int64(len(ads)), err
}

func (r *adRepo) CountModeratedIn(_ context.Context, status domain.Status, p domain.Period) (int64, error) {
	ads, err := r.collect(func(a *domain.Ad) bool {
		return a.Status == status && a.ModeratedAt != nil && inPeriod(*a.ModeratedAt, p)
	}, newestFirst, 0, 0)
	return int64(len(ads)), err
}

func (r *adRepo) collect(keep func(*domain.Ad) bool, less func(a, b *domain.Ad) bool, limit, offset int) ([]*domain.Ad, error) {
	var out []*domain.Ad
	err := r.s.read(func(d *dataset) error {
		for _, a := range d.ads {
			if keep(a) {
				out = append(out, copyAd(a))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return page(out, limit, offset), nil
}

func newestFirst(a, b *domain.Ad) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func oldestFirst(a, b *domain.Ad) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

type queueRepo struct{ s *Store }

func (r *queueRepo) Enqueue(_ context.Context, entry *domain.QueueEntry) error {
	return r.s.write(func(d *dataset) error {
		if _, ok := d.queue[entry.AdID]; ok {
			return domain.ErrDuplicateEntry
		}
		entry.ID = d.id()
		c := *entry
		c.Ad = nil
		d.queue[entry.AdID] = &c
		return nil
	})
}

func (r *queueRepo) Next(ctx context.Context) (*domain.QueueEntry, error) {
	entries, err := r.List(ctx, 1)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return entries[0], nil
}

func (r *queueRepo) FindByAdID(_ context.Context, adID int64) (*domain.QueueEntry, error) {
	var out *domain.QueueEntry
	err := r.s.read(func(d *dataset) error {
		e, ok := d.queue[adID]
		if !ok {
			return domain.ErrNotFound
		}
		c := *e
		out = &c
		return nil
	})
	return out, err
}

func (r *queueRepo) Assign(_ context.Context, adID, moderatorID int64) error {
	return r.s.write(func(d *dataset) error {
		e, ok := d.queue[adID]
		if !ok {
			return domain.ErrNotFound
		}
		id := moderatorID
		e.AssignedTo = &id
		return nil
	})
}

func (r *queueRepo) Update(_ context.Context, entry *domain.QueueEntry) error {
	return r.s.write(func(d *dataset) error {
		e, ok := d.queue[entry.AdID]
		if !ok {
			return domain.ErrNotFound
		}
		e.Priority = entry.Priority
		e.AssignedTo = entry.AssignedTo
		e.EnqueuedAt = entry.EnqueuedAt
		return nil
	})
}

func (r *queueRepo) Remove(_ context.Context, adID int64) error {
	return r.s.write(func(d *dataset) error {
		delete(d.queue, adID)
		return nil
	})
}

func (r *queueRepo) List(_ context.Context, limit int) ([]*domain.QueueEntry, error) {
	return r.collect(func(*domain.QueueEntry) bool { return true }, limit)
}

func (r *queueRepo) Count(_ context.Context) (int64, error) {
	var n int64
	err := r.s.read(func(d *dataset) error {
		n = int64(len(d.queue))
		return nil
	})
	return n, err
}

func (r *queueRepo) ListEnqueuedBefore(_ context.Context, before time.Time) ([]*domain.QueueEntry, error) {
	return r.collect(func(e *domain.QueueEntry) bool { return e.EnqueuedAt.Before(before) }, 0)
}

func (r *queueRepo) collect(keep func(*domain.QueueEntry) bool, limit int) ([]*domain.QueueEntry, error) {
	var out []*domain.QueueEntry
	err := r.s.read(func(d *dataset) error {
		for _, e := range d.queue {
			if !keep(e) {
				continue
			}
			c := *e
			if ad, ok := d.ads[e.AdID]; ok {
				c.Ad = copyAd(ad)
			}
			out = append(out, &c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	domain.SortQueue(out)
	return page(out, limit, 0), nil
}

type queryRepo struct{ s *Store }

func (r *queryRepo) Create(_ context.Context, q *domain.SearchQuery) error {
	return r.s.write(func(d *dataset) error {
		q.ID = d.id()
		c := *q
		d.queries[q.ID] = &c
		return nil
	})
}

func (r *queryRepo) FindByID(_ context.Context, id int64) (*domain.SearchQuery, error) {
	var out *domain.SearchQuery
	err := r.s.read(func(d *dataset) error {
		q, ok := d.queries[id]
		if !ok {
			return domain.ErrNotFound
		}
		c := *q
		out = &c
		return nil
	})
	return out, err
}

func (r *queryRepo) ListByUser(_ context.Context, userID int64) ([]*domain.SearchQuery, error) {
	out, err := r.collect(func(q *domain.SearchQuery) bool { return q.UserID == userID })
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, err
}

func (r *queryRepo) ListActive(_ context.Context) ([]*domain.SearchQuery, error) {
	out, err := r.collect(func(q *domain.SearchQuery) bool { return q.IsActive })
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r *queryRepo) SetActive(_ context.Context, id int64, active bool) error {
	return r.s.write(func(d *dataset) error {
		q, ok := d.queries[id]
		if !ok {
			return domain.ErrNotFound
		}
		q.IsActive = active
		return nil
	})
}

func (r *queryRepo) Delete(_ context.Context, id int64) error {
	return r.s.write(func(d *dataset) error {
		if _, ok := d.queries[id]; !ok {
			return domain.ErrNotFound
		}
		delete(d.queries, id)
		return nil
	})
}

func (r *queryRepo) MarkNotified(_ context.Context, id int64, adCreatedAt, at time.Time) (bool, error) {
	var moved bool
	err := r.s.write(func(d *dataset) error {
		q, ok := d.queries[id]
		if !ok {
			return nil
		}
		moved = q.MarkNotified(adCreatedAt, at)
		return nil
	})
	return moved, err
}

func (r *queryRepo) DeleteNotifiedBefore(_ context.Context, before time.Time) (int64, error) {
	var n int64
	err := r.s.write(func(d *dataset) error {
		for id, q := range d.queries {
			if q.LastNotified != nil && q.LastNotified.Before(before) {
				delete(d.queries, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *queryRepo) collect(keep func(*domain.SearchQuery) bool) ([]*domain.SearchQuery, error) {
	var out []*domain.SearchQuery
	err := r.s.read(func(d *dataset) error {
		for _, q := range d.queries {
			if keep(q) {
				c := *q
				out = append(out, &c)
			}
		}
		return nil
	})
	return out, err
}

type notificationRepo struct{ s *Store }

func (r *notificationRepo) Create(_ context.Context, n *domain.Notification) error {
	return r.s.write(func(d *dataset) error {
		n.ID = d.id()
		c := *n
		d.notifications[n.ID] = &c
		return nil
	})
}

func (r *notificationRepo) ListUnread(_ context.Context, userID int64, limit int) ([]*domain.Notification, error) {
	var out []*domain.Notification
	err := r.s.read(func(d *dataset) error {
		for _, n := range d.notifications {
			if n.UserID == userID && !n.IsRead {
				c := *n
				out = append(out, &c)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return page(out, limit, 0), err
}

func (r *notificationRepo) CountUnread(ctx context.Context, userID int64) (int64, error) {
	out, err := r.ListUnread(ctx, userID, 0)
	return int64(len(out)), err
}

func (r *notificationRepo) MarkRead(_ context.Context, id, userID int64) error {
	return r.s.write(func(d *dataset) error {
		n, ok := d.notifications[id]
		if !ok || n.UserID != userID {
			return domain.ErrNotFound
		}
		n.IsRead = true
		return nil
	})
}

func (r *notificationRepo) MarkAllRead(_ context.Context, userID int64) (int64, error) {
	var count int64
	err := r.s.write(func(d *dataset) error {
		for _, n := range d.notifications {
			if n.UserID == userID && !n.IsRead {
				n.IsRead = true
				count++
			}
		}
		return nil
	})
	return count, err
}

func (r *notificationRepo) DeleteReadBefore(_ context.Context, before time.Time) (int64, error) {
	var count int64
	err := r.s.write(func(d *dataset) error {
		for id, n := range d.notifications {
			if n.IsRead && n.CreatedAt.Before(before) {
				delete(d.notifications, id)
				count++
			}
		}
		return nil
	})
	return count, err
}

type userRepo struct{ s *Store }

func (r *userRepo) find(match func(*domain.User) bool) (*domain.User, error) {
	var out *domain.User
	err := r.s.read(func(d *dataset) error {
		for _, u := range d.users {
			if match(u) {
				c := *u
				out = &c
				return nil
			}
		}
		return domain.ErrNotFound
	})
	return out, err
}

func (r *userRepo) FindByID(_ context.Context, id int64) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.ID == id })
}

func (r *userRepo) FindByTelegramID(_ context.Context, telegramID int64) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.TelegramID == telegramID })
}

func (r *userRepo) Create(_ context.Context, u *domain.User) error {
	return r.s.write(func(d *dataset) error {
		for _, existing := range d.users {
			if existing.TelegramID == u.TelegramID {
				return domain.ErrDuplicateEntry
			}
		}
		u.ID = d.id()
		c := *u
		d.users[u.ID] = &c
		return nil
	})
}

func (r *userRepo) update(id int64, fn func(u *domain.User)) error {
	return r.s.write(func(d *dataset) error {
		u, ok := d.users[id]
		if !ok {
			return domain.ErrNotFound
		}
		fn(u)
		return nil
	})
}

func (r *userRepo) UpdateProfile(_ context.Context, u *domain.User) error {
	return r.update(u.ID, func(cur *domain.User) {
		cur.Username = u.Username
		cur.FirstName = u.FirstName
		cur.LastName = u.LastName
	})
}

func (r *userRepo) SetRole(_ context.Context, id int64, role domain.Role) error {
	return r.update(id, func(u *domain.User) { u.Role = role })
}

func (r *userRepo) SetBanned(_ context.Context, id int64, banned bool) error {
	return r.update(id, func(u *domain.User) { u.IsBanned = banned })
}

func (r *userRepo) ListByRoles(_ context.Context, roles ...domain.Role) ([]*domain.User, error) {
	wanted := make(map[domain.Role]bool, len(roles))
	for _, role := range roles {
		wanted[role] = true
	}
	var out []*domain.User
	err := r.s.read(func(d *dataset) error {
		for _, u := range d.users {
			if wanted[u.Role] && !u.IsBanned {
				c := *u
				out = append(out, &c)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r *userRepo) Count(_ context.Context) (int64, error) {
	var n int64
	err := r.s.read(func(d *dataset) error {
		n = int64(len(d.users))
		return nil
	})
	return n, err
}

func (r *userRepo) CountCreatedIn(_ context.Context, p domain.Period) (int64, error) {
	var n int64
	err := r.s.read(func(d *dataset) error {
		for _, u := range d.users {
			if inPeriod(u.CreatedAt, p) {
				n++
			}
		}
		return nil
	})
	return n, err
}

type messageRepo struct{ s *Store }

func (r *messageRepo) Create(_ context.Context, m *domain.Message) error {
	return r.s.write(func(d *dataset) error {
		m.ID = d.id()
		c := *m
		d.messages[m.ID] = &c
		return nil
	})
}

func (r *messageRepo) ListForUser(_ context.Context, userID int64, limit int) ([]*domain.Message, error) {
	var out []*domain.Message
	err := r.s.read(func(d *dataset) error {
		for _, m := range d.messages {
			if m.ReceiverID == userID || m.SenderID == userID {
				c := *m
				out = append(out, &c)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return page(out, limit, 0), err
}

func (r *messageRepo) MarkRead(_ context.Context, id, receiverID int64) error {
	return r.s.write(func(d *dataset) error {
		m, ok := d.messages[id]
		if !ok || m.ReceiverID != receiverID {
			return domain.ErrNotFound
		}
		m.IsRead = true
		return nil
	})
}

func (r *messageRepo) CountUnread(_ context.Context, receiverID int64) (int64, error) {
	var n int64
	err := r.s.read(func(d *dataset) error {
		for _, m := range d.messages {
			if m.ReceiverID == receiverID && !m.IsRead {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *messageRepo) DeleteByAd(_ context.Context, adID int64) error {
	return r.s.write(func(d *dataset) error {
		for id, m := range d.messages {
			if m.AdID != nil && *m.AdID == adID {
				delete(d.messages, id)
			}
		}
		return nil
	})
}

func (r *messageRepo) CountCreatedIn(_ context.Context, p domain.Period) (int64, error) {
	var n int64
	err := r.s.read(func(d *dataset) error {
		for _, m := range d.messages {
			if inPeriod(m.CreatedAt, p) {
				n++
			}
		}
		return nil
	})
	return n, err
}

type feedbackRepo struct{ s *Store }

func (r *feedbackRepo) Create(_ context.Context, f *domain.Feedback) error {
	return r.s.write(func(d *dataset) error {
		if f.AdID != nil {
			for _, existing := range d.feedback {
				if existing.UserID == f.UserID && existing.AdID != nil && *existing.AdID == *f.AdID {
					return domain.ErrDuplicateEntry
				}
			}
		}
		f.ID = d.id()
		c := *f
		d.feedback[f.ID] = &c
		return nil
	})
}

func (r *feedbackRepo) ListByUser(_ context.Context, userID int64, limit int) ([]*domain.Feedback, error) {
	var out []*domain.Feedback
	err := r.s.read(func(d *dataset) error {
		for _, f := range d.feedback {
			if f.UserID == userID {
				c := *f
				out = append(out, &c)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, limit, 0), err
}

func (r *feedbackRepo) Summary(_ context.Context, typ domain.FeedbackType, adID *int64) (domain.RatingSummary, error) {
	var summary domain.RatingSummary
	var total int
	err := r.s.read(func(d *dataset) error {
		for _, f := range d.feedback {
			if f.Type != typ {
				continue
			}
			if adID != nil && (f.AdID == nil || *f.AdID != *adID) {
				continue
			}
			summary.Count++
			total += f.Rating
		}
		return nil
	})
	if summary.Count > 0 {
		summary.Average = float64(total) / float64(summary.Count)
	}
	return summary, err
}

func (r *feedbackRepo) DeleteByAd(_ context.Context, adID int64) error {
	return r.s.write(func(d *dataset) error {
		for id, f := range d.feedback {
			if f.AdID != nil && *f.AdID == adID {
				delete(d.feedback, id)
			}
		}
		return nil
	})
}

func (r *feedbackRepo) CountCreatedIn(_ context.Context, p domain.Period) (int64, error) {
	var n int64
	err := r.s.read(func(d *dataset) error {
		for _, f := range d.feedback {
			if inPeriod(f.CreatedAt, p) {
				n++
			}
		}
		return nil
	})
	return n, err
}

type categoryRepo struct{ s *Store }

func (r *categoryRepo) ListActive(_ context.Context) ([]*domain.Category, error) {
	var out []*domain.Category
	err := r.s.read(func(d *dataset) error {
		for _, c := range d.categories {
			if c.IsActive {
				cp := *c
				out = append(out, &cp)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out, err
}

func (r *categoryRepo) FindByID(_ context.Context, id int64) (*domain.Category, error) {
	var out *domain.Category
	err := r.s.read(func(d *dataset) error {
		c, ok := d.categories[id]
		if !ok {
			return domain.ErrNotFound
		}
		cp := *c
		out = &cp
		return nil
	})
	return out, err
}

func inPeriod(t time.Time, p domain.Period) bool {
	return !t.Before(p.From) && t.Before(p.To)
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
