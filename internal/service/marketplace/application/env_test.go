package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"rentbot/internal/service/marketplace/domain"
	"rentbot/internal/service/marketplace/infrastructure/adapter"
	"rentbot/internal/service/marketplace/infrastructure/memstore"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type delivery struct {
	chatID int64
	text   string
}

type recordingDeliverer struct {
	mu   sync.Mutex
	sent []delivery
	err  error
}

func (r *recordingDeliverer) Deliver(_ context.Context, chatID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, delivery{chatID: chatID, text: text})
	return nil
}

func (r *recordingDeliverer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type titlePriority map[string]int

func (p titlePriority) Priority(_ context.Context, ad *domain.Ad, _ *domain.User) int {
	if v, ok := p[ad.Title]; ok {
		return v
	}
	return domain.DefaultPriority
}

type testEnv struct {
	store     *memstore.Store
	clock     *testClock
	deliverer *recordingDeliverer
	priority  titlePriority
	sweep     SweepSettings
	adLimits  AdLimits

	dispatcher *Dispatcher
	users      *UserService
	ads        *AdService
	search     *SearchService
	moderation *ModerationService
	messages   *MessageService
	feedback   *FeedbackService
	sweeps     *SweepService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	readRetryBackoff = time.Millisecond

	env := &testEnv{
		store:     memstore.New(),
		clock:     &testClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)},
		deliverer: &recordingDeliverer{},
		priority:  titlePriority{},
		adLimits:  AdLimits{MaxPerUser: 10, Price: domain.PriceRange{Min: 0, Max: 1000000}},
		sweep: SweepSettings{
			NotificationWindow: 20 * time.Minute,
			StaleAfter:         24 * time.Hour,
			AlertThreshold:     5,
			WarnThreshold:      20,
			ArchiveAfter:       30 * 24 * time.Hour,
			ReadRetention:      7 * 24 * time.Hour,
			QueryRetention:     30 * 24 * time.Hour,
		},
	}
	env.store.SeedCategories([]string{"Bikes", "Tools"})

	tracer := noop.NewTracerProvider().Tracer("test")
	clock := env.clock.Now
	env.dispatcher = NewDispatcher(env.store, env.deliverer, tracer, DispatcherOptions{Clock: clock})
	env.users = NewUserService(env.store, tracer, func(id int64) bool { return id == 900 }, clock)
	env.ads = NewAdService(env.store, env.priority, tracer, func() AdLimits { return env.adLimits }, clock)
	env.search = NewSearchService(env.store, env.dispatcher, tracer, clock)
	env.moderation = NewModerationService(env.store, env.dispatcher, env.search, tracer, clock)
	env.messages = NewMessageService(env.store, env.dispatcher, adapter.NewMemoryRateLimiter(), tracer,
		func() MessageLimit { return MessageLimit{Count: 2, Window: time.Minute} }, clock)
	env.feedback = NewFeedbackService(env.store, tracer, clock)
	env.sweeps = NewSweepService(env.store, env.dispatcher, env.search, tracer, func() SweepSettings { return env.sweep }, clock)
	return env
}

func (e *testEnv) user(t *testing.T, telegramID int64, role domain.Role) *domain.User {
	t.Helper()
	u, err := e.users.Ensure(context.Background(), domain.Profile{TelegramID: telegramID, Username: "user"})
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if role != domain.RoleUser {
		if err := e.store.Users().SetRole(context.Background(), u.ID, role); err != nil {
			t.Fatalf("set role: %v", err)
		}
		u.Role = role
	}
	return u
}

func bikeContent(title string, price float64) domain.AdContent {
	return domain.AdContent{
		Title:       title,
		Description: "Well kept, helmet included",
		Price:       price,
		Location:    "Moscow, Center",
		ContactInfo: "@owner",
	}
}

func (e *testEnv) pendingAd(t *testing.T, owner *domain.User, title string, price float64) *domain.Ad {
	t.Helper()
	ad, err := e.ads.Create(context.Background(), owner.ID, bikeContent(title, price), false)
	if err != nil {
		t.Fatalf("create ad: %v", err)
	}
	return ad
}

func (e *testEnv) approvedAd(t *testing.T, owner, moderator *domain.User, title string, price float64) *domain.Ad {
	t.Helper()
	ad := e.pendingAd(t, owner, title, price)
	approved, err := e.moderation.Approve(context.Background(), moderator.ID, ad.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	return approved
}

func (e *testEnv) unread(t *testing.T, userID int64) []*domain.Notification {
	t.Helper()
	list, err := e.dispatcher.Unread(context.Background(), userID)
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	return list
}

func countType(list []*domain.Notification, typ domain.NotificationType) int {
	n := 0
	for _, item := range list {
		if item.Type == typ {
			n++
		}
	}
	return n
}

// checkQueueInvariant 队列项存在当且仅当广告为 PENDING
func (e *testEnv) checkQueueInvariant(t *testing.T, adID int64) {
	t.Helper()
	ctx := context.Background()
	ad, err := e.store.Ads().FindByID(ctx, adID)
	if err != nil {
		t.Fatalf("find ad: %v", err)
	}
	if err := ad.CheckInvariants(); err != nil {
		t.Fatal(err)
	}
	_, err = e.store.Queue().FindByAdID(ctx, adID)
	queued := err == nil
	if queued != (ad.Status == domain.StatusPending) {
		t.Fatalf("ad %d in status %s, queued=%v", adID, ad.Status, queued)
	}
}
