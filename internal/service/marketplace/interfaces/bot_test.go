package interfaces

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.opentelemetry.io/otel/trace/noop"

	"rentbot/internal/service/marketplace/application"
	"rentbot/internal/service/marketplace/domain"
	"rentbot/internal/service/marketplace/domain/port"
	"rentbot/internal/service/marketplace/infrastructure/adapter"
	"rentbot/internal/service/marketplace/infrastructure/memstore"
)

const adminTelegramID = 900

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	answered int
	stopped  bool
	updates  chan tgbotapi.Update
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{updates: make(chan tgbotapi.Update, 16)}
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	f.answered++
	f.mu.Unlock()
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeAPI) last(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("expected a reply, got none")
	}
	return f.sent[len(f.sent)-1]
}

type recordingDeliverer struct {
	mu   sync.Mutex
	sent map[int64][]string
}

func (r *recordingDeliverer) Deliver(_ context.Context, chatID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent == nil {
		r.sent = map[int64][]string{}
	}
	r.sent[chatID] = append(r.sent[chatID], text)
	return nil
}

func (r *recordingDeliverer) to(chatID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent[chatID]...)
}

type botEnv struct {
	api       *fakeAPI
	store     *memstore.Store
	deliverer *recordingDeliverer
	svc       Services
	bot       *Bot
}

func newBotEnv(t *testing.T) *botEnv {
	t.Helper()
	store := memstore.New()
	store.SeedCategories([]string{"Bikes", "Tools"})
	tracer := noop.NewTracerProvider().Tracer("test")
	limits := func() application.AdLimits {
		return application.AdLimits{MaxPerUser: 10, Price: domain.PriceRange{Min: 0, Max: 1000000}}
	}

	env := &botEnv{api: newFakeAPI(), store: store, deliverer: &recordingDeliverer{}}
	dispatcher := application.NewDispatcher(store, env.deliverer, tracer, application.DispatcherOptions{})
	search := application.NewSearchService(store, dispatcher, tracer, nil)
	messages := application.NewMessageService(store, dispatcher, adapter.NewMemoryRateLimiter(), tracer,
		func() application.MessageLimit { return application.MessageLimit{Count: 5, Window: time.Minute} }, nil)
	env.svc = Services{
		Users:      application.NewUserService(store, tracer, func(id int64) bool { return id == adminTelegramID }, nil),
		Ads:        application.NewAdService(store, port.DefaultPriority{}, tracer, limits, nil),
		Search:     search,
		Moderation: application.NewModerationService(store, dispatcher, search, tracer, nil),
		Messages:   messages,
		Feedback:   application.NewFeedbackService(store, tracer, nil),
		Dispatcher: dispatcher,
	}
	env.bot = NewBot(env.api, env.svc, adapter.NewMemorySessionStore(time.Hour), tracer, BotOptions{Workers: 2, Limits: limits})
	return env
}

func (e *botEnv) send(upd tgbotapi.Update) {
	e.bot.HandleUpdate(context.Background(), upd)
}

func (e *botEnv) user(t *testing.T, telegramID int64) *domain.User {
	t.Helper()
	u, err := e.svc.Users.Ensure(context.Background(), domain.Profile{TelegramID: telegramID, FirstName: "Test"})
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	return u
}

func commandUpdate(telegramID int64, text string) tgbotapi.Update {
	cmd := strings.Fields(text)[0]
	upd := textUpdate(telegramID, text)
	upd.Message.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	return upd
}

func textUpdate(telegramID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: 1,
		Message: &tgbotapi.Message{
			MessageID: 1,
			From:      &tgbotapi.User{ID: telegramID, FirstName: "Test"},
			Chat:      &tgbotapi.Chat{ID: telegramID},
			Text:      text,
		},
	}
}

func callbackUpdate(telegramID int64, data string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: 2,
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:      "cb",
			From:    &tgbotapi.User{ID: telegramID, FirstName: "Test"},
			Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: telegramID}},
			Data:    data,
		},
	}
}

func TestStartRegistersUserAndGreets(t *testing.T) {
	env := newBotEnv(t)
	env.send(commandUpdate(1, "/start"))

	reply := env.api.last(t)
	if reply.ChatID != 1 || !strings.Contains(reply.Text, "Hi, Test") {
		t.Fatalf("unexpected greeting: %+v", reply)
	}
	if _, ok := reply.ReplyMarkup.(tgbotapi.ReplyKeyboardMarkup); !ok {
		t.Fatalf("expected the main menu keyboard, got %T", reply.ReplyMarkup)
	}
	u, err := env.store.Users().FindByTelegramID(context.Background(), 1)
	if err != nil {
		t.Fatalf("user was not registered: %v", err)
	}
	if u.Role != domain.RoleUser {
		t.Fatalf("expected role user, got %s", u.Role)
	}
}

func TestCreateAdConversation(t *testing.T) {
	ctx := context.Background()
	env := newBotEnv(t)

	env.send(commandUpdate(1, "/new"))
	for _, step := range []string{"Mountain bike", "Light and fast"} {
		env.send(textUpdate(1, step))
	}

	env.send(textUpdate(1, "cheap"))
	if got := env.api.last(t).Text; !strings.HasPrefix(got, "⚠️") {
		t.Fatalf("expected a validation hint for a bad price, got %q", got)
	}
	for _, step := range []string{"1 500", "Old Town", "@owner"} {
		env.send(textUpdate(1, step))
	}
	if got := env.api.last(t).Text; got != adPrompts[domain.AdStepCategory] {
		t.Fatalf("expected the category prompt, got %q", got)
	}

	env.send(callbackUpdate(1, "new_cat:0"))
	if got := env.api.last(t).Text; !strings.Contains(got, "Mountain bike") || !strings.Contains(got, "1 500 ₽") {
		t.Fatalf("expected a preview of the ad, got %q", got)
	}
	env.send(callbackUpdate(1, "new_publish"))

	owner := env.user(t, 1)
	ads, err := env.svc.Ads.ListMine(ctx, owner.ID, 10, 0)
	if err != nil {
		t.Fatalf("list ads: %v", err)
	}
	if len(ads) != 1 {
		t.Fatalf("expected one ad, got %d", len(ads))
	}
	ad := ads[0]
	if ad.Status != domain.StatusPending || ad.Price != 1500 || ad.Location != "Old Town" || ad.CategoryID != nil {
		t.Fatalf("unexpected ad: %+v", ad)
	}
	if _, err := env.store.Queue().FindByAdID(ctx, ad.ID); err != nil {
		t.Fatalf("expected the ad in the moderation queue: %v", err)
	}

	// 会话已结束，重复点击按钮不会再创建广告
	env.send(callbackUpdate(1, "new_publish"))
	if ads, _ := env.svc.Ads.ListMine(ctx, owner.ID, 10, 0); len(ads) != 1 {
		t.Fatalf("expected still one ad, got %d", len(ads))
	}
	if got := env.api.last(t).Text; !strings.Contains(got, "form has expired") {
		t.Fatalf("expected an expired form hint, got %q", got)
	}
}

func TestCancelDropsDraft(t *testing.T) {
	env := newBotEnv(t)
	env.send(commandUpdate(1, "/new"))
	env.send(textUpdate(1, "Drill"))
	env.send(callbackUpdate(1, "cancel"))

	if got := env.api.last(t).Text; got != textCancelled {
		t.Fatalf("expected cancel confirmation, got %q", got)
	}
	env.send(textUpdate(1, "Some text"))
	if got := env.api.last(t).Text; !strings.Contains(got, "/help") {
		t.Fatalf("expected the idle hint after cancel, got %q", got)
	}
}

func TestModeratorApprovesFromQueue(t *testing.T) {
	ctx := context.Background()
	env := newBotEnv(t)
	owner := env.user(t, 1)
	ad, err := env.svc.Ads.Create(ctx, owner.ID, domain.AdContent{
		Title:       "Bike",
		Description: "City bike",
		Price:       300,
		Location:    "Center",
		ContactInfo: "@owner",
	}, false)
	if err != nil {
		t.Fatalf("create ad: %v", err)
	}

	env.send(commandUpdate(2, "/mod"))
	if got := env.api.last(t).Text; got != textDenied {
		t.Fatalf("expected a regular user to be denied, got %q", got)
	}

	env.send(callbackUpdate(adminTelegramID, "mod_next"))
	next := env.api.last(t)
	if !strings.Contains(next.Text, "Ad #") || next.ChatID != adminTelegramID {
		t.Fatalf("expected the queue head, got %+v", next)
	}

	env.send(callbackUpdate(adminTelegramID, callbackData("mod_approve", ad.ID)))
	if got := env.api.last(t).Text; !strings.Contains(got, "approved") {
		t.Fatalf("expected approval confirmation, got %q", got)
	}
	stored, err := env.store.Ads().FindByID(ctx, ad.ID)
	if err != nil {
		t.Fatalf("find ad: %v", err)
	}
	if stored.Status != domain.StatusApproved {
		t.Fatalf("expected APPROVED, got %s", stored.Status)
	}
	if len(env.deliverer.to(1)) != 1 {
		t.Fatalf("expected the owner to be notified once, got %v", env.deliverer.to(1))
	}

	env.send(callbackUpdate(adminTelegramID, callbackData("mod_approve", ad.ID)))
	if got := env.api.last(t).Text; got != textAlreadyHandled {
		t.Fatalf("expected already handled, got %q", got)
	}
	if env.api.answered < 3 {
		t.Fatalf("expected every callback to be answered, got %d", env.api.answered)
	}
}

func TestUnknownCommandAndDeepLink(t *testing.T) {
	env := newBotEnv(t)
	env.send(commandUpdate(1, "/dance"))
	if got := env.api.last(t).Text; got != textUnknownCommand {
		t.Fatalf("expected unknown command reply, got %q", got)
	}
	env.send(commandUpdate(1, "/ad_404"))
	if got := env.api.last(t).Text; got != textNotFound {
		t.Fatalf("expected not found, got %q", got)
	}
}

func TestSearchThenSave(t *testing.T) {
	ctx := context.Background()
	env := newBotEnv(t)
	env.send(commandUpdate(1, "/search bike max=500"))
	if got := env.api.last(t).Text; !strings.Contains(got, "Nothing found") {
		t.Fatalf("expected empty results, got %q", got)
	}
	env.send(callbackUpdate(1, "q_save"))
	if got := env.api.last(t).Text; !strings.HasPrefix(got, "💾") {
		t.Fatalf("expected saved confirmation, got %q", got)
	}
	u := env.user(t, 1)
	queries, err := env.svc.Search.ListQueries(ctx, u.ID)
	if err != nil {
		t.Fatalf("list queries: %v", err)
	}
	if len(queries) != 1 {
		t.Fatalf("expected one saved query, got %d", len(queries))
	}
	if c := queries[0].Criteria(); c.Keywords != "bike" || c.MaxPrice == nil || *c.MaxPrice != 500 {
		t.Fatalf("unexpected saved queries: %+v", queries)
	}
}

func TestRunProcessesUpdatesUntilCancelled(t *testing.T) {
	env := newBotEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.bot.Run(ctx) }()

	env.api.updates <- commandUpdate(1, "/help")
	env.api.updates <- commandUpdate(2, "/help")
	deadline := time.Now().Add(2 * time.Second)
	for env.api.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	if env.api.count() != 2 {
		t.Fatalf("expected two replies, got %d", env.api.count())
	}
	env.api.mu.Lock()
	stopped := env.api.stopped
	env.api.mu.Unlock()
	if !stopped {
		t.Fatal("expected polling to be stopped")
	}
}

func TestShardIsStable(t *testing.T) {
	for _, id := range []int64{0, 1, 7, -7, 123456789} {
		first := shard(id, 4)
		if first < 0 || first >= 4 {
			t.Fatalf("shard(%d) out of range: %d", id, first)
		}
		if again := shard(id, 4); again != first {
			t.Fatalf("shard(%d) not stable: %d vs %d", id, first, again)
		}
	}
}
