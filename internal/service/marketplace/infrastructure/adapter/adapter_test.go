package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/segmentio/kafka-go"

	"rentbot/internal/service/marketplace/domain"
)

type fakeSender struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.err
}

func TestTelegramDelivererSendsPlainText(t *testing.T) {
	sender := &fakeSender{}
	d := NewTelegramDeliverer(sender)

	if err := d.Deliver(context.Background(), 42, "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(sender.sent))
	}
	msg, ok := sender.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("unexpected chattable %T", sender.sent[0])
	}
	if msg.ChatID != 42 || msg.Text != "hello" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestTelegramDelivererWrapsFailures(t *testing.T) {
	d := NewTelegramDeliverer(&fakeSender{err: errors.New("Forbidden: bot was blocked by the user")})
	if err := d.Deliver(context.Background(), 42, "hello"); !errors.Is(err, domain.ErrDelivery) {
		t.Fatalf("expected ErrDelivery, got %v", err)
	}
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func TestKafkaDelivererPublishesEvent(t *testing.T) {
	w := &fakeWriter{}
	d := NewKafkaDeliverer(w)
	d.now = func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) }

	if err := d.Deliver(context.Background(), 1001, "New ad"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected one kafka message, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "1001" {
		t.Fatalf("expected chat id key, got %q", w.msgs[0].Key)
	}
	var event domain.DeliveryEvent
	if err := json.Unmarshal(w.msgs[0].Value, &event); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.ChatID != 1001 || event.Text != "New ad" || event.EventID == "" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestKafkaDelivererWrapsWriteErrors(t *testing.T) {
	d := NewKafkaDeliverer(&fakeWriter{err: errors.New("leader not available")})
	if err := d.Deliver(context.Background(), 1, "x"); !errors.Is(err, domain.ErrDelivery) {
		t.Fatalf("expected ErrDelivery, got %v", err)
	}
}

func TestMemoryRateLimiterFixedWindow(t *testing.T) {
	l := NewMemoryRateLimiter()
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow(ctx, "msg:1", 3, time.Minute)
		if !ok {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}
	if ok, _ := l.Allow(ctx, "msg:1", 3, time.Minute); ok {
		t.Fatal("fourth call in the window should be throttled")
	}
	if ok, _ := l.Allow(ctx, "msg:2", 3, time.Minute); !ok {
		t.Fatal("other keys have their own window")
	}

	now = now.Add(time.Minute)
	if ok, _ := l.Allow(ctx, "msg:1", 3, time.Minute); !ok {
		t.Fatal("new window should reset the counter")
	}
}

func TestMemorySessionStoreExpires(t *testing.T) {
	s := NewMemorySessionStore(time.Hour)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	if err := s.Save(ctx, 7, domain.NewAdSession(now)); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load(ctx, 7)
	if err != nil || got == nil || got.Flow != domain.FlowCreateAd {
		t.Fatalf("expected stored session, got %+v, %v", got, err)
	}

	now = now.Add(2 * time.Hour)
	if got, _ := s.Load(ctx, 7); got != nil {
		t.Fatalf("expected expired session, got %+v", got)
	}
}
