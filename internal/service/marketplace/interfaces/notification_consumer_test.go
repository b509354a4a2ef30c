package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace/noop"

	"rentbot/internal/pkg/mq"
	"rentbot/internal/service/marketplace/domain"
)

// scriptedReader 依次返回预置的消息，读完后取消 ctx 结束消费循环
type scriptedReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	fetchErrs []error
	committed []int64
	cancel    context.CancelFunc
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.fetchErrs) > 0 {
		err := r.fetchErrs[0]
		r.fetchErrs = r.fetchErrs[1:]
		return kafka.Message{}, err
	}
	if len(r.msgs) == 0 {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *scriptedReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

type capturingWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *capturingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

type failingDeliverer struct {
	failFor int64
	sent    []int64
}

func (d *failingDeliverer) Deliver(_ context.Context, chatID int64, _ string) error {
	if chatID == d.failFor {
		return domain.ErrDelivery
	}
	d.sent = append(d.sent, chatID)
	return nil
}

func deliveryMessage(t *testing.T, offset int64, chatID int64) kafka.Message {
	t.Helper()
	value, err := json.Marshal(domain.DeliveryEvent{EventID: "e", ChatID: chatID, Text: "hello"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return kafka.Message{Topic: "rentbot-notifications", Partition: 0, Offset: offset, Value: value}
}

func TestNotificationConsumerDeliversAndDeadLetters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &scriptedReader{
		msgs: []kafka.Message{
			deliveryMessage(t, 1, 100),
			{Topic: "rentbot-notifications", Offset: 2, Value: []byte("{not json")},
			deliveryMessage(t, 3, 666),
		},
		cancel: cancel,
	}
	deliverer := &failingDeliverer{failFor: 666}
	dlt := &capturingWriter{}
	c := NewNotificationConsumer(reader, deliverer, dlt, noop.NewTracerProvider().Tracer("test"), "rentbot-notifications")

	if err := c.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(deliverer.sent) != 1 || deliverer.sent[0] != 100 {
		t.Fatalf("expected one delivery to chat 100, got %v", deliverer.sent)
	}
	if len(reader.committed) != 3 {
		t.Fatalf("every message must be committed, got %v", reader.committed)
	}
	if len(dlt.msgs) != 2 {
		t.Fatalf("expected two dead letters, got %d", len(dlt.msgs))
	}
	headers := mq.KafkaHeaderCarrier(dlt.msgs[1].Headers)
	if headers.Get(mq.HeaderOriginalOffset) != "3" || headers.Get(mq.HeaderOriginalTopic) != "rentbot-notifications" {
		t.Fatalf("unexpected dead letter headers: %v", dlt.msgs[1].Headers)
	}
	if headers.Get(mq.HeaderExceptionMessage) == "" {
		t.Fatal("expected the failure cause in the dead letter")
	}
}

func TestNotificationConsumerRetriesFetchErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &scriptedReader{
		fetchErrs: []error{errors.New("broker not available")},
		msgs:      []kafka.Message{deliveryMessage(t, 7, 100)},
		cancel:    cancel,
	}
	deliverer := &failingDeliverer{}
	c := NewNotificationConsumer(reader, deliverer, nil, noop.NewTracerProvider().Tracer("test"), "rentbot-notifications")

	if err := c.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(deliverer.sent) != 1 || len(reader.committed) != 1 {
		t.Fatalf("expected the message to be delivered after the retry, sent=%v committed=%v", deliverer.sent, reader.committed)
	}
}

func TestDeadLetterLoggerCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &scriptedReader{
		msgs:   []kafka.Message{mq.DeadLetter(deliveryMessage(t, 5, 100), errors.New("blocked by user"))},
		cancel: cancel,
	}
	if err := NewDeadLetterLogger(reader, "rentbot-notifications-dlt").Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(reader.committed) != 1 {
		t.Fatalf("expected the dead letter to be committed, got %v", reader.committed)
	}
}

type timedDeliverer struct {
	at []time.Time
}

func (d *timedDeliverer) Deliver(context.Context, int64, string) error {
	d.at = append(d.at, time.Now())
	return nil
}

func TestNotificationConsumerPacesDeliveries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &scriptedReader{
		msgs:   []kafka.Message{deliveryMessage(t, 1, 100), deliveryMessage(t, 2, 200), deliveryMessage(t, 3, 300)},
		cancel: cancel,
	}
	deliverer := &timedDeliverer{}
	pace := 40 * time.Millisecond
	c := NewNotificationConsumer(reader, deliverer, nil, noop.NewTracerProvider().Tracer("test"), "rentbot-notifications").
		WithPace(func() time.Duration { return pace })

	if err := c.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(deliverer.at) != 3 {
		t.Fatalf("expected three deliveries, got %d", len(deliverer.at))
	}
	for i := 1; i < len(deliverer.at); i++ {
		if gap := deliverer.at[i].Sub(deliverer.at[i-1]); gap < pace {
			t.Fatalf("delivery %d followed the previous one after %v, want at least %v", i+1, gap, pace)
		}
	}
}
