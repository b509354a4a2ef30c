package application

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"rentbot/internal/pkg/logger"
	"rentbot/internal/service/marketplace/domain"
	"rentbot/internal/service/marketplace/domain/port"
)

// MessageLimit 私信频率限制，来自配置
type MessageLimit struct {
	Count  int
	Window time.Duration
}

// MessageService 用户之间关于广告的私信
type MessageService struct {
	store      domain.Store
	dispatcher *Dispatcher
	limiter    port.RateLimiter
	tracer     trace.Tracer
	limit      func() MessageLimit
	now        Clock
}

func NewMessageService(store domain.Store, dispatcher *Dispatcher, limiter port.RateLimiter, tracer trace.Tracer, limit func() MessageLimit, clock Clock) *MessageService {
	if clock == nil {
		clock = systemClock
	}
	return &MessageService{store: store, dispatcher: dispatcher, limiter: limiter, tracer: tracer, limit: limit, now: clock}
}

// Send 给广告的车主发私信，并生成一条 new_message 通知
func (s *MessageService) Send(ctx context.Context, senderID, adID int64, content string) (*domain.Message, error) {
	ctx, span := s.tracer.Start(ctx, "app.MessageService.Send")
	defer span.End()
	span.SetAttributes(attribute.Int64("sender.id", senderID), attribute.Int64("ad.id", adID))

	sender, err := loadActiveUser(ctx, s.store, senderID)
	if err != nil {
		return nil, fail(span, err, "Failed to load sender")
	}
	ad, err := readWithRetry(ctx, func() (*domain.Ad, error) {
		return s.store.Ads().FindByID(ctx, adID)
	})
	if err != nil {
		return nil, fail(span, err, "Failed to load ad")
	}
	if !ad.Status.IsVisible() && ad.OwnerID != senderID {
		return nil, fail(span, domain.ErrNotFound, "Ad not visible")
	}
	if ad.OwnerID == senderID {
		return nil, fail(span, domain.NewValidationError("receiver", "you cannot message yourself about your own ad"), "Own ad")
	}
	msg, err := domain.NewMessage(senderID, ad.OwnerID, &ad.ID, content, s.now())
	if err != nil {
		return nil, fail(span, err, "Invalid message")
	}

	if lim := s.limit(); lim.Count > 0 {
		ok, err := s.limiter.Allow(ctx, "message:"+strconv.FormatInt(senderID, 10), lim.Count, lim.Window)
		if err != nil {
			// 限流器不可用时放行，私信本身仍然受存储约束
			logger.Ctx(ctx).Warn().Err(err).Msg("rate limiter unavailable, allowing message")
		} else if !ok {
			return nil, fail(span, domain.NewValidationError("rate", "you are sending messages too fast, please wait a minute"), "Rate limited")
		}
	}

	var note *domain.Notification
	err = s.store.Atomic(ctx, func(tx domain.Store) error {
		if err := tx.Messages().Create(ctx, msg); err != nil {
			return err
		}
		note = domain.NewNotification(ad.OwnerID, domain.NotificationNewMessage, "New message",
			fmt.Sprintf("%s wrote about \"%s\":\n\n%s\n\nOpen your inbox with /inbox", sender.DisplayName(), ad.Title, msg.Content),
			map[string]any{"message_id": msg.ID, "sender_id": senderID, "ad_id": ad.ID}, msg.CreatedAt)
		return s.dispatcher.Record(ctx, tx, note)
	})
	if err != nil {
		return nil, fail(span, err, "Failed to send message")
	}
	s.dispatcher.Deliver(ctx, note)
	logger.Ctx(ctx).Info().Int64("message_id", msg.ID).Int64("ad_id", ad.ID).Msg("message sent")
	return msg, nil
}

// Inbox 包含收到和发出的私信，按时间倒序
func (s *MessageService) Inbox(ctx context.Context, userID int64, limit int) ([]*domain.Message, error) {
	if limit <= 0 || limit > domain.MaxSearchResults {
		limit = domain.MaxSearchResults
	}
	return readWithRetry(ctx, func() ([]*domain.Message, error) {
		return s.store.Messages().ListForUser(ctx, userID, limit)
	})
}

// MarkRead 只有收件人可以标记
func (s *MessageService) MarkRead(ctx context.Context, userID, messageID int64) error {
	return s.store.Messages().MarkRead(ctx, messageID, userID)
}

func (s *MessageService) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	return readWithRetry(ctx, func() (int64, error) {
		return s.store.Messages().CountUnread(ctx, userID)
	})
}
