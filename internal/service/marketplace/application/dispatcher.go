package application

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"rentbot/internal/pkg/logger"
	"rentbot/internal/pkg/metrics"
	"rentbot/internal/service/marketplace/domain"
	"rentbot/internal/service/marketplace/domain/port"
)

// DispatcherOptions 中的 Pace 是函数，以便配置热更新后立即生效
type DispatcherOptions struct {
	Pace        func() time.Duration
	UnreadLimit int
	Clock       Clock
}

// Dispatcher 负责通知的落库与投递。
// 记录先于投递写入；投递失败只记日志，不回滚任何数据。
type Dispatcher struct {
	store     domain.Store
	deliverer port.Deliverer
	tracer    trace.Tracer

	pace        func() time.Duration
	unreadLimit int
	now         Clock
}

func NewDispatcher(store domain.Store, deliverer port.Deliverer, tracer trace.Tracer, opts DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		deliverer:   deliverer,
		tracer:      tracer,
		pace:        opts.Pace,
		unreadLimit: opts.UnreadLimit,
		now:         opts.Clock,
	}
	if d.pace == nil {
		d.pace = func() time.Duration { return 0 }
	}
	if d.unreadLimit <= 0 {
		d.unreadLimit = 50
	}
	if d.now == nil {
		d.now = systemClock
	}
	return d
}

// Notify 写入一条通知并尝试投递
func (d *Dispatcher) Notify(ctx context.Context, userID int64, typ domain.NotificationType, title, content string, payload map[string]any) (*domain.Notification, error) {
	ctx, span := d.tracer.Start(ctx, "app.Dispatcher.Notify")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", userID), attribute.String("notification.type", string(typ)))

	n := domain.NewNotification(userID, typ, title, content, payload, d.now())
	if err := d.store.Notifications().Create(ctx, n); err != nil {
		return nil, fail(span, err, "Failed to create notification")
	}
	d.Deliver(ctx, n)
	return n, nil
}

// Record 在调用方的事务中写入通知，提交后由调用方再调用 Deliver
func (d *Dispatcher) Record(ctx context.Context, tx domain.Store, n *domain.Notification) error {
	return tx.Notifications().Create(ctx, n)
}

// Deliver 逐条投递已经提交的通知，批量发送时按 pace 间隔，避免触发 Telegram 的限流
func (d *Dispatcher) Deliver(ctx context.Context, notifications ...*domain.Notification) {
	pace := d.pace()
	for i, n := range notifications {
		metrics.NotificationsCreated.WithLabelValues(string(n.Type)).Inc()
		if i > 0 && pace > 0 {
			select {
			case <-ctx.Done():
				logger.Ctx(ctx).Warn().Int("remaining", len(notifications)-i).Msg("delivery interrupted, notifications stay unread in the inbox")
				return
			case <-time.After(pace):
			}
		}
		d.deliverOne(ctx, n)
	}
}

func (d *Dispatcher) deliverOne(ctx context.Context, n *domain.Notification) {
	user, err := readWithRetry(ctx, func() (*domain.User, error) {
		return d.store.Users().FindByID(ctx, n.UserID)
	})
	if err != nil {
		metrics.NotificationDeliveries.WithLabelValues("failed").Inc()
		logger.Ctx(ctx).Warn().Err(err).Int64("notification_id", n.ID).Int64("user_id", n.UserID).Msg("cannot resolve notification recipient")
		return
	}
	if err := d.deliverer.Deliver(ctx, user.TelegramID, n.Text()); err != nil {
		metrics.NotificationDeliveries.WithLabelValues("failed").Inc()
		logger.Ctx(ctx).Warn().Err(err).Int64("notification_id", n.ID).Int64("user_id", n.UserID).Msg("notification delivery failed")
		return
	}
	metrics.NotificationDeliveries.WithLabelValues("delivered").Inc()
}

func (d *Dispatcher) Unread(ctx context.Context, userID int64) ([]*domain.Notification, error) {
	ctx, span := d.tracer.Start(ctx, "app.Dispatcher.Unread")
	defer span.End()

	list, err := readWithRetry(ctx, func() ([]*domain.Notification, error) {
		return d.store.Notifications().ListUnread(ctx, userID, d.unreadLimit)
	})
	if err != nil {
		return nil, fail(span, err, "Failed to list notifications")
	}
	return list, nil
}

func (d *Dispatcher) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	return readWithRetry(ctx, func() (int64, error) {
		return d.store.Notifications().CountUnread(ctx, userID)
	})
}

// MarkRead 只能标记自己的通知，否则返回 ErrNotFound
func (d *Dispatcher) MarkRead(ctx context.Context, userID, notificationID int64) error {
	ctx, span := d.tracer.Start(ctx, "app.Dispatcher.MarkRead")
	defer span.End()

	if err := d.store.Notifications().MarkRead(ctx, notificationID, userID); err != nil {
		return fail(span, err, "Failed to mark notification read")
	}
	return nil
}

func (d *Dispatcher) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	ctx, span := d.tracer.Start(ctx, "app.Dispatcher.MarkAllRead")
	defer span.End()

	n, err := d.store.Notifications().MarkAllRead(ctx, userID)
	if err != nil {
		return 0, fail(span, err, "Failed to mark notifications read")
	}
	span.SetAttributes(attribute.Int64("notifications.marked", n))
	return n, nil
}

// DeliverDirect 发送一条不落库的消息，只用于还没有对应用户记录的接收者
func (d *Dispatcher) DeliverDirect(ctx context.Context, chatID int64, text string) {
	if err := d.deliverer.Deliver(ctx, chatID, text); err != nil {
		metrics.NotificationDeliveries.WithLabelValues("failed").Inc()
		logger.Ctx(ctx).Warn().Err(err).Int64("chat_id", chatID).Msg("direct delivery failed")
		return
	}
	metrics.NotificationDeliveries.WithLabelValues("delivered").Inc()
}
