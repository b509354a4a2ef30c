package interfaces

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rentbot/internal/pkg/logger"
	"rentbot/internal/pkg/metrics"
	"rentbot/internal/pkg/mq"
	"rentbot/internal/service/marketplace/domain"
	"rentbot/internal/service/marketplace/domain/port"
)

// retryDelay 拉取失败后的等待时间，避免快速失败循环
const retryDelay = time.Second

// MessageReader 由 *kafka.Reader 实现
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NotificationConsumer 是一个驱动适配器，消费 bot 发布的投递请求并发送到 Telegram。
// 投递失败的消息转入死信主题后照常提交 offset。
type NotificationConsumer struct {
	reader    MessageReader
	deliverer port.Deliverer
	dlt       mq.MessageWriter
	tracer    trace.Tracer
	topic     string

	pace     func() time.Duration
	lastSend time.Time
}

// NewNotificationConsumer dlt 为 nil 时失败的消息只记录日志
func NewNotificationConsumer(reader MessageReader, deliverer port.Deliverer, dlt mq.MessageWriter, tracer trace.Tracer, topic string) *NotificationConsumer {
	return &NotificationConsumer{reader: reader, deliverer: deliverer, dlt: dlt, tracer: tracer, topic: topic}
}

// WithPace 设置两次发送之间的最小间隔，与进程内投递使用同一个配置项
func (c *NotificationConsumer) WithPace(pace func() time.Duration) *NotificationConsumer {
	c.pace = pace
	return c
}

// Run 一直消费到 ctx 取消
func (c *NotificationConsumer) Run(ctx context.Context) error {
	logger.L().Info().Str("topic", c.topic).Msg("✅ Notification consumer started.")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.L().Info().Str("topic", c.topic).Msg("🛑 Notification consumer shutting down.")
				return nil
			}
			logger.L().Error().Err(err).Str("topic", c.topic).Msg("could not fetch message, retrying")
			select {
			case <-ctx.Done():
			case <-time.After(retryDelay):
			}
			continue
		}

		c.process(mq.ExtractTraceContext(ctx, msg.Headers), msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			logger.L().Error().Err(err).Int64("offset", msg.Offset).Msg("failed to commit message")
		}
	}
}

func (c *NotificationConsumer) process(ctx context.Context, msg kafka.Message) {
	ctx, span := c.tracer.Start(ctx, "notification.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.Int("messaging.kafka.partition", msg.Partition),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		))
	defer span.End()

	var event domain.DeliveryEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		metrics.NotificationDeliveries.WithLabelValues("malformed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed event")
		c.deadLetter(ctx, msg, errors.Wrap(err, "unmarshal delivery event"))
		return
	}
	span.SetAttributes(attribute.String("event.id", event.EventID), attribute.Int64("telegram.chat_id", event.ChatID))

	c.waitTurn(ctx)
	err := c.deliverer.Deliver(ctx, event.ChatID, event.Text)
	c.lastSend = time.Now()
	if err != nil {
		metrics.NotificationDeliveries.WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		c.deadLetter(ctx, msg, err)
		return
	}
	metrics.NotificationDeliveries.WithLabelValues("delivered").Inc()
}

func (c *NotificationConsumer) waitTurn(ctx context.Context) {
	if c.pace == nil || c.lastSend.IsZero() {
		return
	}
	wait := c.pace() - time.Since(c.lastSend)
	if wait <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}

func (c *NotificationConsumer) deadLetter(ctx context.Context, msg kafka.Message, cause error) {
	logger.Ctx(ctx).Warn().Err(cause).Int64("offset", msg.Offset).Msg("notification moved to dead letter topic")
	if c.dlt == nil {
		return
	}
	if err := c.dlt.WriteMessages(ctx, mq.DeadLetter(msg, cause)); err != nil {
		logger.Ctx(ctx).Error().Err(err).Int64("offset", msg.Offset).Msg("failed to write dead letter")
	}
}

// DeadLetterLogger 监听死信主题并记录日志
type DeadLetterLogger struct {
	reader MessageReader
	topic  string
}

func NewDeadLetterLogger(reader MessageReader, topic string) *DeadLetterLogger {
	return &DeadLetterLogger{reader: reader, topic: topic}
}

func (d *DeadLetterLogger) Run(ctx context.Context) error {
	logger.L().Info().Str("topic", d.topic).Msg("✅ DLT consumer started.")
	for {
		msg, err := d.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.L().Info().Str("topic", d.topic).Msg("🛑 DLT consumer shutting down.")
				return nil
			}
			select {
			case <-ctx.Done():
			case <-time.After(retryDelay):
			}
			continue
		}
		logDeadLetter(mq.ExtractTraceContext(ctx, msg.Headers), msg)
		// 死信记录日志即视为处理完成
		if err := d.reader.CommitMessages(ctx, msg); err != nil {
			logger.L().Error().Err(err).Int64("offset", msg.Offset).Msg("failed to commit dead letter")
		}
	}
}

func logDeadLetter(ctx context.Context, msg kafka.Message) {
	headers := mq.KafkaHeaderCarrier(msg.Headers)
	logger.Ctx(ctx).Error().
		Str("original_topic", headers.Get(mq.HeaderOriginalTopic)).
		Str("original_partition", headers.Get(mq.HeaderOriginalPartition)).
		Str("original_offset", headers.Get(mq.HeaderOriginalOffset)).
		Str("exception", headers.Get(mq.HeaderExceptionMessage)).
		Str("key", string(msg.Key)).
		Str("value", string(msg.Value)).
		Msg("dead letter received")
}
