package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"rentbot/internal/pkg/mq"
	"rentbot/internal/service/marketplace/domain"
)

// KafkaDeliverer 实现了 port.Deliverer 接口。
// 它不直接调用 Telegram，而是把投递请求写入 Kafka，由 notification-service 发送。
type KafkaDeliverer struct {
	writer mq.MessageWriter
	now    func() time.Time
}

// NewKafkaDeliverer 创建一个新的投递适配器
func NewKafkaDeliverer(writer mq.MessageWriter) *KafkaDeliverer {
	return &KafkaDeliverer{writer: writer, now: time.Now}
}

func (d *KafkaDeliverer) Deliver(ctx context.Context, chatID int64, text string) error {
	event := domain.DeliveryEvent{
		EventID:   uuid.NewString(),
		ChatID:    chatID,
		Text:      text,
		CreatedAt: d.now().UTC(),
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery event: %w", err)
	}

	// 以 chat id 作为 key，同一用户的通知落在同一分区，保持顺序
	if err := mq.ProduceMessage(ctx, d.writer, []byte(strconv.FormatInt(chatID, 10)), eventBytes); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDelivery, err)
	}
	return nil
}
