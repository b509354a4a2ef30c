package domain

import "time"

// DeliveryEvent 是通知投递请求在 Kafka 上的载体，
// 由 bot 进程发布，notification-service 消费后发送到 Telegram。
type DeliveryEvent struct {
	EventID   string    `json:"eventId"`
	ChatID    int64     `json:"chatId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}
