package adapter

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rentbot/internal/pkg/logger"
	"rentbot/internal/service/marketplace/domain"
)

// MessageSender 由 *tgbotapi.BotAPI 实现
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramDeliverer 实现了 port.Deliverer 接口，直接调用 Bot API 发送文本
type TelegramDeliverer struct {
	bot MessageSender
}

func NewTelegramDeliverer(bot MessageSender) *TelegramDeliverer {
	return &TelegramDeliverer{bot: bot}
}

func (d *TelegramDeliverer) Deliver(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := d.bot.Send(msg); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Int64("chat_id", chatID).Msg("telegram send failed")
		return fmt.Errorf("%w: %v", domain.ErrDelivery, err)
	}
	return nil
}
