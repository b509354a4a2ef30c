package interfaces

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rentbot/internal/pkg/logger"
	"rentbot/internal/pkg/metrics"
	"rentbot/internal/service/marketplace/application"
	"rentbot/internal/service/marketplace/domain"
	"rentbot/internal/service/marketplace/domain/port"
)

// updateTimeout 单条更新的处理上限，关停时正在处理的更新也会在此时间内完成
const updateTimeout = 30 * time.Second

// BotAPI 是 *tgbotapi.BotAPI 中被用到的部分
type BotAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Services 聚合了聊天入口需要的全部应用服务
type Services struct {
	Users      *application.UserService
	Ads        *application.AdService
	Search     *application.SearchService
	Moderation *application.ModerationService
	Messages   *application.MessageService
	Feedback   *application.FeedbackService
	Dispatcher *application.Dispatcher
}

type BotOptions struct {
	// Workers 并行处理更新的 goroutine 数
	Workers     int
	PollTimeout int
	// Limits 用于在对话中提前校验价格
	Limits func() application.AdLimits
	Clock  application.Clock
}

// Bot 是 Telegram 的驱动适配器：长轮询拉取更新，路由到命令、回调和对话流程。
// 同一用户的更新总是落在同一个 worker 上，因此按到达顺序串行处理。
type Bot struct {
	api      BotAPI
	svc      Services
	sessions port.SessionStore
	tracer   trace.Tracer
	opts     BotOptions
	now      application.Clock
}

func NewBot(api BotAPI, svc Services, sessions port.SessionStore, tracer trace.Tracer, opts BotOptions) *Bot {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 60
	}
	if opts.Limits == nil {
		opts.Limits = func() application.AdLimits { return application.AdLimits{} }
	}
	now := opts.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Bot{api: api, svc: svc, sessions: sessions, tracer: tracer, opts: opts, now: now}
}

// Run 一直运行到 ctx 取消。取消后停止拉取，并等待已经分发的更新处理完毕。
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.opts.PollTimeout
	updates := b.api.GetUpdatesChan(u)

	queues := make([]chan tgbotapi.Update, b.opts.Workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan tgbotapi.Update, 64)
		wg.Add(1)
		go func(ch <-chan tgbotapi.Update) {
			defer wg.Done()
			for upd := range ch {
				uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), updateTimeout)
				b.HandleUpdate(uctx, upd)
				cancel()
			}
		}(queues[i])
	}
	logger.L().Info().Int("workers", b.opts.Workers).Msg("✅ Telegram bot started polling for updates.")

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case upd, ok := <-updates:
			if !ok {
				break loop
			}
			from, _ := sender(upd)
			if from == nil {
				continue
			}
			queues[shard(from.ID, len(queues))] <- upd
		}
	}

	b.api.StopReceivingUpdates()
	for _, q := range queues {
		close(q)
	}
	wg.Wait()
	logger.L().Info().Msg("🛑 Telegram bot stopped.")
	return nil
}

func shard(userID int64, n int) int {
	if userID < 0 {
		userID = -userID
	}
	return int(userID % int64(n))
}

// sender 返回更新的发送者和应答的会话 ID，无法应答的更新返回 nil
func sender(upd tgbotapi.Update) (*tgbotapi.User, int64) {
	switch {
	case upd.CallbackQuery != nil && upd.CallbackQuery.From != nil:
		chatID := upd.CallbackQuery.From.ID
		if upd.CallbackQuery.Message != nil && upd.CallbackQuery.Message.Chat != nil {
			chatID = upd.CallbackQuery.Message.Chat.ID
		}
		return upd.CallbackQuery.From, chatID
	case upd.Message != nil && upd.Message.From != nil && upd.Message.Chat != nil:
		return upd.Message.From, upd.Message.Chat.ID
	}
	return nil, 0
}

func updateKind(upd tgbotapi.Update) string {
	switch {
	case upd.CallbackQuery != nil:
		return "callback"
	case upd.Message != nil && upd.Message.IsCommand():
		return "command"
	case upd.Message != nil:
		return "message"
	}
	return "other"
}

// request 是一次更新处理中的调用方信息
type request struct {
	user   *domain.User
	chatID int64
}

// HandleUpdate 处理单条更新。任何错误或 panic 都只影响这一条更新。
func (b *Bot) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	from, chatID := sender(upd)
	if from == nil {
		return
	}
	kind := updateKind(upd)
	ctx, span := b.tracer.Start(ctx, "bot.HandleUpdate",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("update.kind", kind),
			attribute.Int("update.id", upd.UpdateID),
			attribute.Int64("telegram.user_id", from.ID),
			attribute.String("update.correlation_id", uuid.NewString()),
		))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			metrics.UpdatesHandled.WithLabelValues(kind, "panic").Inc()
			span.SetStatus(codes.Error, "panic")
			logger.Ctx(ctx).Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Int("update_id", upd.UpdateID).
				Int64("telegram_id", from.ID).
				Msg("update handler panicked")
			b.reply(ctx, chatID, textGenericError, nil)
		}
	}()

	if upd.CallbackQuery != nil {
		// 先应答，去掉按钮上的加载状态
		if _, err := b.api.Request(tgbotapi.NewCallback(upd.CallbackQuery.ID, "")); err != nil {
			logger.Ctx(ctx).Debug().Err(err).Msg("failed to answer callback")
		}
	}

	user, err := b.svc.Users.Ensure(ctx, domain.Profile{
		TelegramID: from.ID,
		Username:   from.UserName,
		FirstName:  from.FirstName,
		LastName:   from.LastName,
	})
	if err == nil {
		rc := &request{user: user, chatID: chatID}
		switch {
		case upd.CallbackQuery != nil:
			err = b.handleCallback(ctx, rc, upd.CallbackQuery.Data)
		case upd.Message != nil:
			err = b.handleMessage(ctx, rc, upd.Message)
		}
	}

	result := "ok"
	if err != nil {
		result = b.renderError(ctx, span, chatID, upd.UpdateID, from.ID, err)
	}
	metrics.UpdatesHandled.WithLabelValues(kind, result).Inc()
}

// reply 发送一条回复。发送失败只记录日志，用户侧无法再得到任何提示。
func (b *Bot) reply(ctx context.Context, chatID int64, text string, markup any) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := b.api.Send(msg); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Int64("chat_id", chatID).Msg("failed to send reply")
	}
}
