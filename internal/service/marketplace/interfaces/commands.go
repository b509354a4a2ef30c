package interfaces

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rentbot/internal/service/marketplace/domain"
)

const listLimit = 10

func (b *Bot) handleMessage(ctx context.Context, rc *request, msg *tgbotapi.Message) error {
	if msg.IsCommand() {
		return b.handleCommand(ctx, rc, strings.ToLower(msg.Command()), strings.TrimSpace(msg.CommandArguments()))
	}
	text := strings.TrimSpace(msg.Text)
	if cmd, ok := menuButtons[text]; ok {
		return b.handleCommand(ctx, rc, cmd, "")
	}
	if text == "" {
		b.reply(ctx, rc.chatID, "Please send a text message.", nil)
		return nil
	}
	session, err := b.sessions.Load(ctx, rc.user.ID)
	if err != nil {
		return err
	}
	if session == nil || session.Flow == domain.FlowNone {
		b.reply(ctx, rc.chatID, "Send /help to see what I can do.", mainMenu(rc.user))
		return nil
	}
	return b.handleInput(ctx, rc, session, text)
}

func (b *Bot) handleCommand(ctx context.Context, rc *request, cmd, args string) error {
	switch cmd {
	case "start":
		b.reply(ctx, rc.chatID, fmt.Sprintf("👋 Hi, %s!\n\n%s", rc.user.DisplayName(), textHelp), mainMenu(rc.user))
		return nil
	case "help":
		b.reply(ctx, rc.chatID, textHelp, mainMenu(rc.user))
		return nil
	case "cancel":
		if err := b.sessions.Clear(ctx, rc.user.ID); err != nil {
			return err
		}
		b.reply(ctx, rc.chatID, textCancelled, mainMenu(rc.user))
		return nil
	case "new":
		return b.startAdFlow(ctx, rc)
	case "my":
		return b.showMyAds(ctx, rc)
	case "search":
		return b.startSearch(ctx, rc, args)
	case "queries":
		return b.showQueries(ctx, rc)
	case "notifications":
		return b.showNotifications(ctx, rc)
	case "inbox":
		return b.showInbox(ctx, rc)
	case "feedback":
		return b.startFeedbackFlow(ctx, rc)
	case "mod":
		return b.showModeration(ctx, rc)
	case "stats":
		return b.showStats(ctx, rc)
	case "role":
		return b.setRole(ctx, rc, args)
	case "ban", "unban":
		return b.setBanned(ctx, rc, args, cmd == "ban")
	}
	if id, ok := strings.CutPrefix(cmd, "ad_"); ok {
		adID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return domain.ErrNotFound
		}
		return b.showAd(ctx, rc, adID)
	}
	b.reply(ctx, rc.chatID, textUnknownCommand, nil)
	return nil
}

func (b *Bot) showMyAds(ctx context.Context, rc *request) error {
	ads, err := b.svc.Ads.ListMine(ctx, rc.user.ID, listLimit, 0)
	if err != nil {
		return err
	}
	if len(ads) == 0 {
		b.reply(ctx, rc.chatID, "You have no ads yet. Publish one with /new.", nil)
		return nil
	}
	for _, ad := range ads {
		b.reply(ctx, rc.chatID, formatOwnAd(ad), ownAdKeyboard(ad))
	}
	return nil
}

func (b *Bot) showAd(ctx context.Context, rc *request, adID int64) error {
	ad, err := b.svc.Ads.Get(ctx, rc.user.ID, adID)
	if err != nil {
		return err
	}
	if ad.OwnerID == rc.user.ID {
		b.reply(ctx, rc.chatID, formatOwnAd(ad), ownAdKeyboard(ad))
		return nil
	}
	text := formatAd(ad)
	if sum, err := b.svc.Feedback.AverageRating(ctx, ad.ID); err == nil && sum.Count > 0 {
		text += fmt.Sprintf("\n\n⭐ %.1f (%d reviews)", sum.Average, sum.Count)
	}
	var markup any
	if ad.Status.IsVisible() {
		markup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			button("✉️ Message owner", callbackData("msg", ad.ID)),
			button("⭐ Rate", callbackData("fb_ad", ad.ID)),
		))
	}
	b.reply(ctx, rc.chatID, text, markup)
	return nil
}

// startSearch 带参数时直接搜索，否则等待用户输入条件
func (b *Bot) startSearch(ctx context.Context, rc *request, args string) error {
	if args == "" {
		session := domain.NewInputSession(domain.FlowSearch, domain.PendingInput{}, b.now())
		if err := b.sessions.Save(ctx, rc.user.ID, session); err != nil {
			return err
		}
		b.reply(ctx, rc.chatID, "🔍 What are you looking for?\nExample: bike location=Center min=100 max=500", tgbotapi.NewInlineKeyboardMarkup(cancelRow()))
		return nil
	}
	return b.runSearch(ctx, rc, args)
}

func (b *Bot) runSearch(ctx context.Context, rc *request, input string) error {
	categories, err := b.svc.Ads.Categories(ctx)
	if err != nil {
		return err
	}
	criteria, err := parseCriteria(input, categories)
	if err != nil {
		return err
	}
	ads, err := b.svc.Search.Search(ctx, domain.SearchFilter{Criteria: criteria, Limit: listLimit})
	if err != nil {
		return err
	}
	// 记住条件，供“保存搜索”按钮使用
	session := &domain.Session{Flow: domain.FlowNone, Criteria: &criteria, UpdatedAt: b.now()}
	if err := b.sessions.Save(ctx, rc.user.ID, session); err != nil {
		return err
	}
	b.reply(ctx, rc.chatID, formatSearchResults(ads), tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(button("💾 Save this search", "q_save")),
	))
	return nil
}

func (b *Bot) showQueries(ctx context.Context, rc *request) error {
	queries, err := b.svc.Search.ListQueries(ctx, rc.user.ID)
	if err != nil {
		return err
	}
	if len(queries) == 0 {
		b.reply(ctx, rc.chatID, "You have no saved searches. Search with /search and press \"Save this search\".", nil)
		return nil
	}
	for _, q := range queries {
		b.reply(ctx, rc.chatID, formatQuery(q), queryKeyboard(q))
	}
	return nil
}

func formatQuery(q *domain.SearchQuery) string {
	state := "🔔 active"
	if !q.IsActive {
		state = "🔕 paused"
	}
	return fmt.Sprintf("#%d %s\n%s", q.ID, state, describeCriteria(q.Criteria()))
}

func queryKeyboard(q *domain.SearchQuery) tgbotapi.InlineKeyboardMarkup {
	toggle := "🔕 Pause"
	if !q.IsActive {
		toggle = "🔔 Resume"
	}
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		button(toggle, callbackData("q_toggle", q.ID)),
		button("🗑 Delete", callbackData("q_delete", q.ID)),
	))
}

func (b *Bot) showNotifications(ctx context.Context, rc *request) error {
	list, err := b.svc.Dispatcher.Unread(ctx, rc.user.ID)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		b.reply(ctx, rc.chatID, "📭 No new notifications.", nil)
		return nil
	}
	shown := list
	if len(shown) > listLimit {
		shown = shown[:listLimit]
	}
	for _, n := range shown {
		b.reply(ctx, rc.chatID, n.Text(), tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			button("✅ Mark as read", callbackData("n_read", n.ID)),
		)))
	}
	b.reply(ctx, rc.chatID, fmt.Sprintf("🔔 %d unread notifications.", len(list)), tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(button("✅ Mark all as read", "n_read_all")),
	))
	return nil
}

// showInbox 展示私信，收到的未读私信展示后即标记为已读
func (b *Bot) showInbox(ctx context.Context, rc *request) error {
	msgs, err := b.svc.Messages.Inbox(ctx, rc.user.ID, listLimit)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		b.reply(ctx, rc.chatID, "📭 Your inbox is empty.", nil)
		return nil
	}
	for _, m := range msgs {
		var text string
		var markup any
		if m.SenderID == rc.user.ID {
			text = "➡️ You wrote:\n" + m.Content
			if m.AdID != nil {
				markup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
					button("✉️ Write again", callbackData("msg", *m.AdID)),
				))
			}
		} else {
			from := "a user"
			if u, err := b.svc.Users.Get(ctx, m.SenderID); err == nil {
				from = u.DisplayName()
			}
			mark := ""
			if !m.IsRead {
				mark = "🆕 "
			}
			text = fmt.Sprintf("%s⬅️ %s wrote:\n%s", mark, from, m.Content)
		}
		if m.AdID != nil {
			text += fmt.Sprintf("\n\nAd: /ad_%d", *m.AdID)
		}
		b.reply(ctx, rc.chatID, text, markup)
		if m.ReceiverID == rc.user.ID && !m.IsRead {
			if err := b.svc.Messages.MarkRead(ctx, rc.user.ID, m.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Bot) showModeration(ctx context.Context, rc *request) error {
	pending, err := b.svc.Moderation.PendingCount(ctx, rc.user.ID)
	if err != nil {
		return err
	}
	b.reply(ctx, rc.chatID, fmt.Sprintf("🛡 Moderation\n\nWaiting for review: %d", pending), tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(button("▶️ Next ad", "mod_next")),
	))
	return nil
}

func (b *Bot) showStats(ctx context.Context, rc *request) error {
	st, err := b.svc.Moderation.Stats(ctx, rc.user.ID)
	if err != nil {
		return err
	}
	var sb strings.Builder
	sb.WriteString("📊 Ads by status\n")
	for _, s := range domain.AllStatuses {
		fmt.Fprintf(&sb, "%s: %d\n", s.Label(), st.ByStatus[s])
	}
	fmt.Fprintf(&sb, "\nWaiting for review: %d", st.Pending)
	if st.OldestPending != nil {
		fmt.Fprintf(&sb, "\nOldest in queue since: %s", st.OldestPending.Format("2006-01-02 15:04"))
	}
	if sum, err := b.svc.Feedback.BotStats(ctx); err == nil && sum.Count > 0 {
		fmt.Fprintf(&sb, "\n\n🤖 Bot rating: %.1f (%d reviews)", sum.Average, sum.Count)
	}
	b.reply(ctx, rc.chatID, sb.String(), nil)
	return nil
}

func (b *Bot) setRole(ctx context.Context, rc *request, args string) error {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		return domain.NewValidationError("args", "usage: /role <telegram_id> <user|moderator|admin>")
	}
	target, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return domain.NewValidationError("telegram_id", "telegram id must be a number")
	}
	role := domain.Role(strings.ToLower(fields[1]))
	if err := b.svc.Users.SetRole(ctx, rc.user.ID, target, role); err != nil {
		return err
	}
	b.reply(ctx, rc.chatID, fmt.Sprintf("✅ User %d is now %s.", target, role), nil)
	return nil
}

func (b *Bot) setBanned(ctx context.Context, rc *request, args string, banned bool) error {
	target, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil {
		return domain.NewValidationError("telegram_id", "usage: /ban <telegram_id>")
	}
	if err := b.svc.Users.SetBanned(ctx, rc.user.ID, target, banned); err != nil {
		return err
	}
	state := "unbanned"
	if banned {
		state = "banned"
	}
	b.reply(ctx, rc.chatID, fmt.Sprintf("✅ User %d %s.", target, state), nil)
	return nil
}
