package interfaces

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rentbot/internal/pkg/logger"
	"rentbot/internal/service/marketplace/domain"
)

const (
	textGenericError    = "😔 Something went wrong. Please try again later."
	textNotFound        = "🔍 Not found or no longer available."
	textDenied          = "⛔ You don't have permission to do that."
	textAlreadyHandled  = "ℹ️ This ad has already been handled by another moderator."
	textDuplicate       = "ℹ️ You have already done that."
	textConflict        = "ℹ️ The ad has changed in the meantime. Please open it again."
	textTemporary       = "⏳ The service is temporarily unavailable. Please try again in a minute."
	textCancelled       = "❌ Cancelled."
	textExpiredForm     = "this form has expired, please start again"
	textUnknownCommand  = "🤔 Unknown command. Send /help to see what I can do."
	textChooseWithInput = "Please use the buttons above, or /cancel."
)

const textHelp = `🏠 Rental board bot

/new - publish an ad
/my - your ads
/search [keywords] [location=...] [min=...] [max=...] [category=...] - find ads
/queries - saved searches
/notifications - unread notifications
/inbox - your messages
/feedback - rate an ad or the bot
/cancel - stop the current action

Moderators: /mod, /stats
Admins: /role <telegram_id> <user|moderator|admin>, /ban <telegram_id>, /unban <telegram_id>`

// 主菜单按钮对应的命令
var menuButtons = map[string]string{
	"➕ New ad":        "new",
	"📋 My ads":        "my",
	"🔍 Search":        "search",
	"🔔 Notifications": "notifications",
	"💬 Inbox":         "inbox",
	"⭐ Feedback":      "feedback",
	"🛡 Moderation":    "mod",
	"❓ Help":          "help",
}

func mainMenu(user *domain.User) tgbotapi.ReplyKeyboardMarkup {
	rows := [][]tgbotapi.KeyboardButton{
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton("➕ New ad"), tgbotapi.NewKeyboardButton("📋 My ads")),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton("🔍 Search"), tgbotapi.NewKeyboardButton("🔔 Notifications")),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton("💬 Inbox"), tgbotapi.NewKeyboardButton("⭐ Feedback")),
	}
	last := tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton("❓ Help"))
	if user.CanModerate() {
		last = append(last, tgbotapi.NewKeyboardButton("🛡 Moderation"))
	}
	rows = append(rows, last)
	kb := tgbotapi.NewReplyKeyboard(rows...)
	kb.ResizeKeyboard = true
	return kb
}

// renderError 把错误转换成固定的用户提示，返回用于指标的结果标签。
// 内部错误只写日志，不会原样展示给用户。
func (b *Bot) renderError(ctx context.Context, span trace.Span, chatID int64, updateID int, telegramID int64, err error) string {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		b.reply(ctx, chatID, "⚠️ "+capitalize(verr.Message)+".", nil)
		return "invalid"
	case errors.Is(err, domain.ErrNotFound):
		b.reply(ctx, chatID, textNotFound, nil)
		return "not_found"
	case errors.Is(err, domain.ErrPermissionDenied):
		b.reply(ctx, chatID, textDenied, nil)
		return "denied"
	case errors.Is(err, domain.ErrAlreadyModerated):
		b.reply(ctx, chatID, textAlreadyHandled, nil)
		return "conflict"
	case errors.Is(err, domain.ErrDuplicateEntry):
		b.reply(ctx, chatID, textDuplicate, nil)
		return "conflict"
	case errors.Is(err, domain.ErrConflict):
		b.reply(ctx, chatID, textConflict, nil)
		return "conflict"
	case errors.Is(err, domain.ErrTransientStore):
		logger.Ctx(ctx).Warn().Err(err).Int("update_id", updateID).Int64("telegram_id", telegramID).Msg("store unavailable while handling update")
		b.reply(ctx, chatID, textTemporary, nil)
		return "unavailable"
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logger.Ctx(ctx).Error().Err(err).Int("update_id", updateID).Int64("telegram_id", telegramID).Msg("failed to handle update")
	b.reply(ctx, chatID, textGenericError, nil)
	return "error"
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func formatAd(ad *domain.Ad) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🏷 %s\n💰 %s\n📍 %s\n\n%s\n\n📞 %s", ad.Title, domain.FormatPrice(ad.Price), ad.Location, ad.Description, ad.ContactInfo)
	return b.String()
}

// formatOwnAd 车主视角，额外展示状态和驳回原因
func formatOwnAd(ad *domain.Ad) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s\n%s", ad.ID, ad.Status.Label(), formatAd(ad))
	if ad.RejectionReason != nil {
		fmt.Fprintf(&b, "\n\n❗ Rejection reason: %s", *ad.RejectionReason)
	}
	return b.String()
}

func formatSearchResults(ads []*domain.Ad) string {
	if len(ads) == 0 {
		return "🔍 Nothing found. Try fewer filters, or save the search to get notified about new ads."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🔍 Found %d ads:\n", len(ads))
	for _, ad := range ads {
		fmt.Fprintf(&b, "\n• %s, %s, %s\n  /ad_%d", ad.Title, domain.FormatPrice(ad.Price), ad.Location, ad.ID)
	}
	return b.String()
}

func describeCriteria(c domain.Criteria) string {
	var parts []string
	if c.Keywords != "" {
		parts = append(parts, "keywords: "+c.Keywords)
	}
	if c.Location != "" {
		parts = append(parts, "location: "+c.Location)
	}
	if c.MinPrice != nil {
		parts = append(parts, "from "+domain.FormatPrice(*c.MinPrice))
	}
	if c.MaxPrice != nil {
		parts = append(parts, "up to "+domain.FormatPrice(*c.MaxPrice))
	}
	if c.CategoryID != nil {
		parts = append(parts, "category #"+strconv.FormatInt(*c.CategoryID, 10))
	}
	if len(parts) == 0 {
		return "all ads"
	}
	return strings.Join(parts, ", ")
}

func button(text, data string) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(text, data)
}

func callbackData(action string, args ...any) string {
	parts := []string{action}
	for _, a := range args {
		parts = append(parts, fmt.Sprint(a))
	}
	return strings.Join(parts, ":")
}

func cancelRow() []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(button("❌ Cancel", "cancel"))
}

// ownAdKeyboard 按状态给出车主可以执行的操作
func ownAdKeyboard(ad *domain.Ad) tgbotapi.InlineKeyboardMarkup {
	var row []tgbotapi.InlineKeyboardButton
	switch ad.Status {
	case domain.StatusDraft:
		row = append(row, button("📤 Submit", callbackData("ad_submit", ad.ID)))
	case domain.StatusApproved:
		row = append(row, button("🔑 Rented", callbackData("ad_rented", ad.ID)))
	case domain.StatusRented, domain.StatusArchived:
		row = append(row, button("♻️ Reactivate", callbackData("ad_reactivate", ad.ID)))
	case domain.StatusPending, domain.StatusRejected:
	}
	row = append(row,
		button("✏️ Edit", callbackData("ad_edit", ad.ID)),
		button("🗑 Delete", callbackData("ad_delete", ad.ID)),
	)
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

func editFieldsKeyboard(adID int64) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			button("Title", callbackData("ad_field", "title", adID)),
			button("Description", callbackData("ad_field", "description", adID)),
			button("Price", callbackData("ad_field", "price", adID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			button("Location", callbackData("ad_field", "location", adID)),
			button("Contacts", callbackData("ad_field", "contact", adID)),
			button("Category", callbackData("ad_field", "category", adID)),
		),
		cancelRow(),
	)
}

// categoryKeyboard 的每个按钮是 action:<category id>[:suffix]，0 表示不选分类
func categoryKeyboard(categories []*domain.Category, action string, suffix ...any) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, c := range categories {
		row = append(row, button(c.Name, callbackData(action, append([]any{c.ID}, suffix...)...)))
		if len(row) == 3 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(button("Without category", callbackData(action, append([]any{0}, suffix...)...))))
	rows = append(rows, cancelRow())
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func moderationKeyboard(adID int64) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			button("✅ Approve", callbackData("mod_approve", adID)),
			button("❌ Reject", callbackData("mod_reject", adID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			button("⏭ Later", callbackData("mod_defer", adID)),
			button("🚫 Ban author", callbackData("mod_ban", adID)),
		),
	)
}

func rejectionKeyboard(adID int64) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, code := range domain.RejectionCodes {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(button(code.Label(), callbackData("mod_reason", code, adID))))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(button("⬅️ Back", "mod_next")))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func ratingKeyboard() tgbotapi.InlineKeyboardMarkup {
	var row []tgbotapi.InlineKeyboardButton
	for i := 1; i <= 5; i++ {
		row = append(row, button("⭐"+strconv.Itoa(i), callbackData("fb_rate", i)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row, cancelRow())
}
