package interfaces

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rentbot/internal/service/marketplace/domain"
)

var adPrompts = map[domain.AdStep]string{
	domain.AdStepTitle:       "📝 Step 1/6. Send the title of your ad.",
	domain.AdStepDescription: "📄 Step 2/6. Describe what you are renting out.",
	domain.AdStepPrice:       "💰 Step 3/6. Send the price.",
	domain.AdStepLocation:    "📍 Step 4/6. Where is it located?",
	domain.AdStepContact:     "📞 Step 5/6. How can renters contact you?",
	domain.AdStepCategory:    "🗂 Step 6/6. Choose a category.",
}

func errExpired() error {
	return domain.NewValidationError("session", textExpiredForm)
}

// handleInput 把文本交给当前对话流程。
// 校验失败时保留会话让用户重新输入，其他错误结束流程。
func (b *Bot) handleInput(ctx context.Context, rc *request, session *domain.Session, text string) error {
	var err error
	switch session.Flow {
	case domain.FlowCreateAd:
		err = b.adInput(ctx, rc, session, text)
	case domain.FlowFeedback:
		err = b.feedbackInput(ctx, rc, session, text)
	case domain.FlowEditAd:
		err = b.editInput(ctx, rc, session, text)
	case domain.FlowReject:
		err = b.rejectInput(ctx, rc, session, text)
	case domain.FlowMessage:
		err = b.messageInput(ctx, rc, session, text)
	case domain.FlowSearch:
		err = b.runSearch(ctx, rc, text)
	default:
		err = b.sessions.Clear(ctx, rc.user.ID)
	}
	if err != nil && !domain.IsValidation(err) {
		if cerr := b.sessions.Clear(ctx, rc.user.ID); cerr != nil {
			return cerr
		}
	}
	return err
}

func (b *Bot) startAdFlow(ctx context.Context, rc *request) error {
	if rc.user.IsBanned {
		return domain.ErrPermissionDenied
	}
	session := domain.NewAdSession(b.now())
	if err := b.sessions.Save(ctx, rc.user.ID, session); err != nil {
		return err
	}
	b.reply(ctx, rc.chatID, "➕ New ad\n\n"+adPrompts[domain.AdStepTitle], tgbotapi.NewInlineKeyboardMarkup(cancelRow()))
	return nil
}

func (b *Bot) adInput(ctx context.Context, rc *request, session *domain.Session, text string) error {
	draft := session.Ad
	if draft == nil {
		return errExpired()
	}
	switch draft.Step {
	case domain.AdStepTitle:
		if len([]rune(text)) > 200 {
			return domain.NewValidationError("title", "title must be at most 200 characters")
		}
		draft.Title, draft.Step = text, domain.AdStepDescription
	case domain.AdStepDescription:
		draft.Description, draft.Step = text, domain.AdStepPrice
	case domain.AdStepPrice:
		price, err := parsePrice(text)
		if err != nil {
			return err
		}
		if lim := b.opts.Limits().Price; price < lim.Min || (lim.Max > 0 && price > lim.Max) {
			return domain.NewValidationError("price", fmt.Sprintf("price must be between %s and %s", domain.FormatPrice(lim.Min), domain.FormatPrice(lim.Max)))
		}
		draft.Price, draft.Step = price, domain.AdStepLocation
	case domain.AdStepLocation:
		draft.Location, draft.Step = text, domain.AdStepContact
	case domain.AdStepContact:
		draft.ContactInfo, draft.Step = text, domain.AdStepCategory
	case domain.AdStepCategory, domain.AdStepConfirm:
		b.reply(ctx, rc.chatID, textChooseWithInput, nil)
		return nil
	}
	session.UpdatedAt = b.now()
	if err := b.sessions.Save(ctx, rc.user.ID, session); err != nil {
		return err
	}
	if draft.Step == domain.AdStepCategory {
		categories, err := b.svc.Ads.Categories(ctx)
		if err != nil {
			return err
		}
		b.reply(ctx, rc.chatID, adPrompts[draft.Step], categoryKeyboard(categories, "new_cat"))
		return nil
	}
	b.reply(ctx, rc.chatID, adPrompts[draft.Step], tgbotapi.NewInlineKeyboardMarkup(cancelRow()))
	return nil
}

// chooseAdCategory 处理 new_cat:<id>，0 表示不选分类
func (b *Bot) chooseAdCategory(ctx context.Context, rc *request, categoryID int64) error {
	session, err := b.loadFlow(ctx, rc, domain.FlowCreateAd)
	if err != nil {
		return err
	}
	draft := session.Ad
	if draft == nil || draft.Step != domain.AdStepCategory {
		return errExpired()
	}
	draft.CategoryID = nil
	if categoryID != 0 {
		draft.CategoryID = &categoryID
	}
	draft.Step = domain.AdStepConfirm
	session.UpdatedAt = b.now()
	if err := b.sessions.Save(ctx, rc.user.ID, session); err != nil {
		return err
	}
	preview := formatAd(&domain.Ad{
		Title:       draft.Title,
		Description: draft.Description,
		Price:       draft.Price,
		Location:    draft.Location,
		ContactInfo: draft.ContactInfo,
	})
	b.reply(ctx, rc.chatID, "👀 Check your ad:\n\n"+preview, tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			button("📤 Publish", "new_publish"),
			button("📝 Save as draft", "new_draft"),
		),
		cancelRow(),
	))
	return nil
}

// confirmAd 只有在这一步才把草稿写成广告
func (b *Bot) confirmAd(ctx context.Context, rc *request, asDraft bool) error {
	session, err := b.loadFlow(ctx, rc, domain.FlowCreateAd)
	if err != nil {
		return err
	}
	if session.Ad == nil || session.Ad.Step != domain.AdStepConfirm {
		return errExpired()
	}
	content, err := session.Ad.Content(b.opts.Limits().Price)
	if err != nil {
		return err
	}
	ad, err := b.svc.Ads.Create(ctx, rc.user.ID, content, asDraft)
	if err != nil {
		if !domain.IsValidation(err) {
			_ = b.sessions.Clear(ctx, rc.user.ID)
		}
		return err
	}
	if err := b.sessions.Clear(ctx, rc.user.ID); err != nil {
		return err
	}
	if asDraft {
		b.reply(ctx, rc.chatID, fmt.Sprintf("📝 Draft #%d saved. Submit it for review from /my.", ad.ID), mainMenu(rc.user))
		return nil
	}
	b.reply(ctx, rc.chatID, fmt.Sprintf("✅ Ad #%d sent for review. We will notify you about the decision.", ad.ID), mainMenu(rc.user))
	return nil
}

func (b *Bot) startFeedbackFlow(ctx context.Context, rc *request) error {
	session := domain.NewFeedbackSession(b.now())
	if err := b.sessions.Save(ctx, rc.user.ID, session); err != nil {
		return err
	}
	b.reply(ctx, rc.chatID, "⭐ What would you like to rate?", tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			button("🏠 An ad", callbackData("fb_kind", domain.FeedbackAd)),
			button("🤖 The bot", callbackData("fb_kind", domain.FeedbackBot)),
		),
		cancelRow(),
	))
	return nil
}

// startAdFeedback 从广告卡片直接进入评分步骤
func (b *Bot) startAdFeedback(ctx context.Context, rc *request, adID int64) error {
	if _, err := b.svc.Ads.Get(ctx, rc.user.ID, adID); err != nil {
		return err
	}
	session := domain.NewFeedbackSession(b.now())
	session.Feedback.Type = domain.FeedbackAd
	session.Feedback.AdID = &adID
	session.Feedback.Step = domain.FeedbackStepRating
	if err := b.sessions.Save(ctx, rc.user.ID, session); err != nil {
		return err
	}
	b.reply(ctx, rc.chatID, "⭐ Rate the ad from 1 to 5.", ratingKeyboard())
	return nil
}

func (b *Bot) chooseFeedbackKind(ctx context.Context, rc *request, kind domain.FeedbackType) error {
	session, err := b.loadFlow(ctx, rc, domain.FlowFeedback)
	if err != nil {
		return err
	}
	fb := session.Feedback
	if fb == nil || fb.Step != domain.FeedbackStepKind {
		return errExpired()
	}
	fb.Type = kind
	switch kind {
	case domain.FeedbackAd:
		fb.Step = domain.FeedbackStepAd
	case domain.FeedbackBot:
		fb.Step = domain.FeedbackStepRating
	default:
		return errExpired()
	}
	if err := b.sessions.Save(ctx, rc.user.ID, session); err != nil {
		return err
	}
	if fb.Step == domain.FeedbackStepAd {
		b.reply(ctx, rc.chatID, "Send the number of the ad (the digits after /ad_).", tgbotapi.NewInlineKeyboardMarkup(cancelRow()))
		return nil
	}
	b.reply(ctx, rc.chatID, "⭐ Rate the bot from 1 to 5.", ratingKeyboard())
	return nil
}

func (b *Bot) feedbackInput(ctx context.Context, rc *request, session *domain.Session, text string) error {
	fb := session.Feedback
	if fb == nil {
		return errExpired()
	}
	switch fb.Step {
	case domain.FeedbackStepAd:
		adID, err := strconv.ParseInt(strings.TrimPrefix(text, "/ad_"), 10, 64)
		if err != nil {
			return domain.NewValidationError("ad_id", "please send the ad number")
		}
		if _, err := b.svc.Ads.Get(ctx, rc.user.ID, adID); err != nil {
			return err
		}
		fb.AdID, fb.Step = &adID, domain.FeedbackStepRating
		if err := b.sessions.Save(ctx, rc.user.ID, session); err != nil {
			return err
		}
		b.reply(ctx, rc.chatID, "⭐ Rate the ad from 1 to 5.", ratingKeyboard())
		return nil
	case domain.FeedbackStepRating:
		rating, err := strconv.Atoi(text)
		if err != nil {
			return domain.NewValidationError("rating", "please choose a rating from 1 to 5")
		}
		return b.rateFeedback(ctx, rc, rating)
	case domain.FeedbackStepComment:
		if len([]rune(text)) > 1000 {
			return domain.NewValidationError("comment", "comment must be at most 1000 characters")
		}
		fb.Comment = text
		return b.feedbackConfirmStep(ctx, rc, session)
	case domain.FeedbackStepKind, domain.FeedbackStepConfirm:
		b.reply(ctx, rc.chatID, textChooseWithInput, nil)
	}
	return nil
}

func (b *Bot) rateFeedback(ctx context.Context, rc *request, rating int) error {
	session, err := b.loadFlow(ctx, rc, domain.FlowFeedback)
	if err != nil {
		return err
	}
	fb := session.Feedback
	if fb == nil || fb.Step != domain.FeedbackStepRating {
		return errExpired()
	}
	if rating < 1 || rating > 5 {
		return domain.NewValidationError("rating", "please choose a rating from 1 to 5")
	}
	fb.Rating, fb.Step = rating, domain.FeedbackStepComment
	if err := b.sessions.Save(ctx, rc.user.ID, session); err != nil {
		return err
	}
	b.reply(ctx, rc.chatID, "💬 Add a comment, or skip this step.", tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(button("⏭ Skip", "fb_skip")),
		cancelRow(),
	))
	return nil
}

func (b *Bot) skipFeedbackComment(ctx context.Context, rc *request) error {
	session, err := b.loadFlow(ctx, rc, domain.FlowFeedback)
	if err != nil {
		return err
	}
	if session.Feedback == nil || session.Feedback.Step != domain.FeedbackStepComment {
		return errExpired()
	}
	return b.feedbackConfirmStep(ctx, rc, session)
}

func (b *Bot) feedbackConfirmStep(ctx context.Context, rc *request, session *domain.Session) error {
	fb := session.Feedback
	fb.Step = domain.FeedbackStepConfirm
	if err := b.sessions.Save(ctx, rc.user.ID, session); err != nil {
		return err
	}
	summary := fmt.Sprintf("Rating: %s", strings.Repeat("⭐", fb.Rating))
	if fb.Comment != "" {
		summary += "\nComment: " + fb.Comment
	}
	b.reply(ctx, rc.chatID, summary, tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(button("📨 Send", "fb_send")),
		cancelRow(),
	))
	return nil
}

func (b *Bot) sendFeedback(ctx context.Context, rc *request) error {
	session, err := b.loadFlow(ctx, rc, domain.FlowFeedback)
	if err != nil {
		return err
	}
	fb := session.Feedback
	if fb == nil || fb.Step != domain.FeedbackStepConfirm {
		return errExpired()
	}
	if err := fb.Validate(); err != nil {
		return err
	}
	// 无论成功与否，这份评价都不会再被提交第二次
	if err := b.sessions.Clear(ctx, rc.user.ID); err != nil {
		return err
	}
	if _, err := b.svc.Feedback.Leave(ctx, rc.user.ID, fb.Type, fb.AdID, fb.Rating, fb.Comment); err != nil {
		return err
	}
	b.reply(ctx, rc.chatID, "🙏 Thank you for your feedback!", mainMenu(rc.user))
	return nil
}

// startEdit 记录要修改的字段，下一条文本即为新值
func (b *Bot) startEdit(ctx context.Context, rc *request, adID int64, field string) error {
	f, ok := domain.ParseField(field)
	if !ok {
		return errExpired()
	}
	if _, err := b.svc.Ads.Get(ctx, rc.user.ID, adID); err != nil {
		return err
	}
	if f == domain.FieldCategory {
		categories, err := b.svc.Ads.Categories(ctx)
		if err != nil {
			return err
		}
		b.reply(ctx, rc.chatID, "🗂 Choose the new category.", categoryKeyboard(categories, "ad_cat", adID))
		return nil
	}
	session := domain.NewInputSession(domain.FlowEditAd, domain.PendingInput{AdID: adID, Field: field}, b.now())
	if err := b.sessions.Save(ctx, rc.user.ID, session); err != nil {
		return err
	}
	b.reply(ctx, rc.chatID, fmt.Sprintf("✏️ Send the new %s.", field), tgbotapi.NewInlineKeyboardMarkup(cancelRow()))
	return nil
}

func (b *Bot) editInput(ctx context.Context, rc *request, session *domain.Session, text string) error {
	in := session.Input
	if in == nil {
		return errExpired()
	}
	f, ok := domain.ParseField(in.Field)
	if !ok {
		return errExpired()
	}
	var changes domain.AdChanges
	switch f {
	case domain.FieldTitle:
		changes.Title = &text
	case domain.FieldDescription:
		changes.Description = &text
	case domain.FieldPrice:
		price, err := parsePrice(text)
		if err != nil {
			return err
		}
		changes.Price = &price
	case domain.FieldLocation:
		changes.Location = &text
	case domain.FieldContact:
		changes.ContactInfo = &text
	case domain.FieldCategory:
		return errExpired()
	}
	return b.applyEdit(ctx, rc, in.AdID, changes)
}

func (b *Bot) applyEdit(ctx context.Context, rc *request, adID int64, changes domain.AdChanges) error {
	before, err := b.svc.Ads.Get(ctx, rc.user.ID, adID)
	if err != nil {
		return err
	}
	prev := before.Status
	ad, err := b.svc.Ads.Edit(ctx, rc.user.ID, adID, changes)
	if err != nil {
		return err
	}
	if err := b.sessions.Clear(ctx, rc.user.ID); err != nil {
		return err
	}
	text := "✅ Saved."
	if ad.Status == domain.StatusPending && prev != domain.StatusPending {
		text = "✅ Saved. The ad was sent for review again."
	}
	b.reply(ctx, rc.chatID, text+"\n\n"+formatOwnAd(ad), ownAdKeyboard(ad))
	return nil
}

func (b *Bot) startMessage(ctx context.Context, rc *request, adID int64) error {
	ad, err := b.svc.Ads.Get(ctx, rc.user.ID, adID)
	if err != nil {
		return err
	}
	if ad.OwnerID == rc.user.ID {
		return domain.NewValidationError("receiver", "this is your own ad")
	}
	session := domain.NewInputSession(domain.FlowMessage, domain.PendingInput{AdID: adID}, b.now())
	if err := b.sessions.Save(ctx, rc.user.ID, session); err != nil {
		return err
	}
	b.reply(ctx, rc.chatID, fmt.Sprintf("✉️ Write your message about \"%s\".", ad.Title), tgbotapi.NewInlineKeyboardMarkup(cancelRow()))
	return nil
}

func (b *Bot) messageInput(ctx context.Context, rc *request, session *domain.Session, text string) error {
	if session.Input == nil {
		return errExpired()
	}
	if _, err := b.svc.Messages.Send(ctx, rc.user.ID, session.Input.AdID, text); err != nil {
		return err
	}
	if err := b.sessions.Clear(ctx, rc.user.ID); err != nil {
		return err
	}
	b.reply(ctx, rc.chatID, "📨 Message sent to the owner.", mainMenu(rc.user))
	return nil
}

func (b *Bot) rejectInput(ctx context.Context, rc *request, session *domain.Session, text string) error {
	in := session.Input
	if in == nil {
		return errExpired()
	}
	ad, err := b.svc.Moderation.Reject(ctx, rc.user.ID, in.AdID, in.ReasonCode, text)
	if err != nil {
		return err
	}
	if err := b.sessions.Clear(ctx, rc.user.ID); err != nil {
		return err
	}
	return b.afterDecision(ctx, rc, fmt.Sprintf("❌ Ad #%d rejected.", ad.ID))
}

// loadFlow 读取会话并确认它属于期望的流程
func (b *Bot) loadFlow(ctx context.Context, rc *request, flow domain.Flow) (*domain.Session, error) {
	session, err := b.sessions.Load(ctx, rc.user.ID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.Flow != flow {
		return nil, errExpired()
	}
	return session, nil
}
