package interfaces

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rentbot/internal/service/marketplace/domain"
)

// handleCallback 路由按钮回调，数据格式为 action[:arg...]
func (b *Bot) handleCallback(ctx context.Context, rc *request, data string) error {
	parts := strings.Split(data, ":")
	switch parts[0] {
	case "cancel":
		if err := b.sessions.Clear(ctx, rc.user.ID); err != nil {
			return err
		}
		b.reply(ctx, rc.chatID, textCancelled, mainMenu(rc.user))
		return nil

	case "new_cat":
		id, err := parseID(parts, 1)
		if err != nil {
			return err
		}
		return b.chooseAdCategory(ctx, rc, id)
	case "new_publish", "new_draft":
		return b.confirmAd(ctx, rc, parts[0] == "new_draft")

	case "fb_kind":
		if len(parts) < 2 {
			return errExpired()
		}
		return b.chooseFeedbackKind(ctx, rc, domain.FeedbackType(parts[1]))
	case "fb_rate":
		if len(parts) < 2 {
			return errExpired()
		}
		rating, err := strconv.Atoi(parts[1])
		if err != nil {
			return errExpired()
		}
		return b.rateFeedback(ctx, rc, rating)
	case "fb_skip":
		return b.skipFeedbackComment(ctx, rc)
	case "fb_send":
		return b.sendFeedback(ctx, rc)
	case "fb_ad":
		id, err := parseID(parts, 1)
		if err != nil {
			return err
		}
		return b.startAdFeedback(ctx, rc, id)

	case "msg":
		id, err := parseID(parts, 1)
		if err != nil {
			return err
		}
		return b.startMessage(ctx, rc, id)

	case "ad_submit", "ad_rented", "ad_reactivate", "ad_delete":
		id, err := parseID(parts, 1)
		if err != nil {
			return err
		}
		return b.adAction(ctx, rc, parts[0], id)
	case "ad_edit":
		id, err := parseID(parts, 1)
		if err != nil {
			return err
		}
		b.reply(ctx, rc.chatID, "✏️ What do you want to change?\nChanging anything except the category sends a published ad for review again.", editFieldsKeyboard(id))
		return nil
	case "ad_field":
		id, err := parseID(parts, 2)
		if err != nil {
			return err
		}
		return b.startEdit(ctx, rc, id, parts[1])
	case "ad_cat":
		catID, err := parseID(parts, 1)
		if err != nil {
			return err
		}
		adID, err := parseID(parts, 2)
		if err != nil {
			return err
		}
		changes := domain.AdChanges{ClearCategory: catID == 0}
		if catID != 0 {
			changes.CategoryID = &catID
		}
		return b.applyEdit(ctx, rc, adID, changes)

	case "q_save":
		return b.saveQuery(ctx, rc)
	case "q_toggle":
		id, err := parseID(parts, 1)
		if err != nil {
			return err
		}
		q, err := b.svc.Search.ToggleQuery(ctx, rc.user.ID, id)
		if err != nil {
			return err
		}
		b.reply(ctx, rc.chatID, formatQuery(q), queryKeyboard(q))
		return nil
	case "q_delete":
		id, err := parseID(parts, 1)
		if err != nil {
			return err
		}
		if err := b.svc.Search.DeleteQuery(ctx, rc.user.ID, id); err != nil {
			return err
		}
		b.reply(ctx, rc.chatID, "🗑 Saved search deleted.", nil)
		return nil

	case "n_read":
		id, err := parseID(parts, 1)
		if err != nil {
			return err
		}
		if err := b.svc.Dispatcher.MarkRead(ctx, rc.user.ID, id); err != nil {
			return err
		}
		b.reply(ctx, rc.chatID, "✅ Marked as read.", nil)
		return nil
	case "n_read_all":
		n, err := b.svc.Dispatcher.MarkAllRead(ctx, rc.user.ID)
		if err != nil {
			return err
		}
		b.reply(ctx, rc.chatID, fmt.Sprintf("✅ %d notifications marked as read.", n), nil)
		return nil

	case "mod_next":
		return b.showNext(ctx, rc)
	case "mod_approve":
		id, err := parseID(parts, 1)
		if err != nil {
			return err
		}
		if _, err := b.svc.Moderation.Approve(ctx, rc.user.ID, id); err != nil {
			return err
		}
		return b.afterDecision(ctx, rc, fmt.Sprintf("✅ Ad #%d approved.", id))
	case "mod_reject":
		id, err := parseID(parts, 1)
		if err != nil {
			return err
		}
		if _, err := b.svc.Moderation.PendingCount(ctx, rc.user.ID); err != nil {
			return err
		}
		b.reply(ctx, rc.chatID, fmt.Sprintf("❌ Why is ad #%d rejected?", id), rejectionKeyboard(id))
		return nil
	case "mod_reason":
		return b.chooseReason(ctx, rc, parts)
	case "mod_defer":
		id, err := parseID(parts, 1)
		if err != nil {
			return err
		}
		if _, err := b.svc.Moderation.Defer(ctx, rc.user.ID, id); err != nil {
			return err
		}
		return b.afterDecision(ctx, rc, fmt.Sprintf("⏭ Ad #%d moved down the queue.", id))
	case "mod_ban":
		id, err := parseID(parts, 1)
		if err != nil {
			return err
		}
		if _, err := b.svc.Moderation.BanAuthor(ctx, rc.user.ID, id); err != nil {
			return err
		}
		return b.afterDecision(ctx, rc, fmt.Sprintf("🚫 Author of ad #%d banned, the ad was rejected.", id))
	}
	return errExpired()
}

func (b *Bot) adAction(ctx context.Context, rc *request, action string, adID int64) error {
	var (
		ad  *domain.Ad
		err error
	)
	switch action {
	case "ad_submit":
		ad, err = b.svc.Ads.Submit(ctx, rc.user.ID, adID)
	case "ad_rented":
		ad, err = b.svc.Ads.MarkRented(ctx, rc.user.ID, adID)
	case "ad_reactivate":
		ad, err = b.svc.Ads.Reactivate(ctx, rc.user.ID, adID)
	case "ad_delete":
		if err := b.svc.Ads.Delete(ctx, rc.user.ID, adID); err != nil {
			return err
		}
		b.reply(ctx, rc.chatID, fmt.Sprintf("🗑 Ad #%d deleted.", adID), nil)
		return nil
	}
	if err != nil {
		return err
	}
	b.reply(ctx, rc.chatID, formatOwnAd(ad), ownAdKeyboard(ad))
	return nil
}

func (b *Bot) saveQuery(ctx context.Context, rc *request) error {
	session, err := b.sessions.Load(ctx, rc.user.ID)
	if err != nil {
		return err
	}
	if session == nil || session.Criteria == nil {
		return errExpired()
	}
	q, err := b.svc.Search.SaveQuery(ctx, rc.user.ID, *session.Criteria)
	if err != nil {
		return err
	}
	if err := b.sessions.Clear(ctx, rc.user.ID); err != nil {
		return err
	}
	b.reply(ctx, rc.chatID, fmt.Sprintf("💾 Search saved. I will notify you about new ads matching: %s", describeCriteria(q.Criteria())), nil)
	return nil
}

func (b *Bot) showNext(ctx context.Context, rc *request) error {
	entry, err := b.svc.Moderation.Next(ctx, rc.user.ID, true)
	if err != nil {
		return err
	}
	if entry == nil {
		b.reply(ctx, rc.chatID, "🎉 The moderation queue is empty.", nil)
		return nil
	}
	ad := entry.Ad
	text := fmt.Sprintf("🛡 Ad #%d, priority %d, waiting since %s\n\n%s",
		ad.ID, entry.Priority, entry.EnqueuedAt.Format("2006-01-02 15:04"), formatAd(ad))
	b.reply(ctx, rc.chatID, text, moderationKeyboard(ad.ID))
	return nil
}

// chooseReason 处理 mod_reason:<code>:<id>。"other" 需要再输入一段说明。
func (b *Bot) chooseReason(ctx context.Context, rc *request, parts []string) error {
	if len(parts) < 3 {
		return errExpired()
	}
	code, ok := domain.ParseRejectionCode(parts[1])
	if !ok {
		return errExpired()
	}
	id, err := parseID(parts, 2)
	if err != nil {
		return err
	}
	if code == domain.RejectOther {
		if _, err := b.svc.Moderation.PendingCount(ctx, rc.user.ID); err != nil {
			return err
		}
		session := domain.NewInputSession(domain.FlowReject, domain.PendingInput{AdID: id, ReasonCode: code}, b.now())
		if err := b.sessions.Save(ctx, rc.user.ID, session); err != nil {
			return err
		}
		b.reply(ctx, rc.chatID, "✍️ Describe the reason for the author.", tgbotapi.NewInlineKeyboardMarkup(cancelRow()))
		return nil
	}
	if _, err := b.svc.Moderation.Reject(ctx, rc.user.ID, id, code, ""); err != nil {
		return err
	}
	return b.afterDecision(ctx, rc, fmt.Sprintf("❌ Ad #%d rejected: %s.", id, code.Label()))
}

func (b *Bot) afterDecision(ctx context.Context, rc *request, text string) error {
	b.reply(ctx, rc.chatID, text, tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(button("▶️ Next ad", "mod_next")),
	))
	return nil
}
