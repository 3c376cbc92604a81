package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"telegram-mention-tracker/internal/models"
	"telegram-mention-tracker/internal/tracker"
)

// HandleCallback serves the inline buttons of group toggles and reminder
// prompts. Every callback is answered exactly once.
func (h *Handler) HandleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	answer := ""
	defer func() {
		if err := h.tr.AnswerCallback(ctx, cq.ID, answer); err != nil {
			h.log.Debug("answer callback failed", zap.Error(err))
		}
	}()

	if cq.Message == nil || cq.Message.Chat == nil || cq.From == nil {
		return
	}
	r := request{
		userID: cq.From.ID,
		chatID: cq.Message.Chat.ID,
		lang:   h.langFor(cq.From.ID, cq.From.LanguageCode),
	}
	promptID := cq.Message.MessageID
	data := cq.Data

	switch {
	case strings.HasPrefix(data, cbSubscribe):
		answer = h.onToggle(ctx, r, promptID, strings.TrimPrefix(data, cbSubscribe), true)
	case strings.HasPrefix(data, cbUnsubscribe):
		answer = h.onToggle(ctx, r, promptID, strings.TrimPrefix(data, cbUnsubscribe), false)
	case strings.HasPrefix(data, cbHour):
		answer = h.onSelect(ctx, r, promptID, models.SlotHour, strings.TrimPrefix(data, cbHour))
	case strings.HasPrefix(data, cbMinute):
		answer = h.onSelect(ctx, r, promptID, models.SlotMinute, strings.TrimPrefix(data, cbMinute))
	default:
		h.log.Debug("unknown callback", zap.String("data", data))
	}
}

// onToggle subscribes or unsubscribes, then retires the prompt.
func (h *Handler) onToggle(ctx context.Context, r request, promptID int, rawID string, subscribe bool) string {
	defer func() {
		h.eng.DropUIRef(r.userID, promptID)
		h.clear(ctx, r.chatID, promptID)
	}()

	groupID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return h.t(r.lang, "prompt_expired")
	}
	label := rawID
	if v, ok := h.eng.Group(groupID); ok {
		label = v.Label
	}

	var changed bool
	if subscribe {
		changed, err = h.eng.Subscribe(ctx, r.userID, groupID)
	} else {
		changed, err = h.eng.Unsubscribe(ctx, r.userID, groupID)
	}
	if errors.Is(err, tracker.ErrGroupNotFound) {
		h.send(ctx, r.chatID, h.t(r.lang, "group_gone"))
		return ""
	}
	if h.replyErr(ctx, r, err) {
		return ""
	}

	key := "group_subscribed"
	switch {
	case subscribe && !changed:
		key = "group_already_subscribed"
	case !subscribe && changed:
		key = "group_unsubscribed"
	case !subscribe:
		key = "group_not_subscribed"
	}
	h.send(ctx, r.chatID, h.t(r.lang, key, label))
	return ""
}

// onSelect feeds one button of a reminder prompt into the selection.
func (h *Handler) onSelect(ctx context.Context, r request, promptID int, slot models.Slot, value string) string {
	res, err := h.eng.Select(ctx, r.userID, promptID, slot, value)
	switch {
	case errors.Is(err, tracker.ErrInvalidSelection):
		h.expire(ctx, r.chatID, r.lang, promptID)
		return h.t(r.lang, "prompt_expired")
	case errors.Is(err, tracker.ErrUserNotTracked):
		h.clear(ctx, r.chatID, promptID)
		h.replyErr(ctx, r, err)
		return ""
	case h.replyErr(ctx, r, err):
		return ""
	}

	if res.State != models.SelectionComplete {
		return h.t(r.lang, "reminder_partial", orDash(res.Hour), orDash(res.Minute))
	}
	h.clear(ctx, r.chatID, promptID)
	h.expire(ctx, r.chatID, r.lang, res.Stale...)
	h.send(ctx, r.chatID, h.t(r.lang, "reminder_set", res.Local))
	return ""
}

func orDash(s string) string {
	if s == "" {
		return "--"
	}
	return s
}
