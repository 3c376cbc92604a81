package handlers

import (
	"context"
	"errors"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"telegram-mention-tracker/internal/tracker"
)

// request is one private command with the sender resolved.
type request struct {
	userID   int64
	chatID   int64
	username string
	lang     string
	arg      string
}

func (h *Handler) handlePrivate(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.From.IsBot {
		return
	}
	word, arg := h.splitCommand(msg.Text)
	if word == "" {
		return
	}
	h.eng.ObserveUser(msg.From.ID, msg.From.UserName)

	r := request{
		userID:   msg.From.ID,
		chatID:   msg.Chat.ID,
		username: msg.From.UserName,
		lang:     h.langFor(msg.From.ID, msg.From.LanguageCode),
		arg:      arg,
	}
	h.handleCommand(ctx, r, word)
}

// langFor prefers the language stored at start over the client's current one.
func (h *Handler) langFor(userID int64, client string) string {
	if l := h.eng.Lang(userID); l != "" {
		return l
	}
	return client
}

func (h *Handler) handleCommand(ctx context.Context, r request, word string) {
	c := h.cmds
	switch word {
	case c.Start:
		h.handleStart(ctx, r)
	case c.Stop:
		h.handleStop(ctx, r)
	case c.Mentions:
		h.handleMentions(ctx, r)
	case c.Groups:
		h.handleGroups(ctx, r)
	case c.Reminder:
		h.handleReminder(ctx, r)
	case c.Help:
		h.send(ctx, r.chatID, h.helpText(r.lang))
	case c.Timezone:
		h.handleTimezone(ctx, r)
	case c.NoReminder:
		h.handleNoReminder(ctx, r)
	case c.Status:
		h.handleStatus(ctx, r)
	default:
		if strings.HasPrefix(word, "/") {
			h.send(ctx, r.chatID, h.t(r.lang, "unknown_command", cmd(c.Help)))
		}
	}
}

// replyErr maps engine errors to phrases. It reports false for nil.
func (h *Handler) replyErr(ctx context.Context, r request, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, tracker.ErrUserNotTracked):
		h.send(ctx, r.chatID, h.t(r.lang, "not_tracked_hint", cmd(h.cmds.Start)))
	case errors.Is(err, tracker.ErrStorageUnavailable):
		h.log.Error("storage write failed", zap.Int64("user_id", r.userID), zap.Error(err))
		h.send(ctx, r.chatID, h.t(r.lang, "storage_error"))
	default:
		h.log.Error("command failed", zap.Int64("user_id", r.userID), zap.Error(err))
		h.send(ctx, r.chatID, h.t(r.lang, "storage_error"))
	}
	return true
}

func (h *Handler) handleStart(ctx context.Context, r request) {
	created, err := h.eng.Track(ctx, r.userID, r.chatID, r.username, r.lang)
	if h.replyErr(ctx, r, err) {
		return
	}
	if !created {
		h.send(ctx, r.chatID, h.t(r.lang, "already_tracking"))
		return
	}
	h.log.Info("tracking started", zap.Int64("user_id", r.userID))
	h.send(ctx, r.chatID, h.t(r.lang, "tracking_started"))
}

func (h *Handler) handleStop(ctx context.Context, r request) {
	stale, err := h.eng.Untrack(ctx, r.userID)
	if errors.Is(err, tracker.ErrUserNotTracked) {
		h.send(ctx, r.chatID, h.t(r.lang, "not_tracking"))
		return
	}
	if h.replyErr(ctx, r, err) {
		return
	}
	h.expire(ctx, r.chatID, r.lang, stale...)
	h.log.Info("tracking stopped", zap.Int64("user_id", r.userID))
	h.send(ctx, r.chatID, h.t(r.lang, "tracking_stopped"))
}

func (h *Handler) handleMentions(ctx context.Context, r request) {
	groups, err := h.eng.PullMentions(r.userID)
	if h.replyErr(ctx, r, err) {
		return
	}
	if err := h.sendMentions(ctx, r.chatID, r.lang, groups); err != nil {
		h.log.Warn("mentions delivery incomplete", zap.Int64("user_id", r.userID), zap.Error(err))
	}
}

// handleGroups retracts the previous toggles and posts one per shared group.
func (h *Handler) handleGroups(ctx context.Context, r request) {
	views, err := h.eng.GroupsFor(r.userID)
	if h.replyErr(ctx, r, err) {
		return
	}
	h.clear(ctx, r.chatID, h.eng.TakeUIRefs(r.userID)...)
	if len(views) == 0 {
		h.send(ctx, r.chatID, h.t(r.lang, "no_groups"))
		return
	}
	for _, v := range views {
		kb := h.groupKeyboard(r.lang, v.ID, v.Subscribed)
		id, err := h.tr.Send(ctx, r.chatID, v.Label, &kb)
		if err != nil {
			h.log.Warn("group prompt failed", zap.Int64("user_id", r.userID), zap.Int64("group_id", v.ID), zap.Error(err))
			continue
		}
		h.eng.PushUIRef(r.userID, id)
	}
}

func (h *Handler) handleReminder(ctx context.Context, r request) {
	st, err := h.eng.Status(r.userID)
	if h.replyErr(ctx, r, err) {
		return
	}
	kb := reminderKeyboard()
	id, err := h.tr.Send(ctx, r.chatID, h.t(r.lang, "reminder_prompt", html.EscapeString(st.TZ)), &kb)
	if err != nil {
		h.log.Warn("reminder prompt failed", zap.Int64("user_id", r.userID), zap.Error(err))
		return
	}
	h.replyErr(ctx, r, h.eng.OpenSelection(r.userID, id))
}

func (h *Handler) handleTimezone(ctx context.Context, r request) {
	if !h.eng.IsTracked(r.userID) {
		h.replyErr(ctx, r, tracker.ErrUserNotTracked)
		return
	}
	if r.arg == "" {
		h.send(ctx, r.chatID, h.t(r.lang, "timezone_usage", cmd(h.cmds.Timezone), cmd(h.cmds.Timezone)))
		return
	}
	loc, err := h.eng.SetTimezone(ctx, r.userID, r.arg)
	if errors.Is(err, tracker.ErrInvalidTimezone) {
		h.send(ctx, r.chatID, h.t(r.lang, "timezone_invalid", html.EscapeString(r.arg)))
		return
	}
	if h.replyErr(ctx, r, err) {
		return
	}
	h.send(ctx, r.chatID, h.t(r.lang, "timezone_set", html.EscapeString(loc.String())))
}

func (h *Handler) handleNoReminder(ctx context.Context, r request) {
	cleared, err := h.eng.ClearReminder(ctx, r.userID)
	if h.replyErr(ctx, r, err) {
		return
	}
	if !cleared {
		h.send(ctx, r.chatID, h.t(r.lang, "no_reminder"))
		return
	}
	h.send(ctx, r.chatID, h.t(r.lang, "reminder_cleared"))
}

func (h *Handler) handleStatus(ctx context.Context, r request) {
	st, err := h.eng.Status(r.userID)
	if h.replyErr(ctx, r, err) {
		return
	}
	reminder := h.t(r.lang, "status_no_reminder")
	if st.ReminderLocal != "" {
		reminder = st.ReminderLocal
	}
	h.send(ctx, r.chatID, h.t(r.lang, "status", html.EscapeString(st.TZ), reminder, st.Groups, st.Pending))
}
