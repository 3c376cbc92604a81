// Package handlers turns Telegram updates into tracker operations and
// tracker results into messages.
package handlers

import (
	"context"
	"runtime/debug"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"telegram-mention-tracker/internal/config"
	"telegram-mention-tracker/internal/messages"
	"telegram-mention-tracker/internal/telegram"
	"telegram-mention-tracker/internal/tracker"
)

// Transport is the outbound chat API. telegram.Client implements it.
type Transport interface {
	Send(ctx context.Context, chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) (int, error)
	Forward(ctx context.Context, to, from int64, ids []int) error
	EditText(ctx context.Context, chatID int64, messageID int, text string) error
	ClearMarkup(ctx context.Context, chatID int64, messageID int) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	ChatInfo(ctx context.Context, chatID int64) (telegram.ChatInfo, error)
	Administrators(ctx context.Context, chatID int64) ([]int64, error)
}

type Options struct {
	Commands    config.Commands
	MentionAll  []string // markers that mention every member, e.g. "@all"
	BotID       int64
	BotUsername string
}

type Handler struct {
	tr   Transport
	eng  *tracker.Engine
	cat  *messages.Catalog
	log  *zap.Logger
	cmds config.Commands

	everyone map[string]struct{}
	botID    int64
	botName  string
}

func New(tr Transport, eng *tracker.Engine, cat *messages.Catalog, log *zap.Logger, opts Options) *Handler {
	h := &Handler{
		tr:       tr,
		eng:      eng,
		cat:      cat,
		log:      log,
		cmds:     opts.Commands,
		everyone: make(map[string]struct{}, len(opts.MentionAll)),
		botID:    opts.BotID,
		botName:  strings.ToLower(opts.BotUsername),
	}
	for _, m := range opts.MentionAll {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			h.everyone[m] = struct{}{}
		}
	}
	return h
}

// HandleUpdate dispatches one update. A panic is logged and contained so the
// next update is still served.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("panic in update handler",
				zap.Int("update_id", upd.UpdateID), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
	}()

	switch {
	case upd.MyChatMember != nil:
		h.HandleMyChatMember(ctx, upd.MyChatMember)
	case upd.CallbackQuery != nil:
		h.HandleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil:
		h.HandleMessage(ctx, upd.Message)
	}
}

func (h *Handler) HandleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil {
		return
	}
	switch {
	case msg.Chat.IsPrivate():
		h.handlePrivate(ctx, msg)
	case msg.Chat.IsGroup() || msg.Chat.IsSuperGroup():
		h.handleGroup(ctx, msg)
	}
}

// send posts a phrase and logs instead of failing; the user already gets
// nothing better when the transport is down.
func (h *Handler) send(ctx context.Context, chatID int64, text string) {
	if _, err := h.tr.Send(ctx, chatID, text, nil); err != nil {
		h.log.Warn("send failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (h *Handler) clear(ctx context.Context, chatID int64, ids ...int) {
	for _, id := range ids {
		if err := h.tr.ClearMarkup(ctx, chatID, id); err != nil {
			h.log.Debug("clear markup failed", zap.Int64("chat_id", chatID), zap.Int("message_id", id), zap.Error(err))
		}
	}
}

// expire replaces the text of retired prompts, which also drops their
// buttons. The keyboard is still cleared when the edit is refused.
func (h *Handler) expire(ctx context.Context, chatID int64, lang string, ids ...int) {
	text := h.t(lang, "prompt_expired")
	for _, id := range ids {
		if err := h.tr.EditText(ctx, chatID, id, text); err != nil {
			h.log.Debug("expire prompt failed", zap.Int64("chat_id", chatID), zap.Int("message_id", id), zap.Error(err))
			h.clear(ctx, chatID, id)
		}
	}
}
