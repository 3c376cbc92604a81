package handlers

import (
	"context"
	"errors"
	"strings"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"telegram-mention-tracker/internal/models"
	"telegram-mention-tracker/internal/storage"
	"telegram-mention-tracker/internal/telegram"
	"telegram-mention-tracker/internal/tracker"
)

// handleGroup keeps the roster current and records the mentions a group
// message carries.
func (h *Handler) handleGroup(ctx context.Context, msg *tgbotapi.Message) {
	gid := msg.Chat.ID

	if left := msg.LeftChatMember; left != nil && h.isSelf(left.ID) {
		h.applyRoster(ctx, models.MemberKicked{GroupID: gid, UserID: left.ID})
		return
	}
	if !h.eng.HasGroup(gid) && !h.observeGroup(ctx, msg.Chat) {
		return
	}

	if from := msg.From; from != nil && !from.IsBot && (msg.LeftChatMember == nil || msg.LeftChatMember.ID != from.ID) {
		h.eng.ObserveUser(from.ID, from.UserName)
		if err := h.eng.AddMember(ctx, gid, from.ID); err != nil {
			h.log.Warn("add member failed", zap.Int64("group_id", gid), zap.Int64("user_id", from.ID), zap.Error(err))
		}
	}

	for _, u := range msg.NewChatMembers {
		if u.IsBot {
			continue
		}
		h.applyRoster(ctx, models.MemberJoined{GroupID: gid, UserID: u.ID, Username: u.UserName})
	}
	if left := msg.LeftChatMember; left != nil {
		h.applyRoster(ctx, leaveEvent(gid, msg.From, left))
		return
	}

	explicit, everyone := h.extractMentions(msg)
	if len(explicit) == 0 && !everyone {
		return
	}
	n := h.eng.RecordMessage(gid, msg.MessageID, explicit, everyone)
	h.log.Debug("mentions recorded",
		zap.Int64("group_id", gid), zap.Int("message_id", msg.MessageID),
		zap.Int("explicit", len(explicit)), zap.Bool("everyone", everyone), zap.Int("recorded", n))
}

// leaveEvent tells a voluntary leave from a removal by someone else.
func leaveEvent(groupID int64, from, left *tgbotapi.User) models.RosterEvent {
	if from == nil || from.ID == left.ID {
		return models.MemberLeft{GroupID: groupID, UserID: left.ID}
	}
	return models.MemberKicked{GroupID: groupID, UserID: left.ID}
}

// HandleMyChatMember follows the bot's own membership in groups.
func (h *Handler) HandleMyChatMember(ctx context.Context, upd *tgbotapi.ChatMemberUpdated) {
	if !upd.Chat.IsGroup() && !upd.Chat.IsSuperGroup() {
		return
	}
	switch upd.NewChatMember.Status {
	case "left", "kicked":
		h.applyRoster(ctx, models.MemberKicked{GroupID: upd.Chat.ID, UserID: h.botID})
	case "member", "administrator", "creator":
		if !h.eng.HasGroup(upd.Chat.ID) {
			chat := upd.Chat
			h.observeGroup(ctx, &chat, upd.From.ID)
		}
	}
}

func (h *Handler) isSelf(userID int64) bool { return h.botID != 0 && userID == h.botID }

func (h *Handler) applyRoster(ctx context.Context, ev models.RosterEvent) {
	err := h.eng.ApplyRosterEvent(ctx, ev)
	switch {
	case err == nil:
	case errors.Is(err, tracker.ErrGroupNotFound):
		h.log.Debug("roster event for unknown group", zap.Int64("group_id", ev.Group()))
	default:
		h.log.Error("roster update failed",
			zap.Int64("group_id", ev.Group()), zap.Int64("user_id", ev.User()), zap.Error(err))
	}
}

// observeGroup registers a group seen for the first time. The roster is
// seeded with its administrators and any extra ids.
func (h *Handler) observeGroup(ctx context.Context, chat *tgbotapi.Chat, extra ...int64) bool {
	rec := storage.GroupRecord{ID: chat.ID, Title: chat.Title, Handle: chat.UserName}
	if info, err := h.tr.ChatInfo(ctx, chat.ID); err == nil {
		rec = mergeInfo(rec, info)
	} else {
		h.log.Debug("chat info unavailable", zap.Int64("group_id", chat.ID), zap.Error(err))
	}

	members := h.admins(ctx, chat.ID)
	for _, id := range extra {
		if id != 0 && !h.isSelf(id) {
			members = append(members, id)
		}
	}
	if err := h.eng.AddGroup(ctx, rec, members...); err != nil {
		h.log.Error("add group failed", zap.Int64("group_id", chat.ID), zap.Error(err))
		return false
	}
	return true
}

func (h *Handler) admins(ctx context.Context, groupID int64) []int64 {
	ids, err := h.tr.Administrators(ctx, groupID)
	if err != nil {
		h.log.Warn("administrators unavailable", zap.Int64("group_id", groupID), zap.Error(err))
		return nil
	}
	return ids
}

func mergeInfo(rec storage.GroupRecord, info telegram.ChatInfo) storage.GroupRecord {
	if info.Title != "" {
		rec.Title = info.Title
	}
	if info.Handle != "" {
		rec.Handle = info.Handle
	}
	if info.InviteURL != "" {
		rec.InviteURL = info.InviteURL
	}
	return rec
}

// RefreshGroups re-reads title, handle, invite link and administrators of
// every known group.
func (h *Handler) RefreshGroups(ctx context.Context) error {
	var errs []error
	for _, rec := range h.eng.Groups() {
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := h.tr.ChatInfo(ctx, rec.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := h.eng.AddGroup(ctx, mergeInfo(rec, info), h.admins(ctx, rec.ID)...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// extractMentions lists the users a message mentions by id or @name and
// reports whether it carries a mention-everyone marker.
func (h *Handler) extractMentions(msg *tgbotapi.Message) ([]int64, bool) {
	text, entities := msg.Text, msg.Entities
	if text == "" {
		text, entities = msg.Caption, msg.CaptionEntities
	}
	if text == "" {
		return nil, false
	}

	var ids []int64
	everyone := false
	units := utf16.Encode([]rune(text))
	for _, e := range entities {
		switch e.Type {
		case "text_mention":
			if e.User != nil {
				ids = append(ids, e.User.ID)
			}
		case "mention":
			if e.Offset < 0 || e.Length <= 0 || e.Offset+e.Length > len(units) {
				continue
			}
			name := string(utf16.Decode(units[e.Offset : e.Offset+e.Length]))
			if h.isEveryone(name) {
				everyone = true
				continue
			}
			if id, ok := h.eng.ResolveUsername(name); ok {
				ids = append(ids, id)
			}
		}
	}
	if !everyone {
		for _, word := range strings.Fields(text) {
			if h.isEveryone(strings.TrimRight(word, ".,!?:;")) {
				everyone = true
				break
			}
		}
	}
	return ids, everyone
}

func (h *Handler) isEveryone(token string) bool {
	_, ok := h.everyone[strings.ToLower(token)]
	return ok
}
