package handlers

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"telegram-mention-tracker/internal/scheduler"
	"telegram-mention-tracker/internal/tracker"
)

// Deliver sends the digests owed at one tick. A failing user does not hold
// back the others.
func (h *Handler) Deliver(ctx context.Context, t scheduler.Tick) {
	due := h.eng.Due(t.At)
	if len(due) == 0 {
		return
	}
	log := h.log.With(zap.String("tick_id", t.ID), zap.Time("at", t.At))
	log.Info("delivering reminders", zap.Int("users", len(due)))

	for _, d := range due {
		if err := ctx.Err(); err != nil {
			log.Warn("delivery interrupted", zap.Error(err))
			return
		}
		if err := h.sendMentions(ctx, d.ChatID, d.Lang, d.Groups); err != nil {
			log.Warn("delivery incomplete", zap.Int64("user_id", d.UserID), zap.Error(err))
		}
	}
}

// sendMentions posts a header per group followed by the forwarded messages.
// Forwards that fail are reported to the user and the next group is tried.
func (h *Handler) sendMentions(ctx context.Context, chatID int64, lang string, groups []tracker.GroupMentions) error {
	if len(groups) == 0 {
		_, err := h.tr.Send(ctx, chatID, h.t(lang, "no_mentions"), nil)
		return err
	}

	var errs []error
	for _, g := range groups {
		label := g.Label
		if !g.Known {
			label = h.t(lang, "unknown_group")
		}
		if _, err := h.tr.Send(ctx, chatID, h.t(lang, "mentions_in", label), nil); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := h.tr.Forward(ctx, chatID, g.GroupID, g.MessageIDs); err != nil {
			errs = append(errs, err)
			h.send(ctx, chatID, h.t(lang, "forward_failed", label))
		}
	}
	return errors.Join(errs...)
}
