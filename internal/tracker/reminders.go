package tracker

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"telegram-mention-tracker/internal/models"
	"telegram-mention-tracker/internal/storage"
)

// OpenSelection registers a freshly sent hour/minute prompt for the user.
func (e *Engine) OpenSelection(userID int64, promptID int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, err := e.userLocked(userID)
	if err != nil {
		return err
	}
	u.Selections[promptID] = &models.Selection{}
	return nil
}

// SelectResult describes the prompt after one button press.
type SelectResult struct {
	State  models.SelectionState
	Hour   string // zero-padded, empty until picked
	Minute string
	Local  string // "HH:MM" in the user's zone, set once complete
	UTC    string
	Stale  []int // other prompts of the user that must lose their buttons
}

// Select fills one slot of a pending selection. When both slots are set the
// reminder is persisted, moved to its new bucket and every pending prompt of
// the user is dropped.
func (e *Engine) Select(ctx context.Context, userID int64, promptID int, slot models.Slot, raw string) (SelectResult, error) {
	value, err := normalizeSlot(slot, raw)
	if err != nil {
		return SelectResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	u, err := e.userLocked(userID)
	if err != nil {
		return SelectResult{}, err
	}
	sel, ok := u.Selections[promptID]
	if !ok {
		return SelectResult{}, fmt.Errorf("%w: unknown prompt %d", ErrInvalidSelection, promptID)
	}

	next := *sel
	res := SelectResult{State: next.Set(slot, value)}
	res.Hour, res.Minute = next.Hour, next.Minute
	local, done := next.Clock()
	if !done {
		*sel = next
		return res, nil
	}

	utc, err := LocalToUTC(local, e.locationLocked(u), e.clock.Now())
	if err != nil {
		return SelectResult{}, fmt.Errorf("%w: %w", ErrInvalidSelection, err)
	}
	if err := e.setReminderLocked(ctx, u, utc); err != nil {
		return SelectResult{}, err
	}

	for id := range u.Selections {
		if id != promptID {
			res.Stale = append(res.Stale, id)
		}
	}
	sort.Ints(res.Stale)
	u.Selections = make(map[int]*models.Selection)

	res.Local, res.UTC = local, utc
	e.log.Info("reminder set", zap.Int64("user_id", userID), zap.String("local", local), zap.String("utc", utc))
	return res, nil
}

func normalizeSlot(slot models.Slot, raw string) (string, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidSelection, raw)
	}
	limit := 59
	if slot == models.SlotHour {
		limit = 23
	}
	if n < 0 || n > limit {
		return "", fmt.Errorf("%w: %d out of range", ErrInvalidSelection, n)
	}
	return fmt.Sprintf("%02d", n), nil
}

// setReminderLocked persists utc and moves the user to that bucket, leaving the old one first.
func (e *Engine) setReminderLocked(ctx context.Context, u *models.TrackedUser, utc string) error {
	if err := e.store.SetReminder(ctx, u.ID, utc); err != nil {
		return storageErr("set reminder", err)
	}
	e.removeFromBucketLocked(u)
	e.addToBucketLocked(u, utc)
	return nil
}

func (e *Engine) addToBucketLocked(u *models.TrackedUser, utc string) {
	e.removeFromBucketLocked(u)
	set, ok := e.reminders[utc]
	if !ok {
		set = make(map[int64]struct{})
		e.reminders[utc] = set
	}
	set[u.ID] = struct{}{}
	u.ReminderTime = utc
}

func (e *Engine) removeFromBucketLocked(u *models.TrackedUser) {
	if u.ReminderTime == "" {
		return
	}
	if set, ok := e.reminders[u.ReminderTime]; ok {
		delete(set, u.ID)
		if len(set) == 0 {
			delete(e.reminders, u.ReminderTime)
		}
	}
	u.ReminderTime = ""
}

// ClearReminder removes the user's daily reminder. It reports false when none was set.
func (e *Engine) ClearReminder(ctx context.Context, userID int64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, err := e.userLocked(userID)
	if err != nil {
		return false, err
	}
	if u.ReminderTime == "" {
		return false, nil
	}
	if err := e.store.ClearReminder(ctx, userID); err != nil {
		return false, storageErr("clear reminder", err)
	}
	e.removeFromBucketLocked(u)
	return true, nil
}

// SetTimezone stores the user's zone. An existing reminder keeps its UTC minute.
func (e *Engine) SetTimezone(ctx context.Context, userID int64, tz string) (*time.Location, error) {
	loc, err := ParseTZ(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTimezone, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	u, err := e.userLocked(userID)
	if err != nil {
		return nil, err
	}
	rec := userRecord(u)
	rec.TZ = loc.String()
	if err := e.store.SaveUser(ctx, rec); err != nil {
		return nil, storageErr("save user", err)
	}
	u.TZ = rec.TZ
	return loc, nil
}

// GroupMentions is one group's share of a delivery.
type GroupMentions struct {
	GroupID    int64
	Label      string
	Known      bool // false when the bot has since left the group
	MessageIDs []int
}

// Delivery is the digest owed to one user at a tick.
type Delivery struct {
	UserID int64
	ChatID int64
	Lang   string
	Groups []GroupMentions
}

// Due drains the pending mentions of every user whose reminder falls on the
// minute of now. Users stay in their bucket; the reminder repeats daily.
func (e *Engine) Due(now time.Time) []Delivery {
	key := now.UTC().Format("15:04")

	e.mu.Lock()
	defer e.mu.Unlock()

	ids := sortedIDs(e.reminders[key])
	out := make([]Delivery, 0, len(ids))
	for _, uid := range ids {
		u, ok := e.users[uid]
		if !ok || u.ReminderTime != key {
			e.log.Warn("bucket entry without tracked user", zap.Int64("user_id", uid), zap.String("utc", key))
			continue
		}
		out = append(out, Delivery{
			UserID: u.ID,
			ChatID: u.ChatID,
			Lang:   u.Lang,
			Groups: e.groupMentionsLocked(drainLocked(u)),
		})
	}
	return out
}

// PullMentions drains the user's pending mentions on request.
func (e *Engine) PullMentions(userID int64) ([]GroupMentions, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, err := e.userLocked(userID)
	if err != nil {
		return nil, err
	}
	return e.groupMentionsLocked(drainLocked(u)), nil
}

func (e *Engine) groupMentionsLocked(drained map[int64][]int) []GroupMentions {
	if len(drained) == 0 {
		return nil
	}
	out := make([]GroupMentions, 0, len(drained))
	for gid, ids := range drained {
		gm := GroupMentions{GroupID: gid, MessageIDs: ids}
		if g, ok := e.groups[gid]; ok {
			gm.Label, gm.Known = g.Label(), true
		}
		out = append(out, gm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out
}

// Snapshot exports the durable part of the live state in the same shape the store loads.
func (e *Engine) Snapshot() *storage.State {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := &storage.State{}
	for _, uid := range sortedUserIDs(e.users) {
		u := e.users[uid]
		st.Users = append(st.Users, userRecord(u))
		for _, gid := range sortedIDs(u.Groups) {
			st.Subscriptions = append(st.Subscriptions, storage.Subscription{UserID: uid, GroupID: gid})
		}
	}
	keys := make([]string, 0, len(e.reminders))
	for t := range e.reminders {
		keys = append(keys, t)
	}
	sort.Strings(keys)
	for _, t := range keys {
		for _, uid := range sortedIDs(e.reminders[t]) {
			st.Reminders = append(st.Reminders, storage.Reminder{UserID: uid, UTCTime: t})
		}
	}
	gids := make(map[int64]struct{}, len(e.groups))
	for gid := range e.groups {
		gids[gid] = struct{}{}
	}
	for _, gid := range sortedIDs(gids) {
		g := e.groups[gid]
		st.Groups = append(st.Groups, storage.GroupRecord{ID: g.ID, Title: g.Title, Handle: g.Handle, InviteURL: g.InviteURL})
		for _, uid := range sortedIDs(g.Members) {
			st.Members = append(st.Members, storage.Membership{GroupID: gid, UserID: uid})
		}
	}
	return st
}

func sortedUserIDs(users map[int64]*models.TrackedUser) []int64 {
	out := make([]int64, 0, len(users))
	for id := range users {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
