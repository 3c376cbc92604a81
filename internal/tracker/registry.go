package tracker

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"telegram-mention-tracker/internal/models"
	"telegram-mention-tracker/internal/storage"
)

// Track starts tracking a user, subscribed to every known group whose roster
// contains them. It reports false when the user was already tracked.
func (e *Engine) Track(ctx context.Context, userID, chatID int64, username, lang string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.users[userID]; ok {
		return false, nil
	}
	u := models.NewTrackedUser(userID, chatID)
	u.Username, u.Lang = username, lang
	if err := e.store.SaveUser(ctx, userRecord(u)); err != nil {
		return false, storageErr("save user", err)
	}
	e.users[userID] = u
	if username != "" {
		e.usernames[strings.ToLower(username)] = userID
	}

	for _, gid := range e.defaultGroupsLocked(userID) {
		if err := e.store.AddSubscription(ctx, userID, gid); err != nil {
			// memory keeps only what reached the store
			return true, storageErr("subscribe", err)
		}
		u.Groups[gid] = struct{}{}
	}
	return true, nil
}

func (e *Engine) defaultGroupsLocked(userID int64) []int64 {
	var out []int64
	for id, g := range e.groups {
		if g.HasMember(userID) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Untrack stops tracking a user and retracts its reminder. The returned
// message ids are prompts that still show buttons and should be neutralised.
func (e *Engine) Untrack(ctx context.Context, userID int64) ([]int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, err := e.userLocked(userID)
	if err != nil {
		return nil, err
	}
	if err := e.store.DeleteUser(ctx, userID); err != nil {
		return nil, storageErr("delete user", err)
	}
	e.removeFromBucketLocked(u)
	delete(e.users, userID)

	stale := append([]int(nil), u.UIRefs...)
	for mid := range u.Selections {
		stale = append(stale, mid)
	}
	sort.Ints(stale)
	return stale, nil
}

func (e *Engine) IsTracked(userID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.users[userID]
	return ok
}

func (e *Engine) IsSubscribed(userID, groupID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, ok := e.users[userID]
	return ok && u.InGroup(groupID)
}

// Subscribe reports false when the user was already subscribed.
func (e *Engine) Subscribe(ctx context.Context, userID, groupID int64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, err := e.userLocked(userID)
	if err != nil {
		return false, err
	}
	if _, ok := e.groups[groupID]; !ok {
		return false, ErrGroupNotFound
	}
	return e.subscribeLocked(ctx, u, groupID)
}

func (e *Engine) subscribeLocked(ctx context.Context, u *models.TrackedUser, groupID int64) (bool, error) {
	if u.InGroup(groupID) {
		return false, nil
	}
	if err := e.store.AddSubscription(ctx, u.ID, groupID); err != nil {
		return false, storageErr("subscribe", err)
	}
	u.Groups[groupID] = struct{}{}
	return true, nil
}

// Unsubscribe reports false when the user was not subscribed. A subscription
// to a group the bot has since left can still be removed.
func (e *Engine) Unsubscribe(ctx context.Context, userID, groupID int64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, err := e.userLocked(userID)
	if err != nil {
		return false, err
	}
	if !u.InGroup(groupID) {
		if _, ok := e.groups[groupID]; !ok {
			return false, ErrGroupNotFound
		}
		return false, nil
	}
	return e.unsubscribeLocked(ctx, u, groupID)
}

func (e *Engine) unsubscribeLocked(ctx context.Context, u *models.TrackedUser, groupID int64) (bool, error) {
	if !u.InGroup(groupID) {
		return false, nil
	}
	if err := e.store.RemoveSubscription(ctx, u.ID, groupID); err != nil {
		return false, storageErr("unsubscribe", err)
	}
	delete(u.Groups, groupID)
	delete(u.Mentions, groupID)
	return true, nil
}

// AddGroup records a group the bot belongs to, or refreshes its metadata, and
// adds the given members to its roster.
func (e *Engine) AddGroup(ctx context.Context, rec storage.GroupRecord, members ...int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, ok := e.groups[rec.ID]
	if !ok || g.Title != rec.Title || g.Handle != rec.Handle || g.InviteURL != rec.InviteURL {
		if err := e.store.SaveGroup(ctx, rec); err != nil {
			return storageErr("save group", err)
		}
		if !ok {
			g = models.NewGroup(rec.ID, rec.Title)
			e.groups[rec.ID] = g
			e.log.Info("group added", zap.Int64("group_id", rec.ID), zap.String("title", rec.Title))
		}
		g.Title, g.Handle, g.InviteURL = rec.Title, rec.Handle, rec.InviteURL
	}
	for _, uid := range members {
		if err := e.addMemberLocked(ctx, g, uid); err != nil {
			return err
		}
	}
	return nil
}

// RemoveGroup drops a group after the bot was removed from it. Subscriptions
// pointing at it stay and are treated as stale.
func (e *Engine) RemoveGroup(ctx context.Context, groupID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removeGroupLocked(ctx, groupID)
}

func (e *Engine) removeGroupLocked(ctx context.Context, groupID int64) error {
	if _, ok := e.groups[groupID]; !ok {
		return ErrGroupNotFound
	}
	if err := e.store.DeleteGroup(ctx, groupID); err != nil {
		return storageErr("delete group", err)
	}
	delete(e.groups, groupID)
	e.log.Info("group removed", zap.Int64("group_id", groupID))
	return nil
}

func (e *Engine) HasGroup(groupID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.groups[groupID]
	return ok
}

func (e *Engine) AddMember(ctx context.Context, groupID, userID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.groups[groupID]
	if !ok {
		return ErrGroupNotFound
	}
	return e.addMemberLocked(ctx, g, userID)
}

func (e *Engine) addMemberLocked(ctx context.Context, g *models.Group, userID int64) error {
	if g.HasMember(userID) {
		return nil
	}
	if err := e.store.AddMember(ctx, g.ID, userID); err != nil {
		return storageErr("add member", err)
	}
	g.Members[userID] = struct{}{}
	return nil
}

func (e *Engine) RemoveMember(ctx context.Context, groupID, userID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.groups[groupID]
	if !ok {
		return ErrGroupNotFound
	}
	return e.removeMemberLocked(ctx, g, userID)
}

func (e *Engine) removeMemberLocked(ctx context.Context, g *models.Group, userID int64) error {
	if !g.HasMember(userID) {
		return nil
	}
	if err := e.store.RemoveMember(ctx, g.ID, userID); err != nil {
		return storageErr("remove member", err)
	}
	delete(g.Members, userID)
	return nil
}

// ApplyRosterEvent keeps the roster and subscriptions in step with membership changes.
func (e *Engine) ApplyRosterEvent(ctx context.Context, ev models.RosterEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if kicked, ok := ev.(models.MemberKicked); ok && e.selfID != 0 && kicked.UserID == e.selfID {
		return e.removeGroupLocked(ctx, kicked.GroupID)
	}
	if left, ok := ev.(models.MemberLeft); ok && e.selfID != 0 && left.UserID == e.selfID {
		return e.removeGroupLocked(ctx, left.GroupID)
	}

	g, ok := e.groups[ev.Group()]
	if !ok {
		return ErrGroupNotFound
	}
	u := e.users[ev.User()]

	switch ev := ev.(type) {
	case models.MemberJoined:
		if ev.Username != "" {
			e.usernames[strings.ToLower(ev.Username)] = ev.UserID
		}
		if err := e.addMemberLocked(ctx, g, ev.UserID); err != nil {
			return err
		}
		if u != nil {
			if _, err := e.subscribeLocked(ctx, u, g.ID); err != nil {
				return err
			}
		}
	case models.MemberLeft, models.MemberKicked:
		if err := e.removeMemberLocked(ctx, g, ev.User()); err != nil {
			return err
		}
		if u != nil {
			if _, err := e.unsubscribeLocked(ctx, u, g.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// ObserveUser remembers a username so "@name" mentions can be resolved.
func (e *Engine) ObserveUser(userID int64, username string) {
	if username == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.usernames[strings.ToLower(username)] = userID
}

func (e *Engine) ResolveUsername(username string) (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.usernames[strings.ToLower(strings.TrimPrefix(username, "@"))]
	return id, ok
}

// GroupView is a group as presented to one user.
type GroupView struct {
	ID         int64
	Title      string
	Label      string
	Subscribed bool
}

// GroupsFor lists the known groups whose roster contains the user.
func (e *Engine) GroupsFor(userID int64) ([]GroupView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, err := e.userLocked(userID)
	if err != nil {
		return nil, err
	}
	var out []GroupView
	for _, g := range e.groups {
		if !g.HasMember(userID) {
			continue
		}
		out = append(out, GroupView{ID: g.ID, Title: g.Title, Label: g.Label(), Subscribed: u.InGroup(g.ID)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Group returns one group's view without user context.
func (e *Engine) Group(groupID int64) (GroupView, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.groups[groupID]
	if !ok {
		return GroupView{}, false
	}
	return GroupView{ID: g.ID, Title: g.Title, Label: g.Label()}, true
}

// Groups lists every known group's stored metadata.
func (e *Engine) Groups() []storage.GroupRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]storage.GroupRecord, 0, len(e.groups))
	for _, g := range e.groups {
		out = append(out, storage.GroupRecord{ID: g.ID, Title: g.Title, Handle: g.Handle, InviteURL: g.InviteURL})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PushUIRef records a subscribe/unsubscribe prompt shown to the user.
func (e *Engine) PushUIRef(userID int64, messageID int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if u, ok := e.users[userID]; ok {
		u.UIRefs = append(u.UIRefs, messageID)
	}
}

// TakeUIRefs returns and forgets the user's open subscribe/unsubscribe prompts.
func (e *Engine) TakeUIRefs(userID int64) []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, ok := e.users[userID]
	if !ok {
		return nil
	}
	refs := u.UIRefs
	u.UIRefs = nil
	return refs
}

// DropUIRef forgets a single prompt once its button was used.
func (e *Engine) DropUIRef(userID int64, messageID int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, ok := e.users[userID]
	if !ok {
		return
	}
	for i, id := range u.UIRefs {
		if id == messageID {
			u.UIRefs = append(u.UIRefs[:i], u.UIRefs[i+1:]...)
			return
		}
	}
}
