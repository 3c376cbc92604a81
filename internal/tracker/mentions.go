package tracker

import "telegram-mention-tracker/internal/models"

// RecordMention adds one message to the user's pending list for the group.
// Mentions of users who are not tracked or not subscribed to the group are dropped.
func (e *Engine) RecordMention(userID, groupID int64, messageID int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recordLocked(userID, groupID, messageID)
}

func (e *Engine) recordLocked(userID, groupID int64, messageID int) bool {
	u, ok := e.users[userID]
	if !ok || !u.InGroup(groupID) {
		return false
	}
	for _, id := range u.Mentions[groupID] {
		if id == messageID {
			return false
		}
	}
	u.Mentions[groupID] = append(u.Mentions[groupID], messageID)
	return true
}

// RecordMessage records every mention carried by one group message. When
// everyone is set, each subscribed member of the group not in explicit gets
// the message too. It returns how many users recorded it.
func (e *Engine) RecordMessage(groupID int64, messageID int, explicit []int64, everyone bool) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	seen := make(map[int64]struct{}, len(explicit))
	for _, uid := range explicit {
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		if e.recordLocked(uid, groupID, messageID) {
			n++
		}
	}
	if !everyone {
		return n
	}
	for uid, u := range e.users {
		if _, ok := seen[uid]; ok || !u.InGroup(groupID) {
			continue
		}
		if e.recordLocked(uid, groupID, messageID) {
			n++
		}
	}
	return n
}

// Drain returns and clears the user's pending mentions, keyed by group.
func (e *Engine) Drain(userID int64) map[int64][]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, ok := e.users[userID]
	if !ok {
		return nil
	}
	return drainLocked(u)
}

func drainLocked(u *models.TrackedUser) map[int64][]int {
	if len(u.Mentions) == 0 {
		return nil
	}
	out := u.Mentions
	u.Mentions = make(map[int64][]int)
	return out
}

// Pending reports how many mentions wait for the user in total.
func (e *Engine) Pending(userID int64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, ok := e.users[userID]
	if !ok {
		return 0
	}
	n := 0
	for _, ids := range u.Mentions {
		n += len(ids)
	}
	return n
}
