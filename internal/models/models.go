package models

import (
	"fmt"
	"html"
)

// TrackedUser is a user who opted into mention tracking.
type TrackedUser struct {
	ID       int64  `json:"id"`
	ChatID   int64  `json:"chat_id"` // private chat used to reach the user
	Username string `json:"username,omitempty"`
	Lang     string `json:"lang,omitempty"`
	TZ       string `json:"tz,omitempty"` // empty -> process default

	Groups   map[int64]struct{} `json:"-"`
	Mentions map[int64][]int    `json:"-"` // group id -> message ids since last drain

	// UIRefs are subscribe/unsubscribe prompts still showing buttons.
	UIRefs     []int              `json:"-"`
	Selections map[int]*Selection `json:"-"` // prompt message id -> partial reminder time

	ReminderTime string `json:"reminder_time,omitempty"` // "HH:MM" UTC, empty when unset
}

func NewTrackedUser(id, chatID int64) *TrackedUser {
	return &TrackedUser{
		ID:         id,
		ChatID:     chatID,
		Groups:     make(map[int64]struct{}),
		Mentions:   make(map[int64][]int),
		Selections: make(map[int]*Selection),
	}
}

func (u *TrackedUser) InGroup(groupID int64) bool {
	_, ok := u.Groups[groupID]
	return ok
}

// Group is a chat the bot belongs to.
type Group struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Handle    string `json:"handle,omitempty"`     // public @username without the @
	InviteURL string `json:"invite_url,omitempty"` // nil unless the bot can export one

	Members map[int64]struct{} `json:"-"`
}

func NewGroup(id int64, title string) *Group {
	return &Group{ID: id, Title: title, Members: make(map[int64]struct{})}
}

func (g *Group) HasMember(userID int64) bool {
	_, ok := g.Members[userID]
	return ok
}

// Label renders the group for HTML messages: @handle, a titled invite link, or the bare title.
func (g *Group) Label() string {
	switch {
	case g.Handle != "":
		return "@" + g.Handle
	case g.InviteURL != "":
		return fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(g.InviteURL), html.EscapeString(g.Title))
	default:
		return html.EscapeString(g.Title)
	}
}
