// Package storage persists tracked users, subscriptions, reminders and the
// observed group roster.
//
// Two interchangeable backends implement Store:
//   - sqlite: one row per fact, the canonical schema (schema.sql)
//   - file:   a JSON snapshot plus an append-only journal replayed on open
//
// Every mutating call is write-through: it returns only after the change is
// durable, so callers can apply the same change in memory afterwards.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

type UserRecord struct {
	ID       int64  `json:"id"`
	ChatID   int64  `json:"chat_id"`
	Username string `json:"username,omitempty"`
	Lang     string `json:"lang,omitempty"`
	TZ       string `json:"tz,omitempty"`
}

type GroupRecord struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Handle    string `json:"handle,omitempty"`
	InviteURL string `json:"invite_url,omitempty"`
}

type Subscription struct {
	UserID  int64
	GroupID int64
}

type Reminder struct {
	UserID  int64
	UTCTime string // "HH:MM"
}

type Membership struct {
	GroupID int64
	UserID  int64
}

// State is everything LoadAll hands back at startup.
type State struct {
	Users         []UserRecord
	Groups        []GroupRecord
	Members       []Membership
	Subscriptions []Subscription
	Reminders     []Reminder
}

type Store interface {
	LoadAll(ctx context.Context) (*State, error)

	SaveUser(ctx context.Context, u UserRecord) error
	// DeleteUser drops the user together with its subscriptions and reminder.
	DeleteUser(ctx context.Context, userID int64) error

	AddSubscription(ctx context.Context, userID, groupID int64) error
	RemoveSubscription(ctx context.Context, userID, groupID int64) error

	// SetReminder replaces any previous reminder of the user.
	SetReminder(ctx context.Context, userID int64, utcTime string) error
	ClearReminder(ctx context.Context, userID int64) error

	SaveGroup(ctx context.Context, g GroupRecord) error
	// DeleteGroup drops the group and its roster. Subscriptions are kept.
	DeleteGroup(ctx context.Context, groupID int64) error
	AddMember(ctx context.Context, groupID, userID int64) error
	RemoveMember(ctx context.Context, groupID, userID int64) error

	// Checkpoint folds pending writes into the backend's compact form.
	Checkpoint(ctx context.Context) error
	Close() error
}

const (
	DriverSQLite = "sqlite"
	DriverFile   = "file"
)

var ErrClosed = errors.New("storage closed")

// Open picks a backend by driver name.
func Open(driver, path string, log *zap.Logger) (Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "":
		db, err := New(path)
		if err != nil {
			return nil, err
		}
		return db, nil
	case DriverFile:
		fs, err := OpenFile(path, log)
		if err != nil {
			return nil, err
		}
		return fs, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", driver)
}
