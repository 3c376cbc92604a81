// Package tracker holds the in-memory state of the bot: tracked users, the
// group roster, pending mentions and the reminder buckets.
//
// All of it sits behind one mutex. Every mutation is written through the
// storage.Store first and applied in memory only when the write succeeded, so
// the two never diverge.
package tracker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"telegram-mention-tracker/internal/models"
	"telegram-mention-tracker/internal/storage"
)

type Engine struct {
	mu sync.Mutex

	store      storage.Store
	log        *zap.Logger
	clock      clockwork.Clock
	defaultLoc *time.Location
	selfID     int64

	users     map[int64]*models.TrackedUser
	groups    map[int64]*models.Group
	reminders map[string]map[int64]struct{} // "HH:MM" UTC -> user ids, never empty
	usernames map[string]int64              // lower-case username -> user id
}

type Option func(*Engine)

func WithLogger(log *zap.Logger) Option { return func(e *Engine) { e.log = log } }

func WithClock(c clockwork.Clock) Option { return func(e *Engine) { e.clock = c } }

// WithSelfID lets roster events recognise the bot's own removal from a group.
func WithSelfID(id int64) Option { return func(e *Engine) { e.selfID = id } }

func New(store storage.Store, defaultTZ string, opts ...Option) (*Engine, error) {
	loc, err := ParseTZ(defaultTZ)
	if err != nil {
		return nil, fmt.Errorf("default timezone: %w", err)
	}
	e := &Engine{
		store:      store,
		log:        zap.NewNop(),
		clock:      clockwork.NewRealClock(),
		defaultLoc: loc,
		users:      make(map[int64]*models.TrackedUser),
		groups:     make(map[int64]*models.Group),
		reminders:  make(map[string]map[int64]struct{}),
		usernames:  make(map[string]int64),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Load replaces the in-memory state with what the store holds. Called once at startup.
func (e *Engine) Load(ctx context.Context) error {
	st, err := e.store.LoadAll(ctx)
	if err != nil {
		return storageErr("load", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.users = make(map[int64]*models.TrackedUser, len(st.Users))
	e.groups = make(map[int64]*models.Group, len(st.Groups))
	e.reminders = make(map[string]map[int64]struct{})
	e.usernames = make(map[string]int64)

	for _, r := range st.Users {
		u := userFromRecord(r)
		e.users[u.ID] = u
		if u.Username != "" {
			e.usernames[strings.ToLower(u.Username)] = u.ID
		}
	}
	for _, r := range st.Groups {
		g := models.NewGroup(r.ID, r.Title)
		g.Handle, g.InviteURL = r.Handle, r.InviteURL
		e.groups[g.ID] = g
	}
	for _, m := range st.Members {
		if g, ok := e.groups[m.GroupID]; ok {
			g.Members[m.UserID] = struct{}{}
		}
	}
	for _, s := range st.Subscriptions {
		u, ok := e.users[s.UserID]
		if !ok {
			// private chat id equals the user id on Telegram
			u = models.NewTrackedUser(s.UserID, s.UserID)
			e.users[u.ID] = u
		}
		u.Groups[s.GroupID] = struct{}{}
	}
	for _, r := range st.Reminders {
		u, ok := e.users[r.UserID]
		if !ok {
			e.log.Warn("reminder for unknown user skipped", zap.Int64("user_id", r.UserID), zap.String("utc", r.UTCTime))
			continue
		}
		e.addToBucketLocked(u, r.UTCTime)
	}

	e.log.Info("state loaded",
		zap.Int("users", len(e.users)),
		zap.Int("groups", len(e.groups)),
		zap.Int("reminder_buckets", len(e.reminders)),
	)
	return nil
}

func userFromRecord(r storage.UserRecord) *models.TrackedUser {
	u := models.NewTrackedUser(r.ID, r.ChatID)
	u.Username, u.Lang, u.TZ = r.Username, r.Lang, r.TZ
	return u
}

func userRecord(u *models.TrackedUser) storage.UserRecord {
	return storage.UserRecord{ID: u.ID, ChatID: u.ChatID, Username: u.Username, Lang: u.Lang, TZ: u.TZ}
}

// Checkpoint asks the store to compact. Safe to call from a recover handler.
func (e *Engine) Checkpoint(ctx context.Context) error {
	if err := e.store.Checkpoint(ctx); err != nil {
		return storageErr("checkpoint", err)
	}
	return nil
}

func (e *Engine) userLocked(userID int64) (*models.TrackedUser, error) {
	u, ok := e.users[userID]
	if !ok {
		return nil, ErrUserNotTracked
	}
	return u, nil
}

func (e *Engine) locationLocked(u *models.TrackedUser) *time.Location {
	if u.TZ == "" {
		return e.defaultLoc
	}
	loc, err := ParseTZ(u.TZ)
	if err != nil {
		e.log.Warn("stored timezone unreadable, using default", zap.Int64("user_id", u.ID), zap.String("tz", u.TZ))
		return e.defaultLoc
	}
	return loc
}

// UserStatus is what the status command shows.
type UserStatus struct {
	TZ            string
	ReminderUTC   string
	ReminderLocal string
	Groups        int
	Pending       int
}

func (e *Engine) Status(userID int64) (UserStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, err := e.userLocked(userID)
	if err != nil {
		return UserStatus{}, err
	}
	loc := e.locationLocked(u)
	st := UserStatus{TZ: loc.String(), ReminderUTC: u.ReminderTime, Groups: len(u.Groups)}
	if u.ReminderTime != "" {
		st.ReminderLocal, _ = UTCToLocal(u.ReminderTime, loc, e.clock.Now())
	}
	for _, ids := range u.Mentions {
		st.Pending += len(ids)
	}
	return st, nil
}

// Lang returns the stored language of a tracked user, or "".
func (e *Engine) Lang(userID int64) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if u, ok := e.users[userID]; ok {
		return u.Lang
	}
	return ""
}

// CheckInvariants verifies the bucket table against the per-user reminder times.
func (e *Engine) CheckInvariants() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for t, set := range e.reminders {
		if len(set) == 0 {
			return fmt.Errorf("bucket %s is empty", t)
		}
		for uid := range set {
			u, ok := e.users[uid]
			if !ok {
				return fmt.Errorf("bucket %s holds untracked user %d", t, uid)
			}
			if u.ReminderTime != t {
				return fmt.Errorf("bucket %s holds user %d whose reminder is %q", t, uid, u.ReminderTime)
			}
		}
	}
	for uid, u := range e.users {
		if u.ReminderTime == "" {
			continue
		}
		if _, ok := e.reminders[u.ReminderTime][uid]; !ok {
			return fmt.Errorf("user %d reminder %s missing from its bucket", uid, u.ReminderTime)
		}
	}
	return nil
}

// Bucket lists the users scheduled at a UTC "HH:MM".
func (e *Engine) Bucket(utc string) []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sortedIDs(e.reminders[utc])
}

func sortedIDs(set map[int64]struct{}) []int64 {
	if len(set) == 0 {
		return nil
	}
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
