package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// FileStore keeps the whole state as a flat JSON snapshot.
//
// Files:
//   - <prefix>.snapshot.json  (point-in-time export, rewritten on Checkpoint)
//   - <prefix>.journal.jsonl  (append-only, fsynced per mutation)
//
// Open replays the journal over the snapshot, so a crash between two
// checkpoints loses nothing that was acknowledged.
type FileStore struct {
	log *zap.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	size         int64 // end of the last acknowledged record
	writes       int

	users     map[int64]UserRecord
	subs      map[int64]map[int64]struct{}
	reminders map[int64]string
	groups    map[int64]GroupRecord
	members   map[int64]map[int64]struct{}
}

// snapshot is the on-disk document. reminders and tracked_users keep the
// time -> users and user -> groups shapes of the older JSON backups.
type snapshot struct {
	Reminders    map[string][]int64    `json:"reminders"`
	TrackedUsers map[int64][]int64     `json:"tracked_users"`
	Users        map[int64]UserRecord  `json:"users,omitempty"`
	Groups       map[int64]GroupRecord `json:"groups,omitempty"`
	Members      map[int64][]int64     `json:"members,omitempty"`
}

type journalOp string

const (
	opSaveUser     journalOp = "save_user"
	opDeleteUser   journalOp = "delete_user"
	opSubscribe    journalOp = "subscribe"
	opUnsubscribe  journalOp = "unsubscribe"
	opSetReminder  journalOp = "set_reminder"
	opClearRemind  journalOp = "clear_reminder"
	opSaveGroup    journalOp = "save_group"
	opDeleteGroup  journalOp = "delete_group"
	opAddMember    journalOp = "add_member"
	opRemoveMember journalOp = "remove_member"
)

type journalRecord struct {
	Op       journalOp    `json:"op"`
	UserID   int64        `json:"user_id,omitempty"`
	GroupID  int64        `json:"group_id,omitempty"`
	Time     string       `json:"time,omitempty"`
	UserRec  *UserRecord  `json:"user,omitempty"`
	GroupRec *GroupRecord `json:"group,omitempty"`
}

const compactEvery = 1000

func OpenFile(path string, log *zap.Logger) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("snapshot path is required for file driver")
	}
	if log == nil {
		log = zap.NewNop()
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &FileStore{
		log:          log,
		snapshotPath: prefix + ".snapshot.json",
		users:        map[int64]UserRecord{},
		subs:         map[int64]map[int64]struct{}{},
		reminders:    map[int64]string{},
		groups:       map[int64]GroupRecord{},
		members:      map[int64]map[int64]struct{}{},
	}
	journalPath := prefix + ".journal.jsonl"

	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	valid, err := s.replay(journalPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if fi, err := jf.Stat(); err == nil && fi.Size() > valid {
		if err := jf.Truncate(valid); err != nil {
			_ = jf.Close()
			return nil, err
		}
	}
	s.journal = jf
	s.size = valid
	return s, nil
}

func (s *FileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()

	var doc snapshot
	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		return err
	}
	for id, u := range doc.Users {
		u.ID = id
		s.users[id] = u
	}
	for uid, gids := range doc.TrackedUsers {
		if _, ok := s.users[uid]; !ok {
			s.users[uid] = UserRecord{ID: uid, ChatID: uid}
		}
		for _, gid := range gids {
			addPair(s.subs, uid, gid)
		}
	}
	for t, uids := range doc.Reminders {
		for _, uid := range uids {
			s.reminders[uid] = t
		}
	}
	for id, g := range doc.Groups {
		g.ID = id
		s.groups[id] = g
	}
	for gid, uids := range doc.Members {
		for _, uid := range uids {
			addPair(s.members, gid, uid)
		}
	}
	return nil
}

// replay applies every complete journal line and returns the length of the
// valid prefix. A torn tail left by a crash is cut off so new records start on
// a fresh line.
func (s *FileStore) replay(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var valid int64
	rd := bufio.NewReader(f)
	for {
		line, err := rd.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(line) > 0 {
				s.log.Warn("dropping torn journal tail", zap.Int("bytes", len(line)))
			}
			return valid, nil
		}
		if err != nil {
			return valid, err
		}
		valid += int64(len(line))

		var r journalRecord
		if err := json.Unmarshal(line, &r); err != nil {
			s.log.Warn("skipping unreadable journal line", zap.Error(err))
			continue
		}
		s.apply(r)
	}
}

func (s *FileStore) apply(r journalRecord) {
	switch r.Op {
	case opSaveUser:
		if r.UserRec != nil {
			s.users[r.UserRec.ID] = *r.UserRec
		}
	case opDeleteUser:
		delete(s.users, r.UserID)
		delete(s.subs, r.UserID)
		delete(s.reminders, r.UserID)
	case opSubscribe:
		if _, ok := s.users[r.UserID]; !ok {
			s.users[r.UserID] = UserRecord{ID: r.UserID, ChatID: r.UserID}
		}
		addPair(s.subs, r.UserID, r.GroupID)
	case opUnsubscribe:
		removePair(s.subs, r.UserID, r.GroupID)
	case opSetReminder:
		s.reminders[r.UserID] = r.Time
	case opClearRemind:
		delete(s.reminders, r.UserID)
	case opSaveGroup:
		if r.GroupRec != nil {
			s.groups[r.GroupRec.ID] = *r.GroupRec
		}
	case opDeleteGroup:
		delete(s.groups, r.GroupID)
		delete(s.members, r.GroupID)
	case opAddMember:
		addPair(s.members, r.GroupID, r.UserID)
	case opRemoveMember:
		removePair(s.members, r.GroupID, r.UserID)
	}
}

// write appends r to the journal, fsyncs, then applies it to the in-memory copy.
func (s *FileStore) write(ctx context.Context, r journalRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(r); err != nil {
		return err
	}
	// a failed append may have left a partial line behind
	fi, err := s.journal.Stat()
	if err != nil {
		return err
	}
	if fi.Size() != s.size {
		if err := s.journal.Truncate(s.size); err != nil {
			return err
		}
	}
	n, err := s.journal.Write(buf.Bytes())
	if err == nil {
		err = s.journal.Sync()
	}
	if err != nil {
		if terr := s.journal.Truncate(s.size); terr != nil {
			s.log.Error("journal rollback failed", zap.Error(terr))
		}
		return err
	}
	s.size += int64(n)
	s.apply(r)

	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compaction failed", zap.Error(err))
		}
	}
	return nil
}

func (s *FileStore) LoadAll(ctx context.Context) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &State{}
	for _, u := range s.users {
		st.Users = append(st.Users, u)
	}
	sort.Slice(st.Users, func(i, j int) bool { return st.Users[i].ID < st.Users[j].ID })

	for _, g := range s.groups {
		st.Groups = append(st.Groups, g)
	}
	sort.Slice(st.Groups, func(i, j int) bool { return st.Groups[i].ID < st.Groups[j].ID })

	for gid, uids := range s.members {
		for _, uid := range sortedKeys(uids) {
			st.Members = append(st.Members, Membership{GroupID: gid, UserID: uid})
		}
	}
	sort.SliceStable(st.Members, func(i, j int) bool { return st.Members[i].GroupID < st.Members[j].GroupID })

	for uid, gids := range s.subs {
		for _, gid := range sortedKeys(gids) {
			st.Subscriptions = append(st.Subscriptions, Subscription{UserID: uid, GroupID: gid})
		}
	}
	sort.SliceStable(st.Subscriptions, func(i, j int) bool { return st.Subscriptions[i].UserID < st.Subscriptions[j].UserID })

	for uid, t := range s.reminders {
		st.Reminders = append(st.Reminders, Reminder{UserID: uid, UTCTime: t})
	}
	sort.Slice(st.Reminders, func(i, j int) bool {
		if st.Reminders[i].UTCTime != st.Reminders[j].UTCTime {
			return st.Reminders[i].UTCTime < st.Reminders[j].UTCTime
		}
		return st.Reminders[i].UserID < st.Reminders[j].UserID
	})
	return st, nil
}

func (s *FileStore) SaveUser(ctx context.Context, u UserRecord) error {
	return s.write(ctx, journalRecord{Op: opSaveUser, UserRec: &u})
}

func (s *FileStore) DeleteUser(ctx context.Context, userID int64) error {
	return s.write(ctx, journalRecord{Op: opDeleteUser, UserID: userID})
}

func (s *FileStore) AddSubscription(ctx context.Context, userID, groupID int64) error {
	return s.write(ctx, journalRecord{Op: opSubscribe, UserID: userID, GroupID: groupID})
}

func (s *FileStore) RemoveSubscription(ctx context.Context, userID, groupID int64) error {
	return s.write(ctx, journalRecord{Op: opUnsubscribe, UserID: userID, GroupID: groupID})
}

func (s *FileStore) SetReminder(ctx context.Context, userID int64, utcTime string) error {
	return s.write(ctx, journalRecord{Op: opSetReminder, UserID: userID, Time: utcTime})
}

func (s *FileStore) ClearReminder(ctx context.Context, userID int64) error {
	return s.write(ctx, journalRecord{Op: opClearRemind, UserID: userID})
}

func (s *FileStore) SaveGroup(ctx context.Context, g GroupRecord) error {
	return s.write(ctx, journalRecord{Op: opSaveGroup, GroupRec: &g})
}

func (s *FileStore) DeleteGroup(ctx context.Context, groupID int64) error {
	return s.write(ctx, journalRecord{Op: opDeleteGroup, GroupID: groupID})
}

func (s *FileStore) AddMember(ctx context.Context, groupID, userID int64) error {
	return s.write(ctx, journalRecord{Op: opAddMember, GroupID: groupID, UserID: userID})
}

func (s *FileStore) RemoveMember(ctx context.Context, groupID, userID int64) error {
	return s.write(ctx, journalRecord{Op: opRemoveMember, GroupID: groupID, UserID: userID})
}

// Checkpoint writes a fresh snapshot and truncates the journal.
func (s *FileStore) Checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	return s.compactLocked()
}

func (s *FileStore) compactLocked() error {
	doc := snapshot{
		Reminders:    map[string][]int64{},
		TrackedUsers: map[int64][]int64{},
		Users:        s.users,
		Groups:       s.groups,
		Members:      map[int64][]int64{},
	}
	for uid := range s.users {
		doc.TrackedUsers[uid] = sortedKeys(s.subs[uid])
	}
	for uid, t := range s.reminders {
		doc.Reminders[t] = append(doc.Reminders[t], uid)
	}
	for t := range doc.Reminders {
		ids := doc.Reminders[t]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	for gid, uids := range s.members {
		doc.Members[gid] = sortedKeys(uids)
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	s.size = 0
	_, err = s.journal.Seek(0, 2)
	return err
}

// Close checkpoints and releases the journal.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}

func addPair(m map[int64]map[int64]struct{}, k, v int64) {
	set, ok := m[k]
	if !ok {
		set = map[int64]struct{}{}
		m[k] = set
	}
	set[v] = struct{}{}
}

func removePair(m map[int64]map[int64]struct{}, k, v int64) {
	set, ok := m[k]
	if !ok {
		return
	}
	delete(set, v)
	if len(set) == 0 {
		delete(m, k)
	}
}

func sortedKeys(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
