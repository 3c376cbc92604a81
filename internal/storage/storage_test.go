package storage

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

type opener func(t *testing.T, dir string) Store

func backends() map[string]opener {
	return map[string]opener{
		DriverSQLite: func(t *testing.T, dir string) Store {
			t.Helper()
			s, err := Open(DriverSQLite, filepath.Join(dir, "bot.db"), nil)
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			return s
		},
		DriverFile: func(t *testing.T, dir string) Store {
			t.Helper()
			s, err := Open(DriverFile, filepath.Join(dir, "backup", "state.json"), nil)
			if err != nil {
				t.Fatalf("open file: %v", err)
			}
			return s
		},
	}
}

func TestEmptyStorageIsCreated(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t, t.TempDir())
			defer s.Close()

			st, err := s.LoadAll(context.Background())
			if err != nil {
				t.Fatalf("LoadAll: %v", err)
			}
			if len(st.Users)+len(st.Subscriptions)+len(st.Reminders)+len(st.Groups)+len(st.Members) != 0 {
				t.Fatalf("fresh storage not empty: %+v", st)
			}
		})
	}
}

func TestSubscriptionSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			s := open(t, dir)
			if err := s.SaveUser(ctx, UserRecord{ID: 7, ChatID: 7}); err != nil {
				t.Fatal(err)
			}
			if err := s.AddSubscription(ctx, 7, 3); err != nil {
				t.Fatal(err)
			}
			// duplicate pair must not produce a second row
			if err := s.AddSubscription(ctx, 7, 3); err != nil {
				t.Fatal(err)
			}
			if err := s.Close(); err != nil {
				t.Fatal(err)
			}

			s = open(t, dir)
			defer s.Close()
			st, err := s.LoadAll(ctx)
			if err != nil {
				t.Fatal(err)
			}
			want := []Subscription{{UserID: 7, GroupID: 3}}
			if !reflect.DeepEqual(st.Subscriptions, want) {
				t.Fatalf("subscriptions = %+v, want %+v", st.Subscriptions, want)
			}
			if len(st.Reminders) != 0 {
				t.Fatalf("unexpected reminders %+v", st.Reminders)
			}
		})
	}
}

func TestReminderIsOnePerUser(t *testing.T) {
	ctx := context.Background()
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			s := open(t, dir)
			_ = s.SaveUser(ctx, UserRecord{ID: 1, ChatID: 1, TZ: "+0300"})
			_ = s.SaveUser(ctx, UserRecord{ID: 2, ChatID: 2})
			if err := s.SetReminder(ctx, 1, "06:00"); err != nil {
				t.Fatal(err)
			}
			if err := s.SetReminder(ctx, 1, "07:30"); err != nil {
				t.Fatal(err)
			}
			if err := s.SetReminder(ctx, 2, "06:00"); err != nil {
				t.Fatal(err)
			}
			if err := s.ClearReminder(ctx, 2); err != nil {
				t.Fatal(err)
			}
			_ = s.Close()

			s = open(t, dir)
			defer s.Close()
			st, err := s.LoadAll(ctx)
			if err != nil {
				t.Fatal(err)
			}
			want := []Reminder{{UserID: 1, UTCTime: "07:30"}}
			if !reflect.DeepEqual(st.Reminders, want) {
				t.Fatalf("reminders = %+v, want %+v", st.Reminders, want)
			}
			if len(st.Users) != 2 || st.Users[0].TZ != "+0300" {
				t.Fatalf("users = %+v", st.Users)
			}
		})
	}
}

func TestDeleteUserDropsEverything(t *testing.T) {
	ctx := context.Background()
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t, t.TempDir())
			defer s.Close()
			_ = s.SaveUser(ctx, UserRecord{ID: 5, ChatID: 5})
			_ = s.AddSubscription(ctx, 5, 10)
			_ = s.SetReminder(ctx, 5, "12:00")

			if err := s.DeleteUser(ctx, 5); err != nil {
				t.Fatal(err)
			}
			st, err := s.LoadAll(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(st.Users)+len(st.Subscriptions)+len(st.Reminders) != 0 {
				t.Fatalf("leftovers after delete: %+v", st)
			}
		})
	}
}

func TestDeleteGroupKeepsSubscriptions(t *testing.T) {
	ctx := context.Background()
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t, t.TempDir())
			defer s.Close()
			_ = s.SaveGroup(ctx, GroupRecord{ID: -100, Title: "team", Handle: "team"})
			_ = s.AddMember(ctx, -100, 1)
			_ = s.AddMember(ctx, -100, 2)
			_ = s.RemoveMember(ctx, -100, 2)
			_ = s.SaveUser(ctx, UserRecord{ID: 1, ChatID: 1})
			_ = s.AddSubscription(ctx, 1, -100)

			st, _ := s.LoadAll(ctx)
			if want := []Membership{{GroupID: -100, UserID: 1}}; !reflect.DeepEqual(st.Members, want) {
				t.Fatalf("members = %+v, want %+v", st.Members, want)
			}

			if err := s.DeleteGroup(ctx, -100); err != nil {
				t.Fatal(err)
			}
			st, _ = s.LoadAll(ctx)
			if len(st.Groups) != 0 || len(st.Members) != 0 {
				t.Fatalf("group left behind: %+v", st)
			}
			if len(st.Subscriptions) != 1 {
				t.Fatalf("subscription should stay: %+v", st.Subscriptions)
			}
		})
	}
}

func TestFileJournalReplayWithoutCheckpoint(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	s, err := OpenFile(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = s.SaveUser(ctx, UserRecord{ID: 9, ChatID: 9})
	_ = s.AddSubscription(ctx, 9, 4)
	_ = s.SetReminder(ctx, 9, "08:15")
	// simulate a crash: drop the handle without Close, then tear the last line
	_ = s.journal.Close()
	jf, err := os.OpenFile(filepath.Join(dir, "state.journal.jsonl"), os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = jf.WriteString(`{"op":"subscr`)
	_ = jf.Close()

	s, err = OpenFile(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	st, _ := s.LoadAll(ctx)
	if want := []Subscription{{UserID: 9, GroupID: 4}}; !reflect.DeepEqual(st.Subscriptions, want) {
		t.Fatalf("subscriptions = %+v", st.Subscriptions)
	}
	if want := []Reminder{{UserID: 9, UTCTime: "08:15"}}; !reflect.DeepEqual(st.Reminders, want) {
		t.Fatalf("reminders = %+v", st.Reminders)
	}
}

func TestFilePartialAppendDoesNotSwallowNextRecord(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	s, err := OpenFile(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	// leftover of an append that failed half way
	if _, err := s.journal.WriteString(`{"op":"subscri`); err != nil {
		t.Fatal(err)
	}
	if err := s.AddSubscription(ctx, 7, 3); err != nil {
		t.Fatal(err)
	}
	_ = s.journal.Close()

	b, err := os.ReadFile(filepath.Join(dir, "state.journal.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if want := "{\"op\":\"subscribe\",\"user_id\":7,\"group_id\":3}\n"; string(b) != want {
		t.Fatalf("journal = %q, want %q", b, want)
	}

	s, err = OpenFile(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	st, _ := s.LoadAll(ctx)
	if want := []Subscription{{UserID: 7, GroupID: 3}}; !reflect.DeepEqual(st.Subscriptions, want) {
		t.Fatalf("subscriptions after restart = %+v", st.Subscriptions)
	}
}

func TestFileCheckpointTruncatesJournal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := OpenFile(filepath.Join(dir, "state.json"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	_ = s.SaveUser(ctx, UserRecord{ID: 1, ChatID: 1})
	_ = s.SetReminder(ctx, 1, "10:00")

	if err := s.Checkpoint(ctx); err != nil {
		t.Fatal(err)
	}
	fi, err := os.Stat(filepath.Join(dir, "state.journal.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() != 0 {
		t.Fatalf("journal size after checkpoint = %d", fi.Size())
	}
	b, err := os.ReadFile(filepath.Join(dir, "state.snapshot.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(b) == 0 {
		t.Fatal("empty snapshot")
	}
}

func TestUnknownDriver(t *testing.T) {
	if _, err := Open("postgres", "x", nil); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
