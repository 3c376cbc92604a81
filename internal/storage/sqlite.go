package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var ddl embed.FS

type DB struct{ *sql.DB }

func New(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)")
	if err != nil {
		return nil, err
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err = migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db}, nil
}

func migrate(db *sql.DB) error {
	b, err := ddl.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	_, err = db.Exec(string(b))
	return err
}

// ---------- load ------------------------------------------------------------

func (d *DB) LoadAll(ctx context.Context) (*State, error) {
	st := &State{}

	rows, err := d.QueryContext(ctx, `SELECT user_id, chat_id, username, lang, tz FROM tracked_users ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var u UserRecord
		if err := rows.Scan(&u.ID, &u.ChatID, &u.Username, &u.Lang, &u.TZ); err != nil {
			rows.Close()
			return nil, err
		}
		st.Users = append(st.Users, u)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = d.QueryContext(ctx, `SELECT group_id, title, handle, invite_url FROM tracked_groups ORDER BY group_id`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var g GroupRecord
		if err := rows.Scan(&g.ID, &g.Title, &g.Handle, &g.InviteURL); err != nil {
			rows.Close()
			return nil, err
		}
		st.Groups = append(st.Groups, g)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = d.QueryContext(ctx, `SELECT group_id, user_id FROM group_members ORDER BY group_id, user_id`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.GroupID, &m.UserID); err != nil {
			rows.Close()
			return nil, err
		}
		st.Members = append(st.Members, m)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = d.QueryContext(ctx, `SELECT user_id, group_id FROM subscriptions ORDER BY user_id, group_id`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var s Subscription
		if err := rows.Scan(&s.UserID, &s.GroupID); err != nil {
			rows.Close()
			return nil, err
		}
		st.Subscriptions = append(st.Subscriptions, s)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = d.QueryContext(ctx, `SELECT user_id, utc_time FROM reminders ORDER BY utc_time, user_id`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var r Reminder
		if err := rows.Scan(&r.UserID, &r.UTCTime); err != nil {
			rows.Close()
			return nil, err
		}
		st.Reminders = append(st.Reminders, r)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	return st, nil
}

func closeRows(rows *sql.Rows) error {
	err := rows.Err()
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	return err
}

// ---------- users -----------------------------------------------------------

func (d *DB) SaveUser(ctx context.Context, u UserRecord) error {
	_, err := d.ExecContext(ctx, `
        INSERT INTO tracked_users (user_id, chat_id, username, lang, tz, created_at)
        VALUES (?,?,?,?,?,?)
        ON CONFLICT(user_id) DO UPDATE SET chat_id=excluded.chat_id,
            username=excluded.username,
            lang=excluded.lang,
            tz=excluded.tz
    `, u.ID, u.ChatID, u.Username, u.Lang, u.TZ, time.Now().Unix())
	return err
}

// DeleteUser removes every row that belongs to the user in one transaction.
func (d *DB) DeleteUser(ctx context.Context, userID int64) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tables := []string{
		"subscriptions",
		"reminders",
		"tracked_users",
	}
	for _, tbl := range tables {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE user_id = ?", tbl),
			userID,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ---------- subscriptions ---------------------------------------------------

func (d *DB) AddSubscription(ctx context.Context, userID, groupID int64) error {
	_, err := d.ExecContext(ctx,
		`INSERT INTO subscriptions (user_id, group_id) VALUES (?,?) ON CONFLICT DO NOTHING`,
		userID, groupID)
	return err
}

func (d *DB) RemoveSubscription(ctx context.Context, userID, groupID int64) error {
	_, err := d.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE user_id=? AND group_id=?`, userID, groupID)
	return err
}

// ---------- reminders -------------------------------------------------------

func (d *DB) SetReminder(ctx context.Context, userID int64, utcTime string) error {
	_, err := d.ExecContext(ctx, `
        INSERT INTO reminders (user_id, utc_time) VALUES (?,?)
        ON CONFLICT(user_id) DO UPDATE SET utc_time=excluded.utc_time
    `, userID, utcTime)
	return err
}

func (d *DB) ClearReminder(ctx context.Context, userID int64) error {
	_, err := d.ExecContext(ctx, `DELETE FROM reminders WHERE user_id=?`, userID)
	return err
}

// ---------- roster ----------------------------------------------------------

func (d *DB) SaveGroup(ctx context.Context, g GroupRecord) error {
	_, err := d.ExecContext(ctx, `
        INSERT INTO tracked_groups (group_id, title, handle, invite_url) VALUES (?,?,?,?)
        ON CONFLICT(group_id) DO UPDATE SET title=excluded.title,
            handle=excluded.handle,
            invite_url=excluded.invite_url
    `, g.ID, g.Title, g.Handle, g.InviteURL)
	return err
}

func (d *DB) DeleteGroup(ctx context.Context, groupID int64) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, tbl := range []string{"group_members", "tracked_groups"} {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE group_id = ?", tbl),
			groupID,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (d *DB) AddMember(ctx context.Context, groupID, userID int64) error {
	_, err := d.ExecContext(ctx,
		`INSERT INTO group_members (group_id, user_id) VALUES (?,?) ON CONFLICT DO NOTHING`,
		groupID, userID)
	return err
}

func (d *DB) RemoveMember(ctx context.Context, groupID, userID int64) error {
	_, err := d.ExecContext(ctx,
		`DELETE FROM group_members WHERE group_id=? AND user_id=?`, groupID, userID)
	return err
}

// Checkpoint moves the WAL contents into the main database file.
func (d *DB) Checkpoint(ctx context.Context) error {
	_, err := d.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`)
	return err
}
