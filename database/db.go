package database

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// timeFormat is fixed width so stored timestamps compare lexically.
const timeFormat = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

// InitDB opens (creating if needed) the SQLite database at path and applies
// the schema.
func InitDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers; transactions must only use their tx.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Println("Database initialized successfully")
	return db, nil
}

func migrate(db *sql.DB) error {
	migrations := []struct {
		name string
		stmt string
	}{
		{"users", `CREATE TABLE IF NOT EXISTS users (
			email TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`},
		{"teams", `CREATE TABLE IF NOT EXISTS teams (
			tag TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT ''
		)`},
		{"team_members", `CREATE TABLE IF NOT EXISTS team_members (
			team_tag TEXT NOT NULL REFERENCES teams(tag) ON DELETE CASCADE,
			user_email TEXT NOT NULL REFERENCES users(email) ON DELETE CASCADE,
			PRIMARY KEY (team_tag, user_email)
		)`},
		{"tasks", `CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			due_date TEXT,
			priority TEXT NOT NULL DEFAULT 'medium',
			status TEXT NOT NULL DEFAULT 'backlog',
			position INTEGER NOT NULL,
			created_by TEXT NOT NULL,
			channel_id TEXT,
			client_id TEXT,
			is_recurring INTEGER NOT NULL DEFAULT 0,
			recurrence_rule TEXT,
			version INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE (created_by, status, position)
		)`},
		{"tasks due index", `CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks (status, due_date)`},
		{"task_assignments", `CREATE TABLE IF NOT EXISTS task_assignments (
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			target_kind TEXT NOT NULL,
			target_ref TEXT NOT NULL,
			personal_status TEXT,
			created_at TEXT NOT NULL,
			PRIMARY KEY (task_id, target_kind, target_ref)
		)`},
		{"task_assignments target index", `CREATE INDEX IF NOT EXISTS idx_assignments_target ON task_assignments (target_kind, target_ref)`},
		{"task_member_statuses", `CREATE TABLE IF NOT EXISTS task_member_statuses (
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			user_email TEXT NOT NULL,
			status TEXT NOT NULL,
			PRIMARY KEY (task_id, user_email)
		)`},
		{"notifications", `CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			recipient TEXT NOT NULL,
			type TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			task_id TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			read INTEGER NOT NULL DEFAULT 0
		)`},
		{"notifications dedup index", `CREATE INDEX IF NOT EXISTS idx_notifications_dedup ON notifications (recipient, task_id, type, created_at)`},
	}

	for _, m := range migrations {
		if _, err := db.Exec(m.stmt); err != nil {
			return fmt.Errorf("failed to create %s: %w", m.name, err)
		}
	}
	return nil
}
