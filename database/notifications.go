package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotificationNotFound is returned when a recipient has no notification
// with the given id.
var ErrNotificationNotFound = errors.New("notification not found")

// NotificationStore persists notification records.
type NotificationStore struct {
	db *sql.DB
}

func NewNotificationStore(db *sql.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

// Create inserts n. CreatedAt must be set by the caller.
func (s *NotificationStore) Create(ctx context.Context, n *Notification) error {
	meta := n.Metadata
	if meta == nil {
		meta = map[string]interface{}{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal notification metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient, type, title, message, task_id, metadata, created_at, read)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.Recipient, n.Type, n.Title, n.Message, n.TaskID, string(metaJSON),
		formatTime(n.CreatedAt), boolInt(n.Read))
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// HasRecent reports whether a notification of type typ for (recipient, taskID)
// was created at or after since.
func (s *NotificationStore) HasRecent(ctx context.Context, recipient, taskID string, typ NotificationType, since time.Time) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE recipient = ? AND task_id = ? AND type = ? AND created_at >= ?
	`, recipient, taskID, typ, formatTime(since)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query recent notifications: %w", err)
	}
	return count > 0, nil
}

// ListForRecipient returns a recipient's notifications, newest first.
func (s *NotificationStore) ListForRecipient(ctx context.Context, recipient string, unreadOnly bool) ([]Notification, error) {
	query := `SELECT id, recipient, type, title, message, task_id, metadata, created_at, read
		FROM notifications WHERE recipient = ?`
	if unreadOnly {
		query += " AND read = 0"
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := s.db.QueryContext(ctx, query, recipient)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	out := []Notification{}
	for rows.Next() {
		var (
			n       Notification
			meta    string
			created string
			read    int
		)
		if err := rows.Scan(&n.ID, &n.Recipient, &n.Type, &n.Title, &n.Message, &n.TaskID,
			&meta, &created, &read); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &n.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal notification metadata: %w", err)
		}
		if n.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		n.Read = read != 0
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead flips the read flag of one of recipient's notifications.
func (s *NotificationStore) MarkRead(ctx context.Context, recipient, id string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET read = 1 WHERE id = ? AND recipient = ?", id, recipient)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotificationNotFound
	}
	return nil
}
