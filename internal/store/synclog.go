package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Sync log actions and statuses.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionLink   = "link"
	ActionClose  = "close"

	StatusSuccess = "success"
	StatusError   = "error"
)

// LogEntry is one row of the sync log.
type LogEntry struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	ClassKey  string    `json:"class_key"`
	LessonID  int64     `json:"lesson_id"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LogFilter narrows ListSyncLog. Zero fields match everything.
type LogFilter struct {
	ClassKey string
	RunID    string
	Status   string
	Since    time.Time
	Limit    int
}

// AppendSyncLog appends an entry. CreatedAt defaults to now.
func (s *Store) AppendSyncLog(ctx context.Context, e LogEntry) error {
	created := s.timestamp()
	if !e.CreatedAt.IsZero() {
		created = e.CreatedAt.UTC().Format(timeLayout)
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO sync_log (run_id, class_key, lesson_id, action, status, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.RunID, e.ClassKey, e.LessonID, e.Action, e.Status, e.Message, created)
	if err != nil {
		return fmt.Errorf("failed to append sync log: %w", err)
	}
	return nil
}

// ListSyncLog returns matching entries, newest first.
func (s *Store) ListSyncLog(ctx context.Context, f LogFilter) ([]LogEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.ClassKey != "" {
		where = append(where, "class_key = ?")
		args = append(args, f.ClassKey)
	}
	if f.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, f.RunID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.UTC().Format(timeLayout))
	}

	query := `SELECT id, run_id, class_key, lesson_id, action, status, message, created_at FROM sync_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync log: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var (
			e       LogEntry
			created string
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.ClassKey, &e.LessonID, &e.Action, &e.Status, &e.Message, &created); err != nil {
			return nil, fmt.Errorf("failed to scan sync log entry: %w", err)
		}
		e.CreatedAt = parseTimestamp(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
