package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Class is one orientation cohort and the remote coordinates of its task list.
type Class struct {
	Name           string    `json:"name"`
	RemoteFolderID string    `json:"remote_folder_id,omitempty"`
	RemoteListID   string    `json:"remote_list_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateClass registers a class. With seed set, the template is cloned into
// the new class in the same transaction.
func (s *Store) CreateClass(ctx context.Context, c Class, seed bool) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return fmt.Errorf("class name is required")
	}
	now := s.timestamp()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM classes WHERE name = ?`, c.Name).Scan(&exists)
		if err == nil {
			return fmt.Errorf("class %q: %w", c.Name, ErrClassExists)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to look up class: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO classes (name, remote_folder_id, remote_list_id, created_at)
			VALUES (?, ?, ?, ?)
		`, c.Name, c.RemoteFolderID, c.RemoteListID, now)
		if err != nil {
			return fmt.Errorf("failed to insert class: %w", err)
		}

		if seed {
			return cloneTemplate(ctx, tx, c.Name, now)
		}
		return nil
	})
}

// GetClass returns the class named key or ErrNotFound.
func (s *Store) GetClass(ctx context.Context, key string) (*Class, error) {
	var (
		c       Class
		created string
	)
	err := s.conn.QueryRowContext(ctx, `
		SELECT name, remote_folder_id, remote_list_id, created_at
		FROM classes WHERE name = ?
	`, key).Scan(&c.Name, &c.RemoteFolderID, &c.RemoteListID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("class %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get class: %w", err)
	}
	c.CreatedAt = parseTimestamp(created)
	return &c, nil
}

// ListClasses returns every class ordered by name.
func (s *Store) ListClasses(ctx context.Context) ([]Class, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT name, remote_folder_id, remote_list_id, created_at
		FROM classes ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list classes: %w", err)
	}
	defer rows.Close()

	var classes []Class
	for rows.Next() {
		var (
			c       Class
			created string
		)
		if err := rows.Scan(&c.Name, &c.RemoteFolderID, &c.RemoteListID, &created); err != nil {
			return nil, fmt.Errorf("failed to scan class: %w", err)
		}
		c.CreatedAt = parseTimestamp(created)
		classes = append(classes, c)
	}
	return classes, rows.Err()
}

// SetClassRemote stores resolved remote ids. Empty arguments leave the
// stored value unchanged.
func (s *Store) SetClassRemote(ctx context.Context, key, folderID, listID string) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE classes
		SET remote_folder_id = CASE WHEN ? = '' THEN remote_folder_id ELSE ? END,
		    remote_list_id = CASE WHEN ? = '' THEN remote_list_id ELSE ? END
		WHERE name = ?
	`, folderID, folderID, listID, listID, key)
	if err != nil {
		return fmt.Errorf("failed to update class: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("class %q: %w", key, ErrNotFound)
	}
	return nil
}

// DeleteClass removes a class and its lessons. Sync log rows are kept.
func (s *Store) DeleteClass(ctx context.Context, key string) error {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM classes WHERE name = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete class: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("class %q: %w", key, ErrNotFound)
	}
	return nil
}

// Stats summarizes the linkage of a class's lessons.
type Stats struct {
	Total    int `json:"total"`
	Synced   int `json:"synced"`
	Unsynced int `json:"unsynced"`
	Inactive int `json:"inactive"`
}

// Stats counts the class's lessons by state.
func (s *Store) Stats(ctx context.Context, classKey string) (Stats, error) {
	var st Stats
	err := s.conn.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN remote_task_id IS NOT NULL AND remote_task_id != '' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_active = 0 THEN 1 ELSE 0 END), 0)
		FROM lessons WHERE class_key = ?
	`, classKey).Scan(&st.Total, &st.Synced, &st.Inactive)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to get stats: %w", err)
	}
	st.Unsynced = st.Total - st.Synced
	return st, nil
}
