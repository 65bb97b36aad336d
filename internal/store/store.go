// Package store is the local, authoritative lesson store.
//
// It keeps one table of lessons per class, a template lesson set used to seed
// new classes, the class registry with the remote identifiers needed to
// address each class's task list, and the append-only sync log.
//
// The database is an embedded SQLite file opened in WAL mode:
//   - classes:          keyed by class name
//   - lessons:          keyed by (class_key, lesson_id), unique name key per class
//   - template_lessons: keyed by lesson_id
//   - sync_log:         append-only audit of engine actions
//
// ReplaceLessons, ReplaceTemplate, CloneTemplateInto and seeded CreateClass
// are the only multi-row writes and each runs in a single transaction.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

var (
	// ErrNotFound is returned when a class or lesson does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyLinked is returned by SetRemoteLink when the lesson is
	// already linked to a different remote task.
	ErrAlreadyLinked = errors.New("lesson already linked to a different remote task")

	// ErrDuplicateName is returned when two lessons of one set share a name key.
	ErrDuplicateName = errors.New("duplicate lesson name")

	// ErrClassExists is returned by CreateClass for an existing class name.
	ErrClassExists = errors.New("class already exists")
)

// timeLayout sorts lexically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store wraps the SQLite connection.
type Store struct {
	conn *sql.DB
	path string
	now  func() time.Time
}

// Open creates or opens the store at path. The caller must call Close.
//
// Example:
//
//	st, err := store.Open(".lsync/lessons.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//	if err := st.InitSchema(ctx); err != nil {
//	    return err
//	}
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// busy_timeout and foreign_keys are per connection, so they go in the DSN
	// where the driver applies them to every pooled connection.
	conn, err := sql.Open("sqlite3", "file:"+filepath.ToSlash(path)+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path, now: time.Now}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates the tables and indexes. Safe to call repeatedly.
func (s *Store) InitSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS classes (
		name TEXT PRIMARY KEY,
		remote_folder_id TEXT NOT NULL DEFAULT '',
		remote_list_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS lessons (
		class_key TEXT NOT NULL,
		lesson_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		name_key TEXT NOT NULL,
		week TEXT NOT NULL,
		week_day TEXT NOT NULL,
		day_offset INTEGER NOT NULL,
		start_time TEXT NOT NULL DEFAULT '',
		end_time TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		leads TEXT NOT NULL DEFAULT '[]',  -- JSON array
		is_active INTEGER NOT NULL DEFAULT 1,
		remote_task_id TEXT,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (class_key, lesson_id),
		FOREIGN KEY (class_key) REFERENCES classes(name) ON DELETE CASCADE
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_lessons_name_key ON lessons(class_key, name_key);
	CREATE INDEX IF NOT EXISTS idx_lessons_remote ON lessons(remote_task_id);

	CREATE TABLE IF NOT EXISTS template_lessons (
		lesson_id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		name_key TEXT NOT NULL UNIQUE,
		week TEXT NOT NULL,
		week_day TEXT NOT NULL,
		day_offset INTEGER NOT NULL,
		start_time TEXT NOT NULL DEFAULT '',
		end_time TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		leads TEXT NOT NULL DEFAULT '[]',
		is_active INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		class_key TEXT NOT NULL,
		lesson_id INTEGER NOT NULL,
		action TEXT NOT NULL,   -- create, update, link
		status TEXT NOT NULL,   -- success, error
		message TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sync_log_class ON sync_log(class_key, created_at);
	CREATE INDEX IF NOT EXISTS idx_sync_log_run ON sync_log(run_id);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// withTx runs fn in a transaction and commits only if fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timeLayout)
}

func parseTimestamp(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
