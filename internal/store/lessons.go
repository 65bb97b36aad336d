package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/orientation-ops/lessonsync/internal/lesson"
)

const lessonColumns = `lesson_id, name, week, week_day, day_offset, start_time, end_time, subject, leads, is_active`

// GetLessons returns the class's lessons ordered by week, week day and day
// offset, unknown week or day last, ties broken by id. An unknown class
// returns an empty slice.
func (s *Store) GetLessons(ctx context.Context, classKey string) ([]lesson.Lesson, error) {
	return getLessons(ctx, s.conn, classKey)
}

func getLessons(ctx context.Context, q execer, classKey string) ([]lesson.Lesson, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+lessonColumns+`, remote_task_id
		FROM lessons
		WHERE class_key = ?
		ORDER BY lesson_id
	`, classKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query lessons: %w", err)
	}
	defer rows.Close()

	var lessons []lesson.Lesson
	for rows.Next() {
		var (
			l        lesson.Lesson
			remoteID sql.NullString
		)
		dest := append(lessonDest(&l), &remoteID)
		if err := scanLesson(rows, &l, dest); err != nil {
			return nil, err
		}
		l.RemoteTaskID = remoteID.String
		lessons = append(lessons, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate lessons: %w", err)
	}

	lesson.SortStore(lessons)
	return lessons, nil
}

// ReplaceLessons deletes every lesson of the class and inserts lessons in one
// transaction. If any lesson is invalid or the insert fails, the previous set
// stays visible. Lessons with ID 0 get fresh ids after the highest id in the
// input.
func (s *Store) ReplaceLessons(ctx context.Context, classKey string, lessons []lesson.Lesson) error {
	prepared, err := prepareSet(lessons, true)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireClass(ctx, tx, classKey); err != nil {
			return err
		}
		return replaceLessons(ctx, tx, classKey, prepared, s.timestamp())
	})
}

func replaceLessons(ctx context.Context, tx *sql.Tx, classKey string, lessons []lesson.Lesson, now string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM lessons WHERE class_key = ?`, classKey); err != nil {
		return fmt.Errorf("failed to clear lessons: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO lessons (class_key, `+lessonColumns+`, name_key, remote_task_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, l := range lessons {
		args, err := lessonArgs(l)
		if err != nil {
			return err
		}
		args = append([]any{classKey}, args...)
		args = append(args, l.Key(), nullString(l.RemoteTaskID), now)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert lesson %d (%q): %w", l.ID, l.Name, err)
		}
	}
	return nil
}

// SetRemoteLink records the remote task id of one lesson. Setting the same id
// again is a no-op; a different id returns ErrAlreadyLinked.
func (s *Store) SetRemoteLink(ctx context.Context, classKey string, lessonID int64, remoteTaskID string) error {
	if remoteTaskID == "" {
		return fmt.Errorf("remote task id is required")
	}

	res, err := s.conn.ExecContext(ctx, `
		UPDATE lessons
		SET remote_task_id = ?, updated_at = ?
		WHERE class_key = ? AND lesson_id = ?
		  AND (remote_task_id IS NULL OR remote_task_id = '' OR remote_task_id = ?)
	`, remoteTaskID, s.timestamp(), classKey, lessonID, remoteTaskID)
	if err != nil {
		return fmt.Errorf("failed to set remote link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var current sql.NullString
	err = s.conn.QueryRowContext(ctx, `
		SELECT remote_task_id FROM lessons WHERE class_key = ? AND lesson_id = ?
	`, classKey, lessonID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("lesson %d in class %q: %w", lessonID, classKey, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read remote link: %w", err)
	}
	return fmt.Errorf("lesson %d in class %q is linked to %s: %w", lessonID, classKey, current.String, ErrAlreadyLinked)
}

// CloneTemplateInto replaces the class's lessons with fresh copies of the
// template: new ids 1..n in template order and no remote link.
func (s *Store) CloneTemplateInto(ctx context.Context, classKey string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireClass(ctx, tx, classKey); err != nil {
			return err
		}
		return cloneTemplate(ctx, tx, classKey, s.timestamp())
	})
}

func cloneTemplate(ctx context.Context, tx *sql.Tx, classKey, now string) error {
	tmpl, err := getTemplate(ctx, tx)
	if err != nil {
		return err
	}
	fresh := make([]lesson.Lesson, len(tmpl))
	for i, l := range tmpl {
		fresh[i] = l.Fresh()
		fresh[i].ID = int64(i + 1)
	}
	return replaceLessons(ctx, tx, classKey, fresh, now)
}

// prepareSet normalizes and validates a lesson set, rejects duplicate names
// and ids, and assigns ids to lessons that have none.
func prepareSet(lessons []lesson.Lesson, keepLinks bool) ([]lesson.Lesson, error) {
	out := make([]lesson.Lesson, len(lessons))
	names := make(map[string]bool, len(lessons))
	ids := make(map[int64]bool, len(lessons))
	var maxID int64

	for i, l := range lessons {
		l = l.Clone()
		l.Normalize()
		if !keepLinks {
			l.RemoteTaskID = ""
		}
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("lesson %q: %w", l.Name, err)
		}
		if names[l.Key()] {
			return nil, fmt.Errorf("lesson %q: %w", l.Name, ErrDuplicateName)
		}
		names[l.Key()] = true
		if l.ID != 0 {
			if ids[l.ID] {
				return nil, fmt.Errorf("lesson %q: duplicate id %d", l.Name, l.ID)
			}
			ids[l.ID] = true
			if l.ID > maxID {
				maxID = l.ID
			}
		}
		out[i] = l
	}

	for i := range out {
		if out[i].ID == 0 {
			maxID++
			out[i].ID = maxID
		}
	}
	return out, nil
}

func requireClass(ctx context.Context, q execer, classKey string) error {
	var exists int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM classes WHERE name = ?`, classKey).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("class %q: %w", classKey, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to look up class: %w", err)
	}
	return nil
}

// lessonDest returns scan targets matching lessonColumns. Leads and week
// fields are decoded by scanLesson.
func lessonDest(l *lesson.Lesson) []any {
	return []any{&l.ID, &l.Name, new(string), new(string), &l.DayOffset, &l.StartTime, &l.EndTime, &l.Subject, new(string), &l.IsActive}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLesson(row scanner, l *lesson.Lesson, dest []any) error {
	if err := row.Scan(dest...); err != nil {
		return fmt.Errorf("failed to scan lesson: %w", err)
	}
	week, day, leads := dest[2].(*string), dest[3].(*string), dest[8].(*string)

	if err := l.Week.UnmarshalText([]byte(*week)); err != nil {
		return fmt.Errorf("lesson %d: %w", l.ID, err)
	}
	if err := l.WeekDay.UnmarshalText([]byte(*day)); err != nil {
		return fmt.Errorf("lesson %d: %w", l.ID, err)
	}
	if *leads != "" {
		if err := json.Unmarshal([]byte(*leads), &l.Leads); err != nil {
			return fmt.Errorf("lesson %d: failed to parse leads: %w", l.ID, err)
		}
	}
	if len(l.Leads) == 0 {
		l.Leads = nil
	}
	l.DayOffset = lesson.DayOffset(l.Week, l.WeekDay)
	return nil
}

func lessonArgs(l lesson.Lesson) ([]any, error) {
	leads := l.Leads
	if leads == nil {
		leads = []string{}
	}
	leadsJSON, err := json.Marshal(leads)
	if err != nil {
		return nil, fmt.Errorf("failed to encode leads: %w", err)
	}
	return []any{l.ID, l.Name, l.Week.String(), l.WeekDay.String(), l.DayOffset, l.StartTime, l.EndTime, l.Subject, string(leadsJSON), l.IsActive}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
