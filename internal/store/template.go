package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/orientation-ops/lessonsync/internal/lesson"
)

// GetTemplate returns the template lessons in store order. Template lessons
// never carry a remote link.
func (s *Store) GetTemplate(ctx context.Context) ([]lesson.Lesson, error) {
	return getTemplate(ctx, s.conn)
}

func getTemplate(ctx context.Context, q execer) ([]lesson.Lesson, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+lessonColumns+` FROM template_lessons ORDER BY lesson_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query template: %w", err)
	}
	defer rows.Close()

	var lessons []lesson.Lesson
	for rows.Next() {
		var l lesson.Lesson
		if err := scanLesson(rows, &l, lessonDest(&l)); err != nil {
			return nil, err
		}
		lessons = append(lessons, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate template: %w", err)
	}

	lesson.SortStore(lessons)
	return lessons, nil
}

// TemplateByKey returns the template indexed by lesson name key.
func (s *Store) TemplateByKey(ctx context.Context) (map[string]lesson.Lesson, error) {
	tmpl, err := s.GetTemplate(ctx)
	if err != nil {
		return nil, err
	}
	return lesson.IndexByKey(tmpl), nil
}

// ReplaceTemplate swaps the whole template in one transaction. Remote links on
// the input are dropped.
func (s *Store) ReplaceTemplate(ctx context.Context, lessons []lesson.Lesson) error {
	prepared, err := prepareSet(lessons, false)
	if err != nil {
		return err
	}
	now := s.timestamp()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM template_lessons`); err != nil {
			return fmt.Errorf("failed to clear template: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO template_lessons (`+lessonColumns+`, name_key, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, l := range prepared {
			args, err := lessonArgs(l)
			if err != nil {
				return err
			}
			args = append(args, l.Key(), now)
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("failed to insert template lesson %d (%q): %w", l.ID, l.Name, err)
			}
		}
		return nil
	})
}
