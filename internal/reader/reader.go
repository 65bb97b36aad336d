// Package reader converts a class's remote tasks back into canonical lessons.
//
// Remote tasks only carry what their custom fields can hold, and older tasks
// use older field layouts. GetLiveLessons runs every task through an ordered
// table of (field, extractor) pairs, then backfills the fields the remote
// cannot carry (times, and the authoritative schedule) from the template.
// Unrecognized values never fail a fetch; they default and add a warning.
package reader

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/orientation-ops/lessonsync/internal/cache"
	"github.com/orientation-ops/lessonsync/internal/lesson"
	"github.com/orientation-ops/lessonsync/internal/remote"
	"github.com/orientation-ops/lessonsync/internal/store"
)

// ErrListNotResolved is returned when a class has no remote list and none
// can be found by name.
var ErrListNotResolved = errors.New("remote list not resolved")

// Meta describes one fetch.
type Meta struct {
	ClassKey  string    `json:"class_key"`
	ListID    string    `json:"list_id"`
	FetchedAt time.Time `json:"fetched_at"`
	Count     int       `json:"count"`
	Stale     bool      `json:"stale"`
	Warnings  []string  `json:"warnings,omitempty"`
}

// Live is the remote view of a class, sorted by day offset then name key.
type Live struct {
	Lessons []lesson.Lesson `json:"lessons"`
	Meta    Meta            `json:"meta"`
}

func (l Live) clone() Live {
	out := Live{Meta: l.Meta}
	out.Meta.Warnings = append([]string(nil), l.Meta.Warnings...)
	out.Lessons = make([]lesson.Lesson, len(l.Lessons))
	for i, ls := range l.Lessons {
		out.Lessons[i] = ls.Clone()
	}
	return out
}

// Store is the part of the local store the reader needs.
type Store interface {
	GetClass(ctx context.Context, key string) (*store.Class, error)
	SetClassRemote(ctx context.Context, key, folderID, listID string) error
	TemplateByKey(ctx context.Context) (map[string]lesson.Lesson, error)
}

// Config holds the reader's collaborators.
type Config struct {
	Client   remote.Client
	Store    Store
	FieldMap remote.FieldMap

	// DefaultFolderID is searched for a list named after the class when the
	// class has neither a list nor a folder of its own.
	DefaultFolderID string

	Cache  *cache.Cache[Live]
	Logger *log.Logger
	Now    func() time.Time
}

// Reader fetches live lessons with a bounded TTL cache in front.
type Reader struct {
	client        remote.Client
	store         Store
	fieldMap      remote.FieldMap
	defaultFolder string
	cache         *cache.Cache[Live]
	logger        *log.Logger
	now           func() time.Time
}

// New creates a reader.
func New(cfg Config) *Reader {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.New[Live](cache.Options{Now: cfg.Now})
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[reader] ", log.LstdFlags)
	}
	return &Reader{
		client:        cfg.Client,
		store:         cfg.Store,
		fieldMap:      cfg.FieldMap,
		defaultFolder: cfg.DefaultFolderID,
		cache:         cfg.Cache,
		logger:        cfg.Logger,
		now:           cfg.Now,
	}
}

// GetLiveLessons returns the class's remote lessons, from cache when fresh.
// When the remote read fails and a cached copy exists, the copy is returned
// with Meta.Stale set.
func (r *Reader) GetLiveLessons(ctx context.Context, classKey string) (Live, error) {
	if live, ok := r.cache.Get(classKey); ok {
		return live.clone(), nil
	}
	return r.Refresh(ctx, classKey)
}

// Refresh fetches from the remote regardless of the cache, then caches the
// result. The stale fallback still applies.
func (r *Reader) Refresh(ctx context.Context, classKey string) (Live, error) {
	live, err := r.fetch(ctx, classKey)
	if err == nil {
		r.cache.Put(classKey, live)
		return live.clone(), nil
	}

	// An unknown class is never served from cache.
	if errors.Is(err, store.ErrNotFound) {
		return Live{}, err
	}
	stale, _, ok := r.cache.GetStale(classKey)
	if !ok {
		return Live{}, err
	}
	r.logger.Printf("WARNING: serving stale lessons for %s: %v", classKey, err)
	out := stale.clone()
	out.Meta.Stale = true
	out.Meta.Warnings = append(out.Meta.Warnings, fmt.Sprintf("stale data: %v", err))
	return out, nil
}

// Invalidate drops cached entries for the given classes, or all of them.
func (r *Reader) Invalidate(classKeys ...string) {
	r.cache.Invalidate(classKeys...)
}

func (r *Reader) fetch(ctx context.Context, classKey string) (Live, error) {
	class, err := r.store.GetClass(ctx, classKey)
	if err != nil {
		return Live{}, err
	}
	listID, err := r.resolveList(ctx, class)
	if err != nil {
		return Live{}, err
	}

	tasks, err := r.client.ListTasks(ctx, listID)
	if err != nil {
		return Live{}, fmt.Errorf("failed to list tasks of %s: %w", classKey, err)
	}
	tmpl, err := r.store.TemplateByKey(ctx)
	if err != nil {
		return Live{}, err
	}

	live := Live{Meta: Meta{ClassKey: classKey, ListID: listID, FetchedAt: r.now()}}
	seen := make(map[string]string, len(tasks))
	for i, task := range tasks {
		if task.ID == "" {
			live.Meta.Warnings = append(live.Meta.Warnings, fmt.Sprintf("task #%d: no id, skipped", i+1))
			continue
		}
		l, warnings := r.convert(task)
		live.Meta.Warnings = append(live.Meta.Warnings, warnings...)
		if l.Name == "" {
			continue
		}
		if prev, dup := seen[l.Key()]; dup {
			live.Meta.Warnings = append(live.Meta.Warnings, fmt.Sprintf("task %s: duplicate name %q (also task %s)", task.ID, l.Name, prev))
		}
		seen[l.Key()] = task.ID

		if w := backfill(&l, tmpl); w != "" {
			live.Meta.Warnings = append(live.Meta.Warnings, fmt.Sprintf("task %s: %s", task.ID, w))
		}
		live.Lessons = append(live.Lessons, l)
	}

	lesson.SortByOffset(live.Lessons)
	live.Meta.Count = len(live.Lessons)
	for _, w := range live.Meta.Warnings {
		r.logger.Printf("WARNING: %s: %s", classKey, w)
	}
	return live, nil
}

// resolveList returns the class's list id, looking it up by name in the
// class's folder (or the default folder) and persisting it on first use.
func (r *Reader) resolveList(ctx context.Context, class *store.Class) (string, error) {
	if class.RemoteListID != "" {
		return class.RemoteListID, nil
	}
	folder := class.RemoteFolderID
	if folder == "" {
		folder = r.defaultFolder
	}
	if folder == "" {
		return "", fmt.Errorf("class %q has no list or folder: %w", class.Name, ErrListNotResolved)
	}

	lists, err := r.client.ListLists(ctx, folder)
	if err != nil {
		return "", fmt.Errorf("class %q: %w: %w", class.Name, ErrListNotResolved, err)
	}
	for _, l := range lists {
		if lesson.NameKey(l.Name) == lesson.NameKey(class.Name) {
			if err := r.store.SetClassRemote(ctx, class.Name, folder, l.ID); err != nil {
				r.logger.Printf("WARNING: failed to save list id for %s: %v", class.Name, err)
			}
			return l.ID, nil
		}
	}
	return "", fmt.Errorf("class %q: no list with that name in folder %s: %w", class.Name, folder, ErrListNotResolved)
}

// backfill overwrites schedule, times and subject with the template's values
// where the template has them. It returns a warning when the lesson is not
// in the template.
func backfill(l *lesson.Lesson, tmpl map[string]lesson.Lesson) string {
	t, ok := tmpl[l.Key()]
	if !ok {
		return fmt.Sprintf("%q not in template, keeping remote values", l.Name)
	}
	if t.StartTime != "" {
		l.StartTime = t.StartTime
	}
	if t.EndTime != "" {
		l.EndTime = t.EndTime
	}
	if t.Subject != "" {
		l.Subject = t.Subject
	}
	week, day := l.Week, l.WeekDay
	if t.Week.Known() {
		week = t.Week
	}
	if t.WeekDay.Known() {
		day = t.WeekDay
	}
	l.SetSchedule(week, day)
	return ""
}
