package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/orientation-ops/lessonsync/internal/lesson"
)

// TemplateStore is the part of the store the template watcher writes to.
type TemplateStore interface {
	ReplaceTemplate(ctx context.Context, lessons []lesson.Lesson) error
}

// ReloadEvent reports one template reload attempt.
type ReloadEvent struct {
	Path    string
	Lessons int
	Err     error
}

// TemplateWatcher reloads the Template from a lesson file whenever the file
// changes. Events are debounced so an editor's burst of writes causes one
// reload.
//
// The parent directory is watched rather than the file itself: editors that
// save by writing a temp file and renaming it over the original would
// otherwise drop the watch.
type TemplateWatcher struct {
	path     string
	store    TemplateStore
	debounce time.Duration
	logger   *log.Logger
	onReload func(ReloadEvent)

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewTemplateWatcher creates a watcher for path. onReload is optional and is
// called after every reload attempt, from the watcher goroutine.
func NewTemplateWatcher(path string, st TemplateStore, debounce time.Duration, logger *log.Logger, onReload func(ReloadEvent)) (*TemplateWatcher, error) {
	if _, err := lesson.FormatOf(path); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve template path: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultConfig().DebounceInterval
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &TemplateWatcher{
		path:     abs,
		store:    st,
		debounce: debounce,
		logger:   logger,
		onReload: onReload,
		watcher:  watcher,
		done:     make(chan struct{}),
	}, nil
}

// Path returns the absolute path being watched.
func (tw *TemplateWatcher) Path() string {
	return tw.path
}

// Start begins watching. Reloads run on ctx.
func (tw *TemplateWatcher) Start(ctx context.Context) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.running {
		return fmt.Errorf("watcher already running")
	}
	dir := filepath.Dir(tw.path)
	if err := tw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch template directory %s: %w", dir, err)
	}

	tw.running = true
	tw.wg.Add(1)
	go tw.loop(ctx)
	return nil
}

// Stop stops watching and waits for the event loop to exit. A pending
// debounced reload is dropped.
func (tw *TemplateWatcher) Stop() error {
	tw.mu.Lock()
	if !tw.running {
		tw.mu.Unlock()
		return tw.watcher.Close()
	}
	tw.running = false
	tw.mu.Unlock()

	close(tw.done)
	if err := tw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	tw.wg.Wait()
	return nil
}

// IsRunning reports whether the watcher is started.
func (tw *TemplateWatcher) IsRunning() bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.running
}

// Reload reads the template file and replaces the stored Template. An invalid
// file leaves the stored Template untouched.
func (tw *TemplateWatcher) Reload(ctx context.Context) (int, error) {
	lessons, err := lesson.ReadFile(tw.path)
	if err != nil {
		return 0, err
	}
	if err := tw.store.ReplaceTemplate(ctx, lessons); err != nil {
		return 0, fmt.Errorf("failed to replace template: %w", err)
	}
	return len(lessons), nil
}

func (tw *TemplateWatcher) loop(ctx context.Context) {
	defer tw.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-tw.done:
			return
		case <-ctx.Done():
			return

		case event, ok := <-tw.watcher.Events:
			if !ok {
				return
			}
			if !tw.relevant(event) {
				continue
			}
			if event.Has(fsnotify.Remove) {
				tw.logger.Printf("WARNING: template file %s removed; keeping stored template", tw.path)
				continue
			}
			if timer == nil {
				timer = time.NewTimer(tw.debounce)
			} else {
				timer.Reset(tw.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			tw.reload(ctx)

		case err, ok := <-tw.watcher.Errors:
			if !ok {
				return
			}
			tw.logger.Printf("Watcher error: %v", err)
		}
	}
}

func (tw *TemplateWatcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	return abs == tw.path
}

func (tw *TemplateWatcher) reload(ctx context.Context) {
	n, err := tw.Reload(ctx)
	if err != nil {
		tw.logger.Printf("WARNING: template reload from %s failed: %v", tw.path, err)
	} else {
		tw.logger.Printf("Reloaded template from %s: %d lessons", tw.path, n)
	}
	if tw.onReload != nil {
		tw.onReload(ReloadEvent{Path: tw.path, Lessons: n, Err: err})
	}
}
