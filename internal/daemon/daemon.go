// Package daemon keeps every class reconciled on a fixed interval.
//
// The daemon:
//  1. Lists all classes and syncs them through a bounded worker pool
//  2. Repeats on every tick until shut down
//  3. Optionally watches the template file and reloads it on change
//
// All engines share the limiter the Syncer was built with, so concurrency
// does not raise the mutation rate.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/orientation-ops/lessonsync/internal/store"
	lessonsync "github.com/orientation-ops/lessonsync/internal/sync"
)

// Store is the part of the local store the daemon needs.
type Store interface {
	TemplateStore
	ListClasses(ctx context.Context) ([]store.Class, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// Interval between reconcile rounds.
	Interval time.Duration

	// MaxConcurrent bounds how many classes sync at once.
	MaxConcurrent int

	// SyncTimeout bounds a single class pass. Zero means no limit.
	SyncTimeout time.Duration

	// TemplateFile, when set, is watched and reloaded into the Template.
	TemplateFile string

	// DebounceInterval is how long the template file must be quiet before
	// it is reloaded.
	DebounceInterval time.Duration

	// AfterRound is called after every round with its results.
	AfterRound func(ctx context.Context, results []ClassResult)

	// OnReload is passed to the template watcher.
	OnReload func(ReloadEvent)

	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:         5 * time.Minute,
		MaxConcurrent:    2,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// ClassResult is the outcome of one class's pass in a round.
type ClassResult struct {
	ClassKey string
	Result   lessonsync.Result
	Err      error
}

// Daemon runs reconcile rounds.
type Daemon struct {
	store  Store
	syncer lessonsync.Syncer
	config *Config

	roundMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a daemon with the default configuration.
func New(st Store, syncer lessonsync.Syncer) (*Daemon, error) {
	return NewWithConfig(st, syncer, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration. Zero fields fall
// back to the defaults.
func NewWithConfig(st Store, syncer lessonsync.Syncer, config *Config) (*Daemon, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	def := DefaultConfig()
	if config == nil {
		config = def
	}
	cfg := *config
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = def.DebounceInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		store:  st,
		syncer: syncer,
		config: &cfg,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start runs a round immediately and then one per interval. It blocks until
// ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Printf("Starting daemon (interval %s, %d workers)", d.config.Interval, d.config.MaxConcurrent)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-d.ctx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	if d.config.TemplateFile != "" {
		tw, err := NewTemplateWatcher(d.config.TemplateFile, d.store, d.config.DebounceInterval, d.config.Logger, d.config.OnReload)
		if err != nil {
			return err
		}
		if err := tw.Start(runCtx); err != nil {
			tw.Stop()
			return err
		}
		defer tw.Stop()
		d.config.Logger.Printf("Watching template: %s", tw.Path())
	}

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := d.RunOnce(runCtx); err != nil {
			d.config.Logger.Printf("WARNING: reconcile round failed: %v", err)
		}

		select {
		case <-runCtx.Done():
			d.config.Logger.Println("Daemon stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Stop makes Start return. The round in flight stops starting new mutations.
func (d *Daemon) Stop() {
	d.config.Logger.Println("Stopping daemon")
	d.cancel()
}

// RunOnce syncs every class once, at most MaxConcurrent at a time. It fails
// only if the class list cannot be read; per-class failures are in the
// results, which are sorted by class.
func (d *Daemon) RunOnce(ctx context.Context) ([]ClassResult, error) {
	d.roundMu.Lock()
	defer d.roundMu.Unlock()

	classes, err := d.store.ListClasses(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list classes: %w", err)
	}

	p := pool.NewWithResults[ClassResult]().WithMaxGoroutines(d.config.MaxConcurrent)
	for _, c := range classes {
		key := c.Name
		p.Go(func() ClassResult {
			return d.syncClass(ctx, key)
		})
	}
	results := p.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].ClassKey < results[j].ClassKey })

	if d.config.AfterRound != nil {
		d.config.AfterRound(ctx, results)
	}
	return results, nil
}

func (d *Daemon) syncClass(ctx context.Context, key string) ClassResult {
	if ctx.Err() != nil {
		return ClassResult{ClassKey: key, Err: ctx.Err()}
	}
	if d.config.SyncTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.SyncTimeout)
		defer cancel()
	}

	res, err := d.syncer.Sync(ctx, key)
	if err != nil {
		d.config.Logger.Printf("WARNING: sync of %s failed: %v", key, err)
		return ClassResult{ClassKey: key, Err: err}
	}
	if res.Changed() || res.Errors > 0 {
		d.config.Logger.Printf("Synced %s: created=%d updated=%d linked=%d errors=%d", key, res.Created, res.Updated, res.Linked, res.Errors)
	}
	return ClassResult{ClassKey: key, Result: res}
}
