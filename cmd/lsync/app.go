package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/orientation-ops/lessonsync/internal/cache"
	"github.com/orientation-ops/lessonsync/internal/ratelimit"
	"github.com/orientation-ops/lessonsync/internal/reader"
	"github.com/orientation-ops/lessonsync/internal/remote"
	"github.com/orientation-ops/lessonsync/internal/store"
	lessonsync "github.com/orientation-ops/lessonsync/internal/sync"
)

// openStore opens the lesson database, creating it and its schema if needed.
func openStore(ctx context.Context) (*store.Store, error) {
	path := cfg.Database.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	if err := st.InitSchema(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// remoteStack is everything that talks to the remote service. One stack is
// built per process so the limiter and caches are shared.
type remoteStack struct {
	client    remote.Client
	fieldMap  remote.FieldMap
	directory remote.Directory
	limiter   *ratelimit.Limiter
	reader    *reader.Reader
}

func newRemoteStack(st *store.Store) (*remoteStack, error) {
	if err := cfg.RequireRemote(); err != nil {
		return nil, err
	}

	fm := remote.DefaultFieldMap()
	if cfg.Remote.FieldMapFile != "" {
		loaded, err := remote.LoadFieldMap(cfg.Remote.FieldMapFile)
		if err != nil {
			return nil, err
		}
		fm = loaded
	}
	if err := fm.Validate(); err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.Remote.Timeout}
	client := remote.NewHTTPClient(cfg.Remote.BaseURL, cfg.Remote.Token, httpClient)

	var dir remote.Directory = remote.NewStaticDirectory(cfg.Instructors)
	if cfg.Remote.TeamID != "" {
		members := cache.New[map[string]string](cache.Options{TTL: cfg.Cache.TTL, MaxEntries: 4})
		dir = remote.ChainDirectory{dir, remote.NewMemberDirectory(client, cfg.Remote.TeamID, members)}
	}

	rd := reader.New(reader.Config{
		Client:          client,
		Store:           st,
		FieldMap:        fm,
		DefaultFolderID: cfg.Remote.FolderID,
		Cache:           cache.New[reader.Live](cache.Options{TTL: cfg.Cache.TTL, MaxEntries: cfg.Cache.MaxEntries}),
		Logger:          newLogger("reader"),
	})

	return &remoteStack{
		client:    client,
		fieldMap:  fm,
		directory: dir,
		limiter:   ratelimit.New(ratelimit.Options{PerMinute: cfg.Remote.RatePerMinute}),
		reader:    rd,
	}, nil
}

func (r *remoteStack) engine(st *store.Store, listener lessonsync.Listener, dryRun bool) lessonsync.Syncer {
	return lessonsync.New(lessonsync.Config{
		Store:     st,
		Reader:    r.reader,
		Client:    r.client,
		FieldMap:  r.fieldMap,
		Directory: r.directory,
		Limiter:   r.limiter,
		Listener:  listener,
		DryRun:    dryRun,
		Logger:    newLogger("sync"),
	})
}

// confirm asks a yes/no question when stdin is a terminal. Non-interactive
// runs must pass --yes instead.
func confirm(title, description string, yes bool) (bool, error) {
	if yes {
		return true, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, fmt.Errorf("refusing to %s without --yes when not running in a terminal", title)
	}
	ok := false
	err := huh.NewConfirm().
		Title(title + "?").
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if err != nil {
		return false, err
	}
	return ok, nil
}
