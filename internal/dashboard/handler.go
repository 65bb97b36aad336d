package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/orientation-ops/lessonsync/internal/store"
	lessonsync "github.com/orientation-ops/lessonsync/internal/sync"
)

// StatsSource supplies per-class lesson counts.
type StatsSource interface {
	ListClasses(ctx context.Context) ([]store.Class, error)
	Stats(ctx context.Context, classKey string) (store.Stats, error)
}

// SyncCompleteData summarizes one class pass.
type SyncCompleteData struct {
	RunID    string        `json:"run_id"`
	ClassKey string        `json:"class_key"`
	Created  int           `json:"created"`
	Updated  int           `json:"updated"`
	Linked   int           `json:"linked"`
	Closed   int           `json:"closed"`
	Skipped  int           `json:"skipped"`
	Errors   int           `json:"errors"`
	Stopped  bool          `json:"stopped"`
	DryRun   bool          `json:"dry_run"`
	Duration time.Duration `json:"duration"`
	Warnings []string      `json:"warnings,omitempty"`
}

// StatsData holds lesson counts keyed by class.
type StatsData struct {
	Classes map[string]store.Stats `json:"classes"`
}

// Handler turns sync events into dashboard messages. It implements the sync
// engine's Listener.
type Handler struct {
	server *Server
	source StatsSource
	logger *log.Logger

	mu    sync.Mutex
	stats StatsData
}

var _ lessonsync.Listener = (*Handler)(nil)

// NewHandler creates a handler. source may be nil, in which case no stats
// are broadcast.
func NewHandler(server *Server, source StatsSource, logger *log.Logger) *Handler {
	if logger == nil {
		logger = server.logger
	}
	return &Handler{
		server: server,
		source: source,
		logger: logger,
		stats:  StatsData{Classes: make(map[string]store.Stats)},
	}
}

// OnAction implements sync.Listener.
func (h *Handler) OnAction(a lessonsync.Action) {
	h.send(MessageTypeSyncAction, a.Time, a)
}

// OnComplete implements sync.Listener. Stats for the class are refreshed
// after every pass that was not a dry run.
func (h *Handler) OnComplete(res lessonsync.Result) {
	h.logger.Printf("Sync complete: %s created=%d updated=%d errors=%d", res.ClassKey, res.Created, res.Updated, res.Errors)

	h.send(MessageTypeSyncComplete, time.Time{}, SyncCompleteData{
		RunID:    res.RunID,
		ClassKey: res.ClassKey,
		Created:  res.Created,
		Updated:  res.Updated,
		Linked:   res.Linked,
		Closed:   res.Closed,
		Skipped:  res.Skipped,
		Errors:   res.Errors,
		Stopped:  res.Stopped,
		DryRun:   res.DryRun,
		Duration: res.Duration,
		Warnings: res.Warnings,
	})

	if !res.DryRun {
		h.refreshClass(context.Background(), res.ClassKey)
	}
}

// BroadcastStats recomputes stats for every class and broadcasts them.
func (h *Handler) BroadcastStats(ctx context.Context) error {
	if h.source == nil {
		return nil
	}
	classes, err := h.source.ListClasses(ctx)
	if err != nil {
		return err
	}

	fresh := make(map[string]store.Stats, len(classes))
	for _, c := range classes {
		st, err := h.source.Stats(ctx, c.Name)
		if err != nil {
			h.logger.Printf("WARNING: failed to compute stats for %s: %v", c.Name, err)
			continue
		}
		fresh[c.Name] = st
	}

	h.mu.Lock()
	h.stats.Classes = fresh
	snapshot := h.snapshotLocked()
	h.mu.Unlock()

	h.send(MessageTypeStats, time.Time{}, snapshot)
	return nil
}

// GetStats returns a copy of the current statistics.
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

func (h *Handler) refreshClass(ctx context.Context, classKey string) {
	if h.source == nil {
		return
	}
	st, err := h.source.Stats(ctx, classKey)
	if err != nil {
		h.logger.Printf("WARNING: failed to compute stats for %s: %v", classKey, err)
		return
	}

	h.mu.Lock()
	h.stats.Classes[classKey] = st
	snapshot := h.snapshotLocked()
	h.mu.Unlock()

	h.send(MessageTypeStats, time.Time{}, snapshot)
}

func (h *Handler) snapshotLocked() StatsData {
	out := StatsData{Classes: make(map[string]store.Stats, len(h.stats.Classes))}
	for k, v := range h.stats.Classes {
		out.Classes[k] = v
	}
	return out
}

func (h *Handler) send(typ MessageType, at time.Time, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: at, Data: data})
}
