package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/go-cmp/cmp"

	"github.com/orientation-ops/lessonsync/internal/store"
	lessonsync "github.com/orientation-ops/lessonsync/internal/sync"
)

type fakeSource struct {
	classes []string
	stats   map[string]store.Stats
}

func (f *fakeSource) ListClasses(context.Context) ([]store.Class, error) {
	out := make([]store.Class, len(f.classes))
	for i, c := range f.classes {
		out[i] = store.Class{Name: c}
	}
	return out, nil
}

func (f *fakeSource) Stats(_ context.Context, classKey string) (store.Stats, error) {
	st, ok := f.stats[classKey]
	if !ok {
		return store.Stats{}, store.ErrNotFound
	}
	return st, nil
}

func startServer(t *testing.T) *Server {
	t.Helper()
	server := NewServer(&Config{Port: 0, Logger: log.New(io.Discard, "", 0)})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server
}

func dial(t *testing.T, ctx context.Context, server *Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: log.New(io.Discard, "", 0)})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if server.GetAddr() == ":0" {
		t.Error("GetAddr() should report the bound address")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestHealth(t *testing.T) {
	server := startServer(t)

	resp, err := http.Get("http://" + server.GetAddr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode health: %v", err)
	}
	if body.Status != "ok" || body.Clients != 0 {
		t.Errorf("health = %+v, want ok with 0 clients", body)
	}

	resp, err = http.Get("http://" + server.GetAddr() + "/")
	if err != nil {
		t.Fatalf("GET / failed: %v", err)
	}
	var index struct {
		WebSocket string        `json:"websocket"`
		Messages  []MessageType `json:"messages"`
	}
	err = json.NewDecoder(resp.Body).Decode(&index)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("failed to decode index: %v", err)
	}
	if want := "ws://" + server.GetAddr() + "/ws"; index.WebSocket != want {
		t.Errorf("index websocket = %q, want %q", index.WebSocket, want)
	}
	if len(index.Messages) != 3 {
		t.Errorf("index messages = %v, want 3 types", index.Messages)
	}

	resp, err = http.Get("http://" + server.GetAddr() + "/nope")
	if err != nil {
		t.Fatalf("GET /nope failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /nope status = %d, want 404", resp.StatusCode)
	}
}

func TestWebSocketWelcome(t *testing.T) {
	server := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, server)
	if msg := readMessage(t, ctx, conn); msg.Type != MessageTypeStats {
		t.Errorf("welcome type = %s, want %s", msg.Type, MessageTypeStats)
	}
	if count := server.ClientCount(); count != 1 {
		t.Errorf("ClientCount() = %d, want 1", count)
	}
}

// TestHandler_SyncEvents tests that a sync pass is streamed as action,
// completion and stats messages
func TestHandler_SyncEvents(t *testing.T) {
	server := startServer(t)
	source := &fakeSource{
		classes: []string{"PD OTN 06.09.25"},
		stats:   map[string]store.Stats{"PD OTN 06.09.25": {Total: 3, Synced: 2, Unsynced: 1}},
	}
	h := NewHandler(server, source, log.New(io.Discard, "", 0))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, server)
	readMessage(t, ctx, conn) // welcome

	at := time.Date(2025, 9, 6, 9, 0, 0, 0, time.UTC)
	h.OnAction(lessonsync.Action{
		RunID:      "run-1",
		ClassKey:   "PD OTN 06.09.25",
		LessonID:   1,
		LessonName: "Intro",
		Action:     store.ActionCreate,
		Status:     store.StatusSuccess,
		Time:       at,
	})
	h.OnComplete(lessonsync.Result{RunID: "run-1", ClassKey: "PD OTN 06.09.25", Created: 1})

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeSyncAction || !msg.Timestamp.Equal(at) {
		t.Fatalf("first message = %s at %s, want sync_action at %s", msg.Type, msg.Timestamp, at)
	}
	var action lessonsync.Action
	if err := json.Unmarshal(msg.Data, &action); err != nil {
		t.Fatalf("failed to decode action: %v", err)
	}
	if action.LessonName != "Intro" || action.Action != "create" {
		t.Errorf("action = %+v", action)
	}

	msg = readMessage(t, ctx, conn)
	if msg.Type != MessageTypeSyncComplete {
		t.Fatalf("second message = %s, want sync_complete", msg.Type)
	}
	var done SyncCompleteData
	if err := json.Unmarshal(msg.Data, &done); err != nil {
		t.Fatalf("failed to decode completion: %v", err)
	}
	if done.Created != 1 || done.RunID != "run-1" {
		t.Errorf("completion = %+v", done)
	}

	msg = readMessage(t, ctx, conn)
	if msg.Type != MessageTypeStats {
		t.Fatalf("third message = %s, want stats", msg.Type)
	}
	var stats StatsData
	if err := json.Unmarshal(msg.Data, &stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if diff := cmp.Diff(source.stats, stats.Classes); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}

	// A late client gets the last stats straight away.
	late := dial(t, ctx, server)
	msg = readMessage(t, ctx, late)
	if err := json.Unmarshal(msg.Data, &stats); err != nil {
		t.Fatalf("failed to decode welcome stats: %v", err)
	}
	if stats.Classes["PD OTN 06.09.25"].Total != 3 {
		t.Errorf("welcome stats = %+v, want last broadcast", stats)
	}
}

func TestHandler_BroadcastStats(t *testing.T) {
	server := startServer(t)
	source := &fakeSource{
		classes: []string{"A", "Gone"},
		stats:   map[string]store.Stats{"A": {Total: 1, Inactive: 1}},
	}
	h := NewHandler(server, source, log.New(io.Discard, "", 0))

	if err := h.BroadcastStats(context.Background()); err != nil {
		t.Fatalf("BroadcastStats() failed: %v", err)
	}
	want := map[string]store.Stats{"A": {Total: 1, Inactive: 1}}
	if diff := cmp.Diff(want, h.GetStats().Classes); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}

	// Dry runs leave stats alone.
	source.stats["A"] = store.Stats{Total: 9}
	h.OnComplete(lessonsync.Result{ClassKey: "A", DryRun: true})
	if got := h.GetStats().Classes["A"].Total; got != 1 {
		t.Errorf("stats after dry run Total = %d, want 1", got)
	}

	if err := NewHandler(server, nil, nil).BroadcastStats(context.Background()); err != nil {
		t.Errorf("BroadcastStats() without a source = %v, want nil", err)
	}
}
