// Package dashboard provides a real-time WebSocket feed of sync activity.
//
// The dashboard broadcasts per-lesson sync actions, pass completions and
// per-class lesson statistics to connected WebSocket clients.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeSyncAction is one per-lesson create, update or link outcome
	MessageTypeSyncAction MessageType = "sync_action"

	// MessageTypeSyncComplete indicates a class sync pass finished
	MessageTypeSyncComplete MessageType = "sync_complete"

	// MessageTypeStats carries per-class lesson statistics
	MessageTypeStats MessageType = "stats"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Server manages WebSocket connections and broadcasts dashboard messages
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	clients registry

	// lastStats is replayed to every new client
	lastStats   *Message
	lastStatsMu sync.Mutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration
type Config struct {
	// Port to listen on (default: 8080, 0 picks a free port)
	Port int

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port:   8080,
		Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// NewServer creates a new dashboard WebSocket server
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = DefaultConfig().Logger
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      fmt.Sprintf(":%d", config.Port),
		clients:   registry{conns: make(map[*websocket.Conn]struct{})},
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

// Start begins the HTTP server and WebSocket handler
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard server")

	s.cancel()

	for _, conn := range s.clients.drain() {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
	}

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()

	s.logger.Println("Dashboard server stopped")
	return nil
}

// Broadcast queues a message for all connected clients. It never blocks; a
// full queue drops the message.
func (s *Server) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.Type == MessageTypeStats {
		s.lastStatsMu.Lock()
		m := msg
		s.lastStats = &m
		s.lastStatsMu.Unlock()
	}

	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Println("WARNING: broadcast channel full, dropping message")
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			for _, conn := range s.clients.snapshot() {
				if err := s.write(conn, data); err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.logger.Printf("Client connected (total: %d)", s.clients.add(conn))

	s.lastStatsMu.Lock()
	welcome := Message{Type: MessageTypeStats, Timestamp: time.Now()}
	if s.lastStats != nil {
		welcome = *s.lastStats
	}
	s.lastStatsMu.Unlock()
	if data, err := json.Marshal(welcome); err == nil {
		_ = s.write(conn, data)
	}

	go s.readLoop(conn)
}

// readLoop keeps the connection open until the client goes away. Client
// messages are ignored.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	left, ok := s.clients.remove(conn)
	if !ok {
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Client disconnected (total: %d)", left)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// handleRoot describes the feed: where to connect and which message types
// to expect.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"websocket": "ws://" + r.Host + "/ws",
		"health":    "/health",
		"messages":  []MessageType{MessageTypeSyncAction, MessageTypeSyncComplete, MessageTypeStats},
	})
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	return s.clients.count()
}

// registry is the set of connected clients.
type registry struct {
	mu    sync.RWMutex
	conns map[*websocket.Conn]struct{}
}

// add registers conn and returns the new client count.
func (r *registry) add(conn *websocket.Conn) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn] = struct{}{}
	return len(r.conns)
}

// remove unregisters conn. ok is false when conn was already gone.
func (r *registry) remove(conn *websocket.Conn) (left int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok = r.conns[conn]; ok {
		delete(r.conns, conn)
	}
	return len(r.conns), ok
}

func (r *registry) snapshot() []*websocket.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*websocket.Conn, 0, len(r.conns))
	for conn := range r.conns {
		out = append(out, conn)
	}
	return out
}

// drain empties the registry and returns what it held.
func (r *registry) drain() []*websocket.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*websocket.Conn, 0, len(r.conns))
	for conn := range r.conns {
		out = append(out, conn)
		delete(r.conns, conn)
	}
	return out
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
