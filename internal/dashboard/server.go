// Package dashboard provides a real-time WebSocket view of sync activity.
//
// The dashboard broadcasts queue changes, delivery outcomes, and
// connectivity transitions to connected WebSocket clients, so an
// operator can watch the write queue drain without tailing logs.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType defines the type of dashboard message.
type MessageType string

// Broadcast messages mirror engine event types one to one; the welcome
// message is the dashboard's own.
const (
	// MessageTypeEntryQueued indicates a mutation entered the write queue.
	MessageTypeEntryQueued MessageType = "entry_queued"

	// MessageTypeEntrySynced indicates an entry was delivered and removed.
	MessageTypeEntrySynced MessageType = "entry_synced"

	// MessageTypeEntryFailed indicates a delivery attempt failed.
	MessageTypeEntryFailed MessageType = "entry_failed"

	// MessageTypeEntryDropped indicates an entry was evicted after
	// exhausting its attempts.
	MessageTypeEntryDropped MessageType = "entry_dropped"

	// MessageTypeSyncStarted indicates a reconciliation pass began.
	MessageTypeSyncStarted MessageType = "sync_started"

	// MessageTypeSyncCompleted indicates a reconciliation pass finished.
	MessageTypeSyncCompleted MessageType = "sync_completed"

	// MessageTypeOnline / MessageTypeOffline indicate connectivity
	// transitions.
	MessageTypeOnline  MessageType = "online"
	MessageTypeOffline MessageType = "offline"

	// MessageTypeWelcome is sent to each client on connect.
	MessageTypeWelcome MessageType = "welcome"
)

// Message represents a dashboard broadcast message.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// WelcomeData is the payload of the connect-time welcome message.
type WelcomeData struct {
	Clients int `json:"clients"`
}

// writeTimeout bounds one frame delivery so a stalled connection cannot
// pin its writer forever.
const writeTimeout = 5 * time.Second

// client is one WebSocket subscriber. Frames queue on out in broadcast
// order and a dedicated writer goroutine delivers them.
type client struct {
	conn *websocket.Conn
	out  chan []byte
}

// Server accepts WebSocket subscribers and fans dashboard messages out
// to them. Delivery is per client: a lagging subscriber misses frames
// instead of slowing the others down.
type Server struct {
	addr     string
	logger   *log.Logger
	listener net.Listener
	httpSrv  *http.Server

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	wg sync.WaitGroup
}

// Config holds server configuration.
type Config struct {
	// Port to listen on (default: 8080)
	Port int

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:   8080,
		Logger: log.Default(),
	}
}

// NewServer creates a dashboard server. Call Start to begin listening.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Server{
		addr:    fmt.Sprintf(":%d", config.Port),
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Start binds the listener and serves /ws, /health, and / until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)
	s.httpSrv = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Serve: %v", err)
		}
	}()

	return nil
}

// Stop disconnects every client and shuts the listener down. New
// connections are refused from the moment it is called.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.closed = true
	open := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		open = append(open, c)
	}
	s.mu.Unlock()

	for _, c := range open {
		s.drop(c, websocket.StatusGoingAway, "server shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.wg.Wait()

	s.logger.Println("Dashboard stopped")
	return nil
}

// Broadcast queues msg for every connected client. Never blocks: a
// client whose queue is full misses this message.
func (s *Server) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Printf("Marshal %s message: %v", msg.Type, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.out <- data:
		default:
			s.logger.Printf("Client lagging, dropped %s message", msg.Type)
		}
	}
}

// handleWS upgrades the connection and registers it. The handler
// goroutine doubles as the read loop; inbound frames are ignored, the
// read only detects the peer going away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // Allow all origins for development
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c, err := s.register(conn)
	if err != nil {
		_ = conn.Close(websocket.StatusGoingAway, err.Error())
		return
	}

	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			break
		}
	}
	s.drop(c, websocket.StatusNormalClosure, "")
}

// register adds the connection and queues its welcome while holding the
// lock, so no broadcast can land ahead of the welcome.
func (s *Server) register(conn *websocket.Conn) (*client, error) {
	c := &client{conn: conn, out: make(chan []byte, 32)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("server shutting down")
	}
	s.clients[c] = struct{}{}
	n := len(s.clients)
	payload, _ := json.Marshal(WelcomeData{Clients: n})
	raw, _ := json.Marshal(Message{
		Type:      MessageTypeWelcome,
		Timestamp: time.Now(),
		Data:      payload,
	})
	c.out <- raw
	s.wg.Add(1)
	s.mu.Unlock()

	go s.transmit(c)
	s.logger.Printf("Client connected (%d connected)", n)
	return c, nil
}

// drop unregisters a client and closes its connection. Only the first
// call for a given client does anything.
func (s *Server) drop(c *client, code websocket.StatusCode, reason string) {
	s.mu.Lock()
	_, registered := s.clients[c]
	if registered {
		delete(s.clients, c)
		close(c.out)
	}
	n := len(s.clients)
	s.mu.Unlock()
	if !registered {
		return
	}

	_ = c.conn.Close(code, reason)
	s.logger.Printf("Client disconnected (%d connected)", n)
}

// transmit delivers queued frames in order until the queue closes. The
// first write failure drops the client; whatever is still queued is
// discarded by the drain.
func (s *Server) transmit(c *client) {
	defer s.wg.Done()

	var dead bool
	for data := range c.out {
		if dead {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			dead = true
			s.drop(c, websocket.StatusNormalClosure, "")
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}{Status: "ok", Clients: s.ClientCount()})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html><head><title>tt sync dashboard</title></head>
<body>
<h1>tt sync dashboard</h1>
<p>Events stream at <code>ws://%s/ws</code>; liveness at <a href="/health">/health</a>.</p>
</body></html>
`, r.Host)
}

// GetAddr returns the bound address once Start has run, the configured
// one before that.
func (s *Server) GetAddr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// ClientCount returns the current number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
