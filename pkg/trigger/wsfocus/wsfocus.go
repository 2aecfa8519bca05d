// Package wsfocus turns browser focus and visibility events, reported over a
// WebSocket, into revalidation signals.
package wsfocus

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c360/smartcache/metric"
	"github.com/c360/smartcache/pkg/trigger"
)

// Message types exchanged with clients.
const (
	TypeWelcome    = "welcome"
	TypeFocus      = "focus"
	TypeVisibility = "visibilitychange"
	TypePing       = "ping"
	TypePong       = "pong"
	TypeError      = "error"
)

// ClientMessage is what a browser sends.
//
//	{"type":"focus"}
//	{"type":"visibilitychange","visible":true,"keys":["products:shop-42"]}
type ClientMessage struct {
	Type    string   `json:"type"`
	Visible *bool    `json:"visible,omitempty"`
	Keys    []string `json:"keys,omitempty"`
}

// ServerMessage is what the handler sends back.
type ServerMessage struct {
	Type     string `json:"type"`
	ClientID string `json:"client_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Handler upgrades HTTP requests to WebSocket connections and fires a signal
// on its embedded Broadcaster for every focus or visible event received.
type Handler struct {
	*trigger.Broadcaster

	upgrader    websocket.Upgrader
	logger      *slog.Logger
	metrics     *metric.Metrics
	readTimeout time.Duration
	origins     []string

	mu      sync.Mutex
	clients map[string]*websocket.Conn
	closed  bool
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics publishes the connected client count.
func WithMetrics(m *metric.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithAllowedOrigins restricts the Origin header. With no origins every
// origin is accepted.
func WithAllowedOrigins(origins ...string) Option {
	return func(h *Handler) {
		h.origins = origins
	}
}

// WithReadTimeout sets how long a silent client is kept. Any message or
// pong extends the deadline.
func WithReadTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.readTimeout = d
		}
	}
}

// New creates a Handler. Its source name is "wsfocus".
func New(opts ...Option) *Handler {
	h := &Handler{
		Broadcaster: trigger.NewBroadcaster("wsfocus"),
		logger:      slog.Default(),
		readTimeout: 60 * time.Second,
		clients:     make(map[string]*websocket.Conn),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "wsfocus")
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.origins) == 0 {
		return true
	}
	return slices.Contains(h.origins, r.Header.Get("Origin"))
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	id := uuid.NewString()
	if !h.register(id, conn) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	defer h.unregister(id)

	h.logger.Debug("Focus client connected", "client_id", id, "remote", r.RemoteAddr)
	if err := conn.WriteJSON(ServerMessage{Type: TypeWelcome, ClientID: id}); err != nil {
		return
	}
	h.readLoop(id, conn)
}

func (h *Handler) readLoop(id string, conn *websocket.Conn) {
	extend := func() {
		_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	}
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Focus client read failed", "client_id", id, "error", err)
			}
			return
		}
		extend()

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if werr := conn.WriteJSON(ServerMessage{Type: TypeError, Error: "invalid message"}); werr != nil {
				return
			}
			continue
		}

		switch msg.Type {
		case TypeFocus:
			h.fire(trigger.EventFocus, msg.Keys)
		case TypeVisibility:
			// Hidden documents never revalidate.
			if msg.Visible == nil || *msg.Visible {
				h.fire(trigger.EventVisible, msg.Keys)
			}
		case TypePing:
			if err := conn.WriteJSON(ServerMessage{Type: TypePong}); err != nil {
				return
			}
		default:
			if err := conn.WriteJSON(ServerMessage{Type: TypeError, Error: "unknown type " + msg.Type}); err != nil {
				return
			}
		}
	}
}

// fire emits one signal per key, or a single untargeted signal.
func (h *Handler) fire(event trigger.Event, keys []string) {
	if len(keys) == 0 {
		h.Fire(trigger.Signal{Event: event})
		return
	}
	for _, key := range keys {
		h.Fire(trigger.Signal{Event: event, Key: key})
	}
}

func (h *Handler) register(id string, conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[id] = conn
	h.recordClientsLocked()
	return true
}

func (h *Handler) unregister(id string) {
	h.mu.Lock()
	conn, ok := h.clients[id]
	delete(h.clients, id)
	h.recordClientsLocked()
	h.mu.Unlock()

	if ok {
		_ = conn.Close()
		h.logger.Debug("Focus client disconnected", "client_id", id)
	}
}

func (h *Handler) recordClientsLocked() {
	if h.metrics != nil {
		h.metrics.RecordFocusClients(len(h.clients))
	}
}

// Clients returns the number of connected clients.
func (h *Handler) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client, refuses new ones and ends all signal
// subscriptions.
func (h *Handler) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for _, conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), deadline)
		_ = conn.Close()
	}
	h.Broadcaster.Close()
}
