package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	"github.com/scrypster/riya/internal/notify"
)

// Envelope is the frame written to WebSocket clients.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// WebSocketHub keeps the live connections of each user and pushes
// notifications to them. It implements notify.Dispatcher.
type WebSocketHub struct {
	clients        map[string]map[clientInterface]bool
	register       chan clientInterface
	unregister     chan clientInterface
	allowedOrigins map[string]bool
	originPatterns []string
	logger         zerolog.Logger
	mu             sync.RWMutex
	ctx            context.Context
	cancel         context.CancelFunc
}

// clientInterface allows for both real clients and mock clients.
type clientInterface interface {
	userID() string
	getSendChannel() chan []byte
	close()
}

// Client represents a WebSocket connection.
type Client struct {
	hub  *WebSocketHub
	conn *websocket.Conn //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	user string
	send chan []byte
}

func (c *Client) userID() string { return c.user }

func (c *Client) getSendChannel() chan []byte {
	return c.send
}

func (c *Client) close() {
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	}
}

// NewWebSocketHub creates a hub accepting connections from the given
// origins, e.g. "http://localhost:6464". Requests without an Origin header
// (non-browser clients) are always accepted.
func NewWebSocketHub(allowedOrigins []string, logger zerolog.Logger) *WebSocketHub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &WebSocketHub{
		clients:        make(map[string]map[clientInterface]bool),
		register:       make(chan clientInterface),
		unregister:     make(chan clientInterface),
		allowedOrigins: make(map[string]bool),
		logger:         logger.With().Str("component", "ws_hub").Logger(),
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, o := range allowedOrigins {
		h.allowedOrigins[o] = true
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			h.originPatterns = append(h.originPatterns, u.Host)
		}
	}
	return h
}

// Run starts the hub's registration loop.
func (h *WebSocketHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			set := h.clients[client.userID()]
			if set == nil {
				set = make(map[clientInterface]bool)
				h.clients[client.userID()] = set
			}
			set[client] = true
			h.mu.Unlock()
			h.logger.Debug().Str("user_id", client.userID()).Msg("websocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			h.logger.Debug().Str("user_id", client.userID()).Msg("websocket client disconnected")

		case <-h.ctx.Done():
			return
		}
	}
}

// remove drops a client and closes its send channel. Callers hold h.mu.
func (h *WebSocketHub) remove(client clientInterface) {
	set := h.clients[client.userID()]
	if !set[client] {
		return
	}
	delete(set, client)
	close(client.getSendChannel())
	if len(set) == 0 {
		delete(h.clients, client.userID())
	}
}

// Stop gracefully shuts down the hub.
func (h *WebSocketHub) Stop() {
	h.cancel()

	h.mu.Lock()
	for _, set := range h.clients {
		for client := range set {
			close(client.getSendChannel())
			client.close()
		}
	}
	h.clients = make(map[string]map[clientInterface]bool)
	h.mu.Unlock()
}

// Register adds a client to the hub.
func (h *WebSocketHub) Register(client clientInterface) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a client from the hub.
func (h *WebSocketHub) Unregister(client clientInterface) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// ClientCount returns the number of open connections.
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// SendToUser writes an envelope to every connection of a user. It returns
// notify.ErrUserOffline when the user has none. A client whose buffer is
// full is disconnected.
func (h *WebSocketHub) SendToUser(userID, kind string, data any) error {
	frame, err := json.Marshal(Envelope{Type: kind, Data: data})
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", kind, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[userID]
	if len(set) == 0 {
		return notify.ErrUserOffline
	}
	for client := range set {
		select {
		case client.getSendChannel() <- frame:
		default:
			h.logger.Warn().Str("user_id", userID).Msg("websocket client too slow, disconnecting")
			h.remove(client)
		}
	}
	return nil
}

// Deliver implements notify.Dispatcher.
func (h *WebSocketHub) Deliver(_ context.Context, userID string, n notify.Notification) error {
	return h.SendToUser(userID, "notification", n)
}

// ServeHTTP handles WebSocket upgrade requests at /ws?user_id=...
func (h *WebSocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin != "" && !h.allowedOrigins[origin] {
		http.Error(w, "Forbidden: invalid origin", http.StatusForbidden)
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{ //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		user: userID,
		send: make(chan []byte, 64),
	}

	h.Register(client)

	go client.writePump()
	go client.readPump()
}

// writePump sends messages to the WebSocket connection.
func (c *Client) writePump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	}()

	for message := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, message) //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
		cancel()

		if err != nil {
			c.hub.logger.Warn().Err(err).Str("user_id", c.user).Msg("websocket write failed")
			return
		}
	}
}

// readPump drains client frames to detect disconnections.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	}()

	for {
		if _, _, err := c.conn.Read(c.hub.ctx); err != nil { //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
			return
		}
	}
}

// MockClient is a mock client for testing.
type MockClient struct {
	UserID   string
	SendChan chan []byte
}

func (m *MockClient) userID() string { return m.UserID }

func (m *MockClient) getSendChannel() chan []byte {
	return m.SendChan
}

func (m *MockClient) close() {}

var _ notify.Dispatcher = (*WebSocketHub)(nil)
