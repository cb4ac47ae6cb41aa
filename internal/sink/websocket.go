package sink

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/gpsfix/internal/logging"
	"github.com/signalsfoundry/gpsfix/model"
)

const wsWriteWait = 5 * time.Second

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// wsClient serialises writes; gorilla connections allow a single writer.
type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsClient) send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(payload)
}

// write requires c.mu.
func (c *wsClient) write(payload []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub streams fixes to every connected WebSocket client. It is both the
// /fixes HTTP handler and a fix sink.
type Hub struct {
	sessionID string
	log       logging.Logger
	onCount   func(int)

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	last    []byte

	// registered runs after a client joins, before it gets the snapshot.
	registered func()
}

// NewHub creates an empty hub. onCount, when set, is called with the client
// count after every connect and disconnect.
func NewHub(sessionID string, log logging.Logger, onCount func(int)) *Hub {
	if log == nil {
		log = logging.Noop()
	}
	return &Hub{
		sessionID: sessionID,
		log:       log,
		onCount:   onCount,
		clients:   map[*wsClient]struct{}{},
	}
}

func (h *Hub) Name() string { return "websocket" }

// ServeHTTP upgrades the request and registers the client. A new client
// first receives the most recent fix, if any.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade failed", logging.Err(err))
		return
	}
	c := &wsClient{conn: conn}

	// Holding c.mu until the snapshot is out makes any Publish that sees
	// the new client queue behind it.
	c.mu.Lock()
	h.mu.Lock()
	h.clients[c] = struct{}{}
	last := h.last
	n := len(h.clients)
	h.mu.Unlock()
	if h.registered != nil {
		h.registered()
	}
	var werr error
	if last != nil {
		werr = c.write(last)
	}
	c.mu.Unlock()
	h.reportCount(n)
	if werr != nil {
		h.drop(c)
		return
	}
	h.log.Debug(r.Context(), "stream client connected", logging.String("remote", r.RemoteAddr))

	// Clients never send; reading only detects the close.
	go func() {
		defer h.drop(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Publish sends fix to all clients. Clients that fail are disconnected and
// reported in the returned error.
func (h *Hub) Publish(_ context.Context, fix model.Fix) error {
	payload, err := encodeEvent(h.sessionID, fix)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.last = payload
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	var errs []error
	for _, c := range clients {
		if err := c.send(payload); err != nil {
			errs = append(errs, err)
			h.drop(c)
		}
	}
	return errors.Join(errs...)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() error {
	h.mu.Lock()
	clients := h.clients
	h.clients = map[*wsClient]struct{}{}
	h.mu.Unlock()
	for c := range clients {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		_ = c.conn.Close()
	}
	h.reportCount(0)
	return nil
}

func (h *Hub) drop(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	_ = c.conn.Close()
	if ok {
		h.reportCount(n)
	}
}

func (h *Hub) reportCount(n int) {
	if h.onCount != nil {
		h.onCount(n)
	}
}
