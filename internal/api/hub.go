package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait   = 10 * time.Second
	sendBuffer  = 16
	defaultPing = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// Message is a state push to the page
type Message struct {
	Type      string `json:"type"`
	Screen    string `json:"screen"`
	State     string `json:"state"`
	HTML      string `json:"html"`
	Countdown string `json:"countdown,omitempty"`
	Message   string `json:"message,omitempty"`
	CloseHost bool   `json:"close_host,omitempty"`
}

// Hub fans attempt snapshots out to the websocket connections of each
// session
type Hub struct {
	mu           sync.Mutex
	conns        map[string]map[*wsConn]struct{}
	pingInterval time.Duration
	logger       *slog.Logger
}

type wsConn struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// NewHub creates a hub that pings idle connections every pingInterval
func NewHub(pingInterval time.Duration, logger *slog.Logger) *Hub {
	if pingInterval <= 0 {
		pingInterval = defaultPing
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:        make(map[string]map[*wsConn]struct{}),
		pingInterval: pingInterval,
		logger:       logger,
	}
}

// Serve upgrades the request and blocks until the connection ends. initial
// is written first so a reconnecting page catches up immediately.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID string, initial []byte) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &wsConn{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	if initial != nil {
		c.send <- initial
	}
	h.register(sessionID, c)
	defer h.unregister(sessionID, c)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writeLoop(c)
	}()

	h.readLoop(c)
	c.close()
	wg.Wait()
	return nil
}

// Broadcast queues data for every connection of sessionID. A connection
// whose buffer is full misses the message; the next push supersedes it.
func (h *Hub) Broadcast(sessionID string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.conns[sessionID] {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("websocket send buffer full, dropping push", "session_id", sessionID)
		}
	}
}

// CloseSession drops every connection of sessionID
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	conns := h.conns[sessionID]
	delete(h.conns, sessionID)
	h.mu.Unlock()

	for c := range conns {
		c.close()
	}
}

// Count returns the number of open connections
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.conns {
		n += len(set)
	}
	return n
}

func (h *Hub) register(sessionID string, c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[sessionID]
	if !ok {
		set = make(map[*wsConn]struct{})
		h.conns[sessionID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(sessionID string, c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.conns[sessionID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.conns, sessionID)
		}
	}
}

// readLoop only drains control frames; the page never sends data
func (h *Hub) readLoop(c *wsConn) {
	pongWait := 2 * h.pingInterval
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", "error", err)
			}
			return
		}
	}
}

// writeLoop handles outgoing pushes and pings
func (h *Hub) writeLoop(c *wsConn) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("websocket write error", "error", err)
				c.close()
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.logger.Debug("websocket ping error", "error", err)
				c.close()
				return
			}
		}
	}
}
