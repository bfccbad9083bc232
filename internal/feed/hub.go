// Package feed relays the event stream to connected WebSocket clients so an
// operator can watch the agents work in real time. The hub itself is an
// agent: it subscribes to every kind and re-broadcasts the envelope verbatim.
package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/events"
)

const agentName = "event-feed"

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	staleAfter = 2 * time.Minute
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one connected WebSocket consumer.
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	hub      *Hub
	lastSeen time.Time
}

// Hub fans the event stream out to connected clients. Slow clients are
// disconnected rather than allowed to back up the broadcast path.
type Hub struct {
	logger *logrus.Logger

	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	done chan struct{}
	once sync.Once
}

// NewHub builds a hub. Run must be called before clients connect.
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Name() string { return agentName }

// Kinds subscribes the feed to the entire event vocabulary.
func (h *Hub) Kinds() []events.Kind {
	return events.AllKinds
}

// HandleEvent re-encodes the envelope and queues it for broadcast. A full
// broadcast buffer drops the event rather than blocking the dispatch loop.
func (h *Hub) HandleEvent(ctx context.Context, event *events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.WithField("kind", event.Kind).Warn("Feed broadcast buffer full, dropping event")
	}
	return nil
}

// OnStart launches the hub loop.
func (h *Hub) OnStart(ctx context.Context) error {
	go h.run()
	return nil
}

// OnStop closes every connection and ends the hub loop.
func (h *Hub) OnStop(ctx context.Context) error {
	h.once.Do(func() { close(h.done) })
	return nil
}

func (h *Hub) run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case data := <-h.broadcast:
			h.broadcastToClients(data)

		case <-ticker.C:
			h.dropStaleClients()

		case <-h.done:
			h.closeAll()
			return
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.WithField("total_clients", total).Info("Feed client connected")
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.logger.WithField("total_clients", len(h.clients)).Info("Feed client disconnected")
	}
}

func (h *Hub) broadcastToClients(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- data:
			client.lastSeen = time.Now()
		default:
			// Send buffer full: the client has stopped draining.
			go func(c *Client) { h.unregister <- c }(client)
		}
	}
}

func (h *Hub) dropStaleClients() {
	h.mu.RLock()
	now := time.Now()
	var stale []*Client
	for client := range h.clients {
		if now.Sub(client.lastSeen) > staleAfter {
			stale = append(stale, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range stale {
		h.unregister <- client
	}
	if len(stale) > 0 {
		h.logger.WithField("stale_clients", len(stale)).Debug("Removed stale feed clients")
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		client.conn.Close()
		delete(h.clients, client)
	}
}

// ConnectionCount reports the number of active feed connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades an HTTP request and registers the connection.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade feed WebSocket connection")
		return
	}

	client := &Client{
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		hub:      h,
		lastSeen: time.Now(),
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump drains the connection so control frames are processed. The feed
// is one-way; inbound text frames are ignored.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.lastSeen = time.Now()
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.WithError(err).Debug("Feed WebSocket read error")
			}
			return
		}
		c.lastSeen = time.Now()
	}
}

// writePump forwards queued envelopes and keeps the connection alive with
// periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
