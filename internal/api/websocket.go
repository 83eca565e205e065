package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zde37/ringstore/pkg"
	"github.com/zde37/ringstore/pkg/chord"
	"github.com/zde37/ringstore/pkg/hash"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512

	// Size of the send buffer per client
	sendBufferSize = 256
)

// Event types published by the hub.
const (
	EventRetrieved = "retrieved"
	EventBroadcast = "broadcast"
)

// Event is one notification pushed to websocket subscribers.
type Event struct {
	Type   string    `json:"type"`
	Time   time.Time `json:"time"`
	ID     *hash.ID  `json:"id,omitempty"`
	Source *hash.ID  `json:"source,omitempty"`
	Target *hash.ID  `json:"target,omitempty"`
	Hit    bool      `json:"hit,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// client represents a connected WebSocket client.
type client struct {
	hub  *EventHub
	conn *websocket.Conn
	send chan []byte // Buffered channel of outbound messages
}

// EventHub fans node events out to WebSocket subscribers. It is the
// chord.NotifyCallback of a running node; publishing never blocks the node.
type EventHub struct {
	// Registered clients
	clients map[*client]bool

	// Outbound events
	events chan []byte

	register   chan *client
	unregister chan *client

	shutdown chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	logger *pkg.Logger
}

var _ chord.NotifyCallback = (*EventHub)(nil)

// NewEventHub creates a new event hub. Run must be started before clients
// connect.
func NewEventHub(logger *pkg.Logger) *EventHub {
	if logger == nil {
		logger = pkg.Nop()
	}
	return &EventHub{
		clients:    make(map[*client]bool),
		events:     make(chan []byte, sendBufferSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		shutdown:   make(chan struct{}),
		logger:     logger.WithComponent("event_hub"),
	}
}

// Run dispatches events until Stop is called.
func (h *EventHub) Run() {
	h.wg.Add(1)
	defer h.wg.Done()

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info().Int("total_clients", total).Msg("Client connected")

		case c := <-h.unregister:
			h.remove(c)

		case message := <-h.events:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					// slow client
					h.logger.Warn().Msg("Client send buffer full, disconnecting slow client")
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()

		case <-h.shutdown:
			h.logger.Info().Msg("Shutting down event hub")
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				c.conn.Close()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *EventHub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.logger.Info().Int("total_clients", len(h.clients)).Msg("Client disconnected")
}

// Stop disconnects every client and ends Run.
func (h *EventHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.shutdown)
		h.wg.Wait()
	})
}

// ClientCount returns the number of connected clients.
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Retrieved publishes a retrieved event.
func (h *EventHub) Retrieved(id hash.ID) {
	h.Publish(Event{Type: EventRetrieved, ID: &id})
}

// Broadcast publishes a broadcast event.
func (h *EventHub) Broadcast(source, target hash.ID, hit bool) {
	h.Publish(Event{Type: EventBroadcast, Source: &source, Target: &target, Hit: hit})
}

// Publish queues ev for every client. Events are dropped when the queue is
// full.
func (h *EventHub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode event")
		return
	}

	select {
	case h.events <- data:
	default:
		h.logger.Warn().Str("type", ev.Type).Msg("Event queue full, dropping event")
	}
}

// readPump pumps messages from the WebSocket connection to the hub.
// Incoming messages are only read for keep-alive.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.shutdown:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug().Err(err).Msg("WebSocket unexpected close")
			}
			return
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
// It is the only writer of the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// HandleWebSocket upgrades the request and subscribes the connection.
func (h *EventHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade to websocket")
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	select {
	case h.register <- c:
	case <-h.shutdown:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
