// Package broadcastsvc pushes message events to websocket clients subscribed to class channels.
package broadcastsvc

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientAction is a JSON message sent by a client.
type clientAction struct {
	Action  string `json:"action"` // subscribe | unsubscribe
	Channel string `json:"channel"`
}

type (
	Hub struct {
		logger core.Logger

		mu          sync.RWMutex
		clients     map[*Client]bool
		channelSubs map[string]map[*Client]bool // {class ID: clients}

		register   chan *Client
		unregister chan *Client
		broadcast  chan core.Event
		done       chan struct{}
	}

	// Client is a websocket connection of an authenticated user.
	Client struct {
		hub      *Hub
		conn     *websocket.Conn
		userID   string
		send     chan []byte
		channels map[string]bool // guarded by hub.mu
	}
)

var _ core.Broadcaster = (*Hub)(nil)

func NewHub(logger core.Logger) *Hub {
	return &Hub{
		logger:      logger,
		clients:     make(map[*Client]bool),
		channelSubs: make(map[string]map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan core.Event, 256),
		done:        make(chan struct{}),
	}
}

// Run is the hub's event loop; it returns when ctx is done, closing every client.
// Run must be called once.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				h.remove(c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			for ch := range c.channels {
				h.addSub(c, ch)
			}
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			h.remove(c)
			h.mu.Unlock()

		case ev := <-h.broadcast:
			h.dispatch(ev)
		}
	}
}

// Broadcast queues ev for delivery; events are dropped when the queue is full.
func (h *Hub) Broadcast(ev core.Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Warn("broadcast: queue full, dropping event", map[string]interface{}{"type": ev.Type, "class_id": ev.ClassID})
	}
}

// Subscribers returns the number of clients subscribed to classID.
func (h *Hub) Subscribers(classID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channelSubs[classID])
}

func (h *Hub) dispatch(ev core.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("broadcast: encoding event", errors.WithStack(err))
		return
	}
	var recipients map[string]bool
	if len(ev.RecipientIDs) > 0 {
		recipients = make(map[string]bool, len(ev.RecipientIDs))
		for _, id := range ev.RecipientIDs {
			recipients[id] = true
		}
	}

	var slow []*Client
	h.mu.RLock()
	for c := range h.channelSubs[ev.ClassID] {
		if recipients != nil && !recipients[c.userID] {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if len(slow) > 0 {
		h.mu.Lock()
		for _, c := range slow {
			h.remove(c)
		}
		h.mu.Unlock()
	}
}

// must hold h.mu
func (h *Hub) addSub(c *Client, channel string) {
	c.channels[channel] = true
	if h.channelSubs[channel] == nil {
		h.channelSubs[channel] = make(map[*Client]bool)
	}
	h.channelSubs[channel][c] = true
}

// must hold h.mu
func (h *Hub) removeSub(c *Client, channel string) {
	delete(c.channels, channel)
	if subs, ok := h.channelSubs[channel]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.channelSubs, channel)
		}
	}
}

// must hold h.mu
func (h *Hub) remove(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for ch := range c.channels {
		h.removeSub(c, ch)
	}
	close(c.send)
}

func (h *Hub) subscribe(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		h.addSub(c, channel)
	}
}

func (h *Hub) unsubscribe(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeSub(c, channel)
}

// Serve upgrades the request and registers a client for userID, subscribed to channels.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string, channels ...string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return errors.Wrap(err, "upgrading connection")
	}

	c := &Client{
		hub:      h,
		conn:     conn,
		userID:   userID,
		send:     make(chan []byte, sendBufferSize),
		channels: make(map[string]bool, len(channels)),
	}
	for _, ch := range channels {
		if ch != "" {
			c.channels[ch] = true
		}
	}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return errors.New("broadcast hub stopped")
	}

	go c.writePump()
	go c.readPump()
	return nil
}

// readPump handles the subscribe/unsubscribe actions of the client.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("broadcast: unexpected close", err, map[string]interface{}{"user_id": c.userID})
			}
			return
		}

		var action clientAction
		if err := json.Unmarshal(data, &action); err != nil || action.Channel == "" {
			continue
		}
		switch action.Action {
		case "subscribe":
			c.hub.subscribe(c, action.Channel)
		case "unsubscribe":
			c.hub.unsubscribe(c, action.Channel)
		}
	}
}

// writePump writes queued events and keeps the connection alive.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
