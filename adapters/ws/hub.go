// Package ws provides the WebSocket fan-out hub for live subscribers.
package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	obs "github.com/evntfy/evntfy/adapters/metrics"
	"github.com/evntfy/evntfy/domain/metrics"
	"github.com/evntfy/evntfy/ports"
)

// Per-connection send buffer. A subscriber that cannot drain this many
// frames is disconnected rather than allowed to stall the hub.
const sendBuffer = 64

const writeTimeout = 10 * time.Second

// Message is the envelope for every frame pushed to a subscriber.
type Message struct {
	Type string `json:"type"` // "events" or "dashboard_data"
	Data any    `json:"data"`
}

// conn is one subscribed dashboard connection.
type conn struct {
	ws      *websocket.Conn
	ownerID string

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func (c *conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// trySend queues a frame without blocking. Returns false when the buffer is
// full or the connection is closing.
func (c *conn) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// writePump drains the send channel onto the wire. Runs until the send
// channel closes or a write fails.
func (c *conn) writePump() {
	defer c.ws.Close()
	for data := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	c.ws.WriteMessage(websocket.CloseMessage, nil)
}

// Hub tracks subscriber connections per owner and implements
// ports.Broadcaster. Delivery is best-effort: no subscriber, no delivery,
// and a slow subscriber is dropped instead of buffered without bound.
type Hub struct {
	logger    zerolog.Logger
	collector *obs.Collector

	mu    sync.RWMutex
	rooms map[string]map[*conn]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger: logger.With().Str("component", "ws_hub").Logger(),
		rooms:  make(map[string]map[*conn]struct{}),
	}
}

// NewHubWithMetrics creates a hub that reports subscriber and frame counts.
func NewHubWithMetrics(logger zerolog.Logger, collector *obs.Collector) *Hub {
	h := NewHub(logger)
	h.collector = collector
	return h
}

// Register adds a subscriber connection to its owner's room and starts its
// write pump. The returned run function blocks until the peer disconnects;
// callers run it on the connection's handler goroutine.
func (h *Hub) Register(ws *websocket.Conn, ownerID string) (run func()) {
	c := &conn{ws: ws, ownerID: ownerID, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	room, ok := h.rooms[ownerID]
	if !ok {
		room = make(map[*conn]struct{})
		h.rooms[ownerID] = room
	}
	room[c] = struct{}{}
	h.mu.Unlock()

	if h.collector != nil {
		h.collector.Subscribers.Inc()
	}

	go c.writePump()

	return func() {
		defer h.unregister(c)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	var removed bool
	if room, ok := h.rooms[c.ownerID]; ok {
		if _, ok := room[c]; ok {
			delete(room, c)
			removed = true
		}
		if len(room) == 0 {
			delete(h.rooms, c.ownerID)
		}
	}
	h.mu.Unlock()

	if removed && h.collector != nil {
		h.collector.Subscribers.Dec()
	}
	c.close()
}

// SubscriberCount returns how many connections are in an owner's room.
func (h *Hub) SubscriberCount(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[ownerID])
}

// PushToSubscriber delivers an event batch to every connection in the
// owner's room.
func (h *Hub) PushToSubscriber(ownerID string, payload any) {
	h.push(ownerID, Message{Type: "events", Data: payload})
}

// PushDashboard delivers a dashboard snapshot to one owner's room, or to
// every room when target is ports.BroadcastAll.
func (h *Hub) PushDashboard(target string, d metrics.Dashboard) {
	msg := Message{Type: "dashboard_data", Data: d}
	if target == ports.BroadcastAll {
		h.pushAll(msg)
		return
	}
	h.push(target, msg)
}

func (h *Hub) push(ownerID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal frame failed")
		return
	}

	h.mu.RLock()
	conns := make([]*conn, 0, len(h.rooms[ownerID]))
	for c := range h.rooms[ownerID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	h.deliver(conns, data)
}

func (h *Hub) pushAll(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal frame failed")
		return
	}

	h.mu.RLock()
	var conns []*conn
	for _, room := range h.rooms {
		for c := range room {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	h.deliver(conns, data)
}

func (h *Hub) deliver(conns []*conn, data []byte) {
	for _, c := range conns {
		if !c.trySend(data) {
			h.logger.Warn().Str("owner", c.ownerID).Msg("slow subscriber dropped")
			h.unregister(c)
			continue
		}
		if h.collector != nil {
			h.collector.BroadcastFrames.Inc()
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() error {
	h.mu.Lock()
	var conns []*conn
	for _, room := range h.rooms {
		for c := range room {
			conns = append(conns, c)
		}
	}
	h.rooms = make(map[string]map[*conn]struct{})
	h.mu.Unlock()

	for _, c := range conns {
		if h.collector != nil {
			h.collector.Subscribers.Dec()
		}
		c.close()
	}
	return nil
}

// Ensure interface compliance.
var _ ports.Broadcaster = (*Hub)(nil)
