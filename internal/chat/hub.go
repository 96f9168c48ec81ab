package chat

import (
	"encoding/json"
	"sync"

	"github.com/wolfman30/clinic-booking-platform/pkg/logging"
)

// Envelope is the frame exchanged with socket clients. Requests carry an
// ID which the matching ack echoes.
type Envelope struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client is one live connection. Send is drained by the connection's
// writer.
type Client struct {
	Send  chan []byte
	rooms map[string]struct{}
}

func NewClient(buffer int) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{Send: make(chan []byte, buffer), rooms: make(map[string]struct{})}
}

// Hub tracks room membership for live connections. Emits never block: a
// client whose buffer is full misses the frame.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	clients map[*Client]struct{}
	logger  *logging.Logger
	dropped func()
}

func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		rooms:   make(map[string]map[*Client]struct{}),
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// OnDrop registers a callback for frames dropped on full buffers.
func (h *Hub) OnDrop(fn func()) *Hub {
	h.dropped = fn
	return h
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes c from every room and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	for room := range c.rooms {
		h.removeLocked(room, c)
	}
	delete(h.clients, c)
	close(c.Send)
}

func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	members := h.rooms[room]
	if members == nil {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(room, c)
	delete(c.rooms, room)
}

func (h *Hub) removeLocked(room string, c *Client) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// InRoom reports whether c has joined room.
func (h *Hub) InRoom(c *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

// RoomSize returns the number of connections in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// EmitToRoom sends event to every connection in room.
func (h *Hub) EmitToRoom(room, event string, data any) {
	frame, err := encodeFrame(event, "", data)
	if err != nil {
		h.logger.Error("chat hub: encode frame failed", "event", event, "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		h.deliverLocked(c, frame)
	}
}

// Emit sends one frame to a single connection.
func (h *Hub) Emit(c *Client, event, id string, data any) {
	frame, err := encodeFrame(event, id, data)
	if err != nil {
		h.logger.Error("chat hub: encode frame failed", "event", event, "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; ok {
		h.deliverLocked(c, frame)
	}
}

func (h *Hub) deliverLocked(c *Client, frame []byte) {
	select {
	case c.Send <- frame:
	default:
		if h.dropped != nil {
			h.dropped()
		}
	}
}

func encodeFrame(event, id string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, ID: id, Data: raw})
}
