package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 64
	maxRooms   = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Msg is a message sent to clients. Room is a market id or "platform".
type Msg struct {
	Type string `json:"type"`
	Room string `json:"room"`
	Data any    `json:"data"`
}

// Hub fans engine events out to WebSocket subscribers by room.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*conn]bool
	allConn map[*conn]bool
	log     *zap.Logger
}

type conn struct {
	ws    *websocket.Conn
	send  chan []byte
	hub   *Hub
	rooms map[string]bool
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		rooms:   make(map[string]map[*conn]bool),
		allConn: make(map[*conn]bool),
		log:     log.Named("ws"),
	}
}

// Publish encodes and delivers a message to local subscribers of room.
func (h *Hub) Publish(room, msgType string, data any) {
	b, err := json.Marshal(Msg{Type: msgType, Room: room, Data: data})
	if err != nil {
		h.log.Warn("encode message", zap.String("type", msgType), zap.Error(err))
		return
	}
	h.Deliver(room, b)
}

// Deliver sends an already encoded message to local subscribers of room.
func (h *Hub) Deliver(room string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		select {
		case c.send <- payload:
		default:
			h.log.Debug("dropping message for slow client", zap.String("room", room))
		}
	}
}

// Subscribers reports how many connections watch room.
func (h *Hub) Subscribers(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// HandleWS is the HTTP handler for WebSocket connections.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	c := &conn{
		ws:    wsConn,
		send:  make(chan []byte, sendBuffer),
		hub:   h,
		rooms: make(map[string]bool),
	}
	h.mu.Lock()
	h.allConn[c] = true
	h.mu.Unlock()

	go c.writePump()
	go c.readPump()
}

func (c *conn) readPump() {
	defer func() {
		c.hub.removeConn(c)
		c.ws.Close()
	}()
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			break
		}
		// {"action":"subscribe","room":"3"}
		var sub struct {
			Action string `json:"action"`
			Room   string `json:"room"`
		}
		if err := json.Unmarshal(msg, &sub); err != nil || sub.Room == "" {
			continue
		}
		switch sub.Action {
		case "subscribe":
			c.hub.subscribe(c, sub.Room)
		case "unsubscribe":
			c.hub.unsubscribe(c, sub.Room)
		}
	}
}

func (c *conn) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			break
		}
	}
}

func (h *Hub) subscribe(c *conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(c.rooms) >= maxRooms && !c.rooms[room] {
		return
	}
	c.rooms[room] = true
	set, ok := h.rooms[room]
	if !ok {
		set = make(map[*conn]bool)
		h.rooms[room] = set
	}
	set[c] = true
}

func (h *Hub) unsubscribe(c *conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leave(c, room)
}

// leave drops c from room. Caller holds h.mu.
func (h *Hub) leave(c *conn, room string) {
	delete(c.rooms, room)
	if set, ok := h.rooms[room]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) removeConn(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.allConn, c)
	for room := range c.rooms {
		h.leave(c, room)
	}
	close(c.send)
}
