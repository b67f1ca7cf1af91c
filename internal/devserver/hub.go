package devserver

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/primeautohub/chatwidget/internal/transport"
)

// client is one websocket attachment to a session's realtime room.
type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) send(frame transport.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(frame)
}

// hub tracks which connections joined which session. One visitor widget and
// any number of admin consoles can share a room.
type hub struct {
	mu    sync.Mutex
	rooms map[string]map[*client]struct{}
}

func newHub() *hub {
	return &hub{rooms: make(map[string]map[*client]struct{})}
}

// join moves the client into the session's room, leaving any previous one.
func (h *hub) join(sessionID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, room := range h.rooms {
		if _, ok := room[c]; ok && id != sessionID {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, id)
			}
		}
	}

	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[sessionID] = room
	}
	room[c] = struct{}{}
}

func (h *hub) leave(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, room := range h.rooms {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, id)
		}
	}
}

// broadcast delivers a frame to every connection in the session's room,
// optionally excluding the sender. Write failures drop the dead connection.
func (h *hub) broadcast(sessionID string, frame transport.Frame, except *client) {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.rooms[sessionID]))
	for c := range h.rooms[sessionID] {
		if c != except {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.send(frame); err != nil {
			h.leave(c)
			c.conn.Close()
		}
	}
}
