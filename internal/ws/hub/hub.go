package hub

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
)

type Connection struct {
	conn      *websocket.Conn
	send      chan []byte
	chatIDs   map[int64]struct{}
	closeOnce sync.Once
}

type opKind int

const (
	opRegister opKind = iota
	opUnregister
	opSubscribe
	opBroadcast
)

// op is one hub command. A single queue keeps the commands issued by one
// goroutine in order.
type op struct {
	kind    opKind
	c       *Connection
	chatIDs []int64
	chatID  int64
	payload []byte
}

// Hub routes relay events to connections subscribed to a chat. All room
// state is owned by the Run goroutine.
type Hub struct {
	ops   chan op
	chats map[int64]map[*Connection]struct{}
	conns map[*Connection]struct{}
}

func NewConnection(conn *websocket.Conn) *Connection {
	return &Connection{
		conn:    conn,
		send:    make(chan []byte, 128),
		chatIDs: make(map[int64]struct{}),
	}
}

func NewHub() *Hub {
	return &Hub{
		ops:   make(chan op, 256),
		chats: make(map[int64]map[*Connection]struct{}),
		conns: make(map[*Connection]struct{}),
	}
}

// Run serves hub commands until ctx is done, then closes every
// connection's send queue.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.conns {
				c.CloseSend()
			}
			return

		case o := <-h.ops:
			h.apply(o)
		}
	}
}

func (h *Hub) apply(o op) {
	switch o.kind {
	case opRegister:
		h.conns[o.c] = struct{}{}

	case opUnregister:
		for chatID := range o.c.chatIDs {
			room := h.chats[chatID]
			if room == nil {
				continue
			}
			delete(room, o.c)
			if len(room) == 0 {
				delete(h.chats, chatID)
			}
		}
		delete(h.conns, o.c)
		o.c.CloseSend()

	case opSubscribe:
		if _, ok := h.conns[o.c]; !ok {
			return
		}
		for _, chatID := range o.chatIDs {
			room := h.chats[chatID]
			if room == nil {
				room = make(map[*Connection]struct{})
				h.chats[chatID] = room
			}
			room[o.c] = struct{}{}
			o.c.chatIDs[chatID] = struct{}{}
		}

	case opBroadcast:
		for c := range h.chats[o.chatID] {
			c.Send(o.payload)
		}
	}
}

func (h *Hub) Register(c *Connection) {
	h.ops <- op{kind: opRegister, c: c}
}

func (h *Hub) Unregister(c *Connection) {
	h.ops <- op{kind: opUnregister, c: c}
}

func (h *Hub) Subscribe(c *Connection, chatIDs []int64) {
	h.ops <- op{kind: opSubscribe, c: c, chatIDs: chatIDs}
}

// Broadcast queues payload for chatID. It drops the event when the queue
// is full so the relay never waits on slow observers.
func (h *Hub) Broadcast(chatID int64, payload []byte) {
	select {
	case h.ops <- op{kind: opBroadcast, chatID: chatID, payload: payload}:
	default:
	}
}

func (c *Connection) Send(b []byte) {
	select {
	case c.send <- b:
	default:
	}
}

func (c *Connection) CloseSend() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}
