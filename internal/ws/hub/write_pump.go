package hub

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kgellert/gemini-relay/internal/lib/logger/sl"
)

// Deadlines shared by the read and write sides of a relay feed connection.
const (
	WriteWait  = 10 * time.Second
	PongWait   = 60 * time.Second
	PingPeriod = PongWait * 9 / 10
)

// WritePump drains the connection's event queue onto the socket and keeps
// the peer alive with pings. It returns when the queue is closed or a write
// fails.
func (c *Connection) WritePump(log *slog.Logger) {
	const op = "ws.hub.WritePump"

	log = log.With(slog.String("op", op))

	ping := time.NewTicker(PingPeriod)
	defer ping.Stop()

	for {
		var (
			kind    int
			payload []byte
		)

		select {
		case event, ok := <-c.send:
			if !ok {
				_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			kind, payload = websocket.TextMessage, event
		case <-ping.C:
			kind = websocket.PingMessage
		}

		if err := c.write(kind, payload); err != nil {
			log.Debug("feed write failed", sl.Err(err))
			return
		}
	}
}

func (c *Connection) write(kind int, payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(kind, payload)
}
