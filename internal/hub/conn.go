package hub

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Conn ties one live socket to one authenticated user in one chat.
// Writes are serialized by writeMu so broadcast and heartbeat never
// interleave frames.
type Conn struct {
	id     string
	ws     *websocket.Conn
	chatID uint
	userID uint

	writeMu sync.Mutex
	alive   atomic.Bool
}

func newConn(ws *websocket.Conn, chatID, userID uint) *Conn {
	conn := &Conn{
		id:     uuid.NewString(),
		ws:     ws,
		chatID: chatID,
		userID: userID,
	}
	conn.alive.Store(true)

	ws.SetReadLimit(maxMessageSize)
	ws.SetPongHandler(func(string) error {
		conn.alive.Store(true)
		return nil
	})

	return conn
}

// readLoop drains inbound frames until the transport fails or the
// client closes. Pushed chat traffic is server-to-client only; any
// text the client sends is discarded, but reading is what lets the
// pong handler run.
func (c *Conn) readLoop() {
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Conn) writeEvent(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.writeRaw(payload)
}

func (c *Conn) writeRaw(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *Conn) ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *Conn) close() {
	_ = c.ws.Close()
}
