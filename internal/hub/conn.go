package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/notify-channel/internal/wire"
)

// conn is one accepted client socket. Writes are serialised; reads happen
// only on the goroutine running Hub.serve.
type conn struct {
	id           string
	userID       string
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func newConn(ws *websocket.Conn, userID string, writeTimeout time.Duration) *conn {
	return &conn{
		id:           uuid.New().String(),
		userID:       userID,
		ws:           ws,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

func (c *conn) authenticated() bool {
	return c.userID != ""
}

// sendFrame encodes and writes one frame.
func (c *conn) sendFrame(event string, payload any) error {
	data, err := wire.Marshal(payload)
	if err != nil {
		return err
	}
	msg, err := wire.Encode(event, data, wire.Now())
	if err != nil {
		return err
	}
	return c.write(msg)
}

func (c *conn) write(msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, msg)
}

// close sends a close frame with code and reason, best effort, then closes
// the socket.
func (c *conn) close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.ws.Close()
	})
}
