package push

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxFrameSize   = 64 << 10
	sendBufferSize = 64
)

// conn owns one WebSocket. The write pump is the only writer; the read pump
// is the only reader and reports frames and the terminal error to its owner.
type conn struct {
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	pingInterval time.Duration
	pongWait     time.Duration
}

func newConn(ws *websocket.Conn, pingInterval time.Duration) *conn {
	c := &conn{
		ws:           ws,
		send:         make(chan []byte, sendBufferSize),
		done:         make(chan struct{}),
		pingInterval: pingInterval,
	}
	if pingInterval > 0 {
		c.pongWait = pingInterval * 6 / 5
	}
	return c
}

// start launches both pumps. onFrame runs on the read goroutine for every
// text frame; onClose runs once when reading stops.
func (c *conn) start(onFrame func([]byte), onClose func(error)) {
	go c.writePump()
	go c.readPump(onFrame, onClose)
}

// enqueue queues a frame for writing. It reports false when the connection
// is closing or the buffer is full.
func (c *conn) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close asks the write pump to send a close frame and shut the socket.
func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *conn) readPump(onFrame func([]byte), onClose func(error)) {
	c.ws.SetReadLimit(maxFrameSize)
	c.extendDeadline()
	c.ws.SetPongHandler(func(string) error {
		c.extendDeadline()
		return nil
	})

	var err error
	for {
		var msgType int
		var data []byte
		msgType, data, err = c.ws.ReadMessage()
		if err != nil {
			break
		}
		c.extendDeadline()
		if msgType == websocket.TextMessage {
			onFrame(data)
		}
	}
	c.close()
	onClose(err)
}

func (c *conn) extendDeadline() {
	if c.pongWait > 0 {
		c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
	}
}

func (c *conn) writePump() {
	var tick <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.ws.Close()

	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-tick:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
