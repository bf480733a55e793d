package sim

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/abelbrown/chatpulse/internal/logging"
	"github.com/abelbrown/chatpulse/internal/push"
	"github.com/abelbrown/chatpulse/internal/task"
)

const (
	writeWait      = 10 * time.Second
	maxFrameSize   = 4096
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// hub tracks connected clients and the tasks each one subscribed to.
type hub struct {
	mu      sync.Mutex
	clients map[*client]map[task.ID]bool
}

type client struct {
	hub  *hub
	ws   *websocket.Conn
	send chan []byte
	once sync.Once
}

func newHub() *hub {
	return &hub{clients: make(map[*client]map[task.ID]bool)}
}

func (h *hub) serve(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("sim: upgrade failed", "err", err)
		return
	}
	c := newClient(h, ws)
	n := h.add(c)
	logging.Debug("sim: client connected", "clients", n)

	go c.writePump()
	go c.readPump()
}

// newClient returns a client with the greeting already queued. It must be
// queued before add: once registered, dropAll may close c.send at any time.
func newClient(h *hub, ws *websocket.Conn) *client {
	c := &client{hub: h, ws: ws, send: make(chan []byte, sendBufferSize)}
	if hello, err := push.Encode(push.TypeConnected, struct{}{}); err == nil {
		c.send <- hello
	}
	return c
}

func (h *hub) add(c *client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = make(map[task.ID]bool)
	return len(h.clients)
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.stop()
	}
}

func (h *hub) subscribe(c *client, id task.ID, on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.clients[c]
	if !ok {
		return
	}
	if on {
		subs[id] = true
	} else {
		delete(subs, id)
	}
}

// publish sends a frame to every client subscribed to id.
func (h *hub) publish(id task.ID, frame []byte) int {
	h.mu.Lock()
	var slow []*client
	sent := 0
	for c, subs := range h.clients {
		if !subs[id] {
			continue
		}
		select {
		case c.send <- frame:
			sent++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.remove(c)
	}
	return sent
}

func (h *hub) subscribers(id task.ID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, subs := range h.clients {
		if subs[id] {
			n++
		}
	}
	return n
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// dropAll closes every socket without a close handshake, the way a crashed
// server or a network fault would look to clients.
func (h *hub) dropAll() int {
	h.mu.Lock()
	all := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.clients = make(map[*client]map[task.ID]bool)
	h.mu.Unlock()

	for _, c := range all {
		c.ws.Close()
		c.stop()
	}
	return len(all)
}

func (c *client) stop() {
	c.once.Do(func() { close(c.send) })
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.ws.Close()
	}()
	c.ws.SetReadLimit(maxFrameSize)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Debug("sim: read error", "err", err)
			}
			return
		}
		env, err := push.Decode(data)
		if err != nil {
			logging.Warn("sim: malformed frame", "err", err)
			continue
		}
		var ref push.TaskRef
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &ref); err != nil {
				continue
			}
		}
		switch env.Type {
		case push.TypeSubscribe:
			c.hub.subscribe(c, ref.TaskID, true)
		case push.TypeUnsubscribe:
			c.hub.subscribe(c, ref.TaskID, false)
		}
	}
}

func (c *client) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
