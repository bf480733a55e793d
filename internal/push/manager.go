// Package push is the WebSocket connection manager for live task events.
//
// One Manager owns one socket shared by every view that watches tasks. Views
// subscribe by task id and register at most one progress handler and one
// completion handler per task. Handlers run on the socket's read goroutine;
// Bubble Tea consumers forward into the program with program.Send.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/abelbrown/chatpulse/internal/httpclient"
	"github.com/abelbrown/chatpulse/internal/logging"
	"github.com/abelbrown/chatpulse/internal/otel"
	"github.com/abelbrown/chatpulse/internal/task"
)

var (
	// ErrConnect wraps failures of an explicit Connect.
	ErrConnect = errors.New("push: connect failed")
	// ErrClosed is returned by a Connect that was overtaken by Disconnect.
	ErrClosed = errors.New("push: manager disconnected")
)

const comp = "push"

// Options configures a Manager.
type Options struct {
	URL                  string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	HandshakeTimeout     time.Duration
	PingInterval         time.Duration

	// Dialer overrides the shared dialer from internal/httpclient.
	Dialer *websocket.Dialer
	// Events receives push.* observability events. Optional.
	Events *otel.Logger
}

// DefaultOptions returns the production settings for url.
func DefaultOptions(url string) Options {
	return Options{
		URL:                  url,
		MaxReconnectAttempts: 5,
		ReconnectDelay:       time.Second,
		HandshakeTimeout:     10 * time.Second,
		PingInterval:         25 * time.Second,
	}
}

// ProgressFunc receives task_progress events.
type ProgressFunc func(task.ProgressEvent)

// CompletedFunc receives the task_completed event.
type CompletedFunc func(task.CompletionEvent)

// ConnectionFunc receives connection state transitions.
type ConnectionFunc func(connected bool)

type progressReg struct {
	reg uint64
	fn  ProgressFunc
}

type completedReg struct {
	reg uint64
	fn  CompletedFunc
}

type connReg struct {
	reg uint64
	fn  ConnectionFunc
}

// attempt is an in-flight Connect shared by concurrent callers.
type attempt struct {
	done chan struct{}
	err  error
}

// Manager multiplexes task subscriptions over one WebSocket.
type Manager struct {
	opts   Options
	dialer *websocket.Dialer
	events *otel.Logger

	mu           sync.Mutex
	conn         *conn
	connecting   *attempt
	epoch        uint64 // bumped by Disconnect
	loopGen      uint64 // identifies the live reconnect loop
	reconnecting bool
	attempts     int
	stopLoop     context.CancelFunc
	nextReg      uint64
	subscribed   map[task.ID]struct{}
	progress     map[task.ID]progressReg
	completed    map[task.ID]completedReg
	listeners    []connReg
}

// NewManager creates a disconnected Manager.
func NewManager(opts Options) *Manager {
	d := opts.Dialer
	if d == nil {
		d = httpclient.Dialer(opts.HandshakeTimeout)
	}
	return &Manager{
		opts:       opts,
		dialer:     d,
		events:     opts.Events,
		subscribed: make(map[task.ID]struct{}),
		progress:   make(map[task.ID]progressReg),
		completed:  make(map[task.ID]completedReg),
	}
}

// URL returns the endpoint the manager dials.
func (m *Manager) URL() string { return m.opts.URL }

// Connect opens the socket. It returns nil immediately when already
// connected, and concurrent callers share one dial. A failed dial returns an
// error wrapping ErrConnect and is not retried here. A live reconnect loop is
// abandoned in favor of this attempt.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.conn != nil {
		m.mu.Unlock()
		return nil
	}
	if a := m.connecting; a != nil {
		m.mu.Unlock()
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.stopReconnectLocked()
	a := &attempt{done: make(chan struct{})}
	m.connecting = a
	epoch := m.epoch
	m.mu.Unlock()

	start := time.Now()
	ws, err := m.dial(ctx)

	m.mu.Lock()
	if m.connecting == a {
		m.connecting = nil
	}
	switch {
	case err != nil:
		a.err = fmt.Errorf("%w: %w", ErrConnect, err)
		m.mu.Unlock()
		logging.Warn("push: connect failed", "url", m.opts.URL, "err", err)
		m.events.Emit(otel.Event{Level: otel.LevelWarn, Kind: otel.KindPushConnectError, Comp: comp, Err: err.Error(), Dur: time.Since(start)})
	case epoch != m.epoch:
		a.err = ErrClosed
		m.mu.Unlock()
		ws.Close()
	default:
		c := m.installLocked(ws)
		ids, listeners := m.subscribedLocked(), m.listenersLocked()
		m.mu.Unlock()
		logging.Info("push: connected", "url", m.opts.URL)
		m.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindPushConnect, Comp: comp, Count: len(ids), Dur: time.Since(start)})
		m.resubscribe(c, ids)
		m.notify(listeners, true)
	}
	close(a.done)
	return a.err
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	ws, _, err := m.dialer.DialContext(ctx, m.opts.URL, nil)
	return ws, err
}

// installLocked adopts ws as the live connection and starts its pumps.
func (m *Manager) installLocked(ws *websocket.Conn) *conn {
	c := newConn(ws, m.opts.PingInterval)
	m.conn = c
	m.reconnecting = false
	m.attempts = 0
	if m.stopLoop != nil {
		m.stopLoop()
		m.stopLoop = nil
	}
	c.start(
		func(data []byte) { m.dispatch(c, data) },
		func(err error) { m.dropped(c, err) },
	)
	return c
}

func (m *Manager) resubscribe(c *conn, ids []task.ID) {
	for _, id := range ids {
		m.sendRef(c, TypeSubscribe, id)
	}
	if len(ids) > 0 {
		logging.Debug("push: resubscribed", "tasks", len(ids))
	}
}

// Disconnect closes the socket, stops reconnection, notifies connection
// listeners with false, then forgets every subscription and listener.
// It never fails and may be called repeatedly.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	c := m.conn
	m.conn = nil
	m.epoch++
	// An in-flight dial finishes with ErrClosed; later Connects dial afresh.
	m.connecting = nil
	m.stopReconnectLocked()
	listeners := m.listenersLocked()
	m.subscribed = make(map[task.ID]struct{})
	m.progress = make(map[task.ID]progressReg)
	m.completed = make(map[task.ID]completedReg)
	m.listeners = nil
	m.mu.Unlock()

	if c != nil {
		c.close()
		logging.Info("push: disconnected")
	}
	m.events.Info(otel.KindPushDisconnect, comp, "disconnect requested")
	m.notify(listeners, false)
}

func (m *Manager) stopReconnectLocked() {
	m.loopGen++
	if m.stopLoop != nil {
		m.stopLoop()
		m.stopLoop = nil
	}
	m.reconnecting = false
	m.attempts = 0
}

// dropped handles the end of a connection's read loop.
func (m *Manager) dropped(c *conn, err error) {
	m.mu.Lock()
	if m.conn != c {
		// Closed by Disconnect or replaced.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	listeners := m.listenersLocked()
	var (
		ctx context.Context
		gen uint64
	)
	retry := m.opts.MaxReconnectAttempts > 0
	if retry {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(context.Background())
		m.loopGen++
		gen = m.loopGen
		m.stopLoop = cancel
		m.reconnecting = true
		m.attempts = 0
	}
	m.mu.Unlock()

	logging.Warn("push: connection lost", "err", err, "reconnect", retry)
	m.events.Emit(otel.Event{Level: otel.LevelWarn, Kind: otel.KindPushDisconnect, Comp: comp, Err: errString(err)})
	m.notify(listeners, false)

	if retry {
		go m.reconnectLoop(ctx, gen)
	}
}

// reconnectLoop makes up to MaxReconnectAttempts dials, ReconnectDelay apart.
func (m *Manager) reconnectLoop(ctx context.Context, gen uint64) {
	for n := 1; n <= m.opts.MaxReconnectAttempts; n++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.opts.ReconnectDelay):
		}

		m.mu.Lock()
		if gen != m.loopGen {
			m.mu.Unlock()
			return
		}
		m.attempts = n
		m.mu.Unlock()

		m.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindPushReconnect, Comp: comp, Attempt: n})
		ws, err := m.dial(ctx)
		if err != nil {
			logging.Debug("push: reconnect attempt failed", "attempt", n, "err", err)
			continue
		}

		m.mu.Lock()
		if gen != m.loopGen || m.conn != nil {
			m.mu.Unlock()
			ws.Close()
			return
		}
		c := m.installLocked(ws)
		ids, listeners := m.subscribedLocked(), m.listenersLocked()
		m.mu.Unlock()

		logging.Info("push: reconnected", "attempt", n, "tasks", len(ids))
		m.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindPushConnect, Comp: comp, Attempt: n, Count: len(ids)})
		m.resubscribe(c, ids)
		m.notify(listeners, true)
		return
	}

	m.mu.Lock()
	if gen == m.loopGen {
		m.reconnecting = false
		m.stopLoop = nil
	}
	m.mu.Unlock()
	logging.Warn("push: reconnection gave up", "attempts", m.opts.MaxReconnectAttempts)
	m.events.Emit(otel.Event{Level: otel.LevelWarn, Kind: otel.KindPushReconnectFailed, Comp: comp, Attempt: m.opts.MaxReconnectAttempts})
}

// SubscribeToTask asks the server for events about id. It does nothing but
// log a warning while disconnected.
func (m *Manager) SubscribeToTask(id task.ID) {
	m.mu.Lock()
	c := m.conn
	if c == nil {
		m.mu.Unlock()
		logging.Warn("push: subscribe while disconnected", "task", id)
		return
	}
	m.subscribed[id] = struct{}{}
	m.mu.Unlock()

	m.sendRef(c, TypeSubscribe, id)
	m.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindPushSubscribe, Comp: comp, TaskID: string(id)})
}

// UnsubscribeFromTask stops events for id and drops both of its handlers.
// The server is told only when connected.
func (m *Manager) UnsubscribeFromTask(id task.ID) {
	m.mu.Lock()
	c := m.conn
	delete(m.subscribed, id)
	delete(m.progress, id)
	delete(m.completed, id)
	m.mu.Unlock()

	if c != nil {
		m.sendRef(c, TypeUnsubscribe, id)
	}
	m.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindPushUnsubscribe, Comp: comp, TaskID: string(id)})
}

func (m *Manager) sendRef(c *conn, typ string, id task.ID) {
	data, err := Encode(typ, TaskRef{TaskID: id})
	if err != nil {
		logging.Error("push: encode", "type", typ, "err", err)
		return
	}
	if !c.enqueue(data) {
		logging.Warn("push: frame not sent", "type", typ, "task", id)
	}
}

// OnTaskProgress sets the progress handler for id, replacing any previous
// one. The returned func removes this registration only.
func (m *Manager) OnTaskProgress(id task.ID, fn ProgressFunc) func() {
	m.mu.Lock()
	m.nextReg++
	reg := m.nextReg
	m.progress[id] = progressReg{reg: reg, fn: fn}
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if r, ok := m.progress[id]; ok && r.reg == reg {
			delete(m.progress, id)
		}
	}
}

// OnTaskCompleted sets the completion handler for id, replacing any previous
// one. The returned func removes this registration only.
func (m *Manager) OnTaskCompleted(id task.ID, fn CompletedFunc) func() {
	m.mu.Lock()
	m.nextReg++
	reg := m.nextReg
	m.completed[id] = completedReg{reg: reg, fn: fn}
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if r, ok := m.completed[id]; ok && r.reg == reg {
			delete(m.completed, id)
		}
	}
}

// OnConnectionChange adds a connection listener. The returned func removes it.
func (m *Manager) OnConnectionChange(fn ConnectionFunc) func() {
	m.mu.Lock()
	m.nextReg++
	reg := m.nextReg
	m.listeners = append(m.listeners, connReg{reg: reg, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, l := range m.listeners {
			if l.reg == reg {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// dispatch routes one server frame. Handlers are looked up under the lock and
// called after it is released.
func (m *Manager) dispatch(c *conn, data []byte) {
	env, err := Decode(data)
	if err != nil {
		logging.Warn("push: malformed frame", "err", err)
		return
	}

	switch env.Type {
	case TypeProgress:
		var ev task.ProgressEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			logging.Warn("push: malformed progress", "err", err)
			return
		}
		m.mu.Lock()
		r, ok := m.progress[ev.TaskID]
		live := m.conn == c
		m.mu.Unlock()
		if !live || !ok {
			return
		}
		m.events.Task(otel.KindPushProgress, comp, string(ev.TaskID), string(ev.Status), ev.Progress)
		m.call("progress", ev.TaskID, func() { r.fn(ev) })

	case TypeCompleted:
		var ev task.CompletionEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			logging.Warn("push: malformed completion", "err", err)
			return
		}
		m.mu.Lock()
		if m.conn != c {
			m.mu.Unlock()
			return
		}
		r, ok := m.completed[ev.TaskID]
		delete(m.subscribed, ev.TaskID)
		delete(m.progress, ev.TaskID)
		delete(m.completed, ev.TaskID)
		m.mu.Unlock()

		m.events.Task(otel.KindPushCompleted, comp, string(ev.TaskID), string(ev.Status), 0)
		if ok {
			m.call("completed", ev.TaskID, func() { r.fn(ev) })
		}
		m.sendRef(c, TypeUnsubscribe, ev.TaskID)

	case TypeConnected:
		logging.Debug("push: server hello")

	default:
		logging.Debug("push: ignoring frame", "type", env.Type)
	}
}

func (m *Manager) notify(listeners []connReg, connected bool) {
	for _, l := range listeners {
		m.call("connection", "", func() { l.fn(connected) })
	}
}

// call runs a listener, recovering and logging a panic so delivery continues.
func (m *Manager) call(kind string, id task.ID, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("push: listener panicked", "kind", kind, "task", id, "panic", r)
			m.events.Emit(otel.Event{
				Level:  otel.LevelError,
				Kind:   otel.KindPushListenerPanic,
				Comp:   comp,
				TaskID: string(id),
				Err:    fmt.Sprint(r),
				Msg:    kind,
			})
		}
	}()
	fn()
}

func (m *Manager) listenersLocked() []connReg {
	out := make([]connReg, len(m.listeners))
	copy(out, m.listeners)
	return out
}

func (m *Manager) subscribedLocked() []task.ID {
	ids := make([]task.ID, 0, len(m.subscribed))
	for id := range m.subscribed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Connected reports whether the socket is open.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Reconnecting reports whether the automatic reconnect loop is running.
func (m *Manager) Reconnecting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnecting
}

// ReconnectAttempts returns the attempts made by the current or last loop.
// It resets to zero on a successful connection.
func (m *Manager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Subscribed reports whether id is in the subscribed set.
func (m *Manager) Subscribed(id task.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subscribed[id]
	return ok
}

// SubscribedTasks returns the subscribed ids in sorted order.
func (m *Manager) SubscribedTasks() []task.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribedLocked()
}

// HasProgressHandler reports whether a progress handler is registered for id.
func (m *Manager) HasProgressHandler(id task.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.progress[id]
	return ok
}

// HasCompletedHandler reports whether a completion handler is registered for id.
func (m *Manager) HasCompletedHandler(id task.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.completed[id]
	return ok
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
