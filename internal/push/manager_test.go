package push_test

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abelbrown/chatpulse/internal/push"
	"github.com/abelbrown/chatpulse/internal/sim"
	"github.com/abelbrown/chatpulse/internal/task"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

type fixture struct {
	sim *sim.Server
	srv *httptest.Server
	mgr *push.Manager
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := sim.New(sim.Options{ResultPoints: 10})
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)

	opts := push.DefaultOptions(wsURL(srv))
	opts.ReconnectDelay = 10 * time.Millisecond
	opts.MaxReconnectAttempts = 3
	opts.HandshakeTimeout = time.Second
	m := push.NewManager(opts)
	t.Cleanup(m.Disconnect)

	return &fixture{sim: s, srv: srv, mgr: m}
}

func (f *fixture) connect(t *testing.T) {
	t.Helper()
	require.NoError(t, f.mgr.Connect(context.Background()))
	require.True(t, f.mgr.Connected())
}

// recorder collects connection transitions.
type recorder struct {
	mu     sync.Mutex
	states []bool
}

func (r *recorder) record(c bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, c)
}

func (r *recorder) get() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.states...)
}

func TestProgressDelivered(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	id := f.sim.CreateTask("chat")

	got := make(chan task.ProgressEvent, 4)
	f.mgr.OnTaskProgress(id, func(ev task.ProgressEvent) { got <- ev })
	f.mgr.SubscribeToTask(id)
	require.True(t, f.mgr.Subscribed(id))
	require.Eventually(t, func() bool { return f.sim.Subscribers(id) == 1 }, waitFor, tick)

	require.NoError(t, f.sim.SetProgress(id, task.StatusRunning, 70, "counting words"))
	select {
	case ev := <-got:
		assert.Equal(t, id, ev.TaskID)
		assert.Equal(t, task.StatusRunning, ev.Status)
		assert.Equal(t, 70.0, ev.Progress)
		assert.Equal(t, "counting words", ev.Message)
	case <-time.After(waitFor):
		t.Fatal("no progress event")
	}
}

func TestConnectIdempotent(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = f.mgr.Connect(context.Background())
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return f.sim.Clients() == 1 }, waitFor, tick)

	require.NoError(t, f.mgr.Connect(context.Background()))
	assert.Equal(t, 1, f.sim.Clients(), "connect while connected should not dial")
}

func TestConnectFailureIsNotRetried(t *testing.T) {
	srv := httptest.NewServer(sim.New(sim.Options{DisablePush: true}))
	defer srv.Close()

	opts := push.DefaultOptions(wsURL(srv))
	opts.ReconnectDelay = time.Millisecond
	m := push.NewManager(opts)
	defer m.Disconnect()

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, push.ErrConnect))
	assert.False(t, m.Connected())
	assert.False(t, m.Reconnecting())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, m.ReconnectAttempts())
}

func TestSubscribeWhileDisconnectedIsNoop(t *testing.T) {
	f := newFixture(t)
	f.mgr.SubscribeToTask("t-1")
	assert.False(t, f.mgr.Subscribed("t-1"))
	assert.Empty(t, f.mgr.SubscribedTasks())
}

func TestCompletionUnsubscribesBeforeHandler(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	id := f.sim.CreateTask("chat")

	type seen struct {
		ev         task.CompletionEvent
		subscribed bool
		handlers   bool
	}
	got := make(chan seen, 1)
	f.mgr.OnTaskProgress(id, func(task.ProgressEvent) {})
	f.mgr.OnTaskCompleted(id, func(ev task.CompletionEvent) {
		got <- seen{
			ev:         ev,
			subscribed: f.mgr.Subscribed(id),
			handlers:   f.mgr.HasProgressHandler(id) || f.mgr.HasCompletedHandler(id),
		}
	})
	f.mgr.SubscribeToTask(id)
	require.Eventually(t, func() bool { return f.sim.Subscribers(id) == 1 }, waitFor, tick)

	require.NoError(t, f.sim.Complete(id, task.StatusFailed, "model crashed"))

	select {
	case s := <-got:
		assert.Equal(t, task.StatusFailed, s.ev.Status)
		assert.False(t, s.subscribed, "task should leave the subscribed set before the handler runs")
		assert.False(t, s.handlers, "listeners should be removed before the handler runs")
	case <-time.After(waitFor):
		t.Fatal("no completion event")
	}
	assert.False(t, f.mgr.Subscribed(id))
	require.Eventually(t, func() bool { return f.sim.Subscribers(id) == 0 }, waitFor, tick,
		"unsubscribe_task should reach the server")
}

func TestReregistrationOverwrites(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	id := f.sim.CreateTask("chat")

	first := make(chan float64, 4)
	second := make(chan float64, 4)
	disposeFirst := f.mgr.OnTaskProgress(id, func(ev task.ProgressEvent) { first <- ev.Progress })
	f.mgr.OnTaskProgress(id, func(ev task.ProgressEvent) { second <- ev.Progress })

	// A stale disposer must not remove the newer registration.
	disposeFirst()
	require.True(t, f.mgr.HasProgressHandler(id))

	f.mgr.SubscribeToTask(id)
	require.Eventually(t, func() bool { return f.sim.Subscribers(id) == 1 }, waitFor, tick)
	require.NoError(t, f.sim.SetProgress(id, task.StatusRunning, 12, ""))

	select {
	case p := <-second:
		assert.Equal(t, 12.0, p)
	case <-time.After(waitFor):
		t.Fatal("second handler not called")
	}
	assert.Empty(t, first)
}

func TestDisposerRemovesOwnRegistration(t *testing.T) {
	f := newFixture(t)
	dispose := f.mgr.OnTaskCompleted("t", func(task.CompletionEvent) {})
	require.True(t, f.mgr.HasCompletedHandler("t"))
	dispose()
	assert.False(t, f.mgr.HasCompletedHandler("t"))
	dispose() // second call is harmless
}

func TestReconnectResubscribes(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}
	f.mgr.OnConnectionChange(rec.record)
	f.connect(t)

	a := f.sim.CreateTask("a")
	b := f.sim.CreateTask("b")
	f.mgr.SubscribeToTask(a)
	f.mgr.SubscribeToTask(b)
	require.Eventually(t, func() bool {
		return f.sim.Subscribers(a) == 1 && f.sim.Subscribers(b) == 1
	}, waitFor, tick)

	require.Equal(t, 1, f.sim.DropClients())
	assert.Equal(t, 0, f.sim.Subscribers(a))

	require.Eventually(t, func() bool {
		return f.mgr.Connected() && f.sim.Subscribers(a) == 1 && f.sim.Subscribers(b) == 1
	}, waitFor, tick, "every recorded task should be resubscribed after reconnect")

	assert.Equal(t, []bool{true, false, true}, rec.get())
	assert.False(t, f.mgr.Reconnecting())
	assert.Equal(t, 0, f.mgr.ReconnectAttempts())
	assert.ElementsMatch(t, []task.ID{a, b}, f.mgr.SubscribedTasks())
}

func TestReconnectGivesUp(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}
	f.mgr.OnConnectionChange(rec.record)
	f.connect(t)

	// Stop accepting connections, then cut the live one.
	f.srv.Listener.Close()
	f.sim.DropClients()

	require.Eventually(t, func() bool {
		return !f.mgr.Reconnecting() && f.mgr.ReconnectAttempts() == 3
	}, waitFor, tick)
	assert.False(t, f.mgr.Connected())
	assert.Equal(t, []bool{true, false}, rec.get())
}

func TestListenerPanicDoesNotStopDelivery(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	var calls []string
	f.mgr.OnConnectionChange(func(bool) { panic("boom") })
	f.mgr.OnConnectionChange(func(c bool) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, "second")
	})

	f.connect(t)
	mu.Lock()
	assert.Equal(t, []string{"second"}, calls)
	mu.Unlock()

	// Panicking event handler: the channel keeps working.
	id := f.sim.CreateTask("chat")
	got := make(chan struct{}, 1)
	f.mgr.OnTaskProgress(id, func(ev task.ProgressEvent) {
		if ev.Progress < 50 {
			panic("bad handler")
		}
		got <- struct{}{}
	})
	f.mgr.SubscribeToTask(id)
	require.Eventually(t, func() bool { return f.sim.Subscribers(id) == 1 }, waitFor, tick)
	require.NoError(t, f.sim.SetProgress(id, task.StatusRunning, 10, ""))
	require.NoError(t, f.sim.SetProgress(id, task.StatusRunning, 60, ""))

	select {
	case <-got:
	case <-time.After(waitFor):
		t.Fatal("delivery stopped after a handler panic")
	}
	assert.True(t, f.mgr.Connected())
}

func TestDisconnectClearsEverything(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}
	f.mgr.OnConnectionChange(rec.record)
	f.connect(t)

	id := f.sim.CreateTask("chat")
	f.mgr.OnTaskProgress(id, func(task.ProgressEvent) {})
	f.mgr.OnTaskCompleted(id, func(task.CompletionEvent) {})
	f.mgr.SubscribeToTask(id)

	f.mgr.Disconnect()
	assert.False(t, f.mgr.Connected())
	assert.Empty(t, f.mgr.SubscribedTasks())
	assert.False(t, f.mgr.HasProgressHandler(id))
	assert.False(t, f.mgr.HasCompletedHandler(id))
	assert.Equal(t, []bool{true, false}, rec.get())

	require.Eventually(t, func() bool { return f.sim.Clients() == 0 }, waitFor, tick)

	// Listeners are gone: reconnecting notifies nobody.
	f.connect(t)
	assert.Equal(t, []bool{true, false}, rec.get())
	f.mgr.Disconnect()
}

func TestConnectAfterDisconnectDuringDial(t *testing.T) {
	f := newFixture(t)

	var dials atomic.Int32
	release := make(chan struct{})
	opts := push.DefaultOptions(wsURL(f.srv))
	opts.Dialer = &websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if dials.Add(1) == 1 {
				<-release
			}
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}
	m := push.NewManager(opts)
	t.Cleanup(m.Disconnect)

	first := make(chan error, 1)
	go func() { first <- m.Connect(context.Background()) }()
	require.Eventually(t, func() bool { return dials.Load() == 1 }, waitFor, tick)

	m.Disconnect()

	second := make(chan error, 1)
	go func() { second <- m.Connect(context.Background()) }()
	select {
	case err := <-second:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("connect after disconnect waited on the abandoned dial")
	}
	assert.True(t, m.Connected())

	close(release)
	assert.ErrorIs(t, <-first, push.ErrClosed)
	assert.True(t, m.Connected(), "abandoned dial must not replace the live connection")
	require.Eventually(t, func() bool { return f.sim.Clients() == 1 }, waitFor, tick)
}

func TestUnsubscribeAlwaysDropsHandlers(t *testing.T) {
	f := newFixture(t)
	f.mgr.OnTaskProgress("t", func(task.ProgressEvent) {})
	f.mgr.OnTaskCompleted("t", func(task.CompletionEvent) {})

	f.mgr.UnsubscribeFromTask("t") // disconnected
	assert.False(t, f.mgr.HasProgressHandler("t"))
	assert.False(t, f.mgr.HasCompletedHandler("t"))
}

func TestProgressWithoutHandlerDropped(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	id := f.sim.CreateTask("chat")
	f.mgr.SubscribeToTask(id)
	require.Eventually(t, func() bool { return f.sim.Subscribers(id) == 1 }, waitFor, tick)

	require.NoError(t, f.sim.SetProgress(id, task.StatusRunning, 30, ""))
	require.NoError(t, f.sim.Complete(id, task.StatusCompleted, ""))
	require.Eventually(t, func() bool { return !f.mgr.Subscribed(id) }, waitFor, tick)
	assert.True(t, f.mgr.Connected())
}
