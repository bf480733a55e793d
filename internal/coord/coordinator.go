// Package coord runs the background side of the dashboard: it keeps the push
// connection alive and forwards connection changes and push events into the
// Bubble Tea program.
package coord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/abelbrown/chatpulse/internal/logging"
	"github.com/abelbrown/chatpulse/internal/push"
	"github.com/abelbrown/chatpulse/internal/ui"
)

// defaultRetryDelay is the time between connect attempts while push is down
// and the manager is not reconnecting on its own.
const defaultRetryDelay = 5 * time.Second

// connector is the part of *push.Manager the coordinator drives.
type connector interface {
	Connect(ctx context.Context) error
	Disconnect()
	Connected() bool
	Reconnecting() bool
	OnConnectionChange(fn push.ConnectionFunc) func()
}

// sender delivers messages to the UI. *tea.Program implements it.
type sender interface {
	Send(msg tea.Msg)
}

// Coordinator manages the push connection lifecycle.
// Uses context cancellation as the ONLY stop mechanism.
type Coordinator struct {
	conn       connector
	retryDelay time.Duration

	mu      sync.Mutex
	program sender

	wg sync.WaitGroup
}

// NewCoordinator creates a Coordinator for the push manager.
func NewCoordinator(m *push.Manager, retryDelay time.Duration) *Coordinator {
	return NewCoordinatorWithConnector(m, retryDelay)
}

// NewCoordinatorWithConnector allows injecting a custom connector (for testing).
func NewCoordinatorWithConnector(c connector, retryDelay time.Duration) *Coordinator {
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	return &Coordinator{conn: c, retryDelay: retryDelay}
}

// Send forwards msg to the program. Messages sent before Start are dropped.
// Safe for concurrent use; monitor handlers call it from the socket goroutine.
func (c *Coordinator) Send(msg tea.Msg) {
	c.mu.Lock()
	p := c.program
	c.mu.Unlock()
	if p == nil {
		logging.Debug("coord: dropping message before start", "type", fmt.Sprintf("%T", msg))
		return
	}
	p.Send(msg)
}

// Start connects immediately, then retries every retryDelay while push is
// neither connected nor reconnecting. Call with a cancellable context; on
// cancellation the connection is closed.
func (c *Coordinator) Start(ctx context.Context, program sender) {
	c.mu.Lock()
	c.program = program
	c.mu.Unlock()

	dispose := c.conn.OnConnectionChange(func(connected bool) {
		c.Send(ui.ConnectionChanged{
			Connected:    connected,
			Reconnecting: !connected && c.conn.Reconnecting(),
		})
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		c.connect(ctx)

		ticker := time.NewTicker(c.retryDelay)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				dispose()
				c.conn.Disconnect()
				return
			case <-ticker.C:
				if !c.conn.Connected() && !c.conn.Reconnecting() {
					c.connect(ctx)
				}
			}
		}
	}()
}

// Wait blocks until the background goroutine exits.
// Call after canceling the context passed to Start.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) connect(ctx context.Context) {
	err := c.conn.Connect(ctx)
	if err == nil || ctx.Err() != nil || errors.Is(err, push.ErrClosed) {
		return
	}
	logging.Warn("coord: push unavailable, polling only", "err", err, "retry", c.retryDelay)
	c.Send(ui.PushUnavailable{Err: err})
}

