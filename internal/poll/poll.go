// Package poll re-fetches a task's REST status on a fixed cadence.
//
// Loop is a Bubble Tea sub-model. Start fetches immediately; each accepted
// StatusMsg is handed to the owner, which reconciles it with the push view
// and calls Continue with the reconciled status to schedule the next fetch.
// Errors are retried with exponential backoff up to MaxFailures.
package poll

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/abelbrown/chatpulse/internal/api"
	"github.com/abelbrown/chatpulse/internal/logging"
	"github.com/abelbrown/chatpulse/internal/otel"
	"github.com/abelbrown/chatpulse/internal/task"
)

// DefaultInterval is the cadence while a task is pending or running.
const DefaultInterval = 2 * time.Second

// maxBackoff caps the retry delay.
const maxBackoff = 30 * time.Second

// Cadence decides the next poll for a reconciled status: DefaultInterval
// while the task can still change (including unknown statuses), no poll once
// it is terminal.
func Cadence(status task.Status) (time.Duration, bool) {
	return cadence(DefaultInterval, status)
}

func cadence(interval time.Duration, status task.Status) (time.Duration, bool) {
	if status.IsTerminal() {
		return 0, false
	}
	return interval, true
}

// Backoff returns the delay after the n-th consecutive failure:
// interval, 2*interval, 4*interval, ... capped at 30s.
func Backoff(interval time.Duration, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := interval
	for i := 1; i < n && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// FetchFunc fetches one snapshot.
type FetchFunc func(ctx context.Context, id task.ID) (task.Snapshot, error)

// Scheduler defers a message, like render.Scheduler.
type Scheduler func(d time.Duration, msg tea.Msg) tea.Cmd

// TickScheduler schedules with tea.Tick.
func TickScheduler(d time.Duration, msg tea.Msg) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return msg })
}

// Options configures a Loop.
type Options struct {
	Interval    time.Duration
	MaxFailures int
	Timeout     time.Duration // per request; zero means none
	Events      *otel.Logger
}

// DefaultOptions returns the dashboard settings.
func DefaultOptions() Options {
	return Options{Interval: DefaultInterval, MaxFailures: 3, Timeout: 10 * time.Second}
}

// StatusMsg is the result of one fetch.
type StatusMsg struct {
	TaskID   task.ID
	Snapshot task.Snapshot
	Err      error

	loop int
	gen  int
}

type tickMsg struct {
	loop int
	gen  int
}

var lastID int64

func nextID() int {
	return int(atomic.AddInt64(&lastID, 1))
}

// Loop polls one task at a time.
type Loop struct {
	id    int
	gen   int
	fetch FetchFunc
	after Scheduler
	opts  Options

	taskID   task.ID
	active   bool
	awaiting bool // a successful fetch is waiting for Continue
	failures int
	err      error
	last     *task.Snapshot
	stopped  string
}

// New creates an idle Loop. A nil scheduler means TickScheduler.
func New(fetch FetchFunc, opts Options, after Scheduler) Loop {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxFailures < 1 {
		opts.MaxFailures = 1
	}
	if after == nil {
		after = TickScheduler
	}
	return Loop{id: nextID(), fetch: fetch, after: after, opts: opts}
}

// Start begins polling id with an immediate fetch. Responses for any
// earlier task or run are ignored from now on.
func (l Loop) Start(id task.ID) (Loop, tea.Cmd) {
	l.gen++
	l.taskID = id
	l.active = true
	l.awaiting = false
	l.failures = 0
	l.err = nil
	l.last = nil
	l.stopped = ""
	return l, l.fetchCmd()
}

// Refresh fetches now, outside the cadence. A pending tick is dropped.
func (l Loop) Refresh() (Loop, tea.Cmd) {
	if l.taskID == "" {
		return l, nil
	}
	l.gen++
	l.active = true
	l.awaiting = false
	l.stopped = ""
	return l, l.fetchCmd()
}

// Stop cancels polling. In-flight responses are ignored.
func (l Loop) Stop() Loop {
	l.gen++
	l.active = false
	l.awaiting = false
	if l.stopped == "" {
		l.stopped = "stopped"
	}
	return l
}

// Owns reports whether msg belongs to the current run of this loop.
func (l Loop) Owns(msg StatusMsg) bool {
	return msg.loop == l.id && msg.gen == l.gen && l.active
}

// Update handles ticks and fetch results. Failed fetches are retried here;
// successful ones wait for Continue.
func (l Loop) Update(msg tea.Msg) (Loop, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		if msg.loop != l.id || msg.gen != l.gen || !l.active {
			return l, nil
		}
		return l, l.fetchCmd()

	case StatusMsg:
		if !l.Owns(msg) {
			return l, nil
		}
		if msg.Err == nil {
			snap := msg.Snapshot
			l.last = &snap
			l.failures = 0
			l.err = nil
			l.awaiting = true
			return l, nil
		}

		l.failures++
		l.err = msg.Err
		switch {
		case errors.Is(msg.Err, api.ErrTaskNotFound):
			l.active = false
			l.stopped = "task not found"
			return l, nil
		case l.failures >= l.opts.MaxFailures:
			l.active = false
			l.stopped = "too many failures"
			logging.Warn("poll: giving up", "task", l.taskID, "failures", l.failures, "err", msg.Err)
			return l, nil
		}
		return l, l.after(Backoff(l.opts.Interval, l.failures), tickMsg{loop: l.id, gen: l.gen})
	}
	return l, nil
}

// Continue schedules the next fetch for the reconciled status, or stops the
// loop when that status is terminal. It does nothing unless a successful
// fetch is waiting.
func (l Loop) Continue(status task.Status) (Loop, tea.Cmd) {
	if !l.active || !l.awaiting {
		return l, nil
	}
	l.awaiting = false
	d, ok := cadence(l.opts.Interval, status)
	if !ok {
		l.active = false
		l.stopped = "terminal"
		return l, nil
	}
	return l, l.after(d, tickMsg{loop: l.id, gen: l.gen})
}

func (l Loop) fetchCmd() tea.Cmd {
	id, gen, loop := l.taskID, l.gen, l.id
	fetch, timeout, events := l.fetch, l.opts.Timeout, l.opts.Events
	return func() tea.Msg {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		start := time.Now()
		snap, err := fetch(ctx, id)
		if err != nil {
			events.Emit(otel.Event{Level: otel.LevelWarn, Kind: otel.KindPollError, Comp: "poll", TaskID: string(id), Err: err.Error(), Dur: time.Since(start)})
		} else {
			events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindPollStatus, Comp: "poll", TaskID: string(id), Status: string(snap.Status), Progress: snap.Progress, Dur: time.Since(start)})
		}
		return StatusMsg{TaskID: id, Snapshot: snap, Err: err, loop: loop, gen: gen}
	}
}

// TaskID returns the polled task.
func (l Loop) TaskID() task.ID { return l.taskID }

// Active reports whether the loop is still polling.
func (l Loop) Active() bool { return l.active }

// Err returns the last fetch error, cleared by a success.
func (l Loop) Err() error { return l.err }

// Failures returns the count of consecutive failed fetches.
func (l Loop) Failures() int { return l.failures }

// Last returns the last successful snapshot, or nil.
func (l Loop) Last() *task.Snapshot { return l.last }

// StopReason explains why an inactive loop stopped.
func (l Loop) StopReason() string { return l.stopped }
