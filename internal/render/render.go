// Package render progressively reveals large series to the UI in bounded
// chunks, one chunk per tick of the Bubble Tea event loop.
//
// A Renderer is a value-type sub-model in the style of the bubbles
// components: methods return the updated Renderer and an optional tea.Cmd.
// Steps are scheduled through a Scheduler so tests can drive them without a
// clock.
package render

import (
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Phase is the renderer's lifecycle state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRendering
	PhasePaused
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRendering:
		return "rendering"
	case PhasePaused:
		return "paused"
	case PhaseDone:
		return "done"
	}
	return "unknown"
}

// Options configures chunking.
type Options struct {
	// Threshold is the largest series rendered in one go. Longer series are
	// chunked.
	Threshold int
	// ChunkSize is the number of elements revealed per step.
	ChunkSize int
	// Interval is the delay between steps.
	Interval time.Duration
	// AutoStart begins rendering whenever a new source is set.
	AutoStart bool
}

// DefaultOptions returns the dashboard defaults.
func DefaultOptions() Options {
	return Options{
		Threshold: 500,
		ChunkSize: 50,
		Interval:  50 * time.Millisecond,
		AutoStart: true,
	}
}

func (o Options) normalized() Options {
	if o.Threshold < 0 {
		o.Threshold = 0
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 1
	}
	if o.Interval < 0 {
		o.Interval = 0
	}
	return o
}

// Scheduler defers a message to a later turn of the event loop.
type Scheduler interface {
	After(d time.Duration, msg tea.Msg) tea.Cmd
}

// TickScheduler schedules with tea.Tick.
type TickScheduler struct{}

// After implements Scheduler.
func (TickScheduler) After(d time.Duration, msg tea.Msg) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return msg })
}

// StepMsg advances a renderer by one chunk. Each message is bound to one
// renderer and one generation; stale steps are ignored.
type StepMsg struct {
	id  int
	gen int
}

var lastID int64

func nextID() int {
	return int(atomic.AddInt64(&lastID, 1))
}

// Renderer reveals items[:RenderedCount()] over time.
type Renderer[T any] struct {
	id    int
	gen   int
	opts  Options
	sched Scheduler

	key       string
	items     []T
	rendered  int
	rendering bool
	paused    bool
	steps     int
}

// New creates a Renderer. A nil scheduler means TickScheduler.
func New[T any](opts Options, sched Scheduler) Renderer[T] {
	if sched == nil {
		sched = TickScheduler{}
	}
	return Renderer[T]{
		id:    nextID(),
		opts:  opts.normalized(),
		sched: sched,
	}
}

// ID returns the renderer's identity for message routing.
func (r Renderer[T]) ID() int { return r.id }

// Options returns the active options.
func (r Renderer[T]) Options() Options { return r.opts }

// Key returns the identity of the current source.
func (r Renderer[T]) Key() string { return r.key }

// Len returns the length of the current source.
func (r Renderer[T]) Len() int { return len(r.items) }

// RenderedCount returns how many leading elements are revealed.
func (r Renderer[T]) RenderedCount() int { return r.rendered }

// Rendered returns the revealed prefix of the source.
func (r Renderer[T]) Rendered() []T { return r.items[:r.rendered] }

// IsRendering reports whether steps are being scheduled.
func (r Renderer[T]) IsRendering() bool { return r.rendering }

// Steps returns the number of chunks applied since the last reset.
func (r Renderer[T]) Steps() int { return r.steps }

// Progress returns RenderedCount/Len clamped to [0,1]. An empty source is
// fully rendered.
func (r Renderer[T]) Progress() float64 {
	if len(r.items) == 0 {
		return 1
	}
	p := float64(r.rendered) / float64(len(r.items))
	if p > 1 {
		return 1
	}
	return p
}

// Phase derives the lifecycle state.
func (r Renderer[T]) Phase() Phase {
	switch {
	case r.rendering:
		return PhaseRendering
	case r.rendered >= len(r.items) && (r.rendered > 0 || r.small()):
		return PhaseDone
	case r.paused:
		return PhasePaused
	default:
		return PhaseIdle
	}
}

func (r Renderer[T]) small() bool {
	return len(r.items) <= r.opts.Threshold
}

// SetSource replaces the series. A different key is a new identity and
// always resets; with AutoStart the new source starts rendering. Series at or
// under the threshold are revealed immediately.
func (r Renderer[T]) SetSource(key string, items []T) (Renderer[T], tea.Cmd) {
	if key == r.key && r.key != "" {
		r.items = items
		if r.small() {
			r.rendered = len(items)
			r.rendering = false
		} else if r.rendered > len(items) {
			r.rendered = len(items)
		}
		return r, nil
	}

	r.key = key
	r.items = items
	r = r.Reset()
	if r.small() {
		r.rendered = len(items)
		return r, nil
	}
	if r.opts.AutoStart {
		return r.Start()
	}
	return r, nil
}

// Start begins or resumes rendering from the current count.
func (r Renderer[T]) Start() (Renderer[T], tea.Cmd) {
	if r.small() {
		r.rendered = len(r.items)
		r.rendering = false
		r.paused = false
		return r, nil
	}
	if r.rendering || r.rendered >= len(r.items) {
		return r, nil
	}
	r.gen++
	r.rendering = true
	r.paused = false
	return r, r.schedule()
}

// Pause stops scheduling further steps. A step already in flight still lands.
func (r Renderer[T]) Pause() Renderer[T] {
	if r.rendering {
		r.rendering = false
		r.paused = true
	}
	return r
}

// Reset clears the rendered output and invalidates any in-flight step.
func (r Renderer[T]) Reset() Renderer[T] {
	r.gen++
	r.rendered = 0
	r.rendering = false
	r.paused = false
	r.steps = 0
	return r
}

// Update applies StepMsgs addressed to this renderer.
func (r Renderer[T]) Update(msg tea.Msg) (Renderer[T], tea.Cmd) {
	step, ok := msg.(StepMsg)
	if !ok || step.id != r.id || step.gen != r.gen {
		return r, nil
	}
	if r.rendered >= len(r.items) {
		r.rendering = false
		return r, nil
	}

	r.rendered += r.opts.ChunkSize
	if r.rendered > len(r.items) {
		r.rendered = len(r.items)
	}
	r.steps++

	if r.rendered >= len(r.items) {
		r.rendering = false
		return r, nil
	}
	if r.rendering {
		return r, r.schedule()
	}
	return r, nil
}

func (r Renderer[T]) schedule() tea.Cmd {
	return r.sched.After(r.opts.Interval, StepMsg{id: r.id, gen: r.gen})
}
