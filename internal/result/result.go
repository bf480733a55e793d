// Package result fetches a completed task's analysis payload and presents it:
// summary, topics, and a zoomable sentiment chart revealed progressively.
package result

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/abelbrown/chatpulse/internal/chart"
	"github.com/abelbrown/chatpulse/internal/logging"
	"github.com/abelbrown/chatpulse/internal/otel"
	"github.com/abelbrown/chatpulse/internal/render"
	"github.com/abelbrown/chatpulse/internal/sampling"
	"github.com/abelbrown/chatpulse/internal/task"
)

// State of the result fetch.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// ZoomLevels are the selectable zoom factors, lowest first.
var ZoomLevels = []float64{0.25, 0.5, 1, 2, 4, 8}

const defaultZoomIndex = 2

// FetchFunc loads a task's result.
type FetchFunc func(ctx context.Context, id task.ID) (task.Result, error)

// Options configures a Model.
type Options struct {
	Baseline int // point budget at zoom 1
	Height   int // chart rows
	Width    int // initial chart columns
	Render   render.Options
	Timeout  time.Duration
	Events   *otel.Logger
}

// DefaultOptions returns the dashboard settings.
func DefaultOptions() Options {
	return Options{
		Baseline: 1000,
		Height:   10,
		Width:    72,
		Render:   render.DefaultOptions(),
		Timeout:  15 * time.Second,
	}
}

// LoadedMsg carries a finished result fetch.
type LoadedMsg struct {
	TaskID task.ID
	Result task.Result
	Err    error

	model int
}

var lastID int64

// Model is a Bubble Tea sub-model with value semantics.
type Model struct {
	id    int
	fetch FetchFunc
	opts  Options

	taskID task.ID
	state  State
	err    error
	result task.Result

	zoomIdx  int
	renderer render.Renderer[float64]
	started  time.Time
	width    int
}

// New creates an idle Model. A nil scheduler means render.TickScheduler.
func New(fetch FetchFunc, opts Options, sched render.Scheduler) Model {
	if opts.Baseline < 1 {
		opts.Baseline = DefaultOptions().Baseline
	}
	if opts.Height < 1 {
		opts.Height = DefaultOptions().Height
	}
	if opts.Width < 1 {
		opts.Width = DefaultOptions().Width
	}
	return Model{
		id:       int(atomic.AddInt64(&lastID, 1)),
		fetch:    fetch,
		opts:     opts,
		zoomIdx:  defaultZoomIndex,
		renderer: render.New[float64](opts.Render, sched),
		width:    opts.Width,
	}
}

// SetTask points the model at a task. A different task discards any loaded
// result and any fetch in flight.
func (m Model) SetTask(id task.ID) Model {
	if id == m.taskID {
		return m
	}
	m.taskID = id
	m.state = StateIdle
	m.err = nil
	m.result = task.Result{}
	m.renderer, _ = m.renderer.SetSource("", nil)
	return m
}

// Observe is called with every reconciled status. The first completed
// status starts the one and only fetch; anything else is ignored.
func (m Model) Observe(status task.Status) (Model, tea.Cmd) {
	if status != task.StatusCompleted || m.state != StateIdle || m.taskID == "" {
		return m, nil
	}
	m.state = StateLoading
	return m, m.fetchCmd()
}

func (m Model) fetchCmd() tea.Cmd {
	id, model := m.taskID, m.id
	fetch, timeout, events := m.fetch, m.opts.Timeout, m.opts.Events
	return func() tea.Msg {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		start := time.Now()
		res, err := fetch(ctx, id)
		if err != nil {
			events.Emit(otel.Event{Level: otel.LevelError, Kind: otel.KindResultError, Comp: "result", TaskID: string(id), Err: err.Error(), Dur: time.Since(start)})
		} else {
			events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindResultFetch, Comp: "result", TaskID: string(id), Count: len(res.Sentiment), Dur: time.Since(start)})
		}
		return LoadedMsg{TaskID: id, Result: res, Err: err, model: model}
	}
}

// Update handles LoadedMsg and renderer steps.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case LoadedMsg:
		if msg.model != m.id || msg.TaskID != m.taskID || m.state != StateLoading {
			return m, nil
		}
		if msg.Err != nil {
			m.state = StateFailed
			m.err = msg.Err
			logging.Warn("result fetch failed", "task", m.taskID, "err", msg.Err)
			return m, nil
		}
		m.state = StateReady
		m.result = msg.Result
		return m.resample()

	case render.StepMsg:
		wasRendering := m.renderer.IsRendering()
		var cmd tea.Cmd
		m.renderer, cmd = m.renderer.Update(msg)
		if wasRendering && m.renderer.Phase() == render.PhaseDone {
			m.opts.Events.Emit(otel.Event{
				Level: otel.LevelInfo, Kind: otel.KindRenderDone, Comp: "result",
				TaskID: string(m.taskID), Count: m.renderer.Len(), Dur: time.Since(m.started),
				Extra: map[string]any{"steps": m.renderer.Steps(), "zoom": m.Zoom()},
			})
		}
		return m, cmd
	}
	return m, nil
}

// resample recomputes the displayed series for the current zoom and hands
// it to the renderer under a zoom-specific key.
func (m Model) resample() (Model, tea.Cmd) {
	if m.state != StateReady {
		return m, nil
	}
	values := task.SentimentValues(m.result.Sentiment)
	sampled := sampling.Decimate(values, m.Budget())
	var cmd tea.Cmd
	m.renderer, cmd = m.renderer.SetSource(m.key(), sampled)
	return m.noteStart(cmd)
}

func (m Model) noteStart(cmd tea.Cmd) (Model, tea.Cmd) {
	if cmd != nil {
		m.started = time.Now()
		m.opts.Events.Emit(otel.Event{
			Level: otel.LevelInfo, Kind: otel.KindRenderStart, Comp: "result",
			TaskID: string(m.taskID), Count: m.renderer.Len(),
			Extra: map[string]any{"zoom": m.Zoom(), "rendered": m.renderer.RenderedCount()},
		})
	}
	return m, cmd
}

func (m Model) key() string {
	return fmt.Sprintf("%s@%g", m.taskID, m.Zoom())
}

// Zoom returns the current zoom factor.
func (m Model) Zoom() float64 { return ZoomLevels[m.zoomIdx] }

// Budget returns the point budget for the current zoom.
func (m Model) Budget() int { return sampling.Budget(m.opts.Baseline, m.Zoom()) }

// ZoomIn moves to the next higher zoom level, which halves the budget.
func (m Model) ZoomIn() (Model, tea.Cmd) {
	if m.zoomIdx == len(ZoomLevels)-1 {
		return m, nil
	}
	m.zoomIdx++
	return m.resample()
}

// ZoomOut moves to the next lower zoom level.
func (m Model) ZoomOut() (Model, tea.Cmd) {
	if m.zoomIdx == 0 {
		return m, nil
	}
	m.zoomIdx--
	return m.resample()
}

// SetZoom selects the level closest to z.
func (m Model) SetZoom(z float64) (Model, tea.Cmd) {
	z = sampling.ClampZoom(z)
	best := 0
	for i, l := range ZoomLevels {
		if abs(l-z) < abs(ZoomLevels[best]-z) {
			best = i
		}
	}
	if best == m.zoomIdx {
		return m, nil
	}
	m.zoomIdx = best
	return m.resample()
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// TogglePause pauses a running render or resumes a stopped one.
func (m Model) TogglePause() (Model, tea.Cmd) {
	if m.renderer.IsRendering() {
		m.renderer = m.renderer.Pause()
		return m, nil
	}
	var cmd tea.Cmd
	m.renderer, cmd = m.renderer.Start()
	return m.noteStart(cmd)
}

// ResetRender clears the chart. It stays empty until resumed.
func (m Model) ResetRender() Model {
	m.renderer = m.renderer.Reset()
	return m
}

// SetWidth sets the chart width in cells, including the axis.
func (m Model) SetWidth(w int) Model {
	if w > chart.GutterWidth+10 {
		m.width = w - chart.GutterWidth
	}
	return m
}

// TaskID returns the task whose result is shown.
func (m Model) TaskID() task.ID { return m.taskID }

// State returns the fetch state.
func (m Model) State() State { return m.state }

// Err returns the fetch error in StateFailed.
func (m Model) Err() error { return m.err }

// Result returns the loaded payload.
func (m Model) Result() task.Result { return m.result }

// Renderer exposes the chart renderer.
func (m Model) Renderer() render.Renderer[float64] { return m.renderer }

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#58a6ff"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#8b949e"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#f85149"))
)

// View renders the result panel.
func (m Model) View() string {
	switch m.state {
	case StateIdle:
		return ""
	case StateLoading:
		return dimStyle.Render("Loading result…")
	case StateFailed:
		return errStyle.Render("Result unavailable: " + m.err.Error())
	}

	var b strings.Builder
	res := m.result
	b.WriteString(titleStyle.Render("Result"))
	b.WriteString("\n")
	if res.Summary != "" {
		b.WriteString(res.Summary)
		b.WriteString("\n")
	}
	if res.MessageCount > 0 || len(res.Participants) > 0 {
		b.WriteString(dimStyle.Render(fmt.Sprintf("%d messages · %d participants", res.MessageCount, len(res.Participants))))
		b.WriteString("\n")
	}
	if len(res.Topics) > 0 {
		parts := make([]string, len(res.Topics))
		for i, tp := range res.Topics {
			parts[i] = fmt.Sprintf("%s %.0f%%", tp.Label, tp.Share*100)
		}
		b.WriteString("Topics: " + strings.Join(parts, ", "))
		b.WriteString("\n")
	}

	if m.renderer.Len() == 0 {
		return strings.TrimRight(b.String(), "\n")
	}

	b.WriteString("\n")
	b.WriteString(chart.Area(m.renderer.Rendered(), chart.Options{
		Width:  m.width,
		Height: m.opts.Height,
		Min:    -1,
		Max:    1,
		Total:  m.renderer.Len(),
	}))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("sentiment · %d/%d points of %d · zoom %gx · %s",
		m.renderer.RenderedCount(), m.renderer.Len(), len(res.Sentiment), m.Zoom(), m.renderer.Phase())))
	return b.String()
}
