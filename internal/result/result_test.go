package result

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/abelbrown/chatpulse/internal/render"
	"github.com/abelbrown/chatpulse/internal/task"
)

type fakeScheduler struct{}

func (fakeScheduler) After(_ time.Duration, msg tea.Msg) tea.Cmd {
	return func() tea.Msg { return msg }
}

type mockFetcher struct {
	calls int
	res   task.Result
	err   error
}

func (f *mockFetcher) fetch(_ context.Context, id task.ID) (task.Result, error) {
	f.calls++
	if f.err != nil {
		return task.Result{}, f.err
	}
	r := f.res
	r.TaskID = id
	return r, nil
}

func trace(n int) []task.SentimentPoint {
	pts := make([]task.SentimentPoint, n)
	for i := range pts {
		pts[i] = task.SentimentPoint{Sentiment: float64(i%20)/10 - 1}
	}
	return pts
}

func newModel(f *mockFetcher, autoStart bool) Model {
	opts := DefaultOptions()
	opts.Render = render.Options{Threshold: 100, ChunkSize: 50, AutoStart: autoStart}
	return New(f.fetch, opts, fakeScheduler{}).SetTask("t1")
}

func load(t *testing.T, m Model) (Model, tea.Cmd) {
	t.Helper()
	m, cmd := m.Observe(task.StatusCompleted)
	if cmd == nil {
		t.Fatal("completed status should start a fetch")
	}
	return m.Update(cmd())
}

func TestNoFetchBeforeCompleted(t *testing.T) {
	f := &mockFetcher{}
	m := newModel(f, true)
	for _, s := range []task.Status{task.StatusPending, task.StatusRunning, task.StatusFailed, task.StatusCancelled, ""} {
		var cmd tea.Cmd
		m, cmd = m.Observe(s)
		if cmd != nil {
			t.Errorf("status %q started a fetch", s)
		}
	}
	if m.State() != StateIdle || f.calls != 0 {
		t.Errorf("state=%v calls=%d", m.State(), f.calls)
	}
}

func TestFetchesExactlyOnce(t *testing.T) {
	f := &mockFetcher{res: task.Result{Summary: "ok"}}
	m := newModel(f, true)

	m, cmd := m.Observe(task.StatusCompleted)
	if m.State() != StateLoading {
		t.Fatalf("state = %v, want loading", m.State())
	}
	m, again := m.Observe(task.StatusCompleted)
	if again != nil {
		t.Error("second completed while loading must not fetch")
	}
	m, _ = m.Update(cmd())
	m, again = m.Observe(task.StatusCompleted)
	if again != nil {
		t.Error("completed after ready must not fetch")
	}
	if f.calls != 1 || m.State() != StateReady {
		t.Errorf("calls=%d state=%v", f.calls, m.State())
	}
}

func TestNoTaskNoFetch(t *testing.T) {
	m := New((&mockFetcher{}).fetch, DefaultOptions(), fakeScheduler{})
	if _, cmd := m.Observe(task.StatusCompleted); cmd != nil {
		t.Error("no task id, no fetch")
	}
}

func TestFetchFailureIsNotTaskFailure(t *testing.T) {
	f := &mockFetcher{err: errors.New("HTTP 500")}
	m, _ := load(t, newModel(f, true))
	if m.State() != StateFailed || m.Err() == nil {
		t.Fatalf("state=%v err=%v", m.State(), m.Err())
	}
	if !strings.Contains(m.View(), "Result unavailable") {
		t.Errorf("view = %q", m.View())
	}
	if _, cmd := m.Observe(task.StatusCompleted); cmd != nil {
		t.Error("a failed fetch is not retried automatically")
	}
}

func TestStaleLoadIgnoredAfterTaskChange(t *testing.T) {
	f := &mockFetcher{res: task.Result{Summary: "old"}}
	m := newModel(f, true)
	m, cmd := m.Observe(task.StatusCompleted)
	m = m.SetTask("t2")
	m, _ = m.Update(cmd())
	if m.State() != StateIdle {
		t.Errorf("stale load applied: state=%v", m.State())
	}
}

func TestReadySamplesAndRenders(t *testing.T) {
	f := &mockFetcher{res: task.Result{Sentiment: trace(5000)}}
	m, cmd := load(t, newModel(f, true))

	if m.Budget() != 1000 || m.Renderer().Len() != 1000 {
		t.Fatalf("budget=%d len=%d", m.Budget(), m.Renderer().Len())
	}
	if m.Renderer().Key() != "t1@1" {
		t.Errorf("key = %q", m.Renderer().Key())
	}
	steps := 0
	for cmd != nil {
		m, cmd = m.Update(cmd())
		steps++
	}
	if steps != 20 || m.Renderer().RenderedCount() != 1000 {
		t.Errorf("steps=%d rendered=%d", steps, m.Renderer().RenderedCount())
	}
	if !strings.Contains(m.View(), "1000/1000 points of 5000") {
		t.Errorf("view footer missing:\n%s", m.View())
	}
}

func TestZoomHalvesBudgetAndResets(t *testing.T) {
	f := &mockFetcher{res: task.Result{Sentiment: trace(5000)}}
	m, cmd := load(t, newModel(f, false))
	if cmd != nil {
		t.Fatal("autoStart=false should not render on load")
	}
	m, cmd = m.TogglePause()
	m, _ = m.Update(cmd())
	if m.Renderer().RenderedCount() != 50 {
		t.Fatalf("rendered = %d", m.Renderer().RenderedCount())
	}

	before := m.Budget()
	m, cmd = m.ZoomIn()
	if m.Zoom() != 2 || m.Budget() != before/2 {
		t.Errorf("zoom=%v budget=%d", m.Zoom(), m.Budget())
	}
	if m.Renderer().RenderedCount() != 0 || m.Renderer().Key() != "t1@2" {
		t.Errorf("zoom should reset: rendered=%d key=%q", m.Renderer().RenderedCount(), m.Renderer().Key())
	}
	if cmd != nil || m.Renderer().IsRendering() {
		t.Error("without autoStart a zoom waits for resume")
	}
	m, cmd = m.TogglePause()
	if cmd == nil {
		t.Error("resume after zoom should render")
	}
}

func TestZoomBounds(t *testing.T) {
	m := newModel(&mockFetcher{}, true)
	for i := 0; i < 10; i++ {
		m, _ = m.ZoomIn()
	}
	if m.Zoom() != 8 {
		t.Errorf("max zoom = %v", m.Zoom())
	}
	for i := 0; i < 10; i++ {
		m, _ = m.ZoomOut()
	}
	if m.Zoom() != 0.25 {
		t.Errorf("min zoom = %v", m.Zoom())
	}
	m, _ = m.SetZoom(3.1)
	if m.Zoom() != 4 {
		t.Errorf("SetZoom(3.1) = %v, want 4", m.Zoom())
	}
	m, _ = m.SetZoom(100)
	if m.Zoom() != 8 {
		t.Errorf("SetZoom(100) = %v, want 8", m.Zoom())
	}
}

func TestPauseAndReset(t *testing.T) {
	f := &mockFetcher{res: task.Result{Sentiment: trace(2000)}}
	m, cmd := load(t, newModel(f, true))
	m, cmd = m.Update(cmd())

	m, _ = m.TogglePause()
	if m.Renderer().IsRendering() {
		t.Fatal("toggle should pause")
	}
	m, _ = m.Update(cmd())
	if m.Renderer().RenderedCount() != 100 {
		t.Errorf("in-flight step should land: %d", m.Renderer().RenderedCount())
	}

	m = m.ResetRender()
	if m.Renderer().RenderedCount() != 0 || m.Renderer().Phase() != render.PhaseIdle {
		t.Errorf("reset: %d %v", m.Renderer().RenderedCount(), m.Renderer().Phase())
	}
}

func TestViewStates(t *testing.T) {
	m := newModel(&mockFetcher{res: task.Result{
		Summary:      "all good",
		MessageCount: 12,
		Participants: []string{"a", "b"},
		Topics:       []task.Topic{{Label: "bugs", Share: 0.5}},
	}}, true)
	if m.View() != "" {
		t.Error("idle view should be empty")
	}
	m, cmd := m.Observe(task.StatusCompleted)
	if !strings.Contains(m.View(), "Loading") {
		t.Errorf("loading view = %q", m.View())
	}
	m, _ = m.Update(cmd())
	v := m.View()
	for _, want := range []string{"all good", "12 messages", "bugs 50%"} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q:\n%s", want, v)
		}
	}
}

func TestStateString(t *testing.T) {
	if StateFailed.String() != "failed" || State(9).String() != "unknown" {
		t.Error("unexpected state strings")
	}
}
