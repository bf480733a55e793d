package monitor

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/abelbrown/chatpulse/internal/push"
	"github.com/abelbrown/chatpulse/internal/task"
)

// mockSubscriber records calls and keeps handlers so tests can fire them.
type mockSubscriber struct {
	connected    bool
	subscribed   []task.ID
	unsubscribed []task.ID
	progress     map[task.ID]push.ProgressFunc
	completed    map[task.ID]push.CompletedFunc
}

func newMock(connected bool) *mockSubscriber {
	return &mockSubscriber{
		connected: connected,
		progress:  make(map[task.ID]push.ProgressFunc),
		completed: make(map[task.ID]push.CompletedFunc),
	}
}

func (m *mockSubscriber) Connected() bool { return m.connected }

func (m *mockSubscriber) SubscribeToTask(id task.ID) {
	m.subscribed = append(m.subscribed, id)
}

func (m *mockSubscriber) UnsubscribeFromTask(id task.ID) {
	m.unsubscribed = append(m.unsubscribed, id)
	delete(m.progress, id)
	delete(m.completed, id)
}

func (m *mockSubscriber) OnTaskProgress(id task.ID, fn push.ProgressFunc) func() {
	m.progress[id] = fn
	return func() { delete(m.progress, id) }
}

func (m *mockSubscriber) OnTaskCompleted(id task.ID, fn push.CompletedFunc) func() {
	m.completed[id] = fn
	return func() { delete(m.completed, id) }
}

type sink struct{ msgs []tea.Msg }

func (s *sink) send(msg tea.Msg) { s.msgs = append(s.msgs, msg) }

func TestMountSubscribesWhenConnected(t *testing.T) {
	sub := newMock(true)
	s := &sink{}
	m := New(sub, s.send)

	m.SetTask("t1")
	if m.IsSubscribed() {
		t.Fatal("should not subscribe before mount")
	}
	m.Mount()
	if !m.IsSubscribed() || m.State() != StateSubscribed {
		t.Fatalf("state = %v", m.State())
	}
	if len(sub.subscribed) != 1 || sub.subscribed[0] != "t1" {
		t.Errorf("subscribed = %v", sub.subscribed)
	}
	if sub.progress["t1"] == nil || sub.completed["t1"] == nil {
		t.Error("handlers should be registered")
	}
}

func TestWaitsForConnection(t *testing.T) {
	sub := newMock(false)
	m := New(sub, (&sink{}).send)
	m.Mount()
	m.SetTask("t1")
	if m.IsSubscribed() || len(sub.subscribed) != 0 {
		t.Fatal("should not subscribe while disconnected")
	}

	sub.connected = true
	m.ConnectionChanged(true)
	if !m.IsSubscribed() {
		t.Fatal("should subscribe once connected")
	}

	sub.connected = false
	m.ConnectionChanged(false)
	if m.IsSubscribed() || len(sub.unsubscribed) != 1 {
		t.Errorf("disconnect should unsubscribe: state=%v unsub=%v", m.State(), sub.unsubscribed)
	}

	sub.connected = true
	m.ConnectionChanged(true)
	if !m.IsSubscribed() || len(sub.subscribed) != 2 {
		t.Errorf("reconnect should resubscribe: subscribed=%v", sub.subscribed)
	}
}

func TestHandlersForwardToSink(t *testing.T) {
	sub := newMock(true)
	s := &sink{}
	m := New(sub, s.send)
	m.Mount()
	m.SetTask("t1")

	sub.progress["t1"](task.ProgressEvent{TaskID: "t1", Status: task.StatusRunning, Progress: 70})
	if m.Progress() != nil {
		t.Fatal("handlers must not mutate state directly")
	}
	if len(s.msgs) != 1 {
		t.Fatalf("sink got %d messages", len(s.msgs))
	}
	msg, ok := s.msgs[0].(ProgressMsg)
	if !ok {
		t.Fatalf("sink got %T", s.msgs[0])
	}
	if !m.HandleProgress(msg) || m.Progress().Progress != 70 {
		t.Errorf("progress not applied: %+v", m.Progress())
	}
}

func TestIgnoresOtherTasks(t *testing.T) {
	m := New(newMock(true), (&sink{}).send)
	m.Mount()
	m.SetTask("t1")

	if m.HandleProgress(ProgressMsg{Event: task.ProgressEvent{TaskID: "t2", Progress: 10}}) {
		t.Error("progress for another task should be ignored")
	}
	if m.HandleCompleted(CompletedMsg{Event: task.CompletionEvent{TaskID: "t2", Status: task.StatusCompleted}}) {
		t.Error("completion for another task should be ignored")
	}
	if m.Progress() != nil || m.Completed() != nil {
		t.Error("state changed by foreign events")
	}
}

func TestCompletionIsFinal(t *testing.T) {
	sub := newMock(true)
	m := New(sub, (&sink{}).send)
	m.Mount()
	m.SetTask("t1")

	m.HandleCompleted(CompletedMsg{Event: task.CompletionEvent{TaskID: "t1", Status: task.StatusCompleted}})
	if m.State() != StateCompleted || m.Completed() == nil {
		t.Fatalf("state = %v", m.State())
	}
	if sub.progress["t1"] != nil || sub.completed["t1"] != nil {
		t.Error("handlers should be disposed on completion")
	}
	if m.HandleProgress(ProgressMsg{Event: task.ProgressEvent{TaskID: "t1", Progress: 5}}) {
		t.Error("progress after completion should be ignored")
	}

	// A reconnect after completion must not resubscribe.
	m.ConnectionChanged(true)
	if len(sub.subscribed) != 1 {
		t.Errorf("resubscribed after completion: %v", sub.subscribed)
	}
}

func TestUnmountUnsubscribes(t *testing.T) {
	sub := newMock(true)
	m := New(sub, (&sink{}).send)
	m.Mount()
	m.SetTask("t1")
	m.Unmount()

	if len(sub.unsubscribed) != 1 || sub.unsubscribed[0] != "t1" {
		t.Errorf("unsubscribed = %v", sub.unsubscribed)
	}
	if len(sub.progress) != 0 || len(sub.completed) != 0 {
		t.Error("handlers leaked after unmount")
	}

	m.ConnectionChanged(true)
	if len(sub.subscribed) != 1 {
		t.Error("unmounted monitor should not resubscribe")
	}
}

func TestSetTaskSwitches(t *testing.T) {
	sub := newMock(true)
	m := New(sub, (&sink{}).send)
	m.Mount()
	m.SetTask("t1")
	m.HandleProgress(ProgressMsg{Event: task.ProgressEvent{TaskID: "t1", Progress: 30}})

	m.SetTask("t2")
	if m.TaskID() != "t2" || m.Progress() != nil {
		t.Errorf("switch did not reset: id=%v progress=%v", m.TaskID(), m.Progress())
	}
	if len(sub.unsubscribed) != 1 || sub.unsubscribed[0] != "t1" {
		t.Errorf("old task not unsubscribed: %v", sub.unsubscribed)
	}
	if sub.subscribed[len(sub.subscribed)-1] != "t2" {
		t.Errorf("new task not subscribed: %v", sub.subscribed)
	}

	m.SetTask("t2")
	if len(sub.subscribed) != 2 {
		t.Error("same id should be a no-op")
	}
}

func TestStateString(t *testing.T) {
	if StateSubscribing.String() != "subscribing" || State(9).String() != "unknown" {
		t.Error("unexpected state names")
	}
}
