// Package monitor reconciles the push and poll views of one task.
//
// Monitor owns the task's push subscription. Push handlers run on the
// socket's goroutine, so they only forward ProgressMsg and CompletedMsg to a
// sink (program.Send); the state changes when the root model passes those
// messages back in from Update.
package monitor

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/abelbrown/chatpulse/internal/logging"
	"github.com/abelbrown/chatpulse/internal/push"
	"github.com/abelbrown/chatpulse/internal/task"
)

// Subscriber is the part of *push.Manager a Monitor uses.
type Subscriber interface {
	Connected() bool
	SubscribeToTask(id task.ID)
	UnsubscribeFromTask(id task.ID)
	OnTaskProgress(id task.ID, fn push.ProgressFunc) func()
	OnTaskCompleted(id task.ID, fn push.CompletedFunc) func()
}

// State is the subscription lifecycle.
type State int

const (
	StateUnsubscribed State = iota
	StateSubscribing
	StateSubscribed
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateUnsubscribed:
		return "unsubscribed"
	case StateSubscribing:
		return "subscribing"
	case StateSubscribed:
		return "subscribed"
	case StateCompleted:
		return "completed"
	}
	return "unknown"
}

// ProgressMsg carries a push progress event into Update.
type ProgressMsg struct {
	Event task.ProgressEvent
}

// CompletedMsg carries a push completion event into Update.
type CompletedMsg struct {
	Event task.CompletionEvent
}

// Monitor tracks push events for the current task.
type Monitor struct {
	sub  Subscriber
	sink func(tea.Msg)

	id       task.ID
	mounted  bool
	state    State
	progress *task.ProgressEvent
	done     *task.CompletionEvent
	dispose  []func()
}

// New creates a Monitor. sink receives handler messages; it must be safe to
// call from any goroutine.
func New(sub Subscriber, sink func(tea.Msg)) *Monitor {
	return &Monitor{sub: sub, sink: sink}
}

// SetTask switches to id, tearing down the previous subscription.
func (m *Monitor) SetTask(id task.ID) {
	if id == m.id {
		return
	}
	m.teardown()
	m.id = id
	m.state = StateUnsubscribed
	m.progress = nil
	m.done = nil
	m.subscribe()
}

// Mount activates the monitor and subscribes when possible.
func (m *Monitor) Mount() {
	m.mounted = true
	m.subscribe()
}

// Unmount unsubscribes and stops reacting to connection changes.
func (m *Monitor) Unmount() {
	m.teardown()
	m.mounted = false
}

// ConnectionChanged subscribes on connect and drops the subscription on
// disconnect. The manager forgets the task on unsubscribe, so the next
// connect subscribes again from here.
func (m *Monitor) ConnectionChanged(connected bool) {
	if connected {
		m.subscribe()
		return
	}
	m.teardown()
}

func (m *Monitor) subscribe() {
	if !m.mounted || m.id == "" || m.state != StateUnsubscribed || !m.sub.Connected() {
		return
	}
	m.state = StateSubscribing
	id := m.id
	m.dispose = append(m.dispose,
		m.sub.OnTaskProgress(id, func(ev task.ProgressEvent) {
			m.sink(ProgressMsg{Event: ev})
		}),
		m.sub.OnTaskCompleted(id, func(ev task.CompletionEvent) {
			m.sink(CompletedMsg{Event: ev})
		}),
	)
	m.sub.SubscribeToTask(id)
	m.state = StateSubscribed
	logging.Debug("monitor: subscribed", "task", id)
}

func (m *Monitor) teardown() {
	if m.state == StateSubscribing || m.state == StateSubscribed {
		m.sub.UnsubscribeFromTask(m.id)
		m.state = StateUnsubscribed
		logging.Debug("monitor: unsubscribed", "task", m.id)
	}
	for _, d := range m.dispose {
		d()
	}
	m.dispose = nil
}

// HandleProgress applies a ProgressMsg. Events for other tasks, and events
// after completion, are ignored. It reports whether the message applied.
func (m *Monitor) HandleProgress(msg ProgressMsg) bool {
	if msg.Event.TaskID != m.id || m.state == StateCompleted {
		return false
	}
	ev := msg.Event
	m.progress = &ev
	return true
}

// HandleCompleted applies a CompletedMsg. The manager has already dropped
// the subscription, so the monitor only records the outcome.
func (m *Monitor) HandleCompleted(msg CompletedMsg) bool {
	if msg.Event.TaskID != m.id || m.state == StateCompleted {
		return false
	}
	ev := msg.Event
	m.done = &ev
	for _, d := range m.dispose {
		d()
	}
	m.dispose = nil
	m.state = StateCompleted
	return true
}

// TaskID returns the current task.
func (m *Monitor) TaskID() task.ID { return m.id }

// State returns the subscription state.
func (m *Monitor) State() State { return m.state }

// IsSubscribed reports whether push events are expected.
func (m *Monitor) IsSubscribed() bool { return m.state == StateSubscribed }

// Progress returns the last push progress event, or nil.
func (m *Monitor) Progress() *task.ProgressEvent { return m.progress }

// Completed returns the completion event, or nil.
func (m *Monitor) Completed() *task.CompletionEvent { return m.done }
