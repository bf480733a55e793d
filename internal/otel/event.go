// Package otel records structured observability events for chatpulse.
//
// Events are typed structs serialized as JSONL lines. The Logger writes
// events asynchronously via a buffered channel and a background drain
// goroutine. An optional RingBuffer keeps recent events in memory for the
// debug overlay.
package otel

import (
	"encoding/json"
	"time"
)

// Level defines event severity for filtering.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// EventKind identifies the category of an event.
// Dot-delimited: "<subsystem>.<action>".
type EventKind string

const (
	// Push channel
	KindPushConnect         EventKind = "push.connect"
	KindPushConnectError    EventKind = "push.connect_error"
	KindPushDisconnect      EventKind = "push.disconnect"
	KindPushReconnect       EventKind = "push.reconnect"
	KindPushReconnectFailed EventKind = "push.reconnect_failed"
	KindPushSubscribe       EventKind = "push.subscribe"
	KindPushUnsubscribe     EventKind = "push.unsubscribe"
	KindPushProgress        EventKind = "push.progress"
	KindPushCompleted       EventKind = "push.completed"
	KindPushListenerPanic   EventKind = "push.listener_panic"

	// Poll channel
	KindPollStatus EventKind = "poll.status"
	KindPollError  EventKind = "poll.error"

	// Result presentation
	KindResultFetch EventKind = "result.fetch"
	KindResultError EventKind = "result.error"
	KindRenderStart EventKind = "render.start"
	KindRenderDone  EventKind = "render.done"

	// Task lifecycle requested by the user
	KindTaskSubmit EventKind = "task.submit"
	KindTaskCancel EventKind = "task.cancel"

	// System
	KindStartup  EventKind = "sys.startup"
	KindShutdown EventKind = "sys.shutdown"
	KindError    EventKind = "sys.error"

	// Trace (CHATPULSE_TRACE)
	KindMsgReceived EventKind = "trace.msg_received"
)

// Event is the universal observability record. Every field except Kind and
// Time is optional. Serialized as a single JSONL line.
type Event struct {
	Time      time.Time      `json:"t"`
	Level     Level          `json:"level,omitempty"`
	Kind      EventKind      `json:"kind"`
	Comp      string         `json:"comp,omitempty"`       // "push", "poll", "ui", "coord", "main"
	SessionID string         `json:"session_id,omitempty"` // random hex, same for the whole run
	TaskID    string         `json:"task_id,omitempty"`
	Status    string         `json:"status,omitempty"`
	Progress  float64        `json:"progress,omitempty"`
	Attempt   int            `json:"attempt,omitempty"`
	Dur       time.Duration  `json:"-"`
	DurMs     float64        `json:"dur_ms,omitempty"` // computed from Dur at marshal time
	Count     int            `json:"count,omitempty"`
	Err       string         `json:"err,omitempty"`
	Msg       string         `json:"msg,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// MarshalJSON implements json.Marshaler, converting Dur to DurMs.
func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	a := struct {
		alias
	}{alias: alias(e)}
	if e.Dur > 0 {
		a.DurMs = float64(e.Dur) / float64(time.Millisecond)
	}
	return json.Marshal(a)
}

// Subsystem returns the part of the kind before the dot ("push" for
// "push.connect").
func (k EventKind) Subsystem() string {
	for i := 0; i < len(k); i++ {
		if k[i] == '.' {
			return string(k[:i])
		}
	}
	return string(k)
}
