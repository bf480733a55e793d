// Package ui provides the Bubble Tea TUI for chatpulse.
package ui

import "github.com/abelbrown/chatpulse/internal/task"

// TaskSubmitted is sent when a submit request finishes.
type TaskSubmitted struct {
	TaskID task.ID
	Err    error
}

// TaskCancelled is sent when a cancel request finishes.
type TaskCancelled struct {
	TaskID task.ID
	Err    error
}

// ConnectionChanged is sent when the push connection opens or drops.
// Reconnecting is set when the drop is followed by automatic retries.
type ConnectionChanged struct {
	Connected    bool
	Reconnecting bool
}

// PushUnavailable is sent when a connect attempt fails. The app keeps
// tracking the task by polling.
type PushUnavailable struct {
	Err error
}
