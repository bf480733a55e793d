// Package task defines the chat-analysis job types shared by the push channel,
// the poll channel, and the UI.
package task

import (
	"encoding/json"
	"time"
)

// ID identifies a backend analysis job. Opaque to the client.
type ID string

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var terminalStatuses = map[Status]bool{
	StatusCompleted: true,
	StatusFailed:    true,
	StatusCancelled: true,
}

var validStatuses = map[Status]bool{
	StatusPending:   true,
	StatusRunning:   true,
	StatusCompleted: true,
	StatusFailed:    true,
	StatusCancelled: true,
}

// IsTerminal reports whether no further transition is possible from s.
func (s Status) IsTerminal() bool {
	return terminalStatuses[s]
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return validStatuses[s]
}

// ClampProgress bounds a progress percentage to [0,100].
func ClampProgress(p float64) float64 {
	switch {
	case p != p: // NaN
		return 0
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// ProgressEvent is pushed by the backend while a task runs.
type ProgressEvent struct {
	TaskID    ID        `json:"task_id"`
	Status    Status    `json:"status"`
	Progress  float64   `json:"progress"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// UnmarshalJSON clamps progress into range.
func (e *ProgressEvent) UnmarshalJSON(data []byte) error {
	type alias ProgressEvent
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*e = ProgressEvent(a)
	e.Progress = ClampProgress(e.Progress)
	return nil
}

// CompletionEvent is the terminal push signal for a task.
type CompletionEvent struct {
	TaskID    ID        `json:"task_id"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is the REST view of a task (GET /tasks/{id}).
type Snapshot struct {
	TaskID      ID         `json:"task_id,omitempty"`
	Status      Status     `json:"status"`
	Progress    float64    `json:"progress"`
	Message     string     `json:"message"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// UnmarshalJSON clamps progress into range.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	type alias Snapshot
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*s = Snapshot(a)
	s.Progress = ClampProgress(s.Progress)
	return nil
}

// SubmitRequest launches an analysis job over a chat log.
type SubmitRequest struct {
	ChatID   string   `json:"chat_id"`
	Analyses []string `json:"analyses,omitempty"` // e.g. "sentiment", "topics"
}

// SubmitResponse acknowledges a submitted job.
type SubmitResponse struct {
	TaskID ID     `json:"task_id"`
	Status Status `json:"status"`
}

// SentimentPoint is one sample of the sentiment-over-time trace.
type SentimentPoint struct {
	Time       time.Time `json:"time"`
	Sentiment  float64   `json:"sentiment"`  // [-1, 1]
	Confidence float64   `json:"confidence"` // [0, 1]
}

// Result is the final analysis payload (GET /tasks/{id}/result).
type Result struct {
	TaskID       ID               `json:"task_id"`
	ChatID       string           `json:"chat_id"`
	Summary      string           `json:"summary"`
	MessageCount int              `json:"message_count"`
	Participants []string         `json:"participants,omitempty"`
	Topics       []Topic          `json:"topics,omitempty"`
	Sentiment    []SentimentPoint `json:"sentiment"`
}

// Topic is a detected conversation topic with its share of messages.
type Topic struct {
	Label string  `json:"label"`
	Share float64 `json:"share"`
}

// SentimentValues extracts the sentiment column of a trace.
func SentimentValues(points []SentimentPoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Sentiment
	}
	return out
}
