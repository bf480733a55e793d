package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/abelbrown/chatpulse/internal/task"
)

// Autopilot advances every active task by Step percent per Interval, pushing
// each change, and completes tasks that reach 100.
type Autopilot struct {
	Interval time.Duration
	Step     float64
	// PollOnly updates the REST view without pushing progress frames.
	PollOnly bool
}

// Run drives s until ctx is done.
func (a Autopilot) Run(ctx context.Context, s *Server) {
	if a.Interval <= 0 {
		a.Interval = time.Second
	}
	if a.Step <= 0 {
		a.Step = 10
	}
	ticker := time.NewTicker(a.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Tick(s)
		}
	}
}

// Tick advances each active task once.
func (a Autopilot) Tick(s *Server) {
	for _, id := range s.Active() {
		snap, ok := s.Snapshot(id)
		if !ok {
			continue
		}
		next := snap.Progress + a.Step
		if next >= 100 {
			_ = s.Complete(id, task.StatusCompleted, "analysis complete")
			continue
		}
		msg := fmt.Sprintf("analyzing messages (%.0f%%)", next)
		if a.PollOnly {
			_ = s.SetSnapshot(id, task.StatusRunning, next, msg)
		} else {
			_ = s.SetProgress(id, task.StatusRunning, next, msg)
		}
	}
}
