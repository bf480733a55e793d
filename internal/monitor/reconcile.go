package monitor

import "github.com/abelbrown/chatpulse/internal/task"

// Source names the channel a reconciled value came from.
type Source string

const (
	SourceNone Source = ""
	SourcePush Source = "push"
	SourcePoll Source = "poll"
)

// Slot is the last value observed on one channel.
type Slot struct {
	Present  bool
	Status   task.Status
	Progress float64
	Message  string
}

// View is the reconciled status shown to the user.
type View struct {
	Status   task.Status
	Progress float64
	Message  string
	Source   Source // channel that supplied Status
}

// Terminal reports whether the view's status is terminal.
func (v View) Terminal() bool { return v.Status.IsTerminal() }

// Merge combines the two slots field by field, preferring push whenever it
// has a value and falling back to poll.
func Merge(push, poll Slot) View {
	var v View
	switch {
	case push.Present && push.Status != "":
		v.Status, v.Source = push.Status, SourcePush
	case poll.Present && poll.Status != "":
		v.Status, v.Source = poll.Status, SourcePoll
	}
	switch {
	case push.Present:
		v.Progress = push.Progress
	case poll.Present:
		v.Progress = poll.Progress
	}
	switch {
	case push.Present && push.Message != "":
		v.Message = push.Message
	case poll.Present:
		v.Message = poll.Message
	}
	return v
}

// Reconciler keeps both slots and latches the first terminal observation
// from either channel. After that no observation changes the view.
type Reconciler struct {
	push     Slot
	poll     Slot
	terminal *View
}

// ObserveProgress records a push progress event.
func (r *Reconciler) ObserveProgress(ev task.ProgressEvent) {
	r.push = Slot{Present: true, Status: ev.Status, Progress: task.ClampProgress(ev.Progress), Message: ev.Message}
	r.latch(r.push, SourcePush)
}

// ObserveCompletion records a push completion event. A completed task
// reports 100 percent; other terminal statuses keep the last known progress.
func (r *Reconciler) ObserveCompletion(ev task.CompletionEvent) {
	progress := r.View().Progress
	if ev.Status == task.StatusCompleted {
		progress = 100
	}
	r.push = Slot{Present: true, Status: ev.Status, Progress: progress, Message: ev.Message}
	r.latch(r.push, SourcePush)
}

// ObservePoll records a REST snapshot.
func (r *Reconciler) ObservePoll(s task.Snapshot) {
	r.poll = Slot{Present: true, Status: s.Status, Progress: task.ClampProgress(s.Progress), Message: s.Message}
	r.latch(r.poll, SourcePoll)
}

func (r *Reconciler) latch(s Slot, src Source) {
	if r.terminal != nil || !s.Status.IsTerminal() {
		return
	}
	v := View{Status: s.Status, Progress: s.Progress, Message: s.Message, Source: src}
	if v.Message == "" {
		v.Message = Merge(r.push, r.poll).Message
	}
	r.terminal = &v
}

// View returns the reconciled status.
func (r *Reconciler) View() View {
	if r.terminal != nil {
		return *r.terminal
	}
	return Merge(r.push, r.poll)
}

// Push and Poll expose the raw slots for the debug overlay.
func (r *Reconciler) Push() Slot { return r.push }
func (r *Reconciler) Poll() Slot { return r.poll }

// Reset forgets everything, for a new task.
func (r *Reconciler) Reset() {
	*r = Reconciler{}
}
