package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/abelbrown/chatpulse/internal/monitor"
	"github.com/abelbrown/chatpulse/internal/otel"
	"github.com/abelbrown/chatpulse/internal/poll"
	"github.com/abelbrown/chatpulse/internal/render"
	"github.com/abelbrown/chatpulse/internal/result"
	"github.com/abelbrown/chatpulse/internal/task"
)

// ObsConfig carries the observability sinks.
type ObsConfig struct {
	Ring   *otel.RingBuffer // debug overlay source; nil hides the overlay
	Logger *otel.Logger
}

// AppConfig holds the injected dependencies for App.
// IMPORTANT: App never talks to the network itself. Every request is a
// closure returning a tea.Cmd or a fetch func run inside one.
type AppConfig struct {
	// TaskID is an existing task to watch. If empty and ChatID is set, a new
	// task is submitted on start.
	TaskID   task.ID
	ChatID   string
	Analyses []string

	SubmitTask  func(req task.SubmitRequest) tea.Cmd // returns TaskSubmitted
	CancelTask  func(id task.ID) tea.Cmd             // returns TaskCancelled
	FetchStatus poll.FetchFunc
	FetchResult result.FetchFunc

	// Push is the push subscription surface. Nil means polling only.
	Push monitor.Subscriber
	// Sink receives push handler messages from the socket goroutine,
	// normally coord.Coordinator.Send.
	Sink func(tea.Msg)

	Poll            poll.Options
	Result          result.Options
	RenderScheduler render.Scheduler // nil: tea.Tick
	PollScheduler   poll.Scheduler   // nil: tea.Tick

	Obs ObsConfig
}

type pushState int

const (
	pushConnecting pushState = iota
	pushLive
	pushDegraded
)

// watchTask starts tracking an existing task.
type watchTask struct {
	id task.ID
}

var errNoResultFetch = errors.New("result fetching not configured")

// App is the root Bubble Tea model.
type App struct {
	cfg     AppConfig
	monitor *monitor.Monitor
	recon   *monitor.Reconciler
	poll    poll.Loop
	result  result.Model
	bar     progress.Model
	spinner spinner.Model
	help    help.Model

	taskID     task.ID
	push       pushState
	pushErr    error
	submitting bool
	cancelling bool
	submitErr  error
	cancelErr  error

	width        int
	height       int
	ready        bool
	debugVisible bool
	quitting     bool
}

// NewAppWithConfig creates an App from injected dependencies.
func NewAppWithConfig(cfg AppConfig) App {
	a := App{
		cfg:   cfg,
		recon: &monitor.Reconciler{},
		help:  help.New(),
	}

	if cfg.Push != nil {
		sink := cfg.Sink
		if sink == nil {
			sink = func(tea.Msg) {}
		}
		a.monitor = monitor.New(cfg.Push, sink)
	} else {
		a.push = pushDegraded
	}
	a.submitting = cfg.TaskID == "" && cfg.ChatID != "" && cfg.SubmitTask != nil

	if cfg.Poll.Interval == 0 {
		cfg.Poll = poll.DefaultOptions()
	}
	if cfg.Poll.Events == nil {
		cfg.Poll.Events = cfg.Obs.Logger
	}
	a.poll = poll.New(cfg.FetchStatus, cfg.Poll, cfg.PollScheduler)

	if cfg.Result.Baseline == 0 {
		cfg.Result = result.DefaultOptions()
	}
	if cfg.Result.Events == nil {
		cfg.Result.Events = cfg.Obs.Logger
	}
	fetchResult := cfg.FetchResult
	if fetchResult == nil {
		fetchResult = func(_ context.Context, _ task.ID) (task.Result, error) {
			return task.Result{}, errNoResultFetch
		}
	}
	a.result = result.New(fetchResult, cfg.Result, cfg.RenderScheduler)

	a.bar = progress.New(
		progress.WithGradient("#5A56E0", "#3fb950"),
		progress.WithWidth(40),
		progress.WithoutPercentage(),
	)
	a.spinner = spinner.New()
	a.spinner.Spinner = spinner.Dot
	a.spinner.Style = lipgloss.NewStyle().Foreground(colorHighlight)
	return a
}

// Init starts watching or submitting the configured task.
func (a App) Init() tea.Cmd {
	cmds := []tea.Cmd{a.spinner.Tick}
	switch {
	case a.cfg.TaskID != "":
		id := a.cfg.TaskID
		cmds = append(cmds, func() tea.Msg { return watchTask{id: id} })
	case a.cfg.ChatID != "" && a.cfg.SubmitTask != nil:
		cmds = append(cmds, a.cfg.SubmitTask(task.SubmitRequest{ChatID: a.cfg.ChatID, Analyses: a.cfg.Analyses}))
	}
	return tea.Batch(cmds...)
}

// Update handles messages and returns the updated model and any commands.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if otel.TraceEnabled() {
		a.cfg.Obs.Logger.Emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindMsgReceived, Comp: "ui", Msg: fmt.Sprintf("%T", msg)})
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.ready = true
		a.bar.Width = min(60, max(10, msg.Width-24))
		a.help.Width = msg.Width
		a.result = a.result.SetWidth(msg.Width)
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case watchTask:
		return a.startTask(msg.id)

	case TaskSubmitted:
		a.submitting = false
		if msg.Err != nil {
			a.submitErr = msg.Err
			return a, nil
		}
		a.submitErr = nil
		a.cfg.Obs.Logger.Task(otel.KindTaskSubmit, "ui", string(msg.TaskID), string(task.StatusPending), 0)
		return a.startTask(msg.TaskID)

	case TaskCancelled:
		a.cancelling = false
		if msg.TaskID != a.taskID {
			return a, nil
		}
		if msg.Err != nil {
			a.cancelErr = msg.Err
			return a, nil
		}
		a.cfg.Obs.Logger.Task(otel.KindTaskCancel, "ui", string(msg.TaskID), string(task.StatusCancelled), a.recon.View().Progress)
		var cmd tea.Cmd
		a.poll, cmd = a.poll.Refresh()
		return a, cmd

	case ConnectionChanged:
		switch {
		case msg.Connected:
			a.push = pushLive
			a.pushErr = nil
		case msg.Reconnecting:
			a.push = pushConnecting
		default:
			a.push = pushDegraded
		}
		if a.monitor != nil {
			a.monitor.ConnectionChanged(msg.Connected)
		}
		return a, nil

	case PushUnavailable:
		a.push = pushDegraded
		a.pushErr = msg.Err
		return a, nil

	case monitor.ProgressMsg:
		if a.monitor == nil || !a.monitor.HandleProgress(msg) {
			return a, nil
		}
		a.recon.ObserveProgress(msg.Event)
		return a.afterObserve()

	case monitor.CompletedMsg:
		if a.monitor == nil || !a.monitor.HandleCompleted(msg) {
			return a, nil
		}
		a.recon.ObserveCompletion(msg.Event)
		return a.afterObserve()

	case poll.StatusMsg:
		owned := a.poll.Owns(msg)
		var cmd tea.Cmd
		a.poll, cmd = a.poll.Update(msg)
		if !owned || msg.Err != nil {
			return a, cmd
		}
		a.recon.ObservePoll(msg.Snapshot)
		var next tea.Cmd
		a.poll, next = a.poll.Continue(a.recon.View().Status)
		model, obs := a.afterObserve()
		return model, tea.Batch(cmd, next, obs)
	}

	// Ticks and render steps for the sub-models.
	var pollCmd, resultCmd tea.Cmd
	a.poll, pollCmd = a.poll.Update(msg)
	a.result, resultCmd = a.result.Update(msg)
	return a, tea.Batch(pollCmd, resultCmd)
}

// startTask resets per-task state and begins tracking id on both channels.
func (a App) startTask(id task.ID) (tea.Model, tea.Cmd) {
	a.taskID = id
	a.recon.Reset()
	a.cancelErr = nil
	a.cancelling = false
	if a.monitor != nil {
		a.monitor.SetTask(id)
		a.monitor.Mount()
	}
	a.result = a.result.SetTask(id)
	if a.cfg.FetchStatus == nil {
		return a, nil
	}
	var cmd tea.Cmd
	a.poll, cmd = a.poll.Start(id)
	return a, cmd
}

// afterObserve reacts to a new reconciled view: a terminal status stops
// polling, and completion triggers the result fetch.
func (a App) afterObserve() (tea.Model, tea.Cmd) {
	view := a.recon.View()
	if view.Terminal() && a.poll.Active() {
		a.poll = a.poll.Stop()
	}
	var cmd tea.Cmd
	a.result, cmd = a.result.Observe(view.Status)
	return a, cmd
}

// handleKeyMsg processes keyboard input.
func (a App) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		a.quitting = true
		if a.monitor != nil {
			a.monitor.Unmount()
		}
		a.poll = a.poll.Stop()
		return a, tea.Quit

	case key.Matches(msg, keys.Debug):
		if a.cfg.Obs.Ring != nil {
			a.debugVisible = !a.debugVisible
		}
		return a, nil

	case key.Matches(msg, keys.Cancel):
		if a.taskID == "" || a.cancelling || a.recon.View().Terminal() || a.cfg.CancelTask == nil {
			return a, nil
		}
		a.cancelling = true
		a.cancelErr = nil
		return a, a.cfg.CancelTask(a.taskID)

	case key.Matches(msg, keys.Refresh):
		var cmd tea.Cmd
		a.poll, cmd = a.poll.Refresh()
		return a, cmd

	case key.Matches(msg, keys.Pause):
		var cmd tea.Cmd
		a.result, cmd = a.result.TogglePause()
		return a, cmd

	case key.Matches(msg, keys.Reset):
		a.result = a.result.ResetRender()
		return a, nil

	case key.Matches(msg, keys.ZoomIn):
		var cmd tea.Cmd
		a.result, cmd = a.result.ZoomIn()
		return a, cmd

	case key.Matches(msg, keys.ZoomOut):
		var cmd tea.Cmd
		a.result, cmd = a.result.ZoomOut()
		return a, cmd
	}
	return a, nil
}

// View renders the UI.
func (a App) View() string {
	if a.quitting {
		return ""
	}
	if !a.ready {
		return "Loading..."
	}
	if a.debugVisible {
		return debugOverlay(a.cfg.Obs.Ring, a.recon, a.width, a.height) + "\n" + debugStatusBar(a.width)
	}

	var sections []string
	sections = append(sections, a.headerView())

	switch {
	case a.submitting:
		sections = append(sections, a.spinner.View()+" Submitting analysis…")
	case a.taskID == "":
		sections = append(sections, StatusBarText.Render("No task. Start with --task <id> or --chat <id>."))
	default:
		sections = append(sections, a.statusView())
	}

	for _, err := range a.errors() {
		sections = append(sections, ErrorStyle.Render(err))
	}

	if rv := a.result.View(); rv != "" {
		sections = append(sections, "", rv)
	}

	sections = append(sections, "", a.help.View(keys))
	return strings.Join(sections, "\n")
}

func (a App) headerView() string {
	title := Header.Render("chatpulse")
	label := ""
	if a.taskID != "" {
		label = TaskLabel.Render("task " + string(a.taskID))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, title, label, " ", a.badge())
}

func (a App) badge() string {
	switch a.push {
	case pushLive:
		return BadgeLive.Render("● live")
	case pushConnecting:
		return BadgeConnecting.Render("◌ connecting")
	}
	return BadgeDegraded.Render("○ polling only")
}

func (a App) statusView() string {
	view := a.recon.View()

	status := string(view.Status)
	if status == "" {
		status = "waiting"
	}
	var styled string
	switch view.Status {
	case task.StatusCompleted:
		styled = StatusDone.Render(status)
	case task.StatusFailed, task.StatusCancelled:
		styled = StatusBad.Render(status)
	default:
		styled = a.spinner.View() + " " + StatusActive.Render(status)
	}
	if a.cancelling {
		styled += StatusBarText.Render("  cancelling…")
	}

	line := fmt.Sprintf("%s  %s %3.0f%%", styled, a.bar.ViewAs(view.Progress/100), view.Progress)
	if view.Message != "" {
		line += "\n" + MessageStyle.Render(view.Message)
	}
	return line
}

func (a App) errors() []string {
	var out []string
	if a.submitErr != nil {
		out = append(out, "Submit failed: "+a.submitErr.Error())
	}
	if a.cancelErr != nil {
		out = append(out, "Cancel failed: "+a.cancelErr.Error())
	}
	if err := a.poll.Err(); err != nil {
		s := "Status: " + err.Error()
		if !a.poll.Active() {
			s += " (polling stopped: " + a.poll.StopReason() + ")"
		}
		out = append(out, s)
	}
	if a.push == pushDegraded && a.pushErr != nil {
		out = append(out, "Live updates unavailable: "+a.pushErr.Error())
	}
	return out
}

// TaskID returns the tracked task (for testing).
func (a App) TaskID() task.ID { return a.taskID }

// Status returns the reconciled view (for testing).
func (a App) Status() monitor.View { return a.recon.View() }
