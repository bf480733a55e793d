// Command chatpulse watches a chat-analysis task until it finishes and
// draws its sentiment trace.
//
// Usage:
//
//	chatpulse --task <id>                 Watch an existing task
//	chatpulse --chat <id> [--analyses a,b] Submit a new analysis and watch it
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/abelbrown/chatpulse/internal/api"
	"github.com/abelbrown/chatpulse/internal/config"
	"github.com/abelbrown/chatpulse/internal/coord"
	"github.com/abelbrown/chatpulse/internal/logging"
	"github.com/abelbrown/chatpulse/internal/otel"
	"github.com/abelbrown/chatpulse/internal/poll"
	"github.com/abelbrown/chatpulse/internal/push"
	"github.com/abelbrown/chatpulse/internal/render"
	"github.com/abelbrown/chatpulse/internal/result"
	"github.com/abelbrown/chatpulse/internal/task"
	"github.com/abelbrown/chatpulse/internal/ui"
)

func main() {
	taskID := flag.String("task", "", "Existing task ID to watch")
	chatID := flag.String("chat", "", "Chat ID to analyze (submits a new task)")
	analyses := flag.String("analyses", "sentiment,topics", "Comma-separated analyses for --chat")
	configPath := flag.String("config", config.ConfigPath(), "Config file")
	noPush := flag.Bool("no-push", false, "Disable live updates and poll only")
	flag.Parse()

	if *taskID == "" && *chatID == "" {
		fmt.Fprintln(os.Stderr, "chatpulse: one of --task or --chat is required")
		flag.Usage()
		os.Exit(2)
	}

	if err := logging.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	defer logging.Close()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fatal("Failed to load config: %v", err)
	}

	dataDir := config.Dir()
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		fatal("Failed to create data directory: %v", err)
	}

	// Observability: JSONL event log plus an in-memory ring for the overlay.
	events := otel.NewNullLogger()
	eventPath := filepath.Join(dataDir, "chatpulse.events.jsonl")
	if f, err := os.OpenFile(eventPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err != nil {
		logging.Warn("event log unavailable", "path", eventPath, "error", err)
	} else {
		defer f.Close()
		events = otel.NewLogger(f)
	}
	ring := otel.NewRingBuffer(1024)
	events.SetRingBuffer(ring)
	defer events.Close()

	events.Emit(otel.Event{
		Level: otel.LevelInfo,
		Kind:  otel.KindStartup,
		Comp:  "main",
		Msg:   "chatpulse " + logging.Version,
		Extra: map[string]any{"api": cfg.Service.APIURL, "task": *taskID, "chat": *chatID},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := api.NewClient(cfg.Service.APIURL, cfg.Service.RequestTimeout, cfg.Service.RatePerSecond)

	appCfg := ui.AppConfig{
		TaskID:   task.ID(*taskID),
		ChatID:   *chatID,
		Analyses: splitList(*analyses),
		SubmitTask: func(req task.SubmitRequest) tea.Cmd {
			return func() tea.Msg {
				resp, err := client.Submit(ctx, req)
				return ui.TaskSubmitted{TaskID: resp.TaskID, Err: err}
			}
		},
		CancelTask: func(id task.ID) tea.Cmd {
			return func() tea.Msg {
				return ui.TaskCancelled{TaskID: id, Err: client.Cancel(ctx, id)}
			}
		},
		FetchStatus: client.TaskStatus,
		FetchResult: client.Result,
		Poll: poll.Options{
			Interval:    cfg.Poll.Interval,
			MaxFailures: cfg.Poll.MaxFailures,
			Timeout:     cfg.Service.RequestTimeout,
			Events:      events,
		},
		Result: result.Options{
			Baseline: cfg.Chart.BaselinePoints,
			Height:   cfg.Chart.Height,
			Width:    72,
			Render: render.Options{
				Threshold: cfg.Render.Threshold,
				ChunkSize: cfg.Render.ChunkSize,
				Interval:  cfg.Render.Interval,
				AutoStart: cfg.Render.AutoStart,
			},
			Timeout: cfg.Service.RequestTimeout,
			Events:  events,
		},
		Obs: ui.ObsConfig{Ring: ring, Logger: events},
	}

	var coordinator *coord.Coordinator
	if !*noPush {
		mgr := push.NewManager(push.Options{
			URL:                  cfg.WebSocketURL(),
			MaxReconnectAttempts: cfg.Push.MaxReconnectAttempts,
			ReconnectDelay:       cfg.Push.ReconnectDelay,
			HandshakeTimeout:     cfg.Push.HandshakeTimeout,
			PingInterval:         cfg.Push.PingInterval,
			Events:               events,
		})
		coordinator = coord.NewCoordinator(mgr, cfg.Push.RetryDelay)
		appCfg.Push = mgr
		appCfg.Sink = coordinator.Send
	}

	app := ui.NewAppWithConfig(appCfg)
	program := tea.NewProgram(app, tea.WithAltScreen())

	if coordinator != nil {
		coordinator.Start(ctx, program)
	}

	start := time.Now()
	final, err := program.Run()
	if err != nil {
		logging.Error("program exited with error", "error", err)
		events.Error(otel.KindError, "main", err)
	}

	cancel()
	if coordinator != nil {
		coordinator.Wait()
	}

	ev := otel.Event{Level: otel.LevelInfo, Kind: otel.KindShutdown, Comp: "main", Dur: time.Since(start)}
	if a, ok := final.(ui.App); ok {
		ev.TaskID = string(a.TaskID())
		ev.Status = string(a.Status().Status)
		ev.Progress = a.Status().Progress
		if ev.TaskID != "" {
			fmt.Printf("task %s: %s\n", ev.TaskID, statusOrUnknown(ev.Status))
		}
	}
	events.Emit(ev)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func statusOrUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func fatal(format string, args ...interface{}) {
	logging.Error(fmt.Sprintf(format, args...))
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
