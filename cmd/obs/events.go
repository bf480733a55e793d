package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// eventRecord mirrors otel.Event for JSON decoding.
// We decode from JSONL rather than importing otel to keep this
// subcommand usable even if the event schema evolves.
type eventRecord struct {
	Time      time.Time      `json:"t"`
	Level     string         `json:"level"`
	Kind      string         `json:"kind"`
	Comp      string         `json:"comp"`
	SessionID string         `json:"session_id"`
	TaskID    string         `json:"task_id"`
	Status    string         `json:"status"`
	Progress  float64        `json:"progress"`
	Attempt   int            `json:"attempt"`
	DurMs     float64        `json:"dur_ms"`
	Count     int            `json:"count"`
	Err       string         `json:"err"`
	Msg       string         `json:"msg"`
	Extra     map[string]any `json:"extra"`
}

// levelRank returns a numeric rank for filtering (higher = more severe).
func levelRank(level string) int {
	switch level {
	case "debug":
		return 0
	case "info":
		return 1
	case "warn":
		return 2
	case "error":
		return 3
	default:
		return 0
	}
}

// eventFilter selects events by the events subcommand flags.
type eventFilter struct {
	kind    string
	level   string
	comp    string
	taskID  string
	session string
}

func (f eventFilter) match(ev eventRecord) bool {
	if f.kind != "" && !strings.HasPrefix(ev.Kind, f.kind) {
		return false
	}
	if f.level != "" && levelRank(ev.Level) < levelRank(f.level) {
		return false
	}
	if f.comp != "" && ev.Comp != f.comp {
		return false
	}
	if f.taskID != "" && !strings.HasPrefix(ev.TaskID, f.taskID) {
		return false
	}
	if f.session != "" && ev.SessionID != f.session {
		return false
	}
	return true
}

// formatEvent renders one event as a human-readable line.
func formatEvent(ev eventRecord) string {
	ts := ev.Time.Format("15:04:05.000")
	lvl := strings.ToUpper(ev.Level)
	if lvl == "" {
		lvl = "?"
	}

	parts := []string{fmt.Sprintf("%s %-5s [%-6s] %-22s", ts, lvl, ev.Comp, ev.Kind)}

	if ev.TaskID != "" {
		parts = append(parts, "task="+truncate(ev.TaskID, 12))
	}
	if ev.Status != "" {
		parts = append(parts, fmt.Sprintf("%s %.0f%%", ev.Status, ev.Progress))
	}
	if ev.Msg != "" {
		parts = append(parts, "- "+ev.Msg)
	}
	if ev.Attempt > 0 {
		parts = append(parts, fmt.Sprintf("attempt=%d", ev.Attempt))
	}
	if ev.DurMs > 0 {
		parts = append(parts, fmt.Sprintf("(%.*fms)", durPrecision(ev.DurMs), ev.DurMs))
	}
	if ev.Count > 0 {
		parts = append(parts, fmt.Sprintf("n=%d", ev.Count))
	}
	if ev.Err != "" {
		parts = append(parts, "err="+ev.Err)
	}

	return strings.Join(parts, " ")
}

func runEvents() {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	tail := fs.Int("tail", 50, "Number of recent lines to show")
	follow := fs.Bool("f", false, "Follow mode (like tail -f)")
	kind := fs.String("kind", "", "Filter by event kind prefix (e.g. 'push' or 'poll.error')")
	level := fs.String("level", "", "Minimum level: debug, info, warn, error")
	comp := fs.String("comp", "", "Filter by component name")
	taskID := fs.String("task", "", "Filter by task ID prefix")
	session := fs.String("session", "", "Filter by session ID")
	rawJSON := fs.Bool("json", false, "Output raw JSON lines")
	fs.Parse(os.Args[1:])

	logPath := eventLogPath()

	f, err := os.Open(logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		fmt.Fprintf(os.Stderr, "  Event log not found at %s\n", logPath)
		fmt.Fprintf(os.Stderr, "  Run chatpulse first to generate events.\n")
		os.Exit(1)
	}
	defer f.Close()

	filter := eventFilter{kind: *kind, level: *level, comp: *comp, taskID: *taskID, session: *session}
	show := func(ev eventRecord, raw []byte) {
		if *rawJSON {
			fmt.Println(string(raw))
			return
		}
		fmt.Println(formatEvent(ev))
	}

	for _, l := range readTailLines(f, *tail, filter.match) {
		show(l.ev, l.raw)
	}
	if !*follow {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := followFile(ctx, f, logPath, filter.match, show); err != nil {
		fail(err)
	}
}

// followFile prints lines appended to f until ctx is done or the file is
// removed. The reader continues from f's current offset.
func followFile(ctx context.Context, f *os.File, path string, match func(eventRecord) bool, emit func(eventRecord, []byte)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	reader := bufio.NewReader(f)
	var partial []byte
	drain := func() {
		for {
			chunk, err := reader.ReadBytes('\n')
			partial = append(partial, chunk...)
			if err != nil {
				// Incomplete line: keep it until the rest is written.
				return
			}
			line := trimLine(partial)
			partial = nil
			if len(line) == 0 {
				continue
			}
			var ev eventRecord
			if json.Unmarshal(line, &ev) != nil {
				continue
			}
			if match(ev) {
				emit(ev, line)
			}
		}
	}
	drain()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) {
				drain()
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				return fmt.Errorf("%s was removed", path)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch %s: %w", path, err)
		}
	}
}

type parsedLine struct {
	ev  eventRecord
	raw []byte
}

// readTailLines reads r and returns the last n lines matching the filter.
func readTailLines(r io.Reader, n int, match func(eventRecord) bool) []parsedLine {
	scanner := bufio.NewScanner(r)
	// Allow large lines (some events may have big Extra maps)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)

	var ring []parsedLine
	if n > 0 {
		ring = make([]parsedLine, 0, n)
	}

	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ev eventRecord
		if json.Unmarshal(raw, &ev) != nil {
			continue
		}
		if !match(ev) {
			continue
		}
		if n <= 0 {
			continue
		}
		// Make a copy of raw since scanner reuses the buffer
		rawCopy := make([]byte, len(raw))
		copy(rawCopy, raw)

		if len(ring) < n {
			ring = append(ring, parsedLine{ev: ev, raw: rawCopy})
		} else {
			// Shift left
			copy(ring, ring[1:])
			ring[n-1] = parsedLine{ev: ev, raw: rawCopy}
		}
	}

	return ring
}

func trimLine(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

func durPrecision(ms float64) int {
	if ms >= 100 {
		return 0
	}
	if ms >= 1 {
		return 1
	}
	return 2
}
