package ui

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/abelbrown/chatpulse/internal/monitor"
	"github.com/abelbrown/chatpulse/internal/otel"
)

// debugPanelChrome is the number of terminal lines consumed by DebugPanel's
// border (top + bottom = 2) and vertical padding (top + bottom = 2).
// Must be updated if DebugPanel style changes.
const debugPanelChrome = 4

// debugOverlay renders the debug panel showing channel stats, the raw push
// and poll slots, and recent events.
// Pure function with no side effects. Returns empty string if ring is nil.
func debugOverlay(ring *otel.RingBuffer, recon *monitor.Reconciler, width, height int) string {
	if ring == nil {
		return ""
	}

	stats := ring.Stats()
	recent := ring.Last(20)

	// --- Stats section (keyed lookups, not map iteration) ---
	var lines []string
	lines = append(lines, DebugHeaderStyle.Render("Channel Stats"))
	lines = append(lines, fmt.Sprintf("  Push:       %d connects, %d drops, %d reconnects, %d gave up",
		stats[otel.KindPushConnect], stats[otel.KindPushDisconnect], stats[otel.KindPushReconnect], stats[otel.KindPushReconnectFailed]))
	lines = append(lines, fmt.Sprintf("  Events:     %d progress, %d completed, %d panics",
		stats[otel.KindPushProgress], stats[otel.KindPushCompleted], stats[otel.KindPushListenerPanic]))
	lines = append(lines, fmt.Sprintf("  Polls:      %d ok, %d errors",
		stats[otel.KindPollStatus], stats[otel.KindPollError]))
	lines = append(lines, fmt.Sprintf("  Result:     %d fetched, %d errors, %d renders, %d done",
		stats[otel.KindResultFetch], stats[otel.KindResultError], stats[otel.KindRenderStart], stats[otel.KindRenderDone]))
	lines = append(lines, fmt.Sprintf("  Buffer:     %d / %d events", ring.Len(), ring.Cap()))
	lines = append(lines, "")

	if recon != nil {
		lines = append(lines, DebugHeaderStyle.Render("Reconciler"))
		lines = append(lines, "  push:  "+slotString(recon.Push()))
		lines = append(lines, "  poll:  "+slotString(recon.Poll()))
		v := recon.View()
		lines = append(lines, fmt.Sprintf("  view:  %s %.0f%% (%s)", orDash(string(v.Status)), v.Progress, orDash(string(v.Source))))
		lines = append(lines, "")
	}

	// --- Recent events section ---
	lines = append(lines, DebugHeaderStyle.Render("Recent Events"))
	for _, e := range recent {
		age := time.Since(e.Time)
		ageStr := formatAge(age)

		line := fmt.Sprintf("  %6s  %-22s", ageStr, string(e.Kind))
		if e.Status != "" {
			line += fmt.Sprintf("  %s %.0f%%", e.Status, e.Progress)
		}
		if e.Msg != "" {
			line += "  " + truncateRunes(e.Msg, 40)
		}
		if e.Err != "" {
			line += "  ERR:" + truncateRunes(e.Err, 30)
		}
		if e.TaskID != "" {
			tid := e.TaskID
			if len(tid) > 8 {
				tid = tid[:8]
			}
			line += fmt.Sprintf("  task:%s", tid)
		}
		lines = append(lines, line)
	}

	// Truncate to fit terminal height (subtract chrome added by DebugPanel border/padding)
	maxHeight := height - debugPanelChrome
	if maxHeight < 1 {
		maxHeight = 1
	}
	if len(lines) > maxHeight {
		lines = lines[:maxHeight]
	}

	panelWidth := 96
	if panelWidth > width-4 {
		panelWidth = width - 4
	}
	if panelWidth < 20 {
		panelWidth = 20
	}

	content := strings.Join(lines, "\n")
	return DebugPanel.Width(panelWidth).Render(content)
}

func slotString(s monitor.Slot) string {
	if !s.Present {
		return "-"
	}
	out := fmt.Sprintf("%s %.0f%%", orDash(string(s.Status)), s.Progress)
	if s.Message != "" {
		out += " " + truncateRunes(s.Message, 40)
	}
	return out
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// formatAge formats a duration as a compact human string.
// Handles negative durations from clock skew by clamping to "0ms".
func formatAge(d time.Duration) string {
	if d < 0 {
		return "0ms"
	}
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
}

// truncateRunes cuts s to at most n runes, marking the cut with "…".
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

// debugStatusBar renders the status bar for the debug overlay.
func debugStatusBar(width int) string {
	keys := StatusBarKey.Render("D") + StatusBarText.Render(":close")
	return StatusBar.Width(width).Render("  [DEBUG]  " + keys)
}
