package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/abelbrown/chatpulse/internal/chart"
	"github.com/abelbrown/chatpulse/internal/sampling"
	"github.com/abelbrown/chatpulse/internal/task"
)

// describeResult renders a result summary with a sentiment sparkline of
// the trace sampled to baseline points at the given zoom.
func describeResult(res task.Result, baseline int, zoom float64, width int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task:         %s\n", res.TaskID)
	if res.ChatID != "" {
		fmt.Fprintf(&b, "Chat:         %s\n", res.ChatID)
	}
	fmt.Fprintf(&b, "Messages:     %d\n", res.MessageCount)
	fmt.Fprintf(&b, "Participants: %d\n", len(res.Participants))
	if res.Summary != "" {
		fmt.Fprintf(&b, "Summary:      %s\n", res.Summary)
	}
	if len(res.Topics) > 0 {
		b.WriteString("\nTopics:\n")
		for _, t := range res.Topics {
			fmt.Fprintf(&b, "  %-24s %5.1f%%\n", truncate(t.Label, 24), t.Share*100)
		}
	}

	values := task.SentimentValues(res.Sentiment)
	sampled := sampling.Decimate(values, sampling.Budget(baseline, zoom))
	fmt.Fprintf(&b, "\nSentiment (%d of %d points, zoom %gx):\n", len(sampled), len(values), sampling.ClampZoom(zoom))
	if len(sampled) == 0 {
		b.WriteString("  (no samples)\n")
		return b.String()
	}
	b.WriteString("  " + chart.Sparkline(sampled, -1, 1, width) + "\n")
	return b.String()
}

func runResult() {
	fs := flag.NewFlagSet("result", flag.ExitOnError)
	apiURL := fs.String("api", os.Getenv("CHATPULSE_API_URL"), "Task service base URL")
	timeout := fs.Duration("timeout", 0, "Request timeout (default from config)")
	width := fs.Int("width", 72, "Sparkline width in columns")
	zoom := fs.Float64("zoom", 1, "Zoom factor; higher zoom samples fewer points")
	fs.Parse(os.Args[1:])

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: obs result [flags] <task-id>")
		os.Exit(2)
	}

	cfg := loadConfig()
	client := newClient(*apiURL, *timeout)
	res, err := client.Result(context.Background(), task.ID(fs.Arg(0)))
	if err != nil {
		fail(err)
	}
	fmt.Print(describeResult(res, cfg.Chart.BaselinePoints, *zoom, *width))
}
