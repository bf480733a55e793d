package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/chatpulse/internal/task"
)

// statusLine is one row of the status subcommand's output.
type statusLine struct {
	ID   task.ID
	Snap task.Snapshot
	Err  error
	Took time.Duration
}

// fetchStatuses polls every id once, concurrently, keeping input order.
// Per-task errors are reported in the rows rather than aborting the group.
func fetchStatuses(ctx context.Context, fetch func(context.Context, task.ID) (task.Snapshot, error), ids []task.ID, limit int) []statusLine {
	rows := make([]statusLine, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, id := range ids {
		g.Go(func() error {
			start := time.Now()
			snap, err := fetch(gctx, id)
			rows[i] = statusLine{ID: id, Snap: snap, Err: err, Took: time.Since(start)}
			return nil
		})
	}
	g.Wait()
	return rows
}

func formatStatus(row statusLine) string {
	if row.Err != nil {
		return fmt.Sprintf("%-14s %-10s %s", truncate(string(row.ID), 14), "error", row.Err)
	}
	line := fmt.Sprintf("%-14s %-10s %5.1f%%  %6dms", truncate(string(row.ID), 14), row.Snap.Status, row.Snap.Progress, row.Took.Milliseconds())
	if row.Snap.Message != "" {
		line += "  " + truncate(row.Snap.Message, 60)
	}
	return line
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	apiURL := fs.String("api", os.Getenv("CHATPULSE_API_URL"), "Task service base URL")
	timeout := fs.Duration("timeout", 0, "Per-request timeout (default from config)")
	parallel := fs.Int("parallel", 8, "Maximum concurrent requests")
	fs.Parse(os.Args[1:])

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: obs status [flags] <task-id>...")
		os.Exit(2)
	}
	ids := make([]task.ID, fs.NArg())
	for i, a := range fs.Args() {
		ids[i] = task.ID(a)
	}

	client := newClient(*apiURL, *timeout)
	rows := fetchStatuses(context.Background(), client.TaskStatus, ids, *parallel)

	failed := 0
	fmt.Printf("%-14s %-10s %6s  %8s\n", "TASK", "STATUS", "PROG", "LATENCY")
	for _, row := range rows {
		if row.Err != nil {
			failed++
		}
		fmt.Println(formatStatus(row))
	}
	if failed > 0 {
		os.Exit(1)
	}
}
