package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
)

// kindStats aggregates the events of one kind.
type kindStats struct {
	Kind   string
	Count  int
	Errors int
	durSum float64
	durN   int
}

// AvgMs returns the mean duration of events that carried one.
func (k kindStats) AvgMs() float64 {
	if k.durN == 0 {
		return 0
	}
	return k.durSum / float64(k.durN)
}

// logSummary is what the stats subcommand prints.
type logSummary struct {
	Total    int
	Sessions int
	Tasks    int
	Kinds    []kindStats // sorted by kind
	Dropped  int         // lines that failed to parse
}

// summarize aggregates an event log, keeping events accepted by match.
func summarize(r io.Reader, match func(eventRecord) bool) logSummary {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)

	var sum logSummary
	kinds := map[string]*kindStats{}
	sessions := map[string]bool{}
	tasks := map[string]bool{}

	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ev eventRecord
		if json.Unmarshal(raw, &ev) != nil {
			sum.Dropped++
			continue
		}
		if !match(ev) {
			continue
		}
		sum.Total++
		if ev.SessionID != "" {
			sessions[ev.SessionID] = true
		}
		if ev.TaskID != "" {
			tasks[ev.TaskID] = true
		}
		k, ok := kinds[ev.Kind]
		if !ok {
			k = &kindStats{Kind: ev.Kind}
			kinds[ev.Kind] = k
		}
		k.Count++
		if ev.Err != "" {
			k.Errors++
		}
		if ev.DurMs > 0 {
			k.durSum += ev.DurMs
			k.durN++
		}
	}

	sum.Sessions = len(sessions)
	sum.Tasks = len(tasks)
	for _, k := range kinds {
		sum.Kinds = append(sum.Kinds, *k)
	}
	sort.Slice(sum.Kinds, func(i, j int) bool { return sum.Kinds[i].Kind < sum.Kinds[j].Kind })
	return sum
}

func runStats() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	taskID := fs.String("task", "", "Only count events for this task ID prefix")
	session := fs.String("session", "", "Only count events from this session")
	fs.Parse(os.Args[1:])

	f, err := os.Open(eventLogPath())
	if err != nil {
		fail(err)
	}
	defer f.Close()

	filter := eventFilter{taskID: *taskID, session: *session}
	sum := summarize(f, filter.match)

	fmt.Printf("Events:                %d\n", sum.Total)
	fmt.Printf("Sessions:              %d\n", sum.Sessions)
	fmt.Printf("Tasks:                 %d\n", sum.Tasks)
	if sum.Dropped > 0 {
		fmt.Printf("Unparseable lines:     %d\n", sum.Dropped)
	}

	fmt.Printf("\n%-24s %7s %7s %10s\n", "KIND", "COUNT", "ERRORS", "AVG MS")
	for _, k := range sum.Kinds {
		avg := "-"
		if k.AvgMs() > 0 {
			avg = fmt.Sprintf("%.*f", durPrecision(k.AvgMs()), k.AvgMs())
		}
		fmt.Printf("%-24s %7d %7d %10s\n", k.Kind, k.Count, k.Errors, avg)
	}
}
