// Command obs is the debugging CLI for chatpulse.
//
// Usage:
//
//	obs                     Show help
//	obs events              JSONL event log viewer
//	obs stats               Event counts and timings per kind
//	obs status <id>...      One-shot status of one or more tasks
//	obs result <id>         Result summary with a sentiment sparkline
package main

import (
	"fmt"
	"os"
)

const usage = `obs - chatpulse debug CLI

Usage:
  obs <command> [flags]

Commands:
  events      JSONL event log viewer (-f follows the log)
  stats       Event counts and timings per kind
  status      Fetch the status of one or more tasks concurrently
  result      Fetch a task's result and draw its sentiment trace

Environment:
  CHATPULSE_API_URL  Task service base URL (default from ~/.chatpulse/config.yaml)
  CHATPULSE_WS_URL   Push endpoint URL

Run 'obs <command> -h' for command-specific help.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(0)
	}

	cmd := os.Args[1]
	// Strip the program name + subcommand so flag sets see only their flags
	os.Args = os.Args[1:]

	switch cmd {
	case "events":
		runEvents()
	case "stats":
		runStats()
	case "status":
		runStatus()
	case "result":
		runResult()
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "obs: unknown command %q\n\n", cmd)
		fmt.Print(usage)
		os.Exit(1)
	}
}
