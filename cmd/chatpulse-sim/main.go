// Command chatpulse-sim serves a scripted analysis backend for local runs
// and end-to-end tests.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/chatpulse/internal/logging"
	"github.com/abelbrown/chatpulse/internal/sim"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8000", "Listen address")
	interval := flag.Duration("interval", time.Second, "Autopilot step interval (0 disables the autopilot)")
	step := flag.Float64("step", 10, "Progress added per autopilot step")
	pollOnly := flag.Bool("poll-only", false, "Advance tasks without pushing progress frames")
	noWS := flag.Bool("no-ws", false, "Refuse WebSocket upgrades")
	points := flag.Int("points", 5000, "Sentiment points per generated result")
	seed := flag.String("seed-chat", "", "Create a task for this chat at startup and print its ID")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	level := log.InfoLevel
	if *verbose {
		level = log.DebugLevel
	}
	logging.InitWriter(os.Stderr, level)

	srv := sim.New(sim.Options{DisablePush: *noWS, ResultPoints: *points})

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		logging.Error("listen failed", "addr", *addr, "error", err)
		os.Exit(1)
	}
	logging.Info("sim listening", "addr", ln.Addr().String(), "push", !*noWS, "points", *points)

	if *seed != "" {
		id := srv.CreateTask(*seed)
		fmt.Printf("task %s\n", id)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hs := &http.Server{Handler: srv, ReadHeaderTimeout: 5 * time.Second}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.DropClients()
		return hs.Shutdown(shutdownCtx)
	})
	if *interval > 0 {
		g.Go(func() error {
			sim.Autopilot{Interval: *interval, Step: *step, PollOnly: *pollOnly}.Run(gctx, srv)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logging.Error("sim stopped", "error", err)
		os.Exit(1)
	}
	logging.Info("sim stopped")
}
