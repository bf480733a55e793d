package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/abelbrown/chatpulse/internal/api"
	"github.com/abelbrown/chatpulse/internal/config"
)

// dataDir returns ~/.chatpulse/, creating it if needed.
func dataDir() string {
	dir := config.Dir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Fatalf("failed to create data directory: %v", err)
	}
	return dir
}

// eventLogPath returns the path to chatpulse.events.jsonl.
func eventLogPath() string {
	return filepath.Join(dataDir(), "chatpulse.events.jsonl")
}

// loadConfig loads the config file or fatals.
func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// newClient creates an API client, overriding the base URL when apiURL is set.
func newClient(apiURL string, timeout time.Duration) *api.Client {
	cfg := loadConfig()
	base := cfg.Service.APIURL
	if apiURL != "" {
		base = apiURL
	}
	if timeout <= 0 {
		timeout = cfg.Service.RequestTimeout
	}
	return api.NewClient(base, timeout, cfg.Service.RatePerSecond)
}

// truncate shortens a string to max runes, appending "..." if truncated.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

// fail prints err and exits non-zero.
func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
