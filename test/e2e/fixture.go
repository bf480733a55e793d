package e2e

import (
	"context"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/abelbrown/chatpulse/internal/sim"
)

// buildBinary builds ./cmd/<name> into a temp dir and returns its path.
func buildBinary(t *testing.T, name string) string {
	t.Helper()
	binPath := filepath.Join(t.TempDir(), name)

	rootDir, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	// Assume we are in test/e2e, go up 2 levels
	rootDir = filepath.Join(rootDir, "..", "..")

	cmd := exec.Command("go", "build", "-o", binPath, "./cmd/"+name)
	cmd.Dir = rootDir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("build failed: %v\n%s", err, out)
	}
	return binPath
}

// backend is an in-process simulated analysis service.
type backend struct {
	*sim.Server
	URL string
}

// startBackend serves a sim.Server with the autopilot running until the
// test ends.
func startBackend(t *testing.T, opts sim.Options, pilot sim.Autopilot) *backend {
	t.Helper()
	s := sim.New(opts)
	srv := httptest.NewServer(s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		pilot.Run(ctx, s)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		s.DropClients()
		srv.Close()
	})
	return &backend{Server: s, URL: srv.URL}
}

// homeEnv returns an environment with HOME pointing at a fresh directory and
// the service URL set, so the run never touches the real ~/.chatpulse.
func homeEnv(t *testing.T, apiURL string) (env []string, home string) {
	t.Helper()
	home = t.TempDir()
	env = append(os.Environ(),
		"HOME="+home,
		"CHATPULSE_API_URL="+apiURL,
		"CHATPULSE_WS_URL=",
	)
	return env, home
}

func dumpLogs(t *testing.T, home string) {
	t.Helper()
	matches, _ := filepath.Glob(filepath.Join(home, ".chatpulse", "logs", "*.log"))
	for _, m := range matches {
		if data, err := os.ReadFile(m); err == nil {
			t.Logf("%s:\n%s", filepath.Base(m), data)
		}
	}
}

func waitExit(t *testing.T, cmd *exec.Cmd, timeout time.Duration) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Error("process did not exit after 'q'")
	}
}
