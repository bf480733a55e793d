package logging

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestInitWriterCapturesKeyvals(t *testing.T) {
	prev := Logger
	defer func() { Logger = prev }()

	var buf bytes.Buffer
	InitWriter(&buf, log.DebugLevel)

	Info("subscribed", "task", "t-1")
	Debug("frame", "type", "task_progress")
	Warn("subscribe while disconnected", "task", "t-2")
	Error("dial failed", "err", "refused")

	out := buf.String()
	for _, want := range []string{"subscribed", "task=t-1", "type=task_progress", "t-2", "refused"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestLevelFilters(t *testing.T) {
	prev := Logger
	defer func() { Logger = prev }()

	var buf bytes.Buffer
	InitWriter(&buf, log.WarnLevel)
	Debug("hidden")
	Info("hidden too")
	Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("messages below level were written:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn message missing")
	}
}

func TestNoopBeforeInit(t *testing.T) {
	prev := Logger
	defer func() { Logger = prev }()

	Logger = nil
	Info("nothing")
	Error("nothing")
	if WithPrefix("push") == nil {
		t.Error("WithPrefix should never return nil")
	}
}

func TestDir(t *testing.T) {
	if got := Dir("/home/u"); got != filepath.Join("/home/u", ".chatpulse", "logs") {
		t.Errorf("Dir = %q", got)
	}
}
