package otel

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

// EnvTrace turns on per-message tracing in the UI.
const EnvTrace = "CHATPULSE_TRACE"

var trace atomic.Bool

func init() {
	trace.Store(parseTrace(os.Getenv(EnvTrace)))
}

// parseTrace reads the EnvTrace value. Boolean spellings ("0", "false")
// are honored; any other non-empty value enables tracing.
func parseTrace(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return true
}

// TraceEnabled reports whether the UI emits a trace.msg_received event for
// every message Update receives.
func TraceEnabled() bool {
	return trace.Load()
}

func setTrace(v bool) {
	trace.Store(v)
}
