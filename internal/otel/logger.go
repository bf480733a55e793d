package otel

// The drain goroutine is the only reader of l.ch and the only writer to l.w.
// Logger.mu guards the l.buf pointer alone; the ring buffer has its own lock.
// drain releases Logger.mu before calling rb.Push, so locks never nest.

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// writerChanSize is the capacity of the async write channel.
const writerChanSize = 4096

// logEntry carries the encoded line for disk and the original Event for the
// ring buffer, so fields tagged json:"-" survive in memory.
type logEntry struct {
	data []byte
	ev   Event
}

// Logger serializes events as JSONL via an async background writer.
// Goroutine-safe. A nil *Logger discards everything, so components can take
// an optional logger without guarding every call.
type Logger struct {
	mu        sync.Mutex
	buf       *RingBuffer // nil until SetRingBuffer
	sessionID string
	ch        chan logEntry
	w         io.Writer
	dropped   atomic.Uint64 // full channel, encode failure, or write error
	closed    atomic.Bool
	done      chan struct{} // closed when drain exits
	closeOnce sync.Once
}

// NewLogger creates a Logger writing JSONL to w asynchronously.
// Call Close to flush and stop the drain goroutine.
func NewLogger(w io.Writer) *Logger {
	var sid [8]byte
	_, _ = rand.Read(sid[:])

	l := &Logger{
		sessionID: fmt.Sprintf("%x", sid[:]),
		ch:        make(chan logEntry, writerChanSize),
		w:         w,
		done:      make(chan struct{}),
	}
	go l.drain()
	return l
}

// NewNullLogger creates a Logger that discards output.
func NewNullLogger() *Logger {
	return NewLogger(io.Discard)
}

func (l *Logger) drain() {
	defer close(l.done)
	for entry := range l.ch {
		if _, err := l.w.Write(entry.data); err != nil {
			l.dropped.Add(1)
		}

		l.mu.Lock()
		rb := l.buf
		l.mu.Unlock()

		if rb != nil {
			rb.Push(entry.ev)
		}
	}
}

// Emit queues an event for the JSONL log and the ring buffer. It sets Time
// (if zero) and SessionID. Non-blocking: when the channel is full or the
// logger is closed the event is counted as dropped.
//
// A Close racing between the closed check and the send panics on the closed
// channel; that panic is recovered and counted as a drop.
func (l *Logger) Emit(e Event) {
	if l == nil {
		return
	}
	defer func() {
		if recover() != nil {
			l.dropped.Add(1)
		}
	}()

	if l.closed.Load() {
		l.dropped.Add(1)
		return
	}

	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	e.SessionID = l.sessionID

	data, err := json.Marshal(e)
	if err != nil {
		l.dropped.Add(1)
		return
	}
	data = append(data, '\n')

	select {
	case l.ch <- logEntry{data: data, ev: e}:
	default:
		l.dropped.Add(1)
	}
}

// Info emits an info-level event.
func (l *Logger) Info(kind EventKind, comp string, msg string) {
	l.Emit(Event{Level: LevelInfo, Kind: kind, Comp: comp, Msg: msg})
}

// Warn emits a warn-level event.
func (l *Logger) Warn(kind EventKind, comp string, msg string) {
	l.Emit(Event{Level: LevelWarn, Kind: kind, Comp: comp, Msg: msg})
}

// Error emits an error-level event. A nil err is logged as an empty string.
func (l *Logger) Error(kind EventKind, comp string, err error) {
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	l.Emit(Event{Level: LevelError, Kind: kind, Comp: comp, Err: errStr})
}

// Task emits an info-level event about one task.
func (l *Logger) Task(kind EventKind, comp, taskID, status string, progress float64) {
	l.Emit(Event{Level: LevelInfo, Kind: kind, Comp: comp, TaskID: taskID, Status: status, Progress: progress})
}

// SetRingBuffer attaches a ring buffer for live inspection.
func (l *Logger) SetRingBuffer(buf *RingBuffer) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = buf
}

// SessionID returns the run's session identifier.
func (l *Logger) SessionID() string {
	if l == nil {
		return ""
	}
	return l.sessionID
}

// Dropped returns the number of events dropped since creation.
func (l *Logger) Dropped() uint64 {
	if l == nil {
		return 0
	}
	return l.dropped.Load()
}

// Close flushes pending events, stops the drain goroutine, and reports any
// drops to stderr. Emit calls racing with Close are dropped, not panicked.
func (l *Logger) Close() {
	if l == nil {
		return
	}
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		close(l.ch)
		<-l.done

		if d := l.dropped.Load(); d > 0 {
			fmt.Fprintf(os.Stderr, "chatpulse: %d events dropped during session %s\n", d, l.sessionID)
		}
	})
}
