package otel

import "sync"

// DefaultRingSize is the default ring buffer capacity.
const DefaultRingSize = 1024

// RingBuffer is a fixed-size circular buffer of Events.
// Goroutine-safe for concurrent Push and reads.
type RingBuffer struct {
	mu    sync.Mutex
	buf   []Event
	size  int
	head  int // next write position
	count int // valid entries, 0..size
}

// NewRingBuffer creates a ring buffer with the given capacity.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &RingBuffer{
		buf:  make([]Event, size),
		size: size,
	}
}

// Push adds an event, overwriting the oldest when full. Extra is copied so
// the caller may keep mutating its map.
func (r *RingBuffer) Push(e Event) {
	if e.Extra != nil {
		cp := make(map[string]any, len(e.Extra))
		for k, v := range e.Extra {
			cp[k] = v
		}
		e.Extra = cp
	}
	r.mu.Lock()
	r.buf[r.head] = e
	r.head = (r.head + 1) % r.size
	if r.count < r.size {
		r.count++
	}
	r.mu.Unlock()
}

// ordered returns buffered events oldest first. Caller holds r.mu.
func (r *RingBuffer) ordered() []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, r.count)
	if r.count < r.size {
		copy(out, r.buf[:r.count])
	} else {
		n := copy(out, r.buf[r.head:])
		copy(out[n:], r.buf[:r.head])
	}
	return out
}

// Snapshot returns a copy of all events, oldest first.
func (r *RingBuffer) Snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ordered()
}

// Last returns the n most recent events, oldest first. n <= 0 returns nil.
func (r *RingBuffer) Last(n int) []Event {
	if n <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	all := r.ordered()
	if n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// ForTask returns the buffered events for one task, oldest first.
func (r *RingBuffer) ForTask(taskID string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, e := range r.ordered() {
		if e.TaskID == taskID {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of buffered events.
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the buffer capacity.
func (r *RingBuffer) Cap() int {
	return r.size
}

// Stats counts buffered events per kind.
func (r *RingBuffer) Stats() map[EventKind]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[EventKind]int)
	for i := 0; i < r.count; i++ {
		counts[r.buf[i].Kind]++
	}
	return counts
}
