package log

import (
	"fmt"
	"io"
	"sync"
)

// DefaultBufferCapacity is used by [NewCircularBuffer] for non-positive
// capacities.
const DefaultBufferCapacity = 100

// CircularBuffer keeps the most recent writes in memory.
//
// Each call to Write stores one entry, so a buffer used as a log handler's
// writer holds one record per entry. Once full, the oldest entry is dropped.
// It is safe for concurrent use.
type CircularBuffer struct {
	entries [][]byte
	start   int
	dropped int
	mu      sync.Mutex
}

// NewCircularBuffer creates a [CircularBuffer] holding up to capacity entries.
func NewCircularBuffer(capacity int) *CircularBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}

	return &CircularBuffer{entries: make([][]byte, 0, capacity)}
}

// Write implements [io.Writer]. p is copied.
func (cb *CircularBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	entry := append([]byte(nil), p...)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if len(cb.entries) < cap(cb.entries) {
		cb.entries = append(cb.entries, entry)

		return len(p), nil
	}

	cb.entries[cb.start] = entry
	cb.start = (cb.start + 1) % len(cb.entries)
	cb.dropped++

	return len(p), nil
}

// Entries returns copies of the buffered entries, oldest first.
func (cb *CircularBuffer) Entries() [][]byte {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	out := make([][]byte, 0, len(cb.entries))
	for i := range cb.entries {
		entry := cb.entries[(cb.start+i)%len(cb.entries)]
		out = append(out, append([]byte(nil), entry...))
	}

	return out
}

// Len returns the number of buffered entries.
func (cb *CircularBuffer) Len() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return len(cb.entries)
}

// Dropped returns how many entries were overwritten since the last
// [CircularBuffer.Reset].
func (cb *CircularBuffer) Dropped() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.dropped
}

// Reset discards all entries.
func (cb *CircularBuffer) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	clear(cb.entries)
	cb.entries = cb.entries[:0]
	cb.start = 0
	cb.dropped = 0
}

// WriteTo writes the buffered entries to w, oldest first, and implements
// [io.WriterTo].
func (cb *CircularBuffer) WriteTo(w io.Writer) (int64, error) {
	var total int64

	for _, entry := range cb.Entries() {
		n, err := w.Write(entry)
		total += int64(n)

		if err != nil {
			return total, fmt.Errorf("write entry: %w", err)
		}
	}

	return total, nil
}
