package session

import "sync"

const DefaultRingCapacity = 1 << 20

// RingBuffer is a fixed-capacity circular byte buffer. Positions are absolute
// stream offsets: the oldest bytes are evicted silently once the buffer is
// full, and a reader whose position was evicted resumes at the oldest byte
// still retained.
//
// A single clear-on-read cursor backs the polling read path; viewers keep
// their own positions and use Since.
type RingBuffer struct {
	mu       sync.RWMutex
	buf      []byte
	capacity int
	written  int64 // total bytes ever written
	cursor   int64 // clear-on-read position
}

// NewRingBuffer creates a ring buffer with the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &RingBuffer{
		buf:      make([]byte, capacity),
		capacity: capacity,
	}
}

// Write appends p, evicting the oldest bytes as needed.
func (rb *RingBuffer) Write(p []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := int64(len(p))
	if len(p) > rb.capacity {
		p = p[len(p)-rb.capacity:]
	}
	start := int((rb.written + n - int64(len(p))) % int64(rb.capacity))
	k := copy(rb.buf[start:], p)
	copy(rb.buf, p[k:])
	rb.written += n
}

func (rb *RingBuffer) oldest() int64 {
	return max(rb.written-int64(rb.capacity), 0)
}

// copyRange returns a copy of the absolute range [from, rb.written).
func (rb *RingBuffer) copyRange(from int64) []byte {
	from = min(max(from, rb.oldest()), rb.written)
	n := int(rb.written - from)
	if n == 0 {
		return nil
	}
	out := make([]byte, n)
	start := int(from % int64(rb.capacity))
	k := copy(out, rb.buf[start:])
	copy(out[k:], rb.buf[:n-k])
	return out
}

// Since returns the bytes written after pos along with the position to pass
// on the next call.
func (rb *RingBuffer) Since(pos int64) ([]byte, int64) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.copyRange(pos), rb.written
}

// ReadCursor returns the bytes after the clear-on-read cursor. When clear is
// set the cursor moves to the end, so an immediate second call returns
// nothing.
func (rb *RingBuffer) ReadCursor(clear bool) []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	out := rb.copyRange(rb.cursor)
	if clear {
		rb.cursor = rb.written
	}
	return out
}

// Bytes returns every retained byte in order.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.copyRange(0)
}

// Len returns the number of retained bytes.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return int(rb.written - rb.oldest())
}

func (rb *RingBuffer) Cap() int { return rb.capacity }

// Written returns the total number of bytes ever written.
func (rb *RingBuffer) Written() int64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.written
}

// Cursor returns the clear-on-read position.
func (rb *RingBuffer) Cursor() int64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.cursor
}

// Drained reports whether everything written has been consumed through the
// clear-on-read cursor.
func (rb *RingBuffer) Drained() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.cursor >= rb.written
}
