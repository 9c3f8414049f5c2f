package proc

import "sync"

// RingBuffer is a fixed-size byte buffer that keeps the most recent writes,
// evicting the oldest bytes once the capacity is exceeded. The process
// watcher appends to it while status calls snapshot it concurrently.
type RingBuffer struct {
	mu   sync.Mutex
	buf  []byte
	size int
	pos  int
	full bool
}

// NewRingBuffer creates a ring buffer holding up to size bytes.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &RingBuffer{
		buf:  make([]byte, size),
		size: size,
	}
}

// Write appends data, overwriting the oldest bytes if full. Never fails.
func (b *RingBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range p {
		b.buf[b.pos] = c
		b.pos = (b.pos + 1) % b.size
		if b.pos == 0 {
			b.full = true
		}
	}
	return len(p), nil
}

// Bytes returns a copy of the buffered content in chronological order.
func (b *RingBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		return append([]byte(nil), b.buf[:b.pos]...)
	}
	// Buffer wrapped: content is [pos:] + [:pos]
	out := make([]byte, b.size)
	copy(out, b.buf[b.pos:])
	copy(out[b.size-b.pos:], b.buf[:b.pos])
	return out
}

// String returns the buffered content as a string.
func (b *RingBuffer) String() string {
	return string(b.Bytes())
}
