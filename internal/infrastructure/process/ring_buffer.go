package process

import (
	"strings"
	"sync"
)

// TruncationMarker prefixes a diagnostics snapshot whose oldest bytes were dropped.
const TruncationMarker = "[... truncated ...]\n"

// RingBuffer keeps the most recent size bytes written to it.
type RingBuffer struct {
	mu      sync.Mutex
	buf     []byte
	head    int
	length  int
	dropped int64
}

func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1
	}
	return &RingBuffer{buf: make([]byte, size)}
}

func (b *RingBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := len(b.buf)
	n := len(p)
	if n >= size {
		b.dropped += int64(b.length + n - size)
		copy(b.buf, p[n-size:])
		b.head = 0
		b.length = size
		return n, nil
	}

	if overflow := b.length + n - size; overflow > 0 {
		b.head = (b.head + overflow) % size
		b.length -= overflow
		b.dropped += int64(overflow)
	}

	tail := (b.head + b.length) % size
	c := copy(b.buf[tail:], p)
	copy(b.buf, p[c:])
	b.length += n
	return n, nil
}

// Bytes returns a copy of the retained content, oldest first.
func (b *RingBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, b.length)
	end := b.head + b.length
	if end <= len(b.buf) {
		copy(out, b.buf[b.head:end])
	} else {
		c := copy(out, b.buf[b.head:])
		copy(out[c:], b.buf[:end-len(b.buf)])
	}
	return out
}

func (b *RingBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped > 0
}

// Dropped reports how many bytes have been discarded so far.
func (b *RingBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// String renders the retained content, prefixed with TruncationMarker when
// anything was dropped.
func (b *RingBuffer) String() string {
	content := strings.ToValidUTF8(string(b.Bytes()), "")
	if b.Truncated() {
		return TruncationMarker + content
	}
	return content
}
