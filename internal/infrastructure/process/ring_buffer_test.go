package process

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingBuffer_KeepsEverythingUnderCapacity(t *testing.T) {
	b := NewRingBuffer(16)
	b.Write([]byte("hello "))
	b.Write([]byte("world"))

	assert.Equal(t, "hello world", b.String())
	assert.False(t, b.Truncated())
	assert.Equal(t, int64(0), b.Dropped())
}

func TestRingBuffer_DropsOldestBytes(t *testing.T) {
	b := NewRingBuffer(8)
	b.Write([]byte("abcdef"))
	b.Write([]byte("ghij"))

	assert.Equal(t, "cdefghij", string(b.Bytes()))
	assert.True(t, b.Truncated())
	assert.Equal(t, int64(2), b.Dropped())
	assert.Equal(t, TruncationMarker+"cdefghij", b.String())
}

func TestRingBuffer_WrapsAcrossManyWrites(t *testing.T) {
	b := NewRingBuffer(5)
	for _, chunk := range []string{"ab", "cd", "ef", "gh", "i"} {
		b.Write([]byte(chunk))
	}

	assert.Equal(t, "efghi", string(b.Bytes()))
	assert.Equal(t, int64(4), b.Dropped())
}

func TestRingBuffer_SingleWriteLargerThanCapacity(t *testing.T) {
	b := NewRingBuffer(4)
	b.Write([]byte("xy"))
	n, err := b.Write([]byte("0123456789"))

	assert.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, "6789", string(b.Bytes()))
	assert.Equal(t, int64(8), b.Dropped())
}

func TestRingBuffer_BoundedUnderSustainedOutput(t *testing.T) {
	b := NewRingBuffer(1024)
	line := strings.Repeat("x", 99) + "\n"
	for i := 0; i < 1000; i++ {
		b.Write([]byte(line))
	}

	assert.Len(t, b.Bytes(), 1024)
	assert.True(t, strings.HasPrefix(b.String(), TruncationMarker))
}
