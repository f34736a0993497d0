package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedLimiter_BurstThenDeny(t *testing.T) {
	l := NewKeyedLimiter(1, 2)
	now := time.Unix(100, 0)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("alice"))
	assert.True(t, l.Allow("alice"))
	assert.False(t, l.Allow("alice"))

	// Other keys have their own bucket.
	assert.True(t, l.Allow("bob"))

	now = now.Add(time.Second)
	assert.True(t, l.Allow("alice"))
}

func TestKeyedLimiter_Prune(t *testing.T) {
	l := NewKeyedLimiter(1, 1)
	now := time.Unix(100, 0)
	l.now = func() time.Time { return now }

	l.Allow("alice")
	now = now.Add(time.Minute)
	l.Allow("bob")

	assert.Equal(t, 1, l.Prune(30*time.Second))
	assert.Equal(t, 1, l.Len())
}
