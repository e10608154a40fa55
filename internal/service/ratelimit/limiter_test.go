package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterPerKeyBurstAndRefill(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	l := New(1, 2).WithClock(func() time.Time { return now })

	assert.True(t, l.Allow("trend"))
	assert.True(t, l.Allow("trend"))
	assert.False(t, l.Allow("trend"))
	assert.True(t, l.Allow("meanrev"), "keys have separate buckets")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("trend"))
	assert.False(t, l.Allow("trend"))
	assert.Equal(t, 2, l.Keys())
}

func TestLimiterDisabled(t *testing.T) {
	l := New(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("k"))
	}
}
