package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func (l *userLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func TestUserLimiterIsPerUser(t *testing.T) {
	l := newUserLimiter(1, 2)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("alice"))
	assert.True(t, l.Allow("alice"))
	assert.False(t, l.Allow("alice"))
	assert.True(t, l.Allow("bob"))

	now = now.Add(time.Second)
	assert.True(t, l.Allow("alice"))
}

func TestUserLimiterSweepsIdleUsers(t *testing.T) {
	l := newUserLimiter(1, 1)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Allow("alice")
	l.Allow("bob")
	assert.Equal(t, 2, l.size())

	now = now.Add(limiterIdleTTL / 2)
	l.Allow("bob")

	now = now.Add(limiterIdleTTL/2 + time.Second)
	l.Allow("carol")

	// alice was idle for the whole TTL, bob was seen half way through
	assert.Equal(t, 2, l.size())
	l.mu.Lock()
	_, aliceKept := l.buckets["alice"]
	_, bobKept := l.buckets["bob"]
	l.mu.Unlock()
	assert.False(t, aliceKept)
	assert.True(t, bobKept)
}

func TestUserLimiterWithoutRate(t *testing.T) {
	l := newUserLimiter(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("alice"))
	}
}
