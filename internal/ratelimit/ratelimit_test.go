package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestAllowBoundary(t *testing.T) {
	l := New()
	key := uuid.New()

	assert.True(t, l.Allow(key, 2).Allowed)
	assert.True(t, l.Allow(key, 2).Allowed)
	third := l.Allow(key, 2)
	assert.False(t, third.Allowed)
	assert.Greater(t, third.RetryAfter, time.Duration(0))
}

func TestAllowAfterWindowElapses(t *testing.T) {
	l := New()
	key := uuid.New()
	base := time.Now()
	l.now = func() time.Time { return base }

	assert.True(t, l.Allow(key, 1).Allowed)
	assert.False(t, l.Allow(key, 1).Allowed)

	l.now = func() time.Time { return base.Add(61 * time.Second) }
	assert.True(t, l.Allow(key, 1).Allowed)
}

func TestAllowConcurrentBurstsNeverExceedLimit(t *testing.T) {
	l := New()
	key := uuid.New()
	const limit = 5
	const attempts = 50

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow(key, limit).Allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, admitted)
}
