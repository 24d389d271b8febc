package governor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireBoundsConcurrency(t *testing.T) {
	g := New(WithCapacity(2))
	var inFlight int32
	var maxSeen int32

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			release, err := g.Acquire(context.Background(), "example.com")
			require.Nil(t, err)
			cur := atomic.AddInt32(&inFlight, 1)
			for {
				max := atomic.LoadInt32(&maxSeen)
				if cur <= max || atomic.CompareAndSwapInt32(&maxSeen, max, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			release()
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	assert.LessOrEqual(t, int(maxSeen), 2)
}

func TestAcquireTimesOut(t *testing.T) {
	g := New(WithCapacity(1))
	release, err := g.Acquire(context.Background(), "slow.example.com")
	require.Nil(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, timeoutErr := g.Acquire(ctx, "slow.example.com")
	require.NotNil(t, timeoutErr)
}
